package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/social-credit/internal/domain"
)

// GetEmoji returns the emoji registered for (roomID, glyph) or ErrNotFound.
func GetEmoji(ctx context.Context, db *gorm.DB, roomID, glyph string) (*domain.Emoji, error) {
	var e domain.Emoji
	err := db.WithContext(ctx).
		Where("room_id = ? AND glyph = ?", roomID, glyph).
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateEmoji registers glyph in roomID. A second registration of the same
// pair returns ErrDuplicate.
func CreateEmoji(ctx context.Context, db *gorm.DB, roomID, glyph string, delta int) (*domain.Emoji, error) {
	e := &domain.Emoji{RoomID: roomID, Glyph: glyph, ScoreDelta: delta}
	if err := db.WithContext(ctx).Create(e).Error; err != nil {
		return nil, mapCreateErr(err)
	}
	return e, nil
}

// ListEmojis returns the emoji of roomID, highest delta first.
func ListEmojis(ctx context.Context, db *gorm.DB, roomID string) ([]domain.Emoji, error) {
	var out []domain.Emoji
	err := db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("score_delta DESC, id ASC").
		Find(&out).Error
	return out, err
}
