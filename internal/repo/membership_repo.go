// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for room
// memberships and their reaction history.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/social-credit/internal/domain"
)

// GetMembership loads the membership of userID in roomID together with its
// User and its reaction history ordered by timestamp.
func GetMembership(ctx context.Context, db *gorm.DB, userID uint, roomID string) (*domain.RoomMembership, error) {
	var m domain.RoomMembership
	err := db.WithContext(ctx).
		Preload("User").
		Preload("RecentReactions", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("timestamp ASC, id ASC")
		}).
		Where("user_id = ? AND room_id = ?", userID, roomID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateMembership inserts a membership with the given starting score. The
// reaction history of the new row is empty.
func CreateMembership(ctx context.Context, db *gorm.DB, userID uint, roomID string, score int) (*domain.RoomMembership, error) {
	m := &domain.RoomMembership{UserID: userID, RoomID: roomID, Score: score}
	if err := db.WithContext(ctx).Omit("User", "RecentReactions").Create(m).Error; err != nil {
		return nil, mapCreateErr(err)
	}
	return m, nil
}

// UpdateMembershipScore writes only the score column of membership id.
func UpdateMembershipScore(ctx context.Context, db *gorm.DB, id uint, score int) error {
	res := db.WithContext(ctx).
		Model(&domain.RoomMembership{}).
		Where("id = ?", id).
		Update("score", score)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AdjustMembershipScore adds delta to the score of membership id in one
// statement and returns the resulting score.
func AdjustMembershipScore(ctx context.Context, db *gorm.DB, id uint, delta int) (int, error) {
	res := db.WithContext(ctx).
		Model(&domain.RoomMembership{}).
		Where("id = ?", id).
		Update("score", gorm.Expr("score + ?", delta))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrNotFound
	}
	var score int
	if err := db.WithContext(ctx).
		Model(&domain.RoomMembership{}).
		Select("score").
		Where("id = ?", id).
		Scan(&score).Error; err != nil {
		return 0, err
	}
	return score, nil
}

// ListRoomScores returns every member of roomID ordered by score descending,
// ties broken by user id.
func ListRoomScores(ctx context.Context, db *gorm.DB, roomID string) ([]domain.ScoreEntry, error) {
	var out []domain.ScoreEntry
	err := db.WithContext(ctx).
		Table("room_membership AS m").
		Select(`u.name AS name, u.url AS url, m.score AS score`).
		Joins(`JOIN "user" AS u ON u.id = m.user_id`).
		Where("m.room_id = ?", roomID).
		Order("m.score DESC, u.id ASC").
		Scan(&out).Error
	return out, err
}

// CreateReaction appends one reaction record for membershipID.
func CreateReaction(ctx context.Context, db *gorm.DB, membershipID uint, at time.Time, relatedEventID string) (*domain.ReactionRecord, error) {
	r := &domain.ReactionRecord{
		MembershipID:   membershipID,
		Timestamp:      at.UTC(),
		RelatedEventID: relatedEventID,
	}
	if err := db.WithContext(ctx).Omit("Membership").Create(r).Error; err != nil {
		return nil, err
	}
	return r, nil
}

// PruneReactions deletes the records of membershipID strictly older than
// cutoff and returns how many rows were removed.
func PruneReactions(ctx context.Context, db *gorm.DB, membershipID uint, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("membership_id = ? AND timestamp < ?", membershipID, cutoff.UTC()).
		Delete(&domain.ReactionRecord{})
	return res.RowsAffected, res.Error
}
