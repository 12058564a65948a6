package services

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"

	"github.com/tbourn/social-credit/internal/domain"
)

// EmojiRegistry holds the room-scoped glyph to score-delta mapping.
type EmojiRegistry struct {
	Store Store
}

// NormalizeGlyph returns the NFC form of glyph without surrounding space, so
// visually identical glyphs typed on different clients map to one key.
func NormalizeGlyph(glyph string) string {
	return norm.NFC.String(strings.TrimSpace(glyph))
}

// Lookup returns the emoji registered for glyph in roomID, or nil when the
// glyph is not registered.
func (r *EmojiRegistry) Lookup(ctx context.Context, roomID, glyph string) (*domain.Emoji, error) {
	ctx, span := otel.Tracer("services/EmojiRegistry").Start(ctx, "Lookup",
		trace.WithAttributes(
			attribute.String("room.id", roomID),
			attribute.String("emoji.glyph", glyph),
		),
	)
	defer span.End()

	e, err := r.Store.FindEmoji(ctx, roomID, NormalizeGlyph(glyph))
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Register adds glyph with delta to roomID on behalf of caller. Only admins
// may register; a second registration of the same glyph fails with
// ErrDuplicateEmoji.
func (r *EmojiRegistry) Register(ctx context.Context, caller *domain.User, roomID, glyph string, delta int) (*domain.Emoji, error) {
	ctx, span := otel.Tracer("services/EmojiRegistry").Start(ctx, "Register",
		trace.WithAttributes(
			attribute.String("room.id", roomID),
			attribute.String("emoji.glyph", glyph),
			attribute.Int("emoji.delta", delta),
		),
	)
	defer span.End()

	if caller == nil || caller.Role != domain.RoleAdmin {
		return nil, ErrNotAdmin
	}
	glyph = NormalizeGlyph(glyph)

	existing, err := r.Store.FindEmoji(ctx, roomID, glyph)
	if err == nil && existing != nil {
		return nil, ErrDuplicateEmoji
	}
	if err != nil && !isNotFound(err) {
		return nil, err
	}

	e, err := r.Store.AddEmoji(ctx, roomID, glyph, delta)
	if isDuplicate(err) {
		return nil, ErrDuplicateEmoji
	}
	return e, err
}

// List returns the emoji of roomID, highest delta first.
func (r *EmojiRegistry) List(ctx context.Context, roomID string) ([]domain.Emoji, error) {
	return r.Store.RoomEmojis(ctx, roomID)
}
