package services

import (
	"context"
	"errors"
	"time"

	"github.com/tbourn/social-credit/internal/domain"
	"github.com/tbourn/social-credit/internal/repo"
)

// Store is the persistence surface the services need. *repo.Store satisfies
// it; tests may substitute fakes to inject failures.
type Store interface {
	HasEvent(ctx context.Context, id string) (bool, error)
	MarkEvent(ctx context.Context, id string, kind domain.EventKind) error

	EnsureUser(ctx context.Context, name, url string, role domain.Role) (*domain.User, bool, error)
	SetUserRole(ctx context.Context, id uint, role domain.Role) error

	EnsureMembership(ctx context.Context, user *domain.User, roomID string, initial int) (*domain.RoomMembership, bool, error)
	SaveScore(ctx context.Context, m *domain.RoomMembership) error
	AddScore(ctx context.Context, m *domain.RoomMembership, delta int) error
	RoomScores(ctx context.Context, roomID string) ([]domain.ScoreEntry, error)

	AddReaction(ctx context.Context, membershipID uint, at time.Time, relatedEventID string) (*domain.ReactionRecord, error)
	PruneReactions(ctx context.Context, membershipID uint, cutoff time.Time) (int64, error)

	FindEmoji(ctx context.Context, roomID, glyph string) (*domain.Emoji, error)
	AddEmoji(ctx context.Context, roomID, glyph string, delta int) (*domain.Emoji, error)
	RoomEmojis(ctx context.Context, roomID string) ([]domain.Emoji, error)
}

var _ Store = (*repo.Store)(nil)

func isNotFound(err error) bool  { return errors.Is(err, repo.ErrNotFound) }
func isDuplicate(err error) bool { return errors.Is(err, repo.ErrDuplicate) }
