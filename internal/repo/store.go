package repo

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/social-credit/internal/domain"
)

// Store serializes every persistence operation behind one mutex. Each method
// is a single critical section, so find-or-create sequences cannot race
// with each other inside the process.
type Store struct {
	mu sync.Mutex
	db *gorm.DB
}

// NewStore wraps db.
func NewStore(db *gorm.DB) *Store { return &Store{db: db} }

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *gorm.DB { return s.db }

// HasEvent reports whether id is already in the ledger.
func (s *Store) HasEvent(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := GetProcessedEvent(ctx, s.db, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkEvent records id as handled. A second mark of the same id returns
// ErrDuplicate.
func (s *Store) MarkEvent(ctx context.Context, id string, kind domain.EventKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CreateProcessedEvent(ctx, s.db, id, kind)
}

// EnsureUser returns the user (name, url), creating it with role when it
// does not exist yet. The boolean is true when a row was inserted.
func (s *Store) EnsureUser(ctx context.Context, name, url string, role domain.Role) (*domain.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := GetUser(ctx, s.db, name, url)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	u, err = CreateUser(ctx, s.db, name, url, role)
	if err != nil {
		return nil, false, err
	}
	return u, true, nil
}

// SetUserRole updates the role of user id.
func (s *Store) SetUserRole(ctx context.Context, id uint, role domain.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return UpdateUserRole(ctx, s.db, id, role)
}

// EnsureMembership returns the membership of user in roomID, creating it
// with score initial when missing. The returned value carries the user and
// its reaction history.
func (s *Store) EnsureMembership(ctx context.Context, user *domain.User, roomID string, initial int) (*domain.RoomMembership, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := GetMembership(ctx, s.db, user.ID, roomID)
	if err == nil {
		return m, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	m, err = CreateMembership(ctx, s.db, user.ID, roomID, initial)
	if err != nil {
		return nil, false, err
	}
	m.User = *user
	m.RecentReactions = []domain.ReactionRecord{}
	return m, true, nil
}

// SaveScore persists the score of m. Other fields are left untouched.
func (s *Store) SaveScore(ctx context.Context, m *domain.RoomMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return UpdateMembershipScore(ctx, s.db, m.ID, m.Score)
}

// AddScore atomically adds delta to the score of m and refreshes m.Score
// with the stored result.
func (s *Store) AddScore(ctx context.Context, m *domain.RoomMembership, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	score, err := AdjustMembershipScore(ctx, s.db, m.ID, delta)
	if err != nil {
		return err
	}
	m.Score = score
	return nil
}

// RoomScores returns the leaderboard of roomID.
func (s *Store) RoomScores(ctx context.Context, roomID string) ([]domain.ScoreEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ListRoomScores(ctx, s.db, roomID)
}

// AddReaction appends a reaction record for membershipID.
func (s *Store) AddReaction(ctx context.Context, membershipID uint, at time.Time, relatedEventID string) (*domain.ReactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CreateReaction(ctx, s.db, membershipID, at, relatedEventID)
}

// PruneReactions removes records of membershipID older than cutoff.
func (s *Store) PruneReactions(ctx context.Context, membershipID uint, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return PruneReactions(ctx, s.db, membershipID, cutoff)
}

// FindEmoji returns the emoji for (roomID, glyph) or ErrNotFound.
func (s *Store) FindEmoji(ctx context.Context, roomID, glyph string) (*domain.Emoji, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return GetEmoji(ctx, s.db, roomID, glyph)
}

// AddEmoji registers glyph in roomID or returns ErrDuplicate.
func (s *Store) AddEmoji(ctx context.Context, roomID, glyph string, delta int) (*domain.Emoji, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CreateEmoji(ctx, s.db, roomID, glyph, delta)
}

// RoomEmojis lists the emoji registered in roomID.
func (s *Store) RoomEmojis(ctx context.Context, roomID string) ([]domain.Emoji, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ListEmojis(ctx, s.db, roomID)
}
