package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/social-credit/internal/domain"
)

// MembershipStore owns the per-room reputation records.
type MembershipStore struct {
	Store        Store
	InitialScore int
}

// GetOrCreate returns the membership of user in roomID with its reaction
// history, creating it with InitialScore on first contact.
func (s *MembershipStore) GetOrCreate(ctx context.Context, user *domain.User, roomID string) (*domain.RoomMembership, error) {
	ctx, span := otel.Tracer("services/MembershipStore").Start(ctx, "GetOrCreate",
		trace.WithAttributes(
			attribute.Int("user.id", int(user.ID)),
			attribute.String("room.id", roomID),
		),
	)
	defer span.End()

	m, _, err := s.Store.EnsureMembership(ctx, user, roomID, s.InitialScore)
	return m, err
}

// Update persists the score of m. Reaction history is written separately.
func (s *MembershipStore) Update(ctx context.Context, m *domain.RoomMembership) error {
	ctx, span := otel.Tracer("services/MembershipStore").Start(ctx, "Update",
		trace.WithAttributes(
			attribute.Int("membership.id", int(m.ID)),
			attribute.Int("score", m.Score),
		),
	)
	defer span.End()

	return s.Store.SaveScore(ctx, m)
}

// Adjust adds delta to the score of m as a single store operation, so
// concurrent reactions to the same recipient never lose an update.
func (s *MembershipStore) Adjust(ctx context.Context, m *domain.RoomMembership, delta int) error {
	ctx, span := otel.Tracer("services/MembershipStore").Start(ctx, "Adjust",
		trace.WithAttributes(
			attribute.Int("membership.id", int(m.ID)),
			attribute.Int("delta", delta),
		),
	)
	defer span.End()

	return s.Store.AddScore(ctx, m, delta)
}

// Leaderboard returns the members of roomID by descending score.
func (s *MembershipStore) Leaderboard(ctx context.Context, roomID string) ([]domain.ScoreEntry, error) {
	return s.Store.RoomScores(ctx, roomID)
}
