package services

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/social-credit/internal/domain"
)

// ReactionLimiter bounds how many scoring reactions one member may perform
// within a sliding window.
type ReactionLimiter struct {
	Store  Store
	Clock  clockwork.Clock
	Period time.Duration
	Limit  int
	Log    zerolog.Logger
}

func (l *ReactionLimiter) now() time.Time {
	if l.Clock == nil {
		return time.Now().UTC()
	}
	return l.Clock.Now().UTC()
}

// recent returns the records of m no older than Period at now.
func (l *ReactionLimiter) recent(m *domain.RoomMembership, now time.Time) []domain.ReactionRecord {
	out := make([]domain.ReactionRecord, 0, len(m.RecentReactions))
	for _, r := range m.RecentReactions {
		if now.Sub(r.Timestamp) <= l.Period {
			out = append(out, r)
		}
	}
	return out
}

// TimeUntilCanReact returns how long m must wait before its next reaction
// counts. Zero means it may react now.
func (l *ReactionLimiter) TimeUntilCanReact(m *domain.RoomMembership) time.Duration {
	now := l.now()
	recent := l.recent(m, now)
	if len(recent) < l.Limit {
		return 0
	}

	latest := recent[0].Timestamp
	for _, r := range recent[1:] {
		if r.Timestamp.After(latest) {
			latest = r.Timestamp
		}
	}

	since := now.Sub(latest)
	if since < 0 {
		// record from the future; fail open
		return 0
	}
	remaining := l.Period - since
	if remaining <= 0 {
		return 0
	}
	return remaining
}

// RecordReaction appends a reaction timestamped now to m, persists it, and
// prunes records older than now-Period from memory and storage. A failed
// prune is logged and ignored.
func (l *ReactionLimiter) RecordReaction(ctx context.Context, m *domain.RoomMembership, relatedEventID string) error {
	ctx, span := otel.Tracer("services/ReactionLimiter").Start(ctx, "RecordReaction",
		trace.WithAttributes(
			attribute.Int("membership.id", int(m.ID)),
			attribute.String("related.event_id", relatedEventID),
		),
	)
	defer span.End()

	now := l.now()
	rec, err := l.Store.AddReaction(ctx, m.ID, now, relatedEventID)
	if err != nil {
		return err
	}
	m.RecentReactions = append(m.RecentReactions, *rec)

	cutoff := now.Add(-l.Period)
	kept := m.RecentReactions[:0]
	for _, r := range m.RecentReactions {
		if !r.Timestamp.Before(cutoff) {
			kept = append(kept, r)
		}
	}
	m.RecentReactions = kept

	if n, err := l.Store.PruneReactions(ctx, m.ID, cutoff); err != nil {
		l.Log.Warn().Err(err).Uint("membership_id", m.ID).Msg("prune reactions failed")
	} else if n > 0 {
		l.Log.Debug().Int64("pruned", n).Uint("membership_id", m.ID).Msg("pruned reactions")
	}
	return nil
}
