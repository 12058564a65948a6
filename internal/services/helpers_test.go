package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/social-credit/internal/domain"
	"github.com/tbourn/social-credit/internal/repo"
)

const testRoom = "!room:example.org"

var testEpoch = time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *repo.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%d?mode=memory&cache=shared&_pragma=foreign_keys(1)", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return repo.NewStore(db)
}

// ----- Fake sender -----

type sentMsg struct {
	Room, Plain, HTML string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMsg
	err  error
}

func (f *fakeSender) Send(_ context.Context, roomID, plain, html string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMsg{roomID, plain, html})
	return f.err
}

func (f *fakeSender) messages() []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMsg(nil), f.sent...)
}

// ----- Fake relation resolver -----

type fakeRelations map[string]string

func (f fakeRelations) EventSender(_ context.Context, _ string, eventID string) (string, error) {
	tag, ok := f[eventID]
	if !ok {
		return "", errors.New("event not found")
	}
	return tag, nil
}

// ----- Failing store -----

// failingStore wraps a real store and fails selected operations.
type failingStore struct {
	Store
	failMark, failSave, failAddReaction, failPrune bool
}

var errBoom = errors.New("boom")

func (f *failingStore) MarkEvent(ctx context.Context, id string, kind domain.EventKind) error {
	if f.failMark {
		return errBoom
	}
	return f.Store.MarkEvent(ctx, id, kind)
}

func (f *failingStore) SaveScore(ctx context.Context, m *domain.RoomMembership) error {
	if f.failSave {
		return errBoom
	}
	return f.Store.SaveScore(ctx, m)
}

func (f *failingStore) AddScore(ctx context.Context, m *domain.RoomMembership, delta int) error {
	if f.failSave {
		return errBoom
	}
	return f.Store.AddScore(ctx, m, delta)
}

func (f *failingStore) AddReaction(ctx context.Context, id uint, at time.Time, rel string) (*domain.ReactionRecord, error) {
	if f.failAddReaction {
		return nil, errBoom
	}
	return f.Store.AddReaction(ctx, id, at, rel)
}

func (f *failingStore) PruneReactions(ctx context.Context, id uint, cutoff time.Time) (int64, error) {
	if f.failPrune {
		return 0, errBoom
	}
	return f.Store.PruneReactions(ctx, id, cutoff)
}

// ----- Engine fixture -----

type engineFixture struct {
	Store  Store
	Clock  *clockwork.FakeClock
	Sender *fakeSender
	Rel    fakeRelations
	Engine *Engine
}

func newEngineFixture(t *testing.T, store Store, limit int, period time.Duration) *engineFixture {
	t.Helper()
	clk := clockwork.NewFakeClockAt(testEpoch)
	snd := &fakeSender{}
	rel := fakeRelations{}
	log := zerolog.Nop()

	eng := NewEngine(store, EngineOptions{
		Self:           domain.Identity{Name: "social-credit-system", URL: "example.org"},
		InitialScore:   50,
		ReactionPeriod: period,
		ReactionLimit:  limit,
		Clock:          clk,
		Sender:         snd,
		Relations:      rel,
		Log:            log,
	})
	return &engineFixture{Store: store, Clock: clk, Sender: snd, Rel: rel, Engine: eng}
}

func mustUser(t *testing.T, s Store, name string, role domain.Role) *domain.User {
	t.Helper()
	u, _, err := s.EnsureUser(context.Background(), name, "example.org", role)
	if err != nil {
		t.Fatalf("ensure user %s: %v", name, err)
	}
	return u
}

func mustEmoji(t *testing.T, s Store, glyph string, delta int) {
	t.Helper()
	if _, err := s.AddEmoji(context.Background(), testRoom, glyph, delta); err != nil {
		t.Fatalf("add emoji %s: %v", glyph, err)
	}
}

func scoreOf(t *testing.T, s Store, name string) int {
	t.Helper()
	u := mustUser(t, s, name, domain.RoleDefault)
	m, _, err := s.EnsureMembership(context.Background(), u, testRoom, 50)
	if err != nil {
		t.Fatalf("membership %s: %v", name, err)
	}
	return m.Score
}

func reaction(id, from, glyph, related, relatedSender string) domain.InboundEvent {
	return domain.InboundEvent{
		ID:               id,
		Kind:             domain.EventReaction,
		SenderTag:        "@" + from + ":example.org",
		RoomID:           testRoom,
		Glyph:            glyph,
		RelatedEventID:   related,
		RelatedSenderTag: relatedSender,
	}
}

func message(id, from, body string) domain.InboundEvent {
	return domain.InboundEvent{
		ID:        id,
		Kind:      domain.EventMessage,
		SenderTag: "@" + from + ":example.org",
		RoomID:    testRoom,
		Body:      body,
	}
}
