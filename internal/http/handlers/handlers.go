// Package handlers provides the HTTP endpoints: the Matrix application
// service push and query API, and the read-only room API.
//
// Handlers are transport-thin. They decode input, call the engine or a
// service, and translate results into HTTP responses.
package handlers

import (
	"context"

	"github.com/tbourn/social-credit/internal/domain"
)

//
// Service contracts (context-aware)
//

// EventHandler processes one inbound event. *services.Engine satisfies it.
type EventHandler interface {
	Handle(ctx context.Context, ev domain.InboundEvent) error
}

// ScoreService lists a room's leaderboard, highest score first.
type ScoreService interface {
	Leaderboard(ctx context.Context, roomID string) ([]domain.ScoreEntry, error)
}

// EmojiService lists a room's registered emojis, largest delta first.
type EmojiService interface {
	List(ctx context.Context, roomID string) ([]domain.Emoji, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints. It depends on abstract service
// interfaces to keep transport concerns separate from business logic.
type Handlers struct {
	engine EventHandler
	scores ScoreService
	emojis EmojiService
	// botTag is the user id the appservice answers for in user queries.
	botTag string
}

// New constructs a Handlers bound to the given services.
func New(engine EventHandler, scores ScoreService, emojis EmojiService, botTag string) *Handlers {
	return &Handlers{engine: engine, scores: scores, emojis: emojis, botTag: botTag}
}
