package services

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/tbourn/social-credit/internal/domain"
)

// EngineOptions carries the settings NewEngine spreads over the components.
type EngineOptions struct {
	Self           domain.Identity
	InitialScore   int
	ReactionPeriod time.Duration
	ReactionLimit  int

	// Clock defaults to the real clock.
	Clock     clockwork.Clock
	Sender    Sender
	Relations RelationResolver
	Log       zerolog.Logger
}

// NewEngine builds every component over one store.
func NewEngine(store Store, o EngineOptions) *Engine {
	clk := o.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	members := &MembershipStore{Store: store, InitialScore: o.InitialScore}
	emojis := &EmojiRegistry{Store: store}
	return &Engine{
		Ledger:      &EventLedger{Store: store},
		Users:       &UserDirectory{Store: store, Self: o.Self, Log: o.Log},
		Memberships: members,
		Limiter:     &ReactionLimiter{Store: store, Clock: clk, Period: o.ReactionPeriod, Limit: o.ReactionLimit, Log: o.Log},
		Emojis:      emojis,
		Commands:    &Dispatcher{Memberships: members, Emojis: emojis},
		Sender:      o.Sender,
		Relations:   o.Relations,
		Log:         o.Log,
	}
}
