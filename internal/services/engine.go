// Package services – Engine
//
// This file implements Engine, the per-event orchestrator of the reputation
// system. Every inbound event passes the ledger gate first, then identity
// resolution, then either the reaction path (emoji lookup, recipient
// resolution, cooldown check, score update) or the message path (command
// dispatch). Replies are sent only after all store operations of the event
// have completed.
package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/social-credit/internal/domain"
	"github.com/tbourn/social-credit/internal/observability"
)

// Sender delivers a reply into a room.
type Sender interface {
	Send(ctx context.Context, roomID, plain, html string) error
}

// RelationResolver finds the author tag of an event the engine only knows
// by id (the message a reaction points at).
type RelationResolver interface {
	EventSender(ctx context.Context, roomID, eventID string) (string, error)
}

// Engine wires the reputation components together.
type Engine struct {
	Ledger      *EventLedger
	Users       *UserDirectory
	Memberships *MembershipStore
	Limiter     *ReactionLimiter
	Emojis      *EmojiRegistry
	Commands    *Dispatcher

	Sender    Sender
	Relations RelationResolver
	Log       zerolog.Logger
}

// Handle processes one inbound event to completion. Drops (duplicates,
// unknown emoji, self reactions) return nil; storage failures are returned
// after being logged.
func (e *Engine) Handle(ctx context.Context, ev domain.InboundEvent) (err error) {
	ctx, span := otel.Tracer("services/Engine").Start(ctx, "Handle",
		trace.WithAttributes(
			attribute.String("event.id", ev.ID),
			attribute.String("event.type", string(ev.Kind)),
			attribute.String("room.id", ev.RoomID),
		),
	)
	defer span.End()

	log := e.Log.With().Str("event_id", ev.ID).Str("type", string(ev.Kind)).Str("room", ev.RoomID).Logger()

	outcome := observability.OutcomeHandled
	defer func() {
		if err != nil {
			outcome = observability.OutcomeFailed
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Error().Err(err).Msg("event processing aborted")
		}
		span.SetAttributes(attribute.String("event.outcome", outcome))
		observability.ObserveEvent(string(ev.Kind), outcome)
	}()

	if verr := validate(ev); verr != nil {
		log.Debug().Err(verr).Msg("dropping event")
		outcome = observability.OutcomeIgnored
		return nil
	}

	dup, err := e.Ledger.IsDuplicate(ctx, ev.ID)
	if err != nil {
		return err
	}
	if dup {
		log.Debug().Msg("event already handled")
		outcome = observability.OutcomeDuplicate
		return nil
	}
	if err := e.Ledger.MarkHandled(ctx, ev.ID, ev.Kind); err != nil {
		if errors.Is(err, ErrAlreadyHandled) {
			outcome = observability.OutcomeDuplicate
			return nil
		}
		return fmt.Errorf("mark handled: %w", err)
	}

	sender, err := e.Users.ResolveOrCreate(ctx, ev.SenderTag)
	if errors.Is(err, ErrMalformedIdentity) {
		log.Debug().Str("sender", ev.SenderTag).Msg("unparseable sender")
		outcome = observability.OutcomeIgnored
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve sender: %w", err)
	}
	if e.Users.IsSelf(sender) {
		outcome = observability.OutcomeIgnored
		return nil
	}

	var reply *Response
	switch ev.Kind {
	case domain.EventReaction:
		reply, outcome, err = e.handleReaction(ctx, log, ev, sender)
	case domain.EventMessage:
		reply, outcome, err = e.handleMessage(ctx, ev, sender)
	case domain.EventMembership:
		outcome, err = e.handleMembership(ctx, log, ev, sender)
	}
	if err != nil {
		return err
	}

	if reply != nil {
		e.send(ctx, log, ev.RoomID, *reply)
	}
	return nil
}

func (e *Engine) handleReaction(ctx context.Context, log zerolog.Logger, ev domain.InboundEvent, sender *domain.User) (*Response, string, error) {
	emoji, err := e.Emojis.Lookup(ctx, ev.RoomID, ev.Glyph)
	if err != nil {
		return nil, "", fmt.Errorf("lookup emoji: %w", err)
	}
	if emoji == nil {
		log.Debug().Str("glyph", ev.Glyph).Msg("emoji is not registered")
		return nil, observability.OutcomeIgnored, nil
	}

	recipientTag := ev.RelatedSenderTag
	if recipientTag == "" && e.Relations != nil {
		recipientTag, err = e.Relations.EventSender(ctx, ev.RoomID, ev.RelatedEventID)
		if err != nil {
			log.Warn().Err(err).Str("related", ev.RelatedEventID).Msg("unable to load related event")
			return nil, observability.OutcomeIgnored, nil
		}
	}
	if recipientTag == "" {
		log.Debug().Str("related", ev.RelatedEventID).Msg("recipient unknown")
		return nil, observability.OutcomeIgnored, nil
	}
	if e.Users.IsSelfTag(recipientTag) {
		return nil, observability.OutcomeIgnored, nil
	}

	recipient, err := e.Users.ResolveOrCreate(ctx, recipientTag)
	if errors.Is(err, ErrMalformedIdentity) {
		log.Debug().Str("recipient", recipientTag).Msg("unparseable recipient")
		return nil, observability.OutcomeIgnored, nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("resolve recipient: %w", err)
	}
	if recipient.ID == sender.ID {
		log.Debug().Str("user", sender.Tag()).Msg("self reaction ignored")
		return nil, observability.OutcomeIgnored, nil
	}

	senderM, err := e.Memberships.GetOrCreate(ctx, sender, ev.RoomID)
	if err != nil {
		return nil, "", fmt.Errorf("sender membership: %w", err)
	}
	if wait := e.Limiter.TimeUntilCanReact(senderM); wait > 0 {
		observability.ObserveCooldown()
		r := cooldownResponse(sender, wait)
		return &r, observability.OutcomeCooldown, nil
	}

	recipientM, err := e.Memberships.GetOrCreate(ctx, recipient, ev.RoomID)
	if err != nil {
		return nil, "", fmt.Errorf("recipient membership: %w", err)
	}
	if err := e.Memberships.Adjust(ctx, recipientM, emoji.ScoreDelta); err != nil {
		return nil, "", fmt.Errorf("update score: %w", err)
	}
	observability.ObserveScoreChange()
	log.Info().
		Str("from", sender.Tag()).
		Str("to", recipient.Tag()).
		Int("delta", emoji.ScoreDelta).
		Int("score", recipientM.Score).
		Msg("social credit changed")

	if err := e.Limiter.RecordReaction(ctx, senderM, ev.RelatedEventID); err != nil {
		return nil, "", fmt.Errorf("record reaction: %w", err)
	}

	r := scoreResponse(recipient, recipientM.Score)
	return &r, observability.OutcomeHandled, nil
}

func (e *Engine) handleMessage(ctx context.Context, ev domain.InboundEvent, sender *domain.User) (*Response, string, error) {
	if _, err := e.Memberships.GetOrCreate(ctx, sender, ev.RoomID); err != nil {
		return nil, "", fmt.Errorf("sender membership: %w", err)
	}
	r, err := e.Commands.Dispatch(ctx, ev.Body, sender, ev.RoomID)
	if err != nil {
		return nil, "", fmt.Errorf("dispatch: %w", err)
	}
	if r == nil {
		return nil, observability.OutcomeIgnored, nil
	}
	return r, observability.OutcomeHandled, nil
}

func (e *Engine) handleMembership(ctx context.Context, log zerolog.Logger, ev domain.InboundEvent, sender *domain.User) (string, error) {
	if ev.Membership != "join" {
		return observability.OutcomeIgnored, nil
	}
	if _, err := e.Memberships.GetOrCreate(ctx, sender, ev.RoomID); err != nil {
		return "", fmt.Errorf("join membership: %w", err)
	}
	log.Debug().Str("user", sender.Tag()).Msg("member joined")
	return observability.OutcomeHandled, nil
}

func (e *Engine) send(ctx context.Context, log zerolog.Logger, roomID string, r Response) {
	if e.Sender == nil {
		return
	}
	if err := e.Sender.Send(ctx, roomID, r.Plain, r.HTML); err != nil {
		log.Warn().Err(err).Msg("failed to send reply")
	}
}

func validate(ev domain.InboundEvent) error {
	if ev.ID == "" || ev.RoomID == "" || ev.SenderTag == "" || !ev.Kind.Known() {
		return ErrInvalidEvent
	}
	if ev.Kind == domain.EventReaction && (ev.Glyph == "" || ev.RelatedEventID == "") {
		return ErrInvalidEvent
	}
	return nil
}

// FormatWait renders a cooldown rounded up to whole seconds.
func FormatWait(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	return (d + time.Second - 1).Truncate(time.Second).String()
}

func cooldownResponse(u *domain.User, wait time.Duration) Response {
	w := FormatWait(wait)
	return Response{
		Plain: fmt.Sprintf("%s, you can change social credit again in %s", u.Name, w),
		HTML:  fmt.Sprintf("<b>%s</b>, you can change social credit again in <b>%s</b>", html.EscapeString(u.Name), w),
	}
}

func scoreResponse(u *domain.User, score int) Response {
	return Response{
		Plain: fmt.Sprintf("%s now has %d social credit", u.Name, score),
		HTML:  fmt.Sprintf("<b>%s</b> now has <b>%d</b> social credit", html.EscapeString(u.Name), score),
	}
}
