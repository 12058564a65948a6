package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/social-credit/internal/domain"
)

// EventLedger records which inbound events have already been processed.
type EventLedger struct {
	Store Store
}

// IsDuplicate reports whether id has been marked before.
func (l *EventLedger) IsDuplicate(ctx context.Context, id string) (bool, error) {
	ctx, span := otel.Tracer("services/EventLedger").Start(ctx, "IsDuplicate",
		trace.WithAttributes(attribute.String("event.id", id)),
	)
	defer span.End()

	return l.Store.HasEvent(ctx, id)
}

// MarkHandled records id. A concurrent mark of the same id surfaces as
// ErrAlreadyHandled so the caller drops the event.
func (l *EventLedger) MarkHandled(ctx context.Context, id string, kind domain.EventKind) error {
	ctx, span := otel.Tracer("services/EventLedger").Start(ctx, "MarkHandled",
		trace.WithAttributes(
			attribute.String("event.id", id),
			attribute.String("event.type", string(kind)),
		),
	)
	defer span.End()

	err := l.Store.MarkEvent(ctx, id, kind)
	if isDuplicate(err) {
		return ErrAlreadyHandled
	}
	return err
}
