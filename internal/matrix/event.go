// Package matrix adapts the Matrix client-server and application service
// APIs to the reputation engine. It decodes pushed transaction events into
// domain.InboundEvent values and sends replies back through the homeserver.
package matrix

import (
	"encoding/json"

	"github.com/tbourn/social-credit/internal/domain"
)

// Transaction is the body of an application service push.
type Transaction struct {
	Events []ClientEvent `json:"events"`
}

// ClientEvent is the subset of a Matrix room event the engine reads.
type ClientEvent struct {
	EventID  string          `json:"event_id"`
	Type     string          `json:"type"`
	Sender   string          `json:"sender"`
	RoomID   string          `json:"room_id"`
	StateKey *string         `json:"state_key,omitempty"`
	Content  json.RawMessage `json:"content"`
}

type relatesTo struct {
	RelType string `json:"rel_type"`
	EventID string `json:"event_id"`
	Key     string `json:"key"`
}

type reactionContent struct {
	RelatesTo *relatesTo `json:"m.relates_to"`
}

type messageContent struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
}

type memberContent struct {
	Membership string `json:"membership"`
}

const (
	relAnnotation = "m.annotation"
	msgTypeText   = "m.text"
)

// ToInbound converts ev into the engine's event view. It reports false for
// event types and shapes the engine does not act on.
func ToInbound(ev ClientEvent) (domain.InboundEvent, bool) {
	in := domain.InboundEvent{
		ID:        ev.EventID,
		Kind:      domain.EventKind(ev.Type),
		SenderTag: ev.Sender,
		RoomID:    ev.RoomID,
	}

	switch in.Kind {
	case domain.EventReaction:
		var c reactionContent
		if err := json.Unmarshal(ev.Content, &c); err != nil || c.RelatesTo == nil {
			return in, false
		}
		if c.RelatesTo.RelType != relAnnotation {
			return in, false
		}
		in.Glyph = c.RelatesTo.Key
		in.RelatedEventID = c.RelatesTo.EventID

	case domain.EventMessage:
		var c messageContent
		if err := json.Unmarshal(ev.Content, &c); err != nil || c.MsgType != msgTypeText {
			return in, false
		}
		in.Body = c.Body

	case domain.EventMembership:
		var c memberContent
		if err := json.Unmarshal(ev.Content, &c); err != nil {
			return in, false
		}
		// the subject of a membership event is the state key
		if ev.StateKey != nil && *ev.StateKey != "" {
			in.SenderTag = *ev.StateKey
		}
		in.Membership = c.Membership

	default:
		return in, false
	}
	return in, true
}
