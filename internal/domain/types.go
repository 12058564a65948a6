package domain

import (
	"database/sql/driver"
	"fmt"
	"regexp"
)

// Role is the closed set of user roles. It is persisted as a small integer
// (Default=0, Moderator=1, Admin=2); unknown stored values read back as
// RoleDefault.
type Role string

const (
	RoleDefault   Role = "default"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Value implements driver.Valuer.
func (r Role) Value() (driver.Value, error) {
	switch r {
	case RoleModerator:
		return int64(1), nil
	case RoleAdmin:
		return int64(2), nil
	case RoleDefault, "":
		return int64(0), nil
	default:
		return nil, fmt.Errorf("unknown role %q", string(r))
	}
}

// Scan implements sql.Scanner.
func (r *Role) Scan(src any) error {
	var n int64
	switch v := src.(type) {
	case int64:
		n = v
	case int32:
		n = int64(v)
	case int:
		n = int64(v)
	case nil:
		n = 0
	default:
		return fmt.Errorf("scan role: unsupported type %T", src)
	}
	switch n {
	case 1:
		*r = RoleModerator
	case 2:
		*r = RoleAdmin
	default:
		*r = RoleDefault
	}
	return nil
}

// EventKind discriminates inbound events. Values are the transport's event
// type strings and are stored verbatim in the ledger.
type EventKind string

const (
	EventMessage    EventKind = "m.room.message"
	EventReaction   EventKind = "m.reaction"
	EventMembership EventKind = "m.room.member"
)

// Known reports whether k is one of the kinds the engine understands.
func (k EventKind) Known() bool {
	switch k {
	case EventMessage, EventReaction, EventMembership:
		return true
	}
	return false
}

// Identity is the (Name, URL) pair of a chat participant.
type Identity struct {
	Name string
	URL  string
}

// Tag renders the canonical "@name:url" form.
func (i Identity) Tag() string { return "@" + i.Name + ":" + i.URL }

var identityRE = regexp.MustCompile(`^@([^:\s]+):(\S+)$`)

// ParseIdentity splits an identity tag of the form "@localpart:domain".
// It reports false when tag does not have that shape.
func ParseIdentity(tag string) (Identity, bool) {
	m := identityRE.FindStringSubmatch(tag)
	if m == nil {
		return Identity{}, false
	}
	return Identity{Name: m[1], URL: m[2]}, true
}

// InboundEvent is the minimal view of a transport event the engine needs.
// Body is set for messages; Glyph and RelatedEventID for reactions;
// Membership for membership changes. RelatedSenderTag may be pre-filled by
// the transport when it already knows the author of the related message.
type InboundEvent struct {
	ID        string
	Kind      EventKind
	SenderTag string
	RoomID    string

	Body string

	Glyph            string
	RelatedEventID   string
	RelatedSenderTag string

	Membership string
}
