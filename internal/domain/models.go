// Package domain defines the persistence models for users, room memberships,
// reactions, emoji and processed events. These types are mapped with GORM and
// form the core data layer of the reputation engine.
package domain

import "time"

// User is a chat participant identified by (Name, URL).
//
// Fields:
//   - ID: surrogate key generated by the store.
//   - Name: local part of the identity tag ("alice" in "@alice:example.org").
//   - URL: domain of the identity tag ("example.org").
//   - Role: Default, Moderator or Admin; persisted as a small integer.
type User struct {
	ID   uint   `json:"id"   gorm:"primaryKey;autoIncrement"`
	Name string `json:"name" gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_name_url,priority:1"`
	URL  string `json:"url"  gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_name_url,priority:2"`
	Role Role   `json:"role" gorm:"type:INTEGER NOT NULL;default:0"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "user" }

// Tag renders the canonical identity tag of u.
func (u User) Tag() string { return Identity{Name: u.Name, URL: u.URL}.Tag() }

// RoomMembership is a user's reputation record scoped to one room.
//
// Score is never clamped. RecentReactions holds the reactions this member
// performed (not received) and is loaded alongside the membership; it is
// written only through the reaction recording path.
type RoomMembership struct {
	ID     uint   `json:"id"      gorm:"primaryKey;autoIncrement"`
	UserID uint   `json:"user_id" gorm:"not null;uniqueIndex:ux_membership_user_room,priority:1"`
	RoomID string `json:"room_id" gorm:"type:TEXT NOT NULL;uniqueIndex:ux_membership_user_room,priority:2;index"`
	Score  int    `json:"score"   gorm:"not null"`

	RecentReactions []ReactionRecord `json:"-" gorm:"foreignKey:MembershipID"`

	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for RoomMembership.
func (RoomMembership) TableName() string { return "room_membership" }

// ReactionRecord is one instance of a member performing a scoring reaction.
// Records are append-only and pruned once they fall out of the rate-limit
// window.
type ReactionRecord struct {
	ID             uint      `json:"id"               gorm:"primaryKey;autoIncrement"`
	MembershipID   uint      `json:"membership_id"    gorm:"not null;index:idx_reaction_member_time,priority:1"`
	Timestamp      time.Time `json:"timestamp"        gorm:"not null;index:idx_reaction_member_time,priority:2"`
	RelatedEventID string    `json:"related_event_id" gorm:"type:TEXT NOT NULL;default:''"`

	// Membership is the owning record; history is cascade-deleted with it.
	Membership RoomMembership `json:"-" gorm:"foreignKey:MembershipID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ReactionRecord.
func (ReactionRecord) TableName() string { return "reaction_record" }

// Emoji maps a glyph to a signed score delta inside one room.
type Emoji struct {
	ID         uint   `json:"id"          gorm:"primaryKey;autoIncrement"`
	RoomID     string `json:"room_id"     gorm:"type:TEXT NOT NULL;uniqueIndex:ux_emoji_room_glyph,priority:1"`
	Glyph      string `json:"glyph"       gorm:"type:TEXT NOT NULL;uniqueIndex:ux_emoji_room_glyph,priority:2"`
	ScoreDelta int    `json:"score_delta" gorm:"not null"`
}

// TableName returns the database table name for Emoji.
func (Emoji) TableName() string { return "emoji" }

// ProcessedEvent marks an inbound event as seen. Its existence alone means
// "do not reprocess".
type ProcessedEvent struct {
	ID        string    `json:"id"         gorm:"type:TEXT NOT NULL;primaryKey"`
	EventType EventKind `json:"event_type" gorm:"type:TEXT NOT NULL"`
	Handled   bool      `json:"handled"    gorm:"not null"`
}

// TableName returns the database table name for ProcessedEvent.
func (ProcessedEvent) TableName() string { return "processed_event" }

// ScoreEntry is one row of a room leaderboard.
type ScoreEntry struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	Score int    `json:"score"`
}
