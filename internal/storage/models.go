package storage

import "time"

// DefaultExpiresAfterHours is how long a capture keeps a tile fresh unless the
// planner tracks it with a custom value.
const DefaultExpiresAfterHours = 24

// Planner is the per-channel tile planner configuration.
// Empty channel/role IDs mean "not configured".
type Planner struct {
	ChannelID       string
	GuildID         string
	ClaimsChannelID string
	PingChannelID   string
	PingRoleID      string
	TicketRoleID    string
	ClearTime       *time.Time // captures before this are ignored
	IsActive        bool
	CreatedAt       time.Time
}

// PlannerConfig is a partial update of a planner's configuration. Nil fields
// are left untouched; pointers to "" clear the field.
type PlannerConfig struct {
	ClaimsChannelID *string
	PingChannelID   *string
	PingRoleID      *string
	TicketRoleID    *string
}

// TrackedTile is a tile a planner keeps an eye on.
type TrackedTile struct {
	PlannerChannelID  string
	TileCode          string
	ExpiresAfterHours int
	RegisteredAt      time.Time
}

// Capture is an in-game tile capture logged in a claims channel.
type Capture struct {
	ID        int64
	ChannelID string
	TileCode  string
	UserID    string
	MessageID string
	ClaimedAt time.Time
}

// CaptureFilter narrows ListCaptures. Zero fields are not filtered on.
type CaptureFilter struct {
	ChannelID string
	TileCode  string
	UserID    string
	From      time.Time // inclusive
	To        time.Time // exclusive
}

// ClaimOverride records who is working on a tile for a planner, independent
// of who captured it last.
type ClaimOverride struct {
	PlannerChannelID string
	TileCode         string
	UserID           string
	ClaimedAt        time.Time
}
