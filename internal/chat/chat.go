// Package chat is the contract the planner uses to talk to the chat platform.
package chat

import (
	"context"
	"slices"
)

// SelectOption is one entry of a select menu.
type SelectOption struct {
	Label       string
	Value       string
	Description string
}

// SelectMenu is a single-choice dropdown attached to a message.
type SelectMenu struct {
	CustomID    string
	Placeholder string
	Options     []SelectOption
}

// Message is a posted chat message as far as the planner cares about it.
type Message struct {
	ID        string
	ChannelID string
	AuthorID  string
	Content   string
	Menus     []SelectMenu
}

// SameBody reports whether the message already shows content and menus.
func (m Message) SameBody(content string, menus []SelectMenu) bool {
	if m.Content != content || len(m.Menus) != len(menus) {
		return false
	}
	for i := range menus {
		a, b := m.Menus[i], menus[i]
		if a.CustomID != b.CustomID || a.Placeholder != b.Placeholder || !slices.Equal(a.Options, b.Options) {
			return false
		}
	}
	return true
}

// Client is the chat platform. Implementations return ErrForbidden when the
// bot lost a permission, ErrNotFound when the target is gone, and
// *RateLimitedError when the platform asks to back off.
type Client interface {
	// SelfID is the bot's own user ID.
	SelfID() string

	SendMessage(ctx context.Context, channelID, content string, menus []SelectMenu) (*Message, error)
	EditMessage(ctx context.Context, channelID, messageID, content string, menus []SelectMenu) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	// FetchRecentMessages returns up to limit messages, newest first.
	FetchRecentMessages(ctx context.Context, channelID string, limit int) ([]Message, error)

	HasRole(ctx context.Context, guildID, userID, roleID string) (bool, error)
	AddRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error
	// MembersWithRole lists the user IDs holding a role.
	MembersWithRole(ctx context.Context, guildID, roleID string) ([]string, error)
}
