// Package chattest provides an in-memory chat.Client for tests.
package chattest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/flor3z/ct-planner-bot/internal/chat"
)

// BotID is the author ID of messages the fake sends.
const BotID = "bot"

// Fake records every call and keeps channels and roles in memory.
// Messages are stored oldest first.
type Fake struct {
	mu       sync.Mutex
	nextID   int
	channels map[string][]chat.Message
	roles    map[string]map[string]map[string]bool // guild -> user -> role

	Sends   int
	Edits   int
	Deletes int

	// Forbidden makes every call touching one of these channel or role IDs
	// fail with chat.ErrForbidden.
	Forbidden map[string]bool
	// Missing makes calls on these channel IDs fail with chat.ErrNotFound.
	Missing map[string]bool
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		channels:  make(map[string][]chat.Message),
		roles:     make(map[string]map[string]map[string]bool),
		Forbidden: make(map[string]bool),
		Missing:   make(map[string]bool),
	}
}

func (f *Fake) SelfID() string { return BotID }

// Post appends a message from another author, as if a user had typed it.
func (f *Fake) Post(channelID, authorID, content string) chat.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appendLocked(channelID, authorID, content, nil)
}

// Messages returns a copy of a channel's messages, oldest first.
func (f *Fake) Messages(channelID string) []chat.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.channels[channelID])
}

// ResetCounters zeroes the call counters.
func (f *Fake) ResetCounters() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sends, f.Edits, f.Deletes = 0, 0, 0
}

// Counts returns the call counters under the lock.
func (f *Fake) Counts() (sends, edits, deletes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Sends, f.Edits, f.Deletes
}

func (f *Fake) check(ids ...string) error {
	for _, id := range ids {
		if f.Forbidden[id] {
			return fmt.Errorf("%s: %w", id, chat.ErrForbidden)
		}
		if f.Missing[id] {
			return fmt.Errorf("%s: %w", id, chat.ErrNotFound)
		}
	}
	return nil
}

func (f *Fake) appendLocked(channelID, authorID, content string, menus []chat.SelectMenu) chat.Message {
	f.nextID++
	m := chat.Message{
		ID:        fmt.Sprintf("m%d", f.nextID),
		ChannelID: channelID,
		AuthorID:  authorID,
		Content:   content,
		Menus:     slices.Clone(menus),
	}
	f.channels[channelID] = append(f.channels[channelID], m)
	return m
}

func (f *Fake) SendMessage(_ context.Context, channelID, content string, menus []chat.SelectMenu) (*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(channelID); err != nil {
		return nil, err
	}
	f.Sends++
	m := f.appendLocked(channelID, BotID, content, menus)
	return &m, nil
}

func (f *Fake) EditMessage(_ context.Context, channelID, messageID, content string, menus []chat.SelectMenu) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(channelID); err != nil {
		return err
	}
	msgs := f.channels[channelID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			f.Edits++
			msgs[i].Content = content
			msgs[i].Menus = slices.Clone(menus)
			return nil
		}
	}
	return fmt.Errorf("message %s: %w", messageID, chat.ErrNotFound)
}

func (f *Fake) DeleteMessage(_ context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(channelID); err != nil {
		return err
	}
	msgs := f.channels[channelID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			f.Deletes++
			f.channels[channelID] = slices.Delete(msgs, i, i+1)
			return nil
		}
	}
	return fmt.Errorf("message %s: %w", messageID, chat.ErrNotFound)
}

func (f *Fake) FetchRecentMessages(_ context.Context, channelID string, limit int) ([]chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(channelID); err != nil {
		return nil, err
	}
	msgs := f.channels[channelID]
	out := make([]chat.Message, 0, limit)
	for i := len(msgs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, msgs[i])
	}
	return out, nil
}

// GiveRole sets up a role without counting as a call.
func (f *Fake) GiveRole(guildID, userID, roleID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setRoleLocked(guildID, userID, roleID, true)
}

// Roles returns whether a user holds a role.
func (f *Fake) Roles(guildID, userID, roleID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roles[guildID][userID][roleID]
}

func (f *Fake) setRoleLocked(guildID, userID, roleID string, on bool) {
	users, ok := f.roles[guildID]
	if !ok {
		users = make(map[string]map[string]bool)
		f.roles[guildID] = users
	}
	roles, ok := users[userID]
	if !ok {
		roles = make(map[string]bool)
		users[userID] = roles
	}
	if on {
		roles[roleID] = true
	} else {
		delete(roles, roleID)
	}
}

func (f *Fake) HasRole(_ context.Context, guildID, userID, roleID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(roleID); err != nil {
		return false, err
	}
	return f.roles[guildID][userID][roleID], nil
}

func (f *Fake) AddRole(_ context.Context, guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(roleID); err != nil {
		return err
	}
	f.setRoleLocked(guildID, userID, roleID, true)
	return nil
}

func (f *Fake) RemoveRole(_ context.Context, guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(roleID); err != nil {
		return err
	}
	f.setRoleLocked(guildID, userID, roleID, false)
	return nil
}

func (f *Fake) MembersWithRole(_ context.Context, guildID, roleID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(roleID); err != nil {
		return nil, err
	}
	var users []string
	for user, roles := range f.roles[guildID] {
		if roles[roleID] {
			users = append(users, user)
		}
	}
	slices.Sort(users)
	return users, nil
}

var _ chat.Client = (*Fake)(nil)
