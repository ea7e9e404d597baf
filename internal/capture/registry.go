// Package capture logs in-game tile captures reported in claims channels and
// tells the registered subscribers about them.
package capture

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Event describes a capture being logged or withdrawn.
type Event struct {
	TileCode        string
	ClaimsChannelID string
	UserID          string
	MessageID       string
	At              time.Time
}

// Subscriber reacts to captures. Both hooks may be called concurrently.
type Subscriber interface {
	// Name identifies the subscriber in logs.
	Name() string

	OnCaptureRegistered(ctx context.Context, ev Event)
	OnCaptureUnregistered(ctx context.Context, ev Event)
}

// Registry manages all registered capture subscribers
type Registry struct {
	mu          sync.RWMutex
	subscribers map[string]Subscriber
}

// NewRegistry creates a new subscriber registry
func NewRegistry() *Registry {
	return &Registry{
		subscribers: make(map[string]Subscriber),
	}
}

// Register adds a subscriber, replacing any with the same name
func (r *Registry) Register(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers[sub.Name()] = sub
}

// Names returns the registered subscriber names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.subscribers))
	for name := range r.subscribers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) all() []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := make([]Subscriber, 0, len(r.subscribers))
	for _, sub := range r.subscribers {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].Name() < subs[j].Name() })
	return subs
}

// Registered notifies every subscriber that a capture was logged.
func (r *Registry) Registered(ctx context.Context, ev Event) {
	for _, sub := range r.all() {
		sub.OnCaptureRegistered(ctx, ev)
	}
}

// Unregistered notifies every subscriber that a capture was withdrawn.
func (r *Registry) Unregistered(ctx context.Context, ev Event) {
	for _, sub := range r.all() {
		sub.OnCaptureUnregistered(ctx, ev)
	}
}
