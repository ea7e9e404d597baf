// Package cache holds slow-changing values together with a deadline.
package cache

import (
	"context"
	"sync"
	"time"
)

// Cache is a value with an expiry. There is no eviction: validity is checked
// on read and the owner refreshes an expired cache before using it.
type Cache[T any] struct {
	Value     T
	ExpiresAt time.Time
}

// New returns a cache holding value until now+ttl.
func New[T any](value T, ttl time.Duration, now time.Time) Cache[T] {
	return Cache[T]{Value: value, ExpiresAt: now.Add(ttl)}
}

// Valid reports whether the value may still be used at now.
func (c Cache[T]) Valid(now time.Time) bool {
	return now.Before(c.ExpiresAt)
}

// FetchFunc loads a fresh value.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Loader refreshes a Cache through a FetchFunc when it has expired.
type Loader[T any] struct {
	mu    sync.Mutex
	cache Cache[T]
	ttl   time.Duration
	fetch FetchFunc[T]
	now   func() time.Time
}

// NewLoader creates a Loader that keeps fetched values for ttl.
func NewLoader[T any](ttl time.Duration, fetch FetchFunc[T]) *Loader[T] {
	return &Loader[T]{ttl: ttl, fetch: fetch, now: time.Now}
}

// Get returns the cached value, fetching a new one first if it expired.
// Concurrent callers share a single fetch.
func (l *Loader[T]) Get(ctx context.Context) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.cache.Valid(now) {
		return l.cache.Value, nil
	}

	v, err := l.fetch(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	l.cache = New(v, l.ttl, now)
	return v, nil
}

// Invalidate forces the next Get to fetch.
func (l *Loader[T]) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache.ExpiresAt = time.Time{}
}
