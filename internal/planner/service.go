// Package planner derives the claim and decay state of every tracked tile,
// renders planner boards and composes the pings the scheduler sends.
package planner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/flor3z/ct-planner-bot/internal/board"
	"github.com/flor3z/ct-planner-bot/internal/calendar"
	"github.com/flor3z/ct-planner-bot/internal/chat"
	"github.com/flor3z/ct-planner-bot/internal/metrics"
	"github.com/flor3z/ct-planner-bot/internal/storage"
)

// Store is the persistence the planner needs.
type Store interface {
	CreatePlanner(ctx context.Context, p *storage.Planner) error
	GetPlanner(ctx context.Context, channelID string) (*storage.Planner, error)
	ListPlanners(ctx context.Context, onlyActive bool) ([]*storage.Planner, error)
	PlannersByClaimsChannel(ctx context.Context, claimsChannelID string) ([]*storage.Planner, error)
	DeletePlanner(ctx context.Context, channelID string) error
	UpdatePlannerConfig(ctx context.Context, channelID string, cfg storage.PlannerConfig) error
	SetClearTime(ctx context.Context, channelID string, t time.Time) error
	SetActive(ctx context.Context, channelID string, active bool) error

	ListTrackedTiles(ctx context.Context, plannerID string) ([]storage.TrackedTile, error)
	UpsertTrackedTile(ctx context.Context, t storage.TrackedTile) error
	RemoveTrackedTile(ctx context.Context, plannerID, tile string) error
	OverwriteTrackedTiles(ctx context.Context, plannerID string, tiles []storage.TrackedTile) error

	ListCaptures(ctx context.Context, f storage.CaptureFilter) ([]storage.Capture, error)
	LatestCaptures(ctx context.Context, channelID string, since time.Time) (map[string]storage.Capture, error)
	MoveLatestCapture(ctx context.Context, channelID, tile string, to, floor time.Time) (bool, error)

	ListClaimOverrides(ctx context.Context, plannerID string) ([]storage.ClaimOverride, error)
	InsertClaimOverride(ctx context.Context, c storage.ClaimOverride) error
	DeleteClaimOverride(ctx context.Context, plannerID, tile string) error
	CountClaimsBy(ctx context.Context, plannerID, userID string, since time.Time) (int, error)
}

// Options tunes the Service.
type Options struct {
	ClaimLimit   int // simultaneous claims per user and planner
	DailyTickets int // captures a member may log per event day
	Tolerance    int // foreign messages tolerated between board messages
	History      int // trailing messages scanned when syncing a board
}

// DefaultOptions returns the live bot's limits.
func DefaultOptions() Options {
	return Options{
		ClaimLimit:   4,
		DailyTickets: 4,
		Tolerance:    0,
		History:      board.DefaultHistory,
	}
}

// Service is the planner engine.
type Service struct {
	store     Store
	cal       *calendar.Calendar
	chat      chat.Client
	opts      Options
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	refresher *board.Refresher
	now       func() time.Time

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	watchMu  sync.RWMutex
	watchers []func(plannerID string)
}

// New creates a Service.
func New(store Store, cal *calendar.Calendar, client chat.Client, opts Options, m *metrics.Metrics, logger zerolog.Logger) *Service {
	s := &Service{
		store:   store,
		cal:     cal,
		chat:    client,
		opts:    opts,
		metrics: m,
		logger:  logger.With().Str("component", "planner").Logger(),
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
	rec := board.NewReconciler(client, opts.Tolerance, opts.History, m, logger)
	s.refresher = board.NewRefresher(rec, s)
	return s
}

// Calendar returns the calendar the service resolves events with.
func (s *Service) Calendar() *calendar.Calendar {
	return s.cal
}

// Watch registers fn to be called whenever the tiles of a planner may expire
// at different times than before (captures logged or withdrawn, decay edits,
// tracked list changes).
func (s *Service) Watch(fn func(plannerID string)) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	s.watchers = append(s.watchers, fn)
}

func (s *Service) changed(plannerID string) {
	s.watchMu.RLock()
	defer s.watchMu.RUnlock()
	for _, fn := range s.watchers {
		fn(plannerID)
	}
}

func (s *Service) lock(plannerID string) func() {
	s.lockMu.Lock()
	mu, ok := s.locks[plannerID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[plannerID] = mu
	}
	s.lockMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (s *Service) planner(ctx context.Context, plannerID string) (*storage.Planner, error) {
	p, err := s.store.GetPlanner(ctx, plannerID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotPlanner
	}
	if err != nil {
		return nil, fmt.Errorf("get planner: %w", err)
	}
	return p, nil
}

// Planner returns a planner's configuration.
func (s *Service) Planner(ctx context.Context, plannerID string) (*storage.Planner, error) {
	return s.planner(ctx, plannerID)
}

// Planners lists planners, optionally only the active ones.
func (s *Service) Planners(ctx context.Context, onlyActive bool) ([]*storage.Planner, error) {
	return s.store.ListPlanners(ctx, onlyActive)
}

// floor is the oldest capture time that still counts for a planner: the
// start of the current event, or the planner's clear time if later.
func (s *Service) floor(p *storage.Planner, now time.Time) time.Time {
	start, _ := s.cal.PeriodAt(now)
	if p.ClearTime != nil && p.ClearTime.After(start) {
		return *p.ClearTime
	}
	return start
}
