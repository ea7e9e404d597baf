// Package scheduler runs the periodic pollers that ping about expiring tiles,
// keep boards fresh and rotate the ticket role.
package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/flor3z/ct-planner-bot/internal/calendar"
	"github.com/flor3z/ct-planner-bot/internal/metrics"
	"github.com/flor3z/ct-planner-bot/internal/planner"
	"github.com/flor3z/ct-planner-bot/internal/storage"
)

// Planners is what the pollers need from the planner engine.
type Planners interface {
	Calendar() *calendar.Calendar
	Watch(fn func(plannerID string))
	Planners(ctx context.Context, onlyActive bool) ([]*storage.Planner, error)
	Tiles(ctx context.Context, p *storage.Planner, q planner.Query, now time.Time) ([]planner.PlannedTile, error)
	EarliestExpiring(ctx context.Context, now time.Time) (map[string][]planner.PlannedTile, error)
	Notify(ctx context.Context, p *storage.Planner, kind planner.Kind, tiles []planner.PlannedTile) error
	RefreshBoard(ctx context.Context, plannerID string) error
	LastRefresh(plannerID string) time.Time
	ReassignTicketRoles(ctx context.Context, p *storage.Planner, now time.Time) error
	TeardownTicketRoles(ctx context.Context, p *storage.Planner) error
}

// Config holds the poller cadences.
type Config struct {
	ReminderInterval  time.Duration // claimed-tile reminder cadence and look-ahead
	UnclaimedInterval time.Duration // unclaimed-tile reminder cadence and look-ahead
	DecayInterval     time.Duration
	RefreshInterval   time.Duration
	BoardMaxAge       time.Duration
	RolloverInterval  time.Duration
	QuietHours        time.Duration // no pings this long before an event ends
}

// DefaultConfig returns the live bot's cadences.
func DefaultConfig() Config {
	return Config{
		ReminderInterval:  30 * time.Minute,
		UnclaimedInterval: 2 * time.Hour,
		DecayInterval:     10 * time.Second,
		RefreshInterval:   time.Minute,
		BoardMaxAge:       time.Hour,
		RolloverInterval:  time.Minute,
		QuietHours:        4 * time.Hour,
	}
}

// poller is one periodic task. Its state is loaded before the first tick and
// saved after every tick.
type poller interface {
	name() string
	interval() time.Duration
	state() any
	tick(ctx context.Context, now time.Time, logger zerolog.Logger) error
}

// Scheduler owns the pollers.
type Scheduler struct {
	planners Planners
	store    StateStore
	cfg      Config
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time

	reminder *reminderPoller
	decay    *decayPoller
	refresh  *refreshPoller
	rollover *rolloverPoller
}

// New creates a Scheduler and subscribes it to planner changes.
func New(planners Planners, store StateStore, cfg Config, m *metrics.Metrics, logger zerolog.Logger) *Scheduler {
	s := &Scheduler{
		planners: planners,
		store:    store,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		now:      time.Now,
	}
	s.reminder = &reminderPoller{s: s}
	s.decay = &decayPoller{s: s}
	s.refresh = &refreshPoller{s: s}
	s.rollover = &rolloverPoller{s: s}
	planners.Watch(func(string) { s.decay.markDirty() })
	return s
}

func (s *Scheduler) pollers() []poller {
	return []poller{s.reminder, s.decay, s.refresh, s.rollover}
}

// Run loads the pollers' state and ticks them until ctx is cancelled. Each
// poller runs on its own goroutine and never overlaps with itself. A tick in
// flight when ctx is cancelled finishes first.
func (s *Scheduler) Run(ctx context.Context) error {
	for _, p := range s.pollers() {
		if err := loadState(ctx, s.store, p.name(), p.state()); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, p := range s.pollers() {
		g.Go(func() error {
			s.loop(ctx, p)
			return nil
		})
	}
	s.logger.Info().Msg("scheduler started")
	err := g.Wait()
	s.logger.Info().Msg("scheduler stopped")
	return err
}

func (s *Scheduler) loop(ctx context.Context, p poller) {
	ticker := time.NewTicker(p.interval())
	defer ticker.Stop()

	s.runTick(context.WithoutCancel(ctx), p)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runTick(context.WithoutCancel(ctx), p)
		}
	}
}

// runTick runs one tick and saves the poller's state. Errors are logged; the
// next tick runs regardless.
func (s *Scheduler) runTick(ctx context.Context, p poller) {
	start := time.Now()
	logger := s.logger.With().Str("poller", p.name()).Str("run_id", uuid.NewString()).Logger()

	result := "ok"
	if err := p.tick(ctx, s.now(), logger); err != nil {
		result = "error"
		s.metrics.RecordError("scheduler", p.name())
		logger.Error().Err(err).Msg("tick failed")
	}
	if err := saveState(ctx, s.store, p.name(), p.state()); err != nil {
		result = "error"
		logger.Error().Err(err).Msg("persist state failed")
	}
	s.metrics.RecordTick(p.name(), result, time.Since(start).Seconds())
	logger.Debug().Dur("took", time.Since(start)).Msg("tick done")
}

// quiet reports whether pings are suppressed at now: outside an event and
// during its last hours.
func (s *Scheduler) quiet(now time.Time) bool {
	start, end := s.planners.Calendar().PeriodAt(now)
	return now.Before(start) || !now.Before(end.Add(-s.cfg.QuietHours))
}
