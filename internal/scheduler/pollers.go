package scheduler

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/flor3z/ct-planner-bot/internal/calendar"
	"github.com/flor3z/ct-planner-bot/internal/planner"
	"github.com/flor3z/ct-planner-bot/internal/storage"
)

// reminderCheck is how often the reminder poller looks at its due times.
const reminderCheck = time.Minute

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// reminderPoller warns claimants about tiles expiring within the next
// ReminderInterval, and the team about unclaimed tiles expiring within the
// next UnclaimedInterval. Every planner keeps its own cursor per window, so
// a planner whose batch failed is retried on the next check from where it
// stopped while the others move on.
type reminderPoller struct {
	s  *Scheduler
	st reminderState
}

func (p *reminderPoller) name() string { return "reminder" }

func (p *reminderPoller) interval() time.Duration {
	return min(reminderCheck, p.s.cfg.ReminderInterval)
}

func (p *reminderPoller) state() any { return &p.st }

func (p *reminderPoller) tick(ctx context.Context, now time.Time, logger zerolog.Logger) error {
	planners, err := p.s.planners.Planners(ctx, true)
	if err != nil {
		return fmt.Errorf("list planners: %w", err)
	}

	if p.st.Claimed == nil {
		p.st.Claimed = make(map[string]reminderCursor)
	}
	if p.st.Unclaimed == nil {
		p.st.Unclaimed = make(map[string]reminderCursor)
	}
	seen := make(map[string]bool, len(planners))
	quiet := p.s.quiet(now)

	var errs []error
	for _, pl := range planners {
		id := pl.ChannelID
		seen[id] = true
		if quiet {
			p.st.Claimed[id] = reminderCursor{Next: p.st.Claimed[id].Next, End: now}
			p.st.Unclaimed[id] = reminderCursor{Next: p.st.Unclaimed[id].Next, End: now}
			continue
		}
		if err := p.remind(ctx, pl, now, logger); err != nil {
			errs = append(errs, fmt.Errorf("planner %s: %w", id, err))
		}
	}
	gone := func(id string, _ reminderCursor) bool { return !seen[id] }
	maps.DeleteFunc(p.st.Claimed, gone)
	maps.DeleteFunc(p.st.Unclaimed, gone)
	return errors.Join(errs...)
}

// remind sends one batch for the due windows of pl. The planner's cursors
// only move once the batch went out.
func (p *reminderPoller) remind(ctx context.Context, pl *storage.Planner, now time.Time, logger zerolog.Logger) error {
	id := pl.ChannelID
	claimed, unclaimed := p.st.Claimed[id], p.st.Unclaimed[id]
	windows := []struct {
		cur      *reminderCursor
		claim    planner.ClaimFilter
		interval time.Duration
	}{
		{&claimed, planner.ClaimClaimed, p.s.cfg.ReminderInterval},
		{&unclaimed, planner.ClaimUnclaimed, p.s.cfg.UnclaimedInterval},
	}

	var batch []planner.PlannedTile
	for _, w := range windows {
		if now.Before(w.cur.Next) {
			continue
		}
		from, to := laterOf(w.cur.End, now), now.Add(w.interval)
		if from.Before(to) {
			tiles, err := p.s.planners.Tiles(ctx, pl, planner.Query{ExpireFrom: from, ExpireTo: to, Claim: w.claim}, now)
			if err != nil {
				return err
			}
			batch = append(batch, tiles...)
		}
		*w.cur = reminderCursor{Next: now.Add(w.interval), End: laterOf(w.cur.End, to)}
	}

	if len(batch) > 0 {
		if err := p.s.planners.Notify(ctx, pl, planner.KindReminder, batch); err != nil {
			return err
		}
		logger.Info().Str("planner", id).Int("tiles", len(batch)).Msg("reminder sent")
	}
	p.st.Claimed[id], p.st.Unclaimed[id] = claimed, unclaimed
	return nil
}

// decayPoller pings about tiles that just expired. It only looks at planners
// whose cached earliest expiry has passed, and rebuilds the cache when a
// planner reports a change.
type decayPoller struct {
	s  *Scheduler
	st decayState

	mu    sync.Mutex
	dirty bool
}

func (p *decayPoller) name() string            { return "decay" }
func (p *decayPoller) interval() time.Duration { return p.s.cfg.DecayInterval }
func (p *decayPoller) state() any              { return &p.st }

func (p *decayPoller) markDirty() {
	p.mu.Lock()
	p.dirty = true
	p.mu.Unlock()
}

func (p *decayPoller) takeDirty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := p.dirty
	p.dirty = false
	return d
}

func (p *decayPoller) tick(ctx context.Context, now time.Time, logger zerolog.Logger) error {
	if p.st.Checked.IsZero() {
		p.st.Checked = now
	}
	if p.takeDirty() || p.st.Next == nil {
		if err := p.rebuild(ctx, p.st.Checked); err != nil {
			p.markDirty()
			return err
		}
	}

	due := make([]string, 0)
	for id, next := range p.st.Next {
		if next.Before(now) {
			due = append(due, id)
		}
	}
	if len(due) == 0 {
		p.st.Checked = now
		return nil
	}

	planners, err := p.s.planners.Planners(ctx, true)
	if err != nil {
		return fmt.Errorf("list planners: %w", err)
	}
	byID := make(map[string]*storage.Planner, len(planners))
	for _, pl := range planners {
		byID[pl.ChannelID] = pl
	}

	quiet := p.s.quiet(now)
	var errs []error
	for _, id := range due {
		pl, ok := byID[id]
		if !ok {
			delete(p.st.Next, id)
			continue
		}
		if err := p.sweep(ctx, pl, now, quiet, logger); err != nil {
			// Leave Next as is so the planner is retried next tick.
			errs = append(errs, fmt.Errorf("planner %s: %w", id, err))
		}
	}
	p.st.Checked = now
	return errors.Join(errs...)
}

// sweep alerts the tiles of pl that expired in [Next, now) and moves Next to
// the planner's next expiry.
func (p *decayPoller) sweep(ctx context.Context, pl *storage.Planner, now time.Time, quiet bool, logger zerolog.Logger) error {
	from := p.st.Next[pl.ChannelID]
	expired, err := p.s.planners.Tiles(ctx, pl, planner.Query{ExpireFrom: from, ExpireTo: now}, now)
	if err != nil {
		return err
	}
	if len(expired) > 0 && !quiet {
		if err := p.s.planners.Notify(ctx, pl, planner.KindDecay, expired); err != nil {
			return err
		}
		logger.Info().Str("planner", pl.ChannelID).Int("tiles", len(expired)).Msg("decay alert sent")
	}

	upcoming, err := p.s.planners.Tiles(ctx, pl, planner.Query{ExpireFrom: now}, now)
	if err != nil {
		return err
	}
	if len(upcoming) == 0 {
		delete(p.st.Next, pl.ChannelID)
	} else {
		p.st.Next[pl.ChannelID] = upcoming[0].ExpiresAt
	}
	return nil
}

func (p *decayPoller) rebuild(ctx context.Context, from time.Time) error {
	earliest, err := p.s.planners.EarliestExpiring(ctx, from)
	if err != nil && earliest == nil {
		return fmt.Errorf("earliest expiring: %w", err)
	}
	next := make(map[string]time.Time, len(earliest))
	for id, tiles := range earliest {
		next[id] = tiles[0].ExpiresAt
	}
	// Keep the old entry of a planner that failed to load so it is not
	// silently dropped.
	if err != nil {
		for id, t := range p.st.Next {
			if _, ok := next[id]; !ok {
				next[id] = t
			}
		}
	}
	p.st.Next = next
	return err
}

// refreshPoller re-syncs boards that were not refreshed for BoardMaxAge.
type refreshPoller struct {
	s  *Scheduler
	st refreshState
}

func (p *refreshPoller) name() string            { return "refresh" }
func (p *refreshPoller) interval() time.Duration { return p.s.cfg.RefreshInterval }
func (p *refreshPoller) state() any              { return &p.st }

func (p *refreshPoller) tick(ctx context.Context, now time.Time, logger zerolog.Logger) error {
	planners, err := p.s.planners.Planners(ctx, false)
	if err != nil {
		return fmt.Errorf("list planners: %w", err)
	}
	p.s.metrics.SetActivePlanners(countActive(planners))

	if p.st.Next == nil {
		p.st.Next = make(map[string]time.Time)
	}
	seen := make(map[string]bool, len(planners))
	maxAge := p.s.cfg.BoardMaxAge

	var errs []error
	for _, pl := range planners {
		id := pl.ChannelID
		seen[id] = true
		if next, ok := p.st.Next[id]; ok && now.Before(next) {
			continue
		}
		if last := p.s.planners.LastRefresh(id); !last.IsZero() && now.Sub(last) < maxAge {
			p.st.Next[id] = last.Add(maxAge)
			continue
		}
		if err := p.s.planners.RefreshBoard(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("planner %s: %w", id, err))
			continue
		}
		p.st.Next[id] = now.Add(maxAge)
		logger.Debug().Str("planner", id).Msg("stale board refreshed")
	}
	maps.DeleteFunc(p.st.Next, func(id string, _ time.Time) bool { return !seen[id] })
	return errors.Join(errs...)
}

func countActive(planners []*storage.Planner) int {
	n := 0
	for _, p := range planners {
		if p.IsActive {
			n++
		}
	}
	return n
}

// rolloverPoller re-evaluates the ticket role when an event day starts and
// takes it away from everyone when the event ends.
type rolloverPoller struct {
	s  *Scheduler
	st rolloverState
}

func (p *rolloverPoller) name() string            { return "rollover" }
func (p *rolloverPoller) interval() time.Duration { return p.s.cfg.RolloverInterval }
func (p *rolloverPoller) state() any              { return &p.st }

func (p *rolloverPoller) tick(ctx context.Context, now time.Time, logger zerolog.Logger) error {
	cal := p.s.planners.Calendar()
	cur := rolloverState{Event: cal.EventAt(now, calendar.BreakpointEventStart)}
	inEvent := cal.InEvent(now)
	if inEvent {
		cur.Day = cal.DayAt(now)
	}
	if cur == p.st {
		return nil
	}

	planners, err := p.s.planners.Planners(ctx, false)
	if err != nil {
		return fmt.Errorf("list planners: %w", err)
	}
	var errs []error
	for _, pl := range planners {
		if pl.TicketRoleID == "" {
			continue
		}
		if inEvent {
			err = p.s.planners.ReassignTicketRoles(ctx, pl, now)
		} else {
			err = p.s.planners.TeardownTicketRoles(ctx, pl)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("planner %s: %w", pl.ChannelID, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	logger.Info().Int("event", cur.Event).Int("day", cur.Day).Msg("day rollover")
	p.st = cur
	return nil
}
