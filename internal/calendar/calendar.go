// Package calendar maps wall-clock time to Contested Territory event numbers,
// event periods and in-event day numbers.
//
// Events run for a fixed number of days and are followed by an off week of
// the same length. The cadence changed a few times historically; each change
// is recorded as an Epoch.
package calendar

import (
	"fmt"
	"math"
	"time"
)

const (
	// DefaultEventDays is the length of an event.
	DefaultEventDays = 7

	day = 24 * time.Hour
)

// Epoch marks the point where event EventNumber started under a new cadence.
type Epoch struct {
	Event int
	Start time.Time
}

// Breakpoint selects which event the off week between two events belongs to.
type Breakpoint int

const (
	// BreakpointEventStart counts the off week as the tail of the previous
	// event: the event number only advances when the next event starts.
	BreakpointEventStart Breakpoint = iota
	// BreakpointEventEnd counts the off week as the head of the next event:
	// the event number advances as soon as the current event ends.
	BreakpointEventEnd
)

// Calendar resolves event numbers against an immutable epoch table.
type Calendar struct {
	epochs   []Epoch
	duration time.Duration
}

// builtinEpochs mirrors the live game's history of cadence changes.
var builtinEpochs = []Epoch{
	{Event: 0, Start: time.Unix(0, 0).UTC()},
	{Event: 1, Start: time.Unix(1660078800, 0).UTC()},
	{Event: 26, Start: time.Unix(1690927200, 0).UTC()},
	{Event: 36, Start: time.Unix(1703023200, 0).UTC()},
	{Event: 44, Start: time.Unix(1712700000, 0).UTC()},
	{Event: 52, Start: time.Unix(1722981600, 0).UTC()},
}

// New builds a Calendar. Epochs must be strictly increasing in both the event
// number and the start time.
func New(epochs []Epoch, eventDays int) (*Calendar, error) {
	if len(epochs) == 0 {
		return nil, fmt.Errorf("calendar needs at least one epoch")
	}
	if eventDays <= 0 {
		return nil, fmt.Errorf("event length must be positive, got %d days", eventDays)
	}
	for i := 1; i < len(epochs); i++ {
		prev, cur := epochs[i-1], epochs[i]
		if cur.Event <= prev.Event || !cur.Start.After(prev.Start) {
			return nil, fmt.Errorf("epoch %d (event %d) is not after epoch %d (event %d)", i, cur.Event, i-1, prev.Event)
		}
	}

	cp := make([]Epoch, len(epochs))
	copy(cp, epochs)
	return &Calendar{epochs: cp, duration: time.Duration(eventDays) * day}, nil
}

// Default returns the calendar built from the builtin epoch table.
func Default() *Calendar {
	c, err := New(builtinEpochs, DefaultEventDays)
	if err != nil {
		panic(err)
	}
	return c
}

// EventDuration returns how long a single event lasts.
func (c *Calendar) EventDuration() time.Duration {
	return c.duration
}

// EventAt returns the event number at t under the given breakpoint rule.
// Times before the first epoch clamp to the first epoch's event.
func (c *Calendar) EventAt(t time.Time, bp Breakpoint) int {
	i := 0
	for i+1 < len(c.epochs) && !t.Before(c.epochs[i+1].Start) {
		i++
	}
	base := c.epochs[i]

	start := base.Start
	if bp == BreakpointEventEnd {
		start = start.Add(c.duration)
	}

	nextEvent := math.MaxInt
	if i+1 < len(c.epochs) {
		nextEvent = c.epochs[i+1].Event
	}

	n := base.Event + int(floorDiv(t.Sub(start), 2*c.duration))
	if n > nextEvent-1 {
		n = nextEvent - 1
	}
	if bp == BreakpointEventEnd {
		n++
	}
	if n < c.epochs[0].Event {
		n = c.epochs[0].Event
	}
	return n
}

// Period returns the start and end of the given event. Event numbers outside
// the table clamp to the nearest defined epoch.
func (c *Calendar) Period(event int) (start, end time.Time) {
	if event < c.epochs[0].Event {
		event = c.epochs[0].Event
	}
	i := 0
	for i+1 < len(c.epochs) && event >= c.epochs[i+1].Event {
		i++
	}
	base := c.epochs[i]

	start = base.Start.Add(time.Duration(event-base.Event) * 2 * c.duration)
	return start, start.Add(c.duration)
}

// PeriodAt returns the period of the event t belongs to, counting the off
// week as part of the previous event.
func (c *Calendar) PeriodAt(t time.Time) (start, end time.Time) {
	return c.Period(c.EventAt(t, BreakpointEventStart))
}

// DayAt returns the 1-based day of the event t belongs to. Days past the
// event's length fall in the off week.
func (c *Calendar) DayAt(t time.Time) int {
	start, _ := c.PeriodAt(t)
	return 1 + int(floorDiv(t.Sub(start), day))
}

// DayBounds returns the start and end of the given in-event day of the event
// t belongs to.
func (c *Calendar) DayBounds(t time.Time) (start, end time.Time) {
	periodStart, _ := c.PeriodAt(t)
	start = periodStart.Add(time.Duration(c.DayAt(t)-1) * day)
	return start, start.Add(day)
}

// InEvent reports whether t falls within an event rather than an off week.
func (c *Calendar) InEvent(t time.Time) bool {
	start, end := c.PeriodAt(t)
	return !t.Before(start) && t.Before(end)
}

func floorDiv(d, unit time.Duration) int64 {
	q := int64(d / unit)
	if d%unit != 0 && d < 0 {
		q--
	}
	return q
}
