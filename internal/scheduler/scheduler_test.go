package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flor3z/ct-planner-bot/internal/calendar"
	"github.com/flor3z/ct-planner-bot/internal/capture"
	"github.com/flor3z/ct-planner-bot/internal/chat/chattest"
	"github.com/flor3z/ct-planner-bot/internal/planner"
	"github.com/flor3z/ct-planner-bot/internal/storage"
)

const (
	plannerCh = "planner"
	claimsCh  = "claims"
	pingCh    = "ping"
	guild     = "guild"
)

// t0 is on day 1 of event 55, which ends 2024-09-24 22:00 UTC.
var (
	t0       = time.Date(2024, 9, 18, 12, 0, 0, 0, time.UTC)
	eventEnd = time.Date(2024, 9, 24, 22, 0, 0, 0, time.UTC)
)

type harness struct {
	sched *Scheduler
	svc   *planner.Service
	repo  *storage.Repository
	fake  *chattest.Fake
	store StateStore
	msg   int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo, err := storage.NewRepository(filepath.Join(t.TempDir(), "bot.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	fake := chattest.New()
	svc := planner.New(repo, calendar.Default(), fake, planner.DefaultOptions(), nil, zerolog.Nop())
	require.NoError(t, repo.CreatePlanner(context.Background(), &storage.Planner{
		ChannelID:       plannerCh,
		GuildID:         guild,
		ClaimsChannelID: claimsCh,
		PingChannelID:   pingCh,
		IsActive:        true,
	}))

	store := SQLStateStore{Repo: repo}
	return &harness{
		sched: New(svc, store, DefaultConfig(), nil, zerolog.Nop()),
		svc:   svc,
		repo:  repo,
		fake:  fake,
		store: store,
	}
}

func (h *harness) track(t *testing.T, hours int, codes ...string) {
	t.Helper()
	for _, c := range codes {
		require.NoError(t, h.repo.UpsertTrackedTile(context.Background(), storage.TrackedTile{
			PlannerChannelID: plannerCh, TileCode: c, ExpiresAfterHours: hours,
		}))
	}
}

func (h *harness) capture(t *testing.T, code, user string, at time.Time) {
	t.Helper()
	h.msg++
	require.NoError(t, h.repo.InsertCapture(context.Background(), &storage.Capture{
		ChannelID: claimsCh, TileCode: code, UserID: user,
		MessageID: fmt.Sprintf("report-%d", h.msg), ClaimedAt: at,
	}))
}

func (h *harness) claim(t *testing.T, code, user string) {
	t.Helper()
	require.NoError(t, h.repo.InsertClaimOverride(context.Background(), storage.ClaimOverride{
		PlannerChannelID: plannerCh, TileCode: code, UserID: user, ClaimedAt: t0,
	}))
}

func (h *harness) tick(p poller, at time.Time) {
	h.sched.now = func() time.Time { return at }
	h.sched.runTick(context.Background(), p)
}

func (h *harness) pings() []string {
	var out []string
	for _, m := range h.fake.Messages(pingCh) {
		out = append(out, m.Content)
	}
	return out
}

func TestDecay_AlertsOncePastExpiry(t *testing.T) {
	h := newHarness(t)
	h.track(t, 24, "AAA")
	h.capture(t, "AAA", "u1", t0)
	h.claim(t, "AAA", "u2")

	h.tick(h.sched.decay, t0.Add(23*time.Hour+59*time.Minute))
	assert.Empty(t, h.pings())

	h.tick(h.sched.decay, t0.Add(24*time.Hour+time.Minute))
	assert.Equal(t, []string{"<@u2> `AAA` has expired! Time to recapture."}, h.pings())

	h.tick(h.sched.decay, t0.Add(24*time.Hour+2*time.Minute))
	assert.Len(t, h.pings(), 1)
}

func TestDecay_ChangeRebuildsCache(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.track(t, 24, "AAA")

	h.tick(h.sched.decay, t0)
	assert.Empty(t, h.sched.decay.st.Next)

	h.capture(t, "AAA", "u1", t0.Add(time.Minute))
	h.svc.OnCaptureRegistered(ctx, capture.Event{TileCode: "AAA", ClaimsChannelID: claimsCh, UserID: "u1"})

	h.tick(h.sched.decay, t0.Add(2*time.Minute))
	assert.True(t, h.sched.decay.st.Next[plannerCh].Equal(t0.Add(24*time.Hour+time.Minute)))

	h.tick(h.sched.decay, t0.Add(25*time.Hour))
	require.Len(t, h.pings(), 1)
	assert.Contains(t, h.pings()[0], "@here `AAA` has expired!")
}

func TestDecay_StateSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.track(t, 24, "AAA")
	h.capture(t, "AAA", "u1", t0)

	h.tick(h.sched.decay, t0.Add(time.Hour))
	h.tick(h.sched.decay, t0.Add(24*time.Hour+time.Minute))
	require.Len(t, h.pings(), 1)

	restarted := New(h.svc, h.store, DefaultConfig(), nil, zerolog.Nop())
	require.NoError(t, loadState(ctx, h.store, "decay", restarted.decay.state()))
	assert.True(t, restarted.decay.st.Checked.Equal(t0.Add(24*time.Hour+time.Minute)))

	h.sched = restarted
	h.tick(restarted.decay, t0.Add(24*time.Hour+2*time.Minute))
	assert.Len(t, h.pings(), 1, "the delivered alert is not replayed")
}

func TestDecay_SilentDuringQuietHours(t *testing.T) {
	h := newHarness(t)
	h.track(t, 1, "AAA")
	h.capture(t, "AAA", "u1", eventEnd.Add(-3*time.Hour))

	h.tick(h.sched.decay, eventEnd.Add(-3*time.Hour))
	h.tick(h.sched.decay, eventEnd.Add(-90*time.Minute))
	assert.Empty(t, h.pings())
	assert.NotContains(t, h.sched.decay.st.Next, plannerCh)
}

func TestReminder_Windows(t *testing.T) {
	h := newHarness(t)
	h.track(t, 1, "AAA", "DDD")
	h.track(t, 2, "BBB")
	h.track(t, 24, "CCC")

	h.capture(t, "AAA", "u1", t0.Add(-40*time.Minute)) // expires t0+20m
	h.claim(t, "AAA", "u1")
	h.capture(t, "DDD", "u2", t0.Add(-5*time.Minute)) // expires t0+55m
	h.claim(t, "DDD", "u1")
	h.capture(t, "BBB", "u2", t0.Add(-30*time.Minute)) // expires t0+1h30m
	h.capture(t, "CCC", "u2", t0.Add(-time.Hour))      // expires t0+23h

	h.tick(h.sched.reminder, t0)
	pings := h.pings()
	require.Len(t, pings, 1, "one batch per planner")
	assert.Equal(t, fmt.Sprintf("<@u1> `AAA` expires <t:%d:R>.\n@here `BBB` expires <t:%d:R>. Nobody claimed it yet!",
		t0.Add(20*time.Minute).Unix(), t0.Add(90*time.Minute).Unix()), pings[0])

	h.tick(h.sched.reminder, t0.Add(time.Minute))
	assert.Len(t, h.pings(), 1, "neither window is due")

	h.tick(h.sched.reminder, t0.Add(30*time.Minute))
	pings = h.pings()
	require.Len(t, pings, 2)
	assert.Equal(t, fmt.Sprintf("<@u1> `DDD` expires <t:%d:R>.", t0.Add(55*time.Minute).Unix()), pings[1])

	h.tick(h.sched.reminder, t0.Add(2*time.Hour))
	assert.Len(t, h.pings(), 2, "BBB was already announced and has expired")
}

func TestReminder_QuietBeforeEventEnd(t *testing.T) {
	h := newHarness(t)
	h.track(t, 1, "AAA")
	h.capture(t, "AAA", "u1", eventEnd.Add(-3*time.Hour-30*time.Minute))

	h.tick(h.sched.reminder, eventEnd.Add(-3*time.Hour))
	assert.Empty(t, h.pings())
}

// failingPlanners fails the next Tiles calls of chosen planners.
type failingPlanners struct {
	*planner.Service
	fail map[string]int
}

func (f *failingPlanners) Tiles(ctx context.Context, p *storage.Planner, q planner.Query, now time.Time) ([]planner.PlannedTile, error) {
	if f.fail[p.ChannelID] > 0 {
		f.fail[p.ChannelID]--
		return nil, storage.ErrUnavailable
	}
	return f.Service.Tiles(ctx, p, q, now)
}

func TestReminder_RetriesFailedPlannerOnly(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.repo.CreatePlanner(ctx, &storage.Planner{
		ChannelID:       "planner2",
		GuildID:         guild,
		ClaimsChannelID: claimsCh,
		PingChannelID:   "ping2",
		IsActive:        true,
	}))
	h.track(t, 1, "AAA")
	require.NoError(t, h.repo.UpsertTrackedTile(ctx, storage.TrackedTile{
		PlannerChannelID: "planner2", TileCode: "AAA", ExpiresAfterHours: 1,
	}))
	h.capture(t, "AAA", "u1", t0.Add(-40*time.Minute)) // expires t0+20m
	h.claim(t, "AAA", "u1")
	require.NoError(t, h.repo.InsertClaimOverride(ctx, storage.ClaimOverride{
		PlannerChannelID: "planner2", TileCode: "AAA", UserID: "u2", ClaimedAt: t0,
	}))

	h.sched = New(&failingPlanners{Service: h.svc, fail: map[string]int{plannerCh: 1}}, h.store, DefaultConfig(), nil, zerolog.Nop())

	h.tick(h.sched.reminder, t0)
	assert.Empty(t, h.pings())
	require.Len(t, h.fake.Messages("ping2"), 1)

	h.tick(h.sched.reminder, t0.Add(time.Minute))
	assert.Equal(t, []string{fmt.Sprintf("<@u1> `AAA` expires <t:%d:R>.", t0.Add(20*time.Minute).Unix())}, h.pings())
	assert.Len(t, h.fake.Messages("ping2"), 1, "the healthy planner is not reminded twice")

	h.tick(h.sched.reminder, t0.Add(2*time.Minute))
	assert.Len(t, h.pings(), 1)
}

func TestRefresh_StaleBoards(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	now := time.Now()

	h.tick(h.sched.refresh, now)
	require.NotEmpty(t, h.fake.Messages(plannerCh))
	assert.True(t, h.sched.refresh.st.Next[plannerCh].Equal(now.Add(time.Hour)))

	h.fake.ResetCounters()
	h.tick(h.sched.refresh, now.Add(time.Minute))
	sends, edits, deletes := h.fake.Counts()
	assert.Zero(t, sends+edits+deletes)

	later := now.Add(2 * time.Hour)
	h.tick(h.sched.refresh, later)
	assert.True(t, h.sched.refresh.st.Next[plannerCh].Equal(later.Add(time.Hour)))

	require.NoError(t, h.svc.RemovePlanner(ctx, plannerCh))
	h.tick(h.sched.refresh, later.Add(time.Minute))
	assert.NotContains(t, h.sched.refresh.st.Next, plannerCh)
}

func TestRollover_ReassignsThenTearsDown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	tickets := "tickets"
	require.NoError(t, h.repo.UpdatePlannerConfig(ctx, plannerCh, storage.PlannerConfig{TicketRoleID: &tickets}))
	h.track(t, 24, "AAA")
	h.capture(t, "AAA", "u1", t0.Add(-time.Hour))

	h.tick(h.sched.rollover, t0)
	assert.True(t, h.fake.Roles(guild, "u1", tickets))
	assert.Equal(t, rolloverState{Event: 55, Day: 1}, h.sched.rollover.st)

	require.NoError(t, h.fake.RemoveRole(ctx, guild, "u1", tickets))
	h.tick(h.sched.rollover, t0.Add(time.Minute))
	assert.False(t, h.fake.Roles(guild, "u1", tickets), "same day, nothing to do")

	h.tick(h.sched.rollover, t0.Add(12*time.Hour))
	assert.Equal(t, rolloverState{Event: 55, Day: 2}, h.sched.rollover.st)
	assert.True(t, h.fake.Roles(guild, "u1", tickets))

	h.tick(h.sched.rollover, eventEnd.Add(time.Hour))
	assert.Equal(t, rolloverState{Event: 55, Day: 0}, h.sched.rollover.st)
	assert.False(t, h.fake.Roles(guild, "u1", tickets))
}

func TestFileStateStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStateStore(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)

	data, err := store.Load(ctx, "decay")
	require.NoError(t, err)
	assert.Nil(t, data)

	in := rolloverState{Event: 55, Day: 3}
	require.NoError(t, saveState(ctx, store, "rollover", in))
	var out rolloverState
	require.NoError(t, loadState(ctx, store, "rollover", &out))
	assert.Equal(t, in, out)
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.sched.Run(ctx) }()

	require.Eventually(t, func() bool {
		data, err := h.store.Load(context.Background(), "rollover")
		return err == nil && data != nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
