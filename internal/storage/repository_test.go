package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "bot.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestPlanner_CreateGetDelete(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.CreatePlanner(ctx, &Planner{ChannelID: "100", GuildID: "1", IsActive: true}))
	err := repo.CreatePlanner(ctx, &Planner{ChannelID: "100", GuildID: "1"})
	assert.ErrorIs(t, err, ErrConflict)

	p, err := repo.GetPlanner(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "1", p.GuildID)
	assert.True(t, p.IsActive)
	assert.Empty(t, p.PingChannelID)
	assert.Nil(t, p.ClearTime)

	require.NoError(t, repo.UpsertTrackedTile(ctx, TrackedTile{PlannerChannelID: "100", TileCode: "AAA"}))
	require.NoError(t, repo.InsertClaimOverride(ctx, ClaimOverride{PlannerChannelID: "100", TileCode: "AAA", UserID: "u1"}))

	require.NoError(t, repo.DeletePlanner(ctx, "100"))
	_, err = repo.GetPlanner(ctx, "100")
	assert.ErrorIs(t, err, ErrNotFound)

	tiles, err := repo.ListTrackedTiles(ctx, "100")
	require.NoError(t, err)
	assert.Empty(t, tiles)
	claims, err := repo.ListClaimOverrides(ctx, "100")
	require.NoError(t, err)
	assert.Empty(t, claims)
}

func TestPlanner_ConfigUpdates(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	require.NoError(t, repo.CreatePlanner(ctx, &Planner{ChannelID: "100", GuildID: "1", IsActive: true}))

	ping, role := "200", "300"
	require.NoError(t, repo.UpdatePlannerConfig(ctx, "100", PlannerConfig{PingChannelID: &ping, PingRoleID: &role}))

	p, err := repo.GetPlanner(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "200", p.PingChannelID)
	assert.Equal(t, "300", p.PingRoleID)

	empty := ""
	require.NoError(t, repo.UpdatePlannerConfig(ctx, "100", PlannerConfig{PingChannelID: &empty}))
	p, err = repo.GetPlanner(ctx, "100")
	require.NoError(t, err)
	assert.Empty(t, p.PingChannelID)
	assert.Equal(t, "300", p.PingRoleID)

	clear := time.Date(2024, 9, 18, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SetClearTime(ctx, "100", clear))
	require.NoError(t, repo.SetActive(ctx, "100", false))
	p, err = repo.GetPlanner(ctx, "100")
	require.NoError(t, err)
	require.NotNil(t, p.ClearTime)
	assert.True(t, clear.Equal(*p.ClearTime))
	assert.False(t, p.IsActive)

	active, err := repo.ListPlanners(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	assert.ErrorIs(t, repo.SetActive(ctx, "missing", true), ErrNotFound)
}

func TestTrackedTiles_Overwrite(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	require.NoError(t, repo.CreatePlanner(ctx, &Planner{ChannelID: "100", GuildID: "1"}))

	require.NoError(t, repo.UpsertTrackedTile(ctx, TrackedTile{PlannerChannelID: "100", TileCode: "AAA"}))
	require.NoError(t, repo.UpsertTrackedTile(ctx, TrackedTile{PlannerChannelID: "100", TileCode: "AAA", ExpiresAfterHours: 12}))

	tiles, err := repo.ListTrackedTiles(ctx, "100")
	require.NoError(t, err)
	require.Len(t, tiles, 1)
	assert.Equal(t, 12, tiles[0].ExpiresAfterHours)

	require.NoError(t, repo.OverwriteTrackedTiles(ctx, "100", []TrackedTile{
		{TileCode: "BBB"},
		{TileCode: "CCC", ExpiresAfterHours: 48},
	}))
	tiles, err = repo.ListTrackedTiles(ctx, "100")
	require.NoError(t, err)
	require.Len(t, tiles, 2)
	assert.Equal(t, "BBB", tiles[0].TileCode)
	assert.Equal(t, DefaultExpiresAfterHours, tiles[0].ExpiresAfterHours)
	assert.Equal(t, 48, tiles[1].ExpiresAfterHours)

	assert.ErrorIs(t, repo.RemoveTrackedTile(ctx, "100", "AAA"), ErrNotFound)
	require.NoError(t, repo.RemoveTrackedTile(ctx, "100", "BBB"))
}

func TestTrackedTiles_OverwriteIsAtomic(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	require.NoError(t, repo.CreatePlanner(ctx, &Planner{ChannelID: "100", GuildID: "1"}))
	require.NoError(t, repo.UpsertTrackedTile(ctx, TrackedTile{PlannerChannelID: "100", TileCode: "AAA"}))

	// Duplicate codes violate the primary key halfway through the insert.
	err := repo.OverwriteTrackedTiles(ctx, "100", []TrackedTile{{TileCode: "BBB"}, {TileCode: "BBB"}})
	assert.ErrorIs(t, err, ErrConflict)

	tiles, err := repo.ListTrackedTiles(ctx, "100")
	require.NoError(t, err)
	require.Len(t, tiles, 1)
	assert.Equal(t, "AAA", tiles[0].TileCode)
}

func TestCaptures_LatestAndMove(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	t0 := time.Date(2024, 9, 18, 12, 0, 0, 0, time.UTC)

	for i, c := range []Capture{
		{ChannelID: "c", TileCode: "AAA", UserID: "u1", MessageID: "m1", ClaimedAt: t0},
		{ChannelID: "c", TileCode: "AAA", UserID: "u2", MessageID: "m2", ClaimedAt: t0.Add(time.Hour)},
		{ChannelID: "c", TileCode: "BBB", UserID: "u1", MessageID: "m3", ClaimedAt: t0.Add(-48 * time.Hour)},
		{ChannelID: "other", TileCode: "AAA", UserID: "u3", MessageID: "m4", ClaimedAt: t0.Add(2 * time.Hour)},
	} {
		c := c
		require.NoError(t, repo.InsertCapture(ctx, &c), "capture %d", i)
	}
	err := repo.InsertCapture(ctx, &Capture{ChannelID: "c", TileCode: "AAA", UserID: "u1", MessageID: "m1"})
	assert.ErrorIs(t, err, ErrConflict)

	latest, err := repo.LatestCaptures(ctx, "c", t0.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "u2", latest["AAA"].UserID)
	assert.True(t, t0.Add(time.Hour).Equal(latest["AAA"].ClaimedAt))

	moved, err := repo.MoveLatestCapture(ctx, "c", "AAA", t0.Add(3*time.Hour), t0)
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = repo.MoveLatestCapture(ctx, "c", "BBB", t0, t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, moved, "capture older than the floor must not move")

	removed, err := repo.DeleteCaptureByMessage(ctx, "m2")
	require.NoError(t, err)
	assert.Equal(t, "AAA", removed.TileCode)
	assert.True(t, t0.Add(3*time.Hour).Equal(removed.ClaimedAt))

	_, err = repo.DeleteCaptureByMessage(ctx, "m2")
	assert.ErrorIs(t, err, ErrNotFound)

	today, err := repo.ListCaptures(ctx, CaptureFilter{ChannelID: "c", UserID: "u1", From: t0, To: t0.Add(24 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, today, 1)
	assert.Equal(t, "m1", today[0].MessageID)
}

func TestClaimOverrides(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	require.NoError(t, repo.CreatePlanner(ctx, &Planner{ChannelID: "100", GuildID: "1"}))
	t0 := time.Date(2024, 9, 18, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.InsertClaimOverride(ctx, ClaimOverride{PlannerChannelID: "100", TileCode: "AAA", UserID: "u1", ClaimedAt: t0}))
	err := repo.InsertClaimOverride(ctx, ClaimOverride{PlannerChannelID: "100", TileCode: "AAA", UserID: "u2", ClaimedAt: t0})
	assert.ErrorIs(t, err, ErrConflict)

	claims, err := repo.ListClaimOverrides(ctx, "100")
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, "u1", claims[0].UserID)

	n, err := repo.CountClaimsBy(ctx, "100", "u1", t0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = repo.CountClaimsBy(ctx, "100", "u1", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, repo.DeleteClaimOverride(ctx, "100", "AAA"))
	require.NoError(t, repo.DeleteClaimOverride(ctx, "100", "AAA"))
}

func TestSchedulerState(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	_, _, err := repo.LoadState(ctx, "reminder")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.SaveState(ctx, "reminder", []byte(`{"a":1}`)))
	require.NoError(t, repo.SaveState(ctx, "reminder", []byte(`{"a":2}`)))

	data, savedAt, err := repo.LoadState(ctx, "reminder")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2}`, string(data))
	assert.False(t, savedAt.IsZero())
}
