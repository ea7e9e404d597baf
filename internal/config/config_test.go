package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "token")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, "./data/bot.db", cfg.DatabasePath)
	assert.Equal(t, "sqlite", cfg.StateBackend)
	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, 30*time.Minute, cfg.ReminderInterval)
	assert.Equal(t, 2*time.Hour, cfg.UnclaimedInterval)
	assert.Equal(t, 10*time.Second, cfg.DecayInterval)
	assert.Equal(t, 4*time.Hour, cfg.QuietHours)

	opts := cfg.Planner()
	assert.Equal(t, 4, opts.ClaimLimit)
	assert.Equal(t, 4, opts.DailyTickets)
	assert.Equal(t, 0, opts.Tolerance)
	assert.Equal(t, 25, opts.History)

	assert.Equal(t, time.Hour, cfg.Scheduler().BoardMaxAge)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "token")
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("DECAY_INTERVAL", "30s")
	t.Setenv("BOARD_TOLERANCE", "2")
	t.Setenv("STATE_BACKEND", "file")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 30*time.Second, cfg.DecayInterval)
	assert.Equal(t, 2, cfg.BoardTolerance)
	assert.Equal(t, "file", cfg.StateBackend)
}

func TestFromEnv_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"missing token":      {"DISCORD_BOT_TOKEN": ""},
		"zero interval":      {"DECAY_INTERVAL": "0s"},
		"negative tolerance": {"BOARD_TOLERANCE": "-1"},
		"unknown backend":    {"STATE_BACKEND": "redis"},
		"bad duration":       {"BOARD_MAX_AGE": "soon"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("DISCORD_BOT_TOKEN", "token")
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}
