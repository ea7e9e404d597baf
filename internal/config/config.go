package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/flor3z/ct-planner-bot/internal/planner"
	"github.com/flor3z/ct-planner-bot/internal/scheduler"
)

// Config holds all configuration values for the bot
type Config struct {
	// Discord
	DiscordToken         string `envconfig:"DISCORD_BOT_TOKEN"`
	DiscordApplicationID string `envconfig:"DISCORD_APPLICATION_ID"`
	DiscordGuildID       string `envconfig:"DISCORD_GUILD_ID"` // register commands in one guild only

	// General
	Environment string `envconfig:"ENVIRONMENT" default:"production"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8081"`

	// Storage
	DatabasePath string `envconfig:"DATABASE_PATH" default:"./data/bot.db"`
	CalendarPath string `envconfig:"CALENDAR_PATH"`
	StateBackend string `envconfig:"STATE_BACKEND" default:"sqlite"`
	StatePath    string `envconfig:"STATE_PATH" default:"./data/state"`

	// Game data
	NinjaKiwiBaseURL string `envconfig:"NINJAKIWI_BASE_URL" default:"https://data.ninjakiwi.com"`

	// Scheduler
	ReminderInterval  time.Duration `envconfig:"REMINDER_INTERVAL" default:"30m"`
	UnclaimedInterval time.Duration `envconfig:"UNCLAIMED_INTERVAL" default:"2h"`
	DecayInterval     time.Duration `envconfig:"DECAY_INTERVAL" default:"10s"`
	RefreshInterval   time.Duration `envconfig:"REFRESH_INTERVAL" default:"1m"`
	BoardMaxAge       time.Duration `envconfig:"BOARD_MAX_AGE" default:"1h"`
	RolloverInterval  time.Duration `envconfig:"ROLLOVER_INTERVAL" default:"1m"`
	QuietHours        time.Duration `envconfig:"QUIET_HOURS" default:"4h"`

	// Planner
	BoardTolerance int `envconfig:"BOARD_TOLERANCE" default:"0"`
	BoardHistory   int `envconfig:"BOARD_HISTORY" default:"25"`
	ClaimLimit     int `envconfig:"CLAIM_LIMIT" default:"4"`
	DailyTickets   int `envconfig:"DAILY_TICKETS" default:"4"`
}

// Load reads configuration from a .env file, if present, and the environment
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads configuration from the environment only.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.DiscordToken == "" {
		errs = append(errs, errors.New("DISCORD_BOT_TOKEN is required"))
	}
	switch c.StateBackend {
	case "sqlite", "file":
	default:
		errs = append(errs, fmt.Errorf("STATE_BACKEND must be sqlite or file, got %q", c.StateBackend))
	}
	for name, d := range map[string]time.Duration{
		"REMINDER_INTERVAL":  c.ReminderInterval,
		"UNCLAIMED_INTERVAL": c.UnclaimedInterval,
		"DECAY_INTERVAL":     c.DecayInterval,
		"REFRESH_INTERVAL":   c.RefreshInterval,
		"BOARD_MAX_AGE":      c.BoardMaxAge,
		"ROLLOVER_INTERVAL":  c.RolloverInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.QuietHours < 0 {
		errs = append(errs, errors.New("QUIET_HOURS must not be negative"))
	}
	if c.BoardTolerance < 0 {
		errs = append(errs, errors.New("BOARD_TOLERANCE must not be negative"))
	}
	if c.BoardHistory <= 0 {
		errs = append(errs, errors.New("BOARD_HISTORY must be positive"))
	}
	if c.ClaimLimit <= 0 || c.DailyTickets <= 0 {
		errs = append(errs, errors.New("CLAIM_LIMIT and DAILY_TICKETS must be positive"))
	}
	return errors.Join(errs...)
}

// IsDevelopment reports whether console logging should be used.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// Planner returns the planner engine options.
func (c *Config) Planner() planner.Options {
	return planner.Options{
		ClaimLimit:   c.ClaimLimit,
		DailyTickets: c.DailyTickets,
		Tolerance:    c.BoardTolerance,
		History:      c.BoardHistory,
	}
}

// Scheduler returns the poller cadences.
func (c *Config) Scheduler() scheduler.Config {
	return scheduler.Config{
		ReminderInterval:  c.ReminderInterval,
		UnclaimedInterval: c.UnclaimedInterval,
		DecayInterval:     c.DecayInterval,
		RefreshInterval:   c.RefreshInterval,
		BoardMaxAge:       c.BoardMaxAge,
		RolloverInterval:  c.RolloverInterval,
		QuietHours:        c.QuietHours,
	}
}
