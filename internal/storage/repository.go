package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint rejects a write.
	ErrConflict = errors.New("already exists")
	// ErrUnavailable marks transient database failures (busy, locked).
	ErrUnavailable = errors.New("store unavailable")
)

// Repository handles all database operations
type Repository struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewRepository opens (or creates) the SQLite database at dbPath and runs
// migrations.
func NewRepository(dbPath string, logger zerolog.Logger) (*Repository, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	repo := &Repository{db: db, logger: logger.With().Str("component", "storage").Logger()}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	repo.logger.Info().Str("path", dbPath).Msg("database ready")
	return repo, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping checks the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return classify(r.db.PingContext(ctx))
}

// migrate creates the database schema
func (r *Repository) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS planners (
			planner_channel TEXT PRIMARY KEY,
			guild_id TEXT NOT NULL,
			claims_channel TEXT,
			ping_channel TEXT,
			ping_role TEXT,
			ticket_role TEXT,
			clear_time INTEGER,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tracked_tiles (
			planner_channel TEXT NOT NULL,
			tile TEXT NOT NULL,
			expires_after_hr INTEGER NOT NULL DEFAULT 24,
			registered_at INTEGER NOT NULL,
			PRIMARY KEY (planner_channel, tile),
			FOREIGN KEY (planner_channel) REFERENCES planners(planner_channel) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS captures (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			channel TEXT NOT NULL,
			tile TEXT NOT NULL,
			user_id TEXT NOT NULL,
			message_id TEXT NOT NULL UNIQUE,
			claimed_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS claim_overrides (
			planner_channel TEXT NOT NULL,
			tile TEXT NOT NULL,
			user_id TEXT NOT NULL,
			claimed_at INTEGER NOT NULL,
			PRIMARY KEY (planner_channel, tile),
			FOREIGN KEY (planner_channel) REFERENCES planners(planner_channel) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS scheduler_state (
			name TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			saved_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_captures_channel_tile ON captures(channel, tile, claimed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_planners_claims ON planners(claims_channel)`,
		`CREATE INDEX IF NOT EXISTS idx_claim_overrides_user ON claim_overrides(planner_channel, user_id)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// classify maps driver errors onto the package's sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch sqliteErr.Code() & 0xff {
	case sqlite3.SQLITE_CONSTRAINT:
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
