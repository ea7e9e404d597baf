package storage

import (
	"context"
	"time"
)

// LoadState returns a named blob of scheduler state and when it was saved.
// Returns ErrNotFound if nothing was saved under that name.
func (r *Repository) LoadState(ctx context.Context, name string) ([]byte, time.Time, error) {
	var (
		data    string
		savedAt int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT data, saved_at FROM scheduler_state WHERE name = ?`, name,
	).Scan(&data, &savedAt)
	if err != nil {
		return nil, time.Time{}, classify(err)
	}
	return []byte(data), fromMillis(savedAt), nil
}

// SaveState replaces a named blob of scheduler state.
func (r *Repository) SaveState(ctx context.Context, name string, data []byte) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO scheduler_state (name, data, saved_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET data = excluded.data, saved_at = excluded.saved_at`,
		name, string(data), toMillis(time.Now()),
	)
	return classify(err)
}
