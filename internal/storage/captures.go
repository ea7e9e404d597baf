package storage

import (
	"context"
	"strings"
	"time"
)

// InsertCapture logs a capture. A message can only back one capture; logging
// it twice returns ErrConflict.
func (r *Repository) InsertCapture(ctx context.Context, c *Capture) error {
	if c.ClaimedAt.IsZero() {
		c.ClaimedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO captures (channel, tile, user_id, message_id, claimed_at) VALUES (?, ?, ?, ?, ?)`,
		c.ChannelID, c.TileCode, c.UserID, c.MessageID, toMillis(c.ClaimedAt),
	)
	if err != nil {
		return classify(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = id
	return nil
}

// DeleteCaptureByMessage withdraws the capture backed by a message and
// returns it.
func (r *Repository) DeleteCaptureByMessage(ctx context.Context, messageID string) (*Capture, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(err)
	}
	defer tx.Rollback()

	var (
		c         Capture
		claimedAt int64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, channel, tile, user_id, message_id, claimed_at FROM captures WHERE message_id = ?`,
		messageID,
	).Scan(&c.ID, &c.ChannelID, &c.TileCode, &c.UserID, &c.MessageID, &claimedAt)
	if err != nil {
		return nil, classify(err)
	}
	c.ClaimedAt = fromMillis(claimedAt)

	if _, err := tx.ExecContext(ctx, `DELETE FROM captures WHERE id = ?`, c.ID); err != nil {
		return nil, classify(err)
	}
	return &c, classify(tx.Commit())
}

// ListCaptures returns captures matching the filter, oldest first.
func (r *Repository) ListCaptures(ctx context.Context, f CaptureFilter) ([]Capture, error) {
	var (
		where []string
		args  []any
	)
	if f.ChannelID != "" {
		where = append(where, "channel = ?")
		args = append(args, f.ChannelID)
	}
	if f.TileCode != "" {
		where = append(where, "tile = ?")
		args = append(args, f.TileCode)
	}
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if !f.From.IsZero() {
		where = append(where, "claimed_at >= ?")
		args = append(args, toMillis(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "claimed_at < ?")
		args = append(args, toMillis(f.To))
	}

	q := `SELECT id, channel, tile, user_id, message_id, claimed_at FROM captures`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY claimed_at, id"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var captures []Capture
	for rows.Next() {
		var (
			c         Capture
			claimedAt int64
		)
		if err := rows.Scan(&c.ID, &c.ChannelID, &c.TileCode, &c.UserID, &c.MessageID, &claimedAt); err != nil {
			return nil, classify(err)
		}
		c.ClaimedAt = fromMillis(claimedAt)
		captures = append(captures, c)
	}
	return captures, classify(rows.Err())
}

// LatestCaptures returns, per tile, the newest capture logged in channelID at
// or after since.
func (r *Repository) LatestCaptures(ctx context.Context, channelID string, since time.Time) (map[string]Capture, error) {
	captures, err := r.ListCaptures(ctx, CaptureFilter{ChannelID: channelID, From: since})
	if err != nil {
		return nil, err
	}

	latest := make(map[string]Capture)
	for _, c := range captures {
		// Ordered by claimed_at, id: later rows win ties.
		latest[c.TileCode] = c
	}
	return latest, nil
}

// MoveLatestCapture changes the timestamp of the newest capture of a tile in
// a channel, as long as that capture is not older than floor. Reports whether
// a capture was moved.
func (r *Repository) MoveLatestCapture(ctx context.Context, channelID, tile string, to, floor time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE captures SET claimed_at = ?
		 WHERE id = (
			SELECT id FROM captures
			WHERE channel = ? AND tile = ?
			ORDER BY claimed_at DESC, id DESC
			LIMIT 1
		 ) AND claimed_at >= ?`,
		toMillis(to), channelID, tile, toMillis(floor),
	)
	if err != nil {
		return false, classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
