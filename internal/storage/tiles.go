package storage

import (
	"context"
	"time"
)

// ListTrackedTiles returns the tiles a planner tracks, ordered by code.
func (r *Repository) ListTrackedTiles(ctx context.Context, plannerID string) ([]TrackedTile, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT planner_channel, tile, expires_after_hr, registered_at
		 FROM tracked_tiles WHERE planner_channel = ? ORDER BY tile`,
		plannerID,
	)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var tiles []TrackedTile
	for rows.Next() {
		var (
			t          TrackedTile
			registered int64
		)
		if err := rows.Scan(&t.PlannerChannelID, &t.TileCode, &t.ExpiresAfterHours, &registered); err != nil {
			return nil, classify(err)
		}
		t.RegisteredAt = fromMillis(registered)
		tiles = append(tiles, t)
	}
	return tiles, classify(rows.Err())
}

// UpsertTrackedTile starts tracking a tile, replacing its decay time if it was
// already tracked.
func (r *Repository) UpsertTrackedTile(ctx context.Context, t TrackedTile) error {
	if t.RegisteredAt.IsZero() {
		t.RegisteredAt = time.Now().UTC()
	}
	if t.ExpiresAfterHours <= 0 {
		t.ExpiresAfterHours = DefaultExpiresAfterHours
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tracked_tiles (planner_channel, tile, expires_after_hr, registered_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(planner_channel, tile) DO UPDATE SET
			expires_after_hr = excluded.expires_after_hr,
			registered_at = excluded.registered_at`,
		t.PlannerChannelID, t.TileCode, t.ExpiresAfterHours, toMillis(t.RegisteredAt),
	)
	return classify(err)
}

// RemoveTrackedTile stops tracking a tile. Returns ErrNotFound if it was not
// tracked.
func (r *Repository) RemoveTrackedTile(ctx context.Context, plannerID, tile string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM tracked_tiles WHERE planner_channel = ? AND tile = ?`, plannerID, tile)
	return affected(res, err)
}

// OverwriteTrackedTiles replaces a planner's whole tracked list in one
// transaction, so readers never observe an empty list in between.
func (r *Repository) OverwriteTrackedTiles(ctx context.Context, plannerID string, tiles []TrackedTile) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tracked_tiles WHERE planner_channel = ?`, plannerID); err != nil {
		return classify(err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tracked_tiles (planner_channel, tile, expires_after_hr, registered_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return classify(err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, t := range tiles {
		hours := t.ExpiresAfterHours
		if hours <= 0 {
			hours = DefaultExpiresAfterHours
		}
		if _, err := stmt.ExecContext(ctx, plannerID, t.TileCode, hours, toMillis(now)); err != nil {
			return classify(err)
		}
	}
	return classify(tx.Commit())
}
