package storage

import (
	"context"
	"time"
)

// ListClaimOverrides returns every claimed tile of a planner.
func (r *Repository) ListClaimOverrides(ctx context.Context, plannerID string) ([]ClaimOverride, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT planner_channel, tile, user_id, claimed_at FROM claim_overrides
		 WHERE planner_channel = ? ORDER BY tile`,
		plannerID,
	)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var claims []ClaimOverride
	for rows.Next() {
		var (
			c         ClaimOverride
			claimedAt int64
		)
		if err := rows.Scan(&c.PlannerChannelID, &c.TileCode, &c.UserID, &claimedAt); err != nil {
			return nil, classify(err)
		}
		c.ClaimedAt = fromMillis(claimedAt)
		claims = append(claims, c)
	}
	return claims, classify(rows.Err())
}

// InsertClaimOverride claims a tile. An existing claim on the same tile is
// never overwritten: ErrConflict is returned instead.
func (r *Repository) InsertClaimOverride(ctx context.Context, c ClaimOverride) error {
	if c.ClaimedAt.IsZero() {
		c.ClaimedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO claim_overrides (planner_channel, tile, user_id, claimed_at) VALUES (?, ?, ?, ?)`,
		c.PlannerChannelID, c.TileCode, c.UserID, toMillis(c.ClaimedAt),
	)
	return classify(err)
}

// DeleteClaimOverride releases a claimed tile. Releasing an unclaimed tile is
// not an error.
func (r *Repository) DeleteClaimOverride(ctx context.Context, plannerID, tile string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM claim_overrides WHERE planner_channel = ? AND tile = ?`, plannerID, tile)
	return classify(err)
}

// CountClaimsBy counts the tiles a user claimed in a planner at or after since.
func (r *Repository) CountClaimsBy(ctx context.Context, plannerID, userID string, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM claim_overrides WHERE planner_channel = ? AND user_id = ? AND claimed_at >= ?`,
		plannerID, userID, toMillis(since),
	).Scan(&n)
	return n, classify(err)
}
