package planner

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/flor3z/ct-planner-bot/internal/storage"
)

// PlannedTile is the derived state of one tracked tile of a planner.
type PlannedTile struct {
	PlannerID  string
	TileCode   string
	CapturedBy string    // who captured it in game
	CapturedAt time.Time // newest capture at or after the planner's floor
	ExpiresAt  time.Time
	ClaimedBy  string // who claimed it on the planner, "" if nobody
}

// Claimed reports whether someone claimed the tile on the planner.
func (t PlannedTile) Claimed() bool {
	return t.ClaimedBy != ""
}

// ClaimFilter restricts PlannedTiles by claim state.
type ClaimFilter int

const (
	ClaimAny ClaimFilter = iota
	ClaimClaimed
	ClaimUnclaimed
)

// Query narrows PlannedTiles. The zero Query returns every tile.
type Query struct {
	// TileCodes limits the result to these tracked tiles; nil means all.
	TileCodes []string
	// ExpireFrom and ExpireTo restrict to tiles with ExpiresAt in
	// [ExpireFrom, ExpireTo). Zero values leave that side open.
	ExpireFrom time.Time
	ExpireTo   time.Time
	Claim      ClaimFilter
}

func (q Query) matches(t PlannedTile) bool {
	if !q.ExpireFrom.IsZero() && t.ExpiresAt.Before(q.ExpireFrom) {
		return false
	}
	if !q.ExpireTo.IsZero() && !t.ExpiresAt.Before(q.ExpireTo) {
		return false
	}
	switch q.Claim {
	case ClaimClaimed:
		return t.Claimed()
	case ClaimUnclaimed:
		return !t.Claimed()
	}
	return true
}

// PlannedTiles returns the state of a planner's tracked tiles that have a
// capture at or after the planner's floor, ordered by expiry. Tiles with no
// qualifying capture are not returned.
func (s *Service) PlannedTiles(ctx context.Context, plannerID string, q Query) ([]PlannedTile, error) {
	p, err := s.planner(ctx, plannerID)
	if err != nil {
		return nil, err
	}
	return s.plannedTiles(ctx, p, q, s.now())
}

// Tiles is PlannedTiles for an already loaded planner, evaluated at now.
func (s *Service) Tiles(ctx context.Context, p *storage.Planner, q Query, now time.Time) ([]PlannedTile, error) {
	return s.plannedTiles(ctx, p, q, now)
}

func (s *Service) plannedTiles(ctx context.Context, p *storage.Planner, q Query, now time.Time) ([]PlannedTile, error) {
	if p.ClaimsChannelID == "" {
		return nil, nil
	}

	tracked, err := s.store.ListTrackedTiles(ctx, p.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("list tracked tiles: %w", err)
	}
	if q.TileCodes != nil {
		tracked = slices.DeleteFunc(tracked, func(t storage.TrackedTile) bool {
			return !slices.Contains(q.TileCodes, t.TileCode)
		})
	}
	if len(tracked) == 0 {
		return nil, nil
	}

	floor := s.floor(p, now)
	latest, err := s.store.LatestCaptures(ctx, p.ClaimsChannelID, floor)
	if err != nil {
		return nil, fmt.Errorf("latest captures: %w", err)
	}
	overrides, err := s.store.ListClaimOverrides(ctx, p.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	claimedBy := make(map[string]string, len(overrides))
	for _, o := range overrides {
		if !o.ClaimedAt.Before(floor) {
			claimedBy[o.TileCode] = o.UserID
		}
	}

	var tiles []PlannedTile
	for _, t := range tracked {
		c, ok := latest[t.TileCode]
		if !ok {
			continue
		}
		pt := PlannedTile{
			PlannerID:  p.ChannelID,
			TileCode:   t.TileCode,
			CapturedBy: c.UserID,
			CapturedAt: c.ClaimedAt,
			ExpiresAt:  c.ClaimedAt.Add(time.Duration(t.ExpiresAfterHours) * time.Hour),
			ClaimedBy:  claimedBy[t.TileCode],
		}
		if q.matches(pt) {
			tiles = append(tiles, pt)
		}
	}
	slices.SortFunc(tiles, func(a, b PlannedTile) int {
		if c := a.ExpiresAt.Compare(b.ExpiresAt); c != 0 {
			return c
		}
		return cmp.Compare(a.TileCode, b.TileCode)
	})
	return tiles, nil
}

// EarliestExpiring returns, for every active planner, the tiles with the
// smallest ExpiresAt at or after now. Ties are all returned. A planner that
// fails to load is skipped and reported in the returned error; the other
// planners are still evaluated.
func (s *Service) EarliestExpiring(ctx context.Context, now time.Time) (map[string][]PlannedTile, error) {
	planners, err := s.store.ListPlanners(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list planners: %w", err)
	}

	var errs []error
	out := make(map[string][]PlannedTile)
	for _, p := range planners {
		tiles, err := s.plannedTiles(ctx, p, Query{ExpireFrom: now}, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("planner %s: %w", p.ChannelID, err))
			continue
		}
		if len(tiles) == 0 {
			continue
		}
		first := tiles[0].ExpiresAt
		n := 1
		for n < len(tiles) && tiles[n].ExpiresAt.Equal(first) {
			n++
		}
		out[p.ChannelID] = tiles[:n]
	}
	return out, errors.Join(errs...)
}

// ClaimResult tells the caller what ToggleClaim did.
type ClaimResult int

const (
	Claimed ClaimResult = iota + 1
	Unclaimed
)

// Claim reserves a tile of a planner for a user. Claiming a tile the user
// already holds is a no-op. Fails with ErrTileNotTracked, ErrAlreadyClaimed
// or ErrClaimLimit; on failure nothing is written.
func (s *Service) Claim(ctx context.Context, userID, tile, plannerID string) error {
	changed, err := func() (bool, error) {
		unlock := s.lock(plannerID)
		defer unlock()

		holder, p, err := s.claimHolder(ctx, tile, plannerID)
		if err != nil {
			s.metrics.RecordClaim("claim", "error")
			return false, err
		}
		if holder == userID {
			return false, nil
		}
		return true, s.claimLocked(ctx, p, userID, tile, holder)
	}()
	if err != nil {
		return err
	}
	if changed {
		s.afterClaimChange(ctx, plannerID)
	}
	return nil
}

// Unclaim releases a tile. Releasing an unclaimed tile is not an error.
func (s *Service) Unclaim(ctx context.Context, tile, plannerID string) error {
	err := func() error {
		unlock := s.lock(plannerID)
		defer unlock()
		return s.store.DeleteClaimOverride(ctx, plannerID, tile)
	}()
	if err != nil {
		return fmt.Errorf("unclaim: %w", err)
	}
	s.metrics.RecordClaim("unclaim", "ok")
	s.afterClaimChange(ctx, plannerID)
	return nil
}

// ToggleClaim claims a tile, or releases it if userID already holds it.
func (s *Service) ToggleClaim(ctx context.Context, userID, tile, plannerID string) (ClaimResult, error) {
	res, err := func() (ClaimResult, error) {
		unlock := s.lock(plannerID)
		defer unlock()

		holder, p, err := s.claimHolder(ctx, tile, plannerID)
		if err != nil {
			s.metrics.RecordClaim("toggle", "error")
			return 0, err
		}
		if holder == userID {
			if err := s.store.DeleteClaimOverride(ctx, plannerID, tile); err != nil {
				return 0, fmt.Errorf("unclaim: %w", err)
			}
			s.metrics.RecordClaim("unclaim", "ok")
			return Unclaimed, nil
		}
		if err := s.claimLocked(ctx, p, userID, tile, holder); err != nil {
			return 0, err
		}
		return Claimed, nil
	}()
	if err != nil {
		return 0, err
	}
	s.afterClaimChange(ctx, plannerID)
	return res, nil
}

// claimHolder validates the tile and returns who holds it.
func (s *Service) claimHolder(ctx context.Context, tile, plannerID string) (string, *storage.Planner, error) {
	p, err := s.planner(ctx, plannerID)
	if err != nil {
		return "", nil, err
	}
	tracked, err := s.store.ListTrackedTiles(ctx, plannerID)
	if err != nil {
		return "", nil, fmt.Errorf("list tracked tiles: %w", err)
	}
	if !slices.ContainsFunc(tracked, func(t storage.TrackedTile) bool { return t.TileCode == tile }) {
		return "", nil, ErrTileNotTracked
	}

	overrides, err := s.store.ListClaimOverrides(ctx, plannerID)
	if err != nil {
		return "", nil, fmt.Errorf("list claims: %w", err)
	}
	floor := s.floor(p, s.now())
	for _, o := range overrides {
		if o.TileCode != tile {
			continue
		}
		if o.ClaimedAt.Before(floor) {
			// Left over from an earlier event or before a clear.
			if err := s.store.DeleteClaimOverride(ctx, plannerID, tile); err != nil {
				return "", nil, fmt.Errorf("drop stale claim: %w", err)
			}
			return "", p, nil
		}
		return o.UserID, p, nil
	}
	return "", p, nil
}

func (s *Service) claimLocked(ctx context.Context, p *storage.Planner, userID, tile, holder string) error {
	if holder != "" {
		s.metrics.RecordClaim("claim", "taken")
		return ErrAlreadyClaimed
	}

	now := s.now()
	held, err := s.store.CountClaimsBy(ctx, p.ChannelID, userID, s.floor(p, now))
	if err != nil {
		return fmt.Errorf("count claims: %w", err)
	}
	if held >= s.opts.ClaimLimit {
		s.metrics.RecordClaim("claim", "limit")
		return fmt.Errorf("%w: %d tiles", ErrClaimLimit, s.opts.ClaimLimit)
	}

	err = s.store.InsertClaimOverride(ctx, storage.ClaimOverride{
		PlannerChannelID: p.ChannelID,
		TileCode:         tile,
		UserID:           userID,
		ClaimedAt:        now,
	})
	if errors.Is(err, storage.ErrConflict) {
		s.metrics.RecordClaim("claim", "taken")
		return ErrAlreadyClaimed
	}
	if err != nil {
		return fmt.Errorf("claim: %w", err)
	}
	s.metrics.RecordClaim("claim", "ok")
	return nil
}

// afterClaimChange refreshes the board once the claim write committed. The
// planner lock is already released.
func (s *Service) afterClaimChange(ctx context.Context, plannerID string) {
	if err := s.RefreshBoard(ctx, plannerID); err != nil {
		s.logger.Warn().Err(err).Str("planner", plannerID).Msg("board refresh after claim failed")
	}
}
