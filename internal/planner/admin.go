package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flor3z/ct-planner-bot/internal/capture"
	"github.com/flor3z/ct-planner-bot/internal/storage"
)

// AddPlanner turns a channel into a planner and posts its board.
func (s *Service) AddPlanner(ctx context.Context, channelID, guildID string) error {
	err := s.store.CreatePlanner(ctx, &storage.Planner{
		ChannelID: channelID,
		GuildID:   guildID,
		IsActive:  true,
		CreatedAt: s.now(),
	})
	if errors.Is(err, storage.ErrConflict) {
		return ErrAlreadyPlanner
	}
	if err != nil {
		return fmt.Errorf("create planner: %w", err)
	}
	s.logger.Info().Str("planner", channelID).Str("guild", guildID).Msg("planner added")
	return s.RefreshBoard(ctx, channelID)
}

// RemovePlanner stops managing a channel. The channel and its messages are
// left alone.
func (s *Service) RemovePlanner(ctx context.Context, channelID string) error {
	if _, err := s.planner(ctx, channelID); err != nil {
		return err
	}
	if err := s.store.DeletePlanner(ctx, channelID); err != nil {
		return fmt.Errorf("delete planner: %w", err)
	}
	s.refresher.Forget(channelID)
	s.changed(channelID)
	s.logger.Info().Str("planner", channelID).Msg("planner removed")
	return nil
}

// Configure applies a partial configuration change and refreshes the board.
func (s *Service) Configure(ctx context.Context, channelID string, cfg storage.PlannerConfig) error {
	err := s.store.UpdatePlannerConfig(ctx, channelID, cfg)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotPlanner
	}
	if err != nil {
		return fmt.Errorf("configure planner: %w", err)
	}
	if cfg.ClaimsChannelID != nil {
		s.changed(channelID)
	}
	return s.RefreshBoard(ctx, channelID)
}

// SetActive turns a planner's pings on or off.
func (s *Service) SetActive(ctx context.Context, channelID string, active bool) error {
	err := s.store.SetActive(ctx, channelID, active)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotPlanner
	}
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	s.changed(channelID)
	return s.RefreshBoard(ctx, channelID)
}

// Clear makes the planner ignore every capture logged until now.
func (s *Service) Clear(ctx context.Context, channelID string) error {
	err := s.store.SetClearTime(ctx, channelID, s.now())
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotPlanner
	}
	if err != nil {
		return fmt.Errorf("clear planner: %w", err)
	}
	s.changed(channelID)
	return s.RefreshBoard(ctx, channelID)
}

// TrackedTiles lists the tiles a planner tracks.
func (s *Service) TrackedTiles(ctx context.Context, channelID string) ([]storage.TrackedTile, error) {
	if _, err := s.planner(ctx, channelID); err != nil {
		return nil, err
	}
	return s.store.ListTrackedTiles(ctx, channelID)
}

// AddTile starts tracking a tile. hours <= 0 uses the default decay time.
func (s *Service) AddTile(ctx context.Context, channelID, code string, hours int) error {
	code, err := capture.NormalizeTile(code)
	if err != nil {
		return err
	}
	if _, err := s.planner(ctx, channelID); err != nil {
		return err
	}
	err = s.store.UpsertTrackedTile(ctx, storage.TrackedTile{
		PlannerChannelID:  channelID,
		TileCode:          code,
		ExpiresAfterHours: hours,
		RegisteredAt:      s.now(),
	})
	if err != nil {
		return fmt.Errorf("track tile: %w", err)
	}
	s.changed(channelID)
	return s.RefreshBoard(ctx, channelID)
}

// RemoveTile stops tracking a tile.
func (s *Service) RemoveTile(ctx context.Context, channelID, code string) error {
	code, err := capture.NormalizeTile(code)
	if err != nil {
		return err
	}
	err = s.store.RemoveTrackedTile(ctx, channelID, code)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrTileNotTracked
	}
	if err != nil {
		return fmt.Errorf("untrack tile: %w", err)
	}
	if err := s.store.DeleteClaimOverride(ctx, channelID, code); err != nil {
		return fmt.Errorf("drop claim: %w", err)
	}
	s.changed(channelID)
	return s.RefreshBoard(ctx, channelID)
}

// OverwriteTiles replaces the whole tracked list in one step. Every tile
// decays after hours (the default when hours <= 0).
func (s *Service) OverwriteTiles(ctx context.Context, channelID string, codes []string, hours int) error {
	if _, err := s.planner(ctx, channelID); err != nil {
		return err
	}

	seen := make(map[string]bool, len(codes))
	tiles := make([]storage.TrackedTile, 0, len(codes))
	for _, raw := range codes {
		code, err := capture.NormalizeTile(raw)
		if err != nil {
			return err
		}
		if seen[code] {
			continue
		}
		seen[code] = true
		tiles = append(tiles, storage.TrackedTile{TileCode: code, ExpiresAfterHours: hours})
	}

	if err := s.store.OverwriteTrackedTiles(ctx, channelID, tiles); err != nil {
		return fmt.Errorf("overwrite tiles: %w", err)
	}
	s.changed(channelID)
	return s.RefreshBoard(ctx, channelID)
}

// EditDecay moves the newest capture of a tile so the tile decays as if it
// had been captured at capturedAt. Captures older than the planner's floor
// are never touched, and capturedAt may not be before the floor either.
func (s *Service) EditDecay(ctx context.Context, channelID, code string, capturedAt time.Time) error {
	code, err := capture.NormalizeTile(code)
	if err != nil {
		return err
	}
	p, err := s.planner(ctx, channelID)
	if err != nil {
		return err
	}
	if p.ClaimsChannelID == "" {
		return ErrEditTooEarly
	}

	floor := s.floor(p, s.now())
	if capturedAt.Before(floor) {
		return fmt.Errorf("%w: %s is before %s", ErrEditTooEarly, capturedAt.Format(time.RFC3339), floor.Format(time.RFC3339))
	}
	moved, err := s.store.MoveLatestCapture(ctx, p.ClaimsChannelID, code, capturedAt, floor)
	if err != nil {
		return fmt.Errorf("edit capture: %w", err)
	}
	if !moved {
		return ErrEditTooEarly
	}

	for _, other := range s.linkedPlanners(ctx, p.ClaimsChannelID) {
		s.changed(other)
		if err := s.RefreshBoard(ctx, other); err != nil {
			s.logger.Warn().Err(err).Str("planner", other).Msg("board refresh after decay edit failed")
		}
	}
	return nil
}

func (s *Service) linkedPlanners(ctx context.Context, claimsChannelID string) []string {
	planners, err := s.store.PlannersByClaimsChannel(ctx, claimsChannelID)
	if err != nil {
		s.logger.Warn().Err(err).Str("claims_channel", claimsChannelID).Msg("list linked planners failed")
		return nil
	}
	ids := make([]string, 0, len(planners))
	for _, p := range planners {
		ids = append(ids, p.ChannelID)
	}
	return ids
}
