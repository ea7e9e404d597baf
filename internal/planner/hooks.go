package planner

import (
	"context"

	"github.com/flor3z/ct-planner-bot/internal/capture"
)

// Name implements capture.Subscriber.
func (s *Service) Name() string { return "planner" }

// OnCaptureRegistered releases the planning claim on a freshly captured tile,
// refreshes every planner reading the claims channel and re-evaluates the
// capturer's ticket role.
func (s *Service) OnCaptureRegistered(ctx context.Context, ev capture.Event) {
	planners, err := s.store.PlannersByClaimsChannel(ctx, ev.ClaimsChannelID)
	if err != nil {
		s.logger.Error().Err(err).Str("claims_channel", ev.ClaimsChannelID).Msg("list planners for capture failed")
		return
	}
	for _, p := range planners {
		logger := s.logger.With().Str("planner", p.ChannelID).Str("tile", ev.TileCode).Logger()

		func() {
			unlock := s.lock(p.ChannelID)
			defer unlock()
			if err := s.store.DeleteClaimOverride(ctx, p.ChannelID, ev.TileCode); err != nil {
				logger.Warn().Err(err).Msg("release claim after capture failed")
			}
		}()
		s.changed(p.ChannelID)
		if err := s.RefreshBoard(ctx, p.ChannelID); err != nil {
			logger.Warn().Err(err).Msg("board refresh after capture failed")
		}
		if err := s.SyncTicketRole(ctx, p, ev.UserID, s.now()); err != nil {
			logger.Warn().Err(err).Str("user", ev.UserID).Msg("ticket role sync failed")
		}
	}
}

// OnCaptureUnregistered refreshes the linked planners after a capture was
// withdrawn and gives the capturer their ticket back if it is due.
func (s *Service) OnCaptureUnregistered(ctx context.Context, ev capture.Event) {
	planners, err := s.store.PlannersByClaimsChannel(ctx, ev.ClaimsChannelID)
	if err != nil {
		s.logger.Error().Err(err).Str("claims_channel", ev.ClaimsChannelID).Msg("list planners for withdrawal failed")
		return
	}
	for _, p := range planners {
		s.changed(p.ChannelID)
		if err := s.RefreshBoard(ctx, p.ChannelID); err != nil {
			s.logger.Warn().Err(err).Str("planner", p.ChannelID).Msg("board refresh after withdrawal failed")
		}
		if err := s.SyncTicketRole(ctx, p, ev.UserID, s.now()); err != nil {
			s.logger.Warn().Err(err).Str("planner", p.ChannelID).Str("user", ev.UserID).Msg("ticket role sync failed")
		}
	}
}

var _ capture.Subscriber = (*Service)(nil)
