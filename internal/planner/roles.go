package planner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/flor3z/ct-planner-bot/internal/chat"
	"github.com/flor3z/ct-planner-bot/internal/storage"
)

// TicketsUsed counts what a member spent of today's tickets on a planner:
// captures they logged today plus the tiles they claimed that decay today.
// It is derived from scratch on every call.
func (s *Service) TicketsUsed(ctx context.Context, p *storage.Planner, userID string, now time.Time) (int, error) {
	if p.ClaimsChannelID == "" {
		return 0, nil
	}
	dayStart, dayEnd := s.cal.DayBounds(now)
	from := dayStart
	if floor := s.floor(p, now); floor.After(from) {
		from = floor
	}

	captures, err := s.store.ListCaptures(ctx, storage.CaptureFilter{
		ChannelID: p.ClaimsChannelID,
		UserID:    userID,
		From:      from,
		To:        dayEnd,
	})
	if err != nil {
		return 0, fmt.Errorf("list captures: %w", err)
	}

	held, err := s.plannedTiles(ctx, p, Query{ExpireFrom: dayStart, ExpireTo: dayEnd, Claim: ClaimClaimed}, now)
	if err != nil {
		return 0, err
	}
	n := len(captures)
	for _, t := range held {
		if t.ClaimedBy == userID {
			n++
		}
	}
	return n, nil
}

// SyncTicketRole gives a member the planner's ticket role while they have
// tickets left today and takes it away once they don't. Safe to call any
// number of times.
func (s *Service) SyncTicketRole(ctx context.Context, p *storage.Planner, userID string, now time.Time) error {
	if p.TicketRoleID == "" || userID == "" || userID == s.chat.SelfID() {
		return nil
	}
	used, err := s.TicketsUsed(ctx, p, userID, now)
	if err != nil {
		return err
	}
	eligible := s.cal.InEvent(now) && used < s.opts.DailyTickets

	has, err := s.chat.HasRole(ctx, p.GuildID, userID, p.TicketRoleID)
	if err != nil {
		return s.roleFailed(ctx, p, err)
	}
	switch {
	case eligible && !has:
		if err := s.chat.AddRole(ctx, p.GuildID, userID, p.TicketRoleID); err != nil {
			return s.roleFailed(ctx, p, err)
		}
		s.metrics.RecordRoleChange("add")
	case !eligible && has:
		if err := s.chat.RemoveRole(ctx, p.GuildID, userID, p.TicketRoleID); err != nil {
			return s.roleFailed(ctx, p, err)
		}
		s.metrics.RecordRoleChange("remove")
	default:
		return nil
	}
	s.logger.Debug().Str("planner", p.ChannelID).Str("user", userID).Int("used", used).Bool("eligible", eligible).Msg("ticket role synced")
	return nil
}

// ReassignTicketRoles re-evaluates the ticket role for every member that
// holds it or took part in the current event. Run on every day rollover.
func (s *Service) ReassignTicketRoles(ctx context.Context, p *storage.Planner, now time.Time) error {
	if p.TicketRoleID == "" {
		return nil
	}
	members, err := s.ticketCandidates(ctx, p, now)
	if err != nil {
		return err
	}

	var errs []error
	for _, user := range members {
		if err := s.SyncTicketRole(ctx, p, user, now); err != nil {
			errs = append(errs, fmt.Errorf("user %s: %w", user, err))
		}
	}
	return errors.Join(errs...)
}

// TeardownTicketRoles removes the ticket role from everyone once the event
// is over.
func (s *Service) TeardownTicketRoles(ctx context.Context, p *storage.Planner) error {
	if p.TicketRoleID == "" {
		return nil
	}
	members, err := s.chat.MembersWithRole(ctx, p.GuildID, p.TicketRoleID)
	if err != nil {
		return s.roleFailed(ctx, p, err)
	}
	for _, user := range members {
		err := s.chat.RemoveRole(ctx, p.GuildID, user, p.TicketRoleID)
		if chat.IsNotFound(err) {
			continue
		}
		if err != nil {
			return s.roleFailed(ctx, p, err)
		}
		s.metrics.RecordRoleChange("remove")
	}
	if len(members) > 0 {
		s.logger.Info().Str("planner", p.ChannelID).Int("members", len(members)).Msg("ticket role cleared")
	}
	return nil
}

func (s *Service) ticketCandidates(ctx context.Context, p *storage.Planner, now time.Time) ([]string, error) {
	holders, err := s.chat.MembersWithRole(ctx, p.GuildID, p.TicketRoleID)
	if err != nil {
		return nil, s.roleFailed(ctx, p, err)
	}
	users := slices.Clone(holders)

	if p.ClaimsChannelID != "" {
		captures, err := s.store.ListCaptures(ctx, storage.CaptureFilter{
			ChannelID: p.ClaimsChannelID,
			From:      s.floor(p, now),
		})
		if err != nil {
			return nil, fmt.Errorf("list captures: %w", err)
		}
		for _, c := range captures {
			users = append(users, c.UserID)
		}
	}

	overrides, err := s.store.ListClaimOverrides(ctx, p.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	for _, o := range overrides {
		users = append(users, o.UserID)
	}

	slices.Sort(users)
	return slices.Compact(users), nil
}

// roleFailed clears the planner's ticket role when the bot may no longer
// manage it, so the board shows it needs configuring again. Losing the role
// is not reported as an error; later calls see an unconfigured role.
func (s *Service) roleFailed(ctx context.Context, p *storage.Planner, err error) error {
	switch {
	case chat.IsNotFound(err):
		// member left the guild
		s.logger.Debug().Err(err).Str("planner", p.ChannelID).Msg("ticket role target gone")
		return nil
	case !chat.IsForbidden(err):
		s.metrics.RecordError("roles", errorKind(err))
		return fmt.Errorf("ticket role: %w", err)
	}

	s.logger.Warn().Err(err).Str("planner", p.ChannelID).Str("role", p.TicketRoleID).Msg("cannot manage ticket role, clearing it")
	s.metrics.RecordError("roles", "forbidden")
	empty := ""
	if err := s.store.UpdatePlannerConfig(ctx, p.ChannelID, storage.PlannerConfig{TicketRoleID: &empty}); err != nil {
		return fmt.Errorf("clear ticket role: %w", err)
	}
	p.TicketRoleID = ""
	if err := s.RefreshBoard(ctx, p.ChannelID); err != nil {
		s.logger.Warn().Err(err).Str("planner", p.ChannelID).Msg("board refresh after role loss failed")
	}
	return nil
}
