package planner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/flor3z/ct-planner-bot/internal/board"
	"github.com/flor3z/ct-planner-bot/internal/chat"
	"github.com/flor3z/ct-planner-bot/internal/storage"
)

const (
	maxMessageLen  = 2000
	maxMenuOptions = 25
	maxMenus       = 5

	// ClaimMenuPrefix starts the custom ID of every claim select menu.
	ClaimMenuPrefix = "planner:claim:"

	adminPanel = "# Admin Control Panel\n" +
		"- Status: %s\n" +
		"- Tile Claim Channel: %s\n" +
		"- Ping Channel: %s\n" +
		"- Team Role: %s\n" +
		"- Ticket Role: %s"
	separator   = "```\n \n```"
	tableHeader = "# Tiles & Expiration\n————  +  ——————————————\n"
	tableRow    = "🚩 `%s`  |  <t:%d:t> (<t:%d:R>)%s\n"
)

// RefreshBoard re-renders and syncs a planner's board. A planner whose
// channel is gone is deleted.
func (s *Service) RefreshBoard(ctx context.Context, plannerID string) error {
	err := s.refresher.Refresh(ctx, plannerID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotPlanner):
		return nil
	case chat.IsNotFound(err):
		s.logger.Warn().Err(err).Str("planner", plannerID).Msg("planner channel is gone, removing planner")
		if err := s.store.DeletePlanner(ctx, plannerID); err != nil {
			return fmt.Errorf("delete orphaned planner: %w", err)
		}
		s.refresher.Forget(plannerID)
		s.changed(plannerID)
		return nil
	}
	s.metrics.RecordError("board", errorKind(err))
	return err
}

// LastRefresh is when this process last synced a planner's board.
func (s *Service) LastRefresh(plannerID string) time.Time {
	return s.refresher.LastRefresh(plannerID)
}

// RenderBoard builds the blocks of a planner's board.
func (s *Service) RenderBoard(ctx context.Context, plannerID string) ([]board.Block, error) {
	p, err := s.planner(ctx, plannerID)
	if err != nil {
		return nil, err
	}
	tiles, err := s.plannedTiles(ctx, p, Query{}, s.now())
	if err != nil {
		return nil, err
	}

	blocks := []board.Block{
		{Content: renderAdminPanel(p)},
		{Content: separator},
	}

	table := tableHeader
	if len(tiles) == 0 {
		table += "*No tracked tile has been captured yet.*\n"
	}
	for _, t := range tiles {
		claimant := ""
		if t.Claimed() {
			claimant = fmt.Sprintf("   →  <@%s>", t.ClaimedBy)
		}
		ts := t.ExpiresAt.Unix()
		row := fmt.Sprintf(tableRow, t.TileCode, ts, ts, claimant)
		if len(table)+len(row) > maxMessageLen {
			blocks = append(blocks, board.Block{Content: table})
			table = ""
		}
		table += row
	}
	blocks = append(blocks, board.Block{Content: table, Menus: claimMenus(tiles)})
	return blocks, nil
}

func renderAdminPanel(p *storage.Planner) string {
	status := "🟢 ONLINE"
	if !p.IsActive {
		status = "🔴 OFFLINE *(won't ping)*"
	}
	if p.PingChannelID == "" {
		status = "⚠️ CONFIGURATION UNFINISHED *(won't ping)*"
	}

	orNone := func(id, format, none string) string {
		if id == "" {
			return none
		}
		return fmt.Sprintf(format, id)
	}
	return fmt.Sprintf(adminPanel,
		status,
		orNone(p.ClaimsChannelID, "<#%s>", "⚠️ None *(no captures will be tracked)*"),
		orNone(p.PingChannelID, "<#%s>", "⚠️ None *(the bot will not ping at all)*"),
		orNone(p.PingRoleID, "<@&%s>", "⚠️ None *(will ping `@here` instead)*"),
		orNone(p.TicketRoleID, "<@&%s>", "None *(unclaimed tiles ping the team role)*"),
	)
}

// claimMenus lists the captured tiles in select menus, sorted by code.
func claimMenus(tiles []PlannedTile) []chat.SelectMenu {
	if len(tiles) == 0 {
		return nil
	}
	sorted := slices.Clone(tiles)
	slices.SortFunc(sorted, func(a, b PlannedTile) int { return strings.Compare(a.TileCode, b.TileCode) })
	if len(sorted) > maxMenus*maxMenuOptions {
		sorted = sorted[:maxMenus*maxMenuOptions]
	}

	chunks := slices.Collect(slices.Chunk(sorted, maxMenuOptions))
	menus := make([]chat.SelectMenu, 0, len(chunks))
	for i, chunk := range chunks {
		placeholder := "Claim a tile"
		if len(chunks) > 1 {
			placeholder = fmt.Sprintf("Claim a tile (%s-%s)", chunk[0].TileCode, chunk[len(chunk)-1].TileCode)
		}
		menu := chat.SelectMenu{
			CustomID:    fmt.Sprintf("%s%d", ClaimMenuPrefix, i),
			Placeholder: placeholder,
		}
		for _, t := range chunk {
			desc := "Unclaimed"
			if t.Claimed() {
				desc = "Claimed (select again to unclaim yours)"
			}
			menu.Options = append(menu.Options, chat.SelectOption{
				Label:       t.TileCode,
				Value:       t.TileCode,
				Description: desc,
			})
		}
		menus = append(menus, menu)
	}
	return menus
}

func errorKind(err error) string {
	switch {
	case chat.IsForbidden(err):
		return "forbidden"
	case chat.IsRetryable(err):
		return "transient"
	case errors.Is(err, storage.ErrUnavailable):
		return "store"
	}
	return "other"
}
