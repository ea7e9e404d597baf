package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/flor3z/ct-planner-bot/internal/chat"
	"github.com/flor3z/ct-planner-bot/internal/storage"
)

// Kind is the kind of ping a planner sends.
type Kind string

const (
	// KindReminder warns that tiles are about to expire.
	KindReminder Kind = "reminder"
	// KindDecay says tiles just expired.
	KindDecay Kind = "decay"
)

// TeamMention is who gets pinged for tiles nobody claimed: the ticket role
// (members with captures left today), else the team role, else @here.
func TeamMention(p *storage.Planner) string {
	switch {
	case p.TicketRoleID != "":
		return fmt.Sprintf("<@&%s>", p.TicketRoleID)
	case p.PingRoleID != "":
		return fmt.Sprintf("<@&%s>", p.PingRoleID)
	}
	return "@here"
}

// JoinCodes renders tile codes as "`A`", "`A` and `B`" or "`A`, `B` and `C`".
func JoinCodes(codes []string) string {
	quoted := make([]string, len(codes))
	for i, c := range codes {
		quoted[i] = "`" + c + "`"
	}
	switch len(quoted) {
	case 0:
		return ""
	case 1:
		return quoted[0]
	}
	return strings.Join(quoted[:len(quoted)-1], ", ") + " and " + quoted[len(quoted)-1]
}

type group struct {
	mention string
	codes   []string
	soonest int64
}

// groupByRecipient groups tiles by who should be pinged, keeping the order in
// which recipients first appear.
func groupByRecipient(tiles []PlannedTile, team string) []*group {
	var groups []*group
	byMention := make(map[string]*group)
	for _, t := range tiles {
		mention := team
		if t.Claimed() {
			mention = fmt.Sprintf("<@%s>", t.ClaimedBy)
		}
		g, ok := byMention[mention]
		if !ok {
			g = &group{mention: mention, soonest: t.ExpiresAt.Unix()}
			byMention[mention] = g
			groups = append(groups, g)
		}
		g.codes = append(g.codes, t.TileCode)
	}
	return groups
}

// Compose renders the ping lines for tiles, one line per recipient, packed
// into as few messages as fit the platform's length limit.
func Compose(kind Kind, tiles []PlannedTile, team string) []string {
	var lines []string
	for _, g := range groupByRecipient(tiles, team) {
		plural := len(g.codes) > 1
		var line string
		switch kind {
		case KindDecay:
			verb := "has expired"
			if plural {
				verb = "have expired"
			}
			line = fmt.Sprintf("%s %s %s! Time to recapture.", g.mention, JoinCodes(g.codes), verb)
		default:
			verb := "expires"
			if plural {
				verb = "expire"
			}
			line = fmt.Sprintf("%s %s %s <t:%d:R>.", g.mention, JoinCodes(g.codes), verb, g.soonest)
			switch {
			case g.mention != team:
			case plural:
				line += " Nobody claimed them yet!"
			default:
				line += " Nobody claimed it yet!"
			}
		}
		lines = append(lines, line)
	}

	var (
		messages []string
		cur      strings.Builder
	)
	for _, line := range lines {
		if cur.Len() > 0 && cur.Len()+1+len(line) > maxMessageLen {
			messages = append(messages, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		messages = append(messages, cur.String())
	}
	return messages
}

// Notify sends one batch of pings for a planner. Inactive or unconfigured
// planners are skipped. If the bot lost access to the ping channel, the
// planner's ping channel is cleared and its board refreshed so admins see
// it needs configuring again.
func (s *Service) Notify(ctx context.Context, p *storage.Planner, kind Kind, tiles []PlannedTile) error {
	if len(tiles) == 0 || !p.IsActive || p.PingChannelID == "" {
		return nil
	}
	logger := s.logger.With().Str("planner", p.ChannelID).Str("kind", string(kind)).Logger()

	for _, msg := range Compose(kind, tiles, TeamMention(p)) {
		_, err := s.chat.SendMessage(ctx, p.PingChannelID, msg, nil)
		if chat.IsForbidden(err) || chat.IsNotFound(err) {
			logger.Warn().Err(err).Str("ping_channel", p.PingChannelID).Msg("cannot ping, clearing ping channel")
			s.metrics.RecordError("notify", "forbidden")
			return s.degradePings(ctx, p)
		}
		if err != nil {
			s.metrics.RecordError("notify", errorKind(err))
			return fmt.Errorf("send %s: %w", kind, err)
		}
		s.metrics.RecordNotification(string(kind))
	}
	logger.Debug().Int("tiles", len(tiles)).Msg("pinged")
	return nil
}

func (s *Service) degradePings(ctx context.Context, p *storage.Planner) error {
	empty := ""
	if err := s.store.UpdatePlannerConfig(ctx, p.ChannelID, storage.PlannerConfig{PingChannelID: &empty}); err != nil {
		return fmt.Errorf("clear ping channel: %w", err)
	}
	p.PingChannelID = ""
	return s.RefreshBoard(ctx, p.ChannelID)
}
