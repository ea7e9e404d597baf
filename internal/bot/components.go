package bot

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/flor3z/ct-planner-bot/internal/planner"
)

// handleClaimSelect toggles the claim on the tile picked from a board menu.
// The board lives in the planner channel, so the interaction's channel is
// the planner.
func (b *Bot) handleClaimSelect(s *discordgo.Session, i *discordgo.InteractionCreate) {
	values := i.MessageComponentData().Values
	if len(values) == 0 || i.Member == nil || i.Member.User == nil {
		return
	}
	tile, userID := values[0], i.Member.User.ID

	deferEphemeral(s, i)

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	res, err := b.planners.ToggleClaim(ctx, userID, tile, i.ChannelID)
	if err != nil {
		editResponse(s, i, b.errorReply(err, "claim"))
		return
	}
	editResponse(s, i, claimReply(res, tile))
}

func claimReply(res planner.ClaimResult, tile string) string {
	if res == planner.Unclaimed {
		return fmt.Sprintf("You released `%s`.", tile)
	}
	return fmt.Sprintf("You claimed `%s`. Select it again to release it.", tile)
}
