package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/flor3z/ct-planner-bot/internal/capture"
	"github.com/flor3z/ct-planner-bot/internal/chat"
	"github.com/flor3z/ct-planner-bot/internal/planner"
	"github.com/flor3z/ct-planner-bot/internal/storage"
)

const plannerCommand = "planner"

var adminPermission int64 = discordgo.PermissionAdministrator

func tileOption(description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "tile",
		Description: description,
		Required:    true,
	}
}

func hoursOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionInteger,
		Name:        "hours",
		Description: "Hours a capture keeps the tile (default 24)",
		MinValue:    ptr(1.0),
		MaxValue:    24 * 7,
	}
}

func channelOption(name, description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:         discordgo.ApplicationCommandOptionChannel,
		Name:         name,
		Description:  description,
		ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
	}
}

func roleOption(name, description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionRole,
		Name:        name,
		Description: description,
	}
}

func subcommand(name, description string, opts ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        name,
		Description: description,
		Options:     opts,
	}
}

// Slash command definitions
func commandDefinitions() []*discordgo.ApplicationCommand {
	dm := false
	return []*discordgo.ApplicationCommand{
		{
			Name:                     plannerCommand,
			Description:              "Manage Contested Territory tile planners",
			DefaultMemberPermissions: &adminPermission,
			DMPermission:             &dm,
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("add", "Turn a channel into a planner",
					channelOption("channel", "Channel to use (default: this one)")),
				subcommand("new", "Create a new planner channel",
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "name",
						Description: "Name of the new channel",
						Required:    true,
					}),
				subcommand("remove", "Stop managing a planner channel",
					channelOption("channel", "Planner to remove (default: this one)")),
				subcommand("config", "Configure this planner",
					channelOption("claims", "Channel where captures are reported"),
					channelOption("ping", "Channel where reminders are sent"),
					roleOption("team_role", "Role pinged for unclaimed tiles"),
					roleOption("ticket_role", "Role given to members with tickets left today"),
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "unset",
						Description: "Clear one setting",
						Choices: []*discordgo.ApplicationCommandOptionChoice{
							{Name: "claims channel", Value: "claims"},
							{Name: "ping channel", Value: "ping"},
							{Name: "team role", Value: "team_role"},
							{Name: "ticket role", Value: "ticket_role"},
						},
					}),
				subcommand("on", "Enable pings for this planner"),
				subcommand("off", "Disable pings for this planner"),
				subcommand("clear", "Ignore every capture logged so far"),
				{
					Type:        discordgo.ApplicationCommandOptionSubCommandGroup,
					Name:        "tiles",
					Description: "Manage the tracked tiles",
					Options: []*discordgo.ApplicationCommandOption{
						subcommand("add", "Track a tile", tileOption("Tile code or relic name"), hoursOption()),
						subcommand("remove", "Stop tracking a tile", tileOption("Tile code")),
						subcommand("overwrite", "Replace the tracked tiles",
							&discordgo.ApplicationCommandOption{
								Type:        discordgo.ApplicationCommandOptionString,
								Name:        "tiles",
								Description: "Tile codes separated by spaces or commas (default: the current banners)",
							},
							hoursOption()),
						subcommand("list", "List the tracked tiles"),
					},
				},
				subcommand("edit-decay", "Change when a tile was last captured",
					tileOption("Tile code"),
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "time",
						Description: "Capture time: a Discord timestamp, unix seconds or 2006-01-02 15:04 (UTC)",
						Required:    true,
					}),
			},
		},
	}
}

// registerCommands registers all slash commands with Discord
func (b *Bot) registerCommands() error {
	appID := b.config.DiscordApplicationID
	if appID == "" {
		appID = b.session.State.User.ID
	}

	definitions := commandDefinitions()
	registered := make([]*discordgo.ApplicationCommand, 0, len(definitions))
	for _, cmd := range definitions {
		c, err := b.session.ApplicationCommandCreate(appID, b.config.DiscordGuildID, cmd)
		if err != nil {
			return fmt.Errorf("failed to register command %s: %w", cmd.Name, err)
		}
		registered = append(registered, c)
		b.logger.Debug().Str("name", cmd.Name).Msg("registered command")
	}

	b.commands = registered
	b.logger.Info().Int("count", len(registered)).Msg("slash commands registered")
	return nil
}

type options map[string]*discordgo.ApplicationCommandInteractionDataOption

func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) options {
	m := make(options, len(opts))
	for _, o := range opts {
		m[o.Name] = o
	}
	return m
}

func (o options) str(name string) string {
	if opt, ok := o[name]; ok {
		return opt.StringValue()
	}
	return ""
}

func (o options) integer(name string) int {
	if opt, ok := o[name]; ok {
		return int(opt.IntValue())
	}
	return 0
}

// id returns the snowflake of a channel or role option.
func (o options) id(name string) (string, bool) {
	opt, ok := o[name]
	if !ok {
		return "", false
	}
	id, _ := opt.Value.(string)
	return id, id != ""
}

// subcommandPath returns "tiles add" style names plus the leaf options.
func subcommandPath(data discordgo.ApplicationCommandInteractionData) (string, options) {
	path := []string{}
	opts := data.Options
	for len(opts) == 1 && (opts[0].Type == discordgo.ApplicationCommandOptionSubCommand ||
		opts[0].Type == discordgo.ApplicationCommandOptionSubCommandGroup) {
		path = append(path, opts[0].Name)
		opts = opts[0].Options
	}
	return strings.Join(path, " "), optionMap(opts)
}

func isAdmin(i *discordgo.InteractionCreate) bool {
	return i.Member != nil && i.Member.Permissions&discordgo.PermissionAdministrator != 0
}

// handlePlanner handles every /planner subcommand
func (b *Bot) handlePlanner(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !isAdmin(i) {
		respondEphemeral(s, i, "Only server administrators can manage planners.")
		return
	}

	// Respond immediately; board refreshes can take longer than Discord waits
	deferEphemeral(s, i)

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	name, opts := subcommandPath(i.ApplicationCommandData())
	reply, err := b.runPlanner(ctx, s, i, name, opts)
	if err != nil {
		reply = b.errorReply(err, name)
	}
	editResponse(s, i, reply)
}

func (b *Bot) runPlanner(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, name string, opts options) (string, error) {
	channelID := i.ChannelID
	if id, ok := opts.id("channel"); ok {
		channelID = id
	}

	switch name {
	case "add":
		if err := b.planners.AddPlanner(ctx, channelID, i.GuildID); err != nil {
			return "", err
		}
		return fmt.Sprintf("<#%s> is now a planner. Use `/planner config` to finish setting it up.", channelID), nil

	case "new":
		ch, err := s.GuildChannelCreate(i.GuildID, opts.str("name"), discordgo.ChannelTypeGuildText, discordgo.WithContext(ctx))
		if err != nil {
			return "", fmt.Errorf("create channel: %w", err)
		}
		if err := b.planners.AddPlanner(ctx, ch.ID, i.GuildID); err != nil {
			return "", err
		}
		return fmt.Sprintf("Created planner <#%s>.", ch.ID), nil

	case "remove":
		if err := b.planners.RemovePlanner(ctx, channelID); err != nil {
			return "", err
		}
		return fmt.Sprintf("<#%s> is no longer a planner.", channelID), nil

	case "config":
		cfg, ok := plannerConfig(opts)
		if !ok {
			return "Nothing to change. Pick at least one setting.", nil
		}
		if err := b.planners.Configure(ctx, channelID, cfg); err != nil {
			return "", err
		}
		return "Planner updated.", nil

	case "on", "off":
		if err := b.planners.SetActive(ctx, channelID, name == "on"); err != nil {
			return "", err
		}
		return fmt.Sprintf("Pings are now **%s** for this planner.", strings.ToUpper(name)), nil

	case "clear":
		if err := b.planners.Clear(ctx, channelID); err != nil {
			return "", err
		}
		return "Cleared. Captures logged before now are ignored.", nil

	case "tiles add":
		code, err := b.resolveTile(ctx, opts.str("tile"))
		if err != nil {
			return "", err
		}
		if err := b.planners.AddTile(ctx, channelID, code, opts.integer("hours")); err != nil {
			return "", err
		}
		return fmt.Sprintf("Now tracking `%s`.", code), nil

	case "tiles remove":
		if err := b.planners.RemoveTile(ctx, channelID, opts.str("tile")); err != nil {
			return "", err
		}
		return fmt.Sprintf("Stopped tracking `%s`.", strings.ToUpper(opts.str("tile"))), nil

	case "tiles overwrite":
		codes := splitTiles(opts.str("tiles"))
		if len(codes) == 0 {
			banners, err := b.tiles.Banners(ctx)
			if err != nil {
				return "", fmt.Errorf("fetch banners: %w", err)
			}
			codes = banners
		}
		if err := b.planners.OverwriteTiles(ctx, channelID, codes, opts.integer("hours")); err != nil {
			return "", err
		}
		return fmt.Sprintf("Now tracking %d tiles.", len(codes)), nil

	case "tiles list":
		tiles, err := b.planners.TrackedTiles(ctx, channelID)
		if err != nil {
			return "", err
		}
		return formatTrackedTiles(tiles), nil

	case "edit-decay":
		at, err := parseTime(opts.str("time"))
		if err != nil {
			return "", err
		}
		if err := b.planners.EditDecay(ctx, channelID, opts.str("tile"), at); err != nil {
			return "", err
		}
		return fmt.Sprintf("`%s` now counts as captured <t:%d:f>.", strings.ToUpper(opts.str("tile")), at.Unix()), nil
	}
	return "", fmt.Errorf("unknown subcommand %q", name)
}

// resolveTile accepts a tile code or the name of a relic.
func (b *Bot) resolveTile(ctx context.Context, input string) (string, error) {
	code, err := capture.NormalizeTile(input)
	if err == nil {
		return code, nil
	}
	code, ok, lookupErr := b.tiles.RelicTile(ctx, input)
	if lookupErr != nil {
		b.logger.Warn().Err(lookupErr).Str("input", input).Msg("relic lookup failed")
		return "", err
	}
	if !ok {
		return "", err
	}
	return code, nil
}

func plannerConfig(opts options) (storage.PlannerConfig, bool) {
	var cfg storage.PlannerConfig
	fields := map[string]**string{
		"claims":      &cfg.ClaimsChannelID,
		"ping":        &cfg.PingChannelID,
		"team_role":   &cfg.PingRoleID,
		"ticket_role": &cfg.TicketRoleID,
	}
	set := false
	for name, field := range fields {
		if id, ok := opts.id(name); ok {
			*field = &id
			set = true
		}
	}
	if field, ok := fields[opts.str("unset")]; ok {
		*field = ptr("")
		set = true
	}
	return cfg, set
}

func splitTiles(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
}

func formatTrackedTiles(tiles []storage.TrackedTile) string {
	if len(tiles) == 0 {
		return "No tiles are tracked yet. Use `/planner tiles add` or `/planner tiles overwrite`."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Tracked tiles (%d):**\n", len(tiles))
	for _, t := range tiles {
		hours := t.ExpiresAfterHours
		if hours <= 0 {
			hours = storage.DefaultExpiresAfterHours
		}
		fmt.Fprintf(&sb, "`%s` %dh\n", t.TileCode, hours)
	}
	return sb.String()
}

var errBadTime = errors.New("unrecognised time")

// parseTime reads a Discord timestamp (<t:1700000000:R>), unix seconds,
// RFC 3339 or "2006-01-02 15:04" in UTC.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<t:") && strings.HasSuffix(s, ">") {
		s = strings.TrimSuffix(strings.TrimPrefix(s, "<t:"), ">")
		s, _, _ = strings.Cut(s, ":")
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02T15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", errBadTime, s)
}

// userMessage turns expected errors into a reply. It returns "" for
// unexpected ones.
func userMessage(err error) string {
	switch {
	case errors.Is(err, planner.ErrNotPlanner):
		return "That channel is not a planner. Use `/planner add` first."
	case errors.Is(err, planner.ErrAlreadyPlanner):
		return "That channel is already a planner."
	case errors.Is(err, planner.ErrTileNotTracked):
		return "That tile is not tracked by this planner."
	case errors.Is(err, planner.ErrAlreadyClaimed):
		return "Someone else already claimed that tile."
	case errors.Is(err, planner.ErrClaimLimit):
		return "You already hold the maximum number of claims."
	case errors.Is(err, planner.ErrInvalidTile):
		return "That is not a valid tile code."
	case errors.Is(err, planner.ErrEditTooEarly):
		return "There is no capture of that tile to edit, or the time is before this planner's start."
	case errors.Is(err, errBadTime):
		return "I could not read that time. Use a Discord timestamp, unix seconds or `2006-01-02 15:04`."
	case chat.IsForbidden(err):
		return "I don't have permission to do that here."
	}
	return ""
}

func (b *Bot) errorReply(err error, op string) string {
	if msg := userMessage(err); msg != "" {
		return msg
	}
	b.logger.Error().Err(err).Str("op", op).Msg("command failed")
	return "Something went wrong. Please try again."
}

func isNotPlanner(err error) bool {
	return errors.Is(err, planner.ErrNotPlanner)
}

func ptr[T any](v T) *T { return &v }

// Helper functions

func respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

func deferEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
}

func editResponse(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
	})
}
