package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/flor3z/ct-planner-bot/internal/calendar"
	"github.com/flor3z/ct-planner-bot/internal/capture"
	"github.com/flor3z/ct-planner-bot/internal/chat"
	"github.com/flor3z/ct-planner-bot/internal/config"
	"github.com/flor3z/ct-planner-bot/internal/health"
	"github.com/flor3z/ct-planner-bot/internal/metrics"
	"github.com/flor3z/ct-planner-bot/internal/ninjakiwi"
	"github.com/flor3z/ct-planner-bot/internal/planner"
	"github.com/flor3z/ct-planner-bot/internal/scheduler"
	"github.com/flor3z/ct-planner-bot/internal/storage"
)

// handlerTimeout bounds the work done for one gateway event.
const handlerTimeout = 15 * time.Second

// Bot represents the Discord bot instance
type Bot struct {
	config    *config.Config
	session   *discordgo.Session
	repo      *storage.Repository
	planners  *planner.Service
	tracker   *capture.Tracker
	tiles     *ninjakiwi.TileSource
	scheduler *scheduler.Scheduler
	server    *health.Server
	commands  []*discordgo.ApplicationCommand
	logger    zerolog.Logger
}

// New creates a new Bot instance
func New(cfg *config.Config, logger zerolog.Logger) (*Bot, error) {
	// Create Discord session
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	// Set intents
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent

	cal := calendar.Default()
	if cfg.CalendarPath != "" {
		if cal, err = calendar.LoadFile(cfg.CalendarPath); err != nil {
			return nil, fmt.Errorf("failed to load calendar: %w", err)
		}
	}

	// Initialize storage
	repo, err := storage.NewRepository(cfg.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var states scheduler.StateStore = scheduler.SQLStateStore{Repo: repo}
	if cfg.StateBackend == "file" {
		fs, err := scheduler.NewFileStateStore(cfg.StatePath)
		if err != nil {
			repo.Close()
			return nil, fmt.Errorf("failed to initialize state directory: %w", err)
		}
		states = fs
	}

	m := metrics.New()
	client := chat.NewDiscord(session, chat.DefaultRetryConfig(), logger)
	planners := planner.New(repo, cal, client, cfg.Planner(), m, logger)

	// Everything that reacts to captures subscribes here
	registry := capture.NewRegistry()
	registry.Register(planners)
	logger.Info().Strs("subscribers", registry.Names()).Msg("capture subscribers registered")

	b := &Bot{
		config:    cfg,
		session:   session,
		repo:      repo,
		planners:  planners,
		tracker:   capture.NewTracker(repo, capture.DiscordFetcher{Session: session}, registry, logger),
		tiles:     ninjakiwi.NewTileSource(ninjakiwi.NewClient(cfg.NinjaKiwiBaseURL)),
		scheduler: scheduler.New(planners, states, cfg.Scheduler(), m, logger),
		logger:    logger.With().Str("component", "bot").Logger(),
	}

	if cfg.HTTPAddr != "" {
		checker := health.NewChecker(logger)
		checker.Register("store", health.ErrorCheck(repo.Ping))
		checker.Register("chat", b.sessionCheck)
		b.server = health.NewServer(cfg.HTTPAddr, checker, m.Handler(), logger)
	}

	// Register event handlers
	b.registerHandlers()

	return b, nil
}

// Run connects to Discord and runs the scheduler and the HTTP server until
// ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	defer b.close()

	// Open Discord connection
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}
	b.logger.Info().Str("user", b.session.State.User.Username).Msg("connected to Discord")

	// Register slash commands
	if err := b.registerCommands(); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.scheduler.Run(ctx) })
	if b.server != nil {
		g.Go(func() error { return b.server.Run(ctx) })
	}
	return g.Wait()
}

func (b *Bot) close() {
	if err := b.session.Close(); err != nil {
		b.logger.Warn().Err(err).Msg("closing Discord session")
	}
	if err := b.repo.Close(); err != nil {
		b.logger.Warn().Err(err).Msg("closing storage")
	}
}

func (b *Bot) sessionCheck(context.Context) health.Status {
	if b.session.DataReady {
		return health.StatusOK
	}
	return health.StatusDown
}

// registerHandlers sets up Discord event handlers
func (b *Bot) registerHandlers() {
	b.session.AddHandler(b.handleInteraction)
	b.session.AddHandler(b.handleReactionAdd)
	b.session.AddHandler(b.handleReactionRemove)
	b.session.AddHandler(b.handleChannelDelete)
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.logger.Info().Int("guilds", len(r.Guilds)).Msg("bot is ready")
	})
}

// handleInteraction routes slash commands and claim menus
func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		b.logger.Debug().Str("command", data.Name).Str("guild", i.GuildID).Msg("received command")
		if data.Name == plannerCommand {
			b.handlePlanner(s, i)
			return
		}
		b.logger.Warn().Str("command", data.Name).Msg("unknown command")
	case discordgo.InteractionMessageComponent:
		if strings.HasPrefix(i.MessageComponentData().CustomID, planner.ClaimMenuPrefix) {
			b.handleClaimSelect(s, i)
		}
	}
}

func (b *Bot) handleReactionAdd(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	if err := b.tracker.ReactionAdded(ctx, r.ChannelID, r.MessageID, r.Emoji.Name); err != nil {
		b.logger.Error().Err(err).Str("channel", r.ChannelID).Str("message", r.MessageID).Msg("failed to log capture")
	}
}

func (b *Bot) handleReactionRemove(s *discordgo.Session, r *discordgo.MessageReactionRemove) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	if err := b.tracker.ReactionRemoved(ctx, r.ChannelID, r.MessageID, r.Emoji.Name); err != nil {
		b.logger.Error().Err(err).Str("channel", r.ChannelID).Str("message", r.MessageID).Msg("failed to withdraw capture")
	}
}

// handleChannelDelete drops the planner of a deleted channel right away
// instead of waiting for the next board refresh to notice.
func (b *Bot) handleChannelDelete(s *discordgo.Session, c *discordgo.ChannelDelete) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	if err := b.planners.RemovePlanner(ctx, c.ID); err != nil && !isNotPlanner(err) {
		b.logger.Error().Err(err).Str("channel", c.ID).Msg("failed to remove planner of deleted channel")
	}
}
