package capture

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/flor3z/ct-planner-bot/internal/storage"
)

// Emojis are the reactions that confirm a capture.
var Emojis = []string{"🟩", "👌", "🟢", "✅", "👍"}

// IsCaptureEmoji reports whether a reaction confirms a capture.
func IsCaptureEmoji(emoji string) bool {
	return slices.Contains(Emojis, emoji)
}

// Report is a claims channel message as the tracker needs it.
type Report struct {
	AuthorID string
	Content  string
	// Confirmations counts the capture emoji reactions still on the message.
	Confirmations int
}

// Fetcher loads a reported message.
type Fetcher interface {
	FetchReport(ctx context.Context, channelID, messageID string) (*Report, error)
}

// Store is the persistence the tracker needs.
type Store interface {
	PlannersByClaimsChannel(ctx context.Context, claimsChannelID string) ([]*storage.Planner, error)
	InsertCapture(ctx context.Context, c *storage.Capture) error
	DeleteCaptureByMessage(ctx context.Context, messageID string) (*storage.Capture, error)
}

// Tracker turns capture reactions into logged captures.
type Tracker struct {
	store    Store
	fetcher  Fetcher
	registry *Registry
	logger   zerolog.Logger
	now      func() time.Time
}

// NewTracker creates a Tracker.
func NewTracker(store Store, fetcher Fetcher, registry *Registry, logger zerolog.Logger) *Tracker {
	return &Tracker{
		store:    store,
		fetcher:  fetcher,
		registry: registry,
		logger:   logger.With().Str("component", "capture").Logger(),
		now:      time.Now,
	}
}

func (t *Tracker) isClaimsChannel(ctx context.Context, channelID string) (bool, error) {
	planners, err := t.store.PlannersByClaimsChannel(ctx, channelID)
	if err != nil {
		return false, fmt.Errorf("lookup claims channel: %w", err)
	}
	return len(planners) > 0, nil
}

// ReactionAdded logs a capture when a capture emoji is added to a message
// naming a tile. The message author is the capturer. Messages that already
// back a capture are ignored.
func (t *Tracker) ReactionAdded(ctx context.Context, channelID, messageID, emoji string) error {
	if !IsCaptureEmoji(emoji) {
		return nil
	}
	ok, err := t.isClaimsChannel(ctx, channelID)
	if err != nil || !ok {
		return err
	}

	report, err := t.fetcher.FetchReport(ctx, channelID, messageID)
	if err != nil {
		return fmt.Errorf("fetch report: %w", err)
	}
	tile, found := FindTile(report.Content)
	if !found {
		return nil
	}

	c := &storage.Capture{
		ChannelID: channelID,
		TileCode:  tile,
		UserID:    report.AuthorID,
		MessageID: messageID,
		ClaimedAt: t.now().UTC(),
	}
	err = t.store.InsertCapture(ctx, c)
	if errors.Is(err, storage.ErrConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("log capture: %w", err)
	}

	t.logger.Info().Str("tile", tile).Str("channel", channelID).Str("user", c.UserID).Msg("capture logged")
	t.registry.Registered(ctx, Event{
		TileCode:        tile,
		ClaimsChannelID: channelID,
		UserID:          c.UserID,
		MessageID:       messageID,
		At:              c.ClaimedAt,
	})
	return nil
}

// ReactionRemoved withdraws a capture once its message has no capture emoji
// left.
func (t *Tracker) ReactionRemoved(ctx context.Context, channelID, messageID, emoji string) error {
	if !IsCaptureEmoji(emoji) {
		return nil
	}
	ok, err := t.isClaimsChannel(ctx, channelID)
	if err != nil || !ok {
		return err
	}

	report, err := t.fetcher.FetchReport(ctx, channelID, messageID)
	if err != nil {
		return fmt.Errorf("fetch report: %w", err)
	}
	if report.Confirmations > 0 {
		return nil
	}

	c, err := t.store.DeleteCaptureByMessage(ctx, messageID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("withdraw capture: %w", err)
	}

	t.logger.Info().Str("tile", c.TileCode).Str("channel", channelID).Str("user", c.UserID).Msg("capture withdrawn")
	t.registry.Unregistered(ctx, Event{
		TileCode:        c.TileCode,
		ClaimsChannelID: channelID,
		UserID:          c.UserID,
		MessageID:       messageID,
		At:              c.ClaimedAt,
	})
	return nil
}

// DiscordFetcher loads reports through a discordgo session.
type DiscordFetcher struct {
	Session *discordgo.Session
}

// FetchReport implements Fetcher.
func (f DiscordFetcher) FetchReport(ctx context.Context, channelID, messageID string) (*Report, error) {
	m, err := f.Session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	r := &Report{Content: m.Content}
	if m.Author != nil {
		r.AuthorID = m.Author.ID
	}
	for _, reaction := range m.Reactions {
		if reaction.Emoji != nil && IsCaptureEmoji(reaction.Emoji.Name) {
			r.Confirmations += reaction.Count
		}
	}
	return r, nil
}
