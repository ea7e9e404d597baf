// Package board keeps a planner's status board in sync with its channel.
//
// A board is an ordered list of blocks, each posted as one message. Sync
// walks the channel's trailing messages and either edits the bot's existing
// board messages in place or deletes them and posts the board again.
package board

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog"

	"github.com/flor3z/ct-planner-bot/internal/chat"
	"github.com/flor3z/ct-planner-bot/internal/metrics"
)

// DefaultHistory is how many trailing messages Sync inspects.
const DefaultHistory = 25

// Block is one message of a board.
type Block struct {
	Content string
	Menus   []chat.SelectMenu
}

// Mode is how Sync brought the channel up to date.
type Mode string

const (
	// ModeModified means the existing messages were kept and edited.
	ModeModified Mode = "modified"
	// ModeReplaced means the old messages were deleted and the board resent.
	ModeReplaced Mode = "replaced"
)

// Result summarises one Sync call.
type Result struct {
	Mode    Mode
	Sent    int
	Edited  int
	Deleted int
}

// Reconciler syncs boards into channels.
type Reconciler struct {
	client    chat.Client
	tolerance int
	history   int
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewReconciler creates a Reconciler. tolerance is the number of foreign
// messages allowed between the board messages; 0 means the board must be the
// channel's last messages or it is resent.
func NewReconciler(client chat.Client, tolerance, history int, m *metrics.Metrics, logger zerolog.Logger) *Reconciler {
	if history <= 0 {
		history = DefaultHistory
	}
	if tolerance < 0 {
		tolerance = 0
	}
	return &Reconciler{
		client:    client,
		tolerance: tolerance,
		history:   history,
		metrics:   m,
		logger:    logger.With().Str("component", "board").Logger(),
	}
}

// scan is the result of walking a channel newest to oldest.
type scan struct {
	own      []chat.Message // every own message in the window, newest first
	toChange []chat.Message // the newest len(blocks) own messages, newest first
	foreign  []chat.Message // foreign messages seen before toChange filled up
}

func (r *Reconciler) scan(msgs []chat.Message, want int) scan {
	self := r.client.SelfID()
	var s scan
	for _, m := range msgs {
		if m.AuthorID == self {
			s.own = append(s.own, m)
			if len(s.toChange) < want {
				s.toChange = append(s.toChange, m)
			}
			continue
		}
		if len(s.toChange) < want {
			s.foreign = append(s.foreign, m)
		}
	}
	return s
}

// Sync makes the channel's board show blocks.
func (r *Reconciler) Sync(ctx context.Context, channelID string, blocks []Block) (Result, error) {
	msgs, err := r.client.FetchRecentMessages(ctx, channelID, r.history)
	if err != nil {
		return Result{}, fmt.Errorf("fetch history: %w", err)
	}

	s := r.scan(msgs, len(blocks))
	logger := r.logger.With().Str("channel", channelID).Logger()

	if len(s.foreign) <= r.tolerance && len(s.own) == len(blocks) {
		res, err := r.modify(ctx, channelID, blocks, s)
		if err == nil {
			r.metrics.RecordBoardSync(string(ModeModified))
			logger.Debug().Int("edited", res.Edited).Int("deleted", res.Deleted).Msg("board modified")
			return res, nil
		}
		if !chat.IsForbidden(err) && !chat.IsNotFound(err) {
			r.metrics.RecordBoardSync("error")
			return res, err
		}
		// Could not clear the interleaved messages: post the board again below.
		logger.Warn().Err(err).Msg("board modify failed, replacing")
		msgs, err = r.client.FetchRecentMessages(ctx, channelID, r.history)
		if err != nil {
			return res, fmt.Errorf("fetch history: %w", err)
		}
		s = r.scan(msgs, len(blocks))
	}

	res, err := r.replace(ctx, channelID, blocks, s)
	if err != nil {
		r.metrics.RecordBoardSync("error")
		return res, err
	}
	r.metrics.RecordBoardSync(string(ModeReplaced))
	logger.Debug().Int("sent", res.Sent).Int("deleted", res.Deleted).Msg("board replaced")
	return res, nil
}

func (r *Reconciler) modify(ctx context.Context, channelID string, blocks []Block, s scan) (Result, error) {
	res := Result{Mode: ModeModified}
	for _, m := range s.foreign {
		if err := r.client.DeleteMessage(ctx, channelID, m.ID); err != nil {
			return res, fmt.Errorf("delete foreign message: %w", err)
		}
		res.Deleted++
	}

	current := slices.Clone(s.toChange)
	slices.Reverse(current)
	for i, block := range blocks {
		if current[i].SameBody(block.Content, block.Menus) {
			continue
		}
		if err := r.client.EditMessage(ctx, channelID, current[i].ID, block.Content, block.Menus); err != nil {
			return res, fmt.Errorf("edit board message: %w", err)
		}
		res.Edited++
	}
	return res, nil
}

func (r *Reconciler) replace(ctx context.Context, channelID string, blocks []Block, s scan) (Result, error) {
	res := Result{Mode: ModeReplaced}
	for _, m := range s.own {
		err := r.client.DeleteMessage(ctx, channelID, m.ID)
		if err != nil && !chat.IsNotFound(err) {
			return res, fmt.Errorf("delete board message: %w", err)
		}
		res.Deleted++
	}
	for _, block := range blocks {
		if _, err := r.client.SendMessage(ctx, channelID, block.Content, block.Menus); err != nil {
			return res, fmt.Errorf("send board message: %w", err)
		}
		res.Sent++
	}
	return res, nil
}
