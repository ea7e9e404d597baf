package board

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flor3z/ct-planner-bot/internal/chat"
	"github.com/flor3z/ct-planner-bot/internal/chat/chattest"
)

const (
	channel = "planner-1"
	timeout = time.Second
	tick    = 5 * time.Millisecond
)

func blocks(contents ...string) []Block {
	out := make([]Block, 0, len(contents))
	for _, c := range contents {
		out = append(out, Block{Content: c})
	}
	return out
}

func contents(msgs []chat.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}

func newReconciler(fake *chattest.Fake, tolerance int) *Reconciler {
	return NewReconciler(fake, tolerance, DefaultHistory, nil, zerolog.Nop())
}

func TestSync_EmptyChannelSendsAll(t *testing.T) {
	fake := chattest.New()
	rec := newReconciler(fake, 0)

	res, err := rec.Sync(context.Background(), channel, blocks("a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, ModeReplaced, res.Mode)
	assert.Equal(t, 3, res.Sent)
	assert.Equal(t, []string{"a", "b", "c"}, contents(fake.Messages(channel)))
}

func TestSync_UnchangedIsNoop(t *testing.T) {
	fake := chattest.New()
	rec := newReconciler(fake, 0)
	ctx := context.Background()
	board := []Block{
		{Content: "a"},
		{Content: "b", Menus: []chat.SelectMenu{{CustomID: "claim:0", Options: []chat.SelectOption{{Label: "AAA", Value: "AAA"}}}}},
	}

	_, err := rec.Sync(ctx, channel, board)
	require.NoError(t, err)
	fake.ResetCounters()

	res, err := rec.Sync(ctx, channel, board)
	require.NoError(t, err)
	assert.Equal(t, ModeModified, res.Mode)

	sends, edits, deletes := fake.Counts()
	assert.Zero(t, sends)
	assert.Zero(t, edits)
	assert.Zero(t, deletes)
}

func TestSync_EditsOnlyChangedMessages(t *testing.T) {
	fake := chattest.New()
	rec := newReconciler(fake, 0)
	ctx := context.Background()

	_, err := rec.Sync(ctx, channel, blocks("a", "b", "c"))
	require.NoError(t, err)
	before := fake.Messages(channel)
	fake.ResetCounters()

	res, err := rec.Sync(ctx, channel, blocks("a", "B", "c"))
	require.NoError(t, err)
	assert.Equal(t, ModeModified, res.Mode)
	assert.Equal(t, 1, res.Edited)

	after := fake.Messages(channel)
	assert.Equal(t, []string{"a", "B", "c"}, contents(after))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID, "message identity is preserved")
	}
}

func TestSync_ForeignMessageWithZeroToleranceReplaces(t *testing.T) {
	fake := chattest.New()
	rec := newReconciler(fake, 0)
	ctx := context.Background()

	_, err := rec.Sync(ctx, channel, blocks("a", "b"))
	require.NoError(t, err)
	fake.Post(channel, "user", "hello")
	fake.ResetCounters()

	res, err := rec.Sync(ctx, channel, blocks("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, ModeReplaced, res.Mode)
	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, []string{"hello", "a", "b"}, contents(fake.Messages(channel)))
}

func TestSync_ToleratedForeignMessagesAreDeleted(t *testing.T) {
	fake := chattest.New()
	rec := newReconciler(fake, 2)
	ctx := context.Background()

	_, err := rec.Sync(ctx, channel, blocks("a", "b"))
	require.NoError(t, err)
	fake.Post(channel, "user", "hi")
	fake.Post(channel, "user", "there")
	fake.ResetCounters()

	res, err := rec.Sync(ctx, channel, blocks("a", "b2"))
	require.NoError(t, err)
	assert.Equal(t, ModeModified, res.Mode)
	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, 1, res.Edited)
	assert.Equal(t, []string{"a", "b2"}, contents(fake.Messages(channel)))

	sends, _, _ := fake.Counts()
	assert.Zero(t, sends)
}

func TestSync_OneOverToleranceReplaces(t *testing.T) {
	fake := chattest.New()
	rec := newReconciler(fake, 2)
	ctx := context.Background()

	_, err := rec.Sync(ctx, channel, blocks("a", "b"))
	require.NoError(t, err)
	for _, text := range []string{"x", "y", "z"} {
		fake.Post(channel, "user", text)
	}

	res, err := rec.Sync(ctx, channel, blocks("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, ModeReplaced, res.Mode)
	assert.Equal(t, []string{"x", "y", "z", "a", "b"}, contents(fake.Messages(channel)))
}

func TestSync_ExtraOwnMessagesReplace(t *testing.T) {
	fake := chattest.New()
	rec := newReconciler(fake, 0)
	ctx := context.Background()

	_, err := rec.Sync(ctx, channel, blocks("a", "b", "c"))
	require.NoError(t, err)

	res, err := rec.Sync(ctx, channel, blocks("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, ModeReplaced, res.Mode)
	assert.Equal(t, 3, res.Deleted)
	assert.Equal(t, []string{"a", "b"}, contents(fake.Messages(channel)))
}

func TestSync_ForbiddenChannel(t *testing.T) {
	fake := chattest.New()
	fake.Forbidden[channel] = true
	rec := newReconciler(fake, 0)

	_, err := rec.Sync(context.Background(), channel, blocks("a"))
	assert.True(t, chat.IsForbidden(err))
}

type countingRenderer struct {
	calls atomic.Int32
	board []Block
	gate  chan struct{}
	// laterErr fails every call after the first.
	laterErr error
}

func (c *countingRenderer) RenderBoard(ctx context.Context, plannerID string) ([]Block, error) {
	n := c.calls.Add(1)
	if n == 1 && c.gate != nil {
		<-c.gate
	}
	if n > 1 && c.laterErr != nil {
		return nil, c.laterErr
	}
	return c.board, nil
}

// waiting reports how many callers wait for the follow-up sync.
func waiting(r *Refresher) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[channel]; ok && st.next != nil {
		return st.next.waiters
	}
	return 0
}

func TestRefresher_Refresh(t *testing.T) {
	fake := chattest.New()
	render := &countingRenderer{board: blocks("a")}
	r := NewRefresher(newReconciler(fake, 0), render)

	assert.True(t, r.LastRefresh(channel).IsZero())
	require.NoError(t, r.Refresh(context.Background(), channel))
	assert.False(t, r.LastRefresh(channel).IsZero())
	assert.Equal(t, []string{"a"}, contents(fake.Messages(channel)))
}

func TestRefresher_CoalescesConcurrentCalls(t *testing.T) {
	fake := chattest.New()
	render := &countingRenderer{board: blocks("a"), gate: make(chan struct{})}
	r := NewRefresher(newReconciler(fake, 0), render)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, r.Refresh(ctx, channel))
	}()

	// Wait until the first sync is blocked inside RenderBoard.
	require.Eventually(t, func() bool { return render.calls.Load() == 1 }, timeout, tick)

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Refresh(ctx, channel))
		}()
	}
	require.Eventually(t, func() bool { return waiting(r) == 5 }, timeout, tick)
	close(render.gate)
	wg.Wait()

	assert.Equal(t, int32(2), render.calls.Load(), "five queued calls collapse into one more pass")
}

func TestRefresher_CoalescedCallerSeesFollowUpError(t *testing.T) {
	fake := chattest.New()
	boom := errors.New("render failed")
	render := &countingRenderer{board: blocks("a"), gate: make(chan struct{}), laterErr: boom}
	r := NewRefresher(newReconciler(fake, 0), render)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() { first <- r.Refresh(ctx, channel) }()
	require.Eventually(t, func() bool { return render.calls.Load() == 1 }, timeout, tick)

	queued := make(chan error, 1)
	go func() { queued <- r.Refresh(ctx, channel) }()
	require.Eventually(t, func() bool { return waiting(r) == 1 }, timeout, tick)
	close(render.gate)

	assert.NoError(t, <-first, "the first sync succeeded")
	assert.ErrorIs(t, <-queued, boom)
}
