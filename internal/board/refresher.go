package board

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Renderer produces the current board of a planner. The planner ID is the
// channel the board lives in.
type Renderer interface {
	RenderBoard(ctx context.Context, plannerID string) ([]Block, error)
}

// pass is a follow-up sync shared by every caller that arrived while the
// previous sync was running.
type pass struct {
	done    chan struct{}
	err     error
	waiters int
}

type refreshState struct {
	running bool
	next    *pass
	last    time.Time
}

// Refresher renders and syncs boards, one planner at a time. Concurrent
// Refresh calls for the same planner coalesce: calls arriving while a sync
// runs share one follow-up sync, so the last sync always starts after the
// last call, and each caller gets the result of the sync that covers it.
type Refresher struct {
	rec    *Reconciler
	render Renderer
	now    func() time.Time

	mu     sync.Mutex
	states map[string]*refreshState
}

// NewRefresher creates a Refresher.
func NewRefresher(rec *Reconciler, render Renderer) *Refresher {
	return &Refresher{
		rec:    rec,
		render: render,
		now:    time.Now,
		states: make(map[string]*refreshState),
	}
}

// Refresh re-renders a planner's board and syncs it. A call that arrives
// while another goroutine is syncing that planner waits for the follow-up
// sync and returns its error.
func (r *Refresher) Refresh(ctx context.Context, plannerID string) error {
	r.mu.Lock()
	st, ok := r.states[plannerID]
	if !ok {
		st = &refreshState{}
		r.states[plannerID] = st
	}
	if st.running {
		if st.next == nil {
			st.next = &pass{done: make(chan struct{})}
		}
		p := st.next
		p.waiters++
		r.mu.Unlock()
		select {
		case <-p.done:
			return p.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	st.running = true
	r.mu.Unlock()

	err := r.syncOnce(ctx, plannerID)
	r.synced(st, err)
	for {
		r.mu.Lock()
		p := st.next
		st.next = nil
		if p == nil {
			st.running = false
			r.mu.Unlock()
			return err
		}
		r.mu.Unlock()

		p.err = r.syncOnce(ctx, plannerID)
		r.synced(st, p.err)
		close(p.done)
	}
}

func (r *Refresher) synced(st *refreshState, err error) {
	if err != nil {
		return
	}
	r.mu.Lock()
	st.last = r.now()
	r.mu.Unlock()
}

func (r *Refresher) syncOnce(ctx context.Context, plannerID string) error {
	blocks, err := r.render.RenderBoard(ctx, plannerID)
	if err != nil {
		return fmt.Errorf("render board: %w", err)
	}
	if _, err := r.rec.Sync(ctx, plannerID, blocks); err != nil {
		return fmt.Errorf("sync board: %w", err)
	}
	return nil
}

// LastRefresh is when the planner's board was last synced successfully by
// this process, or the zero time.
func (r *Refresher) LastRefresh(plannerID string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[plannerID]; ok {
		return st.last
	}
	return time.Time{}
}

// Forget drops the bookkeeping of a deleted planner.
func (r *Refresher) Forget(plannerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[plannerID]; ok && !st.running {
		delete(r.states, plannerID)
	}
}
