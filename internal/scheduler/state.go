package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"

	"github.com/flor3z/ct-planner-bot/internal/storage"
)

// StateStore persists the named state of each poller between restarts.
type StateStore interface {
	// Load returns nil data when nothing was saved under name.
	Load(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, data []byte) error
}

// SQLStateStore keeps poller state in the bot's database.
type SQLStateStore struct {
	Repo *storage.Repository
}

func (s SQLStateStore) Load(ctx context.Context, name string) ([]byte, error) {
	data, _, err := s.Repo.LoadState(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (s SQLStateStore) Save(ctx context.Context, name string, data []byte) error {
	return s.Repo.SaveState(ctx, name, data)
}

// FileStateStore keeps each poller's state in its own JSON file. Files are
// replaced atomically so a crash never leaves a torn state behind.
type FileStateStore struct {
	Dir string
}

// NewFileStateStore creates dir if needed.
func NewFileStateStore(dir string) (*FileStateStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileStateStore{Dir: dir}, nil
}

func (s *FileStateStore) path(name string) string {
	return filepath.Join(s.Dir, name+".json")
}

func (s *FileStateStore) Load(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

func (s *FileStateStore) Save(_ context.Context, name string, data []byte) error {
	return atomic.WriteFile(s.path(name), bytes.NewReader(data))
}

// reminderCursor is one reminder window of one planner. End is exclusive;
// the next window starts where the previous one ended.
type reminderCursor struct {
	Next time.Time `json:"next"`
	End  time.Time `json:"end"`
}

// reminderState drives the reminder poller, keyed by planner.
type reminderState struct {
	Claimed   map[string]reminderCursor `json:"claimed"`
	Unclaimed map[string]reminderCursor `json:"unclaimed"`
}

// decayState drives the decay sweeper. Next caches the earliest upcoming
// expiry per planner; Checked is where the last sweep stopped.
type decayState struct {
	Checked time.Time            `json:"checked"`
	Next    map[string]time.Time `json:"check_back"`
}

// refreshState holds when each planner's board is due for a refresh.
type refreshState struct {
	Next map[string]time.Time `json:"next_refresh"`
}

// rolloverState is the event day the last rollover pass ran for. Day is 0
// once the event is over.
type rolloverState struct {
	Event int `json:"event"`
	Day   int `json:"day"`
}

func loadState(ctx context.Context, store StateStore, name string, into any) error {
	data, err := store.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("load %s state: %w", name, err)
	}
	if data == nil {
		return nil
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("decode %s state: %w", name, err)
	}
	return nil
}

func saveState(ctx context.Context, store StateStore, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s state: %w", name, err)
	}
	if err := store.Save(ctx, name, data); err != nil {
		return fmt.Errorf("save %s state: %w", name, err)
	}
	return nil
}
