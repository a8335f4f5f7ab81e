// Package checkpoint persists pipeline runs so they can be paused and resumed.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/vinayprograms/hackmate/internal/stage"
	"github.com/vinayprograms/hackmate/internal/state"
)

// Status of a run.
type Status string

const (
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusComplete Status = "complete"
)

// ErrNotFound is returned by Load and Delete for unknown sessions.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is the persisted form of one run: its state and the node the
// driver executes next.
type Checkpoint struct {
	SessionID string            `json:"session_id"`
	Node      string            `json:"node"`
	Status    Status            `json:"status"`
	Idea      string            `json:"idea"`
	State     *state.AgentState `json:"state"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	EventSeq  uint64            `json:"event_seq,omitempty"` // last event sequence issued
}

// Summary is the listing view of a checkpoint.
type Summary struct {
	SessionID string     `json:"session_id"`
	Node      string     `json:"node"`
	Status    Status     `json:"status"`
	Idea      string     `json:"idea"`
	Completed []stage.ID `json:"completed"`
	Turns     int        `json:"turns"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Summary returns the listing view.
func (c *Checkpoint) Summary() Summary {
	s := Summary{
		SessionID: c.SessionID,
		Node:      c.Node,
		Status:    c.Status,
		Idea:      c.Idea,
		UpdatedAt: c.UpdatedAt,
	}
	if c.State != nil {
		s.Completed = c.State.CompletedStages.Slice()
		s.Turns = len(c.State.Messages)
	}
	return s
}

// Clone returns a deep copy.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	cp := *c
	cp.State = c.State.Clone()
	return &cp
}

// Store persists checkpoints keyed by session id.
type Store interface {
	Save(ctx context.Context, cp *Checkpoint) error
	Load(ctx context.Context, sessionID string) (*Checkpoint, error)
	List(ctx context.Context) ([]Summary, error)
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

// Pruner is implemented by stores that can drop old checkpoints in one call.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Prune deletes every checkpoint last updated before the cutoff and returns
// how many were removed. Paused and running runs are pruned like finished ones.
func Prune(ctx context.Context, s Store, before time.Time) (int64, error) {
	if p, ok := s.(Pruner); ok {
		return p.Prune(ctx, before)
	}
	list, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, sum := range list {
		if !sum.UpdatedAt.Before(before) {
			continue
		}
		if err := s.Delete(ctx, sum.SessionID); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return n, fmt.Errorf("failed to prune %s: %w", sum.SessionID, err)
		}
		n++
	}
	return n, nil
}

func validate(cp *Checkpoint) error {
	if cp == nil {
		return errors.New("nil checkpoint")
	}
	if cp.SessionID == "" {
		return errors.New("checkpoint has no session id")
	}
	if cp.State == nil {
		return fmt.Errorf("checkpoint %s has no state", cp.SessionID)
	}
	return nil
}

// encode and decode are the JSON blob form shared by the sqlite and redis stores.
func encode(cp *Checkpoint) ([]byte, error) {
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint: %w", err)
	}
	if cp.State == nil {
		cp.State = &state.AgentState{}
	}
	return &cp, nil
}

// sortSummaries orders most recently updated first.
func sortSummaries(s []Summary) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].UpdatedAt.Equal(s[j].UpdatedAt) {
			return s[i].SessionID < s[j].SessionID
		}
		return s[i].UpdatedAt.After(s[j].UpdatedAt)
	})
}
