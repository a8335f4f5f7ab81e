package checkpoint

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vinayprograms/hackmate/internal/conversation"
	"github.com/vinayprograms/hackmate/internal/state"
)

// JSONL record types. A checkpoint file is one header line, one line per turn
// and one footer line.
const (
	RecordTypeHeader = "header"
	RecordTypeTurn   = "turn"
	RecordTypeFooter = "footer"
)

// Record is one line of a checkpoint file.
type Record struct {
	RecordType string `json:"_type"`

	// header
	SessionID string    `json:"session_id,omitempty"`
	Idea      string    `json:"idea,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`

	// turn
	Seq  int                `json:"seq,omitempty"`
	Turn *conversation.Turn `json:"turn,omitempty"`

	// footer; State carries everything except the messages
	Node      string            `json:"node,omitempty"`
	Status    Status            `json:"status,omitempty"`
	State     *state.AgentState `json:"state,omitempty"`
	UpdatedAt time.Time         `json:"updated_at,omitempty"`
	EventSeq  uint64            `json:"event_seq,omitempty"`
}

// FileStore keeps one JSONL file per session in a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(sessionID string) (string, error) {
	if sessionID == "" || strings.ContainsAny(sessionID, `/\`) || sessionID == "." || sessionID == ".." {
		return "", fmt.Errorf("invalid session id %q", sessionID)
	}
	return filepath.Join(s.dir, sessionID+".jsonl"), nil
}

// Save writes the checkpoint to a temporary file and renames it into place,
// so readers never observe a partial file.
func (s *FileStore) Save(ctx context.Context, cp *Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validate(cp); err != nil {
		return err
	}
	path, err := s.path(cp.SessionID)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	w := func(r Record) error {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
		return nil
	}

	if err := w(Record{RecordType: RecordTypeHeader, SessionID: cp.SessionID, Idea: cp.Idea, CreatedAt: cp.CreatedAt}); err != nil {
		return err
	}
	for i := range cp.State.Messages {
		turn := cp.State.Messages[i]
		if err := w(Record{RecordType: RecordTypeTurn, Seq: i + 1, Turn: &turn}); err != nil {
			return err
		}
	}
	rest := *cp.State
	rest.Messages = nil
	if err := w(Record{RecordType: RecordTypeFooter, Node: cp.Node, Status: cp.Status, State: &rest, UpdatedAt: cp.UpdatedAt, EventSeq: cp.EventSeq}); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "."+cp.SessionID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	return nil
}

func (s *FileStore) Load(ctx context.Context, sessionID string) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.path(sessionID)
	if err != nil {
		return nil, err
	}
	return loadJSONL(path)
}

func loadJSONL(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer f.Close()

	cp := &Checkpoint{}
	var turns []conversation.Turn
	sawFooter := false

	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var r Record
			if perr := json.Unmarshal(bytes.TrimSpace(line), &r); perr != nil {
				return nil, fmt.Errorf("failed to parse JSONL line: %w", perr)
			}
			switch r.RecordType {
			case RecordTypeHeader:
				cp.SessionID = r.SessionID
				cp.Idea = r.Idea
				cp.CreatedAt = r.CreatedAt
			case RecordTypeTurn:
				if r.Turn != nil {
					turns = append(turns, *r.Turn)
				}
			case RecordTypeFooter:
				sawFooter = true
				cp.Node = r.Node
				cp.Status = r.Status
				cp.State = r.State
				cp.UpdatedAt = r.UpdatedAt
				cp.EventSeq = r.EventSeq
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("error reading JSONL: %w", err)
		}
	}

	if !sawFooter {
		return nil, fmt.Errorf("checkpoint %s is truncated", filepath.Base(path))
	}
	if cp.State == nil {
		cp.State = &state.AgentState{}
	}
	cp.State.Messages = turns
	return cp, nil
}

func (s *FileStore) List(ctx context.Context) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Summary
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".jsonl" || strings.HasPrefix(name, ".") {
			continue
		}
		cp, err := loadJSONL(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		out = append(out, cp.Summary())
	}
	sortSummaries(out)
	return out, nil
}

func (s *FileStore) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(sessionID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
