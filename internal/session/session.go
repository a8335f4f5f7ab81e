// Package session tracks live pipeline runs within one process.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Session is one live run. Its mutex serializes the nodes of the run; its
// counter sequences the events the run publishes.
type Session struct {
	ID        string
	Idea      string
	CreatedAt time.Time

	mu         sync.Mutex
	seqCounter uint64
}

// NextSeq returns the next event sequence number for this session.
func (s *Session) NextSeq() uint64 {
	return atomic.AddUint64(&s.seqCounter, 1)
}

// CurrentSeq returns the last used sequence number without incrementing.
func (s *Session) CurrentSeq() uint64 {
	return atomic.LoadUint64(&s.seqCounter)
}

// Observe raises the counter to at least seq. A run continued in a new
// process observes the sequence its checkpoint recorded, so its events keep
// increasing across processes.
func (s *Session) Observe(seq uint64) {
	for {
		cur := atomic.LoadUint64(&s.seqCounter)
		if cur >= seq || atomic.CompareAndSwapUint64(&s.seqCounter, cur, seq) {
			return
		}
	}
}

// Registry is a concurrent map of live sessions keyed by id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register adds a session, or returns the existing one for id.
func (r *Registry) Register(id, idea string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		if s.Idea == "" {
			s.Idea = idea
		}
		return s
	}
	s := &Session{ID: id, Idea: idea, CreatedAt: time.Now()}
	r.sessions[id] = s
	return s
}

// Remove forgets a session and reports whether it did. A session whose lock
// is held is left in place.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return true
	}
	if !s.mu.TryLock() {
		return false
	}
	delete(r.sessions, id)
	s.mu.Unlock()
	return true
}

// Lock blocks until the caller owns session id, registering it if needed, and
// returns the unlock function. Different sessions never contend.
func (r *Registry) Lock(id string) func() {
	s := r.Register(id, "")
	s.mu.Lock()
	return s.mu.Unlock
}

// NewID returns a fresh session id.
func NewID() string {
	return uuid.NewString()
}
