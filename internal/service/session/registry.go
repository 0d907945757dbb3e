package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zhouzirui/safe-connect/backend/internal/model/chat"
)

// IDBytes is the number of random bytes per session id (128 bits).
const IDBytes = 16

const maxIDAttempts = 8

var (
	ErrIDExhausted = errors.New("could not allocate a unique session id")
	ErrNilConn     = errors.New("connection handle is required")
)

// IDSource produces candidate session identifiers.
type IDSource func() (string, error)

// RandomID returns IDBytes of crypto/rand entropy, hex encoded.
func RandomID() (string, error) {
	var buf [IDBytes]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}

// Registry maps session ids to live sessions.
type Registry struct {
	roomID string
	newID  IDSource
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*chat.Session
}

// Option customises a Registry.
type Option func(*Registry)

// WithIDSource replaces the id generator.
func WithIDSource(src IDSource) Option {
	return func(r *Registry) { r.newID = src }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry returns an empty registry whose sessions reference roomID.
func NewRegistry(roomID string, opts ...Option) *Registry {
	r := &Registry{
		roomID:   roomID,
		newID:    RandomID,
		now:      func() time.Time { return time.Now().UTC() },
		sessions: make(map[string]*chat.Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create allocates a fresh id and inserts an ACTIVE session owning conn.
// Only live ids are checked for collisions; nothing about a removed session is
// kept, and 128 random bits make reuse of an old id negligible.
func (r *Registry) Create(conn chat.Conn) (*chat.Session, error) {
	if conn == nil {
		return nil, ErrNilConn
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := r.newID()
		if err != nil {
			return nil, err
		}
		if id == "" {
			continue
		}

		r.mu.Lock()
		if _, live := r.sessions[id]; live {
			r.mu.Unlock()
			continue
		}
		s := chat.NewSession(id, r.roomID, conn, r.now())
		r.sessions[id] = s
		r.mu.Unlock()
		return s, nil
	}
	return nil, ErrIDExhausted
}

// Get retrieves a live session.
func (r *Registry) Get(id string) (*chat.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes the session and reports whether it was present. Removing an
// unknown id is a no-op.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if ok {
		s.SetState(chat.StateClosed)
	}
	return ok
}

// ForEach calls fn for every session in a snapshot taken at call time.
func (r *Registry) ForEach(fn func(*chat.Session)) {
	for _, s := range r.snapshot() {
		fn(s)
	}
}

// Active returns a snapshot of sessions still in the ACTIVE state.
func (r *Registry) Active() []*chat.Session {
	all := r.snapshot()
	out := all[:0]
	for _, s := range all {
		if s.State() == chat.StateActive {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) snapshot() []*chat.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*chat.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
