package chat

import (
	"sync"
	"time"
)

// State is the lifecycle state of a session.
type State string

const (
	StateActive  State = "ACTIVE"
	StateClosing State = "CLOSING"
	StateClosed  State = "CLOSED"
)

// Conn is the transport handle owned by exactly one session.
type Conn interface {
	// Send queues an envelope for delivery and reports whether it was accepted.
	Send(Envelope) bool
	// Close tears the transport down. It must be safe to call more than once.
	Close()
}

// Session captures a transient anonymous conversation.
type Session struct {
	ID        string
	RoomID    string
	CreatedAt time.Time

	conn Conn

	mu           sync.Mutex
	state        State
	lastActivity time.Time
	transcript   []Message
}

// NewSession returns an ACTIVE session bound to conn.
func NewSession(id, roomID string, conn Conn, now time.Time) *Session {
	return &Session{
		ID:           id,
		RoomID:       roomID,
		CreatedAt:    now,
		conn:         conn,
		state:        StateActive,
		lastActivity: now,
		transcript:   make([]Message, 0, 16),
	}
}

// Conn returns the transport handle.
func (s *Session) Conn() Conn { return s.conn }

// Send delivers an envelope unless the session is already closed.
func (s *Session) Send(env Envelope) bool {
	if s.State() == StateClosed || s.conn == nil {
		return false
	}
	return s.conn.Send(env)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState moves the session forward. Transitions never go backwards.
func (s *Session) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rank(state) > rank(s.state) {
		s.state = state
	}
}

func rank(s State) int {
	switch s {
	case StateActive:
		return 0
	case StateClosing:
		return 1
	default:
		return 2
	}
}

// Touch records client activity.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

func (s *Session) LastActivityAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Append adds a message to the volatile transcript.
func (s *Session) Append(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return
	}
	s.transcript = append(s.transcript, m)
}

// Transcript returns a copy of the volatile transcript.
func (s *Session) Transcript() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]Message, len(s.transcript))
	copy(copied, s.transcript)
	return copied
}

// DropTranscript discards every message. The backing array is zeroed first so
// the text does not linger in memory reachable from the session.
func (s *Session) DropTranscript() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.transcript {
		s.transcript[i] = Message{}
	}
	s.transcript = nil
}
