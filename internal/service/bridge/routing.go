package bridge

import (
	"regexp"
	"strings"
)

// Drop reasons, also used as metric labels.
const (
	DropNoSession      = "no_session"
	DropUnaddressed    = "unaddressed"
	DropUnknownSession = "unknown_session"
	DropAmbiguousID    = "ambiguous_id"
)

// minAddressLen is the shortest id prefix an operator may use.
const minAddressLen = 8

var addressPattern = regexp.MustCompile(`(?is)^\s*(?:reply\s+to\s+|@)([0-9a-f]{8,64})\s*:\s*(.*)$`)

// Address is a parsed "reply to <id>: <text>" prefix.
type Address struct {
	ID   string
	Body string
}

// ParseAddress extracts an explicit session address from operator text.
func ParseAddress(text string) (Address, bool) {
	m := addressPattern.FindStringSubmatch(text)
	if m == nil {
		return Address{}, false
	}
	return Address{ID: strings.ToLower(m[1]), Body: strings.TrimSpace(m[2])}, true
}

// Decision is where an operator message goes.
type Decision struct {
	SessionID string
	Text      string
	Dropped   string
}

// Delivered reports whether the message has a recipient.
func (d Decision) Delivered() bool { return d.SessionID != "" }

// Route applies the routing policy to operator text given the ids of the
// currently active sessions.
//
// With exactly one active session every message goes to it. With more than
// one, the message must carry an address that matches exactly one session
// (full id or a unique prefix of at least minAddressLen characters);
// anything else is dropped, never guessed.
func Route(text string, active []string) Decision {
	addr, addressed := ParseAddress(text)

	switch len(active) {
	case 0:
		return Decision{Dropped: DropNoSession}
	case 1:
		if addressed && matches(active[0], addr.ID) {
			return Decision{SessionID: active[0], Text: addr.Body}
		}
		return Decision{SessionID: active[0], Text: text}
	}

	if !addressed {
		return Decision{Dropped: DropUnaddressed}
	}

	var hit string
	for _, id := range active {
		if !matches(id, addr.ID) {
			continue
		}
		if hit != "" {
			return Decision{Dropped: DropAmbiguousID}
		}
		hit = id
	}
	if hit == "" {
		return Decision{Dropped: DropUnknownSession}
	}
	return Decision{SessionID: hit, Text: addr.Body}
}

func matches(id, prefix string) bool {
	return len(prefix) >= minAddressLen && strings.HasPrefix(id, prefix)
}
