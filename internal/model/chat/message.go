package chat

import "time"

// Origin identifies who produced a message.
type Origin string

const (
	OriginClient   Origin = "CLIENT"
	OriginOperator Origin = "OPERATOR"
	OriginSystem   Origin = "SYSTEM"
)

// Message is one transient turn shown to the visitor. It only ever lives in
// the session transcript and is dropped on erasure.
type Message struct {
	ID        string    `json:"id"`
	Origin    Origin    `json:"origin"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// DisplaySender maps the origin to the sender label used in chat envelopes.
func (m Message) DisplaySender() string {
	switch m.Origin {
	case OriginClient:
		return SenderYou
	case OriginOperator:
		return SenderSupport
	default:
		return SenderSystem
	}
}
