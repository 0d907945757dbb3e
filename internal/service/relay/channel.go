// Package relay connects the bridge to the shared room on the federated
// messaging network where the support specialist reads and replies.
package relay

import (
	"context"
	"errors"
)

var (
	// ErrConnectionSetup means the network could not be reached or the relay
	// identity could not authenticate.
	ErrConnectionSetup = errors.New("relay connection setup failed")
	// ErrSend wraps any failure to deliver text into the room.
	ErrSend = errors.New("relay send failed")
	// ErrNotReady is returned while no connection is established.
	ErrNotReady = errors.New("relay not ready")
)

// Handle describes an established relay identity.
type Handle struct {
	UserID string
	RoomID string
}

// InboundHandler receives text from the operator identity only.
type InboundHandler func(senderID, text string)

// Channel is the contract the bridge consumes from the messaging network.
type Channel interface {
	// Connect establishes the relay identity. Calling it again while
	// connected returns the existing handle.
	Connect(ctx context.Context) (Handle, error)
	SendText(ctx context.Context, roomID, text string) error
	OnInboundText(handler InboundHandler)
	Join(ctx context.Context, roomID string) error
	Leave(ctx context.Context, roomID string) error
	Disconnect()
}
