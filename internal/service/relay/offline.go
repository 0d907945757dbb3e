package relay

import (
	"context"
	"fmt"
)

// OfflineChannel stands in when the network cannot be reached. Sessions still
// work in local-echo mode and every relay call reports ErrNotReady.
type OfflineChannel struct {
	Cause error
}

// NewOfflineChannel records why the relay is unavailable.
func NewOfflineChannel(cause error) *OfflineChannel {
	return &OfflineChannel{Cause: cause}
}

func (c *OfflineChannel) err() error {
	if c.Cause == nil {
		return ErrNotReady
	}
	return fmt.Errorf("%w: %v", ErrNotReady, c.Cause)
}

func (c *OfflineChannel) Connect(context.Context) (Handle, error) {
	return Handle{}, fmt.Errorf("%w: %w", ErrConnectionSetup, c.err())
}

func (c *OfflineChannel) SendText(context.Context, string, string) error {
	return fmt.Errorf("%w: %w", ErrSend, c.err())
}

func (c *OfflineChannel) OnInboundText(InboundHandler) {}

func (c *OfflineChannel) Join(context.Context, string) error { return c.err() }

func (c *OfflineChannel) Leave(context.Context, string) error { return nil }

func (c *OfflineChannel) Disconnect() {}
