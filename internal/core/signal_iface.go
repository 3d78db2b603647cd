package core

import (
	"context"
	"errors"
)

// ErrChannelClosed is returned by Receive once the peer is gone.
var ErrChannelClosed = errors.New("channel closed")

// Channel abstracts a real-time transport endpoint.
// Owned by the adapter; the adapter must Close() it.
type Channel interface {
	// Send queues ev for delivery. It must not block past ctx.
	Send(ctx context.Context, ev Event) error
	// Receive blocks until the next inbound event or ErrChannelClosed.
	Receive(ctx context.Context) (InboundEvent, error)
	// Close tears the channel down with a close code and reason. Idempotent.
	Close(code int, reason string)
}

// PublishResult reports delivery stats/backpressure to the router policy.
type PublishResult struct {
	SentTo  int
	Dropped []Channel
}
