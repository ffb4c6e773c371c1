package contracts

import (
	"context"

	"pulse/internal/core/domain"
)

// Notifier pushes a realtime event to an audience. Delivery is fire-and-forget:
// a nil error means the event was handed to the transport, nothing more.
type Notifier interface {
	Notify(ctx context.Context, audience []string, event string, payload any) error
}

// EnvelopeBus fans envelopes out across instances.
type EnvelopeBus interface {
	Notifier
	// Subscribe delivers every envelope published by any instance to handler
	// until ctx is done.
	Subscribe(ctx context.Context, handler func(ctx context.Context, env domain.Envelope)) error
	Close() error
}
