package contracts

import (
	"context"

	"pulse/internal/core/domain"
)

// Registry holds the realtime clients connected to this instance.
type Registry interface {
	// Register adds a client under its account.
	Register(c Client)
	// Unregister removes the client.
	Unregister(c Client)
	// Deliver writes env.Payload to every local client whose account is in env.Audience.
	Deliver(ctx context.Context, env domain.Envelope) int
	// Connections returns the number of local clients of accountID.
	Connections(accountID string) int
	// CloseAll closes every client and turns later registrations away.
	CloseAll() int
}

// Client represents the minimal interface required for the Registry to
// communicate with an individual WebSocket connection.
type Client interface {
	AccountID() string
	ConnectionID() string
	// Send queues data without blocking.
	Send(ctx context.Context, data []byte) error
	Close()
}
