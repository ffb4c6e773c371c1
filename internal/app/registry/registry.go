package registry

import (
	"context"
	"log/slog"
	"pulse/internal/core/contracts"
	"pulse/internal/core/domain"
	"sync"
)

// Registry tracks the websocket clients held by this instance, keyed by
// account and then by connection.
type Registry struct {
	log     *slog.Logger
	mu      sync.RWMutex
	closed  bool
	clients map[string]map[string]contracts.Client // account_id → connection_id → client
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:     log,
		clients: make(map[string]map[string]contracts.Client),
	}
}

// Register adds c. Once CloseAll ran, c is closed instead of registered.
func (h *Registry) Register(c contracts.Client) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.Close()
		return
	}
	defer h.mu.Unlock()
	accountID := c.AccountID()
	if h.clients[accountID] == nil {
		h.clients[accountID] = make(map[string]contracts.Client)
	}
	h.clients[accountID][c.ConnectionID()] = c
}

func (h *Registry) Unregister(c contracts.Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	accountID := c.AccountID()
	conns := h.clients[accountID]
	if conns == nil {
		return
	}
	if conns[c.ConnectionID()] == c {
		delete(conns, c.ConnectionID())
	}
	if len(conns) == 0 {
		delete(h.clients, accountID)
	}
}

// Deliver writes the envelope payload to every local connection of every
// audience member and returns how many sends succeeded. Sends never block;
// a client with a full queue misses the event.
func (h *Registry) Deliver(ctx context.Context, env domain.Envelope) int {
	if len(env.Payload) == 0 {
		return 0
	}
	h.mu.RLock()
	targets := make([]contracts.Client, 0)
	for _, accountID := range env.Audience {
		for _, c := range h.clients[accountID] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	delivered := 0
	for _, c := range targets {
		if err := c.Send(ctx, env.Payload); err != nil {
			h.log.WarnContext(ctx, "registry - deliver - event dropped", "account_id", c.AccountID(), "connection_id", c.ConnectionID(), "event", env.Event, "err", err)
			continue
		}
		delivered++
	}
	return delivered
}

// Connections returns the number of local connections held for accountID.
func (h *Registry) Connections(accountID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[accountID])
}

// CloseAll closes every registered client and refuses new ones. Closing a
// client ends its session, which runs the usual disconnect path.
func (h *Registry) CloseAll() int {
	h.mu.Lock()
	h.closed = true
	var all []contracts.Client
	for _, conns := range h.clients {
		for _, c := range conns {
			all = append(all, c)
		}
	}
	h.mu.Unlock()
	for _, c := range all {
		c.Close()
	}
	h.log.Info("registry - close all - clients closed", "count", len(all))
	return len(all)
}
