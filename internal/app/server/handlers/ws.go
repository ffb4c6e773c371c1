package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"pulse/internal/app/server/ws"
	"pulse/internal/core/contracts"
	"pulse/internal/core/domain"
	"pulse/internal/core/services"
	"pulse/pkg/logging"
	"pulse/pkg/middleware"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type WSHandler struct {
	hub               contracts.Registry
	presence          services.IPresenceService
	heartbeatInterval time.Duration
	heartbeatTTL      time.Duration
	upgrader          websocket.Upgrader

	mu       sync.Mutex
	draining bool
	sessions sync.WaitGroup
}

func NewWSHandler(
	hub contracts.Registry,
	presence services.IPresenceService,
	heartbeatInterval, heartbeatTTL time.Duration,
) *WSHandler {
	return &WSHandler{
		hub:               hub,
		presence:          presence,
		heartbeatInterval: heartbeatInterval,
		heartbeatTTL:      heartbeatTTL,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (s *WSHandler) Handler(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	span := trace.SpanFromContext(r.Context())
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		log.ErrorContext(r.Context(), "ws handler - unauthorised missing account_id")
		http.Error(w, "Unauthorized: account id missing", http.StatusUnauthorized)
		return
	}
	if !domain.ValidAccountID(accountID) {
		log.WarnContext(r.Context(), "ws handler - invalid account id", logging.Account(accountID))
		http.Error(w, "invalid account id", http.StatusBadRequest)
		return
	}
	if !s.beginSession() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	// runs last, after the disconnect bookkeeping
	defer s.sessions.Done()

	connID := domain.NewConnectionID()
	span.SetAttributes(attribute.String("account.id", accountID), attribute.String("connection.id", connID))
	reqCtx, log := logging.With(r.Context(), logging.Account(accountID), logging.Connection(connID))

	// the session outlives the upgrade request
	sessionCtx := context.WithoutCancel(reqCtx)
	ctx, cancel := context.WithCancel(sessionCtx)
	defer cancel()
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.ErrorContext(r.Context(), "ws handler - upgrade - ws upgrade failed", "err", err)
		return
	}
	socket := ws.NewWebSocket(ctx, conn, log)

	s.presence.MarkConnected(ctx, accountID, connID, time.Now())
	defer s.presence.MarkDisconnected(sessionCtx, accountID, connID, time.Now())

	resp := domain.HandshakeResponse{
		Type:         domain.TypeHandshake,
		AccountID:    accountID,
		ConnectionID: connID,
	}
	data, _ := json.Marshal(resp)
	if err := socket.WriteMessage(data); err != nil {
		log.WarnContext(ctx, "ws handler - handshake - write failed", "err", err)
		socket.Close()
		return
	}

	client := ws.NewClient(ctx, socket, accountID, connID)
	s.hub.Register(client)
	defer client.Close()
	defer s.hub.Unregister(client)
	log.InfoContext(ctx, "ws handler - ws connection established", "local_connections", s.hub.Connections(accountID))

	go socket.KeepAlive(s.heartbeatInterval)
	socket.ReadLoop(s.heartbeatTTL,
		func() { s.presence.TouchHeartbeat(ctx, accountID, connID, time.Now()) },
		func(msg []byte) { s.handleFrame(ctx, log, client, accountID, connID, msg) },
	)
	log.InfoContext(ctx, "ws handler - ws connection closed")
}

func (s *WSHandler) handleFrame(ctx context.Context, log *slog.Logger, client *ws.RuntimeClient, accountID, connID string, msg []byte) {
	var frame domain.ClientFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		s.reply(ctx, client, domain.ErrorMessage{Type: domain.TypeError, Code: "bad_frame", Message: "frame must be a JSON object"})
		return
	}
	switch frame.Type {
	case domain.TypeHeartbeat:
		s.presence.TouchHeartbeat(ctx, accountID, connID, time.Now())
		s.reply(ctx, client, domain.ClientFrame{Type: domain.TypeHeartbeat})
	default:
		log.DebugContext(ctx, "ws handler - frame - unknown type", "type", frame.Type)
		s.reply(ctx, client, domain.ErrorMessage{Type: domain.TypeError, Code: "unknown_type", Message: domain.ErrUnknownEvent.Error()})
	}
}

func (s *WSHandler) reply(ctx context.Context, client *ws.RuntimeClient, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = client.Send(ctx, data)
}

func (s *WSHandler) beginSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.sessions.Add(1)
	return true
}

// Shutdown refuses new sessions, closes the open ones and waits until each
// of them has finished its disconnect bookkeeping or ctx expires.
func (s *WSHandler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
	s.hub.CloseAll()

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ws sessions still open: %w", ctx.Err())
	}
}
