package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"pulse/internal/app/server/handlers"
	"pulse/pkg/middleware"
)

type Server struct {
	mux             *http.ServeMux
	http            *http.Server
	log             *slog.Logger
	name            string
	tokens          middleware.TokenValidator
	wsHandler       *handlers.WSHandler
	snapshotHandler *handlers.SnapshotHandler
}

func NewServer(
	addr, name string,
	log *slog.Logger,
	tokens middleware.TokenValidator,
	wsHandler *handlers.WSHandler,
	snapshotHandler *handlers.SnapshotHandler,
) *Server {
	s := &Server{
		mux:             http.NewServeMux(),
		log:             log,
		name:            name,
		tokens:          tokens,
		wsHandler:       wsHandler,
		snapshotHandler: snapshotHandler,
	}
	s.routes()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	auth := middleware.AuthMiddleware(s.tokens)

	// Public Routes
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Protected Routes
	// The middleware extracts the 'sub' (account id) from JWT and puts it in Context.
	s.mux.Handle("GET /ws", auth(http.HandlerFunc(s.wsHandler.Handler)))
	s.mux.Handle("POST /presence/snapshot", auth(http.HandlerFunc(s.snapshotHandler.Snapshot)))
}

// Handler returns the mux wrapped in the tracing and request logging middleware.
func (s *Server) Handler() http.Handler {
	return middleware.TracerMiddleware(s.name)(middleware.RequestLogger(s.log)(s.mux))
}

func (s *Server) Start() error {
	s.log.Info("server - start - listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown stops accepting requests, then closes the hijacked websocket
// sessions and waits for their disconnects to be recorded.
func (s *Server) Shutdown(ctx context.Context) error {
	httpErr := s.http.Shutdown(ctx)
	wsErr := s.wsHandler.Shutdown(ctx)
	if err := errors.Join(httpErr, wsErr); err != nil {
		s.log.ErrorContext(ctx, "server - shutdown - incomplete", "err", err)
		return err
	}
	s.log.Info("server - shutdown - success")
	return nil
}
