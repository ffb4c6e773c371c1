package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"pulse/internal/core/contracts"
	"pulse/internal/core/domain"
	"pulse/pkg/middleware"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const (
	viewerID = "0b6f1c2e-6f57-4a59-9a53-1f0d2a7c9e01"
	targetID = "5c2d7f3a-1b4e-4c8d-9e6f-2a3b4c5d6e02"
)

type stubSnapshots struct {
	entries []domain.SnapshotEntry
	err     error
	got     []string
}

func (s *stubSnapshots) GetSnapshot(_ context.Context, _ string, targets []string, _ time.Time) ([]domain.SnapshotEntry, error) {
	s.got = targets
	return s.entries, s.err
}

type stubLimiter struct{ decision domain.RateDecision }

func (l stubLimiter) TryConsume(context.Context, string, time.Time) domain.RateDecision {
	return l.decision
}

func withAccount(r *http.Request, id string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), middleware.AccountIDKey, id))
}

func TestSnapshotHandler(t *testing.T) {
	allow := stubLimiter{domain.RateDecision{Allowed: true}}
	tests := []struct {
		name       string
		limiter    stubLimiter
		snapshots  *stubSnapshots
		body       string
		wantStatus int
		check      func(t *testing.T, rec *httptest.ResponseRecorder)
	}{
		{
			name:       "ok",
			limiter:    allow,
			snapshots:  &stubSnapshots{entries: []domain.SnapshotEntry{{AccountID: targetID, CanShowStatus: true, IsOnline: true}}},
			body:       `{"account_ids":["` + targetID + `"]}`,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				var resp struct {
					Items []domain.SnapshotEntry `json:"items"`
				}
				if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if len(resp.Items) != 1 || !resp.Items[0].IsOnline {
					t.Errorf("items = %+v", resp.Items)
				}
			},
		},
		{
			name:       "rate limited",
			limiter:    stubLimiter{domain.RateDecision{Allowed: false, RetryAfterSeconds: 7}},
			snapshots:  &stubSnapshots{},
			body:       `{"account_ids":[]}`,
			wantStatus: http.StatusTooManyRequests,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				if got := rec.Header().Get("Retry-After"); got != "7" {
					t.Errorf("Retry-After = %q, want 7", got)
				}
				if !strings.Contains(rec.Body.String(), `"retry_after_seconds":7`) {
					t.Errorf("body = %s", rec.Body.String())
				}
			},
		},
		{
			name:       "bad body",
			limiter:    allow,
			snapshots:  &stubSnapshots{},
			body:       `{`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "oversized body",
			limiter:    allow,
			snapshots:  &stubSnapshots{},
			body:       `{"account_ids":["` + strings.Repeat("a", maxSnapshotBody) + `"]}`,
			wantStatus: http.StatusRequestEntityTooLarge,
		},
		{
			name:       "too many targets",
			limiter:    allow,
			snapshots:  &stubSnapshots{err: domain.ErrTooManyTargets},
			body:       `{"account_ids":["a","b"]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unexpected error",
			limiter:    allow,
			snapshots:  &stubSnapshots{err: errors.New("boom")},
			body:       `{"account_ids":["a"]}`,
			wantStatus: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewSnapshotHandler(tt.snapshots, tt.limiter)
			req := withAccount(httptest.NewRequest(http.MethodPost, "/presence/snapshot", strings.NewReader(tt.body)), viewerID)
			rec := httptest.NewRecorder()
			h.Snapshot(rec, req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.check != nil {
				tt.check(t, rec)
			}
		})
	}
}

func TestSnapshotHandler_RequiresAccount(t *testing.T) {
	h := NewSnapshotHandler(&stubSnapshots{}, stubLimiter{domain.RateDecision{Allowed: true}})
	rec := httptest.NewRecorder()
	h.Snapshot(rec, httptest.NewRequest(http.MethodPost, "/presence/snapshot", strings.NewReader(`{}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

type call struct {
	op, account, conn string
}

type recordingPresence struct {
	mu    sync.Mutex
	calls []call
}

func (p *recordingPresence) record(op, account, conn string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call{op, account, conn})
}

func (p *recordingPresence) MarkConnected(_ context.Context, a, c string, _ time.Time) {
	p.record("connect", a, c)
}

func (p *recordingPresence) TouchHeartbeat(_ context.Context, a, c string, _ time.Time) {
	p.record("heartbeat", a, c)
}

func (p *recordingPresence) MarkDisconnected(_ context.Context, a, c string, _ time.Time) {
	p.record("disconnect", a, c)
}

func (p *recordingPresence) ops() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	for i, c := range p.calls {
		out[i] = c.op
	}
	return out
}

type countingRegistry struct {
	mu         sync.Mutex
	clients    map[contracts.Client]bool
	registered int
	closed     bool
}

func newCountingRegistry() *countingRegistry {
	return &countingRegistry{clients: map[contracts.Client]bool{}}
}

func (r *countingRegistry) Register(c contracts.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		c.Close()
		return
	}
	r.clients[c] = true
	r.registered++
}

func (r *countingRegistry) Unregister(c contracts.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, c)
}

func (r *countingRegistry) Deliver(context.Context, domain.Envelope) int { return 0 }

func (r *countingRegistry) Connections(accountID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for c := range r.clients {
		if c.AccountID() == accountID {
			n++
		}
	}
	return n
}

func (r *countingRegistry) CloseAll() int {
	r.mu.Lock()
	r.closed = true
	all := make([]contracts.Client, 0, len(r.clients))
	for c := range r.clients {
		all = append(all, c)
	}
	r.mu.Unlock()
	for _, c := range all {
		c.Close()
	}
	return len(all)
}

func (r *countingRegistry) live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (r *countingRegistry) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registered
}

func TestWSHandler_Lifecycle(t *testing.T) {
	presence := &recordingPresence{}
	hub := newCountingRegistry()
	h := NewWSHandler(hub, presence, time.Hour, time.Minute)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Handler(w, withAccount(r, viewerID))
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var hs domain.HandshakeResponse
	if err := conn.ReadJSON(&hs); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if hs.Type != domain.TypeHandshake || hs.AccountID != viewerID || hs.ConnectionID == "" {
		t.Fatalf("handshake = %+v", hs)
	}

	if err := conn.WriteJSON(domain.ClientFrame{Type: domain.TypeHeartbeat}); err != nil {
		t.Fatalf("write heartbeat: %v", err)
	}
	var ack domain.ClientFrame
	if err := conn.ReadJSON(&ack); err != nil || ack.Type != domain.TypeHeartbeat {
		t.Fatalf("heartbeat ack = %+v, %v", ack, err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var errMsg domain.ErrorMessage
	if err := conn.ReadJSON(&errMsg); err != nil || errMsg.Code != "unknown_type" {
		t.Fatalf("error reply = %+v, %v", errMsg, err)
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		ops := presence.ops()
		if len(ops) > 0 && ops[len(ops)-1] == "disconnect" {
			want := []string{"connect", "heartbeat", "disconnect"}
			if len(ops) != len(want) {
				t.Fatalf("ops = %v, want %v", ops, want)
			}
			for i := range want {
				if ops[i] != want[i] {
					t.Fatalf("ops = %v, want %v", ops, want)
				}
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("disconnect not recorded, ops = %v", ops)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if hub.live() != 0 {
		t.Errorf("client still registered after close")
	}
	if hub.total() != 1 {
		t.Errorf("registrations = %d, want 1", hub.total())
	}
}

func TestWSHandler_ShutdownClosesSessions(t *testing.T) {
	presence := &recordingPresence{}
	hub := newCountingRegistry()
	h := NewWSHandler(hub, presence, time.Hour, time.Minute)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Handler(w, withAccount(r, viewerID))
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var hs domain.HandshakeResponse
	if err := conn.ReadJSON(&hs); err != nil {
		t.Fatalf("handshake: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	ops := presence.ops()
	if len(ops) == 0 || ops[len(ops)-1] != "disconnect" {
		t.Fatalf("ops = %v, want the session disconnected before Shutdown returns", ops)
	}
	if hub.live() != 0 {
		t.Errorf("client still registered after shutdown")
	}

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial after shutdown should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("dial after shutdown response = %+v, want 503", resp)
	}
}
