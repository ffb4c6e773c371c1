package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"pulse/internal/core/domain"
	"pulse/pkg/logging"
	"pulse/pkg/middleware"
	"strconv"
	"time"
)

// maxSnapshotBody fits the default target cap of quoted UUIDs with room to spare.
const maxSnapshotBody = 64 << 10

type snapshotResolver interface {
	GetSnapshot(ctx context.Context, viewerID string, targetIDs []string, now time.Time) ([]domain.SnapshotEntry, error)
}

type rateLimiter interface {
	TryConsume(ctx context.Context, viewerID string, now time.Time) domain.RateDecision
}

type SnapshotHandler struct {
	snapshots snapshotResolver
	limiter   rateLimiter
}

func NewSnapshotHandler(snapshots snapshotResolver, limiter rateLimiter) *SnapshotHandler {
	return &SnapshotHandler{snapshots: snapshots, limiter: limiter}
}

type snapshotRequest struct {
	AccountIDs []string `json:"account_ids"`
}

type snapshotResponse struct {
	Items []domain.SnapshotEntry `json:"items"`
}

type rateLimitedResponse struct {
	Error             string `json:"error"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

func (h *SnapshotHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	viewerID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized: account id missing", http.StatusUnauthorized)
		return
	}
	now := time.Now()
	decision := h.limiter.TryConsume(r.Context(), viewerID, now)
	if !decision.Allowed {
		log.InfoContext(r.Context(), "snapshot handler - rate limited", logging.Viewer(viewerID), "retry_after", decision.RetryAfterSeconds)
		w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfterSeconds))
		writeJSON(w, http.StatusTooManyRequests, rateLimitedResponse{
			Error:             domain.ErrRateLimited.Error(),
			RetryAfterSeconds: decision.RetryAfterSeconds,
		})
		return
	}
	var req snapshotRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSnapshotBody)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.WarnContext(r.Context(), "snapshot handler - body too large", logging.Viewer(viewerID), "limit", tooLarge.Limit)
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		log.WarnContext(r.Context(), "snapshot handler - bad request", logging.Viewer(viewerID), "err", err)
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	entries, err := h.snapshots.GetSnapshot(r.Context(), viewerID, req.AccountIDs, now)
	if err != nil {
		if errors.Is(err, domain.ErrTooManyTargets) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.ErrorContext(r.Context(), "snapshot handler - get snapshot failed", logging.Viewer(viewerID), "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse{Items: entries})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
