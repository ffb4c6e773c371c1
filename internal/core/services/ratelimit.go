package services

import (
	"context"
	"log/slog"
	"math"
	"pulse/internal/core/contracts"
	"pulse/internal/core/domain"
	"strconv"
	"time"
)

// RateLimiter is a fixed-window counter bounding snapshot requests per
// viewer. It fails open when the store is unavailable.
type RateLimiter struct {
	log     *slog.Logger
	counter contracts.WindowCounter
	window  time.Duration
	max     int
}

func NewRateLimiter(log *slog.Logger, counter contracts.WindowCounter, window time.Duration, max int) *RateLimiter {
	return &RateLimiter{
		log:     log,
		counter: counter,
		window:  window,
		max:     max,
	}
}

func SnapshotWindowKey(viewerID string, bucket int64) string {
	return "snapshot:rl:" + viewerID + ":" + strconv.FormatInt(bucket, 10)
}

func (r *RateLimiter) TryConsume(ctx context.Context, viewerID string, now time.Time) domain.RateDecision {
	windowSeconds := int64(r.window / time.Second)
	if windowSeconds <= 0 {
		windowSeconds = 1
	}
	bucket := now.Unix() / windowSeconds
	key := SnapshotWindowKey(viewerID, bucket)
	// outlive the window slightly so a late INCR never lands on an expired key
	count, err := r.counter.IncrementWindow(ctx, key, r.window+time.Second)
	if err != nil {
		r.log.ErrorContext(ctx, "ratelimit - try consume - increment failed, allowing", "viewer_id", viewerID, "err", err)
		return domain.RateDecision{Allowed: true}
	}
	if count <= int64(r.max) {
		return domain.RateDecision{Allowed: true}
	}
	retry := int(windowSeconds)
	if ttl, err := r.counter.WindowTTL(ctx, key); err != nil {
		r.log.WarnContext(ctx, "ratelimit - try consume - ttl lookup failed", "viewer_id", viewerID, "err", err)
	} else if ttl > 0 {
		retry = int(math.Ceil(ttl.Seconds()))
	}
	if retry < 1 {
		retry = 1
	}
	return domain.RateDecision{Allowed: false, RetryAfterSeconds: retry}
}
