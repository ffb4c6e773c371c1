package worker

import (
	"context"
	"log/slog"
	"pulse/internal/core/contracts"
	"pulse/internal/core/services"
	"time"
)

type offlineProcessor interface {
	ProcessOfflineCandidates(ctx context.Context, now time.Time, batchSize int) (services.SweepResult, error)
}

// OfflineSweeper periodically confirms offline candidates whose grace period
// has elapsed.
type OfflineSweeper struct {
	log       *slog.Logger
	offline   offlineProcessor
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

func NewOfflineSweeper(
	log *slog.Logger,
	offline offlineProcessor,
	interval time.Duration,
	batchSize int,
) contracts.AsyncWorker {
	return &OfflineSweeper{
		log:       log,
		offline:   offline,
		interval:  interval,
		batchSize: batchSize,
		now:       time.Now,
	}
}

/*
	type AsyncWorker interface {
		// Run blocks until ctx is cancelled. It returns nil on cancellation.
		Run(ctx context.Context) error
	}
*/

// Run sweeps once per interval until ctx is cancelled. A sweep that already
// started finishes even if ctx is cancelled mid-way.
func (w *OfflineSweeper) Run(ctx context.Context) error {
	w.log.InfoContext(ctx, "worker - offline sweeper - started", "interval", w.interval, "batch_size", w.batchSize)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.InfoContext(ctx, "worker - offline sweeper - stopped")
			return nil
		case <-ticker.C:
			w.sweep(context.WithoutCancel(ctx))
		}
	}
}

func (w *OfflineSweeper) sweep(ctx context.Context) {
	res, err := w.offline.ProcessOfflineCandidates(ctx, w.now(), w.batchSize)
	if err != nil {
		w.log.ErrorContext(ctx, "worker - offline sweeper - sweep failed", "err", err)
		return
	}
	if res.Due == 0 {
		return
	}
	w.log.InfoContext(ctx, "worker - offline sweeper - sweep success",
		"due", res.Due,
		"stale", res.Stale,
		"locked", res.Locked,
		"confirmed", res.Confirmed,
		"persisted", res.Persisted,
		"broadcast_failed", res.BroadcastFailed,
	)
}
