package services

import (
	"context"
	"fmt"
	"log/slog"
	"pulse/internal/core/contracts"
	"pulse/internal/core/domain"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var offlineTracer = otel.Tracer("offline-service")

// SweepResult summarises one ProcessOfflineCandidates pass.
type SweepResult struct {
	Due             int
	Stale           int
	Locked          int
	Confirmed       int
	Persisted       int
	BroadcastFailed int
}

// OfflineService confirms offline transitions for candidates whose grace
// period has elapsed. Several instances may sweep concurrently; the per
// account lock keeps confirmation to a single winner.
type OfflineService struct {
	log         *slog.Logger
	counter     contracts.OnlineCounter
	schedule    contracts.OfflineSchedule
	locker      contracts.Locker
	accounts    domain.AccountRepository
	broadcaster IBroadcaster
	lockTTL     time.Duration
}

func NewOfflineService(
	log *slog.Logger,
	counter contracts.OnlineCounter,
	schedule contracts.OfflineSchedule,
	locker contracts.Locker,
	accounts domain.AccountRepository,
	broadcaster IBroadcaster,
	lockTTL time.Duration,
) *OfflineService {
	return &OfflineService{
		log:         log,
		counter:     counter,
		schedule:    schedule,
		locker:      locker,
		accounts:    accounts,
		broadcaster: broadcaster,
		lockTTL:     lockTTL,
	}
}

func OfflineLockKey(accountID string) string {
	return "offline:lock:" + accountID
}

type candidate struct {
	contracts.DueCandidate
	accountID string
}

func (s *OfflineService) ProcessOfflineCandidates(ctx context.Context, now time.Time, batchSize int) (SweepResult, error) {
	ctx, span := offlineTracer.Start(ctx, "OfflineService.ProcessOfflineCandidates", trace.WithAttributes(
		attribute.Int("batch_size", batchSize),
	))
	defer span.End()
	var res SweepResult
	due, err := s.schedule.Due(ctx, now, batchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load due candidates failed")
		s.log.ErrorContext(ctx, "offline - process candidates - load due failed", "err", err)
		return res, fmt.Errorf("load due candidates: %w", err)
	}
	res.Due = len(due)
	if len(due) == 0 {
		return res, nil
	}
	var stale []contracts.DueCandidate
	var confirmed []candidate
	for _, entry := range due {
		accountID, err := domain.NormalizeAccountID(entry.Member)
		if err != nil {
			stale = append(stale, entry)
			continue
		}
		online, err := s.isOnline(ctx, accountID)
		if err != nil {
			continue
		}
		if online {
			stale = append(stale, entry)
			continue
		}
		acquired, err := s.locker.TryAcquireLock(ctx, OfflineLockKey(accountID), s.lockTTL)
		if err != nil {
			span.RecordError(err)
			s.log.ErrorContext(ctx, "offline - process candidates - acquire lock failed", "account_id", accountID, "err", err)
			continue
		}
		if !acquired {
			res.Locked++
			continue
		}
		// the account may have reconnected between the first check and the lock
		if online, err = s.isOnline(ctx, accountID); err != nil {
			continue
		}
		if online {
			stale = append(stale, entry)
			continue
		}
		confirmed = append(confirmed, candidate{DueCandidate: entry, accountID: accountID})
	}
	res.Stale = len(stale)
	res.Confirmed = len(confirmed)
	if len(stale) > 0 {
		if _, err := s.schedule.Remove(ctx, stale...); err != nil {
			span.RecordError(err)
			s.log.ErrorContext(ctx, "offline - process candidates - remove stale failed", "count", len(stale), "err", err)
		}
	}
	if len(confirmed) == 0 {
		return res, nil
	}
	ids := make([]string, len(confirmed))
	for i, c := range confirmed {
		ids[i] = c.accountID
	}
	updated, err := s.accounts.UpdateLastOnlineAt(ctx, ids, now)
	if err != nil {
		// entries stay scheduled and are retried once the locks expire
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist last online failed")
		s.log.ErrorContext(ctx, "offline - process candidates - update last online failed", "count", len(ids), "err", err)
		return res, fmt.Errorf("update last online: %w", err)
	}
	res.Persisted = len(updated)
	for _, accountID := range updated {
		if err := s.broadcaster.BroadcastOffline(ctx, accountID, now); err != nil {
			res.BroadcastFailed++
		}
	}
	processed := make([]contracts.DueCandidate, len(confirmed))
	for i, c := range confirmed {
		processed[i] = c.DueCandidate
	}
	if _, err := s.schedule.Remove(ctx, processed...); err != nil {
		span.RecordError(err)
		s.log.ErrorContext(ctx, "offline - process candidates - remove processed failed", "count", len(processed), "err", err)
	}
	span.SetAttributes(
		attribute.Int("due", res.Due),
		attribute.Int("stale", res.Stale),
		attribute.Int("persisted", res.Persisted),
	)
	s.log.InfoContext(ctx, "offline - process candidates - success", "due", res.Due, "stale", res.Stale, "locked", res.Locked, "persisted", res.Persisted, "broadcast_failed", res.BroadcastFailed)
	return res, nil
}

func (s *OfflineService) isOnline(ctx context.Context, accountID string) (bool, error) {
	count, err := s.counter.OnlineCount(ctx, accountID)
	if err != nil {
		s.log.ErrorContext(ctx, "offline - process candidates - read online count failed", "account_id", accountID, "err", err)
		return false, err
	}
	return count > 0, nil
}
