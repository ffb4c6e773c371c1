package services

import (
	"context"
	"log/slog"
	"pulse/internal/core/contracts"
	"pulse/internal/core/domain"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var snapshotTracer = otel.Tracer("snapshot-service")

// SnapshotService resolves what a viewer may learn about a batch of targets.
// Store failures degrade to "not disclosable"; they never reach the caller.
type SnapshotService struct {
	log            *slog.Logger
	accounts       domain.AccountRepository
	counter        contracts.OnlineCounter
	lastSeenWindow time.Duration
	maxTargets     int
}

func NewSnapshotService(
	log *slog.Logger,
	accounts domain.AccountRepository,
	counter contracts.OnlineCounter,
	lastSeenWindow time.Duration,
	maxTargets int,
) *SnapshotService {
	return &SnapshotService{
		log:            log,
		accounts:       accounts,
		counter:        counter,
		lastSeenWindow: lastSeenWindow,
		maxTargets:     maxTargets,
	}
}

// GetSnapshot returns exactly one entry per distinct non-empty target id.
// The only error is ErrTooManyTargets.
func (s *SnapshotService) GetSnapshot(ctx context.Context, viewerID string, targetIDs []string, now time.Time) ([]domain.SnapshotEntry, error) {
	ctx, span := snapshotTracer.Start(ctx, "SnapshotService.GetSnapshot", trace.WithAttributes(
		attribute.String("viewer_id", viewerID),
		attribute.Int("requested", len(targetIDs)),
	))
	defer span.End()
	targets := dedupe(targetIDs)
	if len(targets) == 0 {
		return []domain.SnapshotEntry{}, nil
	}
	if s.maxTargets > 0 && len(targets) > s.maxTargets {
		return nil, domain.ErrTooManyTargets
	}
	viewer, _ := domain.NormalizeAccountID(viewerID)
	canonical := make(map[string]string, len(targets))
	lookup := make([]string, 0, len(targets))
	seen := make(map[string]struct{}, len(targets))
	for _, raw := range targets {
		id, err := domain.NormalizeAccountID(raw)
		if err != nil {
			continue
		}
		canonical[raw] = id
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			lookup = append(lookup, id)
		}
	}
	entries := make([]domain.SnapshotEntry, 0, len(targets))
	if len(lookup) == 0 {
		for _, raw := range targets {
			entries = append(entries, domain.Hidden(raw))
		}
		return entries, nil
	}

	var states []domain.AccountState
	var counts map[string]int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if states, err = s.accounts.GetSnapshotAccountStates(gctx, lookup); err != nil {
			span.RecordError(err)
			s.log.ErrorContext(ctx, "snapshot - get account states failed", "viewer_id", viewerID, "count", len(lookup), "err", err)
			states = nil
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if counts, err = s.counter.OnlineCounts(gctx, lookup); err != nil {
			span.RecordError(err)
			s.log.ErrorContext(ctx, "snapshot - get online counts failed", "viewer_id", viewerID, "count", len(lookup), "err", err)
			counts = nil
		}
		return nil
	})
	_ = g.Wait()

	byID := make(map[string]domain.AccountState, len(states))
	var contactCandidates []string
	for _, st := range states {
		byID[st.AccountID] = st
		if st.Visibility == domain.VisibilityContactsOnly && st.AccountID != viewer {
			contactCandidates = append(contactCandidates, st.AccountID)
		}
	}
	contacts := map[string]struct{}{}
	if viewer != "" && len(contactCandidates) > 0 {
		found, err := s.accounts.GetContactTargetIds(ctx, viewer, contactCandidates)
		if err != nil {
			span.RecordError(err)
			s.log.ErrorContext(ctx, "snapshot - get contact targets failed", "viewer_id", viewerID, "err", err)
		} else if found != nil {
			contacts = found
		}
	}

	for _, raw := range targets {
		id, ok := canonical[raw]
		if !ok {
			entries = append(entries, domain.Hidden(raw))
			continue
		}
		st, ok := byID[id]
		if !ok {
			entries = append(entries, domain.Hidden(raw))
			continue
		}
		_, isContact := contacts[id]
		entries = append(entries, s.resolve(raw, viewer, st, counts[id] > 0, isContact, now))
	}
	return entries, nil
}

func (s *SnapshotService) resolve(raw, viewer string, st domain.AccountState, online, isContact bool, now time.Time) domain.SnapshotEntry {
	if viewer != "" && st.AccountID == viewer {
		e := domain.SnapshotEntry{AccountID: raw, CanShowStatus: true, IsOnline: online}
		if !online {
			e.LastOnlineAt = utcPtr(st.LastOnlineAt)
		}
		return e
	}
	switch st.Visibility {
	case domain.VisibilityNoOne:
		return domain.Hidden(raw)
	case domain.VisibilityContactsOnly:
		if !isContact {
			return domain.Hidden(raw)
		}
	case domain.VisibilityEveryone:
	default:
		return domain.Hidden(raw)
	}
	if online {
		return domain.SnapshotEntry{AccountID: raw, CanShowStatus: true, IsOnline: true}
	}
	if st.LastOnlineAt == nil || now.Sub(*st.LastOnlineAt) > s.lastSeenWindow {
		return domain.Hidden(raw)
	}
	return domain.SnapshotEntry{AccountID: raw, CanShowStatus: true, LastOnlineAt: utcPtr(st.LastOnlineAt)}
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
