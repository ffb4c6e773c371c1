package services

import (
	"context"
	"fmt"
	"log/slog"
	"pulse/internal/core/contracts"
	"pulse/internal/core/domain"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type IBroadcaster interface {
	// BroadcastOnline tells accountID's audience that it became online.
	BroadcastOnline(ctx context.Context, accountID string) error
	// BroadcastOffline tells accountID's audience that it went offline at lastOnlineAt.
	BroadcastOffline(ctx context.Context, accountID string, lastOnlineAt time.Time) error
}

var broadcastTracer = otel.Tracer("broadcast-service")

// Broadcaster resolves the audience allowed to see an account's status and
// hands the event to the notifier. It never retries.
type Broadcaster struct {
	log      *slog.Logger
	accounts domain.AccountRepository
	notifier contracts.Notifier
}

func NewBroadcaster(log *slog.Logger, accounts domain.AccountRepository, notifier contracts.Notifier) *Broadcaster {
	return &Broadcaster{
		log:      log,
		accounts: accounts,
		notifier: notifier,
	}
}

func (b *Broadcaster) BroadcastOnline(ctx context.Context, accountID string) error {
	return b.broadcast(ctx, accountID, domain.EventBecameOnline, domain.PresenceEvent{
		Type:      domain.TypePresence,
		Event:     domain.EventBecameOnline,
		AccountID: accountID,
		IsOnline:  true,
	})
}

func (b *Broadcaster) BroadcastOffline(ctx context.Context, accountID string, lastOnlineAt time.Time) error {
	at := lastOnlineAt.UTC()
	return b.broadcast(ctx, accountID, domain.EventBecameOffline, domain.PresenceEvent{
		Type:         domain.TypePresence,
		Event:        domain.EventBecameOffline,
		AccountID:    accountID,
		LastOnlineAt: &at,
	})
}

func (b *Broadcaster) broadcast(ctx context.Context, accountID, event string, payload domain.PresenceEvent) error {
	ctx, span := broadcastTracer.Start(ctx, "Broadcaster.Broadcast", trace.WithAttributes(
		attribute.String("account_id", accountID),
		attribute.String("event", event),
	))
	defer span.End()
	visibility, err := b.accounts.GetOnlineStatusVisibility(ctx, accountID)
	if err != nil {
		span.RecordError(err)
		b.log.ErrorContext(ctx, "broadcast - get visibility failed", "account_id", accountID, "event", event, "err", err)
		return fmt.Errorf("get visibility: %w", err)
	}
	if visibility == nil || *visibility == domain.VisibilityNoOne {
		return nil
	}
	members, err := b.accounts.GetAudienceAccountIds(ctx, accountID)
	if err != nil {
		span.RecordError(err)
		b.log.ErrorContext(ctx, "broadcast - get audience failed", "account_id", accountID, "event", event, "err", err)
		return fmt.Errorf("get audience: %w", err)
	}
	audience := make([]string, 0, len(members))
	for id := range members {
		if id != accountID {
			audience = append(audience, id)
		}
	}
	if len(audience) == 0 {
		return nil
	}
	sort.Strings(audience)
	span.SetAttributes(attribute.Int("audience_size", len(audience)))
	if err := b.notifier.Notify(ctx, audience, event, payload); err != nil {
		span.RecordError(err)
		b.log.ErrorContext(ctx, "broadcast - notify failed", "account_id", accountID, "event", event, "err", err)
		return fmt.Errorf("notify: %w", err)
	}
	b.log.DebugContext(ctx, "broadcast - notify success", "account_id", accountID, "event", event, "audience_size", len(audience))
	return nil
}
