package services

import (
	"context"
	"log/slog"
	"pulse/internal/core/contracts"
	"pulse/internal/core/domain"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type IPresenceService interface {
	// MarkConnected records a new realtime connection for accountID.
	MarkConnected(ctx context.Context, accountID, connID string, now time.Time)
	// TouchHeartbeat keeps an open connection alive.
	TouchHeartbeat(ctx context.Context, accountID, connID string, now time.Time)
	// MarkDisconnected closes a connection; accountID may be empty when the
	// transport lost it, in which case it is resolved from connID.
	MarkDisconnected(ctx context.Context, accountID, connID string, now time.Time)
}

var presenceTracer = otel.Tracer("presence-service")

// PresenceService owns the connect/heartbeat/disconnect state machine. Store
// failures are logged and swallowed: the realtime session must never fail
// because presence bookkeeping did.
type PresenceService struct {
	log          *slog.Logger
	conns        contracts.ConnectionRegistry
	counter      contracts.OnlineCounter
	schedule     contracts.OfflineSchedule
	broadcaster  IBroadcaster
	heartbeatTTL time.Duration
	grace        time.Duration
}

func NewPresenceService(
	log *slog.Logger,
	conns contracts.ConnectionRegistry,
	counter contracts.OnlineCounter,
	schedule contracts.OfflineSchedule,
	broadcaster IBroadcaster,
	heartbeatTTL time.Duration,
	grace time.Duration,
) *PresenceService {
	return &PresenceService{
		log:          log,
		conns:        conns,
		counter:      counter,
		schedule:     schedule,
		broadcaster:  broadcaster,
		heartbeatTTL: heartbeatTTL,
		grace:        grace,
	}
}

func (p *PresenceService) MarkConnected(ctx context.Context, accountID, connID string, now time.Time) {
	ctx, span := presenceTracer.Start(ctx, "PresenceService.MarkConnected", trace.WithAttributes(
		attribute.String("account_id", accountID),
		attribute.String("connection_id", connID),
	))
	defer span.End()
	accountID, ok := p.identify(ctx, accountID, connID)
	if !ok {
		return
	}
	if err := p.conns.BindConnection(ctx, connID, accountID, p.heartbeatTTL); err != nil {
		span.RecordError(err)
		p.log.ErrorContext(ctx, "presence - mark connected - bind connection failed", "account_id", accountID, "connection_id", connID, "err", err)
	}
	count, err := p.counter.IncrementOnline(ctx, accountID, p.heartbeatTTL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "increment online failed")
		p.log.ErrorContext(ctx, "presence - mark connected - increment online failed", "account_id", accountID, "connection_id", connID, "err", err)
		return
	}
	if err := p.schedule.Cancel(ctx, accountID); err != nil {
		span.RecordError(err)
		p.log.ErrorContext(ctx, "presence - mark connected - cancel offline candidate failed", "account_id", accountID, "err", err)
	}
	span.SetAttributes(attribute.Int64("online_count", count))
	p.log.DebugContext(ctx, "presence - mark connected - success", "account_id", accountID, "connection_id", connID, "online_count", count)
	if count == 1 {
		_ = p.broadcaster.BroadcastOnline(ctx, accountID)
	}
}

func (p *PresenceService) TouchHeartbeat(ctx context.Context, accountID, connID string, now time.Time) {
	ctx, span := presenceTracer.Start(ctx, "PresenceService.TouchHeartbeat", trace.WithAttributes(
		attribute.String("account_id", accountID),
		attribute.String("connection_id", connID),
	))
	defer span.End()
	accountID, ok := p.identify(ctx, accountID, connID)
	if !ok {
		return
	}
	if err := p.conns.BindConnection(ctx, connID, accountID, p.heartbeatTTL); err != nil {
		span.RecordError(err)
		p.log.ErrorContext(ctx, "presence - touch heartbeat - refresh connection failed", "account_id", accountID, "connection_id", connID, "err", err)
	}
	// re-initialise rather than increment: a heartbeat never adds a connection
	if _, err := p.counter.EnsureOnline(ctx, accountID, p.heartbeatTTL); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ensure online failed")
		p.log.ErrorContext(ctx, "presence - touch heartbeat - ensure online failed", "account_id", accountID, "err", err)
		return
	}
	if err := p.schedule.Cancel(ctx, accountID); err != nil {
		span.RecordError(err)
		p.log.ErrorContext(ctx, "presence - touch heartbeat - cancel offline candidate failed", "account_id", accountID, "err", err)
	}
}

func (p *PresenceService) MarkDisconnected(ctx context.Context, accountID, connID string, now time.Time) {
	ctx, span := presenceTracer.Start(ctx, "PresenceService.MarkDisconnected", trace.WithAttributes(
		attribute.String("account_id", accountID),
		attribute.String("connection_id", connID),
	))
	defer span.End()
	if accountID == "" {
		if connID == "" {
			return
		}
		resolved, err := p.conns.ResolveConnection(ctx, connID)
		if err != nil {
			span.RecordError(err)
			p.log.ErrorContext(ctx, "presence - mark disconnected - resolve connection failed", "connection_id", connID, "err", err)
		}
		accountID = resolved
	}
	if connID != "" {
		if err := p.conns.UnbindConnection(ctx, connID); err != nil {
			span.RecordError(err)
			p.log.ErrorContext(ctx, "presence - mark disconnected - unbind connection failed", "connection_id", connID, "err", err)
		}
	}
	accountID, err := domain.NormalizeAccountID(accountID)
	if err != nil {
		p.log.DebugContext(ctx, "presence - mark disconnected - unknown account", "connection_id", connID)
		return
	}
	count, err := p.counter.DecrementOnline(ctx, accountID, p.heartbeatTTL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decrement online failed")
		p.log.ErrorContext(ctx, "presence - mark disconnected - decrement online failed", "account_id", accountID, "connection_id", connID, "err", err)
		return
	}
	span.SetAttributes(attribute.Int64("online_count", count))
	if count > 0 {
		return
	}
	dueAt := now.Add(p.grace)
	if err := p.schedule.Schedule(ctx, accountID, dueAt); err != nil {
		span.RecordError(err)
		p.log.ErrorContext(ctx, "presence - mark disconnected - schedule offline candidate failed", "account_id", accountID, "err", err)
		return
	}
	p.log.DebugContext(ctx, "presence - mark disconnected - offline candidate scheduled", "account_id", accountID, "due_at", dueAt)
}

// State derives the logical presence state of accountID. It is diagnostic
// only; nothing stores it.
func (p *PresenceService) State(ctx context.Context, accountID string, now time.Time) (domain.PresenceState, error) {
	accountID, err := domain.NormalizeAccountID(accountID)
	if err != nil {
		return "", err
	}
	count, err := p.counter.OnlineCount(ctx, accountID)
	if err != nil {
		return "", err
	}
	dueAt, ok, err := p.schedule.DueAt(ctx, accountID)
	if err != nil {
		return "", err
	}
	if !ok {
		return domain.DeriveState(count, nil, now), nil
	}
	return domain.DeriveState(count, &dueAt, now), nil
}

func (p *PresenceService) identify(ctx context.Context, accountID, connID string) (string, bool) {
	if connID == "" {
		return "", false
	}
	id, err := domain.NormalizeAccountID(accountID)
	if err != nil {
		p.log.DebugContext(ctx, "presence - ignoring invalid account id", "account_id", accountID, "connection_id", connID)
		return "", false
	}
	return id, true
}
