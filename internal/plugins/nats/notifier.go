package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"pulse/internal/core/domain"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("nats-notifier")

// Notifier publishes presence envelopes on one subject. Every instance
// subscribes to it and delivers to the sockets it holds.
type Notifier struct {
	nc      *nats.Conn
	log     *slog.Logger
	subject string
}

func NewNotifier(nc *nats.Conn, log *slog.Logger, subject string) *Notifier {
	return &Notifier{nc: nc, log: log, subject: subject}
}

func (n *Notifier) Notify(ctx context.Context, audience []string, event string, payload any) error {
	ctx, span := tracer.Start(ctx, "nats.publish "+n.subject, trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "nats"),
			attribute.String("messaging.destination.name", n.subject),
			attribute.String("event", event),
		))
	defer span.End()
	msg, err := encodeEnvelope(audience, event, payload)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if err := n.nc.PublishMsg(&nats.Msg{
		Subject: n.subject,
		Data:    msg,
		Header:  injectContext(ctx),
	}); err != nil {
		span.RecordError(err)
		return fmt.Errorf("publish %s: %w", n.subject, err)
	}
	return nil
}

// Subscribe registers handler for every envelope on the subject until ctx is done.
func (n *Notifier) Subscribe(ctx context.Context, handler func(ctx context.Context, env domain.Envelope)) error {
	sub, err := n.nc.Subscribe(n.subject, func(msg *nats.Msg) {
		msgCtx := extractContext(ctx, msg.Header)
		msgCtx, span := tracer.Start(msgCtx, "nats.receive "+n.subject, trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()
		var env domain.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			span.RecordError(err)
			n.log.Warn("nats notifier - subscribe - bad envelope", "subject", n.subject, "err", err)
			return
		}
		handler(msgCtx, env)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", n.subject, err)
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

// Close drains the connection, flushing pending publishes.
func (n *Notifier) Close() error {
	if n.nc.IsClosed() {
		return nil
	}
	return n.nc.Drain()
}

func encodeEnvelope(audience []string, event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	msg, err := json.Marshal(domain.Envelope{Audience: audience, Event: event, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return msg, nil
}
