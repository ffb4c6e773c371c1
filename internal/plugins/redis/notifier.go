package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"pulse/internal/core/domain"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisNotifier fans presence envelopes out over a pub/sub channel. Every
// instance subscribes and delivers to the sockets it holds.
type RedisNotifier struct {
	rdb     *redis.Client
	log     *slog.Logger
	channel string

	mu   sync.Mutex
	subs []*redis.PubSub
}

func NewRedisNotifier(rdb *redis.Client, log *slog.Logger, channel string) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, log: log, channel: channel}
}

func (n *RedisNotifier) Notify(ctx context.Context, audience []string, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	msg, err := json.Marshal(domain.Envelope{Audience: audience, Event: event, Payload: raw})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return n.rdb.Publish(ctx, n.channel, msg).Err()
}

// Subscribe returns once the subscription is confirmed; envelopes are then
// handed to handler from a background goroutine until ctx is done.
func (n *RedisNotifier) Subscribe(ctx context.Context, handler func(ctx context.Context, env domain.Envelope)) error {
	pubsub := n.rdb.Subscribe(ctx, n.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", n.channel, err)
	}
	n.mu.Lock()
	n.subs = append(n.subs, pubsub)
	n.mu.Unlock()

	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env domain.Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					n.log.Warn("redis notifier - subscribe - bad envelope", "channel", n.channel, "err", err)
					continue
				}
				handler(ctx, env)
			}
		}
	}()
	return nil
}

func (n *RedisNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	var firstErr error
	for _, s := range n.subs {
		if err := s.Close(); err != nil && !errors.Is(err, redis.ErrClosed) && firstErr == nil {
			firstErr = err
		}
	}
	n.subs = nil
	return firstErr
}
