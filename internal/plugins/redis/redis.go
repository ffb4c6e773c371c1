package redis

import (
	"context"
	"fmt"
	"pulse/internal/config"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient opens the shared client used by every presence store and
// fails fast when the server is unreachable.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.ContextTimeoutEnabled = true
	rdb := redis.NewClient(opts)
	if err := ping(ctx, rdb, cfg); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func ping(ctx context.Context, rdb *redis.Client, cfg config.RedisConfig) error {
	pingCtx := ctx
	if cfg.PingTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.PingTimeout)
		defer cancel()
	}
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}
