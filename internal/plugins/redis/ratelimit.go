package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// windowScript increments a fixed-window counter and arms its TTL on the first hit.
var windowScript = redis.NewScript(`
local v = redis.call('INCR', KEYS[1])
if v == 1 then
	redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return v
`)

type RedisWindowCounter struct {
	rdb *redis.Client
}

func NewRedisWindowCounter(rdb *redis.Client) *RedisWindowCounter {
	return &RedisWindowCounter{rdb: rdb}
}

func (w *RedisWindowCounter) IncrementWindow(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return windowScript.Run(ctx, w.rdb, []string{keyPrefix + key}, ttlSeconds(ttl)).Int64()
}

// WindowTTL returns 0 for a missing key or one without expiry.
func (w *RedisWindowCounter) WindowTTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := w.rdb.TTL(ctx, keyPrefix+key).Result()
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}
