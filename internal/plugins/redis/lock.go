package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLocker hands out SET NX EX markers under the presence prefix. Nothing
// releases them; they expire.
type RedisLocker struct {
	rdb *redis.Client
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func (l *RedisLocker) TryAcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, keyPrefix+key, "1", time.Duration(ttlSeconds(ttl))*time.Second).Result()
}
