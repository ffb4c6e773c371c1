package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// decrementScript decrements the counter, pins it at zero and re-applies the TTL.
var decrementScript = redis.NewScript(`
local v = redis.call('DECR', KEYS[1])
if v < 0 then
	redis.call('SET', KEYS[1], '0')
	v = 0
end
redis.call('EXPIRE', KEYS[1], ARGV[1])
return v
`)

// ensureScript revives a missing or non-positive counter to 1, otherwise
// only slides its TTL.
var ensureScript = redis.NewScript(`
local v = tonumber(redis.call('GET', KEYS[1]) or '0')
if v <= 0 then
	redis.call('SET', KEYS[1], '1', 'EX', ARGV[1])
	return 1
end
redis.call('EXPIRE', KEYS[1], ARGV[1])
return v
`)

// RedisPresenceStore keeps the connection registry and the per-account
// online counters.
type RedisPresenceStore struct {
	rdb *redis.Client
}

func NewRedisPresenceStore(rdb *redis.Client) *RedisPresenceStore {
	return &RedisPresenceStore{
		rdb: rdb,
	}
}

/*
	type ConnectionRegistry interface {
		BindConnection(ctx context.Context, connID, accountID string, ttl time.Duration) error
		ResolveConnection(ctx context.Context, connID string) (string, error)
		UnbindConnection(ctx context.Context, connID string) error
	}
*/

func (p *RedisPresenceStore) BindConnection(ctx context.Context, connID, accountID string, ttl time.Duration) error {
	return p.rdb.Set(ctx, connKey(connID), accountID, time.Duration(ttlSeconds(ttl))*time.Second).Err()
}

// ResolveConnection returns "" when the mapping expired or never existed.
func (p *RedisPresenceStore) ResolveConnection(ctx context.Context, connID string) (string, error) {
	accountID, err := p.rdb.Get(ctx, connKey(connID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return accountID, err
}

func (p *RedisPresenceStore) UnbindConnection(ctx context.Context, connID string) error {
	return p.rdb.Del(ctx, connKey(connID)).Err()
}

/*
	type OnlineCounter interface {
		IncrementOnline(ctx context.Context, accountID string, ttl time.Duration) (int64, error)
		DecrementOnline(ctx context.Context, accountID string, ttl time.Duration) (int64, error)
		EnsureOnline(ctx context.Context, accountID string, ttl time.Duration) (int64, error)
		OnlineCount(ctx context.Context, accountID string) (int64, error)
		OnlineCounts(ctx context.Context, accountIDs []string) (map[string]int64, error)
	}
*/

func (p *RedisPresenceStore) IncrementOnline(ctx context.Context, accountID string, ttl time.Duration) (int64, error) {
	key := onlineKey(accountID)
	var incr *redis.IntCmd
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, time.Duration(ttlSeconds(ttl))*time.Second)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (p *RedisPresenceStore) DecrementOnline(ctx context.Context, accountID string, ttl time.Duration) (int64, error) {
	return decrementScript.Run(ctx, p.rdb, []string{onlineKey(accountID)}, ttlSeconds(ttl)).Int64()
}

func (p *RedisPresenceStore) EnsureOnline(ctx context.Context, accountID string, ttl time.Duration) (int64, error) {
	return ensureScript.Run(ctx, p.rdb, []string{onlineKey(accountID)}, ttlSeconds(ttl)).Int64()
}

func (p *RedisPresenceStore) OnlineCount(ctx context.Context, accountID string) (int64, error) {
	n, err := p.rdb.Get(ctx, onlineKey(accountID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// OnlineCounts reads every counter with a single MGET. Missing keys count as 0.
func (p *RedisPresenceStore) OnlineCounts(ctx context.Context, accountIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(accountIDs))
	if len(accountIDs) == 0 {
		return out, nil
	}
	keys := make([]string, len(accountIDs))
	for i, id := range accountIDs {
		keys[i] = onlineKey(id)
	}
	vals, err := p.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			out[accountIDs[i]] = 0
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse online counter %s: %w", keys[i], err)
		}
		out[accountIDs[i]] = n
	}
	return out, nil
}
