package redis

import (
	"context"
	"errors"
	"pulse/internal/core/contracts"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// removeIfDueScript drops each member only while its score still equals the
// one the sweeper observed. ARGV holds member/score pairs.
var removeIfDueScript = redis.NewScript(`
local removed = 0
for i = 1, #ARGV, 2 do
	local score = redis.call('ZSCORE', KEYS[1], ARGV[i])
	if score and tonumber(score) == tonumber(ARGV[i + 1]) then
		removed = removed + redis.call('ZREM', KEYS[1], ARGV[i])
	end
end
return removed
`)

// RedisOfflineSchedule stores offline candidates in one sorted set scored by
// their due time in unix seconds.
type RedisOfflineSchedule struct {
	rdb *redis.Client
}

func NewRedisOfflineSchedule(rdb *redis.Client) *RedisOfflineSchedule {
	return &RedisOfflineSchedule{rdb: rdb}
}

func (s *RedisOfflineSchedule) Schedule(ctx context.Context, accountID string, dueAt time.Time) error {
	return s.rdb.ZAdd(ctx, offlineCandidatesKey, redis.Z{
		Score:  float64(dueAt.Unix()),
		Member: accountID,
	}).Err()
}

func (s *RedisOfflineSchedule) Cancel(ctx context.Context, accountID string) error {
	return s.rdb.ZRem(ctx, offlineCandidatesKey, accountID).Err()
}

func (s *RedisOfflineSchedule) Due(ctx context.Context, now time.Time, limit int) ([]contracts.DueCandidate, error) {
	opt := &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}
	if limit > 0 {
		opt.Count = int64(limit)
	}
	entries, err := s.rdb.ZRangeByScoreWithScores(ctx, offlineCandidatesKey, opt).Result()
	if err != nil {
		return nil, err
	}
	due := make([]contracts.DueCandidate, 0, len(entries))
	for _, z := range entries {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		due = append(due, contracts.DueCandidate{Member: member, DueAt: time.Unix(int64(z.Score), 0)})
	}
	return due, nil
}

func (s *RedisOfflineSchedule) DueAt(ctx context.Context, accountID string) (time.Time, bool, error) {
	score, err := s.rdb.ZScore(ctx, offlineCandidatesKey, accountID).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(int64(score), 0), true, nil
}

func (s *RedisOfflineSchedule) Remove(ctx context.Context, candidates ...contracts.DueCandidate) (int, error) {
	if len(candidates) == 0 {
		return 0, nil
	}
	args := make([]any, 0, 2*len(candidates))
	for _, c := range candidates {
		args = append(args, c.Member, c.DueAt.Unix())
	}
	n, err := removeIfDueScript.Run(ctx, s.rdb, []string{offlineCandidatesKey}, args...).Int64()
	return int(n), err
}
