package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps window counters in Redis sorted sets scored by
// millisecond timestamps, so multiple runtime instances share one view.
// Keys expire an hour after the last admission.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	seq    atomic.Uint64
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: "toolrunner:ratelimit:"}
}

func (s *RedisStore) Record(ctx context.Context, key string, at time.Time) error {
	rkey := s.prefix + key
	score := float64(at.UnixMilli())
	member := fmt.Sprintf("%d-%d", at.UnixNano(), s.seq.Add(1))

	pipe := s.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, rkey, "-inf", formatMilli(at.Add(-time.Hour)))
	pipe.ZAdd(ctx, rkey, redis.Z{Score: score, Member: member})
	pipe.PExpire(ctx, rkey, time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis record: %w", err)
	}
	return nil
}

func (s *RedisStore) CountSince(ctx context.Context, key string, since time.Time) (int, time.Time, error) {
	rkey := s.prefix + key
	min := formatMilli(since)

	count, err := s.rdb.ZCount(ctx, rkey, min, "+inf").Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis zcount: %w", err)
	}
	if count == 0 {
		return 0, time.Time{}, nil
	}

	oldest, err := s.rdb.ZRangeByScoreWithScores(ctx, rkey, &redis.ZRangeBy{
		Min: min, Max: "+inf", Count: 1,
	}).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis zrange: %w", err)
	}

	var at time.Time
	if len(oldest) > 0 {
		at = time.UnixMilli(int64(oldest[0].Score))
	}
	return int(count), at, nil
}

func formatMilli(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
