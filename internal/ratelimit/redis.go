package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the shared counter store: a two-bucket weighted
// sliding-window counter over Redis.
//
// Algorithm:
//  1. Bucket key = "<prefix><key>:<window start unix ms>".
//  2. INCR the current bucket and set it to expire after two windows
//     (self-cleaning keys).
//  3. GET the previous bucket.
//  4. Effective count = previous count scaled by how much of the trailing
//     window still overlaps it, plus the current count.
//
// All mutation goes through INCR — no caller-side read-modify-write — so
// concurrent checks from many instances stay correct.
type RedisStore struct {
	client redis.Cmdable
	prefix string

	now func() time.Time
}

// NewRedisStore wraps a Redis client. prefix namespaces the limiter's keys
// away from anything else in the instance; empty defaults to "kudos:rl:".
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "kudos:rl:"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

// Check consumes one unit for key in the sliding window.
func (s *RedisStore) Check(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	now := s.now()
	windowStart := now.Truncate(window)

	curKey := s.bucketKey(key, windowStart)
	prevKey := s.bucketKey(key, windowStart.Add(-window))

	pipe := s.client.Pipeline()
	incr := pipe.Incr(ctx, curKey)
	pipe.Expire(ctx, curKey, 2*window)
	prev := pipe.Get(ctx, prevKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		// redis.Nil just means no previous bucket; anything else is a
		// real store failure and the caller falls back.
		return Result{}, fmt.Errorf("rate limit pipeline: %w", err)
	}

	cur := incr.Val()

	var prevCount int64
	if v, err := prev.Int64(); err == nil {
		prevCount = v
	}

	count := weightedCount(prevCount, cur, now.Sub(windowStart), window)

	remaining := int64(limit) - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= int64(limit),
		Remaining: int(remaining),
		ResetAt:   windowStart.Add(window),
	}, nil
}

// weightedCount blends the previous bucket into the current one by the
// fraction of the trailing window it still covers. elapsed is how far we
// are into the current bucket.
func weightedCount(prevCount, cur int64, elapsed, window time.Duration) int64 {
	overlap := 1 - float64(elapsed)/float64(window)
	return int64(float64(prevCount)*overlap) + cur
}

func (s *RedisStore) bucketKey(key string, windowStart time.Time) string {
	return fmt.Sprintf("%s%s:%d", s.prefix, key, windowStart.UnixMilli())
}
