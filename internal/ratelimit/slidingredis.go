package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limiter counts events per key in a Redis sorted set scored by
// nanosecond timestamp, trimming entries older than the window on
// every call. All API instances share the same counters.
type Limiter struct {
	Client *redis.Client
	Prefix string
}

// Allow records one event for key and reports whether the key stays
// within max events per window.
func (l Limiter) Allow(ctx context.Context, key string, window time.Duration, maxEvents int) (allowed bool, remaining int, reset time.Time, err error) {
	if l.Client == nil || maxEvents <= 0 || window <= 0 {
		return true, maxEvents, time.Now().Add(window), nil
	}

	now := time.Now()
	reset = now.Add(window)
	bucket := l.Prefix + key
	member := fmt.Sprintf("%s:%s", key, uuid.NewString())

	pipe := l.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, bucket, "-inf", fmt.Sprintf("%f", float64(now.Add(-window).UnixNano())))
	pipe.ZAdd(ctx, bucket, redis.Z{Score: float64(now.UnixNano()), Member: member})
	count := pipe.ZCard(ctx, bucket)
	pipe.Expire(ctx, bucket, window)
	if _, err = pipe.Exec(ctx); err != nil {
		return false, 0, reset, err
	}

	current := int(count.Val())
	remaining = maxEvents - current
	if remaining < 0 {
		remaining = 0
	}
	return current <= maxEvents, remaining, reset, nil
}
