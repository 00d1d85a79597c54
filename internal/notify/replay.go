package notify

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisReplayProtector claims a per-delivery key with SETNX so two
// workers racing on the same webhook delivery send it once. With no
// client configured it degrades to always-allow, which keeps quote
// event fan-out alive when Redis is down.
type RedisReplayProtector struct {
	Client *redis.Client
}

// Acquire claims the delivery key for ttl. A false return means
// another worker already holds it.
func (r RedisReplayProtector) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r.Client == nil {
		return true, nil
	}
	return r.Client.SetNX(ctx, key, "1", ttl).Result()
}

// Release drops the guard so a retry after a failed send can claim it
// again before the ttl lapses.
func (r RedisReplayProtector) Release(ctx context.Context, key string) error {
	if r.Client == nil {
		return nil
	}
	return r.Client.Del(ctx, key).Err()
}
