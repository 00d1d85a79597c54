package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestAllowSlidingWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter := Limiter{Client: client, Prefix: "rl:quote"}

	ctx := context.Background()
	window := 2 * time.Second
	limit := 2

	for i := 0; i < limit; i++ {
		allowed, remaining, _, err := limiter.Allow(ctx, "198.51.100.7", window, limit)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("request %d within budget should pass", i)
		}
		if remaining != limit-(i+1) {
			t.Fatalf("remaining after request %d = %d", i, remaining)
		}
	}

	allowed, remaining, _, err := limiter.Allow(ctx, "198.51.100.7", window, limit)
	if err != nil {
		t.Fatalf("allow over budget: %v", err)
	}
	if allowed || remaining != 0 {
		t.Fatalf("over-budget request must be rejected with 0 remaining, got allowed=%v remaining=%d", allowed, remaining)
	}

	// Expired entries fall out of the window.
	mr.FastForward(window)
	allowed, _, _, err = limiter.Allow(ctx, "198.51.100.7", window, limit)
	if err != nil {
		t.Fatalf("allow after window: %v", err)
	}
	if !allowed {
		t.Fatal("request after window elapsed should pass")
	}
}

func TestAllowKeysAreIndependent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter := Limiter{Client: client, Prefix: "rl:quote"}
	ctx := context.Background()

	if allowed, _, _, _ := limiter.Allow(ctx, "a", time.Second, 1); !allowed {
		t.Fatal("first event for key a should pass")
	}
	if allowed, _, _, _ := limiter.Allow(ctx, "a", time.Second, 1); allowed {
		t.Fatal("second event for key a should be rejected")
	}
	if allowed, _, _, _ := limiter.Allow(ctx, "b", time.Second, 1); !allowed {
		t.Fatal("key b must not share key a's budget")
	}
}
