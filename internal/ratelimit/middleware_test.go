package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMiddlewareThrottlesPriceEndpoint(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	handler := Handler{
		Limiter: Limiter{Client: client, Prefix: "rl:quote"},
		Config: Config{
			Key:    func(*http.Request) string { return "203.0.113.9" },
			Window: time.Second,
			Max:    1,
		},
	}
	priced := handler.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/quotes/price", nil)
	first := httptest.NewRecorder()
	priced.ServeHTTP(first, req.Clone(req.Context()))
	if first.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	priced.ServeHTTP(second, req.Clone(req.Context()))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request should be throttled, got %d", second.Code)
	}
	if second.Header().Get("X-RateLimit-Limit") != "1" {
		t.Fatalf("unexpected limit header %q", second.Header().Get("X-RateLimit-Limit"))
	}
	if second.Header().Get("Retry-After") == "" {
		t.Fatal("throttled response must carry Retry-After")
	}
}

func TestMiddlewareFailsOpenOnRedisError(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })

	var reported bool
	handler := Handler{
		Limiter: Limiter{Client: client, Prefix: "rl:quote"},
		Config: Config{
			Key:    func(*http.Request) string { return "203.0.113.9" },
			Window: time.Second,
			Max:    1,
		},
		OnError: func(error) { reported = true },
	}
	priced := handler.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	priced.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/quotes/price", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("limiter outage must not block pricing, got %d", rr.Code)
	}
	if !reported {
		t.Fatal("OnError callback not invoked")
	}
}
