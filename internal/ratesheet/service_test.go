package ratesheet_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-quoting/internal/ratesheet"
	"github.com/noah-isme/backend-quoting/internal/resilience"
)

const serviceBundle = `{
	"styleNumber": "PC54",
	"tiersR": [{"TierLabel": "24-47", "MinQuantity": 24, "MaxQuantity": 47, "MarginDenominator": 0.6}],
	"rulesR": {"RoundingMethod": "HalfDollarUp"},
	"sizes": [{"size": "S", "price": 3.00}]
}`

func newTestService(t *testing.T, origin http.Handler) (*ratesheet.Service, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	server := httptest.NewServer(origin)
	t.Cleanup(server.Close)

	return &ratesheet.Service{
		Client: resilience.HTTPClient{
			Client:      server.Client(),
			Breaker:     resilience.NewBreaker(5, 0.5, time.Second),
			MaxAttempts: 2,
			BaseBackoff: time.Millisecond,
		},
		Cache:   ratesheet.NewCache(client, time.Minute),
		BaseURL: server.URL,
	}, mr
}

func TestGetFetchesOriginThenCaches(t *testing.T) {
	var hits int64
	svc, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		require.Equal(t, "PC54", r.URL.Query().Get("styleNumber"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(serviceBundle))
	}))

	ctx := context.Background()
	sheet, err := svc.Get(ctx, "PC54")
	require.NoError(t, err)
	require.Equal(t, "PC54", sheet.StyleNumber)

	again, err := svc.Get(ctx, "PC54")
	require.NoError(t, err)
	require.Equal(t, sheet.Table.Sizes, again.Table.Sizes)
	require.Equal(t, int64(1), atomic.LoadInt64(&hits), "second read must be served from cache")
}

func TestGetUnknownStyle(t *testing.T) {
	svc, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	_, err := svc.Get(context.Background(), "NOPE")
	require.ErrorIs(t, err, ratesheet.ErrStyleNotFound)
}

func TestGetOriginDown(t *testing.T) {
	svc, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	_, err := svc.Get(context.Background(), "PC54")
	require.ErrorIs(t, err, ratesheet.ErrOriginUnavailable)
}

func TestRefreshDropsCache(t *testing.T) {
	var hits int64
	svc, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(serviceBundle))
	}))

	ctx := context.Background()
	_, err := svc.Get(ctx, "PC54")
	require.NoError(t, err)
	_, err = svc.Refresh(ctx, "PC54")
	require.NoError(t, err)
	require.Equal(t, int64(2), atomic.LoadInt64(&hits))
}

func TestStaleFetchCannotOverwriteAfterInvalidate(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache := ratesheet.NewCache(client, time.Minute)
	ctx := context.Background()

	gen, err := cache.Generation(ctx, "PC54")
	require.NoError(t, err)

	// Invalidation bumps the generation while the fetch is in flight.
	require.NoError(t, cache.Invalidate(ctx, "PC54"))

	sheet, err := ratesheet.ParseSheet([]byte(serviceBundle))
	require.NoError(t, err)
	require.NoError(t, cache.Set(ctx, sheet, gen))

	_, ok, err := cache.Get(ctx, "PC54")
	require.NoError(t, err)
	require.False(t, ok, "stale write must be discarded")
}
