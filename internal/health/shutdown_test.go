package health_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-quoting/internal/health"
)

type healthyChecker struct{}

func (healthyChecker) PingDB(context.Context, time.Duration) error    { return nil }
func (healthyChecker) PingRedis(context.Context, time.Duration) error { return nil }

// Draining flips readiness to 503 even while the backing stores are
// still healthy, so the load balancer stops routing new quote traffic
// before the listener closes.
func TestReadinessAfterShutdown(t *testing.T) {
	handler := health.Handler{Checker: healthyChecker{}}

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)

	health.SetReady(true)
	resp := httptest.NewRecorder()
	handler.Ready(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)

	health.SetReady(false)
	resp2 := httptest.NewRecorder()
	handler.Ready(resp2, req)
	require.Equal(t, http.StatusServiceUnavailable, resp2.Code)

	// reset for other tests
	health.SetReady(true)
}
