package common

import (
	"context"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Idem guards write endpoints against duplicate submission. Clients
// send an Idempotency-Key header; the first request claims the key in
// Redis and replays within the TTL are rejected with 409.
type Idem struct {
	R   *redis.Client
	TTL time.Duration
}

// Middleware enforces the idempotency claim before calling next.
// Requests without the header pass through untouched.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if key == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		claim := "idem:" + Sha256Hex(key)
		claimed, err := i.R.SetNX(r.Context(), claim, "locked", i.TTL).Result()
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "INTERNAL",
				"idempotency store error", map[string]any{"error": err.Error()})
			return
		}
		if !claimed {
			JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "duplicate request", nil)
			return
		}
		defer func() {
			// Re-arm the TTL so a panicking handler cannot pin the key.
			_ = i.R.Expire(context.Background(), claim, i.TTL).Err()
		}()
		next.ServeHTTP(w, r)
	})
}
