package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/noah-isme/backend-quoting/internal/lock"
)

// DeliveryWorker drains webhook delivery tasks from the queue. The
// per-delivery lock stops the API's inline dispatch loop and a worker
// replica from sending the same delivery twice.
type DeliveryWorker struct {
	Dispatcher *Dispatcher
	Locker     lock.Locker
	LockTTL    time.Duration
}

// Handle delivers the webhook named by the task payload, which is the
// bare delivery ID. Blank payloads are dropped rather than retried.
func (w DeliveryWorker) Handle(ctx context.Context, payload []byte) error {
	if w.Dispatcher == nil {
		return errors.New("webhook worker: dispatcher not configured")
	}
	deliveryID := strings.TrimSpace(string(payload))
	if deliveryID == "" {
		return nil
	}
	ttl := w.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return w.Locker.WithLock(ctx, "lock:delivery:"+deliveryID, ttl, func(ctx context.Context) error {
		return w.Dispatcher.DeliverByID(ctx, deliveryID)
	})
}
