package notify

import (
	"context"
	"strings"
	"time"

	"github.com/noah-isme/backend-quoting/internal/queue"
)

const webhookDeliveryTask = "webhook-delivery"

// EnqueueDeliveryTask publishes a webhook delivery task for processing by
// the worker. A missing queue is not an error; the poll loop picks the
// delivery up instead.
func (d *Dispatcher) EnqueueDeliveryTask(ctx context.Context, deliveryID string, delay time.Duration, maxAttempts int) error {
	if strings.TrimSpace(deliveryID) == "" {
		return nil
	}
	if d.Queue.R == nil {
		return nil
	}
	if maxAttempts <= 0 {
		maxAttempts = d.DefaultMaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = 6
		}
	}
	task := queue.Task{
		Kind:           webhookDeliveryTask,
		Payload:        []byte(deliveryID),
		IdempotencyKey: deliveryID,
		MaxAttempts:    maxAttempts,
		Delay:          delay,
	}
	return d.Queue.Enqueue(ctx, task)
}

// WebhookDeliveryTask returns the queue kind used for webhook deliveries.
func WebhookDeliveryTask() string {
	return webhookDeliveryTask
}
