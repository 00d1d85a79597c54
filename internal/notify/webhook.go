package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-quoting/internal/events"
	"github.com/noah-isme/backend-quoting/internal/obs"
	"github.com/noah-isme/backend-quoting/internal/queue"
	"github.com/noah-isme/backend-quoting/internal/resilience"
)

// Dispatcher coordinates webhook scheduling and delivery. Finalized
// quotes reach the order-management system through here.
type Dispatcher struct {
	Store              Store
	HTTP               *resilience.HTTPClient
	Queue              queue.Enqueuer
	BackoffBaseSec     int
	DefaultMaxAttempts int
	Enabled            bool
	Replay             ReplayProtector
	ReplayTTL          time.Duration
}

// Schedule enqueues deliveries for active endpoints subscribed to the topic.
func (d *Dispatcher) Schedule(ctx context.Context, event events.DomainEvent) error {
	if d == nil || !d.Enabled || d.Store == nil {
		return nil
	}
	if strings.TrimSpace(event.Topic) == "" {
		return nil
	}
	endpoints, err := d.Store.ListActiveEndpointsForTopic(ctx, event.Topic)
	if err != nil {
		return err
	}
	var joined error
	for _, ep := range endpoints {
		maxAttempt := d.DefaultMaxAttempts
		if maxAttempt <= 0 {
			maxAttempt = 6
		}
		del, err := d.Store.EnqueueDelivery(ctx, ep.ID, event.ID, maxAttempt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				continue
			}
			joined = errors.Join(joined, fmt.Errorf("enqueue delivery for %s: %w", ep.ID, err))
			continue
		}
		if enqErr := d.EnqueueDeliveryTask(ctx, del.ID.String(), 0, maxAttempt); enqErr != nil {
			joined = errors.Join(joined, enqErr)
		}
	}
	return joined
}

// WorkOnce dequeues eligible deliveries and attempts delivery. The
// worker's poll loop calls this on a ticker.
func (d *Dispatcher) WorkOnce(ctx context.Context, batch int) error {
	if d == nil || !d.Enabled || d.Store == nil {
		return nil
	}
	if batch <= 0 {
		batch = 1
	}
	ctx, span := otel.Tracer("notify.Dispatcher").Start(ctx, "Dispatcher.WorkOnce")
	defer span.End()
	span.SetAttributes(attribute.Int("webhook.batch", batch))

	deliveries, err := d.Store.DequeueDueDeliveries(ctx, batch)
	if err != nil {
		span.RecordError(err)
		return err
	}
	for _, del := range deliveries {
		if err := d.attempt(ctx, del); err != nil {
			return err
		}
	}
	return nil
}

// DeliverByID attempts one delivery by its identifier. Used by the queue
// worker path, which carries the delivery ID as the task payload.
func (d *Dispatcher) DeliverByID(ctx context.Context, deliveryID string) error {
	if d == nil || !d.Enabled || d.Store == nil {
		return nil
	}
	id, err := uuid.Parse(strings.TrimSpace(deliveryID))
	if err != nil {
		return fmt.Errorf("webhook: bad delivery id %q: %w", deliveryID, err)
	}
	del, err := d.Store.GetDeliveryByID(ctx, id)
	if err != nil {
		return err
	}
	if del.Status == DeliveryDelivered || del.Status == DeliveryDLQ {
		return nil
	}
	return d.attempt(ctx, del)
}

func (d *Dispatcher) attempt(ctx context.Context, del Delivery) error {
	if obs.WebhookDispatchAttempts != nil {
		obs.WebhookDispatchAttempts.Inc()
	}
	attemptStart := time.Now()
	if err := d.Store.MarkDelivering(ctx, del.ID); err != nil {
		return nil
	}
	endpoint, err := d.Store.GetEndpoint(ctx, del.EndpointID)
	if err != nil {
		return d.failDelivery(ctx, del, fmt.Errorf("load endpoint: %w", err))
	}
	event, err := d.Store.GetDomainEvent(ctx, del.EventID)
	if err != nil {
		return d.failDelivery(ctx, del, fmt.Errorf("load event: %w", err))
	}
	status, respBody, deliverErr := d.deliver(ctx, endpoint, event, del)
	if deliverErr == nil && status >= 200 && status < 300 {
		d.observeAttempt("delivered", attemptStart)
		return d.Store.MarkDelivered(ctx, del.ID, status, respBody)
	}
	reason := fmt.Sprintf("status=%d err=%v", status, deliverErr)
	if del.Attempt+1 >= del.MaxAttempt {
		d.observeAttempt("dlq", attemptStart)
		if obs.WebhookDispatchDLQ != nil {
			obs.WebhookDispatchDLQ.Inc()
		}
		_ = d.Store.MoveToDLQ(ctx, del.ID, reason)
		return nil
	}
	d.observeAttempt("failed", attemptStart)
	_ = d.Store.MarkFailedWithBackoff(ctx, del.ID, d.nextDelay(del.Attempt), reason)
	return nil
}

func (d *Dispatcher) observeAttempt(result string, start time.Time) {
	if obs.WebhookDeliveriesTotal != nil {
		obs.WebhookDeliveriesTotal.WithLabelValues(result).Inc()
	}
	if obs.WebhookAttemptLatency != nil {
		obs.WebhookAttemptLatency.WithLabelValues(result).Observe(obs.DurationMillis(time.Since(start)))
	}
}

func (d *Dispatcher) nextDelay(attempt int) int {
	base := d.BackoffBaseSec
	if base <= 0 {
		base = 5
	}
	factor := 1 << attempt
	if factor < 1 {
		factor = 1
	}
	return base * factor
}

func (d *Dispatcher) failDelivery(ctx context.Context, del Delivery, err error) error {
	reason := err.Error()
	if del.Attempt+1 >= del.MaxAttempt {
		if obs.WebhookDeliveriesTotal != nil {
			obs.WebhookDeliveriesTotal.WithLabelValues("dlq").Inc()
		}
		if obs.WebhookDispatchDLQ != nil {
			obs.WebhookDispatchDLQ.Inc()
		}
		return d.Store.MoveToDLQ(ctx, del.ID, reason)
	}
	if obs.WebhookDeliveriesTotal != nil {
		obs.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
	}
	return d.Store.MarkFailedWithBackoff(ctx, del.ID, d.nextDelay(del.Attempt), reason)
}

func (d *Dispatcher) deliver(ctx context.Context, ep Endpoint, ev events.DomainEvent, del Delivery) (int, string, error) {
	if d.HTTP == nil {
		return 0, "", errors.New("webhook: http client not configured")
	}
	ctx, span := otel.Tracer("notify.Dispatcher").Start(ctx, "Dispatcher.deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("webhook.endpoint_id", ep.ID.String()),
		attribute.String("webhook.delivery_id", del.ID.String()),
		attribute.String("webhook.topic", ev.Topic),
	)
	if err := validateURL(ep.URL); err != nil {
		span.RecordError(err)
		return 0, "", err
	}
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	payload := struct {
		EventID     string          `json:"eventId"`
		Topic       string          `json:"topic"`
		AggregateID string          `json:"aggregateId"`
		Data        json.RawMessage `json:"data"`
		OccurredAt  time.Time       `json:"occurredAt"`
	}{
		EventID:     strconv.FormatInt(ev.ID, 10),
		Topic:       ev.Topic,
		AggregateID: ev.AggregateID,
		Data:        ev.Payload,
		OccurredAt:  occurred,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		return 0, "", err
	}
	ts := time.Now().Unix()
	if d.Replay != nil && d.ReplayTTL > 0 {
		key := replayKey(ep.ID, ev.ID)
		ok, err := d.Replay.Acquire(ctx, key, d.ReplayTTL)
		if err != nil {
			span.RecordError(err)
			return 0, "", err
		}
		if !ok {
			span.AddEvent("delivery replay prevented")
			return http.StatusOK, "replay-suppressed", nil
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return 0, "", err
	}
	eventID := strconv.FormatInt(ev.ID, 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "backend-quoting-webhooks/1.0")
	req.Header.Set("X-Event-ID", eventID)
	req.Header.Set("X-Timestamp", fmt.Sprintf("%d", ts))
	req.Header.Set("X-Idempotency-Key", del.ID.String())
	req.Header.Set("X-Signature", ComputeSignature(ep.Secret, ts, eventID, body))
	resp, err := d.HTTP.Do(ctx, req)
	if err != nil {
		span.RecordError(err)
		return 0, "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		span.RecordError(err)
		return resp.StatusCode, "", err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp.StatusCode, string(responseBody), nil
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid endpoint url: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return errors.New("webhook url must be http or https")
	}
	if parsed.Scheme == "http" {
		host := parsed.Hostname()
		if host != "localhost" && host != "127.0.0.1" {
			return errors.New("http webhook only allowed for localhost")
		}
	}
	if parsed.Host == "" {
		return errors.New("webhook url must include host")
	}
	return nil
}

// Deliver exposes the low-level delivery routine to allow manual replays and testing.
func (d *Dispatcher) Deliver(ctx context.Context, ep Endpoint, ev events.DomainEvent, del Delivery) (int, string, error) {
	return d.deliver(ctx, ep, ev, del)
}

// ComputeSignature calculates the webhook signature for the provided payload. The
// format is HMAC-SHA256 over "<ts>.<eventID>.<body>" using the endpoint secret.
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(eventID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ReplayProtector guards against sending duplicate deliveries within a TTL.
type ReplayProtector interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

func replayKey(endpointID uuid.UUID, eventID int64) string {
	return fmt.Sprintf("wh:%s:%d", endpointID, eventID)
}
