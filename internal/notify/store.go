package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-quoting/internal/events"
)

// Store defines the persistence operations required for webhook management.
type Store interface {
	CreateEndpoint(ctx context.Context, ep Endpoint) (Endpoint, error)
	UpdateEndpoint(ctx context.Context, ep Endpoint) (Endpoint, error)
	GetEndpoint(ctx context.Context, id uuid.UUID) (Endpoint, error)
	ListEndpoints(ctx context.Context, limit, offset int) ([]Endpoint, error)
	DeleteEndpoint(ctx context.Context, id uuid.UUID) error

	ListActiveEndpointsForTopic(ctx context.Context, topic string) ([]Endpoint, error)
	EnqueueDelivery(ctx context.Context, endpointID uuid.UUID, eventID int64, maxAttempt int) (Delivery, error)
	DequeueDueDeliveries(ctx context.Context, limit int) ([]Delivery, error)
	MarkDelivering(ctx context.Context, id uuid.UUID) error
	MarkDelivered(ctx context.Context, id uuid.UUID, status int, body string) error
	MarkFailedWithBackoff(ctx context.Context, id uuid.UUID, delaySec int, lastError string) error
	MoveToDLQ(ctx context.Context, id uuid.UUID, reason string) error
	GetDeliveryByID(ctx context.Context, id uuid.UUID) (Delivery, error)
	ResetDeliveryForReplay(ctx context.Context, id uuid.UUID) (Delivery, error)
	ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]Delivery, error)
	CountDeliveries(ctx context.Context, filter DeliveryFilter) (int64, error)

	GetDomainEvent(ctx context.Context, id int64) (events.DomainEvent, error)
}

// ErrEndpointNotFound is returned when a webhook endpoint does not exist.
var ErrEndpointNotFound = errors.New("webhook endpoint not found")

// PGStore is the Postgres-backed Store.
type PGStore struct {
	Pool *pgxpool.Pool
}

const endpointColumns = `id, name, url, secret, active, topics, created_at, updated_at`

const deliveryColumns = `id, endpoint_id, event_id, attempt, max_attempt, status,
	coalesce(last_error, ''), coalesce(response_status, 0), coalesce(response_body, ''),
	next_attempt_at, created_at, updated_at`

func (s *PGStore) CreateEndpoint(ctx context.Context, ep Endpoint) (Endpoint, error) {
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO webhook_endpoints (id, name, url, secret, active, topics)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING `+endpointColumns,
		uuid.New(), ep.Name, ep.URL, ep.Secret, ep.Active, ep.Topics)
	return scanEndpoint(row)
}

func (s *PGStore) UpdateEndpoint(ctx context.Context, ep Endpoint) (Endpoint, error) {
	row := s.Pool.QueryRow(ctx, `
		UPDATE webhook_endpoints
		SET name = $2, url = $3, secret = $4, active = $5, topics = $6, updated_at = now()
		WHERE id = $1
		RETURNING `+endpointColumns,
		ep.ID, ep.Name, ep.URL, ep.Secret, ep.Active, ep.Topics)
	out, err := scanEndpoint(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Endpoint{}, ErrEndpointNotFound
	}
	return out, err
}

func (s *PGStore) GetEndpoint(ctx context.Context, id uuid.UUID) (Endpoint, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+endpointColumns+` FROM webhook_endpoints WHERE id = $1`, id)
	out, err := scanEndpoint(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Endpoint{}, ErrEndpointNotFound
	}
	return out, err
}

func (s *PGStore) ListEndpoints(ctx context.Context, limit, offset int) ([]Endpoint, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+endpointColumns+`
		FROM webhook_endpoints ORDER BY created_at LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEndpoints(rows)
}

func (s *PGStore) DeleteEndpoint(ctx context.Context, id uuid.UUID) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM webhook_endpoints WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEndpointNotFound
	}
	return nil
}

func (s *PGStore) ListActiveEndpointsForTopic(ctx context.Context, topic string) ([]Endpoint, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+endpointColumns+`
		FROM webhook_endpoints WHERE active AND $1 = ANY(topics)`, topic)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEndpoints(rows)
}

// EnqueueDelivery inserts one pending delivery. The (endpoint, event)
// pair is unique, so re-emitting an event never double-schedules.
func (s *PGStore) EnqueueDelivery(ctx context.Context, endpointID uuid.UUID, eventID int64, maxAttempt int) (Delivery, error) {
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO webhook_deliveries (id, endpoint_id, event_id, max_attempt, status, next_attempt_at)
		VALUES ($1,$2,$3,$4,'pending',now())
		RETURNING `+deliveryColumns,
		uuid.New(), endpointID, eventID, maxAttempt)
	return scanDelivery(row)
}

func (s *PGStore) DequeueDueDeliveries(ctx context.Context, limit int) ([]Delivery, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+deliveryColumns+`
		FROM webhook_deliveries
		WHERE status IN ('pending','failed') AND next_attempt_at <= now()
		ORDER BY next_attempt_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		del, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, del)
	}
	return out, rows.Err()
}

func (s *PGStore) MarkDelivering(ctx context.Context, id uuid.UUID) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE webhook_deliveries SET status = 'delivering', updated_at = now()
		WHERE id = $1`, id)
	return err
}

func (s *PGStore) MarkDelivered(ctx context.Context, id uuid.UUID, status int, body string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = 'delivered', attempt = attempt + 1,
			response_status = $2, response_body = $3, updated_at = now()
		WHERE id = $1`, id, status, body)
	return err
}

func (s *PGStore) MarkFailedWithBackoff(ctx context.Context, id uuid.UUID, delaySec int, lastError string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = 'failed', attempt = attempt + 1, last_error = $2,
			next_attempt_at = now() + make_interval(secs => $3), updated_at = now()
		WHERE id = $1`, id, lastError, delaySec)
	return err
}

func (s *PGStore) MoveToDLQ(ctx context.Context, id uuid.UUID, reason string) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = 'dlq', attempt = attempt + 1, last_error = $2, updated_at = now()
		WHERE id = $1`, id, reason); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO webhook_dlq (id, delivery_id, reason) VALUES ($1,$2,$3)`,
		uuid.New(), id, reason); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) GetDeliveryByID(ctx context.Context, id uuid.UUID) (Delivery, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = $1`, id)
	return scanDelivery(row)
}

// ResetDeliveryForReplay puts a DLQ'd delivery back on the queue and
// removes its DLQ marker.
func (s *PGStore) ResetDeliveryForReplay(ctx context.Context, id uuid.UUID) (Delivery, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return Delivery{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		UPDATE webhook_deliveries
		SET status = 'pending', attempt = 0, last_error = NULL,
			next_attempt_at = now(), updated_at = now()
		WHERE id = $1
		RETURNING `+deliveryColumns, id)
	del, err := scanDelivery(row)
	if err != nil {
		return Delivery{}, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM webhook_dlq WHERE delivery_id = $1`, id); err != nil {
		return Delivery{}, err
	}
	return del, tx.Commit(ctx)
}

func (s *PGStore) ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]Delivery, error) {
	clause, args := deliveryWhere(filter)
	args = append(args, filter.Limit, filter.Offset)
	rows, err := s.Pool.Query(ctx, fmt.Sprintf(`SELECT `+deliveryColumns+`
		FROM webhook_deliveries%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		del, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, del)
	}
	return out, rows.Err()
}

func (s *PGStore) CountDeliveries(ctx context.Context, filter DeliveryFilter) (int64, error) {
	clause, args := deliveryWhere(filter)
	var total int64
	err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM webhook_deliveries`+clause, args...).Scan(&total)
	return total, err
}

func (s *PGStore) GetDomainEvent(ctx context.Context, id int64) (events.DomainEvent, error) {
	var ev events.DomainEvent
	err := s.Pool.QueryRow(ctx, `
		SELECT id, topic, aggregate_id, payload, occurred_at
		FROM domain_events WHERE id = $1`, id).
		Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &ev.Payload, &ev.OccurredAt)
	return ev, err
}

func deliveryWhere(filter DeliveryFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if filter.EndpointID != uuid.Nil {
		args = append(args, filter.EndpointID)
		where = append(where, fmt.Sprintf("endpoint_id = $%d", len(args)))
	}
	if filter.EventID != 0 {
		args = append(args, filter.EventID)
		where = append(where, fmt.Sprintf("event_id = $%d", len(args)))
	}
	if strings.TrimSpace(filter.Status) != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(where) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

func scanEndpoint(row pgx.Row) (Endpoint, error) {
	var ep Endpoint
	err := row.Scan(&ep.ID, &ep.Name, &ep.URL, &ep.Secret, &ep.Active, &ep.Topics,
		&ep.CreatedAt, &ep.UpdatedAt)
	return ep, err
}

func collectEndpoints(rows pgx.Rows) ([]Endpoint, error) {
	var out []Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

func scanDelivery(row pgx.Row) (Delivery, error) {
	var (
		del    Delivery
		status string
	)
	err := row.Scan(&del.ID, &del.EndpointID, &del.EventID, &del.Attempt, &del.MaxAttempt,
		&status, &del.LastError, &del.ResponseStatus, &del.ResponseBody,
		&del.NextAttemptAt, &del.CreatedAt, &del.UpdatedAt)
	if err != nil {
		return Delivery{}, err
	}
	del.Status = DeliveryStatus(status)
	return del, nil
}
