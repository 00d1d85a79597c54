package events

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists domain events in the domain_events table.
type PGStore struct {
	Pool *pgxpool.Pool
}

// InsertDomainEvent appends one event and returns it with its assigned ID.
func (s *PGStore) InsertDomainEvent(ctx context.Context, topic, aggregateID string, payload []byte) (DomainEvent, error) {
	if s == nil || s.Pool == nil {
		return DomainEvent{}, errors.New("events: store not configured")
	}
	var ev DomainEvent
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO domain_events (topic, aggregate_id, payload)
		VALUES ($1,$2,$3)
		RETURNING id, topic, aggregate_id, payload, occurred_at`,
		topic, aggregateID, payload).
		Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &ev.Payload, &ev.OccurredAt)
	return ev, err
}

// ListByAggregate returns the event history for one quote, oldest first.
func (s *PGStore) ListByAggregate(ctx context.Context, aggregateID string, limit int) ([]DomainEvent, error) {
	if s == nil || s.Pool == nil {
		return nil, errors.New("events: store not configured")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT id, topic, aggregate_id, payload, occurred_at
		FROM domain_events WHERE aggregate_id = $1
		ORDER BY id LIMIT $2`, aggregateID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DomainEvent
	for rows.Next() {
		var ev DomainEvent
		if err := rows.Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &ev.Payload, &ev.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
