package queue

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable indicates the DLQ store dependency is not configured.
var ErrStoreUnavailable = errors.New("queue: store unavailable")

// Store persists tasks that exhausted their retries. Webhook
// deliveries and document exports land here so staff can inspect and
// replay them instead of losing the work.
type Store interface {
	InsertQueueDlq(ctx context.Context, entry DLQEntry) (uuid.UUID, error)
	DeleteQueueDlq(ctx context.Context, id uuid.UUID) error
	GetQueueDlq(ctx context.Context, id uuid.UUID) (DLQEntry, error)
	ListQueueDlq(ctx context.Context, kind string, limit, offset int) ([]DLQEntry, error)
	CountQueueDlq(ctx context.Context, kind string) (int64, error)
	QueueDlqSizeByKind(ctx context.Context) (map[string]int64, error)
}

// DLQEntry is one dead task. Payload keeps the original task body so
// a replay re-enqueues exactly what failed.
type DLQEntry struct {
	ID             uuid.UUID
	Kind           string
	IdempotencyKey string
	Payload        []byte
	Attempts       int
	LastError      *string
	CreatedAt      time.Time
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

const dlqColumns = `id, kind, idem_key, payload, attempts, last_error, created_at`

func (s *pgStore) available() bool {
	return s != nil && s.pool != nil
}

// InsertQueueDlq persists a dead task and returns its identifier.
func (s *pgStore) InsertQueueDlq(ctx context.Context, entry DLQEntry) (uuid.UUID, error) {
	if !s.available() {
		return uuid.Nil, ErrStoreUnavailable
	}
	var lastError any
	if entry.LastError != nil {
		lastError = *entry.LastError
	}
	var id uuid.UUID
	err := s.pool.QueryRow(ctx,
		`INSERT INTO queue_dlq (kind, idem_key, payload, attempts, last_error)
VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		entry.Kind, entry.IdempotencyKey, entry.Payload, entry.Attempts, lastError,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// DeleteQueueDlq removes an entry, typically after a successful replay.
func (s *pgStore) DeleteQueueDlq(ctx context.Context, id uuid.UUID) error {
	if !s.available() {
		return ErrStoreUnavailable
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM queue_dlq WHERE id = $1`, id)
	return err
}

// GetQueueDlq fetches one entry by ID.
func (s *pgStore) GetQueueDlq(ctx context.Context, id uuid.UUID) (DLQEntry, error) {
	if !s.available() {
		return DLQEntry{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+dlqColumns+` FROM queue_dlq WHERE id = $1`, id)
	return scanDLQEntry(row)
}

// ListQueueDlq pages through entries newest-first, optionally filtered
// by task kind.
func (s *pgStore) ListQueueDlq(ctx context.Context, kind string, limit, offset int) ([]DLQEntry, error) {
	if !s.available() {
		return nil, ErrStoreUnavailable
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}

	var (
		rows pgx.Rows
		err  error
	)
	if kind = strings.TrimSpace(kind); kind != "" {
		rows, err = s.pool.Query(ctx,
			`SELECT `+dlqColumns+` FROM queue_dlq WHERE kind = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			kind, limit, offset)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+dlqColumns+` FROM queue_dlq ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
			limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]DLQEntry, 0, limit)
	for rows.Next() {
		entry, err := scanDLQEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// CountQueueDlq counts entries, optionally filtered by task kind.
func (s *pgStore) CountQueueDlq(ctx context.Context, kind string) (int64, error) {
	if !s.available() {
		return 0, ErrStoreUnavailable
	}
	var total int64
	var err error
	if kind = strings.TrimSpace(kind); kind != "" {
		err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM queue_dlq WHERE kind = $1`, kind).Scan(&total)
	} else {
		err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM queue_dlq`).Scan(&total)
	}
	if err != nil {
		return 0, err
	}
	return total, nil
}

// QueueDlqSizeByKind aggregates entry counts per task kind for the
// staff stats endpoint.
func (s *pgStore) QueueDlqSizeByKind(ctx context.Context) (map[string]int64, error) {
	if !s.available() {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT kind, COUNT(*) FROM queue_dlq GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sizes := make(map[string]int64)
	for rows.Next() {
		var (
			kind  string
			total int64
		)
		if err := rows.Scan(&kind, &total); err != nil {
			return nil, err
		}
		sizes[kind] = total
	}
	return sizes, rows.Err()
}

func scanDLQEntry(row pgx.Row) (DLQEntry, error) {
	var entry DLQEntry
	var lastErr sql.NullString
	if err := row.Scan(&entry.ID, &entry.Kind, &entry.IdempotencyKey, &entry.Payload, &entry.Attempts, &lastErr, &entry.CreatedAt); err != nil {
		return DLQEntry{}, err
	}
	if lastErr.Valid {
		entry.LastError = &lastErr.String
	}
	return entry, nil
}
