package quote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists quote sessions and items in Postgres.
type PGStore struct {
	Pool *pgxpool.Pool
}

const sessionColumns = `quote_id, session_id, customer_email, customer_name, company_name,
	phone, project_name, notes, total_quantity, subtotal_amount, ltm_fee_total,
	setup_fee_total, digitizing_fee_total, extra_stitch_total, rush_fee, art_charge,
	sample_fee, discount, tax_amount, total_amount, status,
	expires_at, created_at, updated_at`

const itemColumns = `id, quote_id, line_number, style_number, product_name, color,
	embellishment_type, print_location, quantity, has_ltm, base_unit_price,
	ltm_per_unit, final_unit_price, line_total, pricing_tier, size_breakdown, added_at`

// CreateSession inserts the session header and its items in one transaction.
func (s *PGStore) CreateSession(ctx context.Context, session Session, items []Item) error {
	if s == nil || s.Pool == nil {
		return errors.New("quote store not configured")
	}
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO quote_sessions (`+sessionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)`,
		session.QuoteID, session.SessionID, session.CustomerEmail, session.CustomerName,
		session.CompanyName, session.Phone, session.ProjectName, session.Notes,
		session.TotalQuantity, session.Subtotal, session.LTMFeeTotal, session.SetupFeeTotal,
		session.DigitizingFee, session.ExtraStitchTotal, session.RushFee, session.ArtCharge,
		session.SampleFee, session.Discount, session.TaxAmount, session.TotalAmount,
		string(session.Status), session.ExpiresAt, session.CreatedAt, session.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if err := insertItems(ctx, tx, items); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetSession loads a session header and its items ordered by line number.
func (s *PGStore) GetSession(ctx context.Context, quoteID string) (Session, []Item, error) {
	if s == nil || s.Pool == nil {
		return Session{}, nil, errors.New("quote store not configured")
	}
	row := s.Pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM quote_sessions WHERE quote_id = $1`, quoteID)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, nil, ErrNotFound
		}
		return Session{}, nil, err
	}

	rows, err := s.Pool.Query(ctx, `SELECT `+itemColumns+`
		FROM quote_items WHERE quote_id = $1 ORDER BY line_number`, quoteID)
	if err != nil {
		return Session{}, nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return Session{}, nil, err
		}
		items = append(items, item)
	}
	return session, items, rows.Err()
}

// ReplaceItems rewrites a session's items and totals atomically.
func (s *PGStore) ReplaceItems(ctx context.Context, session Session, items []Item) error {
	if s == nil || s.Pool == nil {
		return errors.New("quote store not configured")
	}
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE quote_sessions SET
			total_quantity = $2, subtotal_amount = $3, ltm_fee_total = $4,
			setup_fee_total = $5, digitizing_fee_total = $6, extra_stitch_total = $7,
			rush_fee = $8, art_charge = $9, sample_fee = $10, discount = $11,
			tax_amount = $12, total_amount = $13, updated_at = $14
		WHERE quote_id = $1 AND status = 'Open'`,
		session.QuoteID, session.TotalQuantity, session.Subtotal, session.LTMFeeTotal,
		session.SetupFeeTotal, session.DigitizingFee, session.ExtraStitchTotal,
		session.RushFee, session.ArtCharge, session.SampleFee, session.Discount,
		session.TaxAmount, session.TotalAmount, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update session totals: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotEditable
	}
	if _, err := tx.Exec(ctx, `DELETE FROM quote_items WHERE quote_id = $1`, session.QuoteID); err != nil {
		return fmt.Errorf("delete items: %w", err)
	}
	if err := insertItems(ctx, tx, items); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UpdateStatus transitions a session between states with optimistic guards.
func (s *PGStore) UpdateStatus(ctx context.Context, quoteID string, from, to Status) error {
	if s == nil || s.Pool == nil {
		return errors.New("quote store not configured")
	}
	tag, err := s.Pool.Exec(ctx, `
		UPDATE quote_sessions SET status = $3, updated_at = now()
		WHERE quote_id = $1 AND status = $2`,
		quoteID, string(from), string(to))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotEditable
	}
	return nil
}

// ListSessions returns a filtered, paginated slice of sessions plus the
// total match count.
func (s *PGStore) ListSessions(ctx context.Context, filter ListFilter) ([]Session, int64, error) {
	if s == nil || s.Pool == nil {
		return nil, 0, errors.New("quote store not configured")
	}
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if strings.TrimSpace(filter.Email) != "" {
		args = append(args, strings.TrimSpace(filter.Email))
		where = append(where, fmt.Sprintf("customer_email = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM quote_sessions`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage < 1 {
		perPage = 20
	}
	args = append(args, perPage, (page-1)*perPage)
	rows, err := s.Pool.Query(ctx, fmt.Sprintf(`SELECT `+sessionColumns+`
		FROM quote_sessions%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, session)
	}
	return sessions, total, rows.Err()
}

// ExpireStale marks overdue open sessions expired and returns their IDs.
func (s *PGStore) ExpireStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	if s == nil || s.Pool == nil {
		return nil, errors.New("quote store not configured")
	}
	rows, err := s.Pool.Query(ctx, `
		UPDATE quote_sessions SET status = 'Expired', updated_at = now()
		WHERE status = 'Open' AND expires_at < $1
		RETURNING quote_id`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func insertItems(ctx context.Context, tx pgx.Tx, items []Item) error {
	for _, item := range items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO quote_items (
				quote_id, line_number, style_number, product_name, color,
				embellishment_type, print_location, quantity, has_ltm,
				base_unit_price, ltm_per_unit, final_unit_price, line_total,
				pricing_tier, size_breakdown, added_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
			item.QuoteID, item.LineNumber, item.StyleNumber, item.ProductName, item.Color,
			item.EmbellishmentType, item.PrintLocation, item.Quantity, item.HasLTM,
			item.BaseUnitPrice, item.LTMPerUnit, item.FinalUnitPrice, item.LineTotal,
			item.PricingTier, item.SizeDetail, item.AddedAt,
		); err != nil {
			return fmt.Errorf("insert item %d: %w", item.LineNumber, err)
		}
	}
	return nil
}

func scanSession(row pgx.Row) (Session, error) {
	var (
		session Session
		status  string
	)
	err := row.Scan(
		&session.QuoteID, &session.SessionID, &session.CustomerEmail, &session.CustomerName,
		&session.CompanyName, &session.Phone, &session.ProjectName, &session.Notes,
		&session.TotalQuantity, &session.Subtotal, &session.LTMFeeTotal, &session.SetupFeeTotal,
		&session.DigitizingFee, &session.ExtraStitchTotal, &session.RushFee, &session.ArtCharge,
		&session.SampleFee, &session.Discount, &session.TaxAmount, &session.TotalAmount,
		&status, &session.ExpiresAt, &session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		return Session{}, err
	}
	session.Status = Status(status)
	return session, nil
}

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	err := row.Scan(
		&item.ID, &item.QuoteID, &item.LineNumber, &item.StyleNumber, &item.ProductName,
		&item.Color, &item.EmbellishmentType, &item.PrintLocation, &item.Quantity,
		&item.HasLTM, &item.BaseUnitPrice, &item.LTMPerUnit, &item.FinalUnitPrice,
		&item.LineTotal, &item.PricingTier, &item.SizeDetail, &item.AddedAt,
	)
	return item, err
}
