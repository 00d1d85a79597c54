package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned by the store when a row does not exist.
var ErrNotFound = errors.New("auth: not found")

// StaffUser is an account with access to the staff endpoints.
type StaffUser struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Roles        []string  `json:"roles"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Session is one refresh-token session. The token is stored hashed.
type Session struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	RefreshToken string
	UserAgent    string
	IP           string
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// PasswordReset is one single-use reset token.
type PasswordReset struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Token     string
	ExpiresAt time.Time
	UsedAt    time.Time
}

// Used reports whether the reset token has already been consumed.
func (p PasswordReset) Used() bool { return !p.UsedAt.IsZero() }

// Store defines the persistence surface the auth service needs.
type Store interface {
	CreateUser(ctx context.Context, name, email, passwordHash string) (StaffUser, error)
	GetUserByEmail(ctx context.Context, email string) (StaffUser, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (StaffUser, error)
	UpdateUserPassword(ctx context.Context, id uuid.UUID, passwordHash string) error

	CreateSession(ctx context.Context, s Session) (Session, error)
	GetSessionByToken(ctx context.Context, hashedToken string) (Session, error)
	RotateSessionToken(ctx context.Context, id uuid.UUID, hashedToken string, expiresAt time.Time) error
	DeleteSessionByToken(ctx context.Context, hashedToken string) error
	DeleteSessionsByUser(ctx context.Context, userID uuid.UUID) error

	CreatePasswordReset(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error
	GetPasswordResetByToken(ctx context.Context, token string) (PasswordReset, error)
	UsePasswordReset(ctx context.Context, token string) error
	DeletePasswordResetsByUser(ctx context.Context, userID uuid.UUID) error
}

// PGStore is the Postgres-backed Store.
type PGStore struct {
	Pool *pgxpool.Pool
}

func (s *PGStore) CreateUser(ctx context.Context, name, email, passwordHash string) (StaffUser, error) {
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO staff_users (id, name, email, password_hash, roles)
		VALUES ($1,$2,$3,$4,'{staff}')
		RETURNING id, name, email, password_hash, roles, created_at, updated_at`,
		uuid.New(), name, email, passwordHash)
	return scanStaffUser(row)
}

func (s *PGStore) GetUserByEmail(ctx context.Context, email string) (StaffUser, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, name, email, password_hash, roles, created_at, updated_at
		FROM staff_users WHERE email = $1`, email)
	return scanStaffUser(row)
}

func (s *PGStore) GetUserByID(ctx context.Context, id uuid.UUID) (StaffUser, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, name, email, password_hash, roles, created_at, updated_at
		FROM staff_users WHERE id = $1`, id)
	return scanStaffUser(row)
}

func (s *PGStore) UpdateUserPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE staff_users SET password_hash = $2, updated_at = now() WHERE id = $1`,
		id, passwordHash)
	return err
}

func (s *PGStore) CreateSession(ctx context.Context, sess Session) (Session, error) {
	sess.ID = uuid.New()
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO staff_sessions (id, user_id, refresh_token, user_agent, ip, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		sess.ID, sess.UserID, sess.RefreshToken, sess.UserAgent, sess.IP, sess.ExpiresAt)
	return sess, err
}

func (s *PGStore) GetSessionByToken(ctx context.Context, hashedToken string) (Session, error) {
	var sess Session
	err := s.Pool.QueryRow(ctx, `
		SELECT id, user_id, refresh_token, coalesce(user_agent,''), coalesce(ip,''), expires_at, created_at
		FROM staff_sessions WHERE refresh_token = $1`, hashedToken).
		Scan(&sess.ID, &sess.UserID, &sess.RefreshToken, &sess.UserAgent, &sess.IP,
			&sess.ExpiresAt, &sess.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return sess, err
}

func (s *PGStore) RotateSessionToken(ctx context.Context, id uuid.UUID, hashedToken string, expiresAt time.Time) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE staff_sessions SET refresh_token = $2, expires_at = $3 WHERE id = $1`,
		id, hashedToken, expiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) DeleteSessionByToken(ctx context.Context, hashedToken string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM staff_sessions WHERE refresh_token = $1`, hashedToken)
	return err
}

func (s *PGStore) DeleteSessionsByUser(ctx context.Context, userID uuid.UUID) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM staff_sessions WHERE user_id = $1`, userID)
	return err
}

func (s *PGStore) CreatePasswordReset(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO password_resets (id, user_id, token, expires_at)
		VALUES ($1,$2,$3,$4)`,
		uuid.New(), userID, token, expiresAt)
	return err
}

func (s *PGStore) GetPasswordResetByToken(ctx context.Context, token string) (PasswordReset, error) {
	var (
		reset  PasswordReset
		usedAt *time.Time
	)
	err := s.Pool.QueryRow(ctx, `
		SELECT id, user_id, token, expires_at, used_at
		FROM password_resets WHERE token = $1`, token).
		Scan(&reset.ID, &reset.UserID, &reset.Token, &reset.ExpiresAt, &usedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PasswordReset{}, ErrNotFound
	}
	if usedAt != nil {
		reset.UsedAt = *usedAt
	}
	return reset, err
}

func (s *PGStore) UsePasswordReset(ctx context.Context, token string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE password_resets SET used_at = now() WHERE token = $1`, token)
	return err
}

func (s *PGStore) DeletePasswordResetsByUser(ctx context.Context, userID uuid.UUID) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM password_resets WHERE user_id = $1`, userID)
	return err
}

func scanStaffUser(row pgx.Row) (StaffUser, error) {
	var u StaffUser
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Roles, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return StaffUser{}, ErrNotFound
	}
	return u, err
}
