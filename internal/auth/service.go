package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/backend-quoting/internal/common"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 24 * time.Hour
	defaultResetTTL   = 24 * time.Hour
)

// Service coordinates staff authentication, password management, and session persistence.
type Service struct {
	store        Store
	secret       []byte
	accessTTL    time.Duration
	refreshTTL   time.Duration
	resetTTL     time.Duration
	now          func() time.Time
	signer       jwa.SignatureAlgorithm
	validator    TokenValidator
	issuer       string
	audience     string
	clockSkew    time.Duration
	mail         common.EmailSender
	resetBaseURL string
	exposeTokens bool
}

// Config configures the auth service.
type Config struct {
	Store           Store
	Secret          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	ResetTokenTTL   time.Duration
	Issuer          string
	Audience        string
	ClockSkew       time.Duration
	Mail            common.EmailSender
	ResetBaseURL    string
	// ExposeResetTokens returns reset tokens in API responses. Dev only.
	ExposeResetTokens bool
}

// User represents a safe subset of the staff user model returned to clients.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LoginResult bundles token material returned after a successful login.
type LoginResult struct {
	User          User      `json:"user"`
	AccessToken   string    `json:"access_token"`
	RefreshToken  string    `json:"refresh_token"`
	AccessExpiry  time.Time `json:"access_expires_at"`
	RefreshExpiry time.Time `json:"refresh_expires_at"`
}

// RefreshResult represents the outcome of a refresh operation.
type RefreshResult struct {
	AccessToken   string    `json:"access_token"`
	AccessExpiry  time.Time `json:"access_expires_at"`
	RefreshToken  string    `json:"refresh_token"`
	RefreshExpiry time.Time `json:"refresh_expires_at"`
}

// ResetInitiated reports the outcome of a password reset request.
// Token is only populated when the service is configured to expose it.
type ResetInitiated struct {
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// NewService constructs a Service instance with sane defaults.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("auth: store is required")
	}
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	accessTTL := cfg.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = defaultAccessTTL
	}
	refreshTTL := cfg.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = defaultRefreshTTL
	}
	resetTTL := cfg.ResetTokenTTL
	if resetTTL <= 0 {
		resetTTL = defaultResetTTL
	}

	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = "backend-quoting"
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = "quoting-staff"
	}
	clockSkew := cfg.ClockSkew
	if clockSkew < 0 {
		clockSkew = 0
	}

	return &Service{
		store:      cfg.Store,
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		resetTTL:   resetTTL,
		now:        time.Now,
		signer:     jwa.HS256,
		validator: TokenValidator{
			Issuer:    issuer,
			Audience:  audience,
			ClockSkew: clockSkew,
			Algorithm: jwa.HS256,
		},
		issuer:       issuer,
		audience:     audience,
		clockSkew:    clockSkew,
		mail:         cfg.Mail,
		resetBaseURL: strings.TrimRight(cfg.ResetBaseURL, "/"),
		exposeTokens: cfg.ExposeResetTokens,
	}, nil
}

// WithNow allows tests to override the time provider.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Register creates a new staff user with the supplied credentials.
func (s *Service) Register(ctx context.Context, name, email, password string) (User, error) {
	if strings.TrimSpace(name) == "" {
		return User{}, common.NewAppError("VALIDATION_ERROR", "name is required", httpStatusBadRequest, nil)
	}
	normalizedEmail := strings.TrimSpace(strings.ToLower(email))
	if normalizedEmail == "" {
		return User{}, common.NewAppError("VALIDATION_ERROR", "email is required", httpStatusBadRequest, nil)
	}
	if len(password) < 8 {
		return User{}, common.NewAppError("VALIDATION_ERROR", "password must be at least 8 characters", httpStatusBadRequest, nil)
	}

	hash, err := argon2id.CreateHash(password, argon2id.DefaultParams)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	created, err := s.store.CreateUser(ctx, strings.TrimSpace(name), normalizedEmail, hash)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, common.NewAppError("EMAIL_ALREADY_USED", "email is already registered", httpStatusConflict, err)
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}

	return toUser(created), nil
}

// Login verifies credentials and issues a new JWT/refresh token pair.
func (s *Service) Login(ctx context.Context, email, password, userAgent, ip string) (LoginResult, error) {
	normalizedEmail := strings.TrimSpace(strings.ToLower(email))
	if normalizedEmail == "" || password == "" {
		return LoginResult{}, common.NewAppError("INVALID_CREDENTIALS", "invalid email or password", httpStatusUnauthorized, nil)
	}

	staff, err := s.store.GetUserByEmail(ctx, normalizedEmail)
	if err != nil {
		return LoginResult{}, common.NewAppError("INVALID_CREDENTIALS", "invalid email or password", httpStatusUnauthorized, nil)
	}

	ok, err := argon2id.ComparePasswordAndHash(password, staff.PasswordHash)
	if err != nil || !ok {
		return LoginResult{}, common.NewAppError("INVALID_CREDENTIALS", "invalid email or password", httpStatusUnauthorized, nil)
	}

	accessToken, accessExpiry, err := s.signAccessToken(staff.ID.String())
	if err != nil {
		return LoginResult{}, fmt.Errorf("sign access token: %w", err)
	}

	refreshToken, refreshExpiry, err := s.createSession(ctx, staff.ID, userAgent, ip)
	if err != nil {
		return LoginResult{}, fmt.Errorf("create session: %w", err)
	}

	return LoginResult{
		User:          toUser(staff),
		AccessToken:   accessToken,
		RefreshToken:  refreshToken,
		AccessExpiry:  accessExpiry,
		RefreshExpiry: refreshExpiry,
	}, nil
}

// Logout revokes the refresh token.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	token := strings.TrimSpace(refreshToken)
	if token == "" {
		return nil
	}
	return s.store.DeleteSessionByToken(ctx, hashRefreshToken(token))
}

// Refresh validates and rotates a refresh token, issuing a fresh access token pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	token := strings.TrimSpace(refreshToken)
	if token == "" {
		return RefreshResult{}, common.NewAppError("UNAUTHORIZED", "invalid refresh token", httpStatusUnauthorized, nil)
	}

	hashed := hashRefreshToken(token)
	session, err := s.store.GetSessionByToken(ctx, hashed)
	if err != nil {
		return RefreshResult{}, common.NewAppError("UNAUTHORIZED", "invalid refresh token", httpStatusUnauthorized, nil)
	}
	if s.now().After(session.ExpiresAt) {
		_ = s.store.DeleteSessionByToken(ctx, hashed)
		return RefreshResult{}, common.NewAppError("UNAUTHORIZED", "invalid refresh token", httpStatusUnauthorized, nil)
	}

	accessToken, accessExpiry, err := s.signAccessToken(session.UserID.String())
	if err != nil {
		return RefreshResult{}, fmt.Errorf("sign access token: %w", err)
	}

	newRefresh, refreshExpiry, err := s.rotateSessionToken(ctx, session.ID)
	if err != nil {
		_ = s.store.DeleteSessionByToken(ctx, hashed)
		return RefreshResult{}, fmt.Errorf("rotate session token: %w", err)
	}

	return RefreshResult{
		AccessToken:   accessToken,
		AccessExpiry:  accessExpiry,
		RefreshToken:  newRefresh,
		RefreshExpiry: refreshExpiry,
	}, nil
}

// Me fetches the current authenticated user.
func (s *Service) Me(ctx context.Context, userID string) (User, error) {
	id, err := uuid.Parse(strings.TrimSpace(userID))
	if err != nil {
		return User{}, common.NewAppError("UNAUTHORIZED", "unauthorized", httpStatusUnauthorized, nil)
	}
	staff, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return User{}, common.NewAppError("UNAUTHORIZED", "unauthorized", httpStatusUnauthorized, nil)
	}
	return toUser(staff), nil
}

// InitiatePasswordReset creates a password reset token and mails it when a
// sender is configured. Unknown emails succeed silently so the endpoint does
// not disclose which addresses have accounts.
func (s *Service) InitiatePasswordReset(ctx context.Context, email string) (ResetInitiated, error) {
	normalizedEmail := strings.TrimSpace(strings.ToLower(email))
	if normalizedEmail == "" {
		return ResetInitiated{}, nil
	}

	staff, err := s.store.GetUserByEmail(ctx, normalizedEmail)
	if err != nil {
		return ResetInitiated{}, nil
	}

	token, err := generateToken(32)
	if err != nil {
		return ResetInitiated{}, fmt.Errorf("generate reset token: %w", err)
	}
	expiresAt := s.now().Add(s.resetTTL)

	if err := s.store.CreatePasswordReset(ctx, staff.ID, token, expiresAt); err != nil {
		return ResetInitiated{}, fmt.Errorf("create password reset: %w", err)
	}

	if s.mail != nil {
		link := fmt.Sprintf("%s/reset?token=%s", s.resetBaseURL, token)
		if err := s.mail.Send(staff.Email, "Reset your password", "Open this link to choose a new password: "+link); err != nil {
			return ResetInitiated{}, fmt.Errorf("send reset email: %w", err)
		}
	}

	if s.exposeTokens {
		return ResetInitiated{Token: token, ExpiresAt: expiresAt}, nil
	}
	return ResetInitiated{}, nil
}

// ResetPassword validates the provided token and updates the user's password.
// All existing sessions for the user are revoked.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	trimmedToken := strings.TrimSpace(token)
	if trimmedToken == "" {
		return common.NewAppError("INVALID_TOKEN", "invalid or expired token", httpStatusBadRequest, nil)
	}
	if len(newPassword) < 8 {
		return common.NewAppError("WEAK_PASSWORD", "password must be at least 8 characters", httpStatusBadRequest, nil)
	}

	reset, err := s.store.GetPasswordResetByToken(ctx, trimmedToken)
	if err != nil {
		return common.NewAppError("INVALID_TOKEN", "invalid or expired token", httpStatusBadRequest, nil)
	}
	if reset.Used() || s.now().After(reset.ExpiresAt) {
		return common.NewAppError("INVALID_TOKEN", "invalid or expired token", httpStatusBadRequest, nil)
	}

	hash, err := argon2id.CreateHash(newPassword, argon2id.DefaultParams)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.store.UpdateUserPassword(ctx, reset.UserID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if err := s.store.UsePasswordReset(ctx, trimmedToken); err != nil {
		return fmt.Errorf("mark reset used: %w", err)
	}

	if err := s.store.DeleteSessionsByUser(ctx, reset.UserID); err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}

	if err := s.store.DeletePasswordResetsByUser(ctx, reset.UserID); err != nil {
		return fmt.Errorf("delete password resets: %w", err)
	}

	return nil
}

// ParseAccessToken validates an access token and returns the subject (user ID).
func (s *Service) ParseAccessToken(token string) (string, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return "", common.NewAppError("UNAUTHORIZED", "missing token", httpStatusUnauthorized, nil)
	}
	algorithm, err := extractTokenAlgorithm(trimmed)
	if err != nil {
		return "", common.NewAppError("UNAUTHORIZED", "invalid token", httpStatusUnauthorized, err)
	}
	if s.validator.Algorithm != "" && algorithm != s.validator.Algorithm {
		return "", common.NewAppError("UNAUTHORIZED", "invalid token", httpStatusUnauthorized, fmt.Errorf("unexpected token algorithm %s", algorithm))
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(algorithm, s.secret))
	if err != nil {
		return "", common.NewAppError("UNAUTHORIZED", "invalid token", httpStatusUnauthorized, err)
	}
	if err := s.validator.Validate(parsed, algorithm, s.now()); err != nil {
		return "", common.NewAppError("UNAUTHORIZED", "invalid token", httpStatusUnauthorized, err)
	}
	return parsed.Subject(), nil
}

func extractTokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) == 0 {
		return "", errors.New("auth: token contains no signatures")
	}
	var algorithm jwa.SignatureAlgorithm
	for _, sig := range signatures {
		headers := sig.ProtectedHeaders()
		if headers == nil {
			return "", errors.New("auth: token missing protected headers")
		}
		alg := headers.Algorithm()
		if alg == "" {
			return "", errors.New("auth: token missing algorithm")
		}
		if alg == jwa.NoSignature {
			return "", errors.New("auth: token uses none algorithm")
		}
		if algorithm == "" {
			algorithm = alg
		} else if algorithm != alg {
			return "", fmt.Errorf("auth: mixed token algorithms detected")
		}
	}
	return algorithm, nil
}

func (s *Service) signAccessToken(userID string) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.accessTTL)
	builder := jwt.NewBuilder().
		Subject(userID).
		Issuer(s.issuer).
		Audience([]string{s.audience}).
		IssuedAt(now).
		NotBefore(now.Add(-s.clockSkew)).
		Expiration(expiresAt)
	token, err := builder.Build()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := jwt.Sign(token, jwt.WithKey(s.signer, s.secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return string(signed), expiresAt, nil
}

func (s *Service) createSession(ctx context.Context, userID uuid.UUID, userAgent, ip string) (string, time.Time, error) {
	token, hashed, expiresAt, err := s.newRefreshToken()
	if err != nil {
		return "", time.Time{}, err
	}
	if _, err := s.store.CreateSession(ctx, Session{
		UserID:       userID,
		RefreshToken: hashed,
		UserAgent:    strings.TrimSpace(userAgent),
		IP:           strings.TrimSpace(ip),
		ExpiresAt:    expiresAt,
	}); err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

func (s *Service) newRefreshToken() (string, string, time.Time, error) {
	token, err := generateToken(48)
	if err != nil {
		return "", "", time.Time{}, err
	}
	expiresAt := s.now().Add(s.refreshTTL)
	return token, hashRefreshToken(token), expiresAt, nil
}

func (s *Service) rotateSessionToken(ctx context.Context, sessionID uuid.UUID) (string, time.Time, error) {
	token, hashed, expiresAt, err := s.newRefreshToken()
	if err != nil {
		return "", time.Time{}, err
	}
	if err := s.store.RotateSessionToken(ctx, sessionID, hashed, expiresAt); err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

func generateToken(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashRefreshToken(token string) string {
	return common.Sha256Hex(token)
}

func toUser(u StaffUser) User {
	return User{
		ID:        u.ID.String(),
		Name:      u.Name,
		Email:     u.Email,
		Roles:     u.Roles,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

const httpStatusBadRequest = 400
const httpStatusUnauthorized = 401
const httpStatusConflict = 409
