package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	CORSAllowedOrigins []string

	// Vendor pricing API that serves tier tables and style data.
	PricingAPIBaseURL string
	PricingAPIKey     string
	RatesheetCacheTTL time.Duration

	// Sales tax in basis points applied to the fee-inclusive total.
	TaxBps int

	// Quote sessions expire after this many days.
	QuoteExpiryDays int

	// BelowMinimumPolicy selects how quantities under the lowest tier are
	// handled: "lowest_tier" (price at the lowest tier plus the LTM fee)
	// or "reject".
	BelowMinimumPolicy string

	// Webhook endpoint of the downstream order-management system notified
	// when a quote is finalized. Empty disables delivery.
	OrderWebhookURL    string
	OrderWebhookSecret string

	EmailFrom string

	// Base URL of the storefront, used in password reset links.
	PublicBaseURL string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	ResetTokenTTL   time.Duration
	IdempotencyTTL  time.Duration

	// Webhook delivery tuning.
	WebhookEnabled        bool
	WebhookTimeout        time.Duration
	WebhookBackoffBaseSec int
	WebhookMaxAttempts    int
	WebhookReplayTTL      time.Duration

	// Redis task queue and distributed locks.
	QueuePrefix            string
	QueueConcurrency       int
	QueueVisibilityTimeout time.Duration
	LockTTL                time.Duration

	// Worker poll cadence.
	DispatchInterval time.Duration
	ExpireInterval   time.Duration

	// Public pricing endpoints rate limit (requests per window per IP).
	RateLimitMax    int
	RateLimitWindow time.Duration

	DBMaxConns int

	LogFormat string
	LogLevel  string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		JWTSecret:          k.String("JWT_SECRET"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		PricingAPIBaseURL:  k.String("PRICING_API_BASE_URL"),
		PricingAPIKey:      k.String("PRICING_API_KEY"),
		RatesheetCacheTTL:  parseDuration(k.String("RATESHEET_CACHE_TTL"), "1h"),
		TaxBps:             parseInt(k.String("TAX_BPS"), 1010),
		QuoteExpiryDays:    parseInt(k.String("QUOTE_EXPIRY_DAYS"), 30),
		BelowMinimumPolicy: valueOrDefault(k.String("BELOW_MINIMUM_POLICY"), "lowest_tier"),
		OrderWebhookURL:    strings.TrimSpace(k.String("ORDER_WEBHOOK_URL")),
		OrderWebhookSecret: k.String("ORDER_WEBHOOK_SECRET"),
		EmailFrom:          valueOrDefault(k.String("EMAIL_FROM"), "quotes@example.com"),
		PublicBaseURL:      strings.TrimRight(k.String("PUBLIC_BASE_URL"), "/"),
		AccessTokenTTL:     parseDuration(k.String("ACCESS_TOKEN_TTL"), "15m"),
		RefreshTokenTTL:    parseDuration(k.String("REFRESH_TOKEN_TTL"), "24h"),
		ResetTokenTTL:      parseDuration(k.String("RESET_TOKEN_TTL"), "24h"),
		IdempotencyTTL:     parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),

		WebhookEnabled:        parseBool(k.String("WEBHOOK_DELIVERY_ENABLED"), true),
		WebhookTimeout:        parseDuration(k.String("WEBHOOK_TIMEOUT"), "10s"),
		WebhookBackoffBaseSec: parseInt(k.String("WEBHOOK_BACKOFF_BASE_SEC"), 30),
		WebhookMaxAttempts:    parseInt(k.String("WEBHOOK_MAX_ATTEMPTS"), 6),
		WebhookReplayTTL:      parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),

		QueuePrefix:            valueOrDefault(k.String("QUEUE_REDIS_PREFIX"), "quoting"),
		QueueConcurrency:       parseInt(k.String("QUEUE_CONCURRENCY"), 4),
		QueueVisibilityTimeout: parseDuration(k.String("QUEUE_VISIBILITY_TIMEOUT"), "1m"),
		LockTTL:                parseDuration(k.String("LOCK_TTL"), "30s"),

		DispatchInterval: parseDuration(k.String("DISPATCH_INTERVAL"), "5s"),
		ExpireInterval:   parseDuration(k.String("EXPIRE_INTERVAL"), "10m"),

		RateLimitMax:    parseInt(k.String("RATE_LIMIT_MAX"), 60),
		RateLimitWindow: parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),

		DBMaxConns: parseInt(k.String("DB_MAX_CONNS"), 0),

		LogFormat: valueOrDefault(k.String("LOG_FORMAT"), "json"),
		LogLevel:  valueOrDefault(k.String("LOG_LEVEL"), "info"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	switch cfg.BelowMinimumPolicy {
	case "lowest_tier", "reject":
	default:
		return nil, fmt.Errorf("BELOW_MINIMUM_POLICY must be lowest_tier or reject, got %q", cfg.BelowMinimumPolicy)
	}
	if cfg.TaxBps < 0 || cfg.TaxBps > 10000 {
		return nil, fmt.Errorf("TAX_BPS out of range: %d", cfg.TaxBps)
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	}
	return fallback
}

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(trimmed, "%d", &n); err != nil {
		return fallback
	}
	return n
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
