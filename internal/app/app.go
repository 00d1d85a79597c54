// Package app holds startup wiring shared by the api and worker binaries.
package app

import (
	"errors"
	"fmt"
	"time"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/noah-isme/backend-quoting/db"
)

// RunMigrations applies all pending embedded migrations against the database.
// ErrNoChange is treated as success so restarts are idempotent.
func RunMigrations(databaseURL string) error {
	source, err := iofs.New(db.Migrations, "migrations")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	defer func() {
		_, _ = m.Close()
	}()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// NewGlobalLimiter builds a Redis-backed limiter applied to the whole public
// surface, ahead of the stricter per-endpoint pricing limits.
func NewGlobalLimiter(rdb *redis.Client, max int64, window time.Duration) (*limiter.Limiter, error) {
	if max <= 0 {
		max = 300
	}
	if window <= 0 {
		window = time.Minute
	}
	store, err := limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{
		Prefix: "rl:global",
	})
	if err != nil {
		return nil, fmt.Errorf("limiter store: %w", err)
	}
	return limiter.New(store, limiter.Rate{Period: window, Limit: max}), nil
}
