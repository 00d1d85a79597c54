package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-quoting/internal/config"
	"github.com/noah-isme/backend-quoting/internal/events"
	"github.com/noah-isme/backend-quoting/internal/lock"
	"github.com/noah-isme/backend-quoting/internal/notify"
	"github.com/noah-isme/backend-quoting/internal/obs"
	"github.com/noah-isme/backend-quoting/internal/queue"
	"github.com/noah-isme/backend-quoting/internal/quote"
	"github.com/noah-isme/backend-quoting/internal/resilience"
)

// The worker drains the webhook delivery queue, re-dispatches deliveries whose
// backoff window has elapsed, and expires stale quote sessions.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	notifyStore := &notify.PGStore{Pool: pool}
	taskQueue := queue.Enqueuer{
		R:           redisClient,
		Prefix:      cfg.QueuePrefix,
		DedupTTL:    cfg.IdempotencyTTL,
		MaxAttempts: cfg.WebhookMaxAttempts,
	}
	dispatcher := &notify.Dispatcher{
		Store: notifyStore,
		HTTP: &resilience.HTTPClient{
			Client:      &http.Client{},
			Breaker:     resilience.NewBreaker(10, 0.5, 30*time.Second),
			BaseBackoff: 200 * time.Millisecond,
			MaxAttempts: 1,
			Timeout:     cfg.WebhookTimeout,
		},
		Queue:              taskQueue,
		BackoffBaseSec:     cfg.WebhookBackoffBaseSec,
		DefaultMaxAttempts: cfg.WebhookMaxAttempts,
		Enabled:            cfg.WebhookEnabled,
		Replay:             notify.RedisReplayProtector{Client: redisClient},
		ReplayTTL:          cfg.WebhookReplayTTL,
	}

	deliveryWorker := notify.DeliveryWorker{
		Dispatcher: dispatcher,
		Locker:     lock.Locker{R: redisClient},
		LockTTL:    cfg.LockTTL,
	}

	webhookQueueWorker := queue.Worker{
		R:                 redisClient,
		Prefix:            cfg.QueuePrefix,
		Kind:              notify.WebhookDeliveryTask(),
		Concurrency:       cfg.QueueConcurrency,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
		SoftDeadline:      cfg.WebhookTimeout + 5*time.Second,
		RetryBase:         time.Duration(cfg.WebhookBackoffBaseSec) * time.Second,
		RetryJitter:       0.2,
		Store:             queue.NewStore(pool),
		Logger:            &logger,
		Handler: func(jobCtx context.Context, task queue.Task) error {
			return deliveryWorker.Handle(jobCtx, task.Payload)
		},
	}

	// Quote expiry only needs the repository and the event bus; pricing inputs
	// stay unset because no recalculation happens on this path.
	quoteSvc := &quote.Service{
		Repo: &quote.PGStore{Pool: pool},
		Bus: &events.Bus{
			Store:     &events.PGStore{Pool: pool},
			Scheduler: dispatcher,
		},
		Logger: logger,
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		runDispatchLoop(ctx, dispatcher, cfg.DispatchInterval, logger)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runExpiryLoop(ctx, quoteSvc, cfg.ExpireInterval, logger)
	}()

	logger.Info().Msg("worker starting")
	if err := webhookQueueWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
	}
	wg.Wait()
	logger.Info().Msg("worker shutdown complete")
}

// runDispatchLoop periodically re-dispatches due deliveries that missed their
// queue task, e.g. after a crash between enqueue and delivery.
func runDispatchLoop(ctx context.Context, d *notify.Dispatcher, interval time.Duration, logger zerolog.Logger) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.WorkOnce(ctx, 20); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("dispatch pass failed")
			}
		}
	}
}

func runExpiryLoop(ctx context.Context, svc *quote.Service, interval time.Duration, logger zerolog.Logger) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := svc.ExpireStale(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.Error().Err(err).Msg("expire pass failed")
				}
				continue
			}
			if expired > 0 {
				logger.Info().Int("count", expired).Msg("expired stale quotes")
			}
		}
	}
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "quoting-worker"
	if cfg.DBMaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.DBMaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}
