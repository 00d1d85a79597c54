package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"

	limiterstdlib "github.com/ulule/limiter/v3/drivers/middleware/stdlib"

	"github.com/noah-isme/backend-quoting/internal/app"
	"github.com/noah-isme/backend-quoting/internal/auth"
	"github.com/noah-isme/backend-quoting/internal/common"
	"github.com/noah-isme/backend-quoting/internal/config"
	"github.com/noah-isme/backend-quoting/internal/events"
	"github.com/noah-isme/backend-quoting/internal/export"
	"github.com/noah-isme/backend-quoting/internal/health"
	"github.com/noah-isme/backend-quoting/internal/notify"
	"github.com/noah-isme/backend-quoting/internal/obs"
	"github.com/noah-isme/backend-quoting/internal/pricing"
	"github.com/noah-isme/backend-quoting/internal/queue"
	"github.com/noah-isme/backend-quoting/internal/quote"
	"github.com/noah-isme/backend-quoting/internal/ratelimit"
	"github.com/noah-isme/backend-quoting/internal/ratesheet"
	"github.com/noah-isme/backend-quoting/internal/resilience"
	"github.com/noah-isme/backend-quoting/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "quoting")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "quoting-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				ctx := context.Background()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	if envBool("DB_MIGRATE_ON_START", true) {
		if err := app.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "quoting-api"
	if cfg.DBMaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.DBMaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	// No SMTP relay is wired yet. When a from address is configured,
	// route outbound mail into the log so reset tokens and confirmations
	// are visible to operators instead of silently dropped.
	var mailer common.EmailSender = common.NopEmailSender{}
	if cfg.EmailFrom != "" {
		logger.Warn().Str("email_from", cfg.EmailFrom).Msg("no mail transport configured, logging outbound email")
		mailer = common.LogEmailSender{Logger: logger}
	}

	sheets := &ratesheet.Service{
		Client: resilience.HTTPClient{
			Client:      &http.Client{},
			Breaker:     resilience.NewBreaker(10, 0.5, 30*time.Second),
			BaseBackoff: 200 * time.Millisecond,
			MaxAttempts: 3,
			Jitter:      0.2,
			Timeout:     10 * time.Second,
		},
		Cache:   ratesheet.NewCache(redisClient, cfg.RatesheetCacheTTL),
		BaseURL: cfg.PricingAPIBaseURL,
		APIKey:  cfg.PricingAPIKey,
		Logger:  logger,
	}
	ratesheetHandler := &ratesheet.Handler{Service: sheets}

	notifyStore := &notify.PGStore{Pool: pool}
	dispatcher := &notify.Dispatcher{
		Store: notifyStore,
		HTTP: &resilience.HTTPClient{
			Client:      &http.Client{},
			Breaker:     resilience.NewBreaker(10, 0.5, 30*time.Second),
			BaseBackoff: 200 * time.Millisecond,
			MaxAttempts: 1,
			Timeout:     cfg.WebhookTimeout,
		},
		Queue:              queue.Enqueuer{R: redisClient, Prefix: cfg.QueuePrefix, DedupTTL: cfg.IdempotencyTTL},
		BackoffBaseSec:     cfg.WebhookBackoffBaseSec,
		DefaultMaxAttempts: cfg.WebhookMaxAttempts,
		Enabled:            cfg.WebhookEnabled,
		Replay:             notify.RedisReplayProtector{Client: redisClient},
		ReplayTTL:          cfg.WebhookReplayTTL,
	}
	emailNotifier := notify.EmailNotifier{
		Mail:    mailer,
		Enabled: cfg.EmailFrom != "",
		From:    cfg.EmailFrom,
	}
	bus := &events.Bus{
		Store:     &events.PGStore{Pool: pool},
		Scheduler: dispatcher,
		Notifiers: []events.Notifier{emailNotifier},
	}

	policy := pricing.BelowMinimumLowestTier
	if cfg.BelowMinimumPolicy == "reject" {
		policy = pricing.BelowMinimumReject
	}
	quoteSvc := &quote.Service{
		Repo:     &quote.PGStore{Pool: pool},
		Sheets:   sheets,
		IDs:      &quote.IDGenerator{R: redisClient},
		Bus:      bus,
		Schedule: pricing.DefaultFeeSchedule(),
		Policy:   policy,
		TaxBps:   cfg.TaxBps,
		Expiry:   time.Duration(cfg.QuoteExpiryDays) * 24 * time.Hour,
		Logger:   logger,
	}
	quoteHandler := &quote.Handler{Svc: quoteSvc, Validate: validator.New()}
	exportHandler := &export.Handler{Quotes: quoteSvc}

	authService, err := auth.NewService(auth.Config{
		Store:           &auth.PGStore{Pool: pool},
		Secret:          cfg.JWTSecret,
		AccessTokenTTL:  cfg.AccessTokenTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
		ResetTokenTTL:   cfg.ResetTokenTTL,
		Mail:            mailer,
		ResetBaseURL:    cfg.PublicBaseURL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise auth service")
	}
	authHandler := &auth.Handler{
		Service:           authService,
		AccessCookieName:  "access_token",
		RefreshCookieName: "refresh_token",
		CookieSecure:      cfg.AppEnv == "production",
		CookieSameSite:    http.SameSiteLaxMode,
	}
	authMiddleware := auth.Middleware{Service: authService, AccessCookie: "access_token"}

	notifyAdmin := &notify.AdminHandler{Store: notifyStore, Disp: dispatcher}
	eventsHandler := &events.Handler{Store: &events.PGStore{Pool: pool}}
	queueAdmin := &queue.AdminHandler{
		Store:             queue.NewStore(pool),
		Queue:             queue.Enqueuer{R: redisClient, Prefix: cfg.QueuePrefix, DedupTTL: cfg.IdempotencyTTL},
		Logger:            logger,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
	}

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}
	priceLimiter := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "rl:quote"},
		Config: ratelimit.Config{
			Key:    clientKey,
			Window: cfg.RateLimitWindow,
			Max:    cfg.RateLimitMax,
		},
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
	}

	globalLimiter, err := app.NewGlobalLimiter(redisClient,
		int64(envInt("RATE_LIMIT_GLOBAL_MAX", 300)), cfg.RateLimitWindow)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise global rate limiter")
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(limiterstdlib.NewMiddleware(globalLimiter).Handler)
	r.Use(security.Headers{Enable: true}.Middleware)
	r.Use(security.BodyLimit{Max: 1 << 20}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", true) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{db: pool, redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Route("/quotes", func(q chi.Router) {
			q.With(priceLimiter.Middleware).Post("/price", quoteHandler.Price)
			q.With(priceLimiter.Middleware, idem.Middleware).Post("/", quoteHandler.Create)
			q.Route("/{quoteID}", func(one chi.Router) {
				one.Get("/", quoteHandler.Get)
				one.Get("/document", exportHandler.Document)
				one.Post("/lines", quoteHandler.AddLine)
				one.Put("/lines/{lineNumber}", quoteHandler.UpdateLine)
				one.Delete("/lines/{lineNumber}", quoteHandler.RemoveLine)
				one.With(idem.Middleware).Post("/finalize", quoteHandler.Finalize)
			})
		})

		v.Get("/ratesheets/{styleNumber}", ratesheetHandler.Get)

		v.Route("/auth", func(a chi.Router) {
			if envBool("SECURE_ENABLE_CSRF", false) {
				a.Use(security.CSRF{}.Middleware)
			}
			a.Post("/register", authHandler.Register)
			a.Post("/login", authHandler.Login)
			a.Post("/refresh", authHandler.Refresh)
			a.Post("/logout", authHandler.Logout)
			a.Post("/password/forgot", authHandler.ForgotPassword)
			a.Post("/password/reset", authHandler.ResetPassword)

			a.Group(func(protected chi.Router) {
				protected.Use(authMiddleware.RequireAuth)
				protected.Get("/me", authHandler.Me)
			})
		})

		v.Route("/staff", func(staff chi.Router) {
			staff.Use(authMiddleware.RequireAuth)
			staff.Get("/quotes", quoteHandler.List)
			staff.Put("/quotes/{quoteID}/fees", quoteHandler.SetFees)
			staff.Get("/quotes/{quoteID}/events", eventsHandler.List)
			staff.Post("/ratesheets/{styleNumber}/refresh", ratesheetHandler.Refresh)

			staff.Post("/webhooks", notifyAdmin.CreateEndpoint)
			staff.Put("/webhooks/{id}", notifyAdmin.UpdateEndpoint)
			staff.Get("/webhooks", notifyAdmin.ListEndpoints)
			staff.Delete("/webhooks/{id}", notifyAdmin.DeleteEndpoint)
			staff.Get("/webhook-deliveries", notifyAdmin.ListDeliveries)
			staff.Post("/webhook-deliveries/{id}/replay", notifyAdmin.ReplayDelivery)

			staff.Get("/queue/dlq", queueAdmin.ListDLQ)
			staff.Post("/queue/dlq/replay", queueAdmin.ReplayDLQ)
			staff.Get("/queue/stats", queueAdmin.Stats)
		})
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received, draining")
		health.SetReady(false)
		if drain := envInt("SHUTDOWN_DRAIN_SECONDS", 5); drain > 0 {
			time.Sleep(time.Duration(drain) * time.Second)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
	}
	logger.Info().Msg("server stopped")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func clientKey(r *http.Request) string {
	return common.ClientIP(r)
}

type readinessChecker struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.db == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/block", pprof.Handler("block"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	mux.Handle("/threadcreate", pprof.Handler("threadcreate"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
