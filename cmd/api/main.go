package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/optty-gateway/internal/app"
	"github.com/noah-isme/optty-gateway/internal/auth"
	"github.com/noah-isme/optty-gateway/internal/cache"
	"github.com/noah-isme/optty-gateway/internal/callback"
	"github.com/noah-isme/optty-gateway/internal/config"
	"github.com/noah-isme/optty-gateway/internal/gateway"
	"github.com/noah-isme/optty-gateway/internal/health"
	"github.com/noah-isme/optty-gateway/internal/lock"
	"github.com/noah-isme/optty-gateway/internal/obs"
	"github.com/noah-isme/optty-gateway/internal/order"
	"github.com/noah-isme/optty-gateway/internal/payment"
	"github.com/noah-isme/optty-gateway/internal/ratelimit"
	"github.com/noah-isme/optty-gateway/internal/refund"
	"github.com/noah-isme/optty-gateway/internal/security"
	"github.com/noah-isme/optty-gateway/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "optty_gateway")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "optty-gateway",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			SamplingRatio: envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := order.RunMigrations(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	deps, err := app.NewDependencies(ctx, cfg.DatabaseURL, cfg.RedisURL, app.Options{
		AppName:      "optty-gateway",
		RedisMetrics: metricsEnabled,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise infrastructure")
	}
	defer deps.Close()

	httpClient := upstream.NewClient(cfg.UpstreamTimeout)
	authenticator := &auth.Authenticator{
		Cache:        cache.Redis{R: deps.Redis},
		HTTP:         httpClient,
		AuthURL:      cfg.AuthURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Logger:       logger.With().Str("component", "auth").Logger(),
	}

	orders := &order.PostgresStore{Pool: deps.DB}
	payments := &payment.Service{
		Auth:       authenticator,
		HTTP:       httpClient,
		APIURL:     cfg.APIURL,
		HashSecret: cfg.HashSecret,
		Locale:     cfg.Locale,
		Validate:   deps.Validator,
		Logger:     logger.With().Str("component", "payment").Logger(),
	}
	refunds := &refund.Service{
		Auth:   authenticator,
		HTTP:   httpClient,
		APIURL: cfg.APIURL,
		Logger: logger.With().Str("component", "refund").Logger(),
	}
	reconciler := callback.Reconciler{
		Orders:   orders,
		Payments: payments,
		Outbox:   cache.Outbox{R: deps.Redis, TTL: cfg.NoticeTTL},
		Carts:    cache.Carts{R: deps.Redis},
		Locks:    lock.OrderLocker{R: deps.Redis, TTL: 10 * time.Second, RetryBackoff: 50 * time.Millisecond},
		Verifier: callback.Verifier{Secret: cfg.HashSecret},
		Logger:   logger.With().Str("component", "callback").Logger(),
	}

	limiterStore, err := app.NewLimiterStore(deps.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise limiter store")
	}
	callbackLimiter, err := ratelimit.Middleware(limiterStore, cfg.CallbackRateLimit)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse callback rate limit")
	}

	handler := &gateway.Handler{
		Orders:     orders,
		Payments:   payments,
		Refunds:    refunds,
		Reconciler: reconciler,
		URLs: gateway.StoreURLs{
			Cart:     cfg.StoreCartURL,
			Checkout: cfg.StoreCheckoutURL,
			Received: cfg.StoreReceivedURL,
		},
		WidgetURL:       cfg.WidgetURL,
		Description:     cfg.Description,
		CallbackLimiter: callbackLimiter,
		Logger:          logger.With().Str("component", "gateway").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{
		Enable:     envBool("SECURE_HEADERS", true),
		EnableHSTS: envBool("SECURE_HSTS", false),
	}.Middleware)
	r.Use(security.BodyLimit{Max: int64(envInt("SECURE_MAX_BODY_BYTES", 1<<20))}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{db: deps.DB, redis: deps.Redis},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/healthz", healthHandler.Live)
	r.Get("/readyz", healthHandler.Ready)

	handler.Routes(r)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-shutdownCtx.Done()
		health.SetReady(false)
		drainCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(drainCtx); err != nil {
			logger.Error().Err(err).Msg("drain connections")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server shutdown complete")
}

func allowedOrigins() []string {
	raw := envOrDefault("CORS_ALLOWED_ORIGINS", "")
	if raw == "" {
		return []string{"*"}
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
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
		if trimmed := strings.TrimSpace(val); trimmed != "" {
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
