package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/optty-gateway/internal/app"
	"github.com/noah-isme/optty-gateway/internal/auth"
	"github.com/noah-isme/optty-gateway/internal/cache"
	"github.com/noah-isme/optty-gateway/internal/callback"
	"github.com/noah-isme/optty-gateway/internal/config"
	"github.com/noah-isme/optty-gateway/internal/lock"
	"github.com/noah-isme/optty-gateway/internal/obs"
	"github.com/noah-isme/optty-gateway/internal/order"
	"github.com/noah-isme/optty-gateway/internal/payment"
	"github.com/noah-isme/optty-gateway/internal/queue"
	"github.com/noah-isme/optty-gateway/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	deps, err := app.NewDependencies(initCtx, cfg.DatabaseURL, cfg.RedisURL, app.Options{
		AppName: "optty-gateway-worker",
		Logger:  logger,
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
	payments := &payment.Service{
		Auth:       authenticator,
		HTTP:       httpClient,
		APIURL:     cfg.APIURL,
		HashSecret: cfg.HashSecret,
		Locale:     cfg.Locale,
		Validate:   deps.Validator,
		Logger:     logger.With().Str("component", "payment").Logger(),
	}
	reconciler := callback.Reconciler{
		Orders:   &order.PostgresStore{Pool: deps.DB},
		Payments: payments,
		Outbox:   cache.Outbox{R: deps.Redis, TTL: cfg.NoticeTTL},
		Carts:    cache.Carts{R: deps.Redis},
		Locks:    lock.OrderLocker{R: deps.Redis, TTL: 10 * time.Second, RetryBackoff: 50 * time.Millisecond},
		Verifier: callback.Verifier{Secret: cfg.HashSecret},
		Logger:   logger.With().Str("component", "callback").Logger(),
	}

	redisOpt := app.AsynqRedisOpt(deps.RedisOpts)

	interval := envOrDefault("RECONCILE_INTERVAL", "@every 15m")
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{})
	if _, err := scheduler.Register(interval, queue.NewReconcileOnHoldTask()); err != nil {
		logger.Fatal().Err(err).Msg("register reconciliation schedule")
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 2,
	})
	mux := queue.Mux(queue.ReconcileHandler{
		Reconciler: reconciler,
		Logger:     logger,
	})

	errs := make(chan error, 2)
	go func() {
		logger.Info().Str("interval", interval).Msg("scheduler starting")
		errs <- scheduler.Run()
	}()
	go func() {
		logger.Info().Msg("worker starting")
		errs <- srv.Run(mux)
	}()

	select {
	case <-ctx.Done():
	case err := <-errs:
		if err != nil {
			logger.Error().Err(err).Msg("worker stopped with error")
		}
	}

	scheduler.Shutdown()
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		if trimmed := strings.TrimSpace(val); trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
