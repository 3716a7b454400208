package app

import (
	"context"
	"fmt"

	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// Options tune the shared infrastructure setup per entrypoint.
type Options struct {
	// AppName is reported to Postgres as application_name.
	AppName string
	// RedisMetrics enables metric instrumentation on the redis client.
	RedisMetrics bool
	Logger       zerolog.Logger
}

// Dependencies holds the infrastructure handles shared by the API and worker
// entrypoints.
type Dependencies struct {
	DB        *pgxpool.Pool
	Redis     *redis.Client
	RedisOpts *redis.Options
	Validator *validator.Validate
}

// NewDependencies connects and pings the shared infrastructure. Failed otel
// instrumentation is logged, not fatal.
func NewDependencies(ctx context.Context, databaseURL, redisURL string, opts Options) (*Dependencies, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	if opts.AppName != "" {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = opts.AppName
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		opts.Logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if opts.RedisMetrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			opts.Logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		pool.Close()
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Dependencies{
		DB:        pool,
		Redis:     client,
		RedisOpts: redisOpts,
		Validator: validator.New(),
	}, nil
}

// Close releases the held connections.
func (d *Dependencies) Close() {
	if d.DB != nil {
		d.DB.Close()
	}
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
}

// NewLimiterStore wires a rate limiter store backed by Redis. It backs the
// throttle on the public callback route.
func NewLimiterStore(rdb *redis.Client) (limiter.Store, error) {
	return limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{
		Prefix: "limiter:optty",
	})
}

// AsynqRedisOpt converts a parsed redis URL into asynq's connection options
// so both processes share one configuration source.
func AsynqRedisOpt(opt *redis.Options) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     opt.Addr,
		Username: opt.Username,
		Password: opt.Password,
		DB:       opt.DB,
	}
}
