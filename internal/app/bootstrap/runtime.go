package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-portal/internal/clinic"
	appconfig "github.com/wolfman30/clinic-portal/internal/config"
	"github.com/wolfman30/clinic-portal/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	client := redis.NewClient(redisOptions(cfg))
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		return nil
	}
	return client
}

func redisOptions(cfg *appconfig.Config) *redis.Options {
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// AsynqRedisOpt points the reminder queue at the same Redis as clinic settings.
func AsynqRedisOpt(cfg *appconfig.Config) asynq.RedisClientOpt {
	opt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opt.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opt
}

// BuildClinicStore returns the clinic config store, seeded with the
// env-level scheduling defaults.
func BuildClinicStore(redisClient redis.Cmdable, cfg *appconfig.Config) *clinic.Store {
	if redisClient == nil {
		return nil
	}
	return clinic.NewStore(redisClient, ClinicDefaults(cfg))
}

// ClinicDefaults maps env config onto clinic.Defaults, falling back to the
// standard grid for unset values.
func ClinicDefaults(cfg *appconfig.Config) clinic.Defaults {
	d := clinic.StandardDefaults
	if cfg == nil {
		return d
	}
	if cfg.DefaultWorkStart > 0 || cfg.DefaultWorkEnd > 0 {
		d.WorkStart = cfg.DefaultWorkStart
		d.WorkEnd = cfg.DefaultWorkEnd
	}
	if cfg.DefaultSlotMinutes > 0 {
		d.SlotMinutes = cfg.DefaultSlotMinutes
	}
	if hours := int(cfg.ReminderLeadTime.Hours()); hours > 0 {
		d.ReminderLeadHours = hours
	}
	return d
}

// OpenDatabases connects the pgx pool used by repositories and the
// database/sql handle used by the audit log. Both point at DATABASE_URL.
func OpenDatabases(ctx context.Context, cfg *appconfig.Config) (*pgxpool.Pool, *sql.DB, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, nil, fmt.Errorf("bootstrap: DATABASE_URL is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	sqlDB, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("bootstrap: open audit db: %w", err)
	}
	return pool, sqlDB, nil
}
