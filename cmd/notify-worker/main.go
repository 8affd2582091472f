package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/clinic-portal/cmd/mainconfig"
	"github.com/wolfman30/clinic-portal/internal/app/bootstrap"
	"github.com/wolfman30/clinic-portal/internal/appointments"
	"github.com/wolfman30/clinic-portal/internal/config"
	"github.com/wolfman30/clinic-portal/internal/events"
	"github.com/wolfman30/clinic-portal/internal/notify"
	"github.com/wolfman30/clinic-portal/internal/observability/metrics"
	"github.com/wolfman30/clinic-portal/internal/reminders"
	"github.com/wolfman30/clinic-portal/pkg/logging"
)

const (
	processedRetention = 30 * 24 * time.Hour
	pruneInterval      = 6 * time.Hour
)

type pruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// pruneProcessed trims old idempotency records until ctx is cancelled.
func pruneProcessed(ctx context.Context, store pruner, every time.Duration, logger *logging.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Prune(ctx, processedRetention)
			if err != nil {
				logger.Warn("failed to prune processed events", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("pruned processed events", "count", n)
			}
		}
	}
}

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" {
		logger.Error("notify worker requires DATABASE_URL")
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient == nil {
		logger.Error("notify worker requires REDIS_ADDR for reminders")
		os.Exit(1)
	}
	defer func() { _ = redisClient.Close() }()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	retryMetrics := metrics.NewRetryMetrics(prometheus.DefaultRegisterer)
	email := bootstrap.BuildEmailSender(cfg, sesv2.NewFromConfig(awsCfg), retryMetrics, logger)
	dispatcher := notify.NewDispatcher(notify.NewNotificationStore(pool), notify.NewProfileDirectory(pool), email, logger).
		WithClinics(bootstrap.BuildClinicStore(redisClient, cfg))

	processed := events.NewProcessedStore(pool)
	go pruneProcessed(ctx, processed, pruneInterval, logger)

	var consumer *events.Consumer
	if cfg.NotifyQueueURL != "" {
		queue := events.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.NotifyQueueURL)
		consumer = events.NewConsumer(queue, dispatcher, logger).
			WithProcessedStore(processed)
		consumer.Start(ctx)
		logger.Info("consuming notification events", "queue_url", cfg.NotifyQueueURL)
	} else {
		logger.Warn("NOTIFY_QUEUE_URL not set; only reminders will be processed")
	}

	processor := reminders.NewProcessor(appointments.NewRepository(pool), dispatcher, logger)
	server := reminders.NewServer(bootstrap.AsynqRedisOpt(cfg), cfg.ReminderConcurrency)
	if err := server.Start(reminders.NewServeMux(processor)); err != nil {
		logger.Error("failed to start reminder server", "error", err)
		os.Exit(1)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("notify worker shutting down")
	cancel()
	server.Shutdown()
	if consumer != nil {
		consumer.Wait()
	}
}
