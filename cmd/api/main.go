package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/clinic-portal/cmd/mainconfig"
	"github.com/wolfman30/clinic-portal/internal/api/router"
	"github.com/wolfman30/clinic-portal/internal/app/bootstrap"
	"github.com/wolfman30/clinic-portal/internal/appointments"
	"github.com/wolfman30/clinic-portal/internal/billing"
	"github.com/wolfman30/clinic-portal/internal/clinic"
	"github.com/wolfman30/clinic-portal/internal/compliance"
	appconfig "github.com/wolfman30/clinic-portal/internal/config"
	"github.com/wolfman30/clinic-portal/internal/documents"
	"github.com/wolfman30/clinic-portal/internal/events"
	httpmiddleware "github.com/wolfman30/clinic-portal/internal/http/middleware"
	"github.com/wolfman30/clinic-portal/internal/messaging"
	"github.com/wolfman30/clinic-portal/internal/notify"
	"github.com/wolfman30/clinic-portal/internal/observability/metrics"
	"github.com/wolfman30/clinic-portal/internal/prescriptions"
	"github.com/wolfman30/clinic-portal/internal/reminders"
	"github.com/wolfman30/clinic-portal/pkg/logging"
)

type appMetrics struct {
	registry   *prometheus.Registry
	handler    http.Handler
	scheduling *metrics.SchedulingMetrics
	retries    *metrics.RetryMetrics
	http       *metrics.HTTPMetrics
}

func setupMetrics() *appMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &appMetrics{
		registry:   reg,
		handler:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		scheduling: metrics.NewSchedulingMetrics(reg),
		retries:    metrics.NewRetryMetrics(reg),
		http:       metrics.NewHTTPMetrics(reg),
	}
}

func stripeConfig(cfg *appconfig.Config) billing.StripeConfig {
	return billing.StripeConfig{
		SecretKey:  cfg.StripeSecretKey,
		Prices:     bootstrap.BuildPriceTable(cfg),
		SuccessURL: cfg.BillingSuccessURL,
		CancelURL:  cfg.BillingCancelURL,
	}
}

// evictIdleVisitors trims the per-IP limiter map until ctx is done.
func evictIdleVisitors(ctx context.Context, limiter *httpmiddleware.RateLimiter, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Evict(every)
		}
	}
}

func main() {
	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic-portal API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set; every /api route will reject requests")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, auditDB, err := bootstrap.OpenDatabases(ctx, cfg)
	if err != nil {
		logger.Error("failed to open databases", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	defer func() { _ = auditDB.Close() }()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient == nil {
		logger.Error("redis is required for clinic settings and reminders", "addr", cfg.RedisAddr)
		os.Exit(1)
	}
	defer func() { _ = redisClient.Close() }()
	clinics := bootstrap.BuildClinicStore(redisClient, cfg)

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	m := setupMetrics()
	audit := compliance.NewAuditService(auditDB)
	directory := notify.NewProfileDirectory(pool)

	// Scheduling
	reminderClient := asynq.NewClient(bootstrap.AsynqRedisOpt(cfg))
	defer func() { _ = reminderClient.Close() }()
	appointmentRepo := appointments.NewRepository(pool)
	appointmentService := appointments.NewService(appointmentRepo, clinics, directory, logger).
		WithRetry(bootstrap.RetryConfig("reservation_lookup", cfg.AvailabilityRetries, cfg.AvailabilityRetryBase, m.retries)).
		WithMetrics(m.scheduling).
		WithReminders(reminders.NewScheduler(reminderClient, logger)).
		WithAuditor(audit)

	prescriptionService := prescriptions.NewService(prescriptions.NewRepository(pool), audit, logger).
		WithAppointments(appointmentRepo)
	messageService := messaging.NewService(messaging.NewStore(pool), logger).
		WithDirectory(directory)

	// Billing
	billingRepo := billing.NewRepository(pool)
	subscriptions := billing.NewSubscriptionService(stripeConfig(cfg), billingRepo, events.NewProcessedStore(pool), logger)
	invoices := billing.NewInvoiceService(billingRepo, logger)

	// Notifications and outbox delivery
	notifications := notify.NewNotificationStore(pool)
	email := bootstrap.BuildEmailSender(cfg, sesv2.NewFromConfig(awsCfg), m.retries, logger)
	dispatcher := notify.NewDispatcher(notifications, directory, email, logger).WithClinics(clinics)
	deliverer := events.NewDeliverer(
		events.NewOutboxStore(pool),
		bootstrap.BuildDeliveryHandler(cfg, dispatcher, sqs.NewFromConfig(awsCfg), logger),
		logger,
	).WithInterval(cfg.OutboxInterval).WithBatchSize(int32(cfg.OutboxBatchSize))
	go deliverer.Start(ctx)

	documentStore := bootstrap.BuildDocumentStore(cfg, bootstrap.NewS3Client(cfg, awsCfg), audit, logger)
	if !documentStore.Enabled() {
		logger.Warn("document storage disabled; set DOCUMENTS_BUCKET to enable")
	}

	limiter := httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go evictIdleVisitors(ctx, limiter, 10*time.Minute)

	// Setup router
	routerCfg := &router.Config{
		Logger:               logger,
		HTTPMetrics:          m.http,
		JWTSecret:            cfg.JWTSecret,
		AppointmentsHandler:  appointments.NewHandler(appointmentService, logger),
		PrescriptionsHandler: prescriptions.NewHandler(prescriptionService, logger),
		MessagesHandler:      messaging.NewHandler(messageService, logger),
		NotificationsHandler: notify.NewHandler(notifications, logger),
		BillingHandler:       billing.NewHandler(subscriptions, invoices, cfg.StripeWebhookSecret, logger),
		DocumentsHandler:     documents.NewHandler(documentStore, logger),
		AuditHandler:         compliance.NewHandler(audit, logger),
		ClinicHandler:        clinic.NewHandler(clinics, logger),
		ClinicStatsHandler:   clinic.NewStatsHandler(clinic.NewStatsRepository(pool), logger),
		ClinicDashboard:      clinic.NewDashboardHandler(clinic.NewDashboardRepository(pool), m.registry, logger),
		MetricsHandler:       m.handler,
		CORSAllowedOrigins:   cfg.CORSAllowedOrigins,
		RateLimiter:          limiter,
	}
	r := router.New(routerCfg)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}
