package bootstrap

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/wolfman30/clinic-portal/internal/billing"
	"github.com/wolfman30/clinic-portal/internal/compliance"
	appconfig "github.com/wolfman30/clinic-portal/internal/config"
	"github.com/wolfman30/clinic-portal/internal/documents"
	"github.com/wolfman30/clinic-portal/internal/events"
	"github.com/wolfman30/clinic-portal/internal/notify"
	"github.com/wolfman30/clinic-portal/internal/retry"
	"github.com/wolfman30/clinic-portal/pkg/logging"
)

// RetryConfig builds a named retry budget reporting to observer.
func RetryConfig(name string, attempts int, delay time.Duration, observer retry.Observer) retry.Config {
	return retry.Config{
		MaxRetries: attempts,
		RetryDelay: delay,
		Name:       name,
		Observer:   observer,
	}
}

// BuildEmailSender selects the configured provider and wraps it in the retry
// executor. sesClient may be nil when AWS is not configured.
func BuildEmailSender(cfg *appconfig.Config, sesClient *sesv2.Client, observer retry.Observer, logger *logging.Logger) notify.EmailSender {
	senderCfg := notify.SenderConfig{
		Provider:       cfg.EmailProvider,
		SendGridAPIKey: cfg.SendGridAPIKey,
		FromEmail:      cfg.EmailFromAddress,
		FromName:       cfg.EmailFromName,
		SESConfigSet:   cfg.SESConfigSet,
	}
	if sesClient != nil {
		senderCfg.SES = sesClient
	}
	sender := notify.NewEmailSender(senderCfg, logger)
	return notify.NewRetryingSender(sender, RetryConfig("email_send", cfg.EmailRetries, cfg.EmailRetryBase, observer), logger)
}

// BuildDeliveryHandler returns what the outbox deliverer hands events to: an
// SQS publisher when NOTIFY_QUEUE_URL is set, otherwise the in-process
// dispatcher.
func BuildDeliveryHandler(cfg *appconfig.Config, dispatcher *notify.Dispatcher, sqsClient *sqs.Client, logger *logging.Logger) events.DeliveryHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.NotifyQueueURL != "" && sqsClient != nil {
		logger.Info("outbox events published to queue", "queue_url", cfg.NotifyQueueURL)
		return events.NewQueuePublisher(events.NewSQSQueue(sqsClient, cfg.NotifyQueueURL))
	}
	logger.Info("outbox events dispatched in process")
	return dispatcher
}

// BuildPriceTable maps plans to the configured Stripe price ids.
func BuildPriceTable(cfg *appconfig.Config) billing.PriceTable {
	return billing.PriceTable{
		billing.PlanBasic:      cfg.StripePriceBasic,
		billing.PlanPro:        cfg.StripePricePro,
		billing.PlanEnterprise: cfg.StripePriceEnterprise,
	}
}

// BuildDocumentStore returns a presigning document store, or a disabled one
// when no bucket or S3 client is configured.
func BuildDocumentStore(cfg *appconfig.Config, s3Client *s3.Client, audit *compliance.AuditService, logger *logging.Logger) *documents.Store {
	if s3Client == nil || cfg.DocumentsBucket == "" {
		return documents.NewStore(nil, "", logger)
	}
	store := documents.NewStore(s3.NewPresignClient(s3Client), cfg.DocumentsBucket, logger).
		WithLister(s3Client).
		WithExpiry(cfg.DocumentURLExpiry)
	if audit != nil {
		store.WithAuditor(audit)
	}
	return store
}

// NewS3Client builds the S3 client, using path-style addressing when an
// endpoint override (LocalStack) is set.
func NewS3Client(cfg *appconfig.Config, awsCfg aws.Config) *s3.Client {
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.AWSEndpointOverride != ""
	})
}
