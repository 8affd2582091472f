package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	LogFormat     string
	DatabaseURL   string

	// Auth
	JWTSecret          string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	// Redis (clinic settings + reminder queue)
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Availability / retry defaults applied when a clinic has no override
	DefaultWorkStart      int
	DefaultWorkEnd        int
	DefaultSlotMinutes    int
	AvailabilityRetries   int
	AvailabilityRetryBase time.Duration

	// Outbox delivery
	OutboxInterval  time.Duration
	OutboxBatchSize int
	NotifyQueueURL  string

	// Reminders
	ReminderLeadTime    time.Duration
	ReminderConcurrency int

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	DocumentsBucket     string
	DocumentURLExpiry   time.Duration

	// Email
	EmailProvider    string
	SendGridAPIKey   string
	EmailFromAddress string
	EmailFromName    string
	SESConfigSet     string
	EmailRetries     int
	EmailRetryBase   time.Duration

	// Stripe subscription billing
	StripeSecretKey       string
	StripeWebhookSecret   string
	StripePriceBasic      string
	StripePricePro        string
	StripePriceEnterprise string
	BillingSuccessURL     string
	BillingCancelURL      string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present; real env vars win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "json"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		JWTSecret:          getEnv("JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 40),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		DefaultWorkStart:      getEnvAsInt("DEFAULT_WORK_START", 9),
		DefaultWorkEnd:        getEnvAsInt("DEFAULT_WORK_END", 17),
		DefaultSlotMinutes:    getEnvAsInt("DEFAULT_SLOT_MINUTES", 30),
		AvailabilityRetries:   getEnvAsInt("AVAILABILITY_RETRIES", 3),
		AvailabilityRetryBase: getEnvAsDuration("AVAILABILITY_RETRY_DELAY", 200*time.Millisecond),

		OutboxInterval:  getEnvAsDuration("OUTBOX_INTERVAL", 2*time.Second),
		OutboxBatchSize: getEnvAsInt("OUTBOX_BATCH_SIZE", 25),
		NotifyQueueURL:  getEnv("NOTIFY_QUEUE_URL", ""),

		ReminderLeadTime:    getEnvAsDuration("REMINDER_LEAD_TIME", 24*time.Hour),
		ReminderConcurrency: getEnvAsInt("REMINDER_CONCURRENCY", 5),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		DocumentsBucket:     getEnv("DOCUMENTS_BUCKET", ""),
		DocumentURLExpiry:   getEnvAsDuration("DOCUMENT_URL_EXPIRY", 15*time.Minute),

		EmailProvider:    strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "auto"))),
		SendGridAPIKey:   getEnv("SENDGRID_API_KEY", ""),
		EmailFromAddress: getEnv("EMAIL_FROM_ADDRESS", ""),
		EmailFromName:    getEnv("EMAIL_FROM_NAME", "Clinic Portal"),
		SESConfigSet:     getEnv("SES_CONFIGURATION_SET", ""),
		EmailRetries:     getEnvAsInt("EMAIL_RETRIES", 3),
		EmailRetryBase:   getEnvAsDuration("EMAIL_RETRY_DELAY", time.Second),

		StripeSecretKey:       getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret:   getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripePriceBasic:      getEnv("STRIPE_PRICE_BASIC", ""),
		StripePricePro:        getEnv("STRIPE_PRICE_PRO", ""),
		StripePriceEnterprise: getEnv("STRIPE_PRICE_ENTERPRISE", ""),
		BillingSuccessURL:     getEnv("BILLING_SUCCESS_URL", ""),
		BillingCancelURL:      getEnv("BILLING_CANCEL_URL", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
