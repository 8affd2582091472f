package notify

import (
	"context"
	"strings"

	"github.com/wolfman30/clinic-portal/internal/retry"
	"github.com/wolfman30/clinic-portal/pkg/logging"
)

// SenderConfig selects an email provider. Provider is one of "sendgrid",
// "ses", "stub" or "auto" (SendGrid when an API key is set, then SES when a
// client and from address are set, otherwise the stub).
type SenderConfig struct {
	Provider       string
	SendGridAPIKey string
	FromEmail      string
	FromName       string
	SESConfigSet   string
	SES            sesAPI
}

func NewEmailSender(cfg SenderConfig, logger *logging.Logger) EmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	sendgrid := func() EmailSender {
		if s := NewSendGridSender(SendGridConfig{APIKey: cfg.SendGridAPIKey, FromEmail: cfg.FromEmail, FromName: cfg.FromName}, logger); s != nil {
			return s
		}
		return nil
	}
	ses := func() EmailSender {
		if cfg.SES == nil || cfg.FromEmail == "" {
			return nil
		}
		return NewSESSender(cfg.SES, SESConfig{FromEmail: cfg.FromEmail, FromName: cfg.FromName, ConfigurationSet: cfg.SESConfigSet}, logger)
	}

	var sender EmailSender
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "sendgrid":
		sender = sendgrid()
	case "ses":
		sender = ses()
	case "stub", "none", "disabled":
	default:
		if sender = sendgrid(); sender == nil {
			sender = ses()
		}
	}
	if sender == nil {
		logger.Warn("email provider not configured, using stub sender", "provider", cfg.Provider)
		return NewStubEmailSender(logger)
	}
	return sender
}

// RetryingSender retries transient send failures with the retry executor.
type RetryingSender struct {
	next   EmailSender
	cfg    retry.Config
	logger *logging.Logger
}

func NewRetryingSender(next EmailSender, cfg retry.Config, logger *logging.Logger) *RetryingSender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "email_send"
	}
	return &RetryingSender{next: next, cfg: cfg, logger: logger}
}

func (s *RetryingSender) Send(ctx context.Context, msg EmailMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	cfg := s.cfg
	cfg.OnRetry = func(attempt int) {
		s.logger.Warn("email send failed, retrying", "to", msg.To, "attempt", attempt)
	}
	_, err := retry.Do(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.next.Send(ctx, msg)
	})
	return err
}

var _ EmailSender = (*RetryingSender)(nil)
