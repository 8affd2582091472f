package notify

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/wolfman30/clinic-portal/pkg/logging"
)

// EmailSender delivers one email.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

var (
	ErrNoRecipient    = errors.New("notify: email recipient required")
	ErrInvalidMessage = errors.New("notify: invalid email")
)

// DefaultFromName is used when no sender display name is configured.
const DefaultFromName = "Clinic Portal"

// EmailMessage is a single transactional email. OrgID and Category are
// forwarded to the provider as tags so bounces can be traced to a clinic.
type EmailMessage struct {
	To       string
	ToName   string
	Subject  string
	Body     string
	HTML     string
	OrgID    string
	Category string
}

// Validate checks the recipient address and that there is something to send.
func (m EmailMessage) Validate() error {
	to := strings.TrimSpace(m.To)
	if to == "" {
		return ErrNoRecipient
	}
	if _, err := mail.ParseAddress(to); err != nil {
		return fmt.Errorf("%w: recipient %q", ErrInvalidMessage, to)
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("%w: subject required", ErrInvalidMessage)
	}
	if strings.TrimSpace(m.Body) == "" && strings.TrimSpace(m.HTML) == "" {
		return fmt.Errorf("%w: text or html body required", ErrInvalidMessage)
	}
	return nil
}

// tags flattens OrgID and Category into provider tag pairs.
func (m EmailMessage) tags() map[string]string {
	out := map[string]string{}
	if m.OrgID != "" {
		out["org_id"] = m.OrgID
	}
	if m.Category != "" {
		out["category"] = tagValue(m.Category)
	}
	return out
}

// SES tag values allow only ASCII letters, digits, '_' and '-'.
func tagValue(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
}

func formatFrom(name, address string) string {
	if name == "" {
		name = DefaultFromName
	}
	return (&mail.Address{Name: name, Address: address}).String()
}

// StubEmailSender logs instead of sending. Used when no provider is configured.
type StubEmailSender struct {
	logger *logging.Logger
}

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(_ context.Context, msg EmailMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.logger.Info("email suppressed", "to", msg.To, "subject", msg.Subject, "category", msg.Category)
	return nil
}

var _ EmailSender = (*StubEmailSender)(nil)
