package messaging

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/wolfman30/clinic-portal/internal/notify"
	"github.com/wolfman30/clinic-portal/internal/tenancy"
	"github.com/wolfman30/clinic-portal/pkg/logging"
)

type messageStore interface {
	Send(ctx context.Context, msg *Message) error
	Conversation(ctx context.Context, orgID, userA, userB string, limit int, before *time.Time) ([]Message, error)
	Inbox(ctx context.Context, orgID, userID string) ([]Thread, error)
	MarkRead(ctx context.Context, orgID, recipientID, senderID string) (int64, error)
}

type contactLookup interface {
	Lookup(ctx context.Context, orgID, userID string) (*notify.Contact, error)
}

// Service validates and routes direct messages.
type Service struct {
	store    messageStore
	contacts contactLookup
	logger   *logging.Logger
}

func NewService(store messageStore, logger *logging.Logger) *Service {
	if store == nil {
		panic("messaging: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{store: store, logger: logger.Named("messaging")}
}

// WithDirectory makes Send reject recipients outside the sender's clinic
// and stops patients from messaging other patients.
func (s *Service) WithDirectory(contacts contactLookup) *Service {
	s.contacts = contacts
	return s
}

func (s *Service) Send(ctx context.Context, p tenancy.Principal, recipientID, body string) (*Message, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return nil, ErrRecipientRequired
	}
	if recipientID == p.UserID {
		return nil, ErrSelfMessage
	}
	body, err := ValidateBody(body)
	if err != nil {
		return nil, err
	}

	if s.contacts != nil {
		contact, err := s.contacts.Lookup(ctx, p.OrgID, recipientID)
		if err != nil {
			if errors.Is(err, notify.ErrContactNotFound) {
				return nil, ErrUnknownRecipient
			}
			return nil, err
		}
		staff := tenancy.Principal{Role: contact.Role}.IsStaff()
		if p.Role == tenancy.RolePatient && !staff {
			return nil, ErrForbidden
		}
	}

	msg := &Message{
		OrgID:       p.OrgID,
		SenderID:    p.UserID,
		RecipientID: recipientID,
		Body:        body,
	}
	if err := s.store.Send(ctx, msg); err != nil {
		return nil, err
	}
	s.logger.Debug("message sent", "org_id", p.OrgID, "message_id", msg.ID)
	return msg, nil
}

func (s *Service) Conversation(ctx context.Context, p tenancy.Principal, counterpart string, limit int, before *time.Time) ([]Message, error) {
	counterpart = strings.TrimSpace(counterpart)
	if counterpart == "" {
		return nil, ErrRecipientRequired
	}
	return s.store.Conversation(ctx, p.OrgID, p.UserID, counterpart, limit, before)
}

func (s *Service) Inbox(ctx context.Context, p tenancy.Principal) ([]Thread, error) {
	return s.store.Inbox(ctx, p.OrgID, p.UserID)
}

// MarkRead marks the messages counterpart sent to the caller as read.
func (s *Service) MarkRead(ctx context.Context, p tenancy.Principal, counterpart string) (int64, error) {
	counterpart = strings.TrimSpace(counterpart)
	if counterpart == "" {
		return 0, ErrRecipientRequired
	}
	return s.store.MarkRead(ctx, p.OrgID, p.UserID, counterpart)
}
