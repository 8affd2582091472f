// Package messaging stores direct messages between portal users of one clinic.
package messaging

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxBodyLength is counted in characters, not bytes.
const MaxBodyLength = 4000

const previewLength = 140

var (
	ErrEmptyBody         = errors.New("messaging: message body required")
	ErrBodyTooLong       = fmt.Errorf("messaging: message body exceeds %d characters", MaxBodyLength)
	ErrSelfMessage       = errors.New("messaging: cannot message yourself")
	ErrRecipientRequired = errors.New("messaging: recipient required")
	ErrUnknownRecipient  = errors.New("messaging: unknown recipient")
	ErrForbidden         = errors.New("messaging: forbidden")
)

type Message struct {
	ID          string     `json:"id"`
	OrgID       string     `json:"org_id"`
	SenderID    string     `json:"sender_id"`
	RecipientID string     `json:"recipient_id"`
	Body        string     `json:"body"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Thread summarises a conversation from one user's side of the inbox.
type Thread struct {
	Counterpart string  `json:"counterpart_id"`
	Last        Message `json:"last_message"`
	Unread      int     `json:"unread"`
}

// ValidateBody trims body and checks its length.
func ValidateBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", ErrEmptyBody
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return "", ErrBodyTooLong
	}
	return body, nil
}

func preview(body string) string {
	if utf8.RuneCountInString(body) <= previewLength {
		return body
	}
	runes := []rune(body)
	return string(runes[:previewLength-1]) + "…"
}
