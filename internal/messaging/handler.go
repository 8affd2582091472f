package messaging

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-portal/internal/httpx"
	"github.com/wolfman30/clinic-portal/internal/tenancy"
	"github.com/wolfman30/clinic-portal/pkg/logging"
)

type messagingService interface {
	Send(ctx context.Context, p tenancy.Principal, recipientID, body string) (*Message, error)
	Conversation(ctx context.Context, p tenancy.Principal, counterpart string, limit int, before *time.Time) ([]Message, error)
	Inbox(ctx context.Context, p tenancy.Principal) ([]Thread, error)
	MarkRead(ctx context.Context, p tenancy.Principal, counterpart string) (int64, error)
}

// Handler serves the /api/messages routes.
type Handler struct {
	service messagingService
	logger  *logging.Logger
}

func NewHandler(service messagingService, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

type sendRequest struct {
	RecipientID string `json:"recipient_id"`
	Body        string `json:"body"`
}

// Send handles POST /api/messages.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	var req sendRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	msg, err := h.service.Send(r.Context(), p, req.RecipientID, req.Body)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, msg)
}

// Inbox handles GET /api/messages.
func (h *Handler) Inbox(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	threads, err := h.service.Inbox(r.Context(), p)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if threads == nil {
		threads = []Thread{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"threads": threads})
}

// Conversation handles GET /api/messages/{userID}?limit=&before=.
func (h *Handler) Conversation(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	var before *time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("before")); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "before must be RFC3339")
			return
		}
		before = &t
	}
	msgs, err := h.service.Conversation(r.Context(), p, chi.URLParam(r, "userID"), httpx.QueryInt(r, "limit", 50, 200), before)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []Message{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// MarkRead handles POST /api/messages/{userID}/read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	n, err := h.service.MarkRead(r.Context(), p, chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"updated": n})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrEmptyBody),
		errors.Is(err, ErrBodyTooLong),
		errors.Is(err, ErrSelfMessage),
		errors.Is(err, ErrRecipientRequired):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUnknownRecipient):
		httpx.WriteError(w, http.StatusNotFound, "recipient not found")
	case errors.Is(err, ErrForbidden):
		httpx.WriteError(w, http.StatusForbidden, "forbidden")
	default:
		h.logger.Error("messaging request failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
