package notify

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-portal/internal/httpx"
	"github.com/wolfman30/clinic-portal/pkg/logging"
)

type notificationReader interface {
	ListForUser(ctx context.Context, orgID, userID string, unreadOnly bool, limit int) ([]Notification, error)
	UnreadCount(ctx context.Context, orgID, userID string) (int, error)
	MarkRead(ctx context.Context, orgID, userID, id string) error
	MarkAllRead(ctx context.Context, orgID, userID string) (int64, error)
}

// Handler serves /api/notifications for the authenticated user.
type Handler struct {
	store  notificationReader
	logger *logging.Logger
}

func NewHandler(store notificationReader, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, logger: logger}
}

// List handles GET /api/notifications?unread=true&limit=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	unreadOnly := r.URL.Query().Get("unread") == "true"
	list, err := h.store.ListForUser(r.Context(), p.OrgID, p.UserID, unreadOnly, httpx.QueryInt(r, "limit", 50, 200))
	if err != nil {
		h.logger.Error("failed to list notifications", "error", err, "user_id", p.UserID)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	unread, err := h.store.UnreadCount(r.Context(), p.OrgID, p.UserID)
	if err != nil {
		h.logger.Error("failed to count notifications", "error", err, "user_id", p.UserID)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"notifications": list,
		"unread":        unread,
	})
}

// MarkRead handles POST /api/notifications/{id}/read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	err := h.store.MarkRead(r.Context(), p.OrgID, p.UserID, chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, ErrNotificationNotFound):
		httpx.WriteError(w, http.StatusNotFound, "notification not found")
	case err != nil:
		h.logger.Error("failed to mark notification read", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to update notification")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// MarkAllRead handles POST /api/notifications/read-all.
func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	n, err := h.store.MarkAllRead(r.Context(), p.OrgID, p.UserID)
	if err != nil {
		h.logger.Error("failed to mark notifications read", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to update notifications")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int64{"updated": n})
}
