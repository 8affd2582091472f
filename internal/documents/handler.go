package documents

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/wolfman30/clinic-portal/internal/httpx"
	"github.com/wolfman30/clinic-portal/internal/tenancy"
	"github.com/wolfman30/clinic-portal/pkg/logging"
)

type documentStore interface {
	UploadURL(ctx context.Context, p tenancy.Principal, req UploadRequest) (*PresignedURL, error)
	DownloadURL(ctx context.Context, p tenancy.Principal, key string) (*PresignedURL, error)
	List(ctx context.Context, p tenancy.Principal, patientID string) ([]Object, error)
}

type Handler struct {
	store  documentStore
	logger *logging.Logger
}

func NewHandler(store documentStore, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, logger: logger}
}

// UploadURL handles POST /api/documents/upload-url.
func (h *Handler) UploadURL(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	var req UploadRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.store.UploadURL(r.Context(), p, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// DownloadURL handles GET /api/documents/download-url?key=.
func (h *Handler) DownloadURL(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	res, err := h.store.DownloadURL(r.Context(), p, strings.TrimSpace(r.URL.Query().Get("key")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// List handles GET /api/documents?patient_id=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	objects, err := h.store.List(r.Context(), p, strings.TrimSpace(r.URL.Query().Get("patient_id")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"documents": objects})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrForbidden):
		httpx.WriteError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, ErrInvalidKey), errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrUnsupportedType):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrDisabled):
		httpx.WriteError(w, http.StatusServiceUnavailable, "document storage is not configured")
	default:
		h.logger.Error("documents request failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
