package prescriptions

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-portal/internal/httpx"
	"github.com/wolfman30/clinic-portal/internal/tenancy"
	"github.com/wolfman30/clinic-portal/pkg/logging"
)

type prescriptionService interface {
	Issue(ctx context.Context, p tenancy.Principal, req IssueRequest) (*Prescription, error)
	Get(ctx context.Context, p tenancy.Principal, id string) (*Prescription, error)
	List(ctx context.Context, p tenancy.Principal, patientID string, limit int) ([]Prescription, error)
	Revoke(ctx context.Context, p tenancy.Principal, id string) (*Prescription, error)
}

// Handler serves the /api/prescriptions routes.
type Handler struct {
	service prescriptionService
	logger  *logging.Logger
}

func NewHandler(service prescriptionService, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Issue handles POST /api/prescriptions.
func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	var req IssueRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	rx, err := h.service.Issue(r.Context(), p, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, rx)
}

// List handles GET /api/prescriptions?patient_id=&limit=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	patientID := strings.TrimSpace(r.URL.Query().Get("patient_id"))
	list, err := h.service.List(r.Context(), p, patientID, httpx.QueryInt(r, "limit", 50, 200))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"prescriptions": list})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	rx, err := h.service.Get(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rx)
}

// Revoke handles POST /api/prescriptions/{id}/revoke.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	rx, err := h.service.Revoke(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rx)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "prescription not found")
	case errors.Is(err, ErrForbidden):
		httpx.WriteError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, ErrAlreadyRevoked):
		httpx.WriteError(w, http.StatusConflict, "prescription already revoked")
	case errors.Is(err, ErrInvalidRequest):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrAuditUnavailable):
		httpx.WriteError(w, http.StatusServiceUnavailable, "prescriptions temporarily unavailable")
	default:
		h.logger.Error("prescriptions request failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
