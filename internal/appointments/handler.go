package appointments

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-portal/internal/availability"
	"github.com/wolfman30/clinic-portal/internal/httpx"
	"github.com/wolfman30/clinic-portal/internal/tenancy"
	"github.com/wolfman30/clinic-portal/pkg/logging"
)

type bookingService interface {
	Availability(ctx context.Context, orgID, doctorID, date string) (*availability.Result, error)
	Book(ctx context.Context, p tenancy.Principal, req BookRequest) (*Appointment, error)
	Get(ctx context.Context, p tenancy.Principal, id string) (*Appointment, error)
	List(ctx context.Context, p tenancy.Principal, f ListFilter) ([]Appointment, error)
	Cancel(ctx context.Context, p tenancy.Principal, id string) (*Appointment, error)
	UpdateStatus(ctx context.Context, p tenancy.Principal, id string, next Status) (*Appointment, error)
}

// Handler serves the /api/appointments routes.
type Handler struct {
	service bookingService
	logger  *logging.Logger
}

func NewHandler(service bookingService, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Availability handles GET /api/appointments/availability?doctor_id=&date=.
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	doctorID := strings.TrimSpace(r.URL.Query().Get("doctor_id"))
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	res, err := h.service.Availability(r.Context(), p.OrgID, doctorID, date)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// Book handles POST /api/appointments.
func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req BookRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	appt, err := h.service.Book(r.Context(), p, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, appt)
}

// List handles GET /api/appointments?date=&doctor_id=&status=&limit=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	f := ListFilter{
		DoctorID: strings.TrimSpace(q.Get("doctor_id")),
		Date:     strings.TrimSpace(q.Get("date")),
		Limit:    httpx.QueryInt(r, "limit", 100, 500),
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, ok := ParseStatus(raw)
		if !ok {
			httpx.WriteError(w, http.StatusBadRequest, "unknown status")
			return
		}
		f.Status = status
	}
	list, err := h.service.List(r.Context(), p, f)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"appointments": list})
}

// Get handles GET /api/appointments/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	appt, err := h.service.Get(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appt)
}

// Cancel handles POST /api/appointments/{id}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	appt, err := h.service.Cancel(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appt)
}

type statusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus handles PATCH /api/appointments/{id}/status.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	status, ok := ParseStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !ok {
		httpx.WriteError(w, http.StatusBadRequest, "unknown status")
		return
	}
	appt, err := h.service.UpdateStatus(r.Context(), p, chi.URLParam(r, "id"), status)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appt)
}

func principal(w http.ResponseWriter, r *http.Request) (tenancy.Principal, bool) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return p, false
	}
	if p.OrgID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "organization required")
		return p, false
	}
	return p, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "appointment not found")
	case errors.Is(err, ErrUnknownDoctor):
		httpx.WriteError(w, http.StatusNotFound, "doctor not found")
	case errors.Is(err, ErrForbidden):
		httpx.WriteError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, ErrSlotTaken):
		httpx.WriteError(w, http.StatusConflict, "slot is no longer available")
	case errors.Is(err, ErrInvalidTransition):
		httpx.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrClinicClosed),
		errors.Is(err, ErrOffGrid),
		errors.Is(err, ErrInPast),
		errors.Is(err, availability.ErrInvalidDate),
		errors.Is(err, availability.ErrMissingProvider),
		errors.Is(err, availability.ErrInvalidGrid):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, availability.ErrAvailabilityIndeterminate):
		httpx.WriteError(w, http.StatusServiceUnavailable, "availability temporarily unavailable")
	default:
		h.logger.Error("appointments request failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
