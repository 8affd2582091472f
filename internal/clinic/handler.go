package clinic

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

type configStore interface {
	Get(ctx context.Context, orgID string) (*Config, error)
	Set(ctx context.Context, cfg *Config) error
}

// Handler provides HTTP endpoints for clinic configuration management.
type Handler struct {
	store  configStore
	logger *logging.Logger
}

// NewHandler creates a new clinic config HTTP handler.
func NewHandler(store configStore, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		store:  store,
		logger: logger,
	}
}

// UpdateConfigRequest is the request body for updating clinic config.
// Omitted fields keep their saved values.
type UpdateConfigRequest struct {
	Name              *string   `json:"name,omitempty"`
	Timezone          *string   `json:"timezone,omitempty"`
	ContactEmail      *string   `json:"contact_email,omitempty"`
	WorkStart         *int      `json:"work_start,omitempty"`
	WorkEnd           *int      `json:"work_end,omitempty"`
	SlotMinutes       *int      `json:"slot_minutes,omitempty"`
	ClosedDays        *[]string `json:"closed_days,omitempty"`
	LookupPolicy      *string   `json:"lookup_policy,omitempty"`
	ReminderLeadHours *int      `json:"reminder_lead_hours,omitempty"`
	VisitFeeCents     *int      `json:"visit_fee_cents,omitempty"`
	Currency          *string   `json:"currency,omitempty"`
}

func (req UpdateConfigRequest) apply(cfg *Config) error {
	if req.Name != nil {
		cfg.Name = strings.TrimSpace(*req.Name)
	}
	if req.Timezone != nil {
		cfg.Timezone = strings.TrimSpace(*req.Timezone)
	}
	if req.ContactEmail != nil {
		cfg.ContactEmail = strings.TrimSpace(*req.ContactEmail)
	}
	if req.WorkStart != nil {
		cfg.WorkStart = *req.WorkStart
	}
	if req.WorkEnd != nil {
		cfg.WorkEnd = *req.WorkEnd
	}
	if req.SlotMinutes != nil {
		cfg.SlotMinutes = *req.SlotMinutes
	}
	if req.ClosedDays != nil {
		days := make([]string, 0, len(*req.ClosedDays))
		for _, d := range *req.ClosedDays {
			days = append(days, strings.ToLower(strings.TrimSpace(d)))
		}
		cfg.ClosedDays = days
	}
	if req.LookupPolicy != nil {
		policy, err := availability.ParsePolicy(*req.LookupPolicy)
		if err != nil {
			return err
		}
		cfg.LookupPolicy = policy
	}
	if req.ReminderLeadHours != nil {
		cfg.ReminderLeadHours = *req.ReminderLeadHours
	}
	if req.VisitFeeCents != nil {
		cfg.VisitFeeCents = *req.VisitFeeCents
	}
	if req.Currency != nil {
		cfg.Currency = strings.ToLower(strings.TrimSpace(*req.Currency))
	}
	return nil
}

// targetOrg is the {orgID} URL param on super-admin routes, otherwise the
// caller's own org.
func targetOrg(r *http.Request) string {
	if orgID := strings.TrimSpace(chi.URLParam(r, "orgID")); orgID != "" {
		return orgID
	}
	orgID, _ := tenancy.OrgIDFromContext(r.Context())
	return orgID
}

// GetConfig returns the clinic configuration.
// GET /api/clinic/config
// GET /api/admin/clinics/{orgID}/config
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	orgID := targetOrg(r)
	if orgID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "org_id required")
		return
	}

	cfg, err := h.store.Get(r.Context(), orgID)
	if err != nil {
		h.logger.Error("failed to get clinic config", "org_id", orgID, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cfg)
}

// UpdateConfig applies a partial update to the clinic configuration.
// PUT /api/clinic/config
// PUT /api/admin/clinics/{orgID}/config
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	orgID := targetOrg(r)
	if orgID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "org_id required")
		return
	}

	var req UpdateConfigRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg, err := h.store.Get(r.Context(), orgID)
	if err != nil {
		h.logger.Error("failed to get clinic config", "org_id", orgID, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err := req.apply(cfg); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.Set(r.Context(), cfg); err != nil {
		if errors.Is(err, ErrInvalidConfig) {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to save clinic config", "org_id", orgID, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to save config")
		return
	}

	h.logger.Info("clinic config updated", "org_id", orgID, "name", cfg.Name)
	httpx.WriteJSON(w, http.StatusOK, cfg)
}
