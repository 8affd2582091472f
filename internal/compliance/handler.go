package compliance

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/clinic-portal/internal/httpx"
	"github.com/wolfman30/clinic-portal/pkg/logging"
)

type auditQuerier interface {
	QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)
}

// Handler exposes the audit trail to clinic administrators.
type Handler struct {
	audit  auditQuerier
	logger *logging.Logger
}

func NewHandler(audit auditQuerier, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{audit: audit, logger: logger}
}

// List handles GET /api/compliance/audit.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := AuditFilter{
		OrgID:     p.OrgID,
		PatientID: strings.TrimSpace(q.Get("patient_id")),
		ActorID:   strings.TrimSpace(q.Get("actor_id")),
		EventType: AuditEventType(strings.TrimSpace(q.Get("event_type"))),
		Tag:       strings.TrimSpace(q.Get("tag")),
		Limit:     httpx.QueryInt(r, "limit", 100, 1000),
		Offset:    httpx.QueryInt(r, "offset", 0, 0),
	}
	for key, dst := range map[string]*time.Time{"start": &filter.StartTime, "end": &filter.EndTime} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, key+" must be RFC3339")
			return
		}
		*dst = t
	}

	events, err := h.audit.QueryEvents(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to query audit events", "error", err, "org_id", p.OrgID)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to query audit events")
		return
	}
	if events == nil {
		events = []AuditEvent{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}
