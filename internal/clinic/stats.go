package clinic

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/clinic-portal/internal/httpx"
	"github.com/wolfman30/clinic-portal/pkg/logging"
)

// Stats is the per-clinic activity summary shown on the admin portal.
type Stats struct {
	OrgID                 string `json:"org_id"`
	AppointmentsBooked    int64  `json:"appointments_booked"`
	AppointmentsCancelled int64  `json:"appointments_cancelled"`
	AppointmentsCompleted int64  `json:"appointments_completed"`
	PrescriptionsIssued   int64  `json:"prescriptions_issued"`
	InvoicesPaid          int64  `json:"invoices_paid"`
	RevenueCents          int64  `json:"revenue_cents"`
	PeriodStart           string `json:"period_start"`
	PeriodEnd             string `json:"period_end"`
}

// Each table is windowed on the timestamp that matters for it: bookings by
// when they were made, prescriptions by issue time, revenue by payment time.
// NULL bounds mean all-time.
const statsQuery = `
	WITH appts AS (
		SELECT
			COUNT(*) AS booked,
			COUNT(*) FILTER (WHERE status = 'cancelled') AS cancelled,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed
		FROM appointments
		WHERE org_id = $1
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at < $3)
	), rx AS (
		SELECT COUNT(*) AS issued
		FROM prescriptions
		WHERE org_id = $1
		  AND ($2::timestamptz IS NULL OR issued_at >= $2)
		  AND ($3::timestamptz IS NULL OR issued_at < $3)
	), paid AS (
		SELECT COUNT(*) AS invoices, COALESCE(SUM(amount_cents), 0) AS revenue
		FROM invoices
		WHERE org_id = $1 AND status = 'paid'
		  AND ($2::timestamptz IS NULL OR paid_at >= $2)
		  AND ($3::timestamptz IS NULL OR paid_at < $3)
	)
	SELECT appts.booked, appts.cancelled, appts.completed, rx.issued, paid.invoices, paid.revenue
	FROM appts, rx, paid
`

type statsDB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type StatsRepository struct {
	db statsDB
}

func NewStatsRepository(pool *pgxpool.Pool) *StatsRepository {
	if pool == nil {
		panic("clinic: pgx pool required for stats")
	}
	return &StatsRepository{db: pool}
}

// NewStatsRepositoryWithDB allows injecting a mock database for testing.
func NewStatsRepositoryWithDB(db statsDB) *StatsRepository {
	return &StatsRepository{db: db}
}

// GetStats aggregates clinic activity in [start, end). Nil bounds mean all-time.
func (r *StatsRepository) GetStats(ctx context.Context, orgID string, start, end *time.Time) (*Stats, error) {
	stats := &Stats{OrgID: orgID, PeriodStart: "all-time", PeriodEnd: "now"}
	if start != nil {
		stats.PeriodStart = start.UTC().Format(time.RFC3339)
	}
	if end != nil {
		stats.PeriodEnd = end.UTC().Format(time.RFC3339)
	}

	err := r.db.QueryRow(ctx, statsQuery, orgID, start, end).Scan(
		&stats.AppointmentsBooked,
		&stats.AppointmentsCancelled,
		&stats.AppointmentsCompleted,
		&stats.PrescriptionsIssued,
		&stats.InvoicesPaid,
		&stats.RevenueCents,
	)
	if err != nil {
		return nil, fmt.Errorf("clinic: stats for %s: %w", orgID, err)
	}
	return stats, nil
}

type StatsHandler struct {
	repo   *StatsRepository
	logger *logging.Logger
}

func NewStatsHandler(repo *StatsRepository, logger *logging.Logger) *StatsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &StatsHandler{repo: repo, logger: logger.Named("clinic.stats")}
}

func parseBound(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s time, use RFC3339 format", name)
	}
	return &t, nil
}

// GetStats returns aggregated activity for a clinic.
// GET /api/clinic/stats
// GET /api/admin/clinics/{orgID}/stats
// Query params start/end are RFC3339 and may be given independently.
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	orgID := targetOrg(r)
	if orgID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "org_id required")
		return
	}
	start, err := parseBound(r, "start")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := parseBound(r, "end")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if start != nil && end != nil && !end.After(*start) {
		httpx.WriteError(w, http.StatusBadRequest, "end must be after start")
		return
	}

	stats, err := h.repo.GetStats(r.Context(), orgID, start, end)
	if err != nil {
		h.logger.Error("failed to get clinic stats", "org_id", orgID, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stats)
}
