package clinic

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/wolfman30/clinic-portal/internal/availability"
	"github.com/wolfman30/clinic-portal/internal/httpx"
	"github.com/wolfman30/clinic-portal/pkg/logging"
)

type dashboardDB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type dashboardRepo interface {
	BookingsByDay(ctx context.Context, orgID string, start, end time.Time) ([]BookingDay, error)
}

// BookingDay counts appointments by the day they take place.
type BookingDay struct {
	Day       time.Time `json:"-"`
	DayLabel  string    `json:"day"`
	Booked    int64     `json:"booked"`
	Cancelled int64     `json:"cancelled"`
}

// SchedulingHealth summarizes process-wide availability and retry counters.
type SchedulingHealth struct {
	LookupFailures   int64            `json:"lookup_failures"`
	RetryOutcomes    map[string]int64 `json:"retry_outcomes,omitempty"`
	DegradedLookups  int64            `json:"degraded_lookups"`
	HealthyLookups   int64            `json:"healthy_lookups"`
	DegradedFraction float64          `json:"degraded_fraction"`
}

type Dashboard struct {
	OrgID          string           `json:"org_id"`
	PeriodStart    string           `json:"period_start"`
	PeriodEnd      string           `json:"period_end"`
	Booked         int64            `json:"booked"`
	Cancelled      int64            `json:"cancelled"`
	CancellationPc float64          `json:"cancellation_pct"`
	Scheduling     SchedulingHealth `json:"scheduling"`
	Daily          []BookingDay     `json:"daily"`
}

// DashboardRepository queries clinic-level booking activity from the database.
type DashboardRepository struct {
	db dashboardDB
}

func NewDashboardRepository(pool *pgxpool.Pool) *DashboardRepository {
	if pool == nil {
		panic("clinic: pgx pool required for dashboard")
	}
	return &DashboardRepository{db: pool}
}

func NewDashboardRepositoryWithDB(db dashboardDB) *DashboardRepository {
	return &DashboardRepository{db: db}
}

func (r *DashboardRepository) BookingsByDay(ctx context.Context, orgID string, start, end time.Time) ([]BookingDay, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return nil, fmt.Errorf("clinic dashboard: org_id required")
	}
	if !end.After(start) {
		return nil, fmt.Errorf("clinic dashboard: invalid time range")
	}

	query := `
		SELECT appointment_date,
		       COUNT(*) AS booked,
		       COUNT(*) FILTER (WHERE status = 'cancelled') AS cancelled
		FROM appointments
		WHERE org_id = $1
		  AND appointment_date >= $2
		  AND appointment_date < $3
		GROUP BY appointment_date
		ORDER BY appointment_date
	`

	rows, err := r.db.Query(ctx, query, orgID, start, end)
	if err != nil {
		return nil, fmt.Errorf("clinic dashboard: query bookings: %w", err)
	}
	defer rows.Close()

	var results []BookingDay
	for rows.Next() {
		var day time.Time
		var booked, cancelled int64
		if err := rows.Scan(&day, &booked, &cancelled); err != nil {
			return nil, fmt.Errorf("clinic dashboard: scan bookings: %w", err)
		}
		results = append(results, BookingDay{
			Day:       day.UTC(),
			DayLabel:  day.UTC().Format(availability.DateLayout),
			Booked:    booked,
			Cancelled: cancelled,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clinic dashboard: iterate bookings: %w", err)
	}
	return results, nil
}

// DashboardHandler serves booking dashboard JSON for a clinic.
type DashboardHandler struct {
	repo     dashboardRepo
	gatherer prometheus.Gatherer
	logger   *logging.Logger
}

func NewDashboardHandler(repo dashboardRepo, gatherer prometheus.Gatherer, logger *logging.Logger) *DashboardHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &DashboardHandler{
		repo:     repo,
		gatherer: gatherer,
		logger:   logger,
	}
}

// GetDashboard returns booking activity plus scheduling health.
// GET /api/clinic/dashboard
// GET /api/admin/clinics/{orgID}/dashboard
// Query params:
//   - start/end: YYYY-MM-DD appointment dates (optional, both or neither)
//   - days: window ending tomorrow (default 7) when start/end omitted
func (h *DashboardHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	orgID := targetOrg(r)
	if orgID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "org_id required")
		return
	}
	if h.repo == nil {
		httpx.WriteError(w, http.StatusServiceUnavailable, "dashboard disabled (db not configured)")
		return
	}

	start, end, err := parseDashboardWindow(r, time.Now())
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	days, err := h.repo.BookingsByDay(r.Context(), orgID, start, end)
	if err != nil {
		h.logger.Error("failed to query dashboard bookings", "org_id", orgID, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	days = fillMissingDays(days, start, end)

	resp := Dashboard{
		OrgID:       orgID,
		PeriodStart: start.Format(availability.DateLayout),
		PeriodEnd:   end.Format(availability.DateLayout),
		Scheduling:  snapshotScheduling(h.gatherer),
		Daily:       days,
	}
	for _, d := range days {
		resp.Booked += d.Booked
		resp.Cancelled += d.Cancelled
	}
	if resp.Booked > 0 {
		resp.CancellationPc = float64(resp.Cancelled) / float64(resp.Booked) * 100.0
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func parseDashboardWindow(r *http.Request, now time.Time) (time.Time, time.Time, error) {
	q := r.URL.Query()

	startRaw := strings.TrimSpace(q.Get("start"))
	endRaw := strings.TrimSpace(q.Get("end"))
	if (startRaw == "") != (endRaw == "") {
		return time.Time{}, time.Time{}, fmt.Errorf("both start and end must be provided, or neither")
	}
	if startRaw != "" {
		start, err := time.Parse(availability.DateLayout, startRaw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start date, use YYYY-MM-DD")
		}
		end, err := time.Parse(availability.DateLayout, endRaw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end date, use YYYY-MM-DD")
		}
		if !end.After(start) {
			return time.Time{}, time.Time{}, fmt.Errorf("end must be after start")
		}
		return start, end, nil
	}

	days := 7
	if raw := strings.TrimSpace(q.Get("days")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 90 {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid days; must be 1-90")
		}
		days = parsed
	}

	now = now.UTC()
	end := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	start := end.AddDate(0, 0, -days)
	return start, end, nil
}

func fillMissingDays(existing []BookingDay, start, end time.Time) []BookingDay {
	startDay := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	endDay := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)

	lookup := map[string]BookingDay{}
	for _, d := range existing {
		lookup[d.DayLabel] = d
	}

	out := make([]BookingDay, 0, int(endDay.Sub(startDay).Hours()/24)+1)
	for day := startDay; day.Before(endDay); day = day.AddDate(0, 0, 1) {
		key := day.Format(availability.DateLayout)
		if found, ok := lookup[key]; ok {
			out = append(out, found)
			continue
		}
		out = append(out, BookingDay{Day: day, DayLabel: key})
	}
	return out
}

func snapshotScheduling(gatherer prometheus.Gatherer) SchedulingHealth {
	var health SchedulingHealth
	if gatherer == nil {
		return health
	}
	mfs, err := gatherer.Gather()
	if err != nil {
		return health
	}

	for _, mf := range mfs {
		if mf == nil {
			continue
		}
		switch mf.GetName() {
		case "clinic_availability_lookup_failures_total":
			for _, m := range mf.Metric {
				health.LookupFailures += counterValue(m)
			}
		case "clinic_availability_lookups_total":
			for _, m := range mf.Metric {
				if hasLabel(m, "degraded", "true") {
					health.DegradedLookups += counterValue(m)
				} else {
					health.HealthyLookups += counterValue(m)
				}
			}
		case "clinic_retry_attempts_total":
			for _, m := range mf.Metric {
				if health.RetryOutcomes == nil {
					health.RetryOutcomes = map[string]int64{}
				}
				health.RetryOutcomes[labelValue(m, "outcome")] += counterValue(m)
			}
		}
	}
	if total := health.DegradedLookups + health.HealthyLookups; total > 0 {
		health.DegradedFraction = float64(health.DegradedLookups) / float64(total)
	}
	return health
}

func counterValue(metric *dto.Metric) int64 {
	if metric == nil || metric.GetCounter() == nil {
		return 0
	}
	return int64(metric.GetCounter().GetValue())
}

func hasLabel(metric *dto.Metric, name, value string) bool {
	return labelValue(metric, name) == value
}

func labelValue(metric *dto.Metric, name string) string {
	if metric == nil {
		return ""
	}
	for _, lp := range metric.Label {
		if lp != nil && lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
