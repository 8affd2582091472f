package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-portal/pkg/logging"
)

var statsColumns = []string{"booked", "cancelled", "completed", "issued", "invoices", "revenue"}

func TestStatsRepositoryAllTime(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("WITH appts AS").
		WithArgs("org-123", (*time.Time)(nil), (*time.Time)(nil)).
		WillReturnRows(pgxmock.NewRows(statsColumns).AddRow(int64(40), int64(5), int64(30), int64(12), int64(25), int64(250000)))

	stats, err := NewStatsRepositoryWithDB(mock).GetStats(context.Background(), "org-123", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, &Stats{
		OrgID:                 "org-123",
		AppointmentsBooked:    40,
		AppointmentsCancelled: 5,
		AppointmentsCompleted: 30,
		PrescriptionsIssued:   12,
		InvoicesPaid:          25,
		RevenueCents:          250000,
		PeriodStart:           "all-time",
		PeriodEnd:             "now",
	}, stats)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsRepositoryWindow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("WITH appts AS").
		WithArgs("org-123", &start, &end).
		WillReturnRows(pgxmock.NewRows(statsColumns).AddRow(int64(4), int64(1), int64(2), int64(3), int64(2), int64(9000)))

	stats, err := NewStatsRepositoryWithDB(mock).GetStats(context.Background(), "org-123", &start, &end)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01T00:00:00Z", stats.PeriodStart)
	assert.Equal(t, "2026-02-01T00:00:00Z", stats.PeriodEnd)
	assert.EqualValues(t, 9000, stats.RevenueCents)

	mock.ExpectQuery("WITH appts AS").WillReturnError(errors.New("connection reset"))
	_, err = NewStatsRepositoryWithDB(mock).GetStats(context.Background(), "org-123", nil, nil)
	assert.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsHandler(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	mock.ExpectQuery("WITH appts AS").
		WithArgs("org-9", pgxmock.AnyArg(), (*time.Time)(nil)).
		WillReturnRows(pgxmock.NewRows(statsColumns).AddRow(int64(1), int64(0), int64(0), int64(0), int64(0), int64(0)))

	h := NewStatsHandler(NewStatsRepositoryWithDB(mock), logging.NewWithWriter(io.Discard, "error", "json"))
	r := chi.NewRouter()
	r.Get("/api/admin/clinics/{orgID}/stats", h.GetStats)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/clinics/org-9/stats?start=2026-01-01T00:00:00Z", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var stats Stats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, "org-9", stats.OrgID)
	assert.EqualValues(t, 1, stats.AppointmentsBooked)
	assert.Equal(t, "now", stats.PeriodEnd)
}

func TestStatsHandlerRejectsBadWindow(t *testing.T) {
	h := NewStatsHandler(nil, nil)
	r := chi.NewRouter()
	r.Get("/api/admin/clinics/{orgID}/stats", h.GetStats)

	for _, q := range []string{
		"?start=yesterday",
		"?end=bad",
		"?start=2026-02-01T00:00:00Z&end=2026-01-01T00:00:00Z",
		"?start=2026-01-01T00:00:00Z&end=2026-01-01T00:00:00Z",
	} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/clinics/org-9/stats"+q, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}
