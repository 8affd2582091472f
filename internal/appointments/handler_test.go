package appointments

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-portal/internal/availability"
	"github.com/wolfman30/clinic-portal/internal/tenancy"
	"github.com/wolfman30/clinic-portal/pkg/logging"
)

func newTestRouter(t *testing.T) (http.Handler, *fakeStore) {
	t.Helper()
	svc, store, _ := newTestService(t)
	h := NewHandler(svc, logging.NewWithWriter(io.Discard, "error", "json"))

	r := chi.NewRouter()
	r.Route("/api/appointments", func(r chi.Router) {
		r.Get("/availability", h.Availability)
		r.Post("/", h.Book)
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Post("/{id}/cancel", h.Cancel)
		r.Patch("/{id}/status", h.UpdateStatus)
	})
	return r, store
}

func do(t *testing.T, router http.Handler, p *tenancy.Principal, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if p != nil {
		req = req.WithContext(tenancy.WithPrincipal(req.Context(), *p))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlerBookingFlow(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, &patient, http.MethodPost, "/api/appointments/", BookRequest{DoctorID: "doc-1", Date: "2026-03-02", Time: "9:00"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var booked Appointment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &booked))
	assert.Equal(t, "09:00", booked.Time)

	rec = do(t, router, &other, http.MethodPost, "/api/appointments/", BookRequest{DoctorID: "doc-1", Date: "2026-03-02", Time: "09:00"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, &patient, http.MethodGet, "/api/appointments/availability?doctor_id=doc-1&date=2026-03-02", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res availability.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Len(t, res.Slots, 15)
	assert.NotContains(t, res.Slots, "09:00")

	rec = do(t, router, &other, http.MethodGet, "/api/appointments/"+booked.ID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, &doctor, http.MethodPatch, "/api/appointments/"+booked.ID+"/status", map[string]string{"status": "confirmed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, &patient, http.MethodPost, "/api/appointments/"+booked.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, &patient, http.MethodPost, "/api/appointments/"+booked.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, &patient, http.MethodGet, "/api/appointments/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Appointments []Appointment `json:"appointments"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Appointments, 1)
	assert.Equal(t, StatusCancelled, list.Appointments[0].Status)
}

func TestHandlerErrors(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, nil, http.MethodGet, "/api/appointments/", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	noOrg := tenancy.Principal{UserID: "root", Role: tenancy.RoleSuperAdmin}
	rec = do(t, router, &noOrg, http.MethodGet, "/api/appointments/", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, &patient, http.MethodGet, "/api/appointments/availability?doctor_id=doc-1&date=tomorrow", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, &patient, http.MethodGet, "/api/appointments/availability?date=2026-03-02", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, &patient, http.MethodGet, "/api/appointments/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, &patient, http.MethodGet, "/api/appointments/?status=lost", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, &patient, http.MethodPost, "/api/appointments/", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, &patient, http.MethodPost, "/api/appointments/", BookRequest{DoctorID: "doc-1", Date: "2026-03-02", Time: "09:10"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, &patient, http.MethodPost, "/api/appointments/", BookRequest{DoctorID: "doc-B", Date: "2026-03-02", Time: "09:00"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, &patient, http.MethodGet, "/api/appointments/availability?doctor_id=pat-2&date=2026-03-02", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
