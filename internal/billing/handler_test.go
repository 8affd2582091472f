package billing

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-portal/internal/tenancy"
	"github.com/wolfman30/clinic-portal/pkg/logging"
)

const testWebhookSecret = "whsec_test_secret"

type memoryInvoices struct {
	mu   sync.Mutex
	byID map[string]*Invoice
}

func (m *memoryInvoices) CreateInvoice(_ context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv.ID = uuid.NewString()
	inv.Status = InvoiceOpen
	inv.IssuedAt = time.Now().UTC()
	cp := *inv
	m.byID[inv.ID] = &cp
	return nil
}

func (m *memoryInvoices) GetInvoice(_ context.Context, orgID, id string) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.byID[id]
	if !ok || inv.OrgID != orgID {
		return nil, ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *memoryInvoices) ListInvoices(_ context.Context, orgID, patientID string, _ int) ([]Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Invoice
	for _, inv := range m.byID {
		if inv.OrgID == orgID && (patientID == "" || inv.PatientID == patientID) {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (m *memoryInvoices) MarkInvoicePaid(_ context.Context, orgID, id string) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.byID[id]
	if !ok || inv.OrgID != orgID {
		return nil, ErrNotFound
	}
	if inv.Status != InvoiceOpen {
		return nil, ErrInvoiceNotOpen
	}
	now := time.Now().UTC()
	inv.Status = InvoicePaid
	inv.PaidAt = &now
	cp := *inv
	return &cp, nil
}

var (
	admin   = tenancy.Principal{UserID: "adm-1", OrgID: "org-1", Role: tenancy.RoleAdmin}
	patient = tenancy.Principal{UserID: "pat-1", OrgID: "org-1", Role: tenancy.RolePatient}
	other   = tenancy.Principal{UserID: "pat-2", OrgID: "org-1", Role: tenancy.RolePatient}
)

func newTestRouter(t *testing.T) (http.Handler, *fakeSubStore) {
	t.Helper()
	subs, _, store, _ := newTestSubscriptionService()
	logger := logging.NewWithWriter(io.Discard, "error", "json")
	inv := NewInvoiceService(&memoryInvoices{byID: map[string]*Invoice{}}, logger)
	h := NewHandler(subs, inv, testWebhookSecret, logger)

	r := chi.NewRouter()
	r.Post("/webhooks/stripe", h.StripeWebhook)
	r.Post("/api/billing/checkout", h.Checkout)
	r.Get("/api/billing/subscription", h.Subscription)
	r.Route("/api/invoices", func(r chi.Router) {
		r.Post("/", h.CreateInvoice)
		r.Get("/", h.ListInvoices)
		r.Get("/{id}", h.GetInvoice)
		r.Post("/{id}/pay", h.PayInvoice)
	})
	return r, store
}

func do(t *testing.T, router http.Handler, p tenancy.Principal, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req = req.WithContext(tenancy.WithPrincipal(req.Context(), p))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func signPayload(secret string, payload []byte, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts.Unix())
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func postWebhook(router http.Handler, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signature)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhook(t *testing.T) {
	router, store := newTestRouter(t)
	payload := []byte(`{"id":"evt_web_1","object":"event","type":"checkout.session.completed","created":1772440000,
		"data":{"object":` + completedSession + `}}`)

	rec := postWebhook(router, payload, signPayload("whsec_wrong", payload, time.Now()))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, store.activated)

	rec = postWebhook(router, payload, signPayload(testWebhookSecret, payload, time.Now().Add(-time.Hour)))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "stale signatures are rejected")

	rec = postWebhook(router, payload, signPayload(testWebhookSecret, payload, time.Now()))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())

	rec = postWebhook(router, payload, signPayload(testWebhookSecret, payload, time.Now()))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, store.activated)

	rec = do(t, router, admin, http.MethodGet, "/api/billing/subscription", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sub Subscription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	assert.Equal(t, SubscriptionActive, sub.Status)
}

func TestCheckoutHandler(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, admin, http.MethodPost, "/api/billing/checkout", checkoutRequest{Plan: "Pro"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"url":"https://checkout.stripe.test/cs_test_1"}`, rec.Body.String())

	rec = do(t, router, admin, http.MethodPost, "/api/billing/checkout", checkoutRequest{Plan: "platinum"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvoiceHandlers(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, patient, http.MethodPost, "/api/invoices/", InvoiceRequest{PatientID: "pat-1", AmountCents: 100})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(t, router, admin, http.MethodPost, "/api/invoices/", InvoiceRequest{PatientID: "pat-1", AmountCents: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, admin, http.MethodPost, "/api/invoices/", InvoiceRequest{PatientID: "pat-1", AmountCents: 12500, Description: "consultation"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var inv Invoice
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inv))
	assert.Equal(t, "usd", inv.Currency)
	assert.Equal(t, InvoiceOpen, inv.Status)

	rec = do(t, router, other, http.MethodGet, "/api/invoices/"+inv.ID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, other, http.MethodGet, "/api/invoices/?patient_id=pat-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"invoices":[]}`, rec.Body.String())

	rec = do(t, router, patient, http.MethodPost, "/api/invoices/"+inv.ID+"/pay", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(t, router, admin, http.MethodPost, "/api/invoices/"+inv.ID+"/pay", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, router, admin, http.MethodPost, "/api/invoices/"+inv.ID+"/pay", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, patient, http.MethodGet, "/api/invoices/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Invoices []Invoice `json:"invoices"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Invoices, 1)
	assert.Equal(t, InvoicePaid, body.Invoices[0].Status)
}
