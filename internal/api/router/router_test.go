package router

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-portal/internal/billing"
	"github.com/wolfman30/clinic-portal/internal/clinic"
	httpmiddleware "github.com/wolfman30/clinic-portal/internal/http/middleware"
	"github.com/wolfman30/clinic-portal/internal/prescriptions"
	"github.com/wolfman30/clinic-portal/internal/tenancy"
	"github.com/wolfman30/clinic-portal/pkg/logging"
)

const testSecret = "router-test-secret"

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := logging.NewWithWriter(io.Discard, "error", "json")
	cfg := &Config{
		Logger:               logger,
		JWTSecret:            testSecret,
		ClinicHandler:        clinic.NewHandler(clinic.NewStore(client, clinic.StandardDefaults), logger),
		PrescriptionsHandler: prescriptions.NewHandler(nil, logger),
		BillingHandler:       billing.NewHandler(nil, nil, "", logger),
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "# metrics")
		}),
	}
	return New(cfg)
}

func token(t *testing.T, p tenancy.Principal) string {
	t.Helper()
	tok, err := httpmiddleware.IssueToken(testSecret, p, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func serve(t *testing.T, router http.Handler, method, path string, p *tenancy.Principal) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader("{}"))
	if p != nil {
		req.Header.Set("Authorization", "Bearer "+token(t, *p))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

var (
	patient    = tenancy.Principal{UserID: "pat-1", OrgID: "org-1", Role: tenancy.RolePatient}
	admin      = tenancy.Principal{UserID: "adm-1", OrgID: "org-1", Role: tenancy.RoleAdmin}
	superAdmin = tenancy.Principal{UserID: "root", Role: tenancy.RoleSuperAdmin}
)

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	rr := serve(t, router, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}

	rr = serve(t, router, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "# metrics") {
		t.Fatalf("metrics not mounted: %d %s", rr.Code, rr.Body.String())
	}
}

func TestRouterRequiresAuth(t *testing.T) {
	router := newTestRouter(t)

	rr := serve(t, router, http.MethodGet, "/api/clinic/config", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRouterClinicConfig(t *testing.T) {
	router := newTestRouter(t)

	rr := serve(t, router, http.MethodGet, "/api/clinic/config", &patient)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var cfg clinic.Config
	if err := json.NewDecoder(rr.Body).Decode(&cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.OrgID != "org-1" || cfg.WorkStart != 9 || cfg.WorkEnd != 17 {
		t.Fatalf("unexpected config %+v", cfg)
	}

	rr = serve(t, router, http.MethodPut, "/api/clinic/config", &patient)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("patients cannot update config, got %d", rr.Code)
	}
}

func TestRouterRoleGuards(t *testing.T) {
	router := newTestRouter(t)

	rr := serve(t, router, http.MethodPost, "/api/prescriptions/", &patient)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("patients cannot issue prescriptions, got %d", rr.Code)
	}
	rr = serve(t, router, http.MethodPost, "/api/prescriptions/abc/revoke", &admin)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("admins cannot revoke prescriptions, got %d", rr.Code)
	}
	rr = serve(t, router, http.MethodPost, "/api/billing/checkout", &patient)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("patients cannot start checkout, got %d", rr.Code)
	}
}

func TestRouterSuperAdminClinicRoutes(t *testing.T) {
	router := newTestRouter(t)

	rr := serve(t, router, http.MethodGet, "/api/admin/clinics/org-9/config", &admin)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("clinic admins cannot use super-admin routes, got %d", rr.Code)
	}

	rr = serve(t, router, http.MethodGet, "/api/admin/clinics/org-9/config", &superAdmin)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var cfg clinic.Config
	if err := json.NewDecoder(rr.Body).Decode(&cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.OrgID != "org-9" {
		t.Fatalf("expected org-9 config, got %q", cfg.OrgID)
	}

	rr = serve(t, router, http.MethodGet, "/api/clinic/config", &superAdmin)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("super admins need an org on tenant routes, got %d", rr.Code)
	}
}

func TestRouterStripeWebhookIsPublic(t *testing.T) {
	router := newTestRouter(t)

	rr := serve(t, router, http.MethodPost, "/webhooks/stripe", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a signing secret, got %d", rr.Code)
	}
}
