package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/clinic-portal/internal/appointments"
	"github.com/wolfman30/clinic-portal/internal/billing"
	"github.com/wolfman30/clinic-portal/internal/clinic"
	"github.com/wolfman30/clinic-portal/internal/compliance"
	"github.com/wolfman30/clinic-portal/internal/documents"
	httpmiddleware "github.com/wolfman30/clinic-portal/internal/http/middleware"
	"github.com/wolfman30/clinic-portal/internal/httpx"
	"github.com/wolfman30/clinic-portal/internal/messaging"
	"github.com/wolfman30/clinic-portal/internal/notify"
	"github.com/wolfman30/clinic-portal/internal/observability/metrics"
	"github.com/wolfman30/clinic-portal/internal/prescriptions"
	"github.com/wolfman30/clinic-portal/internal/tenancy"
	"github.com/wolfman30/clinic-portal/pkg/logging"
)

// Config holds router configuration. Nil handlers leave their routes unmounted.
type Config struct {
	Logger      *logging.Logger
	HTTPMetrics *metrics.HTTPMetrics
	JWTSecret   string

	AppointmentsHandler  *appointments.Handler
	PrescriptionsHandler *prescriptions.Handler
	MessagesHandler      *messaging.Handler
	NotificationsHandler *notify.Handler
	BillingHandler       *billing.Handler
	DocumentsHandler     *documents.Handler
	AuditHandler         *compliance.Handler
	ClinicHandler        *clinic.Handler
	ClinicStatsHandler   *clinic.StatsHandler
	ClinicDashboard      *clinic.DashboardHandler

	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	RateLimiter        *httpmiddleware.RateLimiter
}

var (
	staff      = []tenancy.Role{tenancy.RoleDoctor, tenancy.RoleAdmin}
	doctorOnly = []tenancy.Role{tenancy.RoleDoctor}
	adminOnly  = []tenancy.Role{tenancy.RoleAdmin}
)

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger, cfg.HTTPMetrics))
	}
	if cfg.RateLimiter != nil {
		r.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
	}

	// Public endpoints (webhooks, health checks)
	r.Group(func(public chi.Router) {
		public.Get("/health", health)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.BillingHandler != nil {
			public.Post("/webhooks/stripe", cfg.BillingHandler.StripeWebhook)
		}
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(httpmiddleware.Authenticate(cfg.JWTSecret))

		// Tenant-scoped routes
		api.Group(func(tenant chi.Router) {
			tenant.Use(requireOrg)
			mountTenantRoutes(tenant, cfg)
		})

		// Super-admin routes acting on any clinic
		api.Route("/admin/clinics/{orgID}", func(admin chi.Router) {
			admin.Use(httpmiddleware.RequireRole())
			admin.Use(actAsOrg)
			if cfg.ClinicHandler != nil {
				admin.Get("/config", cfg.ClinicHandler.GetConfig)
				admin.Put("/config", cfg.ClinicHandler.UpdateConfig)
			}
			if cfg.ClinicStatsHandler != nil {
				admin.Get("/stats", cfg.ClinicStatsHandler.GetStats)
			}
			if cfg.ClinicDashboard != nil {
				admin.Get("/dashboard", cfg.ClinicDashboard.GetDashboard)
			}
			if cfg.AppointmentsHandler != nil {
				admin.Get("/appointments", cfg.AppointmentsHandler.List)
			}
			if cfg.AuditHandler != nil {
				admin.Get("/audit", cfg.AuditHandler.List)
			}
			if cfg.BillingHandler != nil {
				admin.Get("/subscription", cfg.BillingHandler.Subscription)
			}
		})
	})

	return r
}

func mountTenantRoutes(r chi.Router, cfg *Config) {
	if h := cfg.AppointmentsHandler; h != nil {
		r.Route("/appointments", func(r chi.Router) {
			r.Get("/availability", h.Availability)
			r.Post("/", h.Book)
			r.Get("/", h.List)
			r.Get("/{id}", h.Get)
			r.Post("/{id}/cancel", h.Cancel)
			r.With(httpmiddleware.RequireRole(staff...)).Patch("/{id}/status", h.UpdateStatus)
		})
	}

	if h := cfg.PrescriptionsHandler; h != nil {
		r.Route("/prescriptions", func(r chi.Router) {
			r.With(httpmiddleware.RequireRole(doctorOnly...)).Post("/", h.Issue)
			r.Get("/", h.List)
			r.Get("/{id}", h.Get)
			r.With(httpmiddleware.RequireRole(doctorOnly...)).Post("/{id}/revoke", h.Revoke)
		})
	}

	if h := cfg.MessagesHandler; h != nil {
		r.Route("/messages", func(r chi.Router) {
			r.Post("/", h.Send)
			r.Get("/", h.Inbox)
			r.Get("/{userID}", h.Conversation)
			r.Post("/{userID}/read", h.MarkRead)
		})
	}

	if h := cfg.NotificationsHandler; h != nil {
		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", h.List)
			r.Post("/read-all", h.MarkAllRead)
			r.Post("/{id}/read", h.MarkRead)
		})
	}

	if h := cfg.BillingHandler; h != nil {
		r.Route("/billing", func(r chi.Router) {
			r.Use(httpmiddleware.RequireRole(adminOnly...))
			r.Post("/checkout", h.Checkout)
			r.Get("/subscription", h.Subscription)
		})
		r.Route("/invoices", func(r chi.Router) {
			r.With(httpmiddleware.RequireRole(staff...)).Post("/", h.CreateInvoice)
			r.Get("/", h.ListInvoices)
			r.Get("/{id}", h.GetInvoice)
			r.With(httpmiddleware.RequireRole(staff...)).Post("/{id}/pay", h.PayInvoice)
		})
	}

	if h := cfg.DocumentsHandler; h != nil {
		r.Route("/documents", func(r chi.Router) {
			r.Get("/", h.List)
			r.Post("/upload-url", h.UploadURL)
			r.Get("/download-url", h.DownloadURL)
		})
	}

	r.Route("/clinic", func(r chi.Router) {
		if cfg.ClinicHandler != nil {
			r.Get("/config", cfg.ClinicHandler.GetConfig)
			r.With(httpmiddleware.RequireRole(adminOnly...)).Put("/config", cfg.ClinicHandler.UpdateConfig)
		}
		r.Group(func(r chi.Router) {
			r.Use(httpmiddleware.RequireRole(adminOnly...))
			if cfg.ClinicStatsHandler != nil {
				r.Get("/stats", cfg.ClinicStatsHandler.GetStats)
			}
			if cfg.ClinicDashboard != nil {
				r.Get("/dashboard", cfg.ClinicDashboard.GetDashboard)
			}
		})
	})

	if cfg.AuditHandler != nil {
		r.With(httpmiddleware.RequireRole(adminOnly...)).Get("/compliance/audit", cfg.AuditHandler.List)
	}
}

func health(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
