package billing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/wolfman30/clinic-portal/internal/httpx"
	"github.com/wolfman30/clinic-portal/internal/tenancy"
	"github.com/wolfman30/clinic-portal/pkg/logging"
)

const maxWebhookBytes = 65536

type subscriptions interface {
	CreateCheckout(ctx context.Context, orgID string, plan Plan, customerEmail string) (string, error)
	Subscription(ctx context.Context, orgID string) (*Subscription, error)
	HandleEvent(ctx context.Context, event stripe.Event) error
}

type invoices interface {
	Create(ctx context.Context, p tenancy.Principal, req InvoiceRequest) (*Invoice, error)
	Get(ctx context.Context, p tenancy.Principal, id string) (*Invoice, error)
	List(ctx context.Context, p tenancy.Principal, patientID string, limit int) ([]Invoice, error)
	MarkPaid(ctx context.Context, p tenancy.Principal, id string) (*Invoice, error)
}

// Handler serves billing, invoice and Stripe webhook routes.
type Handler struct {
	subs          subscriptions
	invoices      invoices
	webhookSecret string
	logger        *logging.Logger
}

func NewHandler(subs subscriptions, inv invoices, webhookSecret string, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{subs: subs, invoices: inv, webhookSecret: webhookSecret, logger: logger}
}

type checkoutRequest struct {
	Plan  string `json:"plan"`
	Email string `json:"email,omitempty"`
}

// Checkout handles POST /api/billing/checkout.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	var req checkoutRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	plan, err := ParsePlan(req.Plan)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "plan must be basic, pro or enterprise")
		return
	}
	url, err := h.subs.CreateCheckout(r.Context(), p.OrgID, plan, strings.TrimSpace(req.Email))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"url": url})
}

// Subscription handles GET /api/billing/subscription.
func (h *Handler) Subscription(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	sub, err := h.subs.Subscription(r.Context(), p.OrgID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sub)
}

// CreateInvoice handles POST /api/invoices.
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	var req InvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	inv, err := h.invoices.Create(r.Context(), p, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, inv)
}

// ListInvoices handles GET /api/invoices?patient_id=&limit=.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	list, err := h.invoices.List(r.Context(), p, strings.TrimSpace(r.URL.Query().Get("patient_id")), httpx.QueryInt(r, "limit", 100, 500))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if list == nil {
		list = []Invoice{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"invoices": list})
}

func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	inv, err := h.invoices.Get(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, inv)
}

// PayInvoice handles POST /api/invoices/{id}/pay.
func (h *Handler) PayInvoice(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	inv, err := h.invoices.MarkPaid(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, inv)
}

// StripeWebhook handles POST /webhooks/stripe. The route is public; the
// Stripe-Signature header authenticates it.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if h.webhookSecret == "" {
		h.logger.Error("stripe webhook received but no signing secret is configured")
		httpx.WriteError(w, http.StatusServiceUnavailable, "webhook not configured")
		return
	}
	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), h.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.logger.Warn("rejected stripe webhook", "error", err)
		httpx.WriteError(w, http.StatusBadRequest, "invalid signature")
		return
	}
	if err := h.subs.HandleEvent(r.Context(), event); err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("stripe webhook failed", "error", err, "event_id", event.ID, "type", event.Type)
		httpx.WriteError(w, http.StatusInternalServerError, "webhook processing failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not found")
	case errors.Is(err, ErrForbidden):
		httpx.WriteError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, ErrInvoiceNotOpen):
		httpx.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrUnknownPlan):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrBillingDisabled):
		httpx.WriteError(w, http.StatusServiceUnavailable, "billing is not configured")
	default:
		h.logger.Error("billing request failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
