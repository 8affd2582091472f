package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"go.opentelemetry.io/otel"

	"github.com/wolfman30/clinic-portal/internal/events"
	"github.com/wolfman30/clinic-portal/pkg/logging"
)

var billingTracer = otel.Tracer("clinic.internal.billing")

type checkoutCreator interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type subscriptionStore interface {
	GetSubscription(ctx context.Context, orgID string) (*Subscription, error)
	ActivateSubscription(ctx context.Context, sub *Subscription) error
	UpdateSubscription(ctx context.Context, u SubscriptionUpdate) (*Subscription, error)
}

type processedTracker interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// StripeConfig configures subscription checkout.
type StripeConfig struct {
	SecretKey  string
	Prices     PriceTable
	SuccessURL string
	CancelURL  string
}

// SubscriptionService starts Stripe checkouts and applies Stripe webhook
// events to the stored subscription.
type SubscriptionService struct {
	checkout   checkoutCreator
	store      subscriptionStore
	processed  processedTracker
	prices     PriceTable
	successURL string
	cancelURL  string
	logger     *logging.Logger
}

func NewSubscriptionService(cfg StripeConfig, store subscriptionStore, processed processedTracker, logger *logging.Logger) *SubscriptionService {
	if logger == nil {
		logger = logging.Default()
	}
	s := &SubscriptionService{
		store:      store,
		processed:  processed,
		prices:     cfg.Prices,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		logger:     logger.Named("billing"),
	}
	if cfg.SecretKey != "" {
		s.checkout = &session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: cfg.SecretKey}
	}
	return s
}

// WithCheckoutClient overrides the Stripe checkout client (for testing).
func (s *SubscriptionService) WithCheckoutClient(c checkoutCreator) *SubscriptionService {
	s.checkout = c
	return s
}

// CreateCheckout starts a subscription-mode Checkout Session for orgID and
// returns its hosted URL. The org and plan travel as metadata so the webhook
// can attribute the completed session.
func (s *SubscriptionService) CreateCheckout(ctx context.Context, orgID string, plan Plan, customerEmail string) (string, error) {
	ctx, span := billingTracer.Start(ctx, "billing.create_checkout")
	defer span.End()

	if s.checkout == nil {
		return "", ErrBillingDisabled
	}
	priceID := s.prices[plan]
	if priceID == "" {
		return "", fmt.Errorf("%w: %s has no price", ErrUnknownPlan, plan)
	}
	metadata := map[string]string{"org_id": orgID, "plan": string(plan)}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(s.successURL),
		CancelURL:         stripe.String(s.cancelURL),
		ClientReferenceID: stripe.String(orgID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{Metadata: metadata},
		Metadata:         metadata,
	}
	if customerEmail != "" {
		params.CustomerEmail = stripe.String(customerEmail)
	}
	params.Context = ctx

	sess, err := s.checkout.New(params)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("billing: create checkout session: %w", err)
	}
	s.logger.Info("checkout session created", "org_id", orgID, "plan", plan, "session_id", sess.ID)
	return sess.URL, nil
}

// Subscription returns the org's subscription, or an inactive placeholder
// when the org never subscribed.
func (s *SubscriptionService) Subscription(ctx context.Context, orgID string) (*Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, orgID)
	if errors.Is(err, ErrNotFound) {
		return &Subscription{OrgID: orgID, Status: SubscriptionInactive}, nil
	}
	return sub, err
}

// HandleEvent applies one verified Stripe event. Redelivered events are
// skipped. Returning an error makes Stripe retry.
func (s *SubscriptionService) HandleEvent(ctx context.Context, event stripe.Event) error {
	ctx, span := billingTracer.Start(ctx, "billing.handle_event")
	defer span.End()

	if event.ID == "" || event.Data == nil {
		return fmt.Errorf("%w: malformed event", ErrInvalidRequest)
	}
	if s.processed != nil {
		seen, err := s.processed.AlreadyProcessed(ctx, events.ProviderStripe, event.ID)
		if err != nil {
			return err
		}
		if seen {
			s.logger.Debug("skipping duplicate stripe event", "event_id", event.ID)
			return nil
		}
	}

	var err error
	switch event.Type {
	case "checkout.session.completed":
		err = s.checkoutCompleted(ctx, event.Data.Raw)
	case "customer.subscription.updated", "customer.subscription.deleted":
		err = s.subscriptionChanged(ctx, event.Data.Raw)
	case "invoice.payment_failed":
		err = s.paymentFailed(ctx, event.Data.Raw)
	default:
		s.logger.Debug("ignoring stripe event", "type", event.Type)
	}
	if err != nil {
		span.RecordError(err)
		return err
	}

	if s.processed != nil {
		if _, err := s.processed.MarkProcessed(ctx, events.ProviderStripe, event.ID); err != nil {
			s.logger.Warn("failed to mark stripe event processed", "error", err, "event_id", event.ID)
		}
	}
	return nil
}

func (s *SubscriptionService) checkoutCompleted(ctx context.Context, raw json.RawMessage) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return fmt.Errorf("billing: decode checkout session: %w", err)
	}
	if sess.Mode != stripe.CheckoutSessionModeSubscription {
		return nil
	}
	orgID := sess.Metadata["org_id"]
	if orgID == "" {
		orgID = sess.ClientReferenceID
	}
	if orgID == "" {
		// Nothing to attribute; acknowledge so Stripe stops retrying.
		s.logger.Warn("checkout session without org", "session_id", sess.ID)
		return nil
	}
	plan, err := ParsePlan(sess.Metadata["plan"])
	if err != nil {
		s.logger.Warn("checkout session with unknown plan", "session_id", sess.ID, "plan", sess.Metadata["plan"])
	}

	sub := &Subscription{OrgID: orgID, Plan: plan}
	if sess.Customer != nil {
		sub.StripeCustomerID = sess.Customer.ID
	}
	if sess.Subscription != nil {
		sub.StripeSubscriptionID = sess.Subscription.ID
		sub.CurrentPeriodEnd = unixTime(sess.Subscription.CurrentPeriodEnd)
	}
	if err := s.store.ActivateSubscription(ctx, sub); err != nil {
		return err
	}
	s.logger.Info("subscription activated", "org_id", orgID, "plan", plan)
	return nil
}

func (s *SubscriptionService) subscriptionChanged(ctx context.Context, raw json.RawMessage) error {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(raw, &stripeSub); err != nil {
		return fmt.Errorf("billing: decode subscription: %w", err)
	}
	update := SubscriptionUpdate{
		StripeSubscriptionID: stripeSub.ID,
		Status:               statusFromStripe(stripeSub.Status),
		CurrentPeriodEnd:     unixTime(stripeSub.CurrentPeriodEnd),
	}
	if stripeSub.Items != nil && len(stripeSub.Items.Data) > 0 && stripeSub.Items.Data[0].Price != nil {
		if plan, ok := s.prices.PlanFor(stripeSub.Items.Data[0].Price.ID); ok {
			update.Plan = plan
		}
	}
	return s.applyUpdate(ctx, update)
}

func (s *SubscriptionService) paymentFailed(ctx context.Context, raw json.RawMessage) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return fmt.Errorf("billing: decode invoice: %w", err)
	}
	if inv.Subscription == nil || inv.Subscription.ID == "" {
		return nil
	}
	return s.applyUpdate(ctx, SubscriptionUpdate{
		StripeSubscriptionID: inv.Subscription.ID,
		Status:               SubscriptionPastDue,
	})
}

func (s *SubscriptionService) applyUpdate(ctx context.Context, u SubscriptionUpdate) error {
	sub, err := s.store.UpdateSubscription(ctx, u)
	if errors.Is(err, ErrNotFound) {
		// Events can arrive before checkout.session.completed; the
		// completion event carries the full state.
		s.logger.Warn("stripe event for unknown subscription", "stripe_subscription_id", u.StripeSubscriptionID)
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Info("subscription updated", "org_id", sub.OrgID, "status", sub.Status)
	return nil
}

func statusFromStripe(status stripe.SubscriptionStatus) SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return SubscriptionActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return SubscriptionPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return SubscriptionCanceled
	default:
		return SubscriptionInactive
	}
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
