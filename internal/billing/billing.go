// Package billing handles clinic subscriptions through Stripe and the
// invoices clinics raise for patient visits.
package billing

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound        = errors.New("billing: not found")
	ErrUnknownPlan     = errors.New("billing: unknown plan")
	ErrInvalidRequest  = errors.New("billing: invalid request")
	ErrInvoiceNotOpen  = errors.New("billing: invoice is not open")
	ErrForbidden       = errors.New("billing: forbidden")
	ErrBillingDisabled = errors.New("billing: stripe not configured")
)

type Plan string

const (
	PlanBasic      Plan = "basic"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

func ParsePlan(raw string) (Plan, error) {
	switch p := Plan(strings.ToLower(strings.TrimSpace(raw))); p {
	case PlanBasic, PlanPro, PlanEnterprise:
		return p, nil
	default:
		return "", ErrUnknownPlan
	}
}

// PriceTable maps plans to Stripe price IDs.
type PriceTable map[Plan]string

// PlanFor is the reverse lookup used when Stripe reports a price change.
func (t PriceTable) PlanFor(priceID string) (Plan, bool) {
	for plan, id := range t {
		if id != "" && id == priceID {
			return plan, true
		}
	}
	return "", false
}

type SubscriptionStatus string

const (
	SubscriptionInactive SubscriptionStatus = "inactive"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Subscription is the single billing subscription of a clinic.
type Subscription struct {
	OrgID                string             `json:"org_id"`
	Plan                 Plan               `json:"plan,omitempty"`
	Status               SubscriptionStatus `json:"status"`
	StripeCustomerID     string             `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string             `json:"stripe_subscription_id,omitempty"`
	CurrentPeriodEnd     *time.Time         `json:"current_period_end,omitempty"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

type InvoiceStatus string

const (
	InvoiceOpen InvoiceStatus = "open"
	InvoicePaid InvoiceStatus = "paid"
	InvoiceVoid InvoiceStatus = "void"
)

// Invoice is a charge to a patient for a visit.
type Invoice struct {
	ID            string        `json:"id"`
	OrgID         string        `json:"org_id"`
	PatientID     string        `json:"patient_id"`
	AppointmentID string        `json:"appointment_id,omitempty"`
	Description   string        `json:"description,omitempty"`
	AmountCents   int64         `json:"amount_cents"`
	Currency      string        `json:"currency"`
	Status        InvoiceStatus `json:"status"`
	IssuedAt      time.Time     `json:"issued_at"`
	PaidAt        *time.Time    `json:"paid_at,omitempty"`
}
