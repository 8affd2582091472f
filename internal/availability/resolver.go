// Package availability computes bookable appointment start times for a
// provider on a date.
//
// Computing availability never holds a slot. Two callers can see the same
// open time; the appointments store rejects the second write.
package availability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinic-portal/internal/observability/metrics"
	"github.com/wolfman30/clinic-portal/pkg/logging"
)

var (
	// ErrAvailabilityIndeterminate is returned under PolicyPropagate when the
	// reservation lookup fails.
	ErrAvailabilityIndeterminate = errors.New("availability: indeterminate")
	ErrInvalidDate               = errors.New("availability: invalid date")
	ErrMissingProvider           = errors.New("availability: provider id required")
)

const DateLayout = "2006-01-02"

// ReservationLookup returns the HH:MM start times of active (not cancelled)
// appointments for a provider of one organization on a date.
type ReservationLookup interface {
	ReservedTimes(ctx context.Context, orgID, providerID, date string) ([]string, error)
}

// LookupFunc adapts a function to ReservationLookup.
type LookupFunc func(ctx context.Context, orgID, providerID, date string) ([]string, error)

func (f LookupFunc) ReservedTimes(ctx context.Context, orgID, providerID, date string) ([]string, error) {
	return f(ctx, orgID, providerID, date)
}

// LookupErrorPolicy decides what a failed reservation lookup means.
type LookupErrorPolicy string

const (
	PolicyAssumeAvailable   LookupErrorPolicy = "assume_available"
	PolicyAssumeUnavailable LookupErrorPolicy = "assume_unavailable"
	PolicyPropagate         LookupErrorPolicy = "propagate"
)

// ParsePolicy maps a config string to a policy, defaulting to
// PolicyAssumeAvailable.
func ParsePolicy(raw string) (LookupErrorPolicy, error) {
	switch LookupErrorPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PolicyAssumeAvailable:
		return PolicyAssumeAvailable, nil
	case PolicyAssumeUnavailable:
		return PolicyAssumeUnavailable, nil
	case PolicyPropagate:
		return PolicyPropagate, nil
	default:
		return "", fmt.Errorf("availability: unknown lookup error policy %q", raw)
	}
}

// Query identifies one resolution. An empty Policy uses the resolver default.
type Query struct {
	OrgID      string
	ProviderID string
	Date       string
	Grid       Grid
	Policy     LookupErrorPolicy
}

// Result is the outcome of one resolution. Degraded is set when the lookup
// failed and a fallback policy produced Slots.
type Result struct {
	ProviderID string   `json:"provider_id"`
	Date       string   `json:"date"`
	Slots      []string `json:"slots"`
	Degraded   bool     `json:"degraded,omitempty"`
}

// Resolver subtracts reserved times from a grid.
type Resolver struct {
	lookup  ReservationLookup
	policy  LookupErrorPolicy
	logger  *logging.Logger
	metrics *metrics.SchedulingMetrics
}

func NewResolver(lookup ReservationLookup, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{
		lookup: lookup,
		policy: PolicyAssumeAvailable,
		logger: logger.Named("availability"),
	}
}

// WithPolicy sets the default policy for queries that leave Policy empty.
func (r *Resolver) WithPolicy(policy LookupErrorPolicy) *Resolver {
	if policy != "" {
		r.policy = policy
	}
	return r
}

func (r *Resolver) WithMetrics(m *metrics.SchedulingMetrics) *Resolver {
	r.metrics = m
	return r
}

// Resolve performs exactly one reservation lookup and returns the grid minus
// the reserved times.
func (r *Resolver) Resolve(ctx context.Context, q Query) (*Result, error) {
	providerID := strings.TrimSpace(q.ProviderID)
	if providerID == "" {
		return nil, ErrMissingProvider
	}
	if _, err := time.Parse(DateLayout, q.Date); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, q.Date)
	}
	if err := q.Grid.Validate(); err != nil {
		return nil, err
	}
	policy := q.Policy
	if policy == "" {
		policy = r.policy
	}

	slots := q.Grid.Slots()
	result := &Result{ProviderID: providerID, Date: q.Date}

	reserved, err := r.lookup.ReservedTimes(ctx, q.OrgID, providerID, q.Date)
	if err != nil {
		r.metrics.ObserveLookupFailure(string(policy))
		r.logger.Warn("reservation lookup failed",
			"org_id", q.OrgID,
			"provider_id", providerID,
			"date", q.Date,
			"policy", policy,
			"error", err,
		)
		switch policy {
		case PolicyPropagate:
			return nil, fmt.Errorf("%w: %w", ErrAvailabilityIndeterminate, err)
		case PolicyAssumeUnavailable:
			result.Slots = []string{}
		default:
			result.Slots = slots
		}
		result.Degraded = true
		r.metrics.ObserveLookup(true)
		return result, nil
	}

	result.Slots = Exclude(slots, reserved)
	r.metrics.ObserveLookup(false)
	return result, nil
}
