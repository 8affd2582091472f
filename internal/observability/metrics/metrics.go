package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics exposes counters/histograms for availability and booking flows.
type SchedulingMetrics struct {
	lookupsTotal        *prometheus.CounterVec
	lookupFailuresTotal *prometheus.CounterVec
	bookingsTotal       *prometheus.CounterVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		lookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "availability",
			Name:      "lookups_total",
			Help:      "Total availability resolutions",
		}, []string{"degraded"}),
		lookupFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Name:      "availability_lookup_failures_total",
			Help:      "Reservation lookups that failed, by applied policy",
		}, []string{"policy"}),
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "appointments",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.lookupsTotal, m.lookupFailuresTotal, m.bookingsTotal)
	return m
}

func (m *SchedulingMetrics) ObserveLookup(degraded bool) {
	if m == nil {
		return
	}
	m.lookupsTotal.WithLabelValues(boolLabel(degraded)).Inc()
}

func (m *SchedulingMetrics) ObserveLookupFailure(policy string) {
	if m == nil {
		return
	}
	m.lookupFailuresTotal.WithLabelValues(policy).Inc()
}

func (m *SchedulingMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

// RetryMetrics counts retry executor attempt outcomes per operation.
type RetryMetrics struct {
	attemptsTotal *prometheus.CounterVec
}

func NewRetryMetrics(reg prometheus.Registerer) *RetryMetrics {
	m := &RetryMetrics{
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Name:      "retry_attempts_total",
			Help:      "Retry executor attempt outcomes",
		}, []string{"operation", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.attemptsTotal)
	return m
}

func (m *RetryMetrics) ObserveRetryAttempt(operation, outcome string) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(operation, outcome).Inc()
}

// HTTPMetrics records request latency by route pattern.
type HTTPMetrics struct {
	latency *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.latency)
	return m
}

func (m *HTTPMetrics) ObserveRequest(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(method, route, status).Observe(seconds)
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
