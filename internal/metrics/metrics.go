// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orderpay"

// ServerMetrics tracks HTTP traffic.
type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

// NewServerMetrics creates and registers the HTTP collectors.
func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "method", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 60000},
	}, []string{"handler", "method"})

	reg.MustRegister(requests, latency)
	return &ServerMetrics{Requests: requests, LatencyMS: latency}
}

// PaymentMetrics tracks payment resolutions and retry scheduling.
// A nil *PaymentMetrics is valid and records nothing.
type PaymentMetrics struct {
	Resolutions        *prometheus.CounterVec
	GatewayAttempts    prometheus.Histogram
	RetriesScheduled   prometheus.Counter
	SchedulingFailures prometheus.Counter
	RetriesDropped     *prometheus.CounterVec
}

// NewPaymentMetrics creates and registers the payment collectors.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	m := &PaymentMetrics{
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "resolutions_total",
			Help:      "Payment attempts resolved, by resulting status and gateway outcome.",
		}, []string{"status", "outcome", "trigger"}),
		GatewayAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "gateway_attempts",
			Help:      "Transport-level attempts used per gateway charge.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		RetriesScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "retries_scheduled_total",
			Help:      "Delayed payment retries scheduled.",
		}),
		SchedulingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "retry_scheduling_failures_total",
			Help:      "Failed payments whose retry could not be scheduled.",
		}),
		RetriesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "retries_dropped_total",
			Help:      "Retry jobs discarded without charging, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(m.Resolutions, m.GatewayAttempts, m.RetriesScheduled, m.SchedulingFailures, m.RetriesDropped)
	return m
}

// ObserveResolution records one resolved payment attempt.
func (m *PaymentMetrics) ObserveResolution(status, outcome, trigger string, gatewayAttempts int) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(status, outcome, trigger).Inc()
	if gatewayAttempts > 0 {
		m.GatewayAttempts.Observe(float64(gatewayAttempts))
	}
}

// RetryScheduled records a scheduled retry.
func (m *PaymentMetrics) RetryScheduled() {
	if m == nil {
		return
	}
	m.RetriesScheduled.Inc()
}

// SchedulingFailed records a retry that could not be scheduled.
func (m *PaymentMetrics) SchedulingFailed() {
	if m == nil {
		return
	}
	m.SchedulingFailures.Inc()
}

// RetryDropped records a discarded retry job.
func (m *PaymentMetrics) RetryDropped(reason string) {
	if m == nil {
		return
	}
	m.RetriesDropped.WithLabelValues(reason).Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
