package service

import (
	"context"
	"log"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"

	"orderpay/internal/domain"
	"orderpay/internal/gateway"
	"orderpay/internal/metrics"
)

// Trigger says what started a payment attempt.
type Trigger string

const (
	TriggerInteractive Trigger = "interactive"
	TriggerRetry       Trigger = "retry"
)

// EventType identifies a reported payment event.
type EventType string

const (
	EventPaymentPaid       EventType = "PAYMENT_PAID"
	EventPaymentFailed     EventType = "PAYMENT_FAILED"
	EventRetryScheduled    EventType = "RETRY_SCHEDULED"
	EventSchedulingFailure EventType = "RETRY_SCHEDULING_FAILED"
	EventRetryDropped      EventType = "RETRY_DROPPED"
)

// Resolution describes one persisted payment outcome.
type Resolution struct {
	OrderID         string
	TransactionID   string
	Status          domain.OrderStatus
	Outcome         gateway.Outcome
	Reason          string
	Attempt         int
	GatewayAttempts int
	Trigger         Trigger
	ResolvedAt      time.Time
}

// OutcomeReporter publishes payment outcomes to logs, New Relic and
// Prometheus. Logs and persisted state are the only user-visible channels.
type OutcomeReporter struct {
	app     *newrelic.Application
	metrics *metrics.PaymentMetrics
}

// NewOutcomeReporter creates a new OutcomeReporter. Both arguments may be nil.
func NewOutcomeReporter(app *newrelic.Application, m *metrics.PaymentMetrics) *OutcomeReporter {
	return &OutcomeReporter{app: app, metrics: m}
}

// Resolved reports a persisted resolution.
func (r *OutcomeReporter) Resolved(ctx context.Context, res Resolution) {
	eventType := EventPaymentFailed
	if res.Status == domain.OrderStatusPaid {
		eventType = EventPaymentPaid
	}

	log.Printf("[PAYMENT] Type=%s, Order=%s, Transaction=%s, Status=%s, Outcome=%s, Attempt=%d, Trigger=%s, Reason=%q",
		eventType, res.OrderID, res.TransactionID, res.Status, res.Outcome, res.Attempt, res.Trigger, res.Reason)

	if r == nil {
		return
	}

	r.metrics.ObserveResolution(string(res.Status), res.Outcome.String(), string(res.Trigger), res.GatewayAttempts)

	if r.app != nil {
		r.app.RecordCustomEvent("PaymentResolution", map[string]interface{}{
			"orderId":         res.OrderID,
			"transactionId":   res.TransactionID,
			"status":          string(res.Status),
			"outcome":         res.Outcome.String(),
			"attempt":         res.Attempt,
			"gatewayAttempts": res.GatewayAttempts,
			"trigger":         string(res.Trigger),
		})
	}
}

// RetryScheduled reports a scheduled retry.
func (r *OutcomeReporter) RetryScheduled(ctx context.Context, job domain.RetryJob, runAt time.Time) {
	log.Printf("[SCHEDULER] Type=%s, Order=%s, Job=%s, Attempt=%d, RunAt=%s",
		EventRetryScheduled, job.OrderID, job.ID, job.Attempt, runAt.Format(time.RFC3339))

	if r == nil {
		return
	}
	r.metrics.RetryScheduled()
}

// SchedulingFailed reports a failed order that will not be retried
// automatically. Operators must intervene.
func (r *OutcomeReporter) SchedulingFailed(ctx context.Context, job domain.RetryJob, err error) {
	log.Printf("[SCHEDULER] CRITICAL Type=%s, Order=%s, Attempt=%d, Error=%v: order stays failed without automatic retry",
		EventSchedulingFailure, job.OrderID, job.Attempt, err)

	if r == nil {
		return
	}
	r.metrics.SchedulingFailed()
	newrelic.FromContext(ctx).NoticeError(newrelic.Error{
		Message: err.Error(),
		Class:   "RetrySchedulingFailure",
		Attributes: map[string]interface{}{
			"orderId": job.OrderID,
			"attempt": job.Attempt,
		},
	})
}

// RetryDropped reports a retry job discarded without charging.
func (r *OutcomeReporter) RetryDropped(ctx context.Context, job domain.RetryJob, reason string) {
	log.Printf("[RETRY] Type=%s, Order=%s, Job=%s, Attempt=%d, Reason=%s",
		EventRetryDropped, job.OrderID, job.ID, job.Attempt, reason)

	if r == nil {
		return
	}
	r.metrics.RetryDropped(reason)
}
