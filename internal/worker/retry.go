// Package worker runs background payment retries.
package worker

import (
	"context"
	"log"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"golang.org/x/sync/errgroup"

	"orderpay/internal/domain"
)

// JobQueue is a delayed retry queue that can hand out due jobs. A claimed
// job stays in the queue until it is acknowledged.
type JobQueue interface {
	ScheduleAfter(ctx context.Context, delay time.Duration, job domain.RetryJob) error
	ClaimDue(ctx context.Context, limit int64) ([]domain.RetryJob, error)
	Ack(ctx context.Context, jobID string) error
}

// RetryHandler executes one retry job. An error asks for redelivery.
type RetryHandler interface {
	Retry(ctx context.Context, job domain.RetryJob) error
}

// RetryWorkerConfig configures a RetryWorker.
type RetryWorkerConfig struct {
	Interval     time.Duration
	BatchSize    int64
	RequeueDelay time.Duration // Wait before redelivering a job whose handler failed
}

// RetryWorker polls the queue and runs due retries. Jobs for different
// orders in one batch run concurrently.
type RetryWorker struct {
	queue   JobQueue
	handler RetryHandler
	nrApp   *newrelic.Application
	cfg     RetryWorkerConfig
}

// NewRetryWorker creates a new RetryWorker. nrApp may be nil.
func NewRetryWorker(queue JobQueue, handler RetryHandler, nrApp *newrelic.Application, cfg RetryWorkerConfig) *RetryWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.RequeueDelay <= 0 {
		cfg.RequeueDelay = 30 * time.Second
	}
	return &RetryWorker{queue: queue, handler: handler, nrApp: nrApp, cfg: cfg}
}

// Run polls until ctx is cancelled.
func (w *RetryWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	log.Printf("[RETRY] Worker started (interval=%s, batch=%d)", w.cfg.Interval, w.cfg.BatchSize)

	for {
		select {
		case <-ctx.Done():
			log.Println("[RETRY] Worker stopped")
			return nil
		case <-ticker.C:
			if _, err := w.ProcessDue(ctx); err != nil {
				log.Printf("[RETRY] Poll failed: %v", err)
			}
		}
	}
}

// ProcessDue claims one batch of due jobs and runs them. It returns the
// number of jobs claimed.
func (w *RetryWorker) ProcessDue(ctx context.Context) (int, error) {
	jobs, err := w.queue.ClaimDue(ctx, w.cfg.BatchSize)
	if err != nil && len(jobs) == 0 {
		return 0, err
	}

	g := new(errgroup.Group)
	for _, job := range jobs {
		g.Go(func() error {
			w.process(ctx, job)
			return nil
		})
	}
	_ = g.Wait()

	return len(jobs), err
}

func (w *RetryWorker) process(ctx context.Context, job domain.RetryJob) {
	txn := w.nrApp.StartTransaction("payment-retry")
	defer txn.End()
	txn.AddAttribute("orderId", job.OrderID)
	txn.AddAttribute("attempt", job.Attempt)

	jobCtx := newrelic.NewContext(context.WithoutCancel(ctx), txn)

	log.Printf("[RETRY] Running job %s for order %s (attempt %d)", job.ID, job.OrderID, job.Attempt)

	if err := w.handler.Retry(jobCtx, job); err != nil {
		txn.NoticeError(err)
		log.Printf("[RETRY] Job %s for order %s failed: %v; redelivering in %s", job.ID, job.OrderID, err, w.cfg.RequeueDelay)

		if err := w.queue.ScheduleAfter(jobCtx, w.cfg.RequeueDelay, job); err != nil {
			log.Printf("[RETRY] Could not redeliver job %s for order %s: %v; it returns after the visibility timeout", job.ID, job.OrderID, err)
		}
		return
	}

	if err := w.queue.Ack(jobCtx, job.ID); err != nil {
		log.Printf("[RETRY] Failed to ack job %s for order %s: %v", job.ID, job.OrderID, err)
	}
}
