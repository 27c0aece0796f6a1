package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	amqp "github.com/rabbitmq/amqp091-go"

	"orderpay/internal/domain"
)

// RetryHandler executes one retry job. An error asks for redelivery.
type RetryHandler interface {
	Retry(ctx context.Context, job domain.RetryJob) error
}

// JobScheduler reschedules a job whose handler failed.
type JobScheduler interface {
	ScheduleAfter(ctx context.Context, delay time.Duration, job domain.RetryJob) error
}

// Consumer runs retry jobs delivered to the work queue.
type Consumer struct {
	ch           *amqp.Channel
	scheduler    JobScheduler
	handler      RetryHandler
	nrApp        *newrelic.Application
	prefetch     int
	requeueDelay time.Duration
}

// NewConsumer creates a new Consumer. Jobs whose handler fails are
// rescheduled through scheduler after requeueDelay.
func NewConsumer(ch *amqp.Channel, scheduler JobScheduler, handler RetryHandler, nrApp *newrelic.Application, prefetch int, requeueDelay time.Duration) *Consumer {
	if prefetch <= 0 {
		prefetch = 10
	}
	if requeueDelay <= 0 {
		requeueDelay = 30 * time.Second
	}
	return &Consumer{
		ch:           ch,
		scheduler:    scheduler,
		handler:      handler,
		nrApp:        nrApp,
		prefetch:     prefetch,
		requeueDelay: requeueDelay,
	}
}

// Run consumes until ctx is cancelled or the channel closes.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ch.Qos(c.prefetch, 0, false); err != nil {
		return err
	}

	msgs, err := c.ch.Consume(
		WorkQueue, // queue
		"",        // consumer tag
		false,     // auto-ack
		false,     // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // args
	)
	if err != nil {
		return err
	}

	log.Printf("[RETRY] RabbitMQ consumer started on %s", WorkQueue)

	for {
		select {
		case <-ctx.Done():
			log.Println("[RETRY] RabbitMQ consumer stopped")
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	var job domain.RetryJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		log.Printf("[RETRY] Discarding undecodable message %s: %v", d.MessageId, err)
		_ = d.Reject(false)
		return
	}

	txn := c.nrApp.StartTransaction("payment-retry")
	defer txn.End()
	txn.AddAttribute("orderId", job.OrderID)
	txn.AddAttribute("attempt", job.Attempt)
	jobCtx := newrelic.NewContext(context.WithoutCancel(ctx), txn)

	log.Printf("[RETRY] Running job %s for order %s (attempt %d)", job.ID, job.OrderID, job.Attempt)

	if err := c.handler.Retry(jobCtx, job); err != nil {
		txn.NoticeError(err)
		log.Printf("[RETRY] Job %s for order %s failed: %v; redelivering in %s", job.ID, job.OrderID, err, c.requeueDelay)

		if err := c.scheduler.ScheduleAfter(jobCtx, c.requeueDelay, job); err != nil {
			log.Printf("[RETRY] Could not reschedule job %s: %v; returning it to the queue", job.ID, err)
			_ = d.Nack(false, true)
			return
		}
	}

	_ = d.Ack(false)
}
