package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"orderpay/internal/domain"
)

// ErrNotConfirmed is returned when the broker refuses a scheduled job.
var ErrNotConfirmed = errors.New("broker did not confirm retry job")

// Scheduler publishes retry jobs into per-delay TTL queues.
type Scheduler struct {
	ch  *amqp.Channel
	now func() time.Time

	mu       sync.Mutex
	declared map[string]bool
}

// NewScheduler creates a new Scheduler and puts ch into confirm mode.
func NewScheduler(ch *amqp.Channel) (*Scheduler, error) {
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("could not enable publisher confirms: %w", err)
	}
	return &Scheduler{ch: ch, now: time.Now, declared: make(map[string]bool)}, nil
}

// ScheduleAfter publishes job so that it reaches the work queue after delay.
// It returns once the broker has confirmed the message.
func (s *Scheduler) ScheduleAfter(ctx context.Context, delay time.Duration, job domain.RetryJob) error {
	if delay < time.Millisecond {
		delay = time.Millisecond
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.ScheduledAt = s.now().UTC()
	job.DueAt = job.ScheduledAt.Add(delay)

	msg, err := buildPublishing(job)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	queue := delayQueueName(delay)
	if !s.declared[queue] {
		_, err := s.ch.QueueDeclare(
			queue,                 // name
			true,                  // durable
			false,                 // delete when unused
			false,                 // exclusive
			false,                 // no-wait
			delayQueueArgs(delay), // arguments
		)
		if err != nil {
			return fmt.Errorf("could not declare delay queue: %w", err)
		}
		s.declared[queue] = true
	}

	conf, err := s.ch.PublishWithDeferredConfirmWithContext(ctx,
		"",    // exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		msg,
	)
	if err != nil {
		return fmt.Errorf("publish retry for order %s: %w", job.OrderID, err)
	}

	ok, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("confirm retry for order %s: %w", job.OrderID, err)
	}
	if !ok {
		return fmt.Errorf("order %s: %w", job.OrderID, ErrNotConfirmed)
	}
	return nil
}

// buildPublishing encodes a retry job as a persistent message.
func buildPublishing(job domain.RetryJob) (amqp.Publishing, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("could not marshal retry job: %w", err)
	}

	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    job.ScheduledAt,
		Type:         "payment.retry",
		Headers: amqp.Table{
			"order_id": job.OrderID,
			"attempt":  int32(job.Attempt),
		},
		Body: body,
	}, nil
}
