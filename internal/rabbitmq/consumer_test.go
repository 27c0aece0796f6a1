package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"orderpay/internal/domain"
)

// fakeAcknowledger records how a delivery was settled.
type fakeAcknowledger struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	rejects int
	requeue bool
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	a.requeue = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejects++
	a.requeue = requeue
	return nil
}

type stubHandler struct {
	err  error
	jobs []domain.RetryJob
}

func (h *stubHandler) Retry(ctx context.Context, job domain.RetryJob) error {
	h.jobs = append(h.jobs, job)
	return h.err
}

type stubScheduler struct {
	err    error
	jobs   []domain.RetryJob
	delays []time.Duration
}

func (s *stubScheduler) ScheduleAfter(ctx context.Context, delay time.Duration, job domain.RetryJob) error {
	if s.err != nil {
		return s.err
	}
	s.jobs = append(s.jobs, job)
	s.delays = append(s.delays, delay)
	return nil
}

func delivery(t *testing.T, ack amqp.Acknowledger, body []byte) amqp.Delivery {
	t.Helper()
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, MessageId: "job-1", Body: body}
}

func encodedJob(t *testing.T) []byte {
	t.Helper()
	data, err := json.Marshal(domain.RetryJob{ID: "job-1", OrderID: "o-1", Attempt: 2})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestConsumer_Handle(t *testing.T) {
	tests := []struct {
		name        string
		body        []byte
		handlerErr  error
		scheduleErr error

		wantAcks        int
		wantNacks       int
		wantRejects     int
		wantRequeue     bool
		wantRescheduled int
		wantHandled     int
	}{
		{
			name:        "handled job is acked",
			wantAcks:    1,
			wantHandled: 1,
		},
		{
			name:        "undecodable message is rejected without requeue",
			body:        []byte("not-json"),
			wantRejects: 1,
		},
		{
			name:            "handler error reschedules then acks",
			handlerErr:      errors.New("database unavailable"),
			wantAcks:        1,
			wantRescheduled: 1,
			wantHandled:     1,
		},
		{
			name:        "reschedule failure returns message to the queue",
			handlerErr:  errors.New("database unavailable"),
			scheduleErr: errors.New("channel closed"),
			wantNacks:   1,
			wantRequeue: true,
			wantHandled: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := tt.body
			if body == nil {
				body = encodedJob(t)
			}

			ack := &fakeAcknowledger{}
			handler := &stubHandler{err: tt.handlerErr}
			scheduler := &stubScheduler{err: tt.scheduleErr}
			c := NewConsumer(nil, scheduler, handler, nil, 1, time.Minute)

			c.handle(context.Background(), delivery(t, ack, body))

			if ack.acks != tt.wantAcks || ack.nacks != tt.wantNacks || ack.rejects != tt.wantRejects {
				t.Errorf("expected acks=%d nacks=%d rejects=%d, got acks=%d nacks=%d rejects=%d",
					tt.wantAcks, tt.wantNacks, tt.wantRejects, ack.acks, ack.nacks, ack.rejects)
			}
			if ack.requeue != tt.wantRequeue {
				t.Errorf("expected requeue=%v, got %v", tt.wantRequeue, ack.requeue)
			}
			if len(scheduler.jobs) != tt.wantRescheduled {
				t.Errorf("expected %d rescheduled jobs, got %d", tt.wantRescheduled, len(scheduler.jobs))
			}
			if len(handler.jobs) != tt.wantHandled {
				t.Errorf("expected %d handler calls, got %d", tt.wantHandled, len(handler.jobs))
			}
		})
	}
}

func TestConsumer_Handle_ReschedulesSameJobAfterDelay(t *testing.T) {
	ack := &fakeAcknowledger{}
	scheduler := &stubScheduler{}
	c := NewConsumer(nil, scheduler, &stubHandler{err: errors.New("timeout")}, nil, 1, 45*time.Second)

	c.handle(context.Background(), delivery(t, ack, encodedJob(t)))

	if len(scheduler.jobs) != 1 {
		t.Fatalf("expected one rescheduled job, got %d", len(scheduler.jobs))
	}
	if got := scheduler.jobs[0]; got.ID != "job-1" || got.Attempt != 2 {
		t.Errorf("expected the same job rescheduled, got %+v", got)
	}
	if scheduler.delays[0] != 45*time.Second {
		t.Errorf("expected 45s delay, got %s", scheduler.delays[0])
	}
}
