package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"orderpay/internal/domain"
)

// DefaultRetryQueueKey is the sorted set holding delayed payment retry IDs,
// scored by due time in Unix milliseconds. Payloads live in the hash at
// DefaultRetryQueueKey + ":jobs".
const DefaultRetryQueueKey = "payments:retry"

// DefaultVisibilityTimeout is how long a claimed job stays hidden before
// another worker may claim it again.
const DefaultVisibilityTimeout = 5 * time.Minute

// claimScript hands out due job IDs by pushing their score past the
// visibility timeout. It returns a flat list of id, payload pairs. IDs
// without a payload are dropped.
var claimScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[3])
local jobs = {}
for _, id in ipairs(ids) do
	local data = redis.call("HGET", KEYS[2], id)
	if data then
		redis.call("ZADD", KEYS[1], ARGV[2], id)
		table.insert(jobs, id)
		table.insert(jobs, data)
	else
		redis.call("ZREM", KEYS[1], id)
	end
end
return jobs
`)

// RetryQueue is a durable delayed-job queue backed by a Redis sorted set.
// Delivery is at least once: a claimed job that is never acknowledged
// becomes due again after the visibility timeout.
type RetryQueue struct {
	client     redis.Cmdable
	key        string
	jobsKey    string
	visibility time.Duration
	now        func() time.Time
}

// NewRetryQueue creates a new RetryQueue on the default key.
func NewRetryQueue(client redis.Cmdable) *RetryQueue {
	return &RetryQueue{
		client:     client,
		key:        DefaultRetryQueueKey,
		jobsKey:    DefaultRetryQueueKey + ":jobs",
		visibility: DefaultVisibilityTimeout,
		now:        time.Now,
	}
}

// SetVisibilityTimeout changes how long a claimed job stays hidden.
func (q *RetryQueue) SetVisibilityTimeout(d time.Duration) {
	if d > 0 {
		q.visibility = d
	}
}

// ScheduleAfter stores job to become due after delay. It returns as soon as
// Redis acknowledges the write. Scheduling an ID that is already queued
// replaces its payload and due time.
func (q *RetryQueue) ScheduleAfter(ctx context.Context, delay time.Duration, job domain.RetryJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.ScheduledAt = q.now().UTC()
	job.DueAt = job.ScheduledAt.Add(delay)

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode retry job: %w", err)
	}

	// Payload first, so a visible ID always has something to claim.
	if err := q.client.HSet(ctx, q.jobsKey, job.ID, string(data)).Err(); err != nil {
		return fmt.Errorf("enqueue retry for order %s: %w", job.OrderID, err)
	}
	if err := q.client.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(job.DueAt.UnixMilli()),
		Member: job.ID,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue retry for order %s: %w", job.OrderID, err)
	}
	return nil
}

// ClaimDue returns up to limit jobs whose due time has passed and hides
// them for the visibility timeout. Callers must Ack a job once it has been
// handled; otherwise it is handed out again.
func (q *RetryQueue) ClaimDue(ctx context.Context, limit int64) ([]domain.RetryJob, error) {
	now := q.now().UnixMilli()
	pairs, err := claimScript.Run(ctx, q.client,
		[]string{q.key, q.jobsKey},
		now, now+q.visibility.Milliseconds(), limit,
	).StringSlice()
	if err != nil {
		return nil, err
	}

	jobs := make([]domain.RetryJob, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		id, payload := pairs[i], pairs[i+1]

		var job domain.RetryJob
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			log.Printf("[RETRY] Discarding undecodable job %s: %v", id, err)
			if err := q.Ack(ctx, id); err != nil {
				log.Printf("[RETRY] Failed to discard job %s: %v", id, err)
			}
			continue
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

// Ack removes a handled job from the queue.
func (q *RetryQueue) Ack(ctx context.Context, jobID string) error {
	if err := q.client.ZRem(ctx, q.key, jobID).Err(); err != nil {
		return fmt.Errorf("ack retry job %s: %w", jobID, err)
	}
	if err := q.client.HDel(ctx, q.jobsKey, jobID).Err(); err != nil {
		return fmt.Errorf("ack retry job %s: %w", jobID, err)
	}
	return nil
}
