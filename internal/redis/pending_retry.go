package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PendingRetryStore records which orders already have a retry queued, so a
// caller retrying by hand does not start a second retry chain.
type PendingRetryStore struct {
	client redis.Cmdable
}

// NewPendingRetryStore creates a new PendingRetryStore.
func NewPendingRetryStore(client redis.Cmdable) *PendingRetryStore {
	return &PendingRetryStore{client: client}
}

func pendingRetryKey(orderID string) string {
	return fmt.Sprintf("retry:pending:%s", orderID)
}

// MarkPending records a retry for orderID due at dueAt. When a retry is
// already recorded it returns that retry's due time and false.
func (s *PendingRetryStore) MarkPending(ctx context.Context, orderID string, dueAt time.Time, ttl time.Duration) (time.Time, bool, error) {
	key := pendingRetryKey(orderID)

	// The marker may expire between SETNX and GET; one more try covers it.
	for range 2 {
		ok, err := s.client.SetNX(ctx, key, dueAt.UnixMilli(), ttl).Result()
		if err != nil {
			return time.Time{}, false, err
		}
		if ok {
			return dueAt, true, nil
		}

		ms, err := s.client.Get(ctx, key).Int64()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return time.Time{}, false, err
		}
		return time.UnixMilli(ms).UTC(), false, nil
	}

	return time.Time{}, false, fmt.Errorf("pending retry marker for order %s is flapping", orderID)
}

// ClearPending removes the marker for orderID.
func (s *PendingRetryStore) ClearPending(ctx context.Context, orderID string) error {
	return s.client.Del(ctx, pendingRetryKey(orderID)).Err()
}
