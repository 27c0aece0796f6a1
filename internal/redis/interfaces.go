package redis

import (
	"context"
	"time"

	"orderpay/internal/domain"
)

// LockStoreInterface defines the interface for distributed locking.
type LockStoreInterface interface {
	AcquireOrderLock(ctx context.Context, orderID string, ttl time.Duration) (string, bool, error)
	ReleaseOrderLock(ctx context.Context, orderID, token string) error
}

// CacheStoreInterface defines the interface for order caching.
type CacheStoreInterface interface {
	GetOrderDetails(ctx context.Context, orderID string) (*domain.OrderDetails, error)
	SetOrderDetails(ctx context.Context, details *domain.OrderDetails) error
	InvalidateOrder(ctx context.Context, orderID string) error
}

// RetryQueueInterface defines the interface for delayed payment retries.
type RetryQueueInterface interface {
	ScheduleAfter(ctx context.Context, delay time.Duration, job domain.RetryJob) error
	ClaimDue(ctx context.Context, limit int64) ([]domain.RetryJob, error)
	Ack(ctx context.Context, jobID string) error
}

// PendingRetryInterface defines the interface for the per-order pending
// retry marker.
type PendingRetryInterface interface {
	MarkPending(ctx context.Context, orderID string, dueAt time.Time, ttl time.Duration) (time.Time, bool, error)
	ClearPending(ctx context.Context, orderID string) error
}

// RateLimiterInterface defines the interface for request rate limiting.
type RateLimiterInterface interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error)
}

// Ensure concrete types implement interfaces.
var (
	_ LockStoreInterface    = (*LockStore)(nil)
	_ CacheStoreInterface   = (*CacheStore)(nil)
	_ RetryQueueInterface   = (*RetryQueue)(nil)
	_ PendingRetryInterface = (*PendingRetryStore)(nil)
	_ RateLimiterInterface  = (*RateLimiter)(nil)
)
