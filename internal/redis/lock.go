package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockStore handles distributed locking in Redis.
type LockStore struct {
	client   redis.Cmdable
	newToken func() string
}

// NewLockStore creates a new LockStore.
func NewLockStore(client redis.Cmdable) *LockStore {
	return &LockStore{
		client:   client,
		newToken: func() string { return uuid.New().String() },
	}
}

func orderLockKey(orderID string) string {
	return fmt.Sprintf("lock:order:%s", orderID)
}

// AcquireOrderLock attempts to acquire the payment lock for the given order.
// On success it returns the token that must be passed to ReleaseOrderLock.
func (s *LockStore) AcquireOrderLock(ctx context.Context, orderID string, ttl time.Duration) (string, bool, error) {
	token := s.newToken()
	ok, err := s.client.SetNX(ctx, orderLockKey(orderID), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}

	return token, true, nil
}

// ReleaseOrderLock releases the payment lock if it is still held with token.
// A lock that expired and was taken by another attempt is left alone.
func (s *LockStore) ReleaseOrderLock(ctx context.Context, orderID, token string) error {
	released, err := releaseScript.Run(ctx, s.client, []string{orderLockKey(orderID)}, token).Int()
	if err != nil {
		return err
	}
	if released == 0 {
		log.Printf("[LOCK] Lock for order %s expired before release", orderID)
	}
	return nil
}
