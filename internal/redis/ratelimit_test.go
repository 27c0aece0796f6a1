package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
)

func TestRateLimiter_Allow(t *testing.T) {
	db, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(db)
	now := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	key := fmt.Sprintf("ratelimit:api:1.2.3.4:%d", now.Truncate(time.Minute).Unix())

	mock.ExpectIncr(key).SetVal(1)
	mock.ExpectExpire(key, time.Minute).SetVal(true)
	mock.ExpectIncr(key).SetVal(2)
	mock.ExpectIncr(key).SetVal(3)

	tests := []struct {
		allowed   bool
		remaining int
	}{
		{true, 1},
		{true, 0},
		{false, 0},
	}

	for i, tt := range tests {
		allowed, remaining, err := limiter.Allow(context.Background(), "api:1.2.3.4", 2, time.Minute)
		if err != nil {
			t.Fatalf("hit %d: unexpected error %v", i+1, err)
		}
		if allowed != tt.allowed || remaining != tt.remaining {
			t.Errorf("hit %d: got allowed=%v remaining=%d, want %v %d", i+1, allowed, remaining, tt.allowed, tt.remaining)
		}
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
