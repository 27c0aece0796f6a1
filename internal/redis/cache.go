package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"orderpay/internal/domain"
)

// OrderCacheTTL bounds how stale a cached order can be if an invalidation
// is missed.
const OrderCacheTTL = 30 * time.Second

const orderCachePrefix = "cache:order:"

// CacheStore handles order caching in Redis.
type CacheStore struct {
	client redis.Cmdable
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client redis.Cmdable) *CacheStore {
	return &CacheStore{client: client}
}

// CachedOrder represents a cached order with its transaction.
type CachedOrder struct {
	ID          string             `json:"id"`
	UserID      string             `json:"user_id"`
	Amount      string             `json:"amount"`
	Status      string             `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	Transaction *CachedTransaction `json:"transaction,omitempty"`
}

// CachedTransaction represents a cached transaction.
type CachedTransaction struct {
	ID              string    `json:"id"`
	PaymentProvider string    `json:"payment_provider"`
	Status          string    `json:"status"`
	ResponseData    string    `json:"response_data"`
	Attempts        int       `json:"attempts"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// GetOrderDetails retrieves an order from cache. Returns nil, nil on a miss.
func (s *CacheStore) GetOrderDetails(ctx context.Context, orderID string) (*domain.OrderDetails, error) {
	data, err := s.client.Get(ctx, orderCachePrefix+orderID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}
		return nil, err
	}

	var cached CachedOrder
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	return cached.toDomain(), nil
}

// SetOrderDetails stores an order in cache.
func (s *CacheStore) SetOrderDetails(ctx context.Context, details *domain.OrderDetails) error {
	if details == nil || details.Order == nil {
		return nil
	}

	data, err := json.Marshal(newCachedOrder(details))
	if err != nil {
		return err
	}
	return s.client.Set(ctx, orderCachePrefix+details.Order.ID, data, OrderCacheTTL).Err()
}

// InvalidateOrder removes an order from cache.
func (s *CacheStore) InvalidateOrder(ctx context.Context, orderID string) error {
	return s.client.Del(ctx, orderCachePrefix+orderID).Err()
}

func newCachedOrder(d *domain.OrderDetails) *CachedOrder {
	c := &CachedOrder{
		ID:        d.Order.ID,
		UserID:    d.Order.UserID,
		Amount:    d.Order.Amount,
		Status:    string(d.Order.Status),
		CreatedAt: d.Order.CreatedAt,
		UpdatedAt: d.Order.UpdatedAt,
	}
	if t := d.Transaction; t != nil {
		c.Transaction = &CachedTransaction{
			ID:              t.ID,
			PaymentProvider: t.PaymentProvider,
			Status:          string(t.Status),
			ResponseData:    t.ResponseData,
			Attempts:        t.Attempts,
			CreatedAt:       t.CreatedAt,
			UpdatedAt:       t.UpdatedAt,
		}
	}
	return c
}

func (c *CachedOrder) toDomain() *domain.OrderDetails {
	d := &domain.OrderDetails{
		Order: &domain.Order{
			ID:        c.ID,
			UserID:    c.UserID,
			Amount:    c.Amount,
			Status:    domain.OrderStatus(c.Status),
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		},
	}
	if t := c.Transaction; t != nil {
		d.Transaction = &domain.Transaction{
			ID:              t.ID,
			OrderID:         c.ID,
			PaymentProvider: t.PaymentProvider,
			Status:          domain.OrderStatus(t.Status),
			ResponseData:    t.ResponseData,
			Attempts:        t.Attempts,
			CreatedAt:       t.CreatedAt,
			UpdatedAt:       t.UpdatedAt,
		}
	}
	return d
}
