package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"orderpay/internal/domain"
	"orderpay/internal/repository"
)

// OrderService handles order creation and reads.
type OrderService struct {
	store    repository.Store
	cache    OrderCache
	provider string
	group    singleflight.Group
	now      func() time.Time
}

// NewOrderService creates a new OrderService. cache may be nil.
func NewOrderService(store repository.Store, cache OrderCache, provider string) *OrderService {
	if provider == "" {
		provider = "stripe"
	}
	return &OrderService{
		store:    store,
		cache:    cache,
		provider: provider,
		now:      time.Now,
	}
}

// CreateOrderRequest contains the parameters for creating an order.
type CreateOrderRequest struct {
	UserID string
	Amount string
}

// CreateOrder validates the amount and persists a pending order together
// with its pending transaction. Nothing is written when validation fails.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*domain.OrderDetails, error) {
	amount := strings.TrimSpace(req.Amount)
	if _, err := domain.ParseAmount(amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	now := s.now()
	order := &domain.Order{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		Amount:    amount,
		Status:    domain.OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	txn := &domain.Transaction{
		ID:              uuid.New().String(),
		OrderID:         order.ID,
		PaymentProvider: s.provider,
		Status:          domain.OrderStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := s.store.WithinTx(ctx, func(tx repository.Repositories) error {
		if err := tx.Orders().Create(ctx, order); err != nil {
			return err
		}
		return tx.Transactions().Create(ctx, txn)
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	log.Printf("[ORDER] Created order %s (amount=%s, provider=%s)", order.ID, order.Amount, txn.PaymentProvider)

	return &domain.OrderDetails{Order: order, Transaction: txn}, nil
}

// GetOrder retrieves an order and its transaction, serving from cache when
// possible. Concurrent misses for the same order share one database read.
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*domain.OrderDetails, error) {
	if orderID == "" {
		return nil, ErrInvalidOrderID
	}

	if s.cache != nil {
		cached, err := s.cache.GetOrderDetails(ctx, orderID)
		if err != nil {
			log.Printf("[ORDER] Cache read failed for order %s: %v", orderID, err)
		} else if cached != nil {
			return cached, nil
		}
	}

	v, err, _ := s.group.Do(orderID, func() (interface{}, error) {
		return s.loadDetails(ctx, orderID)
	})
	if err != nil {
		return nil, err
	}
	details := v.(*domain.OrderDetails)

	if s.cache != nil {
		if err := s.cache.SetOrderDetails(ctx, details); err != nil {
			log.Printf("[ORDER] Cache write failed for order %s: %v", orderID, err)
		}
	}

	return details, nil
}

func (s *OrderService) loadDetails(ctx context.Context, orderID string) (*domain.OrderDetails, error) {
	order, err := s.store.Orders().GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	txn, err := s.store.Transactions().GetByOrderID(ctx, orderID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	return &domain.OrderDetails{Order: order, Transaction: txn}, nil
}

// ListOrders returns the most recent orders.
func (s *OrderService) ListOrders(ctx context.Context) ([]*domain.Order, error) {
	return s.store.Orders().GetAll(ctx)
}

// GetTransaction retrieves a transaction by ID.
func (s *OrderService) GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	if transactionID == "" {
		return nil, ErrInvalidTransactionID
	}

	txn, err := s.store.Transactions().GetByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return txn, nil
}
