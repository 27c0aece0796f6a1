package repository

import (
	"context"

	"orderpay/internal/domain"
)

// OrderRepository defines the persistence operations for orders.
type OrderRepository interface {
	// Create persists a new order.
	Create(ctx context.Context, order *domain.Order) error

	// GetByID retrieves an order by ID.
	GetByID(ctx context.Context, id string) (*domain.Order, error)

	// GetByIDForUpdate retrieves an order by ID and locks its row until the
	// surrounding transaction ends. Outside a transaction it behaves like GetByID.
	GetByIDForUpdate(ctx context.Context, id string) (*domain.Order, error)

	// GetAll retrieves the most recent orders.
	GetAll(ctx context.Context) ([]*domain.Order, error)

	// UpdateStatus updates the status of an order.
	UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error
}
