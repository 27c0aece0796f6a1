package repository

import (
	"context"

	"orderpay/internal/domain"
)

// TransactionRepository defines the persistence operations for payment transactions.
type TransactionRepository interface {
	// Create persists a new transaction.
	Create(ctx context.Context, txn *domain.Transaction) error

	// GetByID retrieves a transaction by ID.
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)

	// GetByOrderID retrieves the transaction belonging to an order.
	GetByOrderID(ctx context.Context, orderID string) (*domain.Transaction, error)

	// RecordAttempt stores the outcome of a payment attempt and bumps the
	// attempt counter.
	RecordAttempt(ctx context.Context, id string, status domain.OrderStatus, responseData string) error
}
