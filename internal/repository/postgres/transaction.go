package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"orderpay/internal/domain"
	"orderpay/internal/repository"
)

const transactionColumns = `id, order_id, payment_provider, status, response_data, attempts, created_at, updated_at`

// TransactionRepository is a PostgreSQL implementation of repository.TransactionRepository.
type TransactionRepository struct {
	q Querier
}

// NewTransactionRepository creates a new PostgreSQL transaction repository.
func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{q: db}
}

// NewTransactionRepositoryWithTx creates a transaction repository using a transaction.
func NewTransactionRepositoryWithTx(tx *sql.Tx) *TransactionRepository {
	return &TransactionRepository{q: tx}
}

// Create persists a new transaction.
func (r *TransactionRepository) Create(ctx context.Context, txn *domain.Transaction) error {
	query := `
		INSERT INTO transactions (id, order_id, payment_provider, status, response_data, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.q.ExecContext(ctx, query,
		txn.ID,
		txn.OrderID,
		txn.PaymentProvider,
		txn.Status,
		nullString(txn.ResponseData),
		txn.Attempts,
		txn.CreatedAt,
		txn.UpdatedAt,
	)

	return err
}

// GetByID retrieves a transaction by ID.
func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	return r.get(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
}

// GetByOrderID retrieves the transaction belonging to an order.
func (r *TransactionRepository) GetByOrderID(ctx context.Context, orderID string) (*domain.Transaction, error) {
	return r.get(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE order_id = $1`, orderID)
}

func (r *TransactionRepository) get(ctx context.Context, query, arg string) (*domain.Transaction, error) {
	var txn domain.Transaction
	var responseData sql.NullString

	err := r.q.QueryRowContext(ctx, query, arg).Scan(
		&txn.ID,
		&txn.OrderID,
		&txn.PaymentProvider,
		&txn.Status,
		&responseData,
		&txn.Attempts,
		&txn.CreatedAt,
		&txn.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	if responseData.Valid {
		txn.ResponseData = responseData.String
	}
	return &txn, nil
}

// RecordAttempt stores the outcome of a payment attempt.
func (r *TransactionRepository) RecordAttempt(ctx context.Context, id string, status domain.OrderStatus, responseData string) error {
	query := `
		UPDATE transactions
		SET status = $1, response_data = $2, attempts = attempts + 1, updated_at = $3
		WHERE id = $4
	`

	result, err := r.q.ExecContext(ctx, query, status, nullString(responseData), time.Now().UTC(), id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return repository.ErrNotFound
	}

	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
