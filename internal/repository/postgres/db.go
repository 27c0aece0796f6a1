package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"orderpay/internal/repository"
)

// Querier is an interface satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Ensure interfaces are satisfied.
var (
	_ Querier          = (*sql.DB)(nil)
	_ Querier          = (*sql.Tx)(nil)
	_ repository.Store = (*Store)(nil)
)

// Store is a PostgreSQL implementation of repository.Store.
type Store struct {
	db           *sql.DB
	orders       *OrderRepository
	transactions *TransactionRepository
}

// NewStore creates a new PostgreSQL store.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:           db,
		orders:       NewOrderRepository(db),
		transactions: NewTransactionRepository(db),
	}
}

// Orders returns the non-transactional order repository.
func (s *Store) Orders() repository.OrderRepository {
	return s.orders
}

// Transactions returns the non-transactional transaction repository.
func (s *Store) Transactions() repository.TransactionRepository {
	return s.transactions
}

// WithinTx runs fn in a database transaction, committing only if fn succeeds.
func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Repositories) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(txRepositories{
		orders:       NewOrderRepositoryWithTx(tx),
		transactions: NewTransactionRepositoryWithTx(tx),
	}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// txRepositories exposes repositories scoped to one *sql.Tx.
type txRepositories struct {
	orders       *OrderRepository
	transactions *TransactionRepository
}

func (r txRepositories) Orders() repository.OrderRepository {
	return r.orders
}

func (r txRepositories) Transactions() repository.TransactionRepository {
	return r.transactions
}
