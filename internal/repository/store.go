package repository

import "context"

// Repositories groups the repositories bound to one unit of work.
type Repositories interface {
	Orders() OrderRepository
	Transactions() TransactionRepository
}

// Store gives access to repositories and runs functions atomically.
type Store interface {
	Repositories

	// WithinTx runs fn inside a single database transaction. If fn returns an
	// error every write made through the given repositories is discarded.
	WithinTx(ctx context.Context, fn func(tx Repositories) error) error
}
