package db

import "context"

// Querier runs statements against a store or an open transaction
type Querier interface {
	// Query returns every result row keyed by column name
	Query(ctx context.Context, sql string, args ...any) ([]Row, error)
	// Exec runs a statement and returns the number of affected rows.
	// On a Store the statement is committed immediately; on a Tx it
	// is committed with the transaction.
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
}

// Tx is an open transaction
type Tx interface {
	Querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is a connection pool to one relational database
type Store interface {
	Querier
	Begin(ctx context.Context) (Tx, error)
	Health(ctx context.Context) error
	Close() error
}

// InTx runs fn inside a transaction, committing on success and rolling back otherwise
func InTx(ctx context.Context, s Store, fn func(tx Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	return tx.Commit(ctx)
}
