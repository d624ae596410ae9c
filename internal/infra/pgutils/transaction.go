package pgutils

import (
	"context"
	"database/sql"
	"fmt"
)

// Querier is the read surface shared by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
)

// WithTx runs fn inside a transaction.
// It commits if fn returns nil, otherwise it rolls back.
func WithTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil) // default isolation level
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	err = fn(tx)
	if err != nil {
		rbErr := tx.Rollback()
		if rbErr != nil {
			return fmt.Errorf("rollback after fn error: %v (fn err: %w)", rbErr, err)
		}
		return fmt.Errorf("fn: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// WithSavepoint runs fn under a named savepoint of tx. On error the work done
// by fn is rolled back to the savepoint and the outer transaction stays usable.
func WithSavepoint(ctx context.Context, tx *sql.Tx, name string, fn func() error) error {
	_, err := tx.ExecContext(ctx, "SAVEPOINT "+name)
	if err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}

	err = fn()
	if err != nil {
		_, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name)
		if rbErr != nil {
			return fmt.Errorf("rollback to savepoint %s: %v (fn err: %w)", name, rbErr, err)
		}

		return err
	}

	_, err = tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
	if err != nil {
		return fmt.Errorf("release savepoint %s: %w", name, err)
	}

	return nil
}
