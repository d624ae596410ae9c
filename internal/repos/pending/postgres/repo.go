package pending

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fastprodman/studentportal/internal/repos/pending"
)

var _ pending.Pending = (*pendingRepo)(nil)

type pendingRepo struct{ db *sql.DB }

func New(db *sql.DB) *pendingRepo {
	return &pendingRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Table names are never taken from input; Valid guards the interpolation.
func (r *pendingRepo) Delete(ctx context.Context, tx *sql.Tx, table pending.Table, id uint64) error {
	if !table.Valid() {
		return fmt.Errorf("delete from %q: unknown pending table", table)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM `+string(table)+` WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete %s %d: %w", table, id, err)
	}

	return expectOne(res, table, id)
}

func (r *pendingRepo) MarkFailed(ctx context.Context, tx *sql.Tx, table pending.Table, id uint64, reason string) error {
	if !table.Valid() {
		return fmt.Errorf("mark failed in %q: unknown pending table", table)
	}

	res, err := tx.ExecContext(ctx, `UPDATE `+string(table)+` SET last_error = $2 WHERE id = $1`, id, reason)
	if err != nil {
		return fmt.Errorf("mark %s %d failed: %w", table, id, err)
	}

	return expectOne(res, table, id)
}

func expectOne(res sql.Result, table pending.Table, id uint64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", table, id, pending.ErrPendingNotFound)
	}

	return nil
}

func collect[T any](rows *sql.Rows, scan func(rowScanner) (T, error)) ([]T, error) {
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, v)
	}

	err := rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return out, nil
}
