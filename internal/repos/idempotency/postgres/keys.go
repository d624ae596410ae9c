package idempotency

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fastprodman/studentportal/internal/repos/idempotency"
)

var _ idempotency.Keys = (*keysRepo)(nil)

type keysRepo struct{ db *sql.DB }

func New(db *sql.DB) *keysRepo {
	return &keysRepo{db: db}
}

func (r *keysRepo) Claim(ctx context.Context, tx *sql.Tx, key, kind string) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO ingested_events (key, kind) VALUES ($1, $2)
		ON CONFLICT (key) DO NOTHING
	`, key, kind)
	if err != nil {
		return fmt.Errorf("claim idempotency key: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return idempotency.ErrAlreadyClaimed
	}

	return nil
}
