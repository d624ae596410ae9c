package pending

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fastprodman/studentportal/internal/infra/pgutils"
	"github.com/fastprodman/studentportal/internal/models"
	"github.com/fastprodman/studentportal/internal/repos/pending"
)

const creditColumns = `id, email, delta, type_breakdown, source, idempotency_key, metadata, last_error, created_at`

func scanCredit(row rowScanner) (models.PendingCredit, error) {
	var c models.PendingCredit

	err := row.Scan(&c.ID, &c.Email, &c.Delta, &c.TypeBreakdown, &c.Source, &c.IdempotencyKey,
		&c.Metadata, &c.LastError, &c.CreatedAt)
	if err != nil {
		return models.PendingCredit{}, fmt.Errorf("scan pending credit: %w", err)
	}

	return c, nil
}

func (r *pendingRepo) InsertCredit(ctx context.Context, tx *sql.Tx, c models.PendingCredit) (models.PendingCredit, error) {
	out, err := scanCredit(tx.QueryRowContext(ctx, `
		INSERT INTO pending_credits (email, delta, type_breakdown, source, idempotency_key, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+creditColumns,
		models.NormalizeEmail(c.Email), c.Delta, c.TypeBreakdown, c.Source, c.IdempotencyKey, c.Metadata))
	if err != nil {
		if pgutils.IsUniqueViolation(err) {
			return models.PendingCredit{}, pending.ErrDuplicatePending
		}

		return models.PendingCredit{}, fmt.Errorf("insert pending credit: %w", err)
	}

	return out, nil
}

func (r *pendingRepo) LockCreditsByEmail(ctx context.Context, tx *sql.Tx, email string) ([]models.PendingCredit, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+creditColumns+`
		FROM pending_credits
		WHERE email = $1
		ORDER BY id
		FOR UPDATE
	`, models.NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("lock pending credits: %w", err)
	}

	return collect(rows, scanCredit)
}
