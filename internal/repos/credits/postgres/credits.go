package credits

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fastprodman/studentportal/internal/infra/pgutils"
	"github.com/fastprodman/studentportal/internal/models"
	"github.com/fastprodman/studentportal/internal/repos/credits"
)

var _ credits.Credits = (*creditsRepo)(nil)

type creditsRepo struct{ db *sql.DB }

func New(db *sql.DB) *creditsRepo {
	return &creditsRepo{db: db}
}

const txColumns = `id, account_id, delta, type_breakdown, source, related_order_id,
	idempotency_key, metadata, created_at`

func (r *creditsRepo) Insert(ctx context.Context, tx *sql.Tx, t models.CreditTransaction) (models.CreditTransaction, error) {
	var out models.CreditTransaction

	err := tx.QueryRowContext(ctx, `
		INSERT INTO credit_transactions
			(account_id, delta, type_breakdown, source, related_order_id, idempotency_key, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+txColumns,
		t.AccountID, t.Delta, t.TypeBreakdown, t.Source, t.RelatedOrderID, t.IdempotencyKey, t.Metadata,
	).Scan(&out.ID, &out.AccountID, &out.Delta, &out.TypeBreakdown, &out.Source, &out.RelatedOrderID,
		&out.IdempotencyKey, &out.Metadata, &out.CreatedAt)
	if err != nil {
		if pgutils.IsUniqueViolation(err) {
			return models.CreditTransaction{}, credits.ErrDuplicateKey
		}

		return models.CreditTransaction{}, fmt.Errorf("insert credit transaction: %w", err)
	}

	return out, nil
}

func (r *creditsRepo) ListByAccount(ctx context.Context, q pgutils.Querier, accountID uint64) ([]models.CreditTransaction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+txColumns+`
		FROM credit_transactions
		WHERE account_id = $1
		ORDER BY id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list credit transactions: %w", err)
	}
	defer rows.Close()

	var out []models.CreditTransaction
	for rows.Next() {
		var t models.CreditTransaction

		err = rows.Scan(&t.ID, &t.AccountID, &t.Delta, &t.TypeBreakdown, &t.Source, &t.RelatedOrderID,
			&t.IdempotencyKey, &t.Metadata, &t.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan credit transaction: %w", err)
		}

		out = append(out, t)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate credit transactions: %w", err)
	}

	return out, nil
}

func (r *creditsRepo) SumDelta(ctx context.Context, q pgutils.Querier, accountID uint64) (int64, error) {
	var total int64

	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(delta), 0)::BIGINT FROM credit_transactions WHERE account_id = $1
	`, accountID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum credit deltas: %w", err)
	}

	return total, nil
}
