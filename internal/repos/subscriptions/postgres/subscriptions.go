package subscriptions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fastprodman/studentportal/internal/infra/pgutils"
	"github.com/fastprodman/studentportal/internal/models"
	"github.com/fastprodman/studentportal/internal/repos/subscriptions"
)

var _ subscriptions.Subscriptions = (*subscriptionsRepo)(nil)

type subscriptionsRepo struct{ db *sql.DB }

func New(db *sql.DB) *subscriptionsRepo {
	return &subscriptionsRepo{db: db}
}

const subColumns = `id, account_id, plan_type, external_subscription_id, status, credits_per_cycle,
	credit_type, next_billing_date, metadata, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (models.Subscription, error) {
	var s models.Subscription

	err := row.Scan(&s.ID, &s.AccountID, &s.PlanType, &s.ExternalSubscriptionID, &s.Status,
		&s.CreditsPerCycle, &s.CreditType, &s.NextBillingDate, &s.Metadata, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Subscription{}, subscriptions.ErrSubscriptionNotFound
		}

		return models.Subscription{}, fmt.Errorf("scan subscription: %w", err)
	}

	return s, nil
}

func (r *subscriptionsRepo) Insert(ctx context.Context, tx *sql.Tx, s models.Subscription) (models.Subscription, error) {
	if s.CreditType == "" {
		s.CreditType = "Any"
	}

	out, err := scanSubscription(tx.QueryRowContext(ctx, `
		INSERT INTO subscriptions
			(account_id, plan_type, external_subscription_id, status, credits_per_cycle, credit_type,
			 next_billing_date, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+subColumns,
		s.AccountID, s.PlanType, s.ExternalSubscriptionID, s.Status, s.CreditsPerCycle, s.CreditType,
		s.NextBillingDate, s.Metadata))
	if err != nil {
		if pgutils.IsUniqueViolation(err) {
			return models.Subscription{}, subscriptions.ErrDuplicateSubscription
		}

		return models.Subscription{}, fmt.Errorf("insert subscription: %w", err)
	}

	return out, nil
}

func (r *subscriptionsRepo) LockByExternalID(ctx context.Context, tx *sql.Tx, externalID string) (models.Subscription, error) {
	s, err := scanSubscription(tx.QueryRowContext(ctx, `
		SELECT `+subColumns+`
		FROM subscriptions
		WHERE external_subscription_id = $1
		FOR UPDATE
	`, externalID))
	if err != nil {
		return models.Subscription{}, fmt.Errorf("lock subscription %q: %w", externalID, err)
	}

	return s, nil
}

// UpdateStatus keeps the stored next billing date when nextBilling is nil.
func (r *subscriptionsRepo) UpdateStatus(
	ctx context.Context, tx *sql.Tx, id uint64, status models.SubscriptionStatus, nextBilling *time.Time,
) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = $2,
			next_billing_date = COALESCE($3, next_billing_date),
			updated_at = now()
		WHERE id = $1
	`, id, status, nextBilling)
	if err != nil {
		return fmt.Errorf("update subscription status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return subscriptions.ErrSubscriptionNotFound
	}

	return nil
}

func (r *subscriptionsRepo) ListByAccount(ctx context.Context, q pgutils.Querier, accountID uint64) ([]models.Subscription, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+subColumns+`
		FROM subscriptions
		WHERE account_id = $1
		ORDER BY id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []models.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, s)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}

	return out, nil
}
