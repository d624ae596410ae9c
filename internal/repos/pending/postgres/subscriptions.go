package pending

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fastprodman/studentportal/internal/infra/pgutils"
	"github.com/fastprodman/studentportal/internal/models"
	"github.com/fastprodman/studentportal/internal/repos/pending"
)

const subscriptionColumns = `id, email, plan_type, external_subscription_id, status, credits_per_cycle,
	credit_type, next_billing_date, metadata, last_error, created_at`

func scanSubscription(row rowScanner) (models.PendingSubscription, error) {
	var s models.PendingSubscription

	err := row.Scan(&s.ID, &s.Email, &s.PlanType, &s.ExternalSubscriptionID, &s.Status, &s.CreditsPerCycle,
		&s.CreditType, &s.NextBillingDate, &s.Metadata, &s.LastError, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.PendingSubscription{}, pending.ErrPendingNotFound
		}

		return models.PendingSubscription{}, fmt.Errorf("scan pending subscription: %w", err)
	}

	return s, nil
}

func (r *pendingRepo) InsertSubscription(
	ctx context.Context, tx *sql.Tx, s models.PendingSubscription,
) (models.PendingSubscription, error) {
	if s.CreditType == "" {
		s.CreditType = "Any"
	}

	out, err := scanSubscription(tx.QueryRowContext(ctx, `
		INSERT INTO pending_subscriptions
			(email, plan_type, external_subscription_id, status, credits_per_cycle, credit_type,
			 next_billing_date, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+subscriptionColumns,
		models.NormalizeEmail(s.Email), s.PlanType, s.ExternalSubscriptionID, s.Status, s.CreditsPerCycle,
		s.CreditType, s.NextBillingDate, s.Metadata))
	if err != nil {
		if pgutils.IsUniqueViolation(err) {
			return models.PendingSubscription{}, pending.ErrDuplicatePending
		}

		return models.PendingSubscription{}, fmt.Errorf("insert pending subscription: %w", err)
	}

	return out, nil
}

func (r *pendingRepo) LockSubscriptionsByEmail(
	ctx context.Context, tx *sql.Tx, email string,
) ([]models.PendingSubscription, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM pending_subscriptions
		WHERE email = $1
		ORDER BY id
		FOR UPDATE
	`, models.NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("lock pending subscriptions: %w", err)
	}

	return collect(rows, scanSubscription)
}

func (r *pendingRepo) LockSubscriptionByExternalID(
	ctx context.Context, tx *sql.Tx, externalID string,
) (models.PendingSubscription, error) {
	s, err := scanSubscription(tx.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM pending_subscriptions
		WHERE external_subscription_id = $1
		FOR UPDATE
	`, externalID))
	if err != nil {
		return models.PendingSubscription{}, fmt.Errorf("lock pending subscription %q: %w", externalID, err)
	}

	return s, nil
}

func (r *pendingRepo) UpdateSubscriptionStatus(
	ctx context.Context, tx *sql.Tx, id uint64, status models.SubscriptionStatus, nextBilling *time.Time,
) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE pending_subscriptions
		SET status = $2, next_billing_date = COALESCE($3, next_billing_date)
		WHERE id = $1
	`, id, status, nextBilling)
	if err != nil {
		return fmt.Errorf("update pending subscription status: %w", err)
	}

	return expectOne(res, pending.TableSubscriptions, id)
}
