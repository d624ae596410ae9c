package pending

import (
	"context"
	"fmt"

	"github.com/fastprodman/studentportal/internal/infra/pgutils"
	"github.com/fastprodman/studentportal/internal/models"
	"github.com/fastprodman/studentportal/internal/repos/pending"
)

func (r *pendingRepo) ListAll(ctx context.Context, q pgutils.Querier) (pending.Snapshot, error) {
	var snap pending.Snapshot

	rows, err := q.QueryContext(ctx, `SELECT `+creditColumns+` FROM pending_credits ORDER BY id`)
	if err != nil {
		return pending.Snapshot{}, fmt.Errorf("list pending credits: %w", err)
	}
	if snap.Credits, err = collect(rows, scanCredit); err != nil {
		return pending.Snapshot{}, err
	}

	rows, err = q.QueryContext(ctx, `SELECT `+downloadColumns+` FROM pending_downloads ORDER BY id`)
	if err != nil {
		return pending.Snapshot{}, fmt.Errorf("list pending downloads: %w", err)
	}
	if snap.Downloads, err = collect(rows, scanDownload); err != nil {
		return pending.Snapshot{}, err
	}

	rows, err = q.QueryContext(ctx, `SELECT `+orderColumns+` FROM pending_orders ORDER BY id`)
	if err != nil {
		return pending.Snapshot{}, fmt.Errorf("list pending orders: %w", err)
	}
	if snap.Orders, err = collect(rows, scanOrder); err != nil {
		return pending.Snapshot{}, err
	}

	rows, err = q.QueryContext(ctx, `SELECT `+subscriptionColumns+` FROM pending_subscriptions ORDER BY id`)
	if err != nil {
		return pending.Snapshot{}, fmt.Errorf("list pending subscriptions: %w", err)
	}
	if snap.Subscriptions, err = collect(rows, scanSubscription); err != nil {
		return pending.Snapshot{}, err
	}

	return snap, nil
}

func (r *pendingRepo) Counts(ctx context.Context, q pgutils.Querier, email string) (pending.Counts, error) {
	var c pending.Counts

	err := q.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM pending_credits WHERE email = $1),
			(SELECT COUNT(*) FROM pending_downloads WHERE email = $1),
			(SELECT COUNT(*) FROM pending_orders WHERE email = $1),
			(SELECT COUNT(*) FROM pending_subscriptions WHERE email = $1)
	`, models.NormalizeEmail(email)).Scan(&c.Credits, &c.Downloads, &c.Orders, &c.Subscriptions)
	if err != nil {
		return pending.Counts{}, fmt.Errorf("count pending: %w", err)
	}

	return c, nil
}
