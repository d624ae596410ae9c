package pending

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fastprodman/studentportal/internal/models"
)

const orderColumns = `id, email, status, total_cents, currency, provider_order_id, cart, metadata,
	last_error, created_at`

func scanOrder(row rowScanner) (models.PendingOrder, error) {
	var o models.PendingOrder

	err := row.Scan(&o.ID, &o.Email, &o.Status, &o.TotalCents, &o.Currency, &o.ProviderOrderID, &o.Cart,
		&o.Metadata, &o.LastError, &o.CreatedAt)
	if err != nil {
		return models.PendingOrder{}, fmt.Errorf("scan pending order: %w", err)
	}

	return o, nil
}

func (r *pendingRepo) InsertOrder(ctx context.Context, tx *sql.Tx, o models.PendingOrder) (models.PendingOrder, error) {
	if o.Status == "" {
		o.Status = models.OrderCompleted
	}
	if o.Currency == "" {
		o.Currency = "USD"
	}

	out, err := scanOrder(tx.QueryRowContext(ctx, `
		INSERT INTO pending_orders (email, status, total_cents, currency, provider_order_id, cart, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+orderColumns,
		models.NormalizeEmail(o.Email), o.Status, o.TotalCents, o.Currency, o.ProviderOrderID, o.Cart, o.Metadata))
	if err != nil {
		return models.PendingOrder{}, fmt.Errorf("insert pending order: %w", err)
	}

	return out, nil
}

func (r *pendingRepo) LockOrdersByEmail(ctx context.Context, tx *sql.Tx, email string) ([]models.PendingOrder, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM pending_orders
		WHERE email = $1
		ORDER BY id
		FOR UPDATE
	`, models.NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("lock pending orders: %w", err)
	}

	return collect(rows, scanOrder)
}
