package orders

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fastprodman/studentportal/internal/infra/pgutils"
	"github.com/fastprodman/studentportal/internal/models"
	"github.com/fastprodman/studentportal/internal/repos/orders"
)

var _ orders.Orders = (*ordersRepo)(nil)

type ordersRepo struct{ db *sql.DB }

func New(db *sql.DB) *ordersRepo {
	return &ordersRepo{db: db}
}

func (r *ordersRepo) Insert(ctx context.Context, tx *sql.Tx, o models.Order) (models.Order, error) {
	if o.Status == "" {
		o.Status = models.OrderCompleted
	}
	if o.Currency == "" {
		o.Currency = "USD"
	}

	err := tx.QueryRowContext(ctx, `
		INSERT INTO orders (account_id, status, total_cents, currency, provider_order_id, merged_from_pending, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, o.AccountID, o.Status, o.TotalCents, o.Currency, o.ProviderOrderID, o.MergedFromPending, o.Metadata,
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return models.Order{}, fmt.Errorf("insert order: %w", err)
	}

	items := make([]models.OrderItem, 0, len(o.Items))
	for i, item := range o.Items {
		item.OrderID = o.ID
		item.Position = i

		item, err = r.InsertItem(ctx, tx, item)
		if err != nil {
			return models.Order{}, fmt.Errorf("item %d: %w", i, err)
		}

		items = append(items, item)
	}

	o.Items = items

	return o, nil
}

func (r *ordersRepo) InsertItem(ctx context.Context, tx *sql.Tx, item models.OrderItem) (models.OrderItem, error) {
	if item.Quantity <= 0 {
		item.Quantity = 1
	}

	err := tx.QueryRowContext(ctx, `
		INSERT INTO order_items (order_id, position, item_type, bundle_key, product_id, quantity, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, item.OrderID, item.Position, item.ItemType, item.BundleKey, item.ProductID, item.Quantity, item.Meta,
	).Scan(&item.ID)
	if err != nil {
		return models.OrderItem{}, fmt.Errorf("insert order item: %w", err)
	}

	return item, nil
}

func (r *ordersRepo) AppendProviderMetadata(ctx context.Context, tx *sql.Tx, orderID uint64, meta models.Metadata) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE orders SET metadata = metadata || $2::jsonb WHERE id = $1
	`, orderID, meta)
	if err != nil {
		return fmt.Errorf("append order metadata: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return orders.ErrOrderNotFound
	}

	return nil
}

func (r *ordersRepo) ListByAccount(ctx context.Context, q pgutils.Querier, accountID uint64) ([]models.Order, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT o.id, o.account_id, o.status, o.total_cents, o.currency, o.provider_order_id,
			o.merged_from_pending, o.metadata, o.created_at,
			i.id, i.position, i.item_type, i.bundle_key, i.product_id, i.quantity, i.meta
		FROM orders o
		LEFT JOIN order_items i ON i.order_id = o.id
		WHERE o.account_id = $1
		ORDER BY o.id, i.position
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []models.Order
	for rows.Next() {
		var (
			o        models.Order
			itemID   sql.Null[uint64]
			position sql.Null[int]
			itemType sql.Null[string]
			bundle   sql.Null[string]
			product  sql.Null[string]
			quantity sql.Null[int]
			meta     models.Metadata
		)

		err = rows.Scan(&o.ID, &o.AccountID, &o.Status, &o.TotalCents, &o.Currency, &o.ProviderOrderID,
			&o.MergedFromPending, &o.Metadata, &o.CreatedAt,
			&itemID, &position, &itemType, &bundle, &product, &quantity, &meta)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}

		if len(out) == 0 || out[len(out)-1].ID != o.ID {
			o.Items = []models.OrderItem{}
			out = append(out, o)
		}

		if !itemID.Valid {
			continue
		}

		last := &out[len(out)-1]
		last.Items = append(last.Items, models.OrderItem{
			ID:        itemID.V,
			OrderID:   o.ID,
			Position:  position.V,
			ItemType:  itemType.V,
			BundleKey: bundle.V,
			ProductID: product.V,
			Quantity:  quantity.V,
			Meta:      meta,
		})
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}

	return out, nil
}
