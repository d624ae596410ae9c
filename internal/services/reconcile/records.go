package reconcile

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fastprodman/studentportal/internal/apperr"
	"github.com/fastprodman/studentportal/internal/infra/pgutils"
	"github.com/fastprodman/studentportal/internal/models"
)

// Downloads lists the account's resolved downloads.
func (e *Engine) Downloads(ctx context.Context, accountID uint64) ([]models.Download, error) {
	out, err := e.downloads.ListByAccount(ctx, e.db, accountID)
	if err != nil {
		return nil, fmt.Errorf("list downloads: %w", err)
	}
	if out == nil {
		out = []models.Download{}
	}

	return out, nil
}

// Orders lists the account's resolved orders with their items.
func (e *Engine) Orders(ctx context.Context, accountID uint64) ([]models.Order, error) {
	out, err := e.orders.ListByAccount(ctx, e.db, accountID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	if out == nil {
		out = []models.Order{}
	}

	return out, nil
}

// AppendOrderMetadata merges provider fields into an order's metadata.
// Nothing else about an order changes after it is placed.
func (e *Engine) AppendOrderMetadata(ctx context.Context, orderID uint64, meta models.Metadata) error {
	if len(meta) == 0 {
		return apperr.Invalid("metadata is empty")
	}

	err := pgutils.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		return e.orders.AppendProviderMetadata(ctx, tx, orderID, meta)
	})
	if err != nil {
		return fmt.Errorf("order %d metadata: %w", orderID, err)
	}

	return nil
}
