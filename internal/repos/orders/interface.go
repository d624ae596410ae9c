package orders

import (
	"context"
	"database/sql"

	"github.com/fastprodman/studentportal/internal/apperr"
	"github.com/fastprodman/studentportal/internal/infra/pgutils"
	"github.com/fastprodman/studentportal/internal/models"
)

var ErrOrderNotFound = apperr.New(apperr.ErrNotFound, "order not found")

// Orders are immutable once created, apart from appended provider metadata.
type Orders interface {
	// Insert writes the order row and every item in o.Items.
	Insert(ctx context.Context, tx *sql.Tx, o models.Order) (models.Order, error)
	InsertItem(ctx context.Context, tx *sql.Tx, item models.OrderItem) (models.OrderItem, error)
	ListByAccount(ctx context.Context, q pgutils.Querier, accountID uint64) ([]models.Order, error)
	AppendProviderMetadata(ctx context.Context, tx *sql.Tx, orderID uint64, meta models.Metadata) error
}
