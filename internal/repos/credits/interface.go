package credits

import (
	"context"
	"database/sql"

	"github.com/fastprodman/studentportal/internal/apperr"
	"github.com/fastprodman/studentportal/internal/infra/pgutils"
	"github.com/fastprodman/studentportal/internal/models"
)

var ErrDuplicateKey = apperr.New(apperr.ErrConflict, "duplicate credit idempotency key")

// Credits is the append-only ledger. There is no update or delete.
type Credits interface {
	Insert(ctx context.Context, tx *sql.Tx, t models.CreditTransaction) (models.CreditTransaction, error)
	ListByAccount(ctx context.Context, q pgutils.Querier, accountID uint64) ([]models.CreditTransaction, error)
	SumDelta(ctx context.Context, q pgutils.Querier, accountID uint64) (int64, error)
}
