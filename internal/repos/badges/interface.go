package badges

import (
	"context"
	"database/sql"

	"github.com/fastprodman/studentportal/internal/infra/pgutils"
	"github.com/fastprodman/studentportal/internal/models"
)

type Badges interface {
	// LockProgress creates the account's record when missing and returns it
	// row-locked for the rest of tx.
	LockProgress(ctx context.Context, tx *sql.Tx, accountID uint64) (models.BadgeProgress, error)
	Save(ctx context.Context, tx *sql.Tx, p models.BadgeProgress) error
	// Get returns an empty record for accounts that never progressed.
	Get(ctx context.Context, q pgutils.Querier, accountID uint64) (models.BadgeProgress, error)
}
