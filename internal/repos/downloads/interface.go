package downloads

import (
	"context"
	"database/sql"

	"github.com/fastprodman/studentportal/internal/infra/pgutils"
	"github.com/fastprodman/studentportal/internal/models"
)

// Downloads grants permanent product access. Duplicate grants are allowed.
type Downloads interface {
	Insert(ctx context.Context, tx *sql.Tx, d models.Download) (models.Download, error)
	ListByAccount(ctx context.Context, q pgutils.Querier, accountID uint64) ([]models.Download, error)
}
