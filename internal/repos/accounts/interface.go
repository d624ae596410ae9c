package accounts

import (
	"context"
	"database/sql"

	"github.com/fastprodman/studentportal/internal/apperr"
	"github.com/fastprodman/studentportal/internal/infra/pgutils"
	"github.com/fastprodman/studentportal/internal/models"
)

var (
	ErrAccountNotFound = apperr.New(apperr.ErrNotFound, "account not found")
	ErrEmailTaken      = apperr.New(apperr.ErrConflict, "email already registered")
)

type Accounts interface {
	Create(ctx context.Context, a models.Account) (models.Account, error)
	GetByID(ctx context.Context, q pgutils.Querier, id uint64) (models.Account, error)
	GetByEmail(ctx context.Context, q pgutils.Querier, email string) (models.Account, error)
	// LockForUpdate takes the row lock that serializes every ledger writer
	// of the account.
	LockForUpdate(ctx context.Context, tx *sql.Tx, id uint64) (models.Account, error)
	// ListIDs pages through account ids greater than afterID.
	ListIDs(ctx context.Context, afterID uint64, limit int) ([]uint64, error)
}
