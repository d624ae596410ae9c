package accounts

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fastprodman/studentportal/internal/models"
)

func (r *accountsRepo) LockForUpdate(ctx context.Context, tx *sql.Tx, id uint64) (models.Account, error) {
	a, err := scanAccount(tx.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return models.Account{}, fmt.Errorf("lock account %d: %w", id, err)
	}

	return a, nil
}
