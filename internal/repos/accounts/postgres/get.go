package accounts

import (
	"context"
	"fmt"

	"github.com/fastprodman/studentportal/internal/infra/pgutils"
	"github.com/fastprodman/studentportal/internal/models"
)

func (r *accountsRepo) GetByID(ctx context.Context, q pgutils.Querier, id uint64) (models.Account, error) {
	a, err := scanAccount(q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		return models.Account{}, fmt.Errorf("get account %d: %w", id, err)
	}

	return a, nil
}

func (r *accountsRepo) GetByEmail(ctx context.Context, q pgutils.Querier, email string) (models.Account, error) {
	a, err := scanAccount(q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`, models.NormalizeEmail(email)))
	if err != nil {
		return models.Account{}, fmt.Errorf("get account by email: %w", err)
	}

	return a, nil
}
