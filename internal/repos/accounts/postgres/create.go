package accounts

import (
	"context"
	"fmt"

	"github.com/fastprodman/studentportal/internal/apperr"
	"github.com/fastprodman/studentportal/internal/infra/pgutils"
	"github.com/fastprodman/studentportal/internal/models"
	"github.com/fastprodman/studentportal/internal/repos/accounts"
)

func (r *accountsRepo) Create(ctx context.Context, a models.Account) (models.Account, error) {
	email := models.NormalizeEmail(a.Email)
	if email == "" {
		return models.Account{}, apperr.Invalid("email required")
	}

	if a.Role == "" {
		a.Role = models.RoleStudent
	}

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO accounts (email, name, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING `+accountColumns,
		email, a.Name, a.PasswordHash, a.Role)

	created, err := scanAccount(row)
	if err != nil {
		if pgutils.IsUniqueViolation(err) {
			return models.Account{}, accounts.ErrEmailTaken
		}

		return models.Account{}, fmt.Errorf("insert account: %w", err)
	}

	return created, nil
}
