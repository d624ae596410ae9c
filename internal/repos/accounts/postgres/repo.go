package accounts

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/studentportal/internal/repos/accounts"
	"github.com/fastprodman/studentportal/internal/models"
)

var _ accounts.Accounts = (*accountsRepo)(nil)

type accountsRepo struct{ db *sql.DB }

func New(db *sql.DB) *accountsRepo {
	return &accountsRepo{db: db}
}

const accountColumns = `id, email, name, password_hash, role, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (models.Account, error) {
	var a models.Account

	err := row.Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.Role, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Account{}, accounts.ErrAccountNotFound
		}

		return models.Account{}, fmt.Errorf("scan account: %w", err)
	}

	return a, nil
}
