package downloads

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fastprodman/studentportal/internal/infra/pgutils"
	"github.com/fastprodman/studentportal/internal/models"
	"github.com/fastprodman/studentportal/internal/repos/downloads"
)

var _ downloads.Downloads = (*downloadsRepo)(nil)

type downloadsRepo struct{ db *sql.DB }

func New(db *sql.DB) *downloadsRepo {
	return &downloadsRepo{db: db}
}

func (r *downloadsRepo) Insert(ctx context.Context, tx *sql.Tx, d models.Download) (models.Download, error) {
	err := tx.QueryRowContext(ctx, `
		INSERT INTO downloads (account_id, product_id, file_url, metadata)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, d.AccountID, d.ProductID, d.FileURL, d.Metadata).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return models.Download{}, fmt.Errorf("insert download: %w", err)
	}

	return d, nil
}

func (r *downloadsRepo) ListByAccount(ctx context.Context, q pgutils.Querier, accountID uint64) ([]models.Download, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, account_id, product_id, file_url, metadata, created_at
		FROM downloads
		WHERE account_id = $1
		ORDER BY id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list downloads: %w", err)
	}
	defer rows.Close()

	var out []models.Download
	for rows.Next() {
		var d models.Download

		err = rows.Scan(&d.ID, &d.AccountID, &d.ProductID, &d.FileURL, &d.Metadata, &d.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan download: %w", err)
		}

		out = append(out, d)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate downloads: %w", err)
	}

	return out, nil
}
