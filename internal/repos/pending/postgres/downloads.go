package pending

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fastprodman/studentportal/internal/models"
)

const downloadColumns = `id, email, product_id, file_url, metadata, last_error, created_at`

func scanDownload(row rowScanner) (models.PendingDownload, error) {
	var d models.PendingDownload

	err := row.Scan(&d.ID, &d.Email, &d.ProductID, &d.FileURL, &d.Metadata, &d.LastError, &d.CreatedAt)
	if err != nil {
		return models.PendingDownload{}, fmt.Errorf("scan pending download: %w", err)
	}

	return d, nil
}

func (r *pendingRepo) InsertDownload(ctx context.Context, tx *sql.Tx, d models.PendingDownload) (models.PendingDownload, error) {
	out, err := scanDownload(tx.QueryRowContext(ctx, `
		INSERT INTO pending_downloads (email, product_id, file_url, metadata)
		VALUES ($1, $2, $3, $4)
		RETURNING `+downloadColumns,
		models.NormalizeEmail(d.Email), d.ProductID, d.FileURL, d.Metadata))
	if err != nil {
		return models.PendingDownload{}, fmt.Errorf("insert pending download: %w", err)
	}

	return out, nil
}

func (r *pendingRepo) LockDownloadsByEmail(ctx context.Context, tx *sql.Tx, email string) ([]models.PendingDownload, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+downloadColumns+`
		FROM pending_downloads
		WHERE email = $1
		ORDER BY id
		FOR UPDATE
	`, models.NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("lock pending downloads: %w", err)
	}

	return collect(rows, scanDownload)
}
