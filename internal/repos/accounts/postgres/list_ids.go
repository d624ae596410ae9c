package accounts

import (
	"context"
	"fmt"
)

func (r *accountsRepo) ListIDs(ctx context.Context, afterID uint64, limit int) ([]uint64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM accounts
		WHERE id > $1
		ORDER BY id
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list account ids: %w", err)
	}
	defer rows.Close()

	ids := make([]uint64, 0, limit)
	for rows.Next() {
		var id uint64

		err = rows.Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("scan account id: %w", err)
		}

		ids = append(ids, id)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate account ids: %w", err)
	}

	return ids, nil
}
