package badges

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/studentportal/internal/infra/pgutils"
	"github.com/fastprodman/studentportal/internal/models"
	"github.com/fastprodman/studentportal/internal/repos/badges"
)

var _ badges.Badges = (*badgesRepo)(nil)

type badgesRepo struct{ db *sql.DB }

func New(db *sql.DB) *badgesRepo {
	return &badgesRepo{db: db}
}

func (r *badgesRepo) LockProgress(ctx context.Context, tx *sql.Tx, accountID uint64) (models.BadgeProgress, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO badge_progress (account_id) VALUES ($1)
		ON CONFLICT (account_id) DO NOTHING
	`, accountID)
	if err != nil {
		return models.BadgeProgress{}, fmt.Errorf("ensure badge progress: %w", err)
	}

	p, err := scanProgress(tx.QueryRowContext(ctx, `
		SELECT account_id, progress, earned_badges, unlocked_codes, updated_at
		FROM badge_progress
		WHERE account_id = $1
		FOR UPDATE
	`, accountID))
	if err != nil {
		return models.BadgeProgress{}, fmt.Errorf("lock badge progress: %w", err)
	}

	return p, nil
}

func (r *badgesRepo) Save(ctx context.Context, tx *sql.Tx, p models.BadgeProgress) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE badge_progress
		SET progress = $2, earned_badges = $3, unlocked_codes = $4, updated_at = now()
		WHERE account_id = $1
	`, p.AccountID, p.Progress, p.EarnedBadges, p.UnlockedCodes)
	if err != nil {
		return fmt.Errorf("save badge progress: %w", err)
	}

	return nil
}

func (r *badgesRepo) Get(ctx context.Context, q pgutils.Querier, accountID uint64) (models.BadgeProgress, error) {
	p, err := scanProgress(q.QueryRowContext(ctx, `
		SELECT account_id, progress, earned_badges, unlocked_codes, updated_at
		FROM badge_progress
		WHERE account_id = $1
	`, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return emptyProgress(accountID), nil
	}
	if err != nil {
		return models.BadgeProgress{}, fmt.Errorf("get badge progress: %w", err)
	}

	return p, nil
}

func scanProgress(row *sql.Row) (models.BadgeProgress, error) {
	var p models.BadgeProgress

	err := row.Scan(&p.AccountID, &p.Progress, &p.EarnedBadges, &p.UnlockedCodes, &p.UpdatedAt)
	if err != nil {
		return models.BadgeProgress{}, err //nolint:wrapcheck
	}

	if p.Progress == nil {
		p.Progress = models.Counters{}
	}
	if p.EarnedBadges == nil {
		p.EarnedBadges = models.StringSet{}
	}
	if p.UnlockedCodes == nil {
		p.UnlockedCodes = models.StringSet{}
	}

	return p, nil
}

func emptyProgress(accountID uint64) models.BadgeProgress {
	return models.BadgeProgress{
		AccountID:     accountID,
		Progress:      models.Counters{},
		EarnedBadges:  models.StringSet{},
		UnlockedCodes: models.StringSet{},
	}
}
