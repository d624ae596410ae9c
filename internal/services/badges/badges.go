// Package badges keeps per-account progress counters and awards one-time
// badges when a counter reaches a catalog threshold.
package badges

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fastprodman/studentportal/internal/apperr"
	"github.com/fastprodman/studentportal/internal/infra/logging"
	"github.com/fastprodman/studentportal/internal/infra/metrics"
	"github.com/fastprodman/studentportal/internal/infra/pgutils"
	"github.com/fastprodman/studentportal/internal/models"
	"github.com/fastprodman/studentportal/internal/notify"
	"github.com/fastprodman/studentportal/internal/repos/accounts"
	pgaccounts "github.com/fastprodman/studentportal/internal/repos/accounts/postgres"
	"github.com/fastprodman/studentportal/internal/repos/badges"
	pgbadges "github.com/fastprodman/studentportal/internal/repos/badges/postgres"
)

var ErrUnknownKey = apperr.New(apperr.ErrInvalidInput, "unknown progress key")

// Summary is the read model for an account's badges.
type Summary struct {
	Progress      models.Counters  `json:"progress"`
	EarnedBadges  models.StringSet `json:"earnedBadges"`
	UnlockedCodes models.StringSet `json:"unlockedCodes"`
	Badges        []BadgeStatus    `json:"badges"`
}

type BadgeStatus struct {
	Definition
	MaxProgress string `json:"maxProgress"`
	Current     int64  `json:"currentProgress"`
	Earned      bool   `json:"earned"`
}

type Service struct {
	db       *sql.DB
	accounts accounts.Accounts
	progress badges.Badges
	catalog  *Catalog
	notifier notify.Notifier
	metrics  *metrics.Portal
	logger   *slog.Logger
}

type Option func(*Service)

func WithNotifier(n notify.Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithMetrics(m *metrics.Portal) Option { return func(s *Service) { s.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func New(db *sql.DB, catalog *Catalog, opts ...Option) *Service {
	if catalog == nil {
		catalog = DefaultCatalog()
	}

	s := &Service{
		db:       db,
		accounts: pgaccounts.New(db),
		progress: pgbadges.New(db),
		catalog:  catalog,
	}

	for _, o := range opts {
		o(s)
	}

	s.logger = logging.OrDefault(s.logger)
	if s.notifier == nil {
		s.notifier = notify.NewLog(s.logger)
	}

	return s
}

func (s *Service) Catalog() *Catalog { return s.catalog }

// Increment adds amount to the account's counter for key.
func (s *Service) Increment(ctx context.Context, accountID uint64, key string, amount int64) (Unlock, error) {
	if amount <= 0 {
		return Unlock{}, apperr.Invalid("increment amount must be > 0, got %d", amount)
	}

	return s.update(ctx, accountID, key, func(current int64) int64 {
		return current + amount
	})
}

// SetTo raises the counter for key to value. A lower value leaves the
// counter unchanged so progress stays monotonic.
func (s *Service) SetTo(ctx context.Context, accountID uint64, key string, value int64) (Unlock, error) {
	if value < 0 {
		return Unlock{}, apperr.Invalid("progress value must be >= 0, got %d", value)
	}

	return s.update(ctx, accountID, key, func(current int64) int64 {
		return max(current, value)
	})
}

func (s *Service) update(ctx context.Context, accountID uint64, key string, next func(int64) int64) (Unlock, error) {
	key = strings.TrimSpace(key)
	if !s.catalog.HasKey(key) {
		return Unlock{}, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}

	var u Unlock

	err := pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := s.accounts.GetByID(ctx, tx, accountID)
		if err != nil {
			return fmt.Errorf("get account: %w", err)
		}

		p, err := s.progress.LockProgress(ctx, tx, accountID)
		if err != nil {
			return fmt.Errorf("lock progress: %w", err)
		}

		p.Progress[key] = next(p.Progress[key])
		u = evaluate(&p, s.catalog, key)

		return s.progress.Save(ctx, tx, p)
	})
	if err != nil {
		return Unlock{}, fmt.Errorf("update progress %q: %w", key, err)
	}

	s.announce(ctx, accountID, u)

	return u, nil
}

func (s *Service) announce(ctx context.Context, accountID uint64, u Unlock) {
	if u.Empty() {
		return
	}

	for _, b := range u.Badges {
		s.metrics.BadgeEarned(b)
	}

	s.logger.InfoContext(ctx, "badges earned",
		"account_id", accountID, "progress_key", u.Key, "badges", u.Badges, "codes", u.Codes)

	err := s.notifier.BadgesEarned(ctx, notify.BadgesEarned{AccountID: accountID, Badges: u.Badges, Codes: u.Codes})
	if err != nil {
		s.logger.WarnContext(ctx, "badge notification failed", "account_id", accountID, "error", err)
	}
}

// Progress returns counters, earned sets and every catalog badge with its
// status for the account.
func (s *Service) Progress(ctx context.Context, accountID uint64) (Summary, error) {
	_, err := s.accounts.GetByID(ctx, s.db, accountID)
	if err != nil {
		return Summary{}, fmt.Errorf("badge progress: %w", err)
	}

	p, err := s.progress.Get(ctx, s.db, accountID)
	if err != nil {
		return Summary{}, fmt.Errorf("badge progress: %w", err)
	}

	sum := Summary{
		Progress:      p.Progress,
		EarnedBadges:  p.EarnedBadges,
		UnlockedCodes: p.UnlockedCodes,
	}

	for _, d := range s.catalog.All() {
		sum.Badges = append(sum.Badges, BadgeStatus{
			Definition:  d,
			MaxProgress: d.MaxProgress.String(),
			Current:     p.Progress[d.ProgressKey],
			Earned:      p.EarnedBadges.Has(d.Name),
		})
	}

	return sum, nil
}
