package credits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/fastprodman/studentportal/internal/apperr"
	"github.com/fastprodman/studentportal/internal/config"
	"github.com/fastprodman/studentportal/internal/infra/logging"
	"github.com/fastprodman/studentportal/internal/infra/metrics"
	"github.com/fastprodman/studentportal/internal/infra/pgutils"
	"github.com/fastprodman/studentportal/internal/models"
	"github.com/fastprodman/studentportal/internal/notify"
	"github.com/fastprodman/studentportal/internal/repos/accounts"
	pgaccounts "github.com/fastprodman/studentportal/internal/repos/accounts/postgres"
	"github.com/fastprodman/studentportal/internal/repos/credits"
	pgcredits "github.com/fastprodman/studentportal/internal/repos/credits/postgres"
	"github.com/fastprodman/studentportal/internal/repos/idempotency"
	pgidempotency "github.com/fastprodman/studentportal/internal/repos/idempotency/postgres"
)

const claimKind = "credit"

type Service struct {
	db       *sql.DB
	accounts accounts.Accounts
	ledger   credits.Credits
	keys     idempotency.Keys
	cfg      config.CreditsConfig
	notifier notify.Notifier
	metrics  *metrics.Portal
	logger   *slog.Logger
}

type Option func(*Service)

func WithNotifier(n notify.Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithMetrics(m *metrics.Portal) Option { return func(s *Service) { s.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func New(db *sql.DB, cfg config.CreditsConfig, opts ...Option) *Service {
	s := &Service{
		db:       db,
		accounts: pgaccounts.New(db),
		ledger:   pgcredits.New(db),
		keys:     pgidempotency.New(db),
		cfg:      cfg,
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

// Apply appends a non-negative credit grant.
func (s *Service) Apply(
	ctx context.Context, accountID uint64, amount int64, breakdown models.Breakdown, meta Meta,
) (Balance, error) {
	return s.write(ctx, accountID, meta, func(tx *sql.Tx) (Posted, error) {
		return s.ApplyTx(ctx, tx, accountID, amount, breakdown, meta)
	})
}

// Deduct appends a negative row. The total and the category balance are
// clamped at zero; the requested amount is kept in the row's metadata.
func (s *Service) Deduct(
	ctx context.Context, accountID uint64, amount int64, category string, meta Meta,
) (Balance, error) {
	return s.write(ctx, accountID, meta, func(tx *sql.Tx) (Posted, error) {
		return s.DeductTx(ctx, tx, accountID, amount, category, meta)
	})
}

// Refund is Apply with the refund source, kept separate for the audit trail.
func (s *Service) Refund(
	ctx context.Context, accountID uint64, amount int64, category string, meta Meta,
) (Balance, error) {
	meta.Source = models.SourceRefund

	breakdown := models.Breakdown{}
	if category != "" {
		breakdown[category] = amount
	}

	return s.Apply(ctx, accountID, amount, breakdown, meta)
}

func (s *Service) write(
	ctx context.Context, accountID uint64, meta Meta, fn func(tx *sql.Tx) (Posted, error),
) (Balance, error) {
	var posted Posted

	err := pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := s.accounts.LockForUpdate(ctx, tx, accountID)
		if err != nil {
			return fmt.Errorf("lock account: %w", err)
		}

		if meta.IdempotencyKey != "" {
			err = s.keys.Claim(ctx, tx, meta.IdempotencyKey, claimKind)
			if errors.Is(err, idempotency.ErrAlreadyClaimed) {
				return ErrDuplicate
			}
			if err != nil {
				return fmt.Errorf("claim key: %w", err)
			}
		}

		posted, err = fn(tx)
		return err
	})
	if err != nil {
		return Balance{}, fmt.Errorf("credit write: %w", err)
	}

	s.NotifyLow(ctx, posted)

	return posted.After, nil
}

// ApplyTx appends a grant inside tx. The caller must hold the account lock
// and call NotifyLow after commit.
func (s *Service) ApplyTx(
	ctx context.Context, tx *sql.Tx, accountID uint64, amount int64, breakdown models.Breakdown, meta Meta,
) (Posted, error) {
	if amount < 0 {
		return Posted{}, fmt.Errorf("%w: apply needs amount >= 0, got %d", ErrInvalidAmount, amount)
	}

	err := validateBreakdown(breakdown)
	if err != nil {
		return Posted{}, err
	}

	if meta.Source == "" {
		meta.Source = models.SourcePurchase
	}

	return s.post(ctx, tx, accountID, meta, func(Balance) (int64, models.Breakdown, models.Metadata) {
		return amount, breakdown, nil
	})
}

// DeductTx is the in-transaction form of Deduct.
func (s *Service) DeductTx(
	ctx context.Context, tx *sql.Tx, accountID uint64, amount int64, category string, meta Meta,
) (Posted, error) {
	if amount <= 0 {
		return Posted{}, fmt.Errorf("%w: deduct needs amount > 0, got %d", ErrInvalidAmount, amount)
	}

	if meta.Source == "" {
		meta.Source = models.SourceClassBooking
	}

	category = strings.TrimSpace(category)

	return s.post(ctx, tx, accountID, meta, func(before Balance) (int64, models.Breakdown, models.Metadata) {
		delta, breakdown := planDeduction(before, amount, category)

		extra := models.Metadata{"requestedAmount": amount}
		if -delta < amount {
			extra["clamped"] = true
		}

		return delta, breakdown, extra
	})
}

// AppendTx writes delta and breakdown verbatim. Used when replaying rows
// that were already decided elsewhere, like merged pending credits.
func (s *Service) AppendTx(
	ctx context.Context, tx *sql.Tx, accountID uint64, delta int64, breakdown models.Breakdown, meta Meta,
) (Posted, error) {
	return s.post(ctx, tx, accountID, meta, func(Balance) (int64, models.Breakdown, models.Metadata) {
		return delta, breakdown, nil
	})
}

type planFunc func(before Balance) (int64, models.Breakdown, models.Metadata)

func (s *Service) post(ctx context.Context, tx *sql.Tx, accountID uint64, meta Meta, plan planFunc) (Posted, error) {
	rows, err := s.ledger.ListByAccount(ctx, tx, accountID)
	if err != nil {
		return Posted{}, fmt.Errorf("load ledger: %w", err)
	}

	before := Fold(rows)
	delta, breakdown, extra := plan(before)

	data := models.Metadata{}
	maps.Copy(data, meta.Data)
	maps.Copy(data, extra)

	row := models.CreditTransaction{
		AccountID:      accountID,
		Delta:          delta,
		TypeBreakdown:  breakdown,
		Source:         meta.Source,
		RelatedOrderID: meta.OrderID,
		Metadata:       data,
	}
	if meta.IdempotencyKey != "" {
		key := meta.IdempotencyKey
		row.IdempotencyKey = &key
	}

	inserted, err := s.ledger.Insert(ctx, tx, row)
	if errors.Is(err, credits.ErrDuplicateKey) {
		return Posted{}, ErrDuplicate
	}
	if err != nil {
		return Posted{}, fmt.Errorf("append ledger row: %w", err)
	}

	s.metrics.LedgerWrite(string(meta.Source))

	return Posted{Txn: inserted, Before: before, After: before.add(delta, breakdown)}, nil
}

// NotifyLow sends the low-credit intent for a committed write. Delivery is
// best effort: failures are logged, the ledger row stands.
func (s *Service) NotifyLow(ctx context.Context, p Posted) {
	if p.Txn.ID == 0 {
		return
	}

	if !lowBalanceCrossed(p.Before.Total, p.After.Total, s.cfg.LowCreditThreshold, s.cfg.NotifyEveryLowWrite) {
		return
	}

	err := s.notifier.LowCredits(ctx, notify.LowCredits{AccountID: p.Txn.AccountID, RemainingTotal: p.After.Total})
	if err != nil {
		s.logger.WarnContext(ctx, "low credit notification failed",
			"account_id", p.Txn.AccountID, "error", err)
	}
}

// Balance folds the account's ledger.
func (s *Service) Balance(ctx context.Context, accountID uint64) (Balance, error) {
	h, err := s.History(ctx, accountID)
	if err != nil {
		return Balance{}, err
	}

	return h.Balance, nil
}

func (s *Service) History(ctx context.Context, accountID uint64) (History, error) {
	_, err := s.accounts.GetByID(ctx, s.db, accountID)
	if err != nil {
		return History{}, fmt.Errorf("credit history: %w", err)
	}

	rows, err := s.ledger.ListByAccount(ctx, s.db, accountID)
	if err != nil {
		return History{}, fmt.Errorf("credit history: %w", err)
	}

	if rows == nil {
		rows = []models.CreditTransaction{}
	}

	return History{Balance: Fold(rows), Transactions: rows}, nil
}

func validateBreakdown(b models.Breakdown) error {
	for category, magnitude := range b {
		if strings.TrimSpace(category) == "" {
			return apperr.Invalid("credit category must not be empty")
		}
		if magnitude < 0 {
			return apperr.Invalid("credit category %q magnitude must be >= 0, got %d", category, magnitude)
		}
	}

	return nil
}
