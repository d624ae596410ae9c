// Package subscriptions applies provider status changes and renewals to
// subscriptions, whether already resolved or still pending.
package subscriptions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fastprodman/studentportal/internal/apperr"
	"github.com/fastprodman/studentportal/internal/infra/logging"
	"github.com/fastprodman/studentportal/internal/infra/pgutils"
	"github.com/fastprodman/studentportal/internal/models"
	"github.com/fastprodman/studentportal/internal/notify"
	"github.com/fastprodman/studentportal/internal/repos/accounts"
	pgaccounts "github.com/fastprodman/studentportal/internal/repos/accounts/postgres"
	"github.com/fastprodman/studentportal/internal/repos/idempotency"
	pgidempotency "github.com/fastprodman/studentportal/internal/repos/idempotency/postgres"
	"github.com/fastprodman/studentportal/internal/repos/pending"
	pgpending "github.com/fastprodman/studentportal/internal/repos/pending/postgres"
	"github.com/fastprodman/studentportal/internal/repos/subscriptions"
	pgsubscriptions "github.com/fastprodman/studentportal/internal/repos/subscriptions/postgres"
	"github.com/fastprodman/studentportal/internal/services/credits"
)

const (
	renewalKind = "renewal"
	statusKind  = "subscription_status"
)

var (
	ErrDuplicateRenewal = apperr.New(apperr.ErrConflict, "renewal already applied")
	ErrDuplicateStatus  = apperr.New(apperr.ErrConflict, "status change already applied")
)

// Granter is the slice of the credit engine a renewal needs.
type Granter interface {
	ApplyTx(
		ctx context.Context, tx *sql.Tx, accountID uint64, amount int64, breakdown models.Breakdown, meta credits.Meta,
	) (credits.Posted, error)
	NotifyLow(ctx context.Context, p credits.Posted)
}

// Change is the outcome of a status update.
type Change struct {
	ExternalID string                    `json:"externalSubscriptionId"`
	Status     models.SubscriptionStatus `json:"status"`
	Pending    bool                      `json:"pending"`
	AccountID  uint64                    `json:"accountId,omitempty"`
}

type Renewal struct {
	ExternalID     string `json:"externalSubscriptionId"`
	Pending        bool   `json:"pending"`
	AccountID      uint64 `json:"accountId,omitempty"`
	CreditsApplied int64  `json:"creditsApplied"`
}

type Service struct {
	db            *sql.DB
	ledger        Granter
	accounts      accounts.Accounts
	subscriptions subscriptions.Subscriptions
	pending       pending.Pending
	keys          idempotency.Keys
	notifier      notify.Notifier
	logger        *slog.Logger
}

type Option func(*Service)

func WithNotifier(n notify.Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func New(db *sql.DB, ledger Granter, opts ...Option) *Service {
	s := &Service{
		db:            db,
		ledger:        ledger,
		accounts:      pgaccounts.New(db),
		subscriptions: pgsubscriptions.New(db),
		pending:       pgpending.New(db),
		keys:          pgidempotency.New(db),
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

// UpdateStatus moves the subscription with externalID to status. A
// subscription still waiting for its account is updated in the pending
// table and nobody is notified. A non-empty idempotencyKey makes a replay
// fail with ErrDuplicateStatus.
func (s *Service) UpdateStatus(
	ctx context.Context, externalID string, status models.SubscriptionStatus, nextBilling *time.Time,
	idempotencyKey string,
) (Change, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return Change{}, apperr.Invalid("subscription id is required")
	}
	if !status.Valid() {
		return Change{}, apperr.Invalid("unknown subscription status %q", status)
	}

	change := Change{ExternalID: externalID, Status: status}

	err := pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		change.Pending, change.AccountID = false, 0

		err := s.claim(ctx, tx, idempotencyKey, statusKind)
		if err != nil {
			return err
		}

		sub, err := s.subscriptions.LockByExternalID(ctx, tx, externalID)
		if err == nil {
			change.AccountID = sub.AccountID
			return s.subscriptions.UpdateStatus(ctx, tx, sub.ID, status, nextBilling)
		}
		if !errors.Is(err, subscriptions.ErrSubscriptionNotFound) {
			return err
		}

		staged, err := s.pending.LockSubscriptionByExternalID(ctx, tx, externalID)
		if errors.Is(err, pending.ErrPendingNotFound) {
			return subscriptions.ErrSubscriptionNotFound
		}
		if err != nil {
			return err
		}

		change.Pending = true

		return s.pending.UpdateSubscriptionStatus(ctx, tx, staged.ID, status, nextBilling)
	})
	if err != nil {
		return Change{}, fmt.Errorf("update subscription %s: %w", externalID, err)
	}

	s.logger.InfoContext(ctx, "subscription status updated",
		"subscription", externalID, "status", status, "pending", change.Pending)

	if !change.Pending {
		err = s.notifier.SubscriptionStatusChanged(ctx, notify.SubscriptionStatusChanged{
			AccountID: change.AccountID, ExternalID: externalID, Status: status,
		})
		if err != nil {
			s.logger.WarnContext(ctx, "subscription notification failed", "subscription", externalID, "error", err)
		}
	}

	return change, nil
}

// ApplyRenewal grants one billing cycle of credits. For a subscription
// still waiting for its account the grant is staged as a pending credit
// under the subscriber's email. idempotencyKey, when set, makes repeated
// deliveries of the same renewal fail with ErrDuplicateRenewal.
func (s *Service) ApplyRenewal(ctx context.Context, externalID, idempotencyKey string) (Renewal, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return Renewal{}, apperr.Invalid("subscription id is required")
	}

	var (
		out    = Renewal{ExternalID: externalID}
		posted credits.Posted
	)

	err := pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		out.Pending, out.AccountID, out.CreditsApplied = false, 0, 0
		posted = credits.Posted{}

		sub, err := s.subscriptions.LockByExternalID(ctx, tx, externalID)
		if errors.Is(err, subscriptions.ErrSubscriptionNotFound) {
			return s.renewPending(ctx, tx, externalID, idempotencyKey, &out)
		}
		if err != nil {
			return err
		}

		out.AccountID = sub.AccountID

		_, err = s.accounts.LockForUpdate(ctx, tx, sub.AccountID)
		if err != nil {
			return fmt.Errorf("lock account: %w", err)
		}

		err = s.claim(ctx, tx, idempotencyKey, renewalKind)
		if err != nil {
			return err
		}

		if sub.CreditsPerCycle <= 0 {
			return nil
		}

		posted, err = s.ledger.ApplyTx(ctx, tx, sub.AccountID, sub.CreditsPerCycle,
			models.Breakdown{sub.CreditType: sub.CreditsPerCycle}, renewalMeta(sub.ExternalSubscriptionID, idempotencyKey))
		if err != nil {
			return err
		}

		out.CreditsApplied = sub.CreditsPerCycle

		return nil
	})
	if errors.Is(err, credits.ErrDuplicate) {
		err = ErrDuplicateRenewal
	}
	if err != nil {
		return Renewal{}, fmt.Errorf("renew subscription %s: %w", externalID, err)
	}

	s.ledger.NotifyLow(ctx, posted)

	s.logger.InfoContext(ctx, "subscription renewed",
		"subscription", externalID, "credits", out.CreditsApplied, "pending", out.Pending)

	return out, nil
}

func (s *Service) renewPending(ctx context.Context, tx *sql.Tx, externalID, key string, out *Renewal) error {
	staged, err := s.pending.LockSubscriptionByExternalID(ctx, tx, externalID)
	if errors.Is(err, pending.ErrPendingNotFound) {
		return subscriptions.ErrSubscriptionNotFound
	}
	if err != nil {
		return err
	}

	out.Pending = true

	err = s.claim(ctx, tx, key, renewalKind)
	if err != nil {
		return err
	}

	if staged.CreditsPerCycle <= 0 {
		return nil
	}

	meta := renewalMeta(externalID, key)
	row := models.PendingCredit{
		Email:         staged.Email,
		Delta:         staged.CreditsPerCycle,
		TypeBreakdown: models.Breakdown{staged.CreditType: staged.CreditsPerCycle},
		Source:        models.SourceSubscriptionRenewal,
		Metadata:      meta.Data,
	}
	if key != "" {
		row.IdempotencyKey = &key
	}

	_, err = s.pending.InsertCredit(ctx, tx, row)
	if errors.Is(err, pending.ErrDuplicatePending) {
		return ErrDuplicateRenewal
	}
	if err != nil {
		return err
	}

	out.CreditsApplied = staged.CreditsPerCycle

	return nil
}

func (s *Service) claim(ctx context.Context, tx *sql.Tx, key, kind string) error {
	if key == "" {
		return nil
	}

	err := s.keys.Claim(ctx, tx, key, kind)
	if errors.Is(err, idempotency.ErrAlreadyClaimed) {
		if kind == statusKind {
			return ErrDuplicateStatus
		}

		return ErrDuplicateRenewal
	}
	if err != nil {
		return fmt.Errorf("claim key: %w", err)
	}

	return nil
}

func renewalMeta(externalID, key string) credits.Meta {
	return credits.Meta{
		Source:         models.SourceSubscriptionRenewal,
		IdempotencyKey: key,
		Data:           models.Metadata{"subscriptionId": externalID},
	}
}

// ListByAccount returns the account's subscriptions.
func (s *Service) ListByAccount(ctx context.Context, accountID uint64) ([]models.Subscription, error) {
	subs, err := s.subscriptions.ListByAccount(ctx, s.db, accountID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	if subs == nil {
		subs = []models.Subscription{}
	}

	return subs, nil
}
