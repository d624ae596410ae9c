// Package reconcile routes entitlement events to an account's ledger or to
// the email-keyed pending tables, and merges pending rows once the account
// exists.
package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/fastprodman/studentportal/internal/apperr"
	"github.com/fastprodman/studentportal/internal/config"
	"github.com/fastprodman/studentportal/internal/infra/logging"
	"github.com/fastprodman/studentportal/internal/infra/metrics"
	"github.com/fastprodman/studentportal/internal/infra/pgutils"
	"github.com/fastprodman/studentportal/internal/models"
	"github.com/fastprodman/studentportal/internal/repos/accounts"
	pgaccounts "github.com/fastprodman/studentportal/internal/repos/accounts/postgres"
	"github.com/fastprodman/studentportal/internal/repos/downloads"
	pgdownloads "github.com/fastprodman/studentportal/internal/repos/downloads/postgres"
	"github.com/fastprodman/studentportal/internal/repos/idempotency"
	pgidempotency "github.com/fastprodman/studentportal/internal/repos/idempotency/postgres"
	"github.com/fastprodman/studentportal/internal/repos/orders"
	pgorders "github.com/fastprodman/studentportal/internal/repos/orders/postgres"
	"github.com/fastprodman/studentportal/internal/repos/pending"
	pgpending "github.com/fastprodman/studentportal/internal/repos/pending/postgres"
	"github.com/fastprodman/studentportal/internal/repos/subscriptions"
	pgsubscriptions "github.com/fastprodman/studentportal/internal/repos/subscriptions/postgres"
	"github.com/fastprodman/studentportal/internal/services/credits"
)

// Ledger is the part of the credit engine used inside merge and route
// transactions. The caller holds the account lock.
type Ledger interface {
	ApplyTx(
		ctx context.Context, tx *sql.Tx, accountID uint64, amount int64, breakdown models.Breakdown, meta credits.Meta,
	) (credits.Posted, error)
	DeductTx(
		ctx context.Context, tx *sql.Tx, accountID uint64, amount int64, category string, meta credits.Meta,
	) (credits.Posted, error)
	AppendTx(
		ctx context.Context, tx *sql.Tx, accountID uint64, delta int64, breakdown models.Breakdown, meta credits.Meta,
	) (credits.Posted, error)
	NotifyLow(ctx context.Context, p credits.Posted)
}

type Engine struct {
	db            *sql.DB
	ledger        Ledger
	accounts      accounts.Accounts
	pending       pending.Pending
	downloads     downloads.Downloads
	orders        orders.Orders
	subscriptions subscriptions.Subscriptions
	keys          idempotency.Keys
	cfg           config.SyncConfig
	metrics       *metrics.Portal
	logger        *slog.Logger
}

type Option func(*Engine)

func WithMetrics(m *metrics.Portal) Option { return func(e *Engine) { e.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

func New(db *sql.DB, ledger Ledger, cfg config.SyncConfig, opts ...Option) *Engine {
	e := &Engine{
		db:            db,
		ledger:        ledger,
		accounts:      pgaccounts.New(db),
		pending:       pgpending.New(db),
		downloads:     pgdownloads.New(db),
		orders:        pgorders.New(db),
		subscriptions: pgsubscriptions.New(db),
		keys:          pgidempotency.New(db),
		cfg:           cfg,
	}

	for _, o := range opts {
		o(e)
	}

	e.logger = logging.OrDefault(e.logger)
	if e.cfg.Concurrency <= 0 {
		e.cfg.Concurrency = 1
	}
	if e.cfg.PageSize <= 0 {
		e.cfg.PageSize = 500
	}

	return e
}

// Reconcile merges every pending row staged for the account's email, in
// the order credits, downloads, subscriptions, orders. Each category runs
// in its own transaction holding the account lock and the pending row
// locks, so concurrent calls never merge a row twice. A row that fails to
// translate stays pending and is reported in Result.Failures; the returned
// error only covers categories that could not run at all.
func (e *Engine) Reconcile(ctx context.Context, acct models.Account) (Result, error) {
	var (
		res  Result
		errs []error
	)

	steps := []struct {
		table pending.Table
		run   func(context.Context, models.Account) (int, []RecordFailure, error)
	}{
		{pending.TableCredits, e.mergeCredits},
		{pending.TableDownloads, e.mergeDownloads},
		{pending.TableSubscriptions, e.mergeSubscriptions},
		{pending.TableOrders, e.mergeOrders},
	}

	for _, step := range steps {
		n, failures, err := step.run(ctx, acct)
		if err != nil {
			errs = append(errs, fmt.Errorf("merge %s: %w", step.table, err))
			continue
		}

		switch step.table {
		case pending.TableCredits:
			res.Credits = n
		case pending.TableDownloads:
			res.Downloads = n
		case pending.TableSubscriptions:
			res.Subscriptions = n
		case pending.TableOrders:
			res.Orders = n
		}

		res.Failures = append(res.Failures, failures...)

		if n > 0 {
			e.metrics.ReconcileMerged(string(step.table), n)
		}
		for range failures {
			e.metrics.ReconcileFailed(string(step.table))
		}
	}

	if res.Total() > 0 || len(res.Failures) > 0 {
		e.logger.InfoContext(ctx, "pending rows reconciled",
			"account_id", acct.ID, "email", acct.Email,
			"credits", res.Credits, "downloads", res.Downloads,
			"subscriptions", res.Subscriptions, "orders", res.Orders,
			"failures", len(res.Failures))
	}

	for _, f := range res.Failures {
		e.logger.WarnContext(ctx, "pending row left unmerged",
			"account_id", acct.ID, "category", f.Category, "pending_id", f.PendingID, "error", f.Err)
	}

	return res, errors.Join(errs...)
}

// mergeRows runs one category: lock the account, lock the email's rows,
// then apply and delete each row under its own savepoint.
func mergeRows[T any](
	ctx context.Context,
	e *Engine,
	acct models.Account,
	table pending.Table,
	lock func(*sql.Tx) ([]T, error),
	id func(T) uint64,
	apply func(*sql.Tx, T) error,
) (int, []RecordFailure, error) {
	var (
		merged   int
		failures []RecordFailure
	)

	err := pgutils.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		merged, failures = 0, nil

		_, err := e.accounts.LockForUpdate(ctx, tx, acct.ID)
		if err != nil {
			return fmt.Errorf("lock account: %w", err)
		}

		rows, err := lock(tx)
		if err != nil {
			return err
		}

		for _, row := range rows {
			rowID := id(row)

			err := pgutils.WithSavepoint(ctx, tx, "merge_row", func() error {
				err := apply(tx, row)
				if err != nil {
					return err
				}

				return e.pending.Delete(ctx, tx, table, rowID)
			})
			if err == nil {
				merged++
				continue
			}

			failures = append(failures, RecordFailure{Category: table, PendingID: rowID, Err: err, Reason: err.Error()})

			markErr := e.pending.MarkFailed(ctx, tx, table, rowID, err.Error())
			if markErr != nil {
				return fmt.Errorf("record failure of %s %d: %w", table, rowID, markErr)
			}
		}

		return nil
	})
	if err != nil {
		return 0, nil, err
	}

	return merged, failures, nil
}

func (e *Engine) mergeCredits(ctx context.Context, acct models.Account) (int, []RecordFailure, error) {
	var posted []credits.Posted

	n, failures, err := mergeRows(ctx, e, acct, pending.TableCredits,
		func(tx *sql.Tx) ([]models.PendingCredit, error) {
			posted = nil
			return e.pending.LockCreditsByEmail(ctx, tx, acct.Email)
		},
		func(p models.PendingCredit) uint64 { return p.ID },
		func(tx *sql.Tx, p models.PendingCredit) error {
			err := validateBreakdown(p.TypeBreakdown)
			if err != nil {
				return err
			}

			meta := credits.Meta{Source: p.Source, Data: mergedMeta(p.Metadata, p.ID)}
			if !knownSource(meta.Source) {
				meta.Source = models.SourcePendingSync
			}
			if p.IdempotencyKey != nil {
				meta.IdempotencyKey = *p.IdempotencyKey
			}

			// the row's delta was decided when it was staged
			out, err := e.ledger.AppendTx(ctx, tx, acct.ID, p.Delta, p.TypeBreakdown, meta)
			if err != nil {
				return fmt.Errorf("append credit: %w", err)
			}

			posted = append(posted, out)

			return nil
		})
	if err != nil {
		return 0, nil, err
	}

	for _, p := range posted {
		e.ledger.NotifyLow(ctx, p)
	}

	return n, failures, nil
}

func (e *Engine) mergeDownloads(ctx context.Context, acct models.Account) (int, []RecordFailure, error) {
	return mergeRows(ctx, e, acct, pending.TableDownloads,
		func(tx *sql.Tx) ([]models.PendingDownload, error) {
			return e.pending.LockDownloadsByEmail(ctx, tx, acct.Email)
		},
		func(p models.PendingDownload) uint64 { return p.ID },
		func(tx *sql.Tx, p models.PendingDownload) error {
			if p.ProductID == "" {
				return apperr.Invalid("download has no product id")
			}

			_, err := e.downloads.Insert(ctx, tx, models.Download{
				AccountID: acct.ID,
				ProductID: p.ProductID,
				FileURL:   p.FileURL,
				Metadata:  mergedMeta(p.Metadata, p.ID),
			})
			if err != nil {
				return fmt.Errorf("insert download: %w", err)
			}

			return nil
		})
}

func (e *Engine) mergeSubscriptions(ctx context.Context, acct models.Account) (int, []RecordFailure, error) {
	return mergeRows(ctx, e, acct, pending.TableSubscriptions,
		func(tx *sql.Tx) ([]models.PendingSubscription, error) {
			return e.pending.LockSubscriptionsByEmail(ctx, tx, acct.Email)
		},
		func(p models.PendingSubscription) uint64 { return p.ID },
		func(tx *sql.Tx, p models.PendingSubscription) error {
			sub := models.Subscription{
				AccountID:              acct.ID,
				PlanType:               p.PlanType,
				ExternalSubscriptionID: p.ExternalSubscriptionID,
				Status:                 p.Status,
				CreditsPerCycle:        p.CreditsPerCycle,
				CreditType:             p.CreditType,
				NextBillingDate:        p.NextBillingDate,
				Metadata:               mergedMeta(p.Metadata, p.ID),
			}

			err := validateSubscription(&sub)
			if err != nil {
				return err
			}

			_, err = e.subscriptions.Insert(ctx, tx, sub)
			if err != nil {
				return fmt.Errorf("insert subscription: %w", err)
			}

			return nil
		})
}

func (e *Engine) mergeOrders(ctx context.Context, acct models.Account) (int, []RecordFailure, error) {
	var posted []credits.Posted

	n, failures, err := mergeRows(ctx, e, acct, pending.TableOrders,
		func(tx *sql.Tx) ([]models.PendingOrder, error) {
			posted = nil
			return e.pending.LockOrdersByEmail(ctx, tx, acct.Email)
		},
		func(p models.PendingOrder) uint64 { return p.ID },
		func(tx *sql.Tx, p models.PendingOrder) error {
			_, out, err := e.placeOrderTx(ctx, tx, acct.ID, OrderPayload{
				Cart:            p.Cart,
				Status:          p.Status,
				TotalCents:      p.TotalCents,
				Currency:        p.Currency,
				ProviderOrderID: p.ProviderOrderID,
				Metadata:        mergedMeta(p.Metadata, p.ID),
			}, true)
			if err != nil {
				return err
			}

			posted = append(posted, out...)

			return nil
		})
	if err != nil {
		return 0, nil, err
	}

	for _, p := range posted {
		e.ledger.NotifyLow(ctx, p)
	}

	return n, failures, nil
}

// placeOrderTx writes the order, its expanded items and one credit grant
// per credit bundle. Direct orders and merged pending orders share it.
func (e *Engine) placeOrderTx(
	ctx context.Context, tx *sql.Tx, accountID uint64, p OrderPayload, merged bool,
) (models.Order, []credits.Posted, error) {
	items, grants, err := expandCart(p.Cart)
	if err != nil {
		return models.Order{}, nil, err
	}

	if p.Status == "" {
		p.Status = models.OrderCompleted
	}

	order, err := e.orders.Insert(ctx, tx, models.Order{
		AccountID:         accountID,
		Status:            p.Status,
		TotalCents:        p.TotalCents,
		Currency:          p.Currency,
		ProviderOrderID:   p.ProviderOrderID,
		MergedFromPending: merged,
		Metadata:          p.Metadata,
		Items:             items,
	})
	if err != nil {
		return models.Order{}, nil, fmt.Errorf("insert order: %w", err)
	}

	posted := make([]credits.Posted, 0, len(grants))

	for _, g := range grants {
		orderID := order.ID

		out, err := e.ledger.ApplyTx(ctx, tx, accountID, g.Credits, g.breakdown(), credits.Meta{
			Source:  models.SourceOrderPurchase,
			OrderID: &orderID,
			Data:    models.Metadata{"bundleKey": g.BundleKey, "position": g.Position},
		})
		if err != nil {
			return models.Order{}, nil, fmt.Errorf("credit bundle %d: %w", g.Position, err)
		}

		posted = append(posted, out)
	}

	return order, posted, nil
}

// mergedMeta copies the staged metadata and marks where it came from.
func mergedMeta(src models.Metadata, pendingID uint64) models.Metadata {
	out := models.Metadata{}
	maps.Copy(out, src)
	out["mergedFromPending"] = true
	out["pendingId"] = pendingID

	return out
}

func knownSource(s models.CreditSource) bool {
	switch s {
	case models.SourcePurchase, models.SourceOrderPurchase, models.SourceSubscriptionRenewal,
		models.SourceClassBooking, models.SourceRefund, models.SourceSystem, models.SourcePendingSync:
		return true
	default:
		return false
	}
}

func validateBreakdown(b models.Breakdown) error {
	for category, magnitude := range b {
		if category == "" {
			return apperr.Invalid("credit category must not be empty")
		}
		if magnitude < 0 {
			return apperr.Invalid("credit category %q magnitude must be >= 0, got %d", category, magnitude)
		}
	}

	return nil
}

func validateSubscription(s *models.Subscription) error {
	if s.Status == "" {
		s.Status = models.SubscriptionCreated
	}

	switch {
	case s.ExternalSubscriptionID == "":
		return apperr.Invalid("subscription has no external id")
	case s.PlanType == "":
		return apperr.Invalid("subscription has no plan type")
	case !s.Status.Valid():
		return apperr.Invalid("unknown subscription status %q", s.Status)
	case s.CreditsPerCycle < 0:
		return apperr.Invalid("creditsPerCycle must be >= 0, got %d", s.CreditsPerCycle)
	}

	if s.CreditType == "" {
		s.CreditType = "Any"
	}

	return nil
}
