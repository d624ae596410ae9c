package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/studentportal/internal/apperr"
	"github.com/fastprodman/studentportal/internal/infra/pgutils"
	"github.com/fastprodman/studentportal/internal/models"
	"github.com/fastprodman/studentportal/internal/repos/accounts"
	"github.com/fastprodman/studentportal/internal/repos/idempotency"
	"github.com/fastprodman/studentportal/internal/services/credits"
)

// RouteEvent applies an entitlement event to its account, or stages it
// under the email when no account exists. An existing account is
// reconciled before the event is applied. With an idempotency key, a
// second delivery reports OutcomeDuplicate and writes nothing.
func (e *Engine) RouteEvent(ctx context.Context, req RouteRequest) (RouteResult, error) {
	err := validateRequest(&req)
	if err != nil {
		return RouteResult{}, err
	}

	acct, found, err := e.resolveAccount(ctx, req)
	if err != nil {
		return RouteResult{}, err
	}

	var res RouteResult
	if found {
		res, err = e.applyEvent(ctx, acct, req)
	} else {
		res, err = e.stageEvent(ctx, req)
	}

	switch {
	case errors.Is(err, ErrDuplicateEvent):
		e.metrics.RouteOutcome(string(req.Kind), string(OutcomeDuplicate))
		e.logger.InfoContext(ctx, "duplicate event ignored", "kind", req.Kind, "key", req.IdempotencyKey)

		return RouteResult{Outcome: OutcomeDuplicate}, nil
	case err != nil:
		e.metrics.RouteOutcome(string(req.Kind), "error")
		return RouteResult{}, fmt.Errorf("route %s: %w", req.Kind, err)
	}

	e.metrics.RouteOutcome(string(req.Kind), string(res.Outcome))

	return res, nil
}

func validateRequest(req *RouteRequest) error {
	req.Email = models.NormalizeEmail(req.Email)

	if !req.Kind.Valid() {
		return apperr.Invalid("unknown event kind %q", req.Kind)
	}
	if req.Email == "" && req.AccountID == nil {
		return apperr.Invalid("email or account id is required")
	}

	switch req.Kind {
	case KindCredit:
		if req.Credit == nil {
			return apperr.Invalid("credit payload is required")
		}
		return validateBreakdown(req.Credit.TypeBreakdown)
	case KindDownload:
		if req.Download == nil || req.Download.ProductID == "" {
			return apperr.Invalid("download productId is required")
		}
	case KindOrder:
		if req.Order == nil || req.Order.Cart == nil {
			return apperr.Invalid("order cart is required")
		}
		_, _, err := expandCart(req.Order.Cart)
		return err
	case KindSubscription:
		if req.Subscription == nil {
			return apperr.Invalid("subscription payload is required")
		}
		sub := subscriptionRecord(0, *req.Subscription)
		return validateSubscription(&sub)
	}

	return nil
}

// resolveAccount looks the account up by id, else by email. A request
// naming an account id that does not exist falls back to its email.
func (e *Engine) resolveAccount(ctx context.Context, req RouteRequest) (models.Account, bool, error) {
	if req.AccountID != nil {
		acct, err := e.accounts.GetByID(ctx, e.db, *req.AccountID)
		if err == nil {
			return acct, true, nil
		}
		if !errors.Is(err, accounts.ErrAccountNotFound) {
			return models.Account{}, false, fmt.Errorf("resolve account: %w", err)
		}
		if req.Email == "" {
			return models.Account{}, false, fmt.Errorf("resolve account %d: %w", *req.AccountID, err)
		}
	}

	acct, err := e.accounts.GetByEmail(ctx, e.db, req.Email)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return models.Account{}, false, nil
	}
	if err != nil {
		return models.Account{}, false, fmt.Errorf("resolve account: %w", err)
	}

	return acct, true, nil
}

func (e *Engine) claim(ctx context.Context, tx *sql.Tx, req RouteRequest) error {
	if req.IdempotencyKey == "" {
		return nil
	}

	err := e.keys.Claim(ctx, tx, req.IdempotencyKey, "route:"+string(req.Kind))
	if errors.Is(err, idempotency.ErrAlreadyClaimed) {
		return ErrDuplicateEvent
	}
	if err != nil {
		return fmt.Errorf("claim key: %w", err)
	}

	return nil
}

func (e *Engine) applyEvent(ctx context.Context, acct models.Account, req RouteRequest) (RouteResult, error) {
	merged, err := e.Reconcile(ctx, acct)
	if err != nil {
		// the event itself can still be applied
		e.logger.WarnContext(ctx, "reconcile before route failed", "account_id", acct.ID, "error", err)
	}

	var (
		record any
		posted []credits.Posted
	)

	err = pgutils.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		record, posted = nil, nil

		_, err := e.accounts.LockForUpdate(ctx, tx, acct.ID)
		if err != nil {
			return fmt.Errorf("lock account: %w", err)
		}

		err = e.claim(ctx, tx, req)
		if err != nil {
			return err
		}

		switch req.Kind {
		case KindCredit:
			p, err := e.applyCredit(ctx, tx, acct.ID, req)
			if err != nil {
				return err
			}
			record, posted = p.Txn, []credits.Posted{p}
		case KindDownload:
			d := req.Download
			record, err = e.downloads.Insert(ctx, tx, models.Download{
				AccountID: acct.ID, ProductID: d.ProductID, FileURL: d.FileURL, Metadata: d.Metadata,
			})
		case KindOrder:
			record, posted, err = e.placeOrderTx(ctx, tx, acct.ID, *req.Order, false)
		case KindSubscription:
			record, err = e.subscriptions.Insert(ctx, tx, subscriptionRecord(acct.ID, *req.Subscription))
		}

		return err
	})
	if err != nil {
		return RouteResult{}, unwrapDuplicate(err)
	}

	for _, p := range posted {
		e.ledger.NotifyLow(ctx, p)
	}

	id := acct.ID

	return RouteResult{Outcome: OutcomeApplied, AccountID: &id, Merged: &merged, Record: record}, nil
}

// applyCredit grants non-negative deltas and deducts negative ones. A
// deduction names a category only when the breakdown has exactly one.
func (e *Engine) applyCredit(ctx context.Context, tx *sql.Tx, accountID uint64, req RouteRequest) (credits.Posted, error) {
	c := req.Credit
	meta := credits.Meta{Source: c.Source, IdempotencyKey: req.IdempotencyKey, Data: c.Metadata}

	if c.Delta >= 0 {
		return e.ledger.ApplyTx(ctx, tx, accountID, c.Delta, c.TypeBreakdown, meta)
	}

	var category string
	if len(c.TypeBreakdown) == 1 {
		for k := range c.TypeBreakdown {
			category = k
		}
	}

	return e.ledger.DeductTx(ctx, tx, accountID, -c.Delta, category, meta)
}

func (e *Engine) stageEvent(ctx context.Context, req RouteRequest) (RouteResult, error) {
	if req.Email == "" {
		return RouteResult{}, apperr.Invalid("email is required to stage an event")
	}

	var id uint64

	err := pgutils.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		err := e.claim(ctx, tx, req)
		if err != nil {
			return err
		}

		switch req.Kind {
		case KindCredit:
			c := req.Credit
			row := models.PendingCredit{
				Email: req.Email, Delta: c.Delta, TypeBreakdown: c.TypeBreakdown, Source: c.Source, Metadata: c.Metadata,
			}
			if req.IdempotencyKey != "" {
				key := req.IdempotencyKey
				row.IdempotencyKey = &key
			}

			out, err := e.pending.InsertCredit(ctx, tx, row)
			id = out.ID
			return err
		case KindDownload:
			d := req.Download
			out, err := e.pending.InsertDownload(ctx, tx, models.PendingDownload{
				Email: req.Email, ProductID: d.ProductID, FileURL: d.FileURL, Metadata: d.Metadata,
			})
			id = out.ID
			return err
		case KindOrder:
			o := req.Order
			out, err := e.pending.InsertOrder(ctx, tx, models.PendingOrder{
				Email: req.Email, Status: o.Status, TotalCents: o.TotalCents, Currency: o.Currency,
				ProviderOrderID: o.ProviderOrderID, Cart: o.Cart, Metadata: o.Metadata,
			})
			id = out.ID
			return err
		case KindSubscription:
			s := subscriptionRecord(0, *req.Subscription)
			out, err := e.pending.InsertSubscription(ctx, tx, models.PendingSubscription{
				Email: req.Email, PlanType: s.PlanType, ExternalSubscriptionID: s.ExternalSubscriptionID,
				Status: s.Status, CreditsPerCycle: s.CreditsPerCycle, CreditType: s.CreditType,
				NextBillingDate: s.NextBillingDate, Metadata: s.Metadata,
			})
			id = out.ID
			return err
		}

		return nil
	})
	if err != nil {
		return RouteResult{}, unwrapDuplicate(err)
	}

	e.logger.InfoContext(ctx, "event staged as pending", "kind", req.Kind, "email", req.Email, "pending_id", id)

	return RouteResult{Outcome: OutcomePending, PendingID: id}, nil
}

func subscriptionRecord(accountID uint64, p SubscriptionPayload) models.Subscription {
	s := models.Subscription{
		AccountID:              accountID,
		PlanType:               p.PlanType,
		ExternalSubscriptionID: p.ExternalSubscriptionID,
		Status:                 p.Status,
		CreditsPerCycle:        p.CreditsPerCycle,
		CreditType:             p.CreditType,
		NextBillingDate:        p.NextBillingDate,
		Metadata:               p.Metadata,
	}
	if s.Status == "" {
		s.Status = models.SubscriptionCreated
	}
	if s.CreditType == "" {
		s.CreditType = "Any"
	}

	return s
}

// unwrapDuplicate turns a replay detected anywhere in the transaction into
// ErrDuplicateEvent, including the ledger's own unique key.
func unwrapDuplicate(err error) error {
	if errors.Is(err, ErrDuplicateEvent) || errors.Is(err, credits.ErrDuplicate) {
		return ErrDuplicateEvent
	}

	return err
}
