package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fastprodman/studentportal/internal/repos/pending"
)

// ReconcileAccount loads the account and reconciles it.
func (e *Engine) ReconcileAccount(ctx context.Context, accountID uint64) (Result, error) {
	acct, err := e.accounts.GetByID(ctx, e.db, accountID)
	if err != nil {
		return Result{}, fmt.Errorf("reconcile account %d: %w", accountID, err)
	}

	return e.Reconcile(ctx, acct)
}

func (e *Engine) ReconcileByEmail(ctx context.Context, email string) (Result, error) {
	acct, err := e.accounts.GetByEmail(ctx, e.db, email)
	if err != nil {
		return Result{}, fmt.Errorf("reconcile %q: %w", email, err)
	}

	return e.Reconcile(ctx, acct)
}

// SyncAll reconciles every account, a page of ids at a time, with at most
// cfg.Concurrency accounts in flight. A failing account is recorded in the
// report and does not stop the run; only ctx cancellation does.
func (e *Engine) SyncAll(ctx context.Context) (SyncReport, error) {
	start := time.Now()

	var (
		mu     sync.Mutex
		report SyncReport
		after  uint64
	)

	for {
		ids, err := e.accounts.ListIDs(ctx, after, e.cfg.PageSize)
		if err != nil {
			return report, fmt.Errorf("sync all: list accounts after %d: %w", after, err)
		}
		if len(ids) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.cfg.Concurrency)

		for _, id := range ids {
			g.Go(func() error {
				if gctx.Err() != nil {
					return gctx.Err()
				}

				res, err := e.ReconcileAccount(gctx, id)

				mu.Lock()
				defer mu.Unlock()

				report.Accounts++
				report.Merged.add(res)

				if err != nil {
					report.Failed = append(report.Failed, AccountFailure{AccountID: id, Err: err, Reason: err.Error()})
				}

				return nil
			})
		}

		err = g.Wait()
		if err != nil {
			return report, fmt.Errorf("sync all: %w", err)
		}

		after = ids[len(ids)-1]
	}

	report.Took = time.Since(start)
	e.metrics.SyncAll(report.Took)

	e.logger.InfoContext(ctx, "sync all finished",
		"accounts", report.Accounts, "merged", report.Merged.Total(),
		"row_failures", len(report.Merged.Failures), "account_failures", len(report.Failed),
		"took", report.Took)

	return report, nil
}

// Pending returns every staged row for operators.
func (e *Engine) Pending(ctx context.Context) (pending.Snapshot, error) {
	snap, err := e.pending.ListAll(ctx, e.db)
	if err != nil {
		return pending.Snapshot{}, fmt.Errorf("pending snapshot: %w", err)
	}

	return snap, nil
}

// PendingCounts reports how many rows are staged for email.
func (e *Engine) PendingCounts(ctx context.Context, email string) (pending.Counts, error) {
	c, err := e.pending.Counts(ctx, e.db, email)
	if err != nil {
		return pending.Counts{}, fmt.Errorf("pending counts: %w", err)
	}

	return c, nil
}
