package pending

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/fastprodman/studentportal/internal/infra/pgtestutil"
	"github.com/fastprodman/studentportal/internal/infra/pgutils"
	"github.com/fastprodman/studentportal/internal/models"
	"github.com/fastprodman/studentportal/internal/repos/pending"
)

func TestPending_InsertLockDelete(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	repo := New(db)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	err := pgutils.WithTx(ctx, db, func(tx *sql.Tx) error {
		_, err := repo.InsertCredit(ctx, tx, models.PendingCredit{
			Email: "A@B.com", Delta: -1, TypeBreakdown: models.Breakdown{"guitar": 1}, Source: models.SourceClassBooking,
		})
		if err != nil {
			return err
		}
		_, err = repo.InsertDownload(ctx, tx, models.PendingDownload{Email: "a@b.com", ProductID: "ebook"})
		if err != nil {
			return err
		}
		_, err = repo.InsertOrder(ctx, tx, models.PendingOrder{
			Email: "a@b.com",
			Cart:  models.Cart{{"type": "credit_bundle", "credits": float64(5), "creditType": "Any"}},
		})
		if err != nil {
			return err
		}
		_, err = repo.InsertSubscription(ctx, tx, models.PendingSubscription{
			Email: "a@b.com", PlanType: "monthly", ExternalSubscriptionID: "I-1", Status: models.SubscriptionActive,
		})
		return err
	})
	if err != nil {
		t.Fatalf("seed pending: %v", err)
	}

	counts, err := repo.Counts(ctx, db, "a@b.com")
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts != (pending.Counts{Credits: 1, Downloads: 1, Orders: 1, Subscriptions: 1}) {
		t.Fatalf("unexpected counts: %+v", counts)
	}

	err = pgutils.WithTx(ctx, db, func(tx *sql.Tx) error {
		credits, err := repo.LockCreditsByEmail(ctx, tx, "a@b.com")
		if err != nil {
			return err
		}
		if len(credits) != 1 || credits[0].Delta != -1 || credits[0].TypeBreakdown["guitar"] != 1 {
			t.Errorf("unexpected pending credits: %+v", credits)
		}

		orders, err := repo.LockOrdersByEmail(ctx, tx, "a@b.com")
		if err != nil {
			return err
		}
		if len(orders) != 1 || orders[0].Cart[0]["type"] != "credit_bundle" {
			t.Errorf("cart not preserved: %+v", orders)
		}

		err = repo.MarkFailed(ctx, tx, pending.TableOrders, orders[0].ID, "bad cart")
		if err != nil {
			return err
		}

		return repo.Delete(ctx, tx, pending.TableCredits, credits[0].ID)
	})
	if err != nil {
		t.Fatalf("lock and delete: %v", err)
	}

	snap, err := repo.ListAll(ctx, db)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(snap.Credits) != 0 {
		t.Fatalf("deleted credit still listed: %+v", snap.Credits)
	}
	if len(snap.Orders) != 1 || snap.Orders[0].LastError == nil || *snap.Orders[0].LastError != "bad cart" {
		t.Fatalf("failure reason not recorded: %+v", snap.Orders)
	}
}

func TestPending_DeleteRejectsUnknownTableAndMissingRow(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	repo := New(db)

	err := pgutils.WithTx(t.Context(), db, func(tx *sql.Tx) error {
		return repo.Delete(t.Context(), tx, pending.Table("accounts"), 1)
	})
	if err == nil {
		t.Fatalf("expected error for unknown table")
	}

	err = pgutils.WithTx(t.Context(), db, func(tx *sql.Tx) error {
		return repo.Delete(t.Context(), tx, pending.TableDownloads, 12345)
	})
	if !errors.Is(err, pending.ErrPendingNotFound) {
		t.Fatalf("expected ErrPendingNotFound, got %v", err)
	}
}

func TestPending_SubscriptionByExternalID(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	repo := New(db)
	next := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)

	err := pgutils.WithTx(t.Context(), db, func(tx *sql.Tx) error {
		_, err := repo.InsertSubscription(t.Context(), tx, models.PendingSubscription{
			Email: "sub@b.com", PlanType: "monthly", ExternalSubscriptionID: "I-77", Status: models.SubscriptionCreated,
		})
		return err
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	err = pgutils.WithTx(t.Context(), db, func(tx *sql.Tx) error {
		_, err := repo.InsertSubscription(t.Context(), tx, models.PendingSubscription{
			Email: "other@b.com", PlanType: "monthly", ExternalSubscriptionID: "I-77", Status: models.SubscriptionCreated,
		})
		return err
	})
	if !errors.Is(err, pending.ErrDuplicatePending) {
		t.Fatalf("expected ErrDuplicatePending, got %v", err)
	}

	err = pgutils.WithTx(t.Context(), db, func(tx *sql.Tx) error {
		s, err := repo.LockSubscriptionByExternalID(t.Context(), tx, "I-77")
		if err != nil {
			return err
		}

		return repo.UpdateSubscriptionStatus(t.Context(), tx, s.ID, models.SubscriptionActive, &next)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	err = pgutils.WithTx(t.Context(), db, func(tx *sql.Tx) error {
		s, err := repo.LockSubscriptionByExternalID(t.Context(), tx, "I-77")
		if err != nil {
			return err
		}
		if s.Status != models.SubscriptionActive || s.NextBillingDate == nil || !s.NextBillingDate.Equal(next) {
			t.Errorf("status update not applied: %+v", s)
		}

		_, err = repo.LockSubscriptionByExternalID(t.Context(), tx, "I-missing")
		if !errors.Is(err, pending.ErrPendingNotFound) {
			t.Errorf("expected ErrPendingNotFound, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
}
