package accounts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fastprodman/studentportal/internal/infra/pgtestutil"
)

// A second locker must wait until the first transaction ends.
func TestAccounts_LockForUpdate_Serializes(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	id := pgtestutil.SeedAccount(t, db, "lock@studio.test")
	repo := New(db)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	first, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin first: %v", err)
	}
	defer func() { _ = first.Rollback() }()

	_, err = repo.LockForUpdate(ctx, first, id)
	if err != nil {
		t.Fatalf("lock first: %v", err)
	}

	var (
		wg       sync.WaitGroup
		acquired = make(chan time.Time, 1)
	)

	wg.Add(1)
	go func() {
		defer wg.Done()

		second, err := db.BeginTx(ctx, nil)
		if err != nil {
			t.Errorf("begin second: %v", err)
			return
		}
		defer func() { _ = second.Rollback() }()

		_, err = repo.LockForUpdate(ctx, second, id)
		if err != nil {
			t.Errorf("lock second: %v", err)
			return
		}
		acquired <- time.Now()
	}()

	time.Sleep(200 * time.Millisecond)
	released := time.Now()

	err = first.Commit()
	if err != nil {
		t.Fatalf("commit first: %v", err)
	}

	wg.Wait()

	select {
	case at := <-acquired:
		if at.Before(released) {
			t.Fatalf("second lock acquired before the first was released")
		}
	default:
		t.Fatalf("second locker never acquired the row")
	}
}
