package credits

import (
	"errors"
	"sync"
	"testing"

	"github.com/fastprodman/studentportal/internal/apperr"
	"github.com/fastprodman/studentportal/internal/config"
	"github.com/fastprodman/studentportal/internal/infra/logging"
	"github.com/fastprodman/studentportal/internal/infra/pgtestutil"
	"github.com/fastprodman/studentportal/internal/models"
	"github.com/fastprodman/studentportal/internal/notify"
	"github.com/fastprodman/studentportal/internal/repos/accounts"
)

func newTestService(t *testing.T, every bool) (*Service, *notify.Recorder, func(), func(string) uint64) {
	t.Helper()

	db, cleanup := pgtestutil.NewTestDB(t)
	rec := &notify.Recorder{}

	svc := New(db, config.CreditsConfig{LowCreditThreshold: 2, NotifyEveryLowWrite: every},
		WithNotifier(rec), WithLogger(logging.Discard()))

	seed := func(email string) uint64 { return pgtestutil.SeedAccount(t, db, email) }

	return svc, rec, cleanup, seed
}

func TestService_ApplyToEmptyAccount(t *testing.T) {
	t.Parallel()

	svc, rec, cleanup, seed := newTestService(t, false)
	defer cleanup()

	acct := seed("vocal@studio.test")

	bal, err := svc.Apply(t.Context(), acct, 10, models.Breakdown{"Vocal": 10}, Meta{})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if bal.Total != 10 || bal.ByType["Vocal"] != 10 {
		t.Fatalf("want total=10 Vocal=10, got %+v", bal)
	}

	stored, err := svc.Balance(t.Context(), acct)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if stored.Total != bal.Total || stored.ByType["Vocal"] != 10 {
		t.Fatalf("folded balance %+v differs from returned %+v", stored, bal)
	}

	if n := len(rec.LowCreditsSent()); n != 0 {
		t.Fatalf("no low-credit notification expected, got %d", n)
	}
}

func TestService_DeductCrossingThresholdNotifiesOnce(t *testing.T) {
	t.Parallel()

	svc, rec, cleanup, seed := newTestService(t, false)
	defer cleanup()

	acct := seed("low@studio.test")

	_, err := svc.Apply(t.Context(), acct, 9, models.Breakdown{"Vocal": 9}, Meta{})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	bal, err := svc.Deduct(t.Context(), acct, 8, "Vocal", Meta{})
	if err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if bal.Total != 1 {
		t.Fatalf("want total 1, got %d", bal.Total)
	}

	sent := rec.LowCreditsSent()
	if len(sent) != 1 {
		t.Fatalf("want exactly one low-credit notification, got %d", len(sent))
	}
	if sent[0].AccountID != acct || sent[0].RemainingTotal != 1 {
		t.Fatalf("unexpected notification: %+v", sent[0])
	}

	// already below threshold: debounced
	_, err = svc.Deduct(t.Context(), acct, 1, "Vocal", Meta{})
	if err != nil {
		t.Fatalf("second deduct: %v", err)
	}
	if n := len(rec.LowCreditsSent()); n != 1 {
		t.Fatalf("debounced mode should not notify again, got %d", n)
	}
}

func TestService_NotifyEveryLowWrite(t *testing.T) {
	t.Parallel()

	svc, rec, cleanup, seed := newTestService(t, true)
	defer cleanup()

	acct := seed("noisy@studio.test")

	for range 3 {
		_, err := svc.Apply(t.Context(), acct, 0, nil, Meta{})
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
	}

	if n := len(rec.LowCreditsSent()); n != 3 {
		t.Fatalf("every-write mode: want 3 notifications, got %d", n)
	}
}

func TestService_DeductFloorsAtZero(t *testing.T) {
	t.Parallel()

	svc, _, cleanup, seed := newTestService(t, false)
	defer cleanup()

	acct := seed("floor@studio.test")

	_, err := svc.Apply(t.Context(), acct, 3, models.Breakdown{"dance": 3}, Meta{})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	bal, err := svc.Deduct(t.Context(), acct, 10, "dance", Meta{})
	if err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if bal.Total != 0 || bal.ByType["dance"] != 0 {
		t.Fatalf("want zeroed balance, got %+v", bal)
	}

	h, err := svc.History(t.Context(), acct)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	last := h.Transactions[len(h.Transactions)-1]
	if last.Delta != -3 {
		t.Fatalf("clamped row delta: want -3, got %d", last.Delta)
	}
	if last.Metadata["clamped"] != true {
		t.Fatalf("clamped row should be marked, metadata=%v", last.Metadata)
	}
}

func TestService_RefundUsesRefundSource(t *testing.T) {
	t.Parallel()

	svc, _, cleanup, seed := newTestService(t, false)
	defer cleanup()

	acct := seed("refund@studio.test")

	bal, err := svc.Refund(t.Context(), acct, 1, "guitar", Meta{Data: models.Metadata{"reason": "class_cancelled"}})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if bal.Total != 1 || bal.ByType["guitar"] != 1 {
		t.Fatalf("unexpected balance %+v", bal)
	}

	h, err := svc.History(t.Context(), acct)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if h.Transactions[0].Source != models.SourceRefund {
		t.Fatalf("want refund source, got %q", h.Transactions[0].Source)
	}
}

func TestService_Validation(t *testing.T) {
	t.Parallel()

	svc, _, cleanup, seed := newTestService(t, false)
	defer cleanup()

	acct := seed("invalid@studio.test")

	tests := []struct {
		name    string
		call    func() error
		wantErr error
	}{
		{
			name: "negative apply",
			call: func() error {
				_, err := svc.Apply(t.Context(), acct, -1, nil, Meta{})
				return err
			},
			wantErr: apperr.ErrInvalidInput,
		},
		{
			name: "zero deduct",
			call: func() error {
				_, err := svc.Deduct(t.Context(), acct, 0, "", Meta{})
				return err
			},
			wantErr: apperr.ErrInvalidInput,
		},
		{
			name: "negative breakdown magnitude",
			call: func() error {
				_, err := svc.Apply(t.Context(), acct, 1, models.Breakdown{"Vocal": -1}, Meta{})
				return err
			},
			wantErr: apperr.ErrInvalidInput,
		},
		{
			name: "missing account",
			call: func() error {
				_, err := svc.Apply(t.Context(), 987654, 1, nil, Meta{})
				return err
			},
			wantErr: accounts.ErrAccountNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("want %v, got %v", tt.wantErr, err)
			}
		})
	}

	h, err := svc.History(t.Context(), acct)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(h.Transactions) != 0 {
		t.Fatalf("rejected calls must not write, got %d rows", len(h.Transactions))
	}
}

func TestService_IdempotencyKeyReplay(t *testing.T) {
	t.Parallel()

	svc, _, cleanup, seed := newTestService(t, false)
	defer cleanup()

	acct := seed("replay@studio.test")
	meta := Meta{IdempotencyKey: "order-991"}

	_, err := svc.Apply(t.Context(), acct, 5, nil, meta)
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}

	_, err = svc.Apply(t.Context(), acct, 5, nil, meta)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("replay: want ErrDuplicate, got %v", err)
	}

	bal, err := svc.Balance(t.Context(), acct)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Total != 5 {
		t.Fatalf("replay must not double-apply, total=%d", bal.Total)
	}
}

// Concurrent deductions serialize on the account row, so the floor holds.
func TestService_Deduct_ConcurrentFloor(t *testing.T) {
	t.Parallel()

	svc, _, cleanup, seed := newTestService(t, false)
	defer cleanup()

	acct := seed("race@studio.test")

	_, err := svc.Apply(t.Context(), acct, 5, models.Breakdown{"Any": 5}, Meta{})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	const workers = 12

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := svc.Deduct(t.Context(), acct, 1, "Any", Meta{})
			if err != nil {
				t.Errorf("deduct: %v", err)
			}
		}()
	}
	wg.Wait()

	bal, err := svc.Balance(t.Context(), acct)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Total != 0 || bal.ByType["Any"] != 0 {
		t.Fatalf("want zero balance after over-deduction, got %+v", bal)
	}
}
