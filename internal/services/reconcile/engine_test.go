package reconcile

import (
	"database/sql"
	"fmt"
	"sync"
	"testing"

	"github.com/fastprodman/studentportal/internal/config"
	"github.com/fastprodman/studentportal/internal/infra/logging"
	"github.com/fastprodman/studentportal/internal/infra/pgtestutil"
	"github.com/fastprodman/studentportal/internal/infra/pgutils"
	"github.com/fastprodman/studentportal/internal/models"
	"github.com/fastprodman/studentportal/internal/notify"
	pgpending "github.com/fastprodman/studentportal/internal/repos/pending/postgres"
	"github.com/fastprodman/studentportal/internal/services/credits"
)

type testEnv struct {
	db      *sql.DB
	engine  *Engine
	credits *credits.Service
	notes   *notify.Recorder
}

func newTestEnv(t *testing.T) (*testEnv, func()) {
	t.Helper()

	db, cleanup := pgtestutil.NewTestDB(t)
	rec := &notify.Recorder{}
	logger := logging.Discard()

	ledger := credits.New(db, config.CreditsConfig{LowCreditThreshold: 2},
		credits.WithNotifier(rec), credits.WithLogger(logger))
	engine := New(db, ledger, config.SyncConfig{Concurrency: 3, PageSize: 2}, WithLogger(logger))

	return &testEnv{db: db, engine: engine, credits: ledger, notes: rec}, cleanup
}

func (env *testEnv) stageCredit(t *testing.T, email string, delta int64, breakdown models.Breakdown) {
	t.Helper()

	res, err := env.engine.RouteEvent(t.Context(), RouteRequest{
		Kind:   KindCredit,
		Email:  email,
		Credit: &CreditPayload{Delta: delta, TypeBreakdown: breakdown},
	})
	if err != nil {
		t.Fatalf("stage credit: %v", err)
	}
	if res.Outcome != OutcomePending {
		t.Fatalf("want pending outcome, got %s", res.Outcome)
	}
}

func TestEngine_ReconcileTwiceMergesOnce(t *testing.T) {
	t.Parallel()

	env, cleanup := newTestEnv(t)
	defer cleanup()

	const email = "early@studio.test"

	for range 3 {
		env.stageCredit(t, email, 2, models.Breakdown{"Vocal": 2})
	}

	_, err := env.engine.RouteEvent(t.Context(), RouteRequest{
		Kind: KindDownload, Email: email, Download: &DownloadPayload{ProductID: "songbook"},
	})
	if err != nil {
		t.Fatalf("stage download: %v", err)
	}

	id := pgtestutil.SeedAccount(t, env.db, email)

	first, err := env.engine.ReconcileAccount(t.Context(), id)
	if err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	if first.Credits != 3 || first.Downloads != 1 || len(first.Failures) != 0 {
		t.Fatalf("first reconcile: want 3 credits 1 download, got %+v", first)
	}

	second, err := env.engine.ReconcileAccount(t.Context(), id)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if second.Total() != 0 {
		t.Fatalf("second reconcile must merge nothing, got %+v", second)
	}

	bal, err := env.credits.Balance(t.Context(), id)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Total != 6 || bal.ByType["Vocal"] != 6 {
		t.Fatalf("want 6 Vocal credits, got %+v", bal)
	}

	if n := pgtestutil.Count(t, env.db, "pending_credits", ""); n != 0 {
		t.Fatalf("pending credits left: %d", n)
	}
}

func TestEngine_ConcurrentReconcileNoDoubleMerge(t *testing.T) {
	t.Parallel()

	env, cleanup := newTestEnv(t)
	defer cleanup()

	const (
		email   = "race@studio.test"
		rows    = 10
		callers = 4
	)

	for range rows {
		env.stageCredit(t, email, 1, models.Breakdown{"Dance": 1})
	}

	id := pgtestutil.SeedAccount(t, env.db, email)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)

	errs := make(chan error, callers)

	for range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			res, err := env.engine.ReconcileAccount(t.Context(), id)
			if err != nil {
				errs <- err
				return
			}

			mu.Lock()
			total += res.Credits
			mu.Unlock()
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("reconcile: %v", err)
	}

	if total != rows {
		t.Fatalf("callers merged %d rows in total, want %d", total, rows)
	}

	if n := pgtestutil.Count(t, env.db, "credit_transactions", "account_id = $1", id); n != rows {
		t.Fatalf("want %d ledger rows, got %d", rows, n)
	}
}

func TestEngine_PendingNegativeCreditMergedVerbatim(t *testing.T) {
	t.Parallel()

	env, cleanup := newTestEnv(t)
	defer cleanup()

	env.stageCredit(t, "a@b.com", -1, models.Breakdown{"guitar": 1})

	id := pgtestutil.SeedAccount(t, env.db, "a@b.com")

	res, err := env.engine.ReconcileByEmail(t.Context(), "A@B.com")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Credits != 1 {
		t.Fatalf("want 1 merged credit, got %+v", res)
	}

	h, err := env.credits.History(t.Context(), id)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(h.Transactions) != 1 {
		t.Fatalf("want one ledger row, got %d", len(h.Transactions))
	}

	row := h.Transactions[0]
	if row.Delta != -1 || row.TypeBreakdown["guitar"] != 1 || len(row.TypeBreakdown) != 1 {
		t.Fatalf("want delta -1 {guitar:1}, got %d %v", row.Delta, row.TypeBreakdown)
	}
	if row.Source != models.SourcePendingSync {
		t.Fatalf("want source %s, got %s", models.SourcePendingSync, row.Source)
	}

	if n := pgtestutil.Count(t, env.db, "pending_credits", ""); n != 0 {
		t.Fatalf("pending row must be gone, %d left", n)
	}
}

func TestEngine_OrderWithCreditBundle(t *testing.T) {
	t.Parallel()

	env, cleanup := newTestEnv(t)
	defer cleanup()

	id := pgtestutil.SeedAccount(t, env.db, "buyer@studio.test")

	res, err := env.engine.RouteEvent(t.Context(), RouteRequest{
		Kind:      KindOrder,
		AccountID: &id,
		Order: &OrderPayload{Cart: models.Cart{
			{"type": "credit_bundle", "credits": float64(5), "creditType": "Any"},
		}},
	})
	if err != nil {
		t.Fatalf("route order: %v", err)
	}
	if res.Outcome != OutcomeApplied {
		t.Fatalf("want applied, got %s", res.Outcome)
	}

	if n := pgtestutil.Count(t, env.db, "orders", "account_id = $1", id); n != 1 {
		t.Fatalf("want 1 order, got %d", n)
	}
	if n := pgtestutil.Count(t, env.db, "order_items", ""); n != 1 {
		t.Fatalf("want 1 order item, got %d", n)
	}
	if n := pgtestutil.Count(t, env.db, "credit_transactions",
		"account_id = $1 AND delta = 5 AND source = 'order_purchase' AND related_order_id IS NOT NULL", id); n != 1 {
		t.Fatalf("want 1 order credit row of 5, got %d", n)
	}
}

func TestEngine_PendingOrderMergedLikeDirect(t *testing.T) {
	t.Parallel()

	env, cleanup := newTestEnv(t)
	defer cleanup()

	const email = "shopper@studio.test"

	res, err := env.engine.RouteEvent(t.Context(), RouteRequest{
		Kind:  KindOrder,
		Email: email,
		Order: &OrderPayload{Cart: models.Cart{
			{"type": "credit_bundle", "credits": float64(4), "creditType": "Guitar"},
			{"type": "download", "productId": "tab-book", "quantity": float64(2)},
		}},
	})
	if err != nil {
		t.Fatalf("stage order: %v", err)
	}
	if res.Outcome != OutcomePending || res.PendingID == 0 {
		t.Fatalf("want pending with id, got %+v", res)
	}

	id := pgtestutil.SeedAccount(t, env.db, email)

	merged, err := env.engine.ReconcileAccount(t.Context(), id)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if merged.Orders != 1 {
		t.Fatalf("want 1 merged order, got %+v", merged)
	}

	if n := pgtestutil.Count(t, env.db, "orders", "account_id = $1 AND merged_from_pending", id); n != 1 {
		t.Fatalf("want merged order flagged, got %d", n)
	}
	if n := pgtestutil.Count(t, env.db, "order_items", "quantity = 2 AND product_id = 'tab-book'"); n != 1 {
		t.Fatalf("want expanded download item, got %d", n)
	}

	bal, err := env.credits.Balance(t.Context(), id)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Total != 4 || bal.ByType["Guitar"] != 4 {
		t.Fatalf("want 4 Guitar credits, got %+v", bal)
	}
}

func TestEngine_MalformedRowIsolated(t *testing.T) {
	t.Parallel()

	env, cleanup := newTestEnv(t)
	defer cleanup()

	const email = "mixed@studio.test"

	env.stageCredit(t, email, 3, models.Breakdown{"Vocal": 3})

	repo := pgpending.New(env.db)

	err := pgutils.WithTx(t.Context(), env.db, func(tx *sql.Tx) error {
		_, err := repo.InsertCredit(t.Context(), tx, models.PendingCredit{
			Email: email, Delta: 1, TypeBreakdown: models.Breakdown{"": 1}, Source: models.SourceSystem,
		})
		if err != nil {
			return err
		}

		_, err = repo.InsertOrder(t.Context(), tx, models.PendingOrder{
			Email: email, Cart: models.Cart{{"type": "credit_bundle", "credits": "lots"}},
		})
		return err
	})
	if err != nil {
		t.Fatalf("insert malformed rows: %v", err)
	}

	env.stageCredit(t, email, 1, models.Breakdown{"Vocal": 1})

	id := pgtestutil.SeedAccount(t, env.db, email)

	res, err := env.engine.ReconcileAccount(t.Context(), id)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Credits != 2 || res.Orders != 0 {
		t.Fatalf("want 2 good credits merged and no order, got %+v", res)
	}
	if len(res.Failures) != 2 {
		t.Fatalf("want 2 failures, got %+v", res.Failures)
	}

	if n := pgtestutil.Count(t, env.db, "pending_credits", "last_error IS NOT NULL"); n != 1 {
		t.Fatalf("want bad credit kept with last_error, got %d", n)
	}
	if n := pgtestutil.Count(t, env.db, "pending_orders", "last_error IS NOT NULL"); n != 1 {
		t.Fatalf("want bad order kept with last_error, got %d", n)
	}
	if n := pgtestutil.Count(t, env.db, "orders", ""); n != 0 {
		t.Fatalf("failed order must leave no rows, got %d", n)
	}

	again, err := env.engine.ReconcileAccount(t.Context(), id)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if again.Total() != 0 || len(again.Failures) != 2 {
		t.Fatalf("retry merges nothing new and reports the same rows, got %+v", again)
	}
}

func TestEngine_RouteDuplicateDelivery(t *testing.T) {
	t.Parallel()

	env, cleanup := newTestEnv(t)
	defer cleanup()

	id := pgtestutil.SeedAccount(t, env.db, "dup@studio.test")

	req := RouteRequest{
		Kind:           KindCredit,
		AccountID:      &id,
		IdempotencyKey: "evt-1",
		Credit:         &CreditPayload{Delta: 5, TypeBreakdown: models.Breakdown{"Vocal": 5}},
	}

	for i, want := range []Outcome{OutcomeApplied, OutcomeDuplicate} {
		res, err := env.engine.RouteEvent(t.Context(), req)
		if err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
		if res.Outcome != want {
			t.Fatalf("delivery %d: want %s, got %s", i, want, res.Outcome)
		}
	}

	staged := RouteRequest{
		Kind:           KindDownload,
		Email:          "nobody@studio.test",
		IdempotencyKey: "evt-2",
		Download:       &DownloadPayload{ProductID: "songbook"},
	}

	for i, want := range []Outcome{OutcomePending, OutcomeDuplicate} {
		res, err := env.engine.RouteEvent(t.Context(), staged)
		if err != nil {
			t.Fatalf("staged delivery %d: %v", i, err)
		}
		if res.Outcome != want {
			t.Fatalf("staged delivery %d: want %s, got %s", i, want, res.Outcome)
		}
	}

	if n := pgtestutil.Count(t, env.db, "credit_transactions", ""); n != 1 {
		t.Fatalf("want 1 ledger row, got %d", n)
	}
	if n := pgtestutil.Count(t, env.db, "pending_downloads", ""); n != 1 {
		t.Fatalf("want 1 pending download, got %d", n)
	}
}

func TestEngine_RouteNegativeCreditDeducts(t *testing.T) {
	t.Parallel()

	env, cleanup := newTestEnv(t)
	defer cleanup()

	id := pgtestutil.SeedAccount(t, env.db, "booker@studio.test")

	_, err := env.credits.Apply(t.Context(), id, 3, models.Breakdown{"Vocal": 3}, credits.Meta{})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	_, err = env.engine.RouteEvent(t.Context(), RouteRequest{
		Kind: KindCredit, AccountID: &id,
		Credit: &CreditPayload{Delta: -1, TypeBreakdown: models.Breakdown{"Vocal": 1}, Source: models.SourceClassBooking},
	})
	if err != nil {
		t.Fatalf("route deduction: %v", err)
	}

	bal, err := env.credits.Balance(t.Context(), id)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Total != 2 || bal.ByType["Vocal"] != 2 {
		t.Fatalf("want 2 Vocal left, got %+v", bal)
	}

	if n := len(env.notes.LowCreditsSent()); n != 1 {
		t.Fatalf("crossing to 2 should notify once, got %d", n)
	}
}

func TestEngine_SyncAll(t *testing.T) {
	t.Parallel()

	env, cleanup := newTestEnv(t)
	defer cleanup()

	const accounts = 5

	for i := range accounts {
		email := fmt.Sprintf("sync%d@studio.test", i)
		env.stageCredit(t, email, 1, models.Breakdown{"Any": 1})
		pgtestutil.SeedAccount(t, env.db, email)
	}

	report, err := env.engine.SyncAll(t.Context())
	if err != nil {
		t.Fatalf("sync all: %v", err)
	}
	if report.Accounts != accounts || report.Merged.Credits != accounts || len(report.Failed) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}

	snap, err := env.engine.Pending(t.Context())
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(snap.Credits) != 0 {
		t.Fatalf("want empty pending snapshot, got %d credits", len(snap.Credits))
	}
}
