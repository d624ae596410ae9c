package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fastprodman/studentportal/internal/apperr"
	"github.com/fastprodman/studentportal/internal/models"
	"github.com/fastprodman/studentportal/internal/repos/pending"
	"github.com/fastprodman/studentportal/internal/services/accounts"
	"github.com/fastprodman/studentportal/internal/services/badges"
	"github.com/fastprodman/studentportal/internal/services/credits"
	"github.com/fastprodman/studentportal/internal/services/events"
	"github.com/fastprodman/studentportal/internal/services/ingest"
	"github.com/fastprodman/studentportal/internal/services/reconcile"
	"github.com/fastprodman/studentportal/internal/services/subscriptions"
)

const maxBodyBytes = 1 << 20

type Accounts interface {
	Signup(ctx context.Context, name, email, password string) (accounts.Session, error)
	Signin(ctx context.Context, email, password string) (accounts.Session, error)
}

type Ledger interface {
	Balance(ctx context.Context, accountID uint64) (credits.Balance, error)
	History(ctx context.Context, accountID uint64) (credits.History, error)
}

type Reconciler interface {
	RouteEvent(ctx context.Context, req reconcile.RouteRequest) (reconcile.RouteResult, error)
	ReconcileAccount(ctx context.Context, accountID uint64) (reconcile.Result, error)
	SyncAll(ctx context.Context) (reconcile.SyncReport, error)
	Pending(ctx context.Context) (pending.Snapshot, error)
	Downloads(ctx context.Context, accountID uint64) ([]models.Download, error)
	Orders(ctx context.Context, accountID uint64) ([]models.Order, error)
	AppendOrderMetadata(ctx context.Context, orderID uint64, meta models.Metadata) error
}

type Badges interface {
	Progress(ctx context.Context, accountID uint64) (badges.Summary, error)
}

type Events interface {
	Dispatch(ctx context.Context, accountID uint64, eventName string, payload events.Payload) (events.Outcome, error)
}

type Subscriptions interface {
	UpdateStatus(
		ctx context.Context, externalID string, status models.SubscriptionStatus, nextBilling *time.Time, key string,
	) (subscriptions.Change, error)
	ApplyRenewal(ctx context.Context, externalID, key string) (subscriptions.Renewal, error)
	ListByAccount(ctx context.Context, accountID uint64) ([]models.Subscription, error)
}

type Ingester interface {
	Ingest(ctx context.Context, ev ingest.Event) (ingest.Result, error)
}

// Services is everything the handlers call into.
type Services struct {
	Accounts      Accounts
	Ledger        Ledger
	Reconciler    Reconciler
	Badges        Badges
	Events        Events
	Subscriptions Subscriptions
	Ingester      Ingester
}

// HandlerProvider exposes the portal services as HTTP handlers.
type HandlerProvider struct {
	svc    Services
	logger *slog.Logger
}

func NewHandler(svc Services, logger *slog.Logger) *HandlerProvider {
	return &HandlerProvider{svc: svc, logger: logger}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		// headers are already sent, nothing left to tell the client
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// writeError answers with the error's short reason. Server-side failures
// are logged here and never described to the caller.
func (h *HandlerProvider) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	body := map[string]string{"error": apperr.Reason(err)}

	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
	} else if errors.Is(err, apperr.ErrInvalidInput) {
		body["detail"] = err.Error()
	}

	writeJSON(w, status, body)
}

// decodeJSON reads a bounded JSON body into dst, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	if errors.Is(err, io.EOF) {
		return apperr.Invalid("empty body")
	}
	if err != nil {
		return apperr.Invalid("invalid JSON: %v", err)
	}

	return nil
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, apperr.Invalid("read body: %v", err)
	}
	if len(raw) == 0 {
		return nil, apperr.Invalid("empty body")
	}

	return raw, nil
}

// parseIDParam reads a positive id from a chi path parameter.
func parseIDParam(r *http.Request, name string) (uint64, error) {
	raw := chi.URLParam(r, name)
	if raw == "" {
		return 0, apperr.Invalid("missing %s", name)
	}

	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Invalid("invalid %s %q", name, raw)
	}

	return id, nil
}

func idempotencyKey(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}

	return r.Header.Get("Idempotency-Key")
}

func routeStatus(o reconcile.Outcome) int {
	if o == reconcile.OutcomePending {
		return http.StatusAccepted
	}

	return http.StatusOK
}
