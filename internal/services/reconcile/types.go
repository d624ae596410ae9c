package reconcile

import (
	"errors"
	"time"

	"github.com/fastprodman/studentportal/internal/apperr"
	"github.com/fastprodman/studentportal/internal/models"
	"github.com/fastprodman/studentportal/internal/repos/pending"
)

var ErrDuplicateEvent = apperr.New(apperr.ErrConflict, "event already ingested")

// Kind is the entitlement an event carries.
type Kind string

const (
	KindCredit       Kind = "credit"
	KindDownload     Kind = "download"
	KindOrder        Kind = "order"
	KindSubscription Kind = "subscription"
)

func (k Kind) Valid() bool {
	switch k {
	case KindCredit, KindDownload, KindOrder, KindSubscription:
		return true
	default:
		return false
	}
}

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomePending   Outcome = "pending"
	OutcomeDuplicate Outcome = "duplicate"
)

type CreditPayload struct {
	Delta         int64               `json:"delta"`
	TypeBreakdown models.Breakdown    `json:"typeBreakdown"`
	Source        models.CreditSource `json:"source"`
	Metadata      models.Metadata     `json:"metadata"`
}

type DownloadPayload struct {
	ProductID string          `json:"productId"`
	FileURL   string          `json:"fileUrl"`
	Metadata  models.Metadata `json:"metadata"`
}

type OrderPayload struct {
	Cart            models.Cart        `json:"cart"`
	Status          models.OrderStatus `json:"status"`
	TotalCents      int64              `json:"totalCents"`
	Currency        string             `json:"currency"`
	ProviderOrderID *string            `json:"providerOrderId"`
	Metadata        models.Metadata    `json:"metadata"`
}

type SubscriptionPayload struct {
	PlanType               string                    `json:"planType"`
	ExternalSubscriptionID string                    `json:"externalSubscriptionId"`
	Status                 models.SubscriptionStatus `json:"status"`
	CreditsPerCycle        int64                     `json:"creditsPerCycle"`
	CreditType             string                    `json:"creditType"`
	NextBillingDate        *time.Time                `json:"nextBillingDate"`
	Metadata               models.Metadata           `json:"metadata"`
}

// RouteRequest is one entitlement event. Exactly the payload matching
// Kind must be set.
type RouteRequest struct {
	Kind           Kind
	Email          string
	AccountID      *uint64
	IdempotencyKey string

	Credit       *CreditPayload
	Download     *DownloadPayload
	Order        *OrderPayload
	Subscription *SubscriptionPayload
}

type RouteResult struct {
	Outcome   Outcome `json:"outcome"`
	AccountID *uint64 `json:"accountId,omitempty"`
	// Merged is the reconcile that ran before an applied event.
	Merged *Result `json:"merged,omitempty"`
	// PendingID is the staged row id of a pending event.
	PendingID uint64 `json:"pendingId,omitempty"`
	Record    any    `json:"record,omitempty"`
}

// RecordFailure is a pending row that could not be merged. It stays
// staged with its last_error set.
type RecordFailure struct {
	Category  pending.Table `json:"category"`
	PendingID uint64        `json:"pendingId"`
	Err       error         `json:"-"`
	Reason    string        `json:"error"`
}

func (f RecordFailure) Error() string {
	return string(f.Category) + " " + f.Reason
}

func (f RecordFailure) Unwrap() error { return f.Err }

// Result counts merged rows per category.
type Result struct {
	Credits       int             `json:"credits"`
	Downloads     int             `json:"downloads"`
	Subscriptions int             `json:"subscriptions"`
	Orders        int             `json:"orders"`
	Failures      []RecordFailure `json:"failures,omitempty"`
}

func (r Result) Total() int {
	return r.Credits + r.Downloads + r.Subscriptions + r.Orders
}

func (r *Result) add(o Result) {
	r.Credits += o.Credits
	r.Downloads += o.Downloads
	r.Subscriptions += o.Subscriptions
	r.Orders += o.Orders
	r.Failures = append(r.Failures, o.Failures...)
}

type AccountFailure struct {
	AccountID uint64 `json:"accountId"`
	Err       error  `json:"-"`
	Reason    string `json:"error"`
}

// SyncReport summarizes a SyncAll run.
type SyncReport struct {
	Accounts int              `json:"accounts"`
	Merged   Result           `json:"merged"`
	Failed   []AccountFailure `json:"failedAccounts,omitempty"`
	Took     time.Duration    `json:"-"`
}

func (s SyncReport) Err() error {
	errs := make([]error, 0, len(s.Failed))
	for _, f := range s.Failed {
		errs = append(errs, f.Err)
	}

	return errors.Join(errs...)
}
