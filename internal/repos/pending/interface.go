package pending

import (
	"context"
	"database/sql"
	"time"

	"github.com/fastprodman/studentportal/internal/apperr"
	"github.com/fastprodman/studentportal/internal/infra/pgutils"
	"github.com/fastprodman/studentportal/internal/models"
)

var (
	ErrPendingNotFound  = apperr.New(apperr.ErrNotFound, "pending record not found")
	ErrDuplicatePending = apperr.New(apperr.ErrConflict, "pending record already exists")
)

// Table names one of the four staging tables.
type Table string

const (
	TableCredits       Table = "pending_credits"
	TableDownloads     Table = "pending_downloads"
	TableOrders        Table = "pending_orders"
	TableSubscriptions Table = "pending_subscriptions"
)

func (t Table) Valid() bool {
	switch t {
	case TableCredits, TableDownloads, TableOrders, TableSubscriptions:
		return true
	default:
		return false
	}
}

// Snapshot is every pending row, for operators.
type Snapshot struct {
	Credits       []models.PendingCredit       `json:"credits"`
	Downloads     []models.PendingDownload     `json:"downloads"`
	Orders        []models.PendingOrder        `json:"orders"`
	Subscriptions []models.PendingSubscription `json:"subscriptions"`
}

type Counts struct {
	Credits       int `json:"credits"`
	Downloads     int `json:"downloads"`
	Orders        int `json:"orders"`
	Subscriptions int `json:"subscriptions"`
}

func (c Counts) Total() int {
	return c.Credits + c.Downloads + c.Orders + c.Subscriptions
}

// Pending stores entitlement events addressed to an email with no account.
// Rows carry no account id.
type Pending interface {
	InsertCredit(ctx context.Context, tx *sql.Tx, c models.PendingCredit) (models.PendingCredit, error)
	InsertDownload(ctx context.Context, tx *sql.Tx, d models.PendingDownload) (models.PendingDownload, error)
	InsertOrder(ctx context.Context, tx *sql.Tx, o models.PendingOrder) (models.PendingOrder, error)
	InsertSubscription(ctx context.Context, tx *sql.Tx, s models.PendingSubscription) (models.PendingSubscription, error)

	// Lock*ByEmail read and row-lock every staged row for email, oldest first.
	LockCreditsByEmail(ctx context.Context, tx *sql.Tx, email string) ([]models.PendingCredit, error)
	LockDownloadsByEmail(ctx context.Context, tx *sql.Tx, email string) ([]models.PendingDownload, error)
	LockOrdersByEmail(ctx context.Context, tx *sql.Tx, email string) ([]models.PendingOrder, error)
	LockSubscriptionsByEmail(ctx context.Context, tx *sql.Tx, email string) ([]models.PendingSubscription, error)

	Delete(ctx context.Context, tx *sql.Tx, table Table, id uint64) error
	MarkFailed(ctx context.Context, tx *sql.Tx, table Table, id uint64, reason string) error

	LockSubscriptionByExternalID(ctx context.Context, tx *sql.Tx, externalID string) (models.PendingSubscription, error)
	UpdateSubscriptionStatus(
		ctx context.Context, tx *sql.Tx, id uint64, status models.SubscriptionStatus, nextBilling *time.Time,
	) error

	ListAll(ctx context.Context, q pgutils.Querier) (Snapshot, error)
	Counts(ctx context.Context, q pgutils.Querier, email string) (Counts, error)
}
