package subscriptions

import (
	"context"
	"database/sql"
	"time"

	"github.com/fastprodman/studentportal/internal/apperr"
	"github.com/fastprodman/studentportal/internal/infra/pgutils"
	"github.com/fastprodman/studentportal/internal/models"
)

var (
	ErrSubscriptionNotFound  = apperr.New(apperr.ErrNotFound, "subscription not found")
	ErrDuplicateSubscription = apperr.New(apperr.ErrConflict, "subscription already exists")
)

// Subscriptions are never deleted; cancellation is a status.
type Subscriptions interface {
	Insert(ctx context.Context, tx *sql.Tx, s models.Subscription) (models.Subscription, error)
	LockByExternalID(ctx context.Context, tx *sql.Tx, externalID string) (models.Subscription, error)
	UpdateStatus(ctx context.Context, tx *sql.Tx, id uint64, status models.SubscriptionStatus, nextBilling *time.Time) error
	ListByAccount(ctx context.Context, q pgutils.Querier, accountID uint64) ([]models.Subscription, error)
}
