package idempotency

import (
	"context"
	"database/sql"

	"github.com/fastprodman/studentportal/internal/apperr"
)

var ErrAlreadyClaimed = apperr.New(apperr.ErrConflict, "idempotency key already claimed")

// Keys gates replayed deliveries. A claim made inside tx disappears if tx
// rolls back, so a failed first attempt can be retried.
type Keys interface {
	Claim(ctx context.Context, tx *sql.Tx, key, kind string) error
}
