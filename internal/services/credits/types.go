package credits

import (
	"maps"

	"github.com/fastprodman/studentportal/internal/apperr"
	"github.com/fastprodman/studentportal/internal/models"
)

var (
	ErrDuplicate     = apperr.New(apperr.ErrConflict, "duplicate credit request")
	ErrInvalidAmount = apperr.New(apperr.ErrInvalidInput, "invalid credit amount")
)

// Meta describes why a ledger row exists.
type Meta struct {
	Source         models.CreditSource
	OrderID        *uint64
	IdempotencyKey string
	Data           models.Metadata
}

// Balance is derived from the ledger and never stored.
type Balance struct {
	Total  int64            `json:"total"`
	ByType map[string]int64 `json:"byType"`
}

func (b Balance) clone() Balance {
	out := Balance{Total: b.Total, ByType: make(map[string]int64, len(b.ByType))}
	maps.Copy(out.ByType, b.ByType)

	return out
}

// Posted is one appended row with the balance on both sides of it.
type Posted struct {
	Txn    models.CreditTransaction
	Before Balance
	After  Balance
}

type History struct {
	Balance      Balance                    `json:"remainingCredits"`
	Transactions []models.CreditTransaction `json:"history"`
}
