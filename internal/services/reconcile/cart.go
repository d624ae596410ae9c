package reconcile

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/fastprodman/studentportal/internal/apperr"
	"github.com/fastprodman/studentportal/internal/models"
)

const itemCreditBundle = "credit_bundle"

// bundleGrant is the credit a credit_bundle line adds to the ledger.
type bundleGrant struct {
	Position   int
	BundleKey  string
	Credits    int64
	CreditType string
}

// expandCart turns provider cart lines into order items and the credit
// grants they carry. Every line keeps its original fields as item meta.
func expandCart(cart models.Cart) ([]models.OrderItem, []bundleGrant, error) {
	items := make([]models.OrderItem, 0, len(cart))

	var grants []bundleGrant

	for i, line := range cart {
		itemType := text(line, "type")
		if itemType == "" {
			return nil, nil, apperr.Invalid("cart line %d has no type", i)
		}

		qty, err := integer(line, "quantity")
		if err != nil {
			return nil, nil, fmt.Errorf("cart line %d: %w", i, err)
		}
		if qty < 0 || qty > math.MaxInt32 {
			return nil, nil, apperr.Invalid("cart line %d quantity %d out of range", i, qty)
		}

		meta := models.Metadata{}
		for k, v := range line {
			meta[k] = v
		}

		item := models.OrderItem{
			Position:  i,
			ItemType:  itemType,
			BundleKey: text(line, "bundleKey"),
			ProductID: text(line, "productId"),
			Quantity:  int(qty),
			Meta:      meta,
		}
		items = append(items, item)

		if itemType != itemCreditBundle {
			continue
		}

		credits, err := integer(line, "credits")
		if err != nil {
			return nil, nil, fmt.Errorf("cart line %d: %w", i, err)
		}
		if credits < 0 {
			return nil, nil, apperr.Invalid("cart line %d credits must be >= 0, got %d", i, credits)
		}
		if credits == 0 {
			continue
		}

		grants = append(grants, bundleGrant{
			Position:   i,
			BundleKey:  item.BundleKey,
			Credits:    credits,
			CreditType: text(line, "creditType"),
		})
	}

	return items, grants, nil
}

func (g bundleGrant) breakdown() models.Breakdown {
	if g.CreditType == "" {
		return models.Breakdown{}
	}

	return models.Breakdown{g.CreditType: g.Credits}
}

func text(line models.CartItem, key string) string {
	v, _ := line[key].(string)
	return strings.TrimSpace(v)
}

// integer reads a whole number. Missing or null reads as zero; anything
// else that is not an integral number is rejected.
func integer(line models.CartItem, key string) (int64, error) {
	raw, ok := line[key]
	if !ok || raw == nil {
		return 0, nil
	}

	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) || math.Abs(v) > math.MaxInt64/2 {
			return 0, apperr.Invalid("%s must be a whole number, got %v", key, v)
		}

		return int64(v), nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, apperr.Invalid("%s must be a whole number, got %s", key, v)
		}

		return n, nil
	default:
		return 0, apperr.Invalid("%s must be a number, got %T", key, raw)
	}
}
