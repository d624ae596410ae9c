package reconcile

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastprodman/studentportal/internal/apperr"
	"github.com/fastprodman/studentportal/internal/models"
)

func decodeCart(t *testing.T, raw string) models.Cart {
	t.Helper()

	var c models.Cart
	require.NoError(t, json.Unmarshal([]byte(raw), &c))

	return c
}

func TestExpandCart_CreditBundle(t *testing.T) {
	cart := decodeCart(t, `[
		{"type": "credit_bundle", "bundleKey": "five-pack", "credits": 5, "creditType": "Any"},
		{"type": "merch", "productId": "tee-01", "quantity": 2, "size": "M"},
		{"type": "credit_bundle", "bundleKey": "free", "credits": 0}
	]`)

	items, grants, err := expandCart(cart)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "credit_bundle", items[0].ItemType)
	assert.Equal(t, "five-pack", items[0].BundleKey)
	assert.Equal(t, 0, items[0].Quantity, "repository defaults a missing quantity to 1")

	assert.Equal(t, "tee-01", items[1].ProductID)
	assert.Equal(t, 2, items[1].Quantity)
	assert.Equal(t, "M", items[1].Meta["size"])
	assert.Equal(t, 1, items[1].Position)

	require.Len(t, grants, 1)
	assert.Equal(t, int64(5), grants[0].Credits)
	assert.Equal(t, models.Breakdown{"Any": 5}, grants[0].breakdown())
}

func TestExpandCart_UntypedBundleHasNoBreakdown(t *testing.T) {
	_, grants, err := expandCart(decodeCart(t, `[{"type": "credit_bundle", "credits": 3}]`))
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Empty(t, grants[0].breakdown())
}

func TestExpandCart_Rejects(t *testing.T) {
	cases := map[string]string{
		"no type":          `[{"credits": 5}]`,
		"string credits":   `[{"type": "credit_bundle", "credits": "five"}]`,
		"fraction credits": `[{"type": "credit_bundle", "credits": 2.5}]`,
		"negative credits": `[{"type": "credit_bundle", "credits": -4}]`,
		"negative qty":     `[{"type": "merch", "quantity": -1}]`,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := expandCart(decodeCart(t, raw))
			require.ErrorIs(t, err, apperr.ErrInvalidInput)
		})
	}
}

func TestExpandCart_Empty(t *testing.T) {
	items, grants, err := expandCart(models.Cart{})
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Empty(t, grants)
}

func TestValidateRequest(t *testing.T) {
	id := uint64(7)

	cases := []struct {
		name string
		req  RouteRequest
		ok   bool
	}{
		{"unknown kind", RouteRequest{Kind: "coupon", Email: "a@b.com"}, false},
		{"no target", RouteRequest{Kind: KindCredit, Credit: &CreditPayload{Delta: 1}}, false},
		{"missing payload", RouteRequest{Kind: KindDownload, Email: "a@b.com"}, false},
		{"empty category", RouteRequest{
			Kind: KindCredit, Email: "a@b.com",
			Credit: &CreditPayload{Delta: 1, TypeBreakdown: models.Breakdown{"": 1}},
		}, false},
		{"bad status", RouteRequest{
			Kind: KindSubscription, AccountID: &id,
			Subscription: &SubscriptionPayload{PlanType: "monthly", ExternalSubscriptionID: "I-1", Status: "paused"},
		}, false},
		{"credit by id", RouteRequest{Kind: KindCredit, AccountID: &id, Credit: &CreditPayload{Delta: -1}}, true},
		{"order", RouteRequest{
			Kind: KindOrder, Email: " A@B.com ",
			Order: &OrderPayload{Cart: models.Cart{{"type": "credit_bundle", "credits": float64(5)}}},
		}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateRequest(&tc.req)
			if tc.ok {
				require.NoError(t, err)
				return
			}

			require.ErrorIs(t, err, apperr.ErrInvalidInput)
		})
	}
}
