package reconcile

import (
	"errors"
	"testing"

	"github.com/fastprodman/studentportal/internal/apperr"
	"github.com/fastprodman/studentportal/internal/infra/pgtestutil"
	"github.com/fastprodman/studentportal/internal/models"
	"github.com/fastprodman/studentportal/internal/repos/orders"
)

func TestEngine_RecordsEmptyNotNil(t *testing.T) {
	t.Parallel()

	env, cleanup := newTestEnv(t)
	defer cleanup()

	id := pgtestutil.SeedAccount(t, env.db, "quiet@studio.test")

	dls, err := env.engine.Downloads(t.Context(), id)
	if err != nil {
		t.Fatalf("downloads: %v", err)
	}
	if dls == nil || len(dls) != 0 {
		t.Fatalf("want empty non-nil downloads, got %#v", dls)
	}

	ords, err := env.engine.Orders(t.Context(), id)
	if err != nil {
		t.Fatalf("orders: %v", err)
	}
	if ords == nil || len(ords) != 0 {
		t.Fatalf("want empty non-nil orders, got %#v", ords)
	}
}

func TestEngine_AppendOrderMetadata(t *testing.T) {
	t.Parallel()

	env, cleanup := newTestEnv(t)
	defer cleanup()

	id := pgtestutil.SeedAccount(t, env.db, "meta@studio.test")

	_, err := env.engine.RouteEvent(t.Context(), RouteRequest{
		Kind:      KindOrder,
		AccountID: &id,
		Order: &OrderPayload{
			Cart:     models.Cart{{"type": "merch", "sku": "tee"}},
			Metadata: models.Metadata{"channel": "web"},
		},
	})
	if err != nil {
		t.Fatalf("route order: %v", err)
	}

	ords, err := env.engine.Orders(t.Context(), id)
	if err != nil {
		t.Fatalf("orders: %v", err)
	}
	if len(ords) != 1 {
		t.Fatalf("want 1 order, got %d", len(ords))
	}
	orderID := ords[0].ID

	err = env.engine.AppendOrderMetadata(t.Context(), orderID, models.Metadata{"captureId": "CAP-1"})
	if err != nil {
		t.Fatalf("append metadata: %v", err)
	}

	ords, err = env.engine.Orders(t.Context(), id)
	if err != nil {
		t.Fatalf("orders after append: %v", err)
	}
	meta := ords[0].Metadata
	if meta["captureId"] != "CAP-1" || meta["channel"] != "web" {
		t.Fatalf("metadata not merged: %#v", meta)
	}

	err = env.engine.AppendOrderMetadata(t.Context(), orderID+1000, models.Metadata{"x": "y"})
	if !errors.Is(err, orders.ErrOrderNotFound) {
		t.Fatalf("missing order: want ErrOrderNotFound, got %v", err)
	}

	err = env.engine.AppendOrderMetadata(t.Context(), orderID, nil)
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("empty metadata: want invalid input, got %v", err)
	}
}
