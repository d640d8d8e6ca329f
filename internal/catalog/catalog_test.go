package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ecosort/rewards-system/internal/model"
	"github.com/ecosort/rewards-system/internal/storage"
)

func newTestCatalog(t *testing.T) (*Catalog, storage.Storage) {
	t.Helper()
	store, err := storage.NewBoltStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store), store
}

func ptr(v int64) *int64 { return &v }

func saveVoucher(t *testing.T, store storage.Storage, id string, points int64, stock *int64, active bool) {
	t.Helper()
	var limit *int64
	if stock != nil {
		limit = ptr(*stock)
	}
	err := store.SaveVoucher(context.Background(), &model.Voucher{
		ID:             id,
		Title:          "voucher " + id,
		PointsRequired: points,
		DiscountType:   model.DiscountFixed,
		DiscountValue:  200,
		ValidityDays:   14,
		IsActive:       active,
		StockLimit:     limit,
		CurrentStock:   stock,
	})
	if err != nil {
		t.Fatalf("save voucher: %v", err)
	}
}

func TestListActive_SortedByPoints(t *testing.T) {
	c, store := newTestCatalog(t)
	saveVoucher(t, store, "big", 1000, nil, true)
	saveVoucher(t, store, "small", 100, nil, true)
	saveVoucher(t, store, "off", 10, nil, false)

	res, err := c.ListActive(context.Background())
	if err != nil {
		t.Fatalf("ListActive error: %v", err)
	}

	if len(res) != 2 || res[0].ID != "small" || res[1].ID != "big" {
		t.Fatalf("unexpected vouchers: %+v", res)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	c, _ := newTestCatalog(t)

	_, err := c.GetByID(context.Background(), "missing")
	if !errors.Is(err, storage.ErrVoucherNotFound) {
		t.Fatalf("expected ErrVoucherNotFound, got %v", err)
	}
}

func TestDecrementStock_ExhaustsAndRestores(t *testing.T) {
	c, store := newTestCatalog(t)
	saveVoucher(t, store, "v-1", 100, ptr(1), true)
	ctx := context.Background()

	if err := c.DecrementStock(ctx, "v-1"); err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if err := c.DecrementStock(ctx, "v-1"); !errors.Is(err, storage.ErrVoucherOutOfStock) {
		t.Fatalf("expected ErrVoucherOutOfStock, got %v", err)
	}

	if err := c.IncrementStock(ctx, "v-1"); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := c.DecrementStock(ctx, "v-1"); err != nil {
		t.Fatalf("decrement after restore: %v", err)
	}
}

func TestFilterAffordable(t *testing.T) {
	c, store := newTestCatalog(t)
	saveVoucher(t, store, "cheap", 100, nil, true)
	saveVoucher(t, store, "pricey", 900, nil, true)
	saveVoucher(t, store, "soldout", 50, ptr(0), true)
	saveVoucher(t, store, "stocked", 150, ptr(2), true)
	saveVoucher(t, store, "inactive", 10, nil, false)

	res, err := c.FilterAffordable(context.Background(), 500)
	if err != nil {
		t.Fatalf("FilterAffordable error: %v", err)
	}

	got := make(map[string]bool, len(res))
	for _, v := range res {
		got[v.ID] = true
	}

	if len(res) != 2 || !got["cheap"] || !got["stocked"] {
		t.Fatalf("unexpected affordable vouchers: %+v", res)
	}
}
