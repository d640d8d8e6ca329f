package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ecosort/rewards-system/internal/model"
)

func newTestStore(t *testing.T) *BoltStorage {
	t.Helper()
	s, err := NewBoltStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr(v int64) *int64 { return &v }

func saveTestVoucher(t *testing.T, s *BoltStorage, id string, points int64, stock *int64, active bool) {
	t.Helper()
	var limit *int64
	if stock != nil {
		limit = ptr(*stock)
	}
	err := s.SaveVoucher(context.Background(), &model.Voucher{
		ID:             id,
		Title:          "voucher " + id,
		PointsRequired: points,
		DiscountType:   model.DiscountFree,
		ValidityDays:   14,
		IsActive:       active,
		StockLimit:     limit,
		CurrentStock:   stock,
	})
	if err != nil {
		t.Fatalf("save voucher: %v", err)
	}
}

func TestBolt_GetVoucherNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetVoucher(context.Background(), "missing")
	if !errors.Is(err, ErrVoucherNotFound) {
		t.Fatalf("expected ErrVoucherNotFound, got %v", err)
	}
}

func TestBolt_ListActiveVouchersOrdered(t *testing.T) {
	s := newTestStore(t)
	saveTestVoucher(t, s, "expensive", 900, nil, true)
	saveTestVoucher(t, s, "cheap", 100, nil, true)
	saveTestVoucher(t, s, "hidden", 50, nil, false)

	res, err := s.ListActiveVouchers(context.Background())
	if err != nil {
		t.Fatalf("list vouchers: %v", err)
	}

	if len(res) != 2 {
		t.Fatalf("got %d vouchers, want 2", len(res))
	}
	if res[0].ID != "cheap" || res[1].ID != "expensive" {
		t.Fatalf("vouchers not ordered by points: %s, %s", res[0].ID, res[1].ID)
	}
}

func TestBolt_DecrementStock(t *testing.T) {
	s := newTestStore(t)
	saveTestVoucher(t, s, "v-1", 100, ptr(1), true)

	if err := s.DecrementVoucherStock(context.Background(), "v-1"); err != nil {
		t.Fatalf("first decrement: %v", err)
	}

	err := s.DecrementVoucherStock(context.Background(), "v-1")
	if !errors.Is(err, ErrVoucherOutOfStock) {
		t.Fatalf("expected ErrVoucherOutOfStock, got %v", err)
	}

	v, err := s.GetVoucher(context.Background(), "v-1")
	if err != nil {
		t.Fatalf("get voucher: %v", err)
	}
	if *v.CurrentStock != 0 {
		t.Fatalf("stock = %d, want 0", *v.CurrentStock)
	}
}

func TestBolt_DecrementStockUntracked(t *testing.T) {
	s := newTestStore(t)
	saveTestVoucher(t, s, "v-1", 100, nil, true)

	for i := 0; i < 10; i++ {
		if err := s.DecrementVoucherStock(context.Background(), "v-1"); err != nil {
			t.Fatalf("decrement %d: %v", i, err)
		}
	}
}

func TestBolt_IncrementStockCappedAtLimit(t *testing.T) {
	s := newTestStore(t)
	saveTestVoucher(t, s, "v-1", 100, ptr(2), true)

	if err := s.IncrementVoucherStock(context.Background(), "v-1"); err != nil {
		t.Fatalf("increment: %v", err)
	}

	v, _ := s.GetVoucher(context.Background(), "v-1")
	if *v.CurrentStock != 2 {
		t.Fatalf("stock = %d, want capped at 2", *v.CurrentStock)
	}
}

func TestBolt_StockFloorUnderConcurrency(t *testing.T) {
	s := newTestStore(t)
	saveTestVoucher(t, s, "v-1", 100, ptr(3), true)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.DecrementVoucherStock(context.Background(), "v-1")
		}(i)
	}
	wg.Wait()

	var ok, soldOut int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrVoucherOutOfStock):
			soldOut++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if ok != 3 || soldOut != 5 {
		t.Fatalf("ok = %d soldOut = %d, want 3 and 5", ok, soldOut)
	}

	v, _ := s.GetVoucher(context.Background(), "v-1")
	if *v.CurrentStock != 0 {
		t.Fatalf("stock = %d, want 0", *v.CurrentStock)
	}
}

func TestBolt_PointsLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	points, err := s.GetPoints(ctx, "user-1")
	if err != nil || points != 0 {
		t.Fatalf("fresh account: points = %d, err = %v, want 0 and nil", points, err)
	}

	if err := s.CreditPoints(ctx, "user-1", 500); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := s.DebitPoints(ctx, "user-1", 200); err != nil {
		t.Fatalf("debit: %v", err)
	}

	points, _ = s.GetPoints(ctx, "user-1")
	if points != 300 {
		t.Fatalf("points = %d, want 300", points)
	}
}

func TestBolt_DebitInsufficient(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreditPoints(ctx, "user-1", 100); err != nil {
		t.Fatalf("credit: %v", err)
	}

	err := s.DebitPoints(ctx, "user-1", 500)

	var insufficientErr *InsufficientPointsError
	if !errors.As(err, &insufficientErr) {
		t.Fatalf("expected InsufficientPointsError, got %v", err)
	}
	if insufficientErr.Required != 500 || insufficientErr.Available != 100 {
		t.Fatalf("error = %+v, want required 500 available 100", insufficientErr)
	}

	points, _ := s.GetPoints(ctx, "user-1")
	if points != 100 {
		t.Fatalf("points = %d after failed debit, want 100", points)
	}
}

func TestBolt_ConcurrentDebitsNeverGoNegative(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreditPoints(ctx, "user-1", 500); err != nil {
		t.Fatalf("credit: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.DebitPoints(ctx, "user-1", 300)
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
		}
	}

	if ok != 1 {
		t.Fatalf("%d debits of 300 from 500 succeeded, want exactly 1", ok)
	}

	points, _ := s.GetPoints(ctx, "user-1")
	if points != 200 {
		t.Fatalf("points = %d, want 200", points)
	}
}

func TestBolt_RedemptionCodeUnique(t *testing.T) {
	s := newTestStore(t)
	saveTestVoucher(t, s, "v-1", 100, nil, true)
	ctx := context.Background()

	r := &model.Redemption{
		ID:          "r-1",
		UserID:      "user-1",
		VoucherID:   "v-1",
		VoucherCode: "VCH123456ABCD",
		PointsUsed:  100,
		Status:      model.RedemptionStatusActive,
		RedeemedAt:  time.Now().UTC(),
		ExpiresAt:   time.Now().UTC().Add(24 * time.Hour),
	}

	if err := s.CreateRedemption(ctx, r); err != nil {
		t.Fatalf("create redemption: %v", err)
	}

	dup := *r
	dup.ID = "r-2"
	err := s.CreateRedemption(ctx, &dup)
	if !errors.Is(err, ErrCodeConflict) {
		t.Fatalf("expected ErrCodeConflict, got %v", err)
	}
}

func TestBolt_RedemptionStatusRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := &model.Redemption{
		ID:          "r-1",
		UserID:      "user-1",
		VoucherID:   "v-1",
		VoucherCode: "VCH123456ABCD",
		Status:      model.RedemptionStatusActive,
		RedeemedAt:  time.Now().UTC(),
		ExpiresAt:   time.Now().UTC().Add(24 * time.Hour),
	}
	if err := s.CreateRedemption(ctx, r); err != nil {
		t.Fatalf("create redemption: %v", err)
	}

	usedAt := time.Now().UTC()
	if err := s.UpdateRedemptionStatus(ctx, "r-1", model.RedemptionStatusUsed, &usedAt); err != nil {
		t.Fatalf("update status: %v", err)
	}

	got, err := s.GetRedemption(ctx, "r-1")
	if err != nil {
		t.Fatalf("get redemption: %v", err)
	}
	if got.Status != model.RedemptionStatusUsed || got.UsedAt == nil {
		t.Fatalf("unexpected redemption: %+v", got)
	}

	if err := s.UpdateRedemptionStatus(ctx, "missing", model.RedemptionStatusUsed, nil); !errors.Is(err, ErrRedemptionNotFound) {
		t.Fatalf("expected ErrRedemptionNotFound, got %v", err)
	}
}

func TestBolt_ListRedemptionsByUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		user := "user-1"
		if i == 2 {
			user = "user-2"
		}
		err := s.CreateRedemption(ctx, &model.Redemption{
			ID:          fmt.Sprintf("r-%d", i),
			UserID:      user,
			VoucherID:   "v-1",
			VoucherCode: fmt.Sprintf("VCH00000%dABCD", i),
			Status:      model.RedemptionStatusActive,
			RedeemedAt:  base.Add(time.Duration(i) * time.Minute),
			ExpiresAt:   base.Add(24 * time.Hour),
		})
		if err != nil {
			t.Fatalf("create redemption %d: %v", i, err)
		}
	}

	res, err := s.ListRedemptionsByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("list redemptions: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("got %d redemptions, want 2", len(res))
	}
	if res[0].ID != "r-1" || res[1].ID != "r-0" {
		t.Fatalf("redemptions not ordered by redeemed_at desc: %s, %s", res[0].ID, res[1].ID)
	}
}

func TestBolt_TransactionsOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		err := s.AppendTransaction(ctx, &model.TransactionEntry{
			ID:        fmt.Sprintf("t-%d", i),
			UserID:    "user-1",
			Type:      model.TransactionEarned,
			Points:    int64(10 * (i + 1)),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	res, err := s.ListTransactionsByUser(ctx, "user-1", 2)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("got %d entries, want 2", len(res))
	}
	if res[0].ID != "t-4" || res[1].ID != "t-3" {
		t.Fatalf("entries not ordered by created_at desc: %s, %s", res[0].ID, res[1].ID)
	}

	all, err := s.ListTransactionsByUser(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("list all transactions: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("got %d entries without limit, want 5", len(all))
	}
}
