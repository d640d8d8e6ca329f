package txlog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ecosort/rewards-system/internal/model"
	"github.com/ecosort/rewards-system/internal/storage"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	store, err := storage.NewBoltStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store)
}

func TestAppend_StampsEntry(t *testing.T) {
	l := newTestLog(t)

	entry, err := l.Append(context.Background(), model.TransactionEntry{
		UserID:      "user-1",
		Type:        model.TransactionEarned,
		Points:      50,
		Description: "glass bottles",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if entry.ID == "" {
		t.Fatalf("id not generated")
	}
	if entry.CreatedAt.IsZero() {
		t.Fatalf("createdAt not stamped")
	}
}

func TestListForUser_Limit(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := l.Append(ctx, model.TransactionEntry{
			UserID: "user-1",
			Type:   model.TransactionEarned,
			Points: 10,
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	res, err := l.ListForUser(ctx, "user-1", 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(res) != 3 {
		t.Fatalf("got %d entries, want 3", len(res))
	}
}

func TestRecomputeBalance_SignedSum(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	entries := []model.TransactionEntry{
		{UserID: "user-1", Type: model.TransactionEarned, Points: 300},
		{UserID: "user-1", Type: model.TransactionBonus, Points: 50},
		{UserID: "user-1", Type: model.TransactionRedeemed, Points: -200},
		{UserID: "user-2", Type: model.TransactionEarned, Points: 999},
	}
	for i, e := range entries {
		if _, err := l.Append(ctx, e); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	sum, err := l.RecomputeBalance(ctx, "user-1")
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if sum != 150 {
		t.Fatalf("recomputed balance = %d, want 150", sum)
	}
}
