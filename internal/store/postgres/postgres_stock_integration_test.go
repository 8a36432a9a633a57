package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"imapos/backend/internal/store"
)

func TestDecrementStockConditionalUpdate(t *testing.T) {
	databaseURL := os.Getenv("IMAPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set IMAPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	itemID := fmt.Sprintf("item-stock-it-%d", stamp)
	code := fmt.Sprintf("IT-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_entries WHERE item_id = $1`, itemID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, itemID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, name, code, price_cents, discount_price_cents, buying_price_cents, stock, created_at, updated_at)
		VALUES ($1, 'Stock IT Item', $2, 10000, 0, 8000, 5, now(), now())
	`, itemID, code); err != nil {
		t.Fatalf("insert item: %v", err)
	}

	if err := s.DecrementStock(ctx, itemID, 3); err != nil {
		t.Fatalf("decrement within stock: %v", err)
	}

	var stockErr *store.InsufficientStockError
	err = s.DecrementStock(ctx, itemID, 3)
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
	if stockErr.Available != 2 || stockErr.Requested != 3 {
		t.Fatalf("expected available 2 requested 3, got %+v", stockErr)
	}

	var qty int64
	if err := s.db.QueryRowContext(ctx, `SELECT stock FROM items WHERE id = $1`, itemID).Scan(&qty); err != nil {
		t.Fatalf("query stock: %v", err)
	}
	if qty != 2 {
		t.Fatalf("expected stock 2 after one decrement, got %d", qty)
	}
}

func TestNextBillSequenceIncrements(t *testing.T) {
	databaseURL := os.Getenv("IMAPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set IMAPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	dateKey := fmt.Sprintf("it-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM bill_counters WHERE date_key = $1`, dateKey)
	})

	first, err := s.NextBillSequence(ctx, dateKey)
	if err != nil {
		t.Fatalf("first sequence: %v", err)
	}
	second, err := s.NextBillSequence(ctx, dateKey)
	if err != nil {
		t.Fatalf("second sequence: %v", err)
	}
	if first != 1 || second != 2 {
		t.Fatalf("expected sequences 1 and 2, got %d and %d", first, second)
	}
}
