package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"imapos/backend/internal/cache"
	"imapos/backend/internal/domain"
	"imapos/backend/internal/reporting"
	"imapos/backend/internal/store"
	"imapos/backend/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	reports := reporting.New(repo, cache.NoopReportCache{}, nil)
	return New(repo, reports, nil), repo
}

func adminContext() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func stockOf(t *testing.T, repo store.Repository, itemID string) int64 {
	t.Helper()
	item, err := repo.GetItemByID(context.Background(), itemID)
	if err != nil {
		t.Fatalf("load item %s: %v", itemID, err)
	}
	return item.Stock
}

func cashBill(lines ...domain.CartLine) domain.CompleteBillRequest {
	return domain.CompleteBillRequest{Lines: lines}
}

func TestCompleteBillDecrementsStockByDemand(t *testing.T) {
	svc, repo := newTestService()
	ctx := adminContext()

	item, err := svc.CreateItem(ctx, ItemCreateRequest{
		Name: "Test Biscuits", Code: "TEST-01", PriceCents: 25000, Stock: 10,
	})
	if err != nil {
		t.Fatalf("create item failed: %v", err)
	}

	receipt, err := svc.CompleteBill(ctx, cashBill(
		domain.CartLine{ItemID: item.ID, Name: item.Name, Qty: 4, SalePriceCents: 25000},
	))
	if err != nil {
		t.Fatalf("complete bill failed: %v", err)
	}
	if receipt.ItemCount != 4 {
		t.Fatalf("expected item count 4, got %d", receipt.ItemCount)
	}
	if receipt.GrandTotalCents != 100000 {
		t.Fatalf("expected grand total 100000, got %d", receipt.GrandTotalCents)
	}
	if got := stockOf(t, repo, item.ID); got != 6 {
		t.Fatalf("expected stock 6 after sale, got %d", got)
	}
}

func TestCompleteBillAggregatesDuplicateCartLines(t *testing.T) {
	svc, repo := newTestService()
	ctx := adminContext()

	item, err := svc.CreateItem(ctx, ItemCreateRequest{
		Name: "Scarce Item", Code: "TEST-02", PriceCents: 10000, Stock: 5,
	})
	if err != nil {
		t.Fatalf("create item failed: %v", err)
	}

	_, err = svc.CompleteBill(ctx, cashBill(
		domain.CartLine{ItemID: item.ID, Qty: 3, SalePriceCents: 10000},
		domain.CartLine{ItemID: item.ID, Qty: 3, SalePriceCents: 10000},
	))

	var insufficient *store.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if insufficient.ItemID != item.ID || insufficient.Available != 5 || insufficient.Requested != 6 {
		t.Fatalf("unexpected error detail: %+v", insufficient)
	}
	if got := stockOf(t, repo, item.ID); got != 5 {
		t.Fatalf("expected stock untouched at 5, got %d", got)
	}
}

func TestCompleteBillEmptyCart(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CompleteBill(adminContext(), domain.CompleteBillRequest{})
	if !errors.Is(err, store.ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
}

func TestCompleteBillUnknownItemLeavesKnownItemUntouched(t *testing.T) {
	svc, repo := newTestService()
	ctx := adminContext()

	before := stockOf(t, repo, "item-rice-5kg")

	_, err := svc.CompleteBill(ctx, cashBill(
		domain.CartLine{ItemID: "item-rice-5kg", Qty: 2, SalePriceCents: 165000},
		domain.CartLine{ItemID: "item-does-not-exist", Qty: 1, SalePriceCents: 5000},
	))

	var notFound *store.ItemNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ItemNotFoundError, got %v", err)
	}
	if notFound.ItemID != "item-does-not-exist" {
		t.Fatalf("unexpected item id in error: %s", notFound.ItemID)
	}
	if got := stockOf(t, repo, "item-rice-5kg"); got != before {
		t.Fatalf("expected rice stock untouched at %d, got %d", before, got)
	}
}

func TestCompleteBillRejectsMismatchedTotalsBeforeMutation(t *testing.T) {
	svc, repo := newTestService()
	ctx := adminContext()

	before := stockOf(t, repo, "item-tea-200g")

	_, err := svc.CompleteBill(ctx, domain.CompleteBillRequest{
		Lines: []domain.CartLine{
			{ItemID: "item-tea-200g", Qty: 2, SalePriceCents: 54000},
		},
		GrandTotalCents: 999999,
	})
	if !errors.Is(err, store.ErrInvalidBillTotals) {
		t.Fatalf("expected ErrInvalidBillTotals, got %v", err)
	}
	if got := stockOf(t, repo, "item-tea-200g"); got != before {
		t.Fatalf("expected stock untouched at %d, got %d", before, got)
	}
}

func TestCompleteBillFailureThenRetrySucceeds(t *testing.T) {
	svc, repo := newTestService()
	ctx := adminContext()

	item, err := svc.CreateItem(ctx, ItemCreateRequest{
		Name: "Retry Item", Code: "TEST-03", PriceCents: 8000, Stock: 5,
	})
	if err != nil {
		t.Fatalf("create item failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		_, err = svc.CompleteBill(ctx, cashBill(
			domain.CartLine{ItemID: item.ID, Qty: 6, SalePriceCents: 8000},
		))
		var insufficient *store.InsufficientStockError
		if !errors.As(err, &insufficient) {
			t.Fatalf("attempt %d: expected InsufficientStockError, got %v", i, err)
		}
		if got := stockOf(t, repo, item.ID); got != 5 {
			t.Fatalf("attempt %d: expected stock still 5, got %d", i, got)
		}
	}

	if _, err = svc.CompleteBill(ctx, cashBill(
		domain.CartLine{ItemID: item.ID, Qty: 5, SalePriceCents: 8000},
	)); err != nil {
		t.Fatalf("feasible retry failed: %v", err)
	}
	if got := stockOf(t, repo, item.ID); got != 0 {
		t.Fatalf("expected stock 0 after retry, got %d", got)
	}
}

func TestConcurrentCompleteBillsSingleWinner(t *testing.T) {
	svc, repo := newTestService()
	ctx := adminContext()

	item, err := svc.CreateItem(ctx, ItemCreateRequest{
		Name: "Contested Item", Code: "TEST-04", PriceCents: 12000, Stock: 5,
	})
	if err != nil {
		t.Fatalf("create item failed: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, results[slot] = svc.CompleteBill(ctx, cashBill(
				domain.CartLine{ItemID: item.ID, Qty: 3, SalePriceCents: 12000},
			))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		var insufficient *store.InsufficientStockError
		if !errors.As(err, &insufficient) {
			t.Fatalf("loser got unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one winner, got %d", succeeded)
	}
	if got := stockOf(t, repo, item.ID); got != 2 {
		t.Fatalf("expected final stock 2, got %d", got)
	}
}

func TestBillNumbersStrictlyIncreaseSameDay(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminContext()

	fixed := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	var previous string
	for i := 0; i < 3; i++ {
		receipt, err := svc.CompleteBill(ctx, cashBill(
			domain.CartLine{ItemID: "item-soap-bar", Qty: 1, SalePriceCents: 9000},
		))
		if err != nil {
			t.Fatalf("bill %d failed: %v", i, err)
		}
		if !strings.HasPrefix(receipt.BillNumber, "20260314-") {
			t.Fatalf("bill number %q missing date prefix", receipt.BillNumber)
		}
		if previous != "" && receipt.BillNumber <= previous {
			t.Fatalf("bill numbers not strictly increasing: %q then %q", previous, receipt.BillNumber)
		}
		previous = receipt.BillNumber
	}
	if previous != "20260314-0003" {
		t.Fatalf("expected third bill 20260314-0003, got %q", previous)
	}
}

type brokenCounterRepo struct {
	store.Repository
}

func (brokenCounterRepo) NextBillSequence(ctx context.Context, dateKey string) (int64, error) {
	return 0, fmt.Errorf("counter offline")
}

func TestBillNumberFallsBackToTimestamp(t *testing.T) {
	base := memory.NewSeeded()
	svc := New(brokenCounterRepo{Repository: base}, reporting.New(base, cache.NoopReportCache{}, nil), nil)

	receipt, err := svc.CompleteBill(adminContext(), cashBill(
		domain.CartLine{ItemID: "item-soap-bar", Qty: 1, SalePriceCents: 9000},
	))
	if err != nil {
		t.Fatalf("complete bill failed: %v", err)
	}

	dateKey := time.Now().UTC().Format("20060102")
	parts := strings.SplitN(receipt.BillNumber, "-", 2)
	if len(parts) != 2 || parts[0] != dateKey {
		t.Fatalf("fallback bill number %q missing date prefix", receipt.BillNumber)
	}
	if len(parts[1]) != 6 {
		t.Fatalf("expected 6-digit fallback suffix, got %q", parts[1])
	}
}

type brokenBillRepo struct {
	store.Repository
}

func (brokenBillRepo) CreateBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error) {
	return nil, fmt.Errorf("disk full")
}

func TestCompleteBillRollsBackWhenPersistFails(t *testing.T) {
	base := memory.NewSeeded()
	svc := New(brokenBillRepo{Repository: base}, reporting.New(base, cache.NoopReportCache{}, nil), nil)
	ctx := adminContext()

	before := stockOf(t, base, "item-dhal-1kg")

	_, err := svc.CompleteBill(ctx, cashBill(
		domain.CartLine{ItemID: "item-dhal-1kg", Qty: 3, SalePriceCents: 42000},
	))
	if !errors.Is(err, store.ErrBillPersistFailed) {
		t.Fatalf("expected ErrBillPersistFailed, got %v", err)
	}
	if got := stockOf(t, base, "item-dhal-1kg"); got != before {
		t.Fatalf("expected stock restored to %d, got %d", before, got)
	}
}

func TestCompleteBillChequeCreatesPendingRecord(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminContext()

	receipt, err := svc.CompleteBill(ctx, domain.CompleteBillRequest{
		Lines: []domain.CartLine{
			{ItemID: "item-milk-400g", Qty: 2, SalePriceCents: 98000},
		},
		Payment: domain.PaymentDetails{
			Method:       domain.PaymentCheque,
			ChequeNumber: "CHQ-100045",
			ChequeDate:   time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
			CustomerName: "S. Perera",
		},
	})
	if err != nil {
		t.Fatalf("cheque bill failed: %v", err)
	}

	cheques, err := svc.ListChequeBills(ctx, domain.ChequeStatusPending, "", time.Time{}, time.Time{}, 10)
	if err != nil {
		t.Fatalf("list cheque bills failed: %v", err)
	}
	if len(cheques) != 1 {
		t.Fatalf("expected 1 pending cheque bill, got %d", len(cheques))
	}
	if cheques[0].BillNumber != receipt.BillNumber || cheques[0].AmountCents != receipt.GrandTotalCents {
		t.Fatalf("cheque record does not match receipt: %+v", cheques[0])
	}
}

func TestCompleteBillCreditTracksBalance(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminContext()

	receipt, err := svc.CompleteBill(ctx, domain.CompleteBillRequest{
		Lines: []domain.CartLine{
			{ItemID: "item-rice-5kg", Qty: 2, SalePriceCents: 165000},
		},
		Payment: domain.PaymentDetails{
			Method:       domain.PaymentCredit,
			CustomerName: "K. Silva",
			PaidCents:    100000,
		},
	})
	if err != nil {
		t.Fatalf("credit bill failed: %v", err)
	}

	credits, err := svc.ListCreditBills(ctx, domain.CreditStatusPending, 10)
	if err != nil {
		t.Fatalf("list credit bills failed: %v", err)
	}
	if len(credits) != 1 {
		t.Fatalf("expected 1 pending credit bill, got %d", len(credits))
	}
	credit := credits[0]
	if credit.BalanceCents != receipt.GrandTotalCents-100000 {
		t.Fatalf("expected balance %d, got %d", receipt.GrandTotalCents-100000, credit.BalanceCents)
	}

	settled, err := svc.RecordCreditPayment(ctx, credit.ID, credit.BalanceCents)
	if err != nil {
		t.Fatalf("record credit payment failed: %v", err)
	}
	if settled.Status != domain.CreditStatusSettled || settled.BalanceCents != 0 {
		t.Fatalf("expected settled credit with zero balance, got %+v", settled)
	}
}

func TestCompleteBillRejectsUnknownPaymentMethod(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CompleteBill(adminContext(), domain.CompleteBillRequest{
		Lines: []domain.CartLine{
			{ItemID: "item-soap-bar", Qty: 1, SalePriceCents: 9000},
		},
		Payment: domain.PaymentDetails{Method: "barter"},
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
