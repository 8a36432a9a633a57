package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"imapos/backend/internal/domain"
	"imapos/backend/internal/store"
	"imapos/backend/internal/xid"
)

// maxStockRetries bounds how often a conditional stock decrement is retried
// after losing to a concurrent writer.
const maxStockRetries = 5

// CompleteBill turns a cart into a persisted bill. Availability is validated
// for every item before any stock is touched; the commit phase decrements
// stock item by item and rolls every decrement back when a later step fails,
// so a failed completion leaves the system exactly as it found it.
func (s *Service) CompleteBill(ctx context.Context, req domain.CompleteBillRequest) (*domain.BillReceipt, error) {
	lines, err := normalizeLines(req.Lines)
	if err != nil {
		return nil, err
	}

	itemCount, grandTotal := computeTotals(lines)
	if req.ItemCount != 0 && req.ItemCount != itemCount {
		return nil, fmt.Errorf("%w: item count %d, lines say %d", store.ErrInvalidBillTotals, req.ItemCount, itemCount)
	}
	if req.GrandTotalCents != 0 && req.GrandTotalCents != grandTotal {
		return nil, fmt.Errorf("%w: grand total %d, lines say %d", store.ErrInvalidBillTotals, req.GrandTotalCents, grandTotal)
	}

	payment, err := normalizePayment(req.Payment, grandTotal)
	if err != nil {
		return nil, err
	}

	demand := aggregateDemand(lines)
	itemIDs := sortedKeys(demand)

	items, err := s.repo.GetItemsByIDs(ctx, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	for _, id := range itemIDs {
		item, ok := items[id]
		if !ok {
			return nil, &store.ItemNotFoundError{ItemID: id}
		}
		if item.Stock < demand[id] {
			return nil, &store.InsufficientStockError{ItemID: id, Available: item.Stock, Requested: demand[id]}
		}
	}

	decremented, err := s.decrementAll(ctx, itemIDs, demand)
	if err != nil {
		s.rollbackDecrements(ctx, decremented, demand)
		return nil, err
	}

	now := s.now().UTC()
	bill := domain.Bill{
		ID:              xid.New("bill"),
		BillNumber:      s.nextBillNumber(ctx, now),
		Lines:           lines,
		ItemCount:       itemCount,
		GrandTotalCents: grandTotal,
		PaymentMethod:   payment.Method,
		CustomerName:    payment.CustomerName,
		CreatedAt:       now,
	}
	created, err := s.repo.CreateBill(ctx, bill)
	if err != nil {
		s.rollbackDecrements(ctx, itemIDs, demand)
		return nil, fmt.Errorf("%w: %v", store.ErrBillPersistFailed, err)
	}

	s.recordPaymentSide(ctx, created, payment)
	s.logAudit(ctx, "bill.complete", created.BillNumber)

	return &domain.BillReceipt{
		BillID:          created.ID,
		BillNumber:      created.BillNumber,
		ItemCount:       created.ItemCount,
		GrandTotalCents: created.GrandTotalCents,
		PaymentMethod:   created.PaymentMethod,
		CreatedAt:       created.CreatedAt,
	}, nil
}

// decrementAll walks the items in deterministic order and returns the ids it
// managed to decrement, so a failure can be compensated precisely.
func (s *Service) decrementAll(ctx context.Context, itemIDs []string, demand map[string]int64) ([]string, error) {
	decremented := make([]string, 0, len(itemIDs))
	for _, id := range itemIDs {
		if err := s.decrementWithRetry(ctx, id, demand[id]); err != nil {
			return decremented, err
		}
		decremented = append(decremented, id)
	}
	return decremented, nil
}

func (s *Service) decrementWithRetry(ctx context.Context, itemID string, qty int64) error {
	for attempt := 0; attempt < maxStockRetries; attempt++ {
		err := s.repo.DecrementStock(ctx, itemID, qty)
		if err == nil {
			return nil
		}
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		return err
	}
	return &store.StockUpdateError{ItemID: itemID}
}

// rollbackDecrements restocks what the failed completion already took. Best
// effort: a rollback failure is logged and never masks the primary error.
func (s *Service) rollbackDecrements(ctx context.Context, itemIDs []string, demand map[string]int64) {
	for _, id := range itemIDs {
		if _, err := s.repo.AddStock(ctx, id, demand[id], domain.StockEntryReturn); err != nil {
			s.log.Error("stock rollback failed",
				zap.String("itemId", id),
				zap.Int64("qty", demand[id]),
				zap.Error(err))
		}
	}
}

// nextBillNumber prefers the transactional per-day counter. When the counter
// is unavailable it falls back to a timestamp-derived suffix, which stays
// unique in practice but is not sequential.
func (s *Service) nextBillNumber(ctx context.Context, now time.Time) string {
	dateKey := now.Format("20060102")
	seq, err := s.repo.NextBillSequence(ctx, dateKey)
	if err != nil {
		s.log.Warn("bill counter unavailable, using timestamp fallback", zap.Error(err))
		ms := fmt.Sprintf("%d", now.UnixMilli())
		return dateKey + "-" + ms[len(ms)-6:]
	}
	return fmt.Sprintf("%s-%04d", dateKey, seq)
}

// recordPaymentSide creates the cheque or credit record that accompanies a
// non-cash bill. The bill itself is already durable; a failure here is
// logged for manual follow-up instead of unwinding the sale.
func (s *Service) recordPaymentSide(ctx context.Context, bill *domain.Bill, payment domain.PaymentDetails) {
	switch payment.Method {
	case domain.PaymentCheque:
		_, err := s.repo.CreateChequeBill(ctx, domain.ChequeBill{
			BillID:        bill.ID,
			BillNumber:    bill.BillNumber,
			ChequeNumber:  payment.ChequeNumber,
			ChequeDate:    payment.ChequeDate,
			CustomerName:  payment.CustomerName,
			CustomerPhone: payment.CustomerPhone,
			AmountCents:   bill.GrandTotalCents,
			Status:        domain.ChequeStatusPending,
		})
		if err != nil {
			s.log.Error("cheque record not created", zap.String("billNumber", bill.BillNumber), zap.Error(err))
		}
	case domain.PaymentCredit:
		balance := bill.GrandTotalCents - payment.PaidCents
		status := domain.CreditStatusPending
		if balance == 0 {
			status = domain.CreditStatusSettled
		}
		_, err := s.repo.CreateCreditBill(ctx, domain.CreditBill{
			BillID:          bill.ID,
			BillNumber:      bill.BillNumber,
			CustomerName:    payment.CustomerName,
			CustomerPhone:   payment.CustomerPhone,
			CustomerAddress: payment.CustomerAddress,
			AmountCents:     bill.GrandTotalCents,
			PaidCents:       payment.PaidCents,
			BalanceCents:    balance,
			DueDate:         payment.DueDate,
			Status:          status,
		})
		if err != nil {
			s.log.Error("credit record not created", zap.String("billNumber", bill.BillNumber), zap.Error(err))
		}
	}
}

// normalizeLines validates the cart and fills in line totals. The cart may
// list the same item more than once; lines are kept as submitted and only
// aggregated for the stock phase.
func normalizeLines(cart []domain.CartLine) ([]domain.BillLine, error) {
	if len(cart) == 0 {
		return nil, store.ErrEmptyCart
	}
	lines := make([]domain.BillLine, 0, len(cart))
	for i, line := range cart {
		if line.ItemID == "" {
			return nil, fmt.Errorf("%w: line %d has no item id", store.ErrInvalidInput, i)
		}
		if line.Qty <= 0 {
			return nil, fmt.Errorf("%w: line %d qty %d", store.ErrInvalidInput, i, line.Qty)
		}
		if line.SalePriceCents < 0 {
			return nil, fmt.Errorf("%w: line %d negative price", store.ErrInvalidInput, i)
		}
		lines = append(lines, domain.BillLine{
			ItemID:         line.ItemID,
			Name:           line.Name,
			Qty:            line.Qty,
			SalePriceCents: line.SalePriceCents,
			TotalCents:     line.Qty * line.SalePriceCents,
		})
	}
	return lines, nil
}

func computeTotals(lines []domain.BillLine) (itemCount int64, grandTotal int64) {
	for _, line := range lines {
		itemCount += line.Qty
		grandTotal += line.TotalCents
	}
	return itemCount, grandTotal
}

func aggregateDemand(lines []domain.BillLine) map[string]int64 {
	demand := make(map[string]int64, len(lines))
	for _, line := range lines {
		demand[line.ItemID] += line.Qty
	}
	return demand
}

func normalizePayment(payment domain.PaymentDetails, grandTotal int64) (domain.PaymentDetails, error) {
	if payment.Method == "" {
		payment.Method = domain.PaymentCash
	}
	switch payment.Method {
	case domain.PaymentCash:
	case domain.PaymentCheque:
		if payment.ChequeNumber == "" || payment.CustomerName == "" || payment.ChequeDate.IsZero() {
			return payment, fmt.Errorf("%w: cheque payment needs cheque number, date and customer name", store.ErrInvalidInput)
		}
	case domain.PaymentCredit:
		if payment.CustomerName == "" {
			return payment, fmt.Errorf("%w: credit payment needs a customer name", store.ErrInvalidInput)
		}
		if payment.PaidCents < 0 || payment.PaidCents > grandTotal {
			return payment, fmt.Errorf("%w: paid amount %d out of range", store.ErrInvalidInput, payment.PaidCents)
		}
	default:
		return payment, fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidInput, payment.Method)
	}
	return payment, nil
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
