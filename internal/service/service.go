package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"imapos/backend/internal/domain"
	"imapos/backend/internal/reporting"
	"imapos/backend/internal/store"
	"imapos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo    store.Repository
	reports *reporting.Engine
	log     *zap.Logger
	now     func() time.Time
}

func New(repo store.Repository, reports *reporting.Engine, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:    repo,
		reports: reports,
		log:     log,
		now:     time.Now,
	}
}

// logAudit emits a structured audit event. Failures to resolve the actor fall
// back to "system" so background work still leaves a trail.
func (s *Service) logAudit(ctx context.Context, action string, subject string) {
	username := "system"
	if actor, ok := ActorFromContext(ctx); ok {
		username = actor.Username
	}
	s.log.Info("audit",
		zap.String("action", action),
		zap.String("subject", subject),
		zap.String("actor", username))
}

// --- catalog ---

func (s *Service) CreateCategory(ctx context.Context, name string) (*domain.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: category name required", store.ErrInvalidInput)
	}
	created, err := s.repo.CreateCategory(ctx, domain.Category{Name: name})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "category.create", created.Name)
	return created, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

// ItemCreateRequest carries the writable fields of a new catalog item.
type ItemCreateRequest struct {
	Name               string `json:"name"`
	Code               string `json:"code"`
	CategoryID         string `json:"categoryId"`
	PriceCents         int64  `json:"priceCents"`
	DiscountPriceCents int64  `json:"discountPriceCents"`
	BuyingPriceCents   int64  `json:"buyingPriceCents"`
	Stock              int64  `json:"stock"`
}

func (s *Service) CreateItem(ctx context.Context, req ItemCreateRequest) (*domain.Item, error) {
	if err := validateItemFields(req.Name, req.Code, req.PriceCents, req.DiscountPriceCents, req.BuyingPriceCents); err != nil {
		return nil, err
	}
	if req.Stock < 0 {
		return nil, fmt.Errorf("%w: negative opening stock", store.ErrInvalidInput)
	}
	created, err := s.repo.CreateItem(ctx, domain.Item{
		Name:               strings.TrimSpace(req.Name),
		Code:               strings.TrimSpace(req.Code),
		CategoryID:         req.CategoryID,
		PriceCents:         req.PriceCents,
		DiscountPriceCents: req.DiscountPriceCents,
		BuyingPriceCents:   req.BuyingPriceCents,
		Stock:              req.Stock,
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "item.create", created.Code)
	return created, nil
}

// ItemUpdateRequest carries the writable fields of an item update. Stock is
// deliberately absent: it only moves through the stock operations.
type ItemUpdateRequest struct {
	Name               string `json:"name"`
	Code               string `json:"code"`
	CategoryID         string `json:"categoryId"`
	PriceCents         int64  `json:"priceCents"`
	DiscountPriceCents int64  `json:"discountPriceCents"`
	BuyingPriceCents   int64  `json:"buyingPriceCents"`
}

func (s *Service) UpdateItem(ctx context.Context, itemID string, req ItemUpdateRequest) (*domain.Item, error) {
	if itemID == "" {
		return nil, fmt.Errorf("%w: item id required", store.ErrInvalidInput)
	}
	if err := validateItemFields(req.Name, req.Code, req.PriceCents, req.DiscountPriceCents, req.BuyingPriceCents); err != nil {
		return nil, err
	}
	updated, err := s.repo.UpdateItem(ctx, domain.Item{
		ID:                 itemID,
		Name:               strings.TrimSpace(req.Name),
		Code:               strings.TrimSpace(req.Code),
		CategoryID:         req.CategoryID,
		PriceCents:         req.PriceCents,
		DiscountPriceCents: req.DiscountPriceCents,
		BuyingPriceCents:   req.BuyingPriceCents,
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "item.update", updated.Code)
	return updated, nil
}

// DeleteItem removes an item from the catalog. The HTTP layer restricts this
// to admins; the service re-checks so no other caller can bypass it.
func (s *Service) DeleteItem(ctx context.Context, itemID string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("%w: admin role required", store.ErrInvalidInput)
	}
	if err := s.repo.DeleteItem(ctx, itemID); err != nil {
		return err
	}
	s.logAudit(ctx, "item.delete", itemID)
	return nil
}

func (s *Service) GetItem(ctx context.Context, itemID string) (*domain.Item, error) {
	return s.repo.GetItemByID(ctx, itemID)
}

// ListItems filters the catalog. stockStatus accepts "low" and "out" on top
// of the category and search filters.
func (s *Service) ListItems(ctx context.Context, categoryID string, search string, stockStatus string, limit int) ([]domain.Item, error) {
	items, err := s.repo.ListItems(ctx, categoryID, search, 0)
	if err != nil {
		return nil, err
	}
	switch stockStatus {
	case "":
	case "low":
		items = filterItems(items, domain.Item.LowStock)
	case "out":
		items = filterItems(items, domain.Item.OutOfStock)
	default:
		return nil, fmt.Errorf("%w: unknown stock status %q", store.ErrInvalidInput, stockStatus)
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func filterItems(items []domain.Item, keep func(domain.Item) bool) []domain.Item {
	out := items[:0]
	for _, item := range items {
		if keep(item) {
			out = append(out, item)
		}
	}
	return out
}

func validateItemFields(name, code string, price, discount, buying int64) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: item name required", store.ErrInvalidInput)
	}
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("%w: item code required", store.ErrInvalidInput)
	}
	if price < 0 || discount < 0 || buying < 0 {
		return fmt.Errorf("%w: negative price", store.ErrInvalidInput)
	}
	if discount > 0 && discount > price {
		return fmt.Errorf("%w: discount price above regular price", store.ErrInvalidInput)
	}
	return nil
}

// --- stock ---

func (s *Service) AddStock(ctx context.Context, itemID string, qty int64) (*domain.Item, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: stock addition must be positive", store.ErrInvalidInput)
	}
	updated, err := s.repo.AddStock(ctx, itemID, qty, domain.StockEntryAdd)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "stock.add", itemID)
	return updated, nil
}

func (s *Service) StockHistory(ctx context.Context, itemID string, limit int) ([]domain.StockEntry, error) {
	return s.repo.ListStockEntries(ctx, itemID, limit)
}

// --- bills ---

func (s *Service) GetBillByNumber(ctx context.Context, billNumber string) (*domain.Bill, error) {
	if billNumber == "" {
		return nil, fmt.Errorf("%w: bill number required", store.ErrInvalidInput)
	}
	return s.repo.GetBillByNumber(ctx, billNumber)
}

func (s *Service) ListBills(ctx context.Context, rangeName string, from time.Time, to time.Time, limit int) ([]domain.Bill, error) {
	from, to, err := s.resolveRange(rangeName, from, to)
	if err != nil {
		return nil, err
	}
	return s.repo.ListBills(ctx, from, to, limit)
}

// --- returns ---

// ProcessReturn hands back quantities from a bill. A requested quantity above
// what the line still holds (qty minus previously returned) rejects the whole
// return; accepted quantities are restocked and annotated on the bill.
func (s *Service) ProcessReturn(ctx context.Context, billNumber string, requested []domain.ReturnLine, reason string) (*domain.Return, error) {
	bill, err := s.repo.GetBillByNumber(ctx, billNumber)
	if err != nil {
		return nil, err
	}
	if len(requested) == 0 {
		return nil, fmt.Errorf("%w: no return lines", store.ErrInvalidInput)
	}

	lineByItem := make(map[string]domain.BillLine, len(bill.Lines))
	for _, line := range bill.Lines {
		lineByItem[line.ItemID] = line
	}

	var (
		accepted    []domain.ReturnLine
		annotations = map[string]int64{}
		refund      int64
	)
	for _, req := range requested {
		if req.Qty <= 0 {
			return nil, fmt.Errorf("%w: return qty must be positive", store.ErrInvalidInput)
		}
		line, ok := lineByItem[req.ItemID]
		if !ok {
			return nil, fmt.Errorf("%w: item %s not on bill %s", store.ErrInvalidInput, req.ItemID, billNumber)
		}
		returnable := line.Qty - line.ReturnedQty
		if req.Qty > returnable {
			return nil, fmt.Errorf("%w: item %s has %d returnable, requested %d", store.ErrInvalidInput, req.ItemID, returnable, req.Qty)
		}
		accepted = append(accepted, domain.ReturnLine{
			ItemID:         req.ItemID,
			Name:           line.Name,
			Qty:            req.Qty,
			SalePriceCents: line.SalePriceCents,
		})
		annotations[req.ItemID] = line.ReturnedQty + req.Qty
		refund += req.Qty * line.SalePriceCents
	}

	for _, line := range accepted {
		if _, err := s.repo.AddStock(ctx, line.ItemID, line.Qty, domain.StockEntryReturn); err != nil {
			// The item may have been deleted since the sale; the return
			// still proceeds for the remaining lines.
			if errors.Is(err, store.ErrNotFound) {
				s.log.Warn("returned item no longer in catalog", zap.String("itemId", line.ItemID))
				continue
			}
			return nil, err
		}
	}
	if _, err := s.repo.SetBillReturnedQty(ctx, bill.ID, annotations); err != nil {
		return nil, err
	}

	created, err := s.repo.CreateReturn(ctx, domain.Return{
		BillID:      bill.ID,
		BillNumber:  bill.BillNumber,
		Lines:       accepted,
		RefundCents: refund,
		Reason:      reason,
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "return.process", billNumber)
	return created, nil
}

// ProcessItemReturn handles a return without a bill reference: the item is
// restocked and the refund priced at the quoted unit price.
func (s *Service) ProcessItemReturn(ctx context.Context, itemID string, qty int64, unitPriceCents int64, reason string) (*domain.Return, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: return qty must be positive", store.ErrInvalidInput)
	}
	if unitPriceCents < 0 {
		return nil, fmt.Errorf("%w: negative unit price", store.ErrInvalidInput)
	}
	item, err := s.repo.AddStock(ctx, itemID, qty, domain.StockEntryReturn)
	if err != nil {
		return nil, err
	}
	created, err := s.repo.CreateReturn(ctx, domain.Return{
		Lines: []domain.ReturnLine{{
			ItemID:         itemID,
			Name:           item.Name,
			Qty:            qty,
			SalePriceCents: unitPriceCents,
		}},
		RefundCents: qty * unitPriceCents,
		Reason:      reason,
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "return.item", itemID)
	return created, nil
}

func (s *Service) ListReturns(ctx context.Context, rangeName string, from time.Time, to time.Time, limit int) ([]domain.Return, error) {
	from, to, err := s.resolveRange(rangeName, from, to)
	if err != nil {
		return nil, err
	}
	return s.repo.ListReturns(ctx, from, to, limit)
}

// --- cheque and credit bills ---

func (s *Service) ListChequeBills(ctx context.Context, status string, rangeName string, from time.Time, to time.Time, limit int) ([]domain.ChequeBill, error) {
	switch status {
	case "", domain.ChequeStatusPending, domain.ChequeStatusCleared, domain.ChequeStatusCancelled:
	default:
		return nil, fmt.Errorf("%w: unknown cheque status %q", store.ErrInvalidInput, status)
	}
	from, to, err := s.resolveRange(rangeName, from, to)
	if err != nil {
		return nil, err
	}
	return s.repo.ListChequeBills(ctx, status, from, to, limit)
}

// SetChequeStatus moves a pending cheque to cleared or cancelled. Both are
// terminal; a cancelled cheque does not reverse the underlying bill.
func (s *Service) SetChequeStatus(ctx context.Context, chequeID string, status string) (*domain.ChequeBill, error) {
	if status != domain.ChequeStatusCleared && status != domain.ChequeStatusCancelled {
		return nil, fmt.Errorf("%w: cheque status must be cleared or cancelled", store.ErrInvalidInput)
	}
	updated, err := s.repo.UpdateChequeStatus(ctx, chequeID, status, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "cheque."+status, updated.BillNumber)
	return updated, nil
}

func (s *Service) ListCreditBills(ctx context.Context, status string, limit int) ([]domain.CreditBill, error) {
	switch status {
	case "", domain.CreditStatusPending, domain.CreditStatusSettled:
	default:
		return nil, fmt.Errorf("%w: unknown credit status %q", store.ErrInvalidInput, status)
	}
	return s.repo.ListCreditBills(ctx, status, limit)
}

func (s *Service) RecordCreditPayment(ctx context.Context, creditID string, amountCents int64) (*domain.CreditBill, error) {
	if amountCents <= 0 {
		return nil, fmt.Errorf("%w: payment must be positive", store.ErrInvalidInput)
	}
	updated, err := s.repo.AppendCreditPayment(ctx, creditID, domain.CreditPayment{
		ID:          xid.New("pay"),
		AmountCents: amountCents,
		PaidAt:      s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "credit.payment", updated.BillNumber)
	return updated, nil
}

// --- ledger ---

func (s *Service) CreateExpense(ctx context.Context, description string, amountCents int64, date time.Time) (*domain.Expense, error) {
	if strings.TrimSpace(description) == "" {
		return nil, fmt.Errorf("%w: expense description required", store.ErrInvalidInput)
	}
	if amountCents <= 0 {
		return nil, fmt.Errorf("%w: expense amount must be positive", store.ErrInvalidInput)
	}
	created, err := s.repo.CreateExpense(ctx, domain.Expense{
		Description: strings.TrimSpace(description),
		AmountCents: amountCents,
		Date:        date,
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "expense.create", created.ID)
	return created, nil
}

func (s *Service) ListExpenses(ctx context.Context, rangeName string, from time.Time, to time.Time, limit int) ([]domain.Expense, error) {
	from, to, err := s.resolveRange(rangeName, from, to)
	if err != nil {
		return nil, err
	}
	return s.repo.ListExpenses(ctx, from, to, limit)
}

func (s *Service) CreateDayCashEntry(ctx context.Context, amountCents int64, notes string, date time.Time) (*domain.DayCashEntry, error) {
	if amountCents < 0 {
		return nil, fmt.Errorf("%w: negative cash amount", store.ErrInvalidInput)
	}
	created, err := s.repo.CreateDayCashEntry(ctx, domain.DayCashEntry{
		AmountCents: amountCents,
		Notes:       notes,
		Date:        date,
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "daycash.create", created.ID)
	return created, nil
}

func (s *Service) ListDayCashEntries(ctx context.Context, rangeName string, from time.Time, to time.Time, limit int) ([]domain.DayCashEntry, error) {
	from, to, err := s.resolveRange(rangeName, from, to)
	if err != nil {
		return nil, err
	}
	return s.repo.ListDayCashEntries(ctx, from, to, limit)
}

// --- customers ---

func (s *Service) CreateCustomer(ctx context.Context, name string, phone string, address string) (*domain.Customer, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: customer name required", store.ErrInvalidInput)
	}
	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Name:    strings.TrimSpace(name),
		Phone:   strings.TrimSpace(phone),
		Address: strings.TrimSpace(address),
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "customer.create", created.Name)
	return created, nil
}

func (s *Service) ListCustomers(ctx context.Context, search string, limit int) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx, search, limit)
}

// --- reports ---

func (s *Service) SalesSummary(ctx context.Context, rangeName string, from time.Time, to time.Time) (*domain.SalesSummary, error) {
	from, to, err := s.resolveRange(rangeName, from, to)
	if err != nil {
		return nil, err
	}
	return s.reports.SalesSummary(ctx, from, to)
}

func (s *Service) TopItems(ctx context.Context, rangeName string, from time.Time, to time.Time, limit int) ([]domain.TopItem, error) {
	from, to, err := s.resolveRange(rangeName, from, to)
	if err != nil {
		return nil, err
	}
	return s.reports.TopItems(ctx, from, to, limit)
}

func (s *Service) ItemSalesDetail(ctx context.Context, itemID string) (*domain.ItemSalesDetail, error) {
	if itemID == "" {
		return nil, fmt.Errorf("%w: item id required", store.ErrInvalidInput)
	}
	return s.reports.ItemSalesDetail(ctx, itemID)
}

// resolveRange maps the shorthand range names to concrete [from, to) bounds.
// An empty name passes the explicit bounds through unchanged.
func (s *Service) resolveRange(rangeName string, from time.Time, to time.Time) (time.Time, time.Time, error) {
	if rangeName == "" {
		return from, to, nil
	}
	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch rangeName {
	case "today":
		return today, today.AddDate(0, 0, 1), nil
	case "yesterday":
		return today.AddDate(0, 0, -1), today, nil
	case "week":
		return today.AddDate(0, 0, -6), today.AddDate(0, 0, 1), nil
	case "month":
		return today.AddDate(0, -1, 0), today.AddDate(0, 0, 1), nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("%w: unknown range %q", store.ErrInvalidInput, rangeName)
	}
}
