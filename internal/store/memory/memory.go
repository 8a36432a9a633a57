package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"imapos/backend/internal/domain"
	"imapos/backend/internal/store"
	"imapos/backend/internal/xid"
)

type Store struct {
	mu                sync.RWMutex
	categoriesByID    map[string]domain.Category
	itemsByID         map[string]domain.Item
	itemIDByCode      map[string]string
	billsByID         map[string]domain.Bill
	billIDByNumber    map[string]string
	billCounters      map[string]int64
	chequeBillsByID   map[string]domain.ChequeBill
	creditBillsByID   map[string]domain.CreditBill
	returnsByID       map[string]domain.Return
	stockEntriesByItm map[string][]domain.StockEntry
	expensesByID      map[string]domain.Expense
	dayCashByID       map[string]domain.DayCashEntry
	customersByID     map[string]domain.Customer
	usersByUsername   map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; unset
// variables fall back to dev defaults with a warning. The memory store is
// never selected in production (DATABASE_URL picks PostgreSQL).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:     u.username,
			PasswordHash: string(hash),
			Role:         u.role,
			Active:       true,
			CreatedAt:    now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		categoriesByID:    map[string]domain.Category{},
		itemsByID:         map[string]domain.Item{},
		itemIDByCode:      map[string]string{},
		billsByID:         map[string]domain.Bill{},
		billIDByNumber:    map[string]string{},
		billCounters:      map[string]int64{},
		chequeBillsByID:   map[string]domain.ChequeBill{},
		creditBillsByID:   map[string]domain.CreditBill{},
		returnsByID:       map[string]domain.Return{},
		stockEntriesByItm: map[string][]domain.StockEntry{},
		expensesByID:      map[string]domain.Expense{},
		dayCashByID:       map[string]domain.DayCashEntry{},
		customersByID:     map[string]domain.Customer{},
		usersByUsername:   seedUsers(),
	}
}

// NewSeeded returns a store preloaded with a small grocery catalog, used by
// dev mode and the tests.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	groceries := domain.Category{ID: "cat-groceries", Name: "Groceries", CreatedAt: now}
	household := domain.Category{ID: "cat-household", Name: "Household", CreatedAt: now}
	beverages := domain.Category{ID: "cat-beverages", Name: "Beverages", CreatedAt: now}
	for _, c := range []domain.Category{groceries, household, beverages} {
		s.categoriesByID[c.ID] = c
	}

	for _, it := range []domain.Item{
		{ID: "item-rice-5kg", Name: "Rice 5kg", Code: "GR-0001", CategoryID: groceries.ID, PriceCents: 165000, BuyingPriceCents: 148000, Stock: 40},
		{ID: "item-dhal-1kg", Name: "Dhal 1kg", Code: "GR-0002", CategoryID: groceries.ID, PriceCents: 42000, BuyingPriceCents: 36500, Stock: 60},
		{ID: "item-sugar-1kg", Name: "White Sugar 1kg", Code: "GR-0003", CategoryID: groceries.ID, PriceCents: 24500, DiscountPriceCents: 23000, BuyingPriceCents: 21000, Stock: 80},
		{ID: "item-milk-400g", Name: "Milk Powder 400g", Code: "GR-0004", CategoryID: groceries.ID, PriceCents: 98000, BuyingPriceCents: 89000, Stock: 25},
		{ID: "item-soap-bar", Name: "Laundry Soap Bar", Code: "HH-0001", CategoryID: household.ID, PriceCents: 9000, BuyingPriceCents: 7200, Stock: 120},
		{ID: "item-dish-liquid", Name: "Dishwash Liquid 500ml", Code: "HH-0002", CategoryID: household.ID, PriceCents: 36000, BuyingPriceCents: 30000, Stock: 35},
		{ID: "item-tea-200g", Name: "Ceylon Tea 200g", Code: "BV-0001", CategoryID: beverages.ID, PriceCents: 54000, BuyingPriceCents: 46000, Stock: 50},
		{ID: "item-soda-15l", Name: "Ginger Beer 1.5l", Code: "BV-0002", CategoryID: beverages.ID, PriceCents: 32000, DiscountPriceCents: 30000, BuyingPriceCents: 26000, Stock: 8},
	} {
		it.CreatedAt = now
		it.UpdatedAt = now
		s.itemsByID[it.ID] = it
		s.itemIDByCode[strings.ToLower(it.Code)] = it.ID
	}
	return s
}

func (s *Store) CreateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if category.ID == "" {
		category.ID = xid.New("cat")
	}
	if category.CreatedAt.IsZero() {
		category.CreatedAt = time.Now().UTC()
	}
	for _, existing := range s.categoriesByID {
		if strings.EqualFold(existing.Name, category.Name) {
			return nil, fmt.Errorf("%w: category %s", store.ErrDuplicate, category.Name)
		}
	}
	s.categoriesByID[category.ID] = category
	created := category
	return &created, nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Category, 0, len(s.categoriesByID))
	for _, c := range s.categoriesByID {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b domain.Category) int { return cmpString(a.Name, b.Name) })
	return out, nil
}

func (s *Store) CreateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = xid.New("item")
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	codeKey := strings.ToLower(item.Code)
	if _, taken := s.itemIDByCode[codeKey]; taken {
		return nil, fmt.Errorf("%w: item code %s", store.ErrDuplicate, item.Code)
	}
	s.itemsByID[item.ID] = item
	s.itemIDByCode[codeKey] = item.ID
	created := item
	return &created, nil
}

func (s *Store) UpdateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.itemsByID[item.ID]
	if !ok {
		return nil, &store.ItemNotFoundError{ItemID: item.ID}
	}
	codeKey := strings.ToLower(item.Code)
	if codeKey != strings.ToLower(current.Code) {
		if _, taken := s.itemIDByCode[codeKey]; taken {
			return nil, fmt.Errorf("%w: item code %s", store.ErrDuplicate, item.Code)
		}
		delete(s.itemIDByCode, strings.ToLower(current.Code))
		s.itemIDByCode[codeKey] = item.ID
	}
	// Stock is owned by the stock operations, not item updates.
	item.Stock = current.Stock
	item.CreatedAt = current.CreatedAt
	item.UpdatedAt = time.Now().UTC()
	s.itemsByID[item.ID] = item
	updated := item
	return &updated, nil
}

func (s *Store) DeleteItem(_ context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.itemsByID[itemID]
	if !ok {
		return &store.ItemNotFoundError{ItemID: itemID}
	}
	delete(s.itemsByID, itemID)
	delete(s.itemIDByCode, strings.ToLower(item.Code))
	delete(s.stockEntriesByItm, itemID)
	return nil
}

func (s *Store) GetItemByID(_ context.Context, itemID string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.itemsByID[itemID]
	if !ok {
		return nil, &store.ItemNotFoundError{ItemID: itemID}
	}
	found := item
	return &found, nil
}

func (s *Store) GetItemsByIDs(_ context.Context, itemIDs []string) (map[string]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.Item, len(itemIDs))
	for _, id := range itemIDs {
		if item, ok := s.itemsByID[id]; ok {
			out[id] = item
		}
	}
	return out, nil
}

func (s *Store) ListItems(_ context.Context, categoryID string, search string, limit int) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(search))
	out := make([]domain.Item, 0, len(s.itemsByID))
	for _, item := range s.itemsByID {
		if categoryID != "" && item.CategoryID != categoryID {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(item.Name), needle) &&
			!strings.Contains(strings.ToLower(item.Code), needle) {
			continue
		}
		out = append(out, item)
	}
	slices.SortFunc(out, func(a, b domain.Item) int { return cmpString(a.Name, b.Name) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DecrementStock performs the conditional decrement behind bill completion.
// The store mutex makes each decrement linearizable, so ErrConflict never
// arises here; the SQL implementation can report it.
func (s *Store) DecrementStock(_ context.Context, itemID string, qty int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.itemsByID[itemID]
	if !ok {
		return &store.ItemNotFoundError{ItemID: itemID}
	}
	if item.Stock < qty {
		return &store.InsufficientStockError{ItemID: itemID, Available: item.Stock, Requested: qty}
	}
	item.Stock -= qty
	item.UpdatedAt = time.Now().UTC()
	s.itemsByID[itemID] = item
	s.appendStockEntryLocked(itemID, -qty, domain.StockEntrySale)
	return nil
}

func (s *Store) AddStock(_ context.Context, itemID string, qty int64, kind string) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.itemsByID[itemID]
	if !ok {
		return nil, &store.ItemNotFoundError{ItemID: itemID}
	}
	item.Stock += qty
	item.UpdatedAt = time.Now().UTC()
	s.itemsByID[itemID] = item
	s.appendStockEntryLocked(itemID, qty, kind)
	updated := item
	return &updated, nil
}

func (s *Store) appendStockEntryLocked(itemID string, qty int64, kind string) {
	s.stockEntriesByItm[itemID] = append(s.stockEntriesByItm[itemID], domain.StockEntry{
		ID:        xid.New("stk"),
		ItemID:    itemID,
		Qty:       qty,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	})
}

func (s *Store) ListStockEntries(_ context.Context, itemID string, limit int) ([]domain.StockEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.StockEntry
	if itemID != "" {
		out = slices.Clone(s.stockEntriesByItm[itemID])
	} else {
		for _, entries := range s.stockEntriesByItm {
			out = append(out, entries...)
		}
	}
	slices.SortFunc(out, func(a, b domain.StockEntry) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) NextBillSequence(_ context.Context, dateKey string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.billCounters[dateKey]++
	return s.billCounters[dateKey], nil
}

func (s *Store) CreateBill(_ context.Context, bill domain.Bill) (*domain.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bill.ID == "" {
		bill.ID = xid.New("bill")
	}
	if bill.CreatedAt.IsZero() {
		bill.CreatedAt = time.Now().UTC()
	}
	if _, taken := s.billIDByNumber[bill.BillNumber]; taken {
		return nil, fmt.Errorf("%w: bill number %s", store.ErrDuplicate, bill.BillNumber)
	}
	stored := cloneBill(bill)
	s.billsByID[bill.ID] = stored
	s.billIDByNumber[bill.BillNumber] = bill.ID
	created := cloneBill(stored)
	return &created, nil
}

func (s *Store) GetBillByNumber(_ context.Context, billNumber string) (*domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.billIDByNumber[billNumber]
	if !ok {
		return nil, fmt.Errorf("%w: bill %s", store.ErrNotFound, billNumber)
	}
	found := cloneBill(s.billsByID[id])
	return &found, nil
}

func (s *Store) ListBills(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Bill, 0, len(s.billsByID))
	for _, bill := range s.billsByID {
		if inRange(bill.CreatedAt, from, to) {
			out = append(out, cloneBill(bill))
		}
	}
	slices.SortFunc(out, func(a, b domain.Bill) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetBillReturnedQty overwrites the returnedQty annotations for the named
// items. Validation of returnable quantities happens in the service.
func (s *Store) SetBillReturnedQty(_ context.Context, billID string, returned map[string]int64) (*domain.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bill, ok := s.billsByID[billID]
	if !ok {
		return nil, fmt.Errorf("%w: bill %s", store.ErrNotFound, billID)
	}
	updated := cloneBill(bill)
	for i := range updated.Lines {
		if qty, ok := returned[updated.Lines[i].ItemID]; ok {
			updated.Lines[i].ReturnedQty = qty
		}
	}
	s.billsByID[billID] = cloneBill(updated)
	return &updated, nil
}

func (s *Store) CreateChequeBill(_ context.Context, cheque domain.ChequeBill) (*domain.ChequeBill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cheque.ID == "" {
		cheque.ID = xid.New("chq")
	}
	now := time.Now().UTC()
	if cheque.CreatedAt.IsZero() {
		cheque.CreatedAt = now
	}
	cheque.UpdatedAt = now
	if cheque.Status == "" {
		cheque.Status = domain.ChequeStatusPending
	}
	s.chequeBillsByID[cheque.ID] = cheque
	created := cheque
	return &created, nil
}

func (s *Store) ListChequeBills(_ context.Context, status string, from time.Time, to time.Time, limit int) ([]domain.ChequeBill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ChequeBill, 0, len(s.chequeBillsByID))
	for _, cheque := range s.chequeBillsByID {
		if status != "" && cheque.Status != status {
			continue
		}
		if !inRange(cheque.CreatedAt, from, to) {
			continue
		}
		out = append(out, cheque)
	}
	slices.SortFunc(out, func(a, b domain.ChequeBill) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateChequeStatus(_ context.Context, chequeID string, status string, at time.Time) (*domain.ChequeBill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cheque, ok := s.chequeBillsByID[chequeID]
	if !ok {
		return nil, fmt.Errorf("%w: cheque bill %s", store.ErrNotFound, chequeID)
	}
	if cheque.Status != domain.ChequeStatusPending {
		return nil, fmt.Errorf("%w: cheque bill %s already %s", store.ErrConflict, chequeID, cheque.Status)
	}
	cheque.Status = status
	cheque.UpdatedAt = at
	s.chequeBillsByID[chequeID] = cheque
	updated := cheque
	return &updated, nil
}

func (s *Store) CreateCreditBill(_ context.Context, credit domain.CreditBill) (*domain.CreditBill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if credit.ID == "" {
		credit.ID = xid.New("crd")
	}
	now := time.Now().UTC()
	if credit.CreatedAt.IsZero() {
		credit.CreatedAt = now
	}
	credit.UpdatedAt = now
	if credit.Status == "" {
		credit.Status = domain.CreditStatusPending
	}
	s.creditBillsByID[credit.ID] = cloneCreditBill(credit)
	created := cloneCreditBill(credit)
	return &created, nil
}

func (s *Store) ListCreditBills(_ context.Context, status string, limit int) ([]domain.CreditBill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.CreditBill, 0, len(s.creditBillsByID))
	for _, credit := range s.creditBillsByID {
		if status != "" && credit.Status != status {
			continue
		}
		out = append(out, cloneCreditBill(credit))
	}
	slices.SortFunc(out, func(a, b domain.CreditBill) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetCreditBillByID(_ context.Context, creditID string) (*domain.CreditBill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	credit, ok := s.creditBillsByID[creditID]
	if !ok {
		return nil, fmt.Errorf("%w: credit bill %s", store.ErrNotFound, creditID)
	}
	found := cloneCreditBill(credit)
	return &found, nil
}

func (s *Store) AppendCreditPayment(_ context.Context, creditID string, payment domain.CreditPayment) (*domain.CreditBill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	credit, ok := s.creditBillsByID[creditID]
	if !ok {
		return nil, fmt.Errorf("%w: credit bill %s", store.ErrNotFound, creditID)
	}
	if payment.AmountCents > credit.BalanceCents {
		return nil, fmt.Errorf("%w: payment %d exceeds balance %d", store.ErrInvalidInput, payment.AmountCents, credit.BalanceCents)
	}
	credit.Payments = append(credit.Payments, payment)
	credit.PaidCents += payment.AmountCents
	credit.BalanceCents -= payment.AmountCents
	if credit.BalanceCents == 0 {
		credit.Status = domain.CreditStatusSettled
	}
	credit.UpdatedAt = time.Now().UTC()
	s.creditBillsByID[creditID] = cloneCreditBill(credit)
	updated := cloneCreditBill(credit)
	return &updated, nil
}

func (s *Store) CreateReturn(_ context.Context, ret domain.Return) (*domain.Return, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ret.ID == "" {
		ret.ID = xid.New("ret")
	}
	if ret.CreatedAt.IsZero() {
		ret.CreatedAt = time.Now().UTC()
	}
	s.returnsByID[ret.ID] = cloneReturn(ret)
	created := cloneReturn(ret)
	return &created, nil
}

func (s *Store) ListReturns(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.Return, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Return, 0, len(s.returnsByID))
	for _, ret := range s.returnsByID {
		if inRange(ret.CreatedAt, from, to) {
			out = append(out, cloneReturn(ret))
		}
	}
	slices.SortFunc(out, func(a, b domain.Return) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateExpense(_ context.Context, expense domain.Expense) (*domain.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	now := time.Now().UTC()
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = now
	}
	if expense.Date.IsZero() {
		expense.Date = now
	}
	s.expensesByID[expense.ID] = expense
	created := expense
	return &created, nil
}

func (s *Store) ListExpenses(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Expense, 0, len(s.expensesByID))
	for _, expense := range s.expensesByID {
		if inRange(expense.Date, from, to) {
			out = append(out, expense)
		}
	}
	slices.SortFunc(out, func(a, b domain.Expense) int {
		return b.Date.Compare(a.Date)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateDayCashEntry(_ context.Context, entry domain.DayCashEntry) (*domain.DayCashEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("cash")
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.Date.IsZero() {
		entry.Date = now
	}
	s.dayCashByID[entry.ID] = entry
	created := entry
	return &created, nil
}

func (s *Store) ListDayCashEntries(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.DayCashEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.DayCashEntry, 0, len(s.dayCashByID))
	for _, entry := range s.dayCashByID {
		if inRange(entry.Date, from, to) {
			out = append(out, entry)
		}
	}
	slices.SortFunc(out, func(a, b domain.DayCashEntry) int {
		return b.Date.Compare(a.Date)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	s.customersByID[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) ListCustomers(_ context.Context, search string, limit int) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(search))
	out := make([]domain.Customer, 0, len(s.customersByID))
	for _, customer := range s.customersByID {
		if needle != "" &&
			!strings.Contains(strings.ToLower(customer.Name), needle) &&
			!strings.Contains(customer.Phone, needle) {
			continue
		}
		out = append(out, customer)
	}
	slices.SortFunc(out, func(a, b domain.Customer) int { return cmpString(a.Name, b.Name) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return fmt.Errorf("%w: user %s", store.ErrDuplicate, user.Username)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		out = append(out, user)
	}
	slices.SortFunc(out, func(a, b domain.UserAccount) int { return cmpString(a.Username, b.Username) })
	return out, nil
}

// UpdateUserPassword stores the digest verbatim; hashing is the caller's job.
func (s *Store) UpdateUserPassword(_ context.Context, username string, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(passwordHash) == "" {
		return fmt.Errorf("%w: username and password required", store.ErrInvalidInput)
	}
	user, ok := s.usersByUsername[username]
	if !ok {
		return fmt.Errorf("%w: user %s", store.ErrNotFound, username)
	}
	user.PasswordHash = passwordHash
	s.usersByUsername[username] = user
	return nil
}

func cloneBill(b domain.Bill) domain.Bill {
	out := b
	out.Lines = slices.Clone(b.Lines)
	return out
}

func cloneCreditBill(c domain.CreditBill) domain.CreditBill {
	out := c
	out.Payments = slices.Clone(c.Payments)
	return out
}

func cloneReturn(r domain.Return) domain.Return {
	out := r
	out.Lines = slices.Clone(r.Lines)
	return out
}

func inRange(at time.Time, from time.Time, to time.Time) bool {
	if !from.IsZero() && at.Before(from) {
		return false
	}
	if !to.IsZero() && !at.Before(to) {
		return false
	}
	return true
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
