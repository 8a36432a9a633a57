package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"imapos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicate         = errors.New("duplicate")
	ErrEmptyCart         = errors.New("empty cart")
	ErrConflict          = errors.New("conflict")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidBillTotals = errors.New("bill totals do not match lines")
	ErrBillPersistFailed = errors.New("bill persist failed")
)

// ItemNotFoundError reports which item id a lookup or update missed.
type ItemNotFoundError struct {
	ItemID string
}

func (e *ItemNotFoundError) Error() string { return fmt.Sprintf("item %s: not found", e.ItemID) }

func (e *ItemNotFoundError) Unwrap() error { return ErrNotFound }

// InsufficientStockError reports the first item whose stock cannot cover the
// aggregate demand of a cart.
type InsufficientStockError struct {
	ItemID    string
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("item %s: insufficient stock (available %d, requested %d)", e.ItemID, e.Available, e.Requested)
}

// StockUpdateError reports a stock decrement that kept losing to concurrent
// writers until the retry budget ran out.
type StockUpdateError struct {
	ItemID string
}

func (e *StockUpdateError) Error() string { return fmt.Sprintf("item %s: stock update failed", e.ItemID) }

func (e *StockUpdateError) Unwrap() error { return ErrConflict }

type Repository interface {
	// Catalog.
	CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
	CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	DeleteItem(ctx context.Context, itemID string) error
	GetItemByID(ctx context.Context, itemID string) (*domain.Item, error)
	GetItemsByIDs(ctx context.Context, itemIDs []string) (map[string]domain.Item, error)
	ListItems(ctx context.Context, categoryID string, search string, limit int) ([]domain.Item, error)

	// Stock. DecrementStock is the conditional update behind bill
	// completion: it succeeds only when stock covers qty at the moment of
	// the write, and returns ErrConflict when a concurrent writer
	// invalidated the attempt.
	DecrementStock(ctx context.Context, itemID string, qty int64) error
	AddStock(ctx context.Context, itemID string, qty int64, kind string) (*domain.Item, error)
	ListStockEntries(ctx context.Context, itemID string, limit int) ([]domain.StockEntry, error)

	// Billing.
	NextBillSequence(ctx context.Context, dateKey string) (int64, error)
	CreateBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error)
	GetBillByNumber(ctx context.Context, billNumber string) (*domain.Bill, error)
	ListBills(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Bill, error)
	SetBillReturnedQty(ctx context.Context, billID string, returned map[string]int64) (*domain.Bill, error)

	// Cheque and credit bills.
	CreateChequeBill(ctx context.Context, cheque domain.ChequeBill) (*domain.ChequeBill, error)
	ListChequeBills(ctx context.Context, status string, from time.Time, to time.Time, limit int) ([]domain.ChequeBill, error)
	UpdateChequeStatus(ctx context.Context, chequeID string, status string, at time.Time) (*domain.ChequeBill, error)
	CreateCreditBill(ctx context.Context, credit domain.CreditBill) (*domain.CreditBill, error)
	ListCreditBills(ctx context.Context, status string, limit int) ([]domain.CreditBill, error)
	GetCreditBillByID(ctx context.Context, creditID string) (*domain.CreditBill, error)
	AppendCreditPayment(ctx context.Context, creditID string, payment domain.CreditPayment) (*domain.CreditBill, error)

	// Returns.
	CreateReturn(ctx context.Context, ret domain.Return) (*domain.Return, error)
	ListReturns(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Return, error)

	// Ledger.
	CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error)
	ListExpenses(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Expense, error)
	CreateDayCashEntry(ctx context.Context, entry domain.DayCashEntry) (*domain.DayCashEntry, error)
	ListDayCashEntries(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.DayCashEntry, error)

	// Customers and users.
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	ListCustomers(ctx context.Context, search string, limit int) ([]domain.Customer, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, passwordHash string) error
}
