package domain

import "time"

// Monetary amounts are integer cents throughout. Quantities are int64.

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

const (
	PaymentCash   = "cash"
	PaymentCheque = "cheque"
	PaymentCredit = "credit"
)

const (
	ChequeStatusPending   = "pending"
	ChequeStatusCleared   = "cleared"
	ChequeStatusCancelled = "cancelled"
)

const (
	CreditStatusPending = "pending"
	CreditStatusSettled = "settled"
)

const (
	StockEntryAdd    = "add"
	StockEntrySale   = "sale"
	StockEntryReturn = "return"
)

// LowStockThreshold marks items that should be reordered soon. Items at or
// below zero are reported as out of stock.
const LowStockThreshold = 10

// Category groups items in the catalog.
type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Item is a sellable catalog entry. DiscountPriceCents and BuyingPriceCents
// are optional; zero means unset. Stock never goes negative.
type Item struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Code               string    `json:"code"`
	CategoryID         string    `json:"categoryId,omitempty"`
	PriceCents         int64     `json:"priceCents"`
	DiscountPriceCents int64     `json:"discountPriceCents,omitempty"`
	BuyingPriceCents   int64     `json:"buyingPriceCents,omitempty"`
	Stock              int64     `json:"stock"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// SalePriceCents is the effective unit price: the discount price when one is
// set, the regular price otherwise.
func (i Item) SalePriceCents() int64 {
	if i.DiscountPriceCents > 0 {
		return i.DiscountPriceCents
	}
	return i.PriceCents
}

// OutOfStock reports whether the item has no sellable stock.
func (i Item) OutOfStock() bool { return i.Stock <= 0 }

// LowStock reports whether the item is at or below the reorder threshold but
// not yet out of stock.
func (i Item) LowStock() bool { return i.Stock > 0 && i.Stock <= LowStockThreshold }

// CartLine is one row of a cart as submitted by a terminal. The same item may
// appear on several lines; completion aggregates them.
type CartLine struct {
	ItemID         string `json:"itemId"`
	Name           string `json:"name,omitempty"`
	Qty            int64  `json:"qty"`
	SalePriceCents int64  `json:"salePriceCents"`
}

// PaymentDetails carries the payment-mode specific fields of a completion.
type PaymentDetails struct {
	Method          string    `json:"method,omitempty"`
	CustomerName    string    `json:"customerName,omitempty"`
	CustomerPhone   string    `json:"customerPhone,omitempty"`
	CustomerAddress string    `json:"customerAddress,omitempty"`
	ChequeNumber    string    `json:"chequeNumber,omitempty"`
	ChequeDate      time.Time `json:"chequeDate,omitzero"`
	PaidCents       int64     `json:"paidCents,omitempty"`
	DueDate         time.Time `json:"dueDate,omitzero"`
}

// CompleteBillRequest is the input of bill completion. GrandTotalCents and
// ItemCount are advisory: zero means "compute", a non-zero value that
// disagrees with the recomputed figures rejects the request.
type CompleteBillRequest struct {
	Lines           []CartLine     `json:"lines"`
	GrandTotalCents int64          `json:"grandTotalCents,omitempty"`
	ItemCount       int64          `json:"itemCount,omitempty"`
	Payment         PaymentDetails `json:"payment"`
}

// BillLine is a persisted line of a completed bill. ReturnedQty tracks how
// much of the line has already been returned.
type BillLine struct {
	ItemID         string `json:"itemId"`
	Name           string `json:"name"`
	Qty            int64  `json:"qty"`
	SalePriceCents int64  `json:"salePriceCents"`
	TotalCents     int64  `json:"totalCents"`
	ReturnedQty    int64  `json:"returnedQty,omitempty"`
}

// Bill is a completed sale.
type Bill struct {
	ID              string     `json:"id"`
	BillNumber      string     `json:"billNumber"`
	Lines           []BillLine `json:"lines"`
	ItemCount       int64      `json:"itemCount"`
	GrandTotalCents int64      `json:"grandTotalCents"`
	PaymentMethod   string     `json:"paymentMethod"`
	CustomerName    string     `json:"customerName,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// BillReceipt is what completion hands back to the terminal.
type BillReceipt struct {
	BillID          string    `json:"billId"`
	BillNumber      string    `json:"billNumber"`
	ItemCount       int64     `json:"itemCount"`
	GrandTotalCents int64     `json:"grandTotalCents"`
	PaymentMethod   string    `json:"paymentMethod"`
	CreatedAt       time.Time `json:"createdAt"`
}

// BillCounter is the per-day sequence record behind bill numbering.
type BillCounter struct {
	DateKey string `json:"dateKey"`
	Count   int64  `json:"count"`
}

// ChequeBill tracks a bill paid by cheque until the cheque clears.
type ChequeBill struct {
	ID            string    `json:"id"`
	BillID        string    `json:"billId"`
	BillNumber    string    `json:"billNumber"`
	ChequeNumber  string    `json:"chequeNumber"`
	ChequeDate    time.Time `json:"chequeDate"`
	CustomerName  string    `json:"customerName"`
	CustomerPhone string    `json:"customerPhone,omitempty"`
	AmountCents   int64     `json:"amountCents"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// CreditPayment is one instalment against a credit bill.
type CreditPayment struct {
	ID          string    `json:"id"`
	AmountCents int64     `json:"amountCents"`
	PaidAt      time.Time `json:"paidAt"`
}

// CreditBill tracks an on-credit sale and its repayments.
type CreditBill struct {
	ID              string          `json:"id"`
	BillID          string          `json:"billId"`
	BillNumber      string          `json:"billNumber"`
	CustomerName    string          `json:"customerName"`
	CustomerPhone   string          `json:"customerPhone,omitempty"`
	CustomerAddress string          `json:"customerAddress,omitempty"`
	AmountCents     int64           `json:"amountCents"`
	PaidCents       int64           `json:"paidCents"`
	BalanceCents    int64           `json:"balanceCents"`
	DueDate         time.Time       `json:"dueDate,omitzero"`
	Status          string          `json:"status"`
	Payments        []CreditPayment `json:"payments,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// ReturnLine names a quantity of a bill line being handed back.
type ReturnLine struct {
	ItemID         string `json:"itemId"`
	Name           string `json:"name,omitempty"`
	Qty            int64  `json:"qty"`
	SalePriceCents int64  `json:"salePriceCents,omitempty"`
}

// Return records a processed return, whether against a bill or off-bill.
type Return struct {
	ID          string       `json:"id"`
	BillID      string       `json:"billId,omitempty"`
	BillNumber  string       `json:"billNumber,omitempty"`
	Lines       []ReturnLine `json:"lines"`
	RefundCents int64        `json:"refundCents"`
	Reason      string       `json:"reason,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// StockEntry is one movement in an item's stock history.
type StockEntry struct {
	ID        string    `json:"id"`
	ItemID    string    `json:"itemId"`
	Qty       int64     `json:"qty"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
}

// Expense is a cash outflow recorded by the shop.
type Expense struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	AmountCents int64     `json:"amountCents"`
	Date        time.Time `json:"date"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DayCashEntry records the counted drawer cash for a day.
type DayCashEntry struct {
	ID          string    `json:"id"`
	Date        time.Time `json:"date"`
	AmountCents int64     `json:"amountCents"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Customer is a known buyer, referenced by cheque and credit bills.
type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserAccount is a login. PasswordHash is a bcrypt digest and never leaves
// the store layer through the API.
type UserAccount struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"createdAt"`
}

// LoginRequest carries the credentials of a login attempt.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the issued bearer token.
type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expiresAt"`
}

// UserCreateRequest is the admin payload for creating an account.
type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// UserInfo is the API view of an account, digest excluded.
type UserInfo struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// Actor identifies the authenticated user behind a request.
type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// DaySales is one per-day bucket of a sales summary.
type DaySales struct {
	Date       string `json:"date"`
	BillCount  int64  `json:"billCount"`
	GrossCents int64  `json:"grossCents"`
}

// SalesSummary aggregates sales, returns and expenses over a range.
type SalesSummary struct {
	From         time.Time  `json:"from"`
	To           time.Time  `json:"to"`
	BillCount    int64      `json:"billCount"`
	ItemsSold    int64      `json:"itemsSold"`
	GrossCents   int64      `json:"grossCents"`
	RefundCents  int64      `json:"refundCents"`
	ExpenseCents int64      `json:"expenseCents"`
	NetCents     int64      `json:"netCents"`
	Days         []DaySales `json:"days"`
}

// TopItem is one row of the most-selling-items report.
type TopItem struct {
	ItemID      string `json:"itemId"`
	Name        string `json:"name"`
	Qty         int64  `json:"qty"`
	AmountCents int64  `json:"amountCents"`
}

// ItemSalesDetail summarizes lifetime sales of a single item. Profit is only
// meaningful when the item carries a buying price.
type ItemSalesDetail struct {
	ItemID       string `json:"itemId"`
	Name         string `json:"name"`
	TotalSold    int64  `json:"totalSold"`
	RevenueCents int64  `json:"revenueCents"`
	ProfitCents  int64  `json:"profitCents"`
}
