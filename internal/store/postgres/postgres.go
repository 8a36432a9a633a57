package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"imapos/backend/internal/domain"
	"imapos/backend/internal/store"
	"imapos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	if category.ID == "" {
		category.ID = xid.New("cat")
	}
	if category.CreatedAt.IsZero() {
		category.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, created_at)
		VALUES ($1,$2,$3)
	`, category.ID, category.Name, category.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: category %s", store.ErrDuplicate, category.Name)
		}
		return nil, err
	}
	created := category
	return &created, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, created_at
		FROM categories
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 16)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

func (s *Store) CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, name, code, category_id, price_cents, discount_price_cents, buying_price_cents, stock, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, item.ID, item.Name, item.Code, nullIfEmpty(item.CategoryID), item.PriceCents,
		item.DiscountPriceCents, item.BuyingPriceCents, item.Stock, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: item code %s", store.ErrDuplicate, item.Code)
		}
		return nil, err
	}
	created := item
	return &created, nil
}

func (s *Store) UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE items
		SET name = $2, code = $3, category_id = $4, price_cents = $5,
		    discount_price_cents = $6, buying_price_cents = $7, updated_at = now()
		WHERE id = $1
		RETURNING id, name, code, COALESCE(category_id, ''), price_cents, discount_price_cents, buying_price_cents, stock, created_at, updated_at
	`, item.ID, item.Name, item.Code, nullIfEmpty(item.CategoryID), item.PriceCents,
		item.DiscountPriceCents, item.BuyingPriceCents)

	updated, err := scanItemRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &store.ItemNotFoundError{ItemID: item.ID}
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: item code %s", store.ErrDuplicate, item.Code)
		}
		return nil, err
	}
	return updated, nil
}

func (s *Store) DeleteItem(ctx context.Context, itemID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, itemID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &store.ItemNotFoundError{ItemID: itemID}
	}
	return nil
}

const itemColumns = `id, name, code, COALESCE(category_id, ''), price_cents, discount_price_cents, buying_price_cents, stock, created_at, updated_at`

func (s *Store) GetItemByID(ctx context.Context, itemID string) (*domain.Item, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE id = $1
	`, itemID)
	item, err := scanItemRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &store.ItemNotFoundError{ItemID: itemID}
		}
		return nil, err
	}
	return item, nil
}

func (s *Store) GetItemsByIDs(ctx context.Context, itemIDs []string) (map[string]domain.Item, error) {
	result := make(map[string]domain.Item, len(itemIDs))
	if len(itemIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE id = ANY($1)
	`, itemIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		result[item.ID] = *item
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListItems(ctx context.Context, categoryID string, search string, limit int) ([]domain.Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM items
		WHERE ($1 = '' OR category_id = $1)
		  AND ($2 = '' OR name ILIKE '%' || $2 || '%' OR code ILIKE '%' || $2 || '%')
		ORDER BY name
	`
	args := []any{categoryID, search}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 64)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// DecrementStock is the conditional update behind bill completion: the WHERE
// clause only matches when stock still covers qty, so a concurrent sale
// cannot drive stock negative. Serialization failures surface as ErrConflict
// for the caller's retry loop.
func (s *Store) DecrementStock(ctx context.Context, itemID string, qty int64) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE items
		SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2
	`, itemID, qty)
	if err != nil {
		return mapTxError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var available int64
		err := tx.QueryRowContext(ctx, `SELECT stock FROM items WHERE id = $1`, itemID).Scan(&available)
		if errors.Is(err, sql.ErrNoRows) {
			return &store.ItemNotFoundError{ItemID: itemID}
		}
		if err != nil {
			return mapTxError(err)
		}
		return &store.InsufficientStockError{ItemID: itemID, Available: available, Requested: qty}
	}

	if err := insertStockEntry(ctx, tx, itemID, -qty, domain.StockEntrySale); err != nil {
		return mapTxError(err)
	}
	if err := tx.Commit(); err != nil {
		return mapTxError(err)
	}
	return nil
}

func (s *Store) AddStock(ctx context.Context, itemID string, qty int64, kind string) (*domain.Item, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		UPDATE items
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1
		RETURNING `+itemColumns+`
	`, itemID, qty)
	item, err := scanItemRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &store.ItemNotFoundError{ItemID: itemID}
		}
		return nil, mapTxError(err)
	}

	if err := insertStockEntry(ctx, tx, itemID, qty, kind); err != nil {
		return nil, mapTxError(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, mapTxError(err)
	}
	return item, nil
}

func insertStockEntry(ctx context.Context, tx *sql.Tx, itemID string, qty int64, kind string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stock_entries (id, item_id, qty, kind, created_at)
		VALUES ($1,$2,$3,$4,now())
	`, xid.New("stk"), itemID, qty, kind)
	return err
}

func (s *Store) ListStockEntries(ctx context.Context, itemID string, limit int) ([]domain.StockEntry, error) {
	query := `
		SELECT id, item_id, qty, kind, created_at
		FROM stock_entries
		WHERE ($1 = '' OR item_id = $1)
		ORDER BY created_at DESC
	`
	args := []any{itemID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.StockEntry, 0, 64)
	for rows.Next() {
		var e domain.StockEntry
		if err := rows.Scan(&e.ID, &e.ItemID, &e.Qty, &e.Kind, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// NextBillSequence allocates the next per-day number through an upsert, so
// concurrent completions never observe the same value.
func (s *Store) NextBillSequence(ctx context.Context, dateKey string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO bill_counters (date_key, count)
		VALUES ($1, 1)
		ON CONFLICT (date_key) DO UPDATE SET count = bill_counters.count + 1
		RETURNING count
	`, dateKey).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) CreateBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error) {
	if bill.ID == "" {
		bill.ID = xid.New("bill")
	}
	if bill.CreatedAt.IsZero() {
		bill.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bills (id, bill_number, item_count, grand_total_cents, payment_method, customer_name, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, bill.ID, bill.BillNumber, bill.ItemCount, bill.GrandTotalCents, bill.PaymentMethod,
		nullIfEmpty(bill.CustomerName), bill.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: bill number %s", store.ErrDuplicate, bill.BillNumber)
		}
		return nil, mapTxError(err)
	}

	for i, line := range bill.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO bill_lines (bill_id, line_no, item_id, name, qty, sale_price_cents, total_cents, returned_qty)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, bill.ID, i, line.ItemID, line.Name, line.Qty, line.SalePriceCents, line.TotalCents, line.ReturnedQty)
		if err != nil {
			return nil, mapTxError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, mapTxError(err)
	}
	created := bill
	return &created, nil
}

func (s *Store) GetBillByNumber(ctx context.Context, billNumber string) (*domain.Bill, error) {
	var bill domain.Bill
	var customer sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, bill_number, item_count, grand_total_cents, payment_method, customer_name, created_at
		FROM bills
		WHERE bill_number = $1
	`, billNumber).Scan(&bill.ID, &bill.BillNumber, &bill.ItemCount, &bill.GrandTotalCents,
		&bill.PaymentMethod, &customer, &bill.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: bill %s", store.ErrNotFound, billNumber)
		}
		return nil, err
	}
	bill.CustomerName = customer.String

	lines, err := s.loadBillLines(ctx, []string{bill.ID})
	if err != nil {
		return nil, err
	}
	bill.Lines = lines[bill.ID]
	return &bill, nil
}

func (s *Store) ListBills(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Bill, error) {
	query := `
		SELECT id, bill_number, item_count, grand_total_cents, payment_method, customer_name, created_at
		FROM bills
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
		  AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at DESC
	`
	args := []any{nullDate(timePtr(from)), nullDate(timePtr(to))}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bills := make([]domain.Bill, 0, 64)
	billIDs := make([]string, 0, 64)
	for rows.Next() {
		var bill domain.Bill
		var customer sql.NullString
		if err := rows.Scan(&bill.ID, &bill.BillNumber, &bill.ItemCount, &bill.GrandTotalCents,
			&bill.PaymentMethod, &customer, &bill.CreatedAt); err != nil {
			return nil, err
		}
		bill.CustomerName = customer.String
		bills = append(bills, bill)
		billIDs = append(billIDs, bill.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	lines, err := s.loadBillLines(ctx, billIDs)
	if err != nil {
		return nil, err
	}
	for i := range bills {
		bills[i].Lines = lines[bills[i].ID]
	}
	return bills, nil
}

func (s *Store) loadBillLines(ctx context.Context, billIDs []string) (map[string][]domain.BillLine, error) {
	result := make(map[string][]domain.BillLine, len(billIDs))
	if len(billIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT bill_id, item_id, name, qty, sale_price_cents, total_cents, returned_qty
		FROM bill_lines
		WHERE bill_id = ANY($1)
		ORDER BY bill_id, line_no
	`, billIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var billID string
		var line domain.BillLine
		if err := rows.Scan(&billID, &line.ItemID, &line.Name, &line.Qty,
			&line.SalePriceCents, &line.TotalCents, &line.ReturnedQty); err != nil {
			return nil, err
		}
		result[billID] = append(result[billID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) SetBillReturnedQty(ctx context.Context, billID string, returned map[string]int64) (*domain.Bill, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var billNumber string
	err = tx.QueryRowContext(ctx, `SELECT bill_number FROM bills WHERE id = $1`, billID).Scan(&billNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: bill %s", store.ErrNotFound, billID)
	}
	if err != nil {
		return nil, mapTxError(err)
	}

	for itemID, qty := range returned {
		_, err = tx.ExecContext(ctx, `
			UPDATE bill_lines
			SET returned_qty = $3
			WHERE bill_id = $1 AND item_id = $2
		`, billID, itemID, qty)
		if err != nil {
			return nil, mapTxError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, mapTxError(err)
	}
	return s.GetBillByNumber(ctx, billNumber)
}

func (s *Store) CreateChequeBill(ctx context.Context, cheque domain.ChequeBill) (*domain.ChequeBill, error) {
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cheque_bills (id, bill_id, bill_number, cheque_number, cheque_date, customer_name, customer_phone, amount_cents, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, cheque.ID, cheque.BillID, cheque.BillNumber, cheque.ChequeNumber, cheque.ChequeDate,
		cheque.CustomerName, nullIfEmpty(cheque.CustomerPhone), cheque.AmountCents, cheque.Status,
		cheque.CreatedAt, cheque.UpdatedAt)
	if err != nil {
		return nil, err
	}
	created := cheque
	return &created, nil
}

func (s *Store) ListChequeBills(ctx context.Context, status string, from time.Time, to time.Time, limit int) ([]domain.ChequeBill, error) {
	query := `
		SELECT id, bill_id, bill_number, cheque_number, cheque_date, customer_name, COALESCE(customer_phone, ''), amount_cents, status, created_at, updated_at
		FROM cheque_bills
		WHERE ($1 = '' OR status = $1)
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at < $3)
		ORDER BY created_at DESC
	`
	args := []any{status, nullDate(timePtr(from)), nullDate(timePtr(to))}
	if limit > 0 {
		query += ` LIMIT $4`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cheques := make([]domain.ChequeBill, 0, 32)
	for rows.Next() {
		var c domain.ChequeBill
		if err := rows.Scan(&c.ID, &c.BillID, &c.BillNumber, &c.ChequeNumber, &c.ChequeDate,
			&c.CustomerName, &c.CustomerPhone, &c.AmountCents, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		cheques = append(cheques, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cheques, nil
}

func (s *Store) UpdateChequeStatus(ctx context.Context, chequeID string, status string, at time.Time) (*domain.ChequeBill, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE cheque_bills
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending'
		RETURNING id, bill_id, bill_number, cheque_number, cheque_date, customer_name, COALESCE(customer_phone, ''), amount_cents, status, created_at, updated_at
	`, chequeID, status, at)

	var c domain.ChequeBill
	err := row.Scan(&c.ID, &c.BillID, &c.BillNumber, &c.ChequeNumber, &c.ChequeDate,
		&c.CustomerName, &c.CustomerPhone, &c.AmountCents, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Either unknown or no longer pending; disambiguate for the caller.
			var existing string
			lookupErr := s.db.QueryRowContext(ctx, `SELECT status FROM cheque_bills WHERE id = $1`, chequeID).Scan(&existing)
			if errors.Is(lookupErr, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: cheque bill %s", store.ErrNotFound, chequeID)
			}
			if lookupErr != nil {
				return nil, lookupErr
			}
			return nil, fmt.Errorf("%w: cheque bill %s already %s", store.ErrConflict, chequeID, existing)
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateCreditBill(ctx context.Context, credit domain.CreditBill) (*domain.CreditBill, error) {
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_bills (id, bill_id, bill_number, customer_name, customer_phone, customer_address, amount_cents, paid_cents, balance_cents, due_date, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, credit.ID, credit.BillID, credit.BillNumber, credit.CustomerName,
		nullIfEmpty(credit.CustomerPhone), nullIfEmpty(credit.CustomerAddress),
		credit.AmountCents, credit.PaidCents, credit.BalanceCents,
		nullDate(timePtr(credit.DueDate)), credit.Status, credit.CreatedAt, credit.UpdatedAt)
	if err != nil {
		return nil, err
	}
	created := credit
	return &created, nil
}

const creditColumns = `id, bill_id, bill_number, customer_name, COALESCE(customer_phone, ''), COALESCE(customer_address, ''), amount_cents, paid_cents, balance_cents, due_date, status, created_at, updated_at`

func (s *Store) ListCreditBills(ctx context.Context, status string, limit int) ([]domain.CreditBill, error) {
	query := `
		SELECT ` + creditColumns + `
		FROM credit_bills
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
	`
	args := []any{status}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	credits := make([]domain.CreditBill, 0, 32)
	creditIDs := make([]string, 0, 32)
	for rows.Next() {
		credit, err := scanCreditBill(rows)
		if err != nil {
			return nil, err
		}
		credits = append(credits, *credit)
		creditIDs = append(creditIDs, credit.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	payments, err := s.loadCreditPayments(ctx, creditIDs)
	if err != nil {
		return nil, err
	}
	for i := range credits {
		credits[i].Payments = payments[credits[i].ID]
	}
	return credits, nil
}

func (s *Store) GetCreditBillByID(ctx context.Context, creditID string) (*domain.CreditBill, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+creditColumns+`
		FROM credit_bills
		WHERE id = $1
	`, creditID)
	credit, err := scanCreditBill(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: credit bill %s", store.ErrNotFound, creditID)
		}
		return nil, err
	}

	payments, err := s.loadCreditPayments(ctx, []string{creditID})
	if err != nil {
		return nil, err
	}
	credit.Payments = payments[creditID]
	return credit, nil
}

func (s *Store) loadCreditPayments(ctx context.Context, creditIDs []string) (map[string][]domain.CreditPayment, error) {
	result := make(map[string][]domain.CreditPayment, len(creditIDs))
	if len(creditIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT credit_id, id, amount_cents, paid_at
		FROM credit_payments
		WHERE credit_id = ANY($1)
		ORDER BY paid_at
	`, creditIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var creditID string
		var p domain.CreditPayment
		if err := rows.Scan(&creditID, &p.ID, &p.AmountCents, &p.PaidAt); err != nil {
			return nil, err
		}
		result[creditID] = append(result[creditID], p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// AppendCreditPayment locks the credit row so concurrent payments cannot
// overdraw the balance.
func (s *Store) AppendCreditPayment(ctx context.Context, creditID string, payment domain.CreditPayment) (*domain.CreditBill, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var balance int64
	err = tx.QueryRowContext(ctx, `
		SELECT balance_cents FROM credit_bills WHERE id = $1 FOR UPDATE
	`, creditID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: credit bill %s", store.ErrNotFound, creditID)
	}
	if err != nil {
		return nil, mapTxError(err)
	}
	if payment.AmountCents > balance {
		return nil, fmt.Errorf("%w: payment %d exceeds balance %d", store.ErrInvalidInput, payment.AmountCents, balance)
	}

	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.PaidAt.IsZero() {
		payment.PaidAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO credit_payments (id, credit_id, amount_cents, paid_at)
		VALUES ($1,$2,$3,$4)
	`, payment.ID, creditID, payment.AmountCents, payment.PaidAt)
	if err != nil {
		return nil, mapTxError(err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE credit_bills
		SET paid_cents = paid_cents + $2,
		    balance_cents = balance_cents - $2,
		    status = CASE WHEN balance_cents - $2 = 0 THEN 'settled' ELSE status END,
		    updated_at = now()
		WHERE id = $1
	`, creditID, payment.AmountCents)
	if err != nil {
		return nil, mapTxError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, mapTxError(err)
	}
	return s.GetCreditBillByID(ctx, creditID)
}

func (s *Store) CreateReturn(ctx context.Context, ret domain.Return) (*domain.Return, error) {
	if ret.ID == "" {
		ret.ID = xid.New("ret")
	}
	if ret.CreatedAt.IsZero() {
		ret.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO returns (id, bill_id, bill_number, refund_cents, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, ret.ID, nullIfEmpty(ret.BillID), nullIfEmpty(ret.BillNumber), ret.RefundCents,
		nullIfEmpty(ret.Reason), ret.CreatedAt)
	if err != nil {
		return nil, mapTxError(err)
	}

	for i, line := range ret.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO return_lines (return_id, line_no, item_id, name, qty, sale_price_cents)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, ret.ID, i, line.ItemID, line.Name, line.Qty, line.SalePriceCents)
		if err != nil {
			return nil, mapTxError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, mapTxError(err)
	}
	created := ret
	return &created, nil
}

func (s *Store) ListReturns(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Return, error) {
	query := `
		SELECT id, COALESCE(bill_id, ''), COALESCE(bill_number, ''), refund_cents, COALESCE(reason, ''), created_at
		FROM returns
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
		  AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at DESC
	`
	args := []any{nullDate(timePtr(from)), nullDate(timePtr(to))}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	returns := make([]domain.Return, 0, 32)
	returnIDs := make([]string, 0, 32)
	for rows.Next() {
		var r domain.Return
		if err := rows.Scan(&r.ID, &r.BillID, &r.BillNumber, &r.RefundCents, &r.Reason, &r.CreatedAt); err != nil {
			return nil, err
		}
		returns = append(returns, r)
		returnIDs = append(returnIDs, r.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(returnIDs) > 0 {
		lineRows, err := s.db.QueryContext(ctx, `
			SELECT return_id, item_id, name, qty, sale_price_cents
			FROM return_lines
			WHERE return_id = ANY($1)
			ORDER BY return_id, line_no
		`, returnIDs)
		if err != nil {
			return nil, err
		}
		defer lineRows.Close()

		linesByReturn := map[string][]domain.ReturnLine{}
		for lineRows.Next() {
			var returnID string
			var line domain.ReturnLine
			if err := lineRows.Scan(&returnID, &line.ItemID, &line.Name, &line.Qty, &line.SalePriceCents); err != nil {
				return nil, err
			}
			linesByReturn[returnID] = append(linesByReturn[returnID], line)
		}
		if err := lineRows.Err(); err != nil {
			return nil, err
		}
		for i := range returns {
			returns[i].Lines = linesByReturn[returns[i].ID]
		}
	}
	return returns, nil
}

func (s *Store) CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error) {
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expenses (id, description, amount_cents, date, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, expense.ID, expense.Description, expense.AmountCents, expense.Date, expense.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := expense
	return &created, nil
}

func (s *Store) ListExpenses(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Expense, error) {
	query := `
		SELECT id, description, amount_cents, date, created_at
		FROM expenses
		WHERE ($1::timestamptz IS NULL OR date >= $1)
		  AND ($2::timestamptz IS NULL OR date < $2)
		ORDER BY date DESC
	`
	args := []any{nullDate(timePtr(from)), nullDate(timePtr(to))}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expenses := make([]domain.Expense, 0, 32)
	for rows.Next() {
		var e domain.Expense
		if err := rows.Scan(&e.ID, &e.Description, &e.AmountCents, &e.Date, &e.CreatedAt); err != nil {
			return nil, err
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return expenses, nil
}

func (s *Store) CreateDayCashEntry(ctx context.Context, entry domain.DayCashEntry) (*domain.DayCashEntry, error) {
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO day_cash_entries (id, date, amount_cents, notes, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, entry.ID, entry.Date, entry.AmountCents, nullIfEmpty(entry.Notes), entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := entry
	return &created, nil
}

func (s *Store) ListDayCashEntries(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.DayCashEntry, error) {
	query := `
		SELECT id, date, amount_cents, COALESCE(notes, ''), created_at
		FROM day_cash_entries
		WHERE ($1::timestamptz IS NULL OR date >= $1)
		  AND ($2::timestamptz IS NULL OR date < $2)
		ORDER BY date DESC
	`
	args := []any{nullDate(timePtr(from)), nullDate(timePtr(to))}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.DayCashEntry, 0, 32)
	for rows.Next() {
		var e domain.DayCashEntry
		if err := rows.Scan(&e.ID, &e.Date, &e.AmountCents, &e.Notes, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, address, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, customer.ID, customer.Name, nullIfEmpty(customer.Phone), nullIfEmpty(customer.Address), customer.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := customer
	return &created, nil
}

func (s *Store) ListCustomers(ctx context.Context, search string, limit int) ([]domain.Customer, error) {
	query := `
		SELECT id, name, COALESCE(phone, ''), COALESCE(address, ''), created_at
		FROM customers
		WHERE ($1 = '' OR name ILIKE '%' || $1 || '%' OR phone LIKE '%' || $1 || '%')
		ORDER BY name
	`
	args := []any{search}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 32)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Address, &c.CreatedAt); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.PasswordHash, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user %s", store.ErrDuplicate, user.Username)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password_hash, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.PasswordHash, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// UpdateUserPassword stores the digest verbatim; hashing is the caller's job.
func (s *Store) UpdateUserPassword(ctx context.Context, username string, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2 WHERE username = $1
	`, username, passwordHash)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: user %s", store.ErrNotFound, username)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(r rowScanner) (*domain.Item, error) {
	var item domain.Item
	err := r.Scan(&item.ID, &item.Name, &item.Code, &item.CategoryID, &item.PriceCents,
		&item.DiscountPriceCents, &item.BuyingPriceCents, &item.Stock, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func scanItemRow(row *sql.Row) (*domain.Item, error) {
	return scanItem(row)
}

func scanCreditBill(r rowScanner) (*domain.CreditBill, error) {
	var c domain.CreditBill
	var due sql.NullTime
	err := r.Scan(&c.ID, &c.BillID, &c.BillNumber, &c.CustomerName, &c.CustomerPhone,
		&c.CustomerAddress, &c.AmountCents, &c.PaidCents, &c.BalanceCents, &due,
		&c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if due.Valid {
		c.DueDate = due.Time
	}
	return &c, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// mapTxError turns serialization failures and deadlocks into ErrConflict so
// callers can retry; everything else passes through.
func mapTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Code)
		}
	}
	return err
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullDate(val *time.Time) any {
	if val == nil || val.IsZero() {
		return nil
	}
	return *val
}

func timePtr(t time.Time) *time.Time {
	return &t
}
