/*
Package sqlite provides the SQLite-backed implementation of the checkout
and loyalty persistence contracts, plus the manager directory behind the
identity store.

PURPOSE:
  Implements checkout.SaleStore/TxStore, loyalty.Store, checkout.AuditLog
  and checkout.IdentityStore on one database. In production the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  sales:                One row per settled sale
  sale_items:           Line items tied to a sale
  tenders:              Payments tied to a sale
  receipts:             Denormalized receipt snapshots (JSON)
  loyalty_accounts:     Balance-canonical stored value (points derived)
  loyalty_transactions: Append-only loyalty ledger
  daily_usage:          Per-day redemption, integer cents, atomic upserts
  managers:             bcrypt PIN hashes for the authorization gate
  audit_log:            Authorization decisions, append-only

DAILY USAGE ATOMICITY:
  Two terminals settling the same account on the same day race on one
  (account_id, usage_date) row. The increment is a single
  INSERT ... ON CONFLICT DO UPDATE with a cap guard in the WHERE clause:
  either the whole increment lands under the cap or nothing is written.
  The amount is stored as integer cents so the guard is exact.

TRANSACTIONS:
  WithTx wraps all finalizer writes in one BEGIN/COMMIT. The value
  passed to the callback also implements loyalty.Store, so loyalty side
  effects join the sale's transaction.

WAL MODE:
  Opened with WAL and foreign keys on, same as a single-terminal POS
  deployment wants: readers don't block, one writer at a time.

SEE ALSO:
  - checkout/store.go: Interface definitions
  - loyalty/ledger.go: The loyalty slice of the contract
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/checkout-engine/checkout"
	"github.com/warp/checkout-engine/loyalty"
)

// Store implements all persistence contracts on SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at dbPath. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: SQLite allows one writer anyway, and ":memory:"
	// databases are per-connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Settled sales
	CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL,
		receipt_number TEXT NOT NULL,
		subtotal TEXT NOT NULL,
		discount_amount TEXT NOT NULL,
		loyalty_discount TEXT NOT NULL,
		total_tax TEXT NOT NULL,
		tip_amount TEXT NOT NULL,
		total TEXT NOT NULL,
		change_owed TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		loyalty_account_id TEXT,
		created_at TEXT NOT NULL
	);

	-- Receipt sequence counting (hot path at settlement)
	CREATE INDEX IF NOT EXISTS idx_sales_business_created
		ON sales(business_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_sales_loyalty_account
		ON sales(loyalty_account_id) WHERE loyalty_account_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS sale_items (
		id TEXT PRIMARY KEY,
		sale_id TEXT NOT NULL REFERENCES sales(id),
		sku TEXT NOT NULL,
		name TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		quantity INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sale_items_sale ON sale_items(sale_id);

	CREATE TABLE IF NOT EXISTS tenders (
		id TEXT PRIMARY KEY,
		sale_id TEXT NOT NULL REFERENCES sales(id),
		method TEXT NOT NULL,
		amount TEXT NOT NULL,
		custom_name TEXT,
		tip_amount TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tenders_sale ON tenders(sale_id);

	-- Denormalized snapshots for reprint/audit, independent of later
	-- sale mutations
	CREATE TABLE IF NOT EXISTS receipts (
		id TEXT PRIMARY KEY,
		sale_id TEXT NOT NULL UNIQUE REFERENCES sales(id),
		number TEXT NOT NULL,
		snapshot_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Loyalty accounts: balance is canonical, points are derived on read
	CREATE TABLE IF NOT EXISTS loyalty_accounts (
		id TEXT PRIMARY KEY,
		balance TEXT NOT NULL,
		total_earned TEXT NOT NULL,
		total_spent TEXT NOT NULL,
		last_activity TEXT NOT NULL
	);

	-- Append-only loyalty ledger
	CREATE TABLE IF NOT EXISTS loyalty_transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		points INTEGER NOT NULL,
		balance_before TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		points_before INTEGER NOT NULL,
		points_after INTEGER NOT NULL,
		earned_date TEXT NOT NULL,
		expires_at TEXT,
		sale_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_loyalty_tx_account
		ON loyalty_transactions(account_id, created_at);

	-- Daily redemption usage, integer cents for exact atomic arithmetic
	CREATE TABLE IF NOT EXISTS daily_usage (
		account_id TEXT NOT NULL,
		usage_date TEXT NOT NULL,
		amount_used_cents INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (account_id, usage_date)
	);

	-- Manager directory for the authorization gate
	CREATE TABLE IF NOT EXISTS managers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		pin_hash TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Authorization decisions, append-only
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		at TEXT NOT NULL,
		action TEXT NOT NULL,
		reason TEXT,
		method TEXT,
		amount TEXT,
		session_id TEXT
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// SALE STORE (checkout.SaleStore)
// =============================================================================

func (s *Store) InsertSale(ctx context.Context, sale checkout.SaleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertSale(ctx, s.db, sale)
}

func (s *Store) insertSale(ctx context.Context, q dbtx, sale checkout.SaleRecord) error {
	query := `
		INSERT INTO sales
		(id, business_id, receipt_number, subtotal, discount_amount, loyalty_discount,
		 total_tax, tip_amount, total, change_owed, payment_status, loyalty_account_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		sale.ID,
		sale.BusinessID,
		sale.ReceiptNumber,
		sale.Subtotal.String(),
		sale.DiscountAmount.String(),
		sale.LoyaltyDiscount.String(),
		sale.TotalTax.String(),
		sale.TipAmount.String(),
		sale.Total.String(),
		sale.ChangeOwed.String(),
		sale.PaymentStatus,
		nullString(string(sale.LoyaltyAccountID)),
		sale.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return checkout.ErrDuplicateSale
		}
		return fmt.Errorf("failed to insert sale: %w", err)
	}
	return nil
}

func (s *Store) InsertSaleItems(ctx context.Context, items []checkout.SaleItemRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertSaleItems(ctx, s.db, items)
}

func (s *Store) insertSaleItems(ctx context.Context, q dbtx, items []checkout.SaleItemRecord) error {
	query := `
		INSERT INTO sale_items (id, sale_id, sku, name, unit_price, quantity)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	for _, it := range items {
		_, err := q.ExecContext(ctx, query,
			it.ID, it.SaleID, it.SKU, it.Name, it.UnitPrice.String(), it.Quantity)
		if err != nil {
			return fmt.Errorf("failed to insert sale item %s: %w", it.ID, err)
		}
	}
	return nil
}

func (s *Store) InsertTenders(ctx context.Context, tenders []checkout.TenderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertTenders(ctx, s.db, tenders)
}

func (s *Store) insertTenders(ctx context.Context, q dbtx, tenders []checkout.TenderRecord) error {
	query := `
		INSERT INTO tenders (id, sale_id, method, amount, custom_name, tip_amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for _, t := range tenders {
		_, err := q.ExecContext(ctx, query,
			t.ID, t.SaleID, t.Method, t.Amount.String(),
			nullString(t.CustomName), t.TipAmount.String(),
			t.CreatedAt.UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("failed to insert tender %s: %w", t.ID, err)
		}
	}
	return nil
}

func (s *Store) InsertReceipt(ctx context.Context, receipt checkout.ReceiptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertReceipt(ctx, s.db, receipt)
}

func (s *Store) insertReceipt(ctx context.Context, q dbtx, receipt checkout.ReceiptRecord) error {
	snapshotJSON, err := json.Marshal(receipt.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt snapshot: %w", err)
	}
	query := `
		INSERT INTO receipts (id, sale_id, number, snapshot_json, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err = q.ExecContext(ctx, query,
		receipt.ID, receipt.SaleID, receipt.Number, string(snapshotJSON),
		receipt.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert receipt: %w", err)
	}
	return nil
}

func (s *Store) CountSalesOn(ctx context.Context, businessID string, date time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countSalesOn(ctx, s.db, businessID, date)
}

func (s *Store) countSalesOn(ctx context.Context, q dbtx, businessID string, date time.Time) (int, error) {
	// created_at is stored as a UTC timestamp; the calendar day belongs to
	// date's location. Count the local day as a UTC instant range so the
	// receipt sequence follows the business's clock around midnight.
	y, m, d := date.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, date.Location())
	to := from.AddDate(0, 0, 1)

	query := `SELECT COUNT(*) FROM sales WHERE business_id = ? AND created_at >= ? AND created_at < ?`
	var count int
	err := q.QueryRowContext(ctx, query, businessID,
		from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count sales: %w", err)
	}
	return count, nil
}

func (s *Store) GetSale(ctx context.Context, id checkout.SaleID) (*checkout.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, business_id, receipt_number, subtotal, discount_amount, loyalty_discount,
		       total_tax, tip_amount, total, change_owed, payment_status, loyalty_account_id, created_at
		FROM sales WHERE id = ?
	`
	row := s.db.QueryRowContext(ctx, query, id)

	var sale checkout.SaleRecord
	var subtotal, discount, loyaltyDiscount, totalTax, tip, total, change, createdAt string
	var accountID sql.NullString
	err := row.Scan(&sale.ID, &sale.BusinessID, &sale.ReceiptNumber,
		&subtotal, &discount, &loyaltyDiscount, &totalTax, &tip, &total, &change,
		&sale.PaymentStatus, &accountID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, checkout.ErrSaleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sale: %w", err)
	}

	sale.Subtotal = mustDecimal(subtotal)
	sale.DiscountAmount = mustDecimal(discount)
	sale.LoyaltyDiscount = mustDecimal(loyaltyDiscount)
	sale.TotalTax = mustDecimal(totalTax)
	sale.TipAmount = mustDecimal(tip)
	sale.Total = mustDecimal(total)
	sale.ChangeOwed = mustDecimal(change)
	sale.LoyaltyAccountID = loyalty.AccountID(accountID.String)
	sale.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &sale, nil
}

func (s *Store) GetReceiptBySale(ctx context.Context, id checkout.SaleID) (*checkout.ReceiptRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, sale_id, number, snapshot_json, created_at FROM receipts WHERE sale_id = ?`
	row := s.db.QueryRowContext(ctx, query, id)

	var receipt checkout.ReceiptRecord
	var snapshotJSON, createdAt string
	err := row.Scan(&receipt.ID, &receipt.SaleID, &receipt.Number, &snapshotJSON, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, checkout.ErrSaleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load receipt: %w", err)
	}
	if err := json.Unmarshal([]byte(snapshotJSON), &receipt.Snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt snapshot: %w", err)
	}
	receipt.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &receipt, nil
}

// =============================================================================
// TRANSACTIONS (checkout.TxStore)
// =============================================================================

// WithTx runs fn inside one database transaction. The store passed to fn
// also implements loyalty.Store, so loyalty writes join the transaction.
func (s *Store) WithTx(ctx context.Context, fn func(checkout.SaleStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txView{store: s, q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// txView is the transaction-scoped face of the store. It reuses the
// store's unexported helpers with the transaction as executor; the outer
// WithTx already holds the store mutex.
type txView struct {
	store *Store
	q     *sql.Tx
}

func (v *txView) InsertSale(ctx context.Context, sale checkout.SaleRecord) error {
	return v.store.insertSale(ctx, v.q, sale)
}

func (v *txView) InsertSaleItems(ctx context.Context, items []checkout.SaleItemRecord) error {
	return v.store.insertSaleItems(ctx, v.q, items)
}

func (v *txView) InsertTenders(ctx context.Context, tenders []checkout.TenderRecord) error {
	return v.store.insertTenders(ctx, v.q, tenders)
}

func (v *txView) InsertReceipt(ctx context.Context, receipt checkout.ReceiptRecord) error {
	return v.store.insertReceipt(ctx, v.q, receipt)
}

func (v *txView) CountSalesOn(ctx context.Context, businessID string, date time.Time) (int, error) {
	return v.store.countSalesOn(ctx, v.q, businessID, date)
}

func (v *txView) GetSale(context.Context, checkout.SaleID) (*checkout.SaleRecord, error) {
	return nil, errors.New("sale reads not supported inside settlement transaction")
}

func (v *txView) GetReceiptBySale(context.Context, checkout.SaleID) (*checkout.ReceiptRecord, error) {
	return nil, errors.New("receipt reads not supported inside settlement transaction")
}

func (v *txView) GetAccount(ctx context.Context, id loyalty.AccountID, set loyalty.Settings) (*loyalty.Account, error) {
	return v.store.getAccount(ctx, v.q, id, set)
}

func (v *txView) SaveAccount(ctx context.Context, a *loyalty.Account) error {
	return v.store.saveAccount(ctx, v.q, a)
}

func (v *txView) AppendTransaction(ctx context.Context, tx loyalty.Transaction) error {
	return v.store.appendLoyaltyTx(ctx, v.q, tx)
}

func (v *txView) TransactionsForAccount(ctx context.Context, id loyalty.AccountID) ([]loyalty.Transaction, error) {
	return v.store.loyaltyTxsForAccount(ctx, v.q, id)
}

func (v *txView) UsedOn(ctx context.Context, id loyalty.AccountID, date time.Time) (decimal.Decimal, error) {
	return v.store.usedOn(ctx, v.q, id, date)
}

func (v *txView) PendingEarned(ctx context.Context, id loyalty.AccountID, date time.Time) (decimal.Decimal, error) {
	return v.store.pendingEarned(ctx, v.q, id, date)
}

func (v *txView) IncrementDailyUsage(ctx context.Context, id loyalty.AccountID, date time.Time, amount, cap decimal.Decimal) error {
	return v.store.incrementDailyUsage(ctx, v.q, id, date, amount, cap)
}

var (
	_ checkout.SaleStore = (*txView)(nil)
	_ loyalty.Store      = (*txView)(nil)
)

// =============================================================================
// LOYALTY STORE (loyalty.Store)
// =============================================================================

func (s *Store) GetAccount(ctx context.Context, id loyalty.AccountID, set loyalty.Settings) (*loyalty.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getAccount(ctx, s.db, id, set)
}

func (s *Store) getAccount(ctx context.Context, q dbtx, id loyalty.AccountID, set loyalty.Settings) (*loyalty.Account, error) {
	query := `SELECT balance, total_earned, total_spent, last_activity FROM loyalty_accounts WHERE id = ?`
	var balance, earned, spent, lastActivity string
	err := q.QueryRowContext(ctx, query, id).Scan(&balance, &earned, &spent, &lastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, loyalty.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load loyalty account: %w", err)
	}
	at, _ := time.Parse(time.RFC3339, lastActivity)
	return loyalty.RestoreAccount(id, mustDecimal(balance), mustDecimal(earned), mustDecimal(spent), at, set), nil
}

func (s *Store) SaveAccount(ctx context.Context, a *loyalty.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveAccount(ctx, s.db, a)
}

func (s *Store) saveAccount(ctx context.Context, q dbtx, a *loyalty.Account) error {
	query := `
		INSERT INTO loyalty_accounts (id, balance, total_earned, total_spent, last_activity)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			balance = excluded.balance,
			total_earned = excluded.total_earned,
			total_spent = excluded.total_spent,
			last_activity = excluded.last_activity
	`
	_, err := q.ExecContext(ctx, query,
		a.ID(), a.Balance().String(), a.TotalEarned().String(), a.TotalSpent().String(),
		a.LastActivity().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save loyalty account: %w", err)
	}
	return nil
}

func (s *Store) AppendTransaction(ctx context.Context, tx loyalty.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLoyaltyTx(ctx, s.db, tx)
}

func (s *Store) appendLoyaltyTx(ctx context.Context, q dbtx, tx loyalty.Transaction) error {
	query := `
		INSERT INTO loyalty_transactions
		(id, account_id, tx_type, amount, points, balance_before, balance_after,
		 points_before, points_after, earned_date, expires_at, sale_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var expiresAt any
	if tx.ExpiresAt != nil {
		expiresAt = tx.ExpiresAt.UTC().Format(time.RFC3339)
	}
	_, err := q.ExecContext(ctx, query,
		tx.ID, tx.AccountID, tx.Type, tx.Amount.String(), tx.Points,
		tx.BalanceBefore.String(), tx.BalanceAfter.String(),
		tx.PointsBefore, tx.PointsAfter,
		tx.EarnedDate.Format("2006-01-02"),
		expiresAt,
		nullString(tx.SaleID),
		tx.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			return loyalty.ErrDuplicateTransaction
		}
		return fmt.Errorf("failed to append loyalty transaction: %w", err)
	}
	return nil
}

func (s *Store) TransactionsForAccount(ctx context.Context, id loyalty.AccountID) ([]loyalty.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loyaltyTxsForAccount(ctx, s.db, id)
}

func (s *Store) loyaltyTxsForAccount(ctx context.Context, q dbtx, id loyalty.AccountID) ([]loyalty.Transaction, error) {
	query := `
		SELECT id, account_id, tx_type, amount, points, balance_before, balance_after,
		       points_before, points_after, earned_date, expires_at, sale_id, created_at
		FROM loyalty_transactions
		WHERE account_id = ?
		ORDER BY created_at ASC, id ASC
	`
	rows, err := q.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load loyalty transactions: %w", err)
	}
	defer rows.Close()

	var txs []loyalty.Transaction
	for rows.Next() {
		var tx loyalty.Transaction
		var amount, balBefore, balAfter, earnedDate, createdAt string
		var expiresAt, saleID sql.NullString
		err := rows.Scan(&tx.ID, &tx.AccountID, &tx.Type, &amount, &tx.Points,
			&balBefore, &balAfter, &tx.PointsBefore, &tx.PointsAfter,
			&earnedDate, &expiresAt, &saleID, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loyalty transaction: %w", err)
		}
		tx.Amount = mustDecimal(amount)
		tx.BalanceBefore = mustDecimal(balBefore)
		tx.BalanceAfter = mustDecimal(balAfter)
		tx.EarnedDate, _ = time.Parse("2006-01-02", earnedDate)
		if expiresAt.Valid {
			t, _ := time.Parse(time.RFC3339, expiresAt.String)
			tx.ExpiresAt = &t
		}
		tx.SaleID = saleID.String
		tx.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (s *Store) PendingEarned(ctx context.Context, id loyalty.AccountID, date time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingEarned(ctx, s.db, id, date)
}

// pendingEarned sums earn entries dated after the given business date.
// Amounts are decimal strings, so the sum happens in Go, not SQL.
func (s *Store) pendingEarned(ctx context.Context, q dbtx, id loyalty.AccountID, date time.Time) (decimal.Decimal, error) {
	query := `
		SELECT amount FROM loyalty_transactions
		WHERE account_id = ? AND tx_type = ? AND earned_date > ?
	`
	rows, err := q.QueryContext(ctx, query, id, loyalty.TxEarn, date.Format("2006-01-02"))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load pending earnings: %w", err)
	}
	defer rows.Close()

	pending := decimal.Zero
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan pending earning: %w", err)
		}
		pending = pending.Add(mustDecimal(amount))
	}
	return pending, rows.Err()
}

func (s *Store) UsedOn(ctx context.Context, id loyalty.AccountID, date time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usedOn(ctx, s.db, id, date)
}

func (s *Store) usedOn(ctx context.Context, q dbtx, id loyalty.AccountID, date time.Time) (decimal.Decimal, error) {
	query := `SELECT amount_used_cents FROM daily_usage WHERE account_id = ? AND usage_date = ?`
	var cents int64
	err := q.QueryRowContext(ctx, query, id, date.Format("2006-01-02")).Scan(&cents)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load daily usage: %w", err)
	}
	return decimal.New(cents, -2), nil
}

// IncrementDailyUsage is the cross-terminal guard on the daily cap: one
// conditional upsert, no client-side read-then-write. When the cap would
// be exceeded nothing is written and ErrDailyCapExceeded is returned.
func (s *Store) IncrementDailyUsage(ctx context.Context, id loyalty.AccountID, date time.Time, amount, cap decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incrementDailyUsage(ctx, s.db, id, date, amount, cap)
}

func (s *Store) incrementDailyUsage(ctx context.Context, q dbtx, id loyalty.AccountID, date time.Time, amount, cap decimal.Decimal) error {
	amountCents := toCents(amount)
	day := date.Format("2006-01-02")

	if !cap.IsPositive() {
		// No cap configured: plain atomic upsert.
		query := `
			INSERT INTO daily_usage (account_id, usage_date, amount_used_cents)
			VALUES (?, ?, ?)
			ON CONFLICT(account_id, usage_date) DO UPDATE SET
				amount_used_cents = amount_used_cents + excluded.amount_used_cents
		`
		if _, err := q.ExecContext(ctx, query, id, day, amountCents); err != nil {
			return fmt.Errorf("failed to increment daily usage: %w", err)
		}
		return nil
	}

	capCents := toCents(cap)
	if amountCents > capCents {
		return &loyalty.DailyCapError{AccountID: id, CapDollars: cap, Requested: amount}
	}

	query := `
		INSERT INTO daily_usage (account_id, usage_date, amount_used_cents)
		VALUES (?, ?, ?)
		ON CONFLICT(account_id, usage_date) DO UPDATE SET
			amount_used_cents = amount_used_cents + excluded.amount_used_cents
		WHERE amount_used_cents + excluded.amount_used_cents <= ?
	`
	res, err := q.ExecContext(ctx, query, id, day, amountCents, capCents)
	if err != nil {
		return fmt.Errorf("failed to increment daily usage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check daily usage increment: %w", err)
	}
	if affected == 0 {
		return &loyalty.DailyCapError{AccountID: id, CapDollars: cap, Requested: amount}
	}
	return nil
}

// =============================================================================
// MANAGER DIRECTORY (checkout.IdentityStore)
// =============================================================================

// CreateManager stores a manager with a bcrypt-hashed PIN.
func (s *Store) CreateManager(ctx context.Context, name, pin string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash pin: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	query := `INSERT INTO managers (id, name, pin_hash, created_at) VALUES (?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query, id, name, string(hash), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("failed to create manager: %w", err)
	}
	return id, nil
}

// ValidateManagerCredential checks the PIN against every stored manager
// hash. The gate only learns match / no match; rate limiting, if any,
// belongs here, not in the gate.
func (s *Store) ValidateManagerCredential(ctx context.Context, pin string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT pin_hash FROM managers`)
	if err != nil {
		return false, fmt.Errorf("failed to load managers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return false, fmt.Errorf("failed to scan manager: %w", err)
		}
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) == nil {
			return true, nil
		}
	}
	return false, rows.Err()
}

// =============================================================================
// AUDIT LOG (checkout.AuditLog)
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, entry checkout.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO audit_log (id, at, action, reason, method, amount, session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.At.UTC().Format(time.RFC3339), entry.Action,
		entry.Reason, entry.Method, entry.Amount.String(), entry.SessionID)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func toCents(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Compile-time interface checks.
var (
	_ checkout.TxStore       = (*Store)(nil)
	_ checkout.AuditLog      = (*Store)(nil)
	_ checkout.IdentityStore = (*Store)(nil)
	_ loyalty.Store          = (*Store)(nil)
)
