/*
store.go - Persistence contracts for settled sales

PURPOSE:
  Defines the interface between the settlement engine and the record
  store. Sales, items, tenders, receipts and loyalty entries are
  append-only inserts; loyalty accounts and daily usage are upserts on
  natural keys (see loyalty.Store).

TRANSACTIONAL BOUNDARY:
  The original system inserted each record independently, leaving
  orphaned sales on partial failure. Here every finalizer step runs
  inside ONE store transaction via TxStore.WithTx: the sale, its
  records, and its loyalty side effects commit or roll back together.

KEY INTERFACES:
  SaleStore: Sale/item/tender/receipt persistence + receipt-number counting
  TxStore:   SaleStore plus WithTx for the finalizer
  AuditLog:  Append-only record of authorization decisions

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite (WAL)
  - checkout/store: In-memory for tests/dev

SEE ALSO:
  - settlement.go: The only writer of sale records
  - loyalty/ledger.go: The loyalty slice of the same store
*/
package checkout

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/checkout-engine/loyalty"
)

// =============================================================================
// SALE RECORDS
// =============================================================================

// SaleRecord is the persisted sale row.
type SaleRecord struct {
	ID            SaleID
	BusinessID    string
	ReceiptNumber string

	Subtotal        decimal.Decimal
	DiscountAmount  decimal.Decimal
	LoyaltyDiscount decimal.Decimal
	TotalTax        decimal.Decimal
	TipAmount       decimal.Decimal
	Total           decimal.Decimal
	ChangeOwed      decimal.Decimal

	PaymentStatus    string
	LoyaltyAccountID loyalty.AccountID
	CreatedAt        time.Time
}

// SaleItemRecord is one persisted line item, tied to its sale.
type SaleItemRecord struct {
	ID        string
	SaleID    SaleID
	SKU       string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

// TenderRecord is one persisted payment, tied to its sale.
type TenderRecord struct {
	ID         TenderID
	SaleID     SaleID
	Method     TenderMethod
	Amount     decimal.Decimal
	CustomName string
	TipAmount  decimal.Decimal
	CreatedAt  time.Time
}

// ReceiptRecord is the denormalized receipt snapshot: a copy of amounts,
// items and payment methods frozen at settlement, so reprints and audits
// do not depend on later sale mutations.
type ReceiptRecord struct {
	ID        ReceiptID
	SaleID    SaleID
	Number    string
	Snapshot  ReceiptSnapshot
	CreatedAt time.Time
}

// ReceiptSnapshot is the frozen content of a receipt.
type ReceiptSnapshot struct {
	BusinessName    string                     `json:"business_name"`
	ReceiptNumber   string                     `json:"receipt_number"`
	Items           []ReceiptItem              `json:"items"`
	Subtotal        decimal.Decimal            `json:"subtotal"`
	DiscountAmount  decimal.Decimal            `json:"discount_amount"`
	LoyaltyDiscount decimal.Decimal            `json:"loyalty_discount"`
	Taxes           map[string]decimal.Decimal `json:"taxes"`
	Rebates         map[string]decimal.Decimal `json:"rebates"`
	TotalTax        decimal.Decimal            `json:"total_tax"`
	TipAmount       decimal.Decimal            `json:"tip_amount"`
	Total           decimal.Decimal            `json:"total"`
	Payments        []ReceiptPayment           `json:"payments"`
	ChangeOwed      decimal.Decimal            `json:"change_owed"`
	SettledAt       time.Time                  `json:"settled_at"`
}

type ReceiptItem struct {
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

type ReceiptPayment struct {
	Method TenderMethod    `json:"method"`
	Name   string          `json:"name,omitempty"`
	Amount decimal.Decimal `json:"amount"`
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

// SaleStore persists settled sales. All writes are append-only inserts;
// retries are keyed by the caller-supplied IDs.
type SaleStore interface {
	// InsertSale persists the sale row. ErrDuplicateSale on ID conflict.
	InsertSale(ctx context.Context, sale SaleRecord) error

	// InsertSaleItems persists line items tied to the sale.
	InsertSaleItems(ctx context.Context, items []SaleItemRecord) error

	// InsertTenders persists payment rows tied to the sale.
	InsertTenders(ctx context.Context, tenders []TenderRecord) error

	// InsertReceipt persists the receipt snapshot.
	InsertReceipt(ctx context.Context, receipt ReceiptRecord) error

	// CountSalesOn returns the number of sales for the business on the
	// calendar day of date, taken in date's location. Drives the receipt
	// sequence number.
	CountSalesOn(ctx context.Context, businessID string, date time.Time) (int, error)

	// GetSale loads a persisted sale, or ErrSaleNotFound.
	GetSale(ctx context.Context, id SaleID) (*SaleRecord, error)

	// GetReceiptBySale loads the receipt snapshot for a sale, or
	// ErrSaleNotFound.
	GetReceiptBySale(ctx context.Context, id SaleID) (*ReceiptRecord, error)
}

// TxStore wraps SaleStore with a transactional boundary. The finalizer
// requires it: every settlement step commits or rolls back together.
//
// The SaleStore passed to fn is transaction-scoped. Implementations that
// also serve loyalty records expose loyalty.Store on the same value, so
// loyalty side effects join the sale's transaction (the finalizer
// type-asserts for it).
type TxStore interface {
	SaleStore

	// WithTx executes fn within a transaction. fn's error rolls back.
	WithTx(ctx context.Context, fn func(SaleStore) error) error
}

// =============================================================================
// AUDIT LOG - Authorization decisions, append-only
// =============================================================================

type AuditAction string

const (
	AuditAuthRequested AuditAction = "authorization_requested"
	AuditAuthApproved  AuditAction = "authorization_approved"
	AuditAuthDenied    AuditAction = "authorization_denied"
)

// AuditEntry records one authorization decision with its context.
type AuditEntry struct {
	ID        string
	At        time.Time
	Action    AuditAction
	Reason    string
	Method    TenderMethod
	Amount    decimal.Decimal
	SessionID SessionID
}

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
}
