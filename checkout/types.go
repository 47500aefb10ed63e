/*
Package checkout provides the sale settlement engine: tender collection,
cash rounding, authorization gating, and finalization of a sale into the
record store.

PURPOSE:
  Balance a mixed set of tenders (cash, card, loyalty credit, gift card,
  custom) against a computed total, then persist the sale, its items, its
  payments, its receipt snapshot, and its loyalty ledger entries.

KEY CONCEPTS IN THIS FILE (types.go):
  - SaleDraft:        Immutable input from the cart screen
  - Tender:           One collected payment
  - TaxCalculation:   The tax oracle's aggregated output
  - SettlementResult: What the caller gets back after finalize
  - BusinessSettings: Per-business identity and locale

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for all money; epsilon is one cent.
  2. Explicit settings: business and loyalty settings are parameters,
     never ambient process state.
  3. One session, one thread: a checkout session belongs to a single
     terminal; cross-terminal races exist only at the daily-usage row.

SEE ALSO:
  - session.go:    Tender Collector state machine
  - settlement.go: Settlement Finalizer pipeline
  - loyalty/:      Stored-value domain consumed by this engine
*/
package checkout

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/checkout-engine/loyalty"
)

// Epsilon is the settlement tolerance: one cent. A sale is payable when
// the remaining balance is within Epsilon of zero.
var Epsilon = decimal.New(1, -2)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type SaleID string
type SessionID string
type TenderID string
type ReceiptID string

// =============================================================================
// SALE DRAFT - Immutable input from the cart screen
// =============================================================================

// LineItem is one cart line.
type LineItem struct {
	SKU       string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

// SaleDraft is the engine's read-only input. The upstream cart screen owns
// its construction; the engine never mutates it.
type SaleDraft struct {
	Items          []LineItem
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal

	// LoyaltyAccountID is empty when no loyalty customer is attached.
	LoyaltyAccountID loyalty.AccountID
}

// =============================================================================
// TENDERS
// =============================================================================

// TenderMethod identifies how a payment was made.
type TenderMethod string

const (
	MethodCash          TenderMethod = "cash"
	MethodCard          TenderMethod = "card"
	MethodHelcim        TenderMethod = "helcim"
	MethodGiftCard      TenderMethod = "gift_card"
	MethodLoyaltyCredit TenderMethod = "loyalty_credit"
	MethodCustom        TenderMethod = "custom"
)

// ValidMethod reports whether m is a known tender method.
func ValidMethod(m TenderMethod) bool {
	switch m {
	case MethodCash, MethodCard, MethodHelcim, MethodGiftCard, MethodLoyaltyCredit, MethodCustom:
		return true
	}
	return false
}

// Tender is one collected payment. Tip attaches only to the first tender
// of a sale.
type Tender struct {
	ID         TenderID
	Method     TenderMethod
	Amount     decimal.Decimal
	CustomName string
	TipAmount  decimal.Decimal
	CreatedAt  time.Time
}

// TenderProposal is a tender that has been requested but not yet accepted.
// The Authorization Gate holds one of these while waiting for a manager.
type TenderProposal struct {
	Amount     decimal.Decimal
	Method     TenderMethod
	CustomName string
}

// =============================================================================
// TAX CALCULATION - Output of the external tax oracle
// =============================================================================

// TaxCalculation is the aggregated result of the tax/rebate oracle.
type TaxCalculation struct {
	AggregatedTaxes   map[string]decimal.Decimal
	AggregatedRebates map[string]decimal.Decimal
	TotalTax          decimal.Decimal
}

// ZeroTax is the degraded calculation used when the oracle is unavailable:
// checkout proceeds with zero tax rather than blocking the sale.
func ZeroTax() TaxCalculation {
	return TaxCalculation{
		AggregatedTaxes:   map[string]decimal.Decimal{},
		AggregatedRebates: map[string]decimal.Decimal{},
		TotalTax:          decimal.Zero,
	}
}

// =============================================================================
// SETTLEMENT RESULT
// =============================================================================

// SettlementResult is returned to the caller on successful finalization.
// The caller hands it to the receipt display/printing stage.
type SettlementResult struct {
	SaleID        SaleID
	ReceiptID     ReceiptID
	ReceiptNumber string
	FinalTotal    decimal.Decimal
	ChangeOwed    decimal.Decimal

	LoyaltyRedeemed     decimal.Decimal
	LoyaltyEarned       decimal.Decimal
	LoyaltyPointsEarned int64
}

// =============================================================================
// BUSINESS SETTINGS
// =============================================================================

// BusinessSettings identifies the business and its locale. Passed explicitly
// into every engine call alongside loyalty.Settings.
type BusinessSettings struct {
	BusinessID string
	Name       string

	// ShortCode prefixes receipt numbers, e.g. "WRP" -> WRP-20260828-0042.
	ShortCode string

	// Timezone is an IANA zone name. Daily loyalty caps reset at this
	// zone's midnight. Empty means UTC.
	Timezone string
}

// Location resolves the business timezone, falling back to UTC on a bad or
// empty zone name.
func (b BusinessSettings) Location() *time.Location {
	if b.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
