/*
Package loyalty provides the stored-value side of the checkout engine:
customer credit balances, redemption policy, earning rules, and the
append-only transaction ledger behind them.

PURPOSE:
  A loyalty account holds a dollar balance that customers spend at the
  register and grow with every sale. This package answers two questions
  per sale:
  1. How much credit may this customer apply right now?
  2. How much new credit does this sale earn?

KEY CONCEPTS IN THIS FILE (types.go):
  - Settings:    Per-business loyalty configuration (rates, caps, floors)
  - Account:     Balance-canonical stored value; points are DERIVED
  - Transaction: Immutable ledger entry (earn/redeem/expire)
  - DailyUsage:  Per-day redemption tracking for the daily cap

DESIGN PRINCIPLES:
  1. Balance is canonical: points = round(balance × redemptionRate),
     recomputed on every mutation. There is NO independent points write
     path - the fields are unexported and only constructors and the
     Redeem/Earn mutators touch them.
  2. Precision: decimal.Decimal for all money and rate math.
  3. Earn-after-spend: credit earned by a sale is dated for tomorrow and
     can never fund the sale that generated it.

SEE ALSO:
  - quote.go:  Redemption ceiling and auto-apply computation
  - ledger.go: Settlement planning and persistence contracts
*/
package loyalty

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SETTINGS - Per-business loyalty configuration
// =============================================================================

// Mode selects how balances are presented to cashiers and customers.
// Storage is always dollars; points are a display/derivation of the same value.
type Mode string

const (
	ModePoints  Mode = "points"
	ModeDollars Mode = "dollars"
)

// AutoApplyPolicy controls whether available credit is proposed as a tender
// automatically when a loyalty customer is attached to a sale.
type AutoApplyPolicy string

const (
	AutoApplyAlways AutoApplyPolicy = "always"
	AutoApplyNever  AutoApplyPolicy = "never"
)

// Settings is the per-business loyalty configuration. It is passed explicitly
// into every computation; the engine keeps no ambient settings state.
type Settings struct {
	Enabled bool
	Mode    Mode

	// RedemptionRate is points per dollar (e.g. 100 means 100 pts = $1).
	RedemptionRate decimal.Decimal

	// MinRedemption is the smallest redeemable chunk, in points.
	MinRedemption decimal.Decimal

	// MaxRedemptionPerDay caps a single account's redemption per business
	// day, in points. Zero or negative means no daily cap.
	MaxRedemptionPerDay decimal.Decimal

	// EarnRatePercent is the percentage of the earn-eligible subtotal that
	// comes back as credit (e.g. 5 means 5%).
	EarnRatePercent decimal.Decimal

	AutoApply              AutoApplyPolicy
	AllowPartialRedemption bool

	CreditsExpire bool
	ExpiryMonths  int
}

// MinRedemptionDollars converts the minimum-redemption floor to dollars.
func (s Settings) MinRedemptionDollars() decimal.Decimal {
	if !s.RedemptionRate.IsPositive() {
		return decimal.Zero
	}
	return s.MinRedemption.Div(s.RedemptionRate)
}

// DailyLimitDollars converts the per-day cap to dollars.
// Returns zero when no cap is configured.
func (s Settings) DailyLimitDollars() decimal.Decimal {
	if !s.RedemptionRate.IsPositive() || !s.MaxRedemptionPerDay.IsPositive() {
		return decimal.Zero
	}
	return s.MaxRedemptionPerDay.Div(s.RedemptionRate)
}

// HasDailyCap reports whether a daily redemption cap is configured.
func (s Settings) HasDailyCap() bool {
	return s.MaxRedemptionPerDay.IsPositive() && s.RedemptionRate.IsPositive()
}

// PointsFromDollars derives points from a dollar amount.
// This is the ONLY conversion used anywhere; every stored points figure
// must be reproducible through it.
func (s Settings) PointsFromDollars(dollars decimal.Decimal) int64 {
	return dollars.Mul(s.RedemptionRate).Round(0).IntPart()
}

// ExpiryFrom returns the expiry timestamp for credit earned at t, or nil
// when credits do not expire.
func (s Settings) ExpiryFrom(t time.Time) *time.Time {
	if !s.CreditsExpire || s.ExpiryMonths <= 0 {
		return nil
	}
	exp := t.AddDate(0, s.ExpiryMonths, 0)
	return &exp
}

// =============================================================================
// ACCOUNT - Balance-canonical stored value
// =============================================================================

type AccountID string

// Account is a customer's stored value. The dollar balance is the canonical
// figure; points are derived from it and recomputed on every mutation.
//
// INVARIANT: points == settings.PointsFromDollars(balance) at all times.
// The fields are unexported so no caller can update one without the other.
type Account struct {
	id           AccountID
	balance      decimal.Decimal
	points       int64
	totalEarned  decimal.Decimal
	totalSpent   decimal.Decimal
	lastActivity time.Time
}

// NewAccount creates an account with an opening balance.
func NewAccount(id AccountID, balance decimal.Decimal, s Settings) *Account {
	return &Account{
		id:      id,
		balance: balance,
		points:  s.PointsFromDollars(balance),
	}
}

// RestoreAccount rehydrates an account from storage. Points are re-derived
// from the stored balance - a stale points column can never leak back in.
func RestoreAccount(id AccountID, balance, totalEarned, totalSpent decimal.Decimal, lastActivity time.Time, s Settings) *Account {
	return &Account{
		id:           id,
		balance:      balance,
		points:       s.PointsFromDollars(balance),
		totalEarned:  totalEarned,
		totalSpent:   totalSpent,
		lastActivity: lastActivity,
	}
}

func (a *Account) ID() AccountID                { return a.id }
func (a *Account) Points() int64                { return a.points }
func (a *Account) TotalEarned() decimal.Decimal { return a.totalEarned }
func (a *Account) TotalSpent() decimal.Decimal  { return a.totalSpent }
func (a *Account) LastActivity() time.Time      { return a.lastActivity }

// Balance returns the signed canonical balance.
func (a *Account) Balance() decimal.Decimal { return a.balance }

// SpendableBalance returns the balance magnitude used for redemption
// ceilings. The store of value is signed; display and redemption always
// treat it as a magnitude.
func (a *Account) SpendableBalance() decimal.Decimal { return a.balance.Abs() }

// Redeem reduces the balance by amount and re-derives points.
// The balance may never go negative through redemption.
func (a *Account) Redeem(amount decimal.Decimal, s Settings, at time.Time) error {
	if amount.IsNegative() {
		return ErrInvalidLedgerAmount
	}
	if amount.GreaterThan(a.SpendableBalance()) {
		return &InsufficientCreditError{
			AccountID: a.id,
			Available: a.SpendableBalance(),
			Requested: amount,
		}
	}
	a.balance = a.balance.Sub(amount)
	a.points = s.PointsFromDollars(a.balance)
	a.totalSpent = a.totalSpent.Add(amount)
	a.lastActivity = at
	return nil
}

// Earn increases the balance by amount and re-derives points.
func (a *Account) Earn(amount decimal.Decimal, s Settings, at time.Time) error {
	if amount.IsNegative() {
		return ErrInvalidLedgerAmount
	}
	a.balance = a.balance.Add(amount)
	a.points = s.PointsFromDollars(a.balance)
	a.totalEarned = a.totalEarned.Add(amount)
	a.lastActivity = at
	return nil
}

// Expire removes expired credit. Unlike Redeem it does not count toward
// totalSpent and is clamped at zero rather than rejected.
func (a *Account) Expire(amount decimal.Decimal, s Settings, at time.Time) decimal.Decimal {
	expired := decimal.Min(amount, a.SpendableBalance())
	if !expired.IsPositive() {
		return decimal.Zero
	}
	a.balance = a.balance.Sub(expired)
	a.points = s.PointsFromDollars(a.balance)
	a.lastActivity = at
	return expired
}

// =============================================================================
// TRANSACTION - Immutable ledger entry
// =============================================================================

type TransactionType string

const (
	TxEarn   TransactionType = "earn"
	TxRedeem TransactionType = "redeem"
	TxExpire TransactionType = "expire"
)

// Transaction is a single loyalty ledger row. Append-only: corrections are
// new entries, never edits.
//
// INVARIANT: BalanceAfter = BalanceBefore - Amount (redeem/expire)
//            BalanceAfter = BalanceBefore + Amount (earn)
type Transaction struct {
	ID        string
	AccountID AccountID
	Type      TransactionType

	// Amount is the dollar magnitude of the entry; Points is its derived
	// points magnitude at the settings in force when it was written.
	Amount decimal.Decimal
	Points int64

	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	PointsBefore  int64
	PointsAfter   int64

	// EarnedDate is the business date at which the entry becomes usable.
	// Earn entries are dated for the day AFTER the sale so a sale can
	// never spend the credit it just generated.
	EarnedDate time.Time

	ExpiresAt *time.Time

	// SaleID ties the entry back to the sale that produced it.
	SaleID string

	CreatedAt time.Time
}

// =============================================================================
// DAILY USAGE - Per-day redemption tracking
// =============================================================================

// DailyUsage tracks redemption against the daily cap for one account and
// one business date. The amount is monotonically non-decreasing within a
// day; the row is updated only via atomic increments (see Store).
type DailyUsage struct {
	AccountID  AccountID
	UsageDate  time.Time // business-local date, truncated to midnight
	AmountUsed decimal.Decimal
}

// BusinessDate truncates t to its date in loc. Daily caps reset at the
// business's local midnight, not UTC midnight.
func BusinessDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
