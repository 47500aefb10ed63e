/*
errors.go - Loyalty domain errors

PURPOSE:
  Sentinel and structured errors for the loyalty ledger. The checkout
  engine classifies these to decide between rejecting a tender locally
  and degrading to "no loyalty applied".

SEE ALSO:
  - ledger.go: Returns these from settlement planning/application
  - checkout/errors.go: Engine-level taxonomy that wraps these
*/
package loyalty

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAccountNotFound is returned when the referenced account does not
	// exist. Checkout degrades to no loyalty rather than blocking the sale.
	ErrAccountNotFound = errors.New("loyalty account not found")

	// ErrInvalidLedgerAmount is returned for negative mutation amounts.
	ErrInvalidLedgerAmount = errors.New("ledger amount must not be negative")

	// ErrInsufficientCredit is returned when a redemption exceeds the
	// account's spendable balance.
	ErrInsufficientCredit = errors.New("insufficient loyalty credit")

	// ErrDailyCapExceeded is returned when an atomic daily-usage increment
	// would push the day's redemption over the configured cap. This is the
	// cross-terminal guard: two terminals racing on the same account/day
	// cannot jointly exceed the cap.
	ErrDailyCapExceeded = errors.New("daily redemption cap exceeded")

	// ErrDuplicateTransaction is returned when a ledger entry with the same
	// ID already exists (settlement retry).
	ErrDuplicateTransaction = errors.New("duplicate loyalty transaction")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientCreditError reports a redemption above the spendable balance.
type InsufficientCreditError struct {
	AccountID AccountID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("insufficient loyalty credit: available %s, requested %s",
		e.Available.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *InsufficientCreditError) Unwrap() error { return ErrInsufficientCredit }

// DailyCapError reports a rejected daily-usage increment.
type DailyCapError struct {
	AccountID  AccountID
	CapDollars decimal.Decimal
	Requested  decimal.Decimal
}

func (e *DailyCapError) Error() string {
	return fmt.Sprintf("daily redemption cap exceeded: cap %s, requested %s more",
		e.CapDollars.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *DailyCapError) Unwrap() error { return ErrDailyCapExceeded }
