/*
errors.go - Centralized error types for the checkout engine

PURPOSE:
  All engine error types in one place. The taxonomy mirrors how failures
  are handled:
  1. Validation  - bad tender input; rejected locally, state unchanged
  2. Authorization - manager sign-off required or denied
  3. Policy      - redemption ceiling / overpay rules
  4. Persistence - finalizer step failures

USAGE:
  if errors.Is(err, checkout.ErrAuthorizationRequired) {
      // open the manager PIN modal, then session.Authorize(ctx, pin)
  }

SEE ALSO:
  - session.go: Returns validation/policy/authorization errors
  - settlement.go: Returns persistence errors
  - loyalty/errors.go: Loyalty-side errors surfaced through the engine
*/
package checkout

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/checkout-engine/loyalty"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned for tender amounts <= 0.
	ErrInvalidAmount = errors.New("tender amount must be greater than zero")

	// ErrInvalidMethod is returned for unknown tender methods.
	ErrInvalidMethod = errors.New("unknown tender method")

	// ErrMissingCustomName is returned for custom tenders with a blank name.
	ErrMissingCustomName = errors.New("custom tender requires a name")

	// ErrExceedsLoyaltyCredit is returned when a loyalty tender exceeds the
	// available credit for this sale.
	ErrExceedsLoyaltyCredit = errors.New("amount exceeds available loyalty credit")

	// ErrBelowMinimumRedemption is returned when partial redemption is
	// disallowed and the loyalty tender is below the minimum chunk.
	ErrBelowMinimumRedemption = errors.New("amount below minimum redemption")

	// ErrAuthorizationRequired is returned when a proposed tender needs
	// manager sign-off before it can be accepted. The proposal is parked
	// in the Authorization Gate, not discarded.
	ErrAuthorizationRequired = errors.New("manager authorization required")

	// ErrAuthorizationDenied is returned for a failed manager credential.
	ErrAuthorizationDenied = errors.New("manager authorization denied")

	// ErrNoPendingAuthorization is returned when Authorize is called with
	// nothing parked in the gate.
	ErrNoPendingAuthorization = errors.New("no pending authorization")

	// ErrSaleNotPayable is returned when finalize runs with a remaining
	// balance above epsilon.
	ErrSaleNotPayable = errors.New("sale not fully paid")

	// ErrSaleAlreadyFinalized guards against double finalization of a
	// session.
	ErrSaleAlreadyFinalized = errors.New("sale already finalized")

	// ErrTipAfterTender is returned when a tip is set after payments began.
	// Tip is additive to the total BEFORE any tender is collected.
	ErrTipAfterTender = errors.New("tip must be set before the first tender")

	// ErrDuplicateSale is returned when a sale ID already exists
	// (settlement retry).
	ErrDuplicateSale = errors.New("sale already persisted")

	// ErrSaleNotFound is returned for receipt lookups on unknown sales.
	ErrSaleNotFound = errors.New("sale not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// TenderError reports a rejected tender proposal with its context. The
// underlying sentinel is available via errors.Is.
type TenderError struct {
	Method TenderMethod
	Amount decimal.Decimal
	Reason error
}

func (e *TenderError) Error() string {
	return fmt.Sprintf("tender rejected (%s %s): %v", e.Method, e.Amount.StringFixed(2), e.Reason)
}

func (e *TenderError) Unwrap() error { return e.Reason }

// NotPayableError reports the outstanding balance blocking finalization.
type NotPayableError struct {
	Remaining decimal.Decimal
}

func (e *NotPayableError) Error() string {
	return fmt.Sprintf("sale not fully paid: %s remaining", e.Remaining.StringFixed(2))
}

func (e *NotPayableError) Unwrap() error { return ErrSaleNotPayable }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidationError reports whether the error is bad cashier input that can
// be corrected and retried without touching sale state.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidMethod) ||
		errors.Is(err, ErrMissingCustomName) ||
		errors.Is(err, ErrBelowMinimumRedemption) ||
		errors.Is(err, ErrTipAfterTender)
}

// IsPolicyError reports whether the error is a policy rejection (ceilings,
// caps) as opposed to malformed input.
func IsPolicyError(err error) bool {
	return errors.Is(err, ErrExceedsLoyaltyCredit) ||
		errors.Is(err, loyalty.ErrDailyCapExceeded) ||
		errors.Is(err, loyalty.ErrInsufficientCredit)
}

// IsAuthorizationError reports whether the error belongs to the manager
// sign-off flow.
func IsAuthorizationError(err error) bool {
	return errors.Is(err, ErrAuthorizationRequired) ||
		errors.Is(err, ErrAuthorizationDenied) ||
		errors.Is(err, ErrNoPendingAuthorization)
}

// IsRetryable reports whether the failure might succeed on retry with the
// same identifiers (finalizer persistence failures are).
func IsRetryable(err error) bool {
	return errors.Is(err, ErrDuplicateSale) ||
		errors.Is(err, loyalty.ErrDuplicateTransaction)
}
