/*
rounding.go - Cash rounding policy

PURPOSE:
  Jurisdictions without a one-cent coin round CASH totals to the nearest
  five cents. Card and stored-value tenders settle to the cent.

KEYED TO THE FIRST TENDER:
  The displayed total is derived from the raw total by a rounding rule
  keyed to the FIRST tender's method. Once payments begin the rule is
  locked - it is never re-derived per tender, so the total cannot
  oscillate as tenders are added.

IDEMPOTENT:
  Applying the rule to an already-rounded total is a no-op. Multiples of
  $0.05 are fixed points of the nickel rounding.

SEE ALSO:
  - session.go: Locks the mode when the first tender is recorded
*/
package checkout

import "github.com/shopspring/decimal"

// RoundingMode selects how the displayed total is derived from the raw total.
type RoundingMode string

const (
	// RoundNone settles to the cent.
	RoundNone RoundingMode = "none"

	// RoundNickel rounds to the nearest five cents, half up.
	RoundNickel RoundingMode = "nickel"
)

var nickel = decimal.New(5, -2)

// RoundingFor returns the rounding mode implied by a tender method.
// Only cash triggers nickel rounding.
func RoundingFor(method TenderMethod) RoundingMode {
	if method == MethodCash {
		return RoundNickel
	}
	return RoundNone
}

// ApplyRounding derives the displayed total from the raw total.
func ApplyRounding(total decimal.Decimal, mode RoundingMode) decimal.Decimal {
	switch mode {
	case RoundNickel:
		// Round(0) is half away from zero, so $0.025 -> $0.05.
		return total.Div(nickel).Round(0).Mul(nickel)
	default:
		return total.Round(2)
	}
}
