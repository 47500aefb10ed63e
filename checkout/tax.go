/*
tax.go - Tax oracle contract and degradation wrapper

PURPOSE:
  The tax/rebate calculation is an external collaborator. The engine
  treats it as a pure, synchronous black box: line items, discount and
  loyalty redemption in; aggregated taxes, rebates and a total-tax
  figure out.

DEGRADATION:
  When the oracle fails, checkout proceeds with zero tax rather than
  blocking the register - availability over correctness, with the
  failure logged. No collected tender is ever discarded because tax
  could not be computed.

SEE ALSO:
  - session.go: Consumes the TaxCalculation
  - api/handlers.go: Wires the oracle at session start
*/
package checkout

import (
	"context"
	"log"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ORACLE CONTRACT
// =============================================================================

// TaxOracle computes aggregated taxes and rebates for a sale.
// Implementations are external; the engine only depends on this contract.
type TaxOracle interface {
	ComputeTax(ctx context.Context, items []LineItem, discount, loyaltyRedeemed, subtotal decimal.Decimal) (TaxCalculation, error)
}

// SafeComputeTax runs the oracle and degrades to ZeroTax on any failure
// (including a nil oracle). The sale proceeds either way.
func SafeComputeTax(ctx context.Context, oracle TaxOracle, items []LineItem, discount, loyaltyRedeemed, subtotal decimal.Decimal) TaxCalculation {
	if oracle == nil {
		return ZeroTax()
	}
	calc, err := oracle.ComputeTax(ctx, items, discount, loyaltyRedeemed, subtotal)
	if err != nil {
		log.Printf("checkout: tax oracle unavailable, proceeding with zero tax: %v", err)
		return ZeroTax()
	}
	if calc.AggregatedTaxes == nil {
		calc.AggregatedTaxes = map[string]decimal.Decimal{}
	}
	if calc.AggregatedRebates == nil {
		calc.AggregatedRebates = map[string]decimal.Decimal{}
	}
	return calc
}

// =============================================================================
// FLAT-RATE ORACLE - Demo/test implementation
// =============================================================================

// FlatRateOracle applies a single percentage to the discounted subtotal.
// It exists for demos and tests; production wires a real oracle.
type FlatRateOracle struct {
	Name        string
	RatePercent decimal.Decimal
}

func (o FlatRateOracle) ComputeTax(_ context.Context, _ []LineItem, discount, _, subtotal decimal.Decimal) (TaxCalculation, error) {
	base := decimal.Max(decimal.Zero, subtotal.Sub(discount))
	tax := base.Mul(o.RatePercent).Div(decimal.NewFromInt(100)).Round(2)
	name := o.Name
	if name == "" {
		name = "tax"
	}
	return TaxCalculation{
		AggregatedTaxes:   map[string]decimal.Decimal{name: tax},
		AggregatedRebates: map[string]decimal.Decimal{},
		TotalTax:          tax,
	}, nil
}
