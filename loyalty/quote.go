/*
quote.go - Per-sale redemption ceiling, auto-apply, and earning math

PURPOSE:
  Pure computation of what a loyalty customer may do on ONE sale:
  - AvailableCredit: the redemption ceiling
  - AutoApplied:     what the auto-apply policy proposes as a tender
  - Earning:         what the sale will add to the balance

THE THREE-WAY CEILING:
  availableCredit = min(spendable balance, remaining daily allowance, subtotal)

  A customer may never redeem more than they own, more than today's
  allowance, or more than the sale is worth. Spendable balance excludes
  earn entries dated after the sale's business date: that credit is in
  the balance already but not usable until tomorrow.

AUTO-APPLY RULES (autoApply = "always"):
  - Below the minimum-redemption floor: nothing is applied. No partial
    auto-apply below the floor.
  - Partial redemption allowed:    apply min(available, subtotal).
  - Partial redemption disallowed: apply exactly the minimum chunk,
    min(minRedemptionDollars, available, subtotal) - never a value
    strictly between zero and the minimum.

EARNING:
  Earning excludes the portion of the sale paid by loyalty itself:
    dollarsToEarn = (subtotal - redeemed) × earnRate%
    pointsToEarn  = round(dollarsToEarn × redemptionRate)

SEE ALSO:
  - ledger.go: Turns a quote plus collected tenders into ledger mutations
*/
package loyalty

import (
	"github.com/shopspring/decimal"
)

// Quote is the loyalty view of one sale before any tender is collected.
type Quote struct {
	// AvailableCredit is the redemption ceiling for this sale.
	AvailableCredit decimal.Decimal

	// AutoApplied is the provisional loyalty tender proposed by policy.
	// Zero when auto-apply is off, the floor is not met, or no credit is
	// available.
	AutoApplied decimal.Decimal

	// RemainingDaily is today's unused allowance under the daily cap.
	// Informational; already folded into AvailableCredit.
	RemainingDaily decimal.Decimal

	// DollarsToEarn / PointsToEarn are the provisional earn figures
	// assuming AutoApplied is the final redemption. The finalizer
	// recomputes earning from the actual redeemed amount.
	DollarsToEarn decimal.Decimal
	PointsToEarn  int64
}

// ZeroQuote is the no-loyalty quote: no customer, loyalty disabled, or the
// ledger could not be consulted. Checkout proceeds without loyalty.
func ZeroQuote() Quote {
	return Quote{
		AvailableCredit: decimal.Zero,
		AutoApplied:     decimal.Zero,
		RemainingDaily:  decimal.Zero,
		DollarsToEarn:   decimal.Zero,
	}
}

// ComputeQuote derives the loyalty quote for one sale.
// account may be nil (no loyalty customer); usedToday is the amount already
// redeemed against the daily cap on the business date of the sale, and
// pendingEarned is the credit earned for a later business date.
func ComputeQuote(account *Account, s Settings, usedToday, pendingEarned, subtotal decimal.Decimal) Quote {
	if account == nil || !s.Enabled {
		return ZeroQuote()
	}

	// Remaining daily allowance. No cap means the ceiling is unconstrained
	// by usage, which we express as the subtotal (it can never bind harder
	// than the sale itself).
	remainingDaily := subtotal
	if s.HasDailyCap() {
		remainingDaily = decimal.Max(decimal.Zero, s.DailyLimitDollars().Sub(usedToday))
	}

	spendable := account.SpendableBalance().Sub(pendingEarned)
	available := decimal.Min(spendable, remainingDaily, subtotal)
	if available.IsNegative() {
		available = decimal.Zero
	}

	q := Quote{
		AvailableCredit: available,
		AutoApplied:     decimal.Zero,
		RemainingDaily:  remainingDaily,
	}

	if s.AutoApply == AutoApplyAlways && available.IsPositive() {
		minDollars := s.MinRedemptionDollars()
		switch {
		case available.LessThan(minDollars):
			// Below the floor: skip entirely, no partial auto-apply.
		case s.AllowPartialRedemption:
			q.AutoApplied = decimal.Min(available, subtotal)
		default:
			// Exactly the minimum chunk, never more.
			q.AutoApplied = decimal.Min(minDollars, available, subtotal)
		}
	}

	q.DollarsToEarn, q.PointsToEarn = ComputeEarning(s, subtotal, q.AutoApplied)
	return q
}

// ComputeEarning returns the dollars and points earned by a sale with the
// given subtotal and final redeemed amount.
func ComputeEarning(s Settings, subtotal, redeemed decimal.Decimal) (decimal.Decimal, int64) {
	if !s.Enabled || !s.EarnRatePercent.IsPositive() {
		return decimal.Zero, 0
	}
	eligible := decimal.Max(decimal.Zero, subtotal.Sub(redeemed))
	dollars := eligible.Mul(s.EarnRatePercent).Div(decimal.NewFromInt(100)).Round(2)
	return dollars, s.PointsFromDollars(dollars)
}
