package checkout_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/checkout-engine/checkout"
	"github.com/warp/checkout-engine/checkout/store"
	"github.com/warp/checkout-engine/loyalty"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// fakeIdentity approves exactly one PIN.
type fakeIdentity struct {
	pin string
}

func (f fakeIdentity) ValidateManagerCredential(_ context.Context, pin string) (bool, error) {
	return pin == f.pin, nil
}

func testSettings() loyalty.Settings {
	return loyalty.Settings{
		Enabled:             true,
		Mode:                loyalty.ModePoints,
		RedemptionRate:      decimal.NewFromInt(100),
		MinRedemption:       decimal.NewFromInt(500),
		MaxRedemptionPerDay: decimal.NewFromInt(5000),
		EarnRatePercent:     decimal.NewFromInt(5),
		AutoApply:           loyalty.AutoApplyNever,
	}
}

func testBusiness() checkout.BusinessSettings {
	return checkout.BusinessSettings{BusinessID: "biz-1", Name: "Warp Coffee", ShortCode: "WRP"}
}

func flatTax(amount string) checkout.TaxCalculation {
	return checkout.TaxCalculation{
		AggregatedTaxes:   map[string]decimal.Decimal{"HST": d(amount)},
		AggregatedRebates: map[string]decimal.Decimal{},
		TotalTax:          d(amount),
	}
}

// newTestSession builds a session over an in-memory audit log with manager
// PIN "1234". quote/account may be zero/nil for no-loyalty sales.
func newTestSession(subtotal, tax string, quote loyalty.Quote, account *loyalty.Account) (*checkout.Session, *store.Memory) {
	mem := store.NewMemory()
	draft := checkout.SaleDraft{
		Items:    []checkout.LineItem{{SKU: "SKU-1", Name: "Latte", UnitPrice: d(subtotal), Quantity: 1}},
		Subtotal: d(subtotal),
	}
	if account != nil {
		draft.LoyaltyAccountID = account.ID()
	}
	s := checkout.NewSession(draft, testBusiness(), testSettings(), flatTax(tax), quote, account, fakeIdentity{pin: "1234"}, mem)
	return s, mem
}

// =============================================================================
// CONVERGENCE TESTS
// =============================================================================

func TestSession_ExactCardPaymentConverges(t *testing.T) {
	// GIVEN: $100 sale with $13 tax
	// WHEN: One card tender of $113
	// THEN: Payable, no change owed

	s, _ := newTestSession("100.00", "13.00", loyalty.ZeroQuote(), nil)
	ctx := context.Background()

	assert.True(t, d("113.00").Equal(s.DisplayTotal()))
	assert.False(t, s.Payable())

	_, err := s.ProposeTender(ctx, d("113.00"), checkout.MethodCard, "")
	require.NoError(t, err)

	assert.True(t, s.Payable())
	assert.True(t, s.RemainingBalance().IsZero())
	assert.True(t, s.ChangeOwed().IsZero())
}

func TestSession_PayableWithinOneCent(t *testing.T) {
	// GIVEN: $113.00 due
	// WHEN: $112.99 collected
	// THEN: The one-cent residue is within tolerance and the sale is payable

	s, _ := newTestSession("100.00", "13.00", loyalty.ZeroQuote(), nil)

	_, err := s.ProposeTender(context.Background(), d("112.99"), checkout.MethodCard, "")
	require.NoError(t, err)

	assert.True(t, s.Payable())
	assert.True(t, d("0.01").Equal(s.RemainingBalance()))
}

func TestSession_SplitTenderAcrossMethods(t *testing.T) {
	s, _ := newTestSession("100.00", "13.00", loyalty.ZeroQuote(), nil)
	ctx := context.Background()

	_, err := s.ProposeTender(ctx, d("50.00"), checkout.MethodGiftCard, "")
	require.NoError(t, err)
	assert.True(t, d("63.00").Equal(s.RemainingBalance()))
	assert.True(t, d("63.00").Equal(s.NextProposalDefault()))

	_, err = s.ProposeTender(ctx, d("63.00"), checkout.MethodCard, "")
	require.NoError(t, err)
	assert.True(t, s.Payable())
	assert.Len(t, s.Tenders(), 2)
}

// =============================================================================
// CASH ROUNDING TESTS
// =============================================================================

func TestSession_CashFirstLocksNickelRounding(t *testing.T) {
	// GIVEN: Raw total $10.42
	// WHEN: The first tender is cash
	// THEN: The display total rounds to $10.40 and stays there even after
	//       a card tender follows

	s, _ := newTestSession("10.00", "0.42", loyalty.ZeroQuote(), nil)
	ctx := context.Background()

	assert.True(t, d("10.42").Equal(s.DisplayTotal()), "cent-settled before any tender")

	_, err := s.ProposeTender(ctx, d("5.00"), checkout.MethodCash, "")
	require.NoError(t, err)
	assert.True(t, d("10.40").Equal(s.DisplayTotal()), "nickel mode locked by first cash tender")
	assert.True(t, d("5.40").Equal(s.RemainingBalance()))

	_, err = s.ProposeTender(ctx, d("5.40"), checkout.MethodCard, "")
	require.NoError(t, err)
	assert.True(t, d("10.40").Equal(s.DisplayTotal()), "mode never re-derived for later tenders")
	assert.True(t, s.Payable())
}

func TestSession_CardFirstKeepsCentTotal(t *testing.T) {
	s, _ := newTestSession("10.00", "0.42", loyalty.ZeroQuote(), nil)
	ctx := context.Background()

	_, err := s.ProposeTender(ctx, d("10.42"), checkout.MethodCard, "")
	require.NoError(t, err)
	assert.True(t, d("10.42").Equal(s.DisplayTotal()))
	assert.True(t, s.Payable())
}

func TestSession_CashOverpayMakesChangeWithoutAuthorization(t *testing.T) {
	// GIVEN: $10.40 due after nickel rounding
	// WHEN: The customer hands over $20 cash
	// THEN: No authorization gate; change owed is $9.60

	s, _ := newTestSession("10.00", "0.42", loyalty.ZeroQuote(), nil)

	_, err := s.ProposeTender(context.Background(), d("20.00"), checkout.MethodCash, "")
	require.NoError(t, err)

	assert.True(t, s.Payable())
	assert.True(t, d("9.60").Equal(s.ChangeOwed()), "got %s", s.ChangeOwed())
	assert.Equal(t, checkout.GateIdle, s.GateState())
}

// =============================================================================
// AUTHORIZATION GATE TESTS
// =============================================================================

func TestSession_NonCashOverpayRequiresAuthorization(t *testing.T) {
	// GIVEN: $113 due
	// WHEN: A $120 card tender is proposed, then a wrong PIN, then the right one
	// THEN: The proposal parks, the wrong PIN keeps it parked, the right PIN
	//       replays the ORIGINAL amount

	s, mem := newTestSession("100.00", "13.00", loyalty.ZeroQuote(), nil)
	ctx := context.Background()

	_, err := s.ProposeTender(ctx, d("120.00"), checkout.MethodCard, "")
	assert.ErrorIs(t, err, checkout.ErrAuthorizationRequired)
	assert.Equal(t, checkout.GatePendingApproval, s.GateState())
	assert.Empty(t, s.Tenders(), "blocked proposal must not be recorded")

	_, err = s.Authorize(ctx, "9999")
	assert.ErrorIs(t, err, checkout.ErrAuthorizationDenied)
	assert.Equal(t, checkout.GatePendingApproval, s.GateState(), "denial keeps the gate open")

	tender, err := s.Authorize(ctx, "1234")
	require.NoError(t, err)
	assert.True(t, d("120.00").Equal(tender.Amount), "original proposal replayed")
	assert.Equal(t, checkout.GateIdle, s.GateState())
	assert.True(t, s.Payable())
	assert.True(t, d("7.00").Equal(s.ChangeOwed()))

	// Audit trail: requested, denied, approved.
	entries := mem.AuditEntries()
	require.Len(t, entries, 3)
	assert.Equal(t, checkout.AuditAuthRequested, entries[0].Action)
	assert.Equal(t, checkout.AuditAuthDenied, entries[1].Action)
	assert.Equal(t, checkout.AuditAuthApproved, entries[2].Action)
}

func TestSession_DismissDropsParkedProposal(t *testing.T) {
	s, _ := newTestSession("100.00", "13.00", loyalty.ZeroQuote(), nil)
	ctx := context.Background()

	_, err := s.ProposeTender(ctx, d("120.00"), checkout.MethodCard, "")
	assert.ErrorIs(t, err, checkout.ErrAuthorizationRequired)

	s.DismissAuthorization()
	assert.Equal(t, checkout.GateIdle, s.GateState())

	_, err = s.Authorize(ctx, "1234")
	assert.ErrorIs(t, err, checkout.ErrNoPendingAuthorization)
}

// =============================================================================
// TIP TESTS
// =============================================================================

func TestSession_TipRaisesTotalAndAttachesToFirstTender(t *testing.T) {
	s, _ := newTestSession("100.00", "13.00", loyalty.ZeroQuote(), nil)
	ctx := context.Background()

	require.NoError(t, s.SetTip(d("2.00")))
	assert.True(t, d("115.00").Equal(s.DisplayTotal()))

	first, err := s.ProposeTender(ctx, d("60.00"), checkout.MethodCard, "")
	require.NoError(t, err)
	assert.True(t, d("2.00").Equal(first.TipAmount))

	second, err := s.ProposeTender(ctx, d("55.00"), checkout.MethodCard, "")
	require.NoError(t, err)
	assert.True(t, second.TipAmount.IsZero(), "tip attaches to the first tender only")
}

func TestSession_TipRejectedAfterFirstTender(t *testing.T) {
	s, _ := newTestSession("100.00", "13.00", loyalty.ZeroQuote(), nil)

	_, err := s.ProposeTender(context.Background(), d("10.00"), checkout.MethodCard, "")
	require.NoError(t, err)

	assert.ErrorIs(t, s.SetTip(d("2.00")), checkout.ErrTipAfterTender)
	assert.ErrorIs(t, s.SetTip(d("-1.00")), checkout.ErrTipAfterTender)
}

func TestSession_NegativeTipRejected(t *testing.T) {
	s, _ := newTestSession("100.00", "13.00", loyalty.ZeroQuote(), nil)
	assert.ErrorIs(t, s.SetTip(d("-1.00")), checkout.ErrInvalidAmount)
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestSession_RejectsInvalidProposals(t *testing.T) {
	s, _ := newTestSession("100.00", "13.00", loyalty.ZeroQuote(), nil)
	ctx := context.Background()

	_, err := s.ProposeTender(ctx, decimal.Zero, checkout.MethodCard, "")
	assert.ErrorIs(t, err, checkout.ErrInvalidAmount)

	_, err = s.ProposeTender(ctx, d("-5.00"), checkout.MethodCard, "")
	assert.ErrorIs(t, err, checkout.ErrInvalidAmount)

	_, err = s.ProposeTender(ctx, d("5.00"), checkout.TenderMethod("cheque"), "")
	assert.ErrorIs(t, err, checkout.ErrInvalidMethod)

	_, err = s.ProposeTender(ctx, d("5.00"), checkout.MethodCustom, "   ")
	assert.ErrorIs(t, err, checkout.ErrMissingCustomName)

	assert.Empty(t, s.Tenders(), "rejected proposals leave no state behind")

	_, err = s.ProposeTender(ctx, d("5.00"), checkout.MethodCustom, "Store Credit")
	assert.NoError(t, err, "named custom tender accepted")
}

// =============================================================================
// LOYALTY TENDER TESTS
// =============================================================================

func TestSession_LoyaltyTenderCeilingAndFloor(t *testing.T) {
	// GIVEN: $5 available credit, $5 minimum chunk, partial disallowed
	// WHEN: Proposing loyalty tenders around the bounds
	// THEN: Above-ceiling and below-floor proposals are rejected

	ls := testSettings()
	account := loyalty.NewAccount("cust-1", d("5.00"), ls)
	quote := loyalty.ComputeQuote(account, ls, decimal.Zero, decimal.Zero, d("100.00"))
	s, _ := newTestSession("100.00", "13.00", quote, account)
	ctx := context.Background()

	_, err := s.ProposeTender(ctx, d("6.00"), checkout.MethodLoyaltyCredit, "")
	assert.ErrorIs(t, err, checkout.ErrExceedsLoyaltyCredit)

	_, err = s.ProposeTender(ctx, d("3.00"), checkout.MethodLoyaltyCredit, "")
	assert.ErrorIs(t, err, checkout.ErrBelowMinimumRedemption)

	_, err = s.ProposeTender(ctx, d("5.00"), checkout.MethodLoyaltyCredit, "")
	require.NoError(t, err)
	assert.True(t, d("5.00").Equal(s.LoyaltyRedeemed()))

	// The ceiling tracks what this sale already redeemed.
	_, err = s.ProposeTender(ctx, d("5.00"), checkout.MethodLoyaltyCredit, "")
	assert.ErrorIs(t, err, checkout.ErrExceedsLoyaltyCredit)
}

func TestSession_FinalizedSessionRejectsTenders(t *testing.T) {
	s, _ := newTestSession("10.00", "0.00", loyalty.ZeroQuote(), nil)
	ctx := context.Background()

	_, err := s.ProposeTender(ctx, d("10.00"), checkout.MethodCard, "")
	require.NoError(t, err)

	mem := store.NewMemory()
	finalizer := checkout.NewFinalizer(mem, nil)
	_, err = finalizer.Finalize(ctx, s)
	require.NoError(t, err)

	_, err = s.ProposeTender(ctx, d("1.00"), checkout.MethodCash, "")
	assert.ErrorIs(t, err, checkout.ErrSaleAlreadyFinalized)
}
