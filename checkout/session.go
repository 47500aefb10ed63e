/*
session.go - Tender Collector: one checkout session converging to zero

PURPOSE:
  A Session accepts a sequence of proposed tenders and converges the
  running balance to zero. It owns per-sale state: collected tenders,
  the tip, the locked rounding mode, and the Authorization Gate.

VALIDATION ORDER (per proposal):
  1. Method known, amount > 0, custom name present for custom tenders
  2. Loyalty ceiling and minimum-redemption floor
  3. Overpay rule: amount above the remaining balance requires manager
     authorization for every method EXCEPT cash (cash overpay just makes
     change)

ROUNDING LOCK:
  The displayed total is derived from the raw total with the rounding
  rule keyed to the FIRST tender's method. The mode is captured when the
  first tender is recorded and never re-derived, so the total cannot
  oscillate as later tenders arrive.

TIP:
  Set once per sale, before any tender. It is additive to the total and
  attaches to the first recorded tender only.

THREADING:
  One cashier, one terminal, one in-progress sale: a Session is used
  from a single logical thread. Cross-terminal concurrency exists only
  at the loyalty daily-usage row, which the store guards.

SEE ALSO:
  - authgate.go:   Parking and replaying blocked proposals
  - settlement.go: Consumes a payable session
*/
package checkout

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/checkout-engine/loyalty"
)

// Session is the Tender Collector for one sale.
type Session struct {
	id       SessionID
	draft    SaleDraft
	business BusinessSettings
	loyalty  loyalty.Settings
	tax      TaxCalculation

	quote   loyalty.Quote
	account *loyalty.Account

	tip     decimal.Decimal
	tenders []Tender

	rounding       RoundingMode
	roundingLocked bool

	gate *AuthGate

	startedAt time.Time
	finalized bool
	now       func() time.Time
}

// NewSession starts a checkout session for a sale draft.
// The tax calculation and loyalty quote are computed upstream (oracle and
// ledger) and handed in; the session itself performs no I/O except through
// the Authorization Gate.
func NewSession(draft SaleDraft, business BusinessSettings, ls loyalty.Settings, tax TaxCalculation, quote loyalty.Quote, account *loyalty.Account, identity IdentityStore, audit AuditLog) *Session {
	s := &Session{
		id:        SessionID(uuid.NewString()),
		draft:     draft,
		business:  business,
		loyalty:   ls,
		tax:       tax,
		quote:     quote,
		account:   account,
		tip:       decimal.Zero,
		rounding:  RoundNone,
		startedAt: time.Now(),
		now:       time.Now,
	}
	s.gate = NewAuthGate(s.id, identity, audit)
	return s
}

// =============================================================================
// TOTALS
// =============================================================================

// RawTotal is subtotal - discount + tax + tip, before cash rounding.
// Loyalty credit is a tender against this total, not a reduction of it.
func (s *Session) RawTotal() decimal.Decimal {
	return s.draft.Subtotal.
		Sub(s.draft.DiscountAmount).
		Add(s.tax.TotalTax).
		Add(s.tip)
}

// DisplayTotal is the total the cashier collects against. Until the first
// tender locks a rounding mode it settles to the cent.
func (s *Session) DisplayTotal() decimal.Decimal {
	return ApplyRounding(s.RawTotal(), s.rounding)
}

// TotalPaid is the sum of accepted tender amounts (tips excluded).
func (s *Session) TotalPaid() decimal.Decimal {
	paid := decimal.Zero
	for _, t := range s.tenders {
		paid = paid.Add(t.Amount)
	}
	return paid
}

// RemainingBalance is DisplayTotal - TotalPaid. Negative means overpaid.
func (s *Session) RemainingBalance() decimal.Decimal {
	return s.DisplayTotal().Sub(s.TotalPaid())
}

// NextProposalDefault seeds the amount field of the next tender proposal:
// the remaining balance, floored at zero.
func (s *Session) NextProposalDefault() decimal.Decimal {
	return decimal.Max(decimal.Zero, s.RemainingBalance())
}

// ChangeOwed is TotalPaid - DisplayTotal, floored at zero.
func (s *Session) ChangeOwed() decimal.Decimal {
	return decimal.Max(decimal.Zero, s.TotalPaid().Sub(s.DisplayTotal()))
}

// Payable reports whether the balance has converged: remaining <= epsilon.
func (s *Session) Payable() bool {
	return s.RemainingBalance().LessThanOrEqual(Epsilon)
}

// LoyaltyRedeemed is the sum of loyalty-credit tenders collected so far.
func (s *Session) LoyaltyRedeemed() decimal.Decimal {
	total := decimal.Zero
	for _, t := range s.tenders {
		if t.Method == MethodLoyaltyCredit {
			total = total.Add(t.Amount)
		}
	}
	return total
}

// =============================================================================
// TIP
// =============================================================================

// SetTip records the tip for this sale. Must be called before the first
// tender: the tip raises the total the tenders converge against and is
// attached to the first tender row at settlement.
func (s *Session) SetTip(amount decimal.Decimal) error {
	if len(s.tenders) > 0 {
		return ErrTipAfterTender
	}
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	s.tip = amount
	return nil
}

// =============================================================================
// TENDER PROPOSALS
// =============================================================================

// ProposeTender validates and records one tender. On success the tender is
// appended and the remaining balance shrinks. A non-cash proposal above the
// remaining balance is parked in the Authorization Gate and
// ErrAuthorizationRequired is returned; Authorize replays it.
func (s *Session) ProposeTender(ctx context.Context, amount decimal.Decimal, method TenderMethod, customName string) (Tender, error) {
	return s.propose(ctx, TenderProposal{Amount: amount, Method: method, CustomName: customName}, false)
}

func (s *Session) propose(ctx context.Context, p TenderProposal, authorized bool) (Tender, error) {
	if s.finalized {
		return Tender{}, ErrSaleAlreadyFinalized
	}
	if !ValidMethod(p.Method) {
		return Tender{}, &TenderError{Method: p.Method, Amount: p.Amount, Reason: ErrInvalidMethod}
	}
	if !p.Amount.IsPositive() {
		return Tender{}, &TenderError{Method: p.Method, Amount: p.Amount, Reason: ErrInvalidAmount}
	}
	if p.Method == MethodCustom && strings.TrimSpace(p.CustomName) == "" {
		return Tender{}, &TenderError{Method: p.Method, Amount: p.Amount, Reason: ErrMissingCustomName}
	}

	if p.Method == MethodLoyaltyCredit {
		if err := s.validateLoyaltyTender(p.Amount); err != nil {
			return Tender{}, err
		}
	}

	// Overpay rule. The remaining balance is evaluated under the rounding
	// mode this tender would lock in, so a first cash tender is compared
	// against the nickel-rounded total.
	mode := s.rounding
	if !s.roundingLocked {
		mode = RoundingFor(p.Method)
	}
	remaining := ApplyRounding(s.RawTotal(), mode).Sub(s.TotalPaid())

	if p.Amount.GreaterThan(remaining.Add(Epsilon)) && p.Method != MethodCash && !authorized {
		if err := s.gate.Park(ctx, p, "tender exceeds remaining balance"); err != nil {
			return Tender{}, err
		}
		return Tender{}, &TenderError{Method: p.Method, Amount: p.Amount, Reason: ErrAuthorizationRequired}
	}

	if !s.roundingLocked {
		s.rounding = mode
		s.roundingLocked = true
	}

	tender := Tender{
		ID:         TenderID(uuid.NewString()),
		Method:     p.Method,
		Amount:     p.Amount,
		CustomName: strings.TrimSpace(p.CustomName),
		TipAmount:  decimal.Zero,
		CreatedAt:  s.now(),
	}
	if len(s.tenders) == 0 {
		tender.TipAmount = s.tip
	}
	s.tenders = append(s.tenders, tender)
	return tender, nil
}

func (s *Session) validateLoyaltyTender(amount decimal.Decimal) error {
	remainingCredit := s.quote.AvailableCredit.Sub(s.LoyaltyRedeemed())
	if amount.GreaterThan(remainingCredit.Add(Epsilon)) {
		return &TenderError{Method: MethodLoyaltyCredit, Amount: amount, Reason: ErrExceedsLoyaltyCredit}
	}
	if !s.loyalty.AllowPartialRedemption {
		minDollars := s.loyalty.MinRedemptionDollars()
		if amount.LessThan(minDollars.Sub(Epsilon)) {
			return &TenderError{Method: MethodLoyaltyCredit, Amount: amount, Reason: ErrBelowMinimumRedemption}
		}
	}
	return nil
}

// =============================================================================
// AUTHORIZATION
// =============================================================================

// Authorize validates a manager credential against the pending proposal.
// On success the parked proposal is replayed through the collector with
// the authorization check bypassed.
func (s *Session) Authorize(ctx context.Context, pin string) (Tender, error) {
	proposal, err := s.gate.Approve(ctx, pin)
	if err != nil {
		return Tender{}, err
	}
	tender, err := s.propose(ctx, proposal, true)
	s.gate.Dismiss()
	return tender, err
}

// DismissAuthorization clears the gate without approving (modal closed).
func (s *Session) DismissAuthorization() {
	s.gate.Dismiss()
}

// =============================================================================
// ACCESSORS
// =============================================================================

func (s *Session) ID() SessionID                     { return s.id }
func (s *Session) Draft() SaleDraft                  { return s.draft }
func (s *Session) Business() BusinessSettings        { return s.business }
func (s *Session) LoyaltySettings() loyalty.Settings { return s.loyalty }
func (s *Session) TaxCalculation() TaxCalculation    { return s.tax }
func (s *Session) Quote() loyalty.Quote              { return s.quote }
func (s *Session) Account() *loyalty.Account         { return s.account }
func (s *Session) Tip() decimal.Decimal              { return s.tip }
func (s *Session) GateState() GateState              { return s.gate.State() }
func (s *Session) Finalized() bool                   { return s.finalized }

// Tenders returns a copy of the accepted tenders, in collection order.
func (s *Session) Tenders() []Tender {
	out := make([]Tender, len(s.tenders))
	copy(out, s.tenders)
	return out
}

// markFinalized is called by the Finalizer after a successful settlement.
func (s *Session) markFinalized() { s.finalized = true }
