/*
dto.go - Request/response data structures for the HTTP API

PURPOSE:
  JSON shapes for the checkout API. DTOs keep wire format concerns out
  of the domain types: money travels as JSON numbers (decimal-backed,
  never float64 internally), dates as RFC3339 strings.

CONVENTIONS:
  - Requests validate in the handler, not here
  - Session state is always returned in full after a mutation so the
    register UI can re-render from one payload

SEE ALSO:
  - handlers.go: Fills and consumes these
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/checkout-engine/checkout"
	"github.com/warp/checkout-engine/loyalty"
)

// =============================================================================
// REQUESTS
// =============================================================================

// LineItemDTO is one cart line in a checkout request.
type LineItemDTO struct {
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

// StartCheckoutRequest opens a checkout session for a drafted sale.
// Subtotal is optional; when omitted it is computed from the items.
type StartCheckoutRequest struct {
	Items            []LineItemDTO   `json:"items"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	DiscountAmount   decimal.Decimal `json:"discount_amount"`
	LoyaltyAccountID string          `json:"loyalty_account_id"`
	TipAmount        decimal.Decimal `json:"tip_amount"`
}

// ProposeTenderRequest proposes one payment against the session.
type ProposeTenderRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
	CustomName string          `json:"custom_name"`
}

// TipRequest sets the tip before any tender is collected.
type TipRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// AuthorizeRequest submits a manager PIN for the parked proposal.
type AuthorizeRequest struct {
	PIN string `json:"pin"`
}

// CreateManagerRequest registers a manager credential.
type CreateManagerRequest struct {
	Name string `json:"name"`
	PIN  string `json:"pin"`
}

// ExpireRequest runs the credit expiry sweep for one account.
type ExpireRequest struct {
	AccountID string `json:"account_id"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// TenderDTO is one accepted payment.
type TenderDTO struct {
	ID         string          `json:"id"`
	Method     string          `json:"method"`
	Amount     decimal.Decimal `json:"amount"`
	CustomName string          `json:"custom_name,omitempty"`
	TipAmount  decimal.Decimal `json:"tip_amount"`
	CreatedAt  string          `json:"created_at"`
}

// LoyaltyQuoteDTO is the loyalty view of the sale.
type LoyaltyQuoteDTO struct {
	AccountID       string          `json:"account_id,omitempty"`
	AvailableCredit decimal.Decimal `json:"available_credit"`
	AutoApplied     decimal.Decimal `json:"auto_applied"`
	RemainingDaily  decimal.Decimal `json:"remaining_daily"`
	DollarsToEarn   decimal.Decimal `json:"dollars_to_earn"`
	PointsToEarn    int64           `json:"points_to_earn"`
}

// SessionDTO is the full session state the register re-renders from.
type SessionDTO struct {
	ID                  string          `json:"id"`
	Subtotal            decimal.Decimal `json:"subtotal"`
	DiscountAmount      decimal.Decimal `json:"discount_amount"`
	TotalTax            decimal.Decimal `json:"total_tax"`
	TipAmount           decimal.Decimal `json:"tip_amount"`
	DisplayTotal        decimal.Decimal `json:"display_total"`
	TotalPaid           decimal.Decimal `json:"total_paid"`
	RemainingBalance    decimal.Decimal `json:"remaining_balance"`
	NextProposalDefault decimal.Decimal `json:"next_proposal_default"`
	ChangeOwed          decimal.Decimal `json:"change_owed"`
	Payable             bool            `json:"payable"`
	Finalized           bool            `json:"finalized"`
	GateState           string          `json:"gate_state"`
	Loyalty             LoyaltyQuoteDTO `json:"loyalty"`
	Tenders             []TenderDTO     `json:"tenders"`
}

// SettlementDTO is returned on successful finalization.
type SettlementDTO struct {
	SaleID              string          `json:"sale_id"`
	ReceiptID           string          `json:"receipt_id"`
	ReceiptNumber       string          `json:"receipt_number"`
	FinalTotal          decimal.Decimal `json:"final_total"`
	ChangeOwed          decimal.Decimal `json:"change_owed"`
	LoyaltyRedeemed     decimal.Decimal `json:"loyalty_redeemed"`
	LoyaltyEarned       decimal.Decimal `json:"loyalty_earned"`
	LoyaltyPointsEarned int64           `json:"loyalty_points_earned"`
}

// AccountDTO summarizes a loyalty account.
type AccountDTO struct {
	ID           string          `json:"id"`
	Balance      decimal.Decimal `json:"balance"`
	Spendable    decimal.Decimal `json:"spendable"`
	Points       int64           `json:"points"`
	TotalEarned  decimal.Decimal `json:"total_earned"`
	TotalSpent   decimal.Decimal `json:"total_spent"`
	LastActivity string          `json:"last_activity"`
}

// TransactionDTO is one loyalty ledger entry.
type TransactionDTO struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Points        int64           `json:"points"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	EarnedDate    string          `json:"earned_date"`
	ExpiresAt     string          `json:"expires_at,omitempty"`
	SaleID        string          `json:"sale_id,omitempty"`
	CreatedAt     string          `json:"created_at"`
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// MAPPERS
// =============================================================================

func sessionDTO(s *checkout.Session) SessionDTO {
	tenders := make([]TenderDTO, 0, len(s.Tenders()))
	for _, t := range s.Tenders() {
		tenders = append(tenders, tenderDTO(t))
	}
	quote := s.Quote()
	dto := SessionDTO{
		ID:                  string(s.ID()),
		Subtotal:            s.Draft().Subtotal,
		DiscountAmount:      s.Draft().DiscountAmount,
		TotalTax:            s.TaxCalculation().TotalTax,
		TipAmount:           s.Tip(),
		DisplayTotal:        s.DisplayTotal(),
		TotalPaid:           s.TotalPaid(),
		RemainingBalance:    s.RemainingBalance(),
		NextProposalDefault: s.NextProposalDefault(),
		ChangeOwed:          s.ChangeOwed(),
		Payable:             s.Payable(),
		Finalized:           s.Finalized(),
		GateState:           string(s.GateState()),
		Loyalty: LoyaltyQuoteDTO{
			AccountID:       string(s.Draft().LoyaltyAccountID),
			AvailableCredit: quote.AvailableCredit,
			AutoApplied:     quote.AutoApplied,
			RemainingDaily:  quote.RemainingDaily,
			DollarsToEarn:   quote.DollarsToEarn,
			PointsToEarn:    quote.PointsToEarn,
		},
		Tenders: tenders,
	}
	return dto
}

func tenderDTO(t checkout.Tender) TenderDTO {
	return TenderDTO{
		ID:         string(t.ID),
		Method:     string(t.Method),
		Amount:     t.Amount,
		CustomName: t.CustomName,
		TipAmount:  t.TipAmount,
		CreatedAt:  t.CreatedAt.Format(time.RFC3339),
	}
}

func settlementDTO(r *checkout.SettlementResult) SettlementDTO {
	return SettlementDTO{
		SaleID:              string(r.SaleID),
		ReceiptID:           string(r.ReceiptID),
		ReceiptNumber:       r.ReceiptNumber,
		FinalTotal:          r.FinalTotal,
		ChangeOwed:          r.ChangeOwed,
		LoyaltyRedeemed:     r.LoyaltyRedeemed,
		LoyaltyEarned:       r.LoyaltyEarned,
		LoyaltyPointsEarned: r.LoyaltyPointsEarned,
	}
}

func accountDTO(a *loyalty.Account) AccountDTO {
	return AccountDTO{
		ID:           string(a.ID()),
		Balance:      a.Balance(),
		Spendable:    a.SpendableBalance(),
		Points:       a.Points(),
		TotalEarned:  a.TotalEarned(),
		TotalSpent:   a.TotalSpent(),
		LastActivity: a.LastActivity().Format(time.RFC3339),
	}
}

func transactionDTO(tx loyalty.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:            tx.ID,
		Type:          string(tx.Type),
		Amount:        tx.Amount,
		Points:        tx.Points,
		BalanceBefore: tx.BalanceBefore,
		BalanceAfter:  tx.BalanceAfter,
		EarnedDate:    tx.EarnedDate.Format("2006-01-02"),
		SaleID:        tx.SaleID,
		CreatedAt:     tx.CreatedAt.Format(time.RFC3339),
	}
	if tx.ExpiresAt != nil {
		dto.ExpiresAt = tx.ExpiresAt.Format(time.RFC3339)
	}
	return dto
}
