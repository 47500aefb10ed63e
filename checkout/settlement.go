/*
settlement.go - Settlement Finalizer

PURPOSE:
  Turns a payable session into durable records. Steps, in dependency
  order:
  1. Generate a receipt number (per-business per-day sequence)
  2. Persist the sale record
  3. Persist the receipt snapshot (denormalized, for reprint/audit)
  4. Persist line items and tender records
  5. Apply loyalty ledger side effects (redeem entry, earn entry dated
     tomorrow, daily-usage increment, account upsert). The account is
     re-read through the transaction first: the session's snapshot may
     be stale if another terminal touched the balance since the quote.

ATOMICITY:
  The original system issued these as independent inserts and could
  orphan a sale on partial failure. Here steps 2-5 run inside ONE store
  transaction: they commit together or not at all. A daily-cap rejection
  from a concurrent terminal rolls back the whole settlement.

RECEIPT NUMBERS:
  shortCode-YYYYMMDD-NNNN, sequence counted from existing sales that
  day. If counting fails, a timestamp-suffixed identifier is used -
  uniqueness is best-effort there, and the failure is logged.

SEE ALSO:
  - store.go: The TxStore contract this runs against
  - loyalty/ledger.go: Plans and applies the loyalty mutations
*/
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/warp/checkout-engine/loyalty"
)

// Finalizer persists settled sales.
type Finalizer struct {
	store   TxStore
	loyalty *loyalty.Ledger
	now     func() time.Time
}

func NewFinalizer(store TxStore, ledger *loyalty.Ledger) *Finalizer {
	return &Finalizer{store: store, loyalty: ledger, now: time.Now}
}

// Finalize persists the sale behind a payable session and returns the
// settlement result. Precondition: remaining balance <= epsilon.
func (f *Finalizer) Finalize(ctx context.Context, s *Session) (*SettlementResult, error) {
	if s.Finalized() {
		return nil, ErrSaleAlreadyFinalized
	}
	if !s.Payable() {
		return nil, &NotPayableError{Remaining: s.RemainingBalance()}
	}

	now := f.now()
	business := s.Business()
	loc := business.Location()

	receiptNumber := f.receiptNumber(ctx, business, now)

	saleID := SaleID(uuid.NewString())
	receiptID := ReceiptID(uuid.NewString())

	redeemed := s.LoyaltyRedeemed()
	sale := SaleRecord{
		ID:               saleID,
		BusinessID:       business.BusinessID,
		ReceiptNumber:    receiptNumber,
		Subtotal:         s.Draft().Subtotal,
		DiscountAmount:   s.Draft().DiscountAmount,
		LoyaltyDiscount:  redeemed,
		TotalTax:         s.TaxCalculation().TotalTax,
		TipAmount:        s.Tip(),
		Total:            s.DisplayTotal(),
		ChangeOwed:       s.ChangeOwed(),
		PaymentStatus:    "paid",
		LoyaltyAccountID: s.Draft().LoyaltyAccountID,
		CreatedAt:        now,
	}

	receipt := ReceiptRecord{
		ID:        receiptID,
		SaleID:    saleID,
		Number:    receiptNumber,
		Snapshot:  f.snapshot(s, receiptNumber, now),
		CreatedAt: now,
	}

	items := make([]SaleItemRecord, len(s.Draft().Items))
	for i, it := range s.Draft().Items {
		items[i] = SaleItemRecord{
			ID:        uuid.NewString(),
			SaleID:    saleID,
			SKU:       it.SKU,
			Name:      it.Name,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
		}
	}

	tenders := make([]TenderRecord, len(s.Tenders()))
	for i, t := range s.Tenders() {
		tenders[i] = TenderRecord{
			ID:         t.ID,
			SaleID:     saleID,
			Method:     t.Method,
			Amount:     t.Amount,
			CustomName: t.CustomName,
			TipAmount:  t.TipAmount,
			CreatedAt:  t.CreatedAt,
		}
	}

	var plan *loyalty.SettlementPlan
	err := f.store.WithTx(ctx, func(st SaleStore) error {
		if err := st.InsertSale(ctx, sale); err != nil {
			return fmt.Errorf("insert sale: %w", err)
		}
		if err := st.InsertReceipt(ctx, receipt); err != nil {
			return fmt.Errorf("insert receipt: %w", err)
		}
		if err := st.InsertSaleItems(ctx, items); err != nil {
			return fmt.Errorf("insert sale items: %w", err)
		}
		if err := st.InsertTenders(ctx, tenders); err != nil {
			return fmt.Errorf("insert tenders: %w", err)
		}
		if s.Account() == nil || f.loyalty == nil {
			return nil
		}
		ls, ok := st.(loyalty.Store)
		if !ok {
			// Loyalty is optional; a store without loyalty support
			// settles the sale and skips the ledger.
			log.Printf("checkout: store lacks loyalty support, skipping ledger for sale %s", saleID)
			return nil
		}
		// Re-read the account through the transaction so the plan chains
		// from the current balance, not the session's quote snapshot.
		account, err := ls.GetAccount(ctx, s.Account().ID(), s.LoyaltySettings())
		if err != nil {
			if errors.Is(err, loyalty.ErrAccountNotFound) && !redeemed.IsPositive() {
				log.Printf("checkout: loyalty account %s gone, settling sale %s without earning", s.Account().ID(), saleID)
				return nil
			}
			return fmt.Errorf("reload loyalty account: %w", err)
		}
		plan, err = f.loyalty.PlanSettlement(account, s.LoyaltySettings(), s.Draft().Subtotal, redeemed, string(saleID), now, loc)
		if err != nil {
			return fmt.Errorf("loyalty settlement plan: %w", err)
		}
		if err := f.loyalty.ApplySettlement(ctx, ls, plan, s.LoyaltySettings()); err != nil {
			return fmt.Errorf("apply loyalty settlement: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.markFinalized()

	result := &SettlementResult{
		SaleID:          saleID,
		ReceiptID:       receiptID,
		ReceiptNumber:   receiptNumber,
		FinalTotal:      sale.Total,
		ChangeOwed:      sale.ChangeOwed,
		LoyaltyRedeemed: redeemed,
	}
	if plan != nil {
		result.LoyaltyEarned = plan.Earned
		result.LoyaltyPointsEarned = plan.Points
	}
	return result, nil
}

// receiptNumber builds the per-business per-day sequential identifier.
// Counting failure falls back to a timestamp suffix (best-effort unique).
func (f *Finalizer) receiptNumber(ctx context.Context, business BusinessSettings, now time.Time) string {
	// Stamp and sequence both follow the business-local day, so the
	// printed date and the counted day agree around midnight.
	local := now.In(business.Location())
	stamp := local.Format("20060102")
	count, err := f.store.CountSalesOn(ctx, business.BusinessID, local)
	if err != nil {
		log.Printf("checkout: receipt sequence unavailable, using timestamp fallback: %v", err)
		return fmt.Sprintf("%s-%s-%d", business.ShortCode, stamp, now.UnixMilli())
	}
	return fmt.Sprintf("%s-%s-%04d", business.ShortCode, stamp, count+1)
}

func (f *Finalizer) snapshot(s *Session, receiptNumber string, now time.Time) ReceiptSnapshot {
	draft := s.Draft()
	items := make([]ReceiptItem, len(draft.Items))
	for i, it := range draft.Items {
		items[i] = ReceiptItem{SKU: it.SKU, Name: it.Name, UnitPrice: it.UnitPrice, Quantity: it.Quantity}
	}
	payments := make([]ReceiptPayment, 0, len(s.Tenders()))
	for _, t := range s.Tenders() {
		payments = append(payments, ReceiptPayment{Method: t.Method, Name: t.CustomName, Amount: t.Amount})
	}
	tax := s.TaxCalculation()
	return ReceiptSnapshot{
		BusinessName:    s.Business().Name,
		ReceiptNumber:   receiptNumber,
		Items:           items,
		Subtotal:        draft.Subtotal,
		DiscountAmount:  draft.DiscountAmount,
		LoyaltyDiscount: s.LoyaltyRedeemed(),
		Taxes:           tax.AggregatedTaxes,
		Rebates:         tax.AggregatedRebates,
		TotalTax:        tax.TotalTax,
		TipAmount:       s.Tip(),
		Total:           s.DisplayTotal(),
		Payments:        payments,
		ChangeOwed:      s.ChangeOwed(),
		SettledAt:       now,
	}
}
