/*
ledger.go - Loyalty ledger: persistence contract and settlement mutations

PURPOSE:
  The write side of the loyalty domain. Given a settled sale, the ledger
  produces the mutations the store must apply:
  - a redeem transaction (when loyalty credit paid part of the sale)
  - an earn transaction dated for TOMORROW (earn-after-spend)
  - the updated account (balance canonical, points re-derived)
  - an atomic daily-usage increment guarded by the daily cap

BALANCE CHAIN:
  Earn is applied after redeem in the same chain:
    newBalance = balanceBeforeRedeem - redeemed + earned
  The redeem entry records before -> before-redeemed; the earn entry
  records before-redeemed -> final. No entry may leave the balance
  negative.

DAILY USAGE:
  Two terminals settling sales for the same account on the same business
  date race on one (account, date) row. The Store contract therefore
  requires IncrementDailyUsage to be a single atomic conditional
  increment - never a read-modify-write from cached state. An increment
  that would exceed the cap fails with ErrDailyCapExceeded and aborts
  the settlement.

DEGRADATION:
  Loyalty is always optional. If the quote cannot be computed (account
  missing, store error), Ledger.Quote returns the zero quote and the
  sale proceeds without loyalty. Checkout correctness beats loyalty.

SEE ALSO:
  - quote.go:  The pure math this ledger persists the results of
  - checkout/settlement.go: Applies the plan inside the sale transaction
*/
package loyalty

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Persistence contract for loyalty records
// =============================================================================

// Store is the loyalty slice of the record store. Transactions are
// append-only; accounts and daily usage are upsert-with-merge on their
// natural keys.
type Store interface {
	// GetAccount loads an account, or ErrAccountNotFound.
	GetAccount(ctx context.Context, id AccountID, s Settings) (*Account, error)

	// SaveAccount upserts the account keyed by its ID.
	SaveAccount(ctx context.Context, a *Account) error

	// AppendTransaction appends one immutable ledger entry.
	// Fails with ErrDuplicateTransaction if the ID already exists.
	AppendTransaction(ctx context.Context, tx Transaction) error

	// TransactionsForAccount returns all entries, oldest first.
	TransactionsForAccount(ctx context.Context, id AccountID) ([]Transaction, error)

	// UsedOn returns the redeemed amount for (account, business date).
	// Missing rows read as zero.
	UsedOn(ctx context.Context, id AccountID, date time.Time) (decimal.Decimal, error)

	// PendingEarned returns the total of earn entries whose earned date is
	// after the given business date. That credit sits in the balance
	// already but is not yet spendable.
	PendingEarned(ctx context.Context, id AccountID, date time.Time) (decimal.Decimal, error)

	// IncrementDailyUsage atomically adds amount to the (account, date)
	// usage row, creating it if absent. When cap is positive and the
	// increment would push usage above cap, NOTHING is written and
	// ErrDailyCapExceeded is returned.
	IncrementDailyUsage(ctx context.Context, id AccountID, date time.Time, amount, cap decimal.Decimal) error
}

// =============================================================================
// LEDGER
// =============================================================================

// Ledger coordinates loyalty reads and settlement-time mutations.
type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Quote computes the loyalty quote for a sale, degrading to the zero quote
// on any failure. The returned account is nil when no loyalty applies.
func (l *Ledger) Quote(ctx context.Context, id AccountID, s Settings, subtotal decimal.Decimal, saleDate time.Time, loc *time.Location) (Quote, *Account) {
	if id == "" || !s.Enabled {
		return ZeroQuote(), nil
	}

	account, err := l.store.GetAccount(ctx, id, s)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			log.Printf("loyalty: degrading to no loyalty, account %s unavailable: %v", id, err)
		}
		return ZeroQuote(), nil
	}

	today := BusinessDate(saleDate, loc)

	usedToday := decimal.Zero
	if s.HasDailyCap() {
		usedToday, err = l.store.UsedOn(ctx, id, today)
		if err != nil {
			log.Printf("loyalty: degrading to no loyalty, daily usage unavailable for %s: %v", id, err)
			return ZeroQuote(), nil
		}
	}

	// Credit earned by earlier sales today is in the balance but dated for
	// tomorrow; it must not inflate what this sale may redeem.
	pending, err := l.store.PendingEarned(ctx, id, today)
	if err != nil {
		log.Printf("loyalty: degrading to no loyalty, pending earnings unavailable for %s: %v", id, err)
		return ZeroQuote(), nil
	}

	return ComputeQuote(account, s, usedToday, pending, subtotal), account
}

// =============================================================================
// SETTLEMENT PLAN
// =============================================================================

// SettlementPlan is the full set of loyalty mutations for one settled sale.
// Planning is pure; ApplySettlement performs the writes.
type SettlementPlan struct {
	Account  *Account
	Redeem   *Transaction
	Earn     *Transaction
	Redeemed decimal.Decimal
	Earned   decimal.Decimal
	Points   int64

	usageDate time.Time
}

// PlanSettlement builds the ledger mutations for a sale.
// redeemed is the total of loyalty-credit tenders actually collected;
// saleDate drives the earn date (tomorrow) and the daily-usage row.
func (l *Ledger) PlanSettlement(account *Account, s Settings, subtotal, redeemed decimal.Decimal, saleID string, saleDate time.Time, loc *time.Location) (*SettlementPlan, error) {
	if account == nil || !s.Enabled {
		return nil, nil
	}

	earned, points := ComputeEarning(s, subtotal, redeemed)
	if !redeemed.IsPositive() && !earned.IsPositive() {
		return nil, nil
	}

	// Work on a copy so a failed settlement leaves the caller's account
	// untouched.
	updated := *account
	plan := &SettlementPlan{
		Account:   &updated,
		Redeemed:  redeemed,
		Earned:    earned,
		Points:    points,
		usageDate: BusinessDate(saleDate, loc),
	}

	now := saleDate

	if redeemed.IsPositive() {
		before, pointsBefore := updated.Balance(), updated.Points()
		if err := updated.Redeem(redeemed, s, now); err != nil {
			return nil, err
		}
		plan.Redeem = &Transaction{
			ID:            uuid.NewString(),
			AccountID:     updated.ID(),
			Type:          TxRedeem,
			Amount:        redeemed,
			Points:        s.PointsFromDollars(redeemed),
			BalanceBefore: before,
			BalanceAfter:  updated.Balance(),
			PointsBefore:  pointsBefore,
			PointsAfter:   updated.Points(),
			EarnedDate:    plan.usageDate,
			SaleID:        saleID,
			CreatedAt:     now,
		}
	}

	if earned.IsPositive() {
		before, pointsBefore := updated.Balance(), updated.Points()
		if err := updated.Earn(earned, s, now); err != nil {
			return nil, err
		}
		plan.Earn = &Transaction{
			ID:            uuid.NewString(),
			AccountID:     updated.ID(),
			Type:          TxEarn,
			Amount:        earned,
			Points:        points,
			BalanceBefore: before,
			BalanceAfter:  updated.Balance(),
			PointsBefore:  pointsBefore,
			PointsAfter:   updated.Points(),
			EarnedDate:    plan.usageDate.AddDate(0, 0, 1), // usable tomorrow
			ExpiresAt:     s.ExpiryFrom(now),
			SaleID:        saleID,
			CreatedAt:     now,
		}
	}

	return plan, nil
}

// ApplySettlement writes the plan through the given store. Callers hand in
// the transaction-scoped store so the loyalty writes commit or roll back
// with the sale itself.
func (l *Ledger) ApplySettlement(ctx context.Context, store Store, plan *SettlementPlan, s Settings) error {
	if plan == nil {
		return nil
	}

	if plan.Redeem != nil {
		// Atomic, cap-guarded increment first: if the cap is already
		// spent by a concurrent terminal, nothing else is written.
		if err := store.IncrementDailyUsage(ctx, plan.Account.ID(), plan.usageDate, plan.Redeemed, s.DailyLimitDollars()); err != nil {
			return err
		}
		if err := store.AppendTransaction(ctx, *plan.Redeem); err != nil {
			return err
		}
	}
	if plan.Earn != nil {
		if err := store.AppendTransaction(ctx, *plan.Earn); err != nil {
			return err
		}
	}
	return store.SaveAccount(ctx, plan.Account)
}

// =============================================================================
// EXPIRY SWEEP
// =============================================================================

// ExpireCredits applies any earn entries whose expiry has passed and which
// have not yet been expired, writing a single expire entry for the total.
// Returns the expired amount (zero when nothing was due).
func (l *Ledger) ExpireCredits(ctx context.Context, id AccountID, s Settings, now time.Time) (decimal.Decimal, error) {
	if !s.CreditsExpire {
		return decimal.Zero, nil
	}

	account, err := l.store.GetAccount(ctx, id, s)
	if err != nil {
		return decimal.Zero, err
	}
	txs, err := l.store.TransactionsForAccount(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}

	// Earn entries past expiry, minus what previous sweeps already expired.
	due := decimal.Zero
	for _, tx := range txs {
		switch tx.Type {
		case TxEarn:
			if tx.ExpiresAt != nil && !tx.ExpiresAt.After(now) {
				due = due.Add(tx.Amount)
			}
		case TxExpire:
			due = due.Sub(tx.Amount)
		}
	}
	if !due.IsPositive() {
		return decimal.Zero, nil
	}

	before, pointsBefore := account.Balance(), account.Points()
	expired := account.Expire(due, s, now)
	if !expired.IsPositive() {
		return decimal.Zero, nil
	}

	entry := Transaction{
		ID:            uuid.NewString(),
		AccountID:     id,
		Type:          TxExpire,
		Amount:        expired,
		Points:        s.PointsFromDollars(expired),
		BalanceBefore: before,
		BalanceAfter:  account.Balance(),
		PointsBefore:  pointsBefore,
		PointsAfter:   account.Points(),
		EarnedDate:    BusinessDate(now, now.Location()),
		CreatedAt:     now,
	}
	if err := l.store.AppendTransaction(ctx, entry); err != nil {
		return decimal.Zero, err
	}
	if err := l.store.SaveAccount(ctx, account); err != nil {
		return decimal.Zero, err
	}
	return expired, nil
}
