package checkout_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/checkout-engine/checkout"
	"github.com/warp/checkout-engine/checkout/store"
	"github.com/warp/checkout-engine/loyalty"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// newLoyaltySale builds a quoted session over mem for a $100 sale with $13
// tax and the given opening loyalty balance.
func newLoyaltySale(t *testing.T, mem *store.Memory, ls loyalty.Settings, balance string) (*checkout.Session, *loyalty.Ledger) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, mem.SaveAccount(ctx, loyalty.NewAccount("cust-1", d(balance), ls)))

	ledger := loyalty.NewLedger(mem)
	quote, account := ledger.Quote(ctx, "cust-1", ls, d("100.00"), time.Now(), time.UTC)
	require.NotNil(t, account)

	draft := checkout.SaleDraft{
		Items: []checkout.LineItem{
			{SKU: "SKU-1", Name: "Latte", UnitPrice: d("40.00"), Quantity: 2},
			{SKU: "SKU-2", Name: "Beans", UnitPrice: d("20.00"), Quantity: 1},
		},
		Subtotal:         d("100.00"),
		LoyaltyAccountID: "cust-1",
	}
	s := checkout.NewSession(draft, testBusiness(), ls, flatTax("13.00"), quote, account, fakeIdentity{pin: "1234"}, mem)
	return s, ledger
}

// =============================================================================
// FINALIZATION TESTS
// =============================================================================

func TestFinalize_PersistsSaleReceiptAndLoyaltyTogether(t *testing.T) {
	// GIVEN: A payable $113 sale, $5 paid from a $20 loyalty balance
	// WHEN: Finalizing
	// THEN: Sale, receipt, items, tenders and the loyalty chain all land,
	//       and the balance ends at 20 - 5 + 4.75

	ctx := context.Background()
	mem := store.NewMemory()
	ls := testSettings()
	s, ledger := newLoyaltySale(t, mem, ls, "20.00")

	_, err := s.ProposeTender(ctx, d("5.00"), checkout.MethodLoyaltyCredit, "")
	require.NoError(t, err)
	_, err = s.ProposeTender(ctx, d("108.00"), checkout.MethodCard, "")
	require.NoError(t, err)
	require.True(t, s.Payable())

	finalizer := checkout.NewFinalizer(mem, ledger)
	result, err := finalizer.Finalize(ctx, s)
	require.NoError(t, err)

	wantNumber := fmt.Sprintf("WRP-%s-0001", time.Now().UTC().Format("20060102"))
	assert.Equal(t, wantNumber, result.ReceiptNumber)
	assert.True(t, d("113.00").Equal(result.FinalTotal))
	assert.True(t, result.ChangeOwed.IsZero())
	assert.True(t, d("5.00").Equal(result.LoyaltyRedeemed))
	assert.True(t, d("4.75").Equal(result.LoyaltyEarned), "(100-5) x 5%% = 4.75, got %s", result.LoyaltyEarned)
	assert.Equal(t, int64(475), result.LoyaltyPointsEarned)

	sale, err := mem.GetSale(ctx, result.SaleID)
	require.NoError(t, err)
	assert.Equal(t, "paid", sale.PaymentStatus)
	assert.True(t, d("5.00").Equal(sale.LoyaltyDiscount))
	assert.Equal(t, loyalty.AccountID("cust-1"), sale.LoyaltyAccountID)

	receipt, err := mem.GetReceiptBySale(ctx, result.SaleID)
	require.NoError(t, err)
	assert.Equal(t, wantNumber, receipt.Snapshot.ReceiptNumber)
	assert.Equal(t, "Warp Coffee", receipt.Snapshot.BusinessName)
	assert.Len(t, receipt.Snapshot.Items, 2)
	assert.Len(t, receipt.Snapshot.Payments, 2)
	assert.True(t, d("113.00").Equal(receipt.Snapshot.Total))

	account, err := mem.GetAccount(ctx, "cust-1", ls)
	require.NoError(t, err)
	assert.True(t, d("19.75").Equal(account.Balance()), "got %s", account.Balance())
	assert.Equal(t, int64(1975), account.Points())

	txs, err := mem.TransactionsForAccount(ctx, "cust-1")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, string(result.SaleID), txs[0].SaleID)

	used, err := mem.UsedOn(ctx, "cust-1", loyalty.BusinessDate(time.Now(), time.UTC))
	require.NoError(t, err)
	assert.True(t, d("5.00").Equal(used))

	assert.True(t, s.Finalized())
}

func TestFinalize_ReceiptSequenceIncrementsPerDay(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	finalizer := checkout.NewFinalizer(mem, nil)

	for i, want := range []string{"0001", "0002", "0003"} {
		s, _ := newTestSession("10.00", "0.00", loyalty.ZeroQuote(), nil)
		_, err := s.ProposeTender(ctx, d("10.00"), checkout.MethodCard, "")
		require.NoError(t, err)

		result, err := finalizer.Finalize(ctx, s)
		require.NoError(t, err, "sale %d", i+1)
		assert.Equal(t, fmt.Sprintf("WRP-%s-%s", time.Now().UTC().Format("20060102"), want), result.ReceiptNumber)
	}
}

func TestFinalize_NotPayableRejected(t *testing.T) {
	// GIVEN: $113 due, only $50 collected
	// WHEN: Finalizing
	// THEN: NotPayableError carrying the outstanding $63

	ctx := context.Background()
	mem := store.NewMemory()
	s, _ := newTestSession("100.00", "13.00", loyalty.ZeroQuote(), nil)

	_, err := s.ProposeTender(ctx, d("50.00"), checkout.MethodCard, "")
	require.NoError(t, err)

	finalizer := checkout.NewFinalizer(mem, nil)
	_, err = finalizer.Finalize(ctx, s)
	assert.ErrorIs(t, err, checkout.ErrSaleNotPayable)

	var npe *checkout.NotPayableError
	require.ErrorAs(t, err, &npe)
	assert.True(t, d("63.00").Equal(npe.Remaining))

	count, err := mem.CountSalesOn(ctx, "biz-1", time.Now())
	require.NoError(t, err)
	assert.Zero(t, count, "nothing persisted")
}

func TestFinalize_DoubleFinalizationRejected(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	s, _ := newTestSession("10.00", "0.00", loyalty.ZeroQuote(), nil)

	_, err := s.ProposeTender(ctx, d("10.00"), checkout.MethodCard, "")
	require.NoError(t, err)

	finalizer := checkout.NewFinalizer(mem, nil)
	_, err = finalizer.Finalize(ctx, s)
	require.NoError(t, err)

	_, err = finalizer.Finalize(ctx, s)
	assert.ErrorIs(t, err, checkout.ErrSaleAlreadyFinalized)

	count, err := mem.CountSalesOn(ctx, "biz-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, count, "second attempt wrote nothing")
}

func TestFinalize_ChainsFromCurrentAccountBalance(t *testing.T) {
	// GIVEN: A payable sale quoted against a $20 balance
	// WHEN: Another terminal raises the balance to $30 before finalization
	// THEN: The ledger chains from $30, ending at 30 - 5 + 4.75

	ctx := context.Background()
	mem := store.NewMemory()
	ls := testSettings()
	s, ledger := newLoyaltySale(t, mem, ls, "20.00")

	_, err := s.ProposeTender(ctx, d("5.00"), checkout.MethodLoyaltyCredit, "")
	require.NoError(t, err)
	_, err = s.ProposeTender(ctx, d("108.00"), checkout.MethodCard, "")
	require.NoError(t, err)

	require.NoError(t, mem.SaveAccount(ctx, loyalty.NewAccount("cust-1", d("30.00"), ls)))

	finalizer := checkout.NewFinalizer(mem, ledger)
	result, err := finalizer.Finalize(ctx, s)
	require.NoError(t, err)
	assert.True(t, d("4.75").Equal(result.LoyaltyEarned))

	account, err := mem.GetAccount(ctx, "cust-1", ls)
	require.NoError(t, err)
	assert.True(t, d("29.75").Equal(account.Balance()), "got %s", account.Balance())

	txs, err := mem.TransactionsForAccount(ctx, "cust-1")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.True(t, d("30.00").Equal(txs[0].BalanceBefore), "redeem chains from the stored balance, not the quote snapshot")
}

func TestFinalize_DailyCapRollsBackWholeSettlement(t *testing.T) {
	// GIVEN: $48 of the $50 daily allowance already used by another terminal
	// WHEN: Finalizing a sale that redeems $5 more
	// THEN: The cap aborts the settlement and NO record survives: no sale,
	//       no receipt, no ledger entry, balance untouched

	ctx := context.Background()
	mem := store.NewMemory()
	ls := testSettings()
	s, ledger := newLoyaltySale(t, mem, ls, "60.00")

	require.NoError(t, mem.IncrementDailyUsage(ctx, "cust-1", loyalty.BusinessDate(time.Now(), time.UTC), d("48.00"), ls.DailyLimitDollars()))

	_, err := s.ProposeTender(ctx, d("5.00"), checkout.MethodLoyaltyCredit, "")
	require.NoError(t, err)
	_, err = s.ProposeTender(ctx, d("108.00"), checkout.MethodCard, "")
	require.NoError(t, err)

	finalizer := checkout.NewFinalizer(mem, ledger)
	_, err = finalizer.Finalize(ctx, s)
	assert.ErrorIs(t, err, loyalty.ErrDailyCapExceeded)

	count, err := mem.CountSalesOn(ctx, "biz-1", time.Now())
	require.NoError(t, err)
	assert.Zero(t, count, "sale rolled back")

	txs, err := mem.TransactionsForAccount(ctx, "cust-1")
	require.NoError(t, err)
	assert.Empty(t, txs, "ledger rolled back")

	account, err := mem.GetAccount(ctx, "cust-1", ls)
	require.NoError(t, err)
	assert.True(t, d("60.00").Equal(account.Balance()), "balance rolled back")

	assert.False(t, s.Finalized(), "session stays open for a corrected retry")
}
