package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/checkout-engine/checkout"
	"github.com/warp/checkout-engine/loyalty"
	"github.com/warp/checkout-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testLoyaltySettings() loyalty.Settings {
	return loyalty.Settings{
		Enabled:             true,
		Mode:                loyalty.ModePoints,
		RedemptionRate:      decimal.NewFromInt(100),
		MinRedemption:       decimal.NewFromInt(500),
		MaxRedemptionPerDay: decimal.NewFromInt(5000),
		EarnRatePercent:     decimal.NewFromInt(5),
	}
}

func saleRecord(id checkout.SaleID) checkout.SaleRecord {
	return checkout.SaleRecord{
		ID:            id,
		BusinessID:    "biz-1",
		ReceiptNumber: "WRP-20260310-0001",
		Subtotal:      d("100.00"),
		TotalTax:      d("13.00"),
		Total:         d("113.00"),
		PaymentStatus: "paid",
		CreatedAt:     time.Date(2026, time.March, 10, 14, 30, 0, 0, time.UTC),
	}
}

// =============================================================================
// SALE PERSISTENCE TESTS
// =============================================================================

func TestStore_SaleRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sale := saleRecord("sale-1")
	sale.LoyaltyAccountID = "cust-1"
	sale.LoyaltyDiscount = d("5.00")
	require.NoError(t, store.InsertSale(ctx, sale))

	loaded, err := store.GetSale(ctx, "sale-1")
	require.NoError(t, err)
	assert.Equal(t, sale.BusinessID, loaded.BusinessID)
	assert.Equal(t, sale.ReceiptNumber, loaded.ReceiptNumber)
	assert.True(t, sale.Subtotal.Equal(loaded.Subtotal))
	assert.True(t, sale.Total.Equal(loaded.Total))
	assert.True(t, d("5.00").Equal(loaded.LoyaltyDiscount))
	assert.Equal(t, loyalty.AccountID("cust-1"), loaded.LoyaltyAccountID)
}

func TestStore_DuplicateSaleRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertSale(ctx, saleRecord("sale-1")))
	err := store.InsertSale(ctx, saleRecord("sale-1"))
	assert.ErrorIs(t, err, checkout.ErrDuplicateSale)
}

func TestStore_GetSale_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetSale(context.Background(), "ghost")
	assert.ErrorIs(t, err, checkout.ErrSaleNotFound)
}

func TestStore_CountSalesOn(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	day := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	for _, id := range []checkout.SaleID{"sale-1", "sale-2"} {
		sale := saleRecord(id)
		sale.CreatedAt = day
		require.NoError(t, store.InsertSale(ctx, sale))
	}
	other := saleRecord("sale-3")
	other.CreatedAt = day.AddDate(0, 0, 1)
	require.NoError(t, store.InsertSale(ctx, other))

	count, err := store.CountSalesOn(ctx, "biz-1", day)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = store.CountSalesOn(ctx, "biz-other", day)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStore_CountSalesOn_BusinessLocalDay(t *testing.T) {
	// GIVEN: A sale at 2026-03-11 03:00 UTC, which is March 10 in Toronto
	// WHEN: Counting Toronto calendar days
	// THEN: The sale belongs to the local March 10, not March 11

	store := newTestStore(t)
	ctx := context.Background()

	toronto, err := time.LoadLocation("America/Toronto")
	require.NoError(t, err)

	sale := saleRecord("sale-1")
	sale.CreatedAt = time.Date(2026, time.March, 11, 3, 0, 0, 0, time.UTC)
	require.NoError(t, store.InsertSale(ctx, sale))

	count, err := store.CountSalesOn(ctx, "biz-1", time.Date(2026, time.March, 10, 22, 0, 0, 0, toronto))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = store.CountSalesOn(ctx, "biz-1", time.Date(2026, time.March, 11, 9, 0, 0, 0, toronto))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStore_PendingEarned(t *testing.T) {
	// GIVEN: Earn entries dated March 10 and March 11 plus a redeem
	// WHEN: Reading pending earnings as of March 10
	// THEN: Only the March 11 earn counts; it clears the next day

	store := newTestStore(t)
	ctx := context.Background()

	march10 := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	entries := []loyalty.Transaction{
		{ID: "tx-1", AccountID: "cust-1", Type: loyalty.TxEarn, Amount: d("3.00"), EarnedDate: march10, CreatedAt: march10},
		{ID: "tx-2", AccountID: "cust-1", Type: loyalty.TxEarn, Amount: d("4.75"), EarnedDate: march10.AddDate(0, 0, 1), CreatedAt: march10},
		{ID: "tx-3", AccountID: "cust-1", Type: loyalty.TxRedeem, Amount: d("5.00"), EarnedDate: march10, CreatedAt: march10},
	}
	for _, tx := range entries {
		require.NoError(t, store.AppendTransaction(ctx, tx))
	}

	pending, err := store.PendingEarned(ctx, "cust-1", march10)
	require.NoError(t, err)
	assert.True(t, d("4.75").Equal(pending), "got %s", pending)

	pending, err = store.PendingEarned(ctx, "cust-1", march10.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.True(t, pending.IsZero())

	pending, err = store.PendingEarned(ctx, "ghost", march10)
	require.NoError(t, err)
	assert.True(t, pending.IsZero())
}

func TestStore_ReceiptSnapshotRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertSale(ctx, saleRecord("sale-1")))
	receipt := checkout.ReceiptRecord{
		ID:     "rcpt-1",
		SaleID: "sale-1",
		Number: "WRP-20260310-0001",
		Snapshot: checkout.ReceiptSnapshot{
			BusinessName:  "Warp Coffee",
			ReceiptNumber: "WRP-20260310-0001",
			Items: []checkout.ReceiptItem{
				{SKU: "SKU-1", Name: "Latte", UnitPrice: d("5.00"), Quantity: 2},
			},
			Subtotal: d("10.00"),
			Taxes:    map[string]decimal.Decimal{"HST": d("1.30")},
			Rebates:  map[string]decimal.Decimal{},
			TotalTax: d("1.30"),
			Total:    d("11.30"),
			Payments: []checkout.ReceiptPayment{
				{Method: checkout.MethodCard, Amount: d("11.30")},
			},
		},
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.InsertReceipt(ctx, receipt))

	loaded, err := store.GetReceiptBySale(ctx, "sale-1")
	require.NoError(t, err)
	assert.Equal(t, "Warp Coffee", loaded.Snapshot.BusinessName)
	require.Len(t, loaded.Snapshot.Items, 1)
	assert.True(t, d("5.00").Equal(loaded.Snapshot.Items[0].UnitPrice))
	assert.True(t, d("1.30").Equal(loaded.Snapshot.Taxes["HST"]))
	assert.True(t, d("11.30").Equal(loaded.Snapshot.Total))
}

// =============================================================================
// TRANSACTION TESTS
// =============================================================================

func TestStore_WithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A transaction that inserts a sale and then fails
	// WHEN: WithTx returns the error
	// THEN: The sale never became visible

	store := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(st checkout.SaleStore) error {
		if err := st.InsertSale(ctx, saleRecord("sale-1")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.GetSale(ctx, "sale-1")
	assert.ErrorIs(t, err, checkout.ErrSaleNotFound)
}

func TestStore_WithTx_LoyaltyJoinsSaleTransaction(t *testing.T) {
	// GIVEN: A transaction writing a sale and a loyalty entry
	// WHEN: The loyalty write fails (duplicate entry ID)
	// THEN: The sale rolls back with it

	store := newTestStore(t)
	ctx := context.Background()
	ls := testLoyaltySettings()

	require.NoError(t, store.SaveAccount(ctx, loyalty.NewAccount("cust-1", d("20.00"), ls)))
	entry := loyalty.Transaction{
		ID: "tx-1", AccountID: "cust-1", Type: loyalty.TxRedeem,
		Amount: d("5.00"), EarnedDate: time.Now(), CreatedAt: time.Now(),
	}
	require.NoError(t, store.AppendTransaction(ctx, entry))

	err := store.WithTx(ctx, func(st checkout.SaleStore) error {
		if err := st.InsertSale(ctx, saleRecord("sale-1")); err != nil {
			return err
		}
		lst, ok := st.(loyalty.Store)
		require.True(t, ok, "transaction store must expose the loyalty slice")
		return lst.AppendTransaction(ctx, entry) // same ID: duplicate
	})
	assert.ErrorIs(t, err, loyalty.ErrDuplicateTransaction)

	_, err = store.GetSale(ctx, "sale-1")
	assert.ErrorIs(t, err, checkout.ErrSaleNotFound)
}

// =============================================================================
// LOYALTY PERSISTENCE TESTS
// =============================================================================

func TestStore_AccountRoundtripRederivesPoints(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ls := testLoyaltySettings()

	require.NoError(t, store.SaveAccount(ctx, loyalty.NewAccount("cust-1", d("12.34"), ls)))

	loaded, err := store.GetAccount(ctx, "cust-1", ls)
	require.NoError(t, err)
	assert.True(t, d("12.34").Equal(loaded.Balance()))
	assert.Equal(t, int64(1234), loaded.Points(), "points derived from stored balance")

	// Upsert: saving again replaces the row.
	require.NoError(t, loaded.Earn(d("0.66"), ls, time.Now()))
	require.NoError(t, store.SaveAccount(ctx, loaded))
	again, err := store.GetAccount(ctx, "cust-1", ls)
	require.NoError(t, err)
	assert.True(t, d("13.00").Equal(again.Balance()))
	assert.Equal(t, int64(1300), again.Points())
}

func TestStore_GetAccount_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetAccount(context.Background(), "ghost", testLoyaltySettings())
	assert.ErrorIs(t, err, loyalty.ErrAccountNotFound)
}

func TestStore_DuplicateLoyaltyTransactionRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := loyalty.Transaction{
		ID: "tx-1", AccountID: "cust-1", Type: loyalty.TxEarn,
		Amount: d("1.00"), EarnedDate: time.Now(), CreatedAt: time.Now(),
	}
	require.NoError(t, store.AppendTransaction(ctx, entry))
	err := store.AppendTransaction(ctx, entry)
	assert.ErrorIs(t, err, loyalty.ErrDuplicateTransaction)
}

func TestStore_TransactionsForAccount_OldestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	expiry := base.AddDate(1, 0, 0)
	entries := []loyalty.Transaction{
		{ID: "tx-1", AccountID: "cust-1", Type: loyalty.TxEarn, Amount: d("2.00"), EarnedDate: base.AddDate(0, 0, 1), ExpiresAt: &expiry, SaleID: "sale-1", CreatedAt: base},
		{ID: "tx-2", AccountID: "cust-1", Type: loyalty.TxRedeem, Amount: d("1.00"), EarnedDate: base, SaleID: "sale-2", CreatedAt: base.Add(time.Hour)},
	}
	for _, e := range entries {
		require.NoError(t, store.AppendTransaction(ctx, e))
	}

	txs, err := store.TransactionsForAccount(ctx, "cust-1")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "tx-1", txs[0].ID)
	assert.Equal(t, "tx-2", txs[1].ID)
	require.NotNil(t, txs[0].ExpiresAt)
	assert.True(t, txs[0].ExpiresAt.Equal(expiry))
	assert.Equal(t, "sale-1", txs[0].SaleID)
}

// =============================================================================
// DAILY CAP TESTS - The cross-terminal guard
// =============================================================================

func TestStore_DailyUsage_AtomicCapEnforcement(t *testing.T) {
	// GIVEN: A $50.00 daily cap
	// WHEN: Incrementing $10, then $40, then one cent more
	// THEN: The first two land (cap reached exactly), the third is rejected
	//       and the stored usage is unchanged

	store := newTestStore(t)
	ctx := context.Background()
	cap := d("50.00")
	day := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.IncrementDailyUsage(ctx, "cust-1", day, d("10.00"), cap))
	require.NoError(t, store.IncrementDailyUsage(ctx, "cust-1", day, d("40.00"), cap))

	used, err := store.UsedOn(ctx, "cust-1", day)
	require.NoError(t, err)
	assert.True(t, d("50.00").Equal(used))

	err = store.IncrementDailyUsage(ctx, "cust-1", day, d("0.01"), cap)
	assert.ErrorIs(t, err, loyalty.ErrDailyCapExceeded)

	used, err = store.UsedOn(ctx, "cust-1", day)
	require.NoError(t, err)
	assert.True(t, d("50.00").Equal(used), "rejected increment wrote nothing")
}

func TestStore_DailyUsage_SeparateDaysAndAccounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cap := d("50.00")
	day := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.IncrementDailyUsage(ctx, "cust-1", day, d("50.00"), cap))
	require.NoError(t, store.IncrementDailyUsage(ctx, "cust-1", day.AddDate(0, 0, 1), d("50.00"), cap))
	require.NoError(t, store.IncrementDailyUsage(ctx, "cust-2", day, d("50.00"), cap))

	used, err := store.UsedOn(ctx, "cust-1", day)
	require.NoError(t, err)
	assert.True(t, d("50.00").Equal(used))
}

func TestStore_DailyUsage_NoCapMeansUnlimited(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.IncrementDailyUsage(ctx, "cust-1", day, d("500.00"), decimal.Zero))
	used, err := store.UsedOn(ctx, "cust-1", day)
	require.NoError(t, err)
	assert.True(t, d("500.00").Equal(used))
}

// =============================================================================
// MANAGER DIRECTORY TESTS
// =============================================================================

func TestStore_ManagerCredentialValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateManager(ctx, "Dana", "4321")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	ok, err := store.ValidateManagerCredential(ctx, "4321")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ValidateManagerCredential(ctx, "0000")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ManagerValidation_NoManagers(t *testing.T) {
	store := newTestStore(t)
	ok, err := store.ValidateManagerCredential(context.Background(), "1234")
	require.NoError(t, err)
	assert.False(t, ok)
}

// =============================================================================
// AUDIT LOG TESTS
// =============================================================================

func TestStore_AppendAudit(t *testing.T) {
	store := newTestStore(t)

	err := store.AppendAudit(context.Background(), checkout.AuditEntry{
		ID:        "audit-1",
		At:        time.Now(),
		Action:    checkout.AuditAuthRequested,
		Reason:    "tender exceeds remaining balance",
		Method:    checkout.MethodCard,
		Amount:    d("120.00"),
		SessionID: "sess-1",
	})
	assert.NoError(t, err)
}
