// Package store provides an in-memory implementation of the checkout and
// loyalty persistence contracts, for tests and development.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/checkout-engine/checkout"
	"github.com/warp/checkout-engine/loyalty"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory implements checkout.TxStore, loyalty.Store and checkout.AuditLog.
// WithTx takes a full snapshot and restores it on error, giving the same
// all-or-nothing semantics as the SQLite store.
type Memory struct {
	mu sync.RWMutex

	sales    map[checkout.SaleID]checkout.SaleRecord
	items    map[checkout.SaleID][]checkout.SaleItemRecord
	tenders  map[checkout.SaleID][]checkout.TenderRecord
	receipts map[checkout.SaleID]checkout.ReceiptRecord

	accounts   map[loyalty.AccountID]accountRow
	loyaltyTxs map[loyalty.AccountID][]loyalty.Transaction
	txSeen     map[string]bool
	usage      map[usageKey]decimal.Decimal

	audit []checkout.AuditEntry
}

type accountRow struct {
	balance      decimal.Decimal
	totalEarned  decimal.Decimal
	totalSpent   decimal.Decimal
	lastActivity time.Time
}

type usageKey struct {
	AccountID loyalty.AccountID
	Date      string // YYYY-MM-DD business date
}

func NewMemory() *Memory {
	return &Memory{
		sales:      make(map[checkout.SaleID]checkout.SaleRecord),
		items:      make(map[checkout.SaleID][]checkout.SaleItemRecord),
		tenders:    make(map[checkout.SaleID][]checkout.TenderRecord),
		receipts:   make(map[checkout.SaleID]checkout.ReceiptRecord),
		accounts:   make(map[loyalty.AccountID]accountRow),
		loyaltyTxs: make(map[loyalty.AccountID][]loyalty.Transaction),
		txSeen:     make(map[string]bool),
		usage:      make(map[usageKey]decimal.Decimal),
	}
}

// =============================================================================
// SALE STORE (checkout.SaleStore)
// =============================================================================

func (m *Memory) InsertSale(_ context.Context, sale checkout.SaleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sales[sale.ID]; exists {
		return checkout.ErrDuplicateSale
	}
	m.sales[sale.ID] = sale
	return nil
}

func (m *Memory) InsertSaleItems(_ context.Context, items []checkout.SaleItemRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		m.items[it.SaleID] = append(m.items[it.SaleID], it)
	}
	return nil
}

func (m *Memory) InsertTenders(_ context.Context, tenders []checkout.TenderRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tenders {
		m.tenders[t.SaleID] = append(m.tenders[t.SaleID], t)
	}
	return nil
}

func (m *Memory) InsertReceipt(_ context.Context, receipt checkout.ReceiptRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts[receipt.SaleID] = receipt
	return nil
}

func (m *Memory) CountSalesOn(_ context.Context, businessID string, date time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// The calendar day is taken in date's location, so the receipt
	// sequence follows the business's clock, not UTC.
	day := date.Format("2006-01-02")
	count := 0
	for _, sale := range m.sales {
		if sale.BusinessID == businessID && sale.CreatedAt.In(date.Location()).Format("2006-01-02") == day {
			count++
		}
	}
	return count, nil
}

func (m *Memory) GetSale(_ context.Context, id checkout.SaleID) (*checkout.SaleRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sale, ok := m.sales[id]
	if !ok {
		return nil, checkout.ErrSaleNotFound
	}
	return &sale, nil
}

func (m *Memory) GetReceiptBySale(_ context.Context, id checkout.SaleID) (*checkout.ReceiptRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	receipt, ok := m.receipts[id]
	if !ok {
		return nil, checkout.ErrSaleNotFound
	}
	return &receipt, nil
}

// WithTx snapshots all state, runs fn, and restores the snapshot if fn
// fails. fn receives the store itself: every write inside fn happens
// against live state and is undone on error.
func (m *Memory) WithTx(_ context.Context, fn func(checkout.SaleStore) error) error {
	snap := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

// =============================================================================
// LOYALTY STORE (loyalty.Store)
// =============================================================================

func (m *Memory) GetAccount(_ context.Context, id loyalty.AccountID, s loyalty.Settings) (*loyalty.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.accounts[id]
	if !ok {
		return nil, loyalty.ErrAccountNotFound
	}
	return loyalty.RestoreAccount(id, row.balance, row.totalEarned, row.totalSpent, row.lastActivity, s), nil
}

func (m *Memory) SaveAccount(_ context.Context, a *loyalty.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID()] = accountRow{
		balance:      a.Balance(),
		totalEarned:  a.TotalEarned(),
		totalSpent:   a.TotalSpent(),
		lastActivity: a.LastActivity(),
	}
	return nil
}

func (m *Memory) AppendTransaction(_ context.Context, tx loyalty.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.txSeen[tx.ID] {
		return loyalty.ErrDuplicateTransaction
	}
	m.txSeen[tx.ID] = true
	m.loyaltyTxs[tx.AccountID] = append(m.loyaltyTxs[tx.AccountID], tx)
	return nil
}

func (m *Memory) TransactionsForAccount(_ context.Context, id loyalty.AccountID) ([]loyalty.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	txs := m.loyaltyTxs[id]
	out := make([]loyalty.Transaction, len(txs))
	copy(out, txs)
	return out, nil
}

func (m *Memory) PendingEarned(_ context.Context, id loyalty.AccountID, date time.Time) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	day := date.Format("2006-01-02")
	pending := decimal.Zero
	for _, tx := range m.loyaltyTxs[id] {
		if tx.Type == loyalty.TxEarn && tx.EarnedDate.Format("2006-01-02") > day {
			pending = pending.Add(tx.Amount)
		}
	}
	return pending, nil
}

func (m *Memory) UsedOn(_ context.Context, id loyalty.AccountID, date time.Time) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	used, ok := m.usage[usageKey{AccountID: id, Date: date.Format("2006-01-02")}]
	if !ok {
		return decimal.Zero, nil
	}
	return used, nil
}

func (m *Memory) IncrementDailyUsage(_ context.Context, id loyalty.AccountID, date time.Time, amount, cap decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := usageKey{AccountID: id, Date: date.Format("2006-01-02")}
	next := m.usage[key].Add(amount)
	if cap.IsPositive() && next.GreaterThan(cap) {
		return &loyalty.DailyCapError{AccountID: id, CapDollars: cap, Requested: amount}
	}
	m.usage[key] = next
	return nil
}

// =============================================================================
// AUDIT LOG (checkout.AuditLog)
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, entry checkout.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

// AuditEntries returns a copy of the audit log, oldest first.
func (m *Memory) AuditEntries() []checkout.AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]checkout.AuditEntry, len(m.audit))
	copy(out, m.audit)
	return out
}

// =============================================================================
// SNAPSHOT / RESTORE
// =============================================================================

type memSnapshot struct {
	sales      map[checkout.SaleID]checkout.SaleRecord
	items      map[checkout.SaleID][]checkout.SaleItemRecord
	tenders    map[checkout.SaleID][]checkout.TenderRecord
	receipts   map[checkout.SaleID]checkout.ReceiptRecord
	accounts   map[loyalty.AccountID]accountRow
	loyaltyTxs map[loyalty.AccountID][]loyalty.Transaction
	txSeen     map[string]bool
	usage      map[usageKey]decimal.Decimal
	auditLen   int
}

func (m *Memory) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memSnapshot{
		sales:      copyMap(m.sales),
		items:      copySliceMap(m.items),
		tenders:    copySliceMap(m.tenders),
		receipts:   copyMap(m.receipts),
		accounts:   copyMap(m.accounts),
		loyaltyTxs: copySliceMap(m.loyaltyTxs),
		txSeen:     copyMap(m.txSeen),
		usage:      copyMap(m.usage),
		auditLen:   len(m.audit),
	}
}

func (m *Memory) restore(snap memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sales = snap.sales
	m.items = snap.items
	m.tenders = snap.tenders
	m.receipts = snap.receipts
	m.accounts = snap.accounts
	m.loyaltyTxs = snap.loyaltyTxs
	m.txSeen = snap.txSeen
	m.usage = snap.usage
	m.audit = m.audit[:snap.auditLen]
}

func copyMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func copySliceMap[K comparable, V any](src map[K][]V) map[K][]V {
	dst := make(map[K][]V, len(src))
	for k, v := range src {
		cp := make([]V, len(v))
		copy(cp, v)
		dst[k] = cp
	}
	return dst
}

// Compile-time interface checks.
var (
	_ checkout.TxStore  = (*Memory)(nil)
	_ checkout.AuditLog = (*Memory)(nil)
	_ loyalty.Store     = (*Memory)(nil)
)
