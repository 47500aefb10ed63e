/*
handlers.go - HTTP API handlers for the checkout engine

PURPOSE:
  Exposes the settlement engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Checkout:
    POST   /api/checkout                   Start a session (auto-applies loyalty)
    GET    /api/checkout/{id}              Session state
    POST   /api/checkout/{id}/tip          Set tip (before first tender)
    POST   /api/checkout/{id}/tenders      Propose a tender
    POST   /api/checkout/{id}/authorize    Manager PIN for parked proposal
    DELETE /api/checkout/{id}/authorize    Dismiss the approval modal
    POST   /api/checkout/{id}/finalize     Settle the sale

  Sales:
    GET    /api/sales/{id}/receipt         Receipt snapshot (reprint)

  Loyalty:
    GET    /api/loyalty/{id}               Account summary
    GET    /api/loyalty/{id}/transactions  Ledger history

  Admin:
    POST   /api/admin/managers             Register a manager credential
    POST   /api/admin/expire               Run the credit expiry sweep
    POST   /api/admin/seed                 Load demo data

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (session, ledger, finalizer)
  4. Serialize response
  5. Map errors to HTTP status

ERROR HANDLING:
  - 400: Validation errors, invalid input
  - 403: Manager authorization denied
  - 404: Session, sale or account not found
  - 409: State conflicts (authorization required/missing, not payable,
         already finalized, duplicates)
  - 422: Policy rejections (loyalty ceiling, daily cap)
  - 500: Internal errors

SECURITY NOTE:
  Manager PINs gate overpay approvals only; the API itself carries no
  authentication. Front it with a gateway in production.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/checkout-engine/checkout"
	"github.com/warp/checkout-engine/factory"
	"github.com/warp/checkout-engine/loyalty"
	"github.com/warp/checkout-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *sqlite.Store
	Config    *factory.Config
	Oracle    checkout.TaxOracle
	Ledger    *loyalty.Ledger
	Finalizer *checkout.Finalizer

	// In-progress sessions, keyed by session ID. One register terminal
	// drives one session; the map lock covers concurrent terminals.
	mu       sync.Mutex
	sessions map[checkout.SessionID]*checkout.Session
}

// NewHandler wires the engine around the store and settings.
func NewHandler(store *sqlite.Store, cfg *factory.Config, oracle checkout.TaxOracle) *Handler {
	ledger := loyalty.NewLedger(store)
	return &Handler{
		Store:     store,
		Config:    cfg,
		Oracle:    oracle,
		Ledger:    ledger,
		Finalizer: checkout.NewFinalizer(store, ledger),
		sessions:  make(map[checkout.SessionID]*checkout.Session),
	}
}

func (h *Handler) session(id string) (*checkout.Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[checkout.SessionID(id)]
	return s, ok
}

// =============================================================================
// CHECKOUT HANDLERS
// =============================================================================

// StartCheckout opens a session for a drafted sale: computes the tax
// calculation and loyalty quote, then auto-applies the quoted loyalty
// tender if policy proposes one.
func (h *Handler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	var req StartCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	items := make([]checkout.LineItem, len(req.Items))
	computed := decimal.Zero
	for i, it := range req.Items {
		items[i] = checkout.LineItem{SKU: it.SKU, Name: it.Name, UnitPrice: it.UnitPrice, Quantity: it.Quantity}
		computed = computed.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	subtotal := req.Subtotal
	if subtotal.IsZero() {
		subtotal = computed
	}
	if subtotal.IsNegative() || req.DiscountAmount.IsNegative() {
		writeError(w, http.StatusBadRequest, "Amounts must not be negative", nil)
		return
	}

	draft := checkout.SaleDraft{
		Items:            items,
		Subtotal:         subtotal,
		DiscountAmount:   req.DiscountAmount,
		LoyaltyAccountID: loyalty.AccountID(req.LoyaltyAccountID),
	}

	ctx := r.Context()
	cfg := h.Config
	quote, account := h.Ledger.Quote(ctx, draft.LoyaltyAccountID, cfg.Loyalty, subtotal, time.Now(), cfg.Business.Location())
	tax := checkout.SafeComputeTax(ctx, h.Oracle, items, req.DiscountAmount, quote.AutoApplied, subtotal)

	s := checkout.NewSession(draft, cfg.Business, cfg.Loyalty, tax, quote, account, h.Store, h.Store)

	if req.TipAmount.IsPositive() {
		if err := s.SetTip(req.TipAmount); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid tip", err)
			return
		}
	}

	// Policy-proposed loyalty tender. A rejection here (e.g. the quote
	// raced a balance change) downgrades to a plain session; the cashier
	// can still redeem manually.
	if quote.AutoApplied.IsPositive() {
		if _, err := s.ProposeTender(ctx, quote.AutoApplied, checkout.MethodLoyaltyCredit, ""); err != nil {
			log.Printf("api: auto-apply rejected for session %s: %v", s.ID(), err)
		}
	}

	h.mu.Lock()
	h.sessions[s.ID()] = s
	h.mu.Unlock()

	writeJSON(w, http.StatusCreated, sessionDTO(s))
}

// GetSession returns the full session state.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, sessionDTO(s))
}

// SetTip sets the tip amount. Rejected once tenders exist.
func (h *Handler) SetTip(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found", nil)
		return
	}
	var req TipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := s.SetTip(req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionDTO(s))
}

// ProposeTender validates and records one payment.
func (h *Handler) ProposeTender(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found", nil)
		return
	}
	var req ProposeTenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	_, err := s.ProposeTender(r.Context(), req.Amount, checkout.TenderMethod(strings.TrimSpace(req.Method)), req.CustomName)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionDTO(s))
}

// Authorize submits a manager PIN; on success the parked proposal is
// replayed and the session state reflects the accepted tender.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found", nil)
		return
	}
	var req AuthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if _, err := s.Authorize(r.Context(), req.PIN); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionDTO(s))
}

// DismissAuthorization closes the approval modal without approving.
func (h *Handler) DismissAuthorization(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found", nil)
		return
	}
	s.DismissAuthorization()
	writeJSON(w, http.StatusOK, sessionDTO(s))
}

// Finalize settles a payable session and returns the settlement result.
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found", nil)
		return
	}
	result, err := h.Finalizer.Finalize(r.Context(), s)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.mu.Lock()
	delete(h.sessions, s.ID())
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, settlementDTO(result))
}

// =============================================================================
// SALE HANDLERS
// =============================================================================

// GetReceipt returns the denormalized receipt snapshot for reprint.
func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.Store.GetReceiptBySale(r.Context(), checkout.SaleID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt.Snapshot)
}

// =============================================================================
// LOYALTY HANDLERS
// =============================================================================

// GetLoyaltyAccount returns the account summary.
func (h *Handler) GetLoyaltyAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.Store.GetAccount(r.Context(), loyalty.AccountID(chi.URLParam(r, "id")), h.Config.Loyalty)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountDTO(account))
}

// GetLoyaltyTransactions returns the ledger history, oldest first.
func (h *Handler) GetLoyaltyTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Store.TransactionsForAccount(r.Context(), loyalty.AccountID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = transactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// CreateManager registers a manager credential for overpay approvals.
func (h *Handler) CreateManager(w http.ResponseWriter, r *http.Request) {
	var req CreateManagerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" || len(req.PIN) < 4 {
		writeError(w, http.StatusBadRequest, "Name and a PIN of at least 4 digits are required", nil)
		return
	}
	id, err := h.Store.CreateManager(r.Context(), req.Name, req.PIN)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create manager", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// ExpireLoyaltyCredits runs the expiry sweep for one account.
func (h *Handler) ExpireLoyaltyCredits(w http.ResponseWriter, r *http.Request) {
	var req ExpireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	expired, err := h.Ledger.ExpireCredits(r.Context(), loyalty.AccountID(req.AccountID), h.Config.Loyalty, time.Now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": req.AccountID,
		"expired":    expired,
	})
}

// Seed loads demo data: two loyalty accounts and a manager with PIN 1234.
func (h *Handler) Seed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg := h.Config

	accounts := []struct {
		id      loyalty.AccountID
		balance decimal.Decimal
	}{
		{"cust-alice", decimal.NewFromFloat(20.00)},
		{"cust-bob", decimal.NewFromFloat(3.50)},
	}
	for _, a := range accounts {
		if err := h.Store.SaveAccount(ctx, loyalty.NewAccount(a.id, a.balance, cfg.Loyalty)); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to seed accounts", err)
			return
		}
	}
	if _, err := h.Store.CreateManager(ctx, "Demo Manager", "1234"); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to seed manager", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accounts":    []string{"cust-alice", "cust-bob"},
		"manager_pin": "1234",
	})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case checkout.IsValidationError(err):
		writeError(w, http.StatusBadRequest, "Invalid input", err)
	case errors.Is(err, checkout.ErrAuthorizationRequired):
		writeError(w, http.StatusConflict, "Manager authorization required", err)
	case errors.Is(err, checkout.ErrAuthorizationDenied):
		writeError(w, http.StatusForbidden, "Authorization denied", err)
	case errors.Is(err, checkout.ErrNoPendingAuthorization):
		writeError(w, http.StatusConflict, "Nothing awaiting authorization", err)
	case errors.Is(err, checkout.ErrSaleNotFound), errors.Is(err, loyalty.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, checkout.ErrSaleAlreadyFinalized),
		errors.Is(err, checkout.ErrSaleNotPayable),
		checkout.IsRetryable(err):
		writeError(w, http.StatusConflict, "Sale state conflict", err)
	case checkout.IsPolicyError(err):
		writeError(w, http.StatusUnprocessableEntity, "Policy rejection", err)
	default:
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Internal error: %v", err), nil)
	}
}
