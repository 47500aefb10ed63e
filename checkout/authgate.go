/*
authgate.go - Manager authorization gate

PURPOSE:
  Some tender actions are blocked until a manager signs off: a non-cash
  tender above the remaining balance, or any context that explicitly
  demands it. The gate parks the blocked proposal, validates a manager
  credential against the identity store, and on success releases the
  ORIGINAL proposal for replay.

STATE MACHINE:
  Idle -> PendingApproval   proposal parked
  PendingApproval -> Approved   credential matched; proposal released
  PendingApproval -> PendingApproval   credential mismatch (Denied is
      surfaced as an error; the gate stays open for another attempt -
      rate limiting, if any, belongs to the identity store)
  Approved/any -> Idle   modal dismissed or replay completed

AUDIT:
  Every park, approval and denial is appended to the audit log with the
  reason, amount and method. Audit failures are logged, never fatal: a
  broken audit sink must not block the register.

SEE ALSO:
  - session.go: Parks proposals and replays approved ones
  - store/sqlite: Manager directory backing the identity store
*/
package checkout

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// IDENTITY STORE - External collaborator
// =============================================================================

// IdentityStore validates manager credentials. The engine only ever learns
// match / no match.
type IdentityStore interface {
	ValidateManagerCredential(ctx context.Context, pin string) (bool, error)
}

// =============================================================================
// GATE
// =============================================================================

// GateState is the authorization gate's current state.
type GateState string

const (
	GateIdle            GateState = "idle"
	GatePendingApproval GateState = "pending_approval"
	GateApproved        GateState = "approved"
	GateDenied          GateState = "denied"
)

// AuthGate holds at most one parked tender proposal awaiting manager
// sign-off.
type AuthGate struct {
	sessionID SessionID
	identity  IdentityStore
	audit     AuditLog

	state   GateState
	pending *TenderProposal
	reason  string
}

func NewAuthGate(sessionID SessionID, identity IdentityStore, audit AuditLog) *AuthGate {
	return &AuthGate{
		sessionID: sessionID,
		identity:  identity,
		audit:     audit,
		state:     GateIdle,
	}
}

func (g *AuthGate) State() GateState { return g.state }

// Pending returns the parked proposal, or nil.
func (g *AuthGate) Pending() *TenderProposal {
	if g.pending == nil {
		return nil
	}
	p := *g.pending
	return &p
}

// Park records a blocked proposal and moves the gate to PendingApproval.
// A newer proposal replaces an older parked one - the cashier changed
// their mind; only the latest is replayable.
func (g *AuthGate) Park(ctx context.Context, p TenderProposal, reason string) error {
	g.pending = &p
	g.reason = reason
	g.state = GatePendingApproval
	g.recordAudit(ctx, AuditAuthRequested, p, reason)
	return nil
}

// Approve validates the manager credential. On a match the parked proposal
// is returned for replay and the gate moves to Approved. On a mismatch the
// gate surfaces ErrAuthorizationDenied and stays open for another attempt.
func (g *AuthGate) Approve(ctx context.Context, pin string) (TenderProposal, error) {
	if g.state != GatePendingApproval || g.pending == nil {
		return TenderProposal{}, ErrNoPendingAuthorization
	}

	ok, err := g.identityCheck(ctx, pin)
	if err != nil {
		return TenderProposal{}, err
	}
	if !ok {
		g.recordAudit(ctx, AuditAuthDenied, *g.pending, g.reason)
		g.state = GatePendingApproval
		return TenderProposal{}, ErrAuthorizationDenied
	}

	g.state = GateApproved
	g.recordAudit(ctx, AuditAuthApproved, *g.pending, g.reason)
	return *g.pending, nil
}

func (g *AuthGate) identityCheck(ctx context.Context, pin string) (bool, error) {
	if g.identity == nil {
		return false, ErrAuthorizationDenied
	}
	return g.identity.ValidateManagerCredential(ctx, pin)
}

// Dismiss returns the gate to Idle and drops the parked proposal.
func (g *AuthGate) Dismiss() {
	g.state = GateIdle
	g.pending = nil
	g.reason = ""
}

func (g *AuthGate) recordAudit(ctx context.Context, action AuditAction, p TenderProposal, reason string) {
	if g.audit == nil {
		return
	}
	entry := AuditEntry{
		ID:        uuid.NewString(),
		At:        time.Now(),
		Action:    action,
		Reason:    reason,
		Method:    p.Method,
		Amount:    p.Amount,
		SessionID: g.sessionID,
	}
	if err := g.audit.AppendAudit(ctx, entry); err != nil {
		log.Printf("checkout: audit append failed (%s): %v", action, err)
	}
}
