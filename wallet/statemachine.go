/*
statemachine.go - Transaction lifecycle

TRANSITIONS:

  PENDING   ── any rejection ─────────────▶ REJECTED   (terminal)
  PENDING   ── approved >= required ──────▶ APPROVED ──▶ execute
  APPROVED  ── execution succeeded ───────▶ EXECUTED   (terminal)
  APPROVED  ── execution failed ──────────▶ APPROVED   (stalled, retryable)
  PENDING   ── cancel ────────────────────▶ CANCELLED  (terminal)

  Rejection wins over completion. Terminal states are fixed points, so
  re-running Advance on them changes nothing and executes nothing.

SEE ALSO:
  - execution.go: Execute, called when Advance lands on APPROVED
*/
package wallet

import (
	"context"
	"time"
)

// Evaluate returns the status the transaction should be in given its
// progress, and whether execution should be attempted.
func Evaluate(current TransactionStatus, p Progress) (next TransactionStatus, execute bool) {
	switch current {
	case StatusRejected, StatusExecuted, StatusCancelled:
		return current, false
	case StatusApproved:
		// Already past the approval gate. Only execution can move it.
		return StatusApproved, true
	}
	switch {
	case p.IsRejected:
		return StatusRejected, false
	case p.IsComplete:
		return StatusApproved, true
	default:
		return StatusPending, false
	}
}

// Outcome is what one Advance call did.
type Outcome struct {
	From     TransactionStatus
	To       TransactionStatus
	Executed bool
	// ExecutionErr is set when execution was attempted and refused.
	ExecutionErr error
}

func (o Outcome) Changed() bool { return o.From != o.To }

// StateMachine applies Evaluate to a locked transaction and persists the result.
type StateMachine struct {
	Executor *Executor
}

// Advance recomputes t's status from p inside tx. t must have been loaded
// with Tx.LockTransaction in the same unit. t is updated in place.
func (m *StateMachine) Advance(ctx context.Context, tx Tx, t *Transaction, p Progress, now time.Time) (Outcome, error) {
	out := Outcome{From: t.Status}
	next, execute := Evaluate(t.Status, p)

	if next != t.Status {
		t.Status = next
		t.UpdatedAt = now
		if err := tx.UpdateTransaction(ctx, *t); err != nil {
			return out, err
		}
	}

	if execute {
		executed, err := m.Executor.Execute(ctx, tx, t, now)
		if err != nil && !IsClientError(err) {
			return out, err
		}
		out.Executed = executed
		out.ExecutionErr = err
	}

	out.To = t.Status
	return out, nil
}

// Cancel moves a PENDING transaction to CANCELLED.
func (m *StateMachine) Cancel(ctx context.Context, tx Tx, t *Transaction, by UserID, reason string, now time.Time) error {
	if t.Status != StatusPending {
		return &StateTransitionError{TransactionID: t.ID, From: t.Status, Operation: "cancel"}
	}
	t.Status = StatusCancelled
	t.UpdatedAt = now
	if reason != "" {
		t.setMeta(MetaCancellationReason, reason)
	}
	t.setMeta(MetaCancelledBy, string(by))
	return tx.UpdateTransaction(ctx, *t)
}
