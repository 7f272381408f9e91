package wallet

import (
	"context"
	"time"
)

// Executor applies a transaction's financial effect.
type Executor struct {
	Ledger Ledger
}

// Execute credits or debits the account for an APPROVED transaction and
// marks it EXECUTED. A withdrawal the balance cannot cover leaves t APPROVED,
// records the failure in its metadata, and returns (false, *InsufficientBalanceError).
//
// The APPROVED precondition is checked on the row locked by the caller, in
// the same unit as the balance change, so execution happens at most once.
func (e *Executor) Execute(ctx context.Context, tx Tx, t *Transaction, now time.Time) (bool, error) {
	if t.Status != StatusApproved {
		return false, &StateTransitionError{TransactionID: t.ID, From: t.Status, Operation: "execute"}
	}

	var err error
	switch t.Type {
	case TypeDeposit:
		_, err = e.Ledger.Credit(ctx, tx, t.AccountID, t.Amount, now)
	case TypeWithdrawal:
		_, err = e.Ledger.Debit(ctx, tx, t.AccountID, t.Amount, now)
	default:
		return false, &ValidationError{Field: "type", Message: "unknown transaction type " + string(t.Type)}
	}

	if err != nil {
		if !IsClientError(err) {
			return false, err
		}
		t.setMeta(MetaExecutionError, err.Error())
		t.setMeta(MetaExecutionAttempts, t.ExecutionAttempts()+1)
		t.UpdatedAt = now
		if uerr := tx.UpdateTransaction(ctx, *t); uerr != nil {
			return false, uerr
		}
		return false, err
	}

	executedAt := now
	t.Status = StatusExecuted
	t.ExecutedAt = &executedAt
	t.UpdatedAt = now
	delete(t.Metadata, MetaExecutionError)
	if err := tx.UpdateTransaction(ctx, *t); err != nil {
		return false, err
	}
	return true, nil
}
