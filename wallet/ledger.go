/*
ledger.go - Account ledger

PURPOSE:
  Applies credits and debits to an account balance. The ledger never decides
  whether a transaction should run; it only moves money, under the account's
  row lock, inside the caller's unit of work.

CRITICAL INVARIANTS:
  1. A withdrawal never drives the balance below zero
  2. Every balance change happens after Tx.LockAccount in the same unit
  3. A failed withdrawal changes nothing

SEE ALSO:
  - execution.go: The only writer
  - service.go: Uses CanWithdraw for the decision-time pre-check
*/
package wallet

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// CanWithdraw reports whether the balance covers amount.
func (a *Account) CanWithdraw(amount decimal.Decimal) bool {
	return a.Balance.GreaterThanOrEqual(amount)
}

// Deposit increases the balance unconditionally.
func (a *Account) Deposit(amount decimal.Decimal) {
	a.Balance = a.Balance.Add(amount)
}

// Withdraw decreases the balance if it covers amount, and reports whether it did.
func (a *Account) Withdraw(amount decimal.Decimal) bool {
	if !a.CanWithdraw(amount) {
		return false
	}
	a.Balance = a.Balance.Sub(amount)
	return true
}

// =============================================================================
// LEDGER - Locked balance changes
// =============================================================================

type Ledger struct{}

// CanWithdraw is a non-locking check used to fail fast before execution.
func (Ledger) CanWithdraw(ctx context.Context, tx Tx, id AccountID, amount decimal.Decimal) (bool, *Account, error) {
	acct, err := tx.GetAccount(ctx, id)
	if err != nil {
		return false, nil, err
	}
	return acct.CanWithdraw(amount), acct, nil
}

// Credit locks the account and adds amount.
func (Ledger) Credit(ctx context.Context, tx Tx, id AccountID, amount decimal.Decimal, at time.Time) (*Account, error) {
	acct, err := tx.LockAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	acct.Deposit(amount)
	if err := tx.UpdateBalance(ctx, acct.ID, acct.Balance, at); err != nil {
		return nil, err
	}
	acct.UpdatedAt = at
	return acct, nil
}

// Debit locks the account and subtracts amount. It returns an
// *InsufficientBalanceError, and writes nothing, when the balance is short.
func (Ledger) Debit(ctx context.Context, tx Tx, id AccountID, amount decimal.Decimal, at time.Time) (*Account, error) {
	acct, err := tx.LockAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	available := acct.Balance
	if !acct.Withdraw(amount) {
		return acct, &InsufficientBalanceError{AccountID: id, Available: available, Requested: amount}
	}
	if err := tx.UpdateBalance(ctx, acct.ID, acct.Balance, at); err != nil {
		return nil, err
	}
	acct.UpdatedAt = at
	return acct, nil
}
