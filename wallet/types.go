/*
Package wallet provides the municipal fund approval engine.

PURPOSE:
  An initiator raises a deposit or withdrawal against a city account. A panel
  of approvers decides on it one by one, in any order. When enough approvals
  are collected the transaction is executed exactly once against the account
  balance. A single rejection is terminal.

KEY CONCEPTS IN THIS FILE (types.go):
  - Transaction:    A requested balance change with a lifecycle status
  - ApprovalRecord: One approver's decision on one transaction
  - Account:        The balance a transaction is executed against
  - Assignment/Config: Global roster and threshold configuration

LIFECYCLE:

  PENDING ──▶ APPROVED ──▶ EXECUTED
     │            │
     │            └── (execution failed: stays APPROVED, retryable)
     ├──▶ REJECTED
     └──▶ CANCELLED

DESIGN PRINCIPLES:
  1. Precision: amounts and balances use decimal.Decimal
  2. Type Safety: distinct ID types for transactions, accounts, users
  3. Atomicity: every mutation runs inside one Store transaction

SEE ALSO:
  - service.go: The operations exposed to callers
  - statemachine.go: Status transitions
  - store.go: Persistence interfaces
*/
package wallet

import (
	"maps"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	TransactionID string
	ApprovalID    string
	AccountID     string
	CityID        string
	UserID        string
)

// =============================================================================
// TRANSACTION TYPES AND STATUSES
// =============================================================================

type TransactionType string

const (
	TypeDeposit    TransactionType = "DEPOSIT"
	TypeWithdrawal TransactionType = "WITHDRAWAL"
)

// TransactionTypes lists every supported type in a stable order.
var TransactionTypes = []TransactionType{TypeDeposit, TypeWithdrawal}

func (t TransactionType) Valid() bool {
	return t == TypeDeposit || t == TypeWithdrawal
}

// ReferencePrefix is the prefix of human-readable references for this type.
func (t TransactionType) ReferencePrefix() string {
	if t == TypeDeposit {
		return "DEP"
	}
	return "WTH"
}

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusApproved  TransactionStatus = "APPROVED"
	StatusRejected  TransactionStatus = "REJECTED"
	StatusExecuted  TransactionStatus = "EXECUTED"
	StatusCancelled TransactionStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition can leave this status.
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusRejected || s == StatusExecuted || s == StatusCancelled
}

func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusExecuted, StatusCancelled:
		return true
	}
	return false
}

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// Action is an approver's decision.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// ParseAction accepts "approve" or "reject".
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionApprove, ActionReject:
		return Action(s), nil
	}
	return "", &ValidationError{Field: "action", Message: `must be "approve" or "reject"`}
}

func (a Action) status() ApprovalStatus {
	if a == ActionApprove {
		return ApprovalApproved
	}
	return ApprovalRejected
}

// Metadata keys written by the engine.
const (
	MetaCancellationReason = "cancellation_reason"
	MetaCancelledBy        = "cancelled_by"
	MetaExecutionError     = "execution_error"
	MetaExecutionAttempts  = "execution_attempts"
	MetaDepositorName      = "depositor_name"
	MetaDepositorPhone     = "depositor_phone"
)

// =============================================================================
// TRANSACTION
// =============================================================================

// Transaction is a requested deposit or withdrawal.
// Status is owned by the state machine; terminal states are immutable.
type Transaction struct {
	ID          TransactionID
	Type        TransactionType
	Amount      decimal.Decimal
	Status      TransactionStatus
	Reference   string
	Description string
	AccountID   AccountID
	CityID      CityID
	CreatedBy   UserID

	// Size of the approval set, fixed at creation.
	RequiredApprovals int

	Metadata map[string]any

	CreatedAt  time.Time
	UpdatedAt  time.Time
	ExecutedAt *time.Time
}

// Clone returns a copy that does not share the metadata map.
func (t Transaction) Clone() Transaction {
	t.Metadata = maps.Clone(t.Metadata)
	if t.ExecutedAt != nil {
		at := *t.ExecutedAt
		t.ExecutedAt = &at
	}
	return t
}

func (t *Transaction) setMeta(key string, value any) {
	if t.Metadata == nil {
		t.Metadata = make(map[string]any)
	}
	t.Metadata[key] = value
}

// ExecutionAttempts returns how many executions were attempted and failed.
func (t Transaction) ExecutionAttempts() int {
	switch v := t.Metadata[MetaExecutionAttempts].(type) {
	case int:
		return v
	case float64: // decoded from JSON
		return int(v)
	}
	return 0
}

// =============================================================================
// APPROVAL RECORD
// =============================================================================

// ApprovalRecord is one approver's slot on one transaction.
// It moves from PENDING to APPROVED or REJECTED exactly once.
type ApprovalRecord struct {
	ID            ApprovalID
	TransactionID TransactionID
	ApproverID    UserID
	Status        ApprovalStatus
	Comment       string
	DecidedAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (r ApprovalRecord) IsPending() bool { return r.Status == ApprovalPending }

// =============================================================================
// ACCOUNT AND CITY
// =============================================================================

type City struct {
	ID        CityID
	Name      string
	Country   string
	Active    bool
	CreatedAt time.Time
}

// Account holds a city's balance. Only the execution engine changes Balance.
type Account struct {
	ID        AccountID
	CityID    CityID
	Name      string
	Balance   decimal.Decimal
	Currency  string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// ROSTER CONFIGURATION
// =============================================================================

// ApproverAssignment puts an approver on the roster for a transaction type.
type ApproverAssignment struct {
	Type       TransactionType
	ApproverID UserID
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ApprovalConfig sets how many approvals a transaction type needs.
type ApprovalConfig struct {
	Type              TransactionType
	RequiredApprovals int
	Active            bool
	UpdatedAt         time.Time
}

// =============================================================================
// FILTERS
// =============================================================================

// TransactionFilter narrows ListTransactions. Zero fields match everything.
type TransactionFilter struct {
	Type       TransactionType
	Status     TransactionStatus
	AccountID  AccountID
	CityID     CityID
	CreatedBy  UserID
	ApproverID UserID // only transactions with a record for this approver
	Limit      int
}
