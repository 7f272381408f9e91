/*
store.go - Persistence interfaces for the approval engine

PURPOSE:
  Defines the boundary between the workflow and the database. Reads that
  do not change state go through Store directly. Every state change goes
  through Store.WithTx so that a transaction row, its approval set and the
  account balance move together or not at all.

KEY INTERFACES:
  Store:     Reads, admin writes, and WithTx
  Tx:        Locking reads and writes inside one atomic unit
  AuditLog:  Audit trail storage (optional, see audit/)

LOCKING CONTRACT:
  Tx.LockTransaction and Tx.LockAccount must serialize concurrent units on
  the same row until commit or rollback. PostgreSQL uses SELECT ... FOR UPDATE,
  SQLite and the in-memory store run one writer at a time.

GUARDED DECISIONS:
  Tx.DecideApproval only updates a record that is still PENDING and reports
  whether it did. This is the "only one PENDING -> decided transition wins"
  check that backs ErrAlreadyDecided.

IMPLEMENTATIONS:
  - wallet/store/memory.go: In-memory for tests and demos
  - store/sqlite: Embedded SQLite store
  - store/postgres: PostgreSQL with row locks

SEE ALSO:
  - service.go: The only caller of WithTx
*/
package wallet

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Reads, configuration writes, and the transactional entry point
// =============================================================================

type Store interface {
	Directory

	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
	GetApprovals(ctx context.Context, id TransactionID) ([]ApprovalRecord, error)
	PendingApprovals(ctx context.Context, approver UserID) ([]ApprovalRecord, error)

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// Directory holds cities, users, accounts and roster configuration.
// These are written by administrators, never by the workflow.
type Directory interface {
	SaveCity(ctx context.Context, c City) error
	GetCity(ctx context.Context, id CityID) (*City, error)

	SaveUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id UserID) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)

	// SaveAccount creates or updates account metadata. The balance is only
	// taken from a when the account is new.
	SaveAccount(ctx context.Context, a Account) error
	GetAccount(ctx context.Context, id AccountID) (*Account, error)
	ListAccounts(ctx context.Context, city CityID) ([]Account, error)

	SaveAssignment(ctx context.Context, a ApproverAssignment) error
	ListAssignments(ctx context.Context, t TransactionType) ([]ApproverAssignment, error)

	SaveApprovalConfig(ctx context.Context, c ApprovalConfig) error
	GetApprovalConfig(ctx context.Context, t TransactionType) (*ApprovalConfig, error)
}

// =============================================================================
// TX - One atomic unit of work
// =============================================================================

type Tx interface {
	RosterSource

	// LockTransaction loads a transaction and holds its row until the unit ends.
	LockTransaction(ctx context.Context, id TransactionID) (*Transaction, error)
	// LockAccount loads an account and holds its row until the unit ends.
	LockAccount(ctx context.Context, id AccountID) (*Account, error)

	GetAccount(ctx context.Context, id AccountID) (*Account, error)
	GetApprovals(ctx context.Context, id TransactionID) ([]ApprovalRecord, error)

	// NextReference returns the next value of the per-prefix reference counter.
	NextReference(ctx context.Context, prefix string) (int64, error)

	InsertTransaction(ctx context.Context, t Transaction) error
	InsertApprovals(ctx context.Context, records []ApprovalRecord) error

	// UpdateTransaction persists status, metadata, executed_at and updated_at.
	UpdateTransaction(ctx context.Context, t Transaction) error

	// DecideApproval moves a PENDING record to status. It returns false,
	// without error, when the record is no longer PENDING.
	DecideApproval(ctx context.Context, id ApprovalID, status ApprovalStatus, comment string, at time.Time) (bool, error)

	UpdateBalance(ctx context.Context, id AccountID, balance decimal.Decimal, at time.Time) error
}

// RosterSource is what the roster resolver reads.
type RosterSource interface {
	GetApprovalConfig(ctx context.Context, t TransactionType) (*ApprovalConfig, error)
	// ActiveAssignments returns active assignments for t ordered by approver id.
	ActiveAssignments(ctx context.Context, t TransactionType) ([]ApproverAssignment, error)
	// ActiveApprovers returns active approver-capable users ordered by id.
	ActiveApprovers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id UserID) (*User, error)
}

// =============================================================================
// AUDIT - Fire-and-forget trail of who did what
// =============================================================================

type AuditAction string

const (
	AuditTransactionCreated   AuditAction = "TRANSACTION_CREATED"
	AuditTransactionCancelled AuditAction = "TRANSACTION_CANCELLED"
	AuditDepositApproved      AuditAction = "DEPOSIT_APPROVED"
	AuditDepositRejected      AuditAction = "DEPOSIT_REJECTED"
	AuditWithdrawalApproved   AuditAction = "WITHDRAWAL_APPROVED"
	AuditWithdrawalRejected   AuditAction = "WITHDRAWAL_REJECTED"
	AuditTransactionExecuted  AuditAction = "TRANSACTION_EXECUTED"
	AuditExecutionFailed      AuditAction = "EXECUTION_FAILED"
	AuditSystemAction         AuditAction = "SYSTEM_ACTION"
)

// DecisionAuditAction names the audit action for a decision on a transaction type.
func DecisionAuditAction(t TransactionType, a Action) AuditAction {
	switch {
	case t == TypeDeposit && a == ActionApprove:
		return AuditDepositApproved
	case t == TypeDeposit:
		return AuditDepositRejected
	case a == ActionApprove:
		return AuditWithdrawalApproved
	default:
		return AuditWithdrawalRejected
	}
}

// AuditEntry records who did what when.
type AuditEntry struct {
	ID            string
	Timestamp     time.Time
	ActorID       UserID
	Action        AuditAction
	Description   string
	TransactionID TransactionID
	Details       map[string]any
}

// AuditLogger receives audit entries after a state change has committed.
// Failures are reported back but never undo the change.
type AuditLogger interface {
	LogAction(ctx context.Context, entry AuditEntry) error
}

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	ActorID       UserID
	TransactionID TransactionID
	Actions       []AuditAction
	Limit         int
}

// NopAuditLogger discards every entry.
type NopAuditLogger struct{}

func (NopAuditLogger) LogAction(context.Context, AuditEntry) error { return nil }
