/*
service.go - Workflow operations

PURPOSE:
  The entry point callers use. Each mutating operation runs as one
  Store.WithTx unit that starts by locking the transaction row, so a
  transaction's approval set, status and account balance move together.
  Audit entries and metrics are emitted after the unit commits.

OPERATIONS:
  CreateTransaction  Validate, resolve roster, insert transaction + approval set
  Decide             Record one approver's decision, advance the state machine
  Cancel             PENDING -> CANCELLED (admin or creator)
  GetProgress        Aggregate counts for a transaction
  RetryExecution     Re-drive an APPROVED transaction whose execution failed

DECIDE CHECK ORDER:
  1. transaction exists                  NotFound
  2. approver holds a record             NotFound
  3. record still PENDING                AlreadyDecided
  4. transaction still PENDING           InvalidStateTransition
  5. approver may approve                Forbidden
  6. withdrawal approve covered          InsufficientBalance
     (skipped for the completing approval, execution decides)
  7. guarded PENDING -> decided update   AlreadyDecided (lost race)
  8. aggregate + state machine (+ execution)

SEE ALSO:
  - statemachine.go, execution.go: What happens after a decision
  - store.go: WithTx and the locking contract
*/
package wallet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/warp/municipal-wallet/logging"
	"github.com/warp/municipal-wallet/metrics"
)

var minAmount = decimal.New(1, -2)

const maxDescriptionLength = 1000

// ServiceConfig holds the collaborators of a Service. Zero values get defaults.
type ServiceConfig struct {
	Defaults Defaults
	Audit    AuditLogger
	// AuditLog backs AuditTrail. Optional.
	AuditLog AuditLog
	Metrics  metrics.Collector
	Logger   *logging.Logger
	Clock    func() time.Time
}

// Service runs the approval workflow against a Store.
type Service struct {
	store    Store
	roster   RosterResolver
	ledger   Ledger
	machine  *StateMachine
	audit    AuditLogger
	auditLog AuditLog
	metrics  metrics.Collector
	log      *logging.Logger
	now      func() time.Time

	progress singleflight.Group
}

func NewService(store Store, cfg ServiceConfig) *Service {
	s := &Service{
		store:    store,
		roster:   RosterResolver{Defaults: cfg.Defaults},
		audit:    cfg.Audit,
		auditLog: cfg.AuditLog,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
		now:      cfg.Clock,
	}
	s.machine = &StateMachine{Executor: &Executor{Ledger: s.ledger}}
	if s.audit == nil {
		s.audit = NopAuditLogger{}
	}
	if s.metrics == nil {
		s.metrics = metrics.NoOpCollector{}
	}
	if s.log == nil {
		s.log = logging.NewNoOpLogger()
	}
	s.log = s.log.Named("wallet")
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// =============================================================================
// RESULTS AND INPUTS
// =============================================================================

// Result is what every workflow operation reports back.
type Result struct {
	Success       bool
	TransactionID TransactionID
	Reference     string
	Status        TransactionStatus
	Progress      *Progress
	// Executed is true when this call moved the balance.
	Executed bool
	// ExecutionError is set when execution was attempted and refused.
	// The operation itself still succeeded.
	ExecutionError string
	Code           string
	Message        string
}

func failed(err error) (*Result, error) {
	r := &Result{Success: false, Code: CodeOf(err), Message: err.Error()}
	if r.Code == CodeInternal {
		r.Message = ErrInternal.Error()
	}
	return r, err
}

type CreateInput struct {
	Type        TransactionType
	Amount      decimal.Decimal
	AccountID   AccountID
	CreatorID   UserID
	Description string

	// Deposits only.
	DepositorName  string
	DepositorPhone string

	Metadata map[string]any
}

var reservedMetadata = []string{
	MetaCancellationReason, MetaCancelledBy, MetaExecutionError,
	MetaExecutionAttempts, MetaDepositorName, MetaDepositorPhone,
}

func (in CreateInput) validate() error {
	if !in.Type.Valid() {
		return &ValidationError{Field: "type", Message: fmt.Sprintf("must be %s or %s", TypeDeposit, TypeWithdrawal)}
	}
	if in.Amount.LessThan(minAmount) {
		return &ValidationError{Field: "amount", Message: "must be at least 0.01"}
	}
	if !in.Amount.Equal(in.Amount.Round(2)) {
		return &ValidationError{Field: "amount", Message: "at most 2 decimal places"}
	}
	if in.AccountID == "" {
		return &ValidationError{Field: "account_id", Message: "required"}
	}
	if in.CreatorID == "" {
		return &ValidationError{Field: "created_by", Message: "required"}
	}
	if len(in.Description) > maxDescriptionLength {
		return &ValidationError{Field: "description", Message: fmt.Sprintf("at most %d characters", maxDescriptionLength)}
	}
	if in.Type != TypeDeposit && (in.DepositorName != "" || in.DepositorPhone != "") {
		return &ValidationError{Field: "depositor", Message: "depositor details apply to deposits only"}
	}
	for _, k := range reservedMetadata {
		if _, ok := in.Metadata[k]; ok {
			return &ValidationError{Field: "metadata", Message: fmt.Sprintf("key %q is reserved", k)}
		}
	}
	return nil
}

type DecideInput struct {
	TransactionID TransactionID
	ApproverID    UserID
	Action        Action
	Comment       string
}

// =============================================================================
// CREATE
// =============================================================================

// CreateTransaction validates the request, resolves the approver roster and
// persists a PENDING transaction with its approval set. Nothing is written
// when any step fails.
func (s *Service) CreateTransaction(ctx context.Context, in CreateInput) (*Result, error) {
	if err := in.validate(); err != nil {
		s.metrics.RecordCreated(string(in.Type), false)
		return failed(err)
	}

	var (
		txn   Transaction
		total int
	)
	err := s.store.WithTx(ctx, func(tx Tx) error {
		creator, err := tx.GetUser(ctx, in.CreatorID)
		if err != nil {
			return err
		}
		if !creator.CanCreateRequests() {
			return &ForbiddenError{UserID: creator.ID, Reason: "cannot create transaction requests"}
		}

		acct, err := tx.GetAccount(ctx, in.AccountID)
		if err != nil {
			return err
		}
		if !acct.Active {
			return &ValidationError{Field: "account_id", Message: "account is inactive"}
		}
		if creator.CityID != "" && creator.CityID != acct.CityID {
			return &ValidationError{Field: "account_id", Message: "account does not belong to your city"}
		}

		roster, err := s.roster.Resolve(ctx, tx, in.Type)
		if err != nil {
			return err
		}

		seq, err := tx.NextReference(ctx, in.Type.ReferencePrefix())
		if err != nil {
			return err
		}

		now := s.now()
		txn = Transaction{
			ID:                TransactionID(uuid.NewString()),
			Type:              in.Type,
			Amount:            in.Amount,
			Status:            StatusPending,
			Reference:         fmt.Sprintf("%s-%06d", in.Type.ReferencePrefix(), seq),
			Description:       strings.TrimSpace(in.Description),
			AccountID:         acct.ID,
			CityID:            acct.CityID,
			CreatedBy:         creator.ID,
			RequiredApprovals: roster.Required,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		for k, v := range in.Metadata {
			txn.setMeta(k, v)
		}
		if in.DepositorName != "" {
			txn.setMeta(MetaDepositorName, in.DepositorName)
		}
		if in.DepositorPhone != "" {
			txn.setMeta(MetaDepositorPhone, in.DepositorPhone)
		}

		set, err := NewApprovalSet(txn.ID, roster.Selected(), now)
		if err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return err
		}
		total = set.Len()
		return tx.InsertApprovals(ctx, set.Records())
	})
	if err != nil {
		s.metrics.RecordCreated(string(in.Type), false)
		s.log.Debug("create refused", zap.String("type", string(in.Type)),
			zap.String("creator", string(in.CreatorID)), zap.Error(err))
		return failed(sanitize("create transaction", err))
	}

	s.metrics.RecordCreated(string(txn.Type), true)
	s.log.Info("transaction created",
		zap.String("transaction_id", string(txn.ID)),
		zap.String("reference", txn.Reference),
		zap.String("type", string(txn.Type)),
		zap.String("amount", txn.Amount.StringFixed(2)),
		zap.Int("required_approvals", txn.RequiredApprovals))
	s.record(ctx, AuditEntry{
		ActorID:       txn.CreatedBy,
		Action:        AuditTransactionCreated,
		Description:   fmt.Sprintf("Created %s %s for %s", txn.Type, txn.Reference, txn.Amount.StringFixed(2)),
		TransactionID: txn.ID,
		Details: map[string]any{
			"reference":          txn.Reference,
			"amount":             txn.Amount.StringFixed(2),
			"account_id":         string(txn.AccountID),
			"required_approvals": txn.RequiredApprovals,
		},
	})

	p := Progress{Required: txn.RequiredApprovals, Total: total, Pending: total}
	return &Result{
		Success:       true,
		TransactionID: txn.ID,
		Reference:     txn.Reference,
		Status:        txn.Status,
		Progress:      &p,
	}, nil
}

// =============================================================================
// DECIDE
// =============================================================================

// Decide records an approver's decision and advances the transaction. When
// the decision completes the approval set the transaction is executed in the
// same unit. A refused execution still commits the decision.
func (s *Service) Decide(ctx context.Context, in DecideInput) (*Result, error) {
	start := time.Now()
	action, err := ParseAction(string(in.Action))
	if err != nil {
		s.metrics.RecordDecision(string(in.Action), metrics.OutcomeRefused, time.Since(start))
		return failed(err)
	}

	var (
		txn      Transaction
		progress Progress
		outcome  Outcome
	)
	err = s.store.WithTx(ctx, func(tx Tx) error {
		t, err := tx.LockTransaction(ctx, in.TransactionID)
		if err != nil {
			return err
		}
		records, err := tx.GetApprovals(ctx, t.ID)
		if err != nil {
			return err
		}
		set, err := LoadApprovalSet(t.ID, records)
		if err != nil {
			return err
		}
		if _, err := set.Pending(in.ApproverID); err != nil {
			return err
		}
		if t.Status != StatusPending {
			return &StateTransitionError{TransactionID: t.ID, From: t.Status, Operation: "decide"}
		}

		approver, err := tx.GetUser(ctx, in.ApproverID)
		if err != nil {
			return err
		}
		if !approver.CanApproveRequests() {
			return &ForbiddenError{UserID: approver.ID, Reason: "cannot approve transaction requests"}
		}

		// The approval that completes the set goes straight to the execution
		// engine, which has the final say on the balance.
		completes := set.Progress(t.RequiredApprovals).Remaining() <= 1
		if t.Type == TypeWithdrawal && action == ActionApprove && !completes {
			ok, acct, err := s.ledger.CanWithdraw(ctx, tx, t.AccountID, t.Amount)
			if err != nil {
				return err
			}
			if !ok {
				return &InsufficientBalanceError{AccountID: acct.ID, Available: acct.Balance, Requested: t.Amount}
			}
		}

		now := s.now()
		rec, err := set.Decide(in.ApproverID, action, in.Comment, now)
		if err != nil {
			return err
		}
		won, err := tx.DecideApproval(ctx, rec.ID, rec.Status, rec.Comment, now)
		if err != nil {
			return err
		}
		if !won {
			return &AlreadyDecidedError{TransactionID: t.ID, ApproverID: in.ApproverID}
		}

		progress = set.Progress(t.RequiredApprovals)
		outcome, err = s.machine.Advance(ctx, tx, t, progress, now)
		if err != nil {
			return err
		}
		txn = t.Clone()
		return nil
	})
	if err != nil {
		outcomeLabel := metrics.OutcomeRefused
		if !IsClientError(err) {
			outcomeLabel = metrics.OutcomeError
			s.log.Error("decision failed", zap.String("transaction_id", string(in.TransactionID)), zap.Error(err))
		}
		s.metrics.RecordDecision(string(action), outcomeLabel, time.Since(start))
		return failed(sanitize("decide", err))
	}

	s.metrics.RecordDecision(string(action), metrics.OutcomeAccepted, time.Since(start))
	s.log.Info("approval decided",
		zap.String("transaction_id", string(txn.ID)),
		zap.String("approver", string(in.ApproverID)),
		zap.String("action", string(action)),
		zap.Int("approved", progress.Approved),
		zap.Int("required", progress.Required),
		zap.String("status", string(txn.Status)))

	s.record(ctx, AuditEntry{
		ActorID:       in.ApproverID,
		Action:        DecisionAuditAction(txn.Type, action),
		Description:   fmt.Sprintf("%s %s %s", in.ApproverID, action.pastTense(), txn.Reference),
		TransactionID: txn.ID,
		Details: map[string]any{
			"comment":  in.Comment,
			"approved": progress.Approved,
			"required": progress.Required,
			"status":   string(txn.Status),
		},
	})
	s.afterAdvance(ctx, in.ApproverID, txn, outcome)

	return s.advanceResult(txn, progress, outcome), nil
}

func (a Action) pastTense() string {
	if a == ActionApprove {
		return "approved"
	}
	return "rejected"
}

// afterAdvance logs, counts and audits an execution attempt, if there was one.
func (s *Service) afterAdvance(ctx context.Context, actor UserID, txn Transaction, out Outcome) {
	switch {
	case out.Executed:
		s.metrics.RecordExecution(string(txn.Type), true)
		s.log.Info("transaction executed",
			zap.String("transaction_id", string(txn.ID)),
			zap.String("reference", txn.Reference),
			zap.String("amount", txn.Amount.StringFixed(2)))
		s.record(ctx, AuditEntry{
			ActorID:       actor,
			Action:        AuditTransactionExecuted,
			Description:   fmt.Sprintf("Executed %s %s for %s", txn.Type, txn.Reference, txn.Amount.StringFixed(2)),
			TransactionID: txn.ID,
			Details:       map[string]any{"account_id": string(txn.AccountID), "amount": txn.Amount.StringFixed(2)},
		})
	case out.ExecutionErr != nil:
		s.metrics.RecordExecution(string(txn.Type), false)
		s.log.Warn("execution refused",
			zap.String("transaction_id", string(txn.ID)),
			zap.String("reference", txn.Reference),
			zap.Int("attempts", txn.ExecutionAttempts()),
			zap.Error(out.ExecutionErr))
		s.record(ctx, AuditEntry{
			ActorID:       actor,
			Action:        AuditExecutionFailed,
			Description:   fmt.Sprintf("Execution of %s failed: %v", txn.Reference, out.ExecutionErr),
			TransactionID: txn.ID,
			Details:       map[string]any{"error": out.ExecutionErr.Error(), "attempts": txn.ExecutionAttempts()},
		})
	}
}

func (s *Service) advanceResult(txn Transaction, p Progress, out Outcome) *Result {
	r := &Result{
		Success:       true,
		TransactionID: txn.ID,
		Reference:     txn.Reference,
		Status:        txn.Status,
		Progress:      &p,
		Executed:      out.Executed,
	}
	if out.ExecutionErr != nil {
		r.ExecutionError = out.ExecutionErr.Error()
		r.Code = CodeOf(out.ExecutionErr)
		r.Message = "approved but not executed: " + r.ExecutionError
	}
	return r
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel moves a PENDING transaction to CANCELLED. Only admins and the
// initiator who created it may cancel. Its approval records stay PENDING
// and can no longer be decided.
func (s *Service) Cancel(ctx context.Context, id TransactionID, actor UserID, reason string) (*Result, error) {
	var txn Transaction
	err := s.store.WithTx(ctx, func(tx Tx) error {
		t, err := tx.LockTransaction(ctx, id)
		if err != nil {
			return err
		}
		u, err := tx.GetUser(ctx, actor)
		if err != nil {
			return err
		}
		if !CanCancel(*u, *t) {
			return &ForbiddenError{UserID: u.ID, Reason: "only the creator or an administrator can cancel"}
		}
		if err := s.machine.Cancel(ctx, tx, t, u.ID, strings.TrimSpace(reason), s.now()); err != nil {
			return err
		}
		txn = t.Clone()
		return nil
	})
	if err != nil {
		s.metrics.RecordCancelled(false)
		return failed(sanitize("cancel", err))
	}

	s.metrics.RecordCancelled(true)
	s.log.Info("transaction cancelled",
		zap.String("transaction_id", string(txn.ID)),
		zap.String("by", string(actor)))
	s.record(ctx, AuditEntry{
		ActorID:       actor,
		Action:        AuditTransactionCancelled,
		Description:   fmt.Sprintf("Cancelled %s", txn.Reference),
		TransactionID: txn.ID,
		Details:       map[string]any{"reason": reason},
	})
	return &Result{Success: true, TransactionID: txn.ID, Reference: txn.Reference, Status: txn.Status}, nil
}

// =============================================================================
// PROGRESS AND VIEWS
// =============================================================================

type progressSnapshot struct {
	txn      *Transaction
	progress Progress
}

// GetProgress aggregates the approval set of a transaction. Concurrent calls
// for the same transaction share one store read.
func (s *Service) GetProgress(ctx context.Context, id TransactionID) (*Result, error) {
	v, err, _ := s.progress.Do(string(id), func() (any, error) {
		t, err := s.store.GetTransaction(ctx, id)
		if err != nil {
			return nil, err
		}
		records, err := s.store.GetApprovals(ctx, id)
		if err != nil {
			return nil, err
		}
		return progressSnapshot{txn: t, progress: Aggregate(records, t.RequiredApprovals)}, nil
	})
	if err != nil {
		return failed(sanitize("get progress", err))
	}
	snap := v.(progressSnapshot)
	p := snap.progress
	return &Result{
		Success:       true,
		TransactionID: snap.txn.ID,
		Reference:     snap.txn.Reference,
		Status:        snap.txn.Status,
		Progress:      &p,
	}, nil
}

// TransactionView is a transaction with its approval set and progress.
type TransactionView struct {
	Transaction Transaction
	Approvals   []ApprovalRecord
	Progress    Progress
}

// View returns a transaction if actor may see it.
func (s *Service) View(ctx context.Context, id TransactionID, actor UserID) (*TransactionView, error) {
	u, err := s.store.GetUser(ctx, actor)
	if err != nil {
		return nil, sanitize("view", err)
	}
	t, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, sanitize("view", err)
	}
	records, err := s.store.GetApprovals(ctx, id)
	if err != nil {
		return nil, sanitize("view", err)
	}
	approvers := make([]UserID, len(records))
	for i, r := range records {
		approvers[i] = r.ApproverID
	}
	if !CanView(*u, *t, approvers) {
		// Indistinguishable from a missing transaction.
		return nil, notFound("transaction", id)
	}
	return &TransactionView{
		Transaction: *t,
		Approvals:   records,
		Progress:    Aggregate(records, t.RequiredApprovals),
	}, nil
}

// ListTransactions returns the transactions matching f that actor may see.
func (s *Service) ListTransactions(ctx context.Context, actor UserID, f TransactionFilter) ([]Transaction, error) {
	u, err := s.store.GetUser(ctx, actor)
	if err != nil {
		return nil, sanitize("list transactions", err)
	}
	scoped, ok := VisibleFilter(*u, f)
	if !ok {
		return []Transaction{}, nil
	}
	out, err := s.store.ListTransactions(ctx, scoped)
	return out, sanitize("list transactions", err)
}

// PendingItem is an approval awaiting the approver's decision.
type PendingItem struct {
	Approval    ApprovalRecord
	Transaction Transaction
}

// PendingApprovals lists the records approver can still decide. Records
// on transactions that are no longer PENDING are left out.
func (s *Service) PendingApprovals(ctx context.Context, approver UserID) ([]PendingItem, error) {
	records, err := s.store.PendingApprovals(ctx, approver)
	if err != nil {
		return nil, sanitize("pending approvals", err)
	}
	items := make([]PendingItem, 0, len(records))
	for _, r := range records {
		t, err := s.store.GetTransaction(ctx, r.TransactionID)
		if err != nil {
			return nil, sanitize("pending approvals", err)
		}
		if t.Status != StatusPending {
			continue
		}
		items = append(items, PendingItem{Approval: r, Transaction: *t})
	}
	return items, nil
}

// =============================================================================
// STALLED EXECUTIONS
// =============================================================================

// ListStalled returns transactions left APPROVED by a refused execution.
// Admin only.
func (s *Service) ListStalled(ctx context.Context, actor UserID) ([]Transaction, error) {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	out, err := s.store.ListTransactions(ctx, TransactionFilter{Status: StatusApproved})
	return out, sanitize("list stalled", err)
}

// RetryExecution re-runs the state machine on an APPROVED transaction and
// executes it if the balance now allows. Admin only.
func (s *Service) RetryExecution(ctx context.Context, id TransactionID, actor UserID) (*Result, error) {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return failed(err)
	}

	var (
		txn      Transaction
		progress Progress
		outcome  Outcome
	)
	err := s.store.WithTx(ctx, func(tx Tx) error {
		t, err := tx.LockTransaction(ctx, id)
		if err != nil {
			return err
		}
		if t.Status != StatusApproved {
			return &StateTransitionError{TransactionID: t.ID, From: t.Status, Operation: "retry execution of"}
		}
		records, err := tx.GetApprovals(ctx, t.ID)
		if err != nil {
			return err
		}
		progress = Aggregate(records, t.RequiredApprovals)
		outcome, err = s.machine.Advance(ctx, tx, t, progress, s.now())
		if err != nil {
			return err
		}
		txn = t.Clone()
		return nil
	})
	if err != nil {
		return failed(sanitize("retry execution", err))
	}
	s.afterAdvance(ctx, actor, txn, outcome)
	return s.advanceResult(txn, progress, outcome), nil
}

// =============================================================================
// AUDIT
// =============================================================================

// record hands an entry to the audit collaborator. Failures are logged and
// counted; the committed change stands.
func (s *Service) record(ctx context.Context, e AuditEntry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	if err := s.audit.LogAction(context.WithoutCancel(ctx), e); err != nil {
		s.metrics.RecordAuditFailure(string(e.Action))
		s.log.Warn("audit entry dropped",
			zap.String("action", string(e.Action)),
			zap.String("transaction_id", string(e.TransactionID)),
			zap.Error(err))
	}
}

// AuditTrail queries the audit log. Admin only.
func (s *Service) AuditTrail(ctx context.Context, actor UserID, f AuditFilter) ([]AuditEntry, error) {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	if s.auditLog == nil {
		return []AuditEntry{}, nil
	}
	out, err := s.auditLog.QueryAudit(ctx, f)
	return out, sanitize("audit trail", err)
}
