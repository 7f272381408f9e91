package wallet_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/municipal-wallet/wallet"
	"github.com/warp/municipal-wallet/wallet/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	cityID    = wallet.CityID("city-1")
	accountID = wallet.AccountID("acct-1")
	initiator = wallet.UserID("initiator")
	admin     = wallet.UserID("admin")
)

type fixture struct {
	ctx   context.Context
	store *store.Memory
	svc   *wallet.Service
}

func approverID(i int) wallet.UserID {
	return wallet.UserID(fmt.Sprintf("approver-%d", i))
}

// newFixture seeds one city, one account holding balance, an initiator, an
// admin and n approvers.
func newFixture(t *testing.T, approvers int, balance string) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()

	require.NoError(t, mem.SaveCity(ctx, wallet.City{ID: cityID, Name: "Springfield", Active: true}))
	require.NoError(t, mem.SaveAccount(ctx, wallet.Account{
		ID: accountID, CityID: cityID, Name: "General Fund",
		Balance: decimal.RequireFromString(balance), Currency: "USD", Active: true,
	}))
	require.NoError(t, mem.SaveUser(ctx, wallet.NewUser(initiator, "init@city.gov", "Ina Initiator", wallet.RoleInitiator, cityID, true)))
	require.NoError(t, mem.SaveUser(ctx, wallet.NewUser(admin, "admin@city.gov", "Ada Admin", wallet.RoleAdmin, "", true)))
	roles := []wallet.Role{wallet.RoleApprover1, wallet.RoleApprover2, wallet.RoleApprover3, wallet.RoleApprover4, wallet.RoleApprover5}
	for i := 1; i <= approvers; i++ {
		u := wallet.NewUser(approverID(i), "", "", roles[(i-1)%len(roles)], cityID, true)
		require.NoError(t, mem.SaveUser(ctx, u))
	}

	return &fixture{ctx: ctx, store: mem, svc: wallet.NewService(mem, wallet.ServiceConfig{AuditLog: mem})}
}

func (f *fixture) create(t *testing.T, typ wallet.TransactionType, amount string) *wallet.Result {
	t.Helper()
	res, err := f.svc.CreateTransaction(f.ctx, wallet.CreateInput{
		Type:        typ,
		Amount:      decimal.RequireFromString(amount),
		AccountID:   accountID,
		CreatorID:   initiator,
		Description: "test " + string(typ),
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	return res
}

func (f *fixture) decide(id wallet.TransactionID, approver wallet.UserID, action wallet.Action) (*wallet.Result, error) {
	return f.svc.Decide(f.ctx, wallet.DecideInput{TransactionID: id, ApproverID: approver, Action: action})
}

func (f *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	a, err := f.store.GetAccount(f.ctx, accountID)
	require.NoError(t, err)
	return a.Balance
}

func (f *fixture) transaction(t *testing.T, id wallet.TransactionID) *wallet.Transaction {
	t.Helper()
	txn, err := f.store.GetTransaction(f.ctx, id)
	require.NoError(t, err)
	return txn
}

func mustAmount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertBalance(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "balance: want %s, got %s", want, got)
}

// =============================================================================
// CREATION
// =============================================================================

func TestCreateTransaction_ApprovalSetMatchesRequired(t *testing.T) {
	f := newFixture(t, 6, "1000.00")

	dep := f.create(t, wallet.TypeDeposit, "10.00")
	wth := f.create(t, wallet.TypeWithdrawal, "10.00")

	depRecords, err := f.store.GetApprovals(f.ctx, dep.TransactionID)
	require.NoError(t, err)
	wthRecords, err := f.store.GetApprovals(f.ctx, wth.TransactionID)
	require.NoError(t, err)

	assert.Len(t, depRecords, 3)
	assert.Len(t, wthRecords, 5)
	for _, r := range append(depRecords, wthRecords...) {
		assert.Equal(t, wallet.ApprovalPending, r.Status)
	}
	assert.Equal(t, "DEP-000001", dep.Reference)
	assert.Equal(t, "WTH-000001", wth.Reference)
	assert.Equal(t, wallet.StatusPending, dep.Status)
	assert.Equal(t, 3, dep.Progress.Pending)
}

func TestCreateTransaction_ReferencesArePerType(t *testing.T) {
	f := newFixture(t, 5, "1000.00")

	f.create(t, wallet.TypeDeposit, "1.00")
	second := f.create(t, wallet.TypeDeposit, "2.00")
	f.create(t, wallet.TypeWithdrawal, "3.00")

	assert.Equal(t, "DEP-000002", second.Reference)
}

func TestCreateTransaction_Validation(t *testing.T) {
	f := newFixture(t, 5, "1000.00")

	cases := map[string]wallet.CreateInput{
		"zero amount":     {Type: wallet.TypeDeposit, Amount: decimal.Zero, AccountID: accountID, CreatorID: initiator},
		"negative amount": {Type: wallet.TypeDeposit, Amount: decimal.RequireFromString("-5"), AccountID: accountID, CreatorID: initiator},
		"three decimals":  {Type: wallet.TypeDeposit, Amount: decimal.RequireFromString("1.005"), AccountID: accountID, CreatorID: initiator},
		"unknown type":    {Type: "TRANSFER", Amount: decimal.NewFromInt(1), AccountID: accountID, CreatorID: initiator},
		"missing account": {Type: wallet.TypeDeposit, Amount: decimal.NewFromInt(1), CreatorID: initiator},
		"reserved key": {Type: wallet.TypeDeposit, Amount: decimal.NewFromInt(1), AccountID: accountID, CreatorID: initiator,
			Metadata: map[string]any{wallet.MetaExecutionError: "x"}},
		"depositor on withdrawal": {Type: wallet.TypeWithdrawal, Amount: decimal.NewFromInt(1), AccountID: accountID,
			CreatorID: initiator, DepositorName: "Bob"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			res, err := f.svc.CreateTransaction(f.ctx, in)
			assert.ErrorIs(t, err, wallet.ErrValidation)
			assert.False(t, res.Success)
			assert.Equal(t, wallet.CodeValidation, res.Code)
		})
	}

	all, err := f.store.ListTransactions(f.ctx, wallet.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, all, "no record is created on validation failure")
}

func TestCreateTransaction_OnlyInitiators(t *testing.T) {
	f := newFixture(t, 5, "1000.00")

	_, err := f.svc.CreateTransaction(f.ctx, wallet.CreateInput{
		Type: wallet.TypeDeposit, Amount: decimal.NewFromInt(1), AccountID: accountID, CreatorID: approverID(1),
	})
	assert.ErrorIs(t, err, wallet.ErrForbidden)
}

func TestCreateTransaction_InsufficientApproversIsAtomic(t *testing.T) {
	// GIVEN: Only 3 approvers, withdrawals need 5
	// WHEN: A withdrawal is created
	// THEN: InsufficientApprovers, and neither a transaction nor records exist
	f := newFixture(t, 3, "1000.00")

	res, err := f.svc.CreateTransaction(f.ctx, wallet.CreateInput{
		Type: wallet.TypeWithdrawal, Amount: decimal.NewFromInt(10), AccountID: accountID, CreatorID: initiator,
	})
	var short *wallet.InsufficientApproversError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, 5, short.Required)
	assert.Equal(t, 3, short.Found)
	assert.Equal(t, wallet.CodeInsufficientApprovers, res.Code)

	all, err := f.store.ListTransactions(f.ctx, wallet.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
	pending, err := f.store.PendingApprovals(f.ctx, approverID(1))
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Once the threshold fits the roster, numbering starts at 1.
	_, err = f.svc.SetApprovalConfig(f.ctx, admin, wallet.TypeWithdrawal, 3, true)
	require.NoError(t, err)
	assert.Equal(t, "WTH-000001", f.create(t, wallet.TypeWithdrawal, "1.00").Reference)
}

func TestCreateTransaction_SnapshotsRoster(t *testing.T) {
	// GIVEN: A deposit created under the default threshold
	// WHEN: The configuration changes afterwards
	// THEN: The existing transaction keeps its set and threshold
	f := newFixture(t, 5, "1000.00")
	res := f.create(t, wallet.TypeDeposit, "10.00")

	_, err := f.svc.SetApprovalConfig(f.ctx, admin, wallet.TypeDeposit, 1, true)
	require.NoError(t, err)

	_, err = f.decide(res.TransactionID, approverID(1), wallet.ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, wallet.StatusPending, f.transaction(t, res.TransactionID).Status)

	next := f.create(t, wallet.TypeDeposit, "10.00")
	records, err := f.store.GetApprovals(f.ctx, next.TransactionID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestCreateTransaction_DepositorDetails(t *testing.T) {
	f := newFixture(t, 5, "1000.00")

	res, err := f.svc.CreateTransaction(f.ctx, wallet.CreateInput{
		Type: wallet.TypeDeposit, Amount: decimal.NewFromInt(10), AccountID: accountID, CreatorID: initiator,
		DepositorName: "Jane Citizen", DepositorPhone: "+1-555-0100",
		Metadata: map[string]any{"source": "counter"},
	})
	require.NoError(t, err)

	txn := f.transaction(t, res.TransactionID)
	assert.Equal(t, "Jane Citizen", txn.Metadata[wallet.MetaDepositorName])
	assert.Equal(t, "+1-555-0100", txn.Metadata[wallet.MetaDepositorPhone])
	assert.Equal(t, "counter", txn.Metadata["source"])
	assert.Equal(t, cityID, txn.CityID)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenarioA_DepositExecutesOnce(t *testing.T) {
	// GIVEN: A deposit of 100.00 requiring 3 approvals
	f := newFixture(t, 3, "1000.00")
	res := f.create(t, wallet.TypeDeposit, "100.00")

	// WHEN: Two approvals are recorded
	for i := 1; i <= 2; i++ {
		r, err := f.decide(res.TransactionID, approverID(i), wallet.ActionApprove)
		require.NoError(t, err)
		assert.Equal(t, wallet.StatusPending, r.Status)
		assert.False(t, r.Executed)
	}
	// THEN: Still pending, balance unchanged
	assertBalance(t, "1000.00", f.balance(t))

	// WHEN: The third approval arrives
	r, err := f.decide(res.TransactionID, approverID(3), wallet.ActionApprove)
	require.NoError(t, err)

	// THEN: Executed, balance up by exactly 100.00
	assert.Equal(t, wallet.StatusExecuted, r.Status)
	assert.True(t, r.Executed)
	assert.Equal(t, 3, r.Progress.Approved)
	assertBalance(t, "1100.00", f.balance(t))

	txn := f.transaction(t, res.TransactionID)
	assert.Equal(t, wallet.StatusExecuted, txn.Status)
	require.NotNil(t, txn.ExecutedAt)

	// Re-running retry on a terminal transaction changes nothing.
	_, err = f.svc.RetryExecution(f.ctx, res.TransactionID, admin)
	assert.ErrorIs(t, err, wallet.ErrInvalidStateTransition)
	assertBalance(t, "1100.00", f.balance(t))
}

func TestScenarioB_WithdrawalStallsWhenBalanceShort(t *testing.T) {
	// GIVEN: A withdrawal of 50.00 approved by four of five approvers while
	// the account could cover it
	f := newFixture(t, 5, "80.00")
	res := f.create(t, wallet.TypeWithdrawal, "50.00")
	for i := 1; i <= 4; i++ {
		_, err := f.decide(res.TransactionID, approverID(i), wallet.ActionApprove)
		require.NoError(t, err)
	}

	// AND: The balance is drained to 30.00 by another withdrawal
	drain(t, f, "50.00")
	assertBalance(t, "30.00", f.balance(t))

	// WHEN: The final approval arrives
	r, err := f.decide(res.TransactionID, approverID(5), wallet.ActionApprove)

	// THEN: The decision is accepted, execution fails, status stays APPROVED
	require.NoError(t, err)
	assert.True(t, r.Success)
	assert.False(t, r.Executed)
	assert.Equal(t, wallet.StatusApproved, r.Status)
	assert.Equal(t, wallet.CodeInsufficientBalance, r.Code)
	assertBalance(t, "30.00", f.balance(t))

	txn := f.transaction(t, res.TransactionID)
	assert.Equal(t, wallet.StatusApproved, txn.Status)
	assert.Contains(t, txn.Metadata[wallet.MetaExecutionError], "insufficient balance")
	assert.Equal(t, 1, txn.ExecutionAttempts())

	// The transaction is listed as stalled.
	stalled, err := f.svc.ListStalled(f.ctx, admin)
	require.NoError(t, err)
	require.Len(t, stalled, 1)
	assert.Equal(t, res.TransactionID, stalled[0].ID)

	// Retrying without funds fails again and counts the attempt.
	r, err = f.svc.RetryExecution(f.ctx, res.TransactionID, admin)
	require.NoError(t, err)
	assert.False(t, r.Executed)
	assert.Equal(t, 2, f.transaction(t, res.TransactionID).ExecutionAttempts())

	// A deposit tops the account up; the retry then executes exactly once.
	topUp(t, f, "100.00")
	r, err = f.svc.RetryExecution(f.ctx, res.TransactionID, admin)
	require.NoError(t, err)
	assert.True(t, r.Executed)
	assert.Equal(t, wallet.StatusExecuted, r.Status)
	assertBalance(t, "80.00", f.balance(t))
	assert.NotContains(t, f.transaction(t, res.TransactionID).Metadata, wallet.MetaExecutionError)
}

// drain runs a withdrawal through all five approvals.
func drain(t *testing.T, f *fixture, amount string) {
	t.Helper()
	res := f.create(t, wallet.TypeWithdrawal, amount)
	var last *wallet.Result
	for i := 1; i <= 5; i++ {
		r, err := f.decide(res.TransactionID, approverID(i), wallet.ActionApprove)
		require.NoError(t, err)
		last = r
	}
	require.True(t, last.Executed)
}

// topUp runs a deposit through three approvals.
func topUp(t *testing.T, f *fixture, amount string) {
	t.Helper()
	res := f.create(t, wallet.TypeDeposit, amount)
	for i := 1; i <= 3; i++ {
		_, err := f.decide(res.TransactionID, approverID(i), wallet.ActionApprove)
		require.NoError(t, err)
	}
}

func TestScenarioC_SingleRejectionIsTerminal(t *testing.T) {
	// GIVEN: A withdrawal needing 5 approvals, 2 already approved
	f := newFixture(t, 5, "1000.00")
	res := f.create(t, wallet.TypeWithdrawal, "100.00")
	for i := 1; i <= 2; i++ {
		_, err := f.decide(res.TransactionID, approverID(i), wallet.ActionApprove)
		require.NoError(t, err)
	}

	// WHEN: A third approver rejects
	r, err := f.decide(res.TransactionID, approverID(3), wallet.ActionReject)
	require.NoError(t, err)

	// THEN: Rejected, balance unchanged, other records stay PENDING
	assert.Equal(t, wallet.StatusRejected, r.Status)
	assert.Equal(t, 1, r.Progress.Rejected)
	assertBalance(t, "1000.00", f.balance(t))

	records, err := f.store.GetApprovals(f.ctx, res.TransactionID)
	require.NoError(t, err)
	pending := 0
	for _, rec := range records {
		if rec.IsPending() {
			pending++
		}
	}
	assert.Equal(t, 2, pending)

	// Remaining approvers can no longer decide.
	_, err = f.decide(res.TransactionID, approverID(4), wallet.ActionApprove)
	assert.ErrorIs(t, err, wallet.ErrInvalidStateTransition)

	// The rejecting approver gets AlreadyDecided.
	_, err = f.decide(res.TransactionID, approverID(3), wallet.ActionApprove)
	assert.ErrorIs(t, err, wallet.ErrAlreadyDecided)

	// Not listed as actionable anymore.
	items, err := f.svc.PendingApprovals(f.ctx, approverID(4))
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestScenarioD_CancelledTransactionIsUndecidable(t *testing.T) {
	f := newFixture(t, 3, "1000.00")
	res := f.create(t, wallet.TypeDeposit, "100.00")
	_, err := f.decide(res.TransactionID, approverID(1), wallet.ActionApprove)
	require.NoError(t, err)

	r, err := f.svc.Cancel(f.ctx, res.TransactionID, initiator, "entered twice")
	require.NoError(t, err)
	assert.Equal(t, wallet.StatusCancelled, r.Status)

	txn := f.transaction(t, res.TransactionID)
	assert.Equal(t, "entered twice", txn.Metadata[wallet.MetaCancellationReason])

	for i := 2; i <= 3; i++ {
		_, err := f.decide(res.TransactionID, approverID(i), wallet.ActionApprove)
		assert.ErrorIs(t, err, wallet.ErrInvalidStateTransition, "approver %d", i)
	}
	assertBalance(t, "1000.00", f.balance(t))

	// Cancelling again is refused.
	_, err = f.svc.Cancel(f.ctx, res.TransactionID, initiator, "")
	assert.ErrorIs(t, err, wallet.ErrInvalidStateTransition)
}

// =============================================================================
// DECISION CHECKS
// =============================================================================

func TestDecide_Errors(t *testing.T) {
	f := newFixture(t, 6, "1000.00")
	res := f.create(t, wallet.TypeDeposit, "10.00")

	_, err := f.decide("missing", approverID(1), wallet.ActionApprove)
	assert.ErrorIs(t, err, wallet.ErrNotFound)

	// approver-6 exists but holds no record (first 3 selected)
	_, err = f.decide(res.TransactionID, approverID(6), wallet.ActionApprove)
	assert.ErrorIs(t, err, wallet.ErrNotFound)

	r, err := f.decide(res.TransactionID, approverID(1), "maybe")
	assert.ErrorIs(t, err, wallet.ErrValidation)
	assert.Equal(t, wallet.CodeValidation, r.Code)

	_, err = f.decide(res.TransactionID, approverID(1), wallet.ActionApprove)
	require.NoError(t, err)
	r, err = f.decide(res.TransactionID, approverID(1), wallet.ActionApprove)
	assert.ErrorIs(t, err, wallet.ErrAlreadyDecided)
	assert.Equal(t, wallet.CodeAlreadyDecided, r.Code)
}

func TestDecide_DeactivatedApproverIsForbidden(t *testing.T) {
	f := newFixture(t, 3, "1000.00")
	res := f.create(t, wallet.TypeDeposit, "10.00")

	require.NoError(t, f.store.SaveUser(f.ctx, wallet.NewUser(approverID(2), "", "", wallet.RoleApprover2, cityID, false)))

	_, err := f.decide(res.TransactionID, approverID(2), wallet.ActionApprove)
	assert.ErrorIs(t, err, wallet.ErrForbidden)
}

func TestDecide_WithdrawalPreCheck(t *testing.T) {
	// GIVEN: A withdrawal larger than the balance
	// WHEN: An approver approves before the set is complete
	// THEN: InsufficientBalance and nothing recorded; rejecting still works
	f := newFixture(t, 5, "30.00")
	res := f.create(t, wallet.TypeWithdrawal, "50.00")

	r, err := f.decide(res.TransactionID, approverID(1), wallet.ActionApprove)
	var short *wallet.InsufficientBalanceError
	require.ErrorAs(t, err, &short)
	assertBalance(t, "30.00", short.Available)
	assert.Equal(t, wallet.CodeInsufficientBalance, r.Code)

	p, err := f.svc.GetProgress(f.ctx, res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Progress.Approved)
	assert.Equal(t, 5, p.Progress.Pending)

	r, err = f.decide(res.TransactionID, approverID(1), wallet.ActionReject)
	require.NoError(t, err)
	assert.Equal(t, wallet.StatusRejected, r.Status)
}

func TestGetProgress(t *testing.T) {
	f := newFixture(t, 3, "1000.00")
	res := f.create(t, wallet.TypeDeposit, "10.00")
	_, err := f.decide(res.TransactionID, approverID(2), wallet.ActionApprove)
	require.NoError(t, err)

	p, err := f.svc.GetProgress(f.ctx, res.TransactionID)
	require.NoError(t, err)

	assert.Equal(t, 1, p.Progress.Approved)
	assert.Equal(t, 2, p.Progress.Pending)
	assert.Equal(t, 3, p.Progress.Required)
	assert.False(t, p.Progress.IsComplete)
	assert.Equal(t, []wallet.UserID{approverID(2)}, p.Progress.ApprovedBy)

	_, err = f.svc.GetProgress(f.ctx, "missing")
	assert.ErrorIs(t, err, wallet.ErrNotFound)
}

// =============================================================================
// CANCEL AND VISIBILITY
// =============================================================================

func TestCancel_Permissions(t *testing.T) {
	f := newFixture(t, 3, "1000.00")
	res := f.create(t, wallet.TypeDeposit, "10.00")

	_, err := f.svc.Cancel(f.ctx, res.TransactionID, approverID(1), "")
	assert.ErrorIs(t, err, wallet.ErrForbidden)

	r, err := f.svc.Cancel(f.ctx, res.TransactionID, admin, "duplicate")
	require.NoError(t, err)
	assert.Equal(t, wallet.StatusCancelled, r.Status)
	assert.Equal(t, string(admin), f.transaction(t, res.TransactionID).Metadata[wallet.MetaCancelledBy])
}

func TestCancel_ExecutedIsRefused(t *testing.T) {
	f := newFixture(t, 3, "1000.00")
	res := f.create(t, wallet.TypeDeposit, "10.00")
	for i := 1; i <= 3; i++ {
		_, err := f.decide(res.TransactionID, approverID(i), wallet.ActionApprove)
		require.NoError(t, err)
	}

	_, err := f.svc.Cancel(f.ctx, res.TransactionID, admin, "too late")
	assert.ErrorIs(t, err, wallet.ErrInvalidStateTransition)
	assertBalance(t, "1010.00", f.balance(t))
}

func TestView_And_List_Visibility(t *testing.T) {
	f := newFixture(t, 4, "1000.00")
	res := f.create(t, wallet.TypeDeposit, "10.00")

	// approver-4 holds no record (first 3 selected)
	_, err := f.svc.View(f.ctx, res.TransactionID, approverID(4))
	assert.ErrorIs(t, err, wallet.ErrNotFound)

	view, err := f.svc.View(f.ctx, res.TransactionID, approverID(1))
	require.NoError(t, err)
	assert.Len(t, view.Approvals, 3)

	list, err := f.svc.ListTransactions(f.ctx, approverID(4), wallet.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = f.svc.ListTransactions(f.ctx, initiator, wallet.TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	items, err := f.svc.PendingApprovals(f.ctx, approverID(1))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, res.TransactionID, items[0].Transaction.ID)
}

// =============================================================================
// ADMINISTRATION
// =============================================================================

func TestSyncApprovalConfig(t *testing.T) {
	f := newFixture(t, 5, "1000.00")

	for i := 1; i <= 2; i++ {
		require.NoError(t, f.svc.AssignApprover(f.ctx, admin, wallet.TypeWithdrawal, approverID(i), true))
	}

	cfg, err := f.svc.SyncApprovalConfig(f.ctx, admin, wallet.TypeWithdrawal)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.RequiredApprovals)

	res := f.create(t, wallet.TypeWithdrawal, "10.00")
	records, err := f.store.GetApprovals(f.ctx, res.TransactionID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.ElementsMatch(t, []wallet.UserID{approverID(1), approverID(2)},
		[]wallet.UserID{records[0].ApproverID, records[1].ApproverID})

	_, err = f.svc.SyncApprovalConfig(f.ctx, admin, wallet.TypeDeposit)
	assert.ErrorIs(t, err, wallet.ErrValidation)

	_, err = f.svc.SyncApprovalConfig(f.ctx, initiator, wallet.TypeWithdrawal)
	assert.ErrorIs(t, err, wallet.ErrForbidden)
}

func TestAdmin_SaveAccountKeepsBalance(t *testing.T) {
	f := newFixture(t, 3, "1000.00")

	err := f.svc.SaveAccount(f.ctx, admin, wallet.Account{
		ID: accountID, CityID: cityID, Name: "Renamed", Balance: decimal.NewFromInt(5), Active: true,
	})
	require.NoError(t, err)

	a, err := f.store.GetAccount(f.ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", a.Name)
	assertBalance(t, "1000.00", a.Balance)
}

func TestAdmin_AuditTrail(t *testing.T) {
	f := newFixture(t, 3, "1000.00")
	res := f.create(t, wallet.TypeDeposit, "10.00")

	audited := wallet.NewService(f.store, wallet.ServiceConfig{Audit: auditToStore{f.store}, AuditLog: f.store})
	_, err := audited.Decide(f.ctx, wallet.DecideInput{TransactionID: res.TransactionID, ApproverID: approverID(1), Action: wallet.ActionApprove})
	require.NoError(t, err)

	entries, err := audited.AuditTrail(f.ctx, admin, wallet.AuditFilter{TransactionID: res.TransactionID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, wallet.AuditDepositApproved, entries[0].Action)

	_, err = audited.AuditTrail(f.ctx, initiator, wallet.AuditFilter{})
	assert.ErrorIs(t, err, wallet.ErrForbidden)
}

type auditToStore struct{ log wallet.AuditLog }

func (a auditToStore) LogAction(ctx context.Context, e wallet.AuditEntry) error {
	return a.log.AppendAudit(ctx, e)
}

func TestService_ClockIsUsed(t *testing.T) {
	f := newFixture(t, 3, "1000.00")
	fixed := time.Date(2025, 7, 4, 12, 0, 0, 0, time.UTC)
	svc := wallet.NewService(f.store, wallet.ServiceConfig{Clock: func() time.Time { return fixed }})

	res, err := svc.CreateTransaction(f.ctx, wallet.CreateInput{
		Type: wallet.TypeDeposit, Amount: decimal.NewFromInt(1), AccountID: accountID, CreatorID: initiator,
	})
	require.NoError(t, err)
	assert.True(t, fixed.Equal(f.transaction(t, res.TransactionID).CreatedAt))
}
