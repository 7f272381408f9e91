package seed_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/municipal-wallet/seed"
	"github.com/warp/municipal-wallet/wallet"
	"github.com/warp/municipal-wallet/wallet/store"
)

func newLoader(t *testing.T) (*seed.Loader, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	svc := wallet.NewService(mem, wallet.ServiceConfig{AuditLog: mem})
	return seed.NewLoader(mem, svc, nil), mem
}

func balanceOf(t *testing.T, mem *store.Memory, id wallet.AccountID) string {
	t.Helper()
	a, err := mem.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return a.Balance.StringFixed(2)
}

func TestScenarios_Listed(t *testing.T) {
	list, err := seed.Scenarios()
	require.NoError(t, err)

	var ids []string
	for _, s := range list {
		ids = append(ids, s.ID)
		assert.NotEmpty(t, s.Name)
	}
	assert.Equal(t, []string{"low-balance-withdrawal", "standard-city", "understaffed-roster"}, ids)
}

func TestLookup_Unknown(t *testing.T) {
	_, err := seed.Lookup("atlantis")
	assert.ErrorIs(t, err, wallet.ErrNotFound)
}

func TestStandardCity(t *testing.T) {
	// GIVEN: The standard-city fixture
	// WHEN: It is loaded into an empty store
	// THEN: One deposit executed, one withdrawal pending, one rejected, one cancelled
	l, mem := newLoader(t)

	rep, err := l.LoadScenario(context.Background(), "standard-city")
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Cities)
	assert.Equal(t, 7, rep.Users)
	require.Len(t, rep.Transactions, 4)
	assert.Equal(t, "DEP-000001", rep.Transactions[0].Reference)
	assert.Equal(t, string(wallet.StatusExecuted), rep.Transactions[0].Status)
	assert.Equal(t, string(wallet.StatusPending), rep.Transactions[1].Status)
	assert.Equal(t, string(wallet.StatusRejected), rep.Transactions[2].Status)
	assert.Equal(t, string(wallet.StatusCancelled), rep.Transactions[3].Status)
	for _, tr := range rep.Transactions {
		assert.Empty(t, tr.Error)
	}

	assert.Equal(t, "102500.00", balanceOf(t, mem, "springfield-general"))
}

func TestUnderstaffedRoster(t *testing.T) {
	l, _ := newLoader(t)

	rep, err := l.LoadScenario(context.Background(), "understaffed-roster")
	require.NoError(t, err)

	require.Len(t, rep.Transactions, 2)
	assert.Equal(t, string(wallet.StatusPending), rep.Transactions[0].Status)
	assert.Equal(t, wallet.CodeInsufficientApprovers, rep.Transactions[1].Error)
	assert.Empty(t, rep.Transactions[1].Reference, "nothing was persisted")
}

func TestLowBalanceWithdrawal(t *testing.T) {
	// GIVEN: Two withdrawals of 400.00 and 300.00 against 500.00, each four approvals in
	// WHEN: Both receive their fifth approval
	// THEN: The first executes, the second stays APPROVED with an execution error
	l, mem := newLoader(t)

	rep, err := l.LoadScenario(context.Background(), "low-balance-withdrawal")
	require.NoError(t, err)

	require.Len(t, rep.Transactions, 2)
	assert.Equal(t, string(wallet.StatusExecuted), rep.Transactions[0].Status)
	assert.Equal(t, string(wallet.StatusApproved), rep.Transactions[1].Status)
	assert.NotEmpty(t, rep.Transactions[1].ExecutionError)
	assert.Equal(t, "100.00", balanceOf(t, mem, "ogdenville-general"))
}

func TestLoadScenario_ResetsStore(t *testing.T) {
	l, mem := newLoader(t)
	ctx := context.Background()

	_, err := l.LoadScenario(ctx, "standard-city")
	require.NoError(t, err)
	_, err = l.LoadScenario(ctx, "understaffed-roster")
	require.NoError(t, err)

	_, err = mem.GetCity(ctx, "springfield")
	assert.ErrorIs(t, err, wallet.ErrNotFound)
}

func TestApply_FileFixture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"id": "tiny",
		"cities": [{"id": "c", "name": "Capital City"}],
		"users": [
			{"id": "root", "role": "ADMIN"},
			{"id": "ini", "role": "INITIATOR", "city_id": "c"},
			{"id": "ap", "role": "APPROVER_1", "city_id": "c"}
		],
		"accounts": [{"id": "acct", "city_id": "c", "name": "Fund", "balance": "10.00"}],
		"approval_configs": [{"type": "DEPOSIT", "required_approvals": 1}],
		"transactions": [{
			"type": "DEPOSIT", "amount": "5.00", "account_id": "acct", "creator_id": "ini",
			"decisions": [{"approver_id": "ap", "action": "approve"}]
		}]
	}`), 0o600))

	f, err := seed.LoadFile(path)
	require.NoError(t, err)

	l, mem := newLoader(t)
	rep, err := l.Apply(context.Background(), f)
	require.NoError(t, err)

	assert.Equal(t, string(wallet.StatusExecuted), rep.Transactions[0].Status)
	assert.Equal(t, "15.00", balanceOf(t, mem, "acct"))
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := seed.Parse([]byte(`{"id": "x", "citizens": []}`))
	assert.Error(t, err)
}

func TestApply_RequiresAdmin(t *testing.T) {
	l, _ := newLoader(t)
	_, err := l.Apply(context.Background(), &seed.Fixture{ID: "no-admin"})
	assert.ErrorIs(t, err, wallet.ErrValidation)
}
