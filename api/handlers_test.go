/*
handlers_test.go - HTTP tests for the wallet API

Tests for:
- Identity header handling
- Create, decide, cancel and progress through the router
- Error taxonomy to HTTP status mapping
- Admin routes and scenario loading
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/municipal-wallet/audit"
	metricsprom "github.com/warp/municipal-wallet/metrics/prometheus"
	"github.com/warp/municipal-wallet/seed"
	"github.com/warp/municipal-wallet/wallet"
	"github.com/warp/municipal-wallet/wallet/store"
)

const account = "springfield-general"

// newTestServer loads the standard-city scenario into a memory store and
// returns a router over it.
func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	mem := store.NewMemory()
	svc := wallet.NewService(mem, wallet.ServiceConfig{
		Audit:    audit.NewStoreSink(mem),
		AuditLog: mem,
	})
	loader := seed.NewLoader(mem, svc, nil)
	_, err := loader.LoadScenario(context.Background(), "standard-city")
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metricsprom.NewPrometheusCollector("test").MustRegister(reg)
	return NewRouter(NewHandler(svc, loader, nil), RouterConfig{Gatherer: reg})
}

func do(t *testing.T, h http.Handler, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func createDeposit(t *testing.T, h http.Handler, amount string) ResultDTO {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/transactions", "alice", CreateTransactionRequest{
		Type: "DEPOSIT", Amount: amount, AccountID: account, Description: "Permit fees",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[ResultDTO](t, rec)
}

func decide(t *testing.T, h http.Handler, id, approver, action string) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, h, http.MethodPost, "/api/transactions/"+id+"/decision", approver, DecisionRequest{Action: action})
}

// =============================================================================
// INFRASTRUCTURE ROUTES
// =============================================================================

func TestHealthz(t *testing.T) {
	h := newTestServer(t)
	rec := do(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t)
	rec := do(t, h, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}

func TestMissingUserHeader(t *testing.T) {
	h := newTestServer(t)
	rec := do(t, h, http.MethodGet, "/api/transactions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHENTICATED", decode[ErrorResponse](t, rec).Code)
}

// =============================================================================
// WORKFLOW
// =============================================================================

func TestCreateTransaction_Pending(t *testing.T) {
	h := newTestServer(t)

	res := createDeposit(t, h, "500.00")

	assert.True(t, res.Success)
	assert.Equal(t, "PENDING", res.Status)
	assert.Regexp(t, `^DEP-\d{6}$`, res.Reference)
	require.NotNil(t, res.Progress)
	assert.Equal(t, 3, res.Progress.Required)
	assert.Equal(t, 3, res.Progress.Pending)
}

func TestDepositApprovedAndExecuted(t *testing.T) {
	// GIVEN: A deposit of 500.00 needing three approvals
	// WHEN: The three selected approvers approve
	// THEN: The last approval executes it and the balance grows
	h := newTestServer(t)
	res := createDeposit(t, h, "500.00")

	for _, a := range []string{"approver-1", "approver-2"} {
		rec := decide(t, h, res.TransactionID, a, "approve")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "PENDING", decode[ResultDTO](t, rec).Status)
	}
	rec := decide(t, h, res.TransactionID, "approver-3", "approve")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	final := decode[ResultDTO](t, rec)
	assert.Equal(t, "EXECUTED", final.Status)
	assert.True(t, final.Executed)

	rec = do(t, h, http.MethodGet, "/api/accounts/"+account, "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "103000.00", decode[AccountDTO](t, rec).Balance)
}

func TestDecide_TwiceConflicts(t *testing.T) {
	h := newTestServer(t)
	res := createDeposit(t, h, "10.00")
	require.Equal(t, http.StatusOK, decide(t, h, res.TransactionID, "approver-1", "approve").Code)

	rec := decide(t, h, res.TransactionID, "approver-1", "reject")

	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decode[ResultDTO](t, rec)
	assert.False(t, body.Success)
	assert.Equal(t, wallet.CodeAlreadyDecided, body.Code)
}

func TestDecide_RejectIsTerminal(t *testing.T) {
	h := newTestServer(t)
	res := createDeposit(t, h, "10.00")

	rec := decide(t, h, res.TransactionID, "approver-2", "reject")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "REJECTED", decode[ResultDTO](t, rec).Status)

	rec = decide(t, h, res.TransactionID, "approver-1", "approve")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, wallet.CodeInvalidTransition, decode[ResultDTO](t, rec).Code)
}

func TestCancel_OnlyCreatorOrAdmin(t *testing.T) {
	h := newTestServer(t)
	res := createDeposit(t, h, "10.00")
	path := "/api/transactions/" + res.TransactionID + "/cancel"

	rec := do(t, h, http.MethodPost, path, "approver-1", CancelRequest{Reason: "not mine"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodPost, path, "alice", CancelRequest{Reason: "typo"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "CANCELLED", decode[ResultDTO](t, rec).Status)

	rec = do(t, h, http.MethodGet, "/api/transactions/"+res.TransactionID, "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[TransactionDetailDTO](t, rec)
	assert.Equal(t, "typo", detail.Transaction.Metadata[wallet.MetaCancellationReason])
}

func TestCancel_EmptyBodyAllowed(t *testing.T) {
	h := newTestServer(t)
	res := createDeposit(t, h, "10.00")

	req := httptest.NewRequest(http.MethodPost, "/api/transactions/"+res.TransactionID+"/cancel", nil)
	req.Header.Set(UserHeader, "admin")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestGetProgress(t *testing.T) {
	h := newTestServer(t)
	res := createDeposit(t, h, "10.00")
	require.Equal(t, http.StatusOK, decide(t, h, res.TransactionID, "approver-1", "approve").Code)

	rec := do(t, h, http.MethodGet, "/api/transactions/"+res.TransactionID+"/progress", "approver-2", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	p := decode[ResultDTO](t, rec).Progress
	require.NotNil(t, p)
	assert.Equal(t, 1, p.Approved)
	assert.Equal(t, 2, p.Remaining)
	assert.Equal(t, []string{"approver-1"}, p.ApprovedBy)
}

func TestGetTransaction_HiddenFromOutsiders(t *testing.T) {
	// GIVEN: A deposit whose roster is approver-1..3
	// WHEN: approver-5, who holds no record, asks for it
	// THEN: It looks missing
	h := newTestServer(t)
	res := createDeposit(t, h, "10.00")

	rec := do(t, h, http.MethodGet, "/api/transactions/"+res.TransactionID, "approver-5", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListPendingApprovals(t *testing.T) {
	h := newTestServer(t)
	createDeposit(t, h, "10.00")

	rec := do(t, h, http.MethodGet, "/api/approvals/pending", "approver-3", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	items := decode[[]PendingApprovalDTO](t, rec)
	// The scenario's pending withdrawal plus the new deposit.
	assert.Len(t, items, 2)
	for _, it := range items {
		assert.Equal(t, "approver-3", it.Approval.ApproverID)
		assert.Equal(t, "PENDING", it.Transaction.Status)
	}
}

func TestListTransactions_Filters(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/api/transactions?type=WITHDRAWAL", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	txs := decode[[]TransactionDTO](t, rec)
	assert.Len(t, txs, 2)

	rec = do(t, h, http.MethodGet, "/api/transactions?status=BOGUS", "admin", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestCreateTransaction_Validation(t *testing.T) {
	h := newTestServer(t)
	tests := []struct {
		name  string
		body  any
		field string
	}{
		{"negative amount", CreateTransactionRequest{Type: "DEPOSIT", Amount: "-5", AccountID: account}, "amount"},
		{"unknown type", CreateTransactionRequest{Type: "TRANSFER", Amount: "5", AccountID: account}, "type"},
		{"missing account", CreateTransactionRequest{Type: "DEPOSIT", Amount: "5"}, "account_id"},
		{"unknown field", map[string]any{"type": "DEPOSIT", "amount": "5", "account_id": account, "extra": 1}, "body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/transactions", "alice", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decode[ErrorResponse](t, rec)
			assert.Equal(t, wallet.CodeValidation, body.Code)
			assert.Contains(t, body.Error, tt.field)
		})
	}
}

func TestCreateTransaction_ApproverCannotCreate(t *testing.T) {
	h := newTestServer(t)
	rec := do(t, h, http.MethodPost, "/api/transactions", "approver-1", CreateTransactionRequest{
		Type: "DEPOSIT", Amount: "5.00", AccountID: account,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, wallet.CodeForbidden, decode[ResultDTO](t, rec).Code)
}

func TestStatusFor(t *testing.T) {
	tests := map[string]int{
		wallet.CodeValidation:            http.StatusBadRequest,
		wallet.CodeForbidden:             http.StatusForbidden,
		wallet.CodeNotFound:              http.StatusNotFound,
		wallet.CodeAlreadyDecided:        http.StatusConflict,
		wallet.CodeInvalidTransition:     http.StatusConflict,
		wallet.CodeInsufficientApprovers: http.StatusUnprocessableEntity,
		wallet.CodeInsufficientBalance:   http.StatusUnprocessableEntity,
		wallet.CodeInternal:              http.StatusInternalServerError,
	}
	for code, status := range tests {
		assert.Equal(t, status, statusFor(code), code)
	}
}

// =============================================================================
// ADMIN
// =============================================================================

func TestAdmin_ForbiddenForNonAdmins(t *testing.T) {
	h := newTestServer(t)
	rec := do(t, h, http.MethodGet, "/api/admin/users", "alice", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdmin_ApprovalConfigLowersThreshold(t *testing.T) {
	// GIVEN: The deposit threshold lowered to 1
	// WHEN: A new deposit is approved once
	// THEN: It executes
	h := newTestServer(t)
	rec := do(t, h, http.MethodPut, "/api/admin/approval-configs/deposit", "admin", ApprovalConfigRequest{RequiredApprovals: 1})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, ApprovalConfigDTO{TransactionType: "DEPOSIT", RequiredApprovals: 1, Active: true}, decode[ApprovalConfigDTO](t, rec))

	res := createDeposit(t, h, "20.00")
	require.Equal(t, 1, res.Progress.Required)

	rec = decide(t, h, res.TransactionID, "approver-1", "approve")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "EXECUTED", decode[ResultDTO](t, rec).Status)
}

func TestAdmin_CreateDirectoryEntries(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/api/admin/cities", "admin", CityRequest{ID: "capital", Name: "Capital City", Country: "US"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/admin/accounts", "admin", AccountRequest{
		ID: "capital-general", CityID: "capital", Name: "General", Balance: "250.50", Currency: "usd",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	acct := decode[AccountDTO](t, rec)
	assert.Equal(t, "250.50", acct.Balance)
	assert.Equal(t, "USD", acct.Currency)

	rec = do(t, h, http.MethodPost, "/api/admin/users", "admin", UserRequest{
		ID: "dana", Email: "dana@capital.gov", FullName: "Dana", Role: "INITIATOR", CityID: "capital",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/admin/users", "admin", UserRequest{
		ID: "eve", Email: "not-an-email", FullName: "Eve", Role: "INITIATOR",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmin_AssignmentsAndAudit(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/api/admin/assignments", "admin", AssignmentRequest{
		TransactionType: "WITHDRAWAL", ApproverID: "approver-4",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/admin/assignments?type=WITHDRAWAL", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assignments := decode[[]AssignmentDTO](t, rec)
	require.Len(t, assignments, 1)
	assert.Equal(t, "approver-4", assignments[0].ApproverID)

	rec = do(t, h, http.MethodGet, "/api/admin/audit?action=SYSTEM_ACTION&limit=1", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]AuditEntryDTO](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, "approver assignment saved", entries[0].Description)
}

func TestAdmin_Stalled(t *testing.T) {
	h := newTestServer(t)
	rec := do(t, h, http.MethodGet, "/api/admin/stalled", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]TransactionDTO](t, rec))
}
