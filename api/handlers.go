/*
handlers.go - HTTP API handlers for the municipal wallet

PURPOSE:
  Exposes the approval workflow via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to wallet.Service.

ENDPOINTS:
  Transactions:
    POST   /api/transactions                 Create deposit or withdrawal
    GET    /api/transactions                 List visible transactions
    GET    /api/transactions/{id}            Transaction with approvals
    GET    /api/transactions/{id}/progress   Approval progress
    POST   /api/transactions/{id}/decision   Approve or reject
    POST   /api/transactions/{id}/cancel     Cancel a pending transaction
    POST   /api/transactions/{id}/retry      Re-run a stalled execution (admin)

  Approvals:
    GET    /api/approvals/pending            Caller's undecided approvals

  Accounts:
    GET    /api/accounts                     Accounts visible to the caller
    GET    /api/accounts/{id}                One account

  Admin:
    GET    /api/admin/users                  List users
    POST   /api/admin/users                  Create or update a user
    POST   /api/admin/cities                 Create or update a city
    POST   /api/admin/accounts               Create or update an account
    GET    /api/admin/assignments?type=      Roster assignments
    POST   /api/admin/assignments            Assign or unassign an approver
    GET    /api/admin/approval-configs       Effective thresholds
    PUT    /api/admin/approval-configs/{type}       Set threshold
    POST   /api/admin/approval-configs/{type}/sync  Threshold = assigned approvers
    GET    /api/admin/stalled                APPROVED transactions awaiting execution
    GET    /api/admin/audit                  Audit trail

IDENTITY:
  The caller is named by the X-User-ID header. Authentication happens in
  front of this service; the header is trusted.

SEE ALSO:
  - dto.go: Request/response data structures
  - errors.go: Status mapping
  - scenarios.go: Fixture loading
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/warp/municipal-wallet/logging"
	"github.com/warp/municipal-wallet/seed"
	"github.com/warp/municipal-wallet/wallet"
)

// UserHeader names the calling user.
const UserHeader = "X-User-ID"

const maxListLimit = 500

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *wallet.Service
	Loader  *seed.Loader

	log *logging.Logger

	mu              sync.RWMutex
	currentScenario string
}

// NewHandler creates a handler. loader may be nil to disable scenario loading.
func NewHandler(svc *wallet.Service, loader *seed.Loader, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Handler{Service: svc, Loader: loader, log: logger.Named("api")}
}

func (h *Handler) logRequestError(r *http.Request, err error) {
	h.log.Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err))
}

// =============================================================================
// IDENTITY
// =============================================================================

type actorKey struct{}

// RequireActor rejects requests without X-User-ID and stores the caller in
// the request context.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(UserHeader)
		if id == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", UserHeader+" header is required")
			return
		}
		ctx := context.WithValue(r.Context(), actorKey{}, wallet.UserID(id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorFrom(r *http.Request) wallet.UserID {
	id, _ := r.Context().Value(actorKey{}).(wallet.UserID)
	return id
}

func idParam(r *http.Request) wallet.TransactionID {
	return wallet.TransactionID(chi.URLParam(r, "id"))
}

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &wallet.ValidationError{Field: "limit", Message: "must be a non-negative integer"}
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// CreateTransaction opens a deposit or withdrawal.
// POST /api/transactions
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	res, err := h.Service.CreateTransaction(r.Context(), wallet.CreateInput{
		Type:           wallet.TransactionType(req.Type),
		Amount:         amount,
		AccountID:      wallet.AccountID(req.AccountID),
		CreatorID:      actorFrom(r),
		Description:    req.Description,
		DepositorName:  req.DepositorName,
		DepositorPhone: req.DepositorPhone,
		Metadata:       req.Metadata,
	})
	h.writeResult(w, r, http.StatusCreated, res, err)
}

// ListTransactions returns transactions the caller may see.
// GET /api/transactions?type=&status=&account_id=&city_id=&created_by=&approver_id=&limit=
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := wallet.TransactionFilter{
		Type:       wallet.TransactionType(q.Get("type")),
		Status:     wallet.TransactionStatus(q.Get("status")),
		AccountID:  wallet.AccountID(q.Get("account_id")),
		CityID:     wallet.CityID(q.Get("city_id")),
		CreatedBy:  wallet.UserID(q.Get("created_by")),
		ApproverID: wallet.UserID(q.Get("approver_id")),
	}
	if f.Type != "" && !f.Type.Valid() {
		h.writeServiceError(w, r, &wallet.ValidationError{Field: "type", Message: "unknown type " + string(f.Type)})
		return
	}
	if f.Status != "" && !f.Status.Valid() {
		h.writeServiceError(w, r, &wallet.ValidationError{Field: "status", Message: "unknown status " + string(f.Status)})
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	f.Limit = limit

	txs, err := h.Service.ListTransactions(r.Context(), actorFrom(r), f)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// GetTransaction returns a transaction with its approval set.
// GET /api/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	view, err := h.Service.View(r.Context(), idParam(r), actorFrom(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	approvals := make([]ApprovalDTO, len(view.Approvals))
	for i, a := range view.Approvals {
		approvals[i] = toApprovalDTO(a)
	}
	writeJSON(w, http.StatusOK, TransactionDetailDTO{
		Transaction: toTransactionDTO(view.Transaction),
		Approvals:   approvals,
		Progress:    toProgressDTO(view.Progress),
	})
}

// GetProgress reports approval progress. The caller must be able to see
// the transaction.
// GET /api/transactions/{id}/progress
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	id := idParam(r)
	if _, err := h.Service.View(r.Context(), id, actorFrom(r)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	res, err := h.Service.GetProgress(r.Context(), id)
	h.writeResult(w, r, http.StatusOK, res, err)
}

// Decide records the caller's approval or rejection.
// POST /api/transactions/{id}/decision
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	res, err := h.Service.Decide(r.Context(), wallet.DecideInput{
		TransactionID: idParam(r),
		ApproverID:    actorFrom(r),
		Action:        wallet.Action(req.Action),
		Comment:       req.Comment,
	})
	h.writeResult(w, r, http.StatusOK, res, err)
}

// Cancel withdraws a pending transaction.
// POST /api/transactions/{id}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	res, err := h.Service.Cancel(r.Context(), idParam(r), actorFrom(r), req.Reason)
	h.writeResult(w, r, http.StatusOK, res, err)
}

// RetryExecution re-drives an APPROVED transaction whose execution failed.
// POST /api/transactions/{id}/retry
func (h *Handler) RetryExecution(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.RetryExecution(r.Context(), idParam(r), actorFrom(r))
	h.writeResult(w, r, http.StatusOK, res, err)
}

// ListPendingApprovals returns the caller's undecided records.
// GET /api/approvals/pending
func (h *Handler) ListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	items, err := h.Service.PendingApprovals(r.Context(), actorFrom(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]PendingApprovalDTO, len(items))
	for i, it := range items {
		out[i] = PendingApprovalDTO{
			Approval:    toApprovalDTO(it.Approval),
			Transaction: toTransactionDTO(it.Transaction),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns accounts: all for admins, the caller's city otherwise.
// GET /api/accounts
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Service.ListAccounts(r.Context(), actorFrom(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		out[i] = toAccountDTO(a)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetAccount returns one account.
// GET /api/accounts/{id}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	a, err := h.Service.GetAccount(r.Context(), actorFrom(r), wallet.AccountID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(*a))
}
