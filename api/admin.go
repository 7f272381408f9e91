package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/warp/municipal-wallet/wallet"
)

// =============================================================================
// DIRECTORY
// =============================================================================

// ListUsers returns every user.
// GET /api/admin/users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Service.ListUsers(r.Context(), actorFrom(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]UserDTO, len(users))
	for i, u := range users {
		out[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, out)
}

// SaveUser creates or updates a user.
// POST /api/admin/users
func (h *Handler) SaveUser(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	role, err := wallet.ParseRole(req.Role)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	u := wallet.NewUser(wallet.UserID(req.ID), strings.TrimSpace(req.Email), req.FullName, role,
		wallet.CityID(req.CityID), boolOr(req.Active, true))
	if err := h.Service.SaveUser(r.Context(), actorFrom(r), u); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(u))
}

// SaveCity creates or updates a city.
// POST /api/admin/cities
func (h *Handler) SaveCity(w http.ResponseWriter, r *http.Request) {
	var req CityRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	c := wallet.City{ID: wallet.CityID(req.ID), Name: req.Name, Country: req.Country, Active: boolOr(req.Active, true)}
	if err := h.Service.SaveCity(r.Context(), actorFrom(r), c); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": req.ID, "name": req.Name, "country": req.Country, "active": c.Active})
}

// SaveAccount creates an account or renames it. The balance only applies
// on creation.
// POST /api/admin/accounts
func (h *Handler) SaveAccount(w http.ResponseWriter, r *http.Request) {
	var req AccountRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	balance, err := parseAmount(req.Balance)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	ctx := r.Context()
	actor := actorFrom(r)
	a := wallet.Account{
		ID:       wallet.AccountID(req.ID),
		CityID:   wallet.CityID(req.CityID),
		Name:     req.Name,
		Balance:  balance,
		Currency: strings.ToUpper(req.Currency),
		Active:   boolOr(req.Active, true),
	}
	if err := h.Service.SaveAccount(ctx, actor, a); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	saved, err := h.Service.GetAccount(ctx, actor, a.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(*saved))
}

// =============================================================================
// ROSTER CONFIGURATION
// =============================================================================

// ListAssignments returns the roster assignments for a transaction type.
// GET /api/admin/assignments?type=DEPOSIT
func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	types := wallet.TransactionTypes
	if t := wallet.TransactionType(r.URL.Query().Get("type")); t != "" {
		if !t.Valid() {
			h.writeServiceError(w, r, &wallet.ValidationError{Field: "type", Message: "unknown type " + string(t)})
			return
		}
		types = []wallet.TransactionType{t}
	}

	out := []AssignmentDTO{}
	for _, t := range types {
		assignments, err := h.Service.ListAssignments(r.Context(), actorFrom(r), t)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		for _, a := range assignments {
			out = append(out, AssignmentDTO{
				TransactionType: string(a.Type),
				ApproverID:      string(a.ApproverID),
				Active:          a.Active,
				UpdatedAt:       a.UpdatedAt,
			})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// SaveAssignment puts an approver on or off a roster.
// POST /api/admin/assignments
func (h *Handler) SaveAssignment(w http.ResponseWriter, r *http.Request) {
	var req AssignmentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	active := boolOr(req.Active, true)
	err := h.Service.AssignApprover(r.Context(), actorFrom(r),
		wallet.TransactionType(req.TransactionType), wallet.UserID(req.ApproverID), active)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AssignmentDTO{
		TransactionType: req.TransactionType,
		ApproverID:      req.ApproverID,
		Active:          active,
	})
}

// ListApprovalConfigs returns the effective threshold per type.
// GET /api/admin/approval-configs
func (h *Handler) ListApprovalConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := h.Service.ApprovalConfigs(r.Context(), actorFrom(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]ApprovalConfigDTO, len(configs))
	for i, c := range configs {
		out[i] = toApprovalConfigDTO(c)
	}
	writeJSON(w, http.StatusOK, out)
}

// SetApprovalConfig sets the threshold for a type.
// PUT /api/admin/approval-configs/{type}
func (h *Handler) SetApprovalConfig(w http.ResponseWriter, r *http.Request) {
	var req ApprovalConfigRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	t := wallet.TransactionType(strings.ToUpper(chi.URLParam(r, "type")))
	cfg, err := h.Service.SetApprovalConfig(r.Context(), actorFrom(r), t, req.RequiredApprovals, boolOr(req.Active, true))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toApprovalConfigDTO(*cfg))
}

// SyncApprovalConfig sets the threshold to the number of assigned approvers.
// POST /api/admin/approval-configs/{type}/sync
func (h *Handler) SyncApprovalConfig(w http.ResponseWriter, r *http.Request) {
	t := wallet.TransactionType(strings.ToUpper(chi.URLParam(r, "type")))
	cfg, err := h.Service.SyncApprovalConfig(r.Context(), actorFrom(r), t)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toApprovalConfigDTO(*cfg))
}

func toApprovalConfigDTO(c wallet.ApprovalConfig) ApprovalConfigDTO {
	return ApprovalConfigDTO{
		TransactionType:   string(c.Type),
		RequiredApprovals: c.RequiredApprovals,
		Active:            c.Active,
	}
}

// =============================================================================
// OPERATIONS
// =============================================================================

// ListStalled returns transactions left APPROVED by a refused execution.
// GET /api/admin/stalled
func (h *Handler) ListStalled(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Service.ListStalled(r.Context(), actorFrom(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// AuditTrail queries the audit log, newest first.
// GET /api/admin/audit?actor_id=&transaction_id=&action=&limit=
func (h *Handler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := limitParam(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	f := wallet.AuditFilter{
		ActorID:       wallet.UserID(q.Get("actor_id")),
		TransactionID: wallet.TransactionID(q.Get("transaction_id")),
		Limit:         limit,
	}
	for _, a := range q["action"] {
		f.Actions = append(f.Actions, wallet.AuditAction(a))
	}

	entries, err := h.Service.AuditTrail(r.Context(), actorFrom(r), f)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = toAuditEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, out)
}
