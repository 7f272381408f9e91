/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the wallet domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Transactions:
    CreateTransactionRequest, DecisionRequest, CancelRequest,
    TransactionDTO, ApprovalDTO, ProgressDTO, ResultDTO, TransactionDetailDTO

  Directory:
    CityRequest, UserRequest, AccountRequest, AccountDTO, UserDTO

  Roster:
    AssignmentRequest, AssignmentDTO, ApprovalConfigRequest, ApprovalConfigDTO

  Audit:
    AuditEntryDTO

  Scenarios:
    LoadScenarioRequest

VALIDATION:
  Request types carry validator tags. Shape checks happen here; business
  rules (roster size, balance, permissions) stay in the wallet package.

SEE ALSO:
  - handlers.go: Uses these types
  - validation.go: Validator setup
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/municipal-wallet/wallet"
)

// =============================================================================
// TRANSACTION REQUESTS
// =============================================================================

// CreateTransactionRequest is the body of POST /api/transactions.
// The creator is the caller named by X-User-ID.
type CreateTransactionRequest struct {
	Type           string         `json:"type" validate:"required,oneof=DEPOSIT WITHDRAWAL"`
	Amount         string         `json:"amount" validate:"required,positive_amount"`
	AccountID      string         `json:"account_id" validate:"required"`
	Description    string         `json:"description" validate:"max=1000"`
	DepositorName  string         `json:"depositor_name,omitempty" validate:"max=200"`
	DepositorPhone string         `json:"depositor_phone,omitempty" validate:"max=50"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type DecisionRequest struct {
	Action  string `json:"action" validate:"required,oneof=approve reject"`
	Comment string `json:"comment" validate:"max=1000"`
}

type CancelRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// =============================================================================
// TRANSACTION RESPONSES
// =============================================================================

type TransactionDTO struct {
	ID                string         `json:"id"`
	Type              string         `json:"type"`
	Amount            string         `json:"amount"`
	Status            string         `json:"status"`
	Reference         string         `json:"reference"`
	Description       string         `json:"description,omitempty"`
	AccountID         string         `json:"account_id"`
	CityID            string         `json:"city_id"`
	CreatedBy         string         `json:"created_by"`
	RequiredApprovals int            `json:"required_approvals"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	ExecutedAt        *time.Time     `json:"executed_at,omitempty"`
}

type ApprovalDTO struct {
	ID            string     `json:"id"`
	TransactionID string     `json:"transaction_id"`
	ApproverID    string     `json:"approver_id"`
	Status        string     `json:"status"`
	Comment       string     `json:"comment,omitempty"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
}

type ProgressDTO struct {
	Approved   int      `json:"approved"`
	Rejected   int      `json:"rejected"`
	Pending    int      `json:"pending"`
	Required   int      `json:"required"`
	Total      int      `json:"total"`
	Remaining  int      `json:"remaining"`
	IsComplete bool     `json:"is_complete"`
	IsRejected bool     `json:"is_rejected"`
	ApprovedBy []string `json:"approved_by"`
	RejectedBy []string `json:"rejected_by"`
	PendingFor []string `json:"pending_for"`
}

// ResultDTO is returned by every workflow operation, successful or not.
type ResultDTO struct {
	Success        bool         `json:"success"`
	TransactionID  string       `json:"transaction_id,omitempty"`
	Reference      string       `json:"reference,omitempty"`
	Status         string       `json:"status,omitempty"`
	Progress       *ProgressDTO `json:"progress,omitempty"`
	Executed       bool         `json:"executed,omitempty"`
	ExecutionError string       `json:"execution_error,omitempty"`
	Code           string       `json:"code,omitempty"`
	Message        string       `json:"message,omitempty"`
}

type TransactionDetailDTO struct {
	Transaction TransactionDTO `json:"transaction"`
	Approvals   []ApprovalDTO  `json:"approvals"`
	Progress    ProgressDTO    `json:"progress"`
}

type PendingApprovalDTO struct {
	Approval    ApprovalDTO    `json:"approval"`
	Transaction TransactionDTO `json:"transaction"`
}

// =============================================================================
// DIRECTORY
// =============================================================================

type CityRequest struct {
	ID      string `json:"id" validate:"required,max=64"`
	Name    string `json:"name" validate:"required,max=200"`
	Country string `json:"country" validate:"max=100"`
	Active  *bool  `json:"active"`
}

type UserRequest struct {
	ID       string `json:"id" validate:"required,max=64"`
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"full_name" validate:"required,max=200"`
	Role     string `json:"role" validate:"required,oneof=INITIATOR APPROVER_1 APPROVER_2 APPROVER_3 APPROVER_4 APPROVER_5 ADMIN"`
	CityID   string `json:"city_id"`
	Active   *bool  `json:"active"`
}

type UserDTO struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
	CityID   string `json:"city_id,omitempty"`
	Active   bool   `json:"active"`
}

type AccountRequest struct {
	ID       string `json:"id" validate:"required,max=64"`
	CityID   string `json:"city_id" validate:"required"`
	Name     string `json:"name" validate:"required,max=200"`
	Balance  string `json:"balance" validate:"nonnegative_amount"`
	Currency string `json:"currency" validate:"omitempty,len=3"`
	Active   *bool  `json:"active"`
}

type AccountDTO struct {
	ID        string    `json:"id"`
	CityID    string    `json:"city_id"`
	Name      string    `json:"name"`
	Balance   string    `json:"balance"`
	Currency  string    `json:"currency"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updated_at"`
}

// =============================================================================
// ROSTER CONFIGURATION
// =============================================================================

type AssignmentRequest struct {
	TransactionType string `json:"transaction_type" validate:"required,oneof=DEPOSIT WITHDRAWAL"`
	ApproverID      string `json:"approver_id" validate:"required"`
	Active          *bool  `json:"active"`
}

type AssignmentDTO struct {
	TransactionType string    `json:"transaction_type"`
	ApproverID      string    `json:"approver_id"`
	Active          bool      `json:"active"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type ApprovalConfigRequest struct {
	RequiredApprovals int   `json:"required_approvals" validate:"required,min=1,max=100"`
	Active            *bool `json:"active"`
}

type ApprovalConfigDTO struct {
	TransactionType   string `json:"transaction_type"`
	RequiredApprovals int    `json:"required_approvals"`
	Active            bool   `json:"active"`
}

// =============================================================================
// AUDIT AND SCENARIOS
// =============================================================================

type AuditEntryDTO struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	ActorID       string         `json:"actor_id"`
	Action        string         `json:"action"`
	Description   string         `json:"description"`
	TransactionID string         `json:"transaction_id,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the body of every non-workflow error.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func ids[T ~string](in []T) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

func toTransactionDTO(t wallet.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:                string(t.ID),
		Type:              string(t.Type),
		Amount:            t.Amount.StringFixed(2),
		Status:            string(t.Status),
		Reference:         t.Reference,
		Description:       t.Description,
		AccountID:         string(t.AccountID),
		CityID:            string(t.CityID),
		CreatedBy:         string(t.CreatedBy),
		RequiredApprovals: t.RequiredApprovals,
		Metadata:          t.Metadata,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
		ExecutedAt:        t.ExecutedAt,
	}
}

func toTransactionDTOs(in []wallet.Transaction) []TransactionDTO {
	out := make([]TransactionDTO, len(in))
	for i, t := range in {
		out[i] = toTransactionDTO(t)
	}
	return out
}

func toApprovalDTO(r wallet.ApprovalRecord) ApprovalDTO {
	return ApprovalDTO{
		ID:            string(r.ID),
		TransactionID: string(r.TransactionID),
		ApproverID:    string(r.ApproverID),
		Status:        string(r.Status),
		Comment:       r.Comment,
		DecidedAt:     r.DecidedAt,
	}
}

func toProgressDTO(p wallet.Progress) ProgressDTO {
	return ProgressDTO{
		Approved:   p.Approved,
		Rejected:   p.Rejected,
		Pending:    p.Pending,
		Required:   p.Required,
		Total:      p.Total,
		Remaining:  p.Remaining(),
		IsComplete: p.IsComplete,
		IsRejected: p.IsRejected,
		ApprovedBy: ids(p.ApprovedBy),
		RejectedBy: ids(p.RejectedBy),
		PendingFor: ids(p.PendingFor),
	}
}

func toResultDTO(r *wallet.Result) ResultDTO {
	dto := ResultDTO{
		Success:        r.Success,
		TransactionID:  string(r.TransactionID),
		Reference:      r.Reference,
		Status:         string(r.Status),
		Executed:       r.Executed,
		ExecutionError: r.ExecutionError,
		Code:           r.Code,
		Message:        r.Message,
	}
	if r.Progress != nil {
		p := toProgressDTO(*r.Progress)
		dto.Progress = &p
	}
	return dto
}

func toUserDTO(u wallet.User) UserDTO {
	return UserDTO{
		ID:       string(u.ID),
		Email:    u.Email,
		FullName: u.FullName,
		Role:     string(u.Role),
		CityID:   string(u.CityID),
		Active:   u.Active,
	}
}

func toAccountDTO(a wallet.Account) AccountDTO {
	return AccountDTO{
		ID:        string(a.ID),
		CityID:    string(a.CityID),
		Name:      a.Name,
		Balance:   a.Balance.StringFixed(2),
		Currency:  a.Currency,
		Active:    a.Active,
		UpdatedAt: a.UpdatedAt,
	}
}

func toAuditEntryDTO(e wallet.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:            e.ID,
		Timestamp:     e.Timestamp,
		ActorID:       string(e.ActorID),
		Action:        string(e.Action),
		Description:   e.Description,
		TransactionID: string(e.TransactionID),
		Details:       e.Details,
	}
}

// parseAmount reads an amount already checked by the validator.
func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &wallet.ValidationError{Field: "amount", Message: "not a decimal number"}
	}
	return d, nil
}
