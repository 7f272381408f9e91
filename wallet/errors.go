/*
errors.go - Error taxonomy for the approval engine

PURPOSE:
  All errors the engine returns to callers, in one place. Every operation
  fails with one of the sentinels below (possibly wrapped in a structured
  error carrying context), so callers can branch with errors.Is and the API
  layer can map them to HTTP statuses through CodeOf.

ERROR CATEGORIES:
  1. Client errors - validation, permissions, state conflicts, balance
  2. Lookup errors - unknown transaction, account, user, approval
  3. Internal errors - storage failures, wrapped as ErrInternal

SEE ALSO:
  - service.go: Wraps unexpected errors before returning
  - api/errors.go: HTTP status mapping
*/
package wallet

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input. No record is written.
	ErrValidation = errors.New("validation error")

	// ErrInsufficientApprovers is returned when the roster cannot be filled.
	ErrInsufficientApprovers = errors.New("insufficient approvers")

	// ErrNotFound is returned for unknown transactions, accounts, users or approvals.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyDecided is returned when an approver decides twice.
	ErrAlreadyDecided = errors.New("approval already decided")

	// ErrInsufficientBalance is returned when a withdrawal exceeds the balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidStateTransition is returned when the transaction status forbids the operation.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrForbidden is returned when the actor lacks the capability for the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrInternal wraps storage and other unexpected failures.
	ErrInternal = errors.New("internal error")

	// ErrDuplicate is returned by stores on unique constraint violations.
	ErrDuplicate = errors.New("duplicate record")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InsufficientApproversError reports the roster shortfall.
type InsufficientApproversError struct {
	Type     TransactionType
	Required int
	Found    int
}

func (e *InsufficientApproversError) Error() string {
	return fmt.Sprintf("not enough active approvers for %s transactions: required %d, found %d",
		e.Type, e.Required, e.Found)
}

func (e *InsufficientApproversError) Unwrap() error { return ErrInsufficientApprovers }

// NotFoundError names the missing entity.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func notFound(kind string, id any) error {
	return &NotFoundError{Kind: kind, ID: fmt.Sprint(id)}
}

// AlreadyDecidedError carries the decision already on record.
type AlreadyDecidedError struct {
	TransactionID TransactionID
	ApproverID    UserID
	Status        ApprovalStatus
}

func (e *AlreadyDecidedError) Error() string {
	return fmt.Sprintf("approver %s already decided transaction %s (%s)",
		e.ApproverID, e.TransactionID, e.Status)
}

func (e *AlreadyDecidedError) Unwrap() error { return ErrAlreadyDecided }

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	AccountID AccountID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on account %s: available %s, requested %s",
		e.AccountID, e.Available.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// StateTransitionError names the operation refused in the current status.
type StateTransitionError struct {
	TransactionID TransactionID
	From          TransactionStatus
	Operation     string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("cannot %s transaction %s in status %s", e.Operation, e.TransactionID, e.From)
}

func (e *StateTransitionError) Unwrap() error { return ErrInvalidStateTransition }

// ForbiddenError names the missing capability.
type ForbiddenError struct {
	UserID UserID
	Reason string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("user %s: %s", e.UserID, e.Reason)
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// internalError hides storage details behind ErrInternal while keeping the cause.
type internalError struct {
	op  string
	err error
}

func (e *internalError) Error() string { return fmt.Sprintf("%s: %v", e.op, e.err) }

func (e *internalError) Unwrap() []error { return []error{ErrInternal, e.err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// Error codes, stable across releases.
const (
	CodeValidation            = "VALIDATION_ERROR"
	CodeInsufficientApprovers = "INSUFFICIENT_APPROVERS"
	CodeNotFound              = "NOT_FOUND"
	CodeAlreadyDecided        = "ALREADY_DECIDED"
	CodeInsufficientBalance   = "INSUFFICIENT_BALANCE"
	CodeInvalidTransition     = "INVALID_STATE_TRANSITION"
	CodeForbidden             = "FORBIDDEN"
	CodeInternal              = "INTERNAL"
)

// CodeOf classifies err. Anything outside the taxonomy is CodeInternal.
func CodeOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrInsufficientApprovers):
		return CodeInsufficientApprovers
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrAlreadyDecided):
		return CodeAlreadyDecided
	case errors.Is(err, ErrInsufficientBalance):
		return CodeInsufficientBalance
	case errors.Is(err, ErrInvalidStateTransition):
		return CodeInvalidTransition
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	default:
		return CodeInternal
	}
}

// IsClientError returns true if the error is due to the caller's input or timing.
func IsClientError(err error) bool {
	code := CodeOf(err)
	return code != "" && code != CodeInternal
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// sanitize keeps taxonomy errors as they are and wraps everything else.
func sanitize(op string, err error) error {
	if err == nil || IsClientError(err) {
		return err
	}
	if errors.Is(err, ErrInternal) {
		return err
	}
	return &internalError{op: op, err: err}
}
