package wallet

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// =============================================================================
// ADMINISTRATION - Directory and roster configuration
// =============================================================================
//
// None of these touch existing approval sets. A transaction keeps the roster
// and threshold it was created with.

func (s *Service) requireAdmin(ctx context.Context, actor UserID) error {
	u, err := s.store.GetUser(ctx, actor)
	if err != nil {
		return sanitize("authorize", err)
	}
	if !u.IsAdmin() {
		return &ForbiddenError{UserID: actor, Reason: "administrator role required"}
	}
	return nil
}

// Authorize returns the actor if it exists and is active.
func (s *Service) Authorize(ctx context.Context, actor UserID) (*User, error) {
	u, err := s.store.GetUser(ctx, actor)
	if err != nil {
		return nil, sanitize("authorize", err)
	}
	if !u.Active {
		return nil, &ForbiddenError{UserID: actor, Reason: "user is inactive"}
	}
	return u, nil
}

func (s *Service) systemAction(ctx context.Context, actor UserID, description string, details map[string]any) {
	s.log.Info(description, zap.String("actor", string(actor)))
	s.record(ctx, AuditEntry{
		ActorID:     actor,
		Action:      AuditSystemAction,
		Description: description,
		Details:     details,
	})
}

// SaveCity creates or updates a city.
func (s *Service) SaveCity(ctx context.Context, actor UserID, c City) error {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return err
	}
	c.Name = strings.TrimSpace(c.Name)
	if c.ID == "" {
		return &ValidationError{Field: "id", Message: "required"}
	}
	if c.Name == "" {
		return &ValidationError{Field: "name", Message: "required"}
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	if err := s.store.SaveCity(ctx, c); err != nil {
		return sanitize("save city", err)
	}
	s.systemAction(ctx, actor, "city saved", map[string]any{"city_id": string(c.ID)})
	return nil
}

// SaveUser creates or updates a user. Capabilities are re-resolved from the role.
func (s *Service) SaveUser(ctx context.Context, actor UserID, u User) error {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return err
	}
	if u.ID == "" {
		return &ValidationError{Field: "id", Message: "required"}
	}
	if _, err := ParseRole(string(u.Role)); err != nil {
		return err
	}
	if u.CityID != "" {
		if _, err := s.store.GetCity(ctx, u.CityID); err != nil {
			return sanitize("save user", err)
		}
	}
	created := u.CreatedAt
	u = NewUser(u.ID, strings.TrimSpace(u.Email), strings.TrimSpace(u.FullName), u.Role, u.CityID, u.Active)
	u.CreatedAt = created
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	if err := s.store.SaveUser(ctx, u); err != nil {
		return sanitize("save user", err)
	}
	s.systemAction(ctx, actor, "user saved", map[string]any{"user_id": string(u.ID), "role": string(u.Role)})
	return nil
}

// SaveAccount creates an account or updates its name and active flag.
// The opening balance only applies to new accounts.
func (s *Service) SaveAccount(ctx context.Context, actor UserID, a Account) error {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return err
	}
	if a.ID == "" {
		return &ValidationError{Field: "id", Message: "required"}
	}
	if a.Balance.IsNegative() {
		return &ValidationError{Field: "balance", Message: "cannot be negative"}
	}
	if !a.Balance.Equal(a.Balance.Round(2)) {
		return &ValidationError{Field: "balance", Message: "at most 2 decimal places"}
	}
	if _, err := s.store.GetCity(ctx, a.CityID); err != nil {
		return sanitize("save account", err)
	}
	if a.Currency == "" {
		a.Currency = "USD"
	}
	now := s.now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	if err := s.store.SaveAccount(ctx, a); err != nil {
		return sanitize("save account", err)
	}
	s.systemAction(ctx, actor, "account saved", map[string]any{"account_id": string(a.ID), "city_id": string(a.CityID)})
	return nil
}

// GetAccount returns an account visible to actor: admins see all, others
// only accounts of their own city.
func (s *Service) GetAccount(ctx context.Context, actor UserID, id AccountID) (*Account, error) {
	u, err := s.Authorize(ctx, actor)
	if err != nil {
		return nil, err
	}
	a, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return nil, sanitize("get account", err)
	}
	if !u.IsAdmin() && u.CityID != "" && u.CityID != a.CityID {
		return nil, notFound("account", id)
	}
	return a, nil
}

// ListAccounts returns the accounts visible to actor.
func (s *Service) ListAccounts(ctx context.Context, actor UserID) ([]Account, error) {
	u, err := s.Authorize(ctx, actor)
	if err != nil {
		return nil, err
	}
	var city CityID
	if !u.IsAdmin() {
		city = u.CityID
	}
	out, err := s.store.ListAccounts(ctx, city)
	return out, sanitize("list accounts", err)
}

// AssignApprover puts approver on (or, with active false, takes it off) the
// roster for t.
func (s *Service) AssignApprover(ctx context.Context, actor UserID, t TransactionType, approver UserID, active bool) error {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return err
	}
	if !t.Valid() {
		return &ValidationError{Field: "transaction_type", Message: "unknown type " + string(t)}
	}
	u, err := s.store.GetUser(ctx, approver)
	if err != nil {
		return sanitize("assign approver", err)
	}
	if active && !u.CanApproveRequests() {
		return &ValidationError{Field: "approver_id", Message: fmt.Sprintf("user %s is not an active approver", approver)}
	}
	now := s.now()
	a := ApproverAssignment{Type: t, ApproverID: approver, Active: active, CreatedAt: now, UpdatedAt: now}
	if err := s.store.SaveAssignment(ctx, a); err != nil {
		return sanitize("assign approver", err)
	}
	s.systemAction(ctx, actor, "approver assignment saved", map[string]any{
		"transaction_type": string(t), "approver_id": string(approver), "active": active,
	})
	return nil
}

// ListAssignments returns the roster configuration for t. Admin only.
func (s *Service) ListAssignments(ctx context.Context, actor UserID, t TransactionType) ([]ApproverAssignment, error) {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	out, err := s.store.ListAssignments(ctx, t)
	return out, sanitize("list assignments", err)
}

// SetApprovalConfig sets the number of approvals t requires.
func (s *Service) SetApprovalConfig(ctx context.Context, actor UserID, t TransactionType, required int, active bool) (*ApprovalConfig, error) {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	if !t.Valid() {
		return nil, &ValidationError{Field: "transaction_type", Message: "unknown type " + string(t)}
	}
	if required < 1 {
		return nil, &ValidationError{Field: "required_approvals", Message: "must be at least 1"}
	}
	cfg := ApprovalConfig{Type: t, RequiredApprovals: required, Active: active, UpdatedAt: s.now()}
	if err := s.store.SaveApprovalConfig(ctx, cfg); err != nil {
		return nil, sanitize("set approval config", err)
	}
	s.systemAction(ctx, actor, "approval config saved", map[string]any{
		"transaction_type": string(t), "required_approvals": required, "active": active,
	})
	return &cfg, nil
}

// SyncApprovalConfig sets the threshold for t to the number of active,
// approver-capable assignments.
func (s *Service) SyncApprovalConfig(ctx context.Context, actor UserID, t TransactionType) (*ApprovalConfig, error) {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	if !t.Valid() {
		return nil, &ValidationError{Field: "transaction_type", Message: "unknown type " + string(t)}
	}
	assignments, err := s.store.ListAssignments(ctx, t)
	if err != nil {
		return nil, sanitize("sync approval config", err)
	}
	count := 0
	for _, a := range assignments {
		if !a.Active {
			continue
		}
		u, err := s.store.GetUser(ctx, a.ApproverID)
		if IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, sanitize("sync approval config", err)
		}
		if u.CanApproveRequests() {
			count++
		}
	}
	if count == 0 {
		return nil, &ValidationError{Field: "assignments", Message: fmt.Sprintf("no active approvers assigned to %s", t)}
	}
	return s.SetApprovalConfig(ctx, actor, t, count, true)
}

// ApprovalConfigs returns the effective threshold per type. Types without an
// active configuration row report the default with Active false. Admin only.
func (s *Service) ApprovalConfigs(ctx context.Context, actor UserID) ([]ApprovalConfig, error) {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	out := make([]ApprovalConfig, 0, len(TransactionTypes))
	for _, t := range TransactionTypes {
		cfg, err := s.store.GetApprovalConfig(ctx, t)
		if err != nil && !IsNotFound(err) {
			return nil, sanitize("approval configs", err)
		}
		if cfg == nil || !cfg.Active {
			out = append(out, ApprovalConfig{Type: t, RequiredApprovals: s.roster.defaults().For(t), Active: false})
			continue
		}
		out = append(out, *cfg)
	}
	return out, nil
}

// ListUsers returns every user. Admin only.
func (s *Service) ListUsers(ctx context.Context, actor UserID) ([]User, error) {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	out, err := s.store.ListUsers(ctx)
	return out, sanitize("list users", err)
}
