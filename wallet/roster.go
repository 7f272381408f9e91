/*
roster.go - Approver roster resolution

PURPOSE:
  Decides, once per new transaction, who must approve it.

ALGORITHM:
  1. Required count: active ApprovalConfig row, else the static default
  2. Start with active assignments for the type (active approvers only)
  3. Pad with other active approvers, ordered by id, until the count is met
  4. Fail with InsufficientApproversError if the pool is still too small

  Later changes to assignments or configuration do not touch approval sets
  that already exist.

SEE ALSO:
  - approvals.go: Builds the approval set from the roster
*/
package wallet

import (
	"context"
	"sort"
)

// Defaults is the required-approval tuple used when no configuration row exists.
type Defaults struct {
	Deposit    int
	Withdrawal int
}

// DefaultApprovals is 3 for deposits and 5 for withdrawals.
var DefaultApprovals = Defaults{Deposit: 3, Withdrawal: 5}

func (d Defaults) For(t TransactionType) int {
	if t == TypeDeposit {
		return d.Deposit
	}
	return d.Withdrawal
}

// RequiredApprovals resolves the threshold for t. cfg may be nil.
func RequiredApprovals(cfg *ApprovalConfig, t TransactionType, defaults Defaults) int {
	if cfg != nil && cfg.Active && cfg.Type == t && cfg.RequiredApprovals > 0 {
		return cfg.RequiredApprovals
	}
	return defaults.For(t)
}

// Roster is the resolved approver list for one transaction.
type Roster struct {
	Type      TransactionType
	Required  int
	Approvers []UserID // len >= Required, assigned approvers first
}

// Selected returns the approvers that get a record: the first Required of them.
func (r Roster) Selected() []UserID {
	return r.Approvers[:r.Required]
}

type RosterResolver struct {
	Defaults Defaults
}

func (rr RosterResolver) Resolve(ctx context.Context, src RosterSource, t TransactionType) (Roster, error) {
	cfg, err := src.GetApprovalConfig(ctx, t)
	if err != nil && !IsNotFound(err) {
		return Roster{}, err
	}
	required := RequiredApprovals(cfg, t, rr.defaults())

	assignments, err := src.ActiveAssignments(ctx, t)
	if err != nil {
		return Roster{}, err
	}
	sort.SliceStable(assignments, func(i, j int) bool {
		return assignments[i].ApproverID < assignments[j].ApproverID
	})

	seen := make(map[UserID]bool)
	var approvers []UserID
	for _, a := range assignments {
		if !a.Active || seen[a.ApproverID] {
			continue
		}
		u, err := src.GetUser(ctx, a.ApproverID)
		if IsNotFound(err) {
			continue
		}
		if err != nil {
			return Roster{}, err
		}
		if !u.CanApproveRequests() {
			continue
		}
		seen[u.ID] = true
		approvers = append(approvers, u.ID)
	}

	if len(approvers) < required {
		pool, err := src.ActiveApprovers(ctx)
		if err != nil {
			return Roster{}, err
		}
		sort.SliceStable(pool, func(i, j int) bool { return pool[i].ID < pool[j].ID })
		for _, u := range pool {
			if len(approvers) >= required {
				break
			}
			if seen[u.ID] || !u.CanApproveRequests() {
				continue
			}
			seen[u.ID] = true
			approvers = append(approvers, u.ID)
		}
	}

	if len(approvers) < required {
		return Roster{}, &InsufficientApproversError{Type: t, Required: required, Found: len(approvers)}
	}
	return Roster{Type: t, Required: required, Approvers: approvers}, nil
}

func (rr RosterResolver) defaults() Defaults {
	if rr.Defaults.Deposit <= 0 || rr.Defaults.Withdrawal <= 0 {
		return DefaultApprovals
	}
	return rr.Defaults
}
