// Package store provides an in-memory wallet.Store.
package store

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/municipal-wallet/wallet"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	state
}

type assignmentKey struct {
	Type       wallet.TransactionType
	ApproverID wallet.UserID
}

// state is everything a unit of work can change. Snapshotted by WithTx.
type state struct {
	cities       map[wallet.CityID]wallet.City
	users        map[wallet.UserID]wallet.User
	accounts     map[wallet.AccountID]wallet.Account
	transactions map[wallet.TransactionID]wallet.Transaction
	references   map[string]wallet.TransactionID
	approvals    map[wallet.TransactionID][]wallet.ApprovalRecord
	approvalTx   map[wallet.ApprovalID]wallet.TransactionID
	assignments  map[assignmentKey]wallet.ApproverAssignment
	configs      map[wallet.TransactionType]wallet.ApprovalConfig
	counters     map[string]int64
	audit        []wallet.AuditEntry
}

var (
	_ wallet.Store    = (*Memory)(nil)
	_ wallet.AuditLog = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{state: emptyState()}
}

// Reset discards all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = emptyState()
	return nil
}

func emptyState() state {
	return state{
		cities:       make(map[wallet.CityID]wallet.City),
		users:        make(map[wallet.UserID]wallet.User),
		accounts:     make(map[wallet.AccountID]wallet.Account),
		transactions: make(map[wallet.TransactionID]wallet.Transaction),
		references:   make(map[string]wallet.TransactionID),
		approvals:    make(map[wallet.TransactionID][]wallet.ApprovalRecord),
		approvalTx:   make(map[wallet.ApprovalID]wallet.TransactionID),
		assignments:  make(map[assignmentKey]wallet.ApproverAssignment),
		configs:      make(map[wallet.TransactionType]wallet.ApprovalConfig),
		counters:     make(map[string]int64),
	}
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (m *Memory) SaveCity(_ context.Context, c wallet.City) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.cities[c.ID]; ok && !old.CreatedAt.IsZero() {
		c.CreatedAt = old.CreatedAt
	}
	m.cities[c.ID] = c
	return nil
}

func (m *Memory) GetCity(_ context.Context, id wallet.CityID) (*wallet.City, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cities[id]
	if !ok {
		return nil, &wallet.NotFoundError{Kind: "city", ID: string(id)}
	}
	return &c, nil
}

func (m *Memory) SaveUser(_ context.Context, u wallet.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := wallet.NewUser(u.ID, u.Email, u.FullName, u.Role, u.CityID, u.Active)
	stored.CreatedAt = u.CreatedAt
	if old, ok := m.users[u.ID]; ok && !old.CreatedAt.IsZero() {
		stored.CreatedAt = old.CreatedAt
	}
	m.users[u.ID] = stored
	return nil
}

func (m *Memory) GetUser(_ context.Context, id wallet.UserID) (*wallet.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getUser(id)
}

func (m *Memory) ListUsers(_ context.Context) ([]wallet.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := slices.Collect(maps.Values(m.users))
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveAccount(_ context.Context, a wallet.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.accounts[a.ID]; ok {
		a.Balance = old.Balance
		a.CreatedAt = old.CreatedAt
	}
	m.accounts[a.ID] = a
	return nil
}

func (m *Memory) GetAccount(_ context.Context, id wallet.AccountID) (*wallet.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAccount(id)
}

func (m *Memory) ListAccounts(_ context.Context, city wallet.CityID) ([]wallet.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]wallet.Account, 0)
	for _, a := range m.accounts {
		if city == "" || a.CityID == city {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveAssignment(_ context.Context, a wallet.ApproverAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := assignmentKey{Type: a.Type, ApproverID: a.ApproverID}
	if old, ok := m.assignments[k]; ok {
		a.CreatedAt = old.CreatedAt
	}
	m.assignments[k] = a
	return nil
}

func (m *Memory) ListAssignments(_ context.Context, t wallet.TransactionType) ([]wallet.ApproverAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listAssignments(t, false), nil
}

func (m *Memory) SaveApprovalConfig(_ context.Context, c wallet.ApprovalConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[c.Type] = c
	return nil
}

func (m *Memory) GetApprovalConfig(_ context.Context, t wallet.TransactionType) (*wallet.ApprovalConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getApprovalConfig(t)
}

// =============================================================================
// WORKFLOW READS
// =============================================================================

func (m *Memory) GetTransaction(_ context.Context, id wallet.TransactionID) (*wallet.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTransaction(id)
}

func (m *Memory) ListTransactions(_ context.Context, f wallet.TransactionFilter) ([]wallet.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]wallet.Transaction, 0)
	for _, t := range m.transactions {
		if m.matches(t, f) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Reference > out[j].Reference
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) matches(t wallet.Transaction, f wallet.TransactionFilter) bool {
	switch {
	case f.Type != "" && t.Type != f.Type:
		return false
	case f.Status != "" && t.Status != f.Status:
		return false
	case f.AccountID != "" && t.AccountID != f.AccountID:
		return false
	case f.CityID != "" && t.CityID != f.CityID:
		return false
	case f.CreatedBy != "" && t.CreatedBy != f.CreatedBy:
		return false
	}
	if f.ApproverID != "" {
		return slices.ContainsFunc(m.approvals[t.ID], func(r wallet.ApprovalRecord) bool {
			return r.ApproverID == f.ApproverID
		})
	}
	return true
}

func (m *Memory) GetApprovals(_ context.Context, id wallet.TransactionID) ([]wallet.ApprovalRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getApprovals(id)
}

func (m *Memory) PendingApprovals(_ context.Context, approver wallet.UserID) ([]wallet.ApprovalRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]wallet.ApprovalRecord, 0)
	for _, records := range m.approvals {
		for _, r := range records {
			if r.ApproverID == approver && r.IsPending() {
				out = append(out, r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, e wallet.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Details = maps.Clone(e.Details)
	m.audit = append(m.audit, e)
	return nil
}

// QueryAudit returns matching entries, newest first.
func (m *Memory) QueryAudit(_ context.Context, f wallet.AuditFilter) ([]wallet.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]wallet.AuditEntry, 0)
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		if f.ActorID != "" && e.ActorID != f.ActorID {
			continue
		}
		if f.TransactionID != "" && e.TransactionID != f.TransactionID {
			continue
		}
		if len(f.Actions) > 0 && !slices.Contains(f.Actions, e.Action) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a writer lock held for the whole
// unit, a snapshot, and a rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(wallet.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&txView{m: m}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (s state) clone() state {
	c := state{
		cities:       maps.Clone(s.cities),
		users:        maps.Clone(s.users),
		accounts:     maps.Clone(s.accounts),
		transactions: make(map[wallet.TransactionID]wallet.Transaction, len(s.transactions)),
		references:   maps.Clone(s.references),
		approvals:    make(map[wallet.TransactionID][]wallet.ApprovalRecord, len(s.approvals)),
		approvalTx:   maps.Clone(s.approvalTx),
		assignments:  maps.Clone(s.assignments),
		configs:      maps.Clone(s.configs),
		counters:     maps.Clone(s.counters),
		audit:        slices.Clone(s.audit),
	}
	for id, t := range s.transactions {
		c.transactions[id] = t.Clone()
	}
	for id, records := range s.approvals {
		c.approvals[id] = slices.Clone(records)
	}
	return c
}

// txView runs with m.mu held by WithTx.
type txView struct {
	m *Memory
}

var _ wallet.Tx = (*txView)(nil)

func (tv *txView) GetApprovalConfig(_ context.Context, t wallet.TransactionType) (*wallet.ApprovalConfig, error) {
	return tv.m.getApprovalConfig(t)
}

func (tv *txView) ActiveAssignments(_ context.Context, t wallet.TransactionType) ([]wallet.ApproverAssignment, error) {
	return tv.m.listAssignments(t, true), nil
}

func (tv *txView) ActiveApprovers(_ context.Context) ([]wallet.User, error) {
	out := make([]wallet.User, 0)
	for _, u := range tv.m.users {
		if u.CanApproveRequests() {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tv *txView) GetUser(_ context.Context, id wallet.UserID) (*wallet.User, error) {
	return tv.m.getUser(id)
}

func (tv *txView) LockTransaction(_ context.Context, id wallet.TransactionID) (*wallet.Transaction, error) {
	return tv.m.getTransaction(id)
}

func (tv *txView) LockAccount(_ context.Context, id wallet.AccountID) (*wallet.Account, error) {
	return tv.m.getAccount(id)
}

func (tv *txView) GetAccount(_ context.Context, id wallet.AccountID) (*wallet.Account, error) {
	return tv.m.getAccount(id)
}

func (tv *txView) GetApprovals(_ context.Context, id wallet.TransactionID) ([]wallet.ApprovalRecord, error) {
	return tv.m.getApprovals(id)
}

func (tv *txView) NextReference(_ context.Context, prefix string) (int64, error) {
	tv.m.counters[prefix]++
	return tv.m.counters[prefix], nil
}

func (tv *txView) InsertTransaction(_ context.Context, t wallet.Transaction) error {
	if _, ok := tv.m.transactions[t.ID]; ok {
		return wallet.ErrDuplicate
	}
	if _, ok := tv.m.references[t.Reference]; ok {
		return wallet.ErrDuplicate
	}
	tv.m.transactions[t.ID] = t.Clone()
	tv.m.references[t.Reference] = t.ID
	return nil
}

func (tv *txView) InsertApprovals(_ context.Context, records []wallet.ApprovalRecord) error {
	for _, r := range records {
		if _, ok := tv.m.transactions[r.TransactionID]; !ok {
			return &wallet.NotFoundError{Kind: "transaction", ID: string(r.TransactionID)}
		}
		if _, ok := tv.m.approvalTx[r.ID]; ok {
			return wallet.ErrDuplicate
		}
		for _, existing := range tv.m.approvals[r.TransactionID] {
			if existing.ApproverID == r.ApproverID {
				return wallet.ErrDuplicate
			}
		}
		tv.m.approvals[r.TransactionID] = append(tv.m.approvals[r.TransactionID], r)
		tv.m.approvalTx[r.ID] = r.TransactionID
	}
	return nil
}

func (tv *txView) UpdateTransaction(_ context.Context, t wallet.Transaction) error {
	old, ok := tv.m.transactions[t.ID]
	if !ok {
		return &wallet.NotFoundError{Kind: "transaction", ID: string(t.ID)}
	}
	old.Status = t.Status
	old.Metadata = maps.Clone(t.Metadata)
	old.UpdatedAt = t.UpdatedAt
	old.ExecutedAt = nil
	if t.ExecutedAt != nil {
		at := *t.ExecutedAt
		old.ExecutedAt = &at
	}
	tv.m.transactions[t.ID] = old
	return nil
}

func (tv *txView) DecideApproval(_ context.Context, id wallet.ApprovalID, status wallet.ApprovalStatus, comment string, at time.Time) (bool, error) {
	txID, ok := tv.m.approvalTx[id]
	if !ok {
		return false, &wallet.NotFoundError{Kind: "approval", ID: string(id)}
	}
	records := tv.m.approvals[txID]
	for i := range records {
		if records[i].ID != id {
			continue
		}
		if !records[i].IsPending() {
			return false, nil
		}
		decidedAt := at
		records[i].Status = status
		records[i].Comment = comment
		records[i].DecidedAt = &decidedAt
		records[i].UpdatedAt = at
		return true, nil
	}
	return false, &wallet.NotFoundError{Kind: "approval", ID: string(id)}
}

func (tv *txView) UpdateBalance(_ context.Context, id wallet.AccountID, balance decimal.Decimal, at time.Time) error {
	a, ok := tv.m.accounts[id]
	if !ok {
		return &wallet.NotFoundError{Kind: "account", ID: string(id)}
	}
	a.Balance = balance
	a.UpdatedAt = at
	tv.m.accounts[id] = a
	return nil
}

// =============================================================================
// UNLOCKED HELPERS - Callers hold m.mu
// =============================================================================

func (m *Memory) getUser(id wallet.UserID) (*wallet.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, &wallet.NotFoundError{Kind: "user", ID: string(id)}
	}
	return &u, nil
}

func (m *Memory) getAccount(id wallet.AccountID) (*wallet.Account, error) {
	a, ok := m.accounts[id]
	if !ok {
		return nil, &wallet.NotFoundError{Kind: "account", ID: string(id)}
	}
	return &a, nil
}

func (m *Memory) getTransaction(id wallet.TransactionID) (*wallet.Transaction, error) {
	t, ok := m.transactions[id]
	if !ok {
		return nil, &wallet.NotFoundError{Kind: "transaction", ID: string(id)}
	}
	c := t.Clone()
	return &c, nil
}

func (m *Memory) getApprovals(id wallet.TransactionID) ([]wallet.ApprovalRecord, error) {
	if _, ok := m.transactions[id]; !ok {
		return nil, &wallet.NotFoundError{Kind: "transaction", ID: string(id)}
	}
	return slices.Clone(m.approvals[id]), nil
}

func (m *Memory) getApprovalConfig(t wallet.TransactionType) (*wallet.ApprovalConfig, error) {
	c, ok := m.configs[t]
	if !ok {
		return nil, &wallet.NotFoundError{Kind: "approval config", ID: string(t)}
	}
	return &c, nil
}

func (m *Memory) listAssignments(t wallet.TransactionType, activeOnly bool) []wallet.ApproverAssignment {
	out := make([]wallet.ApproverAssignment, 0)
	for k, a := range m.assignments {
		if k.Type != t || (activeOnly && !a.Active) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ApproverID < out[j].ApproverID })
	return out
}
