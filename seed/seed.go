/*
Package seed loads directory data and demo transactions from JSON fixtures.

PURPOSE:
  Populates a store with cities, users, accounts, roster configuration and
  optionally a few transactions driven through the real workflow. Used by
  the -seed flag, the seed.file setting and the scenarios endpoints.

HOW A FIXTURE IS APPLIED:
 0. Built-in scenarios reset the store first (see Resetter)
 1. Admin users are written straight to the directory (bootstrap)
 2. Cities, users, accounts go through the service as the first admin
 3. Approver assignments and approval configs are saved
 4. Transactions are created, then decided or cancelled in order
 5. Steps interleave further decisions across transactions

  Directory rows are upserts, so applying a file fixture twice is safe.
  Transactions are always new. Workflow refusals (for example too few
  approvers) are recorded in the report, not returned as errors.

BUILT-IN SCENARIOS:
  standard-city:          Five approvers, default thresholds, work in flight
  understaffed-roster:    Three approvers; withdrawals cannot be created
  low-balance-withdrawal: Two withdrawals racing for one balance; one stalls

SEE ALSO:
  - seed/scenarios/*.json: Built-in fixtures
  - api/scenarios.go: HTTP endpoints
*/
package seed

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/municipal-wallet/logging"
	"github.com/warp/municipal-wallet/wallet"
)

//go:embed scenarios/*.json
var scenarioFS embed.FS

// =============================================================================
// FIXTURE FORMAT
// =============================================================================

type Fixture struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Cities      []CityFixture        `json:"cities"`
	Users       []UserFixture        `json:"users"`
	Accounts    []AccountFixture     `json:"accounts"`
	Assignments []AssignmentFixture  `json:"assignments"`
	Configs     []ConfigFixture      `json:"approval_configs"`
	Transaction []TransactionFixture `json:"transactions"`
	// Steps run after every transaction exists, to interleave decisions.
	Steps []StepFixture `json:"steps,omitempty"`
}

type CityFixture struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Country string `json:"country"`
}

type UserFixture struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
	CityID   string `json:"city_id"`
	Inactive bool   `json:"inactive,omitempty"`
}

type AccountFixture struct {
	ID       string          `json:"id"`
	CityID   string          `json:"city_id"`
	Name     string          `json:"name"`
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
}

type AssignmentFixture struct {
	Type       string `json:"type"`
	ApproverID string `json:"approver_id"`
}

type ConfigFixture struct {
	Type              string `json:"type"`
	RequiredApprovals int    `json:"required_approvals"`
}

type TransactionFixture struct {
	Type           string            `json:"type"`
	Amount         decimal.Decimal   `json:"amount"`
	AccountID      string            `json:"account_id"`
	CreatorID      string            `json:"creator_id"`
	Description    string            `json:"description"`
	DepositorName  string            `json:"depositor_name,omitempty"`
	DepositorPhone string            `json:"depositor_phone,omitempty"`
	Decisions      []DecisionFixture `json:"decisions,omitempty"`
	CancelReason   string            `json:"cancel_reason,omitempty"`
}

type DecisionFixture struct {
	ApproverID string `json:"approver_id"`
	Action     string `json:"action"`
	Comment    string `json:"comment,omitempty"`
}

// StepFixture is a decision on the transaction at index Transaction.
type StepFixture struct {
	Transaction int `json:"transaction"`
	DecisionFixture
}

// Parse decodes a fixture and rejects unknown fields.
func Parse(data []byte) (*Fixture, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	var f Fixture
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("seed: invalid fixture: %w", err)
	}
	return &f, nil
}

// LoadFile reads a fixture from disk.
func LoadFile(p string) (*Fixture, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}
	return Parse(data)
}

// =============================================================================
// BUILT-IN SCENARIOS
// =============================================================================

// Scenario describes a built-in fixture.
type Scenario struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Scenarios lists the built-in fixtures ordered by id.
func Scenarios() ([]Scenario, error) {
	entries, err := scenarioFS.ReadDir("scenarios")
	if err != nil {
		return nil, err
	}
	out := make([]Scenario, 0, len(entries))
	for _, e := range entries {
		f, err := readScenario(e.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, Scenario{ID: f.ID, Name: f.Name, Description: f.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Lookup returns the built-in fixture with the given id.
func Lookup(id string) (*Fixture, error) {
	f, err := readScenario(id + ".json")
	if err != nil {
		return nil, &wallet.NotFoundError{Kind: "scenario", ID: id}
	}
	return f, nil
}

func readScenario(name string) (*Fixture, error) {
	data, err := scenarioFS.ReadFile(path.Join("scenarios", name))
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// =============================================================================
// LOADER
// =============================================================================

// Report summarizes what Apply did.
type Report struct {
	Fixture      string              `json:"fixture"`
	Cities       int                 `json:"cities"`
	Users        int                 `json:"users"`
	Accounts     int                 `json:"accounts"`
	Transactions []TransactionReport `json:"transactions"`
}

type TransactionReport struct {
	Reference string `json:"reference,omitempty"`
	Type      string `json:"type"`
	Status    string `json:"status,omitempty"`
	// Error is the error code of the first refused step.
	Error          string `json:"error,omitempty"`
	ExecutionError string `json:"execution_error,omitempty"`
}

// Resetter is implemented by stores that can discard all data.
type Resetter interface {
	Reset(ctx context.Context) error
}

type Loader struct {
	dir wallet.Directory
	svc *wallet.Service
	log *logging.Logger
}

func NewLoader(dir wallet.Directory, svc *wallet.Service, logger *logging.Logger) *Loader {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Loader{dir: dir, svc: svc, log: logger.Named("seed")}
}

// LoadScenario applies a built-in fixture. The approver pool is global, so
// the store is reset first when it supports it.
func (l *Loader) LoadScenario(ctx context.Context, id string) (*Report, error) {
	f, err := Lookup(id)
	if err != nil {
		return nil, err
	}
	if r, ok := l.dir.(Resetter); ok {
		if err := r.Reset(ctx); err != nil {
			return nil, fmt.Errorf("seed: reset: %w", err)
		}
		l.log.Info("store reset", zap.String("scenario", id))
	}
	return l.Apply(ctx, f)
}

// Apply writes the fixture. It stops at the first directory error.
func (l *Loader) Apply(ctx context.Context, f *Fixture) (*Report, error) {
	rep := &Report{Fixture: f.ID, Transactions: make([]TransactionReport, 0, len(f.Transaction))}

	admin, err := l.bootstrapAdmins(ctx, f)
	if err != nil {
		return nil, err
	}

	for _, c := range f.Cities {
		city := wallet.City{ID: wallet.CityID(c.ID), Name: c.Name, Country: c.Country, Active: true}
		if err := l.svc.SaveCity(ctx, admin, city); err != nil {
			return nil, fmt.Errorf("seed: city %s: %w", c.ID, err)
		}
		rep.Cities++
	}
	for _, u := range f.Users {
		if wallet.Role(u.Role) == wallet.RoleAdmin {
			rep.Users++
			continue
		}
		user := wallet.NewUser(wallet.UserID(u.ID), u.Email, u.FullName, wallet.Role(u.Role), wallet.CityID(u.CityID), !u.Inactive)
		if err := l.svc.SaveUser(ctx, admin, user); err != nil {
			return nil, fmt.Errorf("seed: user %s: %w", u.ID, err)
		}
		rep.Users++
	}
	for _, a := range f.Accounts {
		acct := wallet.Account{
			ID: wallet.AccountID(a.ID), CityID: wallet.CityID(a.CityID), Name: a.Name,
			Balance: a.Balance, Currency: a.Currency, Active: true,
		}
		if err := l.svc.SaveAccount(ctx, admin, acct); err != nil {
			return nil, fmt.Errorf("seed: account %s: %w", a.ID, err)
		}
		rep.Accounts++
	}
	for _, a := range f.Assignments {
		if err := l.svc.AssignApprover(ctx, admin, wallet.TransactionType(a.Type), wallet.UserID(a.ApproverID), true); err != nil {
			return nil, fmt.Errorf("seed: assignment %s/%s: %w", a.Type, a.ApproverID, err)
		}
	}
	for _, c := range f.Configs {
		if _, err := l.svc.SetApprovalConfig(ctx, admin, wallet.TransactionType(c.Type), c.RequiredApprovals, true); err != nil {
			return nil, fmt.Errorf("seed: approval config %s: %w", c.Type, err)
		}
	}

	ids := make([]wallet.TransactionID, len(f.Transaction))
	for i, t := range f.Transaction {
		var tr TransactionReport
		ids[i], tr = l.runTransaction(ctx, t)
		rep.Transactions = append(rep.Transactions, tr)
	}
	for _, st := range f.Steps {
		if st.Transaction < 0 || st.Transaction >= len(ids) {
			return nil, &wallet.ValidationError{Field: "steps", Message: fmt.Sprintf("no transaction at index %d", st.Transaction)}
		}
		if ids[st.Transaction] == "" || rep.Transactions[st.Transaction].Error != "" {
			continue
		}
		l.decide(ctx, ids[st.Transaction], st.DecisionFixture, &rep.Transactions[st.Transaction])
	}

	l.log.Info("fixture applied",
		zap.String("fixture", f.ID),
		zap.Int("cities", rep.Cities),
		zap.Int("users", rep.Users),
		zap.Int("accounts", rep.Accounts),
		zap.Int("transactions", len(rep.Transactions)))
	return rep, nil
}

// bootstrapAdmins writes admin users directly and returns the first one.
func (l *Loader) bootstrapAdmins(ctx context.Context, f *Fixture) (wallet.UserID, error) {
	var first wallet.UserID
	for _, u := range f.Users {
		if wallet.Role(u.Role) != wallet.RoleAdmin {
			continue
		}
		admin := wallet.NewUser(wallet.UserID(u.ID), u.Email, u.FullName, wallet.RoleAdmin, "", !u.Inactive)
		if err := l.dir.SaveUser(ctx, admin); err != nil {
			return "", fmt.Errorf("seed: admin %s: %w", u.ID, err)
		}
		if first == "" && !u.Inactive {
			first = admin.ID
		}
	}
	if first == "" {
		return "", &wallet.ValidationError{Field: "users", Message: "fixture needs an active ADMIN user"}
	}
	return first, nil
}

func (l *Loader) runTransaction(ctx context.Context, t TransactionFixture) (wallet.TransactionID, TransactionReport) {
	rep := TransactionReport{Type: t.Type}

	res, err := l.svc.CreateTransaction(ctx, wallet.CreateInput{
		Type:           wallet.TransactionType(t.Type),
		Amount:         t.Amount,
		AccountID:      wallet.AccountID(t.AccountID),
		CreatorID:      wallet.UserID(t.CreatorID),
		Description:    t.Description,
		DepositorName:  t.DepositorName,
		DepositorPhone: t.DepositorPhone,
	})
	if err != nil {
		rep.Error = wallet.CodeOf(err)
		l.log.Info("fixture transaction refused", zap.String("type", t.Type), zap.String("code", rep.Error))
		return "", rep
	}
	rep.Reference = res.Reference
	rep.Status = string(res.Status)

	for _, d := range t.Decisions {
		if !l.decide(ctx, res.TransactionID, d, &rep) {
			return res.TransactionID, rep
		}
	}

	if t.CancelReason != "" {
		out, err := l.svc.Cancel(ctx, res.TransactionID, wallet.UserID(t.CreatorID), t.CancelReason)
		if err != nil {
			rep.Error = wallet.CodeOf(err)
			return res.TransactionID, rep
		}
		rep.Status = string(out.Status)
	}
	return res.TransactionID, rep
}

// decide applies one decision and reports whether it was accepted.
func (l *Loader) decide(ctx context.Context, id wallet.TransactionID, d DecisionFixture, rep *TransactionReport) bool {
	out, err := l.svc.Decide(ctx, wallet.DecideInput{
		TransactionID: id,
		ApproverID:    wallet.UserID(d.ApproverID),
		Action:        wallet.Action(d.Action),
		Comment:       d.Comment,
	})
	if err != nil {
		rep.Error = wallet.CodeOf(err)
		l.log.Info("fixture decision refused",
			zap.String("reference", rep.Reference),
			zap.String("approver", d.ApproverID),
			zap.String("code", rep.Error))
		return false
	}
	rep.Status = string(out.Status)
	rep.ExecutionError = out.ExecutionError
	return true
}
