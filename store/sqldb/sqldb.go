/*
Package sqldb implements wallet.Store on database/sql.

PURPOSE:
  One implementation of the persistence interfaces shared by the SQLite
  and PostgreSQL stores. The differences between the two engines are
  captured in a Dialect: placeholder syntax, row locking, and how a unique
  constraint violation is reported. Each engine package owns its schema.

LOCKING:
  PostgreSQL: LockTransaction and LockAccount append FOR UPDATE, so
              concurrent units on the same row queue at the database.
  SQLite:     No row locks. The engine package passes a writer mutex with
              WithWriterLock and every unit runs alone.

GUARDED UPDATES:
  DecideApproval is UPDATE ... WHERE id = ? AND status = 'PENDING' and
  reports RowsAffected == 1. Only one decision per record can land.

SEE ALSO:
  - store/sqlite: SQLite dialect, schema, connection setup
  - store/postgres: PostgreSQL dialect, schema, pool settings
  - wallet/store.go: Interface definitions
*/
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/municipal-wallet/wallet"
)

// Dialect describes what differs between SQL engines.
type Dialect struct {
	Name string
	// Numbered placeholders ($1, $2) instead of ?.
	Numbered bool
	// ForUpdate is appended to locking reads. Empty when the engine has no row locks.
	ForUpdate string
	// IsUniqueViolation reports whether err is a unique constraint failure.
	IsUniqueViolation func(error) bool
}

// Rebind rewrites ? placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements wallet.Store and wallet.AuditLog.
type Store struct {
	db      *sql.DB
	dialect Dialect
	mu      *sync.RWMutex
}

var (
	_ wallet.Store    = (*Store)(nil)
	_ wallet.AuditLog = (*Store)(nil)
	_ wallet.Tx       = (*tx)(nil)
)

type Option func(*Store)

// WithWriterLock serializes units of work on mu and takes a read lock for
// plain reads. For engines without row locks.
func WithWriterLock(mu *sync.RWMutex) Option {
	return func(s *Store) { s.mu = mu }
}

func New(db *sql.DB, d Dialect, opts ...Option) *Store {
	s := &Store{db: db, dialect: d}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) rlock() func() {
	if s.mu == nil {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *Store) wlock() func() {
	if s.mu == nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// conn binds a querier to the dialect.
type conn struct {
	q querier
	d Dialect
}

func (c conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := c.q.ExecContext(ctx, c.d.Rebind(query), args...)
	return res, c.mapErr(err)
}

func (c conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, c.d.Rebind(query), args...)
}

func (c conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.d.Rebind(query), args...)
}

func (c conn) mapErr(err error) error {
	if err != nil && c.d.IsUniqueViolation != nil && c.d.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", wallet.ErrDuplicate, err)
	}
	return err
}

func (s *Store) conn() conn { return conn{q: s.db, d: s.dialect} }

// =============================================================================
// UNIT OF WORK
// =============================================================================

// WithTx executes fn within a transaction.
// If fn returns error, the transaction is rolled back.
// If fn returns nil, the transaction is committed.
func (s *Store) WithTx(ctx context.Context, fn func(wallet.Tx) error) error {
	defer s.wlock()()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&tx{c: conn{q: sqlTx, d: s.dialect}}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type tx struct {
	c conn
}

var (
	_ wallet.Store    = (*Store)(nil)
	_ wallet.AuditLog = (*Store)(nil)
	_ wallet.Tx       = (*tx)(nil)
)

// resetOrder deletes children before parents.
var resetOrder = []string{
	"approvals", "transactions", "approver_assignments", "approval_configs",
	"reference_counters", "audit_logs", "accounts", "users", "cities",
}

// Reset deletes every row. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	defer s.wlock()()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, table := range resetOrder {
		if _, err := sqlTx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return sqlTx.Commit()
}

// =============================================================================
// CITIES
// =============================================================================

func (s *Store) SaveCity(ctx context.Context, c wallet.City) error {
	defer s.rlock()()
	_, err := s.conn().exec(ctx, `
		INSERT INTO cities (id, name, country, active, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, country = excluded.country, active = excluded.active`,
		string(c.ID), c.Name, c.Country, c.Active, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save city: %w", err)
	}
	return nil
}

func (s *Store) GetCity(ctx context.Context, id wallet.CityID) (*wallet.City, error) {
	defer s.rlock()()
	var c wallet.City
	err := s.conn().queryRow(ctx,
		`SELECT id, name, country, active, created_at FROM cities WHERE id = ?`, string(id)).
		Scan(&c.ID, &c.Name, &c.Country, &c.Active, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &wallet.NotFoundError{Kind: "city", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get city: %w", err)
	}
	return &c, nil
}

// =============================================================================
// USERS
// =============================================================================

const userColumns = `id, email, full_name, role, city_id, active, created_at`

func scanUser(sc interface{ Scan(...any) error }) (wallet.User, error) {
	var (
		id, email, name, role, city string
		active                      bool
		created                     time.Time
	)
	if err := sc.Scan(&id, &email, &name, &role, &city, &active, &created); err != nil {
		return wallet.User{}, err
	}
	u := wallet.NewUser(wallet.UserID(id), email, name, wallet.Role(role), wallet.CityID(city), active)
	u.CreatedAt = created
	return u, nil
}

func (s *Store) SaveUser(ctx context.Context, u wallet.User) error {
	defer s.rlock()()
	_, err := s.conn().exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			email = excluded.email, full_name = excluded.full_name, role = excluded.role,
			city_id = excluded.city_id, active = excluded.active`,
		string(u.ID), u.Email, u.FullName, string(u.Role), string(u.CityID), u.Active, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id wallet.UserID) (*wallet.User, error) {
	defer s.rlock()()
	return getUser(ctx, s.conn(), id)
}

func getUser(ctx context.Context, c conn, id wallet.UserID) (*wallet.User, error) {
	u, err := scanUser(c.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &wallet.NotFoundError{Kind: "user", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]wallet.User, error) {
	defer s.rlock()()
	return listUsers(ctx, s.conn(), false)
}

func listUsers(ctx context.Context, c conn, activeOnly bool) ([]wallet.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	if activeOnly {
		query += ` WHERE active = ?`
	}
	query += ` ORDER BY id`
	var args []any
	if activeOnly {
		args = append(args, true)
	}
	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	out := make([]wallet.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountColumns = `id, city_id, name, balance, currency, active, created_at, updated_at`

func scanAccount(sc interface{ Scan(...any) error }) (wallet.Account, error) {
	var a wallet.Account
	err := sc.Scan(&a.ID, &a.CityID, &a.Name, &a.Balance, &a.Currency, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (s *Store) SaveAccount(ctx context.Context, a wallet.Account) error {
	defer s.rlock()()
	_, err := s.conn().exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, currency = excluded.currency,
			active = excluded.active, updated_at = excluded.updated_at`,
		string(a.ID), string(a.CityID), a.Name, a.Balance.StringFixed(2), a.Currency, a.Active, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id wallet.AccountID) (*wallet.Account, error) {
	defer s.rlock()()
	return getAccount(ctx, s.conn(), id, false)
}

func getAccount(ctx context.Context, c conn, id wallet.AccountID, lock bool) (*wallet.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`
	if lock {
		query += c.d.ForUpdate
	}
	a, err := scanAccount(c.queryRow(ctx, query, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &wallet.NotFoundError{Kind: "account", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &a, nil
}

func (s *Store) ListAccounts(ctx context.Context, city wallet.CityID) ([]wallet.Account, error) {
	defer s.rlock()()
	query := `SELECT ` + accountColumns + ` FROM accounts`
	var args []any
	if city != "" {
		query += ` WHERE city_id = ?`
		args = append(args, string(city))
	}
	rows, err := s.conn().query(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	out := make([]wallet.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// ROSTER CONFIGURATION
// =============================================================================

func (s *Store) SaveAssignment(ctx context.Context, a wallet.ApproverAssignment) error {
	defer s.rlock()()
	_, err := s.conn().exec(ctx, `
		INSERT INTO approver_assignments (transaction_type, approver_id, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (transaction_type, approver_id) DO UPDATE SET
			active = excluded.active, updated_at = excluded.updated_at`,
		string(a.Type), string(a.ApproverID), a.Active, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save assignment: %w", err)
	}
	return nil
}

func (s *Store) ListAssignments(ctx context.Context, t wallet.TransactionType) ([]wallet.ApproverAssignment, error) {
	defer s.rlock()()
	return listAssignments(ctx, s.conn(), t, false)
}

func listAssignments(ctx context.Context, c conn, t wallet.TransactionType, activeOnly bool) ([]wallet.ApproverAssignment, error) {
	query := `SELECT transaction_type, approver_id, active, created_at, updated_at
		FROM approver_assignments WHERE transaction_type = ?`
	args := []any{string(t)}
	if activeOnly {
		query += ` AND active = ?`
		args = append(args, true)
	}
	rows, err := c.query(ctx, query+` ORDER BY approver_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	out := make([]wallet.ApproverAssignment, 0)
	for rows.Next() {
		var a wallet.ApproverAssignment
		if err := rows.Scan(&a.Type, &a.ApproverID, &a.Active, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) SaveApprovalConfig(ctx context.Context, cfg wallet.ApprovalConfig) error {
	defer s.rlock()()
	_, err := s.conn().exec(ctx, `
		INSERT INTO approval_configs (transaction_type, required_approvals, active, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (transaction_type) DO UPDATE SET
			required_approvals = excluded.required_approvals,
			active = excluded.active, updated_at = excluded.updated_at`,
		string(cfg.Type), cfg.RequiredApprovals, cfg.Active, cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save approval config: %w", err)
	}
	return nil
}

func (s *Store) GetApprovalConfig(ctx context.Context, t wallet.TransactionType) (*wallet.ApprovalConfig, error) {
	defer s.rlock()()
	return getApprovalConfig(ctx, s.conn(), t)
}

func getApprovalConfig(ctx context.Context, c conn, t wallet.TransactionType) (*wallet.ApprovalConfig, error) {
	var cfg wallet.ApprovalConfig
	err := c.queryRow(ctx, `
		SELECT transaction_type, required_approvals, active, updated_at
		FROM approval_configs WHERE transaction_type = ?`, string(t)).
		Scan(&cfg.Type, &cfg.RequiredApprovals, &cfg.Active, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &wallet.NotFoundError{Kind: "approval config", ID: string(t)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval config: %w", err)
	}
	return &cfg, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

const transactionColumns = `id, type, amount, status, reference, description, account_id, city_id,
	created_by, required_approvals, metadata_json, created_at, updated_at, executed_at`

func scanTransaction(sc interface{ Scan(...any) error }) (wallet.Transaction, error) {
	var (
		t        wallet.Transaction
		meta     string
		executed sql.NullTime
	)
	err := sc.Scan(&t.ID, &t.Type, &t.Amount, &t.Status, &t.Reference, &t.Description,
		&t.AccountID, &t.CityID, &t.CreatedBy, &t.RequiredApprovals, &meta,
		&t.CreatedAt, &t.UpdatedAt, &executed)
	if err != nil {
		return t, err
	}
	if meta != "" && meta != "{}" && meta != "null" {
		if err := json.Unmarshal([]byte(meta), &t.Metadata); err != nil {
			return t, fmt.Errorf("failed to decode metadata of %s: %w", t.ID, err)
		}
	}
	if executed.Valid {
		at := executed.Time
		t.ExecutedAt = &at
	}
	return t, nil
}

func encodeMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(b), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (s *Store) GetTransaction(ctx context.Context, id wallet.TransactionID) (*wallet.Transaction, error) {
	defer s.rlock()()
	return getTransaction(ctx, s.conn(), id, false)
}

func getTransaction(ctx context.Context, c conn, id wallet.TransactionID, lock bool) (*wallet.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`
	if lock {
		query += c.d.ForUpdate
	}
	t, err := scanTransaction(c.queryRow(ctx, query, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &wallet.NotFoundError{Kind: "transaction", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &t, nil
}

func (s *Store) ListTransactions(ctx context.Context, f wallet.TransactionFilter) ([]wallet.Transaction, error) {
	defer s.rlock()()

	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		where = append(where, cond)
		args = append(args, arg)
	}
	if f.Type != "" {
		add("type = ?", string(f.Type))
	}
	if f.Status != "" {
		add("status = ?", string(f.Status))
	}
	if f.AccountID != "" {
		add("account_id = ?", string(f.AccountID))
	}
	if f.CityID != "" {
		add("city_id = ?", string(f.CityID))
	}
	if f.CreatedBy != "" {
		add("created_by = ?", string(f.CreatedBy))
	}
	if f.ApproverID != "" {
		add("EXISTS (SELECT 1 FROM approvals a WHERE a.transaction_id = transactions.id AND a.approver_id = ?)",
			string(f.ApproverID))
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, reference DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.conn().query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	out := make([]wallet.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// =============================================================================
// APPROVALS
// =============================================================================

const approvalColumns = `id, transaction_id, approver_id, status, comment, decided_at, created_at, updated_at`

func scanApproval(sc interface{ Scan(...any) error }) (wallet.ApprovalRecord, error) {
	var (
		r       wallet.ApprovalRecord
		decided sql.NullTime
	)
	err := sc.Scan(&r.ID, &r.TransactionID, &r.ApproverID, &r.Status, &r.Comment, &decided, &r.CreatedAt, &r.UpdatedAt)
	if err == nil && decided.Valid {
		at := decided.Time
		r.DecidedAt = &at
	}
	return r, err
}

func queryApprovals(ctx context.Context, c conn, query string, args ...any) ([]wallet.ApprovalRecord, error) {
	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query approvals: %w", err)
	}
	defer rows.Close()

	out := make([]wallet.ApprovalRecord, 0)
	for rows.Next() {
		r, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) GetApprovals(ctx context.Context, id wallet.TransactionID) ([]wallet.ApprovalRecord, error) {
	defer s.rlock()()
	return getApprovals(ctx, s.conn(), id)
}

func getApprovals(ctx context.Context, c conn, id wallet.TransactionID) ([]wallet.ApprovalRecord, error) {
	var exists int
	err := c.queryRow(ctx, `SELECT 1 FROM transactions WHERE id = ?`, string(id)).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &wallet.NotFoundError{Kind: "transaction", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check transaction: %w", err)
	}
	return queryApprovals(ctx, c,
		`SELECT `+approvalColumns+` FROM approvals WHERE transaction_id = ? ORDER BY position`, string(id))
}

func (s *Store) PendingApprovals(ctx context.Context, approver wallet.UserID) ([]wallet.ApprovalRecord, error) {
	defer s.rlock()()
	return queryApprovals(ctx, s.conn(),
		`SELECT `+approvalColumns+` FROM approvals WHERE approver_id = ? AND status = ? ORDER BY created_at, id`,
		string(approver), string(wallet.ApprovalPending))
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, e wallet.AuditEntry) error {
	defer s.rlock()()
	details := "{}"
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("failed to encode audit details: %w", err)
		}
		details = string(b)
	}
	_, err := s.conn().exec(ctx, `
		INSERT INTO audit_logs (id, timestamp, actor_id, action, description, transaction_id, details_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp, string(e.ActorID), string(e.Action), e.Description, string(e.TransactionID), details)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// QueryAudit returns matching entries, newest first.
func (s *Store) QueryAudit(ctx context.Context, f wallet.AuditFilter) ([]wallet.AuditEntry, error) {
	defer s.rlock()()

	var (
		where []string
		args  []any
	)
	if f.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, string(f.ActorID))
	}
	if f.TransactionID != "" {
		where = append(where, "transaction_id = ?")
		args = append(args, string(f.TransactionID))
	}
	if len(f.Actions) > 0 {
		marks := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			marks[i] = "?"
			args = append(args, string(a))
		}
		where = append(where, "action IN ("+strings.Join(marks, ", ")+")")
	}

	query := `SELECT id, timestamp, actor_id, action, description, transaction_id, details_json FROM audit_logs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY seq DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.conn().query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	out := make([]wallet.AuditEntry, 0)
	for rows.Next() {
		var (
			e       wallet.AuditEntry
			details string
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.ActorID, &e.Action, &e.Description, &e.TransactionID, &details); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if details != "" && details != "{}" {
			if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
				return nil, fmt.Errorf("failed to decode audit details: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// TX - Writes and locking reads
// =============================================================================

func (t *tx) GetApprovalConfig(ctx context.Context, typ wallet.TransactionType) (*wallet.ApprovalConfig, error) {
	return getApprovalConfig(ctx, t.c, typ)
}

func (t *tx) ActiveAssignments(ctx context.Context, typ wallet.TransactionType) ([]wallet.ApproverAssignment, error) {
	return listAssignments(ctx, t.c, typ, true)
}

func (t *tx) ActiveApprovers(ctx context.Context) ([]wallet.User, error) {
	users, err := listUsers(ctx, t.c, true)
	if err != nil {
		return nil, err
	}
	out := users[:0]
	for _, u := range users {
		if u.CanApproveRequests() {
			out = append(out, u)
		}
	}
	return out, nil
}

func (t *tx) GetUser(ctx context.Context, id wallet.UserID) (*wallet.User, error) {
	return getUser(ctx, t.c, id)
}

func (t *tx) LockTransaction(ctx context.Context, id wallet.TransactionID) (*wallet.Transaction, error) {
	return getTransaction(ctx, t.c, id, true)
}

func (t *tx) LockAccount(ctx context.Context, id wallet.AccountID) (*wallet.Account, error) {
	return getAccount(ctx, t.c, id, true)
}

func (t *tx) GetAccount(ctx context.Context, id wallet.AccountID) (*wallet.Account, error) {
	return getAccount(ctx, t.c, id, false)
}

func (t *tx) GetApprovals(ctx context.Context, id wallet.TransactionID) ([]wallet.ApprovalRecord, error) {
	return getApprovals(ctx, t.c, id)
}

func (t *tx) NextReference(ctx context.Context, prefix string) (int64, error) {
	var n int64
	err := t.c.queryRow(ctx, `
		INSERT INTO reference_counters (prefix, last) VALUES (?, 1)
		ON CONFLICT (prefix) DO UPDATE SET last = reference_counters.last + 1
		RETURNING last`, prefix).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to advance reference counter %s: %w", prefix, err)
	}
	return n, nil
}

func (t *tx) InsertTransaction(ctx context.Context, txn wallet.Transaction) error {
	meta, err := encodeMetadata(txn.Metadata)
	if err != nil {
		return err
	}
	_, err = t.c.exec(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(txn.ID), string(txn.Type), txn.Amount.StringFixed(2), string(txn.Status), txn.Reference,
		txn.Description, string(txn.AccountID), string(txn.CityID), string(txn.CreatedBy),
		txn.RequiredApprovals, meta, txn.CreatedAt, txn.UpdatedAt, nullTime(txn.ExecutedAt))
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (t *tx) InsertApprovals(ctx context.Context, records []wallet.ApprovalRecord) error {
	for i, r := range records {
		_, err := t.c.exec(ctx, `
			INSERT INTO approvals (`+approvalColumns+`, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(r.ID), string(r.TransactionID), string(r.ApproverID), string(r.Status), r.Comment,
			nullTime(r.DecidedAt), r.CreatedAt, r.UpdatedAt, i)
		if err != nil {
			return fmt.Errorf("failed to insert approval for %s: %w", r.ApproverID, err)
		}
	}
	return nil
}

func (t *tx) UpdateTransaction(ctx context.Context, txn wallet.Transaction) error {
	meta, err := encodeMetadata(txn.Metadata)
	if err != nil {
		return err
	}
	res, err := t.c.exec(ctx, `
		UPDATE transactions SET status = ?, metadata_json = ?, updated_at = ?, executed_at = ?
		WHERE id = ?`,
		string(txn.Status), meta, txn.UpdatedAt, nullTime(txn.ExecutedAt), string(txn.ID))
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &wallet.NotFoundError{Kind: "transaction", ID: string(txn.ID)}
	}
	return nil
}

func (t *tx) DecideApproval(ctx context.Context, id wallet.ApprovalID, status wallet.ApprovalStatus, comment string, at time.Time) (bool, error) {
	res, err := t.c.exec(ctx, `
		UPDATE approvals SET status = ?, comment = ?, decided_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(status), comment, at, at, string(id), string(wallet.ApprovalPending))
	if err != nil {
		return false, fmt.Errorf("failed to decide approval: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to decide approval: %w", err)
	}
	return n == 1, nil
}

func (t *tx) UpdateBalance(ctx context.Context, id wallet.AccountID, balance decimal.Decimal, at time.Time) error {
	res, err := t.c.exec(ctx, `UPDATE accounts SET balance = ?, updated_at = ? WHERE id = ?`,
		balance.StringFixed(2), at, string(id))
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &wallet.NotFoundError{Kind: "account", ID: string(id)}
	}
	return nil
}
