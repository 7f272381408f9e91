/*
Package sqlite provides a SQLite-backed implementation of the wallet storage interfaces.

PURPOSE:
  Embedded, single-file persistence for the approval engine. All queries
  live in store/sqldb and are shared with PostgreSQL; this package owns
  the schema, the connection settings, and the SQLite error dialect.

INTERFACES IMPLEMENTED:
  wallet.Store:    Directory, transactions, approvals, WithTx
  wallet.AuditLog: Append-only audit trail

KEY TABLES:
  transactions:         Deposit and withdrawal requests with status
  approvals:            One row per (transaction, approver); insertion order kept in position
  accounts:             City balances
  approver_assignments: Roster configuration per transaction type
  approval_configs:     Required approvals per transaction type
  reference_counters:   Per-prefix sequence behind DEP-000001 / WTH-000001
  audit_logs:           Who did what when

CONCURRENCY:
  SQLite has no row locks. Uses sync.RWMutex: every WithTx unit holds the
  write lock, plain reads share the read lock. In production with
  PostgreSQL, database-level locking handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Readers don't block the writer
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/wallet.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := wallet.NewService(store, wallet.ServiceConfig{AuditLog: store})

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - store/sqldb: Queries shared with PostgreSQL
  - store/postgres: PostgreSQL implementation
  - wallet/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/municipal-wallet/store/sqldb"
)

// Dialect is the SQLite flavour of the shared queries.
var Dialect = sqldb.Dialect{
	Name:              "sqlite",
	IsUniqueViolation: isUniqueConstraintError,
}

// Store implements all storage interfaces using SQLite.
type Store struct {
	*sqldb.Store
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per-connection, and the
	// writer mutex already serializes units.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	store.Store = sqldb.New(db, Dialect, sqldb.WithWriterLock(&store.mu))

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(schema)
	return err
}

// Timestamps are declared TIMESTAMP so go-sqlite3 scans them back into time.Time.
// Money is TEXT with two decimals.
const schema = `
	CREATE TABLE IF NOT EXISTS cities (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		country TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL DEFAULT '',
		full_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		city_id TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_active ON users(active);

	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		city_id TEXT NOT NULL REFERENCES cities(id),
		name TEXT NOT NULL,
		balance TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT 'USD',
		active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL CHECK (type IN ('DEPOSIT', 'WITHDRAWAL')),
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		reference TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		account_id TEXT NOT NULL REFERENCES accounts(id),
		city_id TEXT NOT NULL,
		created_by TEXT NOT NULL,
		required_approvals INTEGER NOT NULL,
		metadata_json TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		executed_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);
	CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_city_created ON transactions(city_id, created_at);

	CREATE TABLE IF NOT EXISTS approvals (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL REFERENCES transactions(id),
		approver_id TEXT NOT NULL,
		status TEXT NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		decided_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		position INTEGER NOT NULL,
		UNIQUE (transaction_id, approver_id)
	);

	CREATE INDEX IF NOT EXISTS idx_approvals_pending ON approvals(approver_id, status);

	CREATE TABLE IF NOT EXISTS approver_assignments (
		transaction_type TEXT NOT NULL,
		approver_id TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (transaction_type, approver_id)
	);

	CREATE TABLE IF NOT EXISTS approval_configs (
		transaction_type TEXT PRIMARY KEY,
		required_approvals INTEGER NOT NULL CHECK (required_approvals > 0),
		active INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reference_counters (
		prefix TEXT PRIMARY KEY,
		last INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_logs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		timestamp TIMESTAMP NOT NULL,
		actor_id TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		transaction_id TEXT NOT NULL DEFAULT '',
		details_json TEXT NOT NULL DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_audit_transaction ON audit_logs(transaction_id);
	CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_logs(actor_id);
`

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
