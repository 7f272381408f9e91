/*
Package postgres provides a PostgreSQL-backed implementation of the wallet storage interfaces.

PURPOSE:
  Production persistence for the approval engine. Queries are shared with
  SQLite through store/sqldb; this package owns the PostgreSQL schema, pool
  settings, and error dialect.

CONCURRENCY:
  LockTransaction and LockAccount read with SELECT ... FOR UPDATE. Two
  decisions on the same transaction queue on its row; the second sees the
  first one's committed state.

USAGE:
  store, err := postgres.New(ctx, postgres.DefaultConfig())
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - store/sqldb: Shared queries
  - store/sqlite: Embedded implementation
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/warp/municipal-wallet/store/sqldb"
)

const uniqueViolation = "23505"

// Dialect is the PostgreSQL flavour of the shared queries.
var Dialect = sqldb.Dialect{
	Name:              "postgres",
	Numbered:          true,
	ForUpdate:         " FOR UPDATE",
	IsUniqueViolation: isUniqueViolation,
}

// Config holds PostgreSQL connection configuration.
type Config struct {
	// DSN wins over the individual fields when set.
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns default PostgreSQL configuration.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Password:        "postgres",
		Database:        "municipal_wallet",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// ConnString renders the lib/pq connection string.
func (c Config) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Store implements all storage interfaces using PostgreSQL.
type Store struct {
	*sqldb.Store
	db *sql.DB
}

// New opens a connection pool, pings it, and migrates the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{Store: sqldb.New(db, Dialect), db: db}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
	CREATE TABLE IF NOT EXISTS cities (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		country TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL DEFAULT '',
		full_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		city_id TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		city_id TEXT NOT NULL REFERENCES cities(id),
		name TEXT NOT NULL,
		balance NUMERIC(18,2) NOT NULL CHECK (balance >= 0),
		currency TEXT NOT NULL DEFAULT 'USD',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL CHECK (type IN ('DEPOSIT', 'WITHDRAWAL')),
		amount NUMERIC(18,2) NOT NULL CHECK (amount > 0),
		status TEXT NOT NULL,
		reference TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		account_id TEXT NOT NULL REFERENCES accounts(id),
		city_id TEXT NOT NULL,
		created_by TEXT NOT NULL,
		required_approvals INTEGER NOT NULL,
		metadata_json TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		executed_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);
	CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_city_created ON transactions(city_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS approvals (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL REFERENCES transactions(id),
		approver_id TEXT NOT NULL,
		status TEXT NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		decided_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		position INTEGER NOT NULL,
		UNIQUE (transaction_id, approver_id)
	);

	CREATE INDEX IF NOT EXISTS idx_approvals_pending ON approvals(approver_id, status);

	CREATE TABLE IF NOT EXISTS approver_assignments (
		transaction_type TEXT NOT NULL,
		approver_id TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (transaction_type, approver_id)
	);

	CREATE TABLE IF NOT EXISTS approval_configs (
		transaction_type TEXT PRIMARY KEY,
		required_approvals INTEGER NOT NULL CHECK (required_approvals > 0),
		active BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reference_counters (
		prefix TEXT PRIMARY KEY,
		last BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_logs (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		timestamp TIMESTAMPTZ NOT NULL,
		actor_id TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		transaction_id TEXT NOT NULL DEFAULT '',
		details_json TEXT NOT NULL DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_audit_transaction ON audit_logs(transaction_id);
	CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_logs(actor_id);
`

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
