/*
Package config loads server configuration with viper.

PURPOSE:
  One place that knows every setting, its default, and where it can come
  from. Precedence, highest first:
    1. Command-line flags (applied by cmd/server after Load)
    2. Environment variables, prefix WALLET_, dots become underscores
       (server.port -> WALLET_SERVER_PORT)
    3. Config file (YAML, JSON or TOML, picked by extension)
    4. Defaults below

KEYS:
  server.*     Listen port, timeouts, CORS origins
  database.*   Driver (sqlite|postgres), SQLite path, PostgreSQL connection
  log.*        Level, format, development mode
  approvals.*  Default required approvals when no active config row exists
  audit.*      Redis stream sink and the circuit breaker in front of it
  metrics.*    Prometheus namespace
  seed.*       Fixture file applied at startup

SEE ALSO:
  - cmd/server/main.go: Flag overrides and wiring
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/warp/municipal-wallet/audit"
	"github.com/warp/municipal-wallet/logging"
	"github.com/warp/municipal-wallet/store/postgres"
	"github.com/warp/municipal-wallet/wallet"
)

const EnvPrefix = "WALLET"

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Log       LogConfig
	Approvals ApprovalsConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	Seed      SeedConfig
}

type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type DatabaseConfig struct {
	Driver   string
	Path     string
	Postgres PostgresConfig
}

type PostgresConfig struct {
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

type LogConfig struct {
	Level       string
	Format      string
	Development bool
}

type ApprovalsConfig struct {
	DefaultDeposit    int
	DefaultWithdrawal int
}

type AuditConfig struct {
	Redis   RedisConfig
	Breaker BreakerConfig
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
}

type BreakerConfig struct {
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	Failures    uint32
	CallTimeout time.Duration
}

type MetricsConfig struct {
	Namespace string
}

type SeedConfig struct {
	File     string
	Scenario string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "./wallet.db")
	v.SetDefault("database.postgres.dsn", "")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.password", "postgres")
	v.SetDefault("database.postgres.name", "municipal_wallet")
	v.SetDefault("database.postgres.sslmode", "disable")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.development", false)

	v.SetDefault("approvals.default_deposit", wallet.DefaultApprovals.Deposit)
	v.SetDefault("approvals.default_withdrawal", wallet.DefaultApprovals.Withdrawal)

	v.SetDefault("audit.redis.enabled", false)
	v.SetDefault("audit.redis.addr", "localhost:6379")
	v.SetDefault("audit.redis.password", "")
	v.SetDefault("audit.redis.db", 0)
	v.SetDefault("audit.redis.stream", "wallet:audit")
	v.SetDefault("audit.redis.max_len", 100000)
	v.SetDefault("audit.breaker.max_requests", 1)
	v.SetDefault("audit.breaker.interval", time.Minute)
	v.SetDefault("audit.breaker.timeout", 30*time.Second)
	v.SetDefault("audit.breaker.failures", 5)
	v.SetDefault("audit.breaker.call_timeout", 2*time.Second)

	v.SetDefault("metrics.namespace", "municipal_wallet")

	v.SetDefault("seed.file", "")
	v.SetDefault("seed.scenario", "")
}

// Load reads configuration from path (optional), the environment and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetInt("server.port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			IdleTimeout:     v.GetDuration("server.idle_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			AllowedOrigins:  stringList(v.GetStringSlice("server.allowed_origins")),
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(v.GetString("database.driver")),
			Path:   v.GetString("database.path"),
			Postgres: PostgresConfig{
				DSN:      v.GetString("database.postgres.dsn"),
				Host:     v.GetString("database.postgres.host"),
				Port:     v.GetInt("database.postgres.port"),
				User:     v.GetString("database.postgres.user"),
				Password: v.GetString("database.postgres.password"),
				Name:     v.GetString("database.postgres.name"),
				SSLMode:  v.GetString("database.postgres.sslmode"),
			},
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Format:      v.GetString("log.format"),
			Development: v.GetBool("log.development"),
		},
		Approvals: ApprovalsConfig{
			DefaultDeposit:    v.GetInt("approvals.default_deposit"),
			DefaultWithdrawal: v.GetInt("approvals.default_withdrawal"),
		},
		Audit: AuditConfig{
			Redis: RedisConfig{
				Enabled:  v.GetBool("audit.redis.enabled"),
				Addr:     v.GetString("audit.redis.addr"),
				Password: v.GetString("audit.redis.password"),
				DB:       v.GetInt("audit.redis.db"),
				Stream:   v.GetString("audit.redis.stream"),
				MaxLen:   v.GetInt64("audit.redis.max_len"),
			},
			Breaker: BreakerConfig{
				MaxRequests: v.GetUint32("audit.breaker.max_requests"),
				Interval:    v.GetDuration("audit.breaker.interval"),
				Timeout:     v.GetDuration("audit.breaker.timeout"),
				Failures:    v.GetUint32("audit.breaker.failures"),
				CallTimeout: v.GetDuration("audit.breaker.call_timeout"),
			},
		},
		Metrics: MetricsConfig{Namespace: v.GetString("metrics.namespace")},
		Seed: SeedConfig{
			File:     v.GetString("seed.file"),
			Scenario: v.GetString("seed.scenario"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// stringList accepts both YAML lists and "a,b" strings from the environment.
func stringList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("config: database.path is required for sqlite")
		}
	case DriverPostgres:
	default:
		return fmt.Errorf("config: unknown database.driver %q", c.Database.Driver)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Approvals.DefaultDeposit < 1 || c.Approvals.DefaultWithdrawal < 1 {
		return fmt.Errorf("config: approvals defaults must be at least 1")
	}
	return nil
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func (c *Config) LoggingConfig() logging.Config {
	lc := logging.DefaultConfig()
	if c.Log.Development {
		lc = logging.DevelopmentConfig()
	}
	lc.Level = c.Log.Level
	if c.Log.Format != "" {
		lc.Format = c.Log.Format
	}
	return lc
}

func (c *Config) ApprovalDefaults() wallet.Defaults {
	return wallet.Defaults{
		Deposit:    c.Approvals.DefaultDeposit,
		Withdrawal: c.Approvals.DefaultWithdrawal,
	}
}

func (c *Config) PostgresConfig() postgres.Config {
	pc := postgres.DefaultConfig()
	p := c.Database.Postgres
	pc.DSN = p.DSN
	pc.Host = p.Host
	pc.Port = p.Port
	pc.User = p.User
	pc.Password = p.Password
	pc.Database = p.Name
	pc.SSLMode = p.SSLMode
	return pc
}

func (c *Config) RedisStreamConfig() audit.RedisStreamConfig {
	rc := audit.DefaultRedisStreamConfig()
	r := c.Audit.Redis
	rc.Addr = r.Addr
	rc.Password = r.Password
	rc.DB = r.DB
	rc.Stream = r.Stream
	rc.MaxLen = r.MaxLen
	return rc
}

func (c *Config) BreakerConfig() audit.BreakerConfig {
	b := c.Audit.Breaker
	return audit.BreakerConfig{
		Name:        "audit-redis",
		MaxRequests: b.MaxRequests,
		Interval:    b.Interval,
		OpenTimeout: b.Timeout,
		Failures:    b.Failures,
		CallTimeout: b.CallTimeout,
	}
}
