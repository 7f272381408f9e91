/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the municipal wallet server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration (viper)
  2. Build the logger
  3. Open the store (SQLite or PostgreSQL)
  4. Wire audit sinks, metrics and the wallet service
  5. Apply the optional seed fixture or scenario
  6. Configure HTTP router and start the server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Config file (YAML, JSON or TOML). Optional.
  -port    HTTP server port. Overrides server.port.
  -db      SQLite database path. Overrides database.path.
           Use ":memory:" for in-memory database
  -seed           Fixture file applied at startup
  -seed-scenario  Built-in scenario loaded at startup (resets the store)

ENVIRONMENT:
  Every config key can be set as WALLET_<SECTION>_<KEY>, for example
  WALLET_DATABASE_DRIVER=postgres or WALLET_AUDIT_REDIS_ENABLED=true.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (server.shutdown_timeout)
  3. Close the audit stream and database connection
  4. Exit

EXAMPLES:
  # Run with file database and a demo scenario
  ./server -db="./data/wallet.db" -seed-scenario=standard-city

  # Run against PostgreSQL
  WALLET_DATABASE_DRIVER=postgres WALLET_DATABASE_POSTGRES_DSN=postgres://... ./server

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/warp/municipal-wallet/api"
	"github.com/warp/municipal-wallet/audit"
	"github.com/warp/municipal-wallet/config"
	"github.com/warp/municipal-wallet/logging"
	metricsprom "github.com/warp/municipal-wallet/metrics/prometheus"
	"github.com/warp/municipal-wallet/seed"
	"github.com/warp/municipal-wallet/store/postgres"
	"github.com/warp/municipal-wallet/store/sqlite"
	"github.com/warp/municipal-wallet/wallet"
)

// backend is what both SQL stores provide.
type backend interface {
	wallet.Store
	wallet.AuditLog
	io.Closer
}

func main() {
	configPath := flag.String("config", "", "Config file path")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	seedFile := flag.String("seed", "", "Fixture file applied at startup (overrides config)")
	seedScenario := flag.String("seed-scenario", "", "Built-in scenario loaded at startup (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *seedFile != "" {
		cfg.Seed.File = *seedFile
	}
	if *seedScenario != "" {
		cfg.Seed.Scenario = *seedScenario
	}

	logger, err := logging.NewLogger(cfg.LoggingConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx := context.Background()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()
	logger.Info("store ready", zap.String("driver", cfg.Database.Driver))

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metricsprom.NewPrometheusCollector(cfg.Metrics.Namespace)
	if err := collector.Register(reg); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	// Audit sinks. Redis is optional and sits behind a breaker.
	sinks := []wallet.AuditLogger{audit.NewStoreSink(store), audit.NewZapSink(logger)}
	if cfg.Audit.Redis.Enabled {
		stream, err := audit.DialRedisStream(cfg.RedisStreamConfig())
		if err != nil {
			return err
		}
		defer stream.Close()
		sinks = append(sinks, audit.NewBreaker(stream, cfg.BreakerConfig(), logger, collector))
		logger.Info("audit stream enabled", zap.String("addr", cfg.Audit.Redis.Addr), zap.String("stream", cfg.Audit.Redis.Stream))
	}

	svc := wallet.NewService(store, wallet.ServiceConfig{
		Defaults: cfg.ApprovalDefaults(),
		Audit:    audit.NewMulti(sinks...),
		AuditLog: store,
		Metrics:  collector,
		Logger:   logger,
	})
	loader := seed.NewLoader(store, svc, logger)

	if err := applySeed(ctx, cfg, loader, logger); err != nil {
		return err
	}

	handler := api.NewHandler(svc, loader, logger)
	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Gatherer:       reg,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (backend, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		return postgres.New(ctx, cfg.PostgresConfig())
	default:
		return sqlite.New(cfg.Database.Path)
	}
}

func applySeed(ctx context.Context, cfg *config.Config, loader *seed.Loader, logger *logging.Logger) error {
	var (
		rep *seed.Report
		err error
	)
	switch {
	case cfg.Seed.Scenario != "":
		rep, err = loader.LoadScenario(ctx, cfg.Seed.Scenario)
	case cfg.Seed.File != "":
		var f *seed.Fixture
		if f, err = seed.LoadFile(cfg.Seed.File); err == nil {
			rep, err = loader.Apply(ctx, f)
		}
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to apply seed: %w", err)
	}
	logger.Info("seed applied",
		zap.String("fixture", rep.Fixture),
		zap.Int("users", rep.Users),
		zap.Int("transactions", len(rep.Transactions)))
	return nil
}
