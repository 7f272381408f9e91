/*
Package audit provides destinations for the workflow's audit trail.

PURPOSE:
  The service hands every entry to one wallet.AuditLogger after the state
  change has committed. This package supplies the loggers and the
  combinators used to build that one logger from several sinks.

SINKS:
  StoreSink:   Appends to the audit_logs table (queryable by admins)
  ZapSink:     Writes a structured log line per entry
  RedisStream: XADDs the entry to a Redis stream for downstream consumers

COMBINATORS:
  Multi:   Fan-out to every sink; returns the joined errors
  Breaker: Circuit breaker and timeout around a remote sink

TYPICAL WIRING:
  audit.NewMulti(
      audit.NewStoreSink(store),
      audit.NewZapSink(logger),
      audit.NewBreaker(audit.NewRedisStream(client, cfg), breakerCfg, logger, collector),
  )

SEE ALSO:
  - wallet/store.go: AuditLogger and AuditLog interfaces
  - wallet/service.go: record(), where failures are logged and counted
*/
package audit

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/warp/municipal-wallet/logging"
	"github.com/warp/municipal-wallet/wallet"
)

// =============================================================================
// MULTI - Fan-out
// =============================================================================

// Multi delivers each entry to every sink. One sink failing does not stop
// the others.
type Multi struct {
	sinks []wallet.AuditLogger
}

func NewMulti(sinks ...wallet.AuditLogger) *Multi {
	out := make([]wallet.AuditLogger, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Multi{sinks: out}
}

func (m *Multi) LogAction(ctx context.Context, entry wallet.AuditEntry) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.LogAction(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// STORE SINK
// =============================================================================

// StoreSink appends entries to an AuditLog.
type StoreSink struct {
	log wallet.AuditLog
}

func NewStoreSink(log wallet.AuditLog) *StoreSink {
	return &StoreSink{log: log}
}

func (s *StoreSink) LogAction(ctx context.Context, entry wallet.AuditEntry) error {
	if err := s.log.AppendAudit(ctx, entry); err != nil {
		return fmt.Errorf("audit store: %w", err)
	}
	return nil
}

// =============================================================================
// ZAP SINK
// =============================================================================

// ZapSink writes one info line per entry. It never fails.
type ZapSink struct {
	logger *logging.Logger
}

func NewZapSink(logger *logging.Logger) *ZapSink {
	return &ZapSink{logger: logger.Named("audit")}
}

func (s *ZapSink) LogAction(_ context.Context, entry wallet.AuditEntry) error {
	fields := []zap.Field{
		zap.String("audit_id", entry.ID),
		zap.Time("timestamp", entry.Timestamp),
		zap.String("actor", string(entry.ActorID)),
		zap.String("action", string(entry.Action)),
	}
	if entry.TransactionID != "" {
		fields = append(fields, zap.String("transaction_id", string(entry.TransactionID)))
	}
	if len(entry.Details) > 0 {
		fields = append(fields, zap.Any("details", entry.Details))
	}
	s.logger.Info(entry.Description, fields...)
	return nil
}
