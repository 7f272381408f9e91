package audit

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/warp/municipal-wallet/logging"
	"github.com/warp/municipal-wallet/metrics"
	"github.com/warp/municipal-wallet/wallet"
)

var (
	// ErrCircuitOpen is returned while the breaker refuses calls to a failing sink.
	ErrCircuitOpen = errors.New("audit: circuit breaker is open")
	// ErrTimeout is returned when a sink does not answer within BreakerConfig.Timeout.
	ErrTimeout = errors.New("audit: sink timed out")
)

// BreakerConfig configures the circuit breaker around a remote sink.
type BreakerConfig struct {
	Name string
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval after which closed-state counts are cleared. 0 never clears.
	Interval time.Duration
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// Failures in a row that trip the breaker.
	Failures uint32
	// CallTimeout bounds a single LogAction. 0 disables it.
	CallTimeout time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:        "audit",
		MaxRequests: 1,
		Interval:    time.Minute,
		OpenTimeout: 30 * time.Second,
		Failures:    5,
		CallTimeout: 2 * time.Second,
	}
}

// Breaker wraps a sink with a circuit breaker and a per-call timeout.
type Breaker struct {
	sink    wallet.AuditLogger
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	logger  *logging.Logger
}

func NewBreaker(sink wallet.AuditLogger, cfg BreakerConfig, logger *logging.Logger, collector metrics.Collector) *Breaker {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	if cfg.Name == "" {
		cfg.Name = "audit"
	}
	if cfg.Failures == 0 {
		cfg.Failures = 5
	}
	logger = logger.Named("breaker").With(zap.String("sink", cfg.Name))

	b := &Breaker{sink: sink, timeout: cfg.CallTimeout, logger: logger}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Failures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			collector.RecordCircuitState(name, circuitState(to))
		},
	})
	return b
}

func circuitState(s gobreaker.State) metrics.CircuitState {
	switch s {
	case gobreaker.StateHalfOpen:
		return metrics.CircuitHalfOpen
	case gobreaker.StateOpen:
		return metrics.CircuitOpen
	}
	return metrics.CircuitClosed
}

// State reports the breaker state.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }

func (b *Breaker) LogAction(ctx context.Context, entry wallet.AuditEntry) error {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.sink.LogAction(ctx, entry)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return ErrCircuitOpen
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		b.logger.Warn("sink timed out", zap.String("action", string(entry.Action)), zap.Duration("timeout", b.timeout))
		return ErrTimeout
	}
	return err
}
