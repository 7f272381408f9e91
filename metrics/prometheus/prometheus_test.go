package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/municipal-wallet/metrics"
)

func TestPrometheusCollector_Records(t *testing.T) {
	pc := NewPrometheusCollector("wallet")
	reg := prometheus.NewRegistry()
	require.NoError(t, pc.Register(reg))

	pc.RecordCreated("DEPOSIT", true)
	pc.RecordCreated("DEPOSIT", true)
	pc.RecordCreated("WITHDRAWAL", false)
	pc.RecordDecision("approve", metrics.OutcomeAccepted, 5*time.Millisecond)
	pc.RecordDecision("approve", metrics.OutcomeRefused, time.Millisecond)
	pc.RecordExecution("WITHDRAWAL", false)
	pc.RecordCancelled(true)
	pc.RecordAuditFailure("TRANSACTION_EXECUTED")
	pc.RecordCircuitState("audit-redis", metrics.CircuitOpen)

	assert.Equal(t, 2.0, testutil.ToFloat64(pc.created.WithLabelValues("DEPOSIT", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pc.created.WithLabelValues("WITHDRAWAL", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pc.decisions.WithLabelValues("approve", metrics.OutcomeRefused)))
	assert.Equal(t, 1.0, testutil.ToFloat64(pc.executions.WithLabelValues("WITHDRAWAL", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pc.cancellations.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pc.auditFailures.WithLabelValues("TRANSACTION_EXECUTED")))
	assert.Equal(t, 2.0, testutil.ToFloat64(pc.circuitState.WithLabelValues("audit-redis")))
	assert.Equal(t, 1, testutil.CollectAndCount(pc.decisionLatency))
}

func TestPrometheusCollector_DoubleRegisterFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, NewPrometheusCollector("wallet").Register(reg))
	assert.Error(t, NewPrometheusCollector("wallet").Register(reg))
}
