package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecordExecution(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheusTelemetry(reg)
	ctx := context.Background()

	p.RecordExecution(ctx, ExecutionInfo{
		Migration:   "add-users",
		Operation:   "apply",
		Environment: "production",
		Duration:    25 * time.Millisecond,
		Success:     true,
	})
	p.RecordExecution(ctx, ExecutionInfo{
		Migration:   "add-users",
		Operation:   "apply",
		Environment: "production",
		Duration:    5 * time.Millisecond,
		Success:     false,
	})

	success := p.executionTotal.WithLabelValues("apply", "production", "success")
	failure := p.executionTotal.WithLabelValues("apply", "production", "error")
	assert.Equal(t, float64(1), testutil.ToFloat64(success))
	assert.Equal(t, float64(1), testutil.ToFloat64(failure))
}

func TestPrometheusRecordError(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheusTelemetry(reg)

	p.RecordError(context.Background(), ErrorInfo{
		Error:     errors.New("write failed"),
		Operation: "audit",
	})

	counter := p.errorTotal.WithLabelValues("audit")
	assert.Equal(t, float64(1), testutil.ToFloat64(counter))
}

func TestPrometheusFlushAndClose(t *testing.T) {
	p := NewPrometheusTelemetry(prometheus.NewRegistry())
	require.NoError(t, p.Flush(context.Background()))
	require.NoError(t, p.Close(context.Background()))
}

func TestNoopTelemetry(t *testing.T) {
	n := NewNoopTelemetry()
	ctx := context.Background()

	n.RecordExecution(ctx, ExecutionInfo{Operation: "apply"})
	n.RecordError(ctx, ErrorInfo{Operation: "audit"})
	require.NoError(t, n.Flush(ctx))
	require.NoError(t, n.Close(ctx))
}
