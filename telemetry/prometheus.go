package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusTelemetry implements Telemetry using Prometheus metrics.
type PrometheusTelemetry struct {
	executionDuration *prometheus.HistogramVec
	executionTotal    *prometheus.CounterVec
	errorTotal        *prometheus.CounterVec
}

// NewPrometheusTelemetry creates a Prometheus telemetry adapter and
// registers its collectors with the given registerer.
func NewPrometheusTelemetry(reg prometheus.Registerer) *PrometheusTelemetry {
	p := &PrometheusTelemetry{
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "schemaguard_execution_duration_seconds",
			Help:    "Duration of migration apply/rollback transactions.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 60},
		}, []string{"operation", "environment"}),
		executionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schemaguard_executions_total",
			Help: "Number of migration execution attempts.",
		}, []string{"operation", "environment", "status"}),
		errorTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schemaguard_errors_total",
			Help: "Number of non-execution failures.",
		}, []string{"operation"}),
	}
	reg.MustRegister(p.executionDuration, p.executionTotal, p.errorTotal)
	return p
}

// RecordExecution records one apply/rollback attempt.
func (p *PrometheusTelemetry) RecordExecution(ctx context.Context, info ExecutionInfo) {
	p.executionDuration.WithLabelValues(info.Operation, info.Environment).Observe(info.Duration.Seconds())
	status := "success"
	if !info.Success {
		status = "error"
	}
	p.executionTotal.WithLabelValues(info.Operation, info.Environment, status).Inc()
}

// RecordError records a failure outside the execution path.
func (p *PrometheusTelemetry) RecordError(ctx context.Context, info ErrorInfo) {
	p.errorTotal.WithLabelValues(info.Operation).Inc()
}

// Flush does nothing; collectors are scraped, not pushed.
func (p *PrometheusTelemetry) Flush(ctx context.Context) error { return nil }

// Close does nothing.
func (p *PrometheusTelemetry) Close(ctx context.Context) error { return nil }

var _ Telemetry = (*PrometheusTelemetry)(nil)
