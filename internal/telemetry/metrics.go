// Package telemetry provides OpenTelemetry metric instruments and provider
// setup for mcpgate.
package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "mcpgate"

// Metrics holds all mcpgate metric instruments.
type Metrics struct {
	ExecutionsStarted   metric.Int64Counter
	ExecutionsCompleted metric.Int64Counter
	ExecutionsFailed    metric.Int64Counter
	ExecutionsCancelled metric.Int64Counter
	ApprovalChecks      metric.Int64Counter
	ApprovalDenials     metric.Int64Counter
	PollFetches         metric.Int64Counter
	StreamReconnects    metric.Int64Counter
	ExecutionDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.ExecutionsStarted, err = meter.Int64Counter("mcpgate.executions.started",
		metric.WithDescription("Number of tool executions started"))
	if err != nil {
		return nil, err
	}

	m.ExecutionsCompleted, err = meter.Int64Counter("mcpgate.executions.completed",
		metric.WithDescription("Number of tool executions completed"))
	if err != nil {
		return nil, err
	}

	m.ExecutionsFailed, err = meter.Int64Counter("mcpgate.executions.failed",
		metric.WithDescription("Number of tool executions failed or timed out"))
	if err != nil {
		return nil, err
	}

	m.ExecutionsCancelled, err = meter.Int64Counter("mcpgate.executions.cancelled",
		metric.WithDescription("Number of tool executions cancelled"))
	if err != nil {
		return nil, err
	}

	m.ApprovalChecks, err = meter.Int64Counter("mcpgate.approvals.checks",
		metric.WithDescription("Number of approval checks resolved"))
	if err != nil {
		return nil, err
	}

	m.ApprovalDenials, err = meter.Int64Counter("mcpgate.approvals.denials",
		metric.WithDescription("Number of executions blocked pending approval"))
	if err != nil {
		return nil, err
	}

	m.PollFetches, err = meter.Int64Counter("mcpgate.poller.fetches",
		metric.WithDescription("Number of status poll fetches issued"))
	if err != nil {
		return nil, err
	}

	m.StreamReconnects, err = meter.Int64Counter("mcpgate.streams.reconnects",
		metric.WithDescription("Number of server log stream reconnects"))
	if err != nil {
		return nil, err
	}

	m.ExecutionDuration, err = meter.Float64Histogram("mcpgate.execution.duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
