package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds OpenTelemetry metric instruments
type OTelMetrics struct {
	// HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	// Broker protocol metrics
	brokerOperationsTotal metric.Int64Counter
	brokerOperationTime   metric.Float64Histogram

	// State store metrics
	storeCommandsTotal  metric.Int64Counter
	storeCommandTime    metric.Float64Histogram
	pendingRecordsCount metric.Int64UpDownCounter
}

// NewOTelMetrics creates a new OTel metrics instance
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("github.com/platinummonkey/federate")

	m := &OTelMetrics{}
	var err error

	// HTTP metrics
	m.httpRequestsTotal, err = meter.Int64Counter(
		"http.server.requests",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http.server.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration histogram: %w", err)
	}

	// Broker protocol metrics
	m.brokerOperationsTotal, err = meter.Int64Counter(
		"broker.operations.total",
		metric.WithDescription("Total number of broker protocol operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create broker_operations counter: %w", err)
	}

	m.brokerOperationTime, err = meter.Float64Histogram(
		"broker.operation.duration",
		metric.WithDescription("Broker protocol operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create broker_operation_duration histogram: %w", err)
	}

	// State store metrics
	m.storeCommandsTotal, err = meter.Int64Counter(
		"store.commands.total",
		metric.WithDescription("Total number of state store commands"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store_commands counter: %w", err)
	}

	m.storeCommandTime, err = meter.Float64Histogram(
		"store.command.duration",
		metric.WithDescription("State store command duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store_command_duration histogram: %w", err)
	}

	m.pendingRecordsCount, err = meter.Int64UpDownCounter(
		"store.pending.records",
		metric.WithDescription("Current number of short-lived protocol records"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pending_records counter: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request metric
func (m *OTelMetrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", statusCode),
	}

	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordBrokerOperation records one protocol operation (authorize, validate,
// token, userinfo, logout) and its outcome
func (m *OTelMetrics) RecordBrokerOperation(ctx context.Context, operation string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("broker.operation", operation),
		attribute.Bool("error", err != nil),
	}

	m.brokerOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.brokerOperationTime.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordStoreCommand records a state store round trip
func (m *OTelMetrics) RecordStoreCommand(ctx context.Context, command string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("store.command", command),
		attribute.Bool("error", err != nil),
	}

	m.storeCommandsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.storeCommandTime.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// AdjustPendingRecords moves the pending-record gauge by delta for a record kind
func (m *OTelMetrics) AdjustPendingRecords(ctx context.Context, kind string, delta int64) {
	m.pendingRecordsCount.Add(ctx, delta, metric.WithAttributes(
		attribute.String("store.record.kind", kind),
	))
}
