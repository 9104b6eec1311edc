package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope for all taskguide metrics.
const MeterName = "taskguide"

// MetricsRecorder records engine and agent metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordNodeExecution records a node execution with its duration and error status.
	RecordNodeExecution(ctx context.Context, nodeID string, duration time.Duration, err error)

	// RecordGraphRun records a run segment ending in the given outcome
	// ("completed", "suspended", or "failed").
	RecordGraphRun(ctx context.Context, outcome string, duration time.Duration)

	// RecordCheckpoint records a checkpoint save operation.
	RecordCheckpoint(ctx context.Context, nodeID string, sizeBytes int64)

	// RecordToolCall records one tool invocation from the reasoning loop.
	RecordToolCall(ctx context.Context, tool string, duration time.Duration, err error)

	// RecordLLMCall records one call to the reasoning service.
	RecordLLMCall(ctx context.Context, purpose string, duration time.Duration, err error)
}

type otelMetrics struct {
	nodeExecutions metric.Int64Counter
	nodeLatency    metric.Float64Histogram
	nodeErrors     metric.Int64Counter
	graphRuns      metric.Int64Counter
	graphLatency   metric.Float64Histogram
	checkpointSize metric.Int64Histogram
	toolCalls      metric.Int64Counter
	toolLatency    metric.Float64Histogram
	llmCalls       metric.Int64Counter
	llmLatency     metric.Float64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics(otel.Meter(MeterName))
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics(meter metric.Meter) (*otelMetrics, error) {
	var (
		m   otelMetrics
		err error
	)

	counter := func(name, desc string) metric.Int64Counter {
		if err != nil {
			return nil
		}
		var c metric.Int64Counter
		c, err = meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	latency := func(name, desc string) metric.Float64Histogram {
		if err != nil {
			return nil
		}
		var h metric.Float64Histogram
		h, err = meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("ms"))
		return h
	}

	m.nodeExecutions = counter("taskguide.node.executions", "Number of node executions")
	m.nodeLatency = latency("taskguide.node.latency_ms", "Node execution latency in milliseconds")
	m.nodeErrors = counter("taskguide.node.errors", "Number of node execution errors")
	m.graphRuns = counter("taskguide.graph.runs", "Number of run segments by outcome")
	m.graphLatency = latency("taskguide.graph.latency_ms", "Run segment latency in milliseconds")
	m.toolCalls = counter("taskguide.tool.calls", "Number of tool invocations")
	m.toolLatency = latency("taskguide.tool.latency_ms", "Tool invocation latency in milliseconds")
	m.llmCalls = counter("taskguide.llm.calls", "Number of reasoning service calls")
	m.llmLatency = latency("taskguide.llm.latency_ms", "Reasoning service latency in milliseconds")
	if err != nil {
		return nil, err
	}

	m.checkpointSize, err = meter.Int64Histogram("taskguide.checkpoint.size_bytes",
		metric.WithDescription("Checkpoint size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// NewMetricsRecorder returns a MetricsRecorder backed by the global OTel
// meter provider. If instrument creation fails, returns a no-op recorder.
//
// Configure the provider first, e.g. with NewPrometheusProvider.
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// NewMetricsRecorderFromMeter builds a recorder on an explicit meter.
func NewMetricsRecorderFromMeter(meter metric.Meter) (MetricsRecorder, error) {
	return newOtelMetrics(meter)
}

func (m *otelMetrics) RecordNodeExecution(ctx context.Context, nodeID string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("node_id", nodeID))
	m.nodeExecutions.Add(ctx, 1, attrs)
	m.nodeLatency.Record(ctx, ms(duration), attrs)
	if err != nil {
		m.nodeErrors.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) RecordGraphRun(ctx context.Context, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.graphRuns.Add(ctx, 1, attrs)
	m.graphLatency.Record(ctx, ms(duration), attrs)
}

func (m *otelMetrics) RecordCheckpoint(ctx context.Context, nodeID string, sizeBytes int64) {
	m.checkpointSize.Record(ctx, sizeBytes, metric.WithAttributes(attribute.String("node_id", nodeID)))
}

func (m *otelMetrics) RecordToolCall(ctx context.Context, tool string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.Bool("success", err == nil),
	)
	m.toolCalls.Add(ctx, 1, attrs)
	m.toolLatency.Record(ctx, ms(duration), attrs)
}

func (m *otelMetrics) RecordLLMCall(ctx context.Context, purpose string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("purpose", purpose),
		attribute.Bool("success", err == nil),
	)
	m.llmCalls.Add(ctx, 1, attrs)
	m.llmLatency.Record(ctx, ms(duration), attrs)
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
