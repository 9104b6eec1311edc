package flowgraph

import (
	"log/slog"

	"github.com/randalmurphal/taskguide/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/taskguide/pkg/flowgraph/observability"
)

// DefaultMaxIterations bounds node executions per run segment.
const DefaultMaxIterations = 1000

// runConfig holds configuration for graph execution.
type runConfig struct {
	maxIterations int

	checkpointStore        checkpoint.Store
	threadID               string
	checkpointFailureFatal bool
	sequence               int

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
	tracing bool
	name    string
}

func defaultRunConfig() runConfig {
	return runConfig{
		maxIterations: DefaultMaxIterations,
		metrics:       observability.NoopMetrics{},
		spans:         observability.NoopSpanManager{},
		name:          "flowgraph",
	}
}

// RunOption configures execution behavior.
type RunOption func(*runConfig)

// WithMaxIterations sets the maximum number of node executions.
// Default: 1000
//
// This prevents infinite loops from hanging forever. If a graph
// exceeds this limit, the run returns a *MaxIterationsError.
func WithMaxIterations(n int) RunOption {
	return func(c *runConfig) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// WithCheckpointing saves a checkpoint after every node to store.
// Requires WithThreadID.
func WithCheckpointing(store checkpoint.Store) RunOption {
	return func(c *runConfig) {
		c.checkpointStore = store
	}
}

// WithThreadID sets the key checkpoints are stored under.
func WithThreadID(id string) RunOption {
	return func(c *runConfig) {
		c.threadID = id
	}
}

// WithCheckpointFailureFatal makes a failed per-node checkpoint stop the
// run. By default such failures are logged and execution continues.
// Suspension checkpoints are always fatal on failure.
func WithCheckpointFailureFatal(fatal bool) RunOption {
	return func(c *runConfig) {
		c.checkpointFailureFatal = fatal
	}
}

// WithRunLogger sets the logger for run-level events.
func WithRunLogger(logger *slog.Logger) RunOption {
	return func(c *runConfig) {
		c.logger = logger
	}
}

// WithMetrics records node, run, and checkpoint metrics to m.
func WithMetrics(m observability.MetricsRecorder) RunOption {
	return func(c *runConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracing wraps the run and each node in spans from sm.
func WithTracing(sm observability.SpanManager) RunOption {
	return func(c *runConfig) {
		if sm != nil {
			c.spans = sm
			c.tracing = true
		}
	}
}

// WithGraphName labels the run span.
func WithGraphName(name string) RunOption {
	return func(c *runConfig) {
		if name != "" {
			c.name = name
		}
	}
}
