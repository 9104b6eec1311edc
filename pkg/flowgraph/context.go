package flowgraph

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/randalmurphal/taskguide/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/taskguide/pkg/flowgraph/llm"
	"github.com/randalmurphal/taskguide/pkg/flowgraph/observability"
)

// Context provides execution context to nodes.
// It extends context.Context with graph services and metadata.
//
// The executor derives a per-node Context with NodeID set and the logger
// enriched, so nodes never need to add thread or node fields themselves.
type Context interface {
	context.Context

	// Logger returns the configured logger, enriched with thread and node
	// context. Never nil.
	Logger() *slog.Logger

	// LLM returns the reasoning service client, or nil if not configured.
	LLM() llm.Client

	// Checkpointer returns the checkpoint store, or nil if not configured.
	Checkpointer() checkpoint.Store

	// Metrics returns the metrics recorder. Never nil.
	Metrics() observability.MetricsRecorder

	// ThreadID identifies the conversation this execution belongs to.
	ThreadID() string

	// NodeID returns the node being executed; empty outside a node.
	NodeID() string

	// Attempt returns the attempt number (1 = first attempt).
	Attempt() int
}

type executionContext struct {
	context.Context

	logger       *slog.Logger
	llmClient    llm.Client
	checkpointer checkpoint.Store
	metrics      observability.MetricsRecorder
	threadID     string
	nodeID       string
	attempt      int
}

func (c *executionContext) Logger() *slog.Logger                    { return c.logger }
func (c *executionContext) LLM() llm.Client                         { return c.llmClient }
func (c *executionContext) Checkpointer() checkpoint.Store          { return c.checkpointer }
func (c *executionContext) Metrics() observability.MetricsRecorder { return c.metrics }
func (c *executionContext) ThreadID() string                        { return c.threadID }
func (c *executionContext) NodeID() string                          { return c.nodeID }
func (c *executionContext) Attempt() int                            { return c.attempt }

// ContextOption configures a Context.
type ContextOption func(*executionContext)

// WithLogger sets the base logger for the context.
func WithLogger(logger *slog.Logger) ContextOption {
	return func(c *executionContext) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithLLM sets the reasoning service client.
func WithLLM(client llm.Client) ContextOption {
	return func(c *executionContext) {
		c.llmClient = client
	}
}

// WithCheckpointer exposes a checkpoint store to nodes.
func WithCheckpointer(store checkpoint.Store) ContextOption {
	return func(c *executionContext) {
		c.checkpointer = store
	}
}

// WithMetricsRecorder sets the recorder nodes use for their own metrics.
func WithMetricsRecorder(m observability.MetricsRecorder) ContextOption {
	return func(c *executionContext) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithContextThreadID sets the thread identifier. If unset, a UUID is
// generated. The RunOption WithThreadID takes precedence for checkpointing.
func WithContextThreadID(id string) ContextOption {
	return func(c *executionContext) {
		c.threadID = id
	}
}

// NewContext creates an execution context from a standard context.
//
//	ctx := flowgraph.NewContext(context.Background(),
//	    flowgraph.WithLogger(logger),
//	    flowgraph.WithLLM(client),
//	    flowgraph.WithContextThreadID("thread-123"))
func NewContext(ctx context.Context, opts ...ContextOption) Context {
	ec := &executionContext{
		Context:  ctx,
		logger:   slog.Default(),
		metrics:  observability.NoopMetrics{},
		threadID: uuid.New().String(),
		attempt:  1,
	}

	for _, opt := range opts {
		opt(ec)
	}

	return ec
}

// derive returns a copy bound to a node and to a possibly span-carrying
// standard context.
func (c *executionContext) derive(std context.Context, threadID, nodeID string) *executionContext {
	return &executionContext{
		Context:      std,
		logger:       observability.EnrichLogger(c.logger, threadID, nodeID, c.attempt),
		llmClient:    c.llmClient,
		checkpointer: c.checkpointer,
		metrics:      c.metrics,
		threadID:     threadID,
		nodeID:       nodeID,
		attempt:      c.attempt,
	}
}

// nodeContext adapts any Context for a node. Foreign implementations are
// passed through unchanged.
func nodeContext(ctx Context, std context.Context, threadID, nodeID string) Context {
	if ec, ok := ctx.(*executionContext); ok {
		return ec.derive(std, threadID, nodeID)
	}
	return ctx
}
