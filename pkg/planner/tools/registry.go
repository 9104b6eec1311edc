// Package tools is the tool set offered to the reasoning service during
// the recommendation loop and the simple path.
//
// A Registry maps tool names to implementations and executes model tool
// calls. Execution never panics the caller: an unknown tool or a failing
// tool comes back as a *errors.ToolError that the planner turns into an
// observation so the loop can continue.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	flowerrors "github.com/randalmurphal/taskguide/pkg/flowgraph/errors"
	"github.com/randalmurphal/taskguide/pkg/flowgraph/llm"
	"github.com/randalmurphal/taskguide/pkg/flowgraph/observability"
	"github.com/randalmurphal/taskguide/pkg/planner/retrieval"
)

// ErrUnknownTool is wrapped in the ToolError returned for an unregistered name.
var ErrUnknownTool = errors.New("unknown tool")

// Result is what a tool hands back to the loop.
type Result struct {
	// Observation is appended to the message log as the tool turn.
	Observation string
	// Evidence holds retrieval hits the tool produced, if any.
	Evidence []retrieval.Result
}

// Tool is a callable tool.
type Tool interface {
	Definition() llm.Tool
	Call(ctx context.Context, args Args) (Result, error)
}

// Func adapts a function to Tool.
type Func struct {
	Def llm.Tool
	Fn  func(ctx context.Context, args Args) (Result, error)
}

// Definition implements Tool.
func (f Func) Definition() llm.Tool { return f.Def }

// Call implements Tool.
func (f Func) Call(ctx context.Context, args Args) (Result, error) { return f.Fn(ctx, args) }

// Registry is a thread-safe set of tools keyed by name.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Tool
	logger  *slog.Logger
	metrics observability.MetricsRecorder
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger for tool execution.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithMetrics records every execution.
func WithMetrics(m observability.MetricsRecorder) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries: make(map[string]Tool),
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces a tool under its definition name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[t.Definition().Name] = t
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.entries[name]
	return t, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Definitions returns every tool definition in name order.
func (r *Registry) Definitions() []llm.Tool {
	names := r.Names()
	defs := make([]llm.Tool, 0, len(names))
	for _, name := range names {
		if t, ok := r.Get(name); ok {
			defs = append(defs, t.Definition())
		}
	}
	return defs
}

// Execute decodes the call's arguments and runs the named tool.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall) (Result, error) {
	start := time.Now()
	res, err := r.execute(ctx, call)
	dur := time.Since(start)
	r.metrics.RecordToolCall(ctx, call.Name, dur, err)

	if err != nil {
		r.logger.Warn("tool failed", "tool", call.Name, "call_id", call.ID, "error", err)
		return Result{}, &flowerrors.ToolError{Tool: call.Name, Err: err}
	}
	r.logger.Debug("tool executed",
		"tool", call.Name,
		"call_id", call.ID,
		"duration_ms", dur.Milliseconds(),
		"evidence", len(res.Evidence),
	)
	return res, nil
}

func (r *Registry) execute(ctx context.Context, call llm.ToolCall) (Result, error) {
	t, ok := r.Get(call.Name)
	if !ok {
		return Result{}, ErrUnknownTool
	}
	args, err := ParseArgs(call.Arguments)
	if err != nil {
		return Result{}, err
	}
	return t.Call(ctx, args)
}

// ParseArgs decodes a tool-call argument string. Blank input is an empty
// argument set; slightly malformed JSON is repaired.
func ParseArgs(raw string) (Args, error) {
	if strings.TrimSpace(raw) == "" {
		return Args{}, nil
	}
	var args Args
	if err := llm.DecodeJSON(raw, &args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	if args == nil {
		args = Args{}
	}
	return args, nil
}

type userIDKey struct{}

// WithUserID attaches the conversation's user id for the memory tools.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFrom returns the user id attached by WithUserID.
func UserIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}
