package flowgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/taskguide/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/taskguide/pkg/flowgraph/observability"
)

// Outcome is the result of one run segment: a fresh run or a resume.
type Outcome[S any] struct {
	// State is the state after the last executed node, or at the point
	// of failure when an error is returned.
	State S

	// SuspendedAt names the interrupt node execution stopped before.
	// Empty unless the segment ended in a suspension.
	SuspendedAt string

	// Done is true when the thread reached END.
	Done bool

	// NodesExecuted counts the nodes run in this segment.
	NodesExecuted int

	// Sequence is the sequence number of the last checkpoint written.
	Sequence int
}

// Suspended reports whether the segment ended at an interrupt point.
func (o Outcome[S]) Suspended() bool {
	return o.SuspendedAt != ""
}

// RunUntilSuspension executes the graph from the entry point until it
// reaches END or an interrupt point. With checkpointing enabled, a
// checkpoint is saved after every node; the one written before an
// interrupt is marked suspended so Resume can pick the thread up later,
// possibly in another process.
//
//	out, err := compiled.RunUntilSuspension(ctx, state,
//	    flowgraph.WithCheckpointing(store),
//	    flowgraph.WithThreadID(threadID))
//	if out.Suspended() {
//	    // show out.State to a human, later call Resume
//	}
func (cg *CompiledGraph[S]) RunUntilSuspension(ctx Context, state S, opts ...RunOption) (Outcome[S], error) {
	if ctx == nil {
		return Outcome[S]{State: state}, ErrNilContext
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.checkpointStore != nil && cfg.threadID == "" {
		return Outcome[S]{State: state}, ErrThreadIDRequired
	}

	return cg.execute(ctx, state, cg.entryPoint, false, &cfg)
}

// Run executes the graph to END. Reaching an interrupt point is reported
// as an error wrapping ErrSuspended, with the state at suspension.
func (cg *CompiledGraph[S]) Run(ctx Context, state S, opts ...RunOption) (S, error) {
	out, err := cg.RunUntilSuspension(ctx, state, opts...)
	if err != nil {
		return out.State, err
	}
	if out.Suspended() {
		return out.State, fmt.Errorf("%w before node %s", ErrSuspended, out.SuspendedAt)
	}
	return out.State, nil
}

// execute runs one segment with run-level logging, metrics and tracing.
// resumed skips the interrupt check for the start node, which is the
// node the caller is resuming into.
func (cg *CompiledGraph[S]) execute(ctx Context, state S, start string, resumed bool, cfg *runConfig) (out Outcome[S], runErr error) {
	threadID := cfg.threadID
	if threadID == "" {
		threadID = ctx.ThreadID()
	}

	done := observability.TimedOperation()
	startTime := time.Now()
	observability.LogRunStart(cfg.logger, threadID, start)

	var traceCtx context.Context = ctx
	if cfg.tracing {
		var runSpan trace.Span
		traceCtx, runSpan = cfg.spans.StartRunSpan(ctx, cfg.name, threadID)
		defer func() {
			cfg.spans.EndSpanWithError(runSpan, runErr)
		}()
	}

	out, runErr = cg.loop(ctx, traceCtx, state, start, resumed, threadID, cfg)

	durationMs := done()
	switch {
	case runErr != nil:
		cfg.metrics.RecordGraphRun(ctx, "failed", time.Since(startTime))
		observability.LogRunError(cfg.logger, threadID, runErr, durationMs, lastNodeOf(runErr))
	case out.Suspended():
		cfg.metrics.RecordGraphRun(ctx, "suspended", time.Since(startTime))
		cfg.spans.AddSpanEvent(traceCtx, "suspended", attribute.String("before_node", out.SuspendedAt))
		observability.LogSuspend(cfg.logger, threadID, out.SuspendedAt, durationMs)
	default:
		cfg.metrics.RecordGraphRun(ctx, "completed", time.Since(startTime))
		observability.LogRunComplete(cfg.logger, threadID, durationMs, out.NodesExecuted)
	}

	return out, runErr
}

func (cg *CompiledGraph[S]) loop(fgCtx Context, traceCtx context.Context, state S, start string, resumed bool, threadID string, cfg *runConfig) (Outcome[S], error) {
	out := Outcome[S]{State: state, Sequence: cfg.sequence}

	if !resumed && cg.interrupts[start] {
		if err := cg.saveCheckpoint(fgCtx, cfg, threadID, "", "", state, start, true); err != nil {
			return out, err
		}
		out.SuspendedAt = start
		out.Sequence = cfg.sequence
		return out, nil
	}

	current := start
	prevNode := ""
	iterations := 0

	for current != END {
		iterations++
		if iterations > cfg.maxIterations {
			return out, &MaxIterationsError{
				Max:        cfg.maxIterations,
				LastNodeID: current,
				State:      out.State,
			}
		}

		select {
		case <-fgCtx.Done():
			return out, &CancellationError{
				NodeID:       current,
				State:        out.State,
				Cause:        fgCtx.Err(),
				WasExecuting: false,
			}
		default:
		}

		observability.LogNodeStart(cfg.logger, current)

		nodeTraceCtx := traceCtx
		var nodeSpan trace.Span
		if cfg.tracing {
			nodeTraceCtx, nodeSpan = cfg.spans.StartNodeSpan(traceCtx, current)
		}

		before := out.State
		nodeStart := time.Now()
		next, nodeErr := cg.step(fgCtx, nodeTraceCtx, threadID, current, &out)
		nodeDuration := time.Since(nodeStart)

		cfg.metrics.RecordNodeExecution(nodeTraceCtx, current, nodeDuration, nodeErr)
		if cfg.tracing {
			cfg.spans.EndSpanWithError(nodeSpan, nodeErr)
		}

		if nodeErr != nil {
			observability.LogNodeError(cfg.logger, current, nodeErr)
			if cause := fgCtx.Err(); cause != nil {
				out.State = before
				return out, &CancellationError{
					NodeID:       current,
					State:        before,
					Cause:        cause,
					WasExecuting: true,
				}
			}
			return out, nodeErr
		}
		observability.LogNodeComplete(cfg.logger, current, float64(nodeDuration.Microseconds())/1000)
		out.NodesExecuted++

		suspend := cg.interrupts[next]
		if err := cg.saveCheckpoint(fgCtx, cfg, threadID, current, prevNode, out.State, next, suspend); err != nil {
			return out, err
		}
		out.Sequence = cfg.sequence

		if suspend {
			out.SuspendedAt = next
			return out, nil
		}

		prevNode = current
		current = next
	}

	out.Done = true
	return out, nil
}

// step executes one node and resolves its successor. out.State is
// updated even when the node fails, so callers can inspect it.
func (cg *CompiledGraph[S]) step(fgCtx Context, traceCtx context.Context, threadID, nodeID string, out *Outcome[S]) (string, error) {
	nodeCtx := nodeContext(fgCtx, traceCtx, threadID, nodeID)

	state, err := cg.executeNode(nodeCtx, nodeID, out.State)
	out.State = state
	if err != nil {
		return "", err
	}
	return cg.nextNode(nodeCtx, state, nodeID)
}

// saveCheckpoint persists state after nodeID. A no-op without a store.
// Failures stop the run when the checkpoint marks a suspension or when
// checkpoint failures are configured fatal; otherwise they are logged.
func (cg *CompiledGraph[S]) saveCheckpoint(ctx Context, cfg *runConfig, threadID, nodeID, prevNodeID string, state S, nextNode string, suspended bool) error {
	if cfg.checkpointStore == nil {
		return nil
	}
	fatal := cfg.checkpointFailureFatal || suspended

	fail := func(op string, err error) error {
		if fatal {
			return &CheckpointError{NodeID: nodeID, Op: op, Err: err}
		}
		observability.LogCheckpointError(cfg.logger, nodeID, op, err)
		return nil
	}

	stateBytes, err := json.Marshal(state)
	if err != nil {
		return fail("serialize", fmt.Errorf("%w: %v", ErrSerializeState, err))
	}

	cfg.sequence++
	cp := checkpoint.New(threadID, nodeID, cfg.sequence, stateBytes, nextNode).
		WithPrevNode(prevNodeID).
		WithAttempt(ctx.Attempt())
	if suspended {
		cp = cp.AsSuspended()
	}

	data, err := cp.Marshal()
	if err != nil {
		return fail("marshal", err)
	}

	if err := cfg.checkpointStore.Save(ctx, threadID, data); err != nil {
		return fail("save", err)
	}

	observability.LogCheckpoint(cfg.logger, nodeID, nextNode, len(data))
	cfg.metrics.RecordCheckpoint(ctx, nodeID, int64(len(data)))
	return nil
}

// executeNode executes a single node with panic recovery.
func (cg *CompiledGraph[S]) executeNode(ctx Context, nodeID string, state S) (result S, err error) {
	fn, exists := cg.getNode(nodeID)
	if !exists {
		return state, &NodeError{
			NodeID: nodeID,
			Op:     "lookup",
			Err:    fmt.Errorf("node not found: %s", nodeID),
		}
	}

	defer func() {
		if r := recover(); r != nil {
			result = state
			err = &PanicError{
				NodeID: nodeID,
				Value:  r,
				Stack:  string(debug.Stack()),
			}
		}
	}()

	result, err = fn(ctx, state)
	if err != nil {
		return result, &NodeError{
			NodeID: nodeID,
			Op:     "execute",
			Err:    err,
		}
	}

	return result, nil
}

// nextNode checks the conditional edge first, then simple edges.
func (cg *CompiledGraph[S]) nextNode(ctx Context, state S, current string) (string, error) {
	if router, exists := cg.getRouter(current); exists {
		next := router(ctx, state)

		if next == "" {
			return "", &RouterError{
				FromNode: current,
				Returned: next,
				Err:      ErrInvalidRouterResult,
			}
		}

		if next != END {
			if _, exists := cg.getNode(next); !exists {
				return "", &RouterError{
					FromNode: current,
					Returned: next,
					Err:      ErrRouterTargetNotFound,
				}
			}
		}

		return next, nil
	}

	edges := cg.getEdges(current)
	if len(edges) == 0 {
		return "", &NodeError{
			NodeID: current,
			Op:     "routing",
			Err:    fmt.Errorf("no outgoing edge from node %s", current),
		}
	}

	// Execution is sequential; only the first simple edge is followed
	return edges[0], nil
}

// lastNodeOf extracts the node an execution error is attributed to.
func lastNodeOf(err error) string {
	var (
		nodeErr    *NodeError
		panicErr   *PanicError
		maxErr     *MaxIterationsError
		cancelErr  *CancellationError
		routerErr  *RouterError
		cpErr      *CheckpointError
	)
	switch {
	case errors.As(err, &nodeErr):
		return nodeErr.NodeID
	case errors.As(err, &panicErr):
		return panicErr.NodeID
	case errors.As(err, &maxErr):
		return maxErr.LastNodeID
	case errors.As(err, &cancelErr):
		return cancelErr.NodeID
	case errors.As(err, &routerErr):
		return routerErr.FromNode
	case errors.As(err, &cpErr):
		return cpErr.NodeID
	}
	return ""
}
