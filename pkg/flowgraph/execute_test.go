package flowgraph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/taskguide/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/taskguide/pkg/flowgraph/llm"
)

func TestRun_LinearFlow(t *testing.T) {
	compiled, err := NewGraph[Counter]().
		AddNode("inc1", increment).
		AddNode("inc2", increment).
		AddNode("inc3", increment).
		AddEdge("inc1", "inc2").
		AddEdge("inc2", "inc3").
		AddEdge("inc3", END).
		SetEntry("inc1").
		Compile()
	require.NoError(t, err)

	result, err := compiled.Run(testCtx(), Counter{Value: 0})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Value)
}

func TestRun_ConditionalLoop(t *testing.T) {
	compiled, err := NewGraph[Counter]().
		AddNode("inc", increment).
		AddConditionalEdge("inc", func(ctx Context, s Counter) string {
			if s.Value >= 5 {
				return END
			}
			return "inc"
		}).
		SetEntry("inc").
		Compile()
	require.NoError(t, err)

	out, err := compiled.RunUntilSuspension(testCtx(), Counter{})
	require.NoError(t, err)
	assert.True(t, out.Done)
	assert.False(t, out.Suspended())
	assert.Equal(t, 5, out.State.Value)
	assert.Equal(t, 5, out.NodesExecuted)
}

func TestRun_NodeError(t *testing.T) {
	boom := errors.New("reasoning service down")
	compiled, err := NewGraph[Counter]().
		AddNode("inc", increment).
		AddNode("fail", func(ctx Context, s Counter) (Counter, error) {
			s.Value = 99
			return s, boom
		}).
		AddEdge("inc", "fail").
		AddEdge("fail", END).
		SetEntry("inc").
		Compile()
	require.NoError(t, err)

	out, err := compiled.RunUntilSuspension(testCtx(), Counter{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var nodeErr *NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "fail", nodeErr.NodeID)
	assert.Equal(t, "execute", nodeErr.Op)
	assert.Equal(t, 99, out.State.Value, "state at failure is returned")
	assert.Equal(t, "fail", lastNodeOf(err))
}

func TestRun_PanicRecovered(t *testing.T) {
	compiled, err := NewGraph[Counter]().
		AddNode("crash", func(ctx Context, s Counter) (Counter, error) {
			panic("nil plan")
		}).
		AddEdge("crash", END).
		SetEntry("crash").
		Compile()
	require.NoError(t, err)

	result, err := compiled.Run(testCtx(), Counter{Value: 7})

	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "crash", panicErr.NodeID)
	assert.Equal(t, "nil plan", panicErr.Value)
	assert.Contains(t, panicErr.Stack, "goroutine")
	assert.Equal(t, 7, result.Value)
}

func TestRun_RouterErrors(t *testing.T) {
	tests := []struct {
		name    string
		returns string
		wantErr error
	}{
		{"empty", "", ErrInvalidRouterResult},
		{"unknown", "ghost", ErrRouterTargetNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled, err := NewGraph[Counter]().
				AddNode("a", increment).
				AddConditionalEdge("a", func(ctx Context, s Counter) string { return tt.returns }).
				SetEntry("a").
				Compile()
			require.NoError(t, err)

			_, err = compiled.Run(testCtx(), Counter{})

			var routerErr *RouterError
			require.ErrorAs(t, err, &routerErr)
			assert.Equal(t, "a", routerErr.FromNode)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRun_MaxIterations(t *testing.T) {
	compiled, err := NewGraph[Counter]().
		AddNode("spin", increment).
		AddConditionalEdge("spin", func(ctx Context, s Counter) string { return "spin" }).
		SetEntry("spin").
		Compile()
	require.NoError(t, err)

	result, err := compiled.Run(testCtx(), Counter{}, WithMaxIterations(10))

	var maxErr *MaxIterationsError
	require.ErrorAs(t, err, &maxErr)
	assert.ErrorIs(t, err, ErrMaxIterations)
	assert.Equal(t, 10, maxErr.Max)
	assert.Equal(t, "spin", maxErr.LastNodeID)
	assert.Equal(t, 10, result.Value)
}

func TestRun_CancelledBetweenNodes(t *testing.T) {
	std, cancel := context.WithCancel(context.Background())
	compiled, err := NewGraph[Counter]().
		AddNode("first", func(ctx Context, s Counter) (Counter, error) {
			cancel()
			s.Value++
			return s, nil
		}).
		AddNode("second", increment).
		AddEdge("first", "second").
		AddEdge("second", END).
		SetEntry("first").
		Compile()
	require.NoError(t, err)

	result, err := compiled.Run(NewContext(std), Counter{})

	var cancelErr *CancellationError
	require.ErrorAs(t, err, &cancelErr)
	assert.Equal(t, "second", cancelErr.NodeID)
	assert.False(t, cancelErr.WasExecuting)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, result.Value)
}

func TestRun_FailureAfterCancelKeepsCheckpoint(t *testing.T) {
	std, cancel := context.WithCancel(context.Background())
	compiled, err := NewGraph[Counter]().
		AddNode("first", increment).
		AddNode("second", func(ctx Context, s Counter) (Counter, error) {
			cancel()
			s.Value = 99
			return s, ctx.Err()
		}).
		AddEdge("first", "second").
		AddEdge("second", END).
		SetEntry("first").
		Compile()
	require.NoError(t, err)

	store := checkpoint.NewMemoryStore()
	result, err := compiled.Run(NewContext(std), Counter{}, WithCheckpointing(store), WithThreadID("t"))

	var cancelErr *CancellationError
	require.ErrorAs(t, err, &cancelErr)
	assert.Equal(t, "second", cancelErr.NodeID)
	assert.True(t, cancelErr.WasExecuting)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, result.Value, "the cancelled node's output is dropped")
	assert.Equal(t, Counter{Value: 1}, cancelErr.State)

	snap, err := LoadSnapshot[Counter](context.Background(), store, "t")
	require.NoError(t, err)
	assert.Equal(t, "first", snap.NodeID)
	assert.Equal(t, "second", snap.NextNode)
	assert.Equal(t, 1, snap.State.Value)
}

func TestRun_NilContext(t *testing.T) {
	compiled, err := NewGraph[Counter]().AddNode("a", increment).AddEdge("a", END).SetEntry("a").Compile()
	require.NoError(t, err)

	_, err = compiled.Run(nil, Counter{})
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestRun_ReportsSuspension(t *testing.T) {
	var calls []string
	compiled, err := tripGraph(&calls).Compile()
	require.NoError(t, err)

	result, err := compiled.Run(testCtx(), Trip{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSuspended)
	assert.Contains(t, err.Error(), "review")
	assert.Len(t, result.Stops, 3)
	assert.Equal(t, []string{"plan"}, calls)
}

func TestRun_NodeContext(t *testing.T) {
	client := llm.NewMockClient("ok")
	var seen []string
	var seenThread string
	var seenLLM llm.Client

	compiled, err := NewGraph[Counter]().
		AddNode("first", func(ctx Context, s Counter) (Counter, error) {
			seen = append(seen, ctx.NodeID())
			seenThread = ctx.ThreadID()
			seenLLM = ctx.LLM()
			return s, nil
		}).
		AddNode("second", func(ctx Context, s Counter) (Counter, error) {
			seen = append(seen, ctx.NodeID())
			assert.NotNil(t, ctx.Logger())
			assert.NotNil(t, ctx.Metrics())
			assert.Equal(t, 1, ctx.Attempt())
			return s, nil
		}).
		AddEdge("first", "second").
		AddEdge("second", END).
		SetEntry("first").
		Compile()
	require.NoError(t, err)

	ctx := NewContext(context.Background(), WithLLM(client), WithContextThreadID("thread-42"))
	_, err = compiled.Run(ctx, Counter{})
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second"}, seen)
	assert.Equal(t, "thread-42", seenThread)
	assert.Same(t, client, seenLLM)
}

func TestNewContext_Defaults(t *testing.T) {
	ctx := NewContext(context.Background())

	assert.NotNil(t, ctx.Logger())
	assert.Nil(t, ctx.LLM())
	assert.Nil(t, ctx.Checkpointer())
	assert.NotEmpty(t, ctx.ThreadID())
	assert.Empty(t, ctx.NodeID())
	assert.Equal(t, 1, ctx.Attempt())
}

func TestErrorMessages(t *testing.T) {
	cause := errors.New("connection failed")

	assert.Equal(t, "node process: execute: connection failed",
		(&NodeError{NodeID: "process", Op: "execute", Err: cause}).Error())
	assert.Equal(t, "node crash panicked: unexpected nil",
		(&PanicError{NodeID: "crash", Value: "unexpected nil"}).Error())
	assert.Equal(t, "cancelled before node plan: context canceled",
		(&CancellationError{NodeID: "plan", Cause: context.Canceled}).Error())
	assert.Equal(t, "cancelled during node plan: context deadline exceeded",
		(&CancellationError{NodeID: "plan", Cause: context.DeadlineExceeded, WasExecuting: true}).Error())
	assert.Equal(t, `router from route returned "x": router returned unknown node`,
		(&RouterError{FromNode: "route", Returned: "x", Err: ErrRouterTargetNotFound}).Error())
	assert.Equal(t, "exceeded maximum iterations (100) at node loop",
		(&MaxIterationsError{Max: 100, LastNodeID: "loop"}).Error())
	assert.Equal(t, "checkpoint save at node plan: connection failed",
		(&CheckpointError{NodeID: "plan", Op: "save", Err: cause}).Error())
}
