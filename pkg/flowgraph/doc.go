/*
Package flowgraph provides a generic graph engine for durable,
resumable workflows.

# Overview

A workflow is a directed graph over a single state value of type S.
Nodes transform the state, edges pick the next node, and the engine
checkpoints the state after every node so a run can stop and continue
in another process.

# Basic Usage

	type State struct {
	    Query  string
	    Answer string
	}

	func answer(ctx flowgraph.Context, s State) (State, error) {
	    s.Answer = "echo: " + s.Query
	    return s, nil
	}

	graph := flowgraph.NewGraph[State]().
	    AddNode("answer", answer).
	    AddEdge("answer", flowgraph.END).
	    SetEntry("answer")

	compiled, err := graph.Compile()
	if err != nil {
	    log.Fatal(err)
	}

	ctx := flowgraph.NewContext(context.Background())
	result, err := compiled.Run(ctx, State{Query: "hello"})

# Conditional Branching

	graph.AddConditionalEdge("classify", func(ctx flowgraph.Context, s State) string {
	    if s.IsComplex {
	        return "plan"
	    }
	    return "simple"
	})

Routers must return a known node ID or END. Loops are expressed as
conditional edges back to an earlier node; WithMaxIterations bounds
the total number of node executions in one run segment.

# Suspension and Resume

InterruptBefore marks nodes that need external input. RunUntilSuspension
stops before such a node, writes a checkpoint flagged as suspended, and
returns an Outcome whose SuspendedAt names the node:

	graph.InterruptBefore("review")

	out, err := compiled.RunUntilSuspension(ctx, state,
	    flowgraph.WithCheckpointing(store),
	    flowgraph.WithThreadID(threadID))

Later, possibly after a restart, Resume loads the checkpoint, applies the
caller's input to the state, and runs the interrupt node:

	out, err = compiled.Resume(ctx, store, threadID, func(s State) (State, error) {
	    s.Feedback = feedback
	    return s, nil
	})

Because a checkpoint is written after every node (not only at interrupts),
Resume also recovers a run that crashed mid-way: it continues with the node
after the last one that completed. A thread whose checkpoint points at END
resumes as a no-op.

# Checkpoint Stores

One record per thread, overwritten after every node:

  - checkpoint.NewMemoryStore() for tests and single-process use
  - checkpoint.NewSQLiteStore(path) for durable local storage
  - checkpoint.NewRedisStore(client) for shared storage with optional TTL

Per-node checkpoint failures are logged and execution continues unless
WithCheckpointFailureFatal(true) is set. A failed suspension checkpoint
always fails the run, since the thread could not be resumed otherwise.

# Error Handling

Execution errors are typed:

  - *NodeError wraps an error returned by a node
  - *PanicError captures a node panic with its stack
  - *CancellationError reports context cancellation between nodes
  - *RouterError reports an empty or unknown router result
  - *MaxIterationsError reports a runaway loop
  - *CheckpointError reports a failed checkpoint write

On error the Outcome still carries the state at the point of failure.

# Observability

	compiled.RunUntilSuspension(ctx, state,
	    flowgraph.WithRunLogger(logger),
	    flowgraph.WithMetrics(observability.NewMetricsRecorder()),
	    flowgraph.WithTracing(observability.NewSpanManager()))

Nodes log through ctx.Logger(), which carries thread_id, node_id and
attempt fields.
*/
package flowgraph
