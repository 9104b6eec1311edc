package flowgraph

import (
	"errors"
	"fmt"
)

// Compile rejects a graph with one or more of these, joined.
var (
	ErrNoEntryPoint  = errors.New("entry point not set")
	ErrEntryNotFound = errors.New("entry point node not found")
	// ErrNodeNotFound is an edge or interrupt naming an unknown node.
	ErrNodeNotFound = errors.New("node not found")
	ErrNoPathToEnd  = errors.New("no path to END from entry")
)

// Run, RunUntilSuspension and Resume stop with these.
var (
	ErrMaxIterations = errors.New("exceeded maximum iterations")
	ErrNilContext    = errors.New("context cannot be nil")

	ErrInvalidRouterResult  = errors.New("router returned empty string")
	ErrRouterTargetNotFound = errors.New("router returned unknown node")

	// ErrSuspended is Run reaching an interrupt point. The suspended
	// checkpoint is already saved; RunUntilSuspension reports the same
	// stop as a normal Outcome instead.
	ErrSuspended = errors.New("execution suspended")
)

// Thread checkpoints fail with these. A thread has one record, rewritten
// after every node, so none of them leave an older record half-replaced.
var (
	// ErrThreadIDRequired is checkpointing enabled without WithThreadID.
	ErrThreadIDRequired = errors.New("thread ID required for checkpointing")
	ErrStoreRequired    = errors.New("checkpoint store required")

	ErrSerializeState   = errors.New("failed to serialize state")
	ErrDeserializeState = errors.New("failed to deserialize state")

	// ErrNoCheckpoint is a thread that was never started or was deleted.
	ErrNoCheckpoint = errors.New("no checkpoint found for thread")
	// ErrInvalidResumeNode is a record whose next node the graph no
	// longer has, typically after a workflow change.
	ErrInvalidResumeNode         = errors.New("invalid resume node")
	ErrCheckpointVersionMismatch = errors.New("checkpoint version mismatch")
)

// CheckpointError is a failed write of the record after NodeID. Op is
// "serialize", "marshal" or "save". Writes of a suspension record are
// always fatal, since the caller could not resume without them.
type CheckpointError struct {
	NodeID string
	Op     string
	Err    error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s at node %s: %v", e.Op, e.NodeID, e.Err)
}

func (e *CheckpointError) Unwrap() error { return e.Err }

// NodeError is a node (Op "execute") or its lookup ("lookup") failing.
// The thread's record still points at NodeID, so resuming retries it.
type NodeError struct {
	NodeID string
	Op     string
	Err    error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %s: %v", e.NodeID, e.Op, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// PanicError is a recovered panic inside NodeID, with its stack.
type PanicError struct {
	NodeID string
	Value  any
	Stack  string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.NodeID, e.Value)
}

// CancellationError is the caller's context ending the run. Nothing is
// checkpointed for NodeID, so the thread resumes from the last completed
// node. WasExecuting distinguishes a node that failed under the cancelled
// context from a stop between nodes. State is the last completed state.
type CancellationError struct {
	NodeID       string
	State        any
	Cause        error
	WasExecuting bool
}

func (e *CancellationError) Error() string {
	if e.WasExecuting {
		return fmt.Sprintf("cancelled during node %s: %v", e.NodeID, e.Cause)
	}
	return fmt.Sprintf("cancelled before node %s: %v", e.NodeID, e.Cause)
}

// Unwrap returns context.Canceled or context.DeadlineExceeded.
func (e *CancellationError) Unwrap() error { return e.Cause }

// RouterError is a conditional edge from FromNode returning an empty or
// unknown target.
type RouterError struct {
	FromNode string
	Returned string
	Err      error
}

func (e *RouterError) Error() string {
	return fmt.Sprintf("router from %s returned %q: %v", e.FromNode, e.Returned, e.Err)
}

func (e *RouterError) Unwrap() error { return e.Err }

// MaxIterationsError stops a run that keeps cycling, for example a
// recommend/tools loop whose bound never trips. LastNodeID would have run
// next; State is the state at that point.
type MaxIterationsError struct {
	Max        int
	LastNodeID string
	State      any
}

func (e *MaxIterationsError) Error() string {
	return fmt.Sprintf("exceeded maximum iterations (%d) at node %s", e.Max, e.LastNodeID)
}

func (e *MaxIterationsError) Unwrap() error { return ErrMaxIterations }
