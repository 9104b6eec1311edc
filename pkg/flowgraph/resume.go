package flowgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/randalmurphal/taskguide/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/taskguide/pkg/flowgraph/observability"
)

// Snapshot is a decoded checkpoint.
type Snapshot[S any] struct {
	State     S
	NodeID    string
	NextNode  string
	Sequence  int
	Suspended bool
	Timestamp time.Time
}

// LoadSnapshot reads and decodes the checkpoint stored for threadID.
// Returns an error wrapping ErrNoCheckpoint when none exists.
func LoadSnapshot[S any](ctx context.Context, store checkpoint.Store, threadID string) (Snapshot[S], error) {
	var snap Snapshot[S]
	if store == nil {
		return snap, ErrStoreRequired
	}

	data, err := store.Load(ctx, threadID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return snap, fmt.Errorf("%w: %s", ErrNoCheckpoint, threadID)
		}
		return snap, fmt.Errorf("load checkpoint: %w", err)
	}

	cp, err := checkpoint.Unmarshal(data)
	if err != nil {
		return snap, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}

	if cp.Version != checkpoint.Version {
		return snap, fmt.Errorf("%w: got %d, expected %d",
			ErrCheckpointVersionMismatch, cp.Version, checkpoint.Version)
	}

	if err := json.Unmarshal(cp.State, &snap.State); err != nil {
		return snap, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}

	snap.NodeID = cp.NodeID
	snap.NextNode = cp.NextNode
	snap.Sequence = cp.Sequence
	snap.Suspended = cp.Suspended
	snap.Timestamp = cp.Timestamp
	return snap, nil
}

// SaveSnapshot writes snap as the thread's checkpoint, replacing any
// existing one. Callers use it to record terminal states reached outside
// the graph, such as a failure converted into an error state.
func SaveSnapshot[S any](ctx context.Context, store checkpoint.Store, threadID string, snap Snapshot[S]) error {
	if store == nil {
		return ErrStoreRequired
	}

	stateBytes, err := json.Marshal(snap.State)
	if err != nil {
		return &CheckpointError{NodeID: snap.NodeID, Op: "serialize", Err: fmt.Errorf("%w: %v", ErrSerializeState, err)}
	}

	cp := checkpoint.New(threadID, snap.NodeID, snap.Sequence, stateBytes, snap.NextNode)
	if snap.Suspended {
		cp = cp.AsSuspended()
	}

	data, err := cp.Marshal()
	if err != nil {
		return &CheckpointError{NodeID: snap.NodeID, Op: "marshal", Err: err}
	}
	if err := store.Save(ctx, threadID, data); err != nil {
		return &CheckpointError{NodeID: snap.NodeID, Op: "save", Err: err}
	}
	return nil
}

// Resume continues a thread from its stored checkpoint.
//
// input, when non-nil, transforms the restored state before execution
// continues; it is how callers inject human input at a suspension point.
// Execution starts at the checkpoint's next node without suspending there
// again, and runs until END or the next interrupt. A thread whose
// checkpoint already points at END is returned unchanged with Done set,
// so repeated resumes of a finished thread are no-ops.
//
//	out, err := compiled.Resume(ctx, store, threadID, func(s State) (State, error) {
//	    s.Feedback = "approve"
//	    return s, nil
//	})
func (cg *CompiledGraph[S]) Resume(ctx Context, store checkpoint.Store, threadID string, input func(S) (S, error), opts ...RunOption) (Outcome[S], error) {
	if ctx == nil {
		return Outcome[S]{}, ErrNilContext
	}

	snap, err := LoadSnapshot[S](ctx, store, threadID)
	if err != nil {
		return Outcome[S]{}, err
	}

	out := Outcome[S]{State: snap.State, Sequence: snap.Sequence}
	if snap.NextNode == END {
		out.Done = true
		return out, nil
	}

	if !cg.HasNode(snap.NextNode) {
		return out, fmt.Errorf("%w: %s", ErrInvalidResumeNode, snap.NextNode)
	}

	state := snap.State
	if input != nil {
		state, err = input(state)
		if err != nil {
			return out, fmt.Errorf("apply resume input: %w", err)
		}
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.checkpointStore = store
	cfg.threadID = threadID
	cfg.sequence = snap.Sequence

	observability.LogResume(cfg.logger, threadID, snap.NextNode, snap.Sequence)

	return cg.execute(ctx, state, snap.NextNode, true, &cfg)
}
