package flowgraph

// END is the terminal node identifier.
// Use this as an edge target to indicate the graph should terminate.
const END = "__end__"

// NodeFunc is the signature for all node functions.
// Nodes receive the execution context and current state,
// and return the updated state and any error.
//
// The state parameter is passed by value. Nodes modify and return the
// copy; slices and maps inside the state must be copied before mutation
// if the caller may still hold the original.
//
//	func classify(ctx flowgraph.Context, s State) (State, error) {
//	    s.IsComplex = true
//	    return s, nil
//	}
type NodeFunc[S any] func(ctx Context, state S) (S, error)

// RouterFunc picks the next node from the state after a node completes.
// It must return a known node ID or END.
//
//	func afterReview(ctx flowgraph.Context, s State) string {
//	    if s.Cancelled() {
//	        return flowgraph.END
//	    }
//	    return "recommend"
//	}
type RouterFunc[S any] func(ctx Context, state S) string
