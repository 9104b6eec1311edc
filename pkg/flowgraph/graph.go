package flowgraph

import (
	"fmt"
	"strings"
	"sync"
)

// Graph collects nodes, edges and suspension points for state type S.
// Building is single-goroutine; Compile produces the immutable, shareable
// CompiledGraph. Structural mistakes in node definitions panic at once,
// while edge and entry problems are reported together by Compile.
//
//	compiled, err := flowgraph.NewGraph[State]().
//	    AddNode("plan", plan).
//	    AddNode("review", review).
//	    AddEdge("plan", "review").
//	    AddEdge("review", flowgraph.END).
//	    InterruptBefore("review").
//	    SetEntry("plan").
//	    Compile()
type Graph[S any] struct {
	mu               sync.RWMutex
	nodes            map[string]NodeFunc[S]
	edges            map[string][]string
	conditionalEdges map[string]RouterFunc[S]
	interrupts       map[string]bool
	entryPoint       string
}

// NewGraph returns an empty builder. S is checkpointed as JSON, so it
// must round-trip through encoding/json.
func NewGraph[S any]() *Graph[S] {
	return &Graph[S]{
		nodes:            map[string]NodeFunc[S]{},
		edges:            map[string][]string{},
		conditionalEdges: map[string]RouterFunc[S]{},
		interrupts:       map[string]bool{},
	}
}

// nodeIDProblem describes why id cannot name a node, or returns "".
func nodeIDProblem(id string) string {
	switch {
	case id == "":
		return "node ID cannot be empty"
	case strings.EqualFold(id, "end") || strings.EqualFold(id, END):
		return "node ID cannot be reserved word 'END'"
	case strings.ContainsAny(id, " \t\n\r"):
		return "node ID cannot contain whitespace"
	}
	return ""
}

// AddNode registers fn under id. It panics on an empty, reserved,
// whitespace-containing or duplicate id, and on a nil fn.
func (g *Graph[S]) AddNode(id string, fn NodeFunc[S]) *Graph[S] {
	if problem := nodeIDProblem(id); problem != "" {
		panic("flowgraph: " + problem)
	}
	if fn == nil {
		panic("flowgraph: node function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, dup := g.nodes[id]; dup {
		panic(fmt.Sprintf("flowgraph: duplicate node ID: %s", id))
	}
	g.nodes[id] = fn
	return g
}

// AddEdge routes from one node to another (or END) unconditionally.
// Targets may be added before the nodes they name.
func (g *Graph[S]) AddEdge(from, to string) *Graph[S] {
	g.mu.Lock()
	g.edges[from] = append(g.edges[from], to)
	g.mu.Unlock()
	return g
}

// AddConditionalEdge lets router pick the successor of from at run time.
// It takes precedence over plain edges from the same node.
func (g *Graph[S]) AddConditionalEdge(from string, router RouterFunc[S]) *Graph[S] {
	if router == nil {
		panic("flowgraph: router function cannot be nil")
	}
	g.mu.Lock()
	g.conditionalEdges[from] = router
	g.mu.Unlock()
	return g
}

// InterruptBefore marks nodes as suspension points. Execution saves a
// suspended checkpoint and returns before running any of them; Resume
// runs the node with the caller's input applied.
func (g *Graph[S]) InterruptBefore(ids ...string) *Graph[S] {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range ids {
		g.interrupts[id] = true
	}
	return g
}

// SetEntry names the first node to run.
func (g *Graph[S]) SetEntry(id string) *Graph[S] {
	g.mu.Lock()
	g.entryPoint = id
	g.mu.Unlock()
	return g
}
