package flowgraph

// CompiledGraph is the validated, immutable form of a Graph. Runs on
// different threads may share it; runs on one thread must not overlap.
type CompiledGraph[S any] struct {
	nodes            map[string]NodeFunc[S]
	edges            map[string][]string
	conditionalEdges map[string]RouterFunc[S]
	interrupts       map[string]bool
	entryPoint       string
}

func (cg *CompiledGraph[S]) EntryPoint() string {
	return cg.entryPoint
}

// NodeIDs lists the nodes alphabetically.
func (cg *CompiledGraph[S]) NodeIDs() []string {
	return sortedKeys(cg.nodes)
}

func (cg *CompiledGraph[S]) HasNode(id string) bool {
	_, ok := cg.nodes[id]
	return ok
}

// Successors returns the fixed edge targets of id. Routed targets are
// only known at run time and are not listed.
func (cg *CompiledGraph[S]) Successors(id string) []string {
	if id == END {
		return nil
	}
	return cg.edges[id]
}

// IsConditional reports whether a router picks id's successor.
func (cg *CompiledGraph[S]) IsConditional(id string) bool {
	_, ok := cg.conditionalEdges[id]
	return ok
}

// IsInterrupt reports whether execution suspends before id.
func (cg *CompiledGraph[S]) IsInterrupt(id string) bool {
	return cg.interrupts[id]
}

// Interrupts lists the suspension points alphabetically.
func (cg *CompiledGraph[S]) Interrupts() []string {
	return sortedKeys(cg.interrupts)
}

func (cg *CompiledGraph[S]) getNode(id string) (NodeFunc[S], bool) {
	fn, ok := cg.nodes[id]
	return fn, ok
}

func (cg *CompiledGraph[S]) getRouter(id string) (RouterFunc[S], bool) {
	router, ok := cg.conditionalEdges[id]
	return router, ok
}

func (cg *CompiledGraph[S]) getEdges(id string) []string {
	return cg.edges[id]
}
