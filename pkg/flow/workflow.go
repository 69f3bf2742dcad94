package flow

// Workflow is an immutable, executable turn graph.
// It is created by calling Compile() on a Graph builder.
//
// Workflow is thread-safe and can be used concurrently for multiple
// Run() calls, one per session. The graph structure cannot be modified
// after compilation.
type Workflow[S any] struct {
	nodes            map[string]NodeFunc[S]
	edges            map[string][]string
	conditionalEdges map[string]RouterFunc[S]
	entryPoint       string
	isConditional    map[string]bool
}

// EntryPoint returns the entry node ID.
func (w *Workflow[S]) EntryPoint() string {
	return w.entryPoint
}

// NodeIDs returns all node identifiers in the graph.
// The order is not guaranteed.
func (w *Workflow[S]) NodeIDs() []string {
	ids := make([]string, 0, len(w.nodes))
	for id := range w.nodes {
		ids = append(ids, id)
	}
	return ids
}

// HasNode checks if a node exists in the graph.
func (w *Workflow[S]) HasNode(id string) bool {
	_, exists := w.nodes[id]
	return exists
}

// IsConditional returns true if the node has a conditional edge.
func (w *Workflow[S]) IsConditional(id string) bool {
	return w.isConditional[id]
}

// getNode returns the node function for the given ID.
func (w *Workflow[S]) getNode(id string) (NodeFunc[S], bool) {
	fn, exists := w.nodes[id]
	return fn, exists
}

// getRouter returns the router function for the given node.
func (w *Workflow[S]) getRouter(id string) (RouterFunc[S], bool) {
	router, exists := w.conditionalEdges[id]
	return router, exists
}

// getEdges returns the simple edge targets for the given node.
func (w *Workflow[S]) getEdges(id string) []string {
	return w.edges[id]
}
