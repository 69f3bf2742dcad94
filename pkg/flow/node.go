package flow

// END is the terminal node identifier.
// Use this as an edge target to indicate the turn is complete.
const END = "__end__"

// NodeFunc is the signature for all node functions.
// Nodes receive the execution context and the current session state,
// and return the updated state (or the same state) and any error.
//
// The state parameter is passed by value. Nodes should modify and return
// a new state value, not rely on pointer mutation.
type NodeFunc[S any] func(ctx Context, state S) (S, error)

// RouterFunc determines the next node based on state.
// It is used for conditional edges where the next node depends on runtime state.
//
// The router should return a valid node ID or flow.END.
// Returning an empty string or an unknown node ID causes a runtime error.
type RouterFunc[S any] func(ctx Context, state S) string
