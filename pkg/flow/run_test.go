package flow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/shopsight/pkg/flow/checkpoint"
)

// TestRun_Linear tests sequential execution through a linear graph.
func TestRun_Linear(t *testing.T) {
	var order []string
	wf, err := NewGraph[State]().
		AddNode("a", makeTrackingNode("a", &order)).
		AddNode("b", makeTrackingNode("b", &order)).
		AddNode("c", makeTrackingNode("c", &order)).
		AddEdge("a", "b").
		AddEdge("b", "c").
		AddEdge("c", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	final, err := wf.Run(testCtx(), State{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, []string{"a", "b", "c"}, final.Progress)
}

// TestRun_NilContext tests that a nil context is rejected.
func TestRun_NilContext(t *testing.T) {
	wf, err := NewGraph[Counter]().
		AddNode("a", increment).
		AddEdge("a", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	_, runErr := wf.Run(nil, Counter{})
	assert.ErrorIs(t, runErr, ErrNilContext)
}

// TestRun_ConditionalRouting tests that a router steers execution.
func TestRun_ConditionalRouting(t *testing.T) {
	var order []string
	wf, err := NewGraph[State]().
		AddNode("start", makeTrackingNode("start", &order)).
		AddNode("left", makeTrackingNode("left", &order)).
		AddNode("right", makeTrackingNode("right", &order)).
		AddConditionalEdge("start", func(ctx Context, s State) string {
			return s.Route
		}).
		AddEdge("left", END).
		AddEdge("right", END).
		SetEntry("start").
		Compile()
	require.NoError(t, err)

	final, err := wf.Run(testCtx(), State{Route: "right"})
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "right"}, final.Progress)
}

// TestRun_RouterReturnsEnd tests that a router can terminate the turn.
func TestRun_RouterReturnsEnd(t *testing.T) {
	wf, err := NewGraph[Counter]().
		AddNode("a", increment).
		AddConditionalEdge("a", func(ctx Context, s Counter) string { return END }).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	final, err := wf.Run(testCtx(), Counter{})
	require.NoError(t, err)
	assert.Equal(t, 1, final.Value)
}

// TestRun_RouterEmptyResult tests that an empty router result fails with
// a RouterError.
func TestRun_RouterEmptyResult(t *testing.T) {
	wf, err := NewGraph[Counter]().
		AddNode("a", increment).
		AddConditionalEdge("a", func(ctx Context, s Counter) string { return "" }).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	_, runErr := wf.Run(testCtx(), Counter{})
	assert.ErrorIs(t, runErr, ErrInvalidRouterResult)

	var routerErr *RouterError
	require.ErrorAs(t, runErr, &routerErr)
	assert.Equal(t, "a", routerErr.FromNode)
}

// TestRun_RouterUnknownTarget tests that routing to an unknown node
// fails with a RouterError.
func TestRun_RouterUnknownTarget(t *testing.T) {
	wf, err := NewGraph[Counter]().
		AddNode("a", increment).
		AddConditionalEdge("a", func(ctx Context, s Counter) string { return "ghost" }).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	_, runErr := wf.Run(testCtx(), Counter{})
	assert.ErrorIs(t, runErr, ErrRouterTargetNotFound)
}

// TestRun_NodeError tests that node errors are wrapped with node
// identity and end the turn.
func TestRun_NodeError(t *testing.T) {
	boom := errors.New("boom")
	wf, err := NewGraph[State]().
		AddNode("a", makeFailingNode(boom)).
		AddEdge("a", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	_, runErr := wf.Run(testCtx(), State{})
	require.Error(t, runErr)

	var nodeErr *NodeError
	require.ErrorAs(t, runErr, &nodeErr)
	assert.Equal(t, "a", nodeErr.NodeID)
	assert.ErrorIs(t, runErr, boom)
}

// TestRun_PanicRecovery tests that a panicking node becomes a
// PanicError instead of crashing the process.
func TestRun_PanicRecovery(t *testing.T) {
	wf, err := NewGraph[State]().
		AddNode("a", makePanicNode("kaboom")).
		AddEdge("a", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	_, runErr := wf.Run(testCtx(), State{})
	require.Error(t, runErr)

	var panicErr *PanicError
	require.ErrorAs(t, runErr, &panicErr)
	assert.Equal(t, "a", panicErr.NodeID)
	assert.Equal(t, "kaboom", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)
}

// TestRun_MaxIterations tests that a routing cycle is stopped by the
// iteration guard.
func TestRun_MaxIterations(t *testing.T) {
	wf, err := NewGraph[Counter]().
		AddNode("a", increment).
		AddNode("b", increment).
		AddEdge("a", "b").
		AddConditionalEdge("b", func(ctx Context, s Counter) string {
			return "a" // never terminates
		}).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	_, runErr := wf.Run(testCtx(), Counter{}, WithMaxIterations(5))
	require.Error(t, runErr)

	var maxErr *MaxIterationsError
	require.ErrorAs(t, runErr, &maxErr)
	assert.Equal(t, 5, maxErr.Max)
}

// TestRun_Cancellation tests that a cancelled context stops the turn
// with the partial state.
func TestRun_Cancellation(t *testing.T) {
	baseCtx, cancel := context.WithCancel(context.Background())

	wf, err := NewGraph[Counter]().
		AddNode("a", func(ctx Context, s Counter) (Counter, error) {
			s.Value++
			cancel() // cancel mid-turn; the next node never runs
			return s, nil
		}).
		AddNode("b", increment).
		AddEdge("a", "b").
		AddEdge("b", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	final, runErr := wf.Run(NewContext(baseCtx), Counter{})
	require.Error(t, runErr)

	var cancelErr *CancellationError
	require.ErrorAs(t, runErr, &cancelErr)
	assert.Equal(t, "b", cancelErr.NodeID)
	assert.Equal(t, 1, final.Value)
}

// TestRun_Checkpointing tests that state is checkpointed after each node.
func TestRun_Checkpointing(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	defer store.Close()

	wf, err := NewGraph[Counter]().
		AddNode("a", increment).
		AddNode("b", increment).
		AddEdge("a", "b").
		AddEdge("b", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	_, runErr := wf.Run(testCtx(), Counter{}, WithCheckpointing(store, "sess-1"))
	require.NoError(t, runErr)

	infos, err := store.List("sess-1")
	require.NoError(t, err)
	require.Len(t, infos, 2)

	data, err := store.LoadLatest("sess-1")
	require.NoError(t, err)
	cp, err := checkpoint.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, "b", cp.NodeID)
	assert.Equal(t, END, cp.NextNode)

	var state Counter
	require.NoError(t, json.Unmarshal(cp.State, &state))
	assert.Equal(t, 2, state.Value)
}

// TestRun_CheckpointSequenceContinuesAcrossTurns tests that envelope
// sequence numbers pick up where the session left off and agree with
// the store's own numbering.
func TestRun_CheckpointSequenceContinuesAcrossTurns(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	defer store.Close()

	wf, err := NewGraph[Counter]().
		AddNode("a", increment).
		AddNode("b", increment).
		AddEdge("a", "b").
		AddEdge("b", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	_, runErr := wf.Run(testCtx(), Counter{}, WithCheckpointing(store, "sess-1"))
	require.NoError(t, runErr)
	_, runErr = wf.Run(testCtx(), Counter{}, WithCheckpointing(store, "sess-1"))
	require.NoError(t, runErr)

	infos, err := store.List("sess-1")
	require.NoError(t, err)
	require.NotEmpty(t, infos)
	highest := 0
	for _, info := range infos {
		if info.Sequence > highest {
			highest = info.Sequence
		}
	}
	// Two runs of two nodes each: four saves in total.
	assert.Equal(t, 4, highest)

	data, err := store.LoadLatest("sess-1")
	require.NoError(t, err)
	cp, err := checkpoint.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, highest, cp.Sequence)
}

// TestRun_CheckpointingRequiresSessionID tests the session ID guard.
func TestRun_CheckpointingRequiresSessionID(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	defer store.Close()

	wf, err := NewGraph[Counter]().
		AddNode("a", increment).
		AddEdge("a", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	_, runErr := wf.Run(testCtx(), Counter{}, WithCheckpointing(store, ""))
	assert.ErrorIs(t, runErr, ErrSessionIDRequired)
}

// TestRun_StateReturnedOnError tests that the partial state is returned
// alongside the error.
func TestRun_StateReturnedOnError(t *testing.T) {
	boom := errors.New("boom")
	wf, err := NewGraph[State]().
		AddNode("a", func(ctx Context, s State) (State, error) {
			s.Step = 7
			return s, nil
		}).
		AddNode("b", makeFailingNode(boom)).
		AddEdge("a", "b").
		AddEdge("b", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	final, runErr := wf.Run(testCtx(), State{})
	require.Error(t, runErr)
	assert.Equal(t, 7, final.Step)
}

// TestContext_NodeEnrichment tests that nodes see their own node ID.
func TestContext_NodeEnrichment(t *testing.T) {
	var seen string
	wf, err := NewGraph[Counter]().
		AddNode("worker", func(ctx Context, s Counter) (Counter, error) {
			seen = ctx.NodeID()
			return s, nil
		}).
		AddEdge("worker", END).
		SetEntry("worker").
		Compile()
	require.NoError(t, err)

	_, runErr := wf.Run(testCtx(), Counter{})
	require.NoError(t, runErr)
	assert.Equal(t, "worker", seen)
}

// TestContext_Defaults tests auto-generated identifiers.
func TestContext_Defaults(t *testing.T) {
	ctx := NewContext(context.Background())
	assert.NotEmpty(t, ctx.SessionID())
	assert.NotEmpty(t, ctx.TurnID())
	assert.NotNil(t, ctx.Logger())
	assert.Empty(t, ctx.NodeID())
}

// TestContext_WithSessionID tests explicit session identifiers.
func TestContext_WithSessionID(t *testing.T) {
	ctx := NewContext(context.Background(), WithSessionID("cli-session-1"))
	assert.Equal(t, "cli-session-1", ctx.SessionID())
}
