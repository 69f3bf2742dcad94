package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/randalmurphal/shopsight/pkg/flow/checkpoint"
	"github.com/randalmurphal/shopsight/pkg/flow/observe"
	"go.opentelemetry.io/otel/trace"
)

// Run executes one turn of the workflow with the given initial state.
// Returns the final state and any error encountered.
//
// On success, returns the state after the last node executed before END.
// On error, returns the state at the point of failure (useful for
// surfacing partial results).
//
// Execution flow:
//  1. Start at the entry point node
//  2. Check for cancellation
//  3. Execute the current node (with panic recovery)
//  4. Determine the next node (via simple or conditional edge)
//  5. Checkpoint if configured
//  6. Repeat until END is reached or an error occurs
//
// The loop is strictly sequential: no two nodes of the same turn ever
// execute concurrently.
func (w *Workflow[S]) Run(ctx Context, state S, opts ...RunOption) (result S, runErr error) {
	if ctx == nil {
		return state, ErrNilContext
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.checkpointStore != nil && cfg.sessionID == "" {
		return state, ErrSessionIDRequired
	}

	if cfg.logger == nil {
		cfg.logger = ctx.Logger()
	}

	// Continue the session's sequence so envelope numbers match what the
	// store assigns on save.
	if cfg.checkpointStore != nil {
		cfg.sequence = latestSequence(cfg.checkpointStore, cfg.sessionID)
	}

	startTime := time.Now()
	observe.LogTurnStart(cfg.logger, ctx.SessionID(), ctx.TurnID())

	var execCtx context.Context = ctx
	var turnSpan trace.Span
	if cfg.tracing {
		execCtx, turnSpan = cfg.spans.StartTurnSpan(ctx, ctx.SessionID(), ctx.TurnID())
		defer func() {
			cfg.spans.EndSpanWithError(turnSpan, runErr)
		}()
	}

	var nodeCount int
	result, nodeCount, runErr = w.runLoop(execCtx, ctx, state, &cfg)

	duration := time.Since(startTime)
	cfg.metrics.RecordTurn(ctx, runErr == nil, duration)

	if runErr != nil {
		lastNode := ""
		switch e := runErr.(type) {
		case *NodeError:
			lastNode = e.NodeID
		case *MaxIterationsError:
			lastNode = e.LastNodeID
		case *CancellationError:
			lastNode = e.NodeID
		}
		observe.LogTurnError(cfg.logger, ctx.TurnID(), runErr, float64(duration.Milliseconds()), lastNode)
	} else {
		observe.LogTurnComplete(cfg.logger, ctx.TurnID(), float64(duration.Milliseconds()), nodeCount)
	}

	return result, runErr
}

// runLoop executes the graph from the entry point.
// tracingCtx carries span context; flowCtx is the flow Context.
// Returns the final state, node count, and any error.
func (w *Workflow[S]) runLoop(tracingCtx context.Context, flowCtx Context, state S, cfg *runConfig) (S, int, error) {
	current := w.entryPoint
	prevNode := ""
	iterations := 0
	nodeCount := 0

	for current != END {
		iterations++
		if iterations > cfg.maxIterations {
			return state, nodeCount, &MaxIterationsError{
				Max:        cfg.maxIterations,
				LastNodeID: current,
				State:      state,
			}
		}

		// Check for cancellation before executing the node.
		select {
		case <-flowCtx.Done():
			return state, nodeCount, &CancellationError{
				NodeID: current,
				State:  state,
				Cause:  flowCtx.Err(),
			}
		default:
		}

		observe.LogNodeStart(cfg.logger, current)

		nodeTracingCtx := tracingCtx
		var nodeSpan trace.Span
		if cfg.tracing {
			nodeTracingCtx, nodeSpan = cfg.spans.StartNodeSpan(tracingCtx, current)
		}

		nodeStart := time.Now()

		var nodeErr error
		state, nodeErr = w.executeNode(flowCtx, current, state)

		nodeDuration := time.Since(nodeStart)
		cfg.metrics.RecordNodeExecution(nodeTracingCtx, current, nodeDuration, nodeErr)

		if cfg.tracing {
			cfg.spans.EndSpanWithError(nodeSpan, nodeErr)
		}

		if nodeErr != nil {
			observe.LogNodeError(cfg.logger, current, nodeErr)
			return state, nodeCount, nodeErr
		}
		observe.LogNodeComplete(cfg.logger, current, float64(nodeDuration.Milliseconds()))
		nodeCount++

		next, err := w.nextNode(flowCtx, state, current)
		if err != nil {
			return state, nodeCount, err
		}

		if cfg.checkpointStore != nil {
			if err := w.saveCheckpoint(flowCtx, cfg, current, prevNode, state, next); err != nil {
				return state, nodeCount, err
			}
		}

		prevNode = current
		current = next
	}

	return state, nodeCount, nil
}

// saveCheckpoint persists the current state after node execution.
// Save failures are non-fatal unless configured otherwise.
func (w *Workflow[S]) saveCheckpoint(ctx Context, cfg *runConfig, nodeID, prevNodeID string, state S, nextNode string) error {
	stateBytes, err := json.Marshal(state)
	if err != nil {
		if cfg.checkpointFatal {
			return &CheckpointError{NodeID: nodeID, Op: "serialize", Err: err}
		}
		observe.LogCheckpointError(cfg.logger, nodeID, "serialize", err)
		return nil
	}

	cfg.sequence++
	cp := checkpoint.New(cfg.sessionID, nodeID, cfg.sequence, stateBytes, nextNode).
		WithPrevNode(prevNodeID)

	data, err := cp.Marshal()
	if err != nil {
		if cfg.checkpointFatal {
			return &CheckpointError{NodeID: nodeID, Op: "marshal", Err: err}
		}
		observe.LogCheckpointError(cfg.logger, nodeID, "marshal", err)
		return nil
	}

	if err := cfg.checkpointStore.Save(cfg.sessionID, nodeID, data); err != nil {
		if cfg.checkpointFatal {
			return &CheckpointError{NodeID: nodeID, Op: "save", Err: err}
		}
		observe.LogCheckpointError(cfg.logger, nodeID, "save", err)
		return nil
	}

	observe.LogCheckpoint(cfg.logger, nodeID, len(data))
	cfg.metrics.RecordCheckpoint(ctx, nodeID, int64(len(data)))

	return nil
}

// latestSequence returns the highest sequence already persisted for the
// session, or zero when the session has no checkpoints yet. A listing
// failure also starts from zero; the first save will surface any real
// store problem.
func latestSequence(store checkpoint.Store, sessionID string) int {
	infos, err := store.List(sessionID)
	if err != nil {
		return 0
	}
	latest := 0
	for _, info := range infos {
		if info.Sequence > latest {
			latest = info.Sequence
		}
	}
	return latest
}

// executeNode executes a single node with panic recovery.
// Returns the new state and any error (including wrapped panics).
func (w *Workflow[S]) executeNode(ctx Context, nodeID string, state S) (result S, err error) {
	fn, exists := w.getNode(nodeID)
	if !exists {
		// Shouldn't happen if compilation was successful.
		return state, &NodeError{
			NodeID: nodeID,
			Op:     "lookup",
			Err:    fmt.Errorf("node not found: %s", nodeID),
		}
	}

	nodeCtx := ctx
	if ec, ok := ctx.(*executionContext); ok {
		nodeCtx = ec.withNodeID(nodeID)
	}

	defer func() {
		if r := recover(); r != nil {
			result = state
			err = &PanicError{
				NodeID: nodeID,
				Value:  r,
				Stack:  string(debug.Stack()),
			}
		}
	}()

	result, err = fn(nodeCtx, state)
	if err != nil {
		return result, &NodeError{
			NodeID: nodeID,
			Op:     "execute",
			Err:    err,
		}
	}

	return result, nil
}

// nextNode determines the next node to execute.
// Checks conditional edges first, then simple edges.
func (w *Workflow[S]) nextNode(ctx Context, state S, current string) (string, error) {
	if router, exists := w.getRouter(current); exists {
		routerCtx := ctx
		if ec, ok := ctx.(*executionContext); ok {
			routerCtx = ec.withNodeID(current)
		}

		next := router(routerCtx, state)

		if next == "" {
			return "", &RouterError{
				FromNode: current,
				Returned: next,
				Err:      ErrInvalidRouterResult,
			}
		}

		if next != END {
			if _, exists := w.getNode(next); !exists {
				return "", &RouterError{
					FromNode: current,
					Returned: next,
					Err:      ErrRouterTargetNotFound,
				}
			}
		}

		return next, nil
	}

	edges := w.getEdges(current)
	if len(edges) == 0 {
		// Shouldn't happen if compilation was successful.
		return "", &NodeError{
			NodeID: current,
			Op:     "routing",
			Err:    fmt.Errorf("no outgoing edge from node %s", current),
		}
	}

	// Simple edges are single-successor; take the first.
	return edges[0], nil
}
