package flow

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/randalmurphal/shopsight/pkg/flow/checkpoint"
	"github.com/randalmurphal/shopsight/pkg/llm"
	"github.com/randalmurphal/shopsight/pkg/warehouse"
)

// Context provides execution context to nodes.
// It extends context.Context with the services a node needs: the
// generation backend, the query warehouse, the checkpoint store, and
// an enriched logger.
//
// Context is immutable after creation. The executor creates derived
// contexts for each node with updated NodeID and enriched logger.
type Context interface {
	context.Context

	// Logger returns the configured logger, enriched with session and node
	// context. Never returns nil - defaults to slog.Default() if not
	// configured.
	Logger() *slog.Logger

	// LLM returns the generation backend client, or nil if not configured.
	// Nodes should check for nil before using.
	LLM() llm.Client

	// Warehouse returns the query backend, or nil if not configured.
	// Nodes should check for nil before using.
	Warehouse() warehouse.Store

	// Checkpointer returns the checkpoint store, or nil if not configured.
	Checkpointer() checkpoint.Store

	// SessionID returns the opaque identifier correlating turns.
	// Auto-generated if not configured.
	SessionID() string

	// TurnID returns the unique identifier for this turn.
	TurnID() string

	// NodeID returns the current node being executed.
	// Empty string before execution starts.
	NodeID() string
}

// executionContext is the internal implementation of Context.
type executionContext struct {
	context.Context

	logger       *slog.Logger
	llmClient    llm.Client
	store        warehouse.Store
	checkpointer checkpoint.Store
	sessionID    string
	turnID       string
	nodeID       string
}

// Logger returns the configured logger.
func (c *executionContext) Logger() *slog.Logger {
	return c.logger
}

// LLM returns the generation backend client.
func (c *executionContext) LLM() llm.Client {
	return c.llmClient
}

// Warehouse returns the query backend.
func (c *executionContext) Warehouse() warehouse.Store {
	return c.store
}

// Checkpointer returns the checkpoint store.
func (c *executionContext) Checkpointer() checkpoint.Store {
	return c.checkpointer
}

// SessionID returns the session identifier.
func (c *executionContext) SessionID() string {
	return c.sessionID
}

// TurnID returns the turn identifier.
func (c *executionContext) TurnID() string {
	return c.turnID
}

// NodeID returns the current node identifier.
func (c *executionContext) NodeID() string {
	return c.nodeID
}

// ContextOption configures a Context.
type ContextOption func(*executionContext)

// WithLogger sets the logger for the context.
// The logger is enriched with session_id and node_id during execution.
func WithLogger(logger *slog.Logger) ContextOption {
	return func(c *executionContext) {
		c.logger = logger
	}
}

// WithLLM sets the generation backend client for the context.
func WithLLM(client llm.Client) ContextOption {
	return func(c *executionContext) {
		c.llmClient = client
	}
}

// WithWarehouse sets the query backend for the context.
func WithWarehouse(store warehouse.Store) ContextOption {
	return func(c *executionContext) {
		c.store = store
	}
}

// WithCheckpointer sets the checkpoint store for the context.
func WithCheckpointer(store checkpoint.Store) ContextOption {
	return func(c *executionContext) {
		c.checkpointer = store
	}
}

// WithSessionID sets the session identifier for the context.
// If not set, a UUID is auto-generated.
func WithSessionID(id string) ContextOption {
	return func(c *executionContext) {
		c.sessionID = id
	}
}

// NewContext creates an execution context from a standard context.
// The returned Context wraps the provided context.Context and adds the
// services and metadata the graph nodes use.
//
// Example:
//
//	ctx := flow.NewContext(context.Background(),
//	    flow.WithLogger(myLogger),
//	    flow.WithSessionID("cli-session-1"))
func NewContext(ctx context.Context, opts ...ContextOption) Context {
	ec := &executionContext{
		Context:   ctx,
		logger:    slog.Default(),
		sessionID: uuid.New().String(),
		turnID:    uuid.New().String(),
	}

	for _, opt := range opts {
		opt(ec)
	}

	return ec
}

// withNodeID returns a new context with the given node ID set.
// Used internally by the executor to enrich the context per-node.
func (c *executionContext) withNodeID(nodeID string) *executionContext {
	return &executionContext{
		Context:      c.Context,
		logger:       c.logger.With("session_id", c.sessionID, "turn_id", c.turnID, "node_id", nodeID),
		llmClient:    c.llmClient,
		store:        c.store,
		checkpointer: c.checkpointer,
		sessionID:    c.sessionID,
		turnID:       c.turnID,
		nodeID:       nodeID,
	}
}
