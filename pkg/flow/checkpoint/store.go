// Package checkpoint provides keyed session-state persistence.
//
// Each analysis session owns a rolling set of checkpoints, one per graph
// node, written after the node executes. The latest checkpoint carries the
// state a new turn starts from (scratch memory survives across turns this
// way). Access is load-at-start/store-at-end with exclusive per-session
// ownership; stores are nevertheless safe for concurrent use across
// different sessions.
package checkpoint

import (
	"errors"
	"time"
)

// Store persists session checkpoints.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save stores a checkpoint for a session at a specific node.
	// Overwrites if a checkpoint for (sessionID, nodeID) already exists.
	Save(sessionID, nodeID string, data []byte) error

	// Load retrieves a checkpoint.
	// Returns ErrNotFound if the checkpoint doesn't exist.
	Load(sessionID, nodeID string) ([]byte, error)

	// LoadLatest retrieves the most recent checkpoint for a session
	// (highest sequence number).
	// Returns ErrNotFound if the session has no checkpoints.
	LoadLatest(sessionID string) ([]byte, error)

	// List returns all checkpoints for a session, ordered by sequence.
	// Returns an empty slice (not an error) if the session has none.
	List(sessionID string) ([]Info, error)

	// Delete removes a specific checkpoint.
	// Returns nil if the checkpoint doesn't exist.
	Delete(sessionID, nodeID string) error

	// DeleteSession removes all checkpoints for a session.
	// Returns nil if the session has no checkpoints.
	DeleteSession(sessionID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Info provides metadata without loading full state.
type Info struct {
	SessionID string
	NodeID    string
	Sequence  int
	Timestamp time.Time
	Size      int64
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates a checkpoint doesn't exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")
)
