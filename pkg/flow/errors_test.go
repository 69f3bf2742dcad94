package flow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestNodeError_Unwrap tests error chain support.
func TestNodeError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	err := &NodeError{NodeID: "a", Op: "execute", Err: inner}

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "node a")
	assert.Contains(t, err.Error(), "inner")
}

// TestPanicError_Message tests panic error formatting.
func TestPanicError_Message(t *testing.T) {
	err := &PanicError{NodeID: "a", Value: "kaboom", Stack: "stack"}
	assert.Contains(t, err.Error(), "node a panicked")
	assert.Contains(t, err.Error(), "kaboom")
}

// TestMaxIterationsError_Is tests sentinel matching.
func TestMaxIterationsError_Is(t *testing.T) {
	err := &MaxIterationsError{Max: 50, LastNodeID: "b"}
	assert.ErrorIs(t, err, ErrMaxIterations)
	assert.Contains(t, err.Error(), "50")
	assert.Contains(t, err.Error(), "b")
}

// TestRouterError_Unwrap tests sentinel matching through RouterError.
func TestRouterError_Unwrap(t *testing.T) {
	err := &RouterError{FromNode: "a", Returned: "", Err: ErrInvalidRouterResult}
	assert.ErrorIs(t, err, ErrInvalidRouterResult)
}

// TestCancellationError_Unwrap tests cause propagation.
func TestCancellationError_Unwrap(t *testing.T) {
	cause := errors.New("deadline")
	err := &CancellationError{NodeID: "a", Cause: cause}
	assert.ErrorIs(t, err, cause)
}

// TestCheckpointError_Unwrap tests error chain support.
func TestCheckpointError_Unwrap(t *testing.T) {
	inner := errors.New("disk full")
	err := &CheckpointError{NodeID: "a", Op: "save", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "save")
}
