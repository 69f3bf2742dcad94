package observe

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureLogger returns a debug-level JSON logger writing into buf.
func captureLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// lastRecord decodes the last log line in buf.
func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)

	var record map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &record))
	return record
}

// TestLogTurnStart tests the turn-start event fields.
func TestLogTurnStart(t *testing.T) {
	var buf bytes.Buffer
	LogTurnStart(captureLogger(&buf), "session-1", "turn-abc")

	record := lastRecord(t, &buf)
	assert.Equal(t, "turn starting", record["msg"])
	assert.Equal(t, "session-1", record["session_id"])
	assert.Equal(t, "turn-abc", record["turn_id"])
}

// TestLogTurnComplete tests the completion event fields.
func TestLogTurnComplete(t *testing.T) {
	var buf bytes.Buffer
	LogTurnComplete(captureLogger(&buf), "turn-abc", 12.5, 4)

	record := lastRecord(t, &buf)
	assert.Equal(t, "turn completed", record["msg"])
	assert.Equal(t, 12.5, record["duration_ms"])
	assert.Equal(t, float64(4), record["nodes_executed"])
}

// TestLogTurnError tests the failure event fields.
func TestLogTurnError(t *testing.T) {
	var buf bytes.Buffer
	LogTurnError(captureLogger(&buf), "turn-abc", errors.New("boom"), 3.0, "reflect")

	record := lastRecord(t, &buf)
	assert.Equal(t, "turn failed", record["msg"])
	assert.Equal(t, "boom", record["error"])
	assert.Equal(t, "reflect", record["last_node"])
}

// TestLogNodeEvents tests the node lifecycle events.
func TestLogNodeEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := captureLogger(&buf)

	LogNodeStart(logger, "route")
	assert.Equal(t, "route", lastRecord(t, &buf)["node_id"])

	LogNodeComplete(logger, "route", 1.5)
	record := lastRecord(t, &buf)
	assert.Equal(t, "node completed", record["msg"])
	assert.Equal(t, 1.5, record["duration_ms"])

	LogNodeError(logger, "route", errors.New("bad"))
	assert.Equal(t, "node failed", lastRecord(t, &buf)["msg"])
}

// TestLogCheckpointEvents tests the checkpoint events.
func TestLogCheckpointEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := captureLogger(&buf)

	LogCheckpoint(logger, "synthesize", 512)
	record := lastRecord(t, &buf)
	assert.Equal(t, "checkpoint saved", record["msg"])
	assert.Equal(t, float64(512), record["size_bytes"])

	LogCheckpointError(logger, "synthesize", "save", errors.New("disk full"))
	record = lastRecord(t, &buf)
	assert.Equal(t, "checkpoint failed", record["msg"])
	assert.Equal(t, "save", record["operation"])
}

// TestLogFunctions_NilLogger tests that every helper tolerates a nil
// logger.
func TestLogFunctions_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		LogTurnStart(nil, "s", "t")
		LogTurnComplete(nil, "t", 1, 1)
		LogTurnError(nil, "t", errors.New("x"), 1, "n")
		LogNodeStart(nil, "n")
		LogNodeComplete(nil, "n", 1)
		LogNodeError(nil, "n", errors.New("x"))
		LogCheckpoint(nil, "n", 1)
		LogCheckpointError(nil, "n", "save", errors.New("x"))
	})
}

// TestTimedOperation tests elapsed-time measurement.
func TestTimedOperation(t *testing.T) {
	elapsed := TimedOperation()
	assert.GreaterOrEqual(t, elapsed(), 0.0)
}
