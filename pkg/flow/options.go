package flow

import (
	"log/slog"

	"github.com/randalmurphal/shopsight/pkg/flow/checkpoint"
	"github.com/randalmurphal/shopsight/pkg/flow/observe"
)

// runConfig holds configuration for one turn execution.
type runConfig struct {
	maxIterations int
	logger        *slog.Logger
	metrics       observe.MetricsRecorder
	spans         observe.SpanManager
	tracing       bool

	checkpointStore checkpoint.Store
	sessionID       string
	sequence        int
	checkpointFatal bool
}

// defaultRunConfig returns the default execution configuration.
func defaultRunConfig() runConfig {
	return runConfig{
		maxIterations: 50,
		metrics:       observe.NoopMetrics{},
		spans:         observe.NoopSpanManager{},
	}
}

// RunOption configures execution behavior.
type RunOption func(*runConfig)

// WithMaxIterations sets the maximum number of node executions per turn.
// Default: 50.
//
// This prevents routing bugs from looping forever. If a turn exceeds this
// limit, Run returns a MaxIterationsError.
func WithMaxIterations(n int) RunOption {
	return func(c *runConfig) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// WithRunLogger sets the logger used for run-level logging.
// Defaults to the context's logger.
func WithRunLogger(logger *slog.Logger) RunOption {
	return func(c *runConfig) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics recorder for this run.
// Defaults to a no-op recorder.
func WithMetrics(m observe.MetricsRecorder) RunOption {
	return func(c *runConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracing enables OTel span creation for the run and each node.
func WithTracing(spans observe.SpanManager) RunOption {
	return func(c *runConfig) {
		if spans != nil {
			c.spans = spans
			c.tracing = true
		}
	}
}

// WithCheckpointing enables state checkpointing to the given store.
// A session ID is required; Run returns ErrSessionIDRequired without one.
func WithCheckpointing(store checkpoint.Store, sessionID string) RunOption {
	return func(c *runConfig) {
		c.checkpointStore = store
		c.sessionID = sessionID
	}
}

// WithCheckpointFailureFatal makes checkpoint save failures abort the run.
// By default save failures are logged and execution continues, since a
// turn that loses its checkpoint is still worth finishing.
func WithCheckpointFailureFatal() RunOption {
	return func(c *runConfig) {
		c.checkpointFatal = true
	}
}
