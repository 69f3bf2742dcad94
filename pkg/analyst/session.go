package analyst

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/shopsight/pkg/flow"
	"github.com/randalmurphal/shopsight/pkg/flow/checkpoint"
	"github.com/randalmurphal/shopsight/pkg/flow/observe"
	"github.com/randalmurphal/shopsight/pkg/llm"
	"github.com/randalmurphal/shopsight/pkg/warehouse"
)

// DefaultSessionID is used when multi-session support is unused.
const DefaultSessionID = "cli-session-1"

// Assistant is the top-level entry point. It holds the compiled turn
// workflow and the backend services, and hands out sessions.
type Assistant struct {
	workflow *flow.Workflow[SessionState]
	llm      llm.Client
	store    warehouse.Store
	ckpt     checkpoint.Store
	logger   *slog.Logger
	tracing  bool
}

// AssistantOption configures an Assistant.
type AssistantOption func(*Assistant)

// WithCheckpointStore enables cross-turn session persistence.
func WithCheckpointStore(store checkpoint.Store) AssistantOption {
	return func(a *Assistant) { a.ckpt = store }
}

// WithAssistantLogger sets the logger.
func WithAssistantLogger(logger *slog.Logger) AssistantOption {
	return func(a *Assistant) { a.logger = logger }
}

// WithTracing enables OpenTelemetry span emission around turns and
// nodes.
func WithTracing() AssistantOption {
	return func(a *Assistant) { a.tracing = true }
}

// NewAssistant builds an assistant over the given backends.
func NewAssistant(client llm.Client, store warehouse.Store, profile *warehouse.Profile, opts ...AssistantOption) (*Assistant, error) {
	if client == nil {
		return nil, errors.New("analyst: generation backend is required")
	}
	if store == nil {
		return nil, errors.New("analyst: query backend is required")
	}

	wf, err := BuildWorkflow(profile)
	if err != nil {
		return nil, fmt.Errorf("build workflow: %w", err)
	}

	a := &Assistant{
		workflow: wf,
		llm:      client,
		store:    store,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Session correlates turns under one session identifier. Not safe for
// concurrent use; run turns of the same session sequentially.
type Session struct {
	assistant *Assistant
	id        string
	state     SessionState
	restored  bool
}

// Session returns a session handle for the given identifier, restoring
// persisted history and scratch memory from the checkpoint store when
// one is configured.
func (a *Assistant) Session(id string) *Session {
	if id == "" {
		id = DefaultSessionID
	}
	return &Session{assistant: a, id: id}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Ask runs one full turn of the graph for the given question and
// returns the report text. Ask is total: every failure mode inside the
// turn resolves to report text, and a failure of the graph machinery
// itself resolves to a fixed apology embedding the error. It never
// returns an error and never panics.
func (s *Session) Ask(ctx context.Context, question string) string {
	a := s.assistant
	s.restore()

	s.state.ResetTurn(question)
	s.state.AppendHistory(llm.RoleUser, question)

	flowCtx := flow.NewContext(ctx,
		flow.WithLogger(a.logger),
		flow.WithLLM(a.llm),
		flow.WithWarehouse(a.store),
		flow.WithCheckpointer(a.ckpt),
		flow.WithSessionID(s.id),
	)

	opts := []flow.RunOption{}
	if a.ckpt != nil {
		opts = append(opts, flow.WithCheckpointing(a.ckpt, s.id))
	}
	if a.tracing {
		opts = append(opts,
			flow.WithTracing(observe.NewSpanManager()),
			flow.WithMetrics(observe.NewMetricsRecorder()))
	}

	final, err := a.workflow.Run(flowCtx, s.state, opts...)
	if err != nil {
		// Node-level failures are absorbed inside the nodes; reaching
		// here means the machinery itself failed (panic, cancellation).
		a.logger.Error("turn failed", "session_id", s.id, "error", err)
		s.state.AppendHistory(llm.RoleAssistant, "turn aborted: "+err.Error())
		if final.Report != "" {
			s.state = final
			return final.Report
		}
		return "Something went wrong while analyzing your question: " + err.Error()
	}

	s.state = final
	return final.Report
}

// restore loads the latest persisted state for the session, once. Only
// the cross-turn fields survive; turn-scoped fields are reset by the
// next ResetTurn anyway.
func (s *Session) restore() {
	if s.restored {
		return
	}
	s.restored = true

	a := s.assistant
	if a.ckpt == nil {
		return
	}

	data, err := a.ckpt.LoadLatest(s.id)
	if err != nil {
		if !errors.Is(err, checkpoint.ErrNotFound) {
			a.logger.Warn("session restore failed", "session_id", s.id, "error", err)
		}
		return
	}

	cp, err := checkpoint.Unmarshal(data)
	if err != nil {
		a.logger.Warn("session checkpoint corrupt", "session_id", s.id, "error", err)
		return
	}

	var prior SessionState
	if err := json.Unmarshal(cp.State, &prior); err != nil {
		a.logger.Warn("session state corrupt", "session_id", s.id, "error", err)
		return
	}

	s.state.History = prior.History
	s.state.Scratch = prior.Scratch
	a.logger.Info("session restored",
		"session_id", s.id,
		"history_entries", len(prior.History),
		"trace_entries", len(prior.Scratch))
}
