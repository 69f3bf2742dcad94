// Package analyst implements the analytics assistant: a routing graph
// that classifies a question, hands it to a specialty agent that
// generates and executes queries, reflects on the produced records, and
// synthesizes a narrative report.
package analyst

import (
	"time"

	"github.com/randalmurphal/shopsight/pkg/llm"
)

// historyWindow bounds the recent-history slice handed to any
// sub-component. Nothing downstream ever sees unbounded history.
const historyWindow = 10

// HistoryEntry is one role-tagged turn in the conversation.
type HistoryEntry struct {
	Role    llm.Role `json:"role"`
	Content string   `json:"content"`
}

// TraceEntry is one tagged entry in the reasoning trace. Scratch memory
// is a structured append-only log, not a growing string, so renderers
// can trim and filter by stage.
type TraceEntry struct {
	Stage string    `json:"stage"`
	Node  string    `json:"node"`
	Text  string    `json:"text"`
	Time  time.Time `json:"time"`
}

// Insight is one role agent's output for the current turn.
type Insight struct {
	Role    string `json:"role"`
	Records []any  `json:"records"`
	Trace   string `json:"trace,omitempty"`
	// Incomplete marks a partial answer produced after the step budget
	// was exhausted.
	Incomplete bool `json:"incomplete,omitempty"`
	// Flagged marks an insight the reflector judged questionable but
	// still usable.
	Flagged bool `json:"flagged,omitempty"`
}

// Error kinds recorded in the turn's diagnostic log.
const (
	KindValidation   = "validation"
	KindExecution    = "execution"
	KindExtraction   = "extraction"
	KindGeneration   = "generation"
	KindRoutingParse = "routing_parse"
	KindStepBudget   = "step_budget"
	KindDegenerate   = "degenerate_response"
)

// TurnError is one diagnostic log entry. The log is append-only and
// surfaced in the final report's stated limitations.
type TurnError struct {
	Kind    string `json:"kind"`
	Role    string `json:"role"`
	Detail  string `json:"detail"`
	Attempt int    `json:"attempt"`
}

// SessionState is the single mutable record threaded through the graph.
// Exactly one node owns it at a time; the graph is strictly sequential
// so no locking is needed.
//
// Lifetime: History and Scratch persist across turns of a session (via
// the checkpoint store when configured). Insights, Errors, Route,
// Clarification, RetryDone, LastRole, ToolResults, and Report are
// turn-scoped and reset by ResetTurn.
type SessionState struct {
	// Question is the latest user message for this turn.
	Question string `json:"question"`

	// History is the ordered conversation log. Append-only within a
	// turn; always trimmed through RecentHistory before being handed to
	// a sub-component.
	History []HistoryEntry `json:"history"`

	// Scratch is the accumulated routing/reflection reasoning trace.
	// It persists across turns of the session so multi-turn
	// clarification keeps its context.
	Scratch []TraceEntry `json:"scratch"`

	// Insights collects one entry per role agent invocation this turn.
	Insights []Insight `json:"insights"`

	// Errors is the turn's diagnostic log.
	Errors []TurnError `json:"errors"`

	// Route is the next node name, set by the router node and the
	// reflector.
	Route string `json:"route"`

	// Clarification, when non-empty, is a question back to the user
	// emitted as the turn's terminal output instead of a report.
	Clarification string `json:"clarification,omitempty"`

	// RetryDone guards the single reflection retry per turn.
	RetryDone bool `json:"retry_done"`

	// LastRole is the role node that most recently executed this turn.
	LastRole string `json:"last_role,omitempty"`

	// ToolResults counts tool-result messages the last role agent
	// produced. Zero means it never actually executed anything.
	ToolResults int `json:"tool_results"`

	// Report is the final narrative text. Empty until the synthesizer
	// runs; not mutated afterward this turn.
	Report string `json:"report"`
}

// ResetTurn clears turn-scoped fields and sets the new question.
// History and Scratch survive.
func (s *SessionState) ResetTurn(question string) {
	s.Question = question
	s.Insights = nil
	s.Errors = nil
	s.Route = ""
	s.Clarification = ""
	s.RetryDone = false
	s.LastRole = ""
	s.ToolResults = 0
	s.Report = ""
}

// AppendHistory adds one entry to the conversation log.
func (s *SessionState) AppendHistory(role llm.Role, content string) {
	s.History = append(s.History, HistoryEntry{Role: role, Content: content})
}

// RecentHistory returns the bounded recent window of the conversation.
func (s *SessionState) RecentHistory() []HistoryEntry {
	if len(s.History) <= historyWindow {
		return s.History
	}
	return s.History[len(s.History)-historyWindow:]
}

// AppendTrace adds one entry to the reasoning trace.
func (s *SessionState) AppendTrace(stage, node, text string) {
	s.Scratch = append(s.Scratch, TraceEntry{
		Stage: stage,
		Node:  node,
		Text:  text,
		Time:  time.Now().UTC(),
	})
}

// RecentTrace renders the last n trace entries as prompt text.
func (s *SessionState) RecentTrace(n int) string {
	entries := s.Scratch
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	var out string
	for _, e := range entries {
		out += "[" + e.Stage + "/" + e.Node + "] " + e.Text + "\n"
	}
	return out
}

// AppendError adds one entry to the turn's diagnostic log.
func (s *SessionState) AppendError(kind, role, detail string, attempt int) {
	s.Errors = append(s.Errors, TurnError{
		Kind:    kind,
		Role:    role,
		Detail:  detail,
		Attempt: attempt,
	})
}
