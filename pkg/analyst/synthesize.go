package analyst

import (
	"strings"

	"github.com/randalmurphal/shopsight/pkg/flow"
	"github.com/randalmurphal/shopsight/pkg/llm"
)

// synthesizeNode produces the turn's final report. It is total: every
// path yields non-empty report text, and the node never fails the turn.
// The report is appended to history as the turn's assistant entry so
// later turns build on it.
func (n *nodes) synthesizeNode(ctx flow.Context, s SessionState) (SessionState, error) {
	s.Report = n.buildReport(ctx, &s)
	s.AppendHistory(llm.RoleAssistant, s.Report)

	ctx.Logger().Info("report synthesized",
		"insights", len(s.Insights),
		"errors", len(s.Errors),
		"report_chars", len(s.Report))
	return s, nil
}

// buildReport resolves the turn to report text.
func (n *nodes) buildReport(ctx flow.Context, s *SessionState) string {
	// A clarification question is the turn's terminal output; no report
	// is generated.
	if s.Clarification != "" {
		return s.Clarification
	}

	// Nothing was produced this turn. Emit the fixed diagnostic with
	// the recorded errors instead of calling the backend.
	if len(s.Insights) == 0 {
		return "No insights were generated for this question. Errors: " + serializeErrors(s.Errors)
	}

	system := synthesisSystemPrompt
	if wantsRankedList(s.Question) {
		system += "\n\n" + synthesisRankedDirective
	}

	prompt := "Question: " + s.Question +
		"\nFindings: " + serializeRecords(s.Insights) +
		"\nErrors: " + serializeErrors(s.Errors)

	resp, err := n.complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	})
	if err != nil {
		// Fall back to the raw findings rather than failing the turn.
		s.AppendError(KindGeneration, NodeSynthesize, err.Error(), 1)
		return "Report generation failed; raw findings follow.\n" + serializeRecords(s.Insights)
	}

	report := strings.TrimSpace(resp.Content)
	if report == "" {
		return "Report generation returned nothing; raw findings follow.\n" + serializeRecords(s.Insights)
	}
	return report
}

// wantsRankedList reports whether the question asked for a ranking.
func wantsRankedList(question string) bool {
	lower := strings.ToLower(question)
	for _, marker := range []string{"top ", "rank", "list the", "list of", "best ", "worst "} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
