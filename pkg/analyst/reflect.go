package analyst

import (
	"strings"

	"github.com/randalmurphal/shopsight/pkg/flow"
	"github.com/randalmurphal/shopsight/pkg/llm"
)

// Verdict is the reflector's judgment of a role agent's output.
type Verdict string

// The three verdicts.
const (
	VerdictOK      Verdict = "ok"
	VerdictRetry   Verdict = "retry"
	VerdictFlagged Verdict = "flagged"
)

// reflectNode judges the last role agent's output and decides whether
// to retry it or proceed to synthesis.
//
// An agent that produced no tool results at all (never executed a
// query) is retried unconditionally on first occurrence. Otherwise the
// model judges the produced records against the dataset. A retry is
// honored at most once per turn; any further retry signal is downgraded
// to flagged so the turn terminates. Flagged issues are appended to
// history and surface in the report as limitations.
func (n *nodes) reflectNode(ctx flow.Context, s SessionState) (SessionState, error) {
	verdict, explanation := n.judge(ctx, &s)

	if verdict == VerdictRetry && s.RetryDone {
		verdict = VerdictFlagged
		explanation = "retry already consumed this turn; " + explanation
	}

	s.AppendTrace("reflect", NodeReflect, string(verdict)+": "+explanation)
	ctx.Logger().Info("reflection verdict",
		"role", s.LastRole,
		"verdict", string(verdict))

	switch verdict {
	case VerdictRetry:
		s.RetryDone = true
		// Drop the retried attempt's insight so the rerun replaces it
		// instead of duplicating it.
		if len(s.Insights) > 0 && s.Insights[len(s.Insights)-1].Role == s.LastRole {
			s.Insights = s.Insights[:len(s.Insights)-1]
		}
		s.AppendHistory(llm.RoleUser, "Your previous attempt needs rework: "+explanation+" Rerun the analysis with a corrected query.")
		s.Route = s.LastRole

	case VerdictFlagged:
		if len(s.Insights) > 0 {
			s.Insights[len(s.Insights)-1].Flagged = true
		}
		s.AppendHistory(llm.RoleAssistant, "Flagged issue: "+explanation)
		s.Route = n.postRoleRoute(s)

	default:
		s.Route = n.postRoleRoute(s)
	}

	return s, nil
}

// judge produces the verdict and its explanation.
func (n *nodes) judge(ctx flow.Context, s *SessionState) (Verdict, string) {
	if s.ToolResults == 0 && !s.RetryDone {
		return VerdictRetry, "the agent never executed a query; findings are ungrounded"
	}

	var last *Insight
	if len(s.Insights) > 0 {
		last = &s.Insights[len(s.Insights)-1]
	}
	if last == nil {
		return VerdictOK, "no output to judge"
	}

	resp, err := n.complete(ctx, llm.CompletionRequest{
		SystemPrompt: reflectSystemPrompt(n.profile),
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "Question: " + s.Question +
				"\nFindings: " + serializeRecords([]Insight{*last}) +
				"\nReasoning so far:\n" + s.RecentTrace(6)},
		},
	})
	if err != nil {
		// Judgment is advisory; a backend failure never blocks the turn.
		s.AppendError(KindGeneration, NodeReflect, err.Error(), 1)
		return VerdictOK, "judgment unavailable, proceeding"
	}

	return parseVerdict(resp.Content)
}

// parseVerdict maps raw judgment text onto the closed verdict set.
// A "verdict:" marker is authoritative; otherwise retry- or
// issue-signaling language is scanned for. Anything else is ok.
func parseVerdict(raw string) (Verdict, string) {
	lower := strings.ToLower(raw)
	explanation := firstLine(raw)

	if idx := strings.Index(lower, "verdict:"); idx >= 0 {
		rest := strings.TrimSpace(lower[idx+len("verdict:"):])
		fields := strings.Fields(rest)
		if len(fields) > 0 {
			switch Verdict(strings.Trim(fields[0], ".,;:")) {
			case VerdictRetry:
				return VerdictRetry, explanation
			case VerdictFlagged:
				return VerdictFlagged, explanation
			case VerdictOK:
				return VerdictOK, explanation
			}
		}
	}

	if strings.Contains(lower, "retry") {
		return VerdictRetry, explanation
	}
	for _, signal := range []string{"invalid", "inconsistent", "issue", "incorrect", "flag"} {
		if strings.Contains(lower, signal) {
			return VerdictFlagged, explanation
		}
	}
	return VerdictOK, explanation
}

// postRoleRoute picks the node after reflection: the summarizer when
// history has outgrown the window, synthesis otherwise.
func (n *nodes) postRoleRoute(s SessionState) string {
	if len(s.History) > historyWindow {
		return NodeSummarize
	}
	return NodeSynthesize
}
