package analyst

import (
	"github.com/randalmurphal/shopsight/pkg/flow"
	"github.com/randalmurphal/shopsight/pkg/llm"
)

// summarizeNode condenses a long conversation before synthesis. It only
// runs when history has outgrown the window; the summary is appended as
// an assistant entry so later turns start from it instead of the raw
// log. A generation failure appends a fixed placeholder and the turn
// proceeds.
func (n *nodes) summarizeNode(ctx flow.Context, s SessionState) (SessionState, error) {
	if len(s.History) <= historyWindow {
		return s, nil
	}

	var transcript string
	for _, e := range s.RecentHistory() {
		transcript += string(e.Role) + ": " + e.Content + "\n"
	}

	resp, err := n.complete(ctx, llm.CompletionRequest{
		SystemPrompt: summarySystemPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "Conversation:\n" + transcript +
				"\nFindings: " + serializeRecords(s.Insights)},
		},
	})
	if err != nil {
		s.AppendError(KindGeneration, NodeSummarize, err.Error(), 1)
		s.AppendHistory(llm.RoleAssistant, "Summary unavailable.")
		return s, nil
	}

	s.AppendHistory(llm.RoleAssistant, "Summary: "+resp.Content)
	ctx.Logger().Info("history summarized", "entries", len(s.History))
	return s, nil
}
