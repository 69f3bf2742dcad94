package analyst

import (
	"strings"

	"github.com/randalmurphal/shopsight/pkg/flow"
	"github.com/randalmurphal/shopsight/pkg/llm"
)

// Decision is the router's classification of a user message.
// The set is closed; ParseDecision maps any model output onto it.
type Decision string

// The seven routing decisions.
const (
	DecisionSegmentation Decision = "segmentation"
	DecisionTrends       Decision = "trends"
	DecisionGeo          Decision = "geo"
	DecisionProduct      Decision = "product"
	DecisionOffTopic     Decision = "off_topic"
	DecisionClarify      Decision = "clarify"
	DecisionSynthesize   Decision = "synthesize"
)

// ParseDecision maps raw router output to a Decision. It looks for a
// "next:" marker and reads the token after it. Anything unparseable
// defaults to DecisionSynthesize; the default is fixed and intentional
// so a misbehaving model can only ever short-circuit to synthesis,
// never steer the graph to an arbitrary node.
func ParseDecision(raw string) (Decision, bool) {
	lower := strings.ToLower(raw)
	idx := strings.Index(lower, "next:")
	if idx < 0 {
		return DecisionSynthesize, false
	}

	rest := strings.TrimSpace(lower[idx+len("next:"):])
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return DecisionSynthesize, false
	}
	token := strings.Trim(fields[0], ".,;:'\"`()[]")

	switch Decision(token) {
	case DecisionSegmentation, DecisionTrends, DecisionGeo, DecisionProduct,
		DecisionOffTopic, DecisionClarify, DecisionSynthesize:
		return Decision(token), true
	}
	return DecisionSynthesize, false
}

// routeNode classifies the turn's question and sets the next node.
//
// off_topic appends an explanatory insight; clarify records the
// clarification question as the turn's terminal output. Both
// short-circuit to synthesis without invoking any role agent. A
// generation failure or unparseable response also routes to synthesis.
func (n *nodes) routeNode(ctx flow.Context, s SessionState) (SessionState, error) {
	if strings.TrimSpace(s.Question) == "" {
		s.Clarification = "What would you like to analyze? For example: sales trends, customer segments, geographic patterns, or product performance."
		s.AppendTrace("route", NodeRoute, "empty question, asking for clarification")
		s.Route = NodeSynthesize
		return s, nil
	}

	resp, err := n.complete(ctx, llm.CompletionRequest{
		SystemPrompt: routerSystemPrompt(n.profile),
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: s.Question + "\n\nReasoning so far:\n" + s.RecentTrace(6)},
		},
	})
	if err != nil {
		s.AppendError(KindGeneration, NodeRoute, err.Error(), 1)
		s.AppendTrace("route", NodeRoute, "classifier call failed, defaulting to synthesis")
		s.Route = NodeSynthesize
		return s, nil
	}

	decision, parsed := ParseDecision(resp.Content)
	if !parsed {
		s.AppendError(KindRoutingParse, NodeRoute, "no decision marker in classifier output", 1)
	}
	s.AppendTrace("route", NodeRoute, string(decision)+": "+firstLine(resp.Content))

	switch decision {
	case DecisionOffTopic:
		s.Insights = append(s.Insights, Insight{
			Role:    "manager",
			Records: []any{"The question is outside e-commerce analysis; no data was queried."},
		})
		s.Route = NodeSynthesize
	case DecisionClarify:
		s.Clarification = clarificationText(resp.Content)
		s.Route = NodeSynthesize
	case DecisionSynthesize:
		s.Route = NodeSynthesize
	default:
		s.Route = string(decision)
	}

	ctx.Logger().Info("routed question", "decision", string(decision))
	return s, nil
}

// clarificationText pulls the question to ask the user out of the
// router's explanation, falling back to a fixed prompt.
func clarificationText(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(strings.ToLower(line), "next:") {
			continue
		}
		return line
	}
	return "Could you clarify what you want analyzed, including a time period or location if relevant?"
}

// firstLine returns the first non-empty line of s.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			return t
		}
	}
	return ""
}
