package analyst

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/randalmurphal/shopsight/pkg/warehouse"
)

// routerSystemPrompt instructs the classifier. The model must answer
// with a single "next: <decision>" line; everything else is treated as
// explanation.
func routerSystemPrompt(profile *warehouse.Profile) string {
	return fmt.Sprintf(`You are the manager of an e-commerce analytics team. Classify the latest user message into exactly one of:
- segmentation: customer segments, demographics, purchasing behavior
- trends: sales trends, seasonality, revenue over time
- geo: geographic patterns, regions, countries
- product: product performance, categories, recommendations
- off_topic: not about e-commerce analysis
- clarify: too vague or missing a required dimension (no time period, no recognized location) to analyze

"Sales" means revenue in dollars unless stated otherwise.

Output exactly one line "next: <decision>", then a short explanation on following lines. For clarify, the explanation must be the clarification question to ask the user.

Examples:
- "Sales trends summer 2024" -> next: trends
- "Top customer segments by spend" -> next: segmentation
- "What's the best pizza in town?" -> next: off_topic
- "Sales?" -> next: clarify

%s`, profile.ContextText())
}

// roleSystemPrompt instructs a specialty agent. The agent acts through
// a plain-text tool protocol: one Action/Action Input pair per
// response, or a terminal "Final Answer:" line carrying a JSON list.
func roleSystemPrompt(role, description string, profile *warehouse.Profile) string {
	return fmt.Sprintf(`You are the %s analyst, specializing in %s. Answer the user's question by querying the data warehouse.

Available tables in `+"`%s`"+`: %s.
Schema: %s
%s

Work step by step: understand the question, write one SQL query, validate it, run it, then state your findings.

To use a tool, respond with exactly:
Action: <tool name>
Action Input: <input>

Tools:
- validate_query: checks a SQL query against policy without running it. Input: the SQL text.
- run_query: executes a SQL query and returns rows. Input: the SQL text.

Always end queries with LIMIT %d or less. Only SELECT statements referencing the tables above are permitted.

When you have your findings, respond with exactly one line starting with:
Final Answer: ["finding 1", "finding 2", ...]

The list must be valid JSON. Include exact figures from query results; never invent numbers.`,
		role, description, profile.Dataset,
		strings.Join(profile.TableNames(), ", "),
		profile.SchemaJSON(), profile.ContextText(), profile.RowLimit)
}

// reflectSystemPrompt instructs the validity judge.
func reflectSystemPrompt(profile *warehouse.Profile) string {
	return fmt.Sprintf(`You review an analyst's findings for validity and consistency against the dataset before they are reported.

%s

Judge whether the findings plausibly answer the question and stay consistent with the schema and value ranges. If "sales" was ambiguous, revenue in dollars is the expected metric.

Respond with exactly one line "verdict: ok", "verdict: retry", or "verdict: flagged", then a short explanation. Use retry only when rerunning the analysis with a corrected query would clearly help; use flagged for issues worth noting that do not require a rerun.`, profile.ContextText())
}

// synthesisSystemPrompt instructs the report writer.
const synthesisSystemPrompt = `You write the final report for an executive from analyst findings. "Sales" means revenue in dollars.

Rules:
- Preserve every numeric and currency value exactly as given in the findings. Never re-derive or invent figures.
- Bold key figures, e.g. **China: $611,205**.
- Narrative paragraphs: 2-3 paragraphs with patterns and recommendations when the findings are rich, 1 paragraph when sparse.
- If errors are listed, note the limitation briefly.
- No filler. Stick to the given findings.`

// synthesisRankedDirective replaces the narrative form when the user
// asked for a ranking.
const synthesisRankedDirective = `The user asked for a ranked list. Output a ranked list only, one item per line, with its figure. No added commentary.`

// summarySystemPrompt instructs the history summarizer.
const summarySystemPrompt = `Summarize the recent conversation and findings so the analysis can continue with less context. 2-3 paragraphs when the findings are rich, 1 when sparse. Keep exact figures. No invention.`

// degenerateNudge is injected once when the model neither calls a tool
// nor gives a final answer.
const degenerateNudge = `You must either call a tool with an "Action:" line or finish with a "Final Answer: [...]" line. Do not ask questions back. Proceed with your best interpretation of the request.`

// serializeRecords renders insight records for a prompt, reasoning
// traces excluded.
func serializeRecords(insights []Insight) string {
	type entry struct {
		Role    string `json:"role"`
		Records []any  `json:"records"`
		Flagged bool   `json:"flagged,omitempty"`
		Partial bool   `json:"partial,omitempty"`
	}
	entries := make([]entry, 0, len(insights))
	for _, ins := range insights {
		entries = append(entries, entry{
			Role:    ins.Role,
			Records: ins.Records,
			Flagged: ins.Flagged,
			Partial: ins.Incomplete,
		})
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// serializeErrors renders the diagnostic log for a prompt or report.
func serializeErrors(errs []TurnError) string {
	if len(errs) == 0 {
		return "none"
	}
	data, err := json.Marshal(errs)
	if err != nil {
		return "unserializable error log"
	}
	return string(data)
}
