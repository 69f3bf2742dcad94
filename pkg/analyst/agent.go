package analyst

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/randalmurphal/shopsight/pkg/flow"
	"github.com/randalmurphal/shopsight/pkg/flow/errs"
	"github.com/randalmurphal/shopsight/pkg/llm"
	"github.com/randalmurphal/shopsight/pkg/warehouse"
)

// The four specialties. Role node names double as routing decisions.
var specialties = map[string]string{
	NodeSegmentation: "customer segments by demographics and purchasing behavior",
	NodeTrends:       "sales trends, seasonality, and revenue over time",
	NodeGeo:          "geographic patterns across regions and countries",
	NodeProduct:      "product performance, categories, and recommendations",
}

// Tool names in the agent protocol.
const (
	toolValidate = "validate_query"
	toolRun      = "run_query"
)

var (
	actionRe      = regexp.MustCompile(`(?m)^\s*Action:\s*([a-z_]+)`)
	actionInputRe = regexp.MustCompile(`(?s)Action Input:\s*(.+)`)
)

// roleNodeFn builds the node function for one specialty agent.
func (n *nodes) roleNodeFn(role string) flow.NodeFunc[SessionState] {
	description := specialties[role]
	return func(ctx flow.Context, s SessionState) (SessionState, error) {
		s.LastRole = role
		n.runRole(ctx, &s, role, description)
		return s, nil
	}
}

// runRole drives one agent through its Reason/Act loop.
//
// Each cycle the model either requests a tool (Action/Action Input),
// gives a terminal answer (Final Answer: [...]), or does neither. Tool
// requests are executed and fed back as tool results. A degenerate
// response gets one synthetic follow-up demanding tool use; a second
// one ends the loop. Exhausting the step budget ends the loop with a
// partial answer tagged incomplete. The loop always appends exactly one
// insight and never fails the turn.
func (n *nodes) runRole(ctx flow.Context, s *SessionState, role, description string) {
	system := roleSystemPrompt(role, description, n.profile)
	msgs := historyMessages(s.RecentHistory())
	if s.RecentTrace(1) != "" {
		msgs = append(msgs, llm.Message{
			Role:    llm.RoleUser,
			Content: "Reasoning so far:\n" + s.RecentTrace(6),
		})
	}
	newFrom := len(msgs)

	s.ToolResults = 0
	nudged := false
	gaveUp := false
	var lastContent string

	for step := 1; step <= n.stepBudget; step++ {
		resp, err := n.complete(ctx, llm.CompletionRequest{
			SystemPrompt: system,
			Messages:     msgs,
		})
		if err != nil {
			s.AppendError(KindGeneration, role, err.Error(), step)
			s.Insights = append(s.Insights, Insight{
				Role:       role,
				Records:    []any{"Unable to produce findings: the generation backend failed."},
				Incomplete: true,
			})
			appendNewMessages(s, msgs[newFrom:])
			return
		}

		lastContent = resp.Content
		msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})

		if strings.Contains(resp.Content, "Final Answer") {
			records := Extract(resp.Content)
			if len(records) == 0 {
				s.AppendError(KindExtraction, role, "no parseable record list in final answer", step)
			}
			s.Insights = append(s.Insights, Insight{
				Role:    role,
				Records: records,
				Trace:   firstLine(resp.Content),
			})
			appendNewMessages(s, msgs[newFrom:])
			ctx.Logger().Info("role agent finished",
				"role", role,
				"steps", step,
				"records", len(records))
			return
		}

		tool, input, ok := parseAction(resp.Content)
		if !ok {
			if !nudged {
				nudged = true
				msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: degenerateNudge})
				continue
			}
			gaveUp = true
			break
		}

		result := n.runTool(ctx, s, role, tool, input, step)
		msgs = append(msgs, llm.Message{Role: llm.RoleTool, Content: result})
		s.ToolResults++
	}

	// Budget exhausted, or the model went degenerate twice. Keep
	// whatever partial answer exists, tagged incomplete.
	kind, detail := KindStepBudget, "step budget exhausted before a final answer"
	if gaveUp {
		kind, detail = KindDegenerate, "no tool call or final answer after a repeated instruction"
	}
	s.AppendError(kind, role, detail, n.stepBudget)
	s.Insights = append(s.Insights, Insight{
		Role:       role,
		Records:    Extract(lastContent),
		Incomplete: true,
	})
	appendNewMessages(s, msgs[newFrom:])
	ctx.Logger().Warn("role agent stopped without a final answer", "role", role, "reason", kind)
}

// runTool executes one requested tool and renders its result as a
// tool-result message. Query execution retries transient backend
// failures with bounded backoff; the executor itself never retries.
func (n *nodes) runTool(ctx flow.Context, s *SessionState, role, tool, input string, step int) string {
	switch tool {
	case toolValidate:
		if err := warehouse.Validate(input); err != nil {
			return "rejected: " + err.Error()
		}
		return "valid: the query passes policy checks"

	case toolRun:
		if err := warehouse.Validate(input); err != nil {
			s.AppendError(KindValidation, role, err.Error(), step)
			return "rejected: " + err.Error()
		}
		store := ctx.Warehouse()
		if store == nil {
			return "error: no query backend configured"
		}
		res := errs.WithRetryContext(ctx, n.retry, func(c context.Context) ([]warehouse.Row, error) {
			return store.Query(c, input)
		})
		if res.Err != nil {
			s.AppendError(KindExecution, role, res.Err.Error(), step)
			return "error: " + res.Err.Error()
		}
		return renderRows(res.Value)

	default:
		return "error: unknown tool " + tool + "; available tools are validate_query and run_query"
	}
}

// parseAction extracts a tool invocation from a model response. The
// input has surrounding code fences stripped so fenced SQL works.
func parseAction(content string) (tool, input string, ok bool) {
	m := actionRe.FindStringSubmatch(content)
	if m == nil {
		return "", "", false
	}
	tool = m[1]

	im := actionInputRe.FindStringSubmatch(content)
	if im == nil {
		return "", "", false
	}
	input = strings.TrimSpace(im[1])
	input = strings.TrimPrefix(input, "```sql")
	input = strings.TrimPrefix(input, "```")
	input = strings.TrimSuffix(input, "```")
	return tool, strings.TrimSpace(input), true
}

// renderRows serializes query results for the model: row count plus up
// to ten sample rows as JSON.
func renderRows(rows []warehouse.Row) string {
	sample := rows
	if len(sample) > 10 {
		sample = sample[:10]
	}
	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Sprintf("rows: %d (unserializable sample)", len(rows))
	}
	return fmt.Sprintf("rows: %d\n%s", len(rows), data)
}

// historyMessages converts the bounded history window to backend
// messages.
func historyMessages(entries []HistoryEntry) []llm.Message {
	msgs := make([]llm.Message, 0, len(entries))
	for _, e := range entries {
		msgs = append(msgs, llm.Message{Role: e.Role, Content: e.Content})
	}
	return msgs
}

// appendNewMessages records the loop's new messages in the session
// history.
func appendNewMessages(s *SessionState, msgs []llm.Message) {
	for _, m := range msgs {
		s.AppendHistory(m.Role, m.Content)
	}
}
