package analyst

import (
	"context"
	"errors"

	"github.com/randalmurphal/shopsight/pkg/flow"
	"github.com/randalmurphal/shopsight/pkg/flow/errs"
	"github.com/randalmurphal/shopsight/pkg/llm"
	"github.com/randalmurphal/shopsight/pkg/warehouse"
)

// Node names in the turn graph.
const (
	NodeRoute        = "route"
	NodeSegmentation = "segmentation"
	NodeTrends       = "trends"
	NodeGeo          = "geo"
	NodeProduct      = "product"
	NodeReflect      = "reflect"
	NodeSummarize    = "summarize"
	NodeSynthesize   = "synthesize"
)

// defaultStepBudget caps Reason/Act cycles per role agent invocation.
const defaultStepBudget = 10

// nodes carries the configuration shared by all node functions.
type nodes struct {
	profile    *warehouse.Profile
	stepBudget int
	retry      errs.RetryConfig
}

// complete calls the generation backend with bounded transient retry.
func (n *nodes) complete(ctx flow.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	client := ctx.LLM()
	if client == nil {
		return nil, errors.New("no generation backend configured")
	}
	res := errs.WithRetryContext(ctx, n.retry, func(c context.Context) (*llm.CompletionResponse, error) {
		return client.Complete(c, req)
	})
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Value, nil
}

// WorkflowOption configures BuildWorkflow.
type WorkflowOption func(*nodes)

// WithStepBudget sets the Reason/Act cycle cap per role agent
// invocation. The cap is uniform across all four roles.
func WithStepBudget(n int) WorkflowOption {
	return func(c *nodes) {
		if n > 0 {
			c.stepBudget = n
		}
	}
}

// WithBackendRetry sets the retry policy for transient generation and
// query backend failures.
func WithBackendRetry(cfg errs.RetryConfig) WorkflowOption {
	return func(c *nodes) {
		c.retry = cfg
	}
}

// BuildWorkflow wires the turn graph:
//
//	route -> {segmentation|trends|geo|product|synthesize}
//	<role> -> reflect
//	reflect -> {same role (retry, at most once)|summarize|synthesize}
//	summarize -> synthesize
//	synthesize -> END
//
// Two invariants hold by construction: synthesis runs exactly once per
// turn, and no role node runs more than twice (the reflector's retry
// guard downgrades any second retry signal).
func BuildWorkflow(profile *warehouse.Profile, opts ...WorkflowOption) (*flow.Workflow[SessionState], error) {
	if profile == nil {
		profile = warehouse.DefaultProfile()
	}

	n := &nodes{
		profile:    profile,
		stepBudget: defaultStepBudget,
		retry:      errs.DefaultRetry,
	}
	for _, opt := range opts {
		opt(n)
	}

	followRoute := func(_ flow.Context, s SessionState) string {
		if s.Route == "" {
			return NodeSynthesize
		}
		return s.Route
	}

	graph := flow.NewGraph[SessionState]().
		AddNode(NodeRoute, n.routeNode).
		AddNode(NodeSegmentation, n.roleNodeFn(NodeSegmentation)).
		AddNode(NodeTrends, n.roleNodeFn(NodeTrends)).
		AddNode(NodeGeo, n.roleNodeFn(NodeGeo)).
		AddNode(NodeProduct, n.roleNodeFn(NodeProduct)).
		AddNode(NodeReflect, n.reflectNode).
		AddNode(NodeSummarize, n.summarizeNode).
		AddNode(NodeSynthesize, n.synthesizeNode).
		SetEntry(NodeRoute).
		AddConditionalEdge(NodeRoute, followRoute).
		AddEdge(NodeSegmentation, NodeReflect).
		AddEdge(NodeTrends, NodeReflect).
		AddEdge(NodeGeo, NodeReflect).
		AddEdge(NodeProduct, NodeReflect).
		AddConditionalEdge(NodeReflect, followRoute).
		AddEdge(NodeSummarize, NodeSynthesize).
		AddEdge(NodeSynthesize, flow.END)

	return graph.Compile()
}
