package analyst

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/randalmurphal/shopsight/pkg/flow"
	"github.com/randalmurphal/shopsight/pkg/flow/errs"
	"github.com/randalmurphal/shopsight/pkg/llm"
	"github.com/randalmurphal/shopsight/pkg/warehouse"
)

// scriptedClient replays a fixed sequence of responses, one per
// Complete call, and records every request it saw. An exhausted script
// fails permanently so a test that makes an unexpected extra call fails
// loudly instead of hanging on a retry loop.
type scriptedClient struct {
	mu        sync.Mutex
	responses []string
	calls     []llm.CompletionRequest
}

func (c *scriptedClient) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, req)
	if len(c.responses) == 0 {
		return nil, llm.NewError("complete", errors.New("script exhausted"), false)
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return &llm.CompletionResponse{Content: resp, FinishReason: "stop"}, nil
}

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// failingClient always fails, optionally transiently.
type failingClient struct {
	mu        sync.Mutex
	calls     int
	retryable bool
}

func (c *failingClient) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil, llm.NewError("complete", errors.New("backend down"), c.retryable)
}

// fakeStore is an in-memory warehouse.Store that records queries.
type fakeStore struct {
	mu      sync.Mutex
	rows    []warehouse.Row
	err     error
	queries []string
}

func (f *fakeStore) Query(_ context.Context, sql string) ([]warehouse.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queries = append(f.queries, sql)
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func (f *fakeStore) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

// flakyStore fails the first N queries transiently, then succeeds.
type flakyStore struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyStore) Query(context.Context, string) ([]warehouse.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.calls <= f.failures {
		return nil, &warehouse.ExecError{Message: "rate limit exceeded", Retryable: true}
	}
	return []warehouse.Row{{"revenue": 1.0}}, nil
}

// fastRetry keeps backend retries quick in tests.
var fastRetry = errs.RetryConfig{
	MaxAttempts:    2,
	InitialBackoff: time.Millisecond,
	MaxBackoff:     time.Millisecond,
	BackoffFactor:  1.0,
}

// validTestQuery passes every validator check.
const validTestQuery = "Action: run_query\nAction Input: SELECT SUM(sale_price) AS revenue FROM `bigquery-public-data.thelook_ecommerce.order_items` LIMIT 1000"

// runTurn executes one turn against scripted backends and returns the
// final state.
func runTurn(client llm.Client, store warehouse.Store, question string, opts ...WorkflowOption) (SessionState, error) {
	allOpts := append([]WorkflowOption{WithBackendRetry(fastRetry)}, opts...)
	wf, err := BuildWorkflow(warehouse.DefaultProfile(), allOpts...)
	if err != nil {
		return SessionState{}, err
	}

	var state SessionState
	state.ResetTurn(question)
	state.AppendHistory(llm.RoleUser, question)

	ctx := flow.NewContext(context.Background(),
		flow.WithLLM(client),
		flow.WithWarehouse(store),
		flow.WithSessionID("test-session"))

	return wf.Run(ctx, state)
}

// testNodes builds a nodes config for direct node-level tests.
func testNodes() *nodes {
	return &nodes{
		profile:    warehouse.DefaultProfile(),
		stepBudget: defaultStepBudget,
		retry:      fastRetry,
	}
}

// nodeCtx builds a flow context for direct node-level tests.
func nodeCtx(client llm.Client, store warehouse.Store) flow.Context {
	return flow.NewContext(context.Background(),
		flow.WithLLM(client),
		flow.WithWarehouse(store))
}
