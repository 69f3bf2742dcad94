package analyst

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/shopsight/pkg/flow/checkpoint"
	"github.com/randalmurphal/shopsight/pkg/warehouse"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// happyTurnScript returns the five responses of a clean single-query
// turn ending in the given report.
func happyTurnScript(decision, answer, report string) []string {
	return []string{
		"next: " + decision,
		validTestQuery,
		"Final Answer: " + answer,
		"verdict: ok",
		report,
	}
}

// TestNewAssistant_RequiresBackends tests constructor validation.
func TestNewAssistant_RequiresBackends(t *testing.T) {
	_, err := NewAssistant(nil, &fakeStore{}, nil)
	assert.Error(t, err)

	_, err = NewAssistant(&scriptedClient{}, nil, nil)
	assert.Error(t, err)
}

// TestSession_DefaultID tests the empty-identifier fallback.
func TestSession_DefaultID(t *testing.T) {
	a, err := NewAssistant(&scriptedClient{}, &fakeStore{}, nil, WithAssistantLogger(discardLogger()))
	require.NoError(t, err)

	assert.Equal(t, DefaultSessionID, a.Session("").ID())
	assert.Equal(t, "other", a.Session("other").ID())
}

// TestSession_AskNeverErrors tests that a dead backend still yields
// report text rather than a failure.
func TestSession_AskNeverErrors(t *testing.T) {
	a, err := NewAssistant(&failingClient{}, &fakeStore{}, nil, WithAssistantLogger(discardLogger()))
	require.NoError(t, err)

	report := a.Session("s1").Ask(context.Background(), "Analyze sales trends")
	assert.NotEmpty(t, report)
	assert.Contains(t, report, "No insights were generated")
}

// TestSession_HistoryPersistsAcrossHandles tests that a fresh session
// handle restores history through the checkpoint store, while
// turn-scoped fields start clean each turn.
func TestSession_HistoryPersistsAcrossHandles(t *testing.T) {
	ckpt := checkpoint.NewMemoryStore()
	store := &fakeStore{rows: []warehouse.Row{{"revenue": 1.0}}}
	client := &scriptedClient{responses: happyTurnScript(
		"trends", `["2022 revenue: $10"]`, "Revenue reached **$10** in 2022.")}

	a, err := NewAssistant(client, store, nil,
		WithCheckpointStore(ckpt),
		WithAssistantLogger(discardLogger()))
	require.NoError(t, err)

	report := a.Session("s1").Ask(context.Background(), "Revenue in 2022?")
	assert.Contains(t, report, "$10")

	// Second turn through a brand-new handle for the same session.
	client.responses = happyTurnScript(
		"trends", `["2023 revenue: $20"]`, "Revenue reached **$20** in 2023.")

	report = a.Session("s1").Ask(context.Background(), "And in 2023?")
	assert.Contains(t, report, "$20")

	// The persisted state carries both turns' history but only the
	// latest turn's insights.
	data, err := ckpt.LoadLatest("s1")
	require.NoError(t, err)
	cp, err := checkpoint.Unmarshal(data)
	require.NoError(t, err)

	var persisted SessionState
	require.NoError(t, json.Unmarshal(cp.State, &persisted))

	assert.Equal(t, "And in 2023?", persisted.Question)
	require.Len(t, persisted.Insights, 1)
	assert.Equal(t, []any{"2023 revenue: $20"}, persisted.Insights[0].Records)

	var questions []string
	for _, e := range persisted.History {
		questions = append(questions, e.Content)
	}
	assert.Contains(t, questions, "Revenue in 2022?")
	assert.Contains(t, questions, "And in 2023?")
}

// TestSession_SecondTurnSeesFirstTurnHistory tests that a role agent's
// request includes earlier turns of the same session handle.
func TestSession_SecondTurnSeesFirstTurnHistory(t *testing.T) {
	store := &fakeStore{rows: []warehouse.Row{{"revenue": 1.0}}}
	client := &scriptedClient{responses: happyTurnScript(
		"geo", `["China: $5"]`, "China led with **$5**.")}

	a, err := NewAssistant(client, store, nil, WithAssistantLogger(discardLogger()))
	require.NoError(t, err)
	session := a.Session("s1")

	session.Ask(context.Background(), "Which country led revenue?")

	client.responses = happyTurnScript(
		"geo", `["China: $5 in 2022"]`, "Still China, at **$5**.")
	firstTurnCalls := client.callCount()

	session.Ask(context.Background(), "What about 2022 specifically?")

	// The second turn's role-agent request carries the first question.
	seen := false
	for _, call := range client.calls[firstTurnCalls:] {
		for _, msg := range call.Messages {
			if msg.Content == "Which country led revenue?" {
				seen = true
			}
		}
	}
	assert.True(t, seen)
}
