package analyst

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseVerdict tests mapping raw judgment text onto the closed
// verdict set.
func TestParseVerdict(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
		want Verdict
	}{
		{"explicit ok", "verdict: ok\nLooks consistent.", VerdictOK},
		{"explicit retry", "verdict: retry\nWrong year filter.", VerdictRetry},
		{"explicit flagged", "verdict: flagged\nVolume vs revenue ambiguity.", VerdictFlagged},
		{"marker with punctuation", "Verdict: retry.", VerdictRetry},
		{"retry language", "Please retry with corrected SQL.", VerdictRetry},
		{"issue language", "There is an issue with the join.", VerdictFlagged},
		{"inconsistent language", "The figures look inconsistent with the schema.", VerdictFlagged},
		{"clean judgment", "The findings look good.", VerdictOK},
		{"empty", "", VerdictOK},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, _ := parseVerdict(tc.raw)
			assert.Equal(t, tc.want, got)
		})
	}
}

// TestReflectNode_NoToolResultsForcesRetry tests the unconditional
// retry when the agent never executed a query.
func TestReflectNode_NoToolResultsForcesRetry(t *testing.T) {
	client := &scriptedClient{} // judge must not be called
	n := testNodes()

	var s SessionState
	s.ResetTurn("q")
	s.LastRole = NodeGeo
	s.ToolResults = 0
	s.Insights = append(s.Insights, Insight{Role: NodeGeo, Records: []any{"guess"}})

	out, err := n.reflectNode(nodeCtx(client, &fakeStore{}), s)
	require.NoError(t, err)
	assert.Equal(t, NodeGeo, out.Route)
	assert.True(t, out.RetryDone)
	assert.Zero(t, client.callCount())
	// The retried attempt's insight is dropped so the rerun replaces it.
	assert.Empty(t, out.Insights)
}

// TestReflectNode_SecondRetryDowngraded tests the at-most-once retry
// guard.
func TestReflectNode_SecondRetryDowngraded(t *testing.T) {
	client := &scriptedClient{responses: []string{"verdict: retry\nStill wrong."}}
	n := testNodes()

	var s SessionState
	s.ResetTurn("q")
	s.LastRole = NodeTrends
	s.ToolResults = 1
	s.RetryDone = true // retry already consumed this turn
	s.Insights = append(s.Insights, Insight{Role: NodeTrends, Records: []any{"x"}})

	out, err := n.reflectNode(nodeCtx(client, &fakeStore{}), s)
	require.NoError(t, err)
	assert.Equal(t, NodeSynthesize, out.Route)
	require.Len(t, out.Insights, 1)
	assert.True(t, out.Insights[0].Flagged)
}

// TestReflectNode_OKProceeds tests the happy path to synthesis.
func TestReflectNode_OKProceeds(t *testing.T) {
	client := &scriptedClient{responses: []string{"verdict: ok\nConsistent."}}
	n := testNodes()

	var s SessionState
	s.ResetTurn("q")
	s.LastRole = NodeTrends
	s.ToolResults = 1
	s.Insights = append(s.Insights, Insight{Role: NodeTrends, Records: []any{"x"}})

	out, err := n.reflectNode(nodeCtx(client, &fakeStore{}), s)
	require.NoError(t, err)
	assert.Equal(t, NodeSynthesize, out.Route)
	assert.False(t, out.RetryDone)
	assert.False(t, out.Insights[0].Flagged)
	require.NotEmpty(t, out.Scratch)
	assert.Equal(t, "reflect", out.Scratch[len(out.Scratch)-1].Stage)
}

// TestReflectNode_JudgeFailureProceeds tests that a backend failure in
// the judge never blocks the turn.
func TestReflectNode_JudgeFailureProceeds(t *testing.T) {
	client := &failingClient{}
	n := testNodes()

	var s SessionState
	s.ResetTurn("q")
	s.LastRole = NodeProduct
	s.ToolResults = 1
	s.Insights = append(s.Insights, Insight{Role: NodeProduct, Records: []any{"x"}})

	out, err := n.reflectNode(nodeCtx(client, &fakeStore{}), s)
	require.NoError(t, err)
	assert.Equal(t, NodeSynthesize, out.Route)
}

// TestReflectNode_FlaggedAppendsHistory tests that flagged issues are
// visible in history for the synthesizer.
func TestReflectNode_FlaggedAppendsHistory(t *testing.T) {
	client := &scriptedClient{responses: []string{"verdict: flagged\nVolume vs revenue ambiguity."}}
	n := testNodes()

	var s SessionState
	s.ResetTurn("q")
	s.LastRole = NodeSegmentation
	s.ToolResults = 1
	s.Insights = append(s.Insights, Insight{Role: NodeSegmentation, Records: []any{"x"}})

	out, err := n.reflectNode(nodeCtx(client, &fakeStore{}), s)
	require.NoError(t, err)
	require.NotEmpty(t, out.History)
	assert.Contains(t, out.History[len(out.History)-1].Content, "Flagged issue")
	assert.True(t, out.Insights[0].Flagged)
}
