package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseToolCallsValidArray(t *testing.T) {
	text := `[{"server": "kube", "tool": "get_pods", "parameters": {"ns": "payments"}, "reason": "check"}]`
	calls, hasArray, err := ParseToolCalls(text)
	require.NoError(t, err)
	assert.True(t, hasArray)
	require.Len(t, calls, 1)
	assert.Equal(t, "kube", calls[0].Server)
	assert.Equal(t, "get_pods", calls[0].Tool)
	assert.Equal(t, "payments", calls[0].Parameters["ns"])
}

func TestParseToolCallsFencedJSON(t *testing.T) {
	text := "```json\n[{\"server\": \"kube\", \"tool\": \"get_pods\", \"parameters\": {}, \"reason\": \"check\"}]\n```"
	calls, hasArray, err := ParseToolCalls(text)
	require.NoError(t, err)
	assert.True(t, hasArray)
	require.Len(t, calls, 1)
}

func TestParseToolCallsPlainTextIsFinalAnswer(t *testing.T) {
	calls, hasArray, err := ParseToolCalls("The root cause is a misconfigured liveness probe.")
	require.NoError(t, err)
	assert.False(t, hasArray)
	assert.Nil(t, calls)
}

func TestParseToolCallsMalformedJSONIsToolSelectionError(t *testing.T) {
	_, hasArray, err := ParseToolCalls(`[{"server": "kube", "tool": }]`)
	require.Error(t, err)
	assert.True(t, hasArray)
	var tse *ToolSelectionError
	require.ErrorAs(t, err, &tse)
}

func TestParseToolCallsMissingRequiredFieldsIsToolSelectionError(t *testing.T) {
	_, hasArray, err := ParseToolCalls(`[{"parameters": {}, "reason": "no server or tool"}]`)
	require.Error(t, err)
	assert.True(t, hasArray)
}

func TestDedupToolCallsRemovesIdenticalCalls(t *testing.T) {
	calls := []ToolCall{
		{Server: "kube", Tool: "get_pods", Parameters: map[string]any{"ns": "payments"}},
		{Server: "kube", Tool: "get_pods", Parameters: map[string]any{"ns": "payments"}},
		{Server: "kube", Tool: "get_logs", Parameters: map[string]any{"ns": "payments"}},
	}
	deduped := DedupToolCalls(calls)
	assert.Len(t, deduped, 2)
	assert.Equal(t, "get_pods", deduped[0].Tool)
	assert.Equal(t, "get_logs", deduped[1].Tool)
}

func TestDedupToolCallsKeepsDistinctParameters(t *testing.T) {
	calls := []ToolCall{
		{Server: "kube", Tool: "get_pods", Parameters: map[string]any{"ns": "payments"}},
		{Server: "kube", Tool: "get_pods", Parameters: map[string]any{"ns": "billing"}},
	}
	deduped := DedupToolCalls(calls)
	assert.Len(t, deduped, 2)
}
