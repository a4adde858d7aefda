package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarsy-chain/tarsy/pkg/llmclient"
	"github.com/tarsy-chain/tarsy/pkg/llmclienttest"
)

func TestNativeThinkingControllerSetsHighThinkingLevel(t *testing.T) {
	fake := llmclienttest.New(llmclienttest.FakeResult{
		Response: &llmclient.Response{
			Content:         "the memory leak is in the cache eviction path",
			ThinkingContent: "first I considered X, then ruled it out because...",
		},
	})
	c := NewNativeThinkingController(fake, nil)

	sc := &StageContext{
		SessionID:        "session-1",
		StageExecutionID: "stage-1",
		AlertPayload:     `{"alert": "HighMemoryUsage"}`,
		SystemPrompt:     "You are a native-thinking agent.",
	}

	result, err := c.Execute(t.Context(), sc)
	require.NoError(t, err)
	assert.Equal(t, "the memory leak is in the cache eviction path", result.AnalysisText)

	require.Len(t, fake.Requests, 1)
}

func TestNativeThinkingControllerFallsBackToThinkingContentWhenTextEmpty(t *testing.T) {
	fake := llmclienttest.New(llmclienttest.FakeResult{
		Response: &llmclient.Response{
			Content:         "",
			ThinkingContent: "reasoning trace with no concluding text turn",
		},
	})
	c := NewNativeThinkingController(fake, nil)

	result, err := c.Execute(t.Context(), &StageContext{SessionID: "s", StageExecutionID: "e"})
	require.NoError(t, err)
	assert.Equal(t, "reasoning trace with no concluding text turn", result.AnalysisText)
}
