package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildSystemPromptWithoutCustomInstructions(t *testing.T) {
	sc := &StageContext{SystemPrompt: "base instructions"}
	assert.Equal(t, "base instructions", buildSystemPrompt(sc))
}

func TestBuildSystemPromptAppendsCustomInstructions(t *testing.T) {
	sc := &StageContext{SystemPrompt: "base instructions", CustomInstructions: "always check pod restarts first"}
	got := buildSystemPrompt(sc)
	assert.Contains(t, got, "base instructions")
	assert.Contains(t, got, "always check pod restarts first")
}

func TestBuildInitialUserMessageWithoutPreviousStages(t *testing.T) {
	sc := &StageContext{AlertPayload: `{"alert": "X"}`}
	got := buildInitialUserMessage(sc)
	assert.NotContains(t, got, "Investigation Results")
	assert.Contains(t, got, `{"alert": "X"}`)
}

func TestBuildInitialUserMessageWithPreviousStages(t *testing.T) {
	sc := &StageContext{AlertPayload: `{"alert": "X"}`, PreviousStageOutputs: "kube-agent found nothing unusual"}
	got := buildInitialUserMessage(sc)
	assert.Contains(t, got, "Investigation Results from Previous Stages")
	assert.Contains(t, got, "kube-agent found nothing unusual")
}

func TestBuildToolCatalogEmptyWhenNoServers(t *testing.T) {
	assert.Equal(t, "", buildToolCatalog(nil))
}

func TestBuildToolCatalogListsServersAndTools(t *testing.T) {
	got := buildToolCatalog(map[string][]string{"kube": {"get_pods", "get_logs"}})
	assert.Contains(t, got, "kube")
	assert.Contains(t, got, "get_pods")
	assert.Contains(t, got, "get_logs")
	assert.Contains(t, got, `"server"`)
}

func TestFormatToolResultsForConversationJoinsMultipleObservations(t *testing.T) {
	results := []toolCallOutcome{
		{Call: ToolCall{Server: "kube", Tool: "get_pods"}, Content: "2 pods found", IsError: false},
		{Call: ToolCall{Server: "kube", Tool: "get_logs"}, Content: "permission denied", IsError: true},
	}
	got := formatToolResultsForConversation(results)
	assert.Contains(t, got, "Observation [kube.get_pods, ok]: 2 pods found")
	assert.Contains(t, got, "Observation [kube.get_logs, error]: permission denied")
}
