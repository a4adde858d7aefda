package controller

import (
	"context"
	"fmt"

	"github.com/tarsy-chain/tarsy/pkg/interactionlog"
	"github.com/tarsy-chain/tarsy/pkg/llmclient"
)

// NativeThinkingController is, per spec.md §4.3(3), "the same shape as
// Synthesis but passes a thinking_level = 'high' option to the LLM client
// and captures thinking content into the interaction's response_metadata."
//
// This is NOT grounded on the teacher's native_thinking.go, which implements
// a full Gemini-style native function-calling tool loop — a mechanism
// spec.md's Native-Thinking controller does not have. It is grounded on the
// teacher's synthesis.go instead, reusing recordGenerate from synthesis.go.
type NativeThinkingController struct {
	llm          llmclient.Client
	interactions *interactionlog.Log
}

func NewNativeThinkingController(llm llmclient.Client, interactions *interactionlog.Log) *NativeThinkingController {
	return &NativeThinkingController{llm: llm, interactions: interactions}
}

var _ Controller = (*NativeThinkingController)(nil)

func (c *NativeThinkingController) Execute(ctx context.Context, sc *StageContext) (*Result, error) {
	messages := []llmclient.Message{
		systemMessage(buildSystemPrompt(sc)),
		userMessage(buildInitialUserMessage(sc)),
	}

	resp, err := recordGenerate(ctx, c.llm, c.interactions, sc, messages, func(opts *llmclient.GenerateOptions) {
		opts.ThinkingLevel = "high"
	})
	if err != nil {
		return nil, fmt.Errorf("native_thinking: llm call failed: %w", err)
	}

	analysis := resp.Content
	if analysis == "" {
		// Some providers return thinking-only output when forced into a high
		// thinking level with no further tool turns to react to.
		analysis = resp.ThinkingContent
	}

	return &Result{
		AnalysisText:   analysis,
		TokenUsage:     resp.Usage,
		IterationsUsed: 1,
	}, nil
}
