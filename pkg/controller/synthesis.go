package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/tarsy-chain/tarsy/pkg/interactionlog"
	"github.com/tarsy-chain/tarsy/pkg/llmclient"
)

// SynthesisController makes one tool-less LLM call over prior stages'
// investigation history, per spec.md §4.3(2). Grounded directly on the
// teacher's SynthesisController (controller/synthesis.go): build
// system+user messages, call the LLM once with no tools, record the
// interaction, return the analysis text.
type SynthesisController struct {
	llm          llmclient.Client
	interactions *interactionlog.Log
}

func NewSynthesisController(llm llmclient.Client, interactions *interactionlog.Log) *SynthesisController {
	return &SynthesisController{llm: llm, interactions: interactions}
}

var _ Controller = (*SynthesisController)(nil)

func (c *SynthesisController) Execute(ctx context.Context, sc *StageContext) (*Result, error) {
	messages := []llmclient.Message{
		systemMessage(buildSystemPrompt(sc)),
		userMessage(buildInitialUserMessage(sc)),
	}

	resp, err := recordGenerate(ctx, c.llm, c.interactions, sc, messages, nil)
	if err != nil {
		return nil, fmt.Errorf("synthesis: llm call failed: %w", err)
	}

	return &Result{
		AnalysisText:   resp.Content,
		TokenUsage:     resp.Usage,
		IterationsUsed: 1,
	}, nil
}

// recordGenerate is the single tool-less call shared by SynthesisController
// and NativeThinkingController — both are "same shape" per spec.md §4.3,
// differing only in GenerateOptions.ThinkingLevel and what they do with
// ThinkingContent.
func recordGenerate(ctx context.Context, llm llmclient.Client, interactions *interactionlog.Log, sc *StageContext, messages []llmclient.Message, extraOpts func(*llmclient.GenerateOptions)) (*llmclient.Response, error) {
	start := time.Now()
	opts := llmclient.GenerateOptions{
		Provider:         sc.Provider,
		SessionID:        sc.SessionID,
		StageExecutionID: sc.StageExecutionID,
	}
	if extraOpts != nil {
		extraOpts(&opts)
	}

	resp, err := llm.Generate(ctx, messages, opts)
	duration := time.Since(start)

	if interactions == nil {
		return resp, err
	}

	var responseJSON map[string]any
	if resp != nil {
		responseJSON = map[string]any{"content": resp.Content}
		if resp.ThinkingContent != "" {
			responseJSON["thinking_content"] = resp.ThinkingContent
		}
		if resp.ResponseMetadata != nil {
			responseJSON["response_metadata"] = resp.ResponseMetadata
		}
	}

	_, logErr := interactions.LogLLM(ctx, interactionlog.LLMCall{
		SessionID:        sc.SessionID,
		StageExecutionID: &sc.StageExecutionID,
		ModelName:        sc.Provider,
		RequestJSON:      map[string]any{"messages": len(messages), "thinking_level": opts.ThinkingLevel},
		ResponseJSON:     responseJSON,
		Duration:         duration,
		Success:          err == nil,
		Error:            errorMessage(err),
	})
	_ = logErr

	return resp, err
}
