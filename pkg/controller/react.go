package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tarsy-chain/tarsy/pkg/interactionlog"
	"github.com/tarsy-chain/tarsy/pkg/llmclient"
	"github.com/tarsy-chain/tarsy/pkg/mcpclient"
)

// ReActController implements the multi-turn ReAct tool loop, per spec.md
// §4.3(1). Grounded on the teacher's ReActController (controller/react.go)
// and IteratingController (controller/iterating.go) for the overall
// iterate-until-final-answer-or-max-iterations shape, but replaces the
// teacher's single-tool, text-based Action/Action-Input parsing with
// spec.md's JSON-array, concurrent, dedup'd tool-calling model.
type ReActController struct {
	llm          llmclient.Client
	mcp          mcpclient.Client
	interactions *interactionlog.Log
}

func NewReActController(llm llmclient.Client, mcp mcpclient.Client, interactions *interactionlog.Log) *ReActController {
	return &ReActController{llm: llm, mcp: mcp, interactions: interactions}
}

var _ Controller = (*ReActController)(nil)

func (c *ReActController) Execute(ctx context.Context, sc *StageContext) (*Result, error) {
	toolsByServer, err := c.listTools(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("react: listing tools: %w", err)
	}

	messages := []llmclient.Message{
		systemMessage(buildSystemPrompt(sc) + "\n\n" + buildToolCatalog(toolsByServer)),
		userMessage(buildInitialUserMessage(sc)),
	}

	var totalUsage llmclient.TokenUsage
	maxIter := sc.MaxIterations
	if maxIter <= 0 {
		maxIter = 1
	}

	for iteration := 1; iteration <= maxIter; iteration++ {
		iterCtx, cancel := context.WithTimeout(ctx, sc.IterationTimeout)
		resp, err := c.callLLM(iterCtx, sc, messages, iteration)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("react: llm call failed on iteration %d: %w", iteration, err)
		}
		totalUsage = accumulate(totalUsage, resp.Usage)

		calls, hasArray, parseErr := ParseToolCalls(resp.Content)
		if parseErr != nil {
			var tse *ToolSelectionError
			errors.As(parseErr, &tse)
			messages = append(messages, assistantMessage(resp.Content))
			messages = append(messages, userMessage(fmt.Sprintf(
				"Your previous response could not be parsed as a tool-call array: %s\n"+
					"Respond with either a valid JSON array of tool calls or your final analysis as plain text.",
				tse.Reason)))
			continue
		}

		if !hasArray || len(calls) == 0 {
			return &Result{
				AnalysisText:   resp.Content,
				TokenUsage:     totalUsage,
				IterationsUsed: iteration,
			}, nil
		}

		calls = DedupToolCalls(calls)
		outcomes := c.dispatch(ctx, sc, calls)

		messages = append(messages, assistantMessage(resp.Content))
		messages = append(messages, userMessage(formatToolResultsForConversation(outcomes)))
	}

	return c.forceConclusion(ctx, sc, messages, totalUsage, maxIter)
}

// forceConclusion makes one final tool-less call asking the assistant to
// conclude from accumulated context, per spec.md §4.3's "IterationLimitError,
// but still return the best-available answer by signaling the caller to
// synthesize from accumulated context."
func (c *ReActController) forceConclusion(ctx context.Context, sc *StageContext, messages []llmclient.Message, usage llmclient.TokenUsage, maxIter int) (*Result, error) {
	messages = append(messages, userMessage(
		"You have reached the maximum number of tool-calling iterations. "+
			"Provide your best final analysis now as plain text, with no further tool calls."))

	resp, err := c.callLLM(ctx, sc, messages, maxIter+1)
	if err != nil {
		return nil, &IterationLimitError{MaxIterations: maxIter}
	}

	return &Result{
		AnalysisText:          resp.Content,
		TokenUsage:            accumulate(usage, resp.Usage),
		IterationsUsed:        maxIter,
		IterationLimitReached: true,
	}, nil
}

func (c *ReActController) callLLM(ctx context.Context, sc *StageContext, messages []llmclient.Message, iteration int) (*llmclient.Response, error) {
	start := time.Now()
	opts := llmclient.GenerateOptions{
		Provider:            sc.Provider,
		NativeToolsOverride: sc.NativeToolsOverride,
		SessionID:           sc.SessionID,
		StageExecutionID:    sc.StageExecutionID,
	}
	resp, err := c.llm.Generate(ctx, messages, opts)
	duration := time.Since(start)

	if c.interactions == nil {
		if err != nil {
			return nil, err
		}
		return resp, nil
	}

	success := err == nil
	var errMsg *string
	if err != nil {
		msg := err.Error()
		errMsg = &msg
	}
	var responseJSON map[string]any
	if resp != nil {
		responseJSON = map[string]any{"content": resp.Content, "thinking_content": resp.ThinkingContent}
	}
	requestJSON := map[string]any{"iteration": iteration, "messages": len(messages)}

	_, logErr := c.interactions.LogLLM(ctx, interactionlog.LLMCall{
		SessionID:        sc.SessionID,
		StageExecutionID: &sc.StageExecutionID,
		ModelName:        sc.Provider,
		RequestJSON:      requestJSON,
		ResponseJSON:     responseJSON,
		Duration:         duration,
		Success:          success,
		Error:            errMsg,
	})
	_ = logErr // logging is best-effort from the controller's point of view

	if err != nil {
		return nil, err
	}
	return resp, nil
}

// listTools lists tools from every whitelisted server, applying the
// stage's tool filter, and logs one tool_list interaction per server.
func (c *ReActController) listTools(ctx context.Context, sc *StageContext) (map[string][]string, error) {
	result := make(map[string][]string)
	for _, server := range sc.MCPServers {
		start := time.Now()
		tools, err := c.mcp.ListTools(ctx, server)
		duration := time.Since(start)

		var names []string
		var available []any
		for _, t := range tools {
			if !toolAllowed(sc.ToolFilter, server, t.Name) {
				continue
			}
			names = append(names, t.Name)
			available = append(available, map[string]any{"name": t.Name, "description": t.Description})
		}
		result[server] = names

		if c.interactions != nil {
			errMsg := errorMessage(err)
			_, _ = c.interactions.LogMCPList(ctx, interactionlog.MCPListCall{
				SessionID:        sc.SessionID,
				StageExecutionID: &sc.StageExecutionID,
				ServerName:       server,
				AvailableTools:   available,
				Duration:         duration,
				Success:          err == nil,
				Error:            errMsg,
			})
		}
	}
	return result, nil
}

func toolAllowed(filter map[string][]string, server, tool string) bool {
	allowed, ok := filter[server]
	if !ok || len(allowed) == 0 {
		return true
	}
	for _, t := range allowed {
		if t == tool {
			return true
		}
	}
	return false
}

// dispatch executes every tool call concurrently, per spec.md §4.3(d).
// Errors become ToolExecutionError content appended to the conversation
// rather than propagated — the loop never aborts because one tool call
// failed.
func (c *ReActController) dispatch(ctx context.Context, sc *StageContext, calls []ToolCall) []toolCallOutcome {
	outcomes := make([]toolCallOutcome, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call ToolCall) {
			defer wg.Done()
			outcomes[i] = c.callOne(ctx, sc, call)
		}(i, call)
	}
	wg.Wait()

	// Deterministic ordering for conversation rendering and interaction
	// logs, independent of goroutine completion order.
	sort.SliceStable(outcomes, func(i, j int) bool {
		if outcomes[i].Call.Server != outcomes[j].Call.Server {
			return outcomes[i].Call.Server < outcomes[j].Call.Server
		}
		return outcomes[i].Call.Tool < outcomes[j].Call.Tool
	})
	return outcomes
}

func (c *ReActController) callOne(ctx context.Context, sc *StageContext, call ToolCall) toolCallOutcome {
	start := time.Now()
	result, err := c.mcp.CallTool(ctx, call.Server, call.Tool, call.Parameters)
	duration := time.Since(start)

	outcome := toolCallOutcome{Call: call}
	if err != nil {
		toolErr := &ToolExecutionError{Server: call.Server, Tool: call.Tool, Cause: err}
		outcome.Content = toolErr.Error()
		outcome.IsError = true
	} else {
		outcome.Content = result.Content
		outcome.IsError = result.IsError
	}

	if c.interactions != nil {
		errMsg := errorMessage(err)
		toolResult := map[string]any{"content": outcome.Content, "is_error": outcome.IsError}
		_, _ = c.interactions.LogMCPCall(ctx, interactionlog.MCPCall{
			SessionID:        sc.SessionID,
			StageExecutionID: &sc.StageExecutionID,
			ServerName:       call.Server,
			ToolName:         &call.Tool,
			ToolArguments:    call.Parameters,
			ToolResult:       toolResult,
			Duration:         duration,
			Success:          err == nil && !outcome.IsError,
			Error:            errMsg,
		})
	}

	return outcome
}

func accumulate(total, delta llmclient.TokenUsage) llmclient.TokenUsage {
	return llmclient.TokenUsage{
		InputTokens:  total.InputTokens + delta.InputTokens,
		OutputTokens: total.OutputTokens + delta.OutputTokens,
		TotalTokens:  total.TotalTokens + delta.TotalTokens,
	}
}

func errorMessage(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}
