// Package controller implements the Iteration Controllers (C3): ReAct,
// Synthesis, and Native-Thinking. All three expose one method,
// Execute(ctx, *StageContext) (*Result, error), per spec.md §4.3.
//
// Grounded on the teacher's pkg/agent/controller package — ReActController
// (react.go), SynthesisController (synthesis.go), and the shared
// conversation-building/interaction-recording helpers (messages.go,
// tool_execution.go) — generalized from the teacher's ent-backed,
// text-based ReAct loop to spec.md's JSON-array, concurrent, dedup'd
// tool-calling model and its in-memory (non-persisted) conversation.
package controller

import (
	"context"
	"time"

	"github.com/tarsy-chain/tarsy/pkg/llmclient"
)

// StageContext is what one controller invocation runs against. Built by
// pkg/stageexec per spec.md §4.4 step 3: session, alert payload, previous
// stages' outputs, chosen MCP server/tool filter, native-tools override,
// and enough identifying information for interaction tagging.
type StageContext struct {
	SessionID        string
	StageExecutionID string

	AlertPayload         string
	PreviousStageOutputs string // pre-formatted text, already joined by the executor

	SystemPrompt       string
	CustomInstructions string

	// MCPServers is the whitelist of server IDs this stage may call.
	// Empty means ReAct has no tools available (Synthesis/Native-Thinking
	// never consult this).
	MCPServers []string
	// ToolFilter optionally narrows MCPServers to specific tool names per
	// server; nil or a missing key means "all tools on that server".
	ToolFilter map[string][]string

	Provider            string
	NativeToolsOverride map[string]bool

	MaxIterations    int
	IterationTimeout time.Duration
}

// Result is what a controller produces for the stage executor to persist as
// stage_output.
type Result struct {
	AnalysisText   string
	TokenUsage     llmclient.TokenUsage
	IterationsUsed int
	// IterationLimitReached is true when ReAct hit max_iterations and the
	// returned analysis came from a forced best-effort synthesis rather
	// than a genuine final answer — spec.md §4.3's IterationLimitError
	// case, which still yields usable output rather than propagating.
	IterationLimitReached bool
}

// Controller is the common contract for ReAct, Synthesis, and
// Native-Thinking.
type Controller interface {
	Execute(ctx context.Context, sc *StageContext) (*Result, error)
}
