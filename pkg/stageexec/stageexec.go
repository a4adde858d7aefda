// Package stageexec implements the Stage Executor (C4): running one agent's
// execution of one chain stage to completion, per spec.md §4.4's seven
// numbered steps. It owns exactly one stage_execution row's lifecycle —
// pending -> active -> a terminal status — and knows nothing about
// fan-out, joins, or which stage comes next; that is pkg/chain's job
// (C5), which creates the row(s) this package transitions and calls
// Execute once per row.
//
// Grounded on the teacher's pkg/queue/executor.go's executeAgent, narrowed
// to the single-execution slice of that function: resolve a controller,
// build its StageContext, run it under a deadline, and persist the
// outcome. Agent/strategy/provider resolution itself (step 2) is pushed up
// to the caller via pkg/agentconfig, since pkg/chain already needs the
// resolved config to decide fan-out width and row bookkeeping before a
// single stage ever runs — the teacher resolves agent config before
// creating its AgentExecution row for the same reason.
package stageexec

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tarsy-chain/tarsy/pkg/agentconfig"
	"github.com/tarsy-chain/tarsy/pkg/cancel"
	"github.com/tarsy-chain/tarsy/pkg/config"
	"github.com/tarsy-chain/tarsy/pkg/controller"
	"github.com/tarsy-chain/tarsy/pkg/eventbus"
	"github.com/tarsy-chain/tarsy/pkg/interactionlog"
	"github.com/tarsy-chain/tarsy/pkg/llmclient"
	"github.com/tarsy-chain/tarsy/pkg/mcpclient"
	"github.com/tarsy-chain/tarsy/pkg/models"
)

// ErrUnsupportedStrategy is returned when a resolved iteration strategy has
// no grounded controller implementation to run it — currently
// config.IterationStrategyLangChain ("routed"), since this module has one
// direct-SDK LLM backend (pkg/llmclient's AnthropicClient) rather than the
// teacher's multi-provider router a "routed" strategy would dispatch
// through.
var ErrUnsupportedStrategy = errors.New("stageexec: no controller for iteration strategy")

// Request is everything Execute needs to run and persist the outcome of
// one stage_execution row. ExecutionID must already exist in status
// pending, created by pkg/chain.
type Request struct {
	ExecutionID string
	SessionID   string
	StageName   string // for the timeout message template, spec.md §4.7

	AlertPayload         string
	PreviousStageOutputs string

	// SystemPrompt is the Tier 1 + Tier 2 prompt text, already composed by
	// the caller via agentconfig.BuildSystemPrompt/BuildChatSystemPrompt
	// (the caller is the only place that knows whether this is an
	// investigation, synthesis, or chat turn, and already has the final
	// MCP whitelist + failed-server set in hand).
	SystemPrompt string

	Resolved   *agentconfig.Resolved
	MCPServers []string
	ToolFilter map[string][]string

	// SessionStartedAtUs and SessionTimeout bound the stage deadline
	// (min(remaining session budget, controller-specific cap)) and feed
	// the timeout message's "+<offset>s into session" / "session timeout:
	// <T>s" fields.
	SessionStartedAtUs int64
	SessionTimeout     time.Duration
}

// Outcome is what Execute produced, for pkg/chain to fold into its join
// logic. Execute always returns one on a nil error, even when the stage
// itself failed or timed out — only an error return means the execution
// row's own bookkeeping (transition/finish) could not be persisted at all.
type Outcome struct {
	Status      models.StageExecutionStatus
	StageOutput *string
	Error       *string
	TokenUsage  llmclient.TokenUsage

	// Cause classifies why a non-completed Outcome ended that way, for
	// callers that need to branch on it (errors.Is(outcome.Cause,
	// stageexec.ErrStageTimeout)) rather than parse Error's message. Nil
	// for a completed Outcome or a failure with no more specific cause
	// than the controller's own error.
	Cause error
}

// Executor runs stage executions. Shared across every session on a pod:
// the LLM and MCP clients are long-lived, and the cancel tracker and event
// bus are process-wide.
type Executor struct {
	stages        *stageStore
	bus           eventbus.Bus
	interactions  *interactionlog.Log
	cancelTracker *cancel.Tracker
	cfg           *config.Config
	llm           llmclient.Client
	mcp           mcpclient.Client
}

// stageStore narrows *store.StageExecutionStore to what this package
// calls, so tests can run against an in-memory fake instead of Postgres.
type stageStore interface {
	Start(ctx context.Context, executionID string) error
	Finish(ctx context.Context, executionID string, req models.UpdateStageExecutionStatusRequest) error
}

func NewExecutor(stages stageStore, bus eventbus.Bus, interactions *interactionlog.Log, cancelTracker *cancel.Tracker, cfg *config.Config, llm llmclient.Client, mcp mcpclient.Client) *Executor {
	return &Executor{
		stages:        stages,
		bus:           bus,
		interactions:  interactions,
		cancelTracker: cancelTracker,
		cfg:           cfg,
		llm:           llm,
		mcp:           mcp,
	}
}

// Execute runs spec.md §4.4's seven steps for one stage execution row.
func (e *Executor) Execute(ctx context.Context, req Request) (*Outcome, error) {
	if err := e.stages.Start(ctx, req.ExecutionID); err != nil {
		return nil, fmt.Errorf("stageexec: transition %s to active: %w", req.ExecutionID, err)
	}
	e.publish(ctx, req.SessionID, "stage_started", map[string]any{"execution_id": req.ExecutionID, "stage": req.StageName})

	ctrl, err := e.newController(req.Resolved.IterationStrategy)
	if err != nil {
		return e.finish(ctx, req, models.StageExecutionFailed, nil, err.Error(), llmclient.TokenUsage{})
	}

	sc := e.buildStageContext(req)

	sessionStart := time.UnixMicro(req.SessionStartedAtUs)
	offsetIntoSession := time.Since(sessionStart)
	remaining := req.SessionTimeout - offsetIntoSession
	stageCap := stageCapFor(req.Resolved)
	deadline := remaining
	if stageCap < deadline {
		deadline = stageCap
	}
	if deadline < 0 {
		deadline = 0
	}

	stageCtx, cancelFn := context.WithTimeout(ctx, deadline)
	defer cancelFn()

	start := time.Now()
	result, execErr := ctrl.Execute(stageCtx, sc)
	elapsed := time.Since(start)

	if execErr != nil {
		if errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
			msg := timeoutMessage(req.StageName, elapsed, offsetIntoSession, req.SessionTimeout)
			return e.finish(ctx, req, models.StageExecutionFailed, nil, msg, llmclient.TokenUsage{}, ErrStageTimeout)
		}
		if e.cancelTracker != nil && e.cancelTracker.IsUserCancel(req.SessionID) {
			return e.finish(ctx, req, models.StageExecutionCancelled, nil, execErr.Error(), llmclient.TokenUsage{}, nil)
		}
		return e.finish(ctx, req, models.StageExecutionFailed, nil, execErr.Error(), llmclient.TokenUsage{}, nil)
	}

	return e.finish(ctx, req, models.StageExecutionCompleted, &result.AnalysisText, "", result.TokenUsage, nil)
}

// finish persists the terminal status/output/error and emits the matching
// stage_completed/stage_failed event. A non-empty errMsg is only attached
// when status isn't completed.
func (e *Executor) finish(ctx context.Context, req Request, status models.StageExecutionStatus, output *string, errMsg string, usage llmclient.TokenUsage, cause error) (*Outcome, error) {
	var errPtr *string
	if status != models.StageExecutionCompleted && errMsg != "" {
		errPtr = &errMsg
	}

	if err := e.stages.Finish(ctx, req.ExecutionID, models.UpdateStageExecutionStatusRequest{
		Status:      status,
		StageOutput: output,
		Error:       errPtr,
	}); err != nil {
		return nil, fmt.Errorf("stageexec: finishing %s: %w", req.ExecutionID, err)
	}

	eventType := "stage_completed"
	if status != models.StageExecutionCompleted {
		eventType = "stage_failed"
	}
	payload := map[string]any{"execution_id": req.ExecutionID, "stage": req.StageName, "status": string(status)}
	if errPtr != nil {
		payload["error"] = *errPtr
	}
	e.publish(ctx, req.SessionID, eventType, payload)

	return &Outcome{Status: status, StageOutput: output, Error: errPtr, TokenUsage: usage, Cause: cause}, nil
}

// publish is best-effort: a dropped event never fails the stage, mirroring
// the teacher's publishStageStatus/publishSessionProgress (queue/executor.go),
// which log a warning on publish failure rather than aborting the caller.
func (e *Executor) publish(ctx context.Context, sessionID, eventType string, payload map[string]any) {
	if e.bus == nil {
		return
	}
	payload["type"] = eventType
	_, _ = e.bus.Publish(ctx, models.SessionChannel(sessionID), payload)
}

// buildStageContext assembles a controller.StageContext from a Request and
// its pre-resolved agentconfig.Resolved.
func (e *Executor) buildStageContext(req Request) *controller.StageContext {
	r := req.Resolved
	return &controller.StageContext{
		SessionID:            req.SessionID,
		StageExecutionID:     req.ExecutionID,
		AlertPayload:         req.AlertPayload,
		PreviousStageOutputs: req.PreviousStageOutputs,
		SystemPrompt:         req.SystemPrompt,
		CustomInstructions:   r.CustomInstructions,
		MCPServers:           req.MCPServers,
		ToolFilter:           req.ToolFilter,
		Provider:             r.LLMProviderName,
		NativeToolsOverride:  r.NativeToolsOverride,
		MaxIterations:        r.MaxIterations,
		IterationTimeout:     r.IterationTimeout,
	}
}

// newController selects a controller implementation for a resolved
// iteration strategy, per spec.md §4.3's three controller kinds.
// Synthesis and synthesis-with-thinking share their controller choice
// with the plain strategies: both run a single tool-less call, differing
// only in whether extended thinking is requested.
func (e *Executor) newController(strategy config.IterationStrategy) (controller.Controller, error) {
	switch strategy {
	case config.IterationStrategyReact:
		return controller.NewReActController(e.llm, e.mcp, e.interactions), nil
	case config.IterationStrategyNativeThinking, config.IterationStrategySynthesisNativeThinking:
		return controller.NewNativeThinkingController(e.llm, e.interactions), nil
	case config.IterationStrategySynthesis:
		return controller.NewSynthesisController(e.llm, e.interactions), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedStrategy, strategy)
	}
}

// stageCapFor derives the controller-specific cap half of spec.md §4.4
// step 4's min(remaining session budget, controller-specific cap): the
// total time a stage may reasonably take is its iteration budget times the
// per-iteration timeout, since neither pkg/config nor pkg/agentconfig
// carries a separate whole-stage duration field.
func stageCapFor(r *agentconfig.Resolved) time.Duration {
	return time.Duration(r.MaxIterations) * r.IterationTimeout
}

// timeoutMessage renders the structured timeout message spec.md §4.7
// specifies: "<stage> stage timed out after <stage_dur>s (started at
// +<offset>s into session, session timeout: <T>s)".
func timeoutMessage(stageName string, stageDuration, offsetIntoSession, sessionTimeout time.Duration) string {
	return fmt.Sprintf("%s stage timed out after %.1fs (started at +%.1fs into session, session timeout: %ds)",
		stageName, stageDuration.Seconds(), offsetIntoSession.Seconds(), int(sessionTimeout.Seconds()))
}
