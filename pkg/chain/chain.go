// Package chain implements the Chain Orchestrator (C5): running an ordered
// list of stage specs to completion for one session, per spec.md §4.5.
// A spec is single (one stage execution), multi_agent (N distinct agents
// fanned out under a bookkeeping parent row), or replica (N copies of the
// same agent). Chain owns the stage_execution rows' shape and the parent/
// child join; pkg/stageexec (C4) owns each individual row's run-to-
// completion lifecycle.
//
// Grounded on the teacher's pkg/queue/executor.go's RealSessionExecutor.Execute
// (the chain loop) and executeStage/buildConfigs/buildMultiAgentConfigs/
// buildReplicaConfigs (fan-out width and per-child config), adapted so that
// parent/child status derivation follows spec.md §4.5's explicit precedence
// rule (pkg/chain/join.go) rather than the teacher's per-stage aggregateStatus,
// and so that agent-config resolution happens here, before a row is created,
// via pkg/agentconfig — the teacher resolves agent config before creating its
// AgentExecution row for the same reason.
package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tarsy-chain/tarsy/pkg/agentconfig"
	"github.com/tarsy-chain/tarsy/pkg/cancel"
	"github.com/tarsy-chain/tarsy/pkg/config"
	"github.com/tarsy-chain/tarsy/pkg/eventbus"
	"github.com/tarsy-chain/tarsy/pkg/mcpclient"
	"github.com/tarsy-chain/tarsy/pkg/models"
	"github.com/tarsy-chain/tarsy/pkg/stageexec"
)

// stageStore narrows *store.StageExecutionStore to what this package calls,
// so tests can run against an in-memory fake instead of Postgres.
type stageStore interface {
	Create(ctx context.Context, req models.CreateStageExecutionRequest) (*models.StageExecution, error)
	Start(ctx context.Context, executionID string) error
	Finish(ctx context.Context, executionID string, req models.UpdateStageExecutionStatusRequest) error
	ListChildren(ctx context.Context, parentExecutionID string) ([]*models.StageExecution, error)
}

// sessionStore narrows *store.SessionStore to what this package calls.
type sessionStore interface {
	UpdateCurrentStage(ctx context.Context, sessionID string, stageIndex int) error
}

// stageRunner is what pkg/stageexec.Executor provides: run one stage
// execution row to completion. Narrowed for testability.
type stageRunner interface {
	Execute(ctx context.Context, req stageexec.Request) (*stageexec.Outcome, error)
}

// failedServerReporter is implemented by *mcpclient.MultiServerClient. It is
// optional: a test double that doesn't implement it is treated as having no
// failed servers.
type failedServerReporter interface {
	FailedServers() map[string]string
}

// Result is the chain's terminal outcome for one session, for
// pkg/sessionqueue to persist via SessionStore.SetTerminal.
type Result struct {
	Status        models.SessionStatus
	FinalAnalysis *string
	Error         *string
}

// Orchestrator runs chains. One instance is shared across every session a
// pod works on: the stage runner, MCP/event-bus clients, and cancel tracker
// are all process-wide.
type Orchestrator struct {
	stages   stageStore
	sessions sessionStore
	exec     stageRunner
	bus      eventbus.Bus
	mcp      mcpclient.Client
	cancel   *cancel.Tracker
	cfg      *config.Config

	sessionTimeout time.Duration

	mu        sync.Mutex
	cancelFns map[string]context.CancelFunc
}

func NewOrchestrator(stages stageStore, sessions sessionStore, exec stageRunner, bus eventbus.Bus, mcp mcpclient.Client, cancelTracker *cancel.Tracker, cfg *config.Config, sessionTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		stages:         stages,
		sessions:       sessions,
		exec:           exec,
		bus:            bus,
		mcp:            mcp,
		cancel:         cancelTracker,
		cfg:            cfg,
		sessionTimeout: sessionTimeout,
		cancelFns:      make(map[string]context.CancelFunc),
	}
}

// CancelStageExecution cancels one running stage execution (a fan-out child
// or a single-stage row) without affecting its siblings, per spec.md §4.5's
// "cancelling one child does not cancel siblings." Returns false if
// executionID has no running context registered (already finished, or
// never started).
func (o *Orchestrator) CancelStageExecution(sessionID, executionID string) bool {
	o.mu.Lock()
	cancelFn, ok := o.cancelFns[executionID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	o.cancel.MarkCancelled(sessionID)
	cancelFn()
	return true
}

// RunSession runs every stage spec in chainCfg for session, in order,
// stopping early on a fatal chain error (configuration, session timeout,
// claim loss) or an unrecovered stage failure. ownershipCheck, if non-nil,
// is consulted between stages; returning false means another pod now holds
// this session's claim.
func (o *Orchestrator) RunSession(ctx context.Context, session *models.Session, chainCfg *config.ChainConfig, ownershipCheck func(ctx context.Context) (bool, error)) (*Result, error) {
	var previousOutputs []string
	var lastOutput string

	for stageIndex, stageCfg := range chainCfg.Stages {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return &Result{Status: models.SessionFailed, Error: strPtr(sessionTimeoutMessage(o.sessionTimeout))}, nil
			}
			// Plain cancellation: pkg/sessionqueue classifies this further
			// (user cancel vs. graceful shutdown) and overrides Result
			// accordingly before persisting it.
			return &Result{Status: models.SessionCancelled, Error: strPtr("cancelled")}, nil
		}
		if ownershipCheck != nil {
			owned, err := ownershipCheck(ctx)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrClaimLost, err)
			}
			if !owned {
				return nil, ErrClaimLost
			}
		}

		_ = o.sessions.UpdateCurrentStage(ctx, session.SessionID, stageIndex)

		outcome, err := o.runStage(ctx, session, chainCfg, stageCfg, stageIndex, previousOutputs)
		if err != nil {
			if errors.Is(err, ErrConfiguration) {
				return &Result{Status: models.SessionFailed, Error: strPtr(err.Error())}, nil
			}
			return nil, err
		}

		if outcome.StageOutput != nil {
			previousOutputs = append(previousOutputs, fmt.Sprintf("### %s\n%s", stageCfg.Name, *outcome.StageOutput))
			lastOutput = *outcome.StageOutput
		}

		switch outcome.Status {
		case models.StageExecutionCompleted:
			continue
		case models.StageExecutionCancelled:
			return &Result{Status: models.SessionCancelled, Error: strPtr("cancelled")}, nil
		case models.StageExecutionFailed:
			if continueOnFailure(chainCfg, stageCfg) {
				continue
			}
			return &Result{Status: models.SessionFailed, Error: outcome.Error}, nil
		}
	}

	return &Result{Status: models.SessionCompleted, FinalAnalysis: strPtr(lastOutput)}, nil
}

// continueOnFailure resolves spec.md §9's first Open Question: a stage's own
// ContinueOnFailure, when set, overrides the chain's default; per-stage wins.
func continueOnFailure(chainCfg *config.ChainConfig, stageCfg config.StageConfig) bool {
	if stageCfg.ContinueOnFailure != nil {
		return *stageCfg.ContinueOnFailure
	}
	if chainCfg.ContinueOnFailure != nil {
		return *chainCfg.ContinueOnFailure
	}
	return false
}

func sessionTimeoutMessage(timeout time.Duration) string {
	return fmt.Sprintf("session timed out after %ds", int(timeout.Seconds()))
}

func strPtr(s string) *string { return &s }

// joinedOutcome is runStage's uniform return shape, whether the stage was a
// single row or a fanned-out parent (optionally followed by synthesis).
type joinedOutcome struct {
	Status      models.StageExecutionStatus
	StageOutput *string
	Error       *string
}

// runStage runs one chain stage spec: a single row, or a fan-out parent plus
// its children, optionally followed by a synthesis row.
func (o *Orchestrator) runStage(ctx context.Context, session *models.Session, chainCfg *config.ChainConfig, stageCfg config.StageConfig, stageIndex int, previousOutputs []string) (*joinedOutcome, error) {
	width := fanOutWidth(stageCfg)
	if width <= 1 {
		out, err := o.runChild(ctx, session, chainCfg, stageCfg, stageIndex, stageCfg.Agents[0], nil, 0, models.ParallelSingle, nil, previousOutputs)
		if err != nil {
			return nil, err
		}
		return &joinedOutcome{Status: out.Status, StageOutput: out.StageOutput, Error: out.Error}, nil
	}

	parallelType := parallelTypeFor(stageCfg)
	policy := effectiveSuccessPolicy(models.SuccessPolicy(stageCfg.SuccessPolicy))

	parent, err := o.stages.Create(ctx, models.CreateStageExecutionRequest{
		SessionID:     session.SessionID,
		StageIndex:    stageIndex,
		StageName:     stageCfg.Name,
		ParallelIndex: 0,
		ParallelType:  parallelType,
		SuccessPolicy: &policy,
	})
	if err != nil {
		return nil, fmt.Errorf("chain: creating parent stage execution: %w", err)
	}
	if err := o.stages.Start(ctx, parent.ExecutionID); err != nil {
		return nil, fmt.Errorf("chain: starting parent stage execution: %w", err)
	}
	o.publishSession(ctx, session.SessionID, "stage_started", map[string]any{"execution_id": parent.ExecutionID, "stage": stageCfg.Name})

	agentConfigs := childAgentConfigs(stageCfg, width)

	type childResult struct {
		outcome *stageexec.Outcome
		err     error
	}
	results := make([]childResult, width)
	var wg sync.WaitGroup
	for i, agentCfg := range agentConfigs {
		wg.Add(1)
		go func(i int, agentCfg config.StageAgentConfig) {
			defer wg.Done()
			out, err := o.runChild(ctx, session, chainCfg, stageCfg, stageIndex, agentCfg, &parent.ExecutionID, i, parallelType, &policy, previousOutputs)
			results[i] = childResult{outcome: out, err: err}
		}(i, agentCfg)
	}
	wg.Wait()

	for _, r := range results {
		if r.err != nil && !errors.Is(r.err, ErrConfiguration) {
			return nil, r.err
		}
	}

	children, err := o.stages.ListChildren(ctx, parent.ExecutionID)
	if err != nil {
		return nil, fmt.Errorf("chain: listing children of %s: %w", parent.ExecutionID, err)
	}

	parentStatus := deriveParentStatus(parallelType, policy, children)
	var parentErr *string
	if parentStatus != models.StageExecutionCompleted {
		parentErr = firstChildError(children, parentStatus)
	}
	if err := o.stages.Finish(ctx, parent.ExecutionID, models.UpdateStageExecutionStatusRequest{
		Status: parentStatus,
		Error:  parentErr,
	}); err != nil {
		return nil, fmt.Errorf("chain: finishing parent stage execution: %w", err)
	}
	eventType := "stage_completed"
	if parentStatus != models.StageExecutionCompleted {
		eventType = "stage_failed"
	}
	o.publishSession(ctx, session.SessionID, eventType, map[string]any{"execution_id": parent.ExecutionID, "stage": stageCfg.Name, "status": string(parentStatus)})

	if stageCfg.Synthesis != nil && anyChildHasOutput(children) {
		return o.runSynthesis(ctx, session, chainCfg, stageCfg, stageIndex, children, parentStatus)
	}

	return &joinedOutcome{Status: parentStatus, StageOutput: joinChildOutputs(children), Error: parentErr}, nil
}

// runSynthesis runs the stage's attached synthesis agent over the joined
// children's outputs, per spec.md §4.5: "a synthesis stage always runs as
// long as any upstream produced output." Its own outcome (not the parent
// fan-out's) becomes what subsequent stages see as this stage's output.
func (o *Orchestrator) runSynthesis(ctx context.Context, session *models.Session, chainCfg *config.ChainConfig, stageCfg config.StageConfig, stageIndex int, children []*models.StageExecution, parentStatus models.StageExecutionStatus) (*joinedOutcome, error) {
	synth := stageCfg.Synthesis
	agentCfg := config.StageAgentConfig{
		Name:              synth.Agent,
		LLMProvider:       synth.LLMProvider,
		IterationStrategy: synth.IterationStrategy,
	}
	investigationOutputs := []string{formatInvestigationForSynthesis(children)}

	out, err := o.runChild(ctx, session, chainCfg, config.StageConfig{Name: stageCfg.Name + " synthesis"}, stageIndex, agentCfg, nil, 0, models.ParallelSingle, nil, investigationOutputs)
	if err != nil {
		if errors.Is(err, ErrConfiguration) {
			return &joinedOutcome{Status: models.StageExecutionFailed, Error: strPtr(err.Error())}, nil
		}
		return nil, err
	}

	status := out.Status
	if parentStatus == models.StageExecutionCancelled && status == models.StageExecutionCompleted {
		// an upstream cancellation still means the chain must not proceed,
		// even though the synthesis call itself succeeded on partial input.
		status = models.StageExecutionCancelled
	}
	return &joinedOutcome{Status: status, StageOutput: out.StageOutput, Error: out.Error}, nil
}

// formatInvestigationForSynthesis renders every child's stage_output as a
// labeled section, ported from the teacher's FormatInvestigationForSynthesis.
func formatInvestigationForSynthesis(children []*models.StageExecution) string {
	var b strings.Builder
	for _, c := range children {
		if c.StageOutput == nil || *c.StageOutput == "" {
			continue
		}
		fmt.Fprintf(&b, "### %s (%s)\n%s\n\n", c.Agent, c.Status, *c.StageOutput)
	}
	return strings.TrimRight(b.String(), "\n")
}

// joinChildOutputs concatenates every child's stage_output for a fan-out
// stage with no synthesis configured, so a later stage's
// PreviousStageOutputs still sees every sibling's contribution.
func joinChildOutputs(children []*models.StageExecution) *string {
	s := formatInvestigationForSynthesis(children)
	if s == "" {
		return nil
	}
	return &s
}

// firstChildError picks the error message attributable to a derived
// non-completed parent status: the first child whose own status matches it.
func firstChildError(children []*models.StageExecution, status models.StageExecutionStatus) *string {
	for _, c := range children {
		if c.Status == status && c.Error != nil {
			return c.Error
		}
	}
	return nil
}

// runChild resolves agent config, composes the system prompt, creates the
// stage_execution row, and runs it to completion via pkg/stageexec. Used for
// both a true single stage and one child of a fan-out.
func (o *Orchestrator) runChild(ctx context.Context, session *models.Session, chainCfg *config.ChainConfig, stageCfg config.StageConfig, stageIndex int, agentCfg config.StageAgentConfig, parentID *string, parallelIndex int, parallelType models.ParallelType, successPolicy *models.SuccessPolicy, previousOutputs []string) (*stageexec.Outcome, error) {
	resolved, err := agentconfig.Resolve(o.cfg, chainCfg, stageCfg, agentCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving agent %q: %v", ErrConfiguration, agentCfg.Name, err)
	}

	serverIDs, toolFilter, err := resolveMCPSelection(session, resolved, o.cfg.MCPServerRegistry)
	if err != nil {
		return nil, err
	}

	systemPrompt := agentconfig.BuildSystemPrompt(o.cfg, resolved, serverIDs, o.failedServers(serverIDs))

	row, err := o.stages.Create(ctx, models.CreateStageExecutionRequest{
		SessionID:              session.SessionID,
		StageIndex:             stageIndex,
		StageName:              stageCfg.Name,
		Agent:                  resolved.AgentName,
		IterationStrategy:      string(resolved.IterationStrategy),
		ParentStageExecutionID: parentID,
		ParallelIndex:          parallelIndex,
		ParallelType:           parallelType,
		SuccessPolicy:          successPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("chain: creating stage execution: %w", err)
	}

	childCtx, cancelFn := context.WithCancel(ctx)
	o.registerCancel(row.ExecutionID, cancelFn)
	defer o.unregisterCancel(row.ExecutionID)

	req := stageexec.Request{
		ExecutionID:          row.ExecutionID,
		SessionID:            session.SessionID,
		StageName:            stageCfg.Name,
		AlertPayload:         session.AlertPayload,
		PreviousStageOutputs: strings.Join(previousOutputs, "\n\n"),
		SystemPrompt:         systemPrompt,
		Resolved:             resolved,
		MCPServers:           serverIDs,
		ToolFilter:           toolFilter,
		SessionStartedAtUs:   session.StartedAtUs,
		SessionTimeout:       o.sessionTimeout,
	}
	return o.exec.Execute(childCtx, req)
}

func (o *Orchestrator) registerCancel(executionID string, cancelFn context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelFns[executionID] = cancelFn
}

func (o *Orchestrator) unregisterCancel(executionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.cancelFns, executionID)
}

func (o *Orchestrator) failedServers(serverIDs []string) map[string]string {
	fr, ok := o.mcp.(failedServerReporter)
	if !ok {
		return nil
	}
	all := fr.FailedServers()
	if len(all) == 0 {
		return nil
	}
	out := make(map[string]string, len(serverIDs))
	for _, id := range serverIDs {
		if reason, failed := all[id]; failed {
			out[id] = reason
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (o *Orchestrator) publishSession(ctx context.Context, sessionID, eventType string, payload map[string]any) {
	if o.bus == nil {
		return
	}
	payload["type"] = eventType
	_, _ = o.bus.Publish(ctx, models.SessionChannel(sessionID), payload)
}

// parallelTypeFor classifies a stage spec per spec.md §4.5: replica wins
// over multi_agent when both Replicas > 1 and len(Agents) > 1 happen to be
// configured together, since replicating a whole agent roster isn't a
// supported combination — Replicas only ever multiplies a single agent.
func parallelTypeFor(stageCfg config.StageConfig) models.ParallelType {
	if stageCfg.Replicas > 1 {
		return models.ParallelReplica
	}
	if len(stageCfg.Agents) > 1 {
		return models.ParallelMultiAgent
	}
	return models.ParallelSingle
}

// fanOutWidth is how many stage_execution children a stage spec produces:
// 1 for single, Replicas for replica, len(Agents) for multi_agent.
func fanOutWidth(stageCfg config.StageConfig) int {
	if stageCfg.Replicas > 1 {
		return stageCfg.Replicas
	}
	return len(stageCfg.Agents)
}

// childAgentConfigs expands a stage spec into one StageAgentConfig per
// child: the roster itself for multi_agent, or the sole agent repeated
// Replicas times for replica.
func childAgentConfigs(stageCfg config.StageConfig, width int) []config.StageAgentConfig {
	if stageCfg.Replicas > 1 {
		out := make([]config.StageAgentConfig, width)
		for i := range out {
			out[i] = stageCfg.Agents[0]
		}
		return out
	}
	return stageCfg.Agents
}
