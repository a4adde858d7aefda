// Package interactionlog is the strongly-typed recording layer (C2):
// log_llm, log_mcp_call, log_mcp_list. Writes are synchronous to the
// database (through pkg/store's retrying helpers) but fire-and-forget from
// the controller's point of view — the controller calls Log and moves on,
// never branching its own control flow on a logging failure.
//
// Grounded on the teacher's worker.go heartbeat-on-every-interaction idiom
// (pkg/queue/worker.go's runHeartbeat bumps last_interaction_at on a timer;
// here every interaction write bumps it directly, which is what drives
// orphan detection per spec.md §4.2/§4.6) and on InteractionStore's
// CreateLLM/CreateMCP (pkg/store/interaction_store.go) for the actual
// persistence shape.
package interactionlog

import (
	"context"
	"log/slog"
	"time"

	"github.com/tarsy-chain/tarsy/pkg/models"
)

// SessionTouch is the narrow session-side contract this package needs:
// bumping last_interaction_at_us after a write. Satisfied by
// *store.SessionStore.
type SessionTouch interface {
	Heartbeat(ctx context.Context, sessionID string) error
}

// InteractionWriter is the narrow persistence contract this package needs.
// Satisfied by *store.InteractionStore.
type InteractionWriter interface {
	CreateLLM(ctx context.Context, req models.CreateLLMInteractionRequest) (*models.LLMInteraction, error)
	CreateMCP(ctx context.Context, req models.CreateMCPInteractionRequest) (*models.MCPInteraction, error)
}

// Log is the interaction log. One instance is shared across all stage
// executors in a pod.
type Log struct {
	interactions InteractionWriter
	sessions     SessionTouch
	log          *slog.Logger
}

func New(interactions InteractionWriter, sessions SessionTouch, log *slog.Logger) *Log {
	if log == nil {
		log = slog.Default()
	}
	return &Log{interactions: interactions, sessions: sessions, log: log}
}

// LLMCall describes one completed (successful or not) LLM request, timed by
// the caller (the iteration controller) so DurationMs reflects the actual
// provider round trip rather than time spent in this package.
type LLMCall struct {
	SessionID        string
	StageExecutionID *string
	MCPEventID       *string
	ModelName        string
	RequestJSON      map[string]any
	ResponseJSON     map[string]any
	TokenUsage       map[string]any
	ToolCalls        []any
	ToolResults      []any
	Duration         time.Duration
	Success          bool
	Error            *string
}

// LogLLM records one LLM interaction and best-effort bumps the owning
// session's last_interaction_at_us. A heartbeat failure is logged but never
// returned — it must not fail the caller's request, per spec.md §4.2.
func (l *Log) LogLLM(ctx context.Context, call LLMCall) (*models.LLMInteraction, error) {
	interaction, err := l.interactions.CreateLLM(ctx, models.CreateLLMInteractionRequest{
		SessionID:        call.SessionID,
		StageExecutionID: call.StageExecutionID,
		MCPEventID:       call.MCPEventID,
		ModelName:        call.ModelName,
		RequestJSON:      call.RequestJSON,
		ResponseJSON:     call.ResponseJSON,
		TokenUsage:       call.TokenUsage,
		ToolCalls:        call.ToolCalls,
		ToolResults:      call.ToolResults,
		DurationMs:       call.Duration.Milliseconds(),
		Success:          call.Success,
		Error:            call.Error,
	})
	if err != nil {
		return nil, err
	}
	l.touch(ctx, call.SessionID)
	return interaction, nil
}

// MCPCall describes one completed MCP tool invocation or tool-list query.
type MCPCall struct {
	SessionID        string
	StageExecutionID *string
	ServerName       string
	ToolName         *string
	ToolArguments    map[string]any
	ToolResult       map[string]any
	Duration         time.Duration
	Success          bool
	Error            *string
}

// LogMCPCall records a single tool_call interaction.
func (l *Log) LogMCPCall(ctx context.Context, call MCPCall) (*models.MCPInteraction, error) {
	return l.logMCP(ctx, call, models.MCPToolCall, nil)
}

// MCPListCall describes one tool-listing query. ServerName is the specific
// server queried, or left empty to use AllServersSentinel when the listing
// spans every configured server at once.
type MCPListCall struct {
	SessionID        string
	StageExecutionID *string
	ServerName       string
	AvailableTools   []any
	Duration         time.Duration
	Success          bool
	Error            *string
}

// LogMCPList records a tool_list interaction. An empty ServerName is
// recorded under AllServersSentinel, per spec.md §4.2.
func (l *Log) LogMCPList(ctx context.Context, call MCPListCall) (*models.MCPInteraction, error) {
	serverName := call.ServerName
	if serverName == "" {
		serverName = models.AllServersSentinel
	}
	interaction, err := l.interactions.CreateMCP(ctx, models.CreateMCPInteractionRequest{
		SessionID:         call.SessionID,
		StageExecutionID:  call.StageExecutionID,
		ServerName:        serverName,
		CommunicationType: models.MCPToolList,
		AvailableTools:    call.AvailableTools,
		DurationMs:        call.Duration.Milliseconds(),
		Success:           call.Success,
		Error:             call.Error,
	})
	if err != nil {
		return nil, err
	}
	l.touch(ctx, call.SessionID)
	return interaction, nil
}

func (l *Log) logMCP(ctx context.Context, call MCPCall, commType models.MCPCommunicationType, availableTools []any) (*models.MCPInteraction, error) {
	interaction, err := l.interactions.CreateMCP(ctx, models.CreateMCPInteractionRequest{
		SessionID:         call.SessionID,
		StageExecutionID:  call.StageExecutionID,
		ServerName:        call.ServerName,
		CommunicationType: commType,
		ToolName:          call.ToolName,
		ToolArguments:     call.ToolArguments,
		ToolResult:        call.ToolResult,
		AvailableTools:    availableTools,
		DurationMs:        call.Duration.Milliseconds(),
		Success:           call.Success,
		Error:             call.Error,
	})
	if err != nil {
		return nil, err
	}
	l.touch(ctx, call.SessionID)
	return interaction, nil
}

// touch bumps the session's last_interaction_at_us. Best-effort: a failure
// here must never surface as a logging failure to the caller, since the
// interaction row itself is already durably committed.
func (l *Log) touch(ctx context.Context, sessionID string) {
	if err := l.sessions.Heartbeat(ctx, sessionID); err != nil {
		l.log.Warn("interaction log heartbeat failed", "session_id", sessionID, "error", err)
	}
}
