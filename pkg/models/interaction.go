package models

// LLMInteraction is an immutable record of one call to an LLM provider.
// Rows are never updated after insert; stage_execution_id is nil for
// interactions that happen outside any stage (e.g. session scoring).
type LLMInteraction struct {
	InteractionID      string         `json:"interaction_id" db:"interaction_id"`
	SessionID          string         `json:"session_id" db:"session_id"`
	StageExecutionID   *string        `json:"stage_execution_id,omitempty" db:"stage_execution_id"`
	MCPEventID         *string        `json:"mcp_event_id,omitempty" db:"mcp_event_id"`
	ModelName          string         `json:"model_name" db:"model_name"`
	RequestJSON        map[string]any `json:"request_json" db:"request_json"`
	ResponseJSON       map[string]any `json:"response_json,omitempty" db:"response_json"`
	TokenUsage         map[string]any `json:"token_usage,omitempty" db:"token_usage"`
	ToolCalls          []any          `json:"tool_calls,omitempty" db:"tool_calls"`
	ToolResults        []any          `json:"tool_results,omitempty" db:"tool_results"`
	DurationMs         int64          `json:"duration_ms" db:"duration_ms"`
	Success            bool           `json:"success" db:"success"`
	Error              *string        `json:"error,omitempty" db:"error"`
	TimestampUs        int64          `json:"timestamp_us" db:"timestamp_us"`
}

// CreateLLMInteractionRequest contains the fields needed to log an LLM call.
type CreateLLMInteractionRequest struct {
	SessionID        string
	StageExecutionID *string
	MCPEventID       *string
	ModelName        string
	RequestJSON      map[string]any
	ResponseJSON     map[string]any
	TokenUsage       map[string]any
	ToolCalls        []any
	ToolResults      []any
	DurationMs       int64
	Success          bool
	Error            *string
}

// MCPCommunicationType distinguishes a tool invocation from a tool-list call.
type MCPCommunicationType string

const (
	MCPToolList MCPCommunicationType = "tool_list"
	MCPToolCall MCPCommunicationType = "tool_call"
)

// AllServersSentinel is the server_name recorded for a tool_list interaction
// that enumerates every configured MCP server at once, rather than one in
// particular.
const AllServersSentinel = "all_servers"

// MCPInteraction is an immutable record of one MCP tool call or tool listing.
type MCPInteraction struct {
	InteractionID     string               `json:"interaction_id" db:"interaction_id"`
	SessionID         string               `json:"session_id" db:"session_id"`
	StageExecutionID  *string              `json:"stage_execution_id,omitempty" db:"stage_execution_id"`
	ServerName        string               `json:"server_name" db:"server_name"`
	CommunicationType MCPCommunicationType `json:"communication_type" db:"communication_type"`
	ToolName          *string              `json:"tool_name,omitempty" db:"tool_name"`
	ToolArguments     map[string]any       `json:"tool_arguments,omitempty" db:"tool_arguments"`
	ToolResult        map[string]any       `json:"tool_result,omitempty" db:"tool_result"`
	AvailableTools    []any                `json:"available_tools,omitempty" db:"available_tools"`
	DurationMs        int64                `json:"duration_ms" db:"duration_ms"`
	Success           bool                 `json:"success" db:"success"`
	Error             *string              `json:"error,omitempty" db:"error"`
	TimestampUs       int64                `json:"timestamp_us" db:"timestamp_us"`
}

// CreateMCPInteractionRequest contains the fields needed to log an MCP call.
type CreateMCPInteractionRequest struct {
	SessionID         string
	StageExecutionID  *string
	ServerName        string
	CommunicationType MCPCommunicationType
	ToolName          *string
	ToolArguments     map[string]any
	ToolResult        map[string]any
	AvailableTools    []any
	DurationMs        int64
	Success           bool
	Error             *string
}

// ────────────────────────────────────────────────────────────
// Trace views — collapsed list + expanded detail, grouped by
// stage execution, for the debug/observability surface.
// ────────────────────────────────────────────────────────────

// TraceListResponse groups every interaction of a session by stage execution.
type TraceListResponse struct {
	Stages              []TraceStageGroup         `json:"stages"`
	SessionInteractions []LLMInteractionListItem  `json:"session_interactions"`
}

// TraceStageGroup contains the interactions belonging to one stage execution.
type TraceStageGroup struct {
	ExecutionID     string                    `json:"execution_id"`
	StageName       string                    `json:"stage_name"`
	Agent           string                    `json:"agent"`
	LLMInteractions []LLMInteractionListItem  `json:"llm_interactions"`
	MCPInteractions []MCPInteractionListItem  `json:"mcp_interactions"`
}

// LLMInteractionListItem is the collapsed list-view projection of an
// LLMInteraction.
type LLMInteractionListItem struct {
	ID           string  `json:"id"`
	ModelName    string  `json:"model_name"`
	DurationMs   int64   `json:"duration_ms"`
	Success      bool    `json:"success"`
	Error        *string `json:"error,omitempty"`
	TimestampUs  int64   `json:"timestamp_us"`
}

// MCPInteractionListItem is the collapsed list-view projection of an
// MCPInteraction.
type MCPInteractionListItem struct {
	ID           string  `json:"id"`
	ServerName   string  `json:"server_name"`
	ToolName     *string `json:"tool_name,omitempty"`
	DurationMs   int64   `json:"duration_ms"`
	Success      bool    `json:"success"`
	Error        *string `json:"error,omitempty"`
	TimestampUs  int64   `json:"timestamp_us"`
}
