// Package llmclient is the contract-only LLM provider collaborator named by
// spec.md §1/§6: "just a generate(conversation, options) → response contract
// plus a streaming variant". The streaming variant is out of scope for the
// chain execution engine (iteration controllers consume one full response
// per call, never token deltas), so this package exposes a single
// synchronous Generate.
//
// Grounded on the teacher's agent.LLMClient (pkg/agent/llm_client.go) for
// the message/tool-definition shapes, adapted from a gRPC-to-a-Python-
// sidecar design to a direct in-process SDK call — spec.md §6 names the
// Anthropic SDK as the wired backend rather than a sidecar process.
package llmclient

import "context"

// Conversation message roles, matching the teacher's agent.Role* constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn in a conversation sent to the LLM.
type Message struct {
	Role       string
	Content    string
	ToolCallID string // set on RoleTool messages, echoes the originating tool call's ID
	ToolName   string // set on RoleTool messages
}

// GenerateOptions carries the per-call knobs spec.md §6 lists explicitly:
// provider selection, a native-tools override, a thinking-level hint for
// the Native-Thinking controller, parallel-execution metadata (so a
// provider-side trace can tag which replica/fan-out branch produced a
// call), and the session/stage identifiers every interaction log entry
// needs for tagging.
type GenerateOptions struct {
	Provider            string
	NativeToolsOverride map[string]bool
	ThinkingLevel       string
	ParallelMetadata    map[string]any
	SessionID           string
	StageExecutionID    string
	MaxTokens           int
}

// TokenUsage reports token consumption for one Generate call.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Response is what a provider returns for one Generate call. ThinkingContent
// and ResponseMetadata are both optional — only populated when
// GenerateOptions.ThinkingLevel is set and the provider supports it.
type Response struct {
	Content          string
	ThinkingContent  string
	ResponseMetadata map[string]any
	Usage            TokenUsage
}

// Client is the LLM provider contract. Implementations: AnthropicClient
// (client.go wired backend) and llmclienttest.Fake (test double).
type Client interface {
	Generate(ctx context.Context, messages []Message, opts GenerateOptions) (*Response, error)
}
