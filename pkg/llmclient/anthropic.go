package llmclient

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient wires Client to github.com/anthropics/anthropic-sdk-go,
// the library spec.md §6 names for the wired LLM backend. One instance is
// built per configured provider entry (pkg/config.LLMProviderConfig),
// since model name and API key are provider-scoped.
type AnthropicClient struct {
	sdk       anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicClient constructs a client for one provider config. apiKey is
// resolved by the caller from the provider's APIKeyEnv (pkg/config never
// reads environment variables itself, per the teacher's config-layer
// convention of pure YAML plus explicit env lookups at the wiring edge).
func NewAnthropicClient(apiKey, model string, defaultMaxTokens int) *AnthropicClient {
	if defaultMaxTokens <= 0 {
		defaultMaxTokens = 4096
	}
	return &AnthropicClient{
		sdk:       anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.Model(model),
		maxTokens: int64(defaultMaxTokens),
	}
}

// Generate sends messages as a single non-streaming Messages.New call.
// ThinkingLevel maps to the SDK's extended-thinking budget: "high" requests
// a thinking block, which — if the provider returns one — is surfaced on
// Response.ThinkingContent for the Native-Thinking controller to capture
// into the interaction's response_metadata per spec.md §4.3.
func (c *AnthropicClient) Generate(ctx context.Context, messages []Message, opts GenerateOptions) (*Response, error) {
	var system string
	var sdkMessages []anthropic.MessageParam

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case RoleUser:
			sdkMessages = append(sdkMessages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleAssistant:
			sdkMessages = append(sdkMessages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		case RoleTool:
			// Tool results are folded back in as plain user turns — the
			// ReAct controller's tool calls are text/JSON embedded in the
			// conversation, not native tool_use blocks, so there is no
			// tool_use_id to correlate against.
			sdkMessages = append(sdkMessages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	maxTokens := c.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = int64(opts.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages:  sdkMessages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if opts.ThinkingLevel == "high" {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(maxTokens / 2)
	}

	msg, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic generate: %w", err)
	}

	resp := &Response{
		Usage: TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += variant.Text
		case anthropic.ThinkingBlock:
			resp.ThinkingContent += variant.Thinking
		}
	}
	if resp.ThinkingContent != "" {
		resp.ResponseMetadata = map[string]any{"thinking": resp.ThinkingContent}
	}
	return resp, nil
}
