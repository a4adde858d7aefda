package config

// IterationStrategy selects which controller drives an agent's turn-taking loop.
type IterationStrategy string

const (
	// IterationStrategyReact runs the multi-turn tool-calling loop.
	IterationStrategyReact IterationStrategy = "react"
	// IterationStrategyNativeThinking runs a single tool-less call with extended thinking.
	IterationStrategyNativeThinking IterationStrategy = "native-thinking"
	// IterationStrategySynthesis combines prior parallel stage outputs in one tool-less call.
	IterationStrategySynthesis IterationStrategy = "synthesis"
	// IterationStrategySynthesisNativeThinking is synthesis with extended thinking enabled.
	IterationStrategySynthesisNativeThinking IterationStrategy = "synthesis-native-thinking"
	// IterationStrategyLangChain routes through the multi-provider backend instead of a direct SDK call.
	IterationStrategyLangChain IterationStrategy = "routed"
)

// IsValid checks if the iteration strategy is valid (empty string is NOT valid — must be explicit).
func (s IterationStrategy) IsValid() bool {
	switch s {
	case IterationStrategyReact, IterationStrategyNativeThinking, IterationStrategySynthesis,
		IterationStrategySynthesisNativeThinking, IterationStrategyLangChain:
		return true
	default:
		return false
	}
}

// AgentType determines what the agent does — drives controller selection and agent wrapper.
type AgentType string

const (
	AgentTypeDefault   AgentType = "" // Regular investigation agent (iterating controller)
	AgentTypeSynthesis AgentType = "synthesis" // Synthesizes parallel investigation results (single-shot)
	AgentTypeScoring   AgentType = "scoring"   // Evaluates session quality (single-shot)
)

// IsValid checks if the agent type is valid (empty string is valid — means default).
func (t AgentType) IsValid() bool {
	switch t {
	case AgentTypeDefault, AgentTypeSynthesis, AgentTypeScoring:
		return true
	default:
		return false
	}
}

// SuccessPolicy defines success criteria for parallel stages
type SuccessPolicy string

const (
	// SuccessPolicyAll requires all agents to succeed
	SuccessPolicyAll SuccessPolicy = "all"
	// SuccessPolicyAny requires at least one agent to succeed (default)
	SuccessPolicyAny SuccessPolicy = "any"
)

// IsValid checks if the success policy is valid
func (p SuccessPolicy) IsValid() bool {
	return p == SuccessPolicyAll || p == SuccessPolicyAny
}

// TransportType defines MCP server transport types
type TransportType string

const (
	// TransportTypeStdio uses subprocess communication via stdin/stdout
	TransportTypeStdio TransportType = "stdio"
	// TransportTypeHTTP uses HTTP/HTTPS JSON-RPC
	TransportTypeHTTP TransportType = "http"
	// TransportTypeSSE uses Server-Sent Events
	TransportTypeSSE TransportType = "sse"
)

// IsValid checks if the transport type is valid
func (t TransportType) IsValid() bool {
	return t == TransportTypeStdio || t == TransportTypeHTTP || t == TransportTypeSSE
}

// LLMProviderType defines supported LLM providers
type LLMProviderType string

const (
	// LLMProviderTypeGoogle is Google Gemini API
	LLMProviderTypeGoogle LLMProviderType = "google"
	// LLMProviderTypeOpenAI is OpenAI API
	LLMProviderTypeOpenAI LLMProviderType = "openai"
	// LLMProviderTypeAnthropic is Anthropic Claude API
	LLMProviderTypeAnthropic LLMProviderType = "anthropic"
	// LLMProviderTypeXAI is xAI Grok API
	LLMProviderTypeXAI LLMProviderType = "xai"
	// LLMProviderTypeVertexAI is Google Vertex AI
	LLMProviderTypeVertexAI LLMProviderType = "vertexai"
)

// IsValid checks if the LLM provider type is valid
func (t LLMProviderType) IsValid() bool {
	switch t {
	case LLMProviderTypeGoogle,
		LLMProviderTypeOpenAI,
		LLMProviderTypeAnthropic,
		LLMProviderTypeXAI,
		LLMProviderTypeVertexAI:
		return true
	default:
		return false
	}
}

// NativeTool defines Google/Gemini native tools
type NativeTool string

const (
	// NativeToolWebSearch enables Google Search grounding
	NativeToolWebSearch NativeTool = "web_search"
	// NativeToolCodeExecution enables code execution
	NativeToolCodeExecution NativeTool = "code_execution"
	// NativeToolURLContext enables URL context fetching
	NativeToolURLContext NativeTool = "url_context"
)

// IsValid checks if the Google native tool is valid
func (t NativeTool) IsValid() bool {
	return t == NativeToolWebSearch ||
		t == NativeToolCodeExecution ||
		t == NativeToolURLContext
}
