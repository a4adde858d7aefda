// Package agentconfig resolves the final, effective configuration an agent
// runs with — iteration strategy, LLM provider, iteration budget, MCP server
// set, and custom instructions — by walking the defaults → agent →
// chain → stage/chat/scoring override chain described in
// pkg/config, and composes the system prompt an agent sends to the model.
//
// pkg/stageexec calls Resolve once per stage agent before building a
// controller.StageContext; pkg/chatservice and pkg/scoring call the
// ResolveChat/ResolveScoring variants for their own single-agent flows.
package agentconfig

import (
	"fmt"
	"time"

	"github.com/tarsy-chain/tarsy/pkg/config"
)

// DefaultMaxIterations caps an agent's ReAct loop when no level of the
// override chain sets one.
const DefaultMaxIterations = 20

// DefaultIterationTimeout bounds a single controller iteration (one LLM
// call plus its tool round-trip), independent of the overall stage or
// session deadline.
const DefaultIterationTimeout = 120 * time.Second

// Resolved carries everything a controller.StageContext needs about the
// agent driving a stage execution, after every override level has been
// applied.
type Resolved struct {
	AgentName         string
	Type              config.AgentType
	IterationStrategy config.IterationStrategy
	LLMProvider       *config.LLMProviderConfig
	LLMProviderName   string
	MaxIterations     int
	IterationTimeout  time.Duration
	MCPServers        []string
	CustomInstructions string

	// NativeToolsOverride merges the LLM provider's native-tools map with
	// the agent's own per-key overrides: agent keys win, missing keys fall
	// through to the provider default. nil if the provider declares none.
	NativeToolsOverride map[string]bool
}

// Resolve computes the effective configuration for one agent entry of a
// stage. Precedence (last non-empty/non-nil wins), matching the teacher's
// four-to-five level chain:
//
//	iteration strategy: defaults -> agent definition -> chain -> stage agent
//	LLM provider:        defaults -> chain -> stage agent
//	max iterations:      defaults -> agent definition -> chain -> stage -> stage agent
//	MCP servers:         agent definition -> chain -> stage -> stage agent (first non-empty wins, in that order)
func Resolve(cfg *config.Config, chain *config.ChainConfig, stage config.StageConfig, agent config.StageAgentConfig) (*Resolved, error) {
	if chain == nil {
		return nil, fmt.Errorf("agentconfig: chain is nil")
	}

	agentDef, err := cfg.GetAgent(agent.Name)
	if err != nil {
		return nil, fmt.Errorf("agentconfig: resolve agent %q: %w", agent.Name, err)
	}

	strategy := resolveIterationStrategy(cfg.Defaults.IterationStrategy, agentDef.IterationStrategy, chain.IterationStrategy, agent.IterationStrategy)

	providerConfig, providerName, err := resolveLLMProvider(cfg, cfg.Defaults.LLMProvider, chain.LLMProvider, agent.LLMProvider)
	if err != nil {
		return nil, fmt.Errorf("agentconfig: resolve LLM provider for agent %q: %w", agent.Name, err)
	}

	maxIter := resolveMaxIterations(cfg.Defaults.MaxIterations, agentDef.MaxIterations, chain.MaxIterations, stage.MaxIterations, agent.MaxIterations)

	mcpServers := agentDef.MCPServers
	if len(chain.MCPServers) > 0 {
		mcpServers = chain.MCPServers
	}
	if len(stage.MCPServers) > 0 {
		mcpServers = stage.MCPServers
	}
	if len(agent.MCPServers) > 0 {
		mcpServers = agent.MCPServers
	}

	return &Resolved{
		AgentName:           agent.Name,
		Type:                agentDef.Type,
		IterationStrategy:   strategy,
		LLMProvider:         providerConfig,
		LLMProviderName:     providerName,
		MaxIterations:       maxIter,
		IterationTimeout:    DefaultIterationTimeout,
		MCPServers:          mcpServers,
		CustomInstructions:  agentDef.CustomInstructions,
		NativeToolsOverride: mergeNativeTools(providerConfig, agentDef.NativeTools),
	}, nil
}

// ResolveChatProviderName returns the LLM provider name a chat session would
// use, without resolving the full agent definition. Used for audit-trail or
// error-path records built before (or instead of) a full ResolveChat call.
func ResolveChatProviderName(defaults *config.Defaults, chain *config.ChainConfig, chat *config.ChatConfig) string {
	name := defaults.LLMProvider
	if chain != nil && chain.LLMProvider != "" {
		name = chain.LLMProvider
	}
	if chat != nil && chat.LLMProvider != "" {
		name = chat.LLMProvider
	}
	return name
}

// ResolveChat resolves the agent that answers chat follow-up questions
// about a completed session. Agent name defaults to "ChatAgent"; MCP
// servers fall back to the union of every investigation stage's tools when
// the chain and chat config don't name their own.
func ResolveChat(cfg *config.Config, chain *config.ChainConfig, chat *config.ChatConfig) (*Resolved, error) {
	if chain == nil {
		return nil, fmt.Errorf("agentconfig: chain is nil")
	}

	agentName := "ChatAgent"
	if chat.Agent != "" {
		agentName = chat.Agent
	}

	agentDef, err := cfg.GetAgent(agentName)
	if err != nil {
		return nil, fmt.Errorf("agentconfig: resolve chat agent %q: %w", agentName, err)
	}

	strategy := resolveIterationStrategy(cfg.Defaults.IterationStrategy, agentDef.IterationStrategy, chain.IterationStrategy, chat.IterationStrategy)

	providerConfig, providerName, err := resolveLLMProvider(cfg, cfg.Defaults.LLMProvider, chain.LLMProvider, chat.LLMProvider)
	if err != nil {
		return nil, fmt.Errorf("agentconfig: resolve LLM provider for chat agent %q: %w", agentName, err)
	}

	maxIter := resolveMaxIterations(cfg.Defaults.MaxIterations, agentDef.MaxIterations, chain.MaxIterations, chat.MaxIterations)

	mcpServers := agentDef.MCPServers
	if len(chain.MCPServers) > 0 {
		mcpServers = chain.MCPServers
	} else {
		mcpServers = AggregateChainMCPServers(cfg, chain)
	}
	if len(chat.MCPServers) > 0 {
		mcpServers = chat.MCPServers
	}

	return &Resolved{
		AgentName:           agentName,
		Type:                agentDef.Type,
		IterationStrategy:   strategy,
		LLMProvider:         providerConfig,
		LLMProviderName:     providerName,
		MaxIterations:       maxIter,
		IterationTimeout:    DefaultIterationTimeout,
		MCPServers:          mcpServers,
		CustomInstructions:  agentDef.CustomInstructions,
		NativeToolsOverride: mergeNativeTools(providerConfig, agentDef.NativeTools),
	}, nil
}

// ResolveScoring resolves the agent that scores a completed session.
// Unlike Resolve/ResolveChat, the chain-level iteration strategy is
// excluded: a chain's IterationStrategy targets its investigation agents,
// not the scoring pass that runs after them. MCP servers are likewise
// resolved from only the agent definition, the chain's own override, and
// the scoring config — never aggregated across investigation stages,
// since scoring isn't part of the investigation itself.
func ResolveScoring(cfg *config.Config, chain *config.ChainConfig, scoring *config.ScoringConfig) (*Resolved, error) {
	if chain == nil {
		return nil, fmt.Errorf("agentconfig: chain is nil")
	}

	agentName := "ScoringAgent"
	if cfg.Defaults.ScoringAgent != "" {
		agentName = cfg.Defaults.ScoringAgent
	}
	if scoring.Agent != "" {
		agentName = scoring.Agent
	}

	agentDef, err := cfg.GetAgent(agentName)
	if err != nil {
		return nil, fmt.Errorf("agentconfig: resolve scoring agent %q: %w", agentName, err)
	}

	strategy := resolveIterationStrategy(cfg.Defaults.IterationStrategy, agentDef.IterationStrategy, scoring.IterationStrategy)

	providerConfig, providerName, err := resolveLLMProvider(cfg, cfg.Defaults.LLMProvider, chain.LLMProvider, scoring.LLMProvider)
	if err != nil {
		return nil, fmt.Errorf("agentconfig: resolve LLM provider for scoring agent %q: %w", agentName, err)
	}

	maxIter := resolveMaxIterations(cfg.Defaults.MaxIterations, agentDef.MaxIterations, chain.MaxIterations, scoring.MaxIterations)

	mcpServers := agentDef.MCPServers
	if len(chain.MCPServers) > 0 {
		mcpServers = chain.MCPServers
	}
	if len(scoring.MCPServers) > 0 {
		mcpServers = scoring.MCPServers
	}

	return &Resolved{
		AgentName:           agentName,
		Type:                agentDef.Type,
		IterationStrategy:   strategy,
		LLMProvider:         providerConfig,
		LLMProviderName:     providerName,
		MaxIterations:       maxIter,
		IterationTimeout:    DefaultIterationTimeout,
		MCPServers:          mcpServers,
		CustomInstructions:  agentDef.CustomInstructions,
		NativeToolsOverride: mergeNativeTools(providerConfig, agentDef.NativeTools),
	}, nil
}

// AggregateChainMCPServers returns the deduplicated union of every MCP
// server referenced anywhere in the chain: each stage's own override plus
// every agent (by its registered definition) that stage invokes. Used to
// give a chat agent the same toolset the investigation as a whole had
// access to when neither the chain nor the chat config names its own.
func AggregateChainMCPServers(cfg *config.Config, chain *config.ChainConfig) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(servers []string) {
		for _, s := range servers {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}

	for _, stage := range chain.Stages {
		add(stage.MCPServers)
		for _, ag := range stage.Agents {
			add(ag.MCPServers)
			if agentDef, err := cfg.GetAgent(ag.Name); err == nil {
				add(agentDef.MCPServers)
			}
		}
	}
	return out
}

// resolveIterationStrategy returns the last non-empty strategy in the
// given override order.
func resolveIterationStrategy(overrides ...config.IterationStrategy) config.IterationStrategy {
	var result config.IterationStrategy
	for _, s := range overrides {
		if s != "" {
			result = s
		}
	}
	return result
}

// resolveLLMProvider returns the last non-empty provider name in the given
// override order, looked up against the registry.
func resolveLLMProvider(cfg *config.Config, names ...string) (*config.LLMProviderConfig, string, error) {
	var name string
	for _, n := range names {
		if n != "" {
			name = n
		}
	}
	if name == "" {
		return nil, "", fmt.Errorf("no LLM provider configured at any override level")
	}
	provider, err := cfg.GetLLMProvider(name)
	if err != nil {
		return nil, name, err
	}
	return provider, name, nil
}

// resolveMaxIterations returns the last non-nil value in the given override
// order, defaulting to DefaultMaxIterations when every level is unset.
func resolveMaxIterations(overrides ...*int) int {
	result := DefaultMaxIterations
	for _, v := range overrides {
		if v != nil {
			result = *v
		}
	}
	return result
}

// mergeNativeTools combines the provider's native-tools defaults with the
// agent's per-key overrides: agent keys win, missing keys fall through to
// the provider. Returns nil when neither side declares anything.
func mergeNativeTools(provider *config.LLMProviderConfig, agentOverride map[config.NativeTool]bool) map[string]bool {
	if provider == nil && len(agentOverride) == 0 {
		return nil
	}
	merged := make(map[string]bool, len(agentOverride))
	if provider != nil {
		for k, v := range provider.NativeTools {
			merged[string(k)] = v
		}
	}
	for k, v := range agentOverride {
		merged[string(k)] = v
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}
