package agentconfig

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tarsy-chain/tarsy/pkg/config"
)

// generalInstructions is Tier 1 for investigation agents (ReAct / native
// thinking, tools available).
const generalInstructions = `## General SRE Agent Instructions

You are an expert Site Reliability Engineer investigating a production alert. Draw on your knowledge of:
- Kubernetes and container orchestration
- Cloud infrastructure and managed services
- Incident response and root-cause analysis
- Monitoring, alerting, and GitOps practices

Base your analysis on the alert payload, any attached runbook, and real-time data you gather from the
tools available to you. Be specific, cite the data you observed, and end with concrete next steps.

## Evidence Transparency

- Distinguish what you learned from a tool call from what was already present in the alert payload.
- If a tool call fails or returns nothing useful, say so explicitly rather than proceeding as if it succeeded.
- Lower your confidence when most of your tool calls failed; state plainly that the analysis leans on the
  alert payload alone.
- Call out anything you could not verify and why.
- Never invent data, metrics, or observations that did not come from a tool result or the alert payload.`

// synthesisGeneralInstructions is Tier 1 for synthesis agents. It omits any
// mention of tools: synthesis combines prior stage output and never calls
// one itself.
const synthesisGeneralInstructions = `## General SRE Synthesis Instructions

You are an expert Site Reliability Engineer reviewing the results of one or more parallel investigations
into a production alert. Combine their findings, the original alert payload, and any runbook into a single
coherent analysis with clear next steps.

## Evaluating Investigation Quality

- Check whether each investigation actually gathered tool data, or mostly restated the alert payload.
- Note investigations that hit tool errors, empty results, or concluded without evidence.
- Lower your overall confidence if most investigations lacked real evidence, and say so.
- Flag anything the alert raises that no investigation was able to verify.`

// chatGeneralInstructions is Tier 1 for chat follow-up sessions.
const chatGeneralInstructions = `## Chat Assistant Instructions

You are an expert Site Reliability Engineer answering follow-up questions about a completed alert
investigation. Use the investigation history for context, and the same tools the investigation used to
gather fresh data when a question calls for current state. Keep the same professional SRE tone, and be
concise but thorough.`

// chatResponseGuidelines is appended after Tiers 2 and 3 for chat sessions.
const chatResponseGuidelines = `## Response Guidelines

1. Reference the investigation history where it is relevant context.
2. Use tools to gather current state when the question needs up-to-date information.
3. Ask for clarification in your final answer if the question is ambiguous.
4. Reference actual data and observations, not assumptions.
5. Be concise — the user has already read the full investigation.`

// synthesisNativeToolsGuidance is appended when the synthesis agent's LLM
// provider has Google Search or URL Context enabled. Synthesis has no MCP
// tools of its own, so native tools are never suppressed by a
// mutual-exclusivity constraint the way an investigation agent's might be.
const synthesisNativeToolsGuidance = `## Web Search and URL Context

You have access to web search and URL context lookup. Use them to check anything from the investigations
you are not fully certain about: unfamiliar processes, error messages, container images, or external
documentation links the investigations referenced. Prefer verified, current information over your own
internal knowledge when the two might disagree.`

// BuildSystemPrompt composes the Tier 1 + Tier 2 system prompt for an
// investigation, synthesis, or chat agent. Tier 3 (the agent's own
// CustomInstructions) is NOT included here: pkg/controller appends
// StageContext.CustomInstructions to StageContext.SystemPrompt itself, so
// callers set Resolved.CustomInstructions directly on the StageContext
// rather than folding it into this string.
//
// mcpServers is the resolved server whitelist for this invocation (already
// narrowed by session-level MCP selection overrides, if any);
// failedServers names servers that failed to initialize for this session,
// each mapped to a short reason, and produces an "Unavailable MCP Servers"
// warning section so the agent doesn't attempt to call them.
func BuildSystemPrompt(cfg *config.Config, resolved *Resolved, mcpServers []string, failedServers map[string]string) string {
	if resolved.Type == config.AgentTypeSynthesis {
		return composeSynthesisPrompt(resolved)
	}
	sections := []string{generalInstructions}
	sections = appendMCPInstructions(sections, cfg, mcpServers)
	sections = appendUnavailableServerWarnings(sections, failedServers)
	return strings.Join(sections, "\n\n")
}

// BuildChatSystemPrompt composes the system prompt for a chat follow-up
// agent: chat-specific Tier 1, Tier 2 MCP instructions, then the
// chat-specific response guidelines appended last.
func BuildChatSystemPrompt(cfg *config.Config, mcpServers []string, failedServers map[string]string) string {
	sections := []string{chatGeneralInstructions}
	sections = appendMCPInstructions(sections, cfg, mcpServers)
	sections = appendUnavailableServerWarnings(sections, failedServers)
	sections = append(sections, chatResponseGuidelines)
	return strings.Join(sections, "\n\n")
}

// composeSynthesisPrompt builds the synthesis system prompt: Tier 1
// (no MCP tier, synthesis has none) plus native-tools guidance when the
// resolved provider has Google Search or URL Context enabled.
func composeSynthesisPrompt(resolved *Resolved) string {
	sections := []string{synthesisGeneralInstructions}
	if hasNativeWebTools(resolved) {
		sections = append(sections, synthesisNativeToolsGuidance)
	}
	return strings.Join(sections, "\n\n")
}

// hasNativeWebTools reports whether the resolved agent's native-tools
// override (provider defaults merged with agent overrides) enables web
// search or URL context.
func hasNativeWebTools(resolved *Resolved) bool {
	if resolved == nil || resolved.NativeToolsOverride == nil {
		return false
	}
	return resolved.NativeToolsOverride[string(config.NativeToolWebSearch)] ||
		resolved.NativeToolsOverride[string(config.NativeToolURLContext)]
}

// appendMCPInstructions adds the Tier 2 per-server instructions block for
// every server in the whitelist that declares one in the registry.
func appendMCPInstructions(sections []string, cfg *config.Config, mcpServers []string) []string {
	for _, serverID := range mcpServers {
		serverConfig, err := cfg.GetMCPServer(serverID)
		if err != nil {
			continue
		}
		if serverConfig.Instructions != "" {
			sections = append(sections, "## "+serverID+" Instructions\n\n"+serverConfig.Instructions)
		}
	}
	return sections
}

// appendUnavailableServerWarnings adds a warning section naming any MCP
// servers that failed to initialize for this session, so the agent doesn't
// attempt to call their tools.
func appendUnavailableServerWarnings(sections []string, failedServers map[string]string) []string {
	if len(failedServers) == 0 {
		return sections
	}
	var sb strings.Builder
	sb.WriteString("## Unavailable MCP Servers\n\n")
	sb.WriteString("The following servers failed to initialize; their tools are NOT available:\n")
	keys := make([]string, 0, len(failedServers))
	for k := range failedServers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, serverID := range keys {
		sb.WriteString(fmt.Sprintf("- **%s**: %s\n", serverID, failedServers[serverID]))
	}
	sb.WriteString("\nDo not attempt to use tools from these servers.")
	return append(sections, sb.String())
}
