package controller

import (
	"fmt"
	"strings"

	"github.com/tarsy-chain/tarsy/pkg/llmclient"
)

// buildSystemPrompt assembles the system message every controller starts
// with: the agent's general instructions plus optional custom instructions,
// grounded on the teacher's prompt.Builder composing "general instructions"
// + "custom instructions" (pkg/agent/prompt/builder.go, pkg/agent/prompt/
// instructions.go) — simplified here to plain string concatenation since
// pkg/agentconfig (not this package) owns prompt template resolution.
func buildSystemPrompt(sc *StageContext) string {
	var sb strings.Builder
	sb.WriteString(sc.SystemPrompt)
	if sc.CustomInstructions != "" {
		sb.WriteString("\n\n")
		sb.WriteString(sc.CustomInstructions)
	}
	return sb.String()
}

// buildInitialUserMessage assembles the first user turn: the alert payload
// plus, when present, prior parallel stages' formatted output. Shared by all
// three controllers — ReAct uses it to seed the tool loop, Synthesis and
// Native-Thinking use it as their one and only user turn.
func buildInitialUserMessage(sc *StageContext) string {
	var sb strings.Builder
	if sc.PreviousStageOutputs != "" {
		sb.WriteString("## Investigation Results from Previous Stages\n\n")
		sb.WriteString(sc.PreviousStageOutputs)
		sb.WriteString("\n\n")
	}
	sb.WriteString("## Alert\n\n")
	sb.WriteString(sc.AlertPayload)
	return sb.String()
}

// buildToolCatalog renders the tools available to a ReAct stage into system
// prompt text, since spec.md's ReAct controller parses tool calls from
// plain text rather than binding native tool-use blocks — the assistant
// must be told what's callable and how via the prompt, not a schema the
// provider enforces. Grounded on the teacher's prompt/tools.go.
func buildToolCatalog(toolsByServer map[string][]string) string {
	if len(toolsByServer) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Available Tools\n\n")
	sb.WriteString("To call a tool, respond with ONLY a JSON array of objects, each shaped as:\n")
	sb.WriteString(`{"server": "<server>", "tool": "<tool>", "parameters": {...}, "reason": "<why>"}`)
	sb.WriteString("\n\nWhen you have enough information, respond with plain text containing your final analysis " +
		"instead of a tool-call array.\n\n")
	for server, tools := range toolsByServer {
		sb.WriteString(fmt.Sprintf("### %s\n", server))
		for _, tool := range tools {
			sb.WriteString(fmt.Sprintf("- %s\n", tool))
		}
	}
	return sb.String()
}

// formatToolResultsForConversation renders one iteration's tool results as
// a single user-turn observation, in call order, so the LLM sees results
// grouped with the calls that produced them.
func formatToolResultsForConversation(results []toolCallOutcome) string {
	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		status := "ok"
		if r.IsError {
			status = "error"
		}
		sb.WriteString(fmt.Sprintf("Observation [%s.%s, %s]: %s", r.Call.Server, r.Call.Tool, status, r.Content))
	}
	return sb.String()
}

// toolCallOutcome pairs a dispatched ToolCall with its result, used to build
// the next conversation turn and to record the LLM interaction's
// ToolCalls/ToolResults fields.
type toolCallOutcome struct {
	Call    ToolCall
	Content string
	IsError bool
}

func userMessage(content string) llmclient.Message {
	return llmclient.Message{Role: llmclient.RoleUser, Content: content}
}

func assistantMessage(content string) llmclient.Message {
	return llmclient.Message{Role: llmclient.RoleAssistant, Content: content}
}

func systemMessage(content string) llmclient.Message {
	return llmclient.Message{Role: llmclient.RoleSystem, Content: content}
}
