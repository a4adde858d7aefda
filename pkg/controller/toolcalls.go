package controller

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ToolCall is one parsed entry from the assistant's tool-call JSON array,
// matching spec.md §9's strict schema: "{server: string, tool: string,
// parameters: object, reason: string}".
type ToolCall struct {
	Server     string         `json:"server"`
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
	Reason     string         `json:"reason"`
}

// key identifies a tool call for the dedup tie-break in spec.md §4.3: "if
// the same (server, tool) appears twice in one iteration with identical
// arguments, it is deduplicated before dispatch".
func (c ToolCall) key() string {
	args, _ := json.Marshal(c.Parameters)
	return c.Server + "\x00" + c.Tool + "\x00" + string(args)
}

// ParseToolCalls extracts a JSON array of tool calls from the assistant's
// response text. Unlike the teacher's forgiving, multi-tier ReAct text
// parser (controller/react_parser.go), spec.md §9 calls for a strict schema
// validated at parse time — a response either contains a well-formed JSON
// array of tool calls, or it doesn't and is treated as a final answer.
//
// The assistant is expected to emit the array as the entirety of its
// response, optionally wrapped in a fenced code block (```json ... ```),
// since that's how the system prompt instructs it. No array found at all
// (plain prose, no brackets) means "final answer", not a parse error —
// only a response that LOOKS like it's attempting a tool-call array but
// fails to parse raises a ToolSelectionError.
func ParseToolCalls(text string) ([]ToolCall, bool, error) {
	candidate := extractJSONArray(text)
	if candidate == "" {
		return nil, false, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
		return nil, true, &ToolSelectionError{Raw: text, Reason: fmt.Sprintf("invalid JSON array: %s", err)}
	}

	calls := make([]ToolCall, 0, len(raw))
	for i, item := range raw {
		var call ToolCall
		if err := json.Unmarshal(item, &call); err != nil {
			return nil, true, &ToolSelectionError{Raw: text, Reason: fmt.Sprintf("entry %d is not a tool call object: %s", i, err)}
		}
		if call.Server == "" || call.Tool == "" {
			return nil, true, &ToolSelectionError{Raw: text, Reason: fmt.Sprintf("entry %d missing required server/tool fields", i)}
		}
		calls = append(calls, call)
	}
	return calls, true, nil
}

// extractJSONArray finds the first top-level JSON array in text, stripping
// a surrounding ```json fenced block if present. Returns "" if no array
// delimiter is found at all.
func extractJSONArray(text string) string {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	start := strings.Index(trimmed, "[")
	if start == -1 {
		return ""
	}
	end := strings.LastIndex(trimmed, "]")
	if end == -1 || end < start {
		return ""
	}
	return trimmed[start : end+1]
}

// DedupToolCalls drops later duplicates whose (server, tool, parameters)
// triple exactly matches an earlier call in the same batch, per spec.md
// §4.3's tie-break rule. Order of first occurrence is preserved.
func DedupToolCalls(calls []ToolCall) []ToolCall {
	seen := make(map[string]bool, len(calls))
	result := make([]ToolCall, 0, len(calls))
	for _, c := range calls {
		k := c.key()
		if seen[k] {
			continue
		}
		seen[k] = true
		result = append(result, c)
	}
	return result
}
