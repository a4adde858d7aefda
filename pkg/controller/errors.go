package controller

import "fmt"

// ToolSelectionError wraps a malformed tool-call parse, per spec.md §4.3(c):
// "if parse fails, surface a ToolSelectionError to the LLM as the next user
// message so it can self-correct." It is never returned from Execute —
// ReAct catches it and turns it into conversation feedback.
type ToolSelectionError struct {
	Raw    string // the assistant text that failed to parse
	Reason string
}

func (e *ToolSelectionError) Error() string {
	return fmt.Sprintf("tool selection error: %s", e.Reason)
}

// ToolExecutionError wraps one failed tool call, per spec.md §4.3(d):
// "errors become ToolExecutionError and are appended to the conversation as
// tool results rather than propagated." Never returned from Execute.
type ToolExecutionError struct {
	Server string
	Tool   string
	Cause  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool execution error: %s.%s: %s", e.Server, e.Tool, e.Cause)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Cause
}

// IterationLimitError is raised when ReAct exhausts max_iterations without
// the assistant emitting a final answer. Per spec.md §4.3, the caller still
// gets a best-available answer — this error annotates Result via
// Result.IterationLimitReached rather than being returned to the stage
// executor as a hard failure.
type IterationLimitError struct {
	MaxIterations int
}

func (e *IterationLimitError) Error() string {
	return fmt.Sprintf("iteration limit reached: %d", e.MaxIterations)
}
