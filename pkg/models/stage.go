package models

// StageExecutionStatus is the lifecycle status of a StageExecution.
type StageExecutionStatus string

const (
	StageExecutionPending   StageExecutionStatus = "pending"
	StageExecutionActive    StageExecutionStatus = "active"
	StageExecutionCompleted StageExecutionStatus = "completed"
	StageExecutionFailed    StageExecutionStatus = "failed"
	StageExecutionCancelled StageExecutionStatus = "cancelled"
)

// ParallelType describes how a stage's executions fan out.
//
//   - single:      one agent, no parent/child relation
//   - multi_agent: N distinct agents, all must report in before the parent
//                  stage resolves
//   - replica:     N replicas of the same agent racing for a single answer;
//                  first success resolves the parent unless every replica
//                  is cancelled (see pkg/chain/join.go)
type ParallelType string

const (
	ParallelSingle     ParallelType = "single"
	ParallelMultiAgent ParallelType = "multi_agent"
	ParallelReplica    ParallelType = "replica"
)

// SuccessPolicy governs how a multi_agent/replica parent derives its status
// from its children: "all" requires every child to complete, "any" resolves
// as soon as one child completes.
type SuccessPolicy string

const (
	SuccessPolicyAll SuccessPolicy = "all"
	SuccessPolicyAny SuccessPolicy = "any"
)

// StageExecution is one agent's execution of one chain stage. Fan-out stages
// (multi_agent/replica) are modeled as sibling StageExecution rows sharing a
// ParentStageExecutionID; the parent row's own status is derived from its
// children rather than written directly (see pkg/chain's join logic).
type StageExecution struct {
	ExecutionID             string               `json:"execution_id" db:"execution_id"`
	SessionID               string               `json:"session_id" db:"session_id"`
	StageIndex              int                  `json:"stage_index" db:"stage_index"`
	StageName               string               `json:"stage_name" db:"stage_name"`
	Agent                   string               `json:"agent" db:"agent"`
	IterationStrategy       string               `json:"iteration_strategy" db:"iteration_strategy"`
	Status                  StageExecutionStatus `json:"status" db:"status"`
	StartedAtUs             *int64               `json:"started_at_us,omitempty" db:"started_at_us"`
	CompletedAtUs           *int64               `json:"completed_at_us,omitempty" db:"completed_at_us"`
	DurationMs              *int64               `json:"duration_ms,omitempty" db:"duration_ms"`
	ParentStageExecutionID  *string              `json:"parent_stage_execution_id,omitempty" db:"parent_stage_execution_id"`
	ParallelIndex           int                  `json:"parallel_index" db:"parallel_index"`
	ParallelType            ParallelType         `json:"parallel_type" db:"parallel_type"`
	SuccessPolicy           *SuccessPolicy       `json:"success_policy,omitempty" db:"success_policy"`
	StageOutput             *string              `json:"stage_output,omitempty" db:"stage_output"`
	Error                   *string              `json:"error,omitempty" db:"error"`
	ChatID                  *string              `json:"chat_id,omitempty" db:"chat_id"`
	ChatUserMessageID       *string              `json:"chat_user_message_id,omitempty" db:"chat_user_message_id"`
}

// IsTerminal reports whether status is one of completed/failed/cancelled.
func (s StageExecutionStatus) IsTerminal() bool {
	switch s {
	case StageExecutionCompleted, StageExecutionFailed, StageExecutionCancelled:
		return true
	default:
		return false
	}
}

// CreateStageExecutionRequest contains the fields needed to insert a new
// stage execution row (a parent placeholder, or one of its children).
type CreateStageExecutionRequest struct {
	SessionID              string
	StageIndex             int
	StageName              string
	Agent                  string
	IterationStrategy      string
	ParentStageExecutionID *string
	ParallelIndex          int
	ParallelType           ParallelType
	SuccessPolicy          *SuccessPolicy
	ChatID                 *string
	ChatUserMessageID      *string
}

// UpdateStageExecutionStatusRequest transitions a stage execution's status,
// optionally stamping completion and recording output/error.
type UpdateStageExecutionStatusRequest struct {
	Status      StageExecutionStatus
	StageOutput *string
	Error       *string
}
