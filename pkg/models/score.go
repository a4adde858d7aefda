package models

// SessionScoreStatus is the lifecycle status of a SessionScore.
type SessionScoreStatus string

const (
	SessionScorePending    SessionScoreStatus = "pending"
	SessionScoreInProgress SessionScoreStatus = "in_progress"
	SessionScoreCompleted  SessionScoreStatus = "completed"
	SessionScoreFailed     SessionScoreStatus = "failed"
	SessionScoreCancelled  SessionScoreStatus = "cancelled"
)

// SessionScore is a follow-up LLM-judged quality assessment of a completed
// session. The store enforces a partial-unique invariant: at most one row
// per session_id whose status is pending or in_progress — a second score
// can only be triggered once the prior one reaches a terminal state.
type SessionScore struct {
	ScoreID               string             `json:"score_id" db:"score_id"`
	SessionID             string             `json:"session_id" db:"session_id"`
	PromptHash            *string            `json:"prompt_hash,omitempty" db:"prompt_hash"`
	TotalScore            *int               `json:"total_score,omitempty" db:"total_score"`
	ScoreAnalysis         *string            `json:"score_analysis,omitempty" db:"score_analysis"`
	MissingToolsAnalysis  *string            `json:"missing_tools_analysis,omitempty" db:"missing_tools_analysis"`
	ScoreTriggeredBy      string             `json:"score_triggered_by" db:"score_triggered_by"`
	Status                SessionScoreStatus `json:"status" db:"status"`
	StartedAtUs           int64              `json:"started_at_us" db:"started_at_us"`
	CompletedAtUs         *int64             `json:"completed_at_us,omitempty" db:"completed_at_us"`
	Error                 *string            `json:"error,omitempty" db:"error"`
}

// CurrentPromptUsed reports whether this score was produced with the judge
// prompt currently in force, by comparing PromptHash against the operator's
// configured current hash (see pkg/scoring).
func (s *SessionScore) CurrentPromptUsed(currentHash string) bool {
	return s.PromptHash != nil && *s.PromptHash == currentHash
}

// CreateSessionScoreRequest contains the fields needed to trigger a session
// score.
type CreateSessionScoreRequest struct {
	SessionID        string
	ScoreTriggeredBy string
}
