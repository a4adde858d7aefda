package httpapi

// alertResponse is the HTTP response for POST /alerts.
type alertResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// cancelStageResponse is the HTTP response for
// POST /sessions/{id}/stages/{stage_id}/cancel.
type cancelStageResponse struct {
	Success       bool   `json:"success"`
	SessionStatus string `json:"session_status"`
	StageStatus   string `json:"stage_status"`
}

// chatTurnResponse is the HTTP response for POST /chats and
// POST /chats/{id}/messages.
type chatTurnResponse struct {
	ChatID      string `json:"chat_id"`
	MessageID   string `json:"message_id"`
	ExecutionID string `json:"execution_id"`
}

// scoreResponse is the HTTP response for POST and GET /sessions/{id}/scores.
type scoreResponse struct {
	ScoreID              string  `json:"score_id"`
	SessionID            string  `json:"session_id"`
	Status               string  `json:"status"`
	TotalScore           *int    `json:"total_score,omitempty"`
	ScoreAnalysis        *string `json:"score_analysis,omitempty"`
	MissingToolsAnalysis *string `json:"missing_tools_analysis,omitempty"`
	Error                *string `json:"error,omitempty"`
	CurrentPromptUsed    bool    `json:"current_prompt_used"`
}
