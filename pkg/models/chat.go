package models

// Chat is the metadata row for a session's follow-up conversation. A session
// has at most one chat (session_id is unique).
type Chat struct {
	ChatID              string  `json:"chat_id" db:"chat_id"`
	SessionID           string  `json:"session_id" db:"session_id"`
	CreatedAtUs         int64   `json:"created_at_us" db:"created_at_us"`
	CreatedBy           *string `json:"created_by,omitempty" db:"created_by"`
	ChainID             string  `json:"chain_id" db:"chain_id"`
	PodID               *string `json:"pod_id,omitempty" db:"pod_id"`
	LastInteractionAtUs int64   `json:"last_interaction_at_us" db:"last_interaction_at_us"`
}

// CreateChatRequest contains the fields needed to open a session's chat.
type CreateChatRequest struct {
	SessionID string
	CreatedBy string
}

// ChatUserMessage is one append-only user question within a chat. Messages
// are ordered by insertion (CreatedAtUs, ties broken by MessageID).
type ChatUserMessage struct {
	MessageID           string  `json:"message_id" db:"message_id"`
	ChatID               string `json:"chat_id" db:"chat_id"`
	Content              string `json:"content" db:"content"`
	Author               string `json:"author" db:"author"`
	CreatedAtUs          int64  `json:"created_at_us" db:"created_at_us"`
	ResponseExecutionID *string `json:"response_execution_id,omitempty" db:"response_execution_id"`
}

// AddChatMessageRequest contains the fields needed to add a user message to
// a chat and kick off its response stage.
type AddChatMessageRequest struct {
	ChatID  string
	Content string
	Author  string
}
