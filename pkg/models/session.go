// Package models contains the plain domain entities persisted by pkg/store
// and exchanged between components. There is no ORM here: every entity is a
// plain struct with JSON tags, and every timestamp is an int64 of Unix
// microseconds (UTC), per the data model's explicit time resolution.
package models

// SessionStatus is the lifecycle status of a Session.
type SessionStatus string

const (
	SessionPending    SessionStatus = "pending"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
	SessionCancelled  SessionStatus = "cancelled"
)

// IsTerminal reports whether status is one of completed/failed/cancelled.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionCancelled:
		return true
	default:
		return false
	}
}

// Session is a single alert-triage investigation run. A session is created
// in SessionPending and claimed by exactly one pod (status=pending ->
// in_progress, pod_id=claimer) before any stage executes.
type Session struct {
	SessionID           string         `json:"session_id" db:"session_id"`
	AlertType            string         `json:"alert_type" db:"alert_type"`
	AlertPayload         string         `json:"alert_payload" db:"alert_payload"`
	Status               SessionStatus  `json:"status" db:"status"`
	ChainID              string         `json:"chain_id" db:"chain_id"`
	Author               *string        `json:"author,omitempty" db:"author"`
	RunbookURL           *string        `json:"runbook_url,omitempty" db:"runbook_url"`
	MCPSelection         map[string]any `json:"mcp_selection,omitempty" db:"mcp_selection"`
	SessionMetadata      map[string]any `json:"session_metadata,omitempty" db:"session_metadata"`
	CurrentStageIndex    *int           `json:"current_stage_index,omitempty" db:"current_stage_index"`
	FinalAnalysis        *string        `json:"final_analysis,omitempty" db:"final_analysis"`
	ExecutiveSummary     *string        `json:"executive_summary,omitempty" db:"executive_summary"`
	StartedAtUs          int64          `json:"started_at_us" db:"started_at_us"`
	CompletedAtUs        *int64         `json:"completed_at_us,omitempty" db:"completed_at_us"`
	PodID                *string        `json:"pod_id,omitempty" db:"pod_id"`
	LastInteractionAtUs  int64          `json:"last_interaction_at_us" db:"last_interaction_at_us"`
	Error                *string        `json:"error,omitempty" db:"error"`
	DeletedAtUs          *int64         `json:"deleted_at_us,omitempty" db:"deleted_at_us"`
}

// CreateSessionRequest contains the fields needed to submit a new alert.
type CreateSessionRequest struct {
	AlertType       string         `json:"alert_type"`
	AlertPayload    string         `json:"alert_payload"`
	ChainID         string         `json:"chain_id,omitempty"`
	Author          string         `json:"author,omitempty"`
	RunbookURL      string         `json:"runbook_url,omitempty"`
	MCPSelection    map[string]any `json:"mcp_selection,omitempty"`
	SessionMetadata map[string]any `json:"session_metadata,omitempty"`
}

// SessionFilters narrows a session listing query.
type SessionFilters struct {
	Status         SessionStatus `json:"status,omitempty"`
	AlertType      string        `json:"alert_type,omitempty"`
	ChainID        string        `json:"chain_id,omitempty"`
	Author         string        `json:"author,omitempty"`
	StartedAfterUs *int64        `json:"started_after_us,omitempty"`
	Limit          int           `json:"limit,omitempty"`
	Offset         int           `json:"offset,omitempty"`
	IncludeDeleted bool          `json:"include_deleted,omitempty"`
}

// SessionListResponse is a paginated session listing.
type SessionListResponse struct {
	Sessions   []*Session `json:"sessions"`
	TotalCount int        `json:"total_count"`
	Limit      int        `json:"limit"`
	Offset     int        `json:"offset"`
}
