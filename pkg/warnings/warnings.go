// Package warnings tracks non-fatal system issues (missing optional config,
// MCP servers that failed to start, etc.) so they can be surfaced via
// GET /system/warnings without ever failing the request that triggered them.
package warnings

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Warning category constants.
const (
	CategoryMCPHealth        = "mcp_health"        // an MCP server is unhealthy or failed to start
	CategoryConfig           = "config"             // a non-fatal configuration issue (missing optional field, deprecated setting)
	CategoryScoring          = "scoring"            // a scoring attempt could not be started or completed
	CategoryExecutiveSummary = "executive_summary"  // executive summary generation failed (session still completes)
)

// Warning is a single non-fatal system issue.
type Warning struct {
	WarningID   string `json:"warning_id"`
	Category    string `json:"category"`
	Message     string `json:"message"`
	Details     string `json:"details,omitempty"`
	ServerID    string `json:"server_id,omitempty"`
	TimestampUs int64  `json:"timestamp"`
}

// Registry is an in-memory, thread-safe collection of active system
// warnings. Not persisted — warnings are transient and reset on restart,
// grounded on the teacher's SystemWarningsService.
type Registry struct {
	mu       sync.RWMutex
	warnings map[string]*Warning
}

// NewRegistry creates an empty warnings registry.
func NewRegistry() *Registry {
	return &Registry{warnings: make(map[string]*Warning)}
}

// Register records a warning and returns its ID. A warning with the same
// category+serverID is replaced rather than duplicated, so a flapping MCP
// server doesn't pile up stale entries.
func (r *Registry) Register(category, message, details, serverID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, w := range r.warnings {
		if w.Category == category && w.ServerID == serverID {
			delete(r.warnings, id)
			break
		}
	}

	id := uuid.NewString()
	r.warnings[id] = &Warning{
		WarningID:   id,
		Category:    category,
		Message:     message,
		Details:     details,
		ServerID:    serverID,
		TimestampUs: time.Now().UnixMicro(),
	}
	return id
}

// List returns all active warnings as value copies, ordered by TimestampUs.
func (r *Registry) List() []*Warning {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Warning, 0, len(r.warnings))
	for _, w := range r.warnings {
		cp := *w
		out = append(out, &cp)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].TimestampUs > out[j].TimestampUs; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// ClearByServer removes a warning matching category+serverID, e.g. when an
// MCP server recovers. Returns true if a warning was removed.
func (r *Registry) ClearByServer(category, serverID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, w := range r.warnings {
		if w.Category == category && w.ServerID == serverID {
			delete(r.warnings, id)
			return true
		}
	}
	return false
}
