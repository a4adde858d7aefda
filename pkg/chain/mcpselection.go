package chain

import (
	"encoding/json"
	"fmt"

	"github.com/tarsy-chain/tarsy/pkg/agentconfig"
	"github.com/tarsy-chain/tarsy/pkg/config"
	"github.com/tarsy-chain/tarsy/pkg/models"
)

// mcpSelectionOverride is a session's caller-supplied MCP override
// (models.Session.MCPSelection), replacing rather than merging with the
// chain's own MCP server list. Grounded on the teacher's
// ParseMCPSelectionConfig / resolveMCPSelection (pkg/queue/executor.go).
type mcpSelectionOverride struct {
	Servers     []mcpServerSelection `json:"servers"`
	NativeTools map[string]bool      `json:"native_tools,omitempty"`
}

type mcpServerSelection struct {
	Name  string   `json:"name"`
	Tools []string `json:"tools,omitempty"`
}

// resolveMCPSelection determines the MCP servers and tool filter an agent
// runs with. A session-level mcp_selection override replaces the resolved
// chain/stage/agent MCP server list entirely (not merged); when the override
// sets native tools, it also mutates resolved.NativeToolsOverride so the
// downstream LLM call picks it up, mirroring the teacher's side-effecting
// resolveMCPSelection.
func resolveMCPSelection(session *models.Session, resolved *agentconfig.Resolved, mcpRegistry *config.MCPServerRegistry) ([]string, map[string][]string, error) {
	if len(session.MCPSelection) == 0 {
		return resolved.MCPServers, nil, nil
	}

	raw, err := json.Marshal(session.MCPSelection)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling mcp_selection: %w", err)
	}

	var override mcpSelectionOverride
	if err := json.Unmarshal(raw, &override); err != nil {
		return nil, nil, fmt.Errorf("parsing mcp_selection: %w", err)
	}
	if len(override.Servers) == 0 {
		return resolved.MCPServers, nil, nil
	}

	serverIDs := make([]string, 0, len(override.Servers))
	toolFilter := make(map[string][]string)
	for _, sel := range override.Servers {
		if mcpRegistry != nil && !mcpRegistry.Has(sel.Name) {
			return nil, nil, fmt.Errorf("%w: mcp server %q from override not found in configuration", ErrConfiguration, sel.Name)
		}
		serverIDs = append(serverIDs, sel.Name)
		if len(sel.Tools) > 0 {
			toolFilter[sel.Name] = sel.Tools
		}
	}
	if len(toolFilter) == 0 {
		toolFilter = nil
	}

	if override.NativeTools != nil {
		resolved.NativeToolsOverride = override.NativeTools
	}

	return serverIDs, toolFilter, nil
}
