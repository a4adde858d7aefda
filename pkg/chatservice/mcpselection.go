package chatservice

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tarsy-chain/tarsy/pkg/agentconfig"
	"github.com/tarsy-chain/tarsy/pkg/config"
	"github.com/tarsy-chain/tarsy/pkg/models"
)

// ErrConfiguration classifies a session's mcp_selection override naming a
// server this chain's configuration doesn't register.
var ErrConfiguration = errors.New("chatservice: configuration error")

// mcpSelectionOverride mirrors pkg/chain's unexported override shape. A
// chat turn should respect the same session-level MCP restriction the
// original investigation ran under, so this is a deliberate small
// duplicate of pkg/chain/mcpselection.go's resolveMCPSelection rather than
// an export from that package — see DESIGN.md.
type mcpSelectionOverride struct {
	Servers     []mcpServerSelection `json:"servers"`
	NativeTools map[string]bool      `json:"native_tools,omitempty"`
}

type mcpServerSelection struct {
	Name  string   `json:"name"`
	Tools []string `json:"tools,omitempty"`
}

// resolveMCPSelection narrows the chat agent's resolved MCP server list to
// a session's mcp_selection override, if one was set when the alert was
// submitted. Unlike pkg/chain's stage-time resolution, a chat turn never
// mutates resolved.NativeToolsOverride in place from a shared caller-owned
// struct the way pkg/chain does — agentconfig.ResolveChat returns a fresh
// *Resolved per call, so mutating it here is safe and has no caller-visible
// side effect beyond this one request.
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
