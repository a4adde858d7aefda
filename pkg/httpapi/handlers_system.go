package httpapi

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// systemWarningsHandler handles GET /api/v1/system/warnings, wiring
// pkg/warnings.Registry.List per spec.md §6.
func (s *Server) systemWarningsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.warningsReg.List())
}

// mcpServerInfo is one entry of GET /system/mcp-servers' response:
// configuration plus a best-effort live tool list.
type mcpServerInfo struct {
	ServerID string   `json:"server_id"`
	Type     string   `json:"type"`
	Tools    []string `json:"tools,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// mcpServersHandler handles GET /api/v1/system/mcp-servers: every
// configured server plus its tools (fetched live if an MCP client is
// wired; a fetch failure surfaces per-server as an "error" field rather
// than failing the whole response, consistent with spec.md §7's warnings
// policy of never failing the request that triggered them).
func (s *Server) mcpServersHandler(c *echo.Context) error {
	servers := s.cfg.MCPServerRegistry.GetAll()
	out := make([]mcpServerInfo, 0, len(servers))

	for id, cfg := range servers {
		info := mcpServerInfo{ServerID: id, Type: string(cfg.Transport.Type)}
		if s.mcp != nil {
			tools, err := s.mcp.ListTools(c.Request().Context(), id)
			if err != nil {
				info.Error = err.Error()
			} else {
				for _, t := range tools {
					info.Tools = append(info.Tools, t.Name)
				}
			}
		}
		out = append(out, info)
	}

	return c.JSON(http.StatusOK, out)
}
