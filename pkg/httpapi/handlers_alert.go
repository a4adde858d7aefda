package httpapi

import (
	"fmt"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/tarsy-chain/tarsy/pkg/models"
)

// submitAlertHandler handles POST /api/v1/alerts. Creates a pending
// session and returns immediately — pkg/sessionqueue picks it up
// asynchronously. Grounded on the teacher's submitAlertHandler
// (pkg/api/handler_alert.go).
func (s *Server) submitAlertHandler(c *echo.Context) error {
	var req submitAlertRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.AlertPayload == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "alert_payload is required")
	}
	if len(req.AlertPayload) > maxAlertDataSize {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("alert_payload exceeds maximum size of %d bytes", maxAlertDataSize))
	}

	chainID := req.ChainID
	if chainID == "" {
		id, err := s.cfg.ChainRegistry.GetIDByAlertType(req.AlertType)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "no chain configured for alert_type "+req.AlertType)
		}
		chainID = id
	}

	if err := s.validateMCPSelection(req.MCPSelection); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	session, err := s.sessions.Create(c.Request().Context(), models.CreateSessionRequest{
		AlertType:       req.AlertType,
		AlertPayload:    req.AlertPayload,
		ChainID:         chainID,
		Author:          identityFromContext(c),
		RunbookURL:      req.RunbookURL,
		MCPSelection:    req.MCPSelection,
		SessionMetadata: req.SessionMetadata,
	})
	if err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusAccepted, &alertResponse{
		SessionID: session.SessionID,
		Status:    "queued",
		Message:   "Alert submitted for processing",
	})
}

// validateMCPSelection rejects an mcp_selection override naming a server
// this deployment's configuration doesn't register, the same check
// pkg/chain and pkg/chatservice apply at stage-resolution time — caught
// here too so a bad request fails fast with a 400 instead of running the
// session to a configuration error later.
func (s *Server) validateMCPSelection(selection map[string]any) error {
	if len(selection) == 0 || s.cfg.MCPServerRegistry == nil {
		return nil
	}
	rawServers, ok := selection["servers"].([]any)
	if !ok {
		return nil
	}
	for _, raw := range rawServers {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := entry["name"].(string)
		if name != "" && !s.cfg.MCPServerRegistry.Has(name) {
			return fmt.Errorf("mcp server %q not found in configuration", name)
		}
	}
	return nil
}
