package httpapi

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/tarsy-chain/tarsy/pkg/models"
)

// sessionDetail is the HTTP response for GET /sessions/{id}: the session
// row plus its stage executions, per spec.md §6 ("detailed session incl.
// stages and interactions" — interactions are reached per-stage via the
// trace endpoints the distillation dropped; this module surfaces stage
// output directly on each StageExecution instead of a separate fetch).
type sessionDetail struct {
	*models.Session
	Stages []*models.StageExecution `json:"stages"`
}

// listSessionsHandler handles GET /api/v1/sessions?filter….
func (s *Server) listSessionsHandler(c *echo.Context) error {
	filters := models.SessionFilters{
		Status:    models.SessionStatus(c.QueryParam("status")),
		AlertType: c.QueryParam("alert_type"),
		ChainID:   c.QueryParam("chain_id"),
		Author:    c.QueryParam("author"),
		Limit:     50,
	}
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			filters.Limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filters.Offset = n
		}
	}

	sessions, err := s.sessions.List(c.Request().Context(), filters)
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, sessions)
}

// getSessionHandler handles GET /api/v1/sessions/:id.
func (s *Server) getSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	session, err := s.sessions.Get(c.Request().Context(), sessionID)
	if err != nil {
		return mapStoreError(err)
	}

	stages, err := s.stages.ListBySession(c.Request().Context(), sessionID)
	if err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusOK, &sessionDetail{Session: session, Stages: stages})
}

// cancelStageHandler handles POST /api/v1/sessions/:id/stages/:stage_id/cancel,
// wiring pkg/chain.Orchestrator.CancelStageExecution per spec.md §4.5's
// "cancelling one child does not cancel siblings."
func (s *Server) cancelStageHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	stageID := c.Param("stage_id")

	session, err := s.sessions.Get(c.Request().Context(), sessionID)
	if err != nil {
		return mapStoreError(err)
	}

	success := s.orchestrator.CancelStageExecution(sessionID, stageID)

	stageStatus := ""
	stages, err := s.stages.ListBySession(c.Request().Context(), sessionID)
	if err == nil {
		for _, st := range stages {
			if st.ExecutionID == stageID {
				stageStatus = string(st.Status)
				break
			}
		}
	}

	return c.JSON(http.StatusOK, &cancelStageResponse{
		Success:       success,
		SessionStatus: string(session.Status),
		StageStatus:   stageStatus,
	})
}
