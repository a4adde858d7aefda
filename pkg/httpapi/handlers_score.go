package httpapi

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/tarsy-chain/tarsy/pkg/models"
	"github.com/tarsy-chain/tarsy/pkg/store"
)

// triggerScoreHandler handles POST /api/v1/sessions/:id/scores
// {force_rescore?}. Without force_rescore, a completed score already
// graded under the judge prompts currently in force is returned as-is
// rather than re-run — scoring is deterministic enough, and costly enough
// in LLM calls, that a repeat request shouldn't silently re-score.
func (s *Server) triggerScoreHandler(c *echo.Context) error {
	sessionID := c.Param("id")

	var req triggerScoreRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	session, err := s.sessions.Get(c.Request().Context(), sessionID)
	if err != nil {
		return mapStoreError(err)
	}

	if !req.ForceRescore {
		if existing, err := s.scoreSvc.Latest(c.Request().Context(), sessionID); err == nil {
			if existing.Status == models.SessionScoreCompleted && existing.CurrentPromptUsed(s.scoreSvc.PromptHash()) {
				return c.JSON(http.StatusOK, toScoreResponse(existing, s.scoreSvc.PromptHash()))
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			return mapStoreError(err)
		}
	}

	row, err := s.scoreSvc.Trigger(c.Request().Context(), session, identityFromContext(c))
	if err != nil {
		return mapScoreError(err)
	}

	return c.JSON(http.StatusAccepted, toScoreResponse(row, s.scoreSvc.PromptHash()))
}

// getScoreHandler handles GET /api/v1/sessions/:id/scores.
func (s *Server) getScoreHandler(c *echo.Context) error {
	sessionID := c.Param("id")

	row, err := s.scoreSvc.Latest(c.Request().Context(), sessionID)
	if err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusOK, toScoreResponse(row, s.scoreSvc.PromptHash()))
}

func toScoreResponse(row *models.SessionScore, currentHash string) *scoreResponse {
	return &scoreResponse{
		ScoreID:              row.ScoreID,
		SessionID:            row.SessionID,
		Status:               string(row.Status),
		TotalScore:           row.TotalScore,
		ScoreAnalysis:        row.ScoreAnalysis,
		MissingToolsAnalysis: row.MissingToolsAnalysis,
		Error:                row.Error,
		CurrentPromptUsed:    row.CurrentPromptUsed(currentHash),
	}
}
