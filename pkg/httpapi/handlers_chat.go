package httpapi

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// createChatHandler handles POST /api/v1/chats: the first message of a
// session's follow-up chat. Grounded on the teacher's
// sendChatMessageHandler, split across two routes per spec.md §6's
// "POST /chats / POST /chats/{id}/messages" — this one resolves the
// session from the request body since no chat exists yet to key off of.
func (s *Server) createChatHandler(c *echo.Context) error {
	var req createChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}

	session, err := s.sessions.Get(c.Request().Context(), req.SessionID)
	if err != nil {
		return mapStoreError(err)
	}

	result, err := s.chatSvc.Submit(c.Request().Context(), session, req.Content, identityFromContext(c))
	if err != nil {
		return mapChatError(err)
	}

	return c.JSON(http.StatusAccepted, &chatTurnResponse{
		ChatID:      result.ChatID,
		MessageID:   result.MessageID,
		ExecutionID: result.ExecutionID,
	})
}

// addChatMessageHandler handles POST /api/v1/chats/:id/messages: a
// follow-up message on a chat that already exists.
func (s *Server) addChatMessageHandler(c *echo.Context) error {
	chatID := c.Param("id")

	var req addChatMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}

	chat, err := s.chats.GetChat(c.Request().Context(), chatID)
	if err != nil {
		return mapStoreError(err)
	}

	session, err := s.sessions.Get(c.Request().Context(), chat.SessionID)
	if err != nil {
		return mapStoreError(err)
	}

	result, err := s.chatSvc.Submit(c.Request().Context(), session, req.Content, identityFromContext(c))
	if err != nil {
		return mapChatError(err)
	}

	return c.JSON(http.StatusAccepted, &chatTurnResponse{
		ChatID:      result.ChatID,
		MessageID:   result.MessageID,
		ExecutionID: result.ExecutionID,
	})
}
