package httpapi

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// streamEventsHandler handles GET /api/v1/events/stream?channel=&last_event_id=,
// delegating the actual SSE framing to pkg/eventbus.Streamer per spec.md
// §4.8's REDESIGNED transport.
func (s *Server) streamEventsHandler(c *echo.Context) error {
	channel := c.QueryParam("channel")
	if channel == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "channel is required")
	}
	lastEventID := c.QueryParam("last_event_id")
	if v := c.Request().Header.Get("Last-Event-ID"); v != "" {
		lastEventID = v
	}

	if err := s.streamer.Stream(c.Response(), c.Request(), channel, lastEventID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return nil
}
