package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/tarsy-chain/tarsy/pkg/chatservice"
	"github.com/tarsy-chain/tarsy/pkg/scoring"
	"github.com/tarsy-chain/tarsy/pkg/store"
)

// mapStoreError maps a store-layer error to an HTTP error response,
// mirroring the teacher's mapServiceError (pkg/api/errors.go).
func mapStoreError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	case errors.Is(err, store.ErrChatAlreadyExists):
		return echo.NewHTTPError(http.StatusConflict, "chat already exists for this session")
	case errors.Is(err, store.ErrScoreAlreadyInFlight):
		return echo.NewHTTPError(http.StatusConflict, "a score is already pending or in progress for this session")
	}

	slog.Error("unexpected store error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

// mapChatError maps a pkg/chatservice error to an HTTP error response.
func mapChatError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, chatservice.ErrNotAvailable):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, chatservice.ErrResponseInFlight):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, chatservice.ErrConfiguration):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}

	slog.Error("unexpected chat service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

// mapScoreError maps a pkg/scoring error to an HTTP error response.
func mapScoreError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, scoring.ErrNotAvailable):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrScoreAlreadyInFlight):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}

	slog.Error("unexpected scoring error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
