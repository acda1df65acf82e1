package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/tarsy-project/eventbroker/pkg/model"
)

// mapServiceError maps a broker-layer error to an HTTP status, wire code,
// and retryability per the taxonomy in §7.
func mapServiceError(requestID string, err error) *echo.HTTPError {
	status, code, retryable, details := classify(err)
	if status >= 500 {
		slog.Error("request failed", "request_id", requestID, "error", err)
	}
	return echo.NewHTTPError(status, newErrorEnvelope(requestID, ErrorBody{
		Code:      code,
		Message:   err.Error(),
		Details:   details,
		Retryable: retryable,
	}))
}

func classify(err error) (status int, code string, retryable bool, details string) {
	var valErr *model.ValidationError
	switch {
	case errors.As(err, &valErr):
		return http.StatusBadRequest, "VALIDATION", false, valErr.Field

	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", false, ""

	case errors.Is(err, model.ErrAlreadyExists):
		return http.StatusConflict, "ALREADY_EXISTS", false, ""

	case errors.Is(err, model.ErrCapacityExceeded):
		return http.StatusTooManyRequests, "CAPACITY_EXCEEDED", true, ""

	case errors.Is(err, model.ErrSessionNotActive):
		return http.StatusConflict, "SESSION_NOT_ACTIVE", false, ""

	case errors.Is(err, model.ErrTimeout):
		return http.StatusRequestTimeout, "TIMEOUT", true, ""

	case errors.Is(err, model.ErrStorage):
		return http.StatusInternalServerError, "STORAGE", true, ""

	case errors.Is(err, model.ErrTransport):
		return http.StatusBadGateway, "TRANSPORT", true, ""

	default:
		return http.StatusInternalServerError, "INTERNAL", false, ""
	}
}
