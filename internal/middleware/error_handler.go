package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"coursemarket_echo/internal/logger"
	"coursemarket_echo/internal/models"
	"coursemarket_echo/internal/services"
	"coursemarket_echo/internal/store"
)

// ErrorResponse is the JSON body of every error
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
	State string `json:"state,omitempty"`
}

// NewErrorHandler maps domain errors to status codes. Gateway trouble is
// reported as "processing" so a paying customer is never told they failed.
func NewErrorHandler(log *logger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, body := classify(err)
		if code >= http.StatusInternalServerError && code != http.StatusServiceUnavailable {
			log.Error("Request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
		} else {
			log.Debug("Request rejected", "path", c.Path(), "status", code, "error", err)
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(code)
		} else {
			writeErr = c.JSON(code, body)
		}
		if writeErr != nil {
			log.Error("Failed to write error response", "error", writeErr)
		}
	}
}

func classify(err error) (int, ErrorResponse) {
	var (
		httpErr       *echo.HTTPError
		validationErr *services.ValidationError
	)

	switch {
	case errors.As(err, &httpErr):
		msg, ok := httpErr.Message.(string)
		if !ok || msg == "" {
			msg = http.StatusText(httpErr.Code)
		}
		return httpErr.Code, ErrorResponse{Error: msg}
	case errors.As(err, &validationErr):
		return http.StatusUnprocessableEntity, ErrorResponse{Error: validationErr.Message, Field: validationErr.Field}
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "not found"}
	case services.IsProcessing(err):
		return http.StatusServiceUnavailable, ErrorResponse{
			Error: "The payment provider is not responding. Your payment is processing, please check back shortly.",
			State: string(services.ReconcileProcessing),
		}
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict, ErrorResponse{Error: "invalid status transition"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "Something went wrong. Please try again later."}
	}
}
