package apperrors

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fwintner/marketpulse/internal/metrics"
)

// ErrorResponse is the JSON body returned for classified failures.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Class   Class  `json:"class"`
	Message string `json:"message"`
}

// Middleware converts errors returned by handlers into JSON responses.
// Classified errors keep their class and user message; echo's own HTTP
// errors pass through unchanged so status codes from routing and binding
// are preserved.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				metrics.HTTPErrorsTotal.WithLabelValues(string(classFromStatus(httpErr.Code))).Inc()
				return err
			}

			classified := Classify(err)
			metrics.HTTPErrorsTotal.WithLabelValues(string(classified.Class)).Inc()
			logError(c, classified)

			resp := ErrorResponse{Error: ErrorBody{Class: classified.Class, Message: classified.UserMessage()}}
			if err := c.JSON(classified.HTTPStatus(), resp); err != nil {
				return fmt.Errorf("failed to write error response: %w", err)
			}
			return nil
		}
	}
}

func logError(c echo.Context, err *Error) {
	attrs := []any{
		"class", err.Class,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}
	if err.Cause != nil {
		attrs = append(attrs, "cause", err.Cause)
	}

	switch err.Class {
	case ClassAuth, ClassNetwork:
		slog.Error("Upstream failure", attrs...)
	case ClassRateLimit:
		slog.Warn("Upstream throttling", attrs...)
	default:
		slog.Error("Unclassified failure", attrs...)
	}
}

func classFromStatus(code int) Class {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ClassAuth
	case http.StatusTooManyRequests:
		return ClassRateLimit
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return ClassNetwork
	default:
		return ClassUnclassified
	}
}
