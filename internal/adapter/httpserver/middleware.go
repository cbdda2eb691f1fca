package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/plyoox/notificator/internal/adapter/metrics"
	"github.com/plyoox/notificator/internal/platform/correlation"
	apperrors "github.com/plyoox/notificator/internal/platform/errors"
)

// correlationMiddleware adopts a well-formed X-Request-ID or mints a new id,
// and echoes it back on the response.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := correlation.FromCandidate(c.Request().Header.Get(echo.HeaderXRequestID))
		ctx := correlation.WithID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		c.Response().Header().Set(echo.HeaderXRequestID, id)
		return next(c)
	}
}

// httpErrorResponse is the body for router-level errors (unknown route,
// wrong method, rate limit).
type httpErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ErrorHandlingMiddleware renders structured errors as JSON and counts them
// by type. Router errors are rendered as {code, message}.
func ErrorHandlingMiddleware(m *metrics.HTTPMetrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil || c.Response().Committed {
				return err
			}

			if httpErr, ok := errors.AsType[*echo.HTTPError](err); ok {
				return writeHTTPError(c, httpErr)
			}

			structuredErr := apperrors.AsStructuredError(err)
			logError(c, structuredErr)
			m.ErrorsTotal.WithLabelValues(string(structuredErr.Type)).Inc()

			if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
				return fmt.Errorf("failed to write error response: %w", err)
			}
			return nil
		}
	}
}

// handleHTTPError is the last resort for errors no middleware rendered.
func (s *Server) handleHTTPError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	httpErr, ok := errors.AsType[*echo.HTTPError](err)
	if !ok {
		structuredErr := apperrors.AsStructuredError(err)
		logError(c, structuredErr)
		_ = c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse())
		return
	}
	_ = writeHTTPError(c, httpErr)
}

func writeHTTPError(c echo.Context, httpErr *echo.HTTPError) error {
	message := http.StatusText(httpErr.Code)
	if msg, ok := httpErr.Message.(string); ok && msg != "" {
		message = msg
	}

	if err := c.JSON(httpErr.Code, httpErrorResponse{Code: httpErr.Code, Message: message}); err != nil {
		return fmt.Errorf("failed to write error response: %w", err)
	}
	return nil
}

func logError(c echo.Context, err *apperrors.Error) {
	ctx := c.Request().Context()
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}
	if err.Op != "" {
		attrs = append(attrs, "op", err.Op)
	}

	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	switch err.Type {
	case apperrors.TypeValidation:
		slog.InfoContext(ctx, "Validation error", attrs...)
	case apperrors.TypeConflict:
		slog.WarnContext(ctx, "Conflict", attrs...)
	case apperrors.TypeAuth, apperrors.TypeRemoteAPI, apperrors.TypeTransport:
		if err.StatusCode != 0 {
			attrs = append(attrs, "upstream_status", err.StatusCode, "upstream_message", err.Upstream)
		}
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Twitch request failed", attrs...)
	default:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Internal error", attrs...)
	}
}
