package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	apperrors "github.com/plyoox/notificator/internal/platform/errors"
)

// authorizationCodeLength is the length of a Twitch authorization code.
const authorizationCodeLength = 28

func (s *Server) registerAPIRoutes(rateLimiter echo.MiddlewareFunc) {
	api := s.echo.Group(apiPrefix, rateLimiter)
	api.POST("/notifications", s.handleCreateNotification)
	api.DELETE("/notifications/:id", s.handleDeleteNotification)
	api.DELETE("/notifications/guild/:guildId", s.handleDeleteGuild)
	api.GET("/auth", s.handleAuthURL)
}

// flexibleInt64 accepts a JSON number or a string holding one.
type flexibleInt64 int64

func (f *flexibleInt64) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}

	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("not an integer: %q", data)
	}
	*f = flexibleInt64(n)
	return nil
}

type createNotificationRequest struct {
	Code    string         `json:"code"`
	GuildID *flexibleInt64 `json:"guild_id"`
}

func (r createNotificationRequest) validate() *apperrors.Error {
	if len(r.Code) != authorizationCodeLength {
		return apperrors.ValidationError(fmt.Sprintf("code must be %d characters", authorizationCodeLength)).
			WithField("code_length", len(r.Code))
	}
	if r.GuildID == nil {
		return apperrors.ValidationError("guild_id is required")
	}
	return nil
}

func (s *Server) handleCreateNotification(c echo.Context) error {
	var req createNotificationRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return apperrors.ValidationError("invalid request body").WithField("decode_error", err.Error())
	}
	if err := req.validate(); err != nil {
		return err
	}

	id, err := s.app.CreateNotification(c.Request().Context(), req.Code, int64(*req.GuildID))
	if err != nil {
		return err
	}

	if err := c.String(http.StatusOK, strconv.FormatInt(id, 10)); err != nil {
		return fmt.Errorf("failed to send response: %w", err)
	}
	return nil
}

func (s *Server) handleDeleteNotification(c echo.Context) error {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return apperrors.ValidationError("invalid registration id").WithField("id", raw)
	}

	if err := s.app.ReleaseRegistration(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleDeleteGuild(c echo.Context) error {
	raw := c.Param("guildId")
	guildID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return apperrors.ValidationError("invalid guild id").WithField("guild_id", raw)
	}

	if err := s.app.ReleaseGuild(c.Request().Context(), guildID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// handleAuthURL returns the URL a broadcaster visits to grant access. The
// state is passed through untouched.
func (s *Server) handleAuthURL(c echo.Context) error {
	state := c.QueryParam("state")
	if state == "" {
		return apperrors.ValidationError("state is required")
	}

	if err := c.String(http.StatusOK, s.authorizer.AuthURL(state)); err != nil {
		return fmt.Errorf("failed to send response: %w", err)
	}
	return nil
}
