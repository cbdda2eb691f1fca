package httpserver

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/plyoox/notificator/internal/adapter/metrics"
	"golang.org/x/time/rate"
)

// Per-IP limiters idle this long are dropped from the store.
const limiterIdleExpiry = 5 * time.Minute

// newRateLimiter throttles the notification API per client IP. Denied
// requests get a JSON 429 with Retry-After and count as rate_limited errors.
func newRateLimiter(m *metrics.HTTPMetrics, ratePerSecond float64, burst int) echo.MiddlewareFunc {
	retryAfter := strconv.Itoa(retryAfterSeconds(ratePerSecond))

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(ratePerSecond),
			Burst:     burst,
			ExpiresIn: limiterIdleExpiry,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, clientIP string, _ error) error {
			slog.WarnContext(c.Request().Context(), "API rate limit exceeded", "client_ip", clientIP, "path", c.Path())
			m.ErrorsTotal.WithLabelValues("rate_limited").Inc()
			c.Response().Header().Set("Retry-After", retryAfter)
			return c.JSON(http.StatusTooManyRequests, httpErrorResponse{
				Code:    http.StatusTooManyRequests,
				Message: "rate limit exceeded",
			})
		},
	})
}

// retryAfterSeconds is the time for one token to refill, never below a second.
func retryAfterSeconds(ratePerSecond float64) int {
	if ratePerSecond <= 0 {
		return 1
	}
	return max(1, int(math.Ceil(1/ratePerSecond)))
}
