// Package bot forwards live-stream notifications to the downstream bot.
package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/plyoox/notificator/internal/adapter/metrics"
	"github.com/plyoox/notificator/internal/domain"
	"github.com/plyoox/notificator/internal/platform/version"
	"github.com/sony/gobreaker"
)

const (
	breakerConsecutiveFailures = 5
	breakerCooldown            = 30 * time.Second

	deliveryDelivered = "delivered"
	deliveryFailed    = "failed"
	deliveryRejected  = "rejected"
)

// ErrBotUnavailable is returned while the breaker is open.
var ErrBotUnavailable = errors.New("bot delivery suspended")

// Notifier issues one GET per live stream against the bot's base URL. The
// bot's response body is ignored; any 2xx counts as delivered.
type Notifier struct {
	baseURL *url.URL
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	metrics *metrics.WebhookMetrics
}

var _ domain.StreamNotifier = (*Notifier)(nil)

func NewNotifier(baseURL string, timeout time.Duration, m *metrics.WebhookMetrics) (*Notifier, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bot URL: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "bot",
		MaxRequests: 1,
		Timeout:     breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Bot circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	})

	return &Notifier{
		baseURL: u,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
		metrics: m,
	}, nil
}

func (n *Notifier) Notify(ctx context.Context, stream domain.StreamSnapshot) error {
	_, err := n.breaker.Execute(func() (any, error) {
		return nil, n.deliver(ctx, stream)
	})

	switch {
	case err == nil:
		n.metrics.Deliveries.WithLabelValues(deliveryDelivered).Inc()
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		n.metrics.Deliveries.WithLabelValues(deliveryRejected).Inc()
		return fmt.Errorf("%w: %w", ErrBotUnavailable, err)
	default:
		n.metrics.Deliveries.WithLabelValues(deliveryFailed).Inc()
		return err
	}
}

func (n *Notifier) deliver(ctx context.Context, stream domain.StreamSnapshot) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.deliveryURL(stream), nil)
	if err != nil {
		return fmt.Errorf("failed to create bot request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach bot: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("bot returned status %d", resp.StatusCode)
	}
	return nil
}

// deliveryURL keeps any query the base URL already carries.
func (n *Notifier) deliveryURL(stream domain.StreamSnapshot) string {
	u := *n.baseURL
	q := u.Query()
	q.Set("id", stream.ID)
	q.Set("user_id", stream.UserID)
	q.Set("user_name", stream.UserLogin)
	q.Set("game_name", stream.GameName)
	q.Set("viewer_count", strconv.Itoa(stream.ViewerCount))
	q.Set("started_at", stream.StartedAt.UTC().Format(time.RFC3339))
	q.Set("thumbnail_url", stream.ThumbnailURL)
	q.Set("title", stream.Title)
	u.RawQuery = q.Encode()
	return u.String()
}
