package twitch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/plyoox/notificator/internal/domain"
	apperrors "github.com/plyoox/notificator/internal/platform/errors"
	"golang.org/x/sync/singleflight"
)

// expiryLeeway treats tokens as expired slightly early so a token is never
// sent while it expires in flight.
const expiryLeeway = 30 * time.Second

// RefreshFunc obtains a fresh app access token.
type RefreshFunc func(ctx context.Context) (domain.AccessToken, error)

// TokenCache holds the app access token. Concurrent callers that find the
// token expired share a single refresh.
type TokenCache struct {
	refresh RefreshFunc
	clock   clockwork.Clock

	mu    sync.RWMutex
	token domain.AccessToken

	group singleflight.Group
}

func NewTokenCache(refresh RefreshFunc, clock clockwork.Clock) *TokenCache {
	return &TokenCache{refresh: refresh, clock: clock}
}

// Token returns the cached token while it is valid and refreshes otherwise.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()

	if token.ValidAt(c.clock.Now().Add(expiryLeeway)) {
		return token.Value, nil
	}
	return c.Refresh(ctx)
}

// Refresh exchanges the client credentials for a new token and replaces the
// cached one. Callers arriving while a refresh is in flight wait for it.
func (c *TokenCache) Refresh(ctx context.Context) (string, error) {
	ch := c.group.DoChan("app-token", func() (result any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = apperrors.ConcurrencyError("token refresh panicked", fmt.Errorf("%v", r))
			}
		}()

		// The flight outlives any single caller; only its own timeout applies.
		token, err := c.refresh(context.WithoutCancel(ctx))
		if err != nil {
			return "", err
		}

		c.mu.Lock()
		c.token = token
		c.mu.Unlock()

		slog.DebugContext(ctx, "App access token refreshed", "expires_at", token.ExpiresAt)
		return token.Value, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", apperrors.ConcurrencyError("gave up waiting for token refresh", ctx.Err())
	}
}

// Invalidate drops the cached token so the next call refreshes.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = domain.AccessToken{}
	c.mu.Unlock()
}
