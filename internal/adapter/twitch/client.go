package twitch

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nicklaw5/helix/v2"
	"github.com/plyoox/notificator/internal/adapter/metrics"
	"github.com/plyoox/notificator/internal/domain"
	apperrors "github.com/plyoox/notificator/internal/platform/errors"
	"github.com/plyoox/notificator/internal/platform/version"
)

const (
	opExchangeAppToken   = "exchangeAppToken"
	opExchangeUserCode   = "exchangeUserCode"
	opFetchUser          = "fetchUser"
	opCreateSubscription = "createSubscription"
	opFindSubscription   = "findSubscriptionByUser"
	opDeleteSubscription = "deleteSubscription"
	opFetchLiveStream    = "fetchLiveStream"
	opListSubscriptions  = "listSubscriptions"
)

type Config struct {
	ClientID       string
	ClientSecret   string
	RedirectURL    string
	CallbackURL    string
	EventSubSecret string
}

// Client performs the Helix calls the service needs. A fresh helix.Client is
// built per call so tokens never leak between concurrent requests.
type Client struct {
	cfg        Config
	httpClient helix.HTTPClient
	clock      clockwork.Clock
	metrics    *metrics.TwitchMetrics
	tokens     *TokenCache
}

func NewClient(cfg Config, httpClient helix.HTTPClient, clock clockwork.Clock, m *metrics.TwitchMetrics) *Client {
	c := &Client{
		cfg:        cfg,
		httpClient: httpClient,
		clock:      clock,
		metrics:    m,
	}
	c.tokens = NewTokenCache(c.ExchangeAppToken, clock)
	return c
}

// Tokens exposes the app token cache.
func (c *Client) Tokens() *TokenCache {
	return c.tokens
}

// contextDoer binds outgoing helix requests to the caller's context. helix
// flattens transport errors into plain strings, so the last one is kept here.
type contextDoer struct {
	ctx  context.Context
	next helix.HTTPClient
	err  error
}

func (d *contextDoer) Do(req *http.Request) (*http.Response, error) {
	resp, err := d.next.Do(req.WithContext(d.ctx))
	if err != nil {
		d.err = err
	}
	return resp, err
}

// helixClient is a helix.Client scoped to one call.
type helixClient struct {
	*helix.Client
	doer *contextDoer
}

func (c *Client) newHelix(ctx context.Context, appToken, userToken string) (*helixClient, error) {
	doer := &contextDoer{ctx: ctx, next: c.httpClient}
	hc, err := helix.NewClient(&helix.Options{
		ClientID:        c.cfg.ClientID,
		ClientSecret:    c.cfg.ClientSecret,
		RedirectURI:     c.cfg.RedirectURL,
		AppAccessToken:  appToken,
		UserAccessToken: userToken,
		UserAgent:       version.UserAgent(),
		HTTPClient:      doer,
	})
	if err != nil {
		return nil, apperrors.InternalError("failed to create helix client", err)
	}
	return &helixClient{Client: hc, doer: doer}, nil
}

func (c *Client) appHelix(ctx context.Context) (*helixClient, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	return c.newHelix(ctx, token, "")
}

func (c *Client) observe(op string, start time.Time, err error) {
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
	}
	c.metrics.Requests.WithLabelValues(op, outcome).Inc()
	c.metrics.RequestDuration.WithLabelValues(op).Observe(c.clock.Since(start).Seconds())
}

// transportError prefers the error recorded by the doer so that callers can
// still match context.DeadlineExceeded and friends.
func (c *Client) transportError(ctx context.Context, op string, hc *helixClient, err error) error {
	if hc.doer.err != nil {
		err = hc.doer.err
	}
	slog.ErrorContext(ctx, "Twitch request failed", "operation", op, "error", err)
	return apperrors.TransportError(op, err)
}

// unexpected logs the upstream status and message, then translates them.
func (c *Client) unexpected(ctx context.Context, op string, rc helix.ResponseCommon) error {
	slog.ErrorContext(ctx, "Twitch API returned an error", "operation", op, "status", rc.StatusCode, "error", rc.Error, "message", rc.ErrorMessage)
	if rc.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate()
	}
	return apperrors.RemoteAPIError(op, rc.StatusCode, upstreamMessage(rc), "unexpected response from twitch")
}

func upstreamMessage(rc helix.ResponseCommon) string {
	if rc.ErrorMessage != "" {
		return rc.ErrorMessage
	}
	return rc.Error
}

// ExchangeAppToken runs the client credentials grant.
func (c *Client) ExchangeAppToken(ctx context.Context) (token domain.AccessToken, err error) {
	defer func(start time.Time) { c.observe(opExchangeAppToken, start, err) }(c.clock.Now())
	defer func() {
		outcome := metrics.OutcomeSuccess
		if err != nil {
			outcome = metrics.OutcomeError
		}
		c.metrics.TokenRefreshes.WithLabelValues(outcome).Inc()
	}()

	hc, err := c.newHelix(ctx, "", "")
	if err != nil {
		return domain.AccessToken{}, err
	}

	resp, err := hc.RequestAppAccessToken(nil)
	if err != nil {
		return domain.AccessToken{}, c.transportError(ctx, opExchangeAppToken, hc, err)
	}
	if resp.StatusCode != http.StatusOK || resp.Data.AccessToken == "" {
		return domain.AccessToken{}, c.unexpected(ctx, opExchangeAppToken, resp.ResponseCommon)
	}

	ttl := time.Duration(resp.Data.ExpiresIn) * time.Second
	return domain.AccessToken{Value: resp.Data.AccessToken, ExpiresAt: c.clock.Now().Add(ttl)}, nil
}

// ExchangeUserCode trades an authorization code for a user access token.
func (c *Client) ExchangeUserCode(ctx context.Context, code string) (_ string, err error) {
	defer func(start time.Time) { c.observe(opExchangeUserCode, start, err) }(c.clock.Now())

	hc, err := c.newHelix(ctx, "", "")
	if err != nil {
		return "", err
	}

	resp, err := hc.RequestUserAccessToken(code)
	if err != nil {
		return "", c.transportError(ctx, opExchangeUserCode, hc, err)
	}
	if resp.StatusCode != http.StatusOK || resp.Data.AccessToken == "" {
		return "", c.unexpected(ctx, opExchangeUserCode, resp.ResponseCommon)
	}
	return resp.Data.AccessToken, nil
}

// FetchUser resolves the user owning userToken.
func (c *Client) FetchUser(ctx context.Context, userToken string) (_ *domain.TwitchUser, err error) {
	defer func(start time.Time) { c.observe(opFetchUser, start, err) }(c.clock.Now())

	hc, err := c.newHelix(ctx, "", userToken)
	if err != nil {
		return nil, err
	}

	resp, err := hc.GetUsers(&helix.UsersParams{})
	if err != nil {
		return nil, c.transportError(ctx, opFetchUser, hc, err)
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized:
		slog.WarnContext(ctx, "Twitch rejected the user token", "status", resp.StatusCode, "message", upstreamMessage(resp.ResponseCommon))
		return nil, apperrors.AuthError(opFetchUser, resp.StatusCode, upstreamMessage(resp.ResponseCommon))
	case resp.StatusCode != http.StatusOK:
		return nil, c.unexpected(ctx, opFetchUser, resp.ResponseCommon)
	case len(resp.Data.Users) == 0:
		slog.ErrorContext(ctx, "Twitch returned no user for the token", "status", resp.StatusCode)
		return nil, apperrors.RemoteAPIError(opFetchUser, resp.StatusCode, "", "twitch returned no user")
	}

	u := resp.Data.Users[0]
	return &domain.TwitchUser{
		ID:              u.ID,
		Login:           u.Login,
		DisplayName:     u.DisplayName,
		ProfileImageURL: u.ProfileImageURL,
	}, nil
}

// CreateSubscription registers a stream.online webhook subscription. A 409
// yields a ConflictError; the caller is expected to look the existing one up.
func (c *Client) CreateSubscription(ctx context.Context, broadcasterID string) (_ string, err error) {
	defer func(start time.Time) { c.observe(opCreateSubscription, start, err) }(c.clock.Now())

	hc, err := c.appHelix(ctx)
	if err != nil {
		return "", err
	}

	resp, err := hc.CreateEventSubSubscription(&helix.EventSubSubscription{
		Type:    helix.EventSubTypeStreamOnline,
		Version: "1",
		Condition: helix.EventSubCondition{
			BroadcasterUserID: broadcasterID,
		},
		Transport: helix.EventSubTransport{
			Method:   "webhook",
			Callback: c.cfg.CallbackURL,
			Secret:   c.cfg.EventSubSecret,
		},
	})
	if err != nil {
		return "", c.transportError(ctx, opCreateSubscription, hc, err)
	}

	switch {
	case resp.StatusCode == http.StatusConflict:
		slog.InfoContext(ctx, "EventSub subscription already exists on Twitch", "broadcaster_id", broadcasterID)
		conflict := apperrors.ConflictError("subscription already exists").WithOp(opCreateSubscription)
		conflict.StatusCode = resp.StatusCode
		conflict.Upstream = upstreamMessage(resp.ResponseCommon)
		return "", conflict
	case resp.StatusCode != http.StatusAccepted:
		return "", c.unexpected(ctx, opCreateSubscription, resp.ResponseCommon)
	case len(resp.Data.EventSubSubscriptions) == 0:
		slog.ErrorContext(ctx, "Twitch accepted the subscription but returned none", "broadcaster_id", broadcasterID)
		return "", apperrors.RemoteAPIError(opCreateSubscription, resp.StatusCode, "", "twitch returned no subscription")
	}

	return resp.Data.EventSubSubscriptions[0].ID, nil
}

// FindSubscriptionByUser returns the first stream.online subscription for the
// broadcaster, or nil when there is none.
func (c *Client) FindSubscriptionByUser(ctx context.Context, broadcasterID string) (_ *domain.RemoteSubscription, err error) {
	defer func(start time.Time) { c.observe(opFindSubscription, start, err) }(c.clock.Now())

	hc, err := c.appHelix(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := hc.GetEventSubSubscriptions(&helix.EventSubSubscriptionsParams{UserID: broadcasterID})
	if err != nil {
		return nil, c.transportError(ctx, opFindSubscription, hc, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.unexpected(ctx, opFindSubscription, resp.ResponseCommon)
	}

	for _, sub := range resp.Data.EventSubSubscriptions {
		if sub.Type == helix.EventSubTypeStreamOnline && sub.Condition.BroadcasterUserID == broadcasterID {
			remote := toRemoteSubscription(sub)
			return &remote, nil
		}
	}
	return nil, nil
}

// DeleteSubscription removes a subscription. An unknown id counts as deleted.
func (c *Client) DeleteSubscription(ctx context.Context, subscriptionID string) (err error) {
	defer func(start time.Time) { c.observe(opDeleteSubscription, start, err) }(c.clock.Now())

	hc, err := c.appHelix(ctx)
	if err != nil {
		return err
	}

	resp, err := hc.RemoveEventSubSubscription(subscriptionID)
	if err != nil {
		return c.transportError(ctx, opDeleteSubscription, hc, err)
	}

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		slog.InfoContext(ctx, "EventSub subscription already gone", "subscription_id", subscriptionID)
		return nil
	default:
		return c.unexpected(ctx, opDeleteSubscription, resp.ResponseCommon)
	}
}

// FetchLiveStream returns the user's current stream. An offline user is an error.
func (c *Client) FetchLiveStream(ctx context.Context, userID string) (_ *domain.StreamSnapshot, err error) {
	defer func(start time.Time) { c.observe(opFetchLiveStream, start, err) }(c.clock.Now())

	hc, err := c.appHelix(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := hc.GetStreams(&helix.StreamsParams{UserIDs: []string{userID}})
	if err != nil {
		return nil, c.transportError(ctx, opFetchLiveStream, hc, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.unexpected(ctx, opFetchLiveStream, resp.ResponseCommon)
	}
	if len(resp.Data.Streams) == 0 {
		slog.WarnContext(ctx, "Stream lookup returned no live stream", "user_id", userID)
		return nil, apperrors.RemoteAPIError(opFetchLiveStream, resp.StatusCode, "", "stream is not live")
	}

	s := resp.Data.Streams[0]
	return &domain.StreamSnapshot{
		ID:           s.ID,
		UserID:       s.UserID,
		UserLogin:    s.UserLogin,
		UserName:     s.UserName,
		GameName:     s.GameName,
		Title:        s.Title,
		ViewerCount:  s.ViewerCount,
		StartedAt:    s.StartedAt,
		ThumbnailURL: s.ThumbnailURL,
	}, nil
}

// ListSubscriptions returns every stream.online subscription delivering to our
// callback, following pagination.
func (c *Client) ListSubscriptions(ctx context.Context) (_ []domain.RemoteSubscription, err error) {
	defer func(start time.Time) { c.observe(opListSubscriptions, start, err) }(c.clock.Now())

	hc, err := c.appHelix(ctx)
	if err != nil {
		return nil, err
	}

	params := helix.EventSubSubscriptionsParams{Type: helix.EventSubTypeStreamOnline}
	var subs []domain.RemoteSubscription
	for {
		resp, err := hc.GetEventSubSubscriptions(&params)
		if err != nil {
			return nil, c.transportError(ctx, opListSubscriptions, hc, err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, c.unexpected(ctx, opListSubscriptions, resp.ResponseCommon)
		}

		for _, sub := range resp.Data.EventSubSubscriptions {
			if sub.Transport.Callback == c.cfg.CallbackURL {
				subs = append(subs, toRemoteSubscription(sub))
			}
		}

		if resp.Data.Pagination.Cursor == "" {
			return subs, nil
		}
		params.After = resp.Data.Pagination.Cursor
	}
}

func toRemoteSubscription(sub helix.EventSubSubscription) domain.RemoteSubscription {
	return domain.RemoteSubscription{
		ID:                sub.ID,
		Status:            sub.Status,
		Type:              sub.Type,
		BroadcasterUserID: sub.Condition.BroadcasterUserID,
		Callback:          sub.Transport.Callback,
	}
}
