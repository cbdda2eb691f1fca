package twitch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/plyoox/notificator/internal/adapter/metrics"
	"github.com/plyoox/notificator/internal/domain"
	"github.com/plyoox/notificator/internal/platform/correlation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "test-webhook-secret-1234567890"

type recordingEvents struct {
	mu      sync.Mutex
	online  []domain.StreamOnlineEvent
	revoked []domain.RevocationEvent
	ctxIDs  []string
}

func (r *recordingEvents) StreamOnline(ctx context.Context, event domain.StreamOnlineEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, _ := correlation.ID(ctx)
	r.ctxIDs = append(r.ctxIDs, id)
	r.online = append(r.online, event)
}

func (r *recordingEvents) Revoked(_ context.Context, event domain.RevocationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked = append(r.revoked, event)
}

type mapDedupe struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (d *mapDedupe) FirstSeen(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	if d.seen == nil {
		d.seen = make(map[string]bool)
	}
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

func newTestWebhook() (*WebhookHandler, *recordingEvents, *mapDedupe, *metrics.WebhookMetrics) {
	events := &recordingEvents{}
	dedupe := &mapDedupe{}
	m := metrics.NewWebhookMetrics(prometheus.NewRegistry())
	return NewWebhookHandler(testWebhookSecret, events, dedupe, m), events, dedupe, m
}

func webhookRequest(messageID, messageType, body, signature string) *http.Request {
	timestamp := "2024-03-01T18:00:01.123456789Z"
	if signature == "" {
		signature = Sign(messageID, timestamp, []byte(body), testWebhookSecret)
	}
	req := httptest.NewRequest(http.MethodPost, "/_notify/twitch", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderMessageID, messageID)
	req.Header.Set(HeaderMessageTimestamp, timestamp)
	req.Header.Set(HeaderMessageSignature, signature)
	req.Header.Set(HeaderMessageType, messageType)
	return req
}

const streamOnlineBody = `{"subscription":{"id":"es1","status":"enabled","type":"stream.online","version":"1","condition":{"broadcaster_user_id":"555"},"transport":{"method":"webhook","callback":"https://notificator.example.com/_notify/twitch"},"created_at":"2024-03-01T17:00:00Z"},"event":{"id":"9001","broadcaster_user_id":"555","broadcaster_user_login":"streamer","broadcaster_user_name":"Streamer","type":"live","started_at":"2024-03-01T18:00:00Z"}}`

func TestWebhook_ChallengeEchoed(t *testing.T) {
	wh, events, _, _ := newTestWebhook()
	body := `{"challenge":"abc","subscription":{"id":"es1","status":"webhook_callback_verification_pending","type":"stream.online","version":"1","condition":{"broadcaster_user_id":"555"}}}`

	rec := httptest.NewRecorder()
	wh.ServeHTTP(rec, webhookRequest("msg-1", MessageTypeVerification, body, ""))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Empty(t, events.online)
}

func TestWebhook_InvalidSignatureRejectedBeforeParsing(t *testing.T) {
	wh, events, _, m := newTestWebhook()

	// A body that is not even JSON: a 401 rather than a 400 shows nothing parsed it.
	req := webhookRequest("msg-1", MessageTypeNotification, "not json at all", "sha256=deadbeef")
	rec := httptest.NewRecorder()
	wh.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Empty(t, events.online)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Messages.WithLabelValues(MessageTypeNotification, "invalid_signature")))
}

func TestWebhook_TamperedBodyRejected(t *testing.T) {
	wh, events, _, _ := newTestWebhook()

	signature := Sign("msg-1", "2024-03-01T18:00:01.123456789Z", []byte(streamOnlineBody), testWebhookSecret)
	tampered := strings.Replace(streamOnlineBody, `"555"`, `"556"`, 1)

	rec := httptest.NewRecorder()
	wh.ServeHTTP(rec, webhookRequest("msg-1", MessageTypeNotification, tampered, signature))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, events.online)
}

func TestWebhook_MissingHeadersIsNotFound(t *testing.T) {
	for _, header := range []string{HeaderMessageID, HeaderMessageTimestamp, HeaderMessageSignature, HeaderMessageType} {
		t.Run(header, func(t *testing.T) {
			wh, _, _, _ := newTestWebhook()
			req := webhookRequest("msg-1", MessageTypeNotification, streamOnlineBody, "")
			req.Header.Del(header)

			rec := httptest.NewRecorder()
			wh.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.JSONEq(t, `{"code":404,"message":"Not Found"}`, rec.Body.String())
		})
	}
}

func TestWebhook_StreamOnlineDispatched(t *testing.T) {
	wh, events, _, m := newTestWebhook()

	rec := httptest.NewRecorder()
	wh.ServeHTTP(rec, webhookRequest("msg-online-1", MessageTypeNotification, streamOnlineBody, ""))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	require.Len(t, events.online, 1)
	event := events.online[0]
	assert.Equal(t, "msg-online-1", event.MessageID)
	assert.Equal(t, "es1", event.SubscriptionID)
	assert.Equal(t, "555", event.BroadcasterUserID)
	assert.Equal(t, "streamer", event.BroadcasterUserLogin)
	assert.Equal(t, time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC), event.StartedAt.UTC())
	assert.Equal(t, "msg-online-1", events.ctxIDs[0], "message id becomes the correlation id")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Messages.WithLabelValues(MessageTypeNotification, "ok")))
}

func TestWebhook_StreamOnlineWithoutStartTime(t *testing.T) {
	wh, events, _, _ := newTestWebhook()
	body := `{"subscription":{"id":"es1","type":"stream.online","condition":{"broadcaster_user_id":"555"}},"event":{"broadcaster_user_id":"555","broadcaster_user_login":"streamer","started_at":""}}`

	rec := httptest.NewRecorder()
	wh.ServeHTTP(rec, webhookRequest("msg-1", MessageTypeNotification, body, ""))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, events.online, 1)
	assert.True(t, events.online[0].StartedAt.IsZero())
}

func TestWebhook_DuplicateNotificationAcknowledgedOnce(t *testing.T) {
	wh, events, _, m := newTestWebhook()

	for range 3 {
		rec := httptest.NewRecorder()
		wh.ServeHTTP(rec, webhookRequest("msg-dup", MessageTypeNotification, streamOnlineBody, ""))
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Len(t, events.online, 1)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Messages.WithLabelValues(MessageTypeNotification, "duplicate")))
}

func TestWebhook_DedupeFailureFailsOpen(t *testing.T) {
	wh, events, dedupe, _ := newTestWebhook()
	dedupe.err = errors.New("redis unavailable")

	rec := httptest.NewRecorder()
	wh.ServeHTTP(rec, webhookRequest("msg-1", MessageTypeNotification, streamOnlineBody, ""))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, events.online, 1)
}

func TestWebhook_OtherSubscriptionTypeIgnored(t *testing.T) {
	wh, events, _, _ := newTestWebhook()
	body := `{"subscription":{"id":"es9","type":"channel.follow","condition":{"broadcaster_user_id":"555"}},"event":{"user_id":"1"}}`

	rec := httptest.NewRecorder()
	wh.ServeHTTP(rec, webhookRequest("msg-1", MessageTypeNotification, body, ""))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, events.online)
}

func TestWebhook_Revocation(t *testing.T) {
	wh, events, _, _ := newTestWebhook()
	body := `{"subscription":{"id":"es1","status":"authorization_revoked","type":"stream.online","version":"1","condition":{"broadcaster_user_id":"555"}}}`

	rec := httptest.NewRecorder()
	wh.ServeHTTP(rec, webhookRequest("msg-rev", MessageTypeRevocation, body, ""))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	require.Len(t, events.revoked, 1)
	assert.Equal(t, domain.RevocationEvent{
		SubscriptionID:    "es1",
		BroadcasterUserID: "555",
		Status:            "authorization_revoked",
	}, events.revoked[0])
}

func TestWebhook_UnknownMessageType(t *testing.T) {
	wh, events, _, _ := newTestWebhook()

	rec := httptest.NewRecorder()
	wh.ServeHTTP(rec, webhookRequest("msg-1", "something_new", `{"whatever":true}`, ""))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Empty(t, events.online)
	assert.Empty(t, events.revoked)
}

func TestWebhook_MalformedBodies(t *testing.T) {
	tests := []struct {
		name        string
		messageType string
		body        string
	}{
		{"verification not json", MessageTypeVerification, `{"challenge":`},
		{"verification without challenge", MessageTypeVerification, `{"subscription":{"id":"es1"}}`},
		{"notification not json", MessageTypeNotification, `[1,2`},
		{"notification event wrong shape", MessageTypeNotification, `{"subscription":{"id":"es1","type":"stream.online"},"event":"nope"}`},
		{"notification without broadcaster", MessageTypeNotification, `{"subscription":{"id":"es1","type":"stream.online"},"event":{}}`},
		{"notification with bad started_at", MessageTypeNotification, `{"subscription":{"id":"es1","type":"stream.online"},"event":{"broadcaster_user_id":"555","started_at":"yesterday"}}`},
		{"revocation not json", MessageTypeRevocation, `}`},
		{"revocation without subscription", MessageTypeRevocation, `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wh, events, _, _ := newTestWebhook()

			rec := httptest.NewRecorder()
			wh.ServeHTTP(rec, webhookRequest("msg-1", tt.messageType, tt.body, ""))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, events.online)
			assert.Empty(t, events.revoked)
		})
	}
}
