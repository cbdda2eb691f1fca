package twitch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/nicklaw5/helix/v2"
	"github.com/plyoox/notificator/internal/adapter/metrics"
	"github.com/plyoox/notificator/internal/domain"
	"github.com/plyoox/notificator/internal/platform/correlation"
)

const (
	HeaderMessageID        = "Twitch-Eventsub-Message-Id"
	HeaderMessageTimestamp = "Twitch-Eventsub-Message-Timestamp"
	HeaderMessageSignature = "Twitch-Eventsub-Message-Signature"
	HeaderMessageType      = "Twitch-Eventsub-Message-Type"

	MessageTypeVerification = "webhook_callback_verification"
	MessageTypeNotification = "notification"
	MessageTypeRevocation   = "revocation"

	maxWebhookBody = 1 << 20
)

type verificationPayload struct {
	Challenge    string                     `json:"challenge"`
	Subscription helix.EventSubSubscription `json:"subscription"`
}

type notificationPayload struct {
	Subscription helix.EventSubSubscription `json:"subscription"`
	Event        json.RawMessage            `json:"event"`
}

type revocationPayload struct {
	Subscription helix.EventSubSubscription `json:"subscription"`
}

// WebhookHandler receives EventSub callbacks. Nothing reads the body as JSON
// before the signature has been verified; once it has, the response is 200
// unless the body is malformed.
type WebhookHandler struct {
	secret  string
	events  domain.EventHandler
	dedupe  domain.MessageDeduplicator
	metrics *metrics.WebhookMetrics
}

func NewWebhookHandler(secret string, events domain.EventHandler, dedupe domain.MessageDeduplicator, m *metrics.WebhookMetrics) *WebhookHandler {
	return &WebhookHandler{secret: secret, events: events, dedupe: dedupe, metrics: m}
}

func (wh *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	messageID := r.Header.Get(HeaderMessageID)
	timestamp := r.Header.Get(HeaderMessageTimestamp)
	signature := r.Header.Get(HeaderMessageSignature)
	messageType := r.Header.Get(HeaderMessageType)

	if messageID == "" || timestamp == "" || signature == "" || messageType == "" {
		writeJSONError(w, http.StatusNotFound, "Not Found")
		return
	}

	ctx := correlation.WithID(r.Context(), correlation.FromCandidate(messageID))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		slog.WarnContext(ctx, "Failed to read webhook body", "error", err)
		wh.count(messageType, "unreadable")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !VerifySignature(messageID, timestamp, body, signature, wh.secret) {
		slog.WarnContext(ctx, "Rejected webhook with invalid signature", "message_type", messageType)
		wh.count(messageType, "invalid_signature")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch messageType {
	case MessageTypeVerification:
		var payload verificationPayload
		if err := json.Unmarshal(body, &payload); err != nil || payload.Challenge == "" {
			wh.malformed(ctx, w, messageType, err)
			return
		}

		slog.InfoContext(ctx, "EventSub webhook verification",
			"subscription_id", payload.Subscription.ID,
			"broadcaster_id", payload.Subscription.Condition.BroadcasterUserID)
		wh.count(messageType, "ok")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, payload.Challenge)

	case MessageTypeNotification:
		var payload notificationPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			wh.malformed(ctx, w, messageType, err)
			return
		}

		if payload.Subscription.Type != helix.EventSubTypeStreamOnline {
			slog.DebugContext(ctx, "Ignoring notification of unhandled type", "subscription_type", payload.Subscription.Type)
			wh.count(messageType, "ignored")
			w.WriteHeader(http.StatusOK)
			return
		}

		var event helix.EventSubStreamOnlineEvent
		if err := json.Unmarshal(payload.Event, &event); err != nil || event.BroadcasterUserID == "" {
			wh.malformed(ctx, w, messageType, err)
			return
		}

		if !wh.firstSeen(ctx, messageID) {
			wh.count(messageType, "duplicate")
			w.WriteHeader(http.StatusOK)
			return
		}

		wh.events.StreamOnline(ctx, domain.StreamOnlineEvent{
			MessageID:            messageID,
			SubscriptionID:       payload.Subscription.ID,
			BroadcasterUserID:    event.BroadcasterUserID,
			BroadcasterUserLogin: event.BroadcasterUserLogin,
			BroadcasterUserName:  event.BroadcasterUserName,
			StartedAt:            event.StartedAt.Time,
		})
		wh.count(messageType, "ok")
		w.WriteHeader(http.StatusOK)

	case MessageTypeRevocation:
		var payload revocationPayload
		if err := json.Unmarshal(body, &payload); err != nil || payload.Subscription.ID == "" {
			wh.malformed(ctx, w, messageType, err)
			return
		}

		if !wh.firstSeen(ctx, messageID) {
			wh.count(messageType, "duplicate")
			w.WriteHeader(http.StatusOK)
			return
		}

		wh.events.Revoked(ctx, domain.RevocationEvent{
			SubscriptionID:    payload.Subscription.ID,
			BroadcasterUserID: payload.Subscription.Condition.BroadcasterUserID,
			Status:            payload.Subscription.Status,
		})
		wh.count(messageType, "ok")
		w.WriteHeader(http.StatusOK)

	default:
		slog.DebugContext(ctx, "Ignoring unknown EventSub message type", "message_type", messageType)
		wh.count("unknown", "ignored")
		w.WriteHeader(http.StatusOK)
	}
}

// firstSeen fails open: a broken dedupe store must not drop notifications.
func (wh *WebhookHandler) firstSeen(ctx context.Context, messageID string) bool {
	first, err := wh.dedupe.FirstSeen(ctx, messageID)
	if err != nil {
		slog.WarnContext(ctx, "Webhook dedupe check failed, processing anyway", "message_id", messageID, "error", err)
		return true
	}
	return first
}

func (wh *WebhookHandler) malformed(ctx context.Context, w http.ResponseWriter, messageType string, err error) {
	slog.WarnContext(ctx, "Malformed EventSub payload", "message_type", messageType, "error", err)
	wh.count(messageType, "malformed")
	w.WriteHeader(http.StatusBadRequest)
}

func (wh *WebhookHandler) count(messageType, result string) {
	wh.metrics.Messages.WithLabelValues(messageType, result).Inc()
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"code": status, "message": message})
}
