package domain

import (
	"context"
	"time"
)

// StreamOnlineEvent is the payload of a verified stream.online notification.
type StreamOnlineEvent struct {
	MessageID            string
	SubscriptionID       string
	BroadcasterUserID    string
	BroadcasterUserLogin string
	BroadcasterUserName  string
	StartedAt            time.Time
}

// RevocationEvent reports that Twitch tore down a subscription.
type RevocationEvent struct {
	SubscriptionID    string
	BroadcasterUserID string
	Status            string
}

// EventHandler consumes verified webhook events. Implementations must not
// block the webhook response on downstream work.
type EventHandler interface {
	StreamOnline(ctx context.Context, event StreamOnlineEvent)
	Revoked(ctx context.Context, event RevocationEvent)
}

// StreamNotifier delivers a live notification to the downstream bot.
type StreamNotifier interface {
	Notify(ctx context.Context, stream StreamSnapshot) error
}

// MessageDeduplicator remembers webhook message ids. FirstSeen returns true
// exactly once per id within the retention window.
type MessageDeduplicator interface {
	FirstSeen(ctx context.Context, messageID string) (bool, error)
}
