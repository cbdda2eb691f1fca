package domain

import (
	"context"
	"time"
)

// AccessToken is an app access token and its absolute expiry.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// ValidAt reports whether the token may still be used at now.
func (t AccessToken) ValidAt(now time.Time) bool {
	return t.Value != "" && t.ExpiresAt.After(now)
}

type TwitchUser struct {
	ID              string
	Login           string
	DisplayName     string
	ProfileImageURL string
}

// StreamSnapshot is the live stream state forwarded to the bot.
type StreamSnapshot struct {
	ID           string
	UserID       string
	UserLogin    string
	UserName     string
	GameName     string
	Title        string
	ViewerCount  int
	StartedAt    time.Time
	ThumbnailURL string
}

// RemoteSubscription is Twitch's own EventSub subscription resource.
type RemoteSubscription struct {
	ID                string
	Status            string
	Type              string
	BroadcasterUserID string
	Callback          string
}

// TwitchAPI is the subset of the Helix API the service consumes.
type TwitchAPI interface {
	ExchangeUserCode(ctx context.Context, code string) (string, error)
	FetchUser(ctx context.Context, userToken string) (*TwitchUser, error)
	CreateSubscription(ctx context.Context, broadcasterID string) (string, error)
	FindSubscriptionByUser(ctx context.Context, broadcasterID string) (*RemoteSubscription, error)
	DeleteSubscription(ctx context.Context, subscriptionID string) error
	FetchLiveStream(ctx context.Context, userID string) (*StreamSnapshot, error)
	ListSubscriptions(ctx context.Context) ([]RemoteSubscription, error)
}
