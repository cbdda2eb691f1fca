package domain

import (
	"context"
	"time"
)

// Broadcaster is a Twitch user watched for stream.online events. A row exists
// exactly as long as at least one Registration references it.
type Broadcaster struct {
	ID          string
	DisplayName string
	AvatarURL   string
	// EventSubscriptionID is empty until the remote subscription is confirmed.
	EventSubscriptionID string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// HasSubscription reports whether the broadcaster is in the Active state.
func (b *Broadcaster) HasSubscription() bool {
	return b != nil && b.EventSubscriptionID != ""
}

// Registration is one guild's interest in one broadcaster.
type Registration struct {
	ID            int64
	GuildID       int64
	BroadcasterID string
	CreatedAt     time.Time
}

// ReleasedBroadcaster is a broadcaster row removed because its last
// registration went away. Its subscription still has to be deleted remotely.
type ReleasedBroadcaster struct {
	BroadcasterID       string
	EventSubscriptionID string
}

// RegistryRepository persists broadcasters and registrations. Every method
// that touches more than one row runs in a single transaction.
type RegistryRepository interface {
	GetBroadcaster(ctx context.Context, broadcasterID string) (*Broadcaster, error)
	ListBroadcasters(ctx context.Context) ([]Broadcaster, error)

	// CreateRegistration upserts the broadcaster (profile and subscription id)
	// and inserts the registration. Returns ErrRegistrationExists for a
	// duplicate (guild, broadcaster) pair.
	CreateRegistration(ctx context.Context, broadcaster Broadcaster, guildID int64) (*Registration, error)

	// AttachRegistration behaves like CreateRegistration but only while the
	// stored broadcaster row still exists and holds
	// broadcaster.EventSubscriptionID. Otherwise it writes nothing and returns
	// ErrSubscriptionStale.
	AttachRegistration(ctx context.Context, broadcaster Broadcaster, guildID int64) (*Registration, error)

	// DeleteRegistration removes the registration and, if it was the last one,
	// the broadcaster. released is nil while other registrations remain.
	// Returns ErrRegistrationNotFound for unknown ids.
	DeleteRegistration(ctx context.Context, registrationID int64) (released *ReleasedBroadcaster, err error)

	// DeleteGuild removes all registrations of the guild and every broadcaster
	// left without registrations.
	DeleteGuild(ctx context.Context, guildID int64) ([]ReleasedBroadcaster, error)

	// DeleteRevokedBroadcaster removes the broadcaster only while it still
	// holds subscriptionID; its registrations cascade. Returns the number of
	// registrations dropped, or ErrBroadcasterNotFound when nothing matched.
	DeleteRevokedBroadcaster(ctx context.Context, broadcasterID, subscriptionID string) (int64, error)

	// ReplaceSubscription swaps the stored subscription id when it still
	// equals oldID. Returns ErrBroadcasterNotFound when nothing matched.
	ReplaceSubscription(ctx context.Context, broadcasterID, oldID, newID string) error

	CountRegistrations(ctx context.Context, broadcasterID string) (int64, error)
}
