package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/plyoox/notificator/internal/domain"
)

// deliveryTimeout bounds the stream lookup plus the bot call.
const deliveryTimeout = 30 * time.Second

type revocationHandler interface {
	HandleRevocation(ctx context.Context, broadcasterID, subscriptionID string) error
}

// Dispatcher acts on verified webhook events. Stream notifications are
// delivered in the background so the webhook can answer Twitch at once.
type Dispatcher struct {
	twitch      domain.TwitchAPI
	registry    domain.RegistryRepository
	notifier    domain.StreamNotifier
	revocations revocationHandler
	timeout     time.Duration

	wg sync.WaitGroup
}

var _ domain.EventHandler = (*Dispatcher)(nil)

func NewDispatcher(twitch domain.TwitchAPI, registry domain.RegistryRepository, notifier domain.StreamNotifier, revocations revocationHandler) *Dispatcher {
	return &Dispatcher{
		twitch:      twitch,
		registry:    registry,
		notifier:    notifier,
		revocations: revocations,
		timeout:     deliveryTimeout,
	}
}

// StreamOnline returns immediately. Delivery keeps the correlation id of ctx
// but not its cancellation.
func (d *Dispatcher) StreamOnline(ctx context.Context, event domain.StreamOnlineEvent) {
	detached := context.WithoutCancel(ctx)
	d.wg.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(detached, "Panic while delivering stream notification", "broadcaster_id", event.BroadcasterUserID, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(detached, d.timeout)
		defer cancel()
		d.deliver(ctx, event)
	})
}

func (d *Dispatcher) deliver(ctx context.Context, event domain.StreamOnlineEvent) {
	_, err := d.registry.GetBroadcaster(ctx, event.BroadcasterUserID)
	if errors.Is(err, domain.ErrBroadcasterNotFound) {
		slog.InfoContext(ctx, "Stream online for unregistered broadcaster ignored",
			"broadcaster_id", event.BroadcasterUserID, "subscription_id", event.SubscriptionID)
		return
	}
	if err != nil {
		slog.WarnContext(ctx, "Failed to look up broadcaster, delivering anyway", "broadcaster_id", event.BroadcasterUserID, "error", err)
	}

	stream, err := d.twitch.FetchLiveStream(ctx, event.BroadcasterUserID)
	if err != nil {
		slog.WarnContext(ctx, "Failed to fetch live stream", "broadcaster_id", event.BroadcasterUserID, "error", err)
		return
	}

	if err := d.notifier.Notify(ctx, *stream); err != nil {
		slog.WarnContext(ctx, "Failed to deliver stream notification", "broadcaster_id", event.BroadcasterUserID, "stream_id", stream.ID, "error", err)
		return
	}

	slog.InfoContext(ctx, "Stream notification delivered", "broadcaster_id", event.BroadcasterUserID, "stream_id", stream.ID)
}

// Revoked runs inline; the webhook answers 200 whatever happens here.
func (d *Dispatcher) Revoked(ctx context.Context, event domain.RevocationEvent) {
	if err := d.revocations.HandleRevocation(ctx, event.BroadcasterUserID, event.SubscriptionID); err != nil {
		slog.ErrorContext(ctx, "Failed to handle revocation",
			"broadcaster_id", event.BroadcasterUserID, "subscription_id", event.SubscriptionID, "status", event.Status, "error", err)
	}
}

// Wait blocks until background deliveries finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stream deliveries still in flight: %w", ctx.Err())
	}
}
