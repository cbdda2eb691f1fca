package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/plyoox/notificator/internal/domain"
	"github.com/plyoox/notificator/internal/platform/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type revocationFunc func(ctx context.Context, broadcasterID, subscriptionID string) error

func (f revocationFunc) HandleRevocation(ctx context.Context, broadcasterID, subscriptionID string) error {
	return f(ctx, broadcasterID, subscriptionID)
}

func registeredBroadcaster() *mockRegistry {
	return &mockRegistry{
		getBroadcasterFn: func(ctx context.Context, id string) (*domain.Broadcaster, error) {
			return &domain.Broadcaster{ID: id, EventSubscriptionID: "es1"}, nil
		},
	}
}

var onlineEvent = domain.StreamOnlineEvent{
	MessageID:         "m1",
	SubscriptionID:    "es1",
	BroadcasterUserID: "555",
}

func waitForDeliveries(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))
}

func TestDispatcher_StreamOnlineDeliversLiveStream(t *testing.T) {
	tw := &mockTwitch{
		fetchLiveStreamFn: func(ctx context.Context, userID string) (*domain.StreamSnapshot, error) {
			return &domain.StreamSnapshot{ID: "s1", UserID: userID, UserLogin: "lirik", Title: "hi"}, nil
		},
	}
	notifier := &mockNotifier{}
	d := NewDispatcher(tw, registeredBroadcaster(), notifier, nil)

	d.StreamOnline(context.Background(), onlineEvent)
	waitForDeliveries(t, d)

	require.Len(t, notifier.streams(), 1)
	assert.Equal(t, domain.StreamSnapshot{ID: "s1", UserID: "555", UserLogin: "lirik", Title: "hi"}, notifier.streams()[0])
}

func TestDispatcher_StreamOnlineIsDetachedFromRequest(t *testing.T) {
	release := make(chan struct{})
	var deliveredErr error
	var deliveredID string
	notifier := &mockNotifier{
		notifyFn: func(ctx context.Context, stream domain.StreamSnapshot) error {
			<-release
			deliveredErr = ctx.Err()
			deliveredID, _ = correlation.ID(ctx)
			return nil
		},
	}
	d := NewDispatcher(&mockTwitch{}, registeredBroadcaster(), notifier, nil)

	reqCtx, cancel := context.WithCancel(correlation.WithID(context.Background(), "abcd1234"))
	d.StreamOnline(reqCtx, onlineEvent)
	cancel()

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	require.Error(t, d.Wait(short), "delivery still blocked")

	close(release)
	waitForDeliveries(t, d)

	assert.NoError(t, deliveredErr, "request cancellation must not reach the delivery")
	assert.Equal(t, "abcd1234", deliveredID)
}

func TestDispatcher_StreamOnlineSkipsUnregisteredBroadcaster(t *testing.T) {
	tw := &mockTwitch{
		fetchLiveStreamFn: func(ctx context.Context, userID string) (*domain.StreamSnapshot, error) {
			t.Error("no stream lookup for unregistered broadcasters")
			return nil, nil
		},
	}
	notifier := &mockNotifier{}
	d := NewDispatcher(tw, &mockRegistry{}, notifier, nil)

	d.StreamOnline(context.Background(), onlineEvent)
	waitForDeliveries(t, d)

	assert.Empty(t, notifier.streams())
}

func TestDispatcher_StreamOnlineDeliversWhenLookupFails(t *testing.T) {
	registry := &mockRegistry{
		getBroadcasterFn: func(ctx context.Context, id string) (*domain.Broadcaster, error) {
			return nil, errors.New("pool closed")
		},
	}
	notifier := &mockNotifier{}
	d := NewDispatcher(&mockTwitch{}, registry, notifier, nil)

	d.StreamOnline(context.Background(), onlineEvent)
	waitForDeliveries(t, d)

	assert.Len(t, notifier.streams(), 1)
}

func TestDispatcher_StreamOnlineNotLive(t *testing.T) {
	tw := &mockTwitch{
		fetchLiveStreamFn: func(ctx context.Context, userID string) (*domain.StreamSnapshot, error) {
			return nil, errors.New("stream is not live")
		},
	}
	notifier := &mockNotifier{}
	d := NewDispatcher(tw, registeredBroadcaster(), notifier, nil)

	d.StreamOnline(context.Background(), onlineEvent)
	waitForDeliveries(t, d)

	assert.Empty(t, notifier.streams())
}

func TestDispatcher_RecoversFromPanic(t *testing.T) {
	notifier := &mockNotifier{
		notifyFn: func(ctx context.Context, stream domain.StreamSnapshot) error {
			panic("boom")
		},
	}
	d := NewDispatcher(&mockTwitch{}, registeredBroadcaster(), notifier, nil)

	d.StreamOnline(context.Background(), onlineEvent)
	waitForDeliveries(t, d)

	assert.Len(t, notifier.streams(), 1)
}

func TestDispatcher_RevokedDelegates(t *testing.T) {
	var gotBroadcaster, gotSubscription string
	revocations := revocationFunc(func(ctx context.Context, broadcasterID, subscriptionID string) error {
		gotBroadcaster, gotSubscription = broadcasterID, subscriptionID
		return errors.New("logged only")
	})
	d := NewDispatcher(&mockTwitch{}, &mockRegistry{}, &mockNotifier{}, revocations)

	d.Revoked(context.Background(), domain.RevocationEvent{SubscriptionID: "es1", BroadcasterUserID: "555", Status: "authorization_revoked"})

	assert.Equal(t, "555", gotBroadcaster)
	assert.Equal(t, "es1", gotSubscription)
}
