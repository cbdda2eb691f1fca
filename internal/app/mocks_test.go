package app

import (
	"context"
	"sync"

	"github.com/plyoox/notificator/internal/domain"
)

type mockRegistry struct {
	getBroadcasterFn           func(ctx context.Context, broadcasterID string) (*domain.Broadcaster, error)
	listBroadcastersFn         func(ctx context.Context) ([]domain.Broadcaster, error)
	createRegistrationFn       func(ctx context.Context, broadcaster domain.Broadcaster, guildID int64) (*domain.Registration, error)
	attachRegistrationFn       func(ctx context.Context, broadcaster domain.Broadcaster, guildID int64) (*domain.Registration, error)
	deleteRegistrationFn       func(ctx context.Context, registrationID int64) (*domain.ReleasedBroadcaster, error)
	deleteGuildFn              func(ctx context.Context, guildID int64) ([]domain.ReleasedBroadcaster, error)
	deleteRevokedBroadcasterFn func(ctx context.Context, broadcasterID, subscriptionID string) (int64, error)
	replaceSubscriptionFn      func(ctx context.Context, broadcasterID, oldID, newID string) error
	countRegistrationsFn       func(ctx context.Context, broadcasterID string) (int64, error)
}

func (m *mockRegistry) GetBroadcaster(ctx context.Context, broadcasterID string) (*domain.Broadcaster, error) {
	if m.getBroadcasterFn != nil {
		return m.getBroadcasterFn(ctx, broadcasterID)
	}
	return nil, domain.ErrBroadcasterNotFound
}

func (m *mockRegistry) ListBroadcasters(ctx context.Context) ([]domain.Broadcaster, error) {
	if m.listBroadcastersFn != nil {
		return m.listBroadcastersFn(ctx)
	}
	return nil, nil
}

func (m *mockRegistry) CreateRegistration(ctx context.Context, broadcaster domain.Broadcaster, guildID int64) (*domain.Registration, error) {
	if m.createRegistrationFn != nil {
		return m.createRegistrationFn(ctx, broadcaster, guildID)
	}
	return &domain.Registration{ID: 1, GuildID: guildID, BroadcasterID: broadcaster.ID}, nil
}

// AttachRegistration falls back to CreateRegistration so tests that only
// care about the stored result need a single hook.
func (m *mockRegistry) AttachRegistration(ctx context.Context, broadcaster domain.Broadcaster, guildID int64) (*domain.Registration, error) {
	if m.attachRegistrationFn != nil {
		return m.attachRegistrationFn(ctx, broadcaster, guildID)
	}
	return m.CreateRegistration(ctx, broadcaster, guildID)
}

func (m *mockRegistry) DeleteRegistration(ctx context.Context, registrationID int64) (*domain.ReleasedBroadcaster, error) {
	if m.deleteRegistrationFn != nil {
		return m.deleteRegistrationFn(ctx, registrationID)
	}
	return nil, domain.ErrRegistrationNotFound
}

func (m *mockRegistry) DeleteGuild(ctx context.Context, guildID int64) ([]domain.ReleasedBroadcaster, error) {
	if m.deleteGuildFn != nil {
		return m.deleteGuildFn(ctx, guildID)
	}
	return nil, nil
}

func (m *mockRegistry) DeleteRevokedBroadcaster(ctx context.Context, broadcasterID, subscriptionID string) (int64, error) {
	if m.deleteRevokedBroadcasterFn != nil {
		return m.deleteRevokedBroadcasterFn(ctx, broadcasterID, subscriptionID)
	}
	return 0, domain.ErrBroadcasterNotFound
}

func (m *mockRegistry) ReplaceSubscription(ctx context.Context, broadcasterID, oldID, newID string) error {
	if m.replaceSubscriptionFn != nil {
		return m.replaceSubscriptionFn(ctx, broadcasterID, oldID, newID)
	}
	return nil
}

func (m *mockRegistry) CountRegistrations(ctx context.Context, broadcasterID string) (int64, error) {
	if m.countRegistrationsFn != nil {
		return m.countRegistrationsFn(ctx, broadcasterID)
	}
	return 0, nil
}

type mockTwitch struct {
	exchangeUserCodeFn       func(ctx context.Context, code string) (string, error)
	fetchUserFn              func(ctx context.Context, userToken string) (*domain.TwitchUser, error)
	createSubscriptionFn     func(ctx context.Context, broadcasterID string) (string, error)
	findSubscriptionByUserFn func(ctx context.Context, broadcasterID string) (*domain.RemoteSubscription, error)
	deleteSubscriptionFn     func(ctx context.Context, subscriptionID string) error
	fetchLiveStreamFn        func(ctx context.Context, userID string) (*domain.StreamSnapshot, error)
	listSubscriptionsFn      func(ctx context.Context) ([]domain.RemoteSubscription, error)

	mu      sync.Mutex
	deleted []string
}

func (m *mockTwitch) ExchangeUserCode(ctx context.Context, code string) (string, error) {
	if m.exchangeUserCodeFn != nil {
		return m.exchangeUserCodeFn(ctx, code)
	}
	return "user-token", nil
}

func (m *mockTwitch) FetchUser(ctx context.Context, userToken string) (*domain.TwitchUser, error) {
	if m.fetchUserFn != nil {
		return m.fetchUserFn(ctx, userToken)
	}
	return &domain.TwitchUser{ID: "555", Login: "lirik", DisplayName: "LIRIK", ProfileImageURL: "https://cdn.example/555.png"}, nil
}

func (m *mockTwitch) CreateSubscription(ctx context.Context, broadcasterID string) (string, error) {
	if m.createSubscriptionFn != nil {
		return m.createSubscriptionFn(ctx, broadcasterID)
	}
	return "es1", nil
}

func (m *mockTwitch) FindSubscriptionByUser(ctx context.Context, broadcasterID string) (*domain.RemoteSubscription, error) {
	if m.findSubscriptionByUserFn != nil {
		return m.findSubscriptionByUserFn(ctx, broadcasterID)
	}
	return nil, nil
}

// DeleteSubscription records every attempted id.
func (m *mockTwitch) DeleteSubscription(ctx context.Context, subscriptionID string) error {
	m.mu.Lock()
	m.deleted = append(m.deleted, subscriptionID)
	m.mu.Unlock()

	if m.deleteSubscriptionFn != nil {
		return m.deleteSubscriptionFn(ctx, subscriptionID)
	}
	return nil
}

func (m *mockTwitch) FetchLiveStream(ctx context.Context, userID string) (*domain.StreamSnapshot, error) {
	if m.fetchLiveStreamFn != nil {
		return m.fetchLiveStreamFn(ctx, userID)
	}
	return &domain.StreamSnapshot{ID: "s1", UserID: userID, UserLogin: "lirik"}, nil
}

func (m *mockTwitch) ListSubscriptions(ctx context.Context) ([]domain.RemoteSubscription, error) {
	if m.listSubscriptionsFn != nil {
		return m.listSubscriptionsFn(ctx)
	}
	return nil, nil
}

func (m *mockTwitch) deletedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

type mockNotifier struct {
	notifyFn func(ctx context.Context, stream domain.StreamSnapshot) error

	mu       sync.Mutex
	notified []domain.StreamSnapshot
}

func (m *mockNotifier) Notify(ctx context.Context, stream domain.StreamSnapshot) error {
	m.mu.Lock()
	m.notified = append(m.notified, stream)
	m.mu.Unlock()

	if m.notifyFn != nil {
		return m.notifyFn(ctx, stream)
	}
	return nil
}

func (m *mockNotifier) streams() []domain.StreamSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.StreamSnapshot(nil), m.notified...)
}

type mockLeader struct {
	tryAcquireFn func(ctx context.Context) (bool, error)

	mu       sync.Mutex
	released int
}

func (m *mockLeader) TryAcquire(ctx context.Context) (bool, error) {
	if m.tryAcquireFn != nil {
		return m.tryAcquireFn(ctx)
	}
	return true, nil
}

func (m *mockLeader) Release(context.Context) error {
	m.mu.Lock()
	m.released++
	m.mu.Unlock()
	return nil
}

func (m *mockLeader) releases() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

// memoryRegistry keeps the reference-count semantics of the Postgres
// repository in memory for scenario tests.
type memoryRegistry struct {
	mu            sync.Mutex
	nextID        int64
	broadcasters  map[string]domain.Broadcaster
	registrations map[int64]domain.Registration
}

func newMemoryRegistry() *memoryRegistry {
	return &memoryRegistry{
		broadcasters:  make(map[string]domain.Broadcaster),
		registrations: make(map[int64]domain.Registration),
	}
}

func (r *memoryRegistry) GetBroadcaster(_ context.Context, broadcasterID string) (*domain.Broadcaster, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.broadcasters[broadcasterID]
	if !ok {
		return nil, domain.ErrBroadcasterNotFound
	}
	return &b, nil
}

func (r *memoryRegistry) ListBroadcasters(context.Context) ([]domain.Broadcaster, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Broadcaster, 0, len(r.broadcasters))
	for _, b := range r.broadcasters {
		out = append(out, b)
	}
	return out, nil
}

func (r *memoryRegistry) CreateRegistration(_ context.Context, broadcaster domain.Broadcaster, guildID int64) (*domain.Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insert(broadcaster, guildID)
}

func (r *memoryRegistry) AttachRegistration(_ context.Context, broadcaster domain.Broadcaster, guildID int64) (*domain.Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.broadcasters[broadcaster.ID]
	if !ok || current.EventSubscriptionID != broadcaster.EventSubscriptionID {
		return nil, domain.ErrSubscriptionStale
	}
	return r.insert(broadcaster, guildID)
}

func (r *memoryRegistry) insert(broadcaster domain.Broadcaster, guildID int64) (*domain.Registration, error) {
	for _, reg := range r.registrations {
		if reg.GuildID == guildID && reg.BroadcasterID == broadcaster.ID {
			return nil, domain.ErrRegistrationExists
		}
	}
	r.broadcasters[broadcaster.ID] = broadcaster
	r.nextID++
	reg := domain.Registration{ID: r.nextID, GuildID: guildID, BroadcasterID: broadcaster.ID}
	r.registrations[reg.ID] = reg
	return &reg, nil
}

func (r *memoryRegistry) DeleteRegistration(_ context.Context, registrationID int64) (*domain.ReleasedBroadcaster, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.registrations[registrationID]
	if !ok {
		return nil, domain.ErrRegistrationNotFound
	}
	delete(r.registrations, registrationID)
	released := r.releaseUnreferenced(reg.BroadcasterID)
	if len(released) == 0 {
		return nil, nil
	}
	return &released[0], nil
}

func (r *memoryRegistry) DeleteGuild(_ context.Context, guildID int64) ([]domain.ReleasedBroadcaster, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var touched []string
	for id, reg := range r.registrations {
		if reg.GuildID == guildID {
			delete(r.registrations, id)
			touched = append(touched, reg.BroadcasterID)
		}
	}
	return r.releaseUnreferenced(touched...), nil
}

func (r *memoryRegistry) releaseUnreferenced(ids ...string) []domain.ReleasedBroadcaster {
	var released []domain.ReleasedBroadcaster
	for _, id := range ids {
		b, ok := r.broadcasters[id]
		if !ok || r.count(id) > 0 {
			continue
		}
		delete(r.broadcasters, id)
		released = append(released, domain.ReleasedBroadcaster{BroadcasterID: id, EventSubscriptionID: b.EventSubscriptionID})
	}
	return released
}

func (r *memoryRegistry) DeleteRevokedBroadcaster(_ context.Context, broadcasterID, subscriptionID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.broadcasters[broadcasterID]
	if !ok || b.EventSubscriptionID != subscriptionID {
		return 0, domain.ErrBroadcasterNotFound
	}
	var dropped int64
	for id, reg := range r.registrations {
		if reg.BroadcasterID == broadcasterID {
			delete(r.registrations, id)
			dropped++
		}
	}
	delete(r.broadcasters, broadcasterID)
	return dropped, nil
}

func (r *memoryRegistry) ReplaceSubscription(_ context.Context, broadcasterID, oldID, newID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.broadcasters[broadcasterID]
	if !ok || b.EventSubscriptionID != oldID {
		return domain.ErrBroadcasterNotFound
	}
	b.EventSubscriptionID = newID
	r.broadcasters[broadcasterID] = b
	return nil
}

func (r *memoryRegistry) CountRegistrations(_ context.Context, broadcasterID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count(broadcasterID), nil
}

func (r *memoryRegistry) count(broadcasterID string) int64 {
	var n int64
	for _, reg := range r.registrations {
		if reg.BroadcasterID == broadcasterID {
			n++
		}
	}
	return n
}
