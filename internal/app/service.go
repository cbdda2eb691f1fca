package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/plyoox/notificator/internal/adapter/metrics"
	"github.com/plyoox/notificator/internal/domain"
	apperrors "github.com/plyoox/notificator/internal/platform/errors"
	"github.com/plyoox/notificator/internal/platform/retry"
	"golang.org/x/sync/singleflight"
)

const (
	opEnsureSubscription  = "ensureSubscription"
	opCreateNotification  = "createNotification"
	opReleaseRegistration = "releaseRegistration"
	opReleaseGuild        = "releaseGuild"

	retryInitialBackoff   = 1 * time.Second
	retryRateLimitBackoff = 30 * time.Second
	retryMaxBackoff       = 30 * time.Second

	// compensationTimeout bounds remote cleanup that runs after the caller
	// has already failed.
	compensationTimeout = 10 * time.Second

	stateActive = "active"
	stateAbsent = "absent"
)

// Service is the subscription lifecycle manager. Remote subscriptions are
// created before the local commit and deleted after it, so a remote failure
// can only ever leave an orphaned remote subscription, never a local row
// pointing at nothing.
type Service struct {
	registry domain.RegistryRepository
	twitch   domain.TwitchAPI
	metrics  *metrics.SubscriptionMetrics
	retry    retry.Policy

	ensureGroup singleflight.Group
}

func NewService(registry domain.RegistryRepository, twitch domain.TwitchAPI, m *metrics.SubscriptionMetrics) *Service {
	return &Service{
		registry: registry,
		twitch:   twitch,
		metrics:  m,
		retry: retry.Policy{
			MaxAttempts:      3,
			InitialBackoff:   retryInitialBackoff,
			RateLimitBackoff: retryRateLimitBackoff,
			MaxBackoff:       retryMaxBackoff,
		},
	}
}

// CreateNotification registers guildID for the broadcaster who authorized
// code and returns the registration id.
func (s *Service) CreateNotification(ctx context.Context, code string, guildID int64) (int64, error) {
	userToken, err := s.twitch.ExchangeUserCode(ctx, code)
	if err != nil {
		return 0, err
	}

	user, err := s.twitch.FetchUser(ctx, userToken)
	if err != nil {
		return 0, err
	}

	var (
		sub subscriptionRef
		reg *domain.Registration
	)
	for attempt := range 2 {
		sub, err = s.ensureSubscription(ctx, user.ID)
		if err != nil {
			return 0, err
		}

		broadcaster := domain.Broadcaster{
			ID:                  user.ID,
			DisplayName:         user.DisplayName,
			AvatarURL:           user.ProfileImageURL,
			EventSubscriptionID: sub.id,
		}
		if sub.stored {
			reg, err = s.registry.AttachRegistration(ctx, broadcaster, guildID)
		} else {
			reg, err = s.registry.CreateRegistration(ctx, broadcaster, guildID)
		}
		if !errors.Is(err, domain.ErrSubscriptionStale) {
			break
		}
		slog.WarnContext(ctx, "Stored subscription released before registration, retrying",
			"guild_id", guildID, "broadcaster_id", user.ID, "subscription_id", sub.id, "attempt", attempt+1)
	}

	switch {
	case errors.Is(err, domain.ErrRegistrationExists):
		return 0, apperrors.ConflictError("notification already exists").
			WithOp(opCreateNotification).
			WithField("guild_id", guildID).
			WithField("broadcaster_id", user.ID)
	case errors.Is(err, domain.ErrSubscriptionStale):
		return 0, apperrors.ConcurrencyError("broadcaster subscription changed concurrently", err).
			WithOp(opCreateNotification).
			WithField("broadcaster_id", user.ID)
	case err != nil:
		slog.ErrorContext(ctx, "Failed to store registration", "guild_id", guildID, "broadcaster_id", user.ID, "error", err)
		if sub.created {
			s.compensate(ctx, user.ID, sub.id)
		}
		return 0, apperrors.PersistenceError("failed to store registration", err).WithOp(opCreateNotification)
	}

	s.metrics.Transitions.WithLabelValues(stateActive, "registered").Inc()
	slog.InfoContext(ctx, "Registration created",
		"registration_id", reg.ID, "guild_id", guildID, "broadcaster_id", user.ID, "subscription_id", sub.id)
	return reg.ID, nil
}

// compensate removes a subscription this request created but could not
// record. It runs detached from ctx because the request is failing anyway.
func (s *Service) compensate(ctx context.Context, broadcasterID, subscriptionID string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	if err := s.twitch.DeleteSubscription(cleanupCtx, subscriptionID); err != nil {
		s.metrics.Orphaned.Inc()
		slog.ErrorContext(ctx, "Failed to remove subscription after failed registration, subscription orphaned",
			"broadcaster_id", broadcasterID, "subscription_id", subscriptionID, "error", err)
		return
	}
	slog.WarnContext(ctx, "Removed subscription after failed registration", "broadcaster_id", broadcasterID, "subscription_id", subscriptionID)
}

// subscriptionRef is a subscription id and where it came from.
type subscriptionRef struct {
	id string
	// created is set only for the caller that created the remote subscription
	// and did not share it with a concurrent caller.
	created bool
	// stored means id was read from the broadcaster row and may be released
	// by a concurrent delete before it is registered against.
	stored bool
}

// EnsureSubscription returns the broadcaster's subscription id, creating the
// remote subscription when none is stored. created is true only when this
// call created it and did not share the result with a concurrent caller.
func (s *Service) EnsureSubscription(ctx context.Context, broadcasterID string) (string, bool, error) {
	sub, err := s.ensureSubscription(ctx, broadcasterID)
	return sub.id, sub.created, err
}

func (s *Service) ensureSubscription(ctx context.Context, broadcasterID string) (subscriptionRef, error) {
	existing, err := s.registry.GetBroadcaster(ctx, broadcasterID)
	switch {
	case err == nil && existing.HasSubscription():
		return subscriptionRef{id: existing.EventSubscriptionID, stored: true}, nil
	case err != nil && !errors.Is(err, domain.ErrBroadcasterNotFound):
		return subscriptionRef{}, apperrors.PersistenceError("failed to look up broadcaster", err).WithOp(opEnsureSubscription)
	}

	type result struct {
		id      string
		created bool
	}

	// The flight outlives any single caller so that one cancelled request
	// does not fail the others waiting on it.
	ch := s.ensureGroup.DoChan(broadcasterID, func() (any, error) {
		id, created, err := s.createSubscription(context.WithoutCancel(ctx), broadcasterID)
		return result{id: id, created: created}, err
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return subscriptionRef{}, res.Err
		}
		r := res.Val.(result)
		return subscriptionRef{id: r.id, created: r.created && !res.Shared}, nil
	case <-ctx.Done():
		return subscriptionRef{}, apperrors.ConcurrencyError("gave up waiting for subscription", ctx.Err()).
			WithOp(opEnsureSubscription).
			WithField("broadcaster_id", broadcasterID)
	}
}

// createSubscription creates the remote subscription, reusing the existing one
// when Twitch reports a conflict.
func (s *Service) createSubscription(ctx context.Context, broadcasterID string) (string, bool, error) {
	p := s.retry
	p.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.WarnContext(ctx, "EventSub subscribe failed, retrying",
			"broadcaster_id", broadcasterID, "attempt", attempt, "backoff_seconds", backoff.Seconds(), "error", err)
	}

	type outcome struct {
		id      string
		created bool
	}

	res, err := retry.Do(ctx, p, classifyTwitchError, func(ctx context.Context) (outcome, error) {
		id, err := s.twitch.CreateSubscription(ctx, broadcasterID)
		if err == nil {
			return outcome{id: id, created: true}, nil
		}
		if !apperrors.IsType(err, apperrors.TypeConflict) {
			return outcome{}, err
		}

		slog.InfoContext(ctx, "EventSub subscription already exists on Twitch, recovering", "broadcaster_id", broadcasterID)
		remote, err := s.twitch.FindSubscriptionByUser(ctx, broadcasterID)
		if err != nil {
			return outcome{}, err
		}
		if remote == nil {
			return outcome{}, apperrors.InternalError("twitch reported a conflict but no subscription was found", nil).
				WithOp(opEnsureSubscription).
				WithField("broadcaster_id", broadcasterID)
		}
		return outcome{id: remote.ID}, nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "EventSub subscribe failed", "broadcaster_id", broadcasterID, "error", err)
		return "", false, err
	}

	if res.created {
		slog.InfoContext(ctx, "EventSub subscription created", "broadcaster_id", broadcasterID, "subscription_id", res.id)
	}
	return res.id, res.created, nil
}

// ReleaseRegistration deletes one registration and, when it was the last for
// its broadcaster, the remote subscription.
func (s *Service) ReleaseRegistration(ctx context.Context, registrationID int64) error {
	released, err := s.registry.DeleteRegistration(ctx, registrationID)
	if errors.Is(err, domain.ErrRegistrationNotFound) {
		return apperrors.ValidationError("registration not found").
			WithOp(opReleaseRegistration).
			WithField("registration_id", registrationID)
	}
	if err != nil {
		return apperrors.PersistenceError("failed to delete registration", err).WithOp(opReleaseRegistration)
	}

	slog.InfoContext(ctx, "Registration deleted", "registration_id", registrationID)
	if released != nil {
		s.deleteRemote(ctx, *released)
	}
	return nil
}

// ReleaseGuild deletes every registration of the guild. Unknown guilds are
// not an error.
func (s *Service) ReleaseGuild(ctx context.Context, guildID int64) error {
	released, err := s.registry.DeleteGuild(ctx, guildID)
	if err != nil {
		return apperrors.PersistenceError("failed to delete guild registrations", err).
			WithOp(opReleaseGuild).
			WithField("guild_id", guildID)
	}

	slog.InfoContext(ctx, "Guild registrations deleted", "guild_id", guildID, "released_broadcasters", len(released))
	for _, b := range released {
		s.deleteRemote(ctx, b)
	}
	return nil
}

// deleteRemote runs after the local commit. Failures leave an orphan for the
// sweep and never fail the caller.
func (s *Service) deleteRemote(ctx context.Context, released domain.ReleasedBroadcaster) {
	s.metrics.Transitions.WithLabelValues(stateAbsent, "released").Inc()
	if released.EventSubscriptionID == "" {
		return
	}

	p := s.retry
	p.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.WarnContext(ctx, "EventSub unsubscribe failed, retrying",
			"subscription_id", released.EventSubscriptionID, "attempt", attempt, "backoff_seconds", backoff.Seconds(), "error", err)
	}

	err := retry.DoVoid(ctx, p, classifyTwitchError, func(ctx context.Context) error {
		return s.twitch.DeleteSubscription(ctx, released.EventSubscriptionID)
	})
	if err != nil {
		s.metrics.Orphaned.Inc()
		slog.ErrorContext(ctx, "EventSub unsubscribe failed, subscription may be orphaned",
			"broadcaster_id", released.BroadcasterID, "subscription_id", released.EventSubscriptionID, "error", err)
		return
	}

	slog.InfoContext(ctx, "EventSub subscription deleted",
		"broadcaster_id", released.BroadcasterID, "subscription_id", released.EventSubscriptionID)
}

// HandleRevocation forgets a broadcaster whose subscription Twitch tore down.
// Nothing is deleted remotely. A revocation for a subscription id we no
// longer store is ignored.
func (s *Service) HandleRevocation(ctx context.Context, broadcasterID, subscriptionID string) error {
	dropped, err := s.registry.DeleteRevokedBroadcaster(ctx, broadcasterID, subscriptionID)
	if errors.Is(err, domain.ErrBroadcasterNotFound) {
		slog.InfoContext(ctx, "Revocation for unknown subscription ignored", "broadcaster_id", broadcasterID, "subscription_id", subscriptionID)
		return nil
	}
	if err != nil {
		return apperrors.PersistenceError("failed to delete revoked broadcaster", err).
			WithField("broadcaster_id", broadcasterID)
	}

	s.metrics.Transitions.WithLabelValues(stateAbsent, "revoked").Inc()
	slog.WarnContext(ctx, "EventSub subscription revoked, registrations dropped",
		"broadcaster_id", broadcasterID, "subscription_id", subscriptionID, "dropped_registrations", dropped)
	return nil
}

// classifyTwitchError retries transport failures, rate limiting and server
// errors. Everything else is final.
func classifyTwitchError(err error) retry.Action {
	e, ok := errors.AsType[*apperrors.Error](err)
	if !ok {
		return retry.Stop
	}

	switch {
	case e.Type == apperrors.TypeTransport:
		return retry.Retry
	case e.Type != apperrors.TypeRemoteAPI:
		return retry.Stop
	case e.StatusCode == 429:
		return retry.After
	case e.StatusCode >= 500:
		return retry.Retry
	default:
		return retry.Stop
	}
}
