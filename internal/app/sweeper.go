package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/plyoox/notificator/internal/adapter/metrics"
	"github.com/plyoox/notificator/internal/domain"
	"github.com/plyoox/notificator/internal/platform/correlation"
)

const (
	sweepTimeout = 90 * time.Second

	statusEnabled = "enabled"
	// statusPending subscriptions may belong to a registration that is still
	// being committed.
	statusPending = "webhook_callback_verification_pending"
)

// Leader guards the sweep so only one instance runs it.
type Leader interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type SweepReport struct {
	Remote   int
	Deleted  int
	Repaired int
	Failed   int
}

// Sweeper deletes remote subscriptions no broadcaster row references and
// recreates subscriptions that disappeared remotely.
type Sweeper struct {
	service  *Service
	leader   Leader
	clock    clockwork.Clock
	interval time.Duration
	metrics  *metrics.SubscriptionMetrics
}

// NewSweeper returns a sweeper. leader may be nil for single-instance
// deployments; interval 0 disables the loop.
func NewSweeper(service *Service, leader Leader, clock clockwork.Clock, interval time.Duration) *Sweeper {
	return &Sweeper{
		service:  service,
		leader:   leader,
		clock:    clock,
		interval: interval,
		metrics:  service.metrics,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		slog.Info("Orphan sweep disabled")
		return
	}

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	slog.Info("Orphan sweep started", "interval", s.interval.String())

	for {
		select {
		case <-ctx.Done():
			slog.Info("Orphan sweep stopped")
			return
		case <-ticker.Chan():
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(correlation.WithID(ctx, correlation.NewID()), sweepTimeout)
	defer cancel()

	if s.leader != nil {
		leader, err := s.leader.TryAcquire(ctx)
		if err != nil {
			s.metrics.SweepRuns.WithLabelValues("skipped").Inc()
			slog.WarnContext(ctx, "Orphan sweep skipped, leader election failed", "error", err)
			return
		}
		if !leader {
			s.metrics.SweepRuns.WithLabelValues("skipped").Inc()
			slog.DebugContext(ctx, "Orphan sweep skipped, another instance is leader")
			return
		}
		defer func() {
			if err := s.leader.Release(context.WithoutCancel(ctx)); err != nil {
				slog.WarnContext(ctx, "Failed to release sweep leadership", "error", err)
			}
		}()
	}

	if _, err := s.SweepOnce(ctx, false); err != nil {
		slog.ErrorContext(ctx, "Orphan sweep failed", "error", err)
	}
}

// SweepOnce runs one reconciliation pass. With dryRun nothing is changed;
// the report counts what would have been done.
func (s *Sweeper) SweepOnce(ctx context.Context, dryRun bool) (SweepReport, error) {
	report, err := s.sweep(ctx, dryRun)
	if err != nil {
		s.metrics.SweepRuns.WithLabelValues("error").Inc()
		return report, err
	}

	s.metrics.SweepRuns.WithLabelValues("success").Inc()
	slog.InfoContext(ctx, "Orphan sweep finished",
		"dry_run", dryRun, "remote", report.Remote, "deleted", report.Deleted, "repaired", report.Repaired, "failed", report.Failed)
	return report, nil
}

func (s *Sweeper) sweep(ctx context.Context, dryRun bool) (SweepReport, error) {
	var report SweepReport

	remote, err := s.service.twitch.ListSubscriptions(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list remote subscriptions: %w", err)
	}
	local, err := s.service.registry.ListBroadcasters(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list broadcasters: %w", err)
	}

	stored := make(map[string]struct{}, len(local))
	for _, b := range local {
		if b.EventSubscriptionID != "" {
			stored[b.EventSubscriptionID] = struct{}{}
		}
	}

	alive := make(map[string]struct{}, len(remote))
	for _, r := range remote {
		report.Remote++
		if r.Status == statusEnabled || r.Status == statusPending {
			alive[r.ID] = struct{}{}
		}
		if _, ok := stored[r.ID]; ok || r.Status == statusPending {
			continue
		}
		s.deleteOrphan(ctx, r, dryRun, &report)
	}

	for _, b := range local {
		if _, ok := alive[b.EventSubscriptionID]; ok {
			continue
		}
		s.repair(ctx, b, dryRun, &report)
	}

	return report, nil
}

func (s *Sweeper) deleteOrphan(ctx context.Context, r domain.RemoteSubscription, dryRun bool, report *SweepReport) {
	// A registration may have been committed since the broadcaster list was read.
	if b, err := s.service.registry.GetBroadcaster(ctx, r.BroadcasterUserID); err == nil && b.EventSubscriptionID == r.ID {
		return
	}

	if dryRun {
		report.Deleted++
		slog.InfoContext(ctx, "Would delete orphaned subscription", "subscription_id", r.ID, "broadcaster_id", r.BroadcasterUserID, "status", r.Status)
		return
	}

	if err := s.service.twitch.DeleteSubscription(ctx, r.ID); err != nil {
		report.Failed++
		slog.WarnContext(ctx, "Failed to delete orphaned subscription", "subscription_id", r.ID, "error", err)
		return
	}

	report.Deleted++
	s.metrics.SweepDeleted.Inc()
	slog.InfoContext(ctx, "Orphaned subscription deleted", "subscription_id", r.ID, "broadcaster_id", r.BroadcasterUserID)
}

func (s *Sweeper) repair(ctx context.Context, b domain.Broadcaster, dryRun bool, report *SweepReport) {
	if dryRun {
		report.Repaired++
		slog.InfoContext(ctx, "Would recreate missing subscription", "broadcaster_id", b.ID, "subscription_id", b.EventSubscriptionID)
		return
	}

	id, created, err := s.service.createSubscription(ctx, b.ID)
	if err != nil {
		report.Failed++
		slog.WarnContext(ctx, "Failed to recreate missing subscription", "broadcaster_id", b.ID, "error", err)
		return
	}

	err = s.service.registry.ReplaceSubscription(ctx, b.ID, b.EventSubscriptionID, id)
	if errors.Is(err, domain.ErrBroadcasterNotFound) {
		// Released or repaired elsewhere in the meantime.
		if created {
			s.service.compensate(ctx, b.ID, id)
		}
		return
	}
	if err != nil {
		report.Failed++
		if created {
			s.service.compensate(ctx, b.ID, id)
		}
		slog.WarnContext(ctx, "Failed to store recreated subscription", "broadcaster_id", b.ID, "error", err)
		return
	}

	report.Repaired++
	s.metrics.SweepRepaired.Inc()
	s.metrics.Transitions.WithLabelValues(stateActive, "repaired").Inc()
	slog.InfoContext(ctx, "Missing subscription recreated", "broadcaster_id", b.ID, "old_subscription_id", b.EventSubscriptionID, "subscription_id", id)
}
