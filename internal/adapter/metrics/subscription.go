package metrics

import "github.com/prometheus/client_golang/prometheus"

// SubscriptionMetrics tracks the remote subscription lifecycle.
type SubscriptionMetrics struct {
	Transitions   *prometheus.CounterVec
	Orphaned      prometheus.Counter
	SweepDeleted  prometheus.Counter
	SweepRepaired prometheus.Counter
	SweepRuns     *prometheus.CounterVec
}

func NewSubscriptionMetrics(reg prometheus.Registerer) *SubscriptionMetrics {
	m := &SubscriptionMetrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventsub",
			Name:      "transitions_total",
			Help:      "Subscription state transitions, by target state and cause.",
		}, []string{"state", "cause"}),
		Orphaned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventsub",
			Name:      "orphaned_total",
			Help:      "Remote subscriptions left behind after a failed remote delete.",
		}),
		SweepDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventsub_sweep",
			Name:      "deleted_total",
			Help:      "Orphaned remote subscriptions deleted by the sweep.",
		}),
		SweepRepaired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventsub_sweep",
			Name:      "repaired_total",
			Help:      "Broadcasters whose missing remote subscription was recreated by the sweep.",
		}),
		SweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventsub_sweep",
			Name:      "runs_total",
			Help:      "Sweep passes, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.Transitions, m.Orphaned, m.SweepDeleted, m.SweepRepaired, m.SweepRuns)
	return m
}
