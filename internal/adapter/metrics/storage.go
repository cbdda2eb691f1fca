package metrics

import "github.com/prometheus/client_golang/prometheus"

// StorageMetrics tracks Postgres queries and Redis commands.
type StorageMetrics struct {
	DBQueryDuration     *prometheus.HistogramVec
	DBErrors            *prometheus.CounterVec
	RedisCommands       *prometheus.CounterVec
	RedisBreakerState   prometheus.Gauge
	RedisBreakerChanges *prometheus.CounterVec
}

func NewStorageMetrics(reg prometheus.Registerer) *StorageMetrics {
	m := &StorageMetrics{
		DBQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Postgres query duration in seconds, by statement kind.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"query"}),
		DBErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "errors_total",
			Help:      "Failed Postgres queries, by statement kind.",
		}, []string{"query"}),
		RedisCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "commands_total",
			Help:      "Redis commands, by command and outcome.",
		}, []string{"command", "outcome"}),
		RedisBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "circuit_breaker_state",
			Help:      "Redis circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
		RedisBreakerChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "circuit_breaker_transitions_total",
			Help:      "Redis circuit breaker transitions, by new state.",
		}, []string{"state"}),
	}

	reg.MustRegister(m.DBQueryDuration, m.DBErrors, m.RedisCommands, m.RedisBreakerState, m.RedisBreakerChanges)
	return m
}
