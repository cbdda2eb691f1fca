package metrics

import "github.com/prometheus/client_golang/prometheus"

// TwitchMetrics tracks calls against the Helix and OAuth endpoints.
type TwitchMetrics struct {
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	TokenRefreshes  *prometheus.CounterVec
}

func NewTwitchMetrics(reg prometheus.Registerer) *TwitchMetrics {
	m := &TwitchMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "twitch_api",
			Name:      "requests_total",
			Help:      "Total Twitch API requests, by operation and outcome.",
		}, []string{"operation", "outcome"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "twitch_api",
			Name:      "request_duration_seconds",
			Help:      "Duration of Twitch API requests in seconds.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"operation"}),
		TokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "twitch_api",
			Name:      "app_token_refreshes_total",
			Help:      "Total app access token refreshes, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.Requests, m.RequestDuration, m.TokenRefreshes)
	return m
}
