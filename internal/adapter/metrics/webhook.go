package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics tracks inbound EventSub messages and downstream deliveries.
type WebhookMetrics struct {
	Messages   *prometheus.CounterVec
	Deliveries *prometheus.CounterVec
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	m := &WebhookMetrics{
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "messages_total",
			Help:      "Total EventSub webhook messages, by message type and result.",
		}, []string{"type", "result"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bot",
			Name:      "deliveries_total",
			Help:      "Total stream notifications forwarded to the bot, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.Messages, m.Deliveries)
	return m
}
