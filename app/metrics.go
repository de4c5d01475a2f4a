package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEventsTotal counts billing webhook deliveries by event type and outcome.
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bequ",
		Name:      "webhook_events_total",
		Help:      "Total billing webhook events by type and result.",
	}, []string{"type", "result"})

	// WebhookDuration tracks webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bequ",
		Name:      "webhook_duration_seconds",
		Help:      "Billing webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"type"})

	// ChatRelayTotal counts chat relay attempts by outcome.
	ChatRelayTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bequ",
		Name:      "chat_relay_total",
		Help:      "Total chat relay attempts by result.",
	}, []string{"result"})

	// EntitlementChecksTotal counts gate decisions.
	EntitlementChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bequ",
		Name:      "entitlement_checks_total",
		Help:      "Subscription gate decisions (entitled, not_entitled, error).",
	}, []string{"result"})
)
