package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "membersync_webhooks_received_total",
		Help: "Webhook deliveries received, labelled by HTTP status returned.",
	}, []string{"status"})

	MembershipOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "membersync_membership_outcomes_total",
		Help: "Applied membership events, labelled by transition and outcome.",
	}, []string{"transition", "outcome"})

	TenantResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "membersync_tenant_resolutions_total",
		Help: "Tenant resolutions, labelled by the source that produced the tenant.",
	}, []string{"source"})

	SignatureFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "membersync_signature_failures_total",
		Help: "Webhooks rejected because of a missing or invalid signature.",
	})

	EnrichmentRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "membersync_enrichment_requests_total",
		Help: "Platform API enrichment lookups, labelled by result.",
	}, []string{"result"})

	WebhookDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "membersync_webhook_duration_ms",
		Help:    "Webhook handling latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	RulesReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "membersync_rules_reloads_total",
		Help: "Extraction rule reloads, labelled by result.",
	}, []string{"result"})
)
