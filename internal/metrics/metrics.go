// Package metrics holds the Prometheus collectors for campaign delivery.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Delivery attempts partitioned by category (mass_mailing, custom) and outcome
	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailer_delivery_attempts_total",
			Help: "Total number of single-recipient delivery attempts",
		},
		[]string{"category", "status"},
	)

	// Campaign send operations by terminal outcome (sent, failed)
	CampaignSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailer_campaign_sends_total",
			Help: "Total number of campaign send operations by outcome",
		},
		[]string{"outcome"},
	)

	SendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailer_campaign_send_duration_seconds",
			Help:    "Wall time of a campaign send from claim to finalize",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
	)

	SchedulerTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailer_scheduler_ticks_total",
			Help: "Total number of scheduler scans",
		},
	)

	// Claims by result: claimed, skipped (another instance won), error
	SchedulerClaims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailer_scheduler_claims_total",
			Help: "Due campaigns seen by the scheduler, by claim result",
		},
		[]string{"result"},
	)

	StuckCampaigns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailer_stuck_campaigns",
			Help: "Campaigns in sending with no recent delivery activity, as of the last scan",
		},
	)
)
