// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Search API
	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fizzbot_search_requests_total",
			Help: "Search requests by site and outcome",
		},
		[]string{"site", "outcome"}, // "ok", "status", "transport", "decode"
	)

	SearchItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fizzbot_search_items_total",
			Help: "Excerpts returned by site",
		},
		[]string{"site"},
	)

	SearchBackoffSeconds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fizzbot_search_backoff_seconds_total",
			Help: "Server-mandated backoff waited, in seconds",
		},
		[]string{"site"},
	)

	SearchQuotaRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fizzbot_search_quota_remaining",
			Help: "Last reported API quota remaining",
		},
	)

	// Webhook
	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fizzbot_webhook_deliveries_total",
			Help: "Webhook POSTs by outcome",
		},
		[]string{"outcome"}, // "ok", "status", "transport"
	)

	// Scheduler
	Cycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fizzbot_cycles_total",
			Help: "Completed cycles by outcome",
		},
		[]string{"outcome"}, // "success" or "failure"
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fizzbot_cycle_duration_seconds",
			Help:    "Wall time of one query-compose-deliver cycle",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	NextWakeTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fizzbot_next_wake_timestamp_seconds",
			Help: "Unix time the scheduler will start the next cycle",
		},
	)
)
