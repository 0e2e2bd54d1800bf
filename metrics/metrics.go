// Package metrics provides Prometheus metrics for updatesbot.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "updatesbot"

// Result label values.
const (
	ResultOK        = "ok"
	ResultTransport = "transport_error"
	ResultMalformed = "malformed"
	ResultFailed    = "failed"
	ResultGated     = "gated"
)

var (
	// FeedFetches counts feed fetch attempts by outcome.
	FeedFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_fetches_total",
			Help:      "Total number of feed fetches",
		},
		[]string{"feed", "result"},
	)

	// FetchDuration measures feed fetch duration.
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_fetch_duration_seconds",
			Help:      "Duration of feed fetches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"feed"},
	)

	// NewUpdates counts updates that were not seen during the previous fetch.
	NewUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "new_updates_total",
			Help:      "Total number of new updates detected",
		},
		[]string{"feed"},
	)

	// WebhookPosts counts webhook deliveries by outcome.
	WebhookPosts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_posts_total",
			Help:      "Total number of webhook posts",
		},
		[]string{"webhook", "result"},
	)

	// Cycles counts workflow cycles.
	Cycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Total number of workflow cycles",
		},
		[]string{"kind", "result"},
	)
)

// RecordFetch records a feed fetch.
func RecordFetch(feedID, result string, seconds float64) {
	FeedFetches.WithLabelValues(feedID, result).Inc()
	FetchDuration.WithLabelValues(feedID).Observe(seconds)
}

func RecordNewUpdates(feedID string, n int) {
	NewUpdates.WithLabelValues(feedID).Add(float64(n))
}

func RecordPost(webhook, result string) {
	WebhookPosts.WithLabelValues(webhook, result).Inc()
}

// RecordCycle records a finished cycle; kind is "init" or "regular".
func RecordCycle(kind, result string) {
	Cycles.WithLabelValues(kind, result).Inc()
}
