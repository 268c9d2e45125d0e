package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Listing job queue
	JobsEnqueued   *prometheus.CounterVec
	JobsCompleted  *prometheus.CounterVec
	JobsFailed     *prometheus.CounterVec
	JobsRetried    *prometheus.CounterVec
	JobDuration    *prometheus.HistogramVec
	JobsInFlight   prometheus.Gauge
	RateLimitWaits *prometheus.HistogramVec

	// Webhook ingestion
	WebhooksReceived  *prometheus.CounterVec
	WebhooksRejected  *prometheus.CounterVec
	WebhooksDuplicate *prometheus.CounterVec

	// Delisting orchestrator
	DelistingOutcomes *prometheus.CounterVec
	DelistingTargets  *prometheus.CounterVec
	DelistingDuration prometheus.Histogram

	// Notification dispatcher
	NotificationsSent   *prometheus.CounterVec
	NotificationsFailed *prometheus.CounterVec
}

// NewMetrics creates and registers all application metrics
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		JobsEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listing_jobs_enqueued_total",
			Help:      "Total number of listing jobs enqueued",
		}, []string{"marketplace"}),
		JobsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listing_jobs_completed_total",
			Help:      "Total number of listing jobs that completed successfully",
		}, []string{"marketplace"}),
		JobsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listing_jobs_failed_total",
			Help:      "Total number of listing jobs that exhausted their retries",
		}, []string{"marketplace"}),
		JobsRetried: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listing_jobs_retried_total",
			Help:      "Total number of listing job retry attempts",
		}, []string{"marketplace"}),
		JobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "listing_job_duration_seconds",
			Help:      "Time spent executing one listing job attempt",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"marketplace"}),
		JobsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "listing_jobs_in_flight",
			Help:      "Number of listing jobs currently executing",
		}),
		RateLimitWaits: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent blocked on the outbound rate limiter",
			Buckets:   []float64{.001, .01, .1, .5, 1, 5, 15, 60},
		}, []string{"marketplace"}),

		WebhooksReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_received_total",
			Help:      "Total number of webhook deliveries accepted",
		}, []string{"marketplace"}),
		WebhooksRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_rejected_total",
			Help:      "Total number of webhook deliveries rejected",
		}, []string{"marketplace", "reason"}),
		WebhooksDuplicate: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_duplicate_total",
			Help:      "Total number of duplicate webhook deliveries recognized",
		}, []string{"marketplace"}),

		DelistingOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delisting_jobs_total",
			Help:      "Delisting job outcomes by final status",
		}, []string{"status"}),
		DelistingTargets: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delisting_targets_total",
			Help:      "Per-marketplace end-listing attempt results",
		}, []string{"marketplace", "result"}),
		DelistingDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delisting_job_duration_seconds",
			Help:      "Time spent executing one delisting job run",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 300},
		}),

		NotificationsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Notifications delivered per channel",
		}, []string{"channel"}),
		NotificationsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_failed_total",
			Help:      "Notification channel failures",
		}, []string{"channel"}),
	}
}
