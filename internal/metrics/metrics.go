package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	jobsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calsync",
			Name:      "jobs_enqueued_total",
			Help:      "Sync jobs enqueued by type.",
		},
		[]string{"job_type"},
	)

	jobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calsync",
			Name:      "jobs_processed_total",
			Help:      "Sync jobs completed successfully by type.",
		},
		[]string{"job_type"},
	)

	jobsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calsync",
			Name:      "jobs_failed_total",
			Help:      "Sync job handler failures by type.",
		},
		[]string{"job_type"},
	)

	jobsDead = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calsync",
			Name:      "jobs_dead_total",
			Help:      "Sync jobs that exhausted retries by type.",
		},
		[]string{"job_type"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "calsync",
			Name:      "job_duration_seconds",
			Help:      "Sync job handler duration by type.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"job_type"},
	)

	webhookNotifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calsync",
			Name:      "webhook_notifications_total",
			Help:      "Inbound webhook notifications by outcome.",
		},
		[]string{"outcome"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calsync",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			jobsEnqueued,
			jobsProcessed,
			jobsFailed,
			jobsDead,
			jobDuration,
			webhookNotifications,
			httpRequests,
		)
	})
}

func IncJobEnqueued(jobType string)  { jobsEnqueued.WithLabelValues(jobType).Inc() }
func IncJobProcessed(jobType string) { jobsProcessed.WithLabelValues(jobType).Inc() }
func IncJobFailed(jobType string)    { jobsFailed.WithLabelValues(jobType).Inc() }
func IncJobDead(jobType string)      { jobsDead.WithLabelValues(jobType).Inc() }

func ObserveJobDuration(jobType string, d time.Duration) {
	jobDuration.WithLabelValues(jobType).Observe(d.Seconds())
}

// IncWebhook records a webhook outcome: accepted, unknown_channel,
// invalid_token or missing_headers.
func IncWebhook(outcome string) { webhookNotifications.WithLabelValues(outcome).Inc() }

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) { httpRequests.WithLabelValues(endpoint).Inc() }
