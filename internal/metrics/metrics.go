// Package metrics exposes Prometheus collectors for the job queue and
// webhook delivery pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu  sync.RWMutex
	reg *prometheus.Registry

	jobsClaimed     *prometheus.CounterVec
	jobsCompleted   *prometheus.CounterVec
	jobsFailed      *prometheus.CounterVec
	jobsRequeued    *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	queueDepth      *prometheus.GaugeVec
	webhookAttempts *prometheus.CounterVec
	webhookOutcomes *prometheus.CounterVec
	fetches         *prometheus.CounterVec
)

func init() {
	resetLocked()
}

// Reset clears and reinitializes all collectors. Used by tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resetLocked()
}

// Handler returns an HTTP handler exposing metrics in Prometheus format.
func Handler() http.Handler {
	mu.RLock()
	registry := reg
	mu.RUnlock()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// IncJobClaimed records a job claim.
func IncJobClaimed(jobType string) {
	mu.RLock()
	defer mu.RUnlock()
	if jobsClaimed != nil {
		jobsClaimed.WithLabelValues(jobType).Inc()
	}
}

// ObserveJobCompleted records a successful job and its run duration.
func ObserveJobCompleted(jobType string, duration time.Duration) {
	mu.RLock()
	defer mu.RUnlock()
	if jobsCompleted != nil {
		jobsCompleted.WithLabelValues(jobType).Inc()
	}
	if jobDuration != nil {
		jobDuration.WithLabelValues(jobType, "completed").Observe(duration.Seconds())
	}
}

// ObserveJobFailed records a terminally failed job and its run duration.
func ObserveJobFailed(jobType string, duration time.Duration) {
	mu.RLock()
	defer mu.RUnlock()
	if jobsFailed != nil {
		jobsFailed.WithLabelValues(jobType).Inc()
	}
	if jobDuration != nil {
		jobDuration.WithLabelValues(jobType, "failed").Observe(duration.Seconds())
	}
}

// IncJobRequeued records a transient failure that put the job back in the
// queue.
func IncJobRequeued(jobType string) {
	mu.RLock()
	defer mu.RUnlock()
	if jobsRequeued != nil {
		jobsRequeued.WithLabelValues(jobType).Inc()
	}
}

// SetQueueDepth reports the number of jobs in a given status.
func SetQueueDepth(status string, n int) {
	mu.RLock()
	defer mu.RUnlock()
	if queueDepth != nil {
		queueDepth.WithLabelValues(status).Set(float64(n))
	}
}

// ObserveWebhookAttempt records one delivery attempt by HTTP status code.
// A negative code indicates a transport error.
func ObserveWebhookAttempt(code int) {
	status := "error"
	if code >= 0 {
		status = strconv.Itoa(code)
	}
	mu.RLock()
	defer mu.RUnlock()
	if webhookAttempts != nil {
		webhookAttempts.WithLabelValues(status).Inc()
	}
}

// IncWebhookOutcome records a delivery reaching a terminal state, either
// "delivered" or "failed".
func IncWebhookOutcome(outcome string) {
	mu.RLock()
	defer mu.RUnlock()
	if webhookOutcomes != nil {
		webhookOutcomes.WithLabelValues(outcome).Inc()
	}
}

// IncFetch records an outbound page fetch: "ok", "blocked" for an SSRF
// rejection, or "error".
func IncFetch(outcome string) {
	mu.RLock()
	defer mu.RUnlock()
	if fetches != nil {
		fetches.WithLabelValues(outcome).Inc()
	}
}

func resetLocked() {
	registry := prometheus.NewRegistry()

	claimed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "seoatlas",
		Subsystem: "jobs",
		Name:      "claimed_total",
		Help:      "Total jobs claimed by workers.",
	}, []string{"type"})

	completed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "seoatlas",
		Subsystem: "jobs",
		Name:      "completed_total",
		Help:      "Total jobs that finished successfully.",
	}, []string{"type"})

	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "seoatlas",
		Subsystem: "jobs",
		Name:      "failed_total",
		Help:      "Total jobs that failed terminally.",
	}, []string{"type"})

	requeued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "seoatlas",
		Subsystem: "jobs",
		Name:      "requeued_total",
		Help:      "Total jobs requeued after a transient failure.",
	}, []string{"type"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "seoatlas",
		Subsystem: "jobs",
		Name:      "run_duration_seconds",
		Help:      "Duration of job handler runs by type and outcome.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"type", "outcome"})

	depth := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "seoatlas",
		Subsystem: "jobs",
		Name:      "queue_depth",
		Help:      "Jobs currently in each queue status.",
	}, []string{"status"})

	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "seoatlas",
		Subsystem: "webhooks",
		Name:      "delivery_attempts_total",
		Help:      "Webhook delivery attempts grouped by response status code.",
	}, []string{"code"})

	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "seoatlas",
		Subsystem: "webhooks",
		Name:      "delivery_outcomes_total",
		Help:      "Webhook deliveries reaching a terminal state.",
	}, []string{"outcome"})

	fetchTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "seoatlas",
		Subsystem: "fetch",
		Name:      "requests_total",
		Help:      "Outbound page fetches grouped by outcome.",
	}, []string{"outcome"})

	registry.MustRegister(claimed, completed, failed, requeued, duration, depth, attempts, outcomes, fetchTotal)

	reg = registry
	jobsClaimed = claimed
	jobsCompleted = completed
	jobsFailed = failed
	jobsRequeued = requeued
	jobDuration = duration
	queueDepth = depth
	webhookAttempts = attempts
	webhookOutcomes = outcomes
	fetches = fetchTotal
}
