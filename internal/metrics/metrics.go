// Package metrics exposes Prometheus collectors for the harvester service.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal            *prometheus.CounterVec
	pagesTotal           *prometheus.CounterVec
	listingsPersisted    *prometheus.CounterVec
	duplicatesSkipped    *prometheus.CounterVec
	activeJobs           prometheus.Gauge
	rateLimitDelaySecond *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_jobs_total",
				Help: "Total number of scrape jobs reaching a terminal status, labeled by status.",
			},
			[]string{"status"},
		)
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_pages_total",
				Help: "Total number of result pages fetched, labeled by target and outcome.",
			},
			[]string{"target", "outcome"},
		)
		listingsPersisted = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_listings_persisted_total",
				Help: "Total number of listings persisted, labeled by target.",
			},
			[]string{"target"},
		)
		duplicatesSkipped = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_duplicates_skipped_total",
				Help: "Total number of listings skipped as cross-job duplicates, labeled by target.",
			},
			[]string{"target"},
		)
		activeJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_jobs",
				Help: "Number of jobs currently pending or running.",
			},
		)
		rateLimitDelaySecond = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delay_seconds",
				Help:    "Histogram of delays introduced by rate limiting, labeled by target.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"target"},
		)
	})
}

// ObserveJobFinished increments the terminal-status counter.
func ObserveJobFinished(status string) {
	if jobsTotal == nil {
		return
	}
	jobsTotal.WithLabelValues(status).Inc()
}

// ObservePage counts one fetched page for a target with the given outcome.
func ObservePage(target, outcome string) {
	if pagesTotal == nil {
		return
	}
	pagesTotal.WithLabelValues(target, outcome).Inc()
}

// ObserveListingPersisted counts one persisted listing.
func ObserveListingPersisted(target string) {
	if listingsPersisted == nil {
		return
	}
	listingsPersisted.WithLabelValues(target).Inc()
}

// ObserveDuplicateSkipped counts one skipped duplicate.
func ObserveDuplicateSkipped(target string) {
	if duplicatesSkipped == nil {
		return
	}
	duplicatesSkipped.WithLabelValues(target).Inc()
}

// SetActiveJobs records the current pending+running job count.
func SetActiveJobs(n int) {
	if activeJobs == nil {
		return
	}
	activeJobs.Set(float64(n))
}

// ObserveRateLimitDelay records a delay introduced by the rate limiter.
func ObserveRateLimitDelay(target string, d time.Duration) {
	if rateLimitDelaySecond == nil {
		return
	}
	rateLimitDelaySecond.WithLabelValues(target).Observe(d.Seconds())
}
