// Package metrics exposes Prometheus collectors for the watcher.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchAttemptsTotal    *prometheus.CounterVec
	pagesFetchedTotal     *prometheus.CounterVec
	postsExtractedTotal   prometheus.Counter
	searchRunsTotal       *prometheus.CounterVec
	alertsTotal           *prometheus.CounterVec
	cyclesTotal           *prometheus.CounterVec
	cycleDurationSeconds  prometheus.Histogram
	enrichFailuresTotal   prometheus.Counter
	deliverFailuresTotal  prometheus.Counter
	trackedEntriesCurrent prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple
// times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quillwatch_fetch_attempts_total",
				Help: "Total fetch attempts, labeled by mirror and outcome.",
			},
			[]string{"mirror", "outcome"},
		)

		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quillwatch_pages_fetched_total",
				Help: "Total documents successfully fetched, labeled by mirror.",
			},
			[]string{"mirror"},
		)

		postsExtractedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "quillwatch_posts_extracted_total",
				Help: "Total post records extracted from documents.",
			},
		)

		searchRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quillwatch_search_runs_total",
				Help: "Total aggregator runs, labeled by outcome (ok, partial).",
			},
			[]string{"outcome"},
		)

		alertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quillwatch_alerts_total",
				Help: "Total alert decisions emitted, labeled by reason.",
			},
			[]string{"reason"},
		)

		cyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quillwatch_cycles_total",
				Help: "Total monitor cycles, labeled by status.",
			},
			[]string{"status"},
		)

		cycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "quillwatch_cycle_duration_seconds",
				Help:    "Histogram of monitor cycle durations.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		)

		enrichFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "quillwatch_enrichment_failures_total",
				Help: "Total enrichment lookups that failed and were degraded.",
			},
		)

		deliverFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "quillwatch_delivery_failures_total",
				Help: "Total alert deliveries that failed.",
			},
		)

		trackedEntriesCurrent = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "quillwatch_tracked_entries",
				Help: "Number of post entries currently held in monitor state.",
			},
		)
	})
}

// RecordFetchAttempt counts one fetch attempt against a mirror.
func RecordFetchAttempt(mirror, outcome string) {
	if fetchAttemptsTotal != nil {
		fetchAttemptsTotal.WithLabelValues(mirror, outcome).Inc()
	}
}

// RecordPageFetched counts one successfully fetched document.
func RecordPageFetched(mirror string) {
	if pagesFetchedTotal != nil {
		pagesFetchedTotal.WithLabelValues(mirror).Inc()
	}
}

// RecordPostsExtracted counts extracted post records.
func RecordPostsExtracted(n int) {
	if postsExtractedTotal != nil && n > 0 {
		postsExtractedTotal.Add(float64(n))
	}
}

// RecordSearchRun counts one aggregator run.
func RecordSearchRun(outcome string) {
	if searchRunsTotal != nil {
		searchRunsTotal.WithLabelValues(outcome).Inc()
	}
}

// RecordAlert counts one emitted alert decision.
func RecordAlert(reason string) {
	if alertsTotal != nil {
		alertsTotal.WithLabelValues(reason).Inc()
	}
}

// RecordCycle counts one monitor cycle and its duration.
func RecordCycle(status string, d time.Duration) {
	if cyclesTotal != nil {
		cyclesTotal.WithLabelValues(status).Inc()
	}
	if cycleDurationSeconds != nil {
		cycleDurationSeconds.Observe(d.Seconds())
	}
}

// RecordEnrichFailure counts one degraded enrichment lookup.
func RecordEnrichFailure() {
	if enrichFailuresTotal != nil {
		enrichFailuresTotal.Inc()
	}
}

// RecordDeliveryFailure counts one failed alert delivery.
func RecordDeliveryFailure() {
	if deliverFailuresTotal != nil {
		deliverFailuresTotal.Inc()
	}
}

// SetTrackedEntries reports the current monitor state size.
func SetTrackedEntries(n int) {
	if trackedEntriesCurrent != nil {
		trackedEntriesCurrent.Set(float64(n))
	}
}
