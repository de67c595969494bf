// Package metrics exposes Prometheus collectors for scrape runs and the store.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"olx-watcher/models"
)

const namespace = "olx_watcher"

// Metrics holds the collectors updated by the scheduler.
type Metrics struct {
	RunsTotal      *prometheus.CounterVec
	RunDuration    prometheus.Histogram
	RunsRejected   prometheus.Counter
	PagesFetched   prometheus.Counter
	ParseSkipped   prometheus.Counter
	ListingsAdded  prometheus.Counter
	Duplicates     prometheus.Counter
	RunFailures    *prometheus.CounterVec
	StoredListings prometheus.Gauge
	UnseenListings prometheus.Gauge
	RunInProgress  prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished scrape runs by outcome.",
		}, []string{"outcome", "trigger"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of finished scrape runs.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}),
		RunsRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_rejected_total",
			Help:      "Triggers rejected because a run was already active.",
		}),
		PagesFetched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Index pages rendered successfully.",
		}),
		ParseSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_skipped_total",
			Help:      "Entries dropped for missing title or link.",
		}),
		ListingsAdded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listings_added_total",
			Help:      "Listings inserted for the first time.",
		}),
		Duplicates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listings_duplicate_total",
			Help:      "Candidates that matched a stored listing.",
		}),
		RunFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_failures_total",
			Help:      "Failed and partially failed runs by failure kind.",
		}, []string{"kind"}),
		StoredListings: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "listings_stored",
			Help:      "Listings held by the store after the last run.",
		}),
		UnseenListings: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "listings_unseen",
			Help:      "Unseen listings after the last run.",
		}),
		RunInProgress: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_in_progress",
			Help:      "1 while a scrape run is active.",
		}),
		gatherer: reg,
	}
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(rec *models.RunRecord) {
	if m == nil || rec == nil {
		return
	}
	m.RunsTotal.WithLabelValues(string(rec.Outcome), string(rec.Trigger)).Inc()
	m.RunDuration.Observe(rec.Duration().Seconds())
	m.PagesFetched.Add(float64(rec.PagesFetched))
	m.ParseSkipped.Add(float64(rec.ParseSkipped))
	m.ListingsAdded.Add(float64(rec.NewlyAdded))
	m.Duplicates.Add(float64(rec.Duplicates))
	if rec.FailureKind != "" {
		m.RunFailures.WithLabelValues(rec.FailureKind).Inc()
	}
}

// ObserveStats updates the store gauges.
func (m *Metrics) ObserveStats(st models.Stats) {
	if m == nil {
		return
	}
	m.StoredListings.Set(float64(st.Total))
	m.UnseenListings.Set(float64(st.Unseen))
}

// SetRunning flips the in-progress gauge.
func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.RunInProgress.Set(1)
		return
	}
	m.RunInProgress.Set(0)
}

// Rejected counts a trigger refused while a run was active.
func (m *Metrics) Rejected() {
	if m == nil {
		return
	}
	m.RunsRejected.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
