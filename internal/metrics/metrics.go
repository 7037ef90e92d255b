// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Race outcome labels.
const (
	OutcomeRecorded   = "recorded"
	OutcomeEmpty      = "empty"
	OutcomeFetchError = "fetch_error"
	OutcomeParseError = "parse_error"
	OutcomeCheckError = "check_error"
)

var (
	racesTotal                 *prometheus.CounterVec
	recordsInsertedTotal       prometheus.Counter
	crawlRunsTotal             *prometheus.CounterVec
	crawlDurationSeconds       prometheus.Histogram
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		racesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hkjc_races_total",
				Help: "Races handled by the crawl pipeline, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		recordsInsertedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hkjc_records_inserted_total",
				Help: "Race result rows written to the store.",
			},
		)

		crawlRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hkjc_crawl_runs_total",
				Help: "Crawl runs, labeled by final state.",
			},
			[]string{"status"},
		)

		crawlDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hkjc_crawl_duration_seconds",
				Help:    "Wall time of a full crawl run.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "hkjc_active_workers",
				Help: "Race tasks currently fetching or parsing.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRace counts one race by outcome.
func ObserveRace(outcome string) {
	if racesTotal == nil {
		return
	}
	racesTotal.WithLabelValues(outcome).Inc()
}

// AddRecordsInserted counts rows written by a bulk insert.
func AddRecordsInserted(n int) {
	if recordsInsertedTotal == nil || n <= 0 {
		return
	}
	recordsInsertedTotal.Add(float64(n))
}

// ObserveCrawl records a finished crawl run.
func ObserveCrawl(status string, duration time.Duration) {
	if crawlRunsTotal == nil {
		return
	}
	crawlRunsTotal.WithLabelValues(status).Inc()
	crawlDurationSeconds.Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Inc()
	}
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Dec()
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
