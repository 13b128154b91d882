// Package metrics exposes Prometheus collectors for the crawler and the
// retrieval service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchAttemptsTotal         *prometheus.CounterVec
	challengesTotal            *prometheus.CounterVec
	robotsDeniedTotal          *prometheus.CounterVec
	politenessDelaySeconds     *prometheus.HistogramVec
	recordsExtractedTotal      *prometheus.CounterVec
	listingItemsTotal          prometheus.Counter
	activeWorkers              prometheus.Gauge
	searchRequestsTotal        *prometheus.CounterVec
	queryCacheTotal            *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pubsearch_fetch_attempts_total",
				Help: "Fetch attempts, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		challengesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pubsearch_challenges_total",
				Help: "Anti-bot interstitials seen, labeled by site and resolution.",
			},
			[]string{"site", "resolution"},
		)

		robotsDeniedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pubsearch_robots_denied_total",
				Help: "URLs refused by robots.txt, labeled by site.",
			},
			[]string{"site"},
		)

		politenessDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pubsearch_politeness_delay_seconds",
				Help:    "Histogram of per-host politeness waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		recordsExtractedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pubsearch_records_extracted_total",
				Help: "Detail records produced, labeled by quality (full, partial, minimal).",
			},
			[]string{"quality"},
		)

		listingItemsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pubsearch_listing_items_total",
				Help: "Unique listing items discovered.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pubsearch_active_workers",
				Help: "Detail workers currently running.",
			},
		)

		searchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pubsearch_search_requests_total",
				Help: "Search requests, labeled by retrieval mode.",
			},
			[]string{"mode"},
		)

		queryCacheTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pubsearch_query_cache_total",
				Help: "Query cache lookups, labeled by result (hit, miss).",
			},
			[]string{"result"},
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
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetchAttempt counts one fetch attempt outcome.
func ObserveFetchAttempt(rawURL, outcome string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(SanitizeSite(rawURL), outcome).Inc()
}

// ObserveChallenge counts an interstitial and how it ended.
func ObserveChallenge(rawURL, resolution string) {
	Init()
	challengesTotal.WithLabelValues(SanitizeSite(rawURL), resolution).Inc()
}

// ObserveRobotsDenied counts a robots.txt refusal.
func ObserveRobotsDenied(rawURL string) {
	Init()
	robotsDeniedTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// ObservePolitenessDelay records how long a request waited on its host limiter.
func ObservePolitenessDelay(host string, d time.Duration) {
	Init()
	politenessDelaySeconds.WithLabelValues(SanitizeSite(host)).Observe(d.Seconds())
}

// ObserveRecord counts a produced detail record by quality.
func ObserveRecord(quality string) {
	Init()
	recordsExtractedTotal.WithLabelValues(quality).Inc()
}

// AddListingItems adds discovered listing items.
func AddListingItems(n int) {
	Init()
	if n > 0 {
		listingItemsTotal.Add(float64(n))
	}
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveSearch counts a search request served in mode.
func ObserveSearch(mode string) {
	Init()
	searchRequestsTotal.WithLabelValues(mode).Inc()
}

// ObserveCacheLookup counts a query cache hit or miss.
func ObserveCacheLookup(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	queryCacheTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
