// Package metrics exposes Prometheus collectors for the crawler service.
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
	crawlerPagesTotal          *prometheus.CounterVec
	crawlerBytesTotal          *prometheus.CounterVec
	crawlerFetchFailuresTotal  *prometheus.CounterVec
	crawlerBusinessesTotal     *prometheus.CounterVec
	crawlerStoreErrorsTotal    *prometheus.CounterVec
	crawlerRunsTotal           *prometheus.CounterVec
	crawlerRunDurationSeconds  *prometheus.HistogramVec
	crawlerRunInProgress       prometheus.Gauge
	schedulerLoopErrorsTotal   prometheus.Counter
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of pages fetched, labeled by target and site.",
			},
			[]string{"target", "site"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerFetchFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_failures_total",
				Help: "Fetches that produced no page, labeled by target and reason.",
			},
			[]string{"target", "reason"},
		)

		crawlerBusinessesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_businesses_total",
				Help: "Business records stored, labeled by target and extraction method.",
			},
			[]string{"target", "method"},
		)

		crawlerStoreErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_store_errors_total",
				Help: "Business records that failed to persist, labeled by target.",
			},
			[]string{"target"},
		)

		crawlerRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_runs_total",
				Help: "Completed crawl runs, labeled by target and final state.",
			},
			[]string{"target", "state"},
		)

		crawlerRunDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_run_duration_seconds",
				Help:    "Histogram of crawl run wall time, labeled by target.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
			},
			[]string{"target"},
		)

		crawlerRunInProgress = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_run_in_progress",
				Help: "1 while a crawl run is executing.",
			},
		)

		schedulerLoopErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_scheduler_loop_errors_total",
				Help: "Scheduler cycles that ended in a recovered error.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the per-host rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"site"},
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
	Init()
	return promhttp.Handler()
}

// ObservePage counts one fetched page.
func ObservePage(target, pageURL string, bytesFetched int) {
	Init()
	site := SanitizeSite(pageURL)
	crawlerPagesTotal.WithLabelValues(target, site).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveFetchFailure counts a fetch that yielded no page.
func ObserveFetchFailure(target, reason string) {
	Init()
	crawlerFetchFailuresTotal.WithLabelValues(target, reason).Inc()
}

// ObserveBusiness counts one stored business record.
func ObserveBusiness(target, method string) {
	Init()
	crawlerBusinessesTotal.WithLabelValues(target, method).Inc()
}

// ObserveStoreError counts one business record that failed to persist.
func ObserveStoreError(target string) {
	Init()
	crawlerStoreErrorsTotal.WithLabelValues(target).Inc()
}

// ObserveRun records the outcome of a finished crawl run.
func ObserveRun(target, state string, duration time.Duration) {
	Init()
	crawlerRunsTotal.WithLabelValues(target, state).Inc()
	crawlerRunDurationSeconds.WithLabelValues(target).Observe(duration.Seconds())
}

// SetRunInProgress flips the in-progress gauge.
func SetRunInProgress(running bool) {
	Init()
	if running {
		crawlerRunInProgress.Set(1)
		return
	}
	crawlerRunInProgress.Set(0)
}

// ObserveSchedulerError counts a recovered scheduler cycle failure.
func ObserveSchedulerError() {
	Init()
	schedulerLoopErrorsTotal.Inc()
}

// ObserveRateLimitDelay records how long a fetch waited for its host's limiter.
func ObserveRateLimitDelay(site string, delay time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(site).Observe(delay.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
