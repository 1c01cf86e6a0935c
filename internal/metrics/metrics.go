// Package metrics exposes Prometheus collectors for the coordinator and the
// shared HTTP transport.
package metrics

import (
	"fmt"
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
	fetchRequestsTotal         *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	postalCodesTotal           *prometheus.CounterVec
	workerJobsTotal            *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	dispatchDurationSeconds    *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	webhookBatchesTotal        *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cepscraper_fetch_requests_total",
				Help: "Outbound portal requests, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cepscraper_fetch_bytes_total",
				Help: "Bytes downloaded from the portal, labeled by site.",
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cepscraper_status_requests_total",
				Help: "Requests served by the status endpoint, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cepscraper_status_request_duration_seconds",
				Help:    "Status endpoint latency, labeled by method and route.",
				Buckets: []float64{0.001, 0.005, 0.025, 0.1, 0.5, 2},
			},
			[]string{"method", "route"},
		)

		postalCodesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cepscraper_postal_codes_total",
				Help: "Postal codes finished by the coordinator, labeled by status.",
			},
			[]string{"status"},
		)

		workerJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cepscraper_worker_jobs_total",
				Help: "Worker processes joined by the dispatcher, labeled by result.",
			},
			[]string{"result"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "cepscraper_active_workers",
				Help: "Number of worker processes currently running.",
			},
		)

		dispatchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cepscraper_dispatch_duration_seconds",
				Help:    "Wall time of one fork-join dispatch, labeled by result.",
				Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200, 14400},
			},
			[]string{"result"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cepscraper_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		webhookBatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cepscraper_webhook_batches_total",
				Help: "Lead batches posted to the webhook, labeled by result.",
			},
			[]string{"result"},
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

// WriteTextfile dumps the default registry, plus any extra gatherers, in the
// node-exporter textfile format.
func WriteTextfile(path string, extra ...prometheus.Gatherer) error {
	gatherers := append(prometheus.Gatherers{prometheus.DefaultGatherer}, extra...)
	if err := prometheus.WriteToTextfile(path, gatherers); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// ObserveFetch records one portal request.
func ObserveFetch(site string, outcome string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	fetchRequestsTotal.WithLabelValues(sanitizedSite, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest records one status endpoint request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObservePostalCode increments the postal code counter for the given status.
func ObservePostalCode(status string) {
	Init()
	postalCodesTotal.WithLabelValues(status).Inc()
}

// ObserveWorkerJob increments the worker job counter for the given result.
func ObserveWorkerJob(result string) {
	Init()
	workerJobsTotal.WithLabelValues(result).Inc()
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

// ObserveDispatch records the duration of one dispatch.
func ObserveDispatch(result string, duration time.Duration) {
	Init()
	dispatchDurationSeconds.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveWebhookBatch increments the webhook batch counter.
func ObserveWebhookBatch(result string) {
	Init()
	webhookBatchesTotal.WithLabelValues(result).Inc()
}
