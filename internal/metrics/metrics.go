// Package metrics exposes Prometheus collectors for the listing crawler.
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

// Page kinds used as label values.
const (
	PageKindIndex   = "index"
	PageKindListing = "listing"
)

var (
	crawlerPagesTotal         *prometheus.CounterVec
	crawlerBytesTotal         *prometheus.CounterVec
	crawlerListingsTotal      prometheus.Counter
	crawlerListingsSkipped    *prometheus.CounterVec
	crawlerRequestErrorsTotal *prometheus.CounterVec
	crawlerRetriesTotal       prometheus.Counter
	crawlerUploadsTotal       *prometheus.CounterVec
	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDuration       *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of pages fetched, labeled by site and page kind.",
			},
			[]string{"site", "kind"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerListingsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_listings_total",
				Help: "Total number of listing records written.",
			},
		)

		crawlerListingsSkipped = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_listings_skipped_total",
				Help: "Total number of listing pages skipped, labeled by reason.",
			},
			[]string{"reason"},
		)

		crawlerRequestErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_request_errors_total",
				Help: "Total number of failed requests, labeled by status code.",
			},
			[]string{"code"},
		)

		crawlerRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_retries_total",
				Help: "Total number of retried requests.",
			},
		)

		crawlerUploadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_uploads_total",
				Help: "Total number of feed uploads, labeled by status.",
			},
			[]string{"status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests served, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
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

// ObservePage counts a fetched page and its size.
func ObservePage(site string, kind string, bytesFetched int) {
	sanitizedSite := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitizedSite, kind).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveListing counts a written listing record.
func ObserveListing() {
	crawlerListingsTotal.Inc()
}

// ObserveSkippedListing counts a listing page that produced no record.
func ObserveSkippedListing(reason string) {
	crawlerListingsSkipped.WithLabelValues(reason).Inc()
}

// ObserveRequestError counts a failed request. A zero code means the request
// never got a response.
func ObserveRequestError(code int) {
	crawlerRequestErrorsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
}

// ObserveRetry counts a retried request.
func ObserveRetry() {
	crawlerRetriesTotal.Inc()
}

// ObserveUpload counts a feed upload attempt by status.
func ObserveUpload(status string) {
	crawlerUploadsTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest records a request served by the metrics server.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
