// Package metrics exposes Prometheus collectors for the archive crawler.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_fetch_total",
			Help: "Total number of fetch attempts, labeled by endpoint and status class.",
		},
		[]string{"endpoint", "status"},
	)

	fetchRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_fetch_retries_total",
			Help: "Total number of fetch retries, labeled by endpoint and cause.",
		},
		[]string{"endpoint", "cause"},
	)

	fetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawler_fetch_duration_seconds",
			Help:    "Histogram of single fetch attempt latencies, labeled by endpoint.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
		},
		[]string{"endpoint"},
	)

	listingPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_listing_pages_total",
			Help: "Total number of listing pages walked, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	itemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_items_total",
			Help: "Total number of listing items seen, labeled by claimed or duplicate.",
		},
		[]string{"result"},
	)

	detailFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_detail_failures_total",
			Help: "Total number of detail pages degraded to empty records, labeled by reason.",
		},
		[]string{"reason"},
	)

	recordsPersistedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_records_persisted_total",
			Help: "Total number of records written to segments, labeled by record type.",
		},
		[]string{"type"},
	)

	segmentsFlushedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_segments_flushed_total",
			Help: "Total number of segments flushed, labeled by trigger.",
		},
		[]string{"trigger"},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawler_active_workers",
			Help: "Number of detail workers currently processing an item.",
		},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawler_rate_limit_delays_seconds",
			Help:    "Histogram of politeness wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests served, labeled by method and code.",
		},
		[]string{"method", "code"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StatusClass groups HTTP status codes; code 0 means no response arrived.
func StatusClass(code int) string {
	switch {
	case code == 0:
		return "transport_error"
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "other"
	}
}

// ObserveFetch records one fetch attempt.
func ObserveFetch(endpoint string, code int, duration time.Duration) {
	fetchTotal.WithLabelValues(endpoint, StatusClass(code)).Inc()
	fetchDurationSeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveRetry records a retry and what caused it.
func ObserveRetry(endpoint, cause string) {
	fetchRetriesTotal.WithLabelValues(endpoint, cause).Inc()
}

// ObserveListingPage records the outcome of one listing page.
func ObserveListingPage(outcome string) {
	listingPagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveItem records whether a listing item was claimed or a duplicate.
func ObserveItem(claimed bool) {
	result := "duplicate"
	if claimed {
		result = "claimed"
	}
	itemsTotal.WithLabelValues(result).Inc()
}

// ObserveDetailFailure records a degraded detail page.
func ObserveDetailFailure(reason string) {
	detailFailuresTotal.WithLabelValues(reason).Inc()
}

// ObserveRecords records persisted records of one type.
func ObserveRecords(recordType string, n int) {
	if n <= 0 {
		return
	}
	recordsPersistedTotal.WithLabelValues(recordType).Add(float64(n))
}

// ObserveSegment records one flushed segment.
func ObserveSegment(trigger string) {
	segmentsFlushedTotal.WithLabelValues(trigger).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest records a request served by the metrics listener.
func ObserveHTTPRequest(method string, code int) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
}
