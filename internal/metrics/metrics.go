// Package metrics exposes Prometheus collectors for the bot.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sipeto_sessions_active",
			Help: "Number of open inbound connections.",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sipeto_http_requests_total",
			Help: "Total number of inbound HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sipeto_http_request_duration_seconds",
			Help:    "Histogram of inbound HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "route"},
	)

	updatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sipeto_updates_total",
			Help: "Total number of webhook updates routed, labeled by update type.",
		},
		[]string{"type"},
	)

	resolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sipeto_resolutions_total",
			Help: "Total number of media resolutions, labeled by platform and outcome.",
		},
		[]string{"platform", "outcome"},
	)

	mediaBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sipeto_media_bytes_total",
			Help: "Total number of media bytes stored, labeled by platform.",
		},
		[]string{"platform"},
	)

	outboundRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sipeto_outbound_requests_total",
			Help: "Total number of outbound HTTP requests, labeled by host and code.",
		},
		[]string{"host", "code"},
	)

	outboundDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sipeto_outbound_request_duration_seconds",
			Help:    "Histogram of outbound request latencies until headers arrive, labeled by host.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"host"},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sipeto_active_workers",
			Help: "Number of workers currently processing a job.",
		},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sipeto_rate_limit_delays_seconds",
			Help:    "Histogram of outbound rate limit wait durations.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"domain"},
	)
)

// SanitizeSite extracts a lowercase hostname from a URL.
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

// SessionOpened increments the open sessions gauge.
func SessionOpened() {
	sessionsActive.Inc()
}

// SessionClosed decrements the open sessions gauge.
func SessionClosed() {
	sessionsActive.Dec()
}

// ObserveHTTPRequest increments the inbound request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveUpdate counts a routed webhook update.
func ObserveUpdate(updateType string) {
	updatesTotal.WithLabelValues(updateType).Inc()
}

// ObserveResolution counts a resolution outcome ("ok", "invalid_url", "api_error", ...).
func ObserveResolution(platform, outcome string) {
	resolutionsTotal.WithLabelValues(platform, outcome).Inc()
}

// ObserveMediaBytes adds stored bytes for a platform.
func ObserveMediaBytes(platform string, n int64) {
	if n > 0 {
		mediaBytesTotal.WithLabelValues(platform).Add(float64(n))
	}
}

// ObserveOutbound records an outbound request. code is 0 when no response arrived.
func ObserveOutbound(rawURL string, code int, duration time.Duration) {
	host := SanitizeSite(rawURL)
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	outboundRequestsTotal.WithLabelValues(host, label).Inc()
	outboundDurationSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
