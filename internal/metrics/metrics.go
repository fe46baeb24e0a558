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
	crawlerCyclesTotal            prometheus.Counter
	crawlerAdapterRunsTotal       *prometheus.CounterVec
	crawlerListingsTotal          *prometheus.CounterVec
	crawlerFetchAttemptsTotal     *prometheus.CounterVec
	crawlerErrorReportsTotal      *prometheus.CounterVec
	crawlerChallengesTotal        *prometheus.CounterVec
	crawlerGovernorPassesTotal    *prometheus.CounterVec
	crawlerMemoryBytes            *prometheus.GaugeVec
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerCyclesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_cycles_total",
				Help: "Total number of completed scheduler cycles.",
			},
		)

		crawlerAdapterRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_adapter_runs_total",
				Help: "Adapter slots processed, labeled by adapter and result.",
			},
			[]string{"adapter", "result"},
		)

		crawlerListingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_listings_total",
				Help: "Candidate URLs handled, labeled by adapter and outcome.",
			},
			[]string{"adapter", "outcome"},
		)

		crawlerFetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_attempts_total",
				Help: "Fetch attempts, labeled by adapter and result.",
			},
			[]string{"adapter", "result"},
		)

		crawlerErrorReportsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_error_reports_total",
				Help: "Error reports seen by the classifier, labeled by adapter, kind and decision.",
			},
			[]string{"adapter", "kind", "decision"},
		)

		crawlerChallengesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_challenges_total",
				Help: "Anti-bot challenges encountered, labeled by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		)

		crawlerGovernorPassesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_governor_passes_total",
				Help: "Memory reclamation passes, labeled by pass type.",
			},
			[]string{"pass"},
		)

		crawlerMemoryBytes = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crawler_memory_bytes",
				Help: "Most recent memory reading, labeled by measure.",
			},
			[]string{"measure"},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
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
	return promhttp.Handler()
}

// ObserveCycle increments the completed cycle counter.
func ObserveCycle() {
	Init()
	crawlerCyclesTotal.Inc()
}

// ObserveAdapterRun records the result of one adapter slot.
func ObserveAdapterRun(adapter, result string) {
	Init()
	crawlerAdapterRunsTotal.WithLabelValues(adapter, result).Inc()
}

// ObserveListing records what happened to a candidate URL.
func ObserveListing(adapter, outcome string) {
	Init()
	crawlerListingsTotal.WithLabelValues(adapter, outcome).Inc()
}

// ObserveFetchAttempt records a single fetch attempt.
func ObserveFetchAttempt(adapter, result string) {
	Init()
	crawlerFetchAttemptsTotal.WithLabelValues(adapter, result).Inc()
}

// ObserveErrorReport records a classifier decision.
func ObserveErrorReport(adapter, kind, decision string) {
	Init()
	crawlerErrorReportsTotal.WithLabelValues(adapter, kind, decision).Inc()
}

// ObserveChallenge records a challenge outcome.
func ObserveChallenge(provider, outcome string) {
	Init()
	if provider == "" {
		provider = "unknown"
	}
	crawlerChallengesTotal.WithLabelValues(provider, outcome).Inc()
}

// ObserveGovernorPass records a reclamation pass.
func ObserveGovernorPass(pass string) {
	Init()
	crawlerGovernorPassesTotal.WithLabelValues(pass).Inc()
}

// SetMemory records the latest memory reading for measure.
func SetMemory(measure string, bytes uint64) {
	Init()
	crawlerMemoryBytes.WithLabelValues(measure).Set(float64(bytes))
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
