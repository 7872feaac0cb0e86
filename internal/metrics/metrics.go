// Package metrics exposes Prometheus collectors for the scraper.
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
	navigationsTotal           *prometheus.CounterVec
	navigationDurationSeconds  *prometheus.HistogramVec
	downloadBytesTotal         *prometheus.CounterVec
	screeningsTotal            *prometheus.CounterVec
	ftpTransfersTotal          *prometheus.CounterVec
	politenessDelaySeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to
// call multiple times and is called implicitly by every Observe function.
func Init() {
	once.Do(func() {
		navigationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitescraper_navigations_total",
				Help: "Browser navigations, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		navigationDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitescraper_navigation_duration_seconds",
				Help:    "Time from navigation start until the page settled, labeled by outcome.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		)

		downloadBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitescraper_download_bytes_total",
				Help: "Bytes of downloadable content written to disk, labeled by site.",
			},
			[]string{"site"},
		)

		screeningsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitescraper_ai_screenings_total",
				Help: "AI page screenings, labeled by verdict.",
			},
			[]string{"verdict"},
		)

		ftpTransfersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitescraper_ftp_transfers_total",
				Help: "FTP retrievals, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		politenessDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitescraper_politeness_delay_seconds",
				Help:    "Time spent waiting for a domain's visit rate limit.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
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
	if !strings.Contains(rawURL, "://") {
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

// ObserveNavigation records one browser navigation.
func ObserveNavigation(rawURL, outcome string, duration time.Duration) {
	Init()
	navigationsTotal.WithLabelValues(SanitizeSite(rawURL), outcome).Inc()
	navigationDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveDownload adds the size of a saved downloadable file.
func ObserveDownload(rawURL string, bytesWritten int64) {
	Init()
	if bytesWritten > 0 {
		downloadBytesTotal.WithLabelValues(SanitizeSite(rawURL)).Add(float64(bytesWritten))
	}
}

// ObserveScreening counts one AI verdict.
func ObserveScreening(verdict string) {
	Init()
	screeningsTotal.WithLabelValues(verdict).Inc()
}

// ObserveFTPTransfer counts one FTP retrieval.
func ObserveFTPTransfer(outcome string) {
	Init()
	ftpTransfersTotal.WithLabelValues(outcome).Inc()
}

// ObservePolitenessDelay records a wait imposed by the per-domain limiter.
func ObservePolitenessDelay(domain string, waited time.Duration) {
	Init()
	politenessDelaySeconds.WithLabelValues(strings.ToLower(domain)).Observe(waited.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
