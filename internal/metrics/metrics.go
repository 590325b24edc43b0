// Package metrics exposes Prometheus collectors for the document mirror.
package metrics

import (
	"context"
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
	"github.com/prometheus/client_golang/prometheus/push"
)

// Registry holds every collector of this package. It is separate from the
// default registry so a Pushgateway push only carries mirror metrics.
var Registry = prometheus.NewRegistry()

var (
	pagesTotal             *prometheus.CounterVec
	documentsTotal         *prometheus.CounterVec
	downloadBytesTotal     prometheus.Counter
	removalsTotal          *prometheus.CounterVec
	rateLimitDelaysSeconds *prometheus.HistogramVec
	lastRunTimestamp       prometheus.Gauge
	lastRunSuccess         prometheus.Gauge
	snapshotDocuments      prometheus.Gauge
	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call multiple times.
func Init() {
	once.Do(func() {
		factory := promauto.With(Registry)

		pagesTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docmirror_pages_total",
				Help: "Total number of listing pages processed, labeled by status.",
			},
			[]string{"status"},
		)

		documentsTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docmirror_documents_total",
				Help: "Total number of documents synchronised, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		downloadBytesTotal = factory.NewCounter(
			prometheus.CounterOpts{
				Name: "docmirror_download_bytes_total",
				Help: "Total number of document bytes written to the local tree.",
			},
		)

		removalsTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docmirror_removals_total",
				Help: "Total number of removed entries, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		rateLimitDelaysSeconds = factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docmirror_rate_limit_delays_seconds",
				Help:    "Histogram of politeness wait durations.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"domain"},
		)

		lastRunTimestamp = factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "docmirror_last_run_timestamp_seconds",
				Help: "Unix time the last run finished.",
			},
		)

		lastRunSuccess = factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "docmirror_last_run_success",
				Help: "1 if the last run finished without failures or coverage gaps.",
			},
		)

		snapshotDocuments = factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "docmirror_snapshot_documents",
				Help: "Number of documents in the last saved snapshot.",
			},
		)

		httpRequestsTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docmirror_http_requests_total",
				Help: "Total number of requests served, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDuration = factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docmirror_http_request_duration_seconds",
				Help:    "Histogram of request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
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

// Handler returns an http.Handler exposing Registry.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// ObservePage counts one processed listing page.
func ObservePage(status string) {
	Init()
	pagesTotal.WithLabelValues(status).Inc()
}

// ObserveDocument counts one document outcome (new, updated, unchanged, failed).
func ObserveDocument(outcome string) {
	Init()
	documentsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDownloadBytes adds n written bytes.
func ObserveDownloadBytes(n int64) {
	Init()
	if n > 0 {
		downloadBytesTotal.Add(float64(n))
	}
}

// ObserveRemoval counts one removed entry (deleted, kept, error).
func ObserveRemoval(outcome string) {
	Init()
	removalsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(SanitizeSite(domain)).Observe(duration.Seconds())
}

// ObserveRun records the end of a run. A negative documents count leaves the
// snapshot gauge unchanged.
func ObserveRun(finished time.Time, ok bool, documents int) {
	Init()
	lastRunTimestamp.Set(float64(finished.Unix()))
	if ok {
		lastRunSuccess.Set(1)
	} else {
		lastRunSuccess.Set(0)
	}
	if documents >= 0 {
		snapshotDocuments.Set(float64(documents))
	}
}

// ObserveHTTPRequest records one served request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Push sends Registry to a Pushgateway under job, grouped by instance.
func Push(ctx context.Context, gatewayURL, job, instance string) error {
	Init()
	pusher := push.New(gatewayURL, job).Gatherer(Registry)
	if instance != "" {
		pusher = pusher.Grouping("instance", instance)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
