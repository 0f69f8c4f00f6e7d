package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "pagesource"

// Fetch outcomes recorded by ObserveFetch.
const (
	OutcomeSuccess     = "success"
	OutcomeFetchError  = "fetch_error"
	OutcomeLaunchError = "launch_error"
)

// Metrics holds the Prometheus collectors of the service. Every method is
// safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	registry *prometheus.Registry

	FetchesTotal    *prometheus.CounterVec
	FetchDuration   prometheus.Histogram
	BlockedRequests *prometheus.CounterVec
	PagesOpen       prometheus.Gauge
	BrowserLaunches *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
}

// NewMetrics creates the collectors on a private registry so that several
// instances (tests) never collide.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		FetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "fetches_total",
			Help:      "Page fetches by outcome.",
		}, []string{"outcome"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "fetch_duration_seconds",
			Help:      "Wall time of a page fetch, page creation to close.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		BlockedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "blocked_requests_total",
			Help:      "Subresource requests aborted by the denylist.",
		}, []string{"resource_type"}),
		PagesOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "pages_open",
			Help:      "Page contexts currently open.",
		}),
		BrowserLaunches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "browser_launches_total",
			Help:      "Browser launch attempts by result.",
		}, []string{"result"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "Fetch endpoint responses by status code.",
		}, []string{"code"}),
	}

	reg.MustRegister(
		m.FetchesTotal,
		m.FetchDuration,
		m.BlockedRequests,
		m.PagesOpen,
		m.BrowserLaunches,
		m.HTTPRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveFetch(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(outcome).Inc()
	m.FetchDuration.Observe(d.Seconds())
}

func (m *Metrics) IncBlocked(resourceType string) {
	if m == nil {
		return
	}
	if resourceType == "" {
		resourceType = "unknown"
	}
	m.BlockedRequests.WithLabelValues(resourceType).Inc()
}

func (m *Metrics) PageOpened() {
	if m != nil {
		m.PagesOpen.Inc()
	}
}

func (m *Metrics) PageClosed() {
	if m != nil {
		m.PagesOpen.Dec()
	}
}

func (m *Metrics) ObserveLaunch(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.BrowserLaunches.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveHTTP(code int) {
	if m != nil {
		m.HTTPRequests.WithLabelValues(strconv.Itoa(code)).Inc()
	}
}
