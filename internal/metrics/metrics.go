// Package metrics exposes Prometheus instrumentation for extraction, model
// calls and session persistence.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docchat"

// Metrics owns a private registry and the collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry

	batches        *prometheus.CounterVec
	pageRetries    *prometheus.CounterVec
	skippedPages   prometheus.Counter
	persistFailed  prometheus.Counter
	modelCalls     *prometheus.HistogramVec
	modelFailures  *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	requestSeconds *prometheus.HistogramVec
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_batches_total",
			Help:      "Batch extraction requests by outcome.",
		}, []string{"outcome"}),
		pageRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_page_retries_total",
			Help:      "Single-page retry requests by outcome.",
		}, []string{"outcome"}),
		skippedPages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_skipped_pages_total",
			Help:      "Pages left without text after all retry passes.",
		}),
		persistFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_persist_failures_total",
			Help:      "Failed writes of the session file.",
		}),
		modelCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_call_seconds",
			Help:      "Latency of chat completion calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"model"}),
		modelFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_call_failures_total",
			Help:      "Chat completion calls that returned an error.",
		}, []string{"model"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		requestSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.batches, m.pageRetries, m.skippedPages, m.persistFailed,
		m.modelCalls, m.modelFailures, m.httpRequests, m.requestSeconds,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

// BatchFinished records a completed batch request.
func (m *Metrics) BatchFinished(ok bool) {
	m.batches.WithLabelValues(outcome(ok)).Inc()
}

// PageRetried records a single-page retry.
func (m *Metrics) PageRetried(ok bool) {
	m.pageRetries.WithLabelValues(outcome(ok)).Inc()
}

// PagesSkipped records pages that ended up without text.
func (m *Metrics) PagesSkipped(n int) {
	if n > 0 {
		m.skippedPages.Add(float64(n))
	}
}

// PersistFailed records a failed session file write.
func (m *Metrics) PersistFailed() {
	m.persistFailed.Inc()
}

// ObserveCall records a chat completion call.
func (m *Metrics) ObserveCall(model string, elapsed time.Duration, err error) {
	m.modelCalls.WithLabelValues(model).Observe(elapsed.Seconds())
	if err != nil {
		m.modelFailures.WithLabelValues(model).Inc()
	}
}

// ObserveRequest records a served HTTP request.
func (m *Metrics) ObserveRequest(route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(route, http.StatusText(status)).Inc()
	m.requestSeconds.WithLabelValues(route).Observe(elapsed.Seconds())
}
