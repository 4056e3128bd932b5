// Package metrics exports editor, unfurl, publish and HTTP counters in the
// Prometheus text format.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"folio/api/internal/extensions/linkpreview"
	"folio/api/internal/model"
	"folio/api/internal/transform"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "folio"

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	transactions     prometheus.Counter
	transactionSteps prometheus.Histogram
	transactionTime  prometheus.Histogram
	rejections       *prometheus.CounterVec

	unfurls     *prometheus.CounterVec
	unfurlTime  prometheus.Histogram
	publishes   prometheus.Counter
	publishFail *prometheus.CounterVec
	publishSize prometheus.Histogram
	publishTime prometheus.Histogram

	requests    *prometheus.CounterVec
	requestTime *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transactions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_applied_total",
			Help:      "Transactions applied to live documents.",
		}),
		transactionSteps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_steps",
			Help:      "Steps per applied transaction.",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		}),
		transactionTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_apply_seconds",
			Help:      "Time spent applying a transaction.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_rejected_total",
			Help:      "Transactions rejected before they reached the document.",
		}, []string{"reason"}),
		unfurls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unfurls_total",
			Help:      "Link preview fetches by final phase.",
		}, []string{"phase"}),
		unfurlTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "unfurl_seconds",
			Help:      "Time from preview insertion to settle.",
			Buckets:   prometheus.DefBuckets,
		}),
		publishes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Documents published.",
		}),
		publishFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Failed publications by pipeline stage.",
		}, []string{"stage"}),
		publishSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_page_bytes",
			Help:      "Size of published pages.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 7),
		}),
		publishTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_seconds",
			Help:      "Time to publish a document.",
			Buckets:   prometheus.DefBuckets,
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		requestTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.transactions, m.transactionSteps, m.transactionTime, m.rejections,
		m.unfurls, m.unfurlTime,
		m.publishes, m.publishFail, m.publishSize, m.publishTime,
		m.requests, m.requestTime,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) TransactionApplied(steps int, elapsed time.Duration) {
	m.transactions.Inc()
	m.transactionSteps.Observe(float64(steps))
	m.transactionTime.Observe(elapsed.Seconds())
}

func (m *Metrics) TransactionRejected(err error) {
	m.rejections.WithLabelValues(rejectionReason(err)).Inc()
}

// UnfurlSettled matches the editor's settle callback.
func (m *Metrics) UnfurlSettled(_ string, phase linkpreview.Phase, elapsed time.Duration) {
	m.unfurls.WithLabelValues(string(phase)).Inc()
	m.unfurlTime.Observe(elapsed.Seconds())
}

func (m *Metrics) Published(_ string, bytes int, elapsed time.Duration) {
	m.publishes.Inc()
	m.publishSize.Observe(float64(bytes))
	m.publishTime.Observe(elapsed.Seconds())
}

func (m *Metrics) PublishFailed(_ string, stage string) {
	m.publishFail.WithLabelValues(stage).Inc()
}

// ObserveRequest records one finished request. route must be a pattern, not
// a raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(method, route string, code int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.requestTime.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, model.ErrSchemaViolation):
		return "schema"
	case errors.Is(err, model.ErrPositionOutOfRange):
		return "range"
	case errors.Is(err, transform.ErrStaleTransaction):
		return "stale"
	case errors.Is(err, transform.ErrConcurrentApply):
		return "concurrent"
	case err == nil:
		return "unknown"
	default:
		return "other"
	}
}
