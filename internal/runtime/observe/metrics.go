package observe

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	errspkg "github.com/drblury/otlpflow/internal/runtime/errors"
	"github.com/drblury/otlpflow/internal/runtime/processor"
	"github.com/drblury/otlpflow/internal/runtime/signal"
)

const metricsNamespace = "otlpflow"

// Outcome label values of otlpflow_requests_total.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Forward result label values of otlpflow_forwarded_total.
const (
	ForwardPublished = "published"
	ForwardFailed    = "failed"
)

// Metrics holds the Prometheus collectors of the ingestion server.
type Metrics struct {
	gatherer prometheus.Gatherer

	requests   *prometheus.CounterVec
	rejections *prometheus.CounterVec
	items      *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	forwarded  *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. A nil reg uses a fresh registry,
// which keeps parallel servers in one process from colliding.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	m := &Metrics{
		gatherer: gatherer,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Export requests by signal and outcome.",
		}, []string{"signal", "outcome"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rejections_total",
			Help:      "Rejected export requests by signal and error kind.",
		}, []string{"signal", "kind"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "items_received_total",
			Help:      "Spans, metrics or log records received in accepted batches.",
		}, []string{"signal"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "request_duration_seconds",
			Help:      "Time spent in the request pipeline.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"signal"}),
		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "forwarded_total",
			Help:      "Batches relayed to the forwarding sink by result.",
		}, []string{"signal", "result"}),
	}

	for _, c := range []prometheus.Collector{m.requests, m.rejections, m.items, m.duration, m.forwarded} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				return nil, errspkg.Internal("metrics already registered", err)
			}
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Hooks returns hooks feeding m.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnProcessed: func(_ context.Context, summary processor.Summary) {
			m.items.WithLabelValues(summary.Kind.String()).Add(float64(summary.Items))
		},
		OnAccepted: func(info RequestInfo, _ processor.Summary) {
			m.requests.WithLabelValues(info.Kind.String(), OutcomeAccepted).Inc()
			m.duration.WithLabelValues(info.Kind.String()).Observe(info.Duration.Seconds())
		},
		OnRejected: func(info RequestInfo, err error) {
			outcome := OutcomeRejected
			if !errspkg.IsClientError(err) {
				outcome = OutcomeFailed
			}
			m.requests.WithLabelValues(info.Kind.String(), outcome).Inc()
			m.rejections.WithLabelValues(info.Kind.String(), errspkg.KindOf(err).String()).Inc()
			m.duration.WithLabelValues(info.Kind.String()).Observe(info.Duration.Seconds())
		},
	}
}

// RecordForward counts one forwarding attempt.
func (m *Metrics) RecordForward(kind signal.Kind, err error) {
	if m == nil {
		return
	}
	result := ForwardPublished
	if err != nil {
		result = ForwardFailed
	}
	m.forwarded.WithLabelValues(kind.String(), result).Inc()
}
