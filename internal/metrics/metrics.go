package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"deserveiq/backend/internal/explain"
)

// Metrics holds the service counters on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// Normalized explanations by detected shape
	Shapes *prometheus.CounterVec

	// Explanations that could only be kept as raw text
	Unstructured prometheus.Counter

	// Stored predictions by risk tier
	Ingested *prometheus.CounterVec

	BatchLatency prometheus.Histogram
}

// New creates a Metrics instance with every collector registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	m := &Metrics{
		registry: reg,
		Shapes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deserveiq_explanation_shapes_total",
			Help: "Normalized explanations by detected input shape",
		}, []string{"shape"}),

		Unstructured: factory.NewCounter(prometheus.CounterOpts{
			Name: "deserveiq_explanation_unstructured_total",
			Help: "Explanations kept only as raw fallback text",
		}),

		Ingested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deserveiq_predictions_ingested_total",
			Help: "Predictions persisted by risk tier",
		}, []string{"risk_tier"}),

		BatchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "deserveiq_normalize_batch_duration_seconds",
			Help:    "Duration of batch explanation normalization",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
	for _, shape := range explain.Shapes {
		m.Shapes.WithLabelValues(shape.String())
	}
	return m
}

// Observe implements explain.Observer.
func (m *Metrics) Observe(shape explain.Shape, result explain.Explanation) {
	if m == nil {
		return
	}
	m.Shapes.WithLabelValues(shape.String()).Inc()
	if result.Unstructured() {
		m.Unstructured.Inc()
	}
}

// IncrementIngested records a stored prediction.
func (m *Metrics) IncrementIngested(tier string) {
	if m != nil {
		m.Ingested.WithLabelValues(tier).Inc()
	}
}

// ObserveBatchLatency records how long a batch normalization took.
func (m *Metrics) ObserveBatchLatency(d time.Duration) {
	if m != nil {
		m.BatchLatency.Observe(d.Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
