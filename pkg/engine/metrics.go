package engine

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics are the engine's prometheus collectors. They live on a private
// registry so several engines can coexist in tests.
type metrics struct {
	registry *prometheus.Registry

	confidence    prometheus.Gauge
	accuracy      *prometheus.GaugeVec
	costSavings   prometheus.Gauge
	learning      prometheus.Gauge
	predictions   prometheus.Counter
	outcomes      prometheus.Counter
	degraded      *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		confidence: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "solarautopilot",
			Subsystem: "engine",
			Name:      "confidence",
			Help:      "Confidence of the current prediction.",
		}),
		accuracy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "solarautopilot",
			Subsystem: "engine",
			Name:      "accuracy",
			Help:      "Latest forecast accuracy per model.",
		}, []string{"model"}),
		costSavings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "solarautopilot",
			Subsystem: "engine",
			Name:      "cost_savings_dollars",
			Help:      "Accumulated estimated savings.",
		}),
		learning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "solarautopilot",
			Subsystem: "engine",
			Name:      "learning_mode",
			Help:      "1 while the engine is in learning mode.",
		}),
		predictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "solarautopilot",
			Subsystem: "engine",
			Name:      "predictions_total",
			Help:      "Total number of predictions made.",
		}),
		outcomes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "solarautopilot",
			Subsystem: "engine",
			Name:      "outcomes_total",
			Help:      "Total number of outcomes learned from.",
		}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "solarautopilot",
			Subsystem: "engine",
			Name:      "degraded_inputs_total",
			Help:      "Total number of cycles that ran with a missing or sparse input.",
		}, []string{"input"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "solarautopilot",
			Subsystem: "engine",
			Name:      "training_stage_duration_seconds",
			Help:      "Duration of each training stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "solarautopilot",
			Subsystem: "engine",
			Name:      "training_stage_failures_total",
			Help:      "Total number of failed training stages.",
		}, []string{"stage"}),
	}
	m.registry.MustRegister(
		m.confidence,
		m.accuracy,
		m.costSavings,
		m.learning,
		m.predictions,
		m.outcomes,
		m.degraded,
		m.stageDuration,
		m.stageFailures,
	)
	return m
}

// MetricsHandler returns an HTTP handler exposing the engine metrics.
func (e *Engine) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(e.metrics.registry, promhttp.HandlerOpts{})
}

// Registerer returns the registry the engine metrics live on so that the host
// can add its own collectors to the same endpoint.
func (e *Engine) Registerer() prometheus.Registerer {
	return e.metrics.registry
}
