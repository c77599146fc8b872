// Package metrics provides Prometheus metrics collection for the fraud scoring
// service. It defines the training, prediction, rule, model cache and fusion
// metrics exposed via the Prometheus metrics endpoint for monitoring and
// alerting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the fraud scoring service.
type Metrics struct {
	// Training metrics
	TrainingsTotal   prometheus.Counter   // Completed training runs
	TrainingFailures prometheus.Counter   // Training runs aborted by an error
	TrainingDuration prometheus.Histogram // Wall time of a training run
	ModelAccuracy    prometheus.Histogram // Hold-out accuracy of trained models

	// Prediction metrics
	PredictionsTotal   prometheus.Counter   // Scored transactions
	PredictionFailures prometheus.Counter   // Failed prediction requests
	PredictionLatency  prometheus.Histogram // End-to-end prediction latency
	PredictionScores   prometheus.Histogram // Distribution of fraud probabilities

	// Expert rule metrics
	RuleEvaluations prometheus.Counter     // Evaluated transactions
	RuleMatches     *prometheus.CounterVec // Matches per rule name

	// Tenant model store metrics
	CacheHits         prometheus.Counter // Bundle lookups served from memory
	CacheMisses       prometheus.Counter // Bundle lookups that went to disk
	ModelLoadFailures prometheus.Counter // Corrupt or unreadable artifact sets
	CachedModels      prometheus.Gauge   // Bundles currently held in memory

	// Fusion metrics
	Detections *prometheus.CounterVec // Fused decisions by outcome

	// System metrics
	ErrorsTotal   prometheus.Counter // Requests answered with a 5xx status
	ActiveStreams prometheus.Gauge   // Open training log websocket streams

	gatherer prometheus.Gatherer
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	gatherer := prometheus.DefaultGatherer
	if g, ok := registerer.(prometheus.Gatherer); ok {
		gatherer = g
	}

	return &Metrics{
		gatherer: gatherer,
		TrainingsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_trainings_total",
			Help: "Total number of completed training runs",
		}),
		TrainingFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_training_failures_total",
			Help: "Total number of failed training runs",
		}),
		TrainingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fraud_training_duration_seconds",
			Help:    "Duration of training runs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		}),
		ModelAccuracy: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fraud_model_accuracy",
			Help:    "Hold-out accuracy of trained models",
			Buckets: []float64{0.5, 0.55, 0.6, 0.65, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1.0},
		}),
		PredictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_predictions_total",
			Help: "Total number of scored transactions",
		}),
		PredictionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_prediction_failures_total",
			Help: "Total number of failed predictions",
		}),
		PredictionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fraud_prediction_latency_seconds",
			Help:    "Prediction latency in seconds (end-to-end)",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		PredictionScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fraud_prediction_scores",
			Help:    "Distribution of fraud probabilities",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		RuleEvaluations: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_rule_evaluations_total",
			Help: "Total number of expert rule evaluations",
		}),
		RuleMatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fraud_rule_matches_total",
			Help: "Total number of matches per expert rule",
		}, []string{"rule"}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_model_cache_hits_total",
			Help: "Total number of model lookups served from memory",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_model_cache_misses_total",
			Help: "Total number of model lookups that read durable storage",
		}),
		ModelLoadFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_model_load_failures_total",
			Help: "Total number of unreadable model artifact sets",
		}),
		CachedModels: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fraud_cached_models",
			Help: "Number of tenant models held in memory",
		}),
		Detections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fraud_detections_total",
			Help: "Total number of fused detections by decision",
		}, []string{"decision"}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_errors_total",
			Help: "Total number of requests answered with a server error",
		}),
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fraud_training_streams",
			Help: "Number of open training log streams",
		}),
	}
}

// GetErrorRate returns the ratio of failed to attempted predictions, or 0 if
// no prediction has been recorded.
func (m *Metrics) GetErrorRate() float64 {
	var total, failed float64

	metricFamilies, err := m.gatherer.Gather()
	if err != nil {
		return 0
	}

	for _, mf := range metricFamilies {
		switch mf.GetName() {
		case "fraud_predictions_total":
			for _, metric := range mf.Metric {
				total = metric.GetCounter().GetValue()
			}
		case "fraud_prediction_failures_total":
			for _, metric := range mf.Metric {
				failed = metric.GetCounter().GetValue()
			}
		}
	}

	if total+failed == 0 {
		return 0
	}
	return failed / (total + failed)
}
