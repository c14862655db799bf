// Package metrics provides Prometheus metrics for the flight-delay demo.
// It defines the collectors for the inference pipeline, the explainers, the
// model bridge and the HTTP API, exposed via the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors of the service.
type Metrics struct {
	// Pipeline metrics
	Predictions      *prometheus.CounterVec // Rows scored, by model
	PositiveLabels   *prometheus.CounterVec // Rows labeled delayed, by model
	PipelineLatency  prometheus.Histogram   // End-to-end PredictBoth latency
	PipelineFailures prometheus.Counter     // Runs that returned an error
	AlignCoercions   prometheus.Counter     // Cells coerced to 0 during alignment
	ScalerFailures   prometheus.Counter     // Scaler errors swallowed during alignment
	RowsPerRun       prometheus.Histogram   // Input size distribution

	// Explanation metrics
	AttributionFallbacks *prometheus.CounterVec // Tree explanations not using SHAP, by method
	Recommendations      *prometheus.CounterVec // Reconciled outcomes, by choice

	// Model bridge and artifacts
	BridgeLatency    prometheus.Histogram // Python bridge call latency
	BridgeFailures   prometheus.Counter   // Bridge calls that failed
	BridgeTimeouts   prometheus.Counter   // Bridge calls that hit the timeout
	ArtifactsFetched prometheus.Counter   // Remote artifacts downloaded

	// API metrics
	UploadsRejected *prometheus.CounterVec // Rejected inputs, by reason
	RunsPersisted   prometheus.Counter     // Runs written to the results file and snapshot
	HTTPDuration    *prometheus.HistogramVec
}

// New creates and registers all metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		Predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "delay_predictions_total",
			Help: "Total number of rows scored, by model",
		}, []string{"model"}),
		PositiveLabels: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "delay_positive_labels_total",
			Help: "Total number of rows labeled as delayed, by model",
		}, []string{"model"}),
		PipelineLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "delay_pipeline_latency_seconds",
			Help:    "Latency of one dual-model prediction run in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}),
		PipelineFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "delay_pipeline_failures_total",
			Help: "Total number of prediction runs that failed",
		}),
		AlignCoercions: factory.NewCounter(prometheus.CounterOpts{
			Name: "delay_align_coercions_total",
			Help: "Total number of unparseable cells replaced by 0 during alignment",
		}),
		ScalerFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "delay_scaler_failures_total",
			Help: "Total number of scaler failures ignored during alignment",
		}),
		RowsPerRun: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "delay_rows_per_run",
			Help:    "Number of input rows per prediction run",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		AttributionFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "delay_attribution_fallbacks_total",
			Help: "Total number of tree explanations that could not use SHAP, by method used",
		}, []string{"method"}),
		Recommendations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "delay_recommendations_total",
			Help: "Total number of reconciled recommendations, by choice",
		}, []string{"choice"}),
		BridgeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "delay_bridge_latency_seconds",
			Help:    "Python model bridge call latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		BridgeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "delay_bridge_failures_total",
			Help: "Total number of failed model bridge calls",
		}),
		BridgeTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "delay_bridge_timeouts_total",
			Help: "Total number of model bridge calls that timed out",
		}),
		ArtifactsFetched: factory.NewCounter(prometheus.CounterOpts{
			Name: "delay_artifacts_fetched_total",
			Help: "Total number of remote model artifacts downloaded",
		}),
		UploadsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "delay_uploads_rejected_total",
			Help: "Total number of rejected inputs, by reason",
		}, []string{"reason"}),
		RunsPersisted: factory.NewCounter(prometheus.CounterOpts{
			Name: "delay_runs_persisted_total",
			Help: "Total number of runs written to the results file",
		}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "delay_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}
