package metrics

import (
	"testing"

	"flight-delay-demo/internal/explain"
	"flight-delay-demo/internal/features"
	"flight-delay-demo/internal/inference"
	"flight-delay-demo/internal/ml"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var (
	_ features.MetricsInterface  = (*MetricsWrapper)(nil)
	_ ml.MetricsInterface        = (*MetricsWrapper)(nil)
	_ inference.MetricsInterface = (*MetricsWrapper)(nil)
	_ explain.MetricsInterface   = (*MetricsWrapper)(nil)
)

func newTestWrapper() (*Metrics, *MetricsWrapper) {
	metrics := NewWithRegistry(prometheus.NewRegistry())
	return metrics, NewWrapper(metrics)
}

func TestNewWrapper(t *testing.T) {
	metrics, wrapper := newTestWrapper()

	if wrapper == nil {
		t.Fatal("NewWrapper returned nil")
	}
	if wrapper.m != metrics {
		t.Error("Wrapper does not contain correct metrics instance")
	}
}

func TestNewWithRegistry_Isolated(t *testing.T) {
	// two registries must not collide on metric names
	NewWithRegistry(prometheus.NewRegistry())
	NewWithRegistry(prometheus.NewRegistry())
}

func TestMetricsWrapper_PipelineCounters(t *testing.T) {
	metrics, wrapper := newTestWrapper()

	wrapper.PredictionsAdd("random_forest", 3)
	wrapper.PredictionsAdd("random_forest", 2)
	wrapper.PredictionsAdd("logistic_regression", 5)
	wrapper.PositiveLabelsAdd("random_forest", 1)
	wrapper.PipelineFailuresInc()

	if v := testutil.ToFloat64(metrics.Predictions.WithLabelValues("random_forest")); v != 5 {
		t.Errorf("Expected 5 tree predictions, got %f", v)
	}
	if v := testutil.ToFloat64(metrics.Predictions.WithLabelValues("logistic_regression")); v != 5 {
		t.Errorf("Expected 5 linear predictions, got %f", v)
	}
	if v := testutil.ToFloat64(metrics.PositiveLabels.WithLabelValues("random_forest")); v != 1 {
		t.Errorf("Expected 1 positive label, got %f", v)
	}
	if v := testutil.ToFloat64(metrics.PipelineFailures); v != 1 {
		t.Errorf("Expected 1 pipeline failure, got %f", v)
	}
}

func TestMetricsWrapper_AlignmentCounters(t *testing.T) {
	metrics, wrapper := newTestWrapper()

	wrapper.AlignCoercionsAdd(0)
	wrapper.AlignCoercionsAdd(4)
	wrapper.ScalerFailuresInc()

	if v := testutil.ToFloat64(metrics.AlignCoercions); v != 4 {
		t.Errorf("Expected 4 coercions, got %f", v)
	}
	if v := testutil.ToFloat64(metrics.ScalerFailures); v != 1 {
		t.Errorf("Expected 1 scaler failure, got %f", v)
	}
}

func TestMetricsWrapper_ExplanationCounters(t *testing.T) {
	metrics, wrapper := newTestWrapper()

	wrapper.AttributionFallbacksInc("importance")
	wrapper.RecommendationsInc("agree")
	wrapper.RecommendationsInc("agree")
	wrapper.RecommendationsInc("linear_tiebreak")

	if v := testutil.ToFloat64(metrics.AttributionFallbacks.WithLabelValues("importance")); v != 1 {
		t.Errorf("Expected 1 importance fallback, got %f", v)
	}
	if v := testutil.ToFloat64(metrics.Recommendations.WithLabelValues("agree")); v != 2 {
		t.Errorf("Expected 2 agree recommendations, got %f", v)
	}
	if n := testutil.CollectAndCount(metrics.Recommendations); n != 2 {
		t.Errorf("Expected 2 recommendation series, got %d", n)
	}
}

func TestMetricsWrapper_HistogramOperations(t *testing.T) {
	metrics, wrapper := newTestWrapper()

	testValues := []float64{0.001, 0.005, 0.01, 0.05, 0.1}
	for _, value := range testValues {
		wrapper.PipelineLatencyObserve(value)
		wrapper.BridgeLatencyObserve(value)
	}
	wrapper.RowsPerRunObserve(10)
	wrapper.HTTPRequestObserve("POST", "/v1/predict", 200, 0.02)

	if n := testutil.CollectAndCount(metrics.PipelineLatency); n != 1 {
		t.Errorf("Expected pipeline latency histogram to be collected, got %d", n)
	}
	if n := testutil.CollectAndCount(metrics.HTTPDuration); n != 1 {
		t.Errorf("Expected 1 HTTP duration series, got %d", n)
	}
}

func TestMetricsWrapper_BridgeAndAPICounters(t *testing.T) {
	metrics, wrapper := newTestWrapper()

	wrapper.BridgeFailuresInc()
	wrapper.BridgeTimeoutsInc()
	wrapper.BridgeTimeoutsInc()
	wrapper.ArtifactsFetchedInc()
	wrapper.UploadsRejectedInc("unsupported_format")
	wrapper.RunsPersistedInc()

	checks := map[string]struct {
		got  float64
		want float64
	}{
		"bridge failures":   {testutil.ToFloat64(metrics.BridgeFailures), 1},
		"bridge timeouts":   {testutil.ToFloat64(metrics.BridgeTimeouts), 2},
		"artifacts fetched": {testutil.ToFloat64(metrics.ArtifactsFetched), 1},
		"uploads rejected":  {testutil.ToFloat64(metrics.UploadsRejected.WithLabelValues("unsupported_format")), 1},
		"runs persisted":    {testutil.ToFloat64(metrics.RunsPersisted), 1},
	}
	for name, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: expected %f, got %f", name, c.want, c.got)
		}
	}
}

func TestMetricsWrapper_NilSafe(t *testing.T) {
	var wrapper *MetricsWrapper
	wrapper.PredictionsAdd("random_forest", 1)
	wrapper.RecommendationsInc("agree")

	NewWrapper(nil).BridgeFailuresInc()
}
