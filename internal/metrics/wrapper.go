package metrics

import "strconv"

// MetricsWrapper adapts Metrics to the narrow MetricsInterface of each
// consumer package (features, ml, inference, explain, api). A nil wrapper
// or one without metrics records nothing.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) enabled() bool {
	return w != nil && w.m != nil
}

// Alignment

func (w *MetricsWrapper) AlignCoercionsAdd(n int) {
	if w.enabled() && n > 0 {
		w.m.AlignCoercions.Add(float64(n))
	}
}

func (w *MetricsWrapper) ScalerFailuresInc() {
	if w.enabled() {
		w.m.ScalerFailures.Inc()
	}
}

// Inference

func (w *MetricsWrapper) PredictionsAdd(model string, rows int) {
	if w.enabled() {
		w.m.Predictions.WithLabelValues(model).Add(float64(rows))
	}
}

func (w *MetricsWrapper) PositiveLabelsAdd(model string, n int) {
	if w.enabled() {
		w.m.PositiveLabels.WithLabelValues(model).Add(float64(n))
	}
}

func (w *MetricsWrapper) PipelineLatencyObserve(seconds float64) {
	if w.enabled() {
		w.m.PipelineLatency.Observe(seconds)
	}
}

func (w *MetricsWrapper) PipelineFailuresInc() {
	if w.enabled() {
		w.m.PipelineFailures.Inc()
	}
}

func (w *MetricsWrapper) RowsPerRunObserve(rows int) {
	if w.enabled() {
		w.m.RowsPerRun.Observe(float64(rows))
	}
}

// Explanation

func (w *MetricsWrapper) AttributionFallbacksInc(method string) {
	if w.enabled() {
		w.m.AttributionFallbacks.WithLabelValues(method).Inc()
	}
}

func (w *MetricsWrapper) RecommendationsInc(choice string) {
	if w.enabled() {
		w.m.Recommendations.WithLabelValues(choice).Inc()
	}
}

// Model bridge and artifacts

func (w *MetricsWrapper) BridgeLatencyObserve(seconds float64) {
	if w.enabled() {
		w.m.BridgeLatency.Observe(seconds)
	}
}

func (w *MetricsWrapper) BridgeFailuresInc() {
	if w.enabled() {
		w.m.BridgeFailures.Inc()
	}
}

func (w *MetricsWrapper) BridgeTimeoutsInc() {
	if w.enabled() {
		w.m.BridgeTimeouts.Inc()
	}
}

func (w *MetricsWrapper) ArtifactsFetchedInc() {
	if w.enabled() {
		w.m.ArtifactsFetched.Inc()
	}
}

// API

func (w *MetricsWrapper) UploadsRejectedInc(reason string) {
	if w.enabled() {
		w.m.UploadsRejected.WithLabelValues(reason).Inc()
	}
}

func (w *MetricsWrapper) RunsPersistedInc() {
	if w.enabled() {
		w.m.RunsPersisted.Inc()
	}
}

func (w *MetricsWrapper) HTTPRequestObserve(method, route string, status int, seconds float64) {
	if w.enabled() {
		w.m.HTTPDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(seconds)
	}
}
