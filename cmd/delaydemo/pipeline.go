package main

import (
	"context"
	"fmt"

	"flight-delay-demo/internal/features"
	"flight-delay-demo/internal/inference"
	"flight-delay-demo/internal/metrics"
	"flight-delay-demo/internal/ml"
)

// loadPredictor loads the configured artifacts and builds the dual-model
// predictor around them.
func loadPredictor(ctx context.Context, wrapper *metrics.MetricsWrapper) (*inference.Predictor, error) {
	bundle, err := ml.LoadBundle(ctx, settings.Artifacts(), wrapper)
	if err != nil {
		return nil, fmt.Errorf("load model artifacts: %w", err)
	}
	aligner := features.NewAligner(bundle.Scaler, wrapper)
	return inference.New(bundle, aligner, wrapper), nil
}
