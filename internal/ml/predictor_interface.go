// Package ml provides the model abstractions the delay pipeline scores with.
// It includes native JSON model formats (logistic regression, random forest
// with TreeSHAP attribution, standard scaler), a python bridge for joblib
// artifacts, remote artifact fetching and loading of the artifact bundle.
package ml

import (
	"context"
	"errors"
)

// ErrAttributionUnsupported is returned by models that cannot produce
// per-row feature attributions.
var ErrAttributionUnsupported = errors.New("model does not support per-row attribution")

// Classifier is a binary classifier scoring rows of an aligned matrix.
type Classifier interface {
	// Name identifies the model in logs and metrics.
	Name() string

	// PredictProba returns the positive-class probability for each row of x,
	// in row order.
	PredictProba(ctx context.Context, x [][]float64) ([]float64, error)
}

// LinearModel exposes one coefficient per input feature.
type LinearModel interface {
	Coefficients(ctx context.Context) ([]float64, error)
}

// ImportanceModel exposes row-independent feature importances.
type ImportanceModel interface {
	FeatureImportances(ctx context.Context) ([]float64, error)
}

// Attributor computes positive-class feature attributions for a single row
// of x. The result has one value per column of x.
type Attributor interface {
	Attributions(ctx context.Context, x [][]float64, row int) ([]float64, error)
}
