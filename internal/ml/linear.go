package ml

import (
	"context"
	"errors"
	"fmt"
	"math"

	"flight-delay-demo/internal/common"
)

// Logistic is a fitted binary logistic regression in native JSON form.
type Logistic struct {
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
}

func (m *Logistic) Name() string { return common.LinearModelName }

func (m *Logistic) inputWidth() int { return len(m.Coef) }

func (m *Logistic) PredictProba(ctx context.Context, x [][]float64) ([]float64, error) {
	out := make([]float64, len(x))
	for i, row := range x {
		if len(row) != len(m.Coef) {
			return nil, fmt.Errorf("row %d has %d features, model expects %d", i, len(row), len(m.Coef))
		}
		z := m.Intercept
		for j, v := range row {
			z += m.Coef[j] * v
		}
		out[i] = sigmoid(z)
	}
	return out, nil
}

// Coefficients returns a copy of the coefficient vector.
func (m *Logistic) Coefficients(context.Context) ([]float64, error) {
	out := make([]float64, len(m.Coef))
	copy(out, m.Coef)
	return out, nil
}

func (m *Logistic) validate() error {
	if len(m.Coef) == 0 {
		return errors.New("logistic regression has no coefficients")
	}
	for i, c := range m.Coef {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("coefficient %d is not finite", i)
		}
	}
	if math.IsNaN(m.Intercept) || math.IsInf(m.Intercept, 0) {
		return errors.New("intercept is not finite")
	}
	return nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
