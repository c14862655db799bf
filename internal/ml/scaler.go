package ml

import (
	"errors"
	"fmt"
)

// StandardScaler standardizes features as (x - mean) / scale. A zero scale
// leaves the centered value unscaled.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func (s *StandardScaler) Transform(x [][]float64) ([][]float64, error) {
	out := make([][]float64, len(x))
	for i, row := range x {
		if len(row) != len(s.Mean) {
			return nil, fmt.Errorf("row %d has %d features, scaler expects %d", i, len(row), len(s.Mean))
		}
		scaled := make([]float64, len(row))
		for j, v := range row {
			sc := s.Scale[j]
			if sc == 0 {
				sc = 1
			}
			scaled[j] = (v - s.Mean[j]) / sc
		}
		out[i] = scaled
	}
	return out, nil
}

func (s *StandardScaler) inputWidth() int { return len(s.Mean) }

func (s *StandardScaler) validate() error {
	if len(s.Mean) == 0 {
		return errors.New("scaler has no features")
	}
	if len(s.Mean) != len(s.Scale) {
		return fmt.Errorf("scaler has %d means and %d scales", len(s.Mean), len(s.Scale))
	}
	return nil
}
