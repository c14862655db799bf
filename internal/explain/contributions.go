// Package explain turns model scores into per-row explanations: linear
// contribution decomposition, tree attribution with a global importance
// fallback, short per-model verdicts and a reconciled recommendation.
package explain

import (
	"context"
	"fmt"
	"sort"

	"flight-delay-demo/internal/ml"
)

// Contribution is one feature's additive share of the linear logit.
type Contribution struct {
	Feature      string  `json:"feature"`
	Value        float64 `json:"value"`
	Coefficient  float64 `json:"coef"`
	Contribution float64 `json:"contribution"`
}

// ContributionSet is the decomposition of one row.
type ContributionSet struct {
	// Ranked holds every feature by descending contribution.
	Ranked []Contribution `json:"ranked"`
	// TopPositive is the head of Ranked.
	TopPositive []Contribution `json:"top_positive"`
	// TopNegative is the tail of Ranked, most negative first.
	TopNegative []Contribution `json:"top_negative"`
}

// Contributions decomposes row into coefficient * value per feature. topN
// bounds both top lists; topN <= 0 or larger than the feature count keeps
// every feature. Ties keep feature order.
func Contributions(ctx context.Context, model ml.LinearModel, row []float64, names []string, topN int) (*ContributionSet, error) {
	coef, err := model.Coefficients(ctx)
	if err != nil {
		return nil, fmt.Errorf("get coefficients: %w", err)
	}
	if len(coef) != len(row) || len(names) != len(row) {
		return nil, fmt.Errorf("linear model has %d coefficients for %d values and %d names", len(coef), len(row), len(names))
	}

	ranked := make([]Contribution, len(row))
	for i := range row {
		ranked[i] = Contribution{
			Feature:      names[i],
			Value:        row[i],
			Coefficient:  coef[i],
			Contribution: coef[i] * row[i],
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Contribution > ranked[j].Contribution
	})

	n := topN
	if n <= 0 || n > len(ranked) {
		n = len(ranked)
	}

	pos := make([]Contribution, n)
	copy(pos, ranked[:n])

	neg := make([]Contribution, n)
	copy(neg, ranked[len(ranked)-n:])
	sort.SliceStable(neg, func(i, j int) bool {
		return neg[i].Contribution < neg[j].Contribution
	})

	return &ContributionSet{Ranked: ranked, TopPositive: pos, TopNegative: neg}, nil
}
