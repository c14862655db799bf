package explain

import (
	"context"
	"errors"
	"math"
	"testing"

	"flight-delay-demo/internal/features"
	"flight-delay-demo/internal/inference"
	"flight-delay-demo/internal/ml"
	"flight-delay-demo/internal/table"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type coefModel struct {
	coef []float64
	err  error
}

func (m coefModel) Coefficients(context.Context) ([]float64, error) { return m.coef, m.err }

type panickyTree struct{}

func (panickyTree) Name() string { return "panicky" }
func (panickyTree) PredictProba(context.Context, [][]float64) ([]float64, error) {
	return []float64{0.5}, nil
}
func (panickyTree) Attributions(context.Context, [][]float64, int) ([]float64, error) {
	panic("shap exploded")
}
func (panickyTree) FeatureImportances(context.Context) ([]float64, error) {
	return []float64{0.2, 0.8}, nil
}

type plainModel struct{}

func (plainModel) Name() string { return "plain" }
func (plainModel) PredictProba(_ context.Context, x [][]float64) ([]float64, error) {
	return make([]float64, len(x)), nil
}

type countingMetrics struct {
	fallbacks       map[string]int
	recommendations map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{fallbacks: map[string]int{}, recommendations: map[string]int{}}
}

func (m *countingMetrics) AttributionFallbacksInc(method string) { m.fallbacks[method]++ }
func (m *countingMetrics) RecommendationsInc(choice string)      { m.recommendations[choice]++ }

func names(cs []Contribution) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Feature
	}
	return out
}

func TestContributions_Ranking(t *testing.T) {
	model := coefModel{coef: []float64{1, -2, 0.5, 0}}
	cs, err := Contributions(context.Background(), model, []float64{3, 1, 2, 5}, []string{"a", "b", "c", "d"}, 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "c", "d", "b"}, names(cs.Ranked))
	assert.Equal(t, []float64{3, 1, 0, -2}, []float64{
		cs.Ranked[0].Contribution, cs.Ranked[1].Contribution, cs.Ranked[2].Contribution, cs.Ranked[3].Contribution,
	})
	assert.Equal(t, []string{"a", "c"}, names(cs.TopPositive))
	assert.Equal(t, []string{"b", "d"}, names(cs.TopNegative), "most negative first")

	for i := 1; i < len(cs.TopPositive); i++ {
		assert.GreaterOrEqual(t, cs.TopPositive[i-1].Contribution, cs.TopPositive[i].Contribution)
	}
	for i := 1; i < len(cs.TopNegative); i++ {
		assert.LessOrEqual(t, cs.TopNegative[i-1].Contribution, cs.TopNegative[i].Contribution)
	}
}

func TestContributions_TiesKeepFeatureOrder(t *testing.T) {
	model := coefModel{coef: []float64{0, 0, 0}}
	cs, err := Contributions(context.Background(), model, []float64{1, 2, 3}, []string{"x", "y", "z"}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "z"}, names(cs.Ranked))
	assert.Equal(t, []string{"x", "y"}, names(cs.TopPositive))
	assert.Equal(t, []string{"y", "z"}, names(cs.TopNegative))
}

func TestContributions_TopNLargerThanFeatures(t *testing.T) {
	model := coefModel{coef: []float64{1, -1}}
	cs, err := Contributions(context.Background(), model, []float64{1, 1}, []string{"a", "b"}, 8)
	require.NoError(t, err)
	assert.Len(t, cs.TopPositive, 2)
	assert.Len(t, cs.TopNegative, 2)
}

func TestContributions_Errors(t *testing.T) {
	_, err := Contributions(context.Background(), coefModel{err: errors.New("no coef_")}, []float64{1}, []string{"a"}, 1)
	assert.Error(t, err)

	_, err = Contributions(context.Background(), coefModel{coef: []float64{1, 2}}, []float64{1}, []string{"a"}, 1)
	assert.Error(t, err)
}

// twoFeatureForest splits on feature 1 first, so feature 1 dominates.
func twoFeatureForest() *ml.Forest {
	return &ml.Forest{
		NFeatures: 2,
		Trees: []ml.Tree{{Nodes: []ml.Node{
			{Feature: 1, Threshold: 0.5, Left: 1, Right: 2, Cover: 100},
			{Left: -1, Right: -1, Value: 0.1, Cover: 50},
			{Feature: 0, Threshold: 10, Left: 3, Right: 4, Cover: 50},
			{Left: -1, Right: -1, Value: 0.6, Cover: 40},
			{Left: -1, Right: -1, Value: 0.7, Cover: 10},
		}}},
		Importances: []float64{0.1, 0.9},
	}
}

func TestAttribute_RanksByMagnitude(t *testing.T) {
	m := features.Matrix{Columns: []string{"DISTANCE", "precip_in"}, Values: [][]float64{{20, 1}}}

	a := Attribute(context.Background(), twoFeatureForest(), m, 0, 0)
	require.True(t, a.Available(), a.Reason)
	require.Len(t, a.Records, 2)
	assert.Equal(t, "precip_in", a.Records[0].Feature)
	assert.Equal(t, 1.0, a.Records[0].FeatureValue)
	assert.GreaterOrEqual(t, math.Abs(a.Records[0].Attribution), math.Abs(a.Records[1].Attribution))

	top := Attribute(context.Background(), twoFeatureForest(), m, 0, 1)
	assert.Len(t, top.Records, 1)
}

func TestAttribute_Unavailable(t *testing.T) {
	m := features.Matrix{Columns: []string{"a", "b"}, Values: [][]float64{{1, 2}}}

	cases := map[string]struct {
		model ml.Classifier
		row   int
	}{
		"no capability": {plainModel{}, 0},
		"panics":        {panickyTree{}, 0},
		"row too large": {twoFeatureForest(), 1},
		"negative row":  {twoFeatureForest(), -1},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var a Attribution
			assert.NotPanics(t, func() { a = Attribute(context.Background(), tc.model, m, tc.row, 5) })
			assert.Equal(t, StatusUnavailable, a.Status)
			assert.NotEmpty(t, a.Reason)
			assert.Empty(t, a.Records)
		})
	}
}

func TestExplainTree_Fallbacks(t *testing.T) {
	m := features.Matrix{Columns: []string{"a", "b"}, Values: [][]float64{{1, 2}}}

	e := ExplainTree(context.Background(), panickyTree{}, m, 0, 5)
	assert.Equal(t, MethodImportance, e.Method)
	assert.Equal(t, []string{"b", "a"}, e.Features())
	assert.Contains(t, e.Reason, "panicked")

	noCover := twoFeatureForest()
	noCover.Trees[0].Nodes[3].Cover = 0
	e = ExplainTree(context.Background(), noCover, m, 0, 1)
	assert.Equal(t, MethodImportance, e.Method)
	assert.Equal(t, []string{"b"}, e.Features())

	e = ExplainTree(context.Background(), plainModel{}, m, 0, 5)
	assert.Equal(t, MethodNone, e.Method)
	assert.Empty(t, e.Features())
}

func TestGlobalImportance(t *testing.T) {
	recs, err := GlobalImportance(context.Background(), twoFeatureForest(), []string{"a", "b"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "b", recs[0].Feature)
	assert.Equal(t, 0.9, recs[0].Importance)

	_, err = GlobalImportance(context.Background(), twoFeatureForest(), []string{"a"}, 0)
	assert.Error(t, err)
}

func TestReconcile_Agreement(t *testing.T) {
	probs := []float64{0, 0.05, 0.3, 0.61, 0.99, 1}
	for _, pred := range []int{0, 1} {
		for _, pt := range probs {
			for _, pl := range probs {
				rec := Reconcile(Decision{pt, pred, 0.3}, Decision{pl, pred, 0.6})
				assert.Equal(t, ChoiceAgree, rec.Choice)
				assert.Equal(t, pred, rec.Prediction)
			}
		}
	}

	rec := Reconcile(Decision{0.7, 1, 0.3}, Decision{0.8, 1, 0.6})
	assert.Equal(t, "Both models agree on Delay. Recommend following this outcome.", rec.Text)
}

func TestReconcile_HigherNormalizedConfidenceWins(t *testing.T) {
	// 0.5/0.3 = 1.667 vs 0.65/0.6 = 1.083, difference 0.58 > 0.15
	rec := Reconcile(Decision{0.5, 1, 0.3}, Decision{0.65, 0, 0.6})

	assert.InDelta(t, 1.6667, rec.TreeConfidence, 1e-4)
	assert.InDelta(t, 1.0833, rec.LinearConfidence, 1e-4)
	assert.Equal(t, ChoiceTree, rec.Choice)
	assert.Equal(t, 1, rec.Prediction)
	assert.Equal(t, "Delay", rec.Label)
	assert.Contains(t, rec.Text, "Recommend trusting Random Forest for this case.")

	rec = Reconcile(Decision{0.1, 0, 0.3}, Decision{0.9, 1, 0.6})
	assert.Equal(t, ChoiceLinear, rec.Choice)
	assert.Equal(t, 1, rec.Prediction)
	assert.Contains(t, rec.Text, "Logistic Regression has higher relative confidence")
}

func TestReconcile_InterpretabilityTieBreak(t *testing.T) {
	// 0.33/0.3 = 1.1 vs 0.59/0.6 = 0.983
	rec := Reconcile(Decision{0.33, 1, 0.3}, Decision{0.59, 0, 0.6})
	assert.Equal(t, ChoiceLinearTieBreak, rec.Choice)
	assert.Equal(t, 0, rec.Prediction)
	assert.Equal(t, "On time", rec.Label)
	assert.Contains(t, rec.Text, "interpretable")

	wide := ReconcileWithTolerance(Decision{0.33, 1, 0.3}, Decision{0.59, 0, 0.6}, 0.1)
	assert.Equal(t, ChoiceTree, wide.Choice)
}

func TestReconcile_InvalidThresholdsUseFallback(t *testing.T) {
	rec := Reconcile(Decision{0.3, 1, 0}, Decision{0.6, 0, math.NaN()})
	assert.Equal(t, 1.0, rec.TreeConfidence)
	assert.Equal(t, 1.0, rec.LinearConfidence)
	assert.False(t, math.IsInf(rec.TreeConfidence, 0))
	assert.Equal(t, ChoiceLinearTieBreak, rec.Choice)
}

func TestVerdicts(t *testing.T) {
	cs, err := Contributions(context.Background(), coefModel{coef: []float64{1, -2, 0.5, 0}},
		[]float64{3, 1, 2, 5}, []string{"a", "b", "c", "d"}, 8)
	require.NoError(t, err)

	lv := LinearVerdict(Decision{0.7, 1, 0.6}, cs, 3)
	assert.Equal(t, "Delay", lv.Label)
	assert.Equal(t, []string{"a", "c", "d"}, lv.Increasing)
	assert.Equal(t, []string{"b", "d", "c"}, lv.Decreasing)
	assert.Equal(t, "↑ a, c, d; ↓ b, d, c", lv.Support)

	empty := LinearVerdict(Decision{0.2, 0, 0.6}, nil, 3)
	assert.Equal(t, "On time", empty.Label)
	assert.Equal(t, "No strong contributors identified.", empty.Support)

	tv := TreeVerdict(Decision{0.4, 1, 0.3}, TreeExplanation{Method: MethodImportance, Importances: []ImportanceRecord{
		{"x", 0.5}, {"y", 0.3}, {"z", 0.1}, {"w", 0.05},
	}}, 3)
	assert.Equal(t, "top features: x, y, z", tv.Support)

	none := TreeVerdict(Decision{0.4, 1, 0.3}, TreeExplanation{Method: MethodNone}, 3)
	assert.Equal(t, "No top features available.", none.Support)
	assert.NotNil(t, none.Supporting)
}

func TestBuildReport(t *testing.T) {
	bundle := &ml.Bundle{
		Tree:            twoFeatureForest(),
		TreeThreshold:   0.3,
		TreeFeatures:    features.Schema{"DISTANCE", "precip_in"},
		Linear:          &ml.Logistic{Coef: []float64{0.001, 2}, Intercept: -1},
		LinearThreshold: 0.6,
	}
	in, err := table.FromPairs([]string{"dep_hour", "precip_in", "DISTANCE"}, []any{18.0, 0.5, 1200.0})
	require.NoError(t, err)

	res, err := inference.New(bundle, nil, nil).PredictBoth(context.Background(), in)
	require.NoError(t, err)

	metrics := newCountingMetrics()
	r, err := NewExplainer(DefaultOptions(), metrics).BuildReport(context.Background(), bundle, res, 0)
	require.NoError(t, err)

	assert.Equal(t, res.ID, r.RunID)
	assert.Equal(t, MethodSHAP, r.TreeExplanation.Method)
	require.NotNil(t, r.Contributions)
	assert.Len(t, r.Contributions.Ranked, 2)
	assert.Equal(t, res.Tree.Probabilities[0], r.Tree.Probability)
	assert.Equal(t, res.Linear.Labels[0], r.Linear.Prediction)
	assert.NotEmpty(t, r.Recommendation.Text)
	assert.Equal(t, 1, metrics.recommendations[string(r.Recommendation.Choice)])
	assert.Empty(t, metrics.fallbacks)

	text := r.Text()
	assert.Contains(t, text, "Row index: 0")
	assert.Contains(t, text, "Top RF SHAP features:")
	assert.Contains(t, text, "Overall recommendation: ")

	_, err = BuildReport(context.Background(), bundle, res, 1, Options{})
	assert.True(t, errors.Is(err, ErrRowOutOfRange))
}

func TestBuildReport_DegradesWithoutCapabilities(t *testing.T) {
	bundle := &ml.Bundle{
		Tree:            plainModel{},
		TreeThreshold:   0.3,
		Linear:          plainModel{},
		LinearThreshold: 0.6,
		TreeFeatures:    features.Schema{"a"},
	}
	in := table.New("a")
	in.AppendRow(1.0)
	res, err := inference.New(bundle, nil, nil).PredictBoth(context.Background(), in)
	require.NoError(t, err)

	metrics := newCountingMetrics()
	r, err := NewExplainer(Options{}, metrics).BuildReport(context.Background(), bundle, res, 0)
	require.NoError(t, err)

	assert.Nil(t, r.Contributions)
	assert.NotEmpty(t, r.ContributionError)
	assert.Equal(t, MethodNone, r.TreeExplanation.Method)
	assert.Equal(t, 1, metrics.fallbacks[MethodNone])
	assert.Equal(t, ChoiceAgree, r.Recommendation.Choice)
	assert.Contains(t, r.Text(), "RF explanation unavailable")
}
