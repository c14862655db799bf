package inference

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"flight-delay-demo/internal/common"
	"flight-delay-demo/internal/features"
	"flight-delay-demo/internal/ml"
	"flight-delay-demo/internal/table"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubModel scores each row with fn and records the matrices it saw.
type stubModel struct {
	name string
	fn   func(row []float64) float64

	mu   sync.Mutex
	seen [][][]float64
}

func (m *stubModel) Name() string { return m.name }

func (m *stubModel) PredictProba(_ context.Context, x [][]float64) ([]float64, error) {
	m.mu.Lock()
	m.seen = append(m.seen, x)
	m.mu.Unlock()
	out := make([]float64, len(x))
	for i, row := range x {
		out[i] = m.fn(row)
	}
	return out, nil
}

func (m *stubModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

type failingModel struct{ panics bool }

func (failingModel) Name() string { return "broken" }

func (m failingModel) PredictProba(context.Context, [][]float64) ([]float64, error) {
	if m.panics {
		panic("index out of range")
	}
	return nil, errors.New("bridge exited with status 1")
}

type recordingMetrics struct {
	predictions map[string]int
	failures    int
}

func (m *recordingMetrics) PredictionsAdd(model string, rows int) {
	if m.predictions == nil {
		m.predictions = map[string]int{}
	}
	m.predictions[model] += rows
}
func (m *recordingMetrics) PositiveLabelsAdd(string, int)  {}
func (m *recordingMetrics) PipelineLatencyObserve(float64) {}
func (m *recordingMetrics) PipelineFailuresInc()           { m.failures++ }

func constant(p float64) func([]float64) float64 {
	return func([]float64) float64 { return p }
}

func scenarioInput() *table.Table {
	t, _ := table.FromPairs([]string{"dep_hour", "precip_in", "DISTANCE"}, []any{18.0, 0.5, 1200.0})
	return t
}

func TestLabel(t *testing.T) {
	tests := []struct {
		p, threshold float64
		want         int
	}{
		{0.3, 0.3, 1},
		{0.2999999, 0.3, 0},
		{0.61, 0.6, 1},
		{0, 0, 1},
		{1, 1, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Label(tt.p, tt.threshold), "p=%v t=%v", tt.p, tt.threshold)
	}
}

func TestPredictBoth_EndToEnd(t *testing.T) {
	schema := features.Schema{"dep_hour", "precip_in", "DISTANCE", "wind_mph"}
	forest := &ml.Forest{
		NFeatures: 4,
		Trees: []ml.Tree{{Nodes: []ml.Node{
			{Feature: 1, Threshold: 0.1, Left: 1, Right: 2, Cover: 10},
			{Left: -1, Right: -1, Value: 0.1, Cover: 7},
			{Left: -1, Right: -1, Value: 0.7, Cover: 3},
		}}},
	}
	logistic := &ml.Logistic{Coef: []float64{0.1, 1, 0, 0}, Intercept: -2}
	bundle := &ml.Bundle{
		Tree: forest, TreeThreshold: 0.3, TreeFeatures: schema,
		Linear: logistic, LinearThreshold: 0.6,
	}
	metrics := &recordingMetrics{}

	res, err := New(bundle, nil, metrics).PredictBoth(context.Background(), scenarioInput())
	require.NoError(t, err)
	require.Equal(t, 1, res.Len())

	assert.Equal(t, []string{"dep_hour", "precip_in", "DISTANCE", "wind_mph"}, res.TreeMatrix.Columns)
	assert.Equal(t, []float64{18, 0.5, 1200, 0}, res.TreeMatrix.Values[0])

	assert.InDelta(t, 0.7, res.Tree.Probabilities[0], 1e-12)
	assert.Equal(t, 1, res.Tree.Labels[0])

	// z = 1.8 + 0.5 - 2 = 0.3
	wantLinear := 1 / (1 + math.Exp(-0.3))
	assert.InDelta(t, wantLinear, res.Linear.Probabilities[0], 1e-12)
	assert.Equal(t, Label(wantLinear, 0.6), res.Linear.Labels[0])
	assert.Equal(t, 0.3, res.Tree.Threshold)
	assert.Equal(t, 0.6, res.Linear.Threshold)

	out := res.Table()
	assert.Equal(t, []string{"dep_hour", "precip_in", "DISTANCE",
		common.ColTreeProba, common.ColTreePred, common.ColLinearProba, common.ColLinearPred}, out.Columns)
	assert.Equal(t, 1, out.Value(0, out.Index(common.ColTreePred)))
	assert.NotEmpty(t, res.ID)

	assert.Equal(t, 1, metrics.predictions[common.TreeModelName])
	assert.Equal(t, 1, metrics.predictions[common.LinearModelName])
}

func TestPredictBoth_ThresholdsPerModel(t *testing.T) {
	bundle := &ml.Bundle{
		Tree:          &stubModel{name: "tree", fn: constant(0.3)},
		TreeThreshold: 0.3,
		Linear:        &stubModel{name: "linear", fn: constant(0.5)},
		// the same probability would pass the tree threshold
		LinearThreshold: 0.6,
		TreeFeatures:    features.Schema{"dep_hour"},
	}

	res, err := New(bundle, nil, nil).PredictBoth(context.Background(), scenarioInput())
	require.NoError(t, err)
	assert.Equal(t, []int{1}, res.Tree.Labels, "p equal to threshold is positive")
	assert.Equal(t, []int{0}, res.Linear.Labels)
}

func TestPredictBoth_SeparateLinearAlignment(t *testing.T) {
	tree := &stubModel{name: "tree", fn: constant(0.1)}
	linear := &stubModel{name: "linear", fn: constant(0.1)}
	bundle := &ml.Bundle{
		Tree: tree, TreeThreshold: 0.3, TreeFeatures: features.Schema{"dep_hour", "precip_in"},
		Linear: linear, LinearThreshold: 0.6, LinearFeatures: features.Schema{"DISTANCE", "carrier_AA"},
	}

	res, err := New(bundle, nil, nil).PredictBoth(context.Background(), scenarioInput())
	require.NoError(t, err)

	assert.Equal(t, [][]float64{{18, 0.5}}, tree.seen[0])
	assert.Equal(t, [][]float64{{1200, 0}}, linear.seen[0])
	assert.Equal(t, []string{"DISTANCE", "carrier_AA"}, res.LinearMatrix.Columns)
}

func TestPredictBoth_SharedMatrixWhenSchemasMatch(t *testing.T) {
	schema := features.Schema{"precip_in", "dep_hour"}
	bundle := &ml.Bundle{
		Tree: &stubModel{name: "tree", fn: constant(0.1)}, TreeThreshold: 0.3, TreeFeatures: schema,
		Linear: &stubModel{name: "linear", fn: constant(0.1)}, LinearThreshold: 0.6, LinearFeatures: schema.Clone(),
	}

	res, err := New(bundle, nil, nil).PredictBoth(context.Background(), scenarioInput())
	require.NoError(t, err)
	assert.Equal(t, res.TreeMatrix, res.LinearMatrix)
}

func TestPredictBoth_LinearSchemaOnly(t *testing.T) {
	tree := &stubModel{name: "tree", fn: constant(0.1)}
	bundle := &ml.Bundle{
		Tree: tree, TreeThreshold: 0.3,
		Linear: &stubModel{name: "linear", fn: constant(0.1)}, LinearThreshold: 0.6,
		LinearFeatures: features.Schema{"DISTANCE"},
	}

	_, err := New(bundle, nil, nil).PredictBoth(context.Background(), scenarioInput())
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1200}}, tree.seen[0], "tree falls back to the linear feature list")
}

func TestPredictBoth_DegradedWithoutSchema(t *testing.T) {
	in := table.New("dep_hour", "carrier", "DISTANCE")
	in.AppendRow(18.0, "AA", 1200.0)
	tree := &stubModel{name: "tree", fn: constant(0.1)}
	bundle := &ml.Bundle{
		Tree: tree, TreeThreshold: 0.3,
		Linear: &stubModel{name: "linear", fn: constant(0.1)}, LinearThreshold: 0.6,
	}

	res, err := New(bundle, nil, nil).PredictBoth(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []string{"dep_hour", "DISTANCE"}, res.TreeMatrix.Columns)
	assert.Equal(t, [][]float64{{18, 1200}}, tree.seen[0])
}

func TestPredictBoth_PreservesRowOrder(t *testing.T) {
	in := table.New("dep_hour")
	for _, h := range []float64{5, 23, 12, 0, 17} {
		in.AppendRow(h)
	}
	byHour := func(row []float64) float64 { return row[0] / 100 }
	bundle := &ml.Bundle{
		Tree: &stubModel{name: "tree", fn: byHour}, TreeThreshold: 0.15,
		Linear: &stubModel{name: "linear", fn: byHour}, LinearThreshold: 0.6,
		TreeFeatures: features.Schema{"dep_hour"},
	}

	res, err := New(bundle, nil, nil).PredictBoth(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.05, 0.23, 0.12, 0, 0.17}, res.Tree.Probabilities)
	assert.Equal(t, []int{0, 1, 0, 0, 1}, res.Tree.Labels)

	out := res.Table()
	for i := 0; i < in.Len(); i++ {
		assert.Equal(t, in.Value(i, 0), out.Value(i, 0))
	}
}

func TestPredictBoth_EmptyInput(t *testing.T) {
	tree := &stubModel{name: "tree", fn: constant(0.1)}
	bundle := &ml.Bundle{
		Tree: tree, TreeThreshold: 0.3,
		Linear: &stubModel{name: "linear", fn: constant(0.1)}, LinearThreshold: 0.6,
		TreeFeatures: features.Schema{"dep_hour"},
	}

	res, err := New(bundle, nil, nil).PredictBoth(context.Background(), table.New("dep_hour"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Len())
	assert.Equal(t, 0, tree.calls())
	assert.Equal(t, 0, res.Table().Len())
}

func TestPredictBoth_ModelFailures(t *testing.T) {
	for _, panics := range []bool{false, true} {
		metrics := &recordingMetrics{}
		bundle := &ml.Bundle{
			Tree: &stubModel{name: "tree", fn: constant(0.1)}, TreeThreshold: 0.3,
			Linear: failingModel{panics: panics}, LinearThreshold: 0.6,
			TreeFeatures: features.Schema{"dep_hour"},
		}

		var res *Result
		var err error
		assert.NotPanics(t, func() {
			res, err = New(bundle, nil, metrics).PredictBoth(context.Background(), scenarioInput())
		})
		require.Error(t, err)
		assert.Nil(t, res)
		assert.Contains(t, err.Error(), "broken prediction failed")
		assert.Equal(t, 1, metrics.failures)
	}
}

func TestPredictBoth_ReplacesExistingResultColumns(t *testing.T) {
	in := table.New("dep_hour", common.ColTreeProba)
	in.AppendRow(18.0, "stale")
	bundle := &ml.Bundle{
		Tree: &stubModel{name: "tree", fn: constant(0.4)}, TreeThreshold: 0.3,
		Linear: &stubModel{name: "linear", fn: constant(0.1)}, LinearThreshold: 0.6,
		TreeFeatures: features.Schema{"dep_hour"},
	}

	res, err := New(bundle, nil, nil).PredictBoth(context.Background(), in)
	require.NoError(t, err)

	out := res.Table()
	assert.Len(t, out.Columns, 5)
	assert.Equal(t, 0.4, out.Value(0, 1))
}
