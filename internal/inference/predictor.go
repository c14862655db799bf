// Package inference runs both delay models over an input table.
package inference

import (
	"context"
	"fmt"
	"sync"
	"time"

	"flight-delay-demo/internal/common"
	"flight-delay-demo/internal/features"
	"flight-delay-demo/internal/ml"
	"flight-delay-demo/internal/table"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// MetricsInterface defines metrics methods needed by the predictor
type MetricsInterface interface {
	PredictionsAdd(model string, rows int)
	PositiveLabelsAdd(model string, n int)
	PipelineLatencyObserve(float64)
	PipelineFailuresInc()
}

// Label is the decision rule shared by both models: 1 iff p >= threshold.
func Label(p, threshold float64) int {
	if p >= threshold {
		return 1
	}
	return 0
}

// ModelOutput holds one model's scores for every input row.
type ModelOutput struct {
	Model         string    `json:"model"`
	Threshold     float64   `json:"threshold"`
	Probabilities []float64 `json:"probabilities"`
	Labels        []int     `json:"labels"`
}

// Result is the outcome of one pipeline run. Row i of every slice and
// matrix corresponds to row i of Input.
type Result struct {
	ID           string          `json:"id"`
	CreatedAt    time.Time       `json:"created_at"`
	Input        *table.Table    `json:"-"`
	Tree         ModelOutput     `json:"tree"`
	Linear       ModelOutput     `json:"linear"`
	TreeMatrix   features.Matrix `json:"-"`
	LinearMatrix features.Matrix `json:"-"`
}

// Len returns the number of scored rows.
func (r *Result) Len() int {
	return len(r.Tree.Probabilities)
}

// Table returns the input table with rf_proba, rf_pred, lr_proba and
// lr_pred set.
func (r *Result) Table() *table.Table {
	out := r.Input
	if out == nil {
		out = table.New()
	}
	cols := []struct {
		name   string
		values []any
	}{
		{common.ColTreeProba, floats(r.Tree.Probabilities)},
		{common.ColTreePred, ints(r.Tree.Labels)},
		{common.ColLinearProba, floats(r.Linear.Probabilities)},
		{common.ColLinearPred, ints(r.Linear.Labels)},
	}
	for _, c := range cols {
		next, err := out.WithColumn(c.name, c.values)
		if err != nil {
			// lengths are fixed by PredictBoth
			panic(err)
		}
		out = next
	}
	return out
}

// Predictor scores tables with the tree and linear models of a bundle.
// Runs are serialized.
type Predictor struct {
	mu      sync.Mutex
	bundle  *ml.Bundle
	aligner *features.Aligner
	metrics MetricsInterface
}

// New creates a predictor. aligner and metrics may be nil.
func New(bundle *ml.Bundle, aligner *features.Aligner, metrics MetricsInterface) *Predictor {
	if aligner == nil {
		aligner = features.NewAligner(bundle.Scaler, nil)
	}
	return &Predictor{bundle: bundle, aligner: aligner, metrics: metrics}
}

// Bundle returns the model context the predictor scores with.
func (p *Predictor) Bundle() *ml.Bundle {
	return p.bundle
}

// PredictBoth aligns t to the primary schema, scores it with the tree model,
// re-aligns for the linear model when its feature list differs, and applies
// each model's own threshold.
func (p *Predictor) PredictBoth(ctx context.Context, t *table.Table) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	res, err := p.run(ctx, t)

	if p.metrics != nil {
		p.metrics.PipelineLatencyObserve(time.Since(start).Seconds())
		if err != nil {
			p.metrics.PipelineFailuresInc()
		}
	}
	if err != nil {
		log.Error().Err(err).Int("rows", t.Len()).Msg("Prediction run failed")
		return nil, err
	}

	log.Info().
		Str("run_id", res.ID).
		Int("rows", res.Len()).
		Int("tree_positive", sum(res.Tree.Labels)).
		Int("linear_positive", sum(res.Linear.Labels)).
		Dur("elapsed", time.Since(start)).
		Msg("Prediction run complete")
	return res, nil
}

func (p *Predictor) run(ctx context.Context, t *table.Table) (*Result, error) {
	if t == nil {
		t = table.New()
	}
	b := p.bundle

	primary := b.PrimarySchema()
	treeX := p.aligner.Align(t, primary)

	linearX := treeX
	if b.LinearFeatures != nil && !b.LinearFeatures.Equal(primary) {
		linearX = p.aligner.Align(t, b.LinearFeatures)
	}

	treeOut, err := p.score(ctx, b.Tree, b.TreeThreshold, treeX)
	if err != nil {
		return nil, err
	}
	linearOut, err := p.score(ctx, b.Linear, b.LinearThreshold, linearX)
	if err != nil {
		return nil, err
	}

	return &Result{
		ID:           uuid.NewString(),
		CreatedAt:    time.Now().UTC(),
		Input:        t,
		Tree:         treeOut,
		Linear:       linearOut,
		TreeMatrix:   treeX,
		LinearMatrix: linearX,
	}, nil
}

func (p *Predictor) score(ctx context.Context, c ml.Classifier, threshold float64, x features.Matrix) (ModelOutput, error) {
	out := ModelOutput{Model: c.Name(), Threshold: threshold}

	if x.Len() == 0 {
		out.Probabilities = []float64{}
		out.Labels = []int{}
		return out, nil
	}

	probs, err := predictSafe(ctx, c, x.Values)
	if err != nil {
		return out, fmt.Errorf("%s prediction failed: %w", c.Name(), err)
	}
	if len(probs) != x.Len() {
		return out, fmt.Errorf("%s returned %d probabilities for %d rows", c.Name(), len(probs), x.Len())
	}

	labels := make([]int, len(probs))
	for i, pr := range probs {
		labels[i] = Label(pr, threshold)
	}
	out.Probabilities = probs
	out.Labels = labels

	if p.metrics != nil {
		p.metrics.PredictionsAdd(c.Name(), len(probs))
		p.metrics.PositiveLabelsAdd(c.Name(), sum(labels))
	}
	return out, nil
}

func predictSafe(ctx context.Context, c ml.Classifier, x [][]float64) (probs []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			probs, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return c.PredictProba(ctx, x)
}

func floats(v []float64) []any {
	out := make([]any, len(v))
	for i, f := range v {
		out[i] = f
	}
	return out
}

func ints(v []int) []any {
	out := make([]any, len(v))
	for i, n := range v {
		out[i] = n
	}
	return out
}

func sum(v []int) int {
	n := 0
	for _, x := range v {
		n += x
	}
	return n
}
