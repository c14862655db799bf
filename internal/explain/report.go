package explain

import (
	"context"
	"errors"
	"fmt"

	"flight-delay-demo/internal/common"
	"flight-delay-demo/internal/inference"
	"flight-delay-demo/internal/ml"

	"github.com/rs/zerolog/log"
)

// ErrRowOutOfRange is returned when a report is requested for a row the
// run does not have.
var ErrRowOutOfRange = errors.New("row out of range")

// MetricsInterface defines metrics methods needed by the explainer
type MetricsInterface interface {
	AttributionFallbacksInc(method string)
	RecommendationsInc(choice string)
}

// Options bounds the size of a report.
type Options struct {
	LinearTopN     int
	TreeTopN       int
	SupportingTopN int
	TieTolerance   float64
}

// DefaultOptions returns the report sizes used by the UI.
func DefaultOptions() Options {
	return Options{
		LinearTopN:     common.DefaultLinearTopN,
		TreeTopN:       common.DefaultTreeTopN,
		SupportingTopN: common.DefaultSupportingTopN,
		TieTolerance:   common.DefaultTieTolerance,
	}
}

// ModelDecision is one model's scored outcome for the reported row.
type ModelDecision struct {
	Model       string  `json:"model"`
	Probability float64 `json:"probability"`
	Prediction  int     `json:"prediction"`
	Threshold   float64 `json:"threshold"`
}

func (d ModelDecision) decision() Decision {
	return Decision{Probability: d.Probability, Prediction: d.Prediction, Threshold: d.Threshold}
}

// Report is the full explanation of one row of a run.
type Report struct {
	RunID             string           `json:"run_id"`
	Row               int              `json:"row"`
	Tree              ModelDecision    `json:"tree"`
	Linear            ModelDecision    `json:"linear"`
	Contributions     *ContributionSet `json:"contributions,omitempty"`
	ContributionError string           `json:"contribution_error,omitempty"`
	TreeExplanation   TreeExplanation  `json:"tree_explanation"`
	LinearVerdict     Verdict          `json:"linear_verdict"`
	TreeVerdict       Verdict          `json:"tree_verdict"`
	Recommendation    Recommendation   `json:"recommendation"`
}

// Explainer builds reports and records explanation metrics.
type Explainer struct {
	opts    Options
	metrics MetricsInterface
}

// NewExplainer creates an explainer. Zero option fields take defaults.
func NewExplainer(opts Options, metrics MetricsInterface) *Explainer {
	def := DefaultOptions()
	if opts.LinearTopN <= 0 {
		opts.LinearTopN = def.LinearTopN
	}
	if opts.TreeTopN <= 0 {
		opts.TreeTopN = def.TreeTopN
	}
	if opts.SupportingTopN <= 0 {
		opts.SupportingTopN = def.SupportingTopN
	}
	if opts.TieTolerance <= 0 {
		opts.TieTolerance = def.TieTolerance
	}
	return &Explainer{opts: opts, metrics: metrics}
}

// BuildReport explains one row of res with opts and no metrics.
func BuildReport(ctx context.Context, bundle *ml.Bundle, res *inference.Result, row int, opts Options) (*Report, error) {
	return NewExplainer(opts, nil).BuildReport(ctx, bundle, res, row)
}

// BuildReport explains row of res using the models in bundle. Only an
// invalid row is an error; explanation failures degrade inside the report.
func (e *Explainer) BuildReport(ctx context.Context, bundle *ml.Bundle, res *inference.Result, row int) (*Report, error) {
	if row < 0 || row >= res.Len() {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrRowOutOfRange, row, res.Len())
	}

	r := &Report{
		RunID: res.ID,
		Row:   row,
		Tree: ModelDecision{
			Model:       res.Tree.Model,
			Probability: res.Tree.Probabilities[row],
			Prediction:  res.Tree.Labels[row],
			Threshold:   res.Tree.Threshold,
		},
		Linear: ModelDecision{
			Model:       res.Linear.Model,
			Probability: res.Linear.Probabilities[row],
			Prediction:  res.Linear.Labels[row],
			Threshold:   res.Linear.Threshold,
		},
	}

	if lm, ok := bundle.Linear.(ml.LinearModel); ok {
		cs, err := Contributions(ctx, lm, res.LinearMatrix.Row(row), res.LinearMatrix.Columns, e.opts.LinearTopN)
		if err != nil {
			r.ContributionError = err.Error()
			log.Warn().Err(err).Str("run_id", res.ID).Int("row", row).Msg("Linear contributions unavailable")
		} else {
			r.Contributions = cs
		}
	} else {
		r.ContributionError = "linear model does not expose coefficients"
	}

	r.TreeExplanation = ExplainTree(ctx, bundle.Tree, res.TreeMatrix, row, e.opts.TreeTopN)
	if r.TreeExplanation.Method != MethodSHAP {
		log.Debug().Str("run_id", res.ID).Int("row", row).Str("method", r.TreeExplanation.Method).
			Str("reason", r.TreeExplanation.Reason).Msg("Tree attribution unavailable, using fallback")
		if e.metrics != nil {
			e.metrics.AttributionFallbacksInc(r.TreeExplanation.Method)
		}
	}

	r.LinearVerdict = LinearVerdict(r.Linear.decision(), r.Contributions, e.opts.SupportingTopN)
	r.TreeVerdict = TreeVerdict(r.Tree.decision(), r.TreeExplanation, e.opts.SupportingTopN)
	r.Recommendation = ReconcileWithTolerance(r.Tree.decision(), r.Linear.decision(), e.opts.TieTolerance)

	if e.metrics != nil {
		e.metrics.RecommendationsInc(string(r.Recommendation.Choice))
	}
	return r, nil
}
