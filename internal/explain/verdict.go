package explain

import (
	"fmt"
	"math"
	"strings"

	"flight-delay-demo/internal/common"
)

// Display names used in verdict and recommendation text.
const (
	TreeDisplayName   = "Random Forest"
	LinearDisplayName = "Logistic Regression"
)

// Decision is one model's outcome for a row.
type Decision struct {
	Probability float64 `json:"probability"`
	Prediction  int     `json:"prediction"`
	Threshold   float64 `json:"threshold"`
}

// Choice identifies the branch Reconcile took.
type Choice string

const (
	ChoiceAgree          Choice = "agree"
	ChoiceLinearTieBreak Choice = "linear_tiebreak"
	ChoiceTree           Choice = "tree"
	ChoiceLinear         Choice = "linear"
)

// Recommendation is the reconciled outcome for one row.
type Recommendation struct {
	Choice           Choice  `json:"choice"`
	Prediction       int     `json:"prediction"`
	Label            string  `json:"label"`
	TreeConfidence   float64 `json:"tree_confidence"`
	LinearConfidence float64 `json:"linear_confidence"`
	Text             string  `json:"text"`
}

// LabelText maps a 0/1 prediction to its display label.
func LabelText(prediction int) string {
	if prediction == 1 {
		return common.LabelDelay
	}
	return common.LabelOnTime
}

// NormalizedConfidence is p / threshold. A threshold that is not positive
// is replaced by fallback.
func NormalizedConfidence(p, threshold, fallback float64) float64 {
	if math.IsNaN(threshold) || threshold <= 0 {
		threshold = fallback
	}
	return p / threshold
}

// Reconcile combines both decisions with the default tie tolerance.
func Reconcile(tree, linear Decision) Recommendation {
	return ReconcileWithTolerance(tree, linear, common.DefaultTieTolerance)
}

// ReconcileWithTolerance combines both decisions. Equal predictions are
// followed as is. On disagreement the model with the higher normalized
// confidence wins, unless the confidences are within tolerance, in which
// case the linear model wins for interpretability.
func ReconcileWithTolerance(tree, linear Decision, tolerance float64) Recommendation {
	rec := Recommendation{
		TreeConfidence:   NormalizedConfidence(tree.Probability, tree.Threshold, common.DefaultTreeThreshold),
		LinearConfidence: NormalizedConfidence(linear.Probability, linear.Threshold, common.DefaultLinearThreshold),
	}

	if tree.Prediction == linear.Prediction {
		rec.Choice = ChoiceAgree
		rec.Prediction = tree.Prediction
		rec.Label = LabelText(tree.Prediction)
		rec.Text = fmt.Sprintf("Both models agree on %s. Recommend following this outcome.", rec.Label)
		return rec
	}

	diff := rec.TreeConfidence - rec.LinearConfidence
	switch {
	case math.Abs(diff) < tolerance:
		rec.Choice = ChoiceLinearTieBreak
		rec.Prediction = linear.Prediction
		rec.Text = fmt.Sprintf("Models disagree, but confidence levels are similar. Prefer %s for a more interpretable explanation to operations staff.", LinearDisplayName)
	case diff > 0:
		rec.Choice = ChoiceTree
		rec.Prediction = tree.Prediction
		rec.Text = fmt.Sprintf("Models disagree. %[1]s has higher relative confidence. Recommend trusting %[1]s for this case.", TreeDisplayName)
	default:
		rec.Choice = ChoiceLinear
		rec.Prediction = linear.Prediction
		rec.Text = fmt.Sprintf("Models disagree. %[1]s has higher relative confidence. Recommend trusting %[1]s for this case.", LinearDisplayName)
	}
	rec.Label = LabelText(rec.Prediction)
	return rec
}

// Verdict is the short per-model summary shown next to the recommendation.
type Verdict struct {
	Model       string   `json:"model"`
	Label       string   `json:"label"`
	Prediction  int      `json:"prediction"`
	Probability float64  `json:"probability"`
	Threshold   float64  `json:"threshold"`
	Supporting  []string `json:"supporting_features"`
	Increasing  []string `json:"increasing,omitempty"`
	Decreasing  []string `json:"decreasing,omitempty"`
	Support     string   `json:"support"`
}

// LinearVerdict names the top n features pushing towards and away from a
// delay. cs may be nil when contributions could not be computed.
func LinearVerdict(d Decision, cs *ContributionSet, n int) Verdict {
	v := newVerdict(LinearDisplayName, d)
	if cs != nil {
		v.Increasing = featureNames(cs.TopPositive, n)
		v.Decreasing = featureNames(cs.TopNegative, n)
	}
	v.Supporting = append(append([]string{}, v.Increasing...), v.Decreasing...)

	var parts []string
	if len(v.Increasing) > 0 {
		parts = append(parts, "↑ "+strings.Join(v.Increasing, ", "))
	}
	if len(v.Decreasing) > 0 {
		parts = append(parts, "↓ "+strings.Join(v.Decreasing, ", "))
	}
	if len(parts) == 0 {
		v.Support = "No strong contributors identified."
	} else {
		v.Support = strings.Join(parts, "; ")
	}
	return v
}

// TreeVerdict names the top n features of the tree explanation.
func TreeVerdict(d Decision, e TreeExplanation, n int) Verdict {
	v := newVerdict(TreeDisplayName, d)
	v.Supporting = e.Features()
	if n > 0 && len(v.Supporting) > n {
		v.Supporting = v.Supporting[:n]
	}
	if len(v.Supporting) == 0 {
		v.Supporting = []string{}
		v.Support = "No top features available."
	} else {
		v.Support = "top features: " + strings.Join(v.Supporting, ", ")
	}
	return v
}

func newVerdict(model string, d Decision) Verdict {
	return Verdict{
		Model:       model,
		Label:       LabelText(d.Prediction),
		Prediction:  d.Prediction,
		Probability: d.Probability,
		Threshold:   d.Threshold,
		Supporting:  []string{},
	}
}

func featureNames(cs []Contribution, n int) []string {
	if n > 0 && len(cs) > n {
		cs = cs[:n]
	}
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Feature
	}
	return out
}

// String renders the verdict as three lines.
func (v Verdict) String() string {
	return fmt.Sprintf("%s: %s\nProbability: %.3f\nSupport: %s", v.Model, v.Label, v.Probability, v.Support)
}
