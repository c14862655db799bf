package explain

import (
	"fmt"
	"strconv"
	"strings"
)

// reportListLen caps each list in the text report.
const reportListLen = 6

// Text renders the report as plain text for terminals and logs.
func (r *Report) Text() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Row index: %d\n", r.Row)
	fmt.Fprintf(&b, "%s: probability=%.3f, prediction=%d (threshold=%s)\n",
		TreeDisplayName, r.Tree.Probability, r.Tree.Prediction, formatValue(r.Tree.Threshold))
	fmt.Fprintf(&b, "%s: probability=%.3f, prediction=%d (threshold=%s)\n",
		LinearDisplayName, r.Linear.Probability, r.Linear.Prediction, formatValue(r.Linear.Threshold))

	if r.Contributions != nil {
		b.WriteString("\nTop LR positive contributors:\n")
		writeContributions(&b, r.Contributions.TopPositive)
		b.WriteString("\nTop LR negative contributors:\n")
		writeContributions(&b, r.Contributions.TopNegative)
	} else if r.ContributionError != "" {
		fmt.Fprintf(&b, "\nLR contributions unavailable: %s\n", r.ContributionError)
	}

	switch r.TreeExplanation.Method {
	case MethodSHAP:
		b.WriteString("\nTop RF SHAP features:\n")
		for i, a := range r.TreeExplanation.Attributions {
			if i == reportListLen {
				break
			}
			fmt.Fprintf(&b, "- %s: shap_value=%.3f, feature_value=%s\n", a.Feature, a.Attribution, formatValue(a.FeatureValue))
		}
	case MethodImportance:
		b.WriteString("\nTop RF global importances:\n")
		for i, imp := range r.TreeExplanation.Importances {
			if i == reportListLen {
				break
			}
			fmt.Fprintf(&b, "- %s: importance=%.4f\n", imp.Feature, imp.Importance)
		}
	default:
		fmt.Fprintf(&b, "\nRF explanation unavailable: %s\n", r.TreeExplanation.Reason)
	}

	b.WriteString("\nFinal verdicts\n")
	b.WriteString(r.LinearVerdict.String())
	b.WriteString("\n\n")
	b.WriteString(r.TreeVerdict.String())
	b.WriteString("\n\nOverall recommendation: ")
	b.WriteString(r.Recommendation.Text)
	b.WriteString("\n")
	return b.String()
}

func writeContributions(b *strings.Builder, cs []Contribution) {
	for i, c := range cs {
		if i == reportListLen {
			break
		}
		fmt.Fprintf(b, "- %s: value=%s, coef=%.3f, contribution=%.3f\n", c.Feature, formatValue(c.Value), c.Coefficient, c.Contribution)
	}
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
