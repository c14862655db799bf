package explain

import (
	"context"
	"fmt"
	"math"
	"sort"

	"flight-delay-demo/internal/features"
	"flight-delay-demo/internal/ml"
)

// AttributionStatus tells whether per-row attribution could be computed.
type AttributionStatus string

const (
	StatusAvailable   AttributionStatus = "available"
	StatusUnavailable AttributionStatus = "unavailable"
)

// AttributionRecord is one feature's SHAP value for the positive class.
type AttributionRecord struct {
	Feature      string  `json:"feature"`
	Attribution  float64 `json:"shap_value"`
	FeatureValue float64 `json:"feature_value"`
}

// ImportanceRecord is one feature's row-independent importance.
type ImportanceRecord struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// Attribution is the outcome of Attribute. Unavailable is a normal result,
// not an error.
type Attribution struct {
	Status  AttributionStatus   `json:"status"`
	Reason  string              `json:"reason,omitempty"`
	Records []AttributionRecord `json:"records,omitempty"`
}

// Available reports whether records were computed.
func (a Attribution) Available() bool { return a.Status == StatusAvailable }

func unavailable(format string, args ...any) Attribution {
	return Attribution{Status: StatusUnavailable, Reason: fmt.Sprintf(format, args...)}
}

// Attribute computes attributions for one row of m and returns the topN by
// absolute value (topN <= 0 keeps all). Any failure, including a panic in
// the model, yields an Unavailable result.
func Attribute(ctx context.Context, model ml.Classifier, m features.Matrix, row, topN int) (a Attribution) {
	defer func() {
		if r := recover(); r != nil {
			a = unavailable("attribution panicked: %v", r)
		}
	}()

	attr, ok := model.(ml.Attributor)
	if !ok {
		return unavailable("%v", ml.ErrAttributionUnsupported)
	}
	if row < 0 || row >= m.Len() {
		return unavailable("row %d out of range [0, %d)", row, m.Len())
	}

	phi, err := attr.Attributions(ctx, m.Values, row)
	if err != nil {
		return unavailable("%v", err)
	}
	if len(phi) != len(m.Columns) {
		return unavailable("got %d attributions for %d features", len(phi), len(m.Columns))
	}

	records := make([]AttributionRecord, len(phi))
	for i, v := range phi {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return unavailable("attribution for %s is not finite", m.Columns[i])
		}
		records[i] = AttributionRecord{Feature: m.Columns[i], Attribution: v, FeatureValue: m.Values[row][i]}
	}
	sort.SliceStable(records, func(i, j int) bool {
		return math.Abs(records[i].Attribution) > math.Abs(records[j].Attribution)
	})
	if topN > 0 && topN < len(records) {
		records = records[:topN]
	}
	return Attribution{Status: StatusAvailable, Records: records}
}

// GlobalImportance ranks the model's feature importances in descending
// order and returns the topN (topN <= 0 keeps all).
func GlobalImportance(ctx context.Context, model ml.ImportanceModel, names []string, topN int) ([]ImportanceRecord, error) {
	imp, err := model.FeatureImportances(ctx)
	if err != nil {
		return nil, fmt.Errorf("get feature importances: %w", err)
	}
	if len(imp) != len(names) {
		return nil, fmt.Errorf("model has %d importances for %d features", len(imp), len(names))
	}

	records := make([]ImportanceRecord, len(imp))
	for i, v := range imp {
		records[i] = ImportanceRecord{Feature: names[i], Importance: v}
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Importance > records[j].Importance
	})
	if topN > 0 && topN < len(records) {
		records = records[:topN]
	}
	return records, nil
}

// Explanation methods for the tree model.
const (
	MethodSHAP       = "shap"
	MethodImportance = "importance"
	MethodNone       = "none"
)

// TreeExplanation is the tree model's explanation for one row: attributions
// when available, otherwise global importances.
type TreeExplanation struct {
	Method       string              `json:"method"`
	Attributions []AttributionRecord `json:"attributions,omitempty"`
	Importances  []ImportanceRecord  `json:"importances,omitempty"`
	// Reason explains why attribution was not used.
	Reason string `json:"reason,omitempty"`
}

// Features lists the explanation's features in rank order.
func (e TreeExplanation) Features() []string {
	var out []string
	for _, r := range e.Attributions {
		out = append(out, r.Feature)
	}
	for _, r := range e.Importances {
		out = append(out, r.Feature)
	}
	return out
}

// ExplainTree tries Attribute first and falls back to GlobalImportance.
func ExplainTree(ctx context.Context, model ml.Classifier, m features.Matrix, row, topN int) TreeExplanation {
	a := Attribute(ctx, model, m, row, topN)
	if a.Available() {
		return TreeExplanation{Method: MethodSHAP, Attributions: a.Records}
	}

	imp, ok := model.(ml.ImportanceModel)
	if !ok {
		return TreeExplanation{Method: MethodNone, Reason: a.Reason + "; model has no feature importances"}
	}
	records, err := importanceSafe(ctx, imp, m.Columns, topN)
	if err != nil {
		return TreeExplanation{Method: MethodNone, Reason: a.Reason + "; " + err.Error()}
	}
	return TreeExplanation{Method: MethodImportance, Importances: records, Reason: a.Reason}
}

func importanceSafe(ctx context.Context, model ml.ImportanceModel, names []string, topN int) (records []ImportanceRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			records, err = nil, fmt.Errorf("importance panicked: %v", r)
		}
	}()
	return GlobalImportance(ctx, model, names, topN)
}
