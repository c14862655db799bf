package features

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"flight-delay-demo/internal/table"

	"github.com/rs/zerolog/log"
)

// Transformer is a fitted feature-scaling transform.
type Transformer interface {
	Transform(x [][]float64) ([][]float64, error)
}

// MetricsInterface defines the alignment metrics the aligner reports.
type MetricsInterface interface {
	AlignCoercionsAdd(n int)
	ScalerFailuresInc()
}

// Aligner prepares input tables for a model. It is safe for concurrent use
// as long as the scaler is.
type Aligner struct {
	scaler  Transformer
	metrics MetricsInterface
}

// NewAligner creates an aligner. Both arguments may be nil.
func NewAligner(scaler Transformer, metrics MetricsInterface) *Aligner {
	return &Aligner{scaler: scaler, metrics: metrics}
}

// Align returns a numeric matrix for t.
//
// With a nil schema only numeric-typed columns are kept, in input order,
// missing values read as 0 and no scaling is applied. With a schema the
// output has exactly the schema's columns in its order: absent columns are
// all-zero, values that do not parse as numbers are 0, and the scaler (if
// any) is applied unless it fails. Align never fails.
func (a *Aligner) Align(t *table.Table, schema Schema) Matrix {
	if t == nil {
		t = table.New()
	}
	if schema == nil {
		return a.alignNumeric(t)
	}

	cols := make([]int, len(schema))
	for i, name := range schema {
		cols[i] = t.Index(name)
	}

	missing := 0
	for _, c := range cols {
		if c < 0 {
			missing++
		}
	}

	coerced := 0
	values := make([][]float64, t.Len())
	for r := range values {
		row := make([]float64, len(schema))
		for j, c := range cols {
			if c < 0 {
				continue
			}
			v, ok := toFloat(t.Value(r, c))
			if !ok {
				coerced++
			}
			row[j] = v
		}
		values[r] = row
	}

	if coerced > 0 {
		log.Debug().Int("cells", coerced).Msg("non-numeric feature values coerced to 0")
		if a.metrics != nil {
			a.metrics.AlignCoercionsAdd(coerced)
		}
	}
	if missing > 0 {
		log.Debug().Int("missing", missing).Int("schema", len(schema)).Msg("schema features absent from input, filled with 0")
	}

	m := Matrix{Columns: []string(schema.Clone()), Values: values}
	if a.scaler == nil || m.Len() == 0 {
		return m
	}

	scaled, err := a.scale(m.Values, len(schema))
	if err != nil {
		// keep the raw matrix; the model may receive unscaled features
		log.Warn().Err(err).Msg("feature scaler failed, using unscaled features")
		if a.metrics != nil {
			a.metrics.ScalerFailuresInc()
		}
		return m
	}
	m.Values = scaled
	return m
}

func (a *Aligner) scale(values [][]float64, width int) (out [][]float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("scaler panic: %v", r)
		}
	}()

	in := make([][]float64, len(values))
	for i, row := range values {
		in[i] = append([]float64(nil), row...)
	}
	out, err = a.scaler.Transform(in)
	if err != nil {
		return nil, err
	}
	if len(out) != len(values) {
		return nil, fmt.Errorf("scaler returned %d rows for %d", len(out), len(values))
	}
	for i, row := range out {
		if len(row) != width {
			return nil, fmt.Errorf("scaler returned %d columns for %d at row %d", len(row), width, i)
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("scaler produced non-finite value at row %d", i)
			}
		}
	}
	return out, nil
}

// alignNumeric is the degraded mode used when no schema is known.
func (a *Aligner) alignNumeric(t *table.Table) Matrix {
	var keep []int
	for c := range t.Columns {
		if isNumericColumn(t, c) {
			keep = append(keep, c)
		}
	}

	columns := make([]string, len(keep))
	for j, c := range keep {
		columns[j] = t.Columns[c]
	}

	values := make([][]float64, t.Len())
	for r := range values {
		row := make([]float64, len(keep))
		for j, c := range keep {
			row[j], _ = toFloat(t.Value(r, c))
		}
		values[r] = row
	}

	if dropped := len(t.Columns) - len(keep); dropped > 0 {
		log.Debug().Int("dropped", dropped).Msg("no feature schema, non-numeric columns dropped")
	}
	return Matrix{Columns: columns, Values: values}
}

func isNumericColumn(t *table.Table, c int) bool {
	for r := 0; r < t.Len(); r++ {
		switch t.Value(r, c).(type) {
		case nil, float64, int:
		default:
			return false
		}
	}
	return true
}

// toFloat converts a cell to a finite float64. Missing cells give (0, true);
// values that cannot be read as a number give (0, false).
func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, true
		}
		return x, true
	case int:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
