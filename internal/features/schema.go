// Package features reconciles arbitrary input tables with the ordered
// feature schema a trained model expects.
//
// Alignment is lenient. Unknown columns are dropped, missing ones are
// zero-filled and unparseable values become 0. A failing scaler is skipped.
package features

import "flight-delay-demo/internal/table"

// Schema is the ordered list of feature names a model was fit on.
// A nil Schema means no schema is known.
type Schema []string

// Equal reports whether both schemas name the same features in the same order.
func (s Schema) Equal(other Schema) bool {
	if (s == nil) != (other == nil) {
		return false
	}
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy that shares no backing array with s.
func (s Schema) Clone() Schema {
	if s == nil {
		return nil
	}
	out := make(Schema, len(s))
	copy(out, s)
	return out
}

// Matrix is a model-ready numeric table. Columns equal the schema it was
// aligned to and row i corresponds to row i of the input.
type Matrix struct {
	Columns []string    `json:"columns"`
	Values  [][]float64 `json:"values"`
}

// Len returns the number of rows.
func (m Matrix) Len() int {
	return len(m.Values)
}

// Row returns a copy of row i.
func (m Matrix) Row(i int) []float64 {
	out := make([]float64, len(m.Values[i]))
	copy(out, m.Values[i])
	return out
}

// Column returns the values of the named column, or nil when absent.
func (m Matrix) Column(name string) []float64 {
	idx := -1
	for i, c := range m.Columns {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	out := make([]float64, len(m.Values))
	for i, row := range m.Values {
		out[i] = row[idx]
	}
	return out
}

// Table converts the matrix back into a table with float64 cells.
func (m Matrix) Table() *table.Table {
	t := table.New(m.Columns...)
	for _, row := range m.Values {
		cells := make([]any, len(row))
		for j, v := range row {
			cells[j] = v
		}
		t.Rows = append(t.Rows, cells)
	}
	return t
}
