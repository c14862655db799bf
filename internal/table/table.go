// Package table holds the in-memory tabular representation shared by the
// input loaders, the schema aligner and the result writers.
//
// Cells keep the type they were loaded with: float64 for numbers, bool,
// string, or nil for a missing value. Nothing is coerced at load time so the
// aligner can apply its own leniency policy.
package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
)

// Table is an ordered set of named columns over row-major cells.
type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// New creates an empty table with the given columns.
func New(columns ...string) *Table {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Table{Columns: cols, Rows: make([][]any, 0)}
}

// FromPairs builds a single-row table from parallel column/value slices.
func FromPairs(columns []string, values []any) (*Table, error) {
	if len(columns) != len(values) {
		return nil, fmt.Errorf("columns and values differ in length: %d != %d", len(columns), len(values))
	}
	t := New(columns...)
	row := make([]any, len(values))
	copy(row, values)
	t.Rows = append(t.Rows, row)
	return t, nil
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Index returns the position of the named column, or -1.
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Value returns the cell at (row, col). Short rows read as missing.
func (t *Table) Value(row, col int) any {
	if row < 0 || row >= len(t.Rows) || col < 0 {
		return nil
	}
	r := t.Rows[row]
	if col >= len(r) {
		return nil
	}
	return r[col]
}

// AppendRow adds a row, padding or truncating it to the column count.
func (t *Table) AppendRow(values ...any) {
	row := make([]any, len(t.Columns))
	copy(row, values)
	t.Rows = append(t.Rows, row)
}

// Clone returns a deep copy of the column list and row slices.
func (t *Table) Clone() *Table {
	out := New(t.Columns...)
	out.Rows = make([][]any, len(t.Rows))
	for i, r := range t.Rows {
		row := make([]any, len(t.Columns))
		copy(row, r)
		out.Rows[i] = row
	}
	return out
}

// WithColumn returns a copy of the table with the named column set to
// values. An existing column of that name is replaced in place, otherwise
// the column is appended.
func (t *Table) WithColumn(name string, values []any) (*Table, error) {
	if len(values) != t.Len() {
		return nil, fmt.Errorf("column %s has %d values for %d rows", name, len(values), t.Len())
	}
	out := t.Clone()
	if idx := out.Index(name); idx >= 0 {
		for i := range out.Rows {
			out.Rows[i][idx] = values[i]
		}
		return out, nil
	}
	out.Columns = append(out.Columns, name)
	for i := range out.Rows {
		out.Rows[i] = append(out.Rows[i], values[i])
	}
	return out, nil
}

// WriteCSV writes the table with a header row.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	record := make([]string, len(t.Columns))
	for i := range t.Rows {
		for j := range t.Columns {
			record[j] = FormatCell(t.Value(i, j))
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// FormatCell renders a cell the way it is written to CSV.
func FormatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		if math.IsNaN(x) {
			return ""
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int:
		return strconv.Itoa(x)
	case bool:
		if x {
			return "True"
		}
		return "False"
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}
