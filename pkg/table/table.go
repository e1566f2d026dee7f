// Package table provides the in-memory tabular structure returned by bulk
// reads of the rollout store. A Table preserves column order, permits
// null-filled column additions for schema-complete snapshots, and supports
// projection and row filtering before columnar export.
package table

import (
	"github.com/robodata/rolloutdb/pkg/rollouterrors"
)

// Table is an ordered set of named columns over row-major values. Cells
// hold the raw storage values (string, int64, float64, bool, time.Time or
// nil); no coercion happens at this layer.
type Table struct {
	columns []string
	index   map[string]int
	rows    [][]any
}

// New creates an empty table with the given column order.
func New(columns []string) (*Table, error) {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, dup := index[c]; dup {
			return nil, rollouterrors.Newf(rollouterrors.ErrorTypeValidation,
				"duplicate column %q", c)
		}
		index[c] = i
	}

	owned := make([]string, len(columns))
	copy(owned, columns)

	return &Table{
		columns: owned,
		index:   index,
	}, nil
}

// Columns returns the column names in order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// HasColumn reports whether the table contains the named column.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// AppendRow adds one row. Its arity must match the column count.
func (t *Table) AppendRow(row []any) error {
	if len(row) != len(t.columns) {
		return rollouterrors.Newf(rollouterrors.ErrorTypeValidation,
			"row has %d values, table has %d columns", len(row), len(t.columns))
	}
	t.rows = append(t.rows, row)
	return nil
}

// AddColumn appends a new column filled with nil for every existing row.
func (t *Table) AddColumn(name string) error {
	if _, exists := t.index[name]; exists {
		return rollouterrors.Newf(rollouterrors.ErrorTypeValidation,
			"column %q already exists", name)
	}

	t.index[name] = len(t.columns)
	t.columns = append(t.columns, name)
	for i := range t.rows {
		t.rows[i] = append(t.rows[i], nil)
	}
	return nil
}

// Row returns the values of row i in column order.
func (t *Table) Row(i int) []any {
	return t.rows[i]
}

// Cell returns the value at row i of the named column.
func (t *Table) Cell(i int, column string) (any, bool) {
	j, ok := t.index[column]
	if !ok || i < 0 || i >= len(t.rows) {
		return nil, false
	}
	return t.rows[i][j], true
}

// SetCell replaces the value at row i of the named column.
func (t *Table) SetCell(i int, column string, v any) error {
	j, ok := t.index[column]
	if !ok {
		return rollouterrors.Newf(rollouterrors.ErrorTypeValidation,
			"unknown column %q", column)
	}
	if i < 0 || i >= len(t.rows) {
		return rollouterrors.Newf(rollouterrors.ErrorTypeValidation,
			"row %d out of range", i)
	}
	t.rows[i][j] = v
	return nil
}

// Column returns all values of the named column in row order.
func (t *Table) Column(name string) ([]any, error) {
	j, ok := t.index[name]
	if !ok {
		return nil, rollouterrors.Newf(rollouterrors.ErrorTypeValidation,
			"unknown column %q", name)
	}

	out := make([]any, len(t.rows))
	for i, row := range t.rows {
		out[i] = row[j]
	}
	return out, nil
}

// Select projects the table onto the given columns, preserving row order.
// Requesting an unknown column is an error.
func (t *Table) Select(columns []string) (*Table, error) {
	indices := make([]int, len(columns))
	for i, c := range columns {
		j, ok := t.index[c]
		if !ok {
			return nil, rollouterrors.Newf(rollouterrors.ErrorTypeValidation,
				"unknown column %q", c)
		}
		indices[i] = j
	}

	out, err := New(columns)
	if err != nil {
		return nil, err
	}
	for _, row := range t.rows {
		projected := make([]any, len(indices))
		for i, j := range indices {
			projected[i] = row[j]
		}
		if err := out.AppendRow(projected); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Filter returns the rows whose value in the named column satisfies keep.
func (t *Table) Filter(column string, keep func(v any) bool) (*Table, error) {
	j, ok := t.index[column]
	if !ok {
		return nil, rollouterrors.Newf(rollouterrors.ErrorTypeValidation,
			"unknown column %q", column)
	}

	out, err := New(t.columns)
	if err != nil {
		return nil, err
	}
	for _, row := range t.rows {
		if keep(row[j]) {
			kept := make([]any, len(row))
			copy(kept, row)
			if err := out.AppendRow(kept); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}
