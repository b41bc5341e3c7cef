// Package table provides the in-memory tabular container used for clinical
// source files and emitted BIDS tables.
//
// A [Table] is an ordered collection of named columns over string cells. It is
// immutable once built: [Filter], [Select], [Rename] and [OuterJoin] return new
// tables and never modify their inputs.
package table

import (
	"errors"
	"fmt"
	"slices"
)

// Errors returned by table operations.
var (
	ErrColumnNotFound = errors.New("column not found")
	ErrDuplicateKey   = errors.New("duplicate join key")
	ErrRowWidth       = errors.New("row width does not match header")
)

// Table is an immutable ordered collection of named columns.
type Table struct {
	header []string
	index  map[string]int
	rows   [][]string
}

// New builds a table from a header and rows. Rows are copied.
// Duplicate column names keep the first occurrence addressable by name.
func New(header []string, rows [][]string) (*Table, error) {
	t := &Table{
		header: slices.Clone(header),
		index:  make(map[string]int, len(header)),
		rows:   make([][]string, 0, len(rows)),
	}

	for i, name := range t.header {
		if _, ok := t.index[name]; !ok {
			t.index[name] = i
		}
	}

	for i, row := range rows {
		if len(row) != len(header) {
			return nil, fmt.Errorf("%w: row %d has %d fields, header has %d", ErrRowWidth, i, len(row), len(header))
		}

		t.rows = append(t.rows, slices.Clone(row))
	}

	return t, nil
}

// Header returns a copy of the column names.
func (t *Table) Header() []string {
	return slices.Clone(t.header)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Has reports whether the table has a column named col.
func (t *Table) Has(col string) bool {
	_, ok := t.index[col]
	return ok
}

// Require returns an error naming the first missing column, if any.
func (t *Table) Require(cols ...string) error {
	for _, col := range cols {
		if !t.Has(col) {
			return fmt.Errorf("%w: %q", ErrColumnNotFound, col)
		}
	}

	return nil
}

// Row returns a view of row i.
func (t *Table) Row(i int) Row {
	return Row{t: t, i: i}
}

// Column returns a copy of the named column.
func (t *Table) Column(col string) ([]string, error) {
	idx, ok := t.index[col]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, col)
	}

	out := make([]string, len(t.rows))
	for i, row := range t.rows {
		out[i] = row[idx]
	}

	return out, nil
}

// Rows returns a copy of all rows.
func (t *Table) Rows() [][]string {
	out := make([][]string, len(t.rows))
	for i, row := range t.rows {
		out[i] = slices.Clone(row)
	}

	return out
}

// Row is a read-only view of a single table row.
type Row struct {
	t *Table
	i int
}

// Get returns the cell in column col, or "" if the column does not exist.
func (r Row) Get(col string) string {
	idx, ok := r.t.index[col]
	if !ok {
		return ""
	}

	return r.t.rows[r.i][idx]
}

// Index returns the position of the row in its table.
func (r Row) Index() int {
	return r.i
}

// Filter returns the rows of t for which keep returns true.
func Filter(t *Table, keep func(Row) bool) *Table {
	out := &Table{header: t.header, index: t.index}

	for i := range t.rows {
		if keep(Row{t: t, i: i}) {
			out.rows = append(out.rows, slices.Clone(t.rows[i]))
		}
	}

	return out
}

// Select returns a table with only the named columns, in the given order.
func Select(t *Table, cols ...string) (*Table, error) {
	idxs := make([]int, len(cols))

	for i, col := range cols {
		idx, ok := t.index[col]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, col)
		}

		idxs[i] = idx
	}

	rows := make([][]string, len(t.rows))
	for i, row := range t.rows {
		rows[i] = make([]string, len(idxs))
		for j, idx := range idxs {
			rows[i][j] = row[idx]
		}
	}

	return New(cols, rows)
}

// Rename returns a copy of t with column from renamed to to.
func Rename(t *Table, from, to string) (*Table, error) {
	if !t.Has(from) {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, from)
	}

	header := t.Header()
	for i, name := range header {
		if name == from {
			header[i] = to
		}
	}

	return New(header, t.rows)
}

// Map returns a copy of t with fn applied to every cell of column col.
// The first error returned by fn aborts the operation.
func Map(t *Table, col string, fn func(string) (string, error)) (*Table, error) {
	idx, ok := t.index[col]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, col)
	}

	rows := t.Rows()
	for _, row := range rows {
		v, err := fn(row[idx])
		if err != nil {
			return nil, err
		}

		row[idx] = v
	}

	return New(t.header, rows)
}

// OuterJoin returns the full outer join of left and right on column key.
//
// Keys must be unique within each side. Left rows keep their order and
// right-only rows follow in right order. Non-key columns of right replace
// same-named columns of left; cells with no counterpart are empty.
func OuterJoin(left, right *Table, key string) (*Table, error) {
	if err := left.Require(key); err != nil {
		return nil, fmt.Errorf("left: %w", err)
	}

	if err := right.Require(key); err != nil {
		return nil, fmt.Errorf("right: %w", err)
	}

	leftKey := left.index[key]
	rightKey := right.index[key]

	rightCols := make([]string, 0, len(right.header))
	for i, name := range right.header {
		if i != rightKey {
			rightCols = append(rightCols, name)
		}
	}

	header := make([]string, 0, len(left.header)+len(rightCols))
	for _, name := range left.header {
		if name == key || !slices.Contains(rightCols, name) {
			header = append(header, name)
		}
	}

	header = append(header, rightCols...)

	rightByKey := make(map[string]int, len(right.rows))
	for i, row := range right.rows {
		if _, dup := rightByKey[row[rightKey]]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateKey, row[rightKey])
		}

		rightByKey[row[rightKey]] = i
	}

	seen := make(map[string]bool, len(left.rows))
	rows := make([][]string, 0, len(left.rows)+len(right.rows))

	for _, lrow := range left.rows {
		k := lrow[leftKey]
		if seen[k] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateKey, k)
		}

		seen[k] = true

		var rrow []string
		if ri, ok := rightByKey[k]; ok {
			rrow = right.rows[ri]
		}

		rows = append(rows, joinRow(header, key, k, left, lrow, right, rrow))
	}

	for _, rrow := range right.rows {
		k := rrow[rightKey]
		if seen[k] {
			continue
		}

		rows = append(rows, joinRow(header, key, k, left, nil, right, rrow))
	}

	return New(header, rows)
}

func joinRow(header []string, key, k string, left *Table, lrow []string, right *Table, rrow []string) []string {
	out := make([]string, len(header))

	for i, name := range header {
		switch {
		case name == key:
			out[i] = k
		case right.Has(name):
			if rrow != nil {
				out[i] = rrow[right.index[name]]
			}
		case lrow != nil:
			out[i] = lrow[left.index[name]]
		}
	}

	return out
}
