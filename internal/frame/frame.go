// Package frame provides a small in-memory columnar table with lazy,
// index-based views. Views support the query surface the LOD engine needs
// (projection, range/equality filters, stable sort, head, grouped head,
// min/max) without copying column data until materialization.
package frame

import (
	"fmt"
	"sort"
	"strconv"
)

// ColumnType identifies the storage type of a column.
type ColumnType int

const (
	Float64 ColumnType = iota
	Int64
	String
)

func (ct ColumnType) String() string {
	switch ct {
	case Float64:
		return "float64"
	case Int64:
		return "int64"
	case String:
		return "string"
	}
	return fmt.Sprintf("unknown(%d)", int(ct))
}

// Column is a single named, typed column. Exactly one of the value slices is
// populated, matching Type.
type Column struct {
	Name    string
	Type    ColumnType
	Floats  []float64
	Ints    []int64
	Strings []string
}

// Len returns the number of values in the column.
func (c *Column) Len() int {
	switch c.Type {
	case Float64:
		return len(c.Floats)
	case Int64:
		return len(c.Ints)
	case String:
		return len(c.Strings)
	}
	return 0
}

// FloatCol creates a float64 column.
func FloatCol(name string, values []float64) Column {
	return Column{Name: name, Type: Float64, Floats: values}
}

// IntCol creates an int64 column.
func IntCol(name string, values []int64) Column {
	return Column{Name: name, Type: Int64, Ints: values}
}

// StringCol creates a string column.
func StringCol(name string, values []string) Column {
	return Column{Name: name, Type: String, Strings: values}
}

// Table is an immutable columnar table. All columns have the same length.
type Table struct {
	cols   []Column
	byName map[string]int
	nrows  int
}

// NewTable creates a table from columns. All columns must have equal length
// and unique names.
func NewTable(cols ...Column) (*Table, error) {
	t := &Table{
		cols:   cols,
		byName: make(map[string]int, len(cols)),
	}
	for i := range cols {
		name := cols[i].Name
		if name == "" {
			return nil, fmt.Errorf("column %d has empty name", i)
		}
		if _, dup := t.byName[name]; dup {
			return nil, fmt.Errorf("duplicate column name: %s", name)
		}
		t.byName[name] = i
		if i == 0 {
			t.nrows = cols[i].Len()
		} else if cols[i].Len() != t.nrows {
			return nil, fmt.Errorf("column %s has %d rows, expected %d", name, cols[i].Len(), t.nrows)
		}
	}
	return t, nil
}

// NumRows returns the row count.
func (t *Table) NumRows() int { return t.nrows }

// ColumnNames returns column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.cols))
	for i := range t.cols {
		names[i] = t.cols[i].Name
	}
	return names
}

// Column returns a column by name.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.byName[name]
	if !ok {
		return nil, false
	}
	return &t.cols[i], true
}

// HasColumn reports whether the table has a column with the given name.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.byName[name]
	return ok
}

// View returns an identity view over all rows.
func (t *Table) View() View {
	return View{t: t}
}

// SelectRows returns a view over explicit physical row indices, in the given
// order. The slice is owned by the returned view.
func (t *Table) SelectRows(rows []int32) View {
	return View{t: t, rows: rows}
}

// View is a lazy row selection over a Table. The zero View is empty.
// Operations return new Views; the underlying Table is never modified and no
// column data is copied until Materialize.
type View struct {
	t *Table
	// rows holds physical row indices in view order; nil means the identity
	// selection over all table rows.
	rows []int32
}

// Table returns the backing table (nil for the zero View).
func (v View) Table() *Table { return v.t }

// Len returns the number of rows in the view.
func (v View) Len() int {
	if v.t == nil {
		return 0
	}
	if v.rows == nil {
		return v.t.nrows
	}
	return len(v.rows)
}

// Row returns the physical table row index for view position i.
func (v View) Row(i int) int {
	if v.rows == nil {
		return i
	}
	return int(v.rows[i])
}

// Float returns the numeric value of column col at view position i.
// Int64 columns are converted; String columns yield 0.
func (v View) Float(col string, i int) float64 {
	c, ok := v.t.Column(col)
	if !ok {
		return 0
	}
	r := v.Row(i)
	switch c.Type {
	case Float64:
		return c.Floats[r]
	case Int64:
		return float64(c.Ints[r])
	}
	return 0
}

// Int returns the int64 value of column col at view position i.
func (v View) Int(col string, i int) int64 {
	c, ok := v.t.Column(col)
	if !ok {
		return 0
	}
	r := v.Row(i)
	switch c.Type {
	case Int64:
		return c.Ints[r]
	case Float64:
		return int64(c.Floats[r])
	}
	return 0
}

// Str returns the string value of column col at view position i.
func (v View) Str(col string, i int) string {
	c, ok := v.t.Column(col)
	if !ok {
		return ""
	}
	r := v.Row(i)
	switch c.Type {
	case String:
		return c.Strings[r]
	case Int64:
		return strconv.FormatInt(c.Ints[r], 10)
	case Float64:
		return strconv.FormatFloat(c.Floats[r], 'g', -1, 64)
	}
	return ""
}

func (v View) withRows(rows []int32) View {
	return View{t: v.t, rows: rows}
}

// materializedRows returns an explicit row index slice, expanding the
// identity selection if needed. The result must not be mutated by callers
// that received it from an existing view.
func (v View) materializedRows() []int32 {
	if v.rows != nil {
		return v.rows
	}
	rows := make([]int32, v.Len())
	for i := range rows {
		rows[i] = int32(i)
	}
	return rows
}

// FilterRange keeps rows where lo <= col <= hi. Non-numeric columns yield an
// empty view.
func (v View) FilterRange(col string, lo, hi float64) View {
	if v.t == nil {
		return v
	}
	c, ok := v.t.Column(col)
	if !ok || c.Type == String {
		return v.withRows([]int32{})
	}
	out := make([]int32, 0, v.Len()/4)
	for i := 0; i < v.Len(); i++ {
		r := v.Row(i)
		var val float64
		if c.Type == Float64 {
			val = c.Floats[r]
		} else {
			val = float64(c.Ints[r])
		}
		if val >= lo && val <= hi {
			out = append(out, int32(r))
		}
	}
	return v.withRows(out)
}

// FilterEqual keeps rows where col equals value. The comparison follows the
// column type: string columns compare directly, numeric columns parse value.
func (v View) FilterEqual(col, value string) View {
	if v.t == nil {
		return v
	}
	c, ok := v.t.Column(col)
	if !ok {
		return v.withRows([]int32{})
	}
	out := make([]int32, 0, v.Len()/4)
	switch c.Type {
	case String:
		for i := 0; i < v.Len(); i++ {
			if c.Strings[v.Row(i)] == value {
				out = append(out, int32(v.Row(i)))
			}
		}
	case Int64:
		want, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return v.withRows([]int32{})
		}
		for i := 0; i < v.Len(); i++ {
			if c.Ints[v.Row(i)] == want {
				out = append(out, int32(v.Row(i)))
			}
		}
	case Float64:
		want, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return v.withRows([]int32{})
		}
		for i := 0; i < v.Len(); i++ {
			if c.Floats[v.Row(i)] == want {
				out = append(out, int32(v.Row(i)))
			}
		}
	}
	return v.withRows(out)
}

// SortBy returns a view sorted by the numeric value of col. Ties are broken
// by ascending physical row index, so sorting is fully deterministic.
func (v View) SortBy(col string, descending bool) View {
	if v.t == nil {
		return v
	}
	rows := append([]int32(nil), v.materializedRows()...)
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		va := columnFloat(v.t, col, int(a))
		vb := columnFloat(v.t, col, int(b))
		if va != vb {
			if descending {
				return va > vb
			}
			return va < vb
		}
		return a < b
	})
	return v.withRows(rows)
}

func columnFloat(t *Table, col string, row int) float64 {
	c, ok := t.Column(col)
	if !ok {
		return 0
	}
	switch c.Type {
	case Float64:
		return c.Floats[row]
	case Int64:
		return float64(c.Ints[row])
	}
	return 0
}

// Head keeps the first n rows of the view.
func (v View) Head(n int) View {
	if v.t == nil || n >= v.Len() {
		return v
	}
	if n < 0 {
		n = 0
	}
	return v.withRows(v.materializedRows()[:n])
}

// TopKPerGroup keeps at most k rows per group, preserving view order. The
// key function receives a view position. Callers sort first so that the
// retained rows are the top-ranked ones per group.
func (v View) TopKPerGroup(key func(i int) int64, k int) View {
	if v.t == nil {
		return v
	}
	if k <= 0 {
		return v.withRows([]int32{})
	}
	counts := make(map[int64]int)
	out := make([]int32, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		g := key(i)
		if counts[g] < k {
			counts[g]++
			out = append(out, int32(v.Row(i)))
		}
	}
	return v.withRows(out)
}

// MinMax returns the minimum and maximum of a numeric column over the view.
// ok is false for empty views or non-numeric columns.
func (v View) MinMax(col string) (lo, hi float64, ok bool) {
	if v.t == nil || v.Len() == 0 {
		return 0, 0, false
	}
	c, found := v.t.Column(col)
	if !found || c.Type == String {
		return 0, 0, false
	}
	lo = v.Float(col, 0)
	hi = lo
	for i := 1; i < v.Len(); i++ {
		val := v.Float(col, i)
		if val < lo {
			lo = val
		}
		if val > hi {
			hi = val
		}
	}
	return lo, hi, true
}

// Materialize gathers the view into a new standalone table. With no column
// arguments all columns are kept, otherwise only the named ones (projection).
func (v View) Materialize(cols ...string) (*Table, error) {
	if v.t == nil {
		return NewTable()
	}
	names := cols
	if len(names) == 0 {
		names = v.t.ColumnNames()
	}
	out := make([]Column, 0, len(names))
	n := v.Len()
	for _, name := range names {
		c, ok := v.t.Column(name)
		if !ok {
			return nil, fmt.Errorf("unknown column: %s", name)
		}
		nc := Column{Name: c.Name, Type: c.Type}
		switch c.Type {
		case Float64:
			nc.Floats = make([]float64, n)
			for i := 0; i < n; i++ {
				nc.Floats[i] = c.Floats[v.Row(i)]
			}
		case Int64:
			nc.Ints = make([]int64, n)
			for i := 0; i < n; i++ {
				nc.Ints[i] = c.Ints[v.Row(i)]
			}
		case String:
			nc.Strings = make([]string, n)
			for i := 0; i < n; i++ {
				nc.Strings[i] = c.Strings[v.Row(i)]
			}
		}
		out = append(out, nc)
	}
	return NewTable(out...)
}
