package pipeline

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Kind classifies a column once per table.
type Kind int

const (
	Numeric Kind = iota
	Categorical
)

func (k Kind) String() string {
	switch k {
	case Numeric:
		return "numeric"
	case Categorical:
		return "categorical"
	default:
		return "unknown"
	}
}

// MarshalText lets Kind appear by name in JSON payloads.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Column holds one named column. Numeric columns use Numbers with NaN as the
// missing marker; categorical columns use Strings with "" as the missing marker
// until they are encoded, after which Numbers carries the integer codes.
type Column struct {
	Name    string
	Kind    Kind
	Numbers []float64
	Strings []string

	// Scale maps raw values to the current Numbers. nil means identity.
	Scale   *MinMax
	Encoded bool
}

// Len returns the row count of the column.
func (c *Column) Len() int {
	if c.Kind == Categorical && !c.Encoded {
		return len(c.Strings)
	}
	return len(c.Numbers)
}

// Missing reports whether row i holds no value.
func (c *Column) Missing(i int) bool {
	if c.Kind == Categorical && !c.Encoded {
		return c.Strings[i] == ""
	}
	return math.IsNaN(c.Numbers[i])
}

// Cell renders row i as text.
func (c *Column) Cell(i int) string {
	if c.Kind == Categorical && !c.Encoded {
		return c.Strings[i]
	}
	v := c.Numbers[i]
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func (c *Column) clone() *Column {
	out := &Column{Name: c.Name, Kind: c.Kind, Encoded: c.Encoded}
	if c.Numbers != nil {
		out.Numbers = append([]float64(nil), c.Numbers...)
	}
	if c.Strings != nil {
		out.Strings = append([]string(nil), c.Strings...)
	}
	if c.Scale != nil {
		s := *c.Scale
		out.Scale = &s
	}
	return out
}

// Table is an ordered set of equally sized columns.
type Table struct {
	columns []*Column
	index   map[string]int
	rows    int
}

var (
	ErrRaggedTable     = errors.New("columns have different row counts")
	ErrDuplicateColumn = errors.New("duplicate column name")
)

// NewTable validates that all columns share a row count and have unique names.
func NewTable(columns []*Column) (*Table, error) {
	t := &Table{
		columns: columns,
		index:   make(map[string]int, len(columns)),
	}
	for i, col := range columns {
		if _, ok := t.index[col.Name]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, col.Name)
		}
		t.index[col.Name] = i
		if i == 0 {
			t.rows = col.Len()
			continue
		}
		if col.Len() != t.rows {
			return nil, fmt.Errorf("%w: %q has %d rows, want %d", ErrRaggedTable, col.Name, col.Len(), t.rows)
		}
	}
	return t, nil
}

func (t *Table) NumRows() int { return t.rows }

func (t *Table) NumCols() int { return len(t.columns) }

func (t *Table) Columns() []*Column { return t.columns }

// Column looks a column up by name.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.columns[i], true
}

// Names returns column names in table order.
func (t *Table) Names() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// ColumnsOf returns the columns of the given kind in table order.
func (t *Table) ColumnsOf(kind Kind) []*Column {
	var out []*Column
	for _, c := range t.columns {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// Clone deep-copies the table so later stages can mutate it freely.
func (t *Table) Clone() *Table {
	cols := make([]*Column, len(t.columns))
	for i, c := range t.columns {
		cols[i] = c.clone()
	}
	index := make(map[string]int, len(t.index))
	for k, v := range t.index {
		index[k] = v
	}
	return &Table{columns: cols, index: index, rows: t.rows}
}

// Head renders up to n rows of the named columns as text, row-major.
func (t *Table) Head(n int, names ...string) ([][]string, error) {
	if len(names) == 0 {
		names = t.Names()
	}
	cols := make([]*Column, len(names))
	for i, name := range names {
		c, ok := t.Column(name)
		if !ok {
			return nil, fmt.Errorf("unknown column %q", name)
		}
		cols[i] = c
	}
	if n > t.rows || n < 0 {
		n = t.rows
	}
	out := make([][]string, n)
	for r := 0; r < n; r++ {
		row := make([]string, len(cols))
		for j, c := range cols {
			row[j] = c.Cell(r)
		}
		out[r] = row
	}
	return out, nil
}

// Schema describes the table for column-selection screens.
type Schema struct {
	Rows    int          `json:"rows"`
	Cols    int          `json:"cols"`
	Columns []ColumnInfo `json:"columns"`
}

type ColumnInfo struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

func (t *Table) Schema() Schema {
	s := Schema{Rows: t.rows, Cols: len(t.columns), Columns: make([]ColumnInfo, len(t.columns))}
	for i, c := range t.columns {
		s.Columns[i] = ColumnInfo{Name: c.Name, Kind: c.Kind}
	}
	return s
}
