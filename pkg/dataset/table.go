package dataset

import (
	"fmt"
)

// Kind is the inferred type of a column.
type Kind int

const (
	KindString Kind = iota
	KindInteger
	KindFloat
	KindFactor
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindFactor:
		return "factor"
	default:
		return "string"
	}
}

// Numeric reports whether values of the kind carry parsed numbers.
func (k Kind) Numeric() bool {
	return k == KindInteger || k == KindFloat
}

// Column is a named column of a Table. Raw always holds the cell text as read,
// so a factor column still knows the codes it came from.
type Column struct {
	Name    string
	Kind    Kind
	Raw     []string
	Numbers []float64 // set for KindInteger and KindFloat
	Factor  *Factor   // set for KindFactor
}

func (c *Column) selectRows(rows []int) *Column {
	out := &Column{Name: c.Name, Kind: c.Kind, Raw: make([]string, len(rows))}
	for i, r := range rows {
		out.Raw[i] = c.Raw[r]
	}
	if c.Numbers != nil {
		out.Numbers = make([]float64, len(rows))
		for i, r := range rows {
			out.Numbers[i] = c.Numbers[r]
		}
	}
	if c.Factor != nil {
		out.Factor = c.Factor.selectRows(rows)
	}
	return out
}

// Table is an immutable observation table with named, equal-length columns.
type Table struct {
	columns []*Column
	byName  map[string]int
	rows    int
}

func newTable(columns []*Column, rows int) *Table {
	t := &Table{columns: columns, byName: make(map[string]int, len(columns)), rows: rows}
	for i, c := range columns {
		t.byName[c.Name] = i
	}
	return t
}

// Len returns the number of observations.
func (t *Table) Len() int {
	return t.rows
}

// Names returns the column names in input order.
func (t *Table) Names() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// Column returns a copy of the named column. Changing the copy's slices does
// not affect the table.
func (t *Table) Column(name string) (*Column, error) {
	c, err := t.lookup(name)
	if err != nil {
		return nil, err
	}
	out := *c
	out.Raw = append([]string(nil), c.Raw...)
	if c.Numbers != nil {
		out.Numbers = append([]float64(nil), c.Numbers...)
	}
	return &out, nil
}

func (t *Table) lookup(name string) (*Column, error) {
	i, ok := t.byName[name]
	if !ok {
		return nil, unknownColumn(name)
	}
	return t.columns[i], nil
}

// Numeric returns a copy of a numeric column's values.
func (t *Table) Numeric(name string) ([]float64, error) {
	c, err := t.lookup(name)
	if err != nil {
		return nil, err
	}
	if !c.Kind.Numeric() {
		return nil, fmt.Errorf("column %q is %s, not numeric", name, c.Kind)
	}
	out := make([]float64, len(c.Numbers))
	copy(out, c.Numbers)
	return out, nil
}

// Factor returns the factor of a categorical column.
func (t *Table) Factor(name string) (*Factor, error) {
	c, err := t.lookup(name)
	if err != nil {
		return nil, err
	}
	if c.Kind != KindFactor {
		return nil, fmt.Errorf("column %q is %s, not a factor", name, c.Kind)
	}
	return c.Factor, nil
}

// Select returns a new table holding only the given rows, in the given order.
// Factor columns keep their full level sets, so levels can end up empty.
func (t *Table) Select(rows []int) (*Table, error) {
	for _, r := range rows {
		if r < 0 || r >= t.rows {
			return nil, fmt.Errorf("row %d out of range [0,%d)", r, t.rows)
		}
	}
	columns := make([]*Column, len(t.columns))
	for i, c := range t.columns {
		columns[i] = c.selectRows(rows)
	}
	return newTable(columns, len(rows)), nil
}

// withColumn returns a copy of the table with the named column replaced.
func (t *Table) withColumn(col *Column) *Table {
	columns := make([]*Column, len(t.columns))
	copy(columns, t.columns)
	columns[t.byName[col.Name]] = col
	return newTable(columns, t.rows)
}
