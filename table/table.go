package table

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

type (
	DataType string

	// Column is one typed column of a Table. Exactly one of Ints or Floats is
	// populated, matching Type.
	Column struct {
		Name   string
		Type   DataType
		Ints   []int64
		Floats []float64
	}

	// Table is an in-memory columnar table, all columns have the same length.
	Table struct {
		Columns []*Column
	}

	ColumnSchema struct {
		Name     string   `json:"name"`
		DataType DataType `json:"dataType"`
	}
)

const (
	Int    DataType = "int"
	Double DataType = "double"
)

var (
	ErrColumnNotFound   = errors.New("column not found")
	ErrUnknownDataType  = errors.New("unknown data type")
	ErrLengthMismatch   = errors.New("column lengths differ")
	ErrSchemaMismatch   = errors.New("schemas differ")
	ErrDuplicateColumn  = errors.New("duplicate column")
	ErrTypeMismatch     = errors.New("value does not match column type")
	ErrMissingRowColumn = errors.New("row is missing a column")
)

func ParseDataType(s string) (DataType, error) {
	switch strings.ToLower(s) {
	case "int", "int64", "integer", "long":
		return Int, nil
	case "double", "float", "float64", "real":
		return Double, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDataType, s)
	}
}

func NewIntColumn(name string, vals []int64) *Column {
	return &Column{Name: name, Type: Int, Ints: vals}
}

func NewDoubleColumn(name string, vals []float64) *Column {
	return &Column{Name: name, Type: Double, Floats: vals}
}

func (c *Column) Len() int {
	if c.Type == Int {
		return len(c.Ints)
	}
	return len(c.Floats)
}

// Float returns row i as a float64 regardless of the column type.
func (c *Column) Float(i int) float64 {
	if c.Type == Int {
		return float64(c.Ints[i])
	}
	return c.Floats[i]
}

// Value returns row i boxed as int64 or float64.
func (c *Column) Value(i int) any {
	if c.Type == Int {
		return c.Ints[i]
	}
	return c.Floats[i]
}

func (c *Column) empty() *Column {
	return &Column{Name: c.Name, Type: c.Type}
}

// New builds a table and checks the columns are consistent.
func New(cols ...*Column) (*Table, error) {
	seen := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		if _, ok := seen[c.Name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateColumn, c.Name)
		}
		seen[c.Name] = struct{}{}
		if c.Type != Int && c.Type != Double {
			return nil, fmt.Errorf("%w: %q for column %s", ErrUnknownDataType, c.Type, c.Name)
		}
		if c.Len() != cols[0].Len() {
			return nil, fmt.Errorf("%w: %s has %d rows, %s has %d", ErrLengthMismatch, c.Name, c.Len(), cols[0].Name, cols[0].Len())
		}
	}
	return &Table{Columns: cols}, nil
}

func (t *Table) NumRows() int {
	if t == nil || len(t.Columns) == 0 {
		return 0
	}
	return t.Columns[0].Len()
}

func (t *Table) Column(name string) (*Column, error) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, name)
}

func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

func (t *Table) Schema() []ColumnSchema {
	s := make([]ColumnSchema, len(t.Columns))
	for i, c := range t.Columns {
		s[i] = ColumnSchema{Name: c.Name, DataType: c.Type}
	}
	return s
}

// Select returns a table sharing the named columns' storage, in the order given.
func (t *Table) Select(names []string) (*Table, error) {
	cols := make([]*Column, 0, len(names))
	for _, n := range names {
		c, err := t.Column(n)
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return &Table{Columns: cols}, nil
}

// Row returns row i as a column name -> value map.
func (t *Table) Row(i int) map[string]any {
	row := make(map[string]any, len(t.Columns))
	for _, c := range t.Columns {
		row[c.Name] = c.Value(i)
	}
	return row
}

// Slice returns the first n rows (or all if fewer).
func (t *Table) Slice(n int) *Table {
	if n < 0 || n >= t.NumRows() {
		return t
	}
	out := &Table{Columns: make([]*Column, len(t.Columns))}
	for i, c := range t.Columns {
		nc := c.empty()
		if c.Type == Int {
			nc.Ints = c.Ints[:n]
		} else {
			nc.Floats = c.Floats[:n]
		}
		out.Columns[i] = nc
	}
	return out
}

// Concat appends tables with identical schemas in order. Row order is
// preserved, which is what keeps mask bit positions meaningful across blocks.
func Concat(tables ...*Table) (*Table, error) {
	if len(tables) == 0 {
		return &Table{}, nil
	}
	first := tables[0]
	out := &Table{Columns: make([]*Column, len(first.Columns))}
	total := 0
	for _, t := range tables {
		total += t.NumRows()
	}
	for i, c := range first.Columns {
		nc := c.empty()
		if c.Type == Int {
			nc.Ints = make([]int64, 0, total)
		} else {
			nc.Floats = make([]float64, 0, total)
		}
		out.Columns[i] = nc
	}
	for ti, t := range tables {
		if len(t.Columns) != len(first.Columns) {
			return nil, fmt.Errorf("%w: table %d has %d columns, expected %d", ErrSchemaMismatch, ti, len(t.Columns), len(first.Columns))
		}
		for i, c := range out.Columns {
			src, err := t.Column(c.Name)
			if err != nil {
				return nil, fmt.Errorf("%w: table %d: %s", ErrSchemaMismatch, ti, err)
			}
			if src.Type != c.Type {
				return nil, fmt.Errorf("%w: column %s is %s in table %d, expected %s", ErrSchemaMismatch, c.Name, src.Type, ti, c.Type)
			}
			if c.Type == Int {
				out.Columns[i].Ints = append(out.Columns[i].Ints, src.Ints...)
			} else {
				out.Columns[i].Floats = append(out.Columns[i].Floats, src.Floats...)
			}
		}
	}
	return out, nil
}

// FromRows builds a table from flat row maps using the given schema. Ints
// accept any integral numeric value, doubles accept any number.
func FromRows(schema []ColumnSchema, rows []map[string]any) (*Table, error) {
	cols := make([]*Column, len(schema))
	for i, s := range schema {
		cols[i] = &Column{Name: s.Name, Type: s.DataType}
		if s.DataType == Int {
			cols[i].Ints = make([]int64, 0, len(rows))
		} else {
			cols[i].Floats = make([]float64, 0, len(rows))
		}
	}
	for ri, row := range rows {
		for _, c := range cols {
			raw, ok := row[c.Name]
			if !ok {
				return nil, fmt.Errorf("%w: row %d has no %s", ErrMissingRowColumn, ri, c.Name)
			}
			n, ok := toNumber(raw)
			if !ok {
				return nil, fmt.Errorf("%w: row %d column %s got %T", ErrTypeMismatch, ri, c.Name, raw)
			}
			if c.Type == Int {
				if !n.integral {
					return nil, fmt.Errorf("%w: row %d column %s got non-integral %v", ErrTypeMismatch, ri, c.Name, raw)
				}
				c.Ints = append(c.Ints, n.i)
			} else {
				c.Floats = append(c.Floats, n.f)
			}
		}
	}
	return New(cols...)
}

type number struct {
	i        int64
	f        float64
	integral bool
}

func toNumber(v any) (number, bool) {
	switch n := v.(type) {
	case int:
		return number{i: int64(n), f: float64(n), integral: true}, true
	case int32:
		return number{i: int64(n), f: float64(n), integral: true}, true
	case int64:
		return number{i: n, f: float64(n), integral: true}, true
	case float32:
		return toNumber(float64(n))
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return number{i: i, f: float64(i), integral: true}, true
		}
		f, err := n.Float64()
		if err != nil {
			return number{}, false
		}
		return toNumber(f)
	case float64:
		return number{i: int64(n), f: n, integral: n == math.Trunc(n) && math.Abs(n) < 1<<63}, true
	default:
		return number{}, false
	}
}
