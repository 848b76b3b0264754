package part

import (
	"fmt"
	"time"

	"github.com/danthegoodman1/sdcdb/predicate"
	"github.com/danthegoodman1/sdcdb/table"
)

type (
	IndexKind string

	// Range bounds one column for every row of a block. An empty Min or Max is
	// unbounded on that side.
	Range struct {
		Column       string         `json:"column"`
		Min          string         `json:"min"`
		MinInclusive bool           `json:"minInclusive"`
		Max          string         `json:"max"`
		MaxInclusive bool           `json:"maxInclusive"`
		Type         table.DataType `json:"dataType"`
	}

	// DataBlock is one physical file of an index. Its Ranges are a conjunction.
	DataBlock struct {
		FilePath string  `json:"filePath"`
		Ranges   []Range `json:"ranges"`
		RowCount int64   `json:"rowCount"`
	}

	Index struct {
		ID             string                `json:"id"`
		TableID        string                `json:"tableId"`
		Kind           IndexKind             `json:"kind"`
		DataBlocks     []DataBlock           `json:"dataBlocks"`
		ColumnsCovered []string              `json:"columnsCovered"`
		PredicatesUsed []predicate.Predicate `json:"predicatesUsed"`
		DocumentPath   string                `json:"documentPath,omitempty"`
		CreatedAt      time.Time             `json:"createdAt"`
	}
)

const (
	Primary        IndexKind = "primary"
	RangePartition IndexKind = "rangePartition"
	PredicateTree  IndexKind = "predicateTree"
)

func ParseIndexKind(s string) (IndexKind, error) {
	switch IndexKind(s) {
	case Primary, RangePartition, PredicateTree:
		return IndexKind(s), nil
	}
	return "", fmt.Errorf("unknown index kind %q", s)
}

// Covers reports whether the index stores every one of cols.
func (i Index) Covers(cols []string) bool {
	have := make(map[string]struct{}, len(i.ColumnsCovered))
	for _, c := range i.ColumnsCovered {
		have[c] = struct{}{}
	}
	for _, c := range cols {
		if _, ok := have[c]; !ok {
			return false
		}
	}
	return true
}

func (i Index) RowCount() int64 {
	var n int64
	for _, b := range i.DataBlocks {
		n += b.RowCount
	}
	return n
}

func (r Range) IsUnbounded() bool {
	return r.Min == "" && r.Max == ""
}

// Interval parses the range bounds into a value interval.
func (r Range) Interval() (predicate.Interval, error) {
	var iv predicate.Interval
	if r.Min != "" {
		v, err := predicate.ParseValue(r.Min, r.Type)
		if err != nil {
			return iv, fmt.Errorf("error parsing min of range on %s: %w", r.Column, err)
		}
		iv.Lo = predicate.Bound{Set: true, Value: v, Inclusive: r.MinInclusive}
	}
	if r.Max != "" {
		v, err := predicate.ParseValue(r.Max, r.Type)
		if err != nil {
			return iv, fmt.Errorf("error parsing max of range on %s: %w", r.Column, err)
		}
		iv.Hi = predicate.Bound{Set: true, Value: v, Inclusive: r.MaxInclusive}
	}
	return iv, nil
}

// Admits reports whether v lies inside the range.
func (r Range) Admits(v predicate.Value) (bool, error) {
	iv, err := r.Interval()
	if err != nil {
		return false, err
	}
	return iv.ContainsValue(v), nil
}

func (r Range) String() string {
	lo, hi := "(", ")"
	if r.MinInclusive && r.Min != "" {
		lo = "["
	}
	if r.MaxInclusive && r.Max != "" {
		hi = "]"
	}
	min, max := r.Min, r.Max
	if min == "" {
		min = "-inf"
	}
	if max == "" {
		max = "+inf"
	}
	return fmt.Sprintf("%s in %s%s, %s%s", r.Column, lo, min, max, hi)
}

// FindRange returns the index of the range on column, or -1.
func FindRange(ranges []Range, column string) int {
	for i, r := range ranges {
		if r.Column == column {
			return i
		}
	}
	return -1
}

// BranchInterval is the set of values of p's column on one side of a split
// on p. ok is false when that side has no single interval (the false side of
// == and the true side of !=).
func BranchInterval(p predicate.Predicate, branch bool) (iv predicate.Interval, ok bool, err error) {
	op := p.Operator
	if !branch {
		op = op.Negate()
	}
	if op == predicate.NEQ {
		return iv, false, nil
	}
	s, err := predicate.Predicate{Column: p.Column, Operator: op, Operand: p.Operand, Type: p.Type}.Set()
	if err != nil {
		return iv, false, err
	}
	return s.Interval, true, nil
}

// Narrow returns ranges tightened by the branch side of a split on p. Only a
// bound that p makes strictly tighter is replaced, so ranges never loosen.
// Column-operand predicates leave the ranges unchanged.
func Narrow(ranges []Range, p predicate.Predicate, branch bool) ([]Range, error) {
	out := append([]Range(nil), ranges...)
	if p.IsCol {
		return out, nil
	}
	iv, ok, err := BranchInterval(p, branch)
	if err != nil {
		return nil, err
	}
	if !ok {
		return out, nil
	}

	i := FindRange(out, p.Column)
	if i < 0 {
		r := Range{Column: p.Column, Type: p.Type}
		if iv.Lo.Set {
			r.Min, r.MinInclusive = p.Operand, iv.Lo.Inclusive
		}
		if iv.Hi.Set {
			r.Max, r.MaxInclusive = p.Operand, iv.Hi.Inclusive
		}
		return append(out, r), nil
	}

	cur, err := out[i].Interval()
	if err != nil {
		return nil, err
	}
	r := out[i]
	if predicate.LowerTighter(iv.Lo, cur.Lo) {
		r.Min, r.MinInclusive = p.Operand, iv.Lo.Inclusive
	}
	if predicate.UpperTighter(iv.Hi, cur.Hi) {
		r.Max, r.MaxInclusive = p.Operand, iv.Hi.Inclusive
	}
	out[i] = r
	return out, nil
}
