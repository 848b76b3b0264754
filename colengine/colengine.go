// Package colengine provides the vectorized column primitives the optimizer
// depends on: predicate evaluation to a mask, mask algebra, and compaction of
// a table by a mask.
package colengine

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"

	"github.com/danthegoodman1/sdcdb/mask"
	"github.com/danthegoodman1/sdcdb/predicate"
	"github.com/danthegoodman1/sdcdb/table"
)

type Engine interface {
	// Evaluate returns the rows of t satisfying p. The constant operand is
	// parsed with the type of the column in t, not the type recorded on p.
	Evaluate(t *table.Table, p predicate.Predicate) (*mask.Mask, error)
	And(a, b *mask.Mask) (*mask.Mask, error)
	Or(masks ...*mask.Mask) (*mask.Mask, error)
	Invert(m *mask.Mask) *mask.Mask
	AndNot(a, b *mask.Mask) (*mask.Mask, error)
	// Compact keeps the rows of t selected by m, for the named columns only.
	Compact(t *table.Table, m *mask.Mask, columns []string) (*table.Table, error)
	Count(m *mask.Mask) uint64
}

// BitmapEngine is the in-memory Engine over roaring bitmaps.
type BitmapEngine struct{}

func New() *BitmapEngine {
	return &BitmapEngine{}
}

func (e *BitmapEngine) Evaluate(t *table.Table, p predicate.Predicate) (*mask.Mask, error) {
	col, err := t.Column(p.Column)
	if err != nil {
		return nil, err
	}
	n := col.Len()
	bm := roaring.New()

	if p.IsCol {
		other, err := t.Column(p.Operand)
		if err != nil {
			return nil, err
		}
		bothInt := col.Type == table.Int && other.Type == table.Int
		for i := 0; i < n; i++ {
			var c int
			if bothInt {
				c = cmpInt(col.Ints[i], other.Ints[i])
			} else {
				c = cmpFloat(col.Float(i), other.Float(i))
			}
			if accepts(p.Operator, c) {
				bm.Add(uint32(i))
			}
		}
		return mask.FromBitmap(bm, uint64(n)), nil
	}

	v, err := predicate.ParseValue(p.Operand, col.Type)
	if err != nil {
		return nil, fmt.Errorf("error parsing operand of %s: %w", p, err)
	}
	if col.Type == table.Int {
		for i, x := range col.Ints {
			if accepts(p.Operator, cmpInt(x, v.I)) {
				bm.Add(uint32(i))
			}
		}
	} else {
		for i, x := range col.Floats {
			if accepts(p.Operator, cmpFloat(x, v.F)) {
				bm.Add(uint32(i))
			}
		}
	}
	return mask.FromBitmap(bm, uint64(n)), nil
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func accepts(op predicate.Operator, c int) bool {
	switch op {
	case predicate.LT:
		return c < 0
	case predicate.LTE:
		return c <= 0
	case predicate.GT:
		return c > 0
	case predicate.GTE:
		return c >= 0
	case predicate.EQ:
		return c == 0
	case predicate.NEQ:
		return c != 0
	}
	return false
}

func (e *BitmapEngine) And(a, b *mask.Mask) (*mask.Mask, error) {
	if err := mask.CheckSameLength(a, b); err != nil {
		return nil, err
	}
	return mask.FromBitmap(roaring.And(a.Bitmap(), b.Bitmap()), a.Len()), nil
}

func (e *BitmapEngine) Or(masks ...*mask.Mask) (*mask.Mask, error) {
	if len(masks) == 0 {
		return mask.New(0), nil
	}
	if err := mask.CheckSameLength(masks...); err != nil {
		return nil, err
	}
	bms := make([]*roaring.Bitmap, len(masks))
	for i, m := range masks {
		bms[i] = m.Bitmap()
	}
	return mask.FromBitmap(roaring.FastOr(bms...), masks[0].Len()), nil
}

func (e *BitmapEngine) Invert(m *mask.Mask) *mask.Mask {
	return mask.FromBitmap(roaring.Flip(m.Bitmap(), 0, m.Len()), m.Len())
}

func (e *BitmapEngine) AndNot(a, b *mask.Mask) (*mask.Mask, error) {
	if err := mask.CheckSameLength(a, b); err != nil {
		return nil, err
	}
	return mask.FromBitmap(roaring.AndNot(a.Bitmap(), b.Bitmap()), a.Len()), nil
}

func (e *BitmapEngine) Compact(t *table.Table, m *mask.Mask, columns []string) (*table.Table, error) {
	if uint64(t.NumRows()) != m.Len() {
		return nil, fmt.Errorf("%w: table has %d rows, mask covers %d", mask.ErrLengthMismatch, t.NumRows(), m.Len())
	}
	rows := m.Indices()
	cols := make([]*table.Column, 0, len(columns))
	for _, name := range columns {
		src, err := t.Column(name)
		if err != nil {
			return nil, err
		}
		if src.Type == table.Int {
			out := make([]int64, len(rows))
			for i, r := range rows {
				out[i] = src.Ints[r]
			}
			cols = append(cols, table.NewIntColumn(name, out))
		} else {
			out := make([]float64, len(rows))
			for i, r := range rows {
				out[i] = src.Floats[r]
			}
			cols = append(cols, table.NewDoubleColumn(name, out))
		}
	}
	return table.New(cols...)
}

func (e *BitmapEngine) Count(m *mask.Mask) uint64 {
	return m.TrueCount()
}
