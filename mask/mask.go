// Package mask holds per-row boolean masks over a table and their on-disk
// packed form.
//
// A Mask is a roaring bitmap of the row positions that are true plus the
// number of rows it ranges over, so true + false counts always add up to Len.
package mask

import (
	"errors"
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring"
)

type Mask struct {
	bits *roaring.Bitmap
	n    uint64
}

var (
	ErrLengthMismatch = errors.New("mask lengths differ")
	ErrShortMask      = errors.New("packed mask shorter than row count")
	ErrOutOfRange     = errors.New("row index out of range")
	ErrTooManyRows    = errors.New("too many rows")
)

// MaxRows is the most rows a mask can range over, as row positions are uint32.
const MaxRows = uint64(math.MaxUint32) + 1

// CheckRows returns ErrTooManyRows when n rows cannot be addressed by a mask.
func CheckRows(n uint64) error {
	if n > MaxRows {
		return fmt.Errorf("%w: %d > %d", ErrTooManyRows, n, MaxRows)
	}
	return nil
}

// New returns an all-false mask over n rows.
func New(n uint64) *Mask {
	return &Mask{bits: roaring.New(), n: n}
}

// Full returns an all-true mask over n rows.
func Full(n uint64) *Mask {
	bm := roaring.New()
	bm.AddRange(0, n)
	return &Mask{bits: bm, n: n}
}

// FromRange returns a mask over n rows with rows [start, end) set.
func FromRange(n, start, end uint64) *Mask {
	bm := roaring.New()
	if end > n {
		end = n
	}
	if start < end {
		bm.AddRange(start, end)
	}
	return &Mask{bits: bm, n: n}
}

func FromBools(b []bool) *Mask {
	m := New(uint64(len(b)))
	for i, v := range b {
		if v {
			m.bits.Add(uint32(i))
		}
	}
	return m
}

// FromBitmap wraps bm as a mask over n rows. Bits at or past n are dropped.
func FromBitmap(bm *roaring.Bitmap, n uint64) *Mask {
	if !bm.IsEmpty() && uint64(bm.Maximum()) >= n {
		bm = bm.Clone()
		bm.RemoveRange(n, uint64(bm.Maximum())+1)
	}
	return &Mask{bits: bm, n: n}
}

func (m *Mask) Len() uint64 {
	return m.n
}

func (m *Mask) TrueCount() uint64 {
	return m.bits.GetCardinality()
}

func (m *Mask) FalseCount() uint64 {
	return m.n - m.bits.GetCardinality()
}

func (m *Mask) Get(i uint64) bool {
	return i < m.n && m.bits.Contains(uint32(i))
}

func (m *Mask) Set(i uint64) error {
	if i >= m.n {
		return fmt.Errorf("%w: %d >= %d", ErrOutOfRange, i, m.n)
	}
	m.bits.Add(uint32(i))
	return nil
}

// Bitmap exposes the underlying bitmap. Callers must not mutate it.
func (m *Mask) Bitmap() *roaring.Bitmap {
	return m.bits
}

func (m *Mask) Clone() *Mask {
	return &Mask{bits: m.bits.Clone(), n: m.n}
}

func (m *Mask) Equal(o *Mask) bool {
	return m.n == o.n && m.bits.Equals(o.bits)
}

// Indices returns the true row positions in ascending order.
func (m *Mask) Indices() []uint32 {
	return m.bits.ToArray()
}

func (m *Mask) String() string {
	return fmt.Sprintf("mask(%d/%d)", m.TrueCount(), m.n)
}

// CheckSameLength returns ErrLengthMismatch unless all masks cover the same rows.
func CheckSameLength(masks ...*Mask) error {
	if len(masks) < 2 {
		return nil
	}
	for _, o := range masks[1:] {
		if o.n != masks[0].n {
			return fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, masks[0].n, o.n)
		}
	}
	return nil
}

// Concat joins masks end to end, the rows of each following those of the
// previous one.
func Concat(masks ...*Mask) (*Mask, error) {
	var total uint64
	for _, m := range masks {
		total += m.n
	}
	if err := CheckRows(total); err != nil {
		return nil, err
	}
	out := New(0)
	for _, m := range masks {
		it := m.bits.Iterator()
		for it.HasNext() {
			out.bits.Add(uint32(out.n + uint64(it.Next())))
		}
		out.n += m.n
	}
	return out, nil
}
