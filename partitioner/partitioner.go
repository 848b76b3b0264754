// Package partitioner splits one column's rows into ordered, disjoint value
// ranges at the cut points of the historical predicates on that column.
package partitioner

import (
	"errors"
	"fmt"
	"sort"

	"github.com/danthegoodman1/sdcdb/colengine"
	"github.com/danthegoodman1/sdcdb/gologger"
	"github.com/danthegoodman1/sdcdb/mask"
	"github.com/danthegoodman1/sdcdb/part"
	"github.com/danthegoodman1/sdcdb/predicate"
	"github.com/danthegoodman1/sdcdb/table"
)

var (
	logger = gologger.NewLogger()

	ErrNoCandidatePredicates = errors.New("no constant predicates on the partition column")
	ErrIntegrity             = errors.New("partitions are not a disjoint cover of the rows")
)

type (
	// Partition is one contiguous value range of the column. An empty Min or
	// Max is unbounded.
	Partition struct {
		Column       string
		Min          string
		MinInclusive bool
		Max          string
		MaxInclusive bool
		Type         table.DataType
		RowCount     int64
		Mask         *mask.Mask
	}

	candidate struct {
		predicate.WithMask
		value predicate.Value
	}
)

func (p Partition) Range() part.Range {
	return part.Range{
		Column:       p.Column,
		Min:          p.Min,
		MinInclusive: p.MinInclusive,
		Max:          p.Max,
		MaxInclusive: p.MaxInclusive,
		Type:         p.Type,
	}
}

// Split cuts the rows at every distinct operand of the range predicates
// on column, in ascending order, then adds a final partition holding every
// row no cut claimed. preds must carry masks over all numRows rows.
func Split(engine colengine.Engine, column string, preds []predicate.WithMask, numRows uint64) ([]Partition, error) {
	var cands []candidate
	var typ table.DataType
	seen := map[string]struct{}{}
	for _, p := range preds {
		if p.Column != column || p.IsCol {
			continue
		}
		if _, ok := seen[p.Key()]; ok {
			continue
		}
		seen[p.Key()] = struct{}{}
		v, err := p.Value()
		if err != nil {
			return nil, fmt.Errorf("error parsing cut of %s: %w", p, err)
		}
		if p.Mask == nil || p.Mask.Len() != numRows {
			return nil, fmt.Errorf("%w: %s has no mask over %d rows", mask.ErrLengthMismatch, p, numRows)
		}
		typ = p.Type
		cands = append(cands, candidate{WithMask: p, value: v})
	}
	if len(cands) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoCandidatePredicates, column)
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return predicate.Compare(cands[i].value, cands[j].value) < 0
	})

	var (
		parts   []Partition
		claimed = mask.New(numRows)
		prev    *candidate
		// rows at the previous cut belong below it when its max was inclusive
		prevMaxInclusive bool
	)
	for i := range cands {
		c := &cands[i]
		if !c.Operator.IsRange() {
			continue
		}
		if prev != nil && predicate.Compare(prev.value, c.value) == 0 {
			continue
		}

		low := c.Mask
		if c.Operator == predicate.GT || c.Operator == predicate.GTE {
			low = engine.Invert(c.Mask)
		}
		m, err := engine.AndNot(low, claimed)
		if err != nil {
			return nil, err
		}
		p := Partition{
			Column:       column,
			Max:          c.Operand,
			MaxInclusive: c.Operator == predicate.LTE || c.Operator == predicate.GT,
			Type:         typ,
			RowCount:     int64(engine.Count(m)),
			Mask:         m,
		}
		if prev != nil {
			p.Min, p.MinInclusive = prev.Operand, !prevMaxInclusive
		}
		if claimed, err = engine.Or(claimed, m); err != nil {
			return nil, err
		}
		parts = append(parts, p)
		prev, prevMaxInclusive = c, p.MaxInclusive
	}

	rest := engine.Invert(claimed)
	leftover := Partition{
		Column:   column,
		Type:     typ,
		RowCount: int64(engine.Count(rest)),
		Mask:     rest,
	}
	if prev != nil {
		leftover.Min, leftover.MinInclusive = prev.Operand, !prevMaxInclusive
	}
	parts = append(parts, leftover)

	if err := Validate(engine, parts, numRows); err != nil {
		return nil, err
	}
	logger.Debug().Str("column", column).Int("partitions", len(parts)).Msg("built range partitions")
	return parts, nil
}

// Validate checks that the partition masks are pairwise disjoint, cover all
// numRows rows, and agree with their row counts.
func Validate(engine colengine.Engine, parts []Partition, numRows uint64) error {
	union := mask.New(numRows)
	for i, p := range parts {
		if p.Mask.Len() != numRows {
			return fmt.Errorf("%w: partition %d mask covers %d rows", ErrIntegrity, i, p.Mask.Len())
		}
		if uint64(p.RowCount) != engine.Count(p.Mask) {
			return fmt.Errorf("%w: partition %d counts %d rows, mask has %d", ErrIntegrity, i, p.RowCount, engine.Count(p.Mask))
		}
		overlap, err := engine.And(union, p.Mask)
		if err != nil {
			return err
		}
		if engine.Count(overlap) != 0 {
			return fmt.Errorf("%w: partition %d overlaps an earlier one", ErrIntegrity, i)
		}
		if union, err = engine.Or(union, p.Mask); err != nil {
			return err
		}
	}
	if engine.Count(union) != numRows {
		return fmt.Errorf("%w: %d of %d rows covered", ErrIntegrity, engine.Count(union), numRows)
	}
	return nil
}
