package qdtree

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/danthegoodman1/sdcdb/colengine"
	"github.com/danthegoodman1/sdcdb/mask"
	"github.com/danthegoodman1/sdcdb/metastore"
	"github.com/danthegoodman1/sdcdb/part"
	"github.com/danthegoodman1/sdcdb/predicate"
	"github.com/danthegoodman1/sdcdb/table"
)

type (
	// TableMeta is the part of a table snapshot the builder reads.
	TableMeta struct {
		Columns  []table.ColumnSchema
		NumRows  uint64
		Workload []metastore.WorkloadEntry
	}

	// descriptor is a node waiting in the worklist, along with everything it
	// inherits from its parent.
	descriptor struct {
		slot   int
		parent int
		mask   *mask.Mask
		count  int64
		ranges []part.Range
		used   []predicate.Predicate
	}

	// historyPredicate is a workload predicate weighted by how often its
	// query ran.
	historyPredicate struct {
		predicate.Predicate
		weight int64
	}

	builder struct {
		logger      *zerolog.Logger
		engine      colengine.Engine
		preds       []predicate.WithMask
		history     map[string][]historyPredicate
		minLeafSize int64
		tree        *Tree
	}
)

// Build grows the tree breadth first from a root holding every row. preds
// must carry masks over all meta.NumRows rows. A node becomes a leaf when it
// holds fewer than 2*minLeafSize rows, or when no split that leaves both
// children with at least minLeafSize rows discards any workload rows.
// projections are only logged, the materializer applies them.
func Build(ctx context.Context, engine colengine.Engine, preds []predicate.WithMask, projections []string, meta TableMeta, minLeafSize int64) (*Tree, error) {
	logger := zerolog.Ctx(ctx)
	if minLeafSize < 1 {
		minLeafSize = 1
	}
	for _, p := range preds {
		if p.Mask == nil || p.Mask.Len() != meta.NumRows {
			return nil, fmt.Errorf("%w: %s has no mask over %d rows", mask.ErrLengthMismatch, p, meta.NumRows)
		}
	}
	history, err := indexHistory(meta)
	if err != nil {
		return nil, err
	}

	b := &builder{
		logger:      logger,
		engine:      engine,
		preds:       preds,
		history:     history,
		minLeafSize: minLeafSize,
		tree:        &Tree{Nodes: []Node{nil}, NumRows: meta.NumRows},
	}

	queue := []descriptor{{
		slot:   0,
		parent: -1,
		mask:   mask.Full(meta.NumRows),
		count:  int64(meta.NumRows),
	}}
	for len(queue) > 0 {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		d := queue[0]
		queue = queue[1:]

		children, err := b.process(d)
		if err != nil {
			return nil, err
		}
		queue = append(queue, children...)
	}

	if err = b.tree.Validate(engine); err != nil {
		return nil, err
	}
	logger.Debug().Int("nodes", len(b.tree.Nodes)).Int("leaves", len(b.tree.Leaves())).Int("depth", b.tree.Depth()).Strs("projections", projections).Msg("built predicate tree")
	return b.tree, nil
}

// indexHistory groups the workload predicates by column, typed from the live
// schema.
func indexHistory(meta TableMeta) (map[string][]historyPredicate, error) {
	types := make(map[string]table.DataType, len(meta.Columns))
	for _, c := range meta.Columns {
		types[c.Name] = c.DataType
	}
	history := map[string][]historyPredicate{}
	for _, we := range meta.Workload {
		weight := we.ExecutionCount
		if weight < 1 {
			weight = 1
		}
		for _, p := range predicate.Dedupe(we.Predicates) {
			typ, ok := types[p.Column]
			if !ok {
				return nil, fmt.Errorf("%w: workload predicate %s", table.ErrColumnNotFound, p)
			}
			p.Type = typ
			history[p.Column] = append(history[p.Column], historyPredicate{Predicate: p, weight: weight})
		}
	}
	return history, nil
}

// process turns d into a leaf or an inner node, returning the children to
// enqueue.
func (b *builder) process(d descriptor) ([]descriptor, error) {
	if d.count < 2*b.minLeafSize {
		b.leaf(d)
		return nil, nil
	}

	var (
		best        = -1
		bestBenefit int64
		bestTrue    *mask.Mask
		bestCount   int64
	)
	for i, p := range b.preds {
		redundant, err := b.redundant(d, p.Predicate)
		if err != nil {
			return nil, err
		}
		if redundant {
			continue
		}
		trueMask, err := b.engine.And(d.mask, p.Mask)
		if err != nil {
			return nil, err
		}
		trueCount := int64(b.engine.Count(trueMask))
		falseCount := d.count - trueCount
		if trueCount < b.minLeafSize || falseCount < b.minLeafSize {
			continue
		}
		benefit, err := b.benefit(p.Predicate, trueCount, falseCount)
		if err != nil {
			return nil, err
		}
		// strictly greater, so ties keep the first candidate
		if benefit > bestBenefit {
			best, bestBenefit, bestTrue, bestCount = i, benefit, trueMask, trueCount
		}
	}
	if best < 0 {
		b.leaf(d)
		return nil, nil
	}

	split := b.preds[best].Predicate
	falseMask, err := b.engine.AndNot(d.mask, bestTrue)
	if err != nil {
		return nil, err
	}
	trueRanges, err := part.Narrow(d.ranges, split, true)
	if err != nil {
		return nil, err
	}
	falseRanges, err := part.Narrow(d.ranges, split, false)
	if err != nil {
		return nil, err
	}

	used := append(append([]predicate.Predicate(nil), d.used...), split)
	trueSlot, falseSlot := len(b.tree.Nodes), len(b.tree.Nodes)+1
	b.tree.Nodes = append(b.tree.Nodes, nil, nil)
	b.tree.Nodes[d.slot] = &InnerNode{
		Split:    split,
		True:     trueSlot,
		False:    falseSlot,
		Parent:   d.parent,
		RowCount: d.count,
		Ranges:   d.ranges,
		Benefit:  bestBenefit,
	}
	b.tree.Splits = append(b.tree.Splits, split)
	b.logger.Debug().Str("split", split.String()).Int64("benefit", bestBenefit).Int64("rows", d.count).Int64("trueRows", bestCount).Msg("chose split")

	return []descriptor{
		{slot: trueSlot, parent: d.slot, mask: bestTrue, count: bestCount, ranges: trueRanges, used: used},
		{slot: falseSlot, parent: d.slot, mask: falseMask, count: d.count - bestCount, ranges: falseRanges, used: used},
	}, nil
}

func (b *builder) leaf(d descriptor) {
	b.tree.Nodes[d.slot] = &LeafNode{
		Parent:   d.parent,
		RowCount: d.count,
		Ranges:   d.ranges,
		Mask:     d.mask,
	}
}

// redundant reports whether splitting d on p cannot separate anything new:
// p was already split on along the path, or every row of d is known to fall
// on the same side of p from d's ranges.
func (b *builder) redundant(d descriptor, p predicate.Predicate) (bool, error) {
	for _, u := range d.used {
		if u.Equal(p) {
			return true, nil
		}
	}
	if p.IsCol {
		return false, nil
	}
	i := part.FindRange(d.ranges, p.Column)
	if i < 0 {
		return false, nil
	}
	iv, err := d.ranges[i].Interval()
	if err != nil {
		return false, err
	}
	set, err := p.Set()
	if err != nil {
		return false, err
	}
	return set.Covers(iv) || !set.Intersects(iv), nil
}

// benefit sums, over the workload predicates on the same column, the rows a
// split on s lets that query skip: the false side when every row the history
// predicate accepts is on the true side, and the true side when they are all
// on the false side.
func (b *builder) benefit(s predicate.Predicate, trueCount, falseCount int64) (int64, error) {
	var total int64
	neg := s.Negate()
	for _, h := range b.history[s.Column] {
		if h.IsCol != s.IsCol {
			continue
		}
		onTrue, err := predicate.Implies(h.Predicate, s)
		if err != nil {
			return 0, fmt.Errorf("error comparing %s with %s: %w", h.Predicate, s, err)
		}
		if onTrue {
			total += falseCount * h.weight
			continue
		}
		onFalse, err := predicate.Implies(h.Predicate, neg)
		if err != nil {
			return 0, fmt.Errorf("error comparing %s with %s: %w", h.Predicate, neg, err)
		}
		if onFalse {
			total += trueCount * h.weight
		}
	}
	return total, nil
}
