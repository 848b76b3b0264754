// Package pruner picks the index a query reads from and drops the blocks
// whose declared ranges prove they hold no matching rows.
package pruner

import (
	"errors"
	"fmt"

	"github.com/danthegoodman1/sdcdb/gologger"
	"github.com/danthegoodman1/sdcdb/part"
	"github.com/danthegoodman1/sdcdb/predicate"
)

var (
	logger = gologger.NewLogger()

	ErrIndexNotFound = errors.New("index not found")
	ErrUnknownMode   = errors.New("unknown index mode")
)

type (
	Mode string

	// Decision is the three-valued outcome of checking a block against a
	// predicate.
	Decision int

	Plan struct {
		Selected []part.DataBlock
		// Admitted[i] is true when every row of Selected[i] satisfies every
		// predicate, so the block needs no evaluation.
		Admitted    []bool
		TotalBlocks int
		Pruned      int
	}
)

const (
	Auto           Mode = "auto"
	Primary        Mode = "primary"
	RangePartition Mode = "rangePartition"
	PredicateTree  Mode = "predicateTree"
)

const (
	// Reject means no row of the block can satisfy the predicate.
	Reject Decision = iota
	Maybe
	// Admit means every row of the block satisfies the predicate.
	Admit
)

func (d Decision) String() string {
	switch d {
	case Reject:
		return "reject"
	case Admit:
		return "admit"
	}
	return "maybe"
}

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return Auto, nil
	case Auto, Primary, RangePartition, PredicateTree:
		return Mode(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// autoPreference is the order auto mode tries index kinds in.
var autoPreference = []part.IndexKind{part.PredicateTree, part.RangePartition, part.Primary}

// SelectIndex returns the index a query needing the required columns should
// read. An explicit mode must name an index kind that exists, auto takes the
// most selective kind that covers every required column.
func SelectIndex(indexes []part.Index, required []string, mode Mode) (part.Index, error) {
	byKind := make(map[part.IndexKind]part.Index, len(indexes))
	for _, idx := range indexes {
		byKind[idx.Kind] = idx
	}

	if mode != Auto {
		idx, ok := byKind[part.IndexKind(mode)]
		if !ok {
			return part.Index{}, fmt.Errorf("%w: no %s index", ErrIndexNotFound, mode)
		}
		if !idx.Covers(required) {
			return part.Index{}, fmt.Errorf("%w: %s index does not cover %v", ErrIndexNotFound, mode, required)
		}
		return idx, nil
	}

	for _, kind := range autoPreference {
		idx, ok := byKind[kind]
		if ok && idx.Covers(required) {
			return idx, nil
		}
	}
	return part.Index{}, fmt.Errorf("%w: nothing covers %v", ErrIndexNotFound, required)
}

// RequiredColumns is every column a query touches: its projections, the
// columns it filters on, and column operands.
func RequiredColumns(preds []predicate.Predicate, projections []string) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(c string) {
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	for _, c := range projections {
		add(c)
	}
	for _, p := range preds {
		for _, c := range p.Columns() {
			add(c)
		}
	}
	return out
}

// Decide checks p against the block's declared range on p's column. Blocks
// with no range on that column, and column-operand predicates, are Maybe.
func Decide(block part.DataBlock, p predicate.Predicate) (Decision, error) {
	if p.IsCol {
		return Maybe, nil
	}
	i := part.FindRange(block.Ranges, p.Column)
	if i < 0 {
		return Maybe, nil
	}
	iv, err := block.Ranges[i].Interval()
	if err != nil {
		return Maybe, err
	}
	set, err := p.Set()
	if err != nil {
		return Maybe, fmt.Errorf("error in Set for %s: %w", p, err)
	}
	switch {
	case !set.Intersects(iv):
		return Reject, nil
	case set.Covers(iv):
		return Admit, nil
	}
	return Maybe, nil
}

// PruneBlocks keeps the blocks of idx that may hold rows satisfying every
// predicate. A block is dropped only when some predicate rejects it.
func PruneBlocks(idx part.Index, preds []predicate.Predicate) (Plan, error) {
	plan := Plan{TotalBlocks: len(idx.DataBlocks)}
blocks:
	for _, b := range idx.DataBlocks {
		admitted := true
		for _, p := range preds {
			d, err := Decide(b, p)
			if err != nil {
				return Plan{}, fmt.Errorf("error deciding %s for block %s: %w", p, b.FilePath, err)
			}
			if d == Reject {
				plan.Pruned++
				logger.Debug().Str("block", b.FilePath).Str("predicate", p.String()).Msg("pruned block")
				continue blocks
			}
			admitted = admitted && d == Admit
		}
		plan.Selected = append(plan.Selected, b)
		plan.Admitted = append(plan.Admitted, admitted)
	}
	return plan, nil
}
