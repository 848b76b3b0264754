// Package qdtree builds a binary partitioning tree over the rows of a table
// from the recorded query workload. Each inner node splits on the predicate
// that lets the most historical rows be skipped, each leaf becomes one block.
package qdtree

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danthegoodman1/sdcdb/colengine"
	"github.com/danthegoodman1/sdcdb/mask"
	"github.com/danthegoodman1/sdcdb/part"
	"github.com/danthegoodman1/sdcdb/predicate"
)

var ErrIntegrity = errors.New("tree leaves are not a disjoint cover of the rows")

type (
	// Node is either an *InnerNode or a *LeafNode.
	Node interface {
		isNode()
	}

	InnerNode struct {
		Split predicate.Predicate
		// True and False index the children in Tree.Nodes
		True, False int
		// Parent is -1 at the root
		Parent   int
		RowCount int64
		Ranges   []part.Range
		Benefit  int64
	}

	LeafNode struct {
		Parent   int
		RowCount int64
		Ranges   []part.Range
		Mask     *mask.Mask
	}

	// Tree stores its nodes in an arena, the root is Nodes[0].
	Tree struct {
		Nodes   []Node
		NumRows uint64
		// Splits lists the split predicates in the order they were chosen
		Splits []predicate.Predicate
	}
)

func (*InnerNode) isNode() {}
func (*LeafNode) isNode()  {}

// Leaves returns the leaves in breadth-first order.
func (t *Tree) Leaves() []*LeafNode {
	var leaves []*LeafNode
	for _, n := range t.Nodes {
		if l, ok := n.(*LeafNode); ok {
			leaves = append(leaves, l)
		}
	}
	return leaves
}

// Depth is the number of edges on the longest root to leaf path.
func (t *Tree) Depth() int {
	var depth func(i int) int
	depth = func(i int) int {
		switch n := t.Nodes[i].(type) {
		case *InnerNode:
			return 1 + max(depth(n.True), depth(n.False))
		default:
			return 0
		}
	}
	if len(t.Nodes) == 0 {
		return 0
	}
	return depth(0)
}

// Describe renders the tree one node per line.
func (t *Tree) Describe() string {
	var sb strings.Builder
	var walk func(i, indent int, label string)
	walk = func(i, indent int, label string) {
		pad := strings.Repeat("  ", indent)
		switch n := t.Nodes[i].(type) {
		case *InnerNode:
			fmt.Fprintf(&sb, "%s%s%s (rows=%d, benefit=%d)\n", pad, label, n.Split, n.RowCount, n.Benefit)
			walk(n.True, indent+1, "T: ")
			walk(n.False, indent+1, "F: ")
		case *LeafNode:
			ranges := make([]string, len(n.Ranges))
			for j, r := range n.Ranges {
				ranges[j] = r.String()
			}
			fmt.Fprintf(&sb, "%s%sleaf rows=%d [%s]\n", pad, label, n.RowCount, strings.Join(ranges, "; "))
		}
	}
	if len(t.Nodes) > 0 {
		walk(0, 0, "")
	}
	return sb.String()
}

// Validate checks that the leaf masks are pairwise disjoint, cover every
// row, and agree with the leaf row counts.
func (t *Tree) Validate(engine colengine.Engine) error {
	union := mask.New(t.NumRows)
	for i, l := range t.Leaves() {
		if l.Mask == nil || l.Mask.Len() != t.NumRows {
			return fmt.Errorf("%w: leaf %d has no mask over %d rows", ErrIntegrity, i, t.NumRows)
		}
		if uint64(l.RowCount) != engine.Count(l.Mask) {
			return fmt.Errorf("%w: leaf %d counts %d rows, mask has %d", ErrIntegrity, i, l.RowCount, engine.Count(l.Mask))
		}
		overlap, err := engine.And(union, l.Mask)
		if err != nil {
			return err
		}
		if engine.Count(overlap) != 0 {
			return fmt.Errorf("%w: leaf %d overlaps an earlier leaf", ErrIntegrity, i)
		}
		if union, err = engine.Or(union, l.Mask); err != nil {
			return err
		}
	}
	if engine.Count(union) != t.NumRows {
		return fmt.Errorf("%w: %d of %d rows covered", ErrIntegrity, engine.Count(union), t.NumRows)
	}
	return nil
}
