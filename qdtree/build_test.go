package qdtree

import (
	"context"
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danthegoodman1/sdcdb/colengine"
	"github.com/danthegoodman1/sdcdb/metastore"
	"github.com/danthegoodman1/sdcdb/part"
	"github.com/danthegoodman1/sdcdb/predicate"
	"github.com/danthegoodman1/sdcdb/table"
)

func amount(op predicate.Operator, v int) predicate.Predicate {
	return predicate.Predicate{Column: "amount", Operator: op, Operand: strconv.Itoa(v), Type: table.Int}
}

func withMasks(t *testing.T, tbl *table.Table, preds ...predicate.Predicate) []predicate.WithMask {
	e := colengine.New()
	out := make([]predicate.WithMask, len(preds))
	for i, p := range preds {
		m, err := e.Evaluate(tbl, p)
		require.NoError(t, err)
		out[i] = predicate.WithMask{Predicate: p, Mask: m}
	}
	return out
}

func workload(preds ...predicate.Predicate) []metastore.WorkloadEntry {
	out := make([]metastore.WorkloadEntry, len(preds))
	for i, p := range preds {
		out[i] = metastore.WorkloadEntry{
			QueryID:        predicate.QueryID([]predicate.Predicate{p}, []string{"amount"}),
			ExecutionCount: 1,
			Predicates:     []predicate.Predicate{p},
			Projections:    []string{"amount"},
		}
	}
	return out
}

func meta(tbl *table.Table, wl []metastore.WorkloadEntry) TableMeta {
	return TableMeta{Columns: tbl.Schema(), NumRows: uint64(tbl.NumRows()), Workload: wl}
}

// 30k rows below 5, 170k rows in [5, 20], 100k rows above 20
func scenarioTable(t *testing.T) *table.Table {
	vals := make([]int64, 300_000)
	for i := range vals {
		switch {
		case i < 30_000:
			vals[i] = int64(i % 5)
		case i < 200_000:
			vals[i] = 5 + int64(i%16)
		default:
			vals[i] = 21 + int64(i%100)
		}
	}
	tbl, err := table.New(table.NewIntColumn("amount", vals))
	require.NoError(t, err)
	return tbl
}

// every row of every leaf satisfies every range declared on the leaf
func checkRanges(t *testing.T, tbl *table.Table, tree *Tree) {
	for li, l := range tree.Leaves() {
		for _, r := range l.Ranges {
			col, err := tbl.Column(r.Column)
			require.NoError(t, err)
			for _, row := range l.Mask.Indices() {
				v := col.Ints[row]
				ok, err := r.Admits(predicate.Value{Type: table.Int, I: v, F: float64(v)})
				require.NoError(t, err)
				require.True(t, ok, "leaf %d range %s holds %d", li, r, v)
			}
		}
	}
}

func TestScenario(t *testing.T) {
	tbl := scenarioTable(t)
	gt20, lt5 := amount(predicate.GT, 20), amount(predicate.LT, 5)
	preds := withMasks(t, tbl, gt20, lt5)
	require.Equal(t, uint64(100_000), preds[0].Mask.TrueCount())
	require.Equal(t, uint64(30_000), preds[1].Mask.TrueCount())

	tree, err := Build(context.Background(), colengine.New(), preds, []string{"amount"}, meta(tbl, workload(gt20, lt5)), 50_000)
	require.NoError(t, err)

	root, ok := tree.Nodes[0].(*InnerNode)
	require.True(t, ok, "root should split")
	assert.True(t, root.Split.Equal(gt20))
	// >20 keeps the 200k others out of its own query and the 100k high rows out of <5
	assert.Equal(t, int64(300_000), root.Benefit)
	assert.Equal(t, -1, root.Parent)

	leaves := tree.Leaves()
	require.Len(t, leaves, 2)
	assert.Equal(t, int64(100_000), leaves[0].RowCount)
	assert.Equal(t, int64(200_000), leaves[1].RowCount)
	assert.Equal(t, []part.Range{{Column: "amount", Min: "20", Type: table.Int}}, leaves[0].Ranges)
	assert.Equal(t, []part.Range{{Column: "amount", Max: "20", MaxInclusive: true, Type: table.Int}}, leaves[1].Ranges)
	assert.Equal(t, 0, leaves[0].Parent)
	assert.Equal(t, 1, tree.Depth())
	assert.Equal(t, []predicate.Predicate{gt20}, tree.Splits)
	checkRanges(t, tbl, tree)
}

func TestLeafWhenTooSmall(t *testing.T) {
	tbl := scenarioTable(t)
	gt20 := amount(predicate.GT, 20)
	tree, err := Build(context.Background(), colengine.New(), withMasks(t, tbl, gt20), nil, meta(tbl, workload(gt20)), 150_001)
	require.NoError(t, err)
	require.Len(t, tree.Nodes, 1)
	leaf, ok := tree.Nodes[0].(*LeafNode)
	require.True(t, ok)
	assert.Equal(t, int64(300_000), leaf.RowCount)
	assert.Empty(t, leaf.Ranges)
}

func TestNoBenefitMeansLeaf(t *testing.T) {
	tbl := scenarioTable(t)
	// the candidate exists but nothing in the workload touches its column
	tbl2, err := table.New(tbl.Columns[0], table.NewIntColumn("other", make([]int64, tbl.NumRows())))
	require.NoError(t, err)
	tree, err := Build(context.Background(), colengine.New(), withMasks(t, tbl2, amount(predicate.GT, 20)), nil,
		meta(tbl2, workload(predicate.Predicate{Column: "other", Operator: predicate.EQ, Operand: "0", Type: table.Int})), 1000)
	require.NoError(t, err)
	assert.Len(t, tree.Leaves(), 1)
}

func TestTieKeepsFirst(t *testing.T) {
	vals := make([]int64, 100)
	for i := range vals {
		vals[i] = int64(i)
	}
	tbl, err := table.New(table.NewIntColumn("amount", vals))
	require.NoError(t, err)
	// both split the rows 50/50 with the same benefit
	a, b := amount(predicate.LT, 50), amount(predicate.GTE, 50)
	tree, err := Build(context.Background(), colengine.New(), withMasks(t, tbl, a, b), nil, meta(tbl, workload(a, b)), 10)
	require.NoError(t, err)
	root := tree.Nodes[0].(*InnerNode)
	assert.True(t, root.Split.Equal(a))
	// the complement is redundant below the root
	assert.Len(t, tree.Leaves(), 2)
}

func TestWeightedByExecutionCount(t *testing.T) {
	vals := make([]int64, 1000)
	for i := range vals {
		vals[i] = int64(i)
	}
	tbl, err := table.New(table.NewIntColumn("amount", vals))
	require.NoError(t, err)
	lo, hi := amount(predicate.LT, 300), amount(predicate.GT, 700)
	wl := workload(lo, hi)
	wl[1].ExecutionCount = 10
	tree, err := Build(context.Background(), colengine.New(), withMasks(t, tbl, lo, hi), nil, meta(tbl, wl), 250)
	require.NoError(t, err)
	root := tree.Nodes[0].(*InnerNode)
	assert.True(t, root.Split.Equal(hi))
}

func TestRandomTotalityAndSoundness(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	ops := []predicate.Operator{predicate.LT, predicate.LTE, predicate.GT, predicate.GTE, predicate.EQ, predicate.NEQ}
	vals := make([]int64, 2000)
	for i := range vals {
		vals[i] = int64(r.Intn(200))
	}
	other := make([]int64, len(vals))
	for i := range other {
		other[i] = int64(r.Intn(200))
	}
	tbl, err := table.New(table.NewIntColumn("amount", vals), table.NewIntColumn("other", other))
	require.NoError(t, err)

	for round := 0; round < 20; round++ {
		var preds []predicate.Predicate
		for i := 0; i < 2+r.Intn(8); i++ {
			preds = append(preds, amount(ops[r.Intn(len(ops))], r.Intn(220)-10))
		}
		preds = append(preds, predicate.Predicate{Column: "amount", Operator: ops[r.Intn(len(ops))], Operand: "other", IsCol: true, Type: table.Int})
		preds = predicate.Dedupe(preds)
		tree, err := Build(context.Background(), colengine.New(), withMasks(t, tbl, preds...), nil, meta(tbl, workload(preds...)), int64(20+r.Intn(200)))
		require.NoError(t, err, "round %d", round)
		require.NoError(t, tree.Validate(colengine.New()))
		checkRanges(t, tbl, tree)
		for _, l := range tree.Leaves() {
			if l.Parent >= 0 {
				_, ok := tree.Nodes[l.Parent].(*InnerNode)
				require.True(t, ok)
			}
		}
	}
}

func TestDescribe(t *testing.T) {
	tbl := scenarioTable(t)
	gt20 := amount(predicate.GT, 20)
	tree, err := Build(context.Background(), colengine.New(), withMasks(t, tbl, gt20), nil, meta(tbl, workload(gt20)), 50_000)
	require.NoError(t, err)
	assert.Equal(t, "amount > 20 (rows=300000, benefit=200000)\n  T: leaf rows=100000 [amount in (20, +inf)]\n  F: leaf rows=200000 [amount in (-inf, 20]]\n", tree.Describe())
}
