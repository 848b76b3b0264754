package pruner

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danthegoodman1/sdcdb/part"
	"github.com/danthegoodman1/sdcdb/predicate"
	"github.com/danthegoodman1/sdcdb/table"
)

func amount(op predicate.Operator, operand string) predicate.Predicate {
	return predicate.Predicate{Column: "amount", Operator: op, Operand: operand, Type: table.Int}
}

func block(path string, ranges ...part.Range) part.DataBlock {
	return part.DataBlock{FilePath: path, Ranges: ranges, RowCount: 10}
}

func TestDecideBoundaries(t *testing.T) {
	// amount in (10, 20]
	b := block("b", part.Range{Column: "amount", Min: "10", Max: "20", MaxInclusive: true, Type: table.Int})
	tests := []struct {
		name string
		pred predicate.Predicate
		want Decision
	}{
		{"lt min", amount(predicate.LT, "10"), Reject},
		{"lte min", amount(predicate.LTE, "10"), Reject},
		{"lt just above min", amount(predicate.LT, "11"), Reject},
		{"lt inside", amount(predicate.LT, "12"), Maybe},
		{"gt min", amount(predicate.GT, "10"), Admit},
		{"gte min", amount(predicate.GTE, "10"), Admit},
		{"gt max", amount(predicate.GT, "20"), Reject},
		{"gte max", amount(predicate.GTE, "20"), Maybe},
		{"lte max", amount(predicate.LTE, "20"), Admit},
		{"eq inside", amount(predicate.EQ, "15"), Maybe},
		{"eq min", amount(predicate.EQ, "10"), Reject},
		{"eq max", amount(predicate.EQ, "20"), Maybe},
		{"neq outside", amount(predicate.NEQ, "30"), Admit},
		{"neq inside", amount(predicate.NEQ, "15"), Maybe},
		{"other column", predicate.Predicate{Column: "other", Operator: predicate.LT, Operand: "0", Type: table.Int}, Maybe},
		{"column operand", predicate.Predicate{Column: "amount", Operator: predicate.LT, Operand: "other", IsCol: true, Type: table.Int}, Maybe},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decide(b, tt.pred)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got, "%s on %s", tt.pred, b.Ranges[0])
		})
	}
}

func TestDecideNeqOnPoint(t *testing.T) {
	b := block("b", part.Range{Column: "amount", Min: "7", MinInclusive: true, Max: "7", MaxInclusive: true, Type: table.Int})
	got, err := Decide(b, amount(predicate.NEQ, "7"))
	require.NoError(t, err)
	assert.Equal(t, Reject, got)
}

func TestDecideDoubleRange(t *testing.T) {
	b := block("b", part.Range{Column: "price", Max: "1.5", Type: table.Double})
	got, err := Decide(b, predicate.Predicate{Column: "price", Operator: predicate.GTE, Operand: "1.5", Type: table.Double})
	require.NoError(t, err)
	assert.Equal(t, Reject, got)
	// no integer normalization for doubles, (1.4, 1.5) is not empty
	got, err = Decide(b, predicate.Predicate{Column: "price", Operator: predicate.GT, Operand: "1.4", Type: table.Double})
	require.NoError(t, err)
	assert.Equal(t, Maybe, got)
}

func TestPruneTreeLeaves(t *testing.T) {
	// leaves of a tree split on amount > 20 then amount < 5
	idx := part.Index{Kind: part.PredicateTree, DataBlocks: []part.DataBlock{
		block("high", part.Range{Column: "amount", Min: "20", Type: table.Int}),
		block("low", part.Range{Column: "amount", Max: "5", Type: table.Int}),
		block("mid", part.Range{Column: "amount", Min: "5", MinInclusive: true, Max: "20", MaxInclusive: true, Type: table.Int}),
	}}

	plan, err := PruneBlocks(idx, []predicate.Predicate{amount(predicate.GT, "20")})
	require.NoError(t, err)
	require.Len(t, plan.Selected, 1)
	assert.Equal(t, "high", plan.Selected[0].FilePath)
	assert.Equal(t, []bool{true}, plan.Admitted)
	assert.Equal(t, 3, plan.TotalBlocks)
	assert.Equal(t, 2, plan.Pruned)

	plan, err = PruneBlocks(idx, []predicate.Predicate{amount(predicate.LT, "5")})
	require.NoError(t, err)
	require.Len(t, plan.Selected, 1)
	assert.Equal(t, "low", plan.Selected[0].FilePath)

	// conjunction: every predicate must allow the block
	plan, err = PruneBlocks(idx, []predicate.Predicate{amount(predicate.GT, "2"), amount(predicate.LT, "10")})
	require.NoError(t, err)
	require.Len(t, plan.Selected, 2)
	assert.Equal(t, "low", plan.Selected[0].FilePath)
	assert.Equal(t, "mid", plan.Selected[1].FilePath)
	assert.Equal(t, []bool{false, false}, plan.Admitted)
}

func TestColumnPredicatesNeverPrune(t *testing.T) {
	idx := part.Index{DataBlocks: []part.DataBlock{
		block("a", part.Range{Column: "amount", Max: "0", Type: table.Int}),
		block("b"),
	}}
	plan, err := PruneBlocks(idx, []predicate.Predicate{{Column: "amount", Operator: predicate.GT, Operand: "other", IsCol: true, Type: table.Int}})
	require.NoError(t, err)
	assert.Len(t, plan.Selected, 2)
	assert.Equal(t, 0, plan.Pruned)
}

func TestSelectIndex(t *testing.T) {
	primary := part.Index{ID: "p", Kind: part.Primary, ColumnsCovered: []string{"a", "b", "c"}}
	tree := part.Index{ID: "t", Kind: part.PredicateTree, ColumnsCovered: []string{"a", "b"}}
	ranges := part.Index{ID: "r", Kind: part.RangePartition, ColumnsCovered: []string{"a"}}
	all := []part.Index{primary, ranges, tree}

	idx, err := SelectIndex(all, []string{"a", "b"}, Auto)
	require.NoError(t, err)
	assert.Equal(t, "t", idx.ID)

	idx, err = SelectIndex(all, []string{"a", "c"}, Auto)
	require.NoError(t, err)
	assert.Equal(t, "p", idx.ID)

	idx, err = SelectIndex([]part.Index{primary, ranges}, []string{"a"}, Auto)
	require.NoError(t, err)
	assert.Equal(t, "r", idx.ID)

	idx, err = SelectIndex(all, []string{"a"}, Primary)
	require.NoError(t, err)
	assert.Equal(t, "p", idx.ID)

	_, err = SelectIndex([]part.Index{primary}, []string{"a"}, PredicateTree)
	assert.True(t, errors.Is(err, ErrIndexNotFound))

	_, err = SelectIndex(all, []string{"c"}, RangePartition)
	assert.True(t, errors.Is(err, ErrIndexNotFound))

	_, err = SelectIndex(nil, []string{"a"}, Auto)
	assert.True(t, errors.Is(err, ErrIndexNotFound))
}

func TestRequiredColumns(t *testing.T) {
	preds := []predicate.Predicate{
		amount(predicate.LT, "3"),
		{Column: "x", Operator: predicate.EQ, Operand: "y", IsCol: true, Type: table.Int},
	}
	assert.Equal(t, []string{"b", "amount", "x", "y"}, RequiredColumns(preds, []string{"b", "amount"}))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, Auto, m)
	m, err = ParseMode("predicateTree")
	require.NoError(t, err)
	assert.Equal(t, PredicateTree, m)
	_, err = ParseMode("btree")
	assert.True(t, errors.Is(err, ErrUnknownMode))
}
