package maskcache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danthegoodman1/sdcdb/colengine"
	"github.com/danthegoodman1/sdcdb/datastore"
	"github.com/danthegoodman1/sdcdb/mask"
	"github.com/danthegoodman1/sdcdb/metastore"
	"github.com/danthegoodman1/sdcdb/predicate"
	"github.com/danthegoodman1/sdcdb/table"
)

func setup(t *testing.T) (*Cache, *metastore.Snapshot, *table.Table) {
	store, err := datastore.NewDiskDataStore(t.TempDir())
	require.NoError(t, err)
	vals := make([]int64, 21)
	for i := range vals {
		vals[i] = int64(i)
	}
	tbl, err := table.New(table.NewIntColumn("amount", vals))
	require.NoError(t, err)
	snap := &metastore.Snapshot{
		TableID: "sales",
		NumRows: int64(tbl.NumRows()),
		Columns: tbl.Schema(),
	}
	return New(store, colengine.New()), snap, tbl
}

func amount(op predicate.Operator, v string, typ table.DataType) predicate.Predicate {
	return predicate.Predicate{Column: "amount", Operator: op, Operand: v, Type: typ}
}

func TestRecordAndLoad(t *testing.T) {
	ctx := context.Background()
	c, snap, tbl := setup(t)
	p := amount(predicate.GT, "15", table.Int)
	m, err := colengine.New().Evaluate(tbl, p)
	require.NoError(t, err)

	ref, err := c.RecordPredicateExecution(ctx, snap, p, m)
	require.NoError(t, err)
	assert.Equal(t, MaskKey("sales", p), ref)
	require.Len(t, snap.PredicateMasks, 1)
	assert.Equal(t, int64(5), snap.PredicateMasks[0].TrueCount)
	assert.Equal(t, int64(16), snap.PredicateMasks[0].FalseCount)

	// recorded with a stale type, replayed with the live one
	stale := p
	stale.Type = table.Double
	snap.UpsertWorkload([]predicate.Predicate{stale}, []string{"amount"}, []string{ref})

	loaded, missing, err := c.LoadWorkloadMasks(ctx, *snap)
	require.NoError(t, err)
	assert.Empty(t, missing)
	require.Len(t, loaded, 1)
	assert.Equal(t, table.Int, loaded[0].Type)
	assert.True(t, loaded[0].Mask.Equal(m))
}

func TestRecordRejectsPartialMask(t *testing.T) {
	c, snap, _ := setup(t)
	_, err := c.RecordPredicateExecution(context.Background(), snap, amount(predicate.GT, "1", table.Int), mask.New(3))
	assert.True(t, errors.Is(err, mask.ErrLengthMismatch))
}

func TestFillEvaluatesMissing(t *testing.T) {
	ctx := context.Background()
	c, snap, tbl := setup(t)
	snap.UpsertWorkload([]predicate.Predicate{amount(predicate.LT, "5", table.Int), amount(predicate.GT, "15", table.Int)}, []string{"amount"}, nil)

	_, missing, err := c.LoadWorkloadMasks(ctx, *snap)
	require.NoError(t, err)
	assert.Len(t, missing, 2)

	all, recorded, err := c.Fill(ctx, snap, tbl)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, predicate.LT, all[0].Operator)
	assert.Equal(t, uint64(5), all[0].Mask.TrueCount())
	assert.Len(t, snap.PredicateMasks, 2)
	assert.Len(t, recorded, 2)

	_, missing, err = c.LoadWorkloadMasks(ctx, *snap)
	require.NoError(t, err)
	assert.Empty(t, missing)

	// nothing left to evaluate, nothing written
	_, recorded, err = c.Fill(ctx, snap, tbl)
	require.NoError(t, err)
	assert.Empty(t, recorded)

	require.NoError(t, c.Purge(ctx, snap))
	assert.Empty(t, snap.PredicateMasks)
	_, missing, err = c.LoadWorkloadMasks(ctx, *snap)
	require.NoError(t, err)
	assert.Len(t, missing, 2)
}

func TestDiscardRecordedMasks(t *testing.T) {
	ctx := context.Background()
	c, snap, tbl := setup(t)
	snap.UpsertWorkload([]predicate.Predicate{amount(predicate.LT, "5", table.Int)}, []string{"amount"}, nil)
	_, recorded, err := c.Fill(ctx, snap, tbl)
	require.NoError(t, err)
	require.Len(t, recorded, 1)

	c.Discard(ctx, recorded)
	keys, err := c.store.List(ctx, MaskPrefix(snap.TableID))
	require.NoError(t, err)
	assert.Empty(t, keys)
	_, missing, err := c.LoadWorkloadMasks(ctx, *snap)
	require.NoError(t, err)
	assert.Len(t, missing, 1)
}

func TestLoadVanishedColumn(t *testing.T) {
	c, snap, _ := setup(t)
	snap.UpsertWorkload([]predicate.Predicate{{Column: "gone", Operator: predicate.LT, Operand: "1"}}, nil, nil)
	_, _, err := c.LoadWorkloadMasks(context.Background(), *snap)
	assert.True(t, errors.Is(err, table.ErrColumnNotFound))
}
