package metastore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danthegoodman1/sdcdb/part"
	"github.com/danthegoodman1/sdcdb/predicate"
	"github.com/danthegoodman1/sdcdb/table"
)

func gt(v string) predicate.Predicate {
	return predicate.Predicate{Column: "amount", Operator: predicate.GT, Operand: v, Type: table.Int}
}

func TestUpsertWorkloadIncrements(t *testing.T) {
	var snap Snapshot
	lt := predicate.Predicate{Column: "amount", Operator: predicate.LT, Operand: "5", Type: table.Int}

	snap.UpsertWorkload([]predicate.Predicate{gt("20"), lt}, []string{"amount"}, nil)
	we := snap.UpsertWorkload([]predicate.Predicate{lt, gt("20")}, []string{"amount"}, []string{"masks/t/a.bin"})
	require.Len(t, snap.Workload, 1)
	assert.Equal(t, int64(2), we.ExecutionCount)
	assert.Equal(t, []string{"masks/t/a.bin"}, snap.Workload[0].MaskRefs)

	snap.UpsertWorkload([]predicate.Predicate{gt("20")}, []string{"amount"}, nil)
	assert.Len(t, snap.Workload, 2)
	assert.Len(t, snap.WorkloadPredicates(), 2)
}

func TestReplaceIndex(t *testing.T) {
	var snap Snapshot
	assert.Nil(t, snap.ReplaceIndex(part.Index{ID: "p", Kind: part.Primary}))
	assert.Nil(t, snap.ReplaceIndex(part.Index{ID: "t1", Kind: part.PredicateTree}))
	prev := snap.ReplaceIndex(part.Index{ID: "t2", Kind: part.PredicateTree})
	require.NotNil(t, prev)
	assert.Equal(t, "t1", prev.ID)
	idx, ok := snap.IndexOfKind(part.PredicateTree)
	require.True(t, ok)
	assert.Equal(t, "t2", idx.ID)

	removed := snap.RemoveIndex(part.PredicateTree)
	require.NotNil(t, removed)
	_, ok = snap.IndexOfKind(part.PredicateTree)
	assert.False(t, ok)
	_, ok = snap.PrimaryIndex()
	assert.True(t, ok)
}

func TestRetype(t *testing.T) {
	snap := Snapshot{Columns: []table.ColumnSchema{{Name: "amount", DataType: table.Double}}}
	p, err := snap.Retype(gt("20"))
	require.NoError(t, err)
	assert.Equal(t, table.Double, p.Type)

	_, err = snap.Retype(predicate.Predicate{Column: "gone", Operator: predicate.LT, Operand: "1"})
	assert.True(t, errors.Is(err, table.ErrColumnNotFound))
}

func TestPredicateMaskUpsert(t *testing.T) {
	var snap Snapshot
	snap.UpsertPredicateMask(PredicateMask{Predicate: gt("20"), MaskRef: "a", TrueCount: 1})
	p := gt("20")
	p.Type = table.Double
	snap.UpsertPredicateMask(PredicateMask{Predicate: p, MaskRef: "b", TrueCount: 2})
	require.Len(t, snap.PredicateMasks, 1)
	pm, ok := snap.FindPredicateMask(gt("20"))
	require.True(t, ok)
	assert.Equal(t, "b", pm.MaskRef)
}

func TestFileMetaStore(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	fms, err := NewFileMetaStore(root)
	require.NoError(t, err)

	_, err = fms.Load(ctx, "sales")
	assert.True(t, errors.Is(err, ErrTableNotFound))

	snap := Snapshot{Name: "sales", NumRows: 3, Columns: []table.ColumnSchema{{Name: "amount", DataType: table.Int}}}
	require.NoError(t, fms.Commit(ctx, "sales", &snap))
	assert.Equal(t, int64(1), snap.Version)
	assert.Equal(t, "sales", snap.TableID)

	loaded, err := fms.Load(ctx, "sales")
	require.NoError(t, err)
	assert.Equal(t, int64(3), loaded.NumRows)
	assert.Equal(t, int64(1), loaded.Version)

	// a stale snapshot is refused and leaves the stored one alone
	stale := loaded
	loaded.NumRows = 4
	require.NoError(t, fms.Commit(ctx, "sales", &loaded))
	stale.NumRows = 99
	err = fms.Commit(ctx, "sales", &stale)
	assert.True(t, errors.Is(err, ErrConcurrentCommit))
	current, err := fms.Load(ctx, "sales")
	require.NoError(t, err)
	assert.Equal(t, int64(4), current.NumRows)
	assert.Equal(t, int64(2), current.Version)

	// no temp files left behind
	entries, err := os.ReadDir(filepath.Join(root, "metadata"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	tables, err := fms.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sales"}, tables)

	err = fms.Commit(ctx, "../escape", &Snapshot{})
	assert.True(t, errors.Is(err, ErrInvalidTableID))
}

func TestCRDBLoad(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cms := NewCRDBMetaStore(db)
	mock.ExpectQuery("SELECT doc, version FROM table_metadata").
		WithArgs("sales").
		WillReturnRows(sqlmock.NewRows([]string{"doc", "version"}).
			AddRow([]byte(`{"tableId":"sales","num_rows":300000,"columns":[{"name":"amount","dataType":"int"}]}`), 7))

	snap, err := cms.Load(context.Background(), "sales")
	require.NoError(t, err)
	assert.Equal(t, int64(300000), snap.NumRows)
	assert.Equal(t, int64(7), snap.Version)
	assert.Equal(t, table.Int, snap.Columns[0].DataType)

	mock.ExpectQuery("SELECT doc, version FROM table_metadata").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"doc", "version"}))
	_, err = cms.Load(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrTableNotFound))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCRDBListTables(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT table_id FROM table_metadata").
		WillReturnRows(sqlmock.NewRows([]string{"table_id"}).AddRow("a").AddRow("b"))
	tables, err := NewCRDBMetaStore(db).ListTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tables)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisRejectsBadTableID(t *testing.T) {
	ctx := context.Background()
	// nothing listens here, so any request reaching redis would fail differently
	rms, err := NewRedisMetaStore(ctx, "127.0.0.1:1", "", false)
	require.NoError(t, err)
	defer rms.Shutdown(ctx)

	_, err = rms.Load(ctx, "bad.id")
	assert.True(t, errors.Is(err, ErrInvalidTableID))
	err = rms.Commit(ctx, "../escape", &Snapshot{})
	assert.True(t, errors.Is(err, ErrInvalidTableID))
}
