package dataframe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/danthegoodman1/sdcdb/gologger"
	"github.com/danthegoodman1/sdcdb/mask"
	"github.com/danthegoodman1/sdcdb/metastore"
	"github.com/danthegoodman1/sdcdb/metrics"
	"github.com/danthegoodman1/sdcdb/parquet_accumulator"
	"github.com/danthegoodman1/sdcdb/part"
	"github.com/danthegoodman1/sdcdb/table"
)

var ErrNoRows = errors.New("no rows")

type IngestStats struct {
	NumRows        int64
	NumBlocks      int64
	Columns        []table.ColumnSchema
	DroppedQueries int
	RetiredIndexes int
	TimeMS         int64
}

// Ingest replaces the content of the table with rows, creating the table if
// needed. Nested objects are flattened into columns. Recorded queries whose
// columns all survive are kept, their masks are dropped along with every
// secondary index, since both describe the old rows.
func (df *Dataframe) Ingest(ctx context.Context, rows []map[string]any) (*IngestStats, error) {
	s := time.Now()
	if err := metastore.ValidateTableID(df.tableID); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	if err := mask.CheckRows(uint64(len(rows))); err != nil {
		return nil, err
	}
	ctx = gologger.WithTable(ctx, df.tableID)
	db := df.db

	acc := parquet_accumulator.NewParquetAccumulator()
	flatRows := make([]map[string]any, len(rows))
	for i, row := range rows {
		flat, err := parquet_accumulator.FlattenRow(row)
		if err != nil {
			return nil, fmt.Errorf("error in row %d: %w", i, err)
		}
		if err = acc.WriteRow(flat); err != nil {
			return nil, fmt.Errorf("error in row %d: %w", i, err)
		}
		flatRows[i] = flat
	}
	data, err := table.FromRows(acc.Schema(), flatRows)
	if err != nil {
		return nil, fmt.Errorf("error building table: %w", err)
	}

	snap, err := db.MetaStore.Load(ctx, df.tableID)
	if errors.Is(err, metastore.ErrTableNotFound) {
		snap = metastore.Snapshot{TableID: df.tableID, Name: df.tableID}
	} else if err != nil {
		return nil, fmt.Errorf("error loading table %s: %w", df.tableID, err)
	}

	primary, err := db.mat.WritePrimary(ctx, df.tableID, data)
	if err != nil {
		return nil, fmt.Errorf("error writing primary index: %w", err)
	}

	snap.Columns = data.Schema()
	snap.NumRows = int64(data.NumRows())
	var retired []part.Index
	if prev := snap.ReplaceIndex(primary); prev != nil {
		retired = append(retired, *prev)
	}
	for _, kind := range []part.IndexKind{part.PredicateTree, part.RangePartition} {
		if prev := snap.RemoveIndex(kind); prev != nil {
			retired = append(retired, *prev)
		}
	}
	dropped := keepValidWorkload(&snap)
	staleMasks := len(snap.PredicateMasks) > 0
	snap.PredicateMasks = nil

	if err = db.MetaStore.Commit(ctx, df.tableID, &snap); err != nil {
		if rerr := db.mat.Retire(context.WithoutCancel(ctx), primary); rerr != nil {
			logger.Error().Err(rerr).Str("indexID", primary.ID).Msg("error removing uncommitted primary index")
		}
		return nil, fmt.Errorf("error committing table: %w", err)
	}

	for _, idx := range retired {
		if err = db.mat.Retire(ctx, idx); err != nil {
			return nil, fmt.Errorf("error retiring %s index %s: %w", idx.Kind, idx.ID, err)
		}
	}
	if staleMasks {
		if err = db.masks.Purge(ctx, &snap); err != nil {
			return nil, fmt.Errorf("error removing stale masks: %w", err)
		}
	}

	metrics.RowsIngested.Add(float64(data.NumRows()))
	stats := &IngestStats{
		NumRows:        snap.NumRows,
		NumBlocks:      int64(len(primary.DataBlocks)),
		Columns:        snap.Columns,
		DroppedQueries: dropped,
		RetiredIndexes: len(retired),
		TimeMS:         time.Since(s).Milliseconds(),
	}
	zerolog.Ctx(ctx).Info().Int64("rows", stats.NumRows).Int64("blocks", stats.NumBlocks).Int("droppedQueries", dropped).Msg("ingested rows")
	return stats, nil
}

// keepValidWorkload drops the workload entries that reference a column the
// snapshot no longer has and forgets every mask reference. It returns the
// number of entries dropped.
func keepValidWorkload(snap *metastore.Snapshot) int {
	kept := snap.Workload[:0]
	dropped := 0
entries:
	for _, we := range snap.Workload {
		for _, p := range we.Predicates {
			typed, err := snap.Retype(p)
			if err == nil {
				err = typed.Validate()
			}
			if err != nil {
				dropped++
				continue entries
			}
		}
		for _, c := range we.Projections {
			if _, err := snap.ColumnType(c); err != nil {
				dropped++
				continue entries
			}
		}
		we.MaskRefs = nil
		kept = append(kept, we)
	}
	snap.Workload = kept
	return dropped
}
