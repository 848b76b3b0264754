package dataframe

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/danthegoodman1/sdcdb/mask"
	"github.com/danthegoodman1/sdcdb/metastore"
	"github.com/danthegoodman1/sdcdb/parquet_accumulator"
	"github.com/danthegoodman1/sdcdb/part"
	"github.com/danthegoodman1/sdcdb/predicate"
	"github.com/danthegoodman1/sdcdb/pruner"
	"github.com/danthegoodman1/sdcdb/table"
)

type (
	scanResult struct {
		table    *table.Table
		rowsRead int64
		// predMasks[i] covers every row read, only set when recording
		predMasks []*mask.Mask
	}

	blockResult struct {
		rows      *table.Table
		numRows   int64
		predMasks []*mask.Mask
	}
)

// loadBlock reads one block file keeping the named columns.
func (db *DB) loadBlock(ctx context.Context, snap metastore.Snapshot, b part.DataBlock, columns []string) (*table.Table, error) {
	pf, err := db.DataStore.ParquetFile(ctx, b.FilePath)
	if err != nil {
		return nil, fmt.Errorf("error opening block %s: %w", b.FilePath, err)
	}
	t, err := parquet_accumulator.DecodeTable(pf, snap.ColumnNames())
	if err != nil {
		return nil, fmt.Errorf("error decoding block %s: %w", b.FilePath, err)
	}
	if int64(t.NumRows()) != b.RowCount {
		return nil, fmt.Errorf("block %s holds %d rows, catalog says %d", b.FilePath, t.NumRows(), b.RowCount)
	}
	if columns == nil {
		return t, nil
	}
	return t.Select(columns)
}

// loadIndex reads every block of idx in order and concatenates them.
func (db *DB) loadIndex(ctx context.Context, snap metastore.Snapshot, idx part.Index, columns []string) (*table.Table, error) {
	tables := make([]*table.Table, len(idx.DataBlocks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(db.concurrency)
	for i, b := range idx.DataBlocks {
		g.Go(func() error {
			t, err := db.loadBlock(gctx, snap, b, columns)
			if err != nil {
				return err
			}
			tables[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return emptyTable(snap, columns)
	}
	return table.Concat(tables...)
}

// scan reads the planned blocks in parallel, filters each, and keeps the
// projected columns. Blocks admitted by their ranges skip evaluation unless
// masks are being recorded.
func (db *DB) scan(ctx context.Context, snap metastore.Snapshot, plan pruner.Plan, preds []predicate.Predicate, projections, required []string, recording bool) (*scanResult, error) {
	results := make([]blockResult, len(plan.Selected))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(db.concurrency)
	for i, b := range plan.Selected {
		admitted := plan.Admitted[i]
		g.Go(func() error {
			t, err := db.loadBlock(gctx, snap, b, required)
			if err != nil {
				return err
			}
			n := uint64(t.NumRows())
			keep := mask.Full(n)
			var predMasks []*mask.Mask
			if recording || !admitted {
				for _, p := range preds {
					m, err := db.Engine.Evaluate(t, p)
					if err != nil {
						return fmt.Errorf("error evaluating %s on block %s: %w", p, b.FilePath, err)
					}
					if keep, err = db.Engine.And(keep, m); err != nil {
						return err
					}
					if recording {
						predMasks = append(predMasks, m)
					}
				}
			}
			rows, err := db.Engine.Compact(t, keep, projections)
			if err != nil {
				return fmt.Errorf("error compacting block %s: %w", b.FilePath, err)
			}
			results[i] = blockResult{rows: rows, numRows: int64(n), predMasks: predMasks}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &scanResult{}
	tables := make([]*table.Table, 0, len(results))
	for _, r := range results {
		out.rowsRead += r.numRows
		tables = append(tables, r.rows)
	}
	var err error
	if len(tables) == 0 {
		out.table, err = emptyTable(snap, projections)
	} else {
		out.table, err = table.Concat(tables...)
	}
	if err != nil {
		return nil, err
	}
	if recording {
		// blocks are in row order, so joining their masks gives whole table masks
		for j := range preds {
			perBlock := make([]*mask.Mask, len(results))
			for i, r := range results {
				perBlock[i] = r.predMasks[j]
			}
			m, err := mask.Concat(perBlock...)
			if err != nil {
				return nil, fmt.Errorf("error joining block masks: %w", err)
			}
			out.predMasks = append(out.predMasks, m)
		}
	}
	zerolog.Ctx(ctx).Debug().Int("blocks", len(results)).Int64("rowsRead", out.rowsRead).Msg("scanned blocks")
	return out, nil
}

// emptyTable is a zero row table with the named columns, or every column
// when columns is nil.
func emptyTable(snap metastore.Snapshot, columns []string) (*table.Table, error) {
	if columns == nil {
		columns = snap.ColumnNames()
	}
	schema := make([]table.ColumnSchema, len(columns))
	for i, c := range columns {
		typ, err := snap.ColumnType(c)
		if err != nil {
			return nil, err
		}
		schema[i] = table.ColumnSchema{Name: c, DataType: typ}
	}
	return table.FromRows(schema, nil)
}
