// Package dataframe is the query front end of a table: filters and
// projections are collected, read from the best index, and recorded in the
// table's workload so later optimize passes can learn from them.
package dataframe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/danthegoodman1/sdcdb/colengine"
	"github.com/danthegoodman1/sdcdb/datastore"
	"github.com/danthegoodman1/sdcdb/gologger"
	"github.com/danthegoodman1/sdcdb/maskcache"
	"github.com/danthegoodman1/sdcdb/materializer"
	"github.com/danthegoodman1/sdcdb/metastore"
	"github.com/danthegoodman1/sdcdb/metrics"
	"github.com/danthegoodman1/sdcdb/part"
	"github.com/danthegoodman1/sdcdb/predicate"
	"github.com/danthegoodman1/sdcdb/pruner"
	"github.com/danthegoodman1/sdcdb/table"
	"github.com/danthegoodman1/sdcdb/utils"
)

var (
	logger = gologger.NewLogger()

	ErrNoPrimaryIndex = errors.New("table has no primary index")
)

type (
	Config struct {
		// LoadConcurrency bounds parallel block reads and writes
		LoadConcurrency int
	}

	// DB binds the stores every dataframe of every table works against.
	DB struct {
		MetaStore metastore.MetaStore
		DataStore datastore.DataStore
		Engine    colengine.Engine

		masks       *maskcache.Cache
		mat         *materializer.Materializer
		concurrency int
	}

	// Dataframe accumulates a query against one table. Filter and Projection
	// only record, nothing is read until Collect or Head.
	Dataframe struct {
		db          *DB
		tableID     string
		preds       []predicate.Predicate
		projections []string
		mode        pruner.Mode
		err         error
	}

	Result struct {
		Table       *table.Table
		QueryID     string
		IndexKind   part.IndexKind
		IndexID     string
		TotalBlocks int
		// ScannedBlocks were read, PrunedBlocks were skipped from their ranges
		ScannedBlocks int
		PrunedBlocks  int
		RowsRead      int64
		TimeMS        int64
	}
)

func NewDB(ms metastore.MetaStore, ds datastore.DataStore, engine colengine.Engine, cfg Config) *DB {
	if cfg.LoadConcurrency < 1 {
		cfg.LoadConcurrency = 1
	}
	return &DB{
		MetaStore:   ms,
		DataStore:   ds,
		Engine:      engine,
		masks:       maskcache.New(ds, engine),
		mat:         materializer.New(ds, engine, cfg.LoadConcurrency),
		concurrency: cfg.LoadConcurrency,
	}
}

// Table starts a query against tableID that reads from the index chosen in
// auto mode.
func (db *DB) Table(tableID string) *Dataframe {
	return &Dataframe{db: db, tableID: tableID, mode: pruner.Auto}
}

// Indexes returns the index catalog of tableID.
func (db *DB) Indexes(ctx context.Context, tableID string) ([]part.Index, error) {
	snap, err := db.MetaStore.Load(ctx, tableID)
	if err != nil {
		return nil, fmt.Errorf("error loading table %s: %w", tableID, err)
	}
	return snap.Indexes, nil
}

// VerifyIndexes reads back the document of every index in the catalog of
// tableID and reports the first one missing or out of step with the catalog.
func (db *DB) VerifyIndexes(ctx context.Context, tableID string) error {
	indexes, err := db.Indexes(ctx, tableID)
	if err != nil {
		return err
	}
	ctx = gologger.WithTable(ctx, tableID)
	for _, idx := range indexes {
		if err = db.mat.Verify(ctx, idx); err != nil {
			return fmt.Errorf("error verifying %s index %s: %w", idx.Kind, idx.ID, err)
		}
	}
	zerolog.Ctx(ctx).Debug().Int("indexes", len(indexes)).Msg("verified index documents")
	return nil
}

// Shutdown releases the metastore and datastore.
func (db *DB) Shutdown(ctx context.Context) error {
	return errors.Join(db.MetaStore.Shutdown(ctx), db.DataStore.Shutdown(ctx))
}

// Filter keeps only rows where column compares to operand with op. When isCol
// is set, operand names another column of the same row. Invalid filters are
// reported by Collect.
func (df *Dataframe) Filter(column, op, operand string, isCol bool) *Dataframe {
	if df.err != nil {
		return df
	}
	o, err := predicate.ParseOperator(op)
	if err != nil {
		df.err = fmt.Errorf("error in filter on %s: %w", column, err)
		return df
	}
	df.preds = append(df.preds, predicate.Predicate{
		Column:   strings.TrimSpace(column),
		Operator: o,
		Operand:  strings.TrimSpace(operand),
		IsCol:    isCol,
	})
	return df
}

// Projection adds columns to the output. With no projection every column is
// returned.
func (df *Dataframe) Projection(columns ...string) *Dataframe {
	df.projections = append(df.projections, columns...)
	return df
}

// ChooseIndex forces the kind of index the query reads from.
func (df *Dataframe) ChooseIndex(mode pruner.Mode) *Dataframe {
	df.mode = mode
	return df
}

// Head collects the query and keeps its first n rows.
func (df *Dataframe) Head(ctx context.Context, n int) (*Result, error) {
	res, err := df.Collect(ctx)
	if err != nil {
		return nil, err
	}
	res.Table = res.Table.Slice(n)
	return res, nil
}

// resolve types the filters from the live schema and fills in the default
// projection.
func (df *Dataframe) resolve(snap metastore.Snapshot) ([]predicate.Predicate, []string, error) {
	preds := make([]predicate.Predicate, 0, len(df.preds))
	for _, p := range df.preds {
		p, err := snap.Retype(p)
		if err != nil {
			return nil, nil, fmt.Errorf("error in filter %s: %w", p, err)
		}
		if err = p.Validate(); err != nil {
			return nil, nil, fmt.Errorf("error in filter %s: %w", p, err)
		}
		preds = append(preds, p)
	}

	projections := utils.UniqueStrings(df.projections)
	if len(projections) == 0 {
		projections = snap.ColumnNames()
	}
	for _, c := range projections {
		if _, err := snap.ColumnType(c); err != nil {
			return nil, nil, fmt.Errorf("error in projection: %w", err)
		}
	}
	return predicate.Dedupe(preds), projections, nil
}

// Collect runs the query. Reads from the primary index also record every
// filter's mask over the whole table. The query is added to the table's
// workload and the snapshot committed before returning.
func (df *Dataframe) Collect(ctx context.Context) (*Result, error) {
	if df.err != nil {
		return nil, df.err
	}
	s := time.Now()
	ctx = gologger.WithTable(ctx, df.tableID)

	snap, err := df.db.MetaStore.Load(ctx, df.tableID)
	if err != nil {
		return nil, fmt.Errorf("error loading table %s: %w", df.tableID, err)
	}
	if _, ok := snap.PrimaryIndex(); !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPrimaryIndex, df.tableID)
	}
	preds, projections, err := df.resolve(snap)
	if err != nil {
		return nil, err
	}
	queryID := predicate.QueryID(preds, projections)
	l := zerolog.Ctx(ctx).With().Str(gologger.QueryIDField, queryID).Logger()
	ctx = l.WithContext(ctx)
	logger := zerolog.Ctx(ctx)

	required := pruner.RequiredColumns(preds, projections)
	idx, err := pruner.SelectIndex(snap.Indexes, required, df.mode)
	if err != nil {
		return nil, err
	}
	plan, err := pruner.PruneBlocks(idx, preds)
	if err != nil {
		return nil, err
	}
	recording := idx.Kind == part.Primary && len(preds) > 0
	logger.Debug().Str(gologger.IndexKindField, string(idx.Kind)).Int("blocks", plan.TotalBlocks).Int("pruned", plan.Pruned).Msg("planned query")

	scanned, err := df.db.scan(ctx, snap, plan, preds, projections, required, recording)
	if err != nil {
		return nil, err
	}

	var refs []string
	if recording {
		if scanned.rowsRead != snap.NumRows {
			return nil, fmt.Errorf("error recording masks: primary index holds %d rows, table has %d", scanned.rowsRead, snap.NumRows)
		}
		for i, p := range preds {
			ref, err := df.db.masks.RecordPredicateExecution(ctx, &snap, p, scanned.predMasks[i])
			if err != nil {
				return nil, fmt.Errorf("error recording mask of %s: %w", p, err)
			}
			refs = append(refs, ref)
		}
	}
	we := snap.UpsertWorkload(preds, projections, refs)
	if err = df.db.MetaStore.Commit(ctx, df.tableID, &snap); err != nil {
		return nil, fmt.Errorf("error committing workload: %w", err)
	}

	kind := string(idx.Kind)
	metrics.QueriesTotal.WithLabelValues(kind).Inc()
	metrics.BlocksScanned.WithLabelValues(kind).Add(float64(len(plan.Selected)))
	metrics.BlocksPruned.WithLabelValues(kind).Add(float64(plan.Pruned))
	metrics.RowsRead.WithLabelValues(kind).Add(float64(scanned.rowsRead))
	metrics.QueryDuration.WithLabelValues(kind).Observe(time.Since(s).Seconds())

	res := &Result{
		Table:         scanned.table,
		QueryID:       queryID,
		IndexKind:     idx.Kind,
		IndexID:       idx.ID,
		TotalBlocks:   plan.TotalBlocks,
		ScannedBlocks: len(plan.Selected),
		PrunedBlocks:  plan.Pruned,
		RowsRead:      scanned.rowsRead,
		TimeMS:        time.Since(s).Milliseconds(),
	}
	logger.Debug().Int64("executionCount", we.ExecutionCount).Int("rows", res.Table.NumRows()).Int64("rowsRead", res.RowsRead).Msg("collected query")
	return res, nil
}
