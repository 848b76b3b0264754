package dataframe

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/danthegoodman1/sdcdb/gologger"
	"github.com/danthegoodman1/sdcdb/materializer"
	"github.com/danthegoodman1/sdcdb/metrics"
	"github.com/danthegoodman1/sdcdb/part"
	"github.com/danthegoodman1/sdcdb/partitioner"
	"github.com/danthegoodman1/sdcdb/predicate"
	"github.com/danthegoodman1/sdcdb/pruner"
	"github.com/danthegoodman1/sdcdb/qdtree"
)

type OptimizeStats struct {
	PredicateTreeID    string
	TreeLeaves         int
	TreeDepth          int
	TreeBlocks         int
	TreeDescription    string
	RangePartitionID   string `json:",omitempty"`
	Partitions         int    `json:",omitempty"`
	PartitionBlocks    int    `json:",omitempty"`
	WorkloadPredicates int
	RetiredIndexes     int
	TimeMS             int64
}

// Optimize rebuilds the secondary indexes of the table from its recorded
// workload: a predicate tree always, and range partitions on
// partitionColumn when it is set. The new indexes are fully written before
// the catalog switches to them, and the indexes they replace are deleted
// only after that commit.
func (df *Dataframe) Optimize(ctx context.Context, partitionColumn string, minLeafSize int64) (*OptimizeStats, error) {
	s := time.Now()
	ctx = gologger.WithTable(ctx, df.tableID)
	logger := zerolog.Ctx(ctx)
	db := df.db

	snap, err := db.MetaStore.Load(ctx, df.tableID)
	if err != nil {
		return nil, fmt.Errorf("error loading table %s: %w", df.tableID, err)
	}
	primary, ok := snap.PrimaryIndex()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPrimaryIndex, df.tableID)
	}
	if partitionColumn != "" {
		if _, err = snap.ColumnType(partitionColumn); err != nil {
			return nil, fmt.Errorf("error in partition column: %w", err)
		}
	}

	data, err := db.loadIndex(ctx, snap, primary, nil)
	if err != nil {
		return nil, fmt.Errorf("error loading primary index: %w", err)
	}
	if int64(data.NumRows()) != snap.NumRows {
		return nil, fmt.Errorf("primary index holds %d rows, table has %d", data.NumRows(), snap.NumRows)
	}
	preds, recorded, err := db.masks.Fill(ctx, &snap, data)
	if err != nil {
		return nil, fmt.Errorf("error loading workload masks: %w", err)
	}
	var built []part.Index
	// abandon removes the masks and indexes written by this pass that never
	// made it into the catalog
	abandon := func() {
		db.masks.Discard(ctx, recorded)
		for _, idx := range built {
			if err := db.mat.Retire(context.WithoutCancel(ctx), idx); err != nil {
				logger.Error().Err(err).Str("indexID", idx.ID).Msg("error removing abandoned index")
			}
		}
	}

	stats := &OptimizeStats{WorkloadPredicates: len(preds)}
	workloadPreds := make([]predicate.Predicate, len(preds))
	for i, p := range preds {
		workloadPreds[i] = p.Predicate
	}
	columns := pruner.RequiredColumns(workloadPreds, snap.WorkloadProjections())
	if len(columns) == 0 {
		columns = snap.ColumnNames()
	}

	tree, err := qdtree.Build(ctx, db.Engine, preds, snap.WorkloadProjections(), qdtree.TableMeta{
		Columns:  snap.Columns,
		NumRows:  uint64(snap.NumRows),
		Workload: snap.Workload,
	}, minLeafSize)
	if err != nil {
		abandon()
		return nil, fmt.Errorf("error building predicate tree: %w", err)
	}

	treeIdx, err := db.mat.Materialize(ctx, primary, data, part.PredicateTree, materializer.LeavesFromTree(tree), columns, tree.Splits)
	if err != nil {
		abandon()
		return nil, fmt.Errorf("error materializing predicate tree: %w", err)
	}
	built = append(built, treeIdx)
	stats.PredicateTreeID = treeIdx.ID
	stats.TreeLeaves = len(tree.Leaves())
	stats.TreeDepth = tree.Depth()
	stats.TreeBlocks = len(treeIdx.DataBlocks)
	stats.TreeDescription = tree.Describe()

	if partitionColumn != "" {
		parts, err := partitioner.Split(db.Engine, partitionColumn, preds, uint64(snap.NumRows))
		if err != nil {
			abandon()
			return nil, fmt.Errorf("error partitioning on %s: %w", partitionColumn, err)
		}
		var used []predicate.Predicate
		for _, p := range workloadPreds {
			if p.Column == partitionColumn && !p.IsCol {
				used = append(used, p)
			}
		}
		rangeIdx, err := db.mat.Materialize(ctx, primary, data, part.RangePartition, materializer.LeavesFromPartitions(parts), columns, used)
		if err != nil {
			abandon()
			return nil, fmt.Errorf("error materializing range partitions: %w", err)
		}
		built = append(built, rangeIdx)
		stats.RangePartitionID = rangeIdx.ID
		stats.Partitions = len(parts)
		stats.PartitionBlocks = len(rangeIdx.DataBlocks)
	}

	var replaced []part.Index
	for _, idx := range built {
		if prev := snap.ReplaceIndex(idx); prev != nil {
			replaced = append(replaced, *prev)
		}
	}
	if err = db.MetaStore.Commit(ctx, df.tableID, &snap); err != nil {
		abandon()
		return nil, fmt.Errorf("error committing indexes: %w", err)
	}

	for _, idx := range replaced {
		if err = db.mat.Retire(ctx, idx); err != nil {
			return nil, fmt.Errorf("error retiring %s index %s: %w", idx.Kind, idx.ID, err)
		}
	}
	stats.RetiredIndexes = len(replaced)
	stats.TimeMS = time.Since(s).Milliseconds()
	metrics.OptimizeDuration.Observe(time.Since(s).Seconds())
	logger.Info().Str("treeIndex", stats.PredicateTreeID).Int("treeBlocks", stats.TreeBlocks).Int("treeDepth", stats.TreeDepth).
		Str("rangeIndex", stats.RangePartitionID).Int("partitionBlocks", stats.PartitionBlocks).Int("retired", len(replaced)).Msg("optimized table")
	return stats, nil
}
