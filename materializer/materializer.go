// Package materializer writes the leaves of a partitioning as the data
// block files of a secondary index, along with the index document.
package materializer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/danthegoodman1/sdcdb/colengine"
	"github.com/danthegoodman1/sdcdb/datastore"
	"github.com/danthegoodman1/sdcdb/gologger"
	"github.com/danthegoodman1/sdcdb/mask"
	"github.com/danthegoodman1/sdcdb/metrics"
	"github.com/danthegoodman1/sdcdb/parquet_accumulator"
	"github.com/danthegoodman1/sdcdb/part"
	"github.com/danthegoodman1/sdcdb/partitioner"
	"github.com/danthegoodman1/sdcdb/predicate"
	"github.com/danthegoodman1/sdcdb/qdtree"
	"github.com/danthegoodman1/sdcdb/table"
	"github.com/danthegoodman1/sdcdb/utils"
)

var (
	logger = gologger.NewLogger()

	ErrNotPrimary       = errors.New("source index is not the primary index")
	ErrNoColumns        = errors.New("no requested column exists in the source data")
	ErrDocumentMismatch = errors.New("index document does not match the catalog")
)

// PrimaryBlockRows caps the rows in one primary index block.
const PrimaryBlockRows = 1 << 20

type (
	// Leaf is one group of rows that becomes a single block.
	Leaf struct {
		Mask     *mask.Mask
		RowCount int64
		Ranges   []part.Range
	}

	Materializer struct {
		store       datastore.DataStore
		engine      colengine.Engine
		concurrency int
	}
)

func New(store datastore.DataStore, engine colengine.Engine, concurrency int) *Materializer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Materializer{store: store, engine: engine, concurrency: concurrency}
}

func LeavesFromTree(t *qdtree.Tree) []Leaf {
	tl := t.Leaves()
	leaves := make([]Leaf, len(tl))
	for i, l := range tl {
		leaves[i] = Leaf{Mask: l.Mask, RowCount: l.RowCount, Ranges: l.Ranges}
	}
	return leaves
}

func LeavesFromPartitions(parts []partitioner.Partition) []Leaf {
	leaves := make([]Leaf, len(parts))
	for i, p := range parts {
		r := p.Range()
		var ranges []part.Range
		if !r.IsUnbounded() {
			ranges = []part.Range{r}
		}
		leaves[i] = Leaf{Mask: p.Mask, RowCount: p.RowCount, Ranges: ranges}
	}
	return leaves
}

// IndexPrefix is the key prefix holding every file of one index.
func IndexPrefix(tableID string, kind part.IndexKind, indexID string) string {
	return path.Join(tableID, string(kind), indexID) + "/"
}

// Materialize writes one block per non-empty leaf, holding the leaf's rows of
// data for the requested columns that exist, then the index document. data
// must be the full content of the primary index. Nothing is left behind on
// failure.
func (m *Materializer) Materialize(ctx context.Context, primary part.Index, data *table.Table, kind part.IndexKind, leaves []Leaf, columns []string, predicatesUsed []predicate.Predicate) (part.Index, error) {
	if primary.Kind != part.Primary {
		return part.Index{}, fmt.Errorf("%w: got %s index %s", ErrNotPrimary, primary.Kind, primary.ID)
	}
	var cols []string
	for _, c := range utils.UniqueStrings(columns) {
		if _, err := data.Column(c); err == nil {
			cols = append(cols, c)
		}
	}
	if len(cols) == 0 {
		return part.Index{}, fmt.Errorf("%w: requested %v", ErrNoColumns, columns)
	}
	return m.write(ctx, primary.TableID, kind, data, leaves, cols, predicatesUsed)
}

// WritePrimary writes data as a new primary index, split into blocks of at
// most PrimaryBlockRows rows in row order.
func (m *Materializer) WritePrimary(ctx context.Context, tableID string, data *table.Table) (part.Index, error) {
	n := uint64(data.NumRows())
	var leaves []Leaf
	for start := uint64(0); start < n; start += PrimaryBlockRows {
		rows := mask.FromRange(n, start, start+PrimaryBlockRows)
		leaves = append(leaves, Leaf{Mask: rows, RowCount: int64(rows.TrueCount())})
	}
	return m.write(ctx, tableID, part.Primary, data, leaves, data.ColumnNames(), nil)
}

func (m *Materializer) write(ctx context.Context, tableID string, kind part.IndexKind, data *table.Table, leaves []Leaf, cols []string, predicatesUsed []predicate.Predicate) (part.Index, error) {
	logger := zerolog.Ctx(ctx)
	s := time.Now()
	idx := part.Index{
		ID:             utils.GenKSortedID("idx_"),
		TableID:        tableID,
		Kind:           kind,
		ColumnsCovered: cols,
		PredicatesUsed: predicatesUsed,
		CreatedAt:      time.Now(),
	}
	prefix := IndexPrefix(tableID, kind, idx.ID)

	var (
		written []string
		mu      sync.Mutex
		blocks  = make([]*part.DataBlock, len(leaves))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, leaf := range leaves {
		if leaf.RowCount == 0 {
			continue
		}
		g.Go(func() error {
			rows, err := m.engine.Compact(data, leaf.Mask, cols)
			if err != nil {
				return fmt.Errorf("error compacting leaf %d: %w", i, err)
			}
			b, err := parquet_accumulator.EncodeTableBytes(rows)
			if err != nil {
				return fmt.Errorf("error encoding leaf %d: %w", i, err)
			}
			key := prefix + utils.GenKSortedID("") + ".parquet"
			if err = m.store.Put(gctx, key, b); err != nil {
				return fmt.Errorf("error writing block %s: %w", key, err)
			}
			mu.Lock()
			written = append(written, key)
			mu.Unlock()
			blocks[i] = &part.DataBlock{
				FilePath: key,
				Ranges:   leaf.Ranges,
				RowCount: int64(rows.NumRows()),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		m.cleanup(ctx, written)
		return part.Index{}, err
	}

	for _, b := range blocks {
		if b != nil {
			idx.DataBlocks = append(idx.DataBlocks, *b)
		}
	}
	idx.DocumentPath = prefix + "index.json"
	doc, err := json.Marshal(idx)
	if err != nil {
		m.cleanup(ctx, written)
		return part.Index{}, fmt.Errorf("error in json.Marshal of index document: %w", err)
	}
	if err = m.store.Put(ctx, idx.DocumentPath, bytes.NewReader(doc)); err != nil {
		m.cleanup(ctx, written)
		return part.Index{}, fmt.Errorf("error writing index document: %w", err)
	}

	metrics.IndexBlocksWritten.WithLabelValues(string(kind)).Add(float64(len(idx.DataBlocks)))
	logger.Info().Str(gologger.IndexKindField, string(kind)).Str("indexID", idx.ID).Int("blocks", len(idx.DataBlocks)).
		Int64("rows", idx.RowCount()).Dur("took", time.Since(s)).Msg("materialized index")
	return idx, nil
}

// cleanup removes the blocks of a failed materialization.
func (m *Materializer) cleanup(ctx context.Context, keys []string) {
	// the failing context may already be cancelled
	ctx = context.WithoutCancel(ctx)
	for _, k := range keys {
		if err := m.store.Delete(ctx, k); err != nil {
			logger.Error().Err(err).Str("key", k).Msg("error removing block of failed index")
		}
	}
}

// Retire deletes every file of idx. Call it only once the catalog no longer
// references idx.
func (m *Materializer) Retire(ctx context.Context, idx part.Index) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, b := range idx.DataBlocks {
		g.Go(func() error {
			if err := m.store.Delete(gctx, b.FilePath); err != nil {
				return fmt.Errorf("error deleting block %s: %w", b.FilePath, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if idx.DocumentPath != "" {
		if err := m.store.Delete(ctx, idx.DocumentPath); err != nil {
			return fmt.Errorf("error deleting index document %s: %w", idx.DocumentPath, err)
		}
	}
	zerolog.Ctx(ctx).Debug().Str(gologger.IndexKindField, string(idx.Kind)).Str("indexID", idx.ID).Msg("retired index")
	return nil
}

// LoadDocument reads the index document at key.
func (m *Materializer) LoadDocument(ctx context.Context, key string) (part.Index, error) {
	var idx part.Index
	b, err := m.store.Get(ctx, key)
	if err != nil {
		return idx, fmt.Errorf("error reading index document %s: %w", key, err)
	}
	if err = json.Unmarshal(b, &idx); err != nil {
		return idx, fmt.Errorf("error in json.Unmarshal of index document %s: %w", key, err)
	}
	return idx, nil
}

// Verify checks that the index document written next to the blocks of idx
// still describes the same index and block files as the catalog entry.
func (m *Materializer) Verify(ctx context.Context, idx part.Index) error {
	if idx.DocumentPath == "" {
		return nil
	}
	doc, err := m.LoadDocument(ctx, idx.DocumentPath)
	if err != nil {
		return err
	}
	if doc.ID != idx.ID || doc.Kind != idx.Kind || len(doc.DataBlocks) != len(idx.DataBlocks) {
		return fmt.Errorf("%w: %s index %s has document for %s index %s with %d blocks, expected %d",
			ErrDocumentMismatch, idx.Kind, idx.ID, doc.Kind, doc.ID, len(doc.DataBlocks), len(idx.DataBlocks))
	}
	for i, b := range idx.DataBlocks {
		if doc.DataBlocks[i].FilePath != b.FilePath {
			return fmt.Errorf("%w: block %d of index %s is %s in the document, %s in the catalog",
				ErrDocumentMismatch, i, idx.ID, doc.DataBlocks[i].FilePath, b.FilePath)
		}
	}
	return nil
}
