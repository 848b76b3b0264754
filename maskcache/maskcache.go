// Package maskcache persists each workload predicate's mask over the primary
// data so optimization passes can replay the workload without rescanning it.
package maskcache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/danthegoodman1/sdcdb/colengine"
	"github.com/danthegoodman1/sdcdb/datastore"
	"github.com/danthegoodman1/sdcdb/gologger"
	"github.com/danthegoodman1/sdcdb/mask"
	"github.com/danthegoodman1/sdcdb/metastore"
	"github.com/danthegoodman1/sdcdb/predicate"
	"github.com/danthegoodman1/sdcdb/table"
)

var logger = gologger.NewLogger()

type Cache struct {
	store  datastore.DataStore
	engine colengine.Engine
}

func New(store datastore.DataStore, engine colengine.Engine) *Cache {
	return &Cache{store: store, engine: engine}
}

func MaskPrefix(tableID string) string {
	return "masks/" + tableID + "/"
}

// MaskKey is the object key of p's mask. It only depends on the structural
// identity of p.
func MaskKey(tableID string, p predicate.Predicate) string {
	sum := sha256.Sum256([]byte(p.Key()))
	return MaskPrefix(tableID) + hex.EncodeToString(sum[:16]) + ".bin"
}

// RecordPredicateExecution stores m as p's mask, replacing any previous mask
// and counts for a structurally equal predicate. m must cover the whole
// primary dataset.
func (c *Cache) RecordPredicateExecution(ctx context.Context, snap *metastore.Snapshot, p predicate.Predicate, m *mask.Mask) (string, error) {
	if int64(m.Len()) != snap.NumRows {
		return "", fmt.Errorf("%w: mask for %s covers %d rows, table has %d", mask.ErrLengthMismatch, p, m.Len(), snap.NumRows)
	}
	key := MaskKey(snap.TableID, p)
	if err := c.store.Put(ctx, key, bytes.NewReader(mask.EncodePacked(m))); err != nil {
		return "", fmt.Errorf("error writing mask %s: %w", key, err)
	}
	snap.UpsertPredicateMask(metastore.PredicateMask{
		Predicate:  p,
		MaskRef:    key,
		TrueCount:  int64(m.TrueCount()),
		FalseCount: int64(m.FalseCount()),
	})
	zerolog.Ctx(ctx).Debug().Str("predicate", p.String()).Uint64("trueCount", m.TrueCount()).Msg("recorded predicate mask")
	return key, nil
}

// LoadWorkloadMasks rehydrates the masks of every distinct workload
// predicate, typed from the live schema. Predicates with no usable persisted
// mask are returned in missing, in workload order.
func (c *Cache) LoadWorkloadMasks(ctx context.Context, snap metastore.Snapshot) (loaded []predicate.WithMask, missing []predicate.Predicate, err error) {
	logger := zerolog.Ctx(ctx)
	for _, p := range snap.WorkloadPredicates() {
		p, err = snap.Retype(p)
		if err != nil {
			return nil, nil, fmt.Errorf("error retyping %s: %w", p, err)
		}
		pm, ok := snap.FindPredicateMask(p)
		if !ok {
			missing = append(missing, p)
			continue
		}
		b, err := c.store.Get(ctx, pm.MaskRef)
		if errors.Is(err, datastore.ErrNotFound) {
			logger.Warn().Str("maskRef", pm.MaskRef).Msg("mask file missing, will re-evaluate")
			missing = append(missing, p)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("error reading mask %s: %w", pm.MaskRef, err)
		}
		m, err := mask.DecodePacked(b, uint64(snap.NumRows))
		if err != nil {
			return nil, nil, fmt.Errorf("error decoding mask %s: %w", pm.MaskRef, err)
		}
		if int64(m.TrueCount()) != pm.TrueCount {
			logger.Warn().Str("maskRef", pm.MaskRef).Msg("mask counts disagree with metadata, will re-evaluate")
			missing = append(missing, p)
			continue
		}
		loaded = append(loaded, predicate.WithMask{Predicate: p, Mask: m})
	}
	return loaded, missing, nil
}

// Fill loads every workload mask, evaluating and recording the missing ones
// over the primary data. The result is in workload first-seen order. recorded
// holds the keys of the mask files written, for Discard if snap is never
// committed.
func (c *Cache) Fill(ctx context.Context, snap *metastore.Snapshot, primary *table.Table) (preds []predicate.WithMask, recorded []string, err error) {
	loaded, missing, err := c.LoadWorkloadMasks(ctx, *snap)
	if err != nil {
		return nil, nil, err
	}
	byKey := make(map[string]*mask.Mask, len(loaded)+len(missing))
	for _, pm := range loaded {
		byKey[pm.Key()] = pm.Mask
	}
	for _, p := range missing {
		m, err := c.engine.Evaluate(primary, p)
		if err != nil {
			c.Discard(ctx, recorded)
			return nil, nil, fmt.Errorf("error evaluating %s: %w", p, err)
		}
		key, err := c.RecordPredicateExecution(ctx, snap, p, m)
		if err != nil {
			c.Discard(ctx, recorded)
			return nil, nil, err
		}
		recorded = append(recorded, key)
		byKey[p.Key()] = m
	}
	if len(missing) > 0 {
		zerolog.Ctx(ctx).Info().Int("evaluated", len(missing)).Msg("evaluated missing workload masks")
	}

	preds = make([]predicate.WithMask, 0, len(byKey))
	for _, p := range snap.WorkloadPredicates() {
		p, err = snap.Retype(p)
		if err != nil {
			c.Discard(ctx, recorded)
			return nil, nil, err
		}
		preds = append(preds, predicate.WithMask{Predicate: p, Mask: byKey[p.Key()]})
	}
	return preds, recorded, nil
}

// Discard deletes mask files recorded for a snapshot that was never
// committed. The committed metadata never points at a usable mask under
// these keys, so later passes re-evaluate them.
func (c *Cache) Discard(ctx context.Context, keys []string) {
	ctx = context.WithoutCancel(ctx)
	for _, k := range keys {
		if err := c.store.Delete(ctx, k); err != nil {
			logger.Error().Err(err).Str("key", k).Msg("error removing uncommitted mask")
		}
	}
}

// Purge deletes every mask of the table and forgets them in the snapshot.
func (c *Cache) Purge(ctx context.Context, snap *metastore.Snapshot) error {
	keys, err := c.store.List(ctx, MaskPrefix(snap.TableID))
	if err != nil {
		return fmt.Errorf("error listing masks: %w", err)
	}
	for _, k := range keys {
		if err = c.store.Delete(ctx, k); err != nil {
			return fmt.Errorf("error deleting mask %s: %w", k, err)
		}
	}
	snap.PredicateMasks = nil
	return nil
}
