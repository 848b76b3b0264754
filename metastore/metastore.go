package metastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/danthegoodman1/sdcdb/gologger"
	"github.com/danthegoodman1/sdcdb/part"
	"github.com/danthegoodman1/sdcdb/predicate"
	"github.com/danthegoodman1/sdcdb/table"
)

var (
	logger = gologger.NewLogger()

	ErrTableNotFound     = errors.New("table not found")
	ErrConcurrentCommit  = errors.New("snapshot was committed by another writer")
	ErrInvalidTableID    = errors.New("invalid table id")
	ErrMalformedSnapshot = errors.New("malformed snapshot")

	tableIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)
)

type (
	// MetaStore is the metadata repository: one Snapshot document per table,
	// read fully, mutated in memory, and committed as a whole.
	MetaStore interface {
		// Load returns ErrTableNotFound if the table has never been committed.
		Load(ctx context.Context, tableID string) (Snapshot, error)
		// Commit writes snap if the stored version still equals snap.Version,
		// then bumps snap.Version. Returns ErrConcurrentCommit otherwise.
		Commit(ctx context.Context, tableID string, snap *Snapshot) error
		ListTables(ctx context.Context) ([]string, error)

		Shutdown(ctx context.Context) error
	}

	Snapshot struct {
		TableID        string               `json:"tableId"`
		Name           string               `json:"name"`
		Columns        []table.ColumnSchema `json:"columns"`
		NumRows        int64                `json:"num_rows"`
		Indexes        []part.Index         `json:"indexes"`
		Workload       []WorkloadEntry      `json:"workload"`
		PredicateMasks []PredicateMask      `json:"predicateMasks"`
		Version        int64                `json:"version"`
		CreatedAt      time.Time            `json:"createdAt"`
		UpdatedAt      time.Time            `json:"updatedAt"`
	}

	WorkloadEntry struct {
		QueryID        string                `json:"queryId"`
		ExecutionCount int64                 `json:"executionCount"`
		Predicates     []predicate.Predicate `json:"predicates"`
		Projections    []string              `json:"projections"`
		// MaskRefs is only set when the query ran against the primary index.
		MaskRefs []string `json:"maskRefs,omitempty"`
	}

	// PredicateMask records where a predicate's mask over the primary data lives.
	PredicateMask struct {
		Predicate  predicate.Predicate `json:"predicate"`
		MaskRef    string              `json:"maskRef"`
		TrueCount  int64               `json:"trueCount"`
		FalseCount int64               `json:"falseCount"`
	}
)

func ValidateTableID(tableID string) error {
	if !tableIDRegex.MatchString(tableID) {
		return fmt.Errorf("%w: %q", ErrInvalidTableID, tableID)
	}
	return nil
}

// UpsertWorkload records one execution of a query. Queries with the same id
// share an entry whose count is incremented.
func (s *Snapshot) UpsertWorkload(preds []predicate.Predicate, projections []string, maskRefs []string) WorkloadEntry {
	id := predicate.QueryID(preds, projections)
	for i := range s.Workload {
		if s.Workload[i].QueryID == id {
			s.Workload[i].ExecutionCount++
			if len(maskRefs) > 0 {
				s.Workload[i].MaskRefs = maskRefs
			}
			return s.Workload[i]
		}
	}
	we := WorkloadEntry{
		QueryID:        id,
		ExecutionCount: 1,
		Predicates:     predicate.Dedupe(preds),
		Projections:    append([]string(nil), projections...),
		MaskRefs:       maskRefs,
	}
	s.Workload = append(s.Workload, we)
	return we
}

// WorkloadPredicates returns every distinct predicate of the recorded workload
// in first-seen order.
func (s Snapshot) WorkloadPredicates() []predicate.Predicate {
	var all []predicate.Predicate
	for _, we := range s.Workload {
		all = append(all, we.Predicates...)
	}
	return predicate.Dedupe(all)
}

// WorkloadProjections returns the union of all recorded projections.
func (s Snapshot) WorkloadProjections() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, we := range s.Workload {
		for _, c := range we.Projections {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

func (s Snapshot) IndexOfKind(kind part.IndexKind) (part.Index, bool) {
	for _, idx := range s.Indexes {
		if idx.Kind == kind {
			return idx, true
		}
	}
	return part.Index{}, false
}

func (s Snapshot) PrimaryIndex() (part.Index, bool) {
	return s.IndexOfKind(part.Primary)
}

// ReplaceIndex swaps in idx for the index of the same kind and returns the
// index it replaced, if any.
func (s *Snapshot) ReplaceIndex(idx part.Index) *part.Index {
	for i := range s.Indexes {
		if s.Indexes[i].Kind == idx.Kind {
			prev := s.Indexes[i]
			s.Indexes[i] = idx
			return &prev
		}
	}
	s.Indexes = append(s.Indexes, idx)
	return nil
}

// RemoveIndex drops the index of the given kind and returns it, if any.
func (s *Snapshot) RemoveIndex(kind part.IndexKind) *part.Index {
	for i := range s.Indexes {
		if s.Indexes[i].Kind == kind {
			prev := s.Indexes[i]
			s.Indexes = append(s.Indexes[:i], s.Indexes[i+1:]...)
			return &prev
		}
	}
	return nil
}

func (s Snapshot) ColumnType(name string) (table.DataType, error) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c.DataType, nil
		}
	}
	return "", fmt.Errorf("%w: %s in table %s", table.ErrColumnNotFound, name, s.TableID)
}

func (s Snapshot) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Retype sets p's data type from the live schema.
func (s Snapshot) Retype(p predicate.Predicate) (predicate.Predicate, error) {
	typ, err := s.ColumnType(p.Column)
	if err != nil {
		return p, err
	}
	if p.IsCol {
		if _, err := s.ColumnType(p.Operand); err != nil {
			return p, err
		}
	}
	p.Type = typ
	return p, nil
}

func (s Snapshot) FindPredicateMask(p predicate.Predicate) (PredicateMask, bool) {
	for _, pm := range s.PredicateMasks {
		if pm.Predicate.Equal(p) {
			return pm, true
		}
	}
	return PredicateMask{}, false
}

// UpsertPredicateMask overwrites the entry for a structurally equal predicate.
func (s *Snapshot) UpsertPredicateMask(pm PredicateMask) {
	for i := range s.PredicateMasks {
		if s.PredicateMasks[i].Predicate.Equal(pm.Predicate) {
			s.PredicateMasks[i] = pm
			return
		}
	}
	s.PredicateMasks = append(s.PredicateMasks, pm)
}

func encodeSnapshot(snap Snapshot) ([]byte, error) {
	b, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("error in json.Marshal: %w", err)
	}
	return b, nil
}

func decodeSnapshot(b []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return snap, fmt.Errorf("%w: %s", ErrMalformedSnapshot, err)
	}
	return snap, nil
}

// prepareCommit checks the version and stamps the snapshot that will be written.
func prepareCommit(tableID string, stored int64, exists bool, snap *Snapshot) (Snapshot, error) {
	if !exists {
		stored = 0
	}
	if stored != snap.Version {
		return Snapshot{}, fmt.Errorf("%w: table %s is at version %d, snapshot is at %d", ErrConcurrentCommit, tableID, stored, snap.Version)
	}
	next := *snap
	next.TableID = tableID
	next.Version = stored + 1
	next.UpdatedAt = time.Now()
	if next.CreatedAt.IsZero() {
		next.CreatedAt = next.UpdatedAt
	}
	return next, nil
}
