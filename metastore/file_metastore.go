package metastore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

type (
	// FileMetaStore keeps one JSON document per table under a directory.
	FileMetaStore struct {
		dir string
		mu  sync.Mutex
	}
)

func NewFileMetaStore(root string) (*FileMetaStore, error) {
	dir := filepath.Join(root, "metadata")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("error in os.MkdirAll: %w", err)
	}
	return &FileMetaStore{dir: dir}, nil
}

func (fms *FileMetaStore) path(tableID string) string {
	return filepath.Join(fms.dir, tableID+".json")
}

func (fms *FileMetaStore) Load(ctx context.Context, tableID string) (Snapshot, error) {
	if err := ValidateTableID(tableID); err != nil {
		return Snapshot{}, err
	}
	zerolog.Ctx(ctx).Debug().Str("table", tableID).Msg("loading snapshot from file")
	b, err := os.ReadFile(fms.path(tableID))
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrTableNotFound, tableID)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("error in os.ReadFile: %w", err)
	}
	return decodeSnapshot(b)
}

func (fms *FileMetaStore) Commit(ctx context.Context, tableID string, snap *Snapshot) error {
	if err := ValidateTableID(tableID); err != nil {
		return err
	}
	fms.mu.Lock()
	defer fms.mu.Unlock()

	var stored int64
	current, err := fms.Load(ctx, tableID)
	exists := err == nil
	switch {
	case exists:
		stored = current.Version
	case !errors.Is(err, ErrTableNotFound):
		return fmt.Errorf("error reading current snapshot: %w", err)
	}

	next, err := prepareCommit(tableID, stored, exists, snap)
	if err != nil {
		return err
	}
	b, err := encodeSnapshot(next)
	if err != nil {
		return err
	}

	// write then rename so readers never see a partial document
	tmp, err := os.CreateTemp(fms.dir, tableID+".*.tmp")
	if err != nil {
		return fmt.Errorf("error in os.CreateTemp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err = tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("error writing temp snapshot: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("error in Sync: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("error closing temp snapshot: %w", err)
	}
	if err = os.Rename(tmp.Name(), fms.path(tableID)); err != nil {
		return fmt.Errorf("error in os.Rename: %w", err)
	}

	*snap = next
	zerolog.Ctx(ctx).Debug().Str("table", tableID).Int64("version", next.Version).Msg("committed snapshot")
	return nil
}

func (fms *FileMetaStore) ListTables(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(fms.dir)
	if err != nil {
		return nil, fmt.Errorf("error in os.ReadDir: %w", err)
	}
	tables := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		tables = append(tables, strings.TrimSuffix(e.Name(), ".json"))
	}
	return tables, nil
}

func (fms *FileMetaStore) Shutdown(_ context.Context) error {
	return nil
}
