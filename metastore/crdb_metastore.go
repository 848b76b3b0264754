package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cockroachdb/cockroach-go/v2/crdb"
	"github.com/rs/zerolog"
)

type (
	// CRDBMetaStore stores snapshots as JSONB rows of table_metadata.
	CRDBMetaStore struct {
		db *sql.DB
	}
)

func NewCRDBMetaStore(db *sql.DB) *CRDBMetaStore {
	return &CRDBMetaStore{db: db}
}

func (cms *CRDBMetaStore) Load(ctx context.Context, tableID string) (Snapshot, error) {
	zerolog.Ctx(ctx).Debug().Str("table", tableID).Msg("loading snapshot from crdb")
	var doc []byte
	var version int64
	err := cms.db.QueryRowContext(ctx, `SELECT doc, version FROM table_metadata WHERE table_id = $1`, tableID).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrTableNotFound, tableID)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("error selecting snapshot: %w", err)
	}
	snap, err := decodeSnapshot(doc)
	if err != nil {
		return snap, err
	}
	snap.Version = version
	return snap, nil
}

func (cms *CRDBMetaStore) Commit(ctx context.Context, tableID string, snap *Snapshot) error {
	if err := ValidateTableID(tableID); err != nil {
		return err
	}
	var next Snapshot
	err := crdb.ExecuteTx(ctx, cms.db, nil, func(tx *sql.Tx) error {
		var stored int64
		err := tx.QueryRowContext(ctx, `SELECT version FROM table_metadata WHERE table_id = $1 FOR UPDATE`, tableID).Scan(&stored)
		exists := err == nil
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("error selecting version: %w", err)
		}

		next, err = prepareCommit(tableID, stored, exists, snap)
		if err != nil {
			return err
		}
		b, err := encodeSnapshot(next)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPSERT INTO table_metadata (table_id, doc, version, updated_at) VALUES ($1, $2, $3, now())`, tableID, b, next.Version)
		if err != nil {
			return fmt.Errorf("error upserting snapshot: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error in crdb.ExecuteTx: %w", err)
	}
	*snap = next
	return nil
}

func (cms *CRDBMetaStore) ListTables(ctx context.Context) ([]string, error) {
	rows, err := cms.db.QueryContext(ctx, `SELECT table_id FROM table_metadata ORDER BY table_id`)
	if err != nil {
		return nil, fmt.Errorf("error listing tables: %w", err)
	}
	defer rows.Close()
	tables := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("error in rows.Scan: %w", err)
		}
		tables = append(tables, id)
	}
	return tables, rows.Err()
}

func (cms *CRDBMetaStore) Shutdown(_ context.Context) error {
	return cms.db.Close()
}
