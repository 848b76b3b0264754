package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/danthegoodman1/sdcdb/colengine"
	"github.com/danthegoodman1/sdcdb/crdb"
	"github.com/danthegoodman1/sdcdb/dataframe"
	"github.com/danthegoodman1/sdcdb/datastore"
	"github.com/danthegoodman1/sdcdb/metastore"
	"github.com/danthegoodman1/sdcdb/migrations"
	"github.com/danthegoodman1/sdcdb/s3_helper"
	"github.com/danthegoodman1/sdcdb/utils"
)

// openDB wires the metastore and datastore picked by the environment. With
// migrate unset a CRDB metastore must already be migrated.
func openDB(ctx context.Context, migrate bool) (*dataframe.DB, error) {
	ms, err := openMetaStore(ctx, migrate)
	if err != nil {
		return nil, fmt.Errorf("error opening metastore: %w", err)
	}
	ds, err := openDataStore()
	if err != nil {
		return nil, fmt.Errorf("error opening datastore: %w", err)
	}
	return dataframe.NewDB(ms, ds, colengine.New(), dataframe.Config{
		LoadConcurrency: int(utils.LOAD_CONCURRENCY),
	}), nil
}

// closeDB shuts down the stores of a command's DB, logging any failure.
func closeDB(db *dataframe.DB) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	if err := db.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown stores")
	}
}

func openMetaStore(ctx context.Context, migrate bool) (metastore.MetaStore, error) {
	switch utils.METASTORE {
	case "file":
		return metastore.NewFileMetaStore(utils.DATA_DIR)
	case "redis":
		return metastore.NewRedisMetaStore(ctx, utils.REDIS_ADDR, utils.REDIS_PASSWORD, true)
	case "crdb":
		db, err := crdb.ConnectToDB(ctx, utils.CRDB_DSN)
		if err != nil {
			return nil, err
		}
		if migrate {
			_, err = migrations.RunMigrations(db)
		} else {
			err = migrations.CheckMigrations(db)
		}
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("error in migrations: %w", err)
		}
		return metastore.NewCRDBMetaStore(db), nil
	}
	return nil, fmt.Errorf("unknown METASTORE %q", utils.METASTORE)
}

func openDataStore() (datastore.DataStore, error) {
	switch utils.DATASTORE {
	case "disk":
		return datastore.NewDiskDataStore(filepath.Join(utils.DATA_DIR, "blocks"))
	case "s3":
		client, err := s3_helper.NewClient(s3_helper.Config{
			Bucket:   utils.S3_BUCKET_NAME,
			Region:   utils.AWS_DEFAULT_REGION,
			Endpoint: utils.S3_ENDPOINT,
		})
		if err != nil {
			return nil, err
		}
		return datastore.NewS3DataStore(client, ""), nil
	}
	return nil, fmt.Errorf("unknown DATASTORE %q", utils.DATASTORE)
}
