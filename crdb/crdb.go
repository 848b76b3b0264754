package crdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgconn"

	// registers the "pgx" driver
	_ "github.com/jackc/pgx/v4/stdlib"

	"github.com/danthegoodman1/sdcdb/gologger"
	"github.com/danthegoodman1/sdcdb/utils"
)

var (
	StandardContextTimeout = 10 * time.Second

	logger = gologger.NewLogger()
)

// ConnectToDB opens a pool against dsn and waits for it to answer a ping.
func ConnectToDB(ctx context.Context, dsn string) (*sql.DB, error) {
	logger.Debug().Msg("connecting to CRDB...")
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("error in sql.Open: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Minute * 30)
	db.SetConnMaxIdleTime(time.Minute * 30)

	err = utils.RetryConnect(ctx, time.Second*30, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, StandardContextTimeout)
		defer cancel()
		err := db.PingContext(pingCtx)
		var pgErr *pgconn.PgError
		// bad credentials or a missing database will not fix themselves
		if errors.As(err, &pgErr) && (strings.HasPrefix(pgErr.Code, "28") || pgErr.Code == "3D000") {
			return utils.PermError(pgErr.Error())
		}
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error pinging CRDB: %w", err)
	}
	logger.Debug().Msg("connected to CRDB")
	return db, nil
}
