package migrations

import (
	"database/sql"
	"embed"
	"errors"

	migrate "github.com/rubenv/sql-migrate"

	"github.com/danthegoodman1/sdcdb/gologger"
)

var (
	//go:embed *.sql
	migrations embed.FS

	ErrMigrationsNotRun = errors.New("not all migrations applied")

	logger = gologger.NewLogger()
)

func source() migrate.EmbedFileSystemMigrationSource {
	return migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrations,
		Root:       ".",
	}
}

// RunMigrations applies every pending migration and returns how many ran.
func RunMigrations(db *sql.DB) (int, error) {
	ms := migrate.MigrationSet{
		TableName: "migrations",
	}
	n, err := ms.Exec(db, "postgres", source(), migrate.Up)
	if err != nil {
		return n, err
	}
	logger.Info().Int("applied", n).Msg("ran migrations")
	return n, nil
}

func CheckMigrations(db *sql.DB) error {
	ms := migrate.MigrationSet{
		TableName: "migrations",
	}
	migration, _, err := ms.PlanMigration(db, "postgres", source(), migrate.Up, 0)
	if err != nil {
		return err
	}
	if len(migration) > 0 {
		for _, mig := range migration {
			logger.Warn().Str("migrationID", mig.Id).Msg("missing migration")
		}
		return ErrMigrationsNotRun
	}
	return nil
}
