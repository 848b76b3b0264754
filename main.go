package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/danthegoodman1/sdcdb/gologger"
	"github.com/danthegoodman1/sdcdb/http_server"
	"github.com/danthegoodman1/sdcdb/utils"
)

var logger = gologger.NewLogger()

var rootCmd = &cobra.Command{
	Use:          "sdcdb",
	Short:        "Self-optimizing single table store",
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(serveCmd(), ingestCmd(), queryCmd(), optimizeCmd(), indexesCmd())
	if err := rootCmd.Execute(); err != nil {
		logger.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger.Debug().Msg("starting sdcdb api")
			db, err := openDB(cmd.Context(), true)
			if err != nil {
				return err
			}

			httpServer := http_server.StartHTTPServer(db)

			c := make(chan os.Signal, 1)
			signal.Notify(c, os.Interrupt, syscall.SIGTERM)
			<-c
			logger.Warn().Msg("received shutdown signal!")

			sleepTime := utils.SHUTDOWN_SLEEP_SEC
			logger.Info().Msg(fmt.Sprintf("sleeping for %ds before exiting", sleepTime))

			time.Sleep(time.Second * time.Duration(sleepTime))
			logger.Info().Msg(fmt.Sprintf("slept for %ds, exiting", sleepTime))

			ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
			defer cancel()
			if err := httpServer.Shutdown(ctx); err != nil {
				logger.Error().Err(err).Msg("failed to shutdown HTTP server")
			} else {
				logger.Info().Msg("successfully shutdown HTTP server")
			}
			if err := db.Shutdown(ctx); err != nil {
				logger.Error().Err(err).Msg("failed to shutdown stores")
			}
			return nil
		},
	}
}
