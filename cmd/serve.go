package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/senyabanana/load-marketplace/internal/db"
	"github.com/senyabanana/load-marketplace/internal/handlers"
	"github.com/senyabanana/load-marketplace/internal/router"
	"github.com/senyabanana/load-marketplace/internal/router/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func newServeCmd(configPath *string) *cobra.Command {
	var migrateUp, withSweeper bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := buildApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			if migrateUp && a.cfg.Store == config.StorePostgres {
				if err := db.MigrateUp(a.cfg.MigrationURL, a.cfg.PostgresConn); err != nil {
					return err
				}
				a.log.Infof("db migrated successfully")
			}

			if withSweeper {
				go a.sweeper.Run(ctx)
			}

			tenderHandler := handlers.NewTenderHandler(a.tenders, a.log.With(map[string]any{"layer": "http"}), a.cfg.RequestTimeout)
			bidHandler := handlers.NewBidHandler(a.bids, a.log.With(map[string]any{"layer": "http"}), a.cfg.RequestTimeout)

			var gatherer prometheus.Gatherer
			if a.registry != nil {
				gatherer = a.registry
			}
			srv := &http.Server{
				Addr:              a.cfg.ServerAddress,
				Handler:           router.InitRoutes(tenderHandler, bidHandler, gatherer),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.log.Infof("server is listening on %s...", a.cfg.ServerAddress)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
			defer stop()
			a.log.Infof("shutting down")
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	cmd.Flags().BoolVar(&withSweeper, "sweeper", true, "run the expiry sweeper in the background")
	return cmd
}
