package main

import (
	"context"
	"fmt"
	"os"

	"github.com/senyabanana/load-marketplace/internal/db"
	"github.com/senyabanana/load-marketplace/internal/logger"
	"github.com/senyabanana/load-marketplace/internal/metrics"
	"github.com/senyabanana/load-marketplace/internal/repository"
	"github.com/senyabanana/load-marketplace/internal/repository/memory"
	"github.com/senyabanana/load-marketplace/internal/router/config"
	"github.com/senyabanana/load-marketplace/internal/services"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "marketplace",
		Short:         "Load assignment marketplace: carrier bids, tenders and expiry sweeps",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", ".", "directory with app.env")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newSweepCmd(&configPath))
	root.AddCommand(newMigrateCmd(&configPath))
	return root
}

// app - собранные зависимости процесса.
type app struct {
	cfg      config.Config
	log      logger.Logger
	registry *prometheus.Registry
	store    repository.Store
	bids     *services.BidService
	tenders  *services.TenderService
	sweeper  *services.Sweeper
	close    func()
}

func buildApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("cannot load config: %w", err)
	}
	log := logger.New("marketplace", cfg.AppEnv, cfg.LogLevel)

	a := &app{cfg: cfg, log: log, close: func() {}}

	var rec metrics.Recorder = metrics.NopRecorder{}
	if cfg.MetricsEnabled {
		a.registry = prometheus.NewRegistry()
		prom, err := metrics.NewPromRecorder(a.registry)
		if err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		rec = prom
	}

	switch cfg.Store {
	case config.StoreMemory:
		log.Warnf("using in-memory store, data is lost on exit")
		a.store = memory.NewStore()
	default:
		pool, err := db.InitDb(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("error initializing database: %w", err)
		}
		a.store = repository.NewPostgresStore(pool, cfg.TxMaxRetries)
		a.close = pool.Close
	}

	deps := services.Deps{Store: a.store, Logger: log.With(map[string]any{"layer": "service"}), Metrics: rec}
	a.bids = services.NewBidService(deps, cfg.BidDefaultTTL)
	a.tenders = services.NewTenderService(deps, cfg.TenderDefaultTTL, cfg.WaterfallDefaultTimeout)
	a.sweeper = services.NewSweeper(a.bids, a.tenders, a.store, cfg.SweepInterval,
		log.With(map[string]any{"layer": "sweeper"}), rec)
	return a, nil
}
