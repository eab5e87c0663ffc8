package main

import (
	"fmt"

	"github.com/senyabanana/load-marketplace/internal/db"
	"github.com/senyabanana/load-marketplace/internal/router/config"

	"github.com/spf13/cobra"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadPostgresConfig(*configPath)
			if err != nil {
				return err
			}
			if err := db.MigrateUp(cfg.MigrationURL, cfg.PostgresConn); err != nil {
				return err
			}
			cmd.Println("db migrated successfully")
			return nil
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the last migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadPostgresConfig(*configPath)
			if err != nil {
				return err
			}
			if err := db.MigrateDown(cfg.MigrationURL, cfg.PostgresConn, steps); err != nil {
				return err
			}
			cmd.Printf("rolled back %d migration(s)\n", steps)
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.AddCommand(down)

	return cmd
}

func loadPostgresConfig(path string) (config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return cfg, fmt.Errorf("cannot load config: %w", err)
	}
	if cfg.Store != config.StorePostgres {
		return cfg, fmt.Errorf("migrations require STORE=%s, got %q", config.StorePostgres, cfg.Store)
	}
	return cfg, nil
}
