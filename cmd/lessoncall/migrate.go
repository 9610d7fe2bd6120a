package main

import (
	"context"
	"log/slog"
	"time"

	repositoryimpl "github.com/foxseedlab/lessoncall/external/repository"
	"github.com/spf13/cobra"
)

const migrateTimeout = time.Minute

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), migrateTimeout)
			defer cancel()
			if err := repositoryimpl.Migrate(ctx, cfg); err != nil {
				return err
			}
			slog.Info("migration applied", "database_driver", cfg.DatabaseDriver)
			return nil
		},
	}
}
