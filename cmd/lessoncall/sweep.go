package main

import (
	"fmt"
	"log/slog"

	"github.com/foxseedlab/lessoncall/internal/schedule"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Mark overdue lessons that never got a call as missed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			sweeper, err := do.Invoke[*schedule.Sweeper](setupDI(cfg))
			if err != nil {
				return fmt.Errorf("failed to resolve sweeper: %w", err)
			}
			n, err := sweeper.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			slog.Info("missed lesson sweep finished", "marked", n)
			fmt.Fprintf(cmd.OutOrStdout(), "marked %d lessons as missed\n", n)
			return nil
		},
	}
}
