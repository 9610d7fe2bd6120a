package main

import (
	"fmt"
	"log/slog"
	"os"

	configloader "github.com/foxseedlab/lessoncall/external/config"
	discordimpl "github.com/foxseedlab/lessoncall/external/discord"
	redisimpl "github.com/foxseedlab/lessoncall/external/redis"
	repositoryimpl "github.com/foxseedlab/lessoncall/external/repository"
	webhookimpl "github.com/foxseedlab/lessoncall/external/webhook"
	"github.com/foxseedlab/lessoncall/internal/calls"
	"github.com/foxseedlab/lessoncall/internal/config"
	"github.com/foxseedlab/lessoncall/internal/dialer"
	"github.com/foxseedlab/lessoncall/internal/eventlog"
	"github.com/foxseedlab/lessoncall/internal/httpapi"
	"github.com/foxseedlab/lessoncall/internal/metrics"
	"github.com/foxseedlab/lessoncall/internal/schedule"
	"github.com/foxseedlab/lessoncall/internal/session"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "lessoncall",
		Short:         "Lesson call orchestration service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newSweepCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lessoncall %s (commit: %s)\n", Version, Commit)
		},
	}
}

func loadConfig() (*config.Config, error) {
	slog.Info("startup: loading configuration")
	cfg, err := configloader.Load()
	if err != nil {
		return nil, err
	}
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env, "database_driver", cfg.DatabaseDriver)
	return cfg, nil
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

// setupDI registers every adapter and service. Providers are lazy, so
// commands only open the connections they invoke.
func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	repositoryimpl.RegisterDI(injector)
	redisimpl.RegisterDI(injector)
	discordimpl.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	metrics.RegisterDI(injector)
	eventlog.RegisterDI(injector)
	schedule.RegisterDI(injector)
	session.RegisterDI(injector)
	dialer.RegisterDI(injector)
	calls.RegisterDI(injector)
	httpapi.RegisterDI(injector)

	return injector
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
