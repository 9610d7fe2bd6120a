package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	discordimpl "github.com/foxseedlab/lessoncall/external/discord"
	"github.com/foxseedlab/lessoncall/internal/calls"
	"github.com/foxseedlab/lessoncall/internal/config"
	"github.com/foxseedlab/lessoncall/internal/schedule"
	"github.com/gin-gonic/gin"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
)

const (
	discordConnectTimeout = 20 * time.Second
	shutdownTimeout       = 15 * time.Second
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the call control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			slog.Info("startup: building dependency graph")
			return serve(cfg, setupDI(cfg))
		},
	}
}

func serve(cfg *config.Config, injector do.Injector) error {
	provider, err := do.Invoke[*discordimpl.Provider](injector)
	if err != nil {
		return fmt.Errorf("failed to resolve discord provider: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), discordConnectTimeout)
	defer cancel()
	slog.Info("startup: connecting to discord gateway")
	if err := provider.Connect(ctx); err != nil {
		return fmt.Errorf("discord connect failed: %w", err)
	}
	defer func() {
		if err := provider.Close(); err != nil {
			slog.Error("discord close failed", "error", err)
		}
	}()

	sweeper, err := do.Invoke[*schedule.Sweeper](injector)
	if err != nil {
		return fmt.Errorf("failed to resolve sweeper: %w", err)
	}
	if err := sweeper.Start(cfg.MissedSweepSchedule); err != nil {
		return err
	}
	defer sweeper.Stop()

	manager, err := do.Invoke[*calls.Manager](injector)
	if err != nil {
		return fmt.Errorf("failed to resolve call manager: %w", err)
	}
	engine, err := do.Invoke[*gin.Engine](injector)
	if err != nil {
		return fmt.Errorf("failed to resolve http router: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("startup: http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		slog.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			slog.Error("http server failed", "error", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown failed", "error", err)
	}
	manager.Close(shutdownCtx)
	_ = injector.Shutdown()
	slog.Info("shutdown complete")
	return nil
}
