package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/foxseedlab/lessoncall/internal/config"
	"github.com/foxseedlab/lessoncall/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/do/v2"
)

const databaseInitTimeout = 15 * time.Second

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (repository.Repository, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if cfg.DatabaseDriver == config.DatabaseDriverSQLite {
			return openSQLiteRepository(cfg.DatabaseURL)
		}
		return openPostgresRepository(cfg.DatabaseURL)
	})
}

func openPostgresRepository(url string) (repository.Repository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), databaseInitTimeout)
	defer cancel()

	p, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := RunMigration(ctx, p); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to run migration: %w", err)
	}
	return NewPostgresRepository(p), nil
}

func openSQLiteRepository(dsn string) (repository.Repository, error) {
	db, err := OpenSQLite(dsn)
	if err != nil {
		return nil, err
	}
	if err := RunSQLiteMigration(db); err != nil {
		return nil, fmt.Errorf("failed to run migration: %w", err)
	}
	return NewSQLiteRepository(db), nil
}

// Migrate applies the schema for the configured driver without starting the
// service.
func Migrate(ctx context.Context, cfg *config.Config) error {
	if cfg.DatabaseDriver == config.DatabaseDriverSQLite {
		db, err := OpenSQLite(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		return RunSQLiteMigration(db)
	}
	p, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}
	defer p.Close()
	return RunMigration(ctx, p)
}
