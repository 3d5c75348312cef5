package app

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"filmdoms/cmd/internal/migrations"
)

// Bootstrap loads .env, reads Config and installs the process logger.
func Bootstrap() (Config, *slog.Logger, error) {
	if err := LoadDotEnv(); err != nil {
		return Config{}, nil, fmt.Errorf("dotenv: %w", err)
	}
	cfg := LoadConfig()
	if err := cfg.Validate(); err != nil {
		return Config{}, nil, err
	}
	return cfg, NewLogger(cfg.LogLevel, cfg.LogFormat), nil
}

// Serve runs the HTTP server until SIGINT or SIGTERM.
// It returns an error instead of calling os.Exit to keep defers effective.
func Serve(parent context.Context) error {
	cfg, log, err := Bootstrap()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Run(ctx)
}

// Migrate applies the embedded migrations to FILMDOMS_DATABASE_URL.
func Migrate(ctx context.Context) error {
	cfg, log, err := Bootstrap()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("%w: migrate requires FILMDOMS_DATABASE_URL", ErrConfig)
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := EnsureSchema(ctx, pool, cfg.DBSchema); err != nil {
		return fmt.Errorf("db: ensure schema: %w", err)
	}
	if err := migrations.Up(ctx, pool); err != nil {
		return err
	}
	log.Info("db.migrated", "schema", cfg.DBSchema)
	return nil
}

// PurgeSessions deletes refresh-token records that expired more than
// olderThan ago and returns how many were removed.
func PurgeSessions(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan < 0 {
		return 0, fmt.Errorf("%w: -older-than must not be negative", ErrConfig)
	}
	cfg, log, err := Bootstrap()
	if err != nil {
		return 0, err
	}
	if cfg.sessionStore() == StoreMemory {
		log.Warn("session.purge.memory_store", "hint", "nothing persists between runs")
	}

	a, err := New(ctx, cfg, log)
	if err != nil {
		return 0, err
	}
	defer a.Close()

	cutoff := time.Now().UTC().Add(-olderThan)
	n, err := a.Sessions().PurgeExpired(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	log.Info("session.purged", "count", n, "before", cutoff)
	return n, nil
}
