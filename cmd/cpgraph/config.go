package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/cpgraph/engine/internal/config"
	"github.com/cpgraph/engine/internal/cpgerrors"
	"github.com/cpgraph/engine/internal/database"
	"github.com/cpgraph/engine/internal/storage"
)

// loadAppConfig reads configuration from the environment, requiring DB_URL
// as every subcommand's storage connection string.
func loadAppConfig() (config.AppConfig, error) {
	env, err := config.LoadFromEnv()
	if err != nil {
		return config.AppConfig{}, cpgerrors.Usage("load environment configuration", err)
	}
	if env.DBURL == "" {
		return config.AppConfig{}, cpgerrors.Usage("DB_URL environment variable is required", nil)
	}
	return env.ToAppConfig(), nil
}

// openStore opens the database DB_URL points at and migrates it.
func openStore(ctx context.Context, cfg config.AppConfig) (*storage.Store, func() error, error) {
	db, err := database.NewDatabase(ctx, cfg.DBURL())
	if err != nil {
		return nil, nil, err
	}
	store := storage.New(db)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, db.Close, nil
}

// newLogger builds a slog.Logger honoring cfg's level and format.
func newLogger(cfg config.AppConfig) *slog.Logger {
	level := parseLogLevel(cfg.LogLevel())
	var handler slog.Handler
	if cfg.LogFormat() == config.LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
