// cmd/mnemod is the entry point for the mnemo memory daemon. It wires the
// storage backend through the memory engine and runs the checkpoint service
// against the work-item tracker export.
//
// Startup sequence:
//  1. Load configuration (defaults, optional YAML file, MNEMO_* env vars).
//  2. Open the storage backend (SQLite or PostgreSQL).
//  3. Build the embedding provider and cache, unless embedding is disabled.
//  4. Start the memory engine with the persisted retrieval tuning.
//  5. Start the work-item file source and checkpoint service.
//  6. Block until SIGINT/SIGTERM, then shut down in reverse order.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/natefox/mnemo/internal/cache"
	"github.com/natefox/mnemo/internal/checkpoint"
	"github.com/natefox/mnemo/internal/config"
	"github.com/natefox/mnemo/internal/engine"
	"github.com/natefox/mnemo/internal/llm"
	"github.com/natefox/mnemo/internal/services"
	"github.com/natefox/mnemo/internal/storage"
	"github.com/natefox/mnemo/internal/storage/postgres"
	"github.com/natefox/mnemo/internal/storage/sqlite"
	"github.com/natefox/mnemo/internal/tasks"
)

var configPath = flag.String("config", "", "Path to YAML config file (optional)")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mnemod: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	ctx := context.Background()

	store, err := openStore(cfg.Storage, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open storage backend")
	}

	embedder := buildEmbedder(cfg.Embedding, logger)

	// Retrieval tuning lives in the settings table so operators can adjust
	// it without a rebuild. A load failure falls back to defaults.
	settings, ok := store.(storage.SettingsStore)
	if !ok {
		logger.Fatal().Msg("storage backend does not provide settings")
	}
	tuningService, err := services.NewTuningService(settings, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create tuning service")
	}
	tuning, err := tuningService.Load(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load retrieval tuning, using defaults")
	}

	eng, err := engine.NewMemoryEngine(store, embedder, engine.Config{Tuning: tuning}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create memory engine")
	}
	if err := eng.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start memory engine")
	}

	var fileSource *tasks.FileSource
	var checkpointer *checkpoint.Service
	if cfg.Checkpoint.Disabled {
		logger.Info().Msg("checkpoint service disabled")
	} else {
		fileSource = tasks.NewFileSource(cfg.Checkpoint.WorkItemsPath, logger)
		if err := fileSource.Start(); err != nil {
			logger.Fatal().Err(err).Msg("failed to start work item source")
		}

		checkpointer, err = checkpoint.NewService(fileSource, eng, checkpoint.Config{
			Interval:     cfg.Checkpoint.Interval.Std(),
			StopGrace:    cfg.Checkpoint.StopGrace.Std(),
			WriteTimeout: cfg.Checkpoint.WriteTimeout.Std(),
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create checkpoint service")
		}
		if err := checkpointer.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to start checkpoint service")
		}
		eng.SetCheckpointer(checkpointer)
	}

	logger.Info().
		Str("backend", cfg.Storage.Backend).
		Bool("embedding", !cfg.Embedding.Disabled).
		Bool("checkpoint", !cfg.Checkpoint.Disabled).
		Msg("mnemod ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	if checkpointer != nil {
		if err := checkpointer.Stop(ctx); err != nil {
			logger.Error().Err(err).Msg("checkpoint service stop failed")
		}
	}
	if fileSource != nil {
		fileSource.Stop()
	}
	if err := eng.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("engine shutdown failed")
	}
	if err := store.Close(); err != nil {
		logger.Error().Err(err).Msg("store close failed")
	}

	logger.Info().Msg("shutdown complete")
}

// newLogger builds the root logger all components derive from.
func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stderr
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// openStore opens the configured storage backend, creating the data
// directory for SQLite as needed.
func openStore(cfg config.StorageConfig, logger zerolog.Logger) (storage.MemoryStore, error) {
	switch cfg.Backend {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return sqlite.NewMemoryStore(cfg.SQLitePath)
	case "postgres":
		return postgres.NewMemoryStore(cfg.PostgresDSN, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// buildEmbedder constructs the cached embedding provider, or nil when
// embedding is disabled and the daemon runs lexical-only.
func buildEmbedder(cfg config.EmbeddingConfig, logger zerolog.Logger) llm.EmbeddingGenerator {
	if cfg.Disabled {
		logger.Info().Msg("embedding disabled, running lexical-only")
		return nil
	}

	provider, err := llm.NewEmbedder(llm.Config{
		Provider:          cfg.Provider,
		BaseURL:           cfg.BaseURL,
		Model:             cfg.Model,
		APIKey:            cfg.APIKey,
		Timeout:           cfg.Timeout.Std(),
		RequestsPerSecond: cfg.RequestsPerSecond,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create embedding provider")
	}

	cached, err := cache.NewEmbeddingCache(provider, cfg.CacheCapacity)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create embedding cache")
	}

	logger.Info().
		Str("provider", cfg.Provider).
		Str("model", cached.GetModel()).
		Int("cache_capacity", cfg.CacheCapacity).
		Msg("embedding provider ready")
	return cached
}
