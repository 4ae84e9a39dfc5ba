// cmd/mnemo-backup archives the mnemo SQLite database into timestamped zip
// files and prunes old archives. It is designed to run from cron or by hand
// while the daemon is stopped or idle; restores must only run against a
// stopped daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/natefox/mnemo/internal/backup"
	"github.com/natefox/mnemo/internal/config"
)

var (
	configPath = flag.String("config", "", "Path to YAML config file (optional)")
	dbPath     = flag.String("db", "", "Path to SQLite database file (overrides config)")
	archiveDir = flag.String("archive-dir", "", "Archive directory (overrides config)")
	keep       = flag.Int("keep", 0, "Number of archives to retain (overrides config)")
	skipVerify = flag.Bool("skip-verify", false, "Skip the integrity check before archiving")
	listCmd    = flag.Bool("list", false, "List available archives and exit")
	restore    = flag.String("restore", "", "Restore the database from an archive and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mnemo-backup: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	if cfg.Storage.Backend != "sqlite" {
		logger.Fatal().Str("backend", cfg.Storage.Backend).
			Msg("file archives support only the sqlite backend, use pg_dump for postgres")
	}

	// Command-line flags override the config file.
	dbPathFinal := cfg.Storage.SQLitePath
	if *dbPath != "" {
		dbPathFinal = *dbPath
	}
	archiveDirFinal := cfg.Backup.ArchiveDir
	if *archiveDir != "" {
		archiveDirFinal = *archiveDir
	}
	keepFinal := cfg.Backup.Keep
	if *keep > 0 {
		keepFinal = *keep
	}

	service, err := backup.NewService(backup.Config{
		DBPath:     dbPathFinal,
		ArchiveDir: archiveDirFinal,
		Keep:       keepFinal,
		Verify:     !cfg.Backup.SkipVerify && !*skipVerify,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create backup service")
	}

	ctx := context.Background()

	switch {
	case *restore != "":
		handleRestore(ctx, service, logger, *restore)
	case *listCmd:
		handleList(service, logger)
	default:
		handleCreate(ctx, service, logger)
	}
}

func handleCreate(ctx context.Context, service *backup.Service, logger zerolog.Logger) {
	result, err := service.Create(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("backup failed")
	}

	fmt.Printf("Archive created: %s\n", result.Path)
	fmt.Printf("  Size: %.2f MB\n", float64(result.Size)/(1024*1024))
	fmt.Printf("  Duration: %v\n", result.Duration.Round(time.Millisecond))
	if result.Pruned > 0 {
		fmt.Printf("  Pruned: %d old archive(s)\n", result.Pruned)
	}
}

func handleList(service *backup.Service, logger zerolog.Logger) {
	archives, err := service.List()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to list archives")
	}

	if len(archives) == 0 {
		fmt.Println("No archives found")
		return
	}

	fmt.Printf("Found %d archive(s):\n\n", len(archives))
	for i, a := range archives {
		fmt.Printf("%d. %s\n", i+1, a.Path)
		fmt.Printf("   Size: %.2f MB\n", float64(a.Size)/(1024*1024))
		fmt.Printf("   Created: %s (%s ago)\n",
			a.CreatedAt.Format(time.RFC3339),
			time.Since(a.CreatedAt).Round(time.Minute))
		fmt.Println()
	}
}

func handleRestore(ctx context.Context, service *backup.Service, logger zerolog.Logger, archivePath string) {
	logger.Info().Str("archive", archivePath).Msg("restoring database")

	if err := service.Restore(ctx, archivePath); err != nil {
		logger.Fatal().Err(err).Msg("restore failed")
	}

	fmt.Println("Database restored successfully")
}

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
