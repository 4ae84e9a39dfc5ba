package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

const (
	archivePrefix = "mnemo-backup-"
	archiveSuffix = ".zip"

	defaultKeep = 10
)

// Service creates, lists, and restores database archives.
type Service struct {
	config Config
	logger zerolog.Logger
}

// NewService validates the configuration and prepares the archive directory.
func NewService(config Config, logger zerolog.Logger) (*Service, error) {
	if config.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if config.ArchiveDir == "" {
		return nil, fmt.Errorf("archive directory is required")
	}
	if config.Keep <= 0 {
		config.Keep = defaultKeep
	}

	if err := os.MkdirAll(config.ArchiveDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	return &Service{
		config: config,
		logger: logger.With().Str("component", "backup").Logger(),
	}, nil
}

// Create checkpoints the database, compresses it into a timestamped archive,
// and prunes archives beyond the keep count.
func (s *Service) Create(ctx context.Context) (*Result, error) {
	start := time.Now()

	if _, err := os.Stat(s.config.DBPath); err != nil {
		return nil, fmt.Errorf("database not found: %w", err)
	}

	if err := checkpointDatabase(ctx, s.config.DBPath); err != nil {
		return nil, err
	}

	if s.config.Verify {
		if err := verifyDatabase(s.config.DBPath); err != nil {
			return nil, err
		}
	}

	timestamp := time.Now().UTC().Format("20060102-150405.000000")
	archivePath := filepath.Join(s.config.ArchiveDir, archivePrefix+timestamp+archiveSuffix)

	if err := writeArchive(s.config.DBPath, archivePath); err != nil {
		return nil, err
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	pruned, err := pruneArchives(s.config.ArchiveDir, s.config.Keep)
	if err != nil {
		// The archive itself succeeded; retention failures only get logged.
		s.logger.Warn().Err(err).Msg("failed to prune old archives")
	}

	result := &Result{
		Path:     archivePath,
		Size:     info.Size(),
		Duration: time.Since(start),
		Pruned:   pruned,
	}

	s.logger.Info().
		Str("path", result.Path).
		Int64("size_bytes", result.Size).
		Int("pruned", result.Pruned).
		Dur("duration", result.Duration).
		Msg("archive created")
	return result, nil
}

// List returns the archives on disk, newest first.
func (s *Service) List() ([]Archive, error) {
	return listArchives(s.config.ArchiveDir)
}

// Restore replaces the database with the contents of an archive. The daemon
// must not be running against the database during a restore.
func (s *Service) Restore(ctx context.Context, archivePath string) error {
	if _, err := os.Stat(archivePath); err != nil {
		return fmt.Errorf("archive not found: %w", err)
	}

	staging := s.config.DBPath + ".restoring"
	if err := extractArchive(archivePath, staging); err != nil {
		return err
	}
	defer func() { _ = os.Remove(staging) }()

	if err := verifyDatabase(staging); err != nil {
		return fmt.Errorf("archived database failed verification: %w", err)
	}

	// Keep the current database around until the swap is known good.
	preRestore := s.config.DBPath + ".pre-restore"
	if _, err := os.Stat(s.config.DBPath); err == nil {
		if err := os.Rename(s.config.DBPath, preRestore); err != nil {
			return fmt.Errorf("failed to set aside current database: %w", err)
		}
	}

	if err := os.Rename(staging, s.config.DBPath); err != nil {
		if _, statErr := os.Stat(preRestore); statErr == nil {
			if rollbackErr := os.Rename(preRestore, s.config.DBPath); rollbackErr != nil {
				return fmt.Errorf("restore failed and rollback failed: %v (restore error: %w)", rollbackErr, err)
			}
			return fmt.Errorf("restore failed, rolled back to previous state: %w", err)
		}
		return fmt.Errorf("failed to install restored database: %w", err)
	}

	// Stale WAL sidecars from the replaced database would corrupt the
	// restored one on first open.
	_ = os.Remove(s.config.DBPath + "-wal")
	_ = os.Remove(s.config.DBPath + "-shm")
	_ = os.Remove(preRestore)

	s.logger.Info().Str("archive", archivePath).Msg("database restored")
	return nil
}
