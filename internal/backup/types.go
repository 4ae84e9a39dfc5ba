// Package backup archives the SQLite database into timestamped zip files
// with a keep-count retention policy.
package backup

import (
	"time"
)

// Config holds backup settings.
type Config struct {
	// DBPath is the SQLite database file to archive.
	DBPath string

	// ArchiveDir is the directory archives are written to.
	ArchiveDir string

	// Keep is how many archives to retain, newest first (default: 10).
	Keep int

	// Verify runs an integrity check on the database before archiving.
	Verify bool
}

// Archive contains metadata about an archive file.
type Archive struct {
	// Path is the full path to the archive file.
	Path string

	// CreatedAt is when the archive was created.
	CreatedAt time.Time

	// Size is the archive file size in bytes.
	Size int64
}

// Result contains the result of a backup operation.
type Result struct {
	// Path is the path to the created archive.
	Path string

	// Size is the archive file size in bytes.
	Size int64

	// Duration is how long the backup took.
	Duration time.Duration

	// Pruned is how many old archives were removed afterwards.
	Pruned int
}
