package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// listArchives lists the archives in dir with their metadata, newest first.
func listArchives(dir string) ([]Archive, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var archives []Archive
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasPrefix(name, archivePrefix) || !strings.HasSuffix(name, archiveSuffix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue // Skip files we can't stat
		}

		archives = append(archives, Archive{
			Path:      filepath.Join(dir, name),
			CreatedAt: info.ModTime(),
			Size:      info.Size(),
		})
	}

	// Newest first. Names embed the creation timestamp, so they break
	// mod-time ties from archives created in quick succession.
	sort.Slice(archives, func(i, j int) bool {
		if !archives[i].CreatedAt.Equal(archives[j].CreatedAt) {
			return archives[i].CreatedAt.After(archives[j].CreatedAt)
		}
		return archives[i].Path > archives[j].Path
	})

	return archives, nil
}

// pruneArchives removes archives beyond the keep newest and reports how many
// were deleted.
func pruneArchives(dir string, keep int) (int, error) {
	archives, err := listArchives(dir)
	if err != nil {
		return 0, err
	}
	if keep < 0 {
		keep = 0
	}
	if len(archives) <= keep {
		return 0, nil
	}

	pruned := 0
	var lastErr error
	for _, archive := range archives[keep:] {
		if err := os.Remove(archive.Path); err != nil {
			lastErr = err
			// Continue deleting other archives even if one fails
			continue
		}
		pruned++
	}

	if lastErr != nil {
		return pruned, fmt.Errorf("failed to delete some archives: %w", lastErr)
	}
	return pruned, nil
}
