// Package tasks provides work-item sources for the checkpoint service.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/natefox/mnemo/internal/checkpoint"
	"github.com/natefox/mnemo/pkg/types"
)

// Compile-time check.
var _ checkpoint.WorkItemSource = (*FileSource)(nil)

// activeStatuses are the tracker statuses that checkpoint cycles snapshot.
var activeStatuses = map[string]bool{
	"active":      true,
	"in_progress": true,
}

// workItemDocument is the on-disk shape of the tracker export.
type workItemDocument struct {
	WorkItems []types.WorkItem `json:"work_items"`
}

// FileSource serves work items from a JSON document maintained by an
// external tracker. The file's parent directory is watched so atomic
// replace-by-rename writers are picked up; the in-memory snapshot is
// replaced wholesale on every reload. A missing file is an empty list, not
// an error.
type FileSource struct {
	path    string
	logger  zerolog.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}

	mu    sync.RWMutex
	items []types.WorkItem
}

// NewFileSource creates a source reading work items from the file at path.
func NewFileSource(path string, logger zerolog.Logger) *FileSource {
	return &FileSource{
		path:   filepath.Clean(path),
		logger: logger.With().Str("component", "tasks").Logger(),
		done:   make(chan struct{}),
	}
}

// Start loads the current snapshot and begins watching for changes. Call
// Stop to clean up.
func (f *FileSource) Start() error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f.reload()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return err
	}
	f.watcher = w

	go f.loop()
	f.logger.Info().Str("path", f.path).Msg("watching work item file")
	return nil
}

// Stop shuts down the watcher.
func (f *FileSource) Stop() {
	if f.watcher == nil {
		return
	}
	_ = f.watcher.Close()
	<-f.done
}

// ListActiveWorkItems returns the work items in active statuses from the
// current snapshot.
func (f *FileSource) ListActiveWorkItems(ctx context.Context) ([]types.WorkItem, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	active := make([]types.WorkItem, 0, len(f.items))
	for _, item := range f.items {
		if item.ID == "" || !activeStatuses[item.Status] {
			continue
		}
		active = append(active, item)
	}
	return active, nil
}

func (f *FileSource) loop() {
	defer close(f.done)
	for {
		select {
		case evt, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(evt.Name) != filepath.Base(f.path) {
				continue
			}
			if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0 {
				f.reload()
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn().Err(err).Msg("work item watcher error")
		}
	}
}

// reload replaces the snapshot from disk. An unreadable or unparseable file
// keeps the previous snapshot; it may be mid-write and the next event
// retries.
func (f *FileSource) reload() {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		f.setItems(nil)
		return
	}
	if err != nil {
		f.logger.Warn().Err(err).Str("path", f.path).Msg("failed to read work item file")
		return
	}

	var doc workItemDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		f.logger.Warn().Err(err).Str("path", f.path).Msg("invalid work item file, keeping previous snapshot")
		return
	}

	f.setItems(doc.WorkItems)
	f.logger.Debug().Int("items", len(doc.WorkItems)).Msg("work item snapshot reloaded")
}

func (f *FileSource) setItems(items []types.WorkItem) {
	f.mu.Lock()
	f.items = items
	f.mu.Unlock()
}
