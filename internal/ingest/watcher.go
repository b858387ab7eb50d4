package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-aggregates a session directory whenever one of its log files
// changes. Dedup in the ledger makes the re-runs cheap no-ops.
type Watcher struct {
	root   string
	agg    *Aggregator
	logger *slog.Logger
}

// NewWatcher builds a watcher over the session-logs root.
func NewWatcher(root string, agg *Aggregator, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{root: root, agg: agg, logger: logger}
}

// Start blocks until ctx is done, dispatching aggregation runs for changed
// session directories.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(w.root); err != nil {
		return err
	}
	// Existing session directories are watched individually; new ones are
	// added as they appear.
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			_ = fsw.Add(filepath.Join(w.root, entry.Name()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, fsw, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("session watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, fsw *fsnotify.Watcher, event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	// A new directory directly under the root becomes a watched session.
	if filepath.Dir(event.Name) == w.root {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = fsw.Add(event.Name)
			return
		}
	}
	base := filepath.Base(event.Name)
	if base != uiMessagesFile && base != apiHistoryFile {
		return
	}
	dir := filepath.Dir(event.Name)
	if err := w.agg.RunDir(ctx, dir); err != nil {
		w.logger.Warn("re-aggregation failed", "dir", dir, "error", err)
	}
}
