package intake

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher feeds candidate XML paths to a Pipeline: first a synchronous
// sweep of files already present under the watch root, then live
// filesystem creation events until the context is cancelled.
type Watcher struct {
	cfg      ProcessorConfig
	pipeline *Pipeline
	logger   *slog.Logger
}

// NewWatcher wires a watcher over the given pipeline.
func NewWatcher(cfg ProcessorConfig, pipeline *Pipeline, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{cfg: cfg, pipeline: pipeline, logger: logger}
}

// Run blocks until ctx is cancelled. Files are dispatched strictly one at
// a time: the watch loop does not pick up the next event until the current
// file has run to Done. Per-file errors are absorbed by the pipeline and
// never terminate the loop.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.sweep(ctx); err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("intake: create watcher: %w", err)
	}
	defer fsw.Close()

	if err := w.addWatches(fsw); err != nil {
		return err
	}

	w.logger.Info("watching for new files",
		"dir", w.cfg.WatchDir, "recursive", w.cfg.Recursive)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopped")
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create == 0 {
				continue
			}
			w.handleCreate(ctx, fsw, ev.Name)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch notification error", "error", err)
		}
	}
}

func (w *Watcher) handleCreate(ctx context.Context, fsw *fsnotify.Watcher, path string) {
	info, err := os.Stat(path)
	if err != nil {
		w.logger.Debug("created path vanished", "path", path, "error", err)
		return
	}

	if info.IsDir() {
		if !w.cfg.Recursive {
			return
		}
		// Watch the whole new subtree, then sweep it: a single Create
		// event covers an entire mkdir -p batch, and files dropped in
		// between creation and watch registration would otherwise be
		// missed.
		if err := watchTree(fsw, path); err != nil {
			w.logger.Warn("cannot watch new directory", "dir", path, "error", err)
			return
		}
		w.logger.Debug("watching new directory", "dir", path)
		if err := w.sweepDir(ctx, path); err != nil {
			w.logger.Warn("sweep of new directory failed", "dir", path, "error", err)
		}
		return
	}

	if !isXML(path) {
		w.logger.Debug("ignoring non-XML file", "path", path)
		return
	}

	w.pipeline.Process(ctx, path)
}

// sweep processes every XML file already present under the watch root, in
// lexical path order, so files that arrived before startup are not lost.
func (w *Watcher) sweep(ctx context.Context) error {
	files, err := w.listXML(w.cfg.WatchDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}

	w.logger.Info("processing pre-existing files", "count", len(files))
	for _, path := range files {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.pipeline.Process(ctx, path)
	}
	return nil
}

func (w *Watcher) sweepDir(ctx context.Context, dir string) error {
	files, err := w.listXML(dir)
	if err != nil {
		return err
	}
	for _, path := range files {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.pipeline.Process(ctx, path)
	}
	return nil
}

// listXML returns the XML files under dir (recursively when configured),
// sorted lexically by path.
func (w *Watcher) listXML(dir string) ([]string, error) {
	var files []string

	if w.cfg.Recursive {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && isXML(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("intake: walk %s: %w", dir, err)
		}
	} else {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("intake: read dir %s: %w", dir, err)
		}
		for _, e := range entries {
			if !e.IsDir() && isXML(e.Name()) {
				files = append(files, filepath.Join(dir, e.Name()))
			}
		}
	}

	sort.Strings(files)
	return files, nil
}

// addWatches registers the watch root and, in recursive mode, every
// existing subdirectory (fsnotify watches are not recursive by themselves).
func (w *Watcher) addWatches(fsw *fsnotify.Watcher) error {
	if !w.cfg.Recursive {
		if err := fsw.Add(w.cfg.WatchDir); err != nil {
			return fmt.Errorf("intake: watch %s: %w", w.cfg.WatchDir, err)
		}
		return nil
	}

	if err := watchTree(fsw, w.cfg.WatchDir); err != nil {
		return fmt.Errorf("intake: %w", err)
	}
	return nil
}

// watchTree adds a watch on root and on every directory below it.
func watchTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := fsw.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
		}
		return nil
	})
}

func isXML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".xml")
}
