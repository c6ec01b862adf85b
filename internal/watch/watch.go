// Package watch reruns a callback whenever way documents under a root
// directory change. Bursts of file-system events are coalesced: the
// callback runs once the tree has been quiet for the debounce delay.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is used when Options.Debounce is zero.
const DefaultDebounce = 500 * time.Millisecond

// Options configures a Watcher.
type Options struct {
	// Document is the way file name whose changes trigger a rerun.
	Document string
	// Exclude lists doublestar patterns, relative to the root, for
	// directories that are never watched.
	Exclude []string
	// Debounce is the quiet period before the callback runs.
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watcher watches a ways tree recursively.
type Watcher struct {
	root    string
	opts    Options
	fsw     *fsnotify.Watcher
	logger  *slog.Logger
	watched map[string]bool
}

// New creates a Watcher and registers watches on root and every
// non-excluded directory below it. Events are buffered from this point on,
// so changes made before Run is called are not lost.
func New(root string, opts Options) (*Watcher, error) {
	if opts.Document == "" {
		return nil, errors.New("watch: document name is required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Watches are registered on the resolved tree, so events carry resolved
	// paths.
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", root, err)
	}
	root = resolved

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{
		root:    root,
		opts:    opts,
		fsw:     fsw,
		logger:  logger,
		watched: make(map[string]bool),
	}
	if _, err := w.addRecursive(root); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}
	return w, nil
}

// Close releases the underlying watches. Run closes the watcher itself on
// return; Close is only needed when Run is never called.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run processes events until ctx is cancelled, calling onChange after every
// debounced burst of relevant changes. Callback errors are logged and do
// not stop the loop. Run returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context, onChange func(context.Context) error) error {
	defer w.fsw.Close()

	timer := time.NewTimer(w.opts.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	w.logger.Info("watching ways directory",
		"root", w.root,
		"document", w.opts.Document,
		"debounce", w.opts.Debounce)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.relevant(event) {
				timer.Reset(w.opts.Debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)

		case <-timer.C:
			if err := onChange(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.logger.Error("rerun failed", "error", err)
			}
		}
	}
}

// relevant reports whether event may change the scan result, registering
// watches on newly created directories as a side effect.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	path := filepath.Clean(event.Name)

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		if w.watched[path] {
			delete(w.watched, path)
			w.logger.Debug("directory removed", "path", path)
			return true
		}
		return filepath.Base(path) == w.opts.Document
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			found, err := w.addRecursive(path)
			if err != nil {
				w.logger.Warn("failed to watch new directory", "path", path, "error", err)
			}
			return found
		}
	}

	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}
	if filepath.Base(path) != w.opts.Document {
		return false
	}
	w.logger.Debug("document changed", "path", path, "op", event.Op.String())
	return true
}

// addRecursive watches dir and its subdirectories, skipping excluded ones.
// It reports whether a document already exists anywhere below dir.
func (w *Watcher) addRecursive(dir string) (bool, error) {
	found := false
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			w.logger.Warn("skipping unreadable path", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			if d.Name() == w.opts.Document {
				found = true
			}
			return nil
		}
		if w.excluded(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn("failed to watch directory", "path", path, "error", err)
			return nil
		}
		w.watched[filepath.Clean(path)] = true
		return nil
	})
	return found, err
}

func (w *Watcher) excluded(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range w.opts.Exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
