package ingestion

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period after the last file event before a
// reload starts.
const DefaultDebounce = 500 * time.Millisecond

// ReloadFunc is called after every reload triggered by the watcher.
type ReloadFunc func(res *LoadResult, err error)

// WatchOptions configure Loader.Watch.
type WatchOptions struct {
	// Debounce defaults to DefaultDebounce.
	Debounce time.Duration

	// OnReload may be nil.
	OnReload ReloadFunc

	// ready, when set, is closed once the watches are installed.
	ready chan struct{}
}

// Watch monitors the dataset path and reloads it after changes settle.
// Each reload applies the difference to the previous load and commits it,
// so queries see either the old or the new dataset. Blocks until the
// context is cancelled.
func (l *Loader) Watch(ctx context.Context, opts WatchOptions) error {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	info, err := os.Stat(l.path)
	if err != nil {
		return fmt.Errorf("watching dataset: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	// A single file is watched through its directory, since editors
	// often replace files by renaming.
	root := l.path
	var matcher gitignore.Matcher
	if info.IsDir() {
		if matcher, err = loadMatcher(root); err != nil {
			return err
		}
		if err := addWatches(watcher, root, root, matcher); err != nil {
			return fmt.Errorf("setting up watcher: %w", err)
		}
	} else if err := watcher.Add(filepath.Dir(root)); err != nil {
		return fmt.Errorf("setting up watcher: %w", err)
	}

	batchTimer := time.NewTimer(opts.Debounce)
	batchTimer.Stop()
	pending := false

	l.logger.Info("watching dataset", zap.String("path", l.path), zap.Duration("debounce", opts.Debounce))
	if opts.ready != nil {
		close(opts.ready)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !l.relevant(event, info.IsDir(), matcher) {
				continue
			}
			if info.IsDir() && event.Has(fsnotify.Create) {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					if err := addWatches(watcher, l.path, event.Name, matcher); err != nil {
						l.logger.Warn("watching new directory", zap.String("dir", event.Name), zap.Error(err))
					}
				}
			}
			pending = true
			batchTimer.Reset(opts.Debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("watch error", zap.Error(err))

		case <-batchTimer.C:
			if !pending {
				continue
			}
			pending = false
			res, err := l.Load(ctx, nil)
			if err != nil {
				l.logger.Error("reloading dataset", zap.String("path", l.path), zap.Error(err))
			}
			if opts.OnReload != nil {
				opts.OnReload(res, err)
			}
		}
	}
}

// relevant reports whether event can change the dataset.
func (l *Loader) relevant(event fsnotify.Event, dir bool, matcher gitignore.Matcher) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	if !dir {
		return filepath.Clean(event.Name) == filepath.Clean(l.path)
	}

	relPath, err := filepath.Rel(l.path, event.Name)
	if err != nil {
		return false
	}
	if filepath.Base(relPath) == ".gitignore" {
		return true
	}
	if matcher != nil && matcher.Match(splitPath(relPath), false) {
		return false
	}
	if isDatasetFile(event.Name) {
		return true
	}
	// Created or removed directories may hold dataset files.
	fi, err := os.Stat(event.Name)
	return err != nil || fi.IsDir()
}

// addWatches watches dir and its subdirectories that are not ignored,
// matching paths relative to root.
func addWatches(watcher *fsnotify.Watcher, root, dir string, matcher gitignore.Matcher) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && shouldSkipDir(d.Name(), path, root, matcher) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

// WatchDataset loads the dataset at path into store, then keeps it in sync
// until ctx is cancelled. onReload may be nil.
func WatchDataset(ctx context.Context, path string, store *Store, onReload ReloadFunc) error {
	l := NewLoader(store, path)
	if _, err := l.Load(ctx, nil); err != nil {
		return err
	}
	return l.Watch(ctx, WatchOptions{OnReload: onReload})
}
