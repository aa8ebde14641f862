package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/Benny93/apigraph-go/internal/parsers"
	"github.com/Benny93/apigraph-go/internal/pipeline"
)

// DefaultDebounce is the quiet period after the last change before a
// rebuild starts.
const DefaultDebounce = 500 * time.Millisecond

// ChangeHandler receives the relative paths changed since the last call.
type ChangeHandler func(ctx context.Context, changed []string)

// Watch monitors root for changes to description files and calls handle
// once per burst of changes. Blocks until the context is cancelled.
func Watch(ctx context.Context, root string, patterns []gitignore.Pattern, debounce time.Duration, logger *slog.Logger, handle ChangeHandler) error {
	root, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	matcher := newMatcher(patterns)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := addTree(watcher, root, root, matcher); err != nil {
		return fmt.Errorf("setting up watcher: %w", err)
	}

	changed := make(map[string]bool)
	batchTimer := time.NewTimer(debounce)
	batchTimer.Stop() // Don't start yet

	logger.Info("watching for changes", "root", root)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			// New directories are watched as they appear.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addTree(watcher, root, event.Name, matcher); err != nil {
						logger.Warn("watching new directory", "path", event.Name, "error", err)
					}
					continue
				}
			}

			if !shouldWatchFile(event.Name, root, matcher) {
				continue
			}
			relPath, err := filepath.Rel(root, event.Name)
			if err != nil {
				continue
			}
			changed[relPath] = true
			batchTimer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", "error", err)

		case <-batchTimer.C:
			if len(changed) == 0 {
				continue
			}
			paths := make([]string, 0, len(changed))
			for p := range changed {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			changed = make(map[string]bool)
			handle(ctx, paths)
		}
	}
}

// addTree watches dir and every directory below it that is not ignored.
func addTree(watcher *fsnotify.Watcher, root, dir string, matcher gitignore.Matcher) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
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

// shouldWatchFile checks if a file should be watched.
func shouldWatchFile(path, root string, matcher gitignore.Matcher) bool {
	relPath, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if matcher.Match(splitPath(relPath), false) {
		return false
	}
	return isSupportedFile(path)
}

// Rebuilder regenerates every description under a root whenever a watched
// file changes. Any change may touch a fragment included by several roots,
// so each burst rebuilds the whole tree.
type Rebuilder struct {
	Runner  *pipeline.Runner
	Logger  *slog.Logger
	Root    string
	Options BatchOptions

	// OnBatch, when set, is called after every rebuild.
	OnBatch func(*BatchResult)

	known map[string]bool // normalized sources stored by the last rebuild
}

// Rebuild runs one batch and drops registry models whose description is
// gone.
func (r *Rebuilder) Rebuild(ctx context.Context) (*BatchResult, error) {
	res, err := RunBatch(ctx, r.Runner, r.Logger, r.Root, r.Options)
	if err != nil {
		return res, err
	}

	seen := make(map[string]bool, len(res.Items))
	for _, item := range res.Items {
		if id, err := parsers.NormalizeLocation(item.File.Path); err == nil {
			seen[id] = true
		}
	}
	if r.Options.Store != nil {
		for id := range r.known {
			if seen[id] {
				continue
			}
			if _, err := r.Options.Store.DeleteModel(ctx, id); err != nil {
				r.Logger.Warn("removing deleted description", "model", id, "error", err)
			} else {
				r.Logger.Info("removed deleted description", "model", id)
			}
		}
	}
	r.known = seen

	if r.OnBatch != nil {
		r.OnBatch(res)
	}
	return res, nil
}

// Run rebuilds once and then after every burst of changes until the context
// is cancelled.
func (r *Rebuilder) Run(ctx context.Context, debounce time.Duration) error {
	if _, err := r.Rebuild(ctx); err != nil {
		return err
	}
	return Watch(ctx, r.Root, r.Options.Patterns, debounce, r.Logger, func(ctx context.Context, changed []string) {
		r.Logger.Info("rebuilding", "changed", changed)
		if _, err := r.Rebuild(ctx); err != nil && ctx.Err() == nil {
			r.Logger.Error("rebuild failed", "error", err)
		}
	})
}
