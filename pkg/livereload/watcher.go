package livereload

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Watcher reports file changes below a set of directories, batched over the
// debounce window. fsnotify is not recursive, new directories are added as
// they appear.
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	skip     func(path string) bool

	l        sync.Mutex
	onChange []func(paths []string)
}

// DefaultSkip ignores dot directories and node_modules.
func DefaultSkip(path string) bool {
	name := filepath.Base(path)
	return name == "node_modules" || (strings.HasPrefix(name, ".") && name != "." && name != "..")
}

func NewWatcher(debounce time.Duration, skip func(path string) bool, dirs ...string) (*Watcher, error) {
	if skip == nil {
		skip = DefaultSkip
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create watcher")
	}
	w := &Watcher{
		watcher:  watcher,
		debounce: debounce,
		skip:     skip,
	}
	for _, dir := range dirs {
		if stat, err := os.Stat(dir); err != nil || !stat.IsDir() {
			continue
		}
		if err := w.addRecursive(dir); err != nil {
			_ = watcher.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.skip(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return errors.Wrapf(err, "watch %s", path)
		}
		return nil
	})
}

func (w *Watcher) OnChange(fn func(paths []string)) {
	w.l.Lock()
	defer w.l.Unlock()
	w.onChange = append(w.onChange, fn)
}

func (w *Watcher) notify(paths []string) {
	w.l.Lock()
	calls := append([]func([]string){}, w.onChange...)
	w.l.Unlock()
	for _, call := range calls {
		call(paths)
	}
}

// Run dispatches change batches until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	pending := make(map[string]struct{})
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op == fsnotify.Chmod || w.skip(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if stat, err := os.Stat(event.Name); err == nil && stat.IsDir() {
					if err := w.addRecursive(event.Name); err != nil {
						zap.L().Warn("failed to watch new directory", zap.String("path", event.Name), zap.Error(err))
					}
				}
			}
			pending[event.Name] = struct{}{}
			timer.Reset(w.debounce)
		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for path := range pending {
				paths = append(paths, path)
			}
			sort.Strings(paths)
			clear(pending)
			zap.L().Debug("files changed", zap.Strings("paths", paths))
			w.notify(paths)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			zap.L().Warn("fsnotify watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}
