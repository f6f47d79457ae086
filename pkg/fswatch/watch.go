package fswatch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/syncotter/pkg/errors"
	"github.com/sidkik/syncotter/pkg/scan"
)

var fs = afero.NewOsFs()

// Watcher notifies when anything under a directory tree changes.
type Watcher struct {
	root    string
	filter  *scan.Filter
	watcher *fsnotify.Watcher
	events  chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

// Watch starts watching `root` and all of its subdirectories, except for
// those excluded by `filter`. Directories created later are watched as they
// appear.
func Watch(root string, filter *scan.Filter) (*Watcher, error) {
	pathsToWatch, err := getPathsToWatch(root, filter)
	if err != nil {
		return nil, errors.WithContext(err, "get paths")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.WithContext(err, "create watcher")
	}

	for _, path := range pathsToWatch {
		if err := watcher.Add(path); err != nil {
			// Close the watcher so that we release the file handlers for the
			// previously added paths.
			if err := watcher.Close(); err != nil {
				log.WithError(err).Warn("Failed to close file watcher")
			}

			return nil, errors.WithContext(err, fmt.Sprintf("watch %q", path))
		}
	}

	w := &Watcher{
		root:    root,
		filter:  filter,
		watcher: watcher,
		events:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Events returns a channel that receives a value after files change. Bursts
// of changes are combined into a single value. The channel is closed after
// the watcher is closed.
func (w *Watcher) Events() <-chan struct{} {
	return w.events
}

// Close stops watching and releases the watched file handles.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.watcher.Close()
		<-w.done
	})
	return err
}

func (w *Watcher) run() {
	defer close(w.done)
	defer close(w.events)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.handle(event) {
				w.notify()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("File watcher error")

			// Events may have been dropped, so trigger a sync to be safe.
			w.notify()
		}
	}
}

// handle returns whether the event should trigger a sync.
func (w *Watcher) handle(event fsnotify.Event) bool {
	relPath, err := filepath.Rel(w.root, event.Name)
	if err != nil || strings.HasPrefix(relPath, "..") {
		return false
	}
	if w.filter.Excludes(relPath) {
		return false
	}

	if event.Op&fsnotify.Create == fsnotify.Create {
		if fi, err := fs.Stat(event.Name); err == nil && fi.IsDir() {
			// Empty directories aren't synced, so an excluded one is
			// irrelevant until files appear in it, which they never will.
			if w.filter.ExcludesDir(fi.Name()) {
				return false
			}
			w.addDirectory(event.Name)
		}
	}
	return true
}

// addDirectory watches a directory that was created after the watcher
// started, along with anything created inside it before it was added.
func (w *Watcher) addDirectory(dir string) {
	paths, err := getChildren(dir, w.filter)
	if err != nil {
		log.WithError(err).WithField("path", dir).Warn("Failed to watch new directory")
		return
	}

	for _, path := range append([]string{dir}, paths...) {
		if err := w.watcher.Add(path); err != nil {
			log.WithError(err).WithField("path", path).Warn("Failed to watch new directory")
		}
	}
}

func (w *Watcher) notify() {
	select {
	case w.events <- struct{}{}:
	default:
	}
}

// IsWatchLimit returns whether `err` was caused by the operating system's
// limit on watched files.
func IsWatchLimit(err error) bool {
	if err == nil {
		return false
	}

	msg := errors.RootCause(err).Error()
	return strings.Contains(msg, "too many open files") ||
		strings.Contains(msg, "no space left on device")
}

func getPathsToWatch(root string, filter *scan.Filter) ([]string, error) {
	fi, err := fs.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound{Path: root}
		}
		return nil, errors.WithContext(err, "stat")
	}

	if !fi.IsDir() {
		return nil, errors.NewFriendlyError("The source %q is not a directory.", root)
	}

	// Because fsnotify doesn't watch directories recursively, we walk the
	// directory and add all subdirectories.
	children, err := getChildren(root, filter)
	if err != nil {
		return nil, errors.WithContext(err, "get subdirs")
	}
	return append([]string{root}, children...), nil
}

func getChildren(dir string, filter *scan.Filter) (paths []string, err error) {
	err = afero.Walk(fs, dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return errors.WithContext(err, "walk error")
		}

		if path == dir || !fi.IsDir() {
			return nil
		}

		if filter.ExcludesDir(fi.Name()) {
			return filepath.SkipDir
		}

		paths = append(paths, path)
		return nil
	})
	return paths, err
}
