package watchdog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

type WatchDogFactory struct {
	logger *zap.Logger
}

// FilterFunc decides whether a changed path is forwarded.
type FilterFunc func(string) bool

type WatchDog struct {
	watchCtx   context.Context
	notifyChan chan<- string
	filter     FilterFunc
	logger     *zap.Logger

	// states
	watcher *fsnotify.Watcher
}

func NewWatchDogFactory(logger *zap.Logger) *WatchDogFactory {
	return &WatchDogFactory{
		logger: logger.Named("watchdog"),
	}
}

// New creates a WatchDog reporting file creations and writes.
//
// - `watchCtx` controls the lifecycle of the watcher. Once it is done the watcher stops and `notifyChan` is closed.
//
// - `notifyChan` receives the path of every changed file that passes the filter.
//
// - `filter` returns true for paths that should be forwarded. If set to nil, all events are sent.
func (w *WatchDogFactory) New(watchCtx context.Context, notifyChan chan<- string, filter FilterFunc) (*WatchDog, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	watchDog := &WatchDog{
		watchCtx,
		notifyChan, // send only channel
		filter,
		w.logger,
		watcher,
	}

	go watchDog.watch()

	return watchDog, nil
}

// AddDir adds a directory to the watch list.
func (w *WatchDog) AddDir(dir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path of %s: %w", dir, err)
	}
	if _, err := os.Stat(absDir); err != nil {
		return fmt.Errorf("cannot watch %s: %w", absDir, err)
	}
	if err := w.watcher.Add(absDir); err != nil {
		return fmt.Errorf("failed to add %s to watcher: %w", absDir, err)
	}
	w.logger.Debug("added directory to watch list", zap.String("dir", absDir))
	return nil
}

func (w *WatchDog) watch() {
	defer w.watcher.Close()
	defer close(w.notifyChan)
	for {
		select {
		case <-w.watchCtx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				w.logger.Debug("fsnotify channel closed")
				return
			}
			if !w.handleEvent(event) {
				return
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				w.logger.Debug("fsnotify error channel closed")
				return
			}
			w.logger.Error("fsnotify error", zap.Error(err))
		}
	}
}

// handleEvent returns false once the watch context is done.
func (w *WatchDog) handleEvent(event fsnotify.Event) bool {
	w.logger.Debug("fsnotify event", zap.String("event", event.String()))
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return true
	}
	if w.filter != nil && !w.filter(event.Name) {
		w.logger.Debug("file ignored by filter", zap.String("file", event.Name))
		return true
	}

	select {
	case w.notifyChan <- event.Name:
		w.logger.Debug("file change forwarded", zap.String("file", event.Name))
		return true
	case <-w.watchCtx.Done():
		return false
	}
}

// MatchFile returns a filter accepting only the given file.
func MatchFile(path string) FilterFunc {
	want, err := filepath.Abs(path)
	if err != nil {
		want = filepath.Clean(path)
	}
	return func(name string) bool {
		got, err := filepath.Abs(name)
		if err != nil {
			return false
		}
		return got == want
	}
}
