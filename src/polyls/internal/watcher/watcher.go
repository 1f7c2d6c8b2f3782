// Package watcher surfaces on-disk edits to open documents so sessions can
// resync files modified outside the client.
package watcher

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ChangeFunc is invoked with the path of a file written on disk.
type ChangeFunc func(path string)

// Watcher reports write events under watched directories.
type Watcher interface {
	Start(onChange ChangeFunc) error
	Watch(dir string) error
	Unwatch(dir string) error
	Close() error
}

// Params define values used to build a Watcher.
type Params struct {
	fx.In

	Logger *zap.SugaredLogger
}

type diskWatcher struct {
	fw     *fsnotify.Watcher
	logger *zap.SugaredLogger

	mu      sync.Mutex
	started bool
	closed  bool
}

// New creates a Watcher backed by OS file notifications.
func New(p Params) (Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	return &diskWatcher{fw: fw, logger: p.Logger}, nil
}

// Start begins delivering write and create events to onChange. It may be
// called once; events arrive on a background goroutine.
func (w *diskWatcher) Start(onChange ChangeFunc) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return fmt.Errorf("watcher already started")
	}
	w.started = true

	go func() {
		for {
			select {
			case event, ok := <-w.fw.Events:
				if !ok {
					return
				}
				if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
					onChange(event.Name)
				}
			case err, ok := <-w.fw.Errors:
				if !ok {
					return
				}
				w.logger.Warnw("disk watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Watch adds a directory to the watch set. Adding the same directory twice
// is harmless.
func (w *diskWatcher) Watch(dir string) error {
	return w.fw.Add(dir)
}

// Unwatch removes a directory from the watch set.
func (w *diskWatcher) Unwatch(dir string) error {
	return w.fw.Remove(dir)
}

// Close stops event delivery and releases OS resources.
func (w *diskWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.fw.Close()
}
