package project

import (
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher keeps attached-file metadata current: when a watched project
// file changes on disk, the registered callback receives the
// project-relative path so conversation attachment records can refresh
// size/mtime before the next hydration pass.
type Watcher struct {
	ctx      *Context
	notify   *fsnotify.Watcher
	onChange func(rel string)
	logger   *slog.Logger

	mu      sync.Mutex
	watched map[string]bool
	done    chan struct{}
}

// NewWatcher starts the event loop. onChange may be called from the
// watcher goroutine; callers serialize their own state.
func NewWatcher(ctx *Context, onChange func(rel string), logger *slog.Logger) (*Watcher, error) {
	notify, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		ctx:      ctx,
		notify:   notify,
		onChange: onChange,
		logger:   logger,
		watched:  make(map[string]bool),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Watch adds a project-relative file to the watch set.
func (w *Watcher) Watch(rel string) error {
	abs, err := w.ctx.Resolve(rel)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watched[abs] {
		return nil
	}
	if err := w.notify.Add(abs); err != nil {
		return err
	}
	w.watched[abs] = true
	return nil
}

// Unwatch removes a file from the watch set.
func (w *Watcher) Unwatch(rel string) {
	abs, err := w.ctx.Resolve(rel)
	if err != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watched[abs] {
		_ = w.notify.Remove(abs)
		delete(w.watched, abs)
	}
}

// Close stops the event loop.
func (w *Watcher) Close() error {
	close(w.done)
	return w.notify.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.notify.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.onChange(w.ctx.Rel(event.Name))
			}
		case err, ok := <-w.notify.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}
