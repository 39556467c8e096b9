package bootstrap

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadedEvent reports the outcome of one seed reload
type ReloadedEvent struct {
	Timestamp time.Time
	Error     error
}

// Watcher monitors the seed directory and re-applies it after changes
// settle. Events within the debounce window collapse into one reload.
type Watcher struct {
	watcher         *fsnotify.Watcher
	path            string
	loader          *Loader
	logger          *zap.Logger
	debounceTimeout time.Duration
	debounceTimer   *time.Timer
	eventChan       chan ReloadedEvent
	stopChan        chan struct{}
	mu              sync.RWMutex
	isWatching      bool
}

// NewWatcher creates a watcher over the seed directory
func NewWatcher(path string, loader *Loader, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &Watcher{
		watcher:         fsw,
		path:            path,
		loader:          loader,
		logger:          logger,
		debounceTimeout: 500 * time.Millisecond,
		eventChan:       make(chan ReloadedEvent, 10),
		stopChan:        make(chan struct{}),
	}, nil
}

// Watch starts watching the seed directory for changes
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.isWatching {
		w.mu.Unlock()
		return fmt.Errorf("watcher is already running")
	}
	w.isWatching = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.path); err != nil {
		w.mu.Lock()
		w.isWatching = false
		w.mu.Unlock()
		return fmt.Errorf("add path to watcher: %w", err)
	}

	w.logger.Info("starting seed file watcher",
		zap.String("path", w.path),
		zap.Duration("debounce", w.debounceTimeout),
	)

	go w.watchLoop(ctx)
	return nil
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		w.isWatching = false
		w.mu.Unlock()
		w.logger.Info("seed file watcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.shouldProcessEvent(event) {
				w.handleEvent(ctx, event)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) shouldProcessEvent(event fsnotify.Event) bool {
	ext := filepath.Ext(event.Name)
	return ext == ".yaml" || ext == ".yml" || ext == ".json"
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.logger.Debug("seed file change detected",
		zap.String("file", event.Name),
		zap.String("op", event.Op.String()),
	)

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}

	w.debounceTimer = time.AfterFunc(w.debounceTimeout, func() {
		w.performReload(ctx)
	})
}

func (w *Watcher) performReload(ctx context.Context) {
	w.logger.Info("reloading seed data from disk",
		zap.String("path", w.path),
	)

	err := w.loader.ApplyAll(ctx, w.path)
	if err != nil {
		w.logger.Error("seed reload failed",
			zap.String("path", w.path),
			zap.Error(err),
		)
	}

	select {
	case w.eventChan <- ReloadedEvent{Timestamp: time.Now(), Error: err}:
	default:
	}
}

// EventChan returns a channel for observing reload outcomes
func (w *Watcher) EventChan() <-chan ReloadedEvent {
	return w.eventChan
}

// Stop stops watching for file changes
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isWatching {
		return nil
	}

	close(w.stopChan)
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	return w.watcher.Close()
}
