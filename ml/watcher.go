package ml

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const DefaultReloadDebounce = 500 * time.Millisecond

// Watcher reloads the registry when one of its artifact files changes.
type Watcher struct {
	registry *Registry
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *zap.Logger
	onReload func(error)

	mu       sync.Mutex
	watched  map[string]bool
	done     chan struct{}
	stopOnce sync.Once
}

func NewWatcher(registry *Registry, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	if debounce <= 0 {
		debounce = DefaultReloadDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		registry: registry,
		watcher:  fw,
		debounce: debounce,
		logger:   logger,
		watched:  make(map[string]bool),
		done:     make(chan struct{}),
	}, nil
}

// OnReload registers a callback run after every reload attempt. Must be set
// before Start.
func (w *Watcher) OnReload(fn func(error)) {
	w.onReload = fn
}

func (w *Watcher) Start(ctx context.Context) error {
	paths := w.registry.Paths()
	if len(paths) == 0 {
		return errors.New("registry has no artifacts to watch")
	}
	dirs := make(map[string]bool)
	w.mu.Lock()
	for _, p := range paths {
		w.watched[p] = true
		dirs[filepath.Dir(p)] = true
	}
	w.mu.Unlock()
	// Directories, not files: editors and deploy tools replace files by rename.
	for dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
	}
	go w.loop(ctx)
	return nil
}

func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

func (w *Watcher) loop(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("artifact changed", zap.String("path", event.Name), zap.String("op", event.Op.String()))
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("artifact watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watched[filepath.Clean(event.Name)]
}

func (w *Watcher) reload() {
	err := w.registry.Reload()
	if err != nil {
		w.logger.Error("artifact reload failed, keeping previous models", zap.Error(err))
	} else {
		w.logger.Info("artifacts reloaded", zap.Uint64("generation", w.registry.Generation()))
	}
	if w.onReload != nil {
		w.onReload(err)
	}
}
