package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads the config file and notifies registered callbacks.
// Intended for local development; only fields that are safe to change at
// runtime should be consumed from callbacks.
type Watcher struct {
	path      string
	logger    *log.Logger
	fsw       *fsnotify.Watcher
	mu        sync.RWMutex
	current   Config
	callbacks []func(Config)
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewWatcher starts watching the directory containing path. A zero path
// returns a nil watcher and no error, so callers can treat it as optional.
func NewWatcher(path string, initial Config, logger *log.Logger) (*Watcher, error) {
	if path == "" {
		return nil, nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	// Watch the parent directory: editors replace files on save, which
	// drops a watch placed on the file itself.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}

	w := &Watcher{
		path:    path,
		logger:  logger,
		fsw:     fsw,
		current: initial,
		stop:    make(chan struct{}),
	}
	go w.loop()
	logger.Debug("config hot reload enabled", "path", path)
	return w, nil
}

// OnChange registers a callback invoked with each successfully reloaded config.
func (w *Watcher) OnChange(fn func(Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Current returns the most recently loaded config.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.stopOnce.Do(func() { close(w.stop) })
	return w.fsw.Close()
}

func (w *Watcher) loop() {
	var (
		debounce *time.Timer
		pending  bool
	)
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.AfterFunc(250*time.Millisecond, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
				pending = true
			} else if pending {
				debounce.Reset(250 * time.Millisecond)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		case <-fire:
			pending = false
			debounce = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed; keeping previous config", "error", err)
		return
	}
	w.mu.Lock()
	w.current = cfg
	callbacks := make([]func(Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logger.Info("config reloaded", "path", w.path)
	for _, fn := range callbacks {
		fn(cfg)
	}
}
