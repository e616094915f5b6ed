package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/moolen/inquest/internal/logging"
)

// ReloadCallback is called with the new configuration after a successful
// reload. A returned error is logged; the watcher keeps watching.
type ReloadCallback func(cfg Config) error

// WatcherConfig holds configuration for the config file watcher.
type WatcherConfig struct {
	// FilePath is the config file to watch.
	FilePath string

	// DebounceMillis coalesces bursts of change events into one reload.
	// Default 500ms; editors and atomic writers fire several events per
	// save.
	DebounceMillis int
}

// Watcher hot-reloads the configuration file. An invalid file during reload
// is logged and ignored; the previous configuration stays in effect.
type Watcher struct {
	config   WatcherConfig
	callback ReloadCallback
	cancel   context.CancelFunc
	stopped  chan struct{}
	ready    chan struct{}
	logger   *logging.Logger
	mu       sync.Mutex

	debounceTimer *time.Timer
}

// NewWatcher creates a watcher for the given config file.
func NewWatcher(cfg WatcherConfig, callback ReloadCallback) (*Watcher, error) {
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("FilePath cannot be empty")
	}
	if callback == nil {
		return nil, fmt.Errorf("callback cannot be nil")
	}
	if cfg.DebounceMillis == 0 {
		cfg.DebounceMillis = 500
	}
	return &Watcher{
		config:   cfg,
		callback: callback,
		stopped:  make(chan struct{}),
		ready:    make(chan struct{}),
		logger:   logging.GetLogger("config.watcher"),
	}, nil
}

// Start loads the file once, delivers it to the callback, and begins
// watching for changes. It returns once the file watch is established;
// the watch loop runs until Stop or context cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	initial, err := LoadFile(w.config.FilePath)
	if err != nil {
		return fmt.Errorf("failed to load initial config: %w", err)
	}
	if err := w.callback(initial); err != nil {
		return fmt.Errorf("initial callback failed: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go w.watchLoop(watchCtx)

	select {
	case <-w.ready:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for file watcher to initialize")
	}
	return nil
}

func (w *Watcher) signalReady() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.ready:
	default:
		close(w.ready)
	}
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer close(w.stopped)
	defer w.signalReady()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error("failed to create file watcher: %v", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(w.config.FilePath); err != nil {
		w.logger.Error("failed to watch %s: %v", w.config.FilePath, err)
		return
	}
	w.logger.Info("watching %s for changes (debounce %dms)", w.config.FilePath, w.config.DebounceMillis)
	w.signalReady()

	relevant := fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&relevant == 0 {
				continue
			}
			// Atomic writers unlink and rename; the watched inode is gone
			// and the watch must be re-established.
			if event.Op&(fsnotify.Rename|fsnotify.Remove) != 0 {
				time.Sleep(50 * time.Millisecond)
				if err := watcher.Add(w.config.FilePath); err != nil {
					w.logger.Warn("failed to re-add watch after %s: %v", event.Op, err)
				}
			}
			w.scheduleReload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error: %v", err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(
		time.Duration(w.config.DebounceMillis)*time.Millisecond,
		w.reload,
	)
}

func (w *Watcher) reload() {
	cfg, err := LoadFile(w.config.FilePath)
	if err != nil {
		w.logger.Warn("reload failed, keeping previous config: %v", err)
		return
	}
	if err := w.callback(cfg); err != nil {
		w.logger.Warn("reload callback error: %v", err)
		return
	}
	w.logger.Info("config reloaded from %s", w.config.FilePath)
}

// Stop shuts the watcher down and waits for the watch loop to exit.
func (w *Watcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	select {
	case <-w.stopped:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for watcher to stop")
	}
}
