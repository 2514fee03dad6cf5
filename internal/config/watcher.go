package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher reloads the configuration when the config file or the env file
// changes. Directories are watched rather than files so that editors which
// replace files by rename are noticed.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher creates a watcher for the configuration loaded from cfg.Path.
func NewWatcher(cfg Config, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     cfg.Path,
		debounce: debounce,
		logger:   logger.With("component", "config_watcher"),
	}
}

// Watch blocks until ctx is cancelled. After each burst of changes the
// configuration is reloaded; onReload only sees configurations that passed
// validation.
func (w *Watcher) Watch(ctx context.Context, initial Config, onReload func(Config)) error {
	if w.path == "" {
		return errors.New("config watcher requires a loaded configuration path")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	targets := map[string]bool{filepath.Clean(w.path): true}
	if initial.EnvFile != "" {
		targets[filepath.Clean(initial.EnvFile)] = true
	}
	dirs := map[string]bool{}
	for target := range targets {
		dirs[filepath.Dir(target)] = true
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			return fmt.Errorf("watch %q: %w", dir, err)
		}
	}

	w.logger.Info("config watcher started", "path", w.path)
	defer w.stopTimer()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("config watcher stopped")
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			if !targets[filepath.Clean(event.Name)] || event.Op == fsnotify.Chmod {
				continue
			}
			w.logger.Debug("config change detected", "path", event.Name, "op", event.Op.String())
			w.schedule(func() { w.reload(onReload) })

		case err, ok := <-fsw.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			w.logger.Error("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload(onReload func(Config)) {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous configuration", "error", err)
		return
	}
	w.logger.Info("config reloaded", "path", w.path)
	onReload(cfg)
}

func (w *Watcher) schedule(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, fn)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}
