package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ppiankov/wheelguard/internal/logger"
)

// DefaultDebounce is the quiet period after the last write before a reload.
const DefaultDebounce = 500 * time.Millisecond

// ApplyFunc receives a freshly loaded config and the hash of its file.
type ApplyFunc func(cfg *Config, hash string)

// Reloader watches the config file and re-applies it after edits. A file
// that fails to load is logged and ignored; the previous config stays.
type Reloader struct {
	watcher  *fsnotify.Watcher
	path     string
	apply    ApplyFunc
	debounce time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	lastHash string
	reloads  int
}

// ReloaderOption customizes a Reloader.
type ReloaderOption func(*Reloader)

// WithDebounce sets the quiet period.
func WithDebounce(d time.Duration) ReloaderOption {
	return func(r *Reloader) { r.debounce = d }
}

// WithReloadLogger sets the logger.
func WithReloadLogger(l *slog.Logger) ReloaderOption {
	return func(r *Reloader) { r.logger = l }
}

// NewReloader watches path. The parent directory is watched so editors that
// replace the file by rename are seen as a Create. currentHash suppresses a reload when
// the content did not change.
func NewReloader(path, currentHash string, apply ApplyFunc, opts ...ReloaderOption) (*Reloader, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", filepath.Dir(abs), err)
	}

	r := &Reloader{
		watcher:  watcher,
		path:     abs,
		apply:    apply,
		debounce: DefaultDebounce,
		lastHash: currentHash,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logger.OrDiscard(r.logger).With("component", "config-reload", "path", abs)
	return r, nil
}

// Run watches for changes until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != r.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(r.debounce, r.Reload)
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("file watcher error", logger.Err(err))
		}
	}
}

// Reload loads the file now and applies it if the content changed.
func (r *Reloader) Reload() {
	cfg, hash, err := Load(r.path)
	if err != nil {
		r.logger.Error("hot-reload failed, keeping previous config", logger.Err(err))
		return
	}

	r.mu.Lock()
	if hash == r.lastHash {
		r.mu.Unlock()
		return
	}
	r.lastHash = hash
	r.reloads++
	r.mu.Unlock()

	r.apply(cfg, hash)
	r.logger.Info("config reloaded", "hash", hash)
}

// Reloads returns how many times a changed config was applied.
func (r *Reloader) Reloads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reloads
}
