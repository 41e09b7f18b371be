package config

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// debounceDelay absorbs the write bursts editors and atomic-save tools
	// produce for a single logical change.
	debounceDelay = 250 * time.Millisecond

	watchRetryBase = 250 * time.Millisecond
	watchRetryMax  = 5 * time.Second
)

// Watcher reloads the config file on change and hands validated configs to a
// callback. Invalid or unchanged content is logged and dropped; the previous
// config stays active.
type Watcher struct {
	path     string
	log      *slog.Logger
	onChange func(*Config)

	mu       sync.Mutex
	lastHash [32]byte
	timer    *time.Timer
}

func NewWatcher(path string, log *slog.Logger, onChange func(*Config)) *Watcher {
	w := &Watcher{path: path, log: log, onChange: onChange}
	if raw, err := os.ReadFile(path); err == nil {
		w.lastHash = sha256.Sum256(raw)
	}
	return w
}

// Run watches until ctx is done. The directory is watched rather than the
// file itself so rename-based saves keep working.
func (w *Watcher) Run(ctx context.Context) {
	dir := filepath.Dir(w.path)
	base := filepath.Base(w.path)
	backoff := watchRetryBase

	for ctx.Err() == nil {
		fw, err := fsnotify.NewWatcher()
		if err == nil {
			err = fw.Add(dir)
			if err != nil {
				fw.Close()
			}
		}
		if err != nil {
			w.log.Warn("config watch unavailable, retrying", slog.String("dir", dir), slog.Any("err", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > watchRetryMax {
				backoff = watchRetryMax
			}
			continue
		}
		backoff = watchRetryBase
		w.log.Debug("config watcher started", slog.String("path", w.path))

		w.watch(ctx, fw, base)
		fw.Close()
		if ctx.Err() != nil {
			return
		}
		w.log.Warn("config watcher stopped, restarting", slog.String("path", w.path))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// watch consumes events until the watcher breaks or ctx is done.
func (w *Watcher) watch(ctx context.Context, fw *fsnotify.Watcher, base string) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if !strings.EqualFold(filepath.Base(ev.Name), base) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				w.scheduleReload()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.log.Warn("config watch error", slog.Any("err", err))
			}
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceDelay, w.reload)
}

func (w *Watcher) reload() {
	raw, err := os.ReadFile(w.path)
	if err != nil {
		w.log.Warn("config reload: read failed, keeping previous config", slog.Any("err", err))
		return
	}
	sum := sha256.Sum256(raw)
	w.mu.Lock()
	unchanged := sum == w.lastHash
	w.mu.Unlock()
	if unchanged {
		w.log.Debug("config unchanged, skipping reload")
		return
	}

	cfg, err := Load(w.path)
	if err != nil {
		w.log.Warn("config reload: rejected, keeping previous config", slog.Any("err", err))
		return
	}

	w.mu.Lock()
	w.lastHash = sum
	w.mu.Unlock()
	w.log.Info("config reloaded", slog.String("path", w.path), slog.Int("jobs", len(cfg.Jobs)))
	w.onChange(cfg)
}
