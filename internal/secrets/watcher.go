package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher reloads a Vault whenever its backing secrets file changes.
type Watcher struct {
	vault    *Vault
	path     string
	debounce time.Duration
	fw       *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer
	done  chan struct{}
}

// Watch starts watching path and reloading v on change until ctx is
// cancelled or Close is called. The parent directory is watched so that
// atomic replace (write temp + rename) is seen.
func Watch(ctx context.Context, v *Vault, path string, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("secrets watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		if closeErr := fw.Close(); closeErr != nil {
			slog.Error("failed to close secrets watcher", "error", closeErr)
		}
		return nil, fmt.Errorf("secrets watch %s: %w", path, err)
	}

	w := &Watcher{
		vault:    v,
		path:     filepath.Clean(path),
		debounce: debounce,
		fw:       fw,
		done:     make(chan struct{}),
	}
	go w.loop(ctx)
	return w, nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.schedule()
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			slog.Warn("secrets watcher error", "error", err)
		}
	}
}

// schedule coalesces bursts of events into one reload.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if err := w.vault.Reload(); err != nil {
			slog.Error("secrets reload failed", "path", w.path, "error", err)
			return
		}
		slog.Info("secrets reloaded", "path", w.path, "keys", len(w.vault.Keys()))
	})
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	err := w.fw.Close()
	<-w.done
	return err
}
