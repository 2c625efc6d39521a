package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"medremind/pkg/logx"
)

// Watcher re-reads the config file on change and publishes valid new
// configs to the registered callback. Invalid edits are logged and ignored;
// the previous config stays active. Editors often emit several events per
// save, so changes are debounced.
type Watcher struct {
	path    string
	log     logx.Logger
	onApply func(*Config)

	mu   sync.RWMutex
	cur  *Config
	stop context.CancelFunc
	done chan struct{}
}

func NewWatcher(path string, initial *Config, onApply func(*Config), log logx.Logger) *Watcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Watcher{path: path, cur: initial, onApply: onApply, log: log}
}

// Current returns the most recently committed config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur
}

// Start watches the config file's directory (watching the file itself
// breaks on rename-based saves).
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	w.stop = cancel
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		defer fw.Close()

		var pending *time.Timer
		var pendingC <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if pending == nil {
					pending = time.NewTimer(200 * time.Millisecond)
					pendingC = pending.C
				} else {
					pending.Reset(200 * time.Millisecond)
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.log.Warn("config watch error", logx.Err(err))
			case <-pendingC:
				pending = nil
				pendingC = nil
				w.reload()
			}
		}
	}()
	w.log.Info("config watcher started", logx.String("path", w.path))
	return nil
}

func (w *Watcher) Stop() {
	if w.stop == nil {
		return
	}
	w.stop()
	<-w.done
	w.stop = nil
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Warn("config reload rejected, keeping previous config", logx.Err(err))
		return
	}
	w.mu.Lock()
	w.cur = cfg
	w.mu.Unlock()
	w.log.Info("config reloaded")
	if w.onApply != nil {
		w.onApply(cfg)
	}
}
