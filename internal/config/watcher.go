package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats its file.
const DefaultWatchInterval = 5 * time.Second

// ApplyFunc receives the previous and the freshly loaded configuration.
type ApplyFunc func(old, new *Config)

// Watcher keeps a config file's latest valid content current and hands each
// accepted change to an [ApplyFunc]. Edits that fail to parse or validate are
// logged and dropped; the previous configuration stays in effect.
//
// Environment overrides are applied to every reload, so secrets passed as
// SPEAKWELL_* variables survive edits to the file.
type Watcher struct {
	path  string
	every time.Duration
	apply ApplyFunc

	mu    sync.Mutex
	cfg   *Config
	state fileState

	kick     chan struct{}
	quit     chan struct{}
	quitOnce sync.Once
}

// fileState identifies a version of the file. The modification time is a
// cheap pre-check; the digest decides.
type fileState struct {
	mod    time.Time
	digest [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval overrides [DefaultWatchInterval]. Non-positive values are
// ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.every = d
		}
	}
}

// NewWatcher loads path and starts watching it. apply may be nil when only
// [Watcher.Current] is needed.
func NewWatcher(path string, apply ApplyFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:  path,
		every: DefaultWatchInterval,
		apply: apply,
		kick:  make(chan struct{}, 1),
		quit:  make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}

	cfg, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.cfg, w.state = cfg, st

	go w.loop()
	return w, nil
}

// Current returns the configuration in effect.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg
}

// Reload asks the watcher to re-read the file now, even if its modification
// time has not moved. It does not block; a reload already pending absorbs
// the request.
func (w *Watcher) Reload() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Stop ends the watch. Safe to call more than once.
func (w *Watcher) Stop() {
	w.quitOnce.Do(func() { close(w.quit) })
}

func (w *Watcher) loop() {
	t := time.NewTicker(w.every)
	defer t.Stop()
	for {
		select {
		case <-w.quit:
			return
		case <-t.C:
			w.refresh(false)
		case <-w.kick:
			w.refresh(true)
		}
	}
}

// refresh applies the file if its content differs from the last accepted
// version. Unless forced, an unchanged modification time short-circuits.
// Only the loop goroutine calls refresh, so apply calls never overlap.
func (w *Watcher) refresh(force bool) {
	log := slog.With("path", w.path)

	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			log.Warn("config watcher: stat failed", "err", err)
			return
		}
		w.mu.Lock()
		same := info.ModTime().Equal(w.state.mod)
		w.mu.Unlock()
		if same {
			return
		}
	}

	cfg, st, err := w.read()
	if err != nil {
		log.Warn("config watcher: keeping previous configuration", "err", err)
		return
	}

	w.mu.Lock()
	if st.digest == w.state.digest {
		w.state.mod = st.mod
		w.mu.Unlock()
		return
	}
	prev := w.cfg
	w.cfg, w.state = cfg, st
	w.mu.Unlock()

	log.Info("config watcher: configuration reloaded")
	if w.apply != nil {
		w.apply(prev, cfg)
	}
}

func (w *Watcher) read() (*Config, fileState, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	cfg, err := parse(bytes.NewReader(data), true)
	if err != nil {
		return nil, fileState{}, err
	}
	return cfg, fileState{mod: info.ModTime(), digest: sha256.Sum256(data)}, nil
}
