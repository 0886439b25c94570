// Package watcher reloads learned patterns when another process writes
// the reflex database.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce coalesces the burst of writes one SQLite commit makes.
const DefaultDebounce = 250 * time.Millisecond

// ReloadFunc is invoked once per settled burst of changes.
type ReloadFunc func(ctx context.Context) error

// VersionFunc reports a counter that moves only when the watched content
// changed. Bursts that leave it unchanged, such as turn-log appends to the
// same database, do not reload.
type VersionFunc func(ctx context.Context) (int64, error)

// Watcher watches a database file and its WAL companions.
type Watcher struct {
	fs       *fsnotify.Watcher
	dir      string
	files    map[string]bool
	reload   ReloadFunc
	version  VersionFunc
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer
	last  int64
	known bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long changes must settle before reloading.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithVersion skips reloads when v reports the same value as at the
// previous reload (or at Run for the first burst).
func WithVersion(v VersionFunc) Option {
	return func(w *Watcher) { w.version = v }
}

// New watches the directory holding dbPath. Only events for the database,
// its -wal and its -journal file trigger a reload.
func New(dbPath string, reload ReloadFunc, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return nil, err
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	w := &Watcher{
		fs:       fs,
		dir:      filepath.Dir(abs),
		files:    map[string]bool{abs: true, abs + "-wal": true, abs + "-journal": true},
		reload:   reload,
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := fs.Add(w.dir); err != nil {
		fs.Close()
		return nil, fmt.Errorf("watch %s: %w", w.dir, err)
	}
	return w, nil
}

// Run delivers reloads until ctx is canceled, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.close()
	if w.version != nil {
		if v, err := w.version(ctx); err == nil {
			w.mu.Lock()
			w.last, w.known = v, true
			w.mu.Unlock()
		}
	}
	log.Debug().Str("dir", w.dir).Msg("watching database for changes")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !w.files[filepath.Clean(ev.Name)] || !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			w.schedule(ctx)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("database watch error")
		}
	}
}

func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		v, ok := w.changed(ctx)
		if !ok {
			return
		}
		if err := w.reload(ctx); err != nil {
			log.Warn().Err(err).Msg("reload after database change failed")
			return
		}
		w.commit(v)
		log.Debug().Msg("reloaded learned patterns after database change")
	})
}

// changed reports whether the version moved since the last successful
// reload. Without a VersionFunc every burst counts.
func (w *Watcher) changed(ctx context.Context) (*int64, bool) {
	if w.version == nil {
		return nil, true
	}
	v, err := w.version(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("reading content version failed, reloading anyway")
		return nil, true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.known && v == w.last {
		return nil, false
	}
	return &v, true
}

func (w *Watcher) commit(v *int64) {
	if v == nil {
		return
	}
	w.mu.Lock()
	w.last, w.known = *v, true
	w.mu.Unlock()
}

func (w *Watcher) close() {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	w.fs.Close()
}
