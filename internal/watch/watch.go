// Package watch re-runs generation when the project's Ruby sources change.
package watch

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/jward/rbigen/internal/logging"
)

// DefaultDebounce is how long the watcher waits after the last change
// before triggering.
const DefaultDebounce = 300 * time.Millisecond

var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"tmp":          true,
	"log":          true,
	"coverage":     true,
}

// Trigger is called after a burst of changes settles. changed holds the
// distinct absolute paths seen during the burst, sorted.
type Trigger func(ctx context.Context, changed []string) error

// Watcher watches every directory under a root, ignoring the output dir.
type Watcher struct {
	root     string
	ignore   []string
	debounce time.Duration
	log      *zap.Logger
	fsw      *fsnotify.Watcher

	mu      sync.Mutex
	timer   *time.Timer
	pending map[string]bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithLogger sets the logger. Default is a no-op.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.log = l }
}

// WithIgnore adds directories whose contents never trigger, typically the
// output directory and the run database directory.
func WithIgnore(dirs ...string) Option {
	return func(w *Watcher) {
		for _, d := range dirs {
			if d == "" {
				continue
			}
			if abs, err := filepath.Abs(d); err == nil {
				w.ignore = append(w.ignore, abs)
			}
		}
	}
}

// New creates a watcher over root and all of its non-hidden directories.
func New(root string, opts ...Option) (*Watcher, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, "resolve watch root")
	}
	w := &Watcher{
		root:     root,
		debounce: DefaultDebounce,
		log:      zap.NewNop(),
		pending:  make(map[string]bool),
	}
	for _, o := range opts {
		o(w)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create fsnotify watcher")
	}
	w.fsw = fsw
	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != dir && (strings.HasPrefix(d.Name(), ".") || skipDirs[d.Name()]) {
			return filepath.SkipDir
		}
		if w.ignored(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return errors.Wrapf(err, "watch %s", path)
		}
		return nil
	})
}

func (w *Watcher) ignored(path string) bool {
	for _, dir := range w.ignore {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// relevant reports whether an event should schedule a run.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if w.ignored(ev.Name) {
		return false
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
		!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return false
	}
	base := filepath.Base(ev.Name)
	return filepath.Ext(base) == ".rb" || base == "rbigen.bundle.yml" || base == "rbigen.toml"
}

// Run blocks, calling trigger after each settled burst of changes, until
// ctx is cancelled. Errors from trigger are logged and do not stop the
// watcher.
func (w *Watcher) Run(ctx context.Context, trigger Trigger) error {
	defer w.fsw.Close()
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) && !w.ignored(ev.Name) {
				// New directories must be watched explicitly.
				_ = w.addTree(ev.Name)
			}
			if !w.relevant(ev) {
				continue
			}
			w.log.Debug("source changed", zap.String(logging.FieldPath, ev.Name), zap.String("op", ev.Op.String()))
			w.schedule(ev.Name, fire)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher error", zap.Error(err))

		case <-fire:
			changed := w.drain()
			if len(changed) == 0 {
				continue
			}
			if err := trigger(ctx, changed); err != nil {
				w.log.Error("regeneration failed", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) schedule(path string, fire chan<- struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[path] = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case fire <- struct{}{}:
		default:
		}
	})
}

func (w *Watcher) drain() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.pending))
	for p := range w.pending {
		out = append(out, p)
	}
	w.pending = make(map[string]bool)
	sort.Strings(out)
	return out
}
