// Package tracker records where classes and modules are defined. It
// subscribes to the object space's open and construct events while code is
// loaded and attributes each module object to the source files that opened
// or built it, even when that happened inside library code.
//
// The information is not otherwise available after loading: a module
// object carries no record of the files that reopened it.
package tracker

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/jward/rbigen/internal/objspace"
)

// Location is a definition site. Line 0 marks a site whose line number is
// not meaningful (a synthesized body or a construction in another file).
type Location struct {
	Path string
	Line int
}

// Tracker owns the location table for one generation run.
type Tracker struct {
	mu    sync.RWMutex
	table map[objspace.Handle]map[Location]struct{}

	log         *zap.Logger
	unsubscribe func()
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger used for dropped-event diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) {
		t.log = l
	}
}

// New creates an empty Tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		table: make(map[objspace.Handle]map[Location]struct{}),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Install subscribes the tracker to space. It must run before any code is
// loaded into the space. Installing twice replaces the first subscription.
func (t *Tracker) Install(space *objspace.Space) {
	t.Close()
	t.unsubscribe = space.Subscribe(t)
}

// Close stops observing events. Recorded locations stay readable.
func (t *Tracker) Close() {
	if t.unsubscribe != nil {
		t.unsubscribe()
		t.unsubscribe = nil
	}
}

// OnOpen implements objspace.Hooks.
func (t *Tracker) OnOpen(ev objspace.OpenEvent) {
	t.OnDefinitionOpened(ev.Module, ev.Path, ev.Line, ev.Stack)
}

// OnConstruct implements objspace.Hooks.
func (t *Tracker) OnConstruct(ev objspace.ConstructEvent) {
	t.OnConstructionReturned(ev.Result, ev.Path, ev.Line, ev.Stack)
}

// OnDefinitionOpened records the site of a class or module body. A body
// read from a real file is recorded at its own line. A synthesized body is
// attributed to the first caller frame backed by a real file, at line 0.
// Singleton classes are ignored.
func (t *Tracker) OnDefinitionOpened(mod *objspace.Module, path string, line int, stack []objspace.Frame) {
	if mod == nil || mod.IsSingleton() {
		return
	}

	if fileExists(path) {
		t.add(mod.Handle(), Location{Path: canonical(path), Line: line})
		return
	}

	resolved, ok := resolveFrame(stack)
	if !ok {
		t.log.Debug("dropping definition without file location",
			zap.Stringer("constant", mod), zap.String("path", path))
		return
	}
	t.add(mod.Handle(), Location{Path: resolved, Line: 0})
}

// OnConstructionReturned records where a construction call produced a new
// module object. The event's line is kept only when the first real-file
// caller frame is the file the event fired in.
func (t *Tracker) OnConstructionReturned(mod *objspace.Module, path string, line int, stack []objspace.Frame) {
	if mod == nil {
		return
	}
	loc, ok := buildLocation(path, line, stack)
	if !ok {
		t.log.Debug("dropping construction without file location",
			zap.Stringer("constant", mod), zap.String("path", path))
		return
	}
	t.add(mod.Handle(), loc)
}

func (t *Tracker) add(h objspace.Handle, loc Location) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.table[h]
	if set == nil {
		set = make(map[Location]struct{})
		t.table[h] = set
	}
	set[loc] = struct{}{}
}

// LocationsFor returns the recorded sites for h sorted by path then line.
// Untracked handles yield an empty slice.
func (t *Tracker) LocationsFor(h objspace.Handle) []Location {
	t.mu.RLock()
	defer t.mu.RUnlock()
	set := t.table[h]
	out := make([]Location, 0, len(set))
	for loc := range set {
		out = append(out, loc)
	}
	sortLocations(out)
	return out
}

// FilesFor returns the distinct files in which h was opened or built.
// It does not know about definitions made before the tracker was
// installed.
func (t *Tracker) FilesFor(h objspace.Handle) []string {
	locs := t.LocationsFor(h)
	files := make([]string, 0, len(locs))
	for _, loc := range locs {
		if len(files) > 0 && files[len(files)-1] == loc.Path {
			continue
		}
		files = append(files, loc.Path)
	}
	return files
}

// Entry is one handle's locations in a table snapshot.
type Entry struct {
	Handle    objspace.Handle
	Locations []Location
}

// Entries returns a snapshot of the whole table ordered by handle.
func (t *Tracker) Entries() []Entry {
	t.mu.RLock()
	handles := make([]objspace.Handle, 0, len(t.table))
	for h := range t.table {
		handles = append(handles, h)
	}
	t.mu.RUnlock()

	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	out := make([]Entry, 0, len(handles))
	for _, h := range handles {
		out = append(out, Entry{Handle: h, Locations: t.LocationsFor(h)})
	}
	return out
}

// Len returns the number of tracked handles.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.table)
}

// buildLocation resolves the first real-file frame and compares it with
// the canonical form of the event's own path to decide whether the
// event's line applies.
func buildLocation(path string, line int, stack []objspace.Frame) (Location, bool) {
	resolved, ok := resolveFrame(stack)
	if !ok {
		return Location{}, false
	}
	if path != "" && resolved == canonical(path) {
		return Location{Path: resolved, Line: line}, true
	}
	return Location{Path: resolved, Line: 0}, true
}

// resolveFrame returns the canonical path of the innermost frame whose
// path exists on disk.
func resolveFrame(stack []objspace.Frame) (string, bool) {
	for _, f := range stack {
		if fileExists(f.Path) {
			return canonical(f.Path), true
		}
	}
	return "", false
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// canonical returns the absolute, symlink-resolved form of path, falling
// back to the cleaned absolute path when resolution fails.
func canonical(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

func sortLocations(locs []Location) {
	sort.Slice(locs, func(i, j int) bool {
		if locs[i].Path != locs[j].Path {
			return locs[i].Path < locs[j].Path
		}
		return locs[i].Line < locs[j].Line
	})
}
