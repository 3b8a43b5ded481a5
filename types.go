package rbigen

import (
	"time"

	"github.com/jward/rbigen/internal/store"
)

// Public type aliases for internal store types used in the QueryBuilder API.
// These are Go type aliases (=), identical to the internal types.

type Store = store.Store
type Run = store.Run
type Constant = store.Constant
type Output = store.Output

// Location is a definition site of a constant. Line 0 means the site's
// line is not meaningful, as for bodies built by evaluating strings.
type Location struct {
	Path string
	Line int
}

// Report summarizes one generation run. Paths are relative to the output
// directory and slash-separated.
type Report struct {
	RunID string
	// Verify is set when nothing was written.
	Verify bool
	// Files lists every file this run generated, sorted.
	Files []string
	// Written and Unchanged partition Files on a normal run.
	Written   []string
	Unchanged []string
	// Added and Changed list files that differ from disk in verify mode.
	Added   []string
	Changed []string
	// Removed lists stale files: deleted on a normal run, only reported in
	// verify mode.
	Removed []string
	// MissingSpecs lists bundled gems that could not be loaded as declared.
	MissingSpecs []string
	Duration     time.Duration
}

// OutOfDate reports whether a verify run found any difference.
func (r *Report) OutOfDate() bool {
	return len(r.Added) > 0 || len(r.Changed) > 0 || len(r.Removed) > 0
}
