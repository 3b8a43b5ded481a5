package rbigen

import (
	"github.com/cockroachdb/errors"

	"github.com/jward/rbigen/internal/store"
)

// ErrNoRun is returned by queries that need a completed generation run
// when none has been recorded yet.
var ErrNoRun = errors.New("no completed run recorded")

// QueryBuilder answers questions about recorded runs. Queries without a
// run ID read the most recent successful run.
type QueryBuilder struct {
	store *store.Store
}

// LatestRun returns the most recent successful run, or nil.
func (q *QueryBuilder) LatestRun() (*Run, error) {
	return q.store.LatestRun()
}

// Runs returns up to limit runs of any status, newest first.
func (q *QueryBuilder) Runs(limit int) ([]*Run, error) {
	return q.store.Runs(limit)
}

func (q *QueryBuilder) latest() (*Run, error) {
	run, err := q.store.LatestRun()
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, errors.WithHint(ErrNoRun, "run `rbigen dsl` first")
	}
	return run, nil
}

// Constants returns the constants generated by the latest run.
func (q *QueryBuilder) Constants() ([]*Constant, error) {
	run, err := q.latest()
	if err != nil {
		return nil, err
	}
	return q.store.ConstantsByRun(run.ID)
}

// LocationsFor returns the definition sites recorded for the named
// constant, sorted by path then line. A constant that was not generated
// has none.
func (q *QueryBuilder) LocationsFor(name string) ([]Location, error) {
	run, err := q.latest()
	if err != nil {
		return nil, err
	}
	locs, err := q.store.LocationsByName(run.ID, name)
	if err != nil {
		return nil, err
	}
	out := make([]Location, len(locs))
	for i, l := range locs {
		out[i] = Location{Path: l.Path, Line: l.Line}
	}
	return out, nil
}

// FilesFor returns the distinct files defining the named constant.
func (q *QueryBuilder) FilesFor(name string) ([]string, error) {
	locs, err := q.LocationsFor(name)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, l := range locs {
		if len(files) > 0 && files[len(files)-1] == l.Path {
			continue
		}
		files = append(files, l.Path)
	}
	return files, nil
}

// Output returns the most recent RBI recorded for the named constant, or
// nil.
func (q *QueryBuilder) Output(name string) (*Output, error) {
	return q.store.OutputByConstant(name)
}

// Outputs returns the latest run's outputs, optionally restricted to the
// named constants.
func (q *QueryBuilder) Outputs(names ...string) ([]*Output, error) {
	run, err := q.latest()
	if err != nil {
		return nil, err
	}
	return q.store.OutputsByRun(run.ID, names...)
}
