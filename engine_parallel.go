package rbigen

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/jward/rbigen/internal/compiler"
	"github.com/jward/rbigen/internal/logging"
	"github.com/jward/rbigen/internal/rbi"
	"github.com/jward/rbigen/internal/store"
)

// workItem holds everything a decoration worker needs, and what it
// produced.
type workItem struct {
	candidate compiler.Candidate
	runID     string
	batch     *store.BatchedStore

	path    string // relative to the output directory, slash-separated
	content string
}

// decorateParallel decorates items on a worker pool. Each item owns its
// rbi.File and BatchedStore, so workers share nothing but the read-only
// object space. Results come back in input order.
func (e *Engine) decorateParallel(ctx context.Context, sess *session, items []workItem) ([]workItem, error) {
	if len(items) == 0 {
		return nil, nil
	}
	numWorkers := min(e.cfg.Workers, len(items))
	if numWorkers < 1 {
		numWorkers = 1
	}

	workCh := make(chan int, len(items))
	for i := range items {
		workCh <- i
	}
	close(workCh)

	errs := make([]error, len(items))
	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range workCh {
				if err := ctx.Err(); err != nil {
					errs[i] = err
					continue
				}
				errs[i] = e.decorate(sess, &items[i])
			}
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (e *Engine) decorateSerial(ctx context.Context, sess *session, items []workItem) ([]workItem, error) {
	for i := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := e.decorate(sess, &items[i]); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// decorate runs the candidate's compilers in registry order into one file,
// renders it and buffers the result in the item's batch.
func (e *Engine) decorate(sess *session, item *workItem) error {
	mod := item.candidate.Module
	name := mod.QualifiedName()

	file := rbi.NewFile(e.cfg.Strictness)
	names := make([]string, 0, len(item.candidate.Compilers))
	for _, c := range item.candidate.Compilers {
		if err := c.Decorate(file.Root, mod); err != nil {
			return errors.Wrapf(err, "%s: decorate %s", c.Name(), name)
		}
		names = append(names, c.Name())
	}
	if e.cfg.Header {
		e.formatter.WriteHeader(file, e.cfg.Command+" "+name, "dynamic methods in `"+name+"`")
	}
	if file.Root.Empty() {
		e.formatter.WriteEmptyBodyComment(file)
	}
	item.content = e.formatter.Print(file)
	item.path = FileName(name)

	if err := record(item.batch, sess, item, names); err != nil {
		return err
	}
	e.log.Debug("decorated", zap.String(logging.FieldConstant, name), zap.Strings("compilers", names))
	return nil
}

// record writes the decorated constant, its definition sites and its
// output to ds.
func record(ds store.DataStore, sess *session, item *workItem, names []string) error {
	mod := item.candidate.Module
	name := mod.QualifiedName()
	constID, err := ds.InsertConstant(&store.Constant{
		RunID:  item.runID,
		Handle: int64(mod.Handle()),
		Name:   name,
		Kind:   string(mod.Kind()),
	})
	if err != nil {
		return err
	}
	for _, loc := range sess.tracker.LocationsFor(mod.Handle()) {
		if _, err := ds.InsertLocation(&store.Location{
			ConstantID: constID,
			Path:       loc.Path,
			Line:       loc.Line,
		}); err != nil {
			return err
		}
	}
	_, err = ds.InsertOutput(&store.Output{
		RunID:     item.runID,
		Constant:  name,
		Compilers: names,
		Path:      item.path,
		Hash:      store.ContentHash(item.content),
		Content:   item.content,
	})
	return err
}

var (
	acronymBoundary = regexp.MustCompile(`([A-Z\d]+)([A-Z][a-z])`)
	wordBoundary    = regexp.MustCompile(`([a-z\d])([A-Z])`)
)

// FileName is the output path of a constant's RBI file relative to the
// output directory: namespaces become directories and names are
// underscored, so Admin::HTMLPage is written to admin/html_page.rbi.
func FileName(constant string) string {
	s := strings.TrimPrefix(constant, "::")
	s = strings.ReplaceAll(s, "::", "/")
	s = acronymBoundary.ReplaceAllString(s, "${1}_${2}")
	s = wordBoundary.ReplaceAllString(s, "${1}_${2}")
	s = strings.ReplaceAll(s, "-", "_")
	return strings.ToLower(s) + ".rbi"
}
