package rbigen

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/jward/rbigen/internal/compiler"
	"github.com/jward/rbigen/internal/compiler/virtus"
	"github.com/jward/rbigen/internal/config"
	"github.com/jward/rbigen/internal/discover"
	"github.com/jward/rbigen/internal/loader"
	"github.com/jward/rbigen/internal/logging"
	"github.com/jward/rbigen/internal/objspace"
	"github.com/jward/rbigen/internal/rbi"
	"github.com/jward/rbigen/internal/scripting"
	"github.com/jward/rbigen/internal/store"
	"github.com/jward/rbigen/internal/tracker"
	"github.com/jward/rbigen/scripts"
)

const scriptsHashKey = "scripts_hash"

// Engine generates DSL RBI files for one project: it loads the project
// into a fresh object space with a definition tracker installed, gathers
// and decorates candidates with every selected compiler, writes the
// results and records the run.
type Engine struct {
	cfg       *config.Config
	store     *store.Store
	runtime   *scripting.Runtime
	registry  *compiler.Registry
	scriptsFS fs.FS
	log       *zap.Logger
	formatter *rbi.Formatter

	// builtinScripts is set while scriptsFS is the embedded set, whose
	// compilers are opt-in.
	builtinScripts bool

	// useParallel decorates candidates on a worker pool.
	useParallel bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithParallel controls parallel decoration. When true (default), Run
// decorates on cfg.Workers goroutines and a single writer commits each
// result. Set to false for serial mode.
func WithParallel(parallel bool) Option {
	return func(e *Engine) {
		e.useParallel = parallel
	}
}

// WithScriptsFS loads script compilers from fsys instead of the embedded
// set. cfg.ScriptsDir takes precedence over both.
func WithScriptsFS(fsys fs.FS) Option {
	return func(e *Engine) {
		e.scriptsFS = fsys
		e.builtinScripts = false
	}
}

// WithFormatter replaces rbi.DefaultFormatter.
func WithFormatter(f *rbi.Formatter) Option {
	return func(e *Engine) {
		e.formatter = f
	}
}

// New creates an Engine for cfg, opening the run database and registering
// the native and script compilers.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:            cfg,
		scriptsFS:      scripts.FS,
		builtinScripts: true,
		log:            zap.NewNop(),
		formatter:      rbi.DefaultFormatter,
		useParallel:    true,
	}
	for _, opt := range opts {
		opt(e)
	}

	dbPath := cfg.Abs(cfg.DB)
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create database directory")
		}
	}
	s, err := store.NewStore(dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "create store")
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, errors.Wrap(err, "migrate")
	}
	e.store = s

	rtOpts := []scripting.RuntimeOption{scripting.WithLogger(e.log)}
	if cfg.ScriptsDir == "" {
		rtOpts = append(rtOpts, scripting.WithRuntimeFS(e.scriptsFS))
	}
	e.runtime = scripting.NewRuntime(cfg.Abs(cfg.ScriptsDir), rtOpts...)

	e.registry = compiler.NewRegistry()
	if err := e.registry.Register(virtus.Name, virtus.New); err != nil {
		s.Close()
		return nil, err
	}
	register := e.runtime.Register
	if cfg.ScriptsDir == "" && e.builtinScripts {
		register = e.runtime.RegisterOptIn
	}
	if err := register(e.registry); err != nil {
		s.Close()
		return nil, errors.Wrap(err, "load script compilers")
	}
	return e, nil
}

// Close releases the run database.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Store returns the underlying Store for direct access.
func (e *Engine) Store() *Store {
	return e.store
}

// Compilers returns the names of every registered compiler, in the order
// they decorate a constant.
func (e *Engine) Compilers() []string {
	return e.registry.Names()
}

// OptIn reports whether the named compiler only runs when Only names it.
func (e *Engine) OptIn(name string) bool {
	return e.registry.OptIn(name)
}

// Query returns a QueryBuilder over the run history.
func (e *Engine) Query() *QueryBuilder {
	return &QueryBuilder{store: e.store}
}

// ScriptsChanged reports whether the script compilers differ from the ones
// that produced the last recorded run.
func (e *Engine) ScriptsChanged() bool {
	stored, err := e.store.GetMetadata(scriptsHashKey)
	if err != nil || stored == "" {
		return true
	}
	return stored != e.runtime.Hash()
}

func (e *Engine) storeScriptsHash() {
	if err := e.store.SetMetadata(scriptsHashKey, e.runtime.Hash()); err != nil {
		e.log.Warn("could not record scripts hash", zap.Error(err))
	}
}

// Run generates RBI files for the named constants, or for every candidate
// when none are named, and writes them to the output directory. Files of
// constants that are no longer generated are removed on a full run.
func (e *Engine) Run(ctx context.Context, constants ...string) (*Report, error) {
	return e.generate(ctx, false, constants)
}

// Verify generates like Run but writes nothing. The report lists every file
// that is missing, different or stale on disk.
func (e *Engine) Verify(ctx context.Context, constants ...string) (*Report, error) {
	return e.generate(ctx, true, constants)
}

// session holds what one generation run loads.
type session struct {
	space   *objspace.Space
	tracker *tracker.Tracker
	result  *loader.Result
}

// load brings the project into a fresh object space with a tracker
// installed before any code runs.
func (e *Engine) load(ctx context.Context) (*session, error) {
	space := objspace.New()
	tr := tracker.New(tracker.WithLogger(e.log))
	tr.Install(space)

	manifest, err := e.manifest()
	if err != nil {
		tr.Close()
		return nil, err
	}

	exclude := append([]string(nil), e.cfg.ExcludePaths...)
	if rel, err := filepath.Rel(e.cfg.Root, e.cfg.Abs(e.cfg.Outdir)); err == nil && !strings.HasPrefix(rel, "..") {
		exclude = append(exclude, filepath.ToSlash(rel)+"/")
	}
	files, err := discover.RubyFiles(e.cfg.Root, exclude)
	if err != nil {
		tr.Close()
		return nil, err
	}

	ld := loader.New(space, loader.WithLogger(e.log), loader.WithManifest(manifest))
	res, err := ld.Load(ctx, files)
	if err != nil {
		tr.Close()
		return nil, err
	}
	return &session{space: space, tracker: tr, result: res}, nil
}

func (e *Engine) manifest() (*loader.Manifest, error) {
	path := e.cfg.Abs(e.cfg.Manifest)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		e.log.Debug("no bundle manifest", zap.String(logging.FieldPath, path))
		return loader.EmptyManifest(e.cfg.Root), nil
	}
	return loader.ReadManifest(path)
}

func (e *Engine) generate(ctx context.Context, verify bool, constants []string) (*Report, error) {
	start := time.Now()
	command := e.cfg.Command
	if len(constants) > 0 {
		command += " " + strings.Join(constants, " ")
	}
	run, err := e.store.BeginRun(command)
	if err != nil {
		return nil, err
	}
	report, err := e.generateRun(ctx, run, verify, constants)
	status := store.RunOK
	if verify {
		status = store.RunVerified
	}
	if err != nil {
		status = store.RunFailed
	}
	if ferr := e.store.FinishRun(run.ID, status); ferr != nil {
		e.log.Warn("could not finish run", zap.Error(ferr))
	}
	if err != nil {
		return nil, err
	}
	if perr := e.store.PruneRuns(e.cfg.KeepRuns); perr != nil {
		e.log.Warn("could not prune runs", zap.Error(perr))
	}
	report.Duration = time.Since(start)
	e.log.Info("generation finished",
		zap.String(logging.FieldRunID, run.ID),
		zap.Int(logging.FieldCount, len(report.Files)),
		zap.Duration(logging.FieldDuration, report.Duration))
	return report, nil
}

func (e *Engine) generateRun(ctx context.Context, run *store.Run, verify bool, constants []string) (*Report, error) {
	sess, err := e.load(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.tracker.Close()

	compilers, err := e.registry.New(compiler.Env{Space: sess.space, Logger: e.log}, compiler.Filter{
		Only:    e.cfg.Only,
		Exclude: e.cfg.Exclude,
	})
	if err != nil {
		return nil, err
	}

	candidates := compiler.Gather(compilers, constants...)
	if err := checkRequested(sess.space, candidates, constants); err != nil {
		return nil, err
	}

	if e.ScriptsChanged() {
		e.log.Info("script compilers changed since the last run")
	}

	report := &Report{
		RunID:        run.ID,
		MissingSpecs: sess.result.MissingSpecs,
		Verify:       verify,
	}
	items := make([]workItem, len(candidates))
	for i, cand := range candidates {
		items[i] = workItem{
			candidate: cand,
			runID:     run.ID,
			batch:     store.NewBatchedStore(e.store),
		}
	}

	var results []workItem
	if e.useParallel {
		results, err = e.decorateParallel(ctx, sess, items)
	} else {
		results, err = e.decorateSerial(ctx, sess, items)
	}
	if err != nil {
		return nil, err
	}

	generated := make(map[string]bool, len(results))
	for _, item := range results {
		// A verify run writes nothing, to disk or to the run history.
		if !verify {
			if err := e.store.CommitBatch(item.batch); err != nil {
				return nil, errors.Wrapf(err, "commit %s", item.candidate.Module.QualifiedName())
			}
		}
		generated[item.path] = true
		if err := e.emit(report, item, verify); err != nil {
			return nil, err
		}
	}

	if len(constants) == 0 {
		if err := e.removeStale(report, generated, verify); err != nil {
			return nil, err
		}
	}
	if !verify {
		e.storeScriptsHash()
	}
	sort.Strings(report.Files)
	return report, nil
}

// checkRequested fails when a requested constant does not exist or no
// compiler generates it.
func checkRequested(space *objspace.Space, candidates []compiler.Candidate, constants []string) error {
	if len(constants) == 0 {
		return nil
	}
	found := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		found[c.Module.QualifiedName()] = true
	}
	for _, name := range constants {
		if found[name] {
			continue
		}
		if _, ok := space.Lookup(strings.TrimPrefix(name, "::")); !ok {
			return errors.Newf("cannot find constant %q", name)
		}
		return errors.WithHint(errors.Newf("no DSL compiler generates %q", name),
			"check that the class or module uses a supported DSL")
	}
	return nil
}

// emit writes or verifies one file.
func (e *Engine) emit(report *Report, item workItem, verify bool) error {
	abs := filepath.Join(e.cfg.Abs(e.cfg.Outdir), filepath.FromSlash(item.path))
	report.Files = append(report.Files, item.path)

	existing, err := os.ReadFile(abs)
	switch {
	case err == nil && string(existing) == item.content:
		report.Unchanged = append(report.Unchanged, item.path)
		return nil
	case err != nil && !os.IsNotExist(err):
		return errors.Wrapf(err, "read %s", abs)
	}

	if verify {
		if err != nil {
			report.Added = append(report.Added, item.path)
		} else {
			report.Changed = append(report.Changed, item.path)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return errors.Wrapf(err, "create %s", filepath.Dir(abs))
	}
	if err := os.WriteFile(abs, []byte(item.content), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", abs)
	}
	report.Written = append(report.Written, item.path)
	e.log.Debug("wrote", zap.String(logging.FieldPath, item.path))
	return nil
}

// removeStale deletes .rbi files under the output directory that this run
// did not generate, then prunes directories left empty.
func (e *Engine) removeStale(report *Report, generated map[string]bool, verify bool) error {
	outdir := e.cfg.Abs(e.cfg.Outdir)
	var stale []string
	err := filepath.WalkDir(outdir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".rbi" {
			return nil
		}
		rel, err := filepath.Rel(outdir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !generated[rel] {
			stale = append(stale, rel)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "scan output directory")
	}
	sort.Strings(stale)
	report.Removed = stale
	if verify {
		return nil
	}
	for _, rel := range stale {
		abs := filepath.Join(outdir, filepath.FromSlash(rel))
		if err := os.Remove(abs); err != nil {
			return errors.Wrapf(err, "remove %s", abs)
		}
		e.log.Debug("removed", zap.String(logging.FieldPath, rel))
		pruneEmptyDirs(filepath.Dir(abs), outdir)
	}
	return nil
}

func pruneEmptyDirs(dir, stop string) {
	for dir != stop && strings.HasPrefix(dir, stop) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if os.Remove(dir) != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
