// Package loader brings a project and its bundled gems into an object
// space. Ruby source is evaluated structurally from its tree-sitter syntax
// tree: class and module bodies, method definitions, mixins, programmatic
// construction and string evaluation are executed, and the object space's
// open and construct events fire as they would while the host interpreter
// loads the code. Gems whose behavior lives in compiled code are stood in
// for by Extensions.
package loader

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	sitter "github.com/smacker/go-tree-sitter"
	"go.uber.org/zap"

	"github.com/jward/rbigen/internal/objspace"
)

// DefaultPostrequire is the postrequire file used when the manifest does
// not name one. It is skipped when absent.
const DefaultPostrequire = "sorbet/rbigen/require.rb"

// maxCallDepth bounds evaluation of Ruby-defined methods.
const maxCallDepth = 64

// Loader evaluates Ruby source into an object space. A Loader is used by a
// single goroutine.
type Loader struct {
	space      *objspace.Space
	manifest   *Manifest
	log        *zap.Logger
	extensions map[string]Extension

	natives map[*objspace.Method]NativeFunc
	bodies  map[*objspace.Method]*methodBody

	loaded   map[string]bool // canonical file paths already evaluated
	features map[string]bool // extension features already loaded
	files    []string

	frames []objspace.Frame // callers, innermost first
	depth  int
	trees  []*sitter.Tree
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the loader's logger.
func WithLogger(log *zap.Logger) Option {
	return func(l *Loader) {
		l.log = log
	}
}

// WithManifest sets the bundle the loader requires gems from.
func WithManifest(m *Manifest) Option {
	return func(l *Loader) {
		l.manifest = m
	}
}

// WithExtensions replaces the default extension set.
func WithExtensions(exts ...Extension) Option {
	return func(l *Loader) {
		l.extensions = make(map[string]Extension, len(exts))
		for _, ext := range exts {
			l.extensions[ext.Feature()] = ext
		}
	}
}

// New creates a Loader for space. Without WithManifest the bundle is
// empty and rooted at the working directory.
func New(space *objspace.Space, opts ...Option) *Loader {
	l := &Loader{
		space:    space,
		log:      zap.NewNop(),
		natives:  make(map[*objspace.Method]NativeFunc),
		bodies:   make(map[*objspace.Method]*methodBody),
		loaded:   make(map[string]bool),
		features: make(map[string]bool),
	}
	WithExtensions(Virtus())(l)
	for _, opt := range opts {
		opt(l)
	}
	if l.manifest == nil {
		l.manifest = EmptyManifest(".")
	}
	return l
}

// Result summarizes a completed load.
type Result struct {
	// Files lists every evaluated file in evaluation order.
	Files []string
	// MissingSpecs lists bundled gems that could not be loaded as
	// declared. They are reported, not fatal.
	MissingSpecs []string
}

// Load evaluates the prerequire file, requires every bundled gem, evaluates
// the postrequire file and finally the project files. A *LoadError aborts
// the load.
func (l *Loader) Load(ctx context.Context, projectFiles []string) (*Result, error) {
	res, err := l.load(ctx, projectFiles)
	if le, ok := AsLoadError(err); ok && le.Postrequire == "" {
		le.Postrequire = l.postrequire()
	}
	return res, err
}

// postrequire is the postrequire file as the manifest names it.
func (l *Loader) postrequire() string {
	if l.manifest.Postrequire != "" {
		return l.manifest.Postrequire
	}
	return DefaultPostrequire
}

func (l *Loader) load(ctx context.Context, projectFiles []string) (*Result, error) {
	m := l.manifest
	if m.Prerequire != "" {
		if err := l.RequireFile(ctx, m.Resolve(m.Prerequire)); err != nil {
			return nil, err
		}
	}

	from := m.File()
	for i, gem := range m.Gems {
		for _, feature := range gem.Features() {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			sc := l.mainScope(from)
			if err := l.require(ctx, sc, feature, false, i+1); err != nil {
				return nil, err
			}
		}
	}

	if p := m.Resolve(l.postrequire()); fileExists(p) {
		if err := l.RequireFile(ctx, p); err != nil {
			return nil, err
		}
	}

	for _, f := range projectFiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := l.RequireFile(ctx, f); err != nil {
			return nil, err
		}
	}

	missing := l.missingSpecs()
	if len(missing) > 0 {
		l.log.Warn("completed with missing specs", zap.Strings("gems", missing))
	}
	l.log.Info("loaded", zap.Int("files", len(l.files)))
	return &Result{Files: append([]string(nil), l.files...), MissingSpecs: missing}, nil
}

// RequireFile evaluates the file at path at top level unless it was
// already loaded.
func (l *Loader) RequireFile(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrapf(err, "resolve %s", path)
	}
	if !fileExists(abs) {
		return &LoadError{Feature: path}
	}
	return l.evalFile(ctx, canonical(abs))
}

// EvalString evaluates src as if it were the file at path. The file does
// not need to exist; events then carry path as a pseudo-path.
func (l *Loader) EvalString(ctx context.Context, path, src string) error {
	return l.evalSource(ctx, l.mainScope(path), []byte(src))
}

// require resolves feature and evaluates it once. line locates the call
// in sc's file.
func (l *Loader) require(ctx context.Context, sc *scope, feature string, relative bool, line int) error {
	if !relative {
		if ext, ok := l.extensions[feature]; ok {
			gem, bundled := l.bundledGem(feature)
			if bundled && !versionSatisfied(gem) {
				l.log.Warn("bundled version does not satisfy the requirement, not loading stand-in",
					zap.String("gem", gem.Name), zap.String("version", gem.Version), zap.String("requirement", gem.Requirement))
				bundled = false
			}
			if bundled {
				if l.features[feature] {
					return nil
				}
				l.features[feature] = true
				l.log.Debug("loading extension", zap.String("feature", feature))
				if err := ext.Load(l, l.manifest.GemDir(gem)); err != nil {
					return errors.Wrapf(err, "load extension %s", feature)
				}
				return nil
			}
		}
	}

	path, ok := l.resolveFeature(sc.path, feature, relative)
	if !ok {
		return &LoadError{Feature: feature, From: sc.path, Line: line}
	}
	if l.loaded[path] {
		return nil
	}
	l.push(objspace.Frame{Path: sc.path, Line: line, Label: sc.label})
	defer l.pop()
	return l.evalFile(ctx, path)
}

// missingSpecs is the manifest's missing specs minus gems an extension
// stood in for: their install directory is never read.
func (l *Loader) missingSpecs() []string {
	var out []string
	for _, g := range l.manifest.Gems {
		if l.features[g.Name] {
			continue
		}
		if !l.manifest.satisfied(g) {
			out = append(out, g.label())
		}
	}
	sort.Strings(out)
	return out
}

func (l *Loader) bundledGem(name string) (Gem, bool) {
	for _, g := range l.manifest.Gems {
		if g.Name == name {
			return g, true
		}
	}
	return Gem{}, false
}

// resolveFeature maps a require argument to a canonical file path.
func (l *Loader) resolveFeature(from, feature string, relative bool) (string, bool) {
	name := feature
	if filepath.Ext(name) != ".rb" {
		name += ".rb"
	}
	var candidates []string
	switch {
	case relative:
		candidates = []string{filepath.Join(filepath.Dir(from), name)}
	case filepath.IsAbs(name):
		candidates = []string{name}
	case strings.HasPrefix(name, "./") || strings.HasPrefix(name, "../"):
		candidates = []string{filepath.Join(l.manifest.Dir(), name)}
	default:
		for _, dir := range l.manifest.loadPaths() {
			candidates = append(candidates, filepath.Join(dir, name))
		}
	}
	for _, c := range candidates {
		if fileExists(c) {
			return canonical(c), true
		}
	}
	return "", false
}

func (l *Loader) evalFile(ctx context.Context, path string) error {
	if l.loaded[path] {
		return nil
	}
	l.loaded[path] = true
	src, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	l.files = append(l.files, path)
	l.log.Debug("evaluating", zap.String("path", path))
	return l.evalSource(ctx, l.mainScope(path), src)
}

func (l *Loader) push(f objspace.Frame) {
	l.frames = append([]objspace.Frame{f}, l.frames...)
}

func (l *Loader) pop() {
	l.frames = l.frames[1:]
}

// stackAt returns the call stack with the current location innermost.
func (l *Loader) stackAt(sc *scope, line int) []objspace.Frame {
	out := make([]objspace.Frame, 0, len(l.frames)+1)
	out = append(out, objspace.Frame{Path: sc.path, Line: line, Label: sc.label})
	return append(out, l.frames...)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func canonical(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return path
}
