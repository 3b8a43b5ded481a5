// Package scripting runs Risor scripts as DSL compilers.
//
// Each compilers/<name>.risor file in the scripts filesystem becomes a
// compiler called <name>. The script runs once per gathering step with the
// global mode set to "gather" and reports candidates with candidate(name),
// and once per candidate with mode "decorate" and target set to the
// candidate's qualified name, emitting declarations with create_method.
package scripting

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"go.uber.org/zap"
)

// CompilersDir is the directory of compiler scripts inside the scripts
// filesystem.
const CompilersDir = "compilers"

// Runtime loads and evaluates Risor scripts.
type Runtime struct {
	scriptsDir string
	fsys       fs.FS
	log        *zap.Logger
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeFS loads scripts from fsys instead of from disk. The Risor
// importer then resolves import statements inside fsys too.
func WithRuntimeFS(fsys fs.FS) RuntimeOption {
	return func(r *Runtime) {
		r.fsys = fsys
	}
}

// WithLogger sets the logger scripts write to through the log global.
func WithLogger(l *zap.Logger) RuntimeOption {
	return func(r *Runtime) {
		r.log = l
	}
}

// NewRuntime creates a Runtime reading scripts from scriptsDir, unless
// WithRuntimeFS is given.
func NewRuntime(scriptsDir string, opts ...RuntimeOption) *Runtime {
	r := &Runtime{scriptsDir: scriptsDir, log: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunSource evaluates source with globals. label names the script in
// errors.
func (r *Runtime) RunSource(ctx context.Context, source, label string, globals map[string]any) error {
	var opts []risor.Option
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}
	if imp := r.buildImporter(globals); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}
	if _, err := risor.Eval(ctx, source, opts...); err != nil {
		return errors.Wrapf(err, "script %s", label)
	}
	return nil
}

// buildImporter returns a Risor importer for the Runtime's script source,
// or nil when neither an fs.FS nor a directory is configured.
func (r *Runtime) buildImporter(globals map[string]any) importer.Importer {
	globalNames := make([]string, 0, len(globals))
	for name := range globals {
		globalNames = append(globalNames, name)
	}

	if r.fsys != nil {
		return importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: globalNames,
			SourceFS:    r.fsys,
			Extensions:  []string{".risor"},
		})
	}
	if r.scriptsDir != "" {
		return importer.NewLocalImporter(importer.LocalImporterOptions{
			GlobalNames: globalNames,
			SourceDir:   r.scriptsDir,
			Extensions:  []string{".risor"},
		})
	}
	return nil
}

// LoadScript reads a .risor file relative to the script source.
func (r *Runtime) LoadScript(p string) (string, error) {
	if r.fsys != nil {
		fsPath := strings.TrimPrefix(filepath.ToSlash(p), "/")
		data, err := fs.ReadFile(r.fsys, fsPath)
		if err != nil {
			return "", errors.Wrapf(err, "load script %s", fsPath)
		}
		return string(data), nil
	}

	fullPath := p
	if !filepath.IsAbs(p) {
		fullPath = filepath.Join(r.scriptsDir, p)
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", errors.Wrapf(err, "load script %s", fullPath)
	}
	return string(data), nil
}

// scriptPaths returns every .risor file of the script source, relative and
// slash-separated, sorted.
func (r *Runtime) scriptPaths() []string {
	var paths []string
	collect := func(rel string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(rel, ".risor") {
			paths = append(paths, filepath.ToSlash(rel))
		}
		return nil
	}

	if r.fsys != nil {
		_ = fs.WalkDir(r.fsys, ".", collect)
	} else if r.scriptsDir != "" {
		_ = filepath.WalkDir(r.scriptsDir, func(p string, d fs.DirEntry, err error) error {
			rel, relErr := filepath.Rel(r.scriptsDir, p)
			if relErr != nil {
				return nil
			}
			return collect(rel, d, err)
		})
	}
	sort.Strings(paths)
	return paths
}

// CompilerNames lists the compiler scripts, by name, sorted.
func (r *Runtime) CompilerNames() []string {
	var names []string
	for _, p := range r.scriptPaths() {
		dir, file := path.Split(p)
		if strings.TrimSuffix(dir, "/") != CompilersDir {
			continue
		}
		names = append(names, strings.TrimSuffix(file, ".risor"))
	}
	return names
}

// Hash is a SHA-256 over every script's path and contents. Generated files
// are stale when it changes.
func (r *Runtime) Hash() string {
	h := sha256.New()
	for _, p := range r.scriptPaths() {
		src, err := r.LoadScript(p)
		if err != nil {
			continue
		}
		h.Write([]byte(p))
		h.Write([]byte(src))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
