package loader

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// DefaultManifest is the bundle manifest file name looked up in the
// project root.
const DefaultManifest = "rbigen.bundle.yml"

// Manifest describes the resolved dependency bundle of a project.
type Manifest struct {
	Gems []Gem `yaml:"gems"`
	// LoadPaths are extra directories searched by require, relative to
	// the manifest's directory.
	LoadPaths []string `yaml:"load_paths"`
	// Prerequire is evaluated before any gem is required.
	Prerequire string `yaml:"prerequire"`
	// Postrequire is evaluated after the gems, before project files.
	Postrequire string `yaml:"postrequire"`

	dir  string
	file string
}

// Gem is one bundled dependency.
type Gem struct {
	Name string `yaml:"name"`
	// Version is the installed version.
	Version string `yaml:"version"`
	// Requirement is the version constraint the project declares.
	Requirement string `yaml:"requirement"`
	// Path is the installed gem directory, relative to the manifest.
	Path string `yaml:"path"`
	// Require lists the features to require; it defaults to the gem name.
	// An explicit empty list means "require: false".
	Require *[]string `yaml:"require"`
}

// Features returns what requiring the gem loads.
func (g Gem) Features() []string {
	if g.Require == nil {
		return []string{g.Name}
	}
	return *g.Require
}

// ReadManifest parses the manifest at path.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read bundle manifest")
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(err, "parse bundle manifest %s", path)
	}
	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, errors.Wrap(err, "resolve manifest dir")
	}
	m.dir = abs
	m.file = filepath.Join(abs, filepath.Base(path))
	for i, g := range m.Gems {
		if g.Name == "" {
			return nil, errors.Newf("bundle manifest %s: gem #%d has no name", path, i+1)
		}
	}
	return &m, nil
}

// EmptyManifest returns a manifest with no gems rooted at dir, used when a
// project has no bundle manifest.
func EmptyManifest(dir string) *Manifest {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	return &Manifest{dir: abs}
}

// File returns the manifest's own path, or "" for an empty manifest.
func (m *Manifest) File() string { return m.file }

// Dir returns the directory relative paths in the manifest resolve against.
func (m *Manifest) Dir() string { return m.dir }

// Resolve makes p absolute against the manifest directory.
func (m *Manifest) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.dir, p)
}

// GemDir returns the absolute install directory of g, or "" when unset.
func (m *Manifest) GemDir(g Gem) string {
	return m.Resolve(g.Path)
}

// MissingSpecs lists the gems that cannot be loaded as declared: their
// install directory is absent, or the installed version does not satisfy
// the requirement. Entries are "name (version)", sorted.
func (m *Manifest) MissingSpecs() []string {
	var out []string
	for _, g := range m.Gems {
		if !m.satisfied(g) {
			out = append(out, g.label())
		}
	}
	sort.Strings(out)
	return out
}

func (g Gem) label() string {
	if g.Version == "" {
		return g.Name
	}
	return g.Name + " (" + g.Version + ")"
}

func (m *Manifest) satisfied(g Gem) bool {
	if g.Path != "" {
		info, err := os.Stat(m.GemDir(g))
		if err != nil || !info.IsDir() {
			return false
		}
	}
	return versionSatisfied(g)
}

// versionSatisfied reports whether g's installed version meets its
// requirement. A gem without a requirement always does.
func versionSatisfied(g Gem) bool {
	if g.Requirement == "" {
		return true
	}
	if g.Version == "" {
		return false
	}
	c, err := semver.NewConstraint(g.Requirement)
	if err != nil {
		return false
	}
	v, err := semver.NewVersion(g.Version)
	if err != nil {
		return false
	}
	return c.Check(v)
}

// loadPaths returns the require search path: explicit load paths first,
// then each installed gem's lib directory in manifest order.
func (m *Manifest) loadPaths() []string {
	var out []string
	for _, p := range m.LoadPaths {
		out = append(out, m.Resolve(p))
	}
	for _, g := range m.Gems {
		if g.Path != "" {
			out = append(out, filepath.Join(m.GemDir(g), "lib"))
		}
	}
	return out
}
