// Package compiler defines the DSL compiler contract and the registry the
// engine builds its compiler set from.
//
// A compiler reflects over the loaded object space in two steps. Gathering
// selects the module objects it knows how to describe and must not mutate
// anything. Decorating writes declarations for one candidate into the
// scope named after it.
package compiler

import (
	"regexp"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/jward/rbigen/internal/objspace"
	"github.com/jward/rbigen/internal/rbi"
)

// Compiler emits declarations for one modeling convention.
type Compiler interface {
	// Name identifies the compiler in configuration and stored outputs.
	Name() string
	// GatherCandidates returns the module objects this compiler decorates,
	// sorted by qualified name then handle. Calling it twice without new
	// loads yields the same result.
	GatherCandidates() []*objspace.Module
	// Decorate writes declarations for target into root.
	Decorate(root *rbi.Tree, target *objspace.Module) error
}

// Env is what a compiler is constructed with.
type Env struct {
	Space  *objspace.Space
	Logger *zap.Logger
}

// Factory builds a compiler bound to env.
type Factory func(env Env) Compiler

// ErrUnknownCompiler is returned when a filter names a compiler that was
// never registered.
var ErrUnknownCompiler = errors.New("unknown compiler")

// Registry maps compiler names to factories. Names keep registration order.
type Registry struct {
	mu        sync.RWMutex
	names     []string
	factories map[string]Factory
	optIn     map[string]bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory), optIn: make(map[string]bool)}
}

// Register adds a factory under name.
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[name]; dup {
		return errors.Newf("compiler %q already registered", name)
	}
	r.names = append(r.names, name)
	r.factories[name] = f
	return nil
}

// RegisterOptIn adds a factory that New only instantiates when a filter's
// Only names it.
func (r *Registry) RegisterOptIn(name string, f Factory) error {
	if err := r.Register(name, f); err != nil {
		return err
	}
	r.mu.Lock()
	r.optIn[name] = true
	r.mu.Unlock()
	return nil
}

// OptIn reports whether name was registered with RegisterOptIn.
func (r *Registry) OptIn(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.optIn[name]
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.names...)
}

// Filter restricts which registered compilers New instantiates. An empty
// Only means all of them except the opt-in ones.
type Filter struct {
	Only    []string
	Exclude []string
}

// New instantiates the compilers selected by filter, in registration
// order. Unknown names in the filter are an error.
func (r *Registry) New(env Env, filter Filter) ([]Compiler, error) {
	if env.Logger == nil {
		env.Logger = zap.NewNop()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range append(append([]string(nil), filter.Only...), filter.Exclude...) {
		if _, ok := r.factories[name]; !ok {
			available := append([]string(nil), r.names...)
			sort.Strings(available)
			return nil, errors.WithHintf(errors.Wrapf(ErrUnknownCompiler, "%q", name),
				"available compilers: %v", available)
		}
	}
	only := toSet(filter.Only)
	exclude := toSet(filter.Exclude)

	var out []Compiler
	for _, name := range r.names {
		if !only[name] && (len(only) > 0 || r.optIn[name]) {
			continue
		}
		if exclude[name] {
			continue
		}
		out = append(out, r.factories[name](env))
	}
	return out, nil
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// ErrAnonymous is returned when a declaration scope is requested for a
// module object with no constant name.
var ErrAnonymous = errors.New("anonymous module has no declaration scope")

// CreatePath returns the declaration scope for mod inside root, creating
// one scope per namespace segment. Each segment is a class or module scope
// according to the live object.
func CreatePath(root *rbi.Tree, mod *objspace.Module) (*rbi.Scope, error) {
	if mod.QualifiedName() == "" {
		return nil, errors.Wrapf(ErrAnonymous, "%s", mod)
	}
	chain := []*objspace.Module{mod}
	for m := mod.Namespace(); m != nil && m.Namespace() != nil; m = m.Namespace() {
		chain = append(chain, m)
	}
	segments := make([]rbi.Segment, len(chain))
	for i, m := range chain {
		kind := rbi.ScopeModule
		if m.IsClass() {
			kind = rbi.ScopeClass
		}
		segments[len(chain)-1-i] = rbi.Segment{Kind: kind, Name: m.Name()}
	}
	return root.CreatePath(segments...), nil
}

var methodName = regexp.MustCompile(`^(?:[A-Za-z_][A-Za-z0-9_]*[?!=]?|\[\]=?|[+\-*/%<>~!]|\*\*|==|===|!=|=~|!~|<=>|<=|>=|<<|>>|[+\-]@|&|\||\^)$`)

// ValidMethodName reports whether name can be written as a def.
func ValidMethodName(name string) bool {
	return methodName.MatchString(name)
}

// CreateMethod adds a public method declaration to scope. Names that are
// not valid method identifiers are skipped and nil is returned.
func CreateMethod(scope *rbi.Scope, name string, params []rbi.Param, returnType string) *rbi.Method {
	if !ValidMethodName(name) {
		return nil
	}
	return scope.CreateMethod(name, params, returnType)
}

// CreateParam builds a positional parameter.
func CreateParam(name, typ string) rbi.Param {
	return rbi.Param{Name: name, Type: typ}
}

// AllModules returns every named non-singleton module object, sorted.
func AllModules(space *objspace.Space) []*objspace.Module {
	return named(space.Modules())
}

// AllClasses returns every named class, sorted.
func AllClasses(space *objspace.Space) []*objspace.Module {
	return named(space.Classes())
}

func named(mods []*objspace.Module) []*objspace.Module {
	out := make([]*objspace.Module, 0, len(mods))
	for _, m := range mods {
		if m.QualifiedName() != "" {
			out = append(out, m)
		}
	}
	objspace.SortByName(out)
	return out
}

// Names returns the qualified names of mods in order.
func Names(mods []*objspace.Module) []string {
	out := make([]string, len(mods))
	for i, m := range mods {
		out[i] = m.QualifiedName()
	}
	return out
}

// Candidate is a module object paired with the compilers that selected it.
type Candidate struct {
	Module    *objspace.Module
	Compilers []Compiler
}

// Gather runs every compiler's gathering step and groups the results by
// module object. Compilers keep their input order within a candidate;
// candidates are sorted by qualified name then handle. When names is
// non-empty only candidates with those qualified names are kept.
func Gather(compilers []Compiler, names ...string) []Candidate {
	want := toSet(names)
	byHandle := make(map[objspace.Handle]*Candidate)
	var mods []*objspace.Module
	for _, c := range compilers {
		for _, m := range c.GatherCandidates() {
			if len(want) > 0 && !want[m.QualifiedName()] {
				continue
			}
			cand, ok := byHandle[m.Handle()]
			if !ok {
				cand = &Candidate{Module: m}
				byHandle[m.Handle()] = cand
				mods = append(mods, m)
			}
			cand.Compilers = append(cand.Compilers, c)
		}
	}
	objspace.SortByName(mods)
	out := make([]Candidate, len(mods))
	for i, m := range mods {
		out[i] = *byHandle[m.Handle()]
	}
	return out
}
