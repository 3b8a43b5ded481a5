// Package objspace is the in-process object model that loaded Ruby code
// populates: classes, modules, their methods and extension-registered
// attributes. Every module object receives a stable arena Handle at
// creation, and the Space fans definition events out to subscribed Hooks.
package objspace

import (
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// ErrNoMethod is returned when a method lookup finds no definition.
var ErrNoMethod = errors.New("undefined method")

// Space owns every module object created during one generation run.
type Space struct {
	mu      sync.RWMutex
	modules []*Module // index = handle-1
	consts  map[*Module]map[string]*Module

	object *Module

	hooksMu sync.RWMutex
	hooks   map[int]Hooks
	nextSub int
}

// New creates a Space seeded with BasicObject, Object, Module and Class.
func New() *Space {
	s := &Space{
		consts: make(map[*Module]map[string]*Module),
		hooks:  make(map[int]Hooks),
	}
	basic := s.alloc(KindClass, "BasicObject", nil, nil)
	s.object = s.alloc(KindClass, "Object", nil, basic)
	s.bindConst(s.object, "BasicObject", basic)
	s.bindConst(s.object, "Object", s.object)
	module := s.alloc(KindClass, "Module", s.object, s.object)
	s.bindConst(s.object, "Module", module)
	class := s.alloc(KindClass, "Class", s.object, module)
	s.bindConst(s.object, "Class", class)
	s.bindConst(s.object, "Struct", s.alloc(KindClass, "Struct", s.object, s.object))
	return s
}

func (s *Space) alloc(kind ModuleKind, name string, namespace, superclass *Module) *Module {
	m := &Module{
		space:      s,
		handle:     Handle(len(s.modules) + 1),
		kind:       kind,
		name:       name,
		namespace:  namespace,
		superclass: superclass,
		methods:    make(map[string]*Method),
	}
	s.modules = append(s.modules, m)
	return m
}

func (s *Space) bindConst(namespace *Module, name string, m *Module) {
	tbl := s.consts[namespace]
	if tbl == nil {
		tbl = make(map[string]*Module)
		s.consts[namespace] = tbl
	}
	tbl[name] = m
}

// Object returns the root namespace and default superclass.
func (s *Space) Object() *Module { return s.object }

// NewClass allocates a class. With a non-empty name it is bound as a
// constant in namespace (Object when nil). A nil superclass means Object.
func (s *Space) NewClass(name string, namespace, superclass *Module) *Module {
	if superclass == nil {
		superclass = s.object
	}
	return s.newModule(KindClass, name, namespace, superclass)
}

// NewModule allocates a plain module.
func (s *Space) NewModule(name string, namespace *Module) *Module {
	return s.newModule(KindModule, name, namespace, nil)
}

func (s *Space) newModule(kind ModuleKind, name string, namespace, superclass *Module) *Module {
	s.mu.Lock()
	defer s.mu.Unlock()
	if namespace == nil {
		namespace = s.object
	}
	m := s.alloc(kind, name, namespace, superclass)
	if name != "" {
		s.bindConst(namespace, name, m)
	}
	return m
}

// SetConst binds m to name inside namespace. An anonymous module takes the
// name on first assignment, as constant assignment does in the host.
func (s *Space) SetConst(namespace *Module, name string, m *Module) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if namespace == nil {
		namespace = s.object
	}
	s.bindConst(namespace, name, m)
	if m.name == "" && m.kind != KindSingleton {
		m.name = name
		m.namespace = namespace
	}
}

// ConstGet looks name up directly inside namespace.
func (s *Space) ConstGet(namespace *Module, name string) (*Module, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if namespace == nil {
		namespace = s.object
	}
	m, ok := s.consts[namespace][name]
	return m, ok
}

// Resolve looks up a possibly-qualified constant path from a lexical
// nesting (innermost first). The first segment is searched in the nesting,
// then the innermost module's superclass chain, then Object. A leading
// "::" anchors at Object.
func (s *Space) Resolve(nesting []*Module, path string) (*Module, bool) {
	if strings.HasPrefix(path, "::") {
		return s.Lookup(strings.TrimPrefix(path, "::"))
	}
	parts := strings.Split(path, "::")
	search := append([]*Module(nil), nesting...)
	if len(nesting) > 0 {
		for c := nesting[0].Superclass(); c != nil; c = c.Superclass() {
			search = append(search, c)
		}
	}
	search = append(search, s.object)
	var head *Module
	for _, ns := range search {
		if m, ok := s.ConstGet(ns, parts[0]); ok {
			head = m
			break
		}
	}
	if head == nil {
		return nil, false
	}
	for _, p := range parts[1:] {
		next, ok := s.ConstGet(head, p)
		if !ok {
			return nil, false
		}
		head = next
	}
	return head, true
}

// Lookup resolves a fully qualified constant path from Object.
func (s *Space) Lookup(qualified string) (*Module, bool) {
	cur := s.object
	for _, p := range strings.Split(strings.TrimPrefix(qualified, "::"), "::") {
		next, ok := s.ConstGet(cur, p)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// ByHandle returns the module with the given handle.
func (s *Space) ByHandle(h Handle) (*Module, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if h < 1 || int(h) > len(s.modules) {
		return nil, false
	}
	return s.modules[h-1], true
}

// Modules returns every non-singleton module object in handle order.
func (s *Space) Modules() []*Module {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Module, 0, len(s.modules))
	for _, m := range s.modules {
		if m.kind != KindSingleton {
			out = append(out, m)
		}
	}
	return out
}

// Classes returns every non-singleton class in handle order.
func (s *Space) Classes() []*Module {
	var out []*Module
	for _, m := range s.Modules() {
		if m.kind == KindClass {
			out = append(out, m)
		}
	}
	return out
}

// SingletonClass returns m's singleton class, creating it on first use.
func (s *Space) SingletonClass(m *Module) *Module {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.singleton == nil {
		sc := s.alloc(KindSingleton, "", nil, nil)
		sc.attached = m
		m.singleton = sc
	}
	return m.singleton
}

// DefineMethod defines (or redefines) an instance method on owner.
func (s *Space) DefineMethod(owner *Module, name, origin string, line int) *Method {
	s.mu.Lock()
	defer s.mu.Unlock()
	meth := &Method{Name: name, Origin: origin, Line: line}
	owner.methods[name] = meth
	return meth
}

// Include appends mod to target's ancestors. Re-including is a no-op.
func (s *Space) Include(target, mod *Module) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inc := range target.includes {
		if inc == mod {
			return
		}
	}
	target.includes = append(target.includes, mod)
}

// Extend includes mod into target's singleton class.
func (s *Space) Extend(target, mod *Module) {
	s.Include(s.SingletonClass(target), mod)
}

// AddAttribute registers an attribute on owner, replacing an earlier
// attribute with the same name.
func (s *Space) AddAttribute(owner *Module, attr Attribute) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, a := range owner.attributes {
		if a.Name == attr.Name {
			owner.attributes[i] = attr
			return
		}
	}
	owner.attributes = append(owner.attributes, attr)
}

// AttributeSet returns the attributes visible on m: its own plus those
// inherited through the superclass chain, subclass definitions winning.
// Order is ancestor-first, then definition order.
func (s *Space) AttributeSet(m *Module) []Attribute {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var chain []*Module
	for c := m; c != nil; c = c.superclass {
		chain = append(chain, c)
	}
	index := make(map[string]int)
	var out []Attribute
	for i := len(chain) - 1; i >= 0; i-- {
		for _, a := range chain[i].attributes {
			if at, ok := index[a.Name]; ok {
				out[at] = a
				continue
			}
			index[a.Name] = len(out)
			out = append(out, a)
		}
	}
	return out
}

// FindMethod resolves an instance method through owner's ancestors.
func (s *Space) FindMethod(owner *Module, name string) (*Method, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[*Module]bool)
	for c := owner; c != nil; c = c.superclass {
		if meth := findLocal(c, name, seen); meth != nil {
			return meth, nil
		}
	}
	return nil, errors.Wrapf(ErrNoMethod, "`%s' for %s", name, owner.qualifiedNameLocked())
}

// FindClassMethod resolves a method called on m itself: its singleton
// class, modules extended into it, then the superclass chain's singletons.
func (s *Space) FindClassMethod(m *Module, name string) (*Method, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[*Module]bool)
	for c := m; c != nil; c = c.superclass {
		if c.singleton == nil {
			continue
		}
		if meth := findLocal(c.singleton, name, seen); meth != nil {
			return meth, nil
		}
	}
	return nil, errors.Wrapf(ErrNoMethod, "`%s' for %s:Class", name, m.qualifiedNameLocked())
}

// MethodOrigin returns the defining-origin tag of the class-level method
// name on m. A missing method yields an error wrapping ErrNoMethod.
func (s *Space) MethodOrigin(m *Module, name string) (string, error) {
	meth, err := s.FindClassMethod(m, name)
	if err != nil {
		return "", err
	}
	return meth.Origin, nil
}

// findLocal searches m then its includes, most recent include first.
func findLocal(m *Module, name string, seen map[*Module]bool) *Method {
	if seen[m] {
		return nil
	}
	seen[m] = true
	if meth, ok := m.methods[name]; ok {
		return meth
	}
	for i := len(m.includes) - 1; i >= 0; i-- {
		if meth := findLocal(m.includes[i], name, seen); meth != nil {
			return meth
		}
	}
	return nil
}

// SortByName orders modules by qualified name, then handle.
func SortByName(mods []*Module) {
	sort.SliceStable(mods, func(i, j int) bool {
		ni, nj := mods[i].QualifiedName(), mods[j].QualifiedName()
		if ni != nj {
			return ni < nj
		}
		return mods[i].handle < mods[j].handle
	})
}
