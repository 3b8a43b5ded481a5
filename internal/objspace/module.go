package objspace

import (
	"fmt"
	"sort"

	"github.com/jward/rbigen/internal/typecat"
)

// Handle is the arena index of a module object. Handles are assigned at
// creation, start at 1, and are never reused within a Space.
type Handle int64

// ModuleKind distinguishes classes, plain modules and singleton classes.
type ModuleKind string

const (
	KindModule    ModuleKind = "module"
	KindClass     ModuleKind = "class"
	KindSingleton ModuleKind = "singleton"
)

// Method is a method definition. Origin is the defining-origin tag: the
// source file of the code that created the method, which candidacy
// predicates match against.
type Method struct {
	Name   string
	Origin string
	Line   int
}

// Attribute is a typed attribute registered on a class by an
// object-modeling extension.
type Attribute struct {
	Name string
	Kind typecat.Kind
	// TypeName is the primitive constant the library recorded, e.g.
	// "Axiom::Types::Integer". Empty for untyped attributes.
	TypeName string
}

// Module is a live class or module object. Identity is the Handle; names
// are informational and may collide across namespaces.
type Module struct {
	space      *Space
	handle     Handle
	kind       ModuleKind
	name       string
	namespace  *Module
	superclass *Module
	attached   *Module // singleton classes only
	singleton  *Module

	methods    map[string]*Method
	includes   []*Module
	attributes []Attribute
}

// Handle returns the arena handle.
func (m *Module) Handle() Handle { return m.handle }

// Kind returns the module kind.
func (m *Module) Kind() ModuleKind { return m.kind }

// IsClass reports whether m is a (non-singleton) class.
func (m *Module) IsClass() bool { return m.kind == KindClass }

// IsSingleton reports whether m is a singleton class.
func (m *Module) IsSingleton() bool { return m.kind == KindSingleton }

// Name returns the unqualified constant name, or "" for anonymous modules.
func (m *Module) Name() string {
	m.space.mu.RLock()
	defer m.space.mu.RUnlock()
	return m.name
}

// Namespace returns the lexical namespace, nil at top level.
func (m *Module) Namespace() *Module {
	m.space.mu.RLock()
	defer m.space.mu.RUnlock()
	return m.namespace
}

// Superclass returns the superclass of a class, nil otherwise.
func (m *Module) Superclass() *Module {
	m.space.mu.RLock()
	defer m.space.mu.RUnlock()
	return m.superclass
}

// Attached returns the object a singleton class belongs to.
func (m *Module) Attached() *Module { return m.attached }

// QualifiedName returns the "::"-joined constant path. Anonymous modules
// and singleton classes return "".
func (m *Module) QualifiedName() string {
	m.space.mu.RLock()
	defer m.space.mu.RUnlock()
	return m.qualifiedNameLocked()
}

func (m *Module) qualifiedNameLocked() string {
	if m.name == "" || m.kind == KindSingleton {
		return ""
	}
	if m.namespace == nil || m.namespace == m.space.object {
		return m.name
	}
	ns := m.namespace.qualifiedNameLocked()
	if ns == "" {
		return ""
	}
	return ns + "::" + m.name
}

// String renders the module the way the host inspects it.
func (m *Module) String() string {
	if qn := m.QualifiedName(); qn != "" {
		return qn
	}
	if m.kind == KindSingleton && m.attached != nil {
		return fmt.Sprintf("#<Class:%s>", m.attached)
	}
	return fmt.Sprintf("#<%s:0x%04x>", kindLabel(m.kind), int64(m.handle))
}

func kindLabel(k ModuleKind) string {
	if k == KindModule {
		return "Module"
	}
	return "Class"
}

// Includes returns the included modules in inclusion order.
func (m *Module) Includes() []*Module {
	m.space.mu.RLock()
	defer m.space.mu.RUnlock()
	return append([]*Module(nil), m.includes...)
}

// Methods returns the methods defined directly on m, sorted by name.
func (m *Module) Methods() []*Method {
	m.space.mu.RLock()
	defer m.space.mu.RUnlock()
	out := make([]*Method, 0, len(m.methods))
	for _, meth := range m.methods {
		out = append(out, meth)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Attributes returns the attributes registered directly on m.
func (m *Module) Attributes() []Attribute {
	m.space.mu.RLock()
	defer m.space.mu.RUnlock()
	return append([]Attribute(nil), m.attributes...)
}
