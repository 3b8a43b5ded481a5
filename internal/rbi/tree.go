// Package rbi is the declaration tree written to .rbi files: scopes
// (classes, modules, singleton classes) holding method declarations with
// their signatures, plus the file-level sigil and comments.
package rbi

import (
	"strings"
	"sync"
)

// Node is an element of a scope body.
type Node interface {
	rank() int
	sortName() string
}

// ScopeKind is the kind of a scope node.
type ScopeKind string

const (
	ScopeModule    ScopeKind = "module"
	ScopeClass     ScopeKind = "class"
	ScopeSingleton ScopeKind = "singleton"
)

// Visibility of a method declaration.
type Visibility string

const (
	Public    Visibility = "public"
	Protected Visibility = "protected"
	Private   Visibility = "private"
)

// Param is a positional method parameter.
type Param struct {
	Name string
	Type string
}

// Method is a method declaration with its signature. An empty ReturnType
// renders as void.
type Method struct {
	Name       string
	Params     []Param
	ReturnType string
	Singleton  bool
	Visibility Visibility
	Comments   []string
}

func (m *Method) rank() int {
	if m.Singleton {
		return rankSingletonMethod
	}
	return rankMethod
}

func (m *Method) sortName() string { return m.Name }

// Comment is a standalone comment line.
type Comment struct {
	Text string
}

func (*Comment) rank() int          { return rankComment }
func (c *Comment) sortName() string { return "" }

// BlankLine separates comment blocks.
type BlankLine struct{}

func (*BlankLine) rank() int        { return rankComment }
func (*BlankLine) sortName() string { return "" }

// Tree is an ordered list of nodes with idempotent scope creation. The
// zero value is not usable; create trees with NewTree.
type Tree struct {
	mu     sync.Mutex
	nodes  []Node
	scopes map[string]*Scope
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{scopes: make(map[string]*Scope)}
}

// Scope is a class, module or `class << self` body.
type Scope struct {
	Kind       ScopeKind
	Name       string
	Superclass string
	*Tree
}

func (s *Scope) rank() int {
	if s.Kind == ScopeSingleton {
		return rankSingletonClass
	}
	return rankScope
}

func (s *Scope) sortName() string { return s.Name }

// Segment is one element of a constant path passed to CreatePath.
type Segment struct {
	Kind ScopeKind
	Name string
}

// CreateScope returns the child scope called name, creating it with kind
// when absent. Concurrent calls for the same name return the same scope.
// An existing scope keeps the kind it was created with.
func (t *Tree) CreateScope(kind ScopeKind, name string) *Scope {
	key := name
	if kind == ScopeSingleton {
		key = "<< self"
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.scopes[key]; ok {
		return s
	}
	s := &Scope{Kind: kind, Name: name, Tree: NewTree()}
	t.scopes[key] = s
	t.nodes = append(t.nodes, s)
	return s
}

// CreatePath creates or reuses the nested scopes for segments and returns
// the innermost one. It panics when segments is empty.
func (t *Tree) CreatePath(segments ...Segment) *Scope {
	if len(segments) == 0 {
		panic("rbi: CreatePath with no segments")
	}
	s := t.CreateScope(segments[0].Kind, segments[0].Name)
	for _, seg := range segments[1:] {
		s = s.CreateScope(seg.Kind, seg.Name)
	}
	return s
}

// Scope returns the existing child scope called name.
func (t *Tree) Scope(name string) (*Scope, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.scopes[name]
	return s, ok
}

// AddNode appends n to the tree.
func (t *Tree) AddNode(n Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := n.(*Scope); ok {
		key := s.Name
		if s.Kind == ScopeSingleton {
			key = "<< self"
		}
		t.scopes[key] = s
	}
	t.nodes = append(t.nodes, n)
}

// CreateMethod appends a method declaration and returns it.
func (t *Tree) CreateMethod(name string, params []Param, returnType string) *Method {
	m := &Method{Name: name, Params: params, ReturnType: returnType, Visibility: Public}
	t.AddNode(m)
	return m
}

// Nodes returns a copy of the tree's nodes.
func (t *Tree) Nodes() []Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Node(nil), t.nodes...)
}

// Empty reports whether the tree has no nodes.
func (t *Tree) Empty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nodes) == 0
}

func (t *Tree) setNodes(nodes []Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes = nodes
}

// Methods returns every method in the tree, depth first, with the
// qualified scope path of the method's owner.
func (t *Tree) Methods() []ScopedMethod {
	var out []ScopedMethod
	t.walkMethods(nil, &out)
	return out
}

// ScopedMethod pairs a method with its enclosing scope path.
type ScopedMethod struct {
	Scope  string
	Method *Method
}

func (t *Tree) walkMethods(path []string, out *[]ScopedMethod) {
	for _, n := range t.Nodes() {
		switch n := n.(type) {
		case *Method:
			*out = append(*out, ScopedMethod{Scope: strings.Join(path, "::"), Method: n})
		case *Scope:
			name := n.Name
			if n.Kind == ScopeSingleton {
				name = "<< self"
			}
			n.walkMethods(append(append([]string(nil), path...), name), out)
		}
	}
}

// File is one .rbi file.
type File struct {
	Strictness string
	Comments   []Node
	Root       *Tree
}

// NewFile returns an empty file with the given strictness sigil.
func NewFile(strictness string) *File {
	return &File{Strictness: strictness, Root: NewTree()}
}

// AddComment appends a header comment line.
func (f *File) AddComment(text string) {
	f.Comments = append(f.Comments, &Comment{Text: text})
}
