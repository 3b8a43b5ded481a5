package rbi

import (
	"sort"
)

// Group ranks used for grouping and sorting.
const (
	rankComment = iota
	rankMethod
	rankSingletonMethod
	rankSingletonClass
	rankScope
	rankVisibilityGroup
)

// Formatter normalizes a file's tree before printing.
type Formatter struct {
	// SortNodes orders nodes by kind group (methods, singleton methods,
	// singleton class, nested scopes, visibility groups), then by name.
	// The sort is stable.
	SortNodes bool
	// NestSingletonMethods moves `def self.x` declarations into a
	// `class << self` scope.
	NestSingletonMethods bool
	// NestNonPublicMethods collects protected and private methods under a
	// visibility marker at the end of their scope.
	NestNonPublicMethods bool
	// MaxLineLength breaks longer sigs over several lines; 0 disables it.
	MaxLineLength int
}

// DefaultFormatter is used for generated DSL files.
var DefaultFormatter = &Formatter{
	SortNodes:            true,
	NestSingletonMethods: true,
	NestNonPublicMethods: true,
}

// WriteHeader adds the generated-file banner comments.
func (f *Formatter) WriteHeader(file *File, command, reason string) {
	file.AddComment("DO NOT EDIT MANUALLY")
	if reason != "" {
		file.AddComment("This is an autogenerated file for " + reason + ".")
	}
	file.AddComment("Please instead update this file by running `" + command + "`.")
}

// WriteEmptyBodyComment marks a file that has no declarations.
func (f *Formatter) WriteEmptyBodyComment(file *File) {
	if len(file.Comments) > 0 {
		file.Comments = append(file.Comments, &BlankLine{})
	}
	file.AddComment("THIS IS AN EMPTY RBI FILE.")
	file.AddComment("see https://github.com/jward/rbigen#manually-requiring-parts-of-a-gem")
}

// Format applies the formatter's rules to file in place.
func (f *Formatter) Format(file *File) {
	f.formatTree(file.Root)
}

// Print formats file and renders it.
func (f *Formatter) Print(file *File) string {
	f.Format(file)
	p := &printer{maxLineLength: f.MaxLineLength}
	return p.printFile(file)
}

func (f *Formatter) formatTree(t *Tree) {
	if f.NestSingletonMethods {
		nestSingletonMethods(t)
	}
	if f.NestNonPublicMethods {
		nestNonPublicMethods(t)
	}
	for _, n := range t.Nodes() {
		if s, ok := n.(*Scope); ok {
			f.formatTree(s.Tree)
		}
	}
	if f.SortNodes {
		nodes := t.Nodes()
		sort.SliceStable(nodes, func(i, j int) bool {
			ri, rj := nodes[i].rank(), nodes[j].rank()
			if ri != rj {
				return ri < rj
			}
			return nodes[i].sortName() < nodes[j].sortName()
		})
		t.setNodes(nodes)
	}
}

func nestSingletonMethods(t *Tree) {
	var keep []Node
	var moved []*Method
	for _, n := range t.Nodes() {
		if m, ok := n.(*Method); ok && m.Singleton {
			moved = append(moved, m)
			continue
		}
		keep = append(keep, n)
	}
	if len(moved) == 0 {
		return
	}
	t.setNodes(keep)
	sc := t.CreateScope(ScopeSingleton, "")
	for _, m := range moved {
		m.Singleton = false
		sc.AddNode(m)
	}
}

// visibilityGroup holds non-public methods printed under a single
// visibility keyword.
type visibilityGroup struct {
	visibility Visibility
	methods    []*Method
}

func (g *visibilityGroup) rank() int        { return rankVisibilityGroup }
func (g *visibilityGroup) sortName() string { return string(g.visibility) }

func nestNonPublicMethods(t *Tree) {
	groups := map[Visibility]*visibilityGroup{}
	var keep []Node
	for _, n := range t.Nodes() {
		if m, ok := n.(*Method); ok && m.Visibility != "" && m.Visibility != Public {
			g := groups[m.Visibility]
			if g == nil {
				g = &visibilityGroup{visibility: m.Visibility}
				groups[m.Visibility] = g
			}
			g.methods = append(g.methods, m)
			continue
		}
		keep = append(keep, n)
	}
	if len(groups) == 0 {
		return
	}
	for _, v := range []Visibility{Protected, Private} {
		if g, ok := groups[v]; ok {
			sort.SliceStable(g.methods, func(i, j int) bool { return g.methods[i].Name < g.methods[j].Name })
			keep = append(keep, g)
		}
	}
	t.setNodes(keep)
}
