package loader

import (
	"github.com/jward/rbigen/internal/objspace"
)

// Value is a Ruby value as far as the evaluator tracks it: a
// *objspace.Module, Symbol, string, bool, ConstRef, or nil.
type Value any

// Symbol is a Ruby symbol literal without its leading colon.
type Symbol string

// ConstRef is a constant reference that did not resolve to a module object
// in the space, such as a core type the evaluator does not model.
type ConstRef string

// Call describes a method invocation handed to a native implementation.
type Call struct {
	Self   *objspace.Module
	Method string
	Args   []Value
	// Kwargs holds trailing `key: value` pairs.
	Kwargs map[string]Value
	Path   string
	Line   int
}

// NativeFunc implements a method in Go.
type NativeFunc func(l *Loader, call *Call) (Value, error)

// Extension stands in for a gem whose behavior the evaluator cannot run
// from source. It is loaded when its feature is first required and the
// bundle contains a gem of the same name.
type Extension interface {
	// Feature is the require name, which is also the gem name.
	Feature() string
	// Load defines the gem's constants and native methods. gemDir is the
	// gem's install directory from the manifest, possibly empty.
	Load(l *Loader, gemDir string) error
}

// DefineNative defines a method on owner implemented by fn. origin is the
// source file the real library defines it in.
func (l *Loader) DefineNative(owner *objspace.Module, name, origin string, fn NativeFunc) *objspace.Method {
	meth := l.space.DefineMethod(owner, name, origin, 0)
	l.natives[meth] = fn
	return meth
}

// Space returns the object space the loader populates.
func (l *Loader) Space() *objspace.Space { return l.space }

// NameOf renders a value used as a type argument: the qualified name of a
// module, the text of an unresolved constant, or "".
func NameOf(v Value) string {
	switch v := v.(type) {
	case *objspace.Module:
		return v.QualifiedName()
	case ConstRef:
		return string(v)
	}
	return ""
}
