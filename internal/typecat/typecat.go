// Package typecat maps attribute kinds reported by object-modeling
// extensions to the symbolic Sorbet types written into generated RBI.
package typecat

import "strings"

// Kind is an attribute-kind tag.
type Kind string

const (
	KindObject  Kind = "object"
	KindInteger Kind = "integer"
	KindString  Kind = "string"
	KindFloat   Kind = "float"
	KindTime    Kind = "time"
	KindBoolean Kind = "boolean"
	KindUnknown Kind = "unknown"
)

// Untyped is the dynamic marker. It already admits nil and is never
// wrapped with T.nilable.
const Untyped = "T.untyped"

// SymbolicType is the static type emitted for one attribute.
type SymbolicType struct {
	Name    string
	Nilable bool
}

// String renders the type as it appears inside a sig.
func (t SymbolicType) String() string {
	if t.Nilable {
		return AsNilable(t.Name)
	}
	return t.Name
}

// IsUntyped reports whether t is the dynamic marker.
func (t SymbolicType) IsUntyped() bool {
	return t.Name == Untyped
}

var catalogue = map[Kind]string{
	KindInteger: "::Integer",
	KindString:  "::String",
	KindFloat:   "::Float",
	KindTime:    "::Time",
	KindBoolean: "T::Boolean",
}

// TypeFor returns the symbolic type for kind. Object and unrecognized kinds
// map to T.untyped; every other kind is nilable.
func TypeFor(kind Kind) SymbolicType {
	name, ok := catalogue[kind]
	if !ok {
		return SymbolicType{Name: Untyped}
	}
	return SymbolicType{Name: name, Nilable: true}
}

// AsNilable wraps a rendered type in T.nilable unless it is already
// nilable or untyped.
func AsNilable(typ string) string {
	if typ == Untyped || strings.HasPrefix(typ, "T.nilable(") {
		return typ
	}
	return "T.nilable(" + typ + ")"
}

// typeNames maps host type constants to kinds. Both the Axiom primitive
// names used internally by attribute libraries and the bare constants a
// class body passes to `attribute` are accepted.
var typeNames = map[string]Kind{
	"Axiom::Types::Object":  KindObject,
	"Axiom::Types::Integer": KindInteger,
	"Axiom::Types::String":  KindString,
	"Axiom::Types::Float":   KindFloat,
	"Axiom::Types::Time":    KindTime,
	"Axiom::Types::Boolean": KindBoolean,
	"Object":                KindObject,
	"BasicObject":           KindObject,
	"Integer":               KindInteger,
	"String":                KindString,
	"Float":                 KindFloat,
	"Time":                  KindTime,
	"Boolean":               KindBoolean,

	"Virtus::Attribute::Boolean": KindBoolean,
}

// KindOf maps a type constant name to its Kind. A leading "::" is ignored.
// Unknown names yield KindUnknown.
func KindOf(typeName string) Kind {
	typeName = strings.TrimPrefix(strings.TrimSpace(typeName), "::")
	if typeName == "" {
		return KindObject
	}
	if k, ok := typeNames[typeName]; ok {
		return k
	}
	return KindUnknown
}

// AxiomName returns the Axiom primitive constant an attribute library
// reports for kind.
func AxiomName(kind Kind) string {
	switch kind {
	case KindInteger:
		return "Axiom::Types::Integer"
	case KindString:
		return "Axiom::Types::String"
	case KindFloat:
		return "Axiom::Types::Float"
	case KindTime:
		return "Axiom::Types::Time"
	case KindBoolean:
		return "Axiom::Types::Boolean"
	case KindObject:
		return "Axiom::Types::Object"
	}
	return ""
}
