package loader

import (
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/jward/rbigen/internal/objspace"
	"github.com/jward/rbigen/internal/typecat"
)

// Virtus returns the extension emulating the virtus gem. Including the
// module built by Virtus.model gives a class the `attribute` class method,
// defined in the gem's builder hook context, which records typed
// attribute descriptors on the class.
func Virtus() Extension { return virtusExtension{} }

type virtusExtension struct{}

func (virtusExtension) Feature() string { return "virtus" }

func (virtusExtension) Load(l *Loader, gemDir string) error {
	space := l.Space()
	lib := func(rel string) string { return filepath.Join(gemDir, "lib", rel) }

	virtus, ok := space.ConstGet(nil, "Virtus")
	if !ok {
		virtus = space.NewModule("Virtus", nil)
	}

	classMethods := space.NewModule("ClassMethods", virtus)
	l.DefineNative(classMethods, "attribute", lib("virtus/builder/hook_context.rb"), defineAttribute)

	l.DefineNative(space.SingletonClass(virtus), "model", lib("virtus.rb"), func(l *Loader, call *Call) (Value, error) {
		// Each call builds a fresh anonymous module, as the builder does.
		mod := space.NewModule("", nil)
		l.DefineNative(space.SingletonClass(mod), "included", lib("virtus/builder.rb"), func(l *Loader, call *Call) (Value, error) {
			if len(call.Args) != 1 {
				return nil, errors.Newf("virtus: included expects the descendant, got %d args", len(call.Args))
			}
			descendant, ok := call.Args[0].(*objspace.Module)
			if !ok {
				return nil, nil
			}
			space.Extend(descendant, classMethods)
			return nil, nil
		})
		return mod, nil
	})
	return nil
}

// defineAttribute implements `attribute :name, Type, **options`.
func defineAttribute(l *Loader, call *Call) (Value, error) {
	if call.Self == nil || len(call.Args) == 0 {
		return nil, errors.Newf("%s:%d: attribute requires a name", call.Path, call.Line)
	}
	var name string
	switch v := call.Args[0].(type) {
	case Symbol:
		name = string(v)
	case string:
		name = v
	default:
		return nil, errors.Newf("%s:%d: attribute name must be a symbol or string", call.Path, call.Line)
	}

	typeName := ""
	if len(call.Args) > 1 {
		typeName = NameOf(call.Args[1])
	}
	kind := typecat.KindOf(typeName)
	recorded := typecat.AxiomName(kind)
	if recorded == "" {
		recorded = typeName
	}
	l.Space().AddAttribute(call.Self, objspace.Attribute{Name: name, Kind: kind, TypeName: recorded})
	return nil, nil
}
