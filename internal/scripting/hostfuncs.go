package scripting

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/risor-io/risor/object"
	"go.uber.org/zap"

	"github.com/jward/rbigen/internal/compiler"
	"github.com/jward/rbigen/internal/objspace"
	"github.com/jward/rbigen/internal/rbi"
	"github.com/jward/rbigen/internal/typecat"
)

const (
	modeGather   = "gather"
	modeDecorate = "decorate"
)

// session is the state one script evaluation reads and writes through its
// host functions.
type session struct {
	space *objspace.Space
	log   *zap.Logger
	mode  string

	// gather
	candidates []*objspace.Module
	seen       map[objspace.Handle]bool

	// decorate
	root   *rbi.Tree
	target *objspace.Module
	scope  *rbi.Scope
}

func (s *session) globals() map[string]any {
	g := map[string]any{
		"mode":          s.mode,
		"all_classes":   s.allClassesFn(),
		"all_modules":   s.allModulesFn(),
		"method_origin": s.methodOriginFn(),
		"attributes":    s.attributesFn(),
		"type_for":      typeForFn(),
		"candidate":     s.candidateFn(),
		"create_method": s.createMethodFn(),
		"log":           mustProxy(&logObject{log: s.log}),
	}
	if s.target != nil {
		g["target"] = s.target.QualifiedName()
	} else {
		g["target"] = ""
	}
	return g
}

func (s *session) lookup(fn string, arg object.Object) (*objspace.Module, *object.Error) {
	name, err := toString(arg)
	if err != nil {
		return nil, object.Errorf("%s: %v", fn, err)
	}
	mod, ok := s.space.Lookup(name)
	if !ok {
		return nil, object.Errorf("%s: no constant %s", fn, name)
	}
	return mod, nil
}

// all_classes() -> list of qualified class names, sorted
func (s *session) allClassesFn() *object.Builtin {
	return object.NewBuiltin("all_classes", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 0 {
			return object.NewArgsError("all_classes", 0, len(args))
		}
		return stringList(compiler.Names(compiler.AllClasses(s.space)))
	})
}

// all_modules() -> list of qualified class and module names, sorted
func (s *session) allModulesFn() *object.Builtin {
	return object.NewBuiltin("all_modules", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 0 {
			return object.NewArgsError("all_modules", 0, len(args))
		}
		return stringList(compiler.Names(compiler.AllModules(s.space)))
	})
}

// method_origin(name, method) -> origin tag of the class method, or nil
func (s *session) methodOriginFn() *object.Builtin {
	return object.NewBuiltin("method_origin", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("method_origin", 2, len(args))
		}
		mod, oerr := s.lookup("method_origin", args[0])
		if oerr != nil {
			return oerr
		}
		method, err := toString(args[1])
		if err != nil {
			return object.Errorf("method_origin: %v", err)
		}
		origin, err := s.space.MethodOrigin(mod, method)
		if errors.Is(err, objspace.ErrNoMethod) {
			return object.Nil
		}
		if err != nil {
			return object.Errorf("method_origin: %v", err)
		}
		return object.NewString(origin)
	})
}

// attributes(name) -> list of {"name", "kind", "type"} maps
func (s *session) attributesFn() *object.Builtin {
	return object.NewBuiltin("attributes", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("attributes", 1, len(args))
		}
		mod, oerr := s.lookup("attributes", args[0])
		if oerr != nil {
			return oerr
		}
		attrs := s.space.AttributeSet(mod)
		items := make([]object.Object, len(attrs))
		for i, a := range attrs {
			items[i] = object.NewMap(map[string]object.Object{
				"name": object.NewString(a.Name),
				"kind": object.NewString(string(a.Kind)),
				"type": object.NewString(a.TypeName),
			})
		}
		return object.NewList(items)
	})
}

// type_for(kind) -> rendered symbolic type
func typeForFn() *object.Builtin {
	return object.NewBuiltin("type_for", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("type_for", 1, len(args))
		}
		kind, err := toString(args[0])
		if err != nil {
			return object.Errorf("type_for: %v", err)
		}
		return object.NewString(typecat.TypeFor(typecat.Kind(kind)).String())
	})
}

// candidate(name) selects a constant during gathering.
func (s *session) candidateFn() *object.Builtin {
	return object.NewBuiltin("candidate", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("candidate", 1, len(args))
		}
		if s.mode != modeGather {
			return object.Errorf("candidate: only available while gathering")
		}
		mod, oerr := s.lookup("candidate", args[0])
		if oerr != nil {
			return oerr
		}
		if !s.seen[mod.Handle()] {
			s.seen[mod.Handle()] = true
			s.candidates = append(s.candidates, mod)
		}
		return object.Nil
	})
}

// create_method(name, return_type[, params]) declares a method on the
// target. params is a list of {"name", "type"} maps.
func (s *session) createMethodFn() *object.Builtin {
	return object.NewBuiltin("create_method", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 2 || len(args) > 3 {
			return object.NewArgsRangeError("create_method", 2, 3, len(args))
		}
		if s.mode != modeDecorate {
			return object.Errorf("create_method: only available while decorating")
		}
		name, err := toString(args[0])
		if err != nil {
			return object.Errorf("create_method: name: %v", err)
		}
		returnType, err := toString(args[1])
		if err != nil {
			return object.Errorf("create_method: return type: %v", err)
		}
		var params []rbi.Param
		if len(args) == 3 {
			params, err = toParams(args[2])
			if err != nil {
				return object.Errorf("create_method: %v", err)
			}
		}
		if s.scope == nil {
			scope, err := compiler.CreatePath(s.root, s.target)
			if err != nil {
				return object.Errorf("create_method: %v", err)
			}
			s.scope = scope
		}
		if compiler.CreateMethod(s.scope, name, params, returnType) == nil {
			s.log.Debug("skipped invalid method name", zap.String("method", name))
		}
		return object.Nil
	})
}

func toParams(obj object.Object) ([]rbi.Param, error) {
	list, ok := obj.(*object.List)
	if !ok {
		return nil, fmt.Errorf("params must be a list, got %s", obj.Type())
	}
	var params []rbi.Param
	for i, item := range list.Value() {
		m, err := extractMap(item)
		if err != nil {
			return nil, fmt.Errorf("param %d: %v", i, err)
		}
		name := getString(m, "name")
		if name == "" {
			return nil, fmt.Errorf("param %d has no name", i)
		}
		params = append(params, compiler.CreateParam(name, getStringDefault(m, "type", typecat.Untyped)))
	}
	return params, nil
}

func stringList(values []string) *object.List {
	items := make([]object.Object, len(values))
	for i, v := range values {
		items[i] = object.NewString(v)
	}
	return object.NewList(items)
}

// logObject provides log.Info/Warn/Error to scripts.
type logObject struct {
	log *zap.Logger
}

func (l *logObject) Info(msg string)  { l.log.Info(msg) }
func (l *logObject) Warn(msg string)  { l.log.Warn(msg) }
func (l *logObject) Error(msg string) { l.log.Error(msg) }

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("scripting: proxy error: %v", err))
	}
	return p
}
