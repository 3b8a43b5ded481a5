package loader

import (
	"context"

	"github.com/cockroachdb/errors"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/rbigen/internal/objspace"
)

// callSite is an evaluated method call.
type callSite struct {
	recv     Value
	explicit bool
	name     string
	args     []Value
	kwargs   map[string]Value
	block    *sitter.Node
	line     int
	node     *sitter.Node
}

func (l *Loader) evalCall(ctx context.Context, sc *scope, n *sitter.Node) (Value, error) {
	methNode := n.ChildByFieldName("method")
	if methNode == nil {
		return nil, nil
	}
	recv := n.ChildByFieldName("receiver")
	// Older grammars wrap `recv.name args` as a method_call around a call.
	if methNode.Type() == "call" {
		recv = methNode.ChildByFieldName("receiver")
		methNode = methNode.ChildByFieldName("method")
		if methNode == nil {
			return nil, nil
		}
	}
	cs := &callSite{
		name:  methNode.Content(sc.src),
		block: n.ChildByFieldName("block"),
		line:  lineOf(n),
		node:  n,
	}
	if recv != nil {
		v, err := l.eval(ctx, sc, recv)
		if err != nil {
			return nil, err
		}
		cs.recv, cs.explicit = v, true
	}
	if args := n.ChildByFieldName("arguments"); args != nil {
		if err := l.evalArgs(ctx, sc, args, cs); err != nil {
			return nil, err
		}
	}
	return l.send(ctx, sc, cs)
}

func (l *Loader) evalArgs(ctx context.Context, sc *scope, args *sitter.Node, cs *callSite) error {
	for i := 0; i < int(args.NamedChildCount()); i++ {
		a := args.NamedChild(i)
		switch a.Type() {
		case "pair":
			key, err := l.eval(ctx, sc, a.ChildByFieldName("key"))
			if err != nil {
				return err
			}
			val, err := l.eval(ctx, sc, a.ChildByFieldName("value"))
			if err != nil {
				return err
			}
			if cs.kwargs == nil {
				cs.kwargs = make(map[string]Value)
			}
			switch k := key.(type) {
			case Symbol:
				cs.kwargs[string(k)] = val
			case string:
				cs.kwargs[k] = val
			}
		case "block_argument", "splat_argument", "hash_splat_argument", "comment":
		default:
			v, err := l.eval(ctx, sc, a)
			if err != nil {
				return err
			}
			cs.args = append(cs.args, v)
		}
	}
	return nil
}

// send performs a call. Calls the evaluator does not model return nil.
func (l *Loader) send(ctx context.Context, sc *scope, cs *callSite) (Value, error) {
	if !cs.explicit {
		switch cs.name {
		case "require", "require_relative":
			feature, ok := firstString(cs.args)
			if !ok {
				return nil, nil
			}
			return true, l.require(ctx, sc, feature, cs.name == "require_relative", cs.line)
		case "include", "prepend", "extend":
			return nil, l.mixin(ctx, sc, l.selfOrObject(sc), cs)
		case "eval":
			return l.evalIn(ctx, sc, sc.self, false, cs)
		case "class_eval", "module_eval", "class_exec", "module_exec":
			return l.evalIn(ctx, sc, l.selfOrObject(sc), false, cs)
		case "instance_eval", "instance_exec":
			return l.evalIn(ctx, sc, l.selfOrObject(sc), true, cs)
		}
		return l.dispatch(ctx, sc, sc.self, cs)
	}

	recv, ok := cs.recv.(*objspace.Module)
	if !ok {
		return nil, nil
	}
	switch cs.name {
	case "new":
		if class, _ := l.space.Lookup("Class"); recv == class {
			return l.construct(ctx, sc, true, cs)
		}
		if module, _ := l.space.Lookup("Module"); recv == module {
			return l.construct(ctx, sc, false, cs)
		}
		if structClass, _ := l.space.Lookup("Struct"); recv == structClass {
			return l.constructStruct(ctx, sc, structClass, cs)
		}
	case "include", "prepend", "extend":
		return nil, l.mixin(ctx, sc, recv, cs)
	case "class_eval", "module_eval", "class_exec", "module_exec":
		return l.evalIn(ctx, sc, recv, false, cs)
	case "instance_eval", "instance_exec":
		return l.evalIn(ctx, sc, recv, true, cs)
	case "const_set":
		if len(cs.args) == 2 {
			name, _ := firstString(cs.args[:1])
			if m, ok := cs.args[1].(*objspace.Module); ok && name != "" {
				l.space.SetConst(recv, name, m)
				return m, nil
			}
		}
		return nil, nil
	}
	return l.dispatch(ctx, sc, recv, cs)
}

func (l *Loader) selfOrObject(sc *scope) *objspace.Module {
	if sc.self == nil {
		return l.space.Object()
	}
	return sc.self
}

func firstString(args []Value) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	switch v := args[0].(type) {
	case string:
		return v, true
	case Symbol:
		return string(v), true
	}
	return "", false
}

// mixin includes, prepends or extends each module argument into target
// and runs the module's included or extended hook.
func (l *Loader) mixin(ctx context.Context, sc *scope, target *objspace.Module, cs *callSite) error {
	hook := "included"
	if cs.name == "extend" {
		hook = "extended"
	}
	for _, a := range cs.args {
		mod, ok := a.(*objspace.Module)
		if !ok || mod.IsClass() {
			continue
		}
		if cs.name == "extend" {
			l.space.Extend(target, mod)
		} else {
			l.space.Include(target, mod)
		}
		meth, err := l.space.FindClassMethod(mod, hook)
		if err != nil {
			continue
		}
		if _, err := l.invoke(ctx, sc, meth, mod, &callSite{name: hook, args: []Value{target}, line: cs.line}); err != nil {
			return err
		}
	}
	return nil
}

// construct implements Class.new and Module.new. The block runs with the
// new module as self before the construct event fires.
func (l *Loader) construct(ctx context.Context, sc *scope, class bool, cs *callSite) (Value, error) {
	var mod *objspace.Module
	if class {
		var super *objspace.Module
		if len(cs.args) > 0 {
			if s, ok := cs.args[0].(*objspace.Module); ok && s.IsClass() {
				super = s
			}
		}
		mod = l.space.NewClass("", nil, super)
	} else {
		mod = l.space.NewModule("", nil)
	}
	return l.finishConstruct(ctx, sc, mod, cs)
}

// constructStruct implements Struct.new: a Struct subclass with a reader
// and a writer per member. A leading string argument names the class
// under Struct.
func (l *Loader) constructStruct(ctx context.Context, sc *scope, structClass *objspace.Module, cs *callSite) (Value, error) {
	args := cs.args
	var name string
	if len(args) > 0 {
		if s, ok := args[0].(string); ok {
			name, args = s, args[1:]
		}
	}
	var cls *objspace.Module
	if name != "" {
		cls = l.space.NewClass(name, structClass, structClass)
	} else {
		cls = l.space.NewClass("", nil, structClass)
	}
	for _, a := range args {
		member, ok := a.(Symbol)
		if !ok {
			continue
		}
		l.space.DefineMethod(cls, string(member), sc.path, cs.line)
		l.space.DefineMethod(cls, string(member)+"=", sc.path, cs.line)
	}
	return l.finishConstruct(ctx, sc, cls, cs)
}

func (l *Loader) finishConstruct(ctx context.Context, sc *scope, mod *objspace.Module, cs *callSite) (Value, error) {
	if cs.block != nil {
		body := &scope{self: mod, nesting: sc.nesting, defTarget: mod, path: sc.path, label: "block in " + sc.label, src: sc.src, locals: sc.locals}
		if err := l.evalStatements(ctx, body, bodyNodes(cs.block)); err != nil {
			return nil, err
		}
	}

	l.space.FireConstruct(objspace.ConstructEvent{
		Result: mod,
		Method: "new",
		Path:   sc.path,
		Line:   cs.line,
		Stack:  l.stackAt(sc, cs.line),
	})
	return mod, nil
}

// evalIn runs a block or a string of code with target as self. A string is
// a synthesized body: it is parsed and evaluated under a pseudo-path with
// the calling location pushed on the stack.
func (l *Loader) evalIn(ctx context.Context, sc *scope, target *objspace.Module, singleton bool, cs *callSite) (Value, error) {
	defTarget := target
	if target == nil {
		defTarget = l.space.Object()
	}
	if singleton && target != nil {
		defTarget = l.space.SingletonClass(target)
	}

	if cs.block != nil {
		body := &scope{self: target, nesting: sc.nesting, defTarget: defTarget, path: sc.path, label: "block in " + sc.label, src: sc.src, locals: sc.locals}
		return l.evalBody(ctx, body, bodyNodes(cs.block))
	}

	code, ok := firstString(cs.args)
	if !ok {
		return nil, nil
	}
	nesting := sc.nesting
	if target != nil && target != sc.self {
		nesting = append([]*objspace.Module{target}, sc.nesting...)
	}
	body := &scope{self: target, nesting: nesting, defTarget: defTarget, path: syntheticPath, label: sc.label, locals: sc.locals}

	l.push(objspace.Frame{Path: sc.path, Line: cs.line, Label: sc.label})
	defer l.pop()
	return nil, l.evalSource(ctx, body, []byte(code))
}

// dispatch calls name on self: class-level methods for a module, methods
// defined at top level otherwise.
func (l *Loader) dispatch(ctx context.Context, sc *scope, self *objspace.Module, cs *callSite) (Value, error) {
	var (
		meth *objspace.Method
		err  error
	)
	if self != nil {
		meth, err = l.space.FindClassMethod(self, cs.name)
	}
	if self == nil || err != nil {
		// Methods defined at top level are callable everywhere.
		meth, err = l.space.FindMethod(l.space.Object(), cs.name)
	}
	if err != nil {
		return nil, nil
	}
	return l.invoke(ctx, sc, meth, self, cs)
}

func (l *Loader) invoke(ctx context.Context, sc *scope, meth *objspace.Method, self *objspace.Module, cs *callSite) (Value, error) {
	if fn, ok := l.natives[meth]; ok {
		return fn(l, &Call{
			Self:   self,
			Method: cs.name,
			Args:   cs.args,
			Kwargs: cs.kwargs,
			Path:   sc.path,
			Line:   cs.line,
		})
	}
	body, ok := l.bodies[meth]
	if !ok {
		return nil, nil
	}
	if l.depth >= maxCallDepth {
		return nil, errors.Newf("%s:%d: stack level too deep in %s", sc.path, cs.line, meth.Name)
	}
	l.depth++
	defer func() { l.depth-- }()

	l.push(objspace.Frame{Path: sc.path, Line: cs.line, Label: sc.label})
	defer l.pop()

	defTarget := self
	if defTarget == nil {
		defTarget = l.space.Object()
	}
	inner := &scope{
		self:      self,
		nesting:   body.nesting,
		defTarget: defTarget,
		path:      body.path,
		label:     meth.Name,
		src:       body.src,
		locals:    bindParams(body.node.ChildByFieldName("parameters"), body.src, cs.args),
	}
	stmts := bodyNodes(body.node,
		body.node.ChildByFieldName("name"),
		body.node.ChildByFieldName("parameters"),
		body.node.ChildByFieldName("object"),
	)
	v, err := l.evalBody(ctx, inner, stmts)
	if ret, ok := err.(*returnSignal); ok {
		return ret.value, nil
	}
	return v, err
}

// bindParams assigns positional arguments to the method's required and
// optional parameters. Missing arguments bind to nil.
func bindParams(params *sitter.Node, src []byte, args []Value) map[string]Value {
	locals := make(map[string]Value)
	if params == nil {
		return locals
	}
	pos := 0
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		var name string
		switch p.Type() {
		case "identifier":
			name = p.Content(src)
		case "optional_parameter":
			if n := p.ChildByFieldName("name"); n != nil {
				name = n.Content(src)
			}
		default:
			continue
		}
		var v Value
		if pos < len(args) {
			v = args[pos]
		}
		pos++
		locals[name] = v
	}
	return locals
}
