package loader

import (
	"context"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/ruby"
	"go.uber.org/zap"

	"github.com/jward/rbigen/internal/objspace"
)

// syntheticPath is the pseudo-path of code evaluated from a string.
const syntheticPath = "(eval)"

// scope is the evaluation context of a body of code.
type scope struct {
	self      *objspace.Module // nil at top level
	nesting   []*objspace.Module
	defTarget *objspace.Module // where `def` defines methods
	path      string
	label     string
	src       []byte
	locals    map[string]Value
}

func (l *Loader) mainScope(path string) *scope {
	return &scope{defTarget: l.space.Object(), path: path, label: "<main>", locals: make(map[string]Value)}
}

func (sc *scope) cref() *objspace.Module {
	if len(sc.nesting) == 0 {
		return nil
	}
	return sc.nesting[0]
}

func (sc *scope) child(self *objspace.Module, label string) *scope {
	return &scope{
		self:      self,
		nesting:   append([]*objspace.Module{self}, sc.nesting...),
		defTarget: self,
		path:      sc.path,
		label:     label,
		src:       sc.src,
		locals:    make(map[string]Value),
	}
}

// methodBody is the source of a method defined in Ruby.
type methodBody struct {
	node    *sitter.Node
	src     []byte
	path    string
	nesting []*objspace.Module
}

// Close releases the syntax trees retained for method bodies.
func (l *Loader) Close() {
	for _, t := range l.trees {
		t.Close()
	}
	l.trees = nil
	l.bodies = make(map[*objspace.Method]*methodBody)
}

func (l *Loader) evalSource(ctx context.Context, sc *scope, src []byte) error {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(ruby.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return errors.Wrapf(err, "parse %s", sc.path)
	}
	l.trees = append(l.trees, tree)

	root := tree.RootNode()
	if root.HasError() {
		return &SyntaxError{Path: sc.path, Line: firstErrorLine(root)}
	}
	sc.src = src
	err = l.evalStatements(ctx, sc, bodyNodes(root))
	if _, ok := err.(*returnSignal); ok && sc.path != syntheticPath {
		// A top-level return stops loading the file.
		return nil
	}
	return err
}

func firstErrorLine(n *sitter.Node) int {
	if n.Type() == "ERROR" || n.IsMissing() {
		return lineOf(n)
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if c := n.Child(i); c.HasError() || c.IsMissing() {
			return firstErrorLine(c)
		}
	}
	return lineOf(n)
}

func lineOf(n *sitter.Node) int { return int(n.StartPoint().Row) + 1 }

// bodyNodes returns the statements of n, flattening body wrappers and
// dropping nodes in skip.
func bodyNodes(n *sitter.Node, skip ...*sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if isAny(c, skip) {
			continue
		}
		switch c.Type() {
		case "body_statement", "block_body", "then":
			out = append(out, bodyNodes(c)...)
		case "comment", "superclass", "block_parameters", "method_parameters",
			"parameters", "lambda_parameters", "heredoc_body":
		default:
			out = append(out, c)
		}
	}
	return out
}

func isAny(n *sitter.Node, set []*sitter.Node) bool {
	for _, s := range set {
		if s != nil && n.Type() == s.Type() && n.StartByte() == s.StartByte() && n.EndByte() == s.EndByte() {
			return true
		}
	}
	return false
}

func (l *Loader) evalStatements(ctx context.Context, sc *scope, stmts []*sitter.Node) error {
	_, err := l.evalBody(ctx, sc, stmts)
	return err
}

// evalBody evaluates stmts in order and returns the value of the last one.
func (l *Loader) evalBody(ctx context.Context, sc *scope, stmts []*sitter.Node) (Value, error) {
	var last Value
	for _, n := range stmts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := l.eval(ctx, sc, n)
		if err != nil {
			return nil, err
		}
		last = v
	}
	return last, nil
}

// returnSignal unwinds a method body to its invocation. It travels as an
// error and is never seen outside invoke.
type returnSignal struct {
	value Value
}

func (r *returnSignal) Error() string { return "return outside of a method" }

func (l *Loader) evalReturn(ctx context.Context, sc *scope, n *sitter.Node) (Value, error) {
	var v Value
	if n.NamedChildCount() > 0 {
		arg := n.NamedChild(0)
		if arg.Type() == "argument_list" && arg.NamedChildCount() > 0 {
			arg = arg.NamedChild(0)
		}
		var err error
		if v, err = l.eval(ctx, sc, arg); err != nil {
			return nil, err
		}
	}
	return nil, &returnSignal{value: v}
}

func (l *Loader) eval(ctx context.Context, sc *scope, n *sitter.Node) (Value, error) {
	switch n.Type() {
	case "class":
		return l.evalClass(ctx, sc, n)
	case "module":
		return l.evalModule(ctx, sc, n)
	case "singleton_class":
		return l.evalSingletonClass(ctx, sc, n)
	case "method", "singleton_method":
		return l.evalDef(sc, n)
	case "call", "method_call":
		return l.evalCall(ctx, sc, n)
	case "identifier":
		name := n.Content(sc.src)
		if v, ok := sc.locals[name]; ok {
			return v, nil
		}
		return l.send(ctx, sc, &callSite{name: name, line: lineOf(n), node: n})
	case "assignment":
		return l.evalAssign(ctx, sc, n)
	case "return":
		return l.evalReturn(ctx, sc, n)
	case "begin":
		return nil, l.evalBegin(ctx, sc, n)
	case "parenthesized_statements", "body_statement":
		var last Value
		for _, c := range bodyNodes(n) {
			v, err := l.eval(ctx, sc, c)
			if err != nil {
				return nil, err
			}
			last = v
		}
		return last, nil
	case "constant", "scope_resolution":
		text := n.Content(sc.src)
		if m, ok := l.space.Resolve(sc.nesting, text); ok {
			return m, nil
		}
		return ConstRef(strings.TrimPrefix(text, "::")), nil
	case "self":
		return sc.self, nil
	case "simple_symbol":
		return Symbol(strings.TrimPrefix(n.Content(sc.src), ":")), nil
	case "hash_key_symbol":
		return Symbol(n.Content(sc.src)), nil
	case "delimited_symbol":
		s, _ := stringValue(n, sc.src)
		return Symbol(s), nil
	case "string":
		if s, ok := stringValue(n, sc.src); ok {
			return s, nil
		}
		return nil, nil
	case "heredoc_beginning":
		if body := findHeredocBody(n); body != nil {
			if s, ok := stringValue(body, sc.src); ok {
				return s, nil
			}
		}
		return nil, nil
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "integer":
		if i, err := strconv.ParseInt(strings.ReplaceAll(n.Content(sc.src), "_", ""), 0, 64); err == nil {
			return i, nil
		}
		return nil, nil
	}
	return nil, nil
}

// definitionTarget splits a class or module name node into the namespace
// the constant lives in and its simple name.
func (l *Loader) definitionTarget(sc *scope, name *sitter.Node) (*objspace.Module, string, error) {
	if name.Type() != "scope_resolution" {
		return sc.cref(), name.Content(sc.src), nil
	}
	simple := name.ChildByFieldName("name").Content(sc.src)
	scopeNode := name.ChildByFieldName("scope")
	if scopeNode == nil {
		return l.space.Object(), simple, nil
	}
	path := scopeNode.Content(sc.src)
	ns, ok := l.space.Resolve(sc.nesting, path)
	if !ok {
		return nil, "", errors.Newf("%s:%d: uninitialized constant %s", sc.path, lineOf(name), path)
	}
	return ns, simple, nil
}

func (l *Loader) evalClass(ctx context.Context, sc *scope, n *sitter.Node) (Value, error) {
	nameNode := n.ChildByFieldName("name")
	superNode := n.ChildByFieldName("superclass")
	ns, name, err := l.definitionTarget(sc, nameNode)
	if err != nil {
		return nil, err
	}

	var super *objspace.Module
	if superNode != nil && superNode.NamedChildCount() > 0 {
		v, err := l.eval(ctx, sc, superNode.NamedChild(0))
		if err != nil {
			return nil, err
		}
		if m, ok := v.(*objspace.Module); ok && m.IsClass() {
			super = m
		} else {
			l.log.Debug("superclass not modeled, using Object",
				zap.String("path", sc.path), zap.Int("line", lineOf(n)), zap.String("superclass", NameOf(v)))
		}
	}

	cls, exists := l.space.ConstGet(ns, name)
	switch {
	case !exists:
		cls = l.space.NewClass(name, ns, super)
	case !cls.IsClass():
		return nil, errors.Newf("%s:%d: %s is not a class", sc.path, lineOf(n), cls)
	case super != nil && cls.Superclass() != super:
		return nil, errors.Newf("%s:%d: superclass mismatch for class %s", sc.path, lineOf(n), cls)
	}

	line := lineOf(n)
	l.space.FireOpen(objspace.OpenEvent{Module: cls, Path: sc.path, Line: line, Stack: l.stackAt(sc, line)})
	body := sc.child(cls, "<class:"+name+">")
	return cls, l.evalStatements(ctx, body, bodyNodes(n, nameNode, superNode))
}

func (l *Loader) evalModule(ctx context.Context, sc *scope, n *sitter.Node) (Value, error) {
	nameNode := n.ChildByFieldName("name")
	ns, name, err := l.definitionTarget(sc, nameNode)
	if err != nil {
		return nil, err
	}
	mod, exists := l.space.ConstGet(ns, name)
	switch {
	case !exists:
		mod = l.space.NewModule(name, ns)
	case mod.Kind() != objspace.KindModule:
		return nil, errors.Newf("%s:%d: %s is not a module", sc.path, lineOf(n), mod)
	}

	line := lineOf(n)
	l.space.FireOpen(objspace.OpenEvent{Module: mod, Path: sc.path, Line: line, Stack: l.stackAt(sc, line)})
	body := sc.child(mod, "<module:"+name+">")
	return mod, l.evalStatements(ctx, body, bodyNodes(n, nameNode))
}

func (l *Loader) evalSingletonClass(ctx context.Context, sc *scope, n *sitter.Node) (Value, error) {
	valueNode := n.ChildByFieldName("value")
	v, err := l.eval(ctx, sc, valueNode)
	if err != nil {
		return nil, err
	}
	target, ok := v.(*objspace.Module)
	if !ok {
		if v != nil {
			return nil, nil
		}
		target = l.space.Object()
	}
	sclass := l.space.SingletonClass(target)

	line := lineOf(n)
	l.space.FireOpen(objspace.OpenEvent{Module: sclass, Path: sc.path, Line: line, Stack: l.stackAt(sc, line)})
	body := sc.child(sclass, "singleton class")
	return sclass, l.evalStatements(ctx, body, bodyNodes(n, valueNode))
}

func (l *Loader) evalDef(sc *scope, n *sitter.Node) (Value, error) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return nil, nil
	}
	name := nameNode.Content(sc.src)

	owner := sc.defTarget
	if obj := n.ChildByFieldName("object"); obj != nil {
		target := sc.self
		if obj.Type() != "self" {
			m, ok := l.space.Resolve(sc.nesting, obj.Content(sc.src))
			if !ok {
				return nil, nil
			}
			target = m
		}
		if target == nil {
			target = l.space.Object()
		}
		owner = l.space.SingletonClass(target)
	}

	meth := l.space.DefineMethod(owner, name, sc.path, lineOf(n))
	l.bodies[meth] = &methodBody{node: n, src: sc.src, path: sc.path, nesting: sc.nesting}
	return Symbol(name), nil
}

func (l *Loader) evalAssign(ctx context.Context, sc *scope, n *sitter.Node) (Value, error) {
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")
	if left == nil || right == nil {
		return nil, nil
	}
	v, err := l.eval(ctx, sc, right)
	if err != nil {
		return nil, err
	}
	if left.Type() == "identifier" {
		sc.locals[left.Content(sc.src)] = v
		return v, nil
	}
	m, ok := v.(*objspace.Module)
	if !ok {
		return v, nil
	}
	switch left.Type() {
	case "constant":
		l.space.SetConst(sc.cref(), left.Content(sc.src), m)
	case "scope_resolution":
		ns, name, err := l.definitionTarget(sc, left)
		if err != nil {
			return nil, err
		}
		l.space.SetConst(ns, name, m)
	}
	return v, nil
}

// evalBegin runs a begin block. Only rescue clauses naming LoadError or
// one of its ancestors catch a failed require.
func (l *Loader) evalBegin(ctx context.Context, sc *scope, n *sitter.Node) error {
	var stmts, rescues []*sitter.Node
	var elseNode, ensureNode *sitter.Node
	for _, c := range bodyNodes(n) {
		switch c.Type() {
		case "rescue":
			rescues = append(rescues, c)
		case "else":
			elseNode = c
		case "ensure":
			ensureNode = c
		default:
			stmts = append(stmts, c)
		}
	}

	err := l.evalStatements(ctx, sc, stmts)
	if _, isLoad := AsLoadError(err); isLoad {
		for _, r := range rescues {
			if !rescuesLoadError(r, sc.src) {
				continue
			}
			l.log.Debug("require rescued", zap.String("path", sc.path), zap.Error(err))
			err = nil
			if body := r.ChildByFieldName("body"); body != nil {
				err = l.evalStatements(ctx, sc, bodyNodes(body))
			}
			break
		}
	} else if err == nil && elseNode != nil {
		err = l.evalStatements(ctx, sc, bodyNodes(elseNode))
	}
	if ensureNode != nil {
		if ensureErr := l.evalStatements(ctx, sc, bodyNodes(ensureNode)); err == nil {
			err = ensureErr
		}
	}
	return err
}

var loadErrorAncestors = map[string]bool{
	"LoadError":   true,
	"ScriptError": true,
	"Exception":   true,
}

func rescuesLoadError(r *sitter.Node, src []byte) bool {
	exc := r.ChildByFieldName("exceptions")
	if exc == nil {
		return false
	}
	for i := 0; i < int(exc.NamedChildCount()); i++ {
		name := strings.TrimPrefix(exc.NamedChild(i).Content(src), "::")
		if loadErrorAncestors[name] {
			return true
		}
	}
	return false
}

// stringValue returns the literal text of a string-like node. Strings
// with interpolation have no static value.
func stringValue(n *sitter.Node, src []byte) (string, bool) {
	var sb strings.Builder
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "string_content", "heredoc_content":
			sb.WriteString(c.Content(src))
		case "escape_sequence":
			sb.WriteString(unescape(c.Content(src)))
		case "interpolation":
			return "", false
		}
	}
	return sb.String(), true
}

func unescape(seq string) string {
	if s, err := strconv.Unquote(`"` + seq + `"`); err == nil {
		return s
	}
	return strings.TrimPrefix(seq, `\`)
}

// findHeredocBody locates the body of a heredoc started by n. Bodies
// follow the statement that opens them.
func findHeredocBody(n *sitter.Node) *sitter.Node {
	for cur := n; cur != nil; cur = cur.Parent() {
		if next := cur.NextNamedSibling(); next != nil && next.Type() == "heredoc_body" {
			return next
		}
	}
	return nil
}
