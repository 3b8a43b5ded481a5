package rbi

import (
	"strings"
)

type printer struct {
	sb            strings.Builder
	indent        int
	maxLineLength int
}

func (p *printer) printFile(f *File) string {
	if f.Strictness != "" {
		p.line("# typed: " + f.Strictness)
	}
	if len(f.Comments) > 0 {
		if f.Strictness != "" {
			p.blank()
		}
		p.printComments(f.Comments)
	}
	nodes := f.Root.Nodes()
	if len(nodes) > 0 {
		if f.Strictness != "" || len(f.Comments) > 0 {
			p.blank()
		}
		p.printNodes(nodes)
	}
	return p.sb.String()
}

func (p *printer) printComments(nodes []Node) {
	for _, n := range nodes {
		switch n := n.(type) {
		case *Comment:
			p.comment(n.Text)
		case *BlankLine:
			p.blank()
		}
	}
}

func (p *printer) printNodes(nodes []Node) {
	for i, n := range nodes {
		if i > 0 {
			p.blank()
		}
		p.printNode(n)
	}
}

func (p *printer) printNode(n Node) {
	switch n := n.(type) {
	case *Comment:
		p.comment(n.Text)
	case *BlankLine:
		p.blank()
	case *Method:
		p.printMethod(n)
	case *Scope:
		p.printScope(n)
	case *visibilityGroup:
		p.line(string(n.visibility))
		for _, m := range n.methods {
			p.blank()
			p.printMethod(m)
		}
	}
}

func (p *printer) printScope(s *Scope) {
	var header string
	switch s.Kind {
	case ScopeSingleton:
		header = "class << self"
	case ScopeModule:
		header = "module " + s.Name
	default:
		header = "class " + s.Name
		if s.Superclass != "" {
			header += " < " + s.Superclass
		}
	}
	nodes := s.Nodes()
	if len(nodes) == 0 {
		p.line(header + "; end")
		return
	}
	p.line(header)
	p.indent++
	p.printNodes(nodes)
	p.indent--
	p.line("end")
}

func (p *printer) printMethod(m *Method) {
	for _, c := range m.Comments {
		p.comment(c)
	}
	p.printSig(m)

	name := m.Name
	if m.Singleton {
		name = "self." + name
	}
	if len(m.Params) == 0 {
		p.line("def " + name + "; end")
		return
	}
	names := make([]string, len(m.Params))
	for i, param := range m.Params {
		names[i] = param.Name
	}
	p.line("def " + name + "(" + strings.Join(names, ", ") + "); end")
}

func (p *printer) printSig(m *Method) {
	ret := "void"
	if m.ReturnType != "" {
		ret = "returns(" + m.ReturnType + ")"
	}

	params := make([]string, len(m.Params))
	for i, param := range m.Params {
		params[i] = param.Name + ": " + param.Type
	}

	body := ret
	if len(params) > 0 {
		body = "params(" + strings.Join(params, ", ") + ")." + ret
	}
	oneLine := "sig { " + body + " }"
	if p.maxLineLength <= 0 || p.indent*2+len(oneLine) <= p.maxLineLength {
		p.line(oneLine)
		return
	}

	p.line("sig do")
	p.indent++
	if len(params) == 0 {
		p.line(ret)
	} else {
		p.line("params(")
		p.indent++
		for i, param := range params {
			if i < len(params)-1 {
				param += ","
			}
			p.line(param)
		}
		p.indent--
		p.line(")." + ret)
	}
	p.indent--
	p.line("end")
}

func (p *printer) comment(text string) {
	if text == "" {
		p.line("#")
		return
	}
	p.line("# " + text)
}

func (p *printer) line(s string) {
	p.sb.WriteString(strings.Repeat("  ", p.indent))
	p.sb.WriteString(s)
	p.sb.WriteByte('\n')
}

func (p *printer) blank() {
	p.sb.WriteByte('\n')
}
