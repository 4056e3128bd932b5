package model

import (
	"fmt"
	"strings"
)

const unbounded = -1

type contentTerm struct {
	names []string // node type names or groups
	min   int
	max   int
}

func (t contentTerm) accepts(nt *NodeType) bool {
	for _, name := range t.names {
		if nt.Name == name || nt.groups[name] {
			return true
		}
	}
	return false
}

// contentExpr is a sequence of terms matched greedily left to right.
type contentExpr struct {
	terms []contentTerm
}

func parseContentExpr(expr string, s *Schema) (contentExpr, error) {
	var out contentExpr
	for _, tok := range tokenizeContent(expr) {
		term := contentTerm{min: 1, max: 1}
		switch {
		case strings.HasSuffix(tok, "*"):
			term.min, term.max = 0, unbounded
			tok = strings.TrimSuffix(tok, "*")
		case strings.HasSuffix(tok, "+"):
			term.min, term.max = 1, unbounded
			tok = strings.TrimSuffix(tok, "+")
		case strings.HasSuffix(tok, "?"):
			term.min, term.max = 0, 1
			tok = strings.TrimSuffix(tok, "?")
		}
		tok = strings.TrimSuffix(strings.TrimPrefix(tok, "("), ")")
		for _, name := range strings.Split(tok, "|") {
			name = strings.TrimSpace(name)
			if name == "" {
				return contentExpr{}, fmt.Errorf("empty term in %q", expr)
			}
			if !s.knowsNodeOrGroup(name) {
				return contentExpr{}, fmt.Errorf("unknown node type or group %q", name)
			}
			term.names = append(term.names, name)
		}
		out.terms = append(out.terms, term)
	}
	return out, nil
}

// tokenizeContent splits on whitespace outside parentheses.
func tokenizeContent(expr string) []string {
	var (
		tokens []string
		cur    strings.Builder
		depth  int
	)
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range expr {
		switch {
		case r == '(':
			depth++
			cur.WriteRune(r)
		case r == ')':
			depth--
			cur.WriteRune(r)
		case (r == ' ' || r == '\t' || r == '\n') && depth == 0:
			flush()
		case r == ' ':
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

func (s *Schema) knowsNodeOrGroup(name string) bool {
	if _, ok := s.nodes[name]; ok {
		return true
	}
	for _, nt := range s.nodes {
		if nt.groups[name] {
			return true
		}
	}
	return false
}

func (e contentExpr) matches(children []*Node, s *Schema) bool {
	i := 0
	for _, term := range e.terms {
		count := 0
		for i < len(children) && (term.max == unbounded || count < term.max) && term.accepts(children[i].typ) {
			i++
			count++
		}
		if count < term.min {
			return false
		}
	}
	return i == len(children)
}

func (e contentExpr) acceptsInline(s *Schema) bool {
	for _, term := range e.terms {
		for _, name := range term.names {
			if name == "inline" || name == TextType {
				return true
			}
			if nt, ok := s.nodes[name]; ok && nt.Inline {
				return true
			}
		}
	}
	return false
}
