package render

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"folio/api/internal/extension"
	"folio/api/internal/model"
)

var (
	whitespaceRun = regexp.MustCompile(`[ \t\r\n\f]+`)
	skippedTags   = map[string]bool{"script": true, "style": true, "template": true, "head": true, "noscript": true}
)

// Parse reads an HTML fragment into a document. Node rules are tried before
// mark rules; elements no rule matches are transparent. Loose inline content
// in block context is wrapped in the first text block type the parent accepts.
func Parse(markup string, reg *extension.Registry) (*model.Node, error) {
	nodes, err := html.ParseFragment(strings.NewReader(markup), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	p := &parser{reg: reg, schema: reg.Schema()}
	docType, _ := p.schema.NodeType(model.DocType)
	content, err := p.content(nodes, docType, nil)
	if err != nil {
		return nil, err
	}
	return p.build(model.DocType, nil, content)
}

type parser struct {
	reg    *extension.Registry
	schema *model.Schema
}

func (p *parser) build(typeName string, attrs model.Attrs, content []*model.Node) (*model.Node, error) {
	if len(content) == 0 && !p.schema.ValidContent(typeName, nil) {
		nt, _ := p.schema.NodeType(typeName)
		if filler := p.wrapperFor(nt); filler != nil {
			empty, err := p.schema.Node(filler.Name, nil)
			if err == nil {
				content = []*model.Node{empty}
			}
		}
	}
	return p.schema.Node(typeName, attrs, content...)
}

// wrapperFor returns the first text block type, in schema order, that parent accepts.
func (p *parser) wrapperFor(parent *model.NodeType) *model.NodeType {
	for _, name := range p.schema.NodeNames() {
		nt, _ := p.schema.NodeType(name)
		if nt.IsTextblockType() && parent.Accepts(nt) {
			return nt
		}
	}
	return nil
}

// content parses nodes as the children of parent, wrapping loose inline runs
// when parent holds blocks.
func (p *parser) content(nodes []*html.Node, parent *model.NodeType, marks []model.Mark) ([]*model.Node, error) {
	flat, err := p.collect(nodes, parent, marks)
	if err != nil {
		return nil, err
	}
	if parent.IsTextblockType() {
		return flat, nil
	}
	var out, loose []*model.Node
	flush := func() error {
		if len(loose) == 0 {
			return nil
		}
		wrapper := p.wrapperFor(parent)
		if wrapper == nil {
			loose = nil
			return nil
		}
		block, err := p.schema.Node(wrapper.Name, nil, loose...)
		if err != nil {
			return err
		}
		out = append(out, block)
		loose = nil
		return nil
	}
	for _, child := range flat {
		switch {
		case !child.IsInline():
			if err := flush(); err != nil {
				return nil, err
			}
			out = append(out, child)
		case len(loose) == 0 && child.IsText() && strings.TrimSpace(child.Text()) == "":
			// whitespace between blocks
		default:
			loose = append(loose, child)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

// collect parses nodes without wrapping; marks and unmatched elements pass
// their children through to the same parent.
func (p *parser) collect(nodes []*html.Node, parent *model.NodeType, marks []model.Mark) ([]*model.Node, error) {
	var out []*model.Node
	for _, n := range nodes {
		parsed, err := p.one(n, parent, marks)
		if err != nil {
			return nil, err
		}
		out = append(out, parsed...)
	}
	return out, nil
}

func (p *parser) one(n *html.Node, parent *model.NodeType, marks []model.Mark) ([]*model.Node, error) {
	switch n.Type {
	case html.TextNode:
		return p.text(n.Data, parent, marks), nil
	case html.ElementNode:
	default:
		return nil, nil
	}
	if skippedTags[n.Data] {
		return nil, nil
	}

	for _, rule := range p.reg.NodeRules() {
		if !rule.Matches(n) {
			continue
		}
		if rule.Ignore {
			return nil, nil
		}
		return p.element(n, rule, parent, marks)
	}
	for _, rule := range p.reg.MarkRules() {
		if !rule.Matches(n) {
			continue
		}
		if rule.Ignore {
			return nil, nil
		}
		var attrs model.Attrs
		if rule.GetAttrs != nil {
			attrs = rule.GetAttrs(n)
		}
		if len(p.schema.MissingMarkAttrs(rule.Name, attrs)) == 0 {
			marks = p.schema.AddMark(marks, model.Mark{Type: rule.Name, Attrs: p.schema.DefaultMarkAttrs(rule.Name, attrs)})
		}
		return p.collect(childNodes(n), parent, marks)
	}
	return p.collect(childNodes(n), parent, marks)
}

func (p *parser) element(n *html.Node, rule extension.Rule, parent *model.NodeType, marks []model.Mark) ([]*model.Node, error) {
	nt, _ := p.schema.NodeType(rule.Name)
	// A block element inside inline content contributes only its content.
	if parent.IsTextblockType() && !nt.Inline {
		return p.collect(childNodes(n), parent, marks)
	}
	var attrs model.Attrs
	if rule.GetAttrs != nil {
		attrs = rule.GetAttrs(n)
	}
	if nt.IsLeaf() {
		node, err := p.schema.Node(rule.Name, attrs)
		if err != nil {
			return nil, err
		}
		return []*model.Node{node}, nil
	}
	source := n
	if rule.ContentElement != "" {
		if el := extension.FirstElement(n, rule.ContentElement); el != nil {
			source = el
		}
	}
	children, err := p.content(childNodes(source), nt, marks)
	if err != nil {
		return nil, err
	}
	node, err := p.build(rule.Name, attrs, children)
	if err != nil {
		return nil, err
	}
	return []*model.Node{node}, nil
}

func (p *parser) text(data string, parent *model.NodeType, marks []model.Mark) []*model.Node {
	keep := make([]model.Mark, 0, len(marks))
	for _, m := range marks {
		if p.schema.AllowsMark(parent, m.Type) {
			keep = append(keep, m)
		}
	}
	if !preservesWhitespace(parent) {
		data = whitespaceRun.ReplaceAllString(data, " ")
	}
	if data == "" {
		return nil
	}
	return []*model.Node{p.schema.Text(data, keep...)}
}

// Text blocks keep their whitespace as rendered, so spaces, newlines and
// leading or trailing runs survive a render and parse. Loose text between
// blocks is collapsed.
func preservesWhitespace(nt *model.NodeType) bool {
	return nt.IsTextblockType()
}

func childNodes(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, c)
	}
	return out
}
