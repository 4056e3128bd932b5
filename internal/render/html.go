// Package render converts documents to HTML through the registry's render
// functions, and parses HTML back into documents through its parse rules.
package render

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"folio/api/internal/extension"
	"folio/api/internal/model"
)

// WarningType categorizes non-fatal rendering issues.
type WarningType string

const (
	WarningUnknownNode WarningType = "unknown_node"
	WarningUnknownMark WarningType = "unknown_mark"
)

// Warning is one degraded node or mark.
type Warning struct {
	Type     WarningType `json:"type"`
	NodeType string      `json:"nodeType,omitempty"`
	Message  string      `json:"message"`
}

var voidElements = map[string]bool{
	"area": true, "br": true, "col": true, "embed": true, "hr": true, "img": true,
	"input": true, "link": true, "meta": true, "source": true, "track": true, "wbr": true,
}

// HTML renders doc. Output depends only on doc and the registry.
func HTML(doc *model.Node, reg *extension.Registry) string {
	out, _ := HTMLWithWarnings(doc, reg)
	return out
}

// HTMLWithWarnings renders doc and reports every node and mark type the
// registry does not know. Unknown nodes with content render their content,
// unknown leaves and unknown marks are dropped.
func HTMLWithWarnings(doc *model.Node, reg *extension.Registry) (string, []Warning) {
	r := &renderer{reg: reg}
	r.node(doc)
	return r.b.String(), r.warnings
}

// RenderJSON decodes a persisted document and renders it.
func RenderJSON(raw []byte, reg *extension.Registry) (string, error) {
	doc, err := model.DecodeJSON(raw, reg.Schema())
	if err != nil {
		return "", err
	}
	return HTML(doc, reg), nil
}

type renderer struct {
	reg      *extension.Registry
	b        strings.Builder
	warnings []Warning
}

func (r *renderer) warn(t WarningType, name string) {
	for _, w := range r.warnings {
		if w.Type == t && w.NodeType == name {
			return
		}
	}
	r.warnings = append(r.warnings, Warning{Type: t, NodeType: name, Message: fmt.Sprintf("no renderer for %s %q", kindOf(t), name)})
}

func kindOf(t WarningType) string {
	if t == WarningUnknownMark {
		return "mark"
	}
	return "node"
}

func (r *renderer) node(n *model.Node) {
	if n.IsText() {
		r.text(n)
		return
	}
	ext, ok := r.reg.Lookup(n.TypeName())
	if !ok || ext.Kind() != extension.KindNode {
		r.warn(WarningUnknownNode, n.TypeName())
		r.children(n)
		return
	}
	spec := ext.RenderHTML(n.Attrs())
	if spec == nil {
		r.children(n)
		return
	}
	r.spec(spec, func() { r.children(n) })
}

func (r *renderer) children(n *model.Node) {
	for _, c := range n.Children() {
		r.node(c)
	}
}

// text wraps the text in its marks, first mark outermost.
func (r *renderer) text(n *model.Node) {
	var wrap func(marks []model.Mark)
	wrap = func(marks []model.Mark) {
		if len(marks) == 0 {
			r.b.WriteString(html.EscapeString(n.Text()))
			return
		}
		m, rest := marks[0], marks[1:]
		ext, ok := r.reg.Lookup(m.Type)
		if !ok || ext.Kind() != extension.KindMark {
			r.warn(WarningUnknownMark, m.Type)
			wrap(rest)
			return
		}
		spec := ext.RenderHTML(m.Attrs)
		if spec == nil {
			wrap(rest)
			return
		}
		r.spec(spec, func() { wrap(rest) })
	}
	wrap(n.Marks())
}

func (r *renderer) spec(s *extension.DOMSpec, hole func()) {
	switch {
	case s.Hole:
		if hole != nil {
			hole()
		}
		return
	case s.Tag == "":
		r.b.WriteString(html.EscapeString(s.Text))
		return
	}
	r.b.WriteByte('<')
	r.b.WriteString(s.Tag)
	for _, a := range s.Attrs {
		r.b.WriteByte(' ')
		r.b.WriteString(a.Key)
		r.b.WriteString(`="`)
		r.b.WriteString(html.EscapeString(a.Value))
		r.b.WriteByte('"')
	}
	r.b.WriteByte('>')
	if voidElements[s.Tag] {
		return
	}
	if s.Text != "" {
		r.b.WriteString(html.EscapeString(s.Text))
	}
	for _, c := range s.Children {
		r.spec(c, hole)
	}
	r.b.WriteString("</")
	r.b.WriteString(s.Tag)
	r.b.WriteByte('>')
}
