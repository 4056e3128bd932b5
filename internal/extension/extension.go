// Package extension describes node and mark types as self-contained
// descriptors and assembles them into a registry: schema, parse rules,
// render functions, commands and node views.
package extension

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"folio/api/internal/command"
	"folio/api/internal/model"
	"folio/api/internal/view"
)

type Kind int

const (
	KindNode Kind = iota
	KindMark
)

func (k Kind) String() string {
	if k == KindMark {
		return "mark"
	}
	return "node"
}

// Attr is one rendered HTML attribute. Order is preserved in output.
type Attr struct {
	Key   string
	Value string
}

// DOMSpec is the HTML shape of a node or mark. A spec with Hole set and no
// tag stands for the node's content; atoms have no hole.
type DOMSpec struct {
	Tag      string
	Attrs    []Attr
	Text     string
	Children []*DOMSpec
	Hole     bool
}

// El builds an element spec.
func El(tag string, attrs []Attr, children ...*DOMSpec) *DOMSpec {
	return &DOMSpec{Tag: tag, Attrs: attrs, Children: children}
}

// TextSpec builds a literal text child.
func TextSpec(text string) *DOMSpec { return &DOMSpec{Text: text} }

// Hole marks where child content is rendered.
func Hole() *DOMSpec { return &DOMSpec{Hole: true} }

// Wrap is the common case of a single element around the content.
func Wrap(tag string, attrs ...Attr) *DOMSpec { return El(tag, attrs, Hole()) }

// ParseRule maps an HTML element back to a node or mark.
type ParseRule struct {
	Tag      string
	Priority int

	// Match narrows the rule beyond the tag name.
	Match    func(*html.Node) bool
	GetAttrs func(*html.Node) model.Attrs

	// ContentElement names a descendant tag whose children hold the content,
	// e.g. "code" inside "pre".
	ContentElement string

	// Ignore drops the element and everything inside it.
	Ignore bool
}

// Matches reports whether the rule applies to el.
func (r ParseRule) Matches(el *html.Node) bool {
	if el.Type != html.ElementNode || !strings.EqualFold(el.Data, r.Tag) {
		return false
	}
	return r.Match == nil || r.Match(el)
}

// Extension is one node or mark type with its capabilities. Implementations
// embed NodeBase or MarkBase and override the slots they use.
type Extension interface {
	Name() string
	Kind() Kind
	NodeSpec() model.NodeSpec
	MarkSpec() model.MarkSpec
	ParseRules() []ParseRule
	// RenderHTML returns nil when the type has no HTML form; its content is
	// rendered bare.
	RenderHTML(attrs model.Attrs) *DOMSpec
	Commands() map[string]command.Command
	NodeView() view.Factory
}

// Base gives every capability slot an empty default.
type Base struct{}

func (Base) ParseRules() []ParseRule { return nil }
func (Base) RenderHTML(model.Attrs) *DOMSpec { return nil }
func (Base) Commands() map[string]command.Command { return nil }
func (Base) NodeView() view.Factory { return nil }
func (Base) MarkSpec() model.MarkSpec { return model.MarkSpec{} }
func (Base) NodeSpec() model.NodeSpec { return model.NodeSpec{} }

// NodeBase is embedded by node descriptors.
type NodeBase struct {
	Base
	Spec model.NodeSpec
}

func (b NodeBase) Name() string { return b.Spec.Name }
func (NodeBase) Kind() Kind { return KindNode }
func (b NodeBase) NodeSpec() model.NodeSpec { return b.Spec }

// MarkBase is embedded by mark descriptors.
type MarkBase struct {
	Base
	Spec model.MarkSpec
}

func (b MarkBase) Name() string { return b.Spec.Name }
func (MarkBase) Kind() Kind { return KindMark }
func (b MarkBase) MarkSpec() model.MarkSpec { return b.Spec }

// AttrValue returns the value of the named attribute of el.
func AttrValue(el *html.Node, key string) (string, bool) {
	for _, a := range el.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

// HasClass reports whether el carries class.
func HasClass(el *html.Node, class string) bool {
	v, _ := AttrValue(el, "class")
	for _, c := range strings.Fields(v) {
		if c == class {
			return true
		}
	}
	return false
}

// FirstElement returns the first descendant element of el named tag.
func FirstElement(el *html.Node, tag string) *html.Node {
	for c := el.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if strings.EqualFold(c.Data, tag) {
			return c
		}
		if found := FirstElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

// StringAttr renders attribute key of attrs, or nothing when it is unset.
func StringAttr(attrs model.Attrs, key, htmlKey string) []Attr {
	v := attrs.String(key)
	if v == "" {
		return nil
	}
	return []Attr{{Key: htmlKey, Value: v}}
}

// NullableString converts an empty attribute value to nil so parsed
// documents match the declared null defaults.
func NullableString(v string, ok bool) any {
	if !ok || v == "" {
		return nil
	}
	return v
}

var safeSchemes = map[string]bool{"http": true, "https": true, "mailto": true}

// SafeURL reports whether raw may be rendered as a link target: http, https
// and mailto URLs, or a relative reference without a scheme.
func SafeURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme == "" {
		return u.Opaque == ""
	}
	return safeSchemes[u.Scheme]
}

// URLAttr renders attribute key of attrs when it holds a safe URL.
func URLAttr(attrs model.Attrs, key, htmlKey string) []Attr {
	if !SafeURL(attrs.String(key)) {
		return nil
	}
	return StringAttr(attrs, key, htmlKey)
}
