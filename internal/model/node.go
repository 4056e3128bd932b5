// Package model holds the immutable document tree, the schema that constrains it,
// and position resolution over the tree.
package model

import (
	"reflect"
	"strings"
	"unicode/utf8"
)

// Attrs maps attribute names to values. Values decoded from JSON use the
// encoding/json types (float64, string, bool, nil).
type Attrs map[string]any

// Clone returns a shallow copy.
func (a Attrs) Clone() Attrs {
	if a == nil {
		return Attrs{}
	}
	out := make(Attrs, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// String returns the attribute as a string, or "" when it is absent or not a string.
func (a Attrs) String(key string) string {
	v, _ := a[key].(string)
	return v
}

// Int returns a numeric attribute as int.
func (a Attrs) Int(key string, fallback int) int {
	switch v := a[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// Equal compares two attribute sets by value. A missing key and a nil value differ.
func (a Attrs) Equal(b Attrs) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !attrValueEqual(av, bv) {
			return false
		}
	}
	return true
}

func attrValueEqual(a, b any) bool {
	if an, ok := toFloat(a); ok {
		bn, ok := toFloat(b)
		return ok && an == bn
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// Merge returns a copy of a with every key of patch overwritten.
func (a Attrs) Merge(patch Attrs) Attrs {
	out := a.Clone()
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Node is an immutable element of the document tree. Text nodes carry text
// and marks; all other nodes carry attributes and children.
type Node struct {
	typ         *NodeType
	attrs       Attrs
	content     []*Node
	text        string
	marks       []Mark
	contentSize int
}

func newNode(typ *NodeType, attrs Attrs, content []*Node) *Node {
	n := &Node{typ: typ, attrs: attrs, content: content}
	for _, c := range content {
		n.contentSize += c.NodeSize()
	}
	return n
}

func newText(typ *NodeType, text string, marks []Mark) *Node {
	return &Node{typ: typ, text: text, marks: marks}
}

// Type returns the node's type.
func (n *Node) Type() *NodeType { return n.typ }

// TypeName returns the node's type name.
func (n *Node) TypeName() string { return n.typ.Name }

// Attr returns a single attribute value.
func (n *Node) Attr(key string) any { return n.attrs[key] }

// Attrs returns a copy of the node's attributes.
func (n *Node) Attrs() Attrs { return n.attrs.Clone() }

// ID returns the node's "id" attribute, if it is a string.
func (n *Node) ID() string { return n.attrs.String("id") }

// Text returns the text of a text node.
func (n *Node) Text() string { return n.text }

// Marks returns a copy of a text node's marks.
func (n *Node) Marks() []Mark {
	out := make([]Mark, len(n.marks))
	copy(out, n.marks)
	return out
}

// HasMark reports whether a text node carries a mark of the given type.
func (n *Node) HasMark(markType string) (Mark, bool) {
	for _, m := range n.marks {
		if m.Type == markType {
			return m, true
		}
	}
	return Mark{}, false
}

// ChildCount returns the number of direct children.
func (n *Node) ChildCount() int { return len(n.content) }

// Child returns the i-th child.
func (n *Node) Child(i int) *Node { return n.content[i] }

// Children returns a copy of the child slice.
func (n *Node) Children() []*Node {
	out := make([]*Node, len(n.content))
	copy(out, n.content)
	return out
}

// IsText reports whether the node is a text node.
func (n *Node) IsText() bool { return n.typ.Name == TextType }

// IsLeaf reports whether the node can hold no content.
func (n *Node) IsLeaf() bool { return n.typ.leaf }

// IsAtom reports whether the node is edited as a single unit.
func (n *Node) IsAtom() bool { return n.typ.IsAtom() }

// IsInline reports whether the node belongs in inline content.
func (n *Node) IsInline() bool { return n.typ.Inline || n.IsText() }

// IsTextblock reports whether the node holds inline content.
func (n *Node) IsTextblock() bool { return n.typ.textblock }

// NodeSize is the number of positions the node occupies in its parent.
func (n *Node) NodeSize() int {
	switch {
	case n.IsText():
		return utf8.RuneCountInString(n.text)
	case n.typ.leaf:
		return 1
	default:
		return n.contentSize + 2
	}
}

// ContentSize is the number of positions inside the node.
func (n *Node) ContentSize() int { return n.contentSize }

// TextContent concatenates all text below the node.
func (n *Node) TextContent() string {
	if n.IsText() {
		return n.text
	}
	var b strings.Builder
	for _, c := range n.content {
		b.WriteString(c.TextContent())
	}
	return b.String()
}

// WithAttrs returns a copy of n with attrs replaced.
func (n *Node) WithAttrs(attrs Attrs) *Node {
	cp := *n
	cp.attrs = attrs.Clone()
	return &cp
}

// WithContent returns a copy of n with its children replaced.
func (n *Node) WithContent(content []*Node) *Node {
	return newNode(n.typ, n.attrs, content)
}

// WithMarks returns a copy of a text node with its marks replaced.
func (n *Node) WithMarks(marks []Mark) *Node {
	cp := *n
	cp.marks = append([]Mark(nil), marks...)
	return &cp
}

// WithText returns a copy of a text node with different text.
func (n *Node) WithText(text string) *Node {
	cp := *n
	cp.text = text
	return &cp
}

// Cut returns the part of a text node between rune offsets from and to.
func (n *Node) Cut(from, to int) *Node {
	if !n.IsText() {
		return n
	}
	runes := []rune(n.text)
	if from < 0 {
		from = 0
	}
	if to > len(runes) {
		to = len(runes)
	}
	if from == 0 && to == len(runes) {
		return n
	}
	return n.WithText(string(runes[from:to]))
}

// SameMarkup reports whether two nodes share type, attrs and marks.
func (n *Node) SameMarkup(o *Node) bool {
	return n.typ.Name == o.typ.Name && n.attrs.Equal(o.attrs) && SameMarkSet(n.marks, o.marks)
}

// Equal compares two subtrees structurally.
func (n *Node) Equal(o *Node) bool {
	if n == o {
		return true
	}
	if n == nil || o == nil {
		return false
	}
	if !n.SameMarkup(o) || n.text != o.text || len(n.content) != len(o.content) {
		return false
	}
	for i := range n.content {
		if !n.content[i].Equal(o.content[i]) {
			return false
		}
	}
	return true
}

// NormalizeInline merges adjacent text nodes with equal marks and drops empty text nodes.
func NormalizeInline(nodes []*Node) []*Node {
	out := make([]*Node, 0, len(nodes))
	for _, c := range nodes {
		if c.IsText() && c.text == "" {
			continue
		}
		if len(out) > 0 {
			last := out[len(out)-1]
			if c.IsText() && last.IsText() && SameMarkSet(c.marks, last.marks) {
				out[len(out)-1] = last.WithText(last.text + c.text)
				continue
			}
		}
		out = append(out, c)
	}
	return out
}
