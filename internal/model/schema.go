package model

import (
	"fmt"
	"sort"
	"strings"
)

const (
	// DocType is the name of the root node type.
	DocType = "doc"
	// TextType is the name of the text leaf type.
	TextType = "text"
)

// AttrSpec declares one attribute of a node or mark type.
type AttrSpec struct {
	Default  any
	Required bool
}

// NodeSpec declares a node type.
type NodeSpec struct {
	Name    string
	Group   string // space separated
	Content string // content expression, empty for leaves
	// Marks lists the mark names or groups allowed on children. nil allows every mark,
	// a pointer to "" allows none.
	Marks  *string
	Inline bool
	Atom   bool
	Attrs  map[string]AttrSpec
}

// MarkSpec declares a mark type.
type MarkSpec struct {
	Name  string
	Group string
	Attrs map[string]AttrSpec
	// Inclusive controls whether text typed at the end of the mark extends it.
	// nil means inclusive.
	Inclusive *bool
}

// NodeType is a compiled NodeSpec.
type NodeType struct {
	NodeSpec
	groups    map[string]bool
	content   contentExpr
	leaf      bool
	textblock bool
	unknown   bool
	allowAll  bool
	allowed   map[string]bool
}

// IsAtom reports whether nodes of this type are edited as a single unit.
func (t *NodeType) IsAtom() bool { return t.leaf || t.Atom }

// IsLeaf reports whether nodes of this type have no content.
func (t *NodeType) IsLeaf() bool { return t.leaf }

// Unknown reports whether the type was decoded from JSON without a schema entry.
func (t *NodeType) Unknown() bool { return t.unknown }

// IsTextblockType reports whether nodes of this type hold inline content.
func (t *NodeType) IsTextblockType() bool { return t.textblock }

// Accepts reports whether child may appear somewhere in this type's content.
func (t *NodeType) Accepts(child *NodeType) bool {
	for _, term := range t.content.terms {
		if term.accepts(child) {
			return true
		}
	}
	return false
}

// InGroup reports whether the type is a member of group.
func (t *NodeType) InGroup(group string) bool { return t.groups[group] }

// MarkType is a compiled MarkSpec.
type MarkType struct {
	MarkSpec
	rank int
}

// IsInclusive reports whether the mark extends over text typed at its end.
func (t *MarkType) IsInclusive() bool { return t.Inclusive == nil || *t.Inclusive }

// Schema is the set of legal node and mark types.
type Schema struct {
	nodes     map[string]*NodeType
	nodeOrder []string
	marks     map[string]*MarkType
	markOrder []string
	markGroup map[string][]string
}

// NewSchema compiles node and mark specs. Names are unique across both kinds.
func NewSchema(nodes []NodeSpec, marks []MarkSpec) (*Schema, error) {
	s := &Schema{
		nodes:     make(map[string]*NodeType, len(nodes)),
		marks:     make(map[string]*MarkType, len(marks)),
		markGroup: map[string][]string{},
	}
	seen := map[string]bool{}
	for _, spec := range nodes {
		if seen[spec.Name] {
			return nil, &DuplicateNameError{Name: spec.Name}
		}
		seen[spec.Name] = true
		nt := &NodeType{NodeSpec: spec, groups: map[string]bool{}, leaf: strings.TrimSpace(spec.Content) == ""}
		for _, g := range strings.Fields(spec.Group) {
			nt.groups[g] = true
		}
		if spec.Name == TextType {
			nt.Inline = true
			nt.groups["inline"] = true
		}
		s.nodes[spec.Name] = nt
		s.nodeOrder = append(s.nodeOrder, spec.Name)
	}
	for i, spec := range marks {
		if seen[spec.Name] {
			return nil, &DuplicateNameError{Name: spec.Name}
		}
		seen[spec.Name] = true
		s.marks[spec.Name] = &MarkType{MarkSpec: spec, rank: i}
		s.markOrder = append(s.markOrder, spec.Name)
		for _, g := range strings.Fields(spec.Group) {
			s.markGroup[g] = append(s.markGroup[g], spec.Name)
		}
	}
	if _, ok := s.nodes[DocType]; !ok {
		return nil, fmt.Errorf("schema: missing %q node type", DocType)
	}
	if _, ok := s.nodes[TextType]; !ok {
		return nil, fmt.Errorf("schema: missing %q node type", TextType)
	}
	for _, name := range s.nodeOrder {
		nt := s.nodes[name]
		expr, err := parseContentExpr(nt.Content, s)
		if err != nil {
			return nil, fmt.Errorf("schema: node %q content: %w", name, err)
		}
		nt.content = expr
		nt.textblock = !nt.leaf && expr.acceptsInline(s)
		if err := s.compileAllowedMarks(nt); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Schema) compileAllowedMarks(nt *NodeType) error {
	if nt.Marks == nil {
		nt.allowAll = true
		return nil
	}
	nt.allowed = map[string]bool{}
	for _, name := range strings.Fields(*nt.Marks) {
		if name == "_" {
			nt.allowAll = true
			continue
		}
		if _, ok := s.marks[name]; ok {
			nt.allowed[name] = true
			continue
		}
		members, ok := s.markGroup[name]
		if !ok {
			return fmt.Errorf("schema: node %q allows unknown mark %q", nt.Name, name)
		}
		for _, m := range members {
			nt.allowed[m] = true
		}
	}
	return nil
}

// NodeType returns the named node type.
func (s *Schema) NodeType(name string) (*NodeType, bool) {
	nt, ok := s.nodes[name]
	return nt, ok
}

// MarkType returns the named mark type.
func (s *Schema) MarkType(name string) (*MarkType, bool) {
	mt, ok := s.marks[name]
	return mt, ok
}

// NodeNames lists node types in registration order.
func (s *Schema) NodeNames() []string { return append([]string(nil), s.nodeOrder...) }

// MarkNames lists mark types in registration order.
func (s *Schema) MarkNames() []string { return append([]string(nil), s.markOrder...) }

// AllowsMark reports whether children of parent may carry the mark.
func (s *Schema) AllowsMark(parent *NodeType, markType string) bool {
	if _, ok := s.marks[markType]; !ok {
		return false
	}
	return parent.allowAll || parent.allowed[markType]
}

func (s *Schema) unknownType(name string, leaf bool) *NodeType {
	return &NodeType{NodeSpec: NodeSpec{Name: name}, groups: map[string]bool{}, leaf: leaf, unknown: true, allowAll: true}
}

// DefaultAttrs fills declared defaults and drops keys the type does not declare.
func (s *Schema) DefaultAttrs(nodeType string, attrs Attrs) Attrs {
	nt, ok := s.nodes[nodeType]
	if !ok {
		return attrs.Clone()
	}
	return fillAttrs(nt.Attrs, attrs, true)
}

// DefaultMarkAttrs is the mark counterpart of DefaultAttrs.
func (s *Schema) DefaultMarkAttrs(markType string, attrs Attrs) Attrs {
	mt, ok := s.marks[markType]
	if !ok {
		return attrs.Clone()
	}
	return fillAttrs(mt.Attrs, attrs, true)
}

func fillAttrs(specs map[string]AttrSpec, attrs Attrs, dropUnknown bool) Attrs {
	out := Attrs{}
	if !dropUnknown {
		out = attrs.Clone()
	}
	for name, spec := range specs {
		if v, ok := attrs[name]; ok {
			out[name] = v
		} else if !spec.Required {
			out[name] = spec.Default
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// MissingAttrs returns the required attributes of nodeType absent (or nil) in attrs.
func (s *Schema) MissingAttrs(nodeType string, attrs Attrs) []string {
	nt, ok := s.nodes[nodeType]
	if !ok {
		return nil
	}
	return missingRequired(nt.Attrs, attrs)
}

// MissingMarkAttrs is MissingAttrs for mark types.
func (s *Schema) MissingMarkAttrs(markType string, attrs Attrs) []string {
	mt, ok := s.marks[markType]
	if !ok {
		return nil
	}
	return missingRequired(mt.Attrs, attrs)
}

func missingRequired(specs map[string]AttrSpec, attrs Attrs) []string {
	var missing []string
	for name, spec := range specs {
		if !spec.Required {
			continue
		}
		if v, ok := attrs[name]; !ok || v == nil || v == "" {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// Node builds a node through the schema: defaults are filled, undeclared
// attributes dropped and the subtree checked.
func (s *Schema) Node(typeName string, attrs Attrs, content ...*Node) (*Node, error) {
	nt, ok := s.nodes[typeName]
	if !ok {
		return nil, &SchemaViolation{NodeType: typeName, Reason: "unknown node type"}
	}
	if typeName == TextType {
		return nil, &SchemaViolation{NodeType: typeName, Reason: "use Text to build text nodes"}
	}
	if nt.textblock {
		content = NormalizeInline(content)
	}
	n := newNode(nt, fillAttrs(nt.Attrs, attrs, true), append([]*Node(nil), content...))
	if err := s.Check(n); err != nil {
		return nil, err
	}
	return n, nil
}

// MustNode is Node for statically known trees; it panics on error.
func (s *Schema) MustNode(typeName string, attrs Attrs, content ...*Node) *Node {
	n, err := s.Node(typeName, attrs, content...)
	if err != nil {
		panic(err)
	}
	return n
}

// Text builds a text node with marks in schema order.
func (s *Schema) Text(text string, marks ...Mark) *Node {
	filled := make([]Mark, 0, len(marks))
	for _, m := range marks {
		filled = append(filled, Mark{Type: m.Type, Attrs: s.DefaultMarkAttrs(m.Type, m.Attrs)})
	}
	return newText(s.nodes[TextType], text, s.SortMarks(filled))
}

// Doc builds a root node.
func (s *Schema) Doc(content ...*Node) (*Node, error) {
	return s.Node(DocType, nil, content...)
}

// Check validates a subtree against the schema.
func (s *Schema) Check(n *Node) error {
	return s.check(n, nil, n.TypeName())
}

func (s *Schema) check(n *Node, parent *NodeType, path string) error {
	nt := n.typ
	if nt.unknown {
		return &SchemaViolation{Path: path, NodeType: nt.Name, Reason: "unknown node type"}
	}
	if n.IsText() {
		if n.text == "" {
			return &SchemaViolation{Path: path, NodeType: nt.Name, Reason: "empty text node"}
		}
		seen := map[string]bool{}
		for _, m := range n.marks {
			mt, ok := s.marks[m.Type]
			if !ok {
				return &SchemaViolation{Path: path, NodeType: nt.Name, Reason: fmt.Sprintf("unknown mark %q", m.Type)}
			}
			if seen[m.Type] {
				return &SchemaViolation{Path: path, NodeType: nt.Name, Reason: fmt.Sprintf("duplicate mark %q", m.Type)}
			}
			seen[m.Type] = true
			if parent != nil && !s.AllowsMark(parent, m.Type) {
				return &SchemaViolation{Path: path, NodeType: nt.Name, Reason: fmt.Sprintf("mark %q not allowed in %s", m.Type, parent.Name)}
			}
			if missing := missingRequired(mt.Attrs, m.Attrs); len(missing) > 0 {
				return &SchemaViolation{Path: path, NodeType: nt.Name, Reason: fmt.Sprintf("mark %q missing attrs %v", m.Type, missing)}
			}
		}
		return nil
	}
	if missing := missingRequired(nt.Attrs, n.attrs); len(missing) > 0 {
		return &SchemaViolation{Path: path, NodeType: nt.Name, Reason: fmt.Sprintf("missing required attrs %v", missing)}
	}
	if nt.leaf {
		if len(n.content) > 0 {
			return &SchemaViolation{Path: path, NodeType: nt.Name, Reason: "leaf node has content"}
		}
		return nil
	}
	if !nt.content.matches(n.content, s) {
		return &SchemaViolation{Path: path, NodeType: nt.Name, Reason: fmt.Sprintf("content does not match %q", nt.Content)}
	}
	for i, c := range n.content {
		if err := s.check(c, nt, fmt.Sprintf("%s/%d:%s", path, i, c.TypeName())); err != nil {
			return err
		}
	}
	return nil
}

// ValidContent reports whether children are legal content for a node of typeName.
func (s *Schema) ValidContent(typeName string, children []*Node) bool {
	nt, ok := s.nodes[typeName]
	if !ok {
		return false
	}
	if nt.leaf {
		return len(children) == 0
	}
	return nt.content.matches(children, s)
}
