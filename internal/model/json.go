package model

import (
	"encoding/json"
	"fmt"
)

type jsonNode struct {
	Type    string      `json:"type"`
	Attrs   Attrs       `json:"attrs,omitempty"`
	Content []*jsonNode `json:"content,omitempty"`
	Text    string      `json:"text,omitempty"`
	Marks   []Mark      `json:"marks,omitempty"`
}

func toJSONNode(n *Node) *jsonNode {
	out := &jsonNode{Type: n.TypeName(), Text: n.text}
	if len(n.attrs) > 0 {
		out.Attrs = n.attrs
	}
	if len(n.marks) > 0 {
		out.Marks = n.marks
	}
	for _, c := range n.content {
		out.Content = append(out.Content, toJSONNode(c))
	}
	return out
}

// MarshalJSON encodes the subtree as {type, attrs?, content?, text?, marks?}.
func (n *Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(toJSONNode(n))
}

// DecodeJSON reads a persisted tree. Known types get their declared defaults
// filled in; attribute keys the schema does not declare are kept. Types the
// schema does not know are decoded as opaque nodes so that rendering can
// degrade instead of failing; Check rejects them.
func DecodeJSON(data []byte, s *Schema) (*Node, error) {
	var raw jsonNode
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return s.fromJSON(&raw)
}

func (s *Schema) fromJSON(raw *jsonNode) (*Node, error) {
	if raw == nil || raw.Type == "" {
		return nil, fmt.Errorf("decode document: node without type")
	}
	if raw.Type == TextType {
		marks := make([]Mark, 0, len(raw.Marks))
		for _, m := range raw.Marks {
			if _, ok := s.marks[m.Type]; ok {
				m.Attrs = fillAttrs(s.marks[m.Type].Attrs, m.Attrs, false)
			}
			marks = append(marks, m)
		}
		if len(marks) == 0 {
			marks = nil
		}
		return newText(s.nodes[TextType], raw.Text, marks), nil
	}
	nt, ok := s.nodes[raw.Type]
	if !ok {
		nt = s.unknownType(raw.Type, len(raw.Content) == 0)
	}
	content := make([]*Node, 0, len(raw.Content))
	for _, c := range raw.Content {
		child, err := s.fromJSON(c)
		if err != nil {
			return nil, err
		}
		content = append(content, child)
	}
	attrs := raw.Attrs
	if ok {
		attrs = fillAttrs(nt.Attrs, raw.Attrs, false)
	}
	return newNode(nt, attrs, content), nil
}
