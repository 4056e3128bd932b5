package transform

import (
	"fmt"

	"folio/api/internal/model"
)

// ReplaceStep replaces the flat range [From, To) with Content. Both ends must
// resolve into the same parent node.
type ReplaceStep struct {
	From    int
	To      int
	Content []*model.Node
}

// NewInsert inserts nodes at pos.
func NewInsert(pos int, nodes ...*model.Node) *ReplaceStep {
	return &ReplaceStep{From: pos, To: pos, Content: nodes}
}

// NewDelete removes [from, to).
func NewDelete(from, to int) *ReplaceStep {
	return &ReplaceStep{From: from, To: to}
}

func (r *ReplaceStep) Name() string { return "replace" }

func (r *ReplaceStep) contentSize() int {
	size := 0
	for _, n := range r.Content {
		size += n.NodeSize()
	}
	return size
}

func (r *ReplaceStep) resolve(doc *model.Node) (*model.ResolvedPos, *model.ResolvedPos, error) {
	if r.From > r.To {
		return nil, nil, fmt.Errorf("replace: inverted range %d..%d", r.From, r.To)
	}
	from, err := model.Resolve(doc, r.From)
	if err != nil {
		return nil, nil, fmt.Errorf("replace: %w", err)
	}
	to, err := model.Resolve(doc, r.To)
	if err != nil {
		return nil, nil, fmt.Errorf("replace: %w", err)
	}
	if !from.SameParent(to) {
		return nil, nil, violation(r.Name(), fmt.Sprintf("range %d..%d spans more than one parent", r.From, r.To))
	}
	return from, to, nil
}

func (r *ReplaceStep) Apply(doc *model.Node, s *model.Schema) (*model.Node, error) {
	from, to, err := r.resolve(doc)
	if err != nil {
		return nil, err
	}
	parent := from.Parent()
	children := cutContent(parent, 0, from.ParentOffset)
	children = append(children, r.Content...)
	children = append(children, cutContent(parent, to.ParentOffset, parent.ContentSize())...)
	repl := parent.WithContent(model.NormalizeInline(children))
	return checked(replaceAt(from, from.Depth, repl), s, r.Name())
}

func (r *ReplaceStep) Invert(before *model.Node) (Step, error) {
	from, to, err := r.resolve(before)
	if err != nil {
		return nil, err
	}
	removed := cutContent(from.Parent(), from.ParentOffset, to.ParentOffset)
	return &ReplaceStep{From: r.From, To: r.From + r.contentSize(), Content: removed}, nil
}

func (r *ReplaceStep) Map() StepMap {
	return StepMap{ranges: []mapRange{{start: r.From, oldSize: r.To - r.From, newSize: r.contentSize()}}}
}
