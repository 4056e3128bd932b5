package transform

import (
	"fmt"

	"folio/api/internal/model"
)

// AttrStep sets the full attribute set of the node starting at Pos.
type AttrStep struct {
	Pos   int
	Attrs model.Attrs
}

// NewAttrMerge builds an AttrStep that shallow-merges patch over the current
// attributes of node: provided keys overwrite, others keep their value.
func NewAttrMerge(pos int, node *model.Node, patch model.Attrs) *AttrStep {
	return &AttrStep{Pos: pos, Attrs: node.Attrs().Merge(patch)}
}

func (a *AttrStep) Name() string { return "attr" }

func (a *AttrStep) target(doc *model.Node) (*model.ResolvedPos, *model.Node, error) {
	rp, err := model.Resolve(doc, a.Pos)
	if err != nil {
		return nil, nil, fmt.Errorf("attr: %w", err)
	}
	node := rp.NodeAfter()
	if node == nil || node.IsText() {
		return nil, nil, violation(a.Name(), fmt.Sprintf("no node starts at %d", a.Pos))
	}
	return rp, node, nil
}

func (a *AttrStep) Apply(doc *model.Node, s *model.Schema) (*model.Node, error) {
	rp, node, err := a.target(doc)
	if err != nil {
		return nil, err
	}
	parent := rp.Parent()
	children := parent.Children()
	children[rp.Index(rp.Depth)] = node.WithAttrs(a.Attrs)
	return checked(replaceAt(rp, rp.Depth, parent.WithContent(children)), s, a.Name())
}

func (a *AttrStep) Invert(before *model.Node) (Step, error) {
	_, node, err := a.target(before)
	if err != nil {
		return nil, err
	}
	return &AttrStep{Pos: a.Pos, Attrs: node.Attrs()}, nil
}

func (a *AttrStep) Map() StepMap { return StepMap{} }
