package transform

import (
	"fmt"

	"folio/api/internal/model"
)

// MarkStep adds or removes a mark on the text in [From, To). Adding a mark
// whose type is already present replaces that mark's attributes. Text inside
// parents that do not allow the mark is left alone.
type MarkStep struct {
	From   int
	To     int
	Mark   model.Mark
	Remove bool
}

// NewAddMark builds a replace-mark step.
func NewAddMark(from, to int, mark model.Mark) *MarkStep {
	return &MarkStep{From: from, To: to, Mark: mark}
}

// NewRemoveMark builds a step removing every mark of markType in the range.
func NewRemoveMark(from, to int, markType string) *MarkStep {
	return &MarkStep{From: from, To: to, Mark: model.Mark{Type: markType}, Remove: true}
}

func (m *MarkStep) Name() string {
	if m.Remove {
		return "removeMark"
	}
	return "addMark"
}

func (m *MarkStep) Apply(doc *model.Node, s *model.Schema) (*model.Node, error) {
	if m.From > m.To || m.From < 0 || m.To > doc.ContentSize() {
		return nil, fmt.Errorf("%s: %w: %d..%d", m.Name(), model.ErrPositionOutOfRange, m.From, m.To)
	}
	mark := m.Mark
	if !m.Remove {
		if _, ok := s.MarkType(mark.Type); !ok {
			return nil, violation(m.Name(), fmt.Sprintf("unknown mark %q", mark.Type))
		}
		mark.Attrs = s.DefaultMarkAttrs(mark.Type, mark.Attrs)
	}
	out := m.mapNode(doc, 0, mark, s)
	return checked(out, s, m.Name())
}

// mapNode rebuilds node, whose content starts at start, with the mark change
// applied to overlapping text.
func (m *MarkStep) mapNode(node *model.Node, start int, mark model.Mark, s *model.Schema) *model.Node {
	if node.ChildCount() == 0 {
		return node
	}
	var (
		children = make([]*model.Node, 0, node.ChildCount())
		changed  bool
		pos      = start
	)
	for i := 0; i < node.ChildCount(); i++ {
		child := node.Child(i)
		end := pos + child.NodeSize()
		switch {
		case end <= m.From || pos >= m.To:
			children = append(children, child)
		case child.IsText():
			if !m.Remove && !s.AllowsMark(node.Type(), mark.Type) {
				children = append(children, child)
				break
			}
			lo, hi := max(m.From-pos, 0), min(m.To-pos, child.NodeSize())
			if lo > 0 {
				children = append(children, child.Cut(0, lo))
			}
			mid := child.Cut(lo, hi)
			if m.Remove {
				mid = mid.WithMarks(model.RemoveMark(mid.Marks(), mark.Type))
			} else {
				mid = mid.WithMarks(s.AddMark(mid.Marks(), mark))
			}
			children = append(children, mid)
			if hi < child.NodeSize() {
				children = append(children, child.Cut(hi, child.NodeSize()))
			}
			changed = true
		default:
			mapped := m.mapNode(child, pos+1, mark, s)
			children = append(children, mapped)
			changed = changed || mapped != child
		}
		pos = end
	}
	if !changed {
		return node
	}
	return node.WithContent(model.NormalizeInline(children))
}

// Invert replaces the top-level blocks the range touches with their
// original content. Mark steps never change sizes, so the range is stable.
func (m *MarkStep) Invert(before *model.Node) (Step, error) {
	from, err := model.Resolve(before, m.From)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.Name(), err)
	}
	to, err := model.Resolve(before, m.To)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.Name(), err)
	}
	start, end := m.From, m.To
	if from.Depth >= 1 {
		start = from.Before(1)
	}
	if to.Depth >= 1 {
		end = to.After(1)
	}
	return &ReplaceStep{From: start, To: end, Content: cutContent(before, start, end)}, nil
}

func (m *MarkStep) Map() StepMap { return StepMap{} }
