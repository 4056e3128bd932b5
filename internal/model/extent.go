package model

// MarkExtent finds the contiguous run of text carrying an equal mark of
// markType around pos. At a run boundary the run before pos is preferred.
func MarkExtent(doc *Node, pos int, markType string) (from, to int, mark Mark, ok bool) {
	rp, err := Resolve(doc, pos)
	if err != nil {
		return 0, 0, Mark{}, false
	}
	parent := rp.Parent()
	idx, start := rp.Index(rp.Depth), rp.childStart()
	if rp.TextOffset() == 0 && idx > 0 {
		if _, has := parent.Child(idx - 1).HasMark(markType); has {
			idx--
			start -= parent.Child(idx).NodeSize()
		}
	}
	if idx >= parent.ChildCount() {
		return 0, 0, Mark{}, false
	}
	child := parent.Child(idx)
	mark, ok = child.HasMark(markType)
	if !ok {
		return 0, 0, Mark{}, false
	}
	from, to = start, start+child.NodeSize()
	for i := idx - 1; i >= 0; i-- {
		m, has := parent.Child(i).HasMark(markType)
		if !has || !m.Eq(mark) {
			break
		}
		from -= parent.Child(i).NodeSize()
	}
	for i := idx + 1; i < parent.ChildCount(); i++ {
		m, has := parent.Child(i).HasMark(markType)
		if !has || !m.Eq(mark) {
			break
		}
		to += parent.Child(i).NodeSize()
	}
	return from, to, mark, true
}

// RangeHasMark reports whether every text node overlapping [from, to) carries markType.
func RangeHasMark(doc *Node, from, to int, markType string) bool {
	found, all := false, true
	NodesBetween(doc, from, to, func(n *Node, _ int, _ *Node, _ int) bool {
		if n.IsText() {
			found = true
			if _, has := n.HasMark(markType); !has {
				all = false
			}
		}
		return all
	})
	return found && all
}
