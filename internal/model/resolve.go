package model

type pathEntry struct {
	node  *Node
	index int
	start int // position of the node's first content slot
}

// ResolvedPos is a position with the chain of ancestors that contain it.
type ResolvedPos struct {
	Pos          int
	Depth        int
	ParentOffset int
	path         []pathEntry
}

// Resolve locates pos inside doc. Positions count from the start of the
// root's content: text runes and leaves take one slot, other nodes take
// their content plus an opening and closing slot.
func Resolve(doc *Node, pos int) (*ResolvedPos, error) {
	if pos < 0 || pos > doc.ContentSize() {
		return nil, outOfRange(pos, doc.ContentSize())
	}
	var path []pathEntry
	node, start := doc, 0
	for {
		idx, childStart := 0, start
		for idx < len(node.content) {
			end := childStart + node.content[idx].NodeSize()
			if pos < end {
				break
			}
			childStart = end
			idx++
		}
		path = append(path, pathEntry{node: node, index: idx, start: start})
		if idx == len(node.content) {
			break
		}
		child := node.content[idx]
		if pos == childStart || child.IsText() || child.IsLeaf() {
			break
		}
		node, start = child, childStart+1
	}
	depth := len(path) - 1
	return &ResolvedPos{Pos: pos, Depth: depth, ParentOffset: pos - path[depth].start, path: path}, nil
}

// Parent is the innermost node containing the position.
func (r *ResolvedPos) Parent() *Node { return r.path[r.Depth].node }

// Node returns the ancestor at depth.
func (r *ResolvedPos) Node(depth int) *Node { return r.path[depth].node }

// Index is the child index in the ancestor at depth that the position points into.
func (r *ResolvedPos) Index(depth int) int { return r.path[depth].index }

// Start is the position of the first content slot of the ancestor at depth.
func (r *ResolvedPos) Start(depth int) int { return r.path[depth].start }

// End is the position after the last content slot of the ancestor at depth.
func (r *ResolvedPos) End(depth int) int { return r.path[depth].start + r.path[depth].node.ContentSize() }

// Before is the position directly before the ancestor at depth (depth >= 1).
func (r *ResolvedPos) Before(depth int) int { return r.path[depth].start - 1 }

// After is the position directly after the ancestor at depth (depth >= 1).
func (r *ResolvedPos) After(depth int) int { return r.End(depth) + 1 }

// childStart is the position where the child at Index(Depth) begins.
func (r *ResolvedPos) childStart() int {
	parent, idx := r.Parent(), r.Index(r.Depth)
	pos := r.Start(r.Depth)
	for i := 0; i < idx; i++ {
		pos += parent.content[i].NodeSize()
	}
	return pos
}

// TextOffset is the rune offset into the text node the position points into, or 0.
func (r *ResolvedPos) TextOffset() int {
	idx := r.Index(r.Depth)
	if idx >= r.Parent().ChildCount() || !r.Parent().Child(idx).IsText() {
		return 0
	}
	return r.Pos - r.childStart()
}

// NodeAfter returns the node directly after the position, cut when inside text.
func (r *ResolvedPos) NodeAfter() *Node {
	parent, idx := r.Parent(), r.Index(r.Depth)
	if idx >= parent.ChildCount() {
		return nil
	}
	child := parent.Child(idx)
	if off := r.TextOffset(); off > 0 {
		return child.Cut(off, child.NodeSize())
	}
	return child
}

// NodeBefore returns the node directly before the position, cut when inside text.
func (r *ResolvedPos) NodeBefore() *Node {
	parent, idx := r.Parent(), r.Index(r.Depth)
	if off := r.TextOffset(); off > 0 {
		return parent.Child(idx).Cut(0, off)
	}
	if idx == 0 {
		return nil
	}
	return parent.Child(idx - 1)
}

// Marks returns the marks of the text the position sits in or directly after.
func (r *ResolvedPos) Marks() []Mark {
	if n := r.NodeBefore(); n != nil && n.IsText() {
		return n.Marks()
	}
	if n := r.NodeAfter(); n != nil && n.IsText() {
		return n.Marks()
	}
	return nil
}

// SameParent reports whether two resolved positions share the innermost parent.
func (r *ResolvedPos) SameParent(o *ResolvedPos) bool {
	return r.Depth == o.Depth && r.Parent() == o.Parent() && r.Start(r.Depth) == o.Start(o.Depth)
}

// NodesBetween calls fn for every node overlapping [from, to) in pre-order with
// its absolute position. Returning false skips the node's children.
func NodesBetween(doc *Node, from, to int, fn func(n *Node, pos int, parent *Node, index int) bool) {
	nodesBetween(doc, from, to, 0, fn)
}

func nodesBetween(parent *Node, from, to, start int, fn func(*Node, int, *Node, int) bool) {
	pos := start
	for i, child := range parent.content {
		end := pos + child.NodeSize()
		if end > from && pos < to || (from == to && pos == from) {
			if fn(child, pos, parent, i) && len(child.content) > 0 {
				nodesBetween(child, from, to, pos+1, fn)
			}
		}
		if pos >= to && from != to {
			return
		}
		pos = end
	}
}

// Descendants walks the whole tree in pre-order.
func Descendants(doc *Node, fn func(n *Node, pos int, parent *Node, index int) bool) {
	nodesBetween(doc, 0, doc.ContentSize(), 0, fn)
}

// TextBetween extracts plain text, separating blocks with blockSep.
func TextBetween(doc *Node, from, to int, blockSep string) string {
	var (
		out       []rune
		separated = true
	)
	NodesBetween(doc, from, to, func(n *Node, pos int, _ *Node, _ int) bool {
		switch {
		case n.IsText():
			runes := []rune(n.text)
			lo, hi := max(from-pos, 0), min(to-pos, len(runes))
			if lo < hi {
				out = append(out, runes[lo:hi]...)
				separated = false
			}
		case n.IsLeaf() && n.IsInline():
			out = append(out, '\n')
		case !n.IsInline() && !separated:
			out = append(out, []rune(blockSep)...)
			separated = true
		}
		return true
	})
	return string(out)
}
