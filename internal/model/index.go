package model

// IDEntry locates an identified atomic node in one snapshot.
type IDEntry struct {
	Pos  int
	Node *Node
}

// IDIndex maps the "id" attribute of atomic nodes to their position.
// It is valid only for the snapshot it was built from.
type IDIndex struct {
	entries map[string]IDEntry
}

// BuildIDIndex scans doc in pre-order. When two atoms share an id the first wins.
func BuildIDIndex(doc *Node) *IDIndex {
	idx := &IDIndex{entries: map[string]IDEntry{}}
	Descendants(doc, func(n *Node, pos int, _ *Node, _ int) bool {
		if !n.IsAtom() || n.IsText() {
			return true
		}
		id := n.ID()
		if id == "" {
			return true
		}
		if _, dup := idx.entries[id]; !dup {
			idx.entries[id] = IDEntry{Pos: pos, Node: n}
		}
		return true
	})
	return idx
}

// Lookup returns the entry for id.
func (x *IDIndex) Lookup(id string) (IDEntry, bool) {
	e, ok := x.entries[id]
	return e, ok
}

// Len is the number of indexed ids.
func (x *IDIndex) Len() int { return len(x.entries) }

// IDs lists the indexed ids in no particular order.
func (x *IDIndex) IDs() []string {
	out := make([]string, 0, len(x.entries))
	for id := range x.entries {
		out = append(out, id)
	}
	return out
}
