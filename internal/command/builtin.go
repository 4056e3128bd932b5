package command

import (
	"folio/api/internal/model"
	"folio/api/internal/transform"
)

// Builtins returns the commands every pipeline carries.
func Builtins() map[string]Command {
	return map[string]Command{
		"insertAtomicNode":     InsertAtomicNode,
		"updateAtomicNodeById": UpdateAtomicNodeByID,
		"deleteAtomicNodeById": DeleteAtomicNodeByID,
		"insertText":           InsertText,
		"deleteSelection":      DeleteSelection,
		"setSelection":         SetSelection,
		"setNodeAttrs":         SetNodeAttrs,
		"setMark":              SetMark,
		"unsetMark":            UnsetMark,
		"toggleMark":           ToggleMark,
		"setBlockType":         SetBlockType,
	}
}

// InsertAtomicNode inserts one atomic node of args["type"] with args["attrs"]
// at the selection. Block atoms go after the enclosing text block, or replace
// it when it is an empty top-level block.
func InsertAtomicNode(st State, args Args) (*transform.Transaction, error) {
	const name = "insertAtomicNode"
	typeName := args.String("type")
	nt, ok := st.Schema.NodeType(typeName)
	if !ok {
		return nil, Failed(name, "unknown node type %q", typeName)
	}
	if !nt.IsAtom() {
		return nil, Failed(name, "%q is not atomic", typeName)
	}
	attrs := args.Attrs("attrs")
	if missing := st.Schema.MissingAttrs(typeName, attrs); len(missing) > 0 {
		return nil, Failed(name, "missing required attrs %v", missing)
	}
	node, err := st.Schema.Node(typeName, attrs)
	if err != nil {
		return nil, Failed(name, "%v", err)
	}
	if id := node.ID(); id != "" {
		if _, taken := model.BuildIDIndex(st.Doc).Lookup(id); taken {
			return nil, Failed(name, "id %q is already in use", id)
		}
	}

	from, to := st.Selection.From(), st.Selection.To()
	if !nt.Inline {
		from, to, err = blockInsertRange(st.Doc, from)
		if err != nil {
			return nil, Failed(name, "%v", err)
		}
	}
	return transform.NewTransaction().
		Add(&transform.ReplaceStep{From: from, To: to, Content: []*model.Node{node}}).
		SetSelection(transform.Cursor(from + node.NodeSize())), nil
}

func blockInsertRange(doc *model.Node, pos int) (int, int, error) {
	rp, err := model.Resolve(doc, pos)
	if err != nil {
		return 0, 0, err
	}
	for d := rp.Depth; d > 0; d-- {
		node := rp.Node(d)
		if !node.IsTextblock() {
			continue
		}
		switch {
		case node.ChildCount() == 0 && d == 1:
			return rp.Before(d), rp.After(d), nil
		case pos == rp.Start(d) && node.ChildCount() > 0:
			return rp.Before(d), rp.Before(d), nil
		default:
			return rp.After(d), rp.After(d), nil
		}
	}
	return pos, pos, nil
}

// UpdateAtomicNodeByID shallow-merges args["attrs"] into the first atomic
// node, in document order, whose id equals args["id"]. A miss produces no
// transaction.
func UpdateAtomicNodeByID(st State, args Args) (*transform.Transaction, error) {
	const name = "updateAtomicNodeById"
	id := args.String("id")
	if id == "" {
		return nil, Failed(name, "missing id")
	}
	entry, ok := st.IDIndex().Lookup(id)
	if !ok {
		return nil, Failed(name, "no atomic node with id %q", id)
	}
	return transform.NewTransaction().Add(transform.NewAttrMerge(entry.Pos, entry.Node, args.Attrs("attrs"))), nil
}

// DeleteAtomicNodeByID removes the first atomic node with args["id"].
func DeleteAtomicNodeByID(st State, args Args) (*transform.Transaction, error) {
	const name = "deleteAtomicNodeById"
	id := args.String("id")
	entry, ok := st.IDIndex().Lookup(id)
	if id == "" || !ok {
		return nil, Failed(name, "no atomic node with id %q", id)
	}
	return transform.NewTransaction().Add(transform.NewDelete(entry.Pos, entry.Pos+entry.Node.NodeSize())), nil
}

// InsertText replaces the selection with args["text"], carrying over the
// inclusive marks of the text before the cursor.
func InsertText(st State, args Args) (*transform.Transaction, error) {
	const name = "insertText"
	text := args.String("text")
	if text == "" {
		return nil, Failed(name, "empty text")
	}
	from, to := st.Selection.From(), st.Selection.To()
	rp, err := model.Resolve(st.Doc, from)
	if err != nil {
		return nil, Failed(name, "%v", err)
	}
	if !rp.Parent().IsTextblock() {
		return nil, Failed(name, "selection is not inside a text block")
	}
	var marks []model.Mark
	if before := rp.NodeBefore(); before != nil && before.IsText() {
		for _, m := range before.Marks() {
			mt, ok := st.Schema.MarkType(m.Type)
			if ok && mt.IsInclusive() && st.Schema.AllowsMark(rp.Parent().Type(), m.Type) {
				marks = append(marks, m)
			}
		}
	}
	node := st.Schema.Text(text, marks...)
	return transform.NewTransaction().
		Add(&transform.ReplaceStep{From: from, To: to, Content: []*model.Node{node}}).
		SetSelection(transform.Cursor(from + node.NodeSize())), nil
}

// DeleteSelection removes the selected range.
func DeleteSelection(st State, _ Args) (*transform.Transaction, error) {
	if st.Selection.Empty() {
		return nil, Failed("deleteSelection", "empty selection")
	}
	return transform.NewTransaction().Add(transform.NewDelete(st.Selection.From(), st.Selection.To())), nil
}

// SetSelection moves the selection to args["anchor"]..args["head"].
func SetSelection(st State, args Args) (*transform.Transaction, error) {
	anchor, ok := args.Int("anchor")
	if !ok {
		return nil, Failed("setSelection", "missing anchor")
	}
	head, ok := args.Int("head")
	if !ok {
		head = anchor
	}
	sel := transform.Selection{Anchor: anchor, Head: head}
	if !sel.Valid(st.Doc) {
		return nil, Failed("setSelection", "selection %d..%d outside document", anchor, head)
	}
	return transform.NewTransaction().SetSelection(sel), nil
}

// SetNodeAttrs merges args["attrs"] into the node starting at args["pos"].
func SetNodeAttrs(st State, args Args) (*transform.Transaction, error) {
	const name = "setNodeAttrs"
	pos, ok := args.Int("pos")
	if !ok {
		return nil, Failed(name, "missing pos")
	}
	rp, err := model.Resolve(st.Doc, pos)
	if err != nil {
		return nil, Failed(name, "%v", err)
	}
	node := rp.NodeAfter()
	if node == nil || node.IsText() {
		return nil, Failed(name, "no node at %d", pos)
	}
	return transform.NewTransaction().Add(transform.NewAttrMerge(pos, node, args.Attrs("attrs"))), nil
}

// SetMark applies args["type"] with args["attrs"] to the selection,
// replacing an existing mark of the same type.
func SetMark(st State, args Args) (*transform.Transaction, error) {
	from, to, err := markRange(st, args, "setMark")
	if err != nil {
		return nil, err
	}
	mark := model.Mark{Type: args.String("type"), Attrs: args.Attrs("attrs")}
	if missing := st.Schema.MissingMarkAttrs(mark.Type, mark.Attrs); len(missing) > 0 {
		return nil, Failed("setMark", "missing required attrs %v", missing)
	}
	return transform.NewTransaction().Add(transform.NewAddMark(from, to, mark)), nil
}

// UnsetMark removes args["type"] from the selection. With an empty
// selection the whole mark run around the cursor is cleared.
func UnsetMark(st State, args Args) (*transform.Transaction, error) {
	const name = "unsetMark"
	markType := args.String("type")
	if _, ok := st.Schema.MarkType(markType); !ok {
		return nil, Failed(name, "unknown mark %q", markType)
	}
	from, to := st.Selection.From(), st.Selection.To()
	if from == to {
		var ok bool
		from, to, _, ok = model.MarkExtent(st.Doc, from, markType)
		if !ok {
			return nil, Failed(name, "no %s mark at cursor", markType)
		}
	}
	return transform.NewTransaction().Add(transform.NewRemoveMark(from, to, markType)), nil
}

// ToggleMark removes the mark when the whole selection carries it and adds
// it otherwise.
func ToggleMark(st State, args Args) (*transform.Transaction, error) {
	from, to, err := markRange(st, args, "toggleMark")
	if err != nil {
		return nil, err
	}
	markType := args.String("type")
	if model.RangeHasMark(st.Doc, from, to, markType) {
		return transform.NewTransaction().Add(transform.NewRemoveMark(from, to, markType)), nil
	}
	return SetMark(st, args)
}

func markRange(st State, args Args, name string) (int, int, error) {
	markType := args.String("type")
	if _, ok := st.Schema.MarkType(markType); !ok {
		return 0, 0, Failed(name, "unknown mark %q", markType)
	}
	if st.Selection.Empty() {
		return 0, 0, Failed(name, "empty selection")
	}
	return st.Selection.From(), st.Selection.To(), nil
}

// SetBlockType converts the text block around the cursor to args["type"].
// Marks and inline nodes the target does not accept are stripped.
func SetBlockType(st State, args Args) (*transform.Transaction, error) {
	const name = "setBlockType"
	typeName := args.String("type")
	nt, ok := st.Schema.NodeType(typeName)
	if !ok || !nt.IsTextblockType() {
		return nil, Failed(name, "%q is not a text block type", typeName)
	}
	rp, err := model.Resolve(st.Doc, st.Selection.From())
	if err != nil {
		return nil, Failed(name, "%v", err)
	}
	depth := -1
	for d := rp.Depth; d > 0; d-- {
		if rp.Node(d).IsTextblock() {
			depth = d
			break
		}
	}
	if depth < 0 {
		return nil, Failed(name, "selection is not inside a text block")
	}
	current := rp.Node(depth)
	content := make([]*model.Node, 0, current.ChildCount())
	for i := 0; i < current.ChildCount(); i++ {
		content = append(content, adaptInline(st.Schema, nt, current.Child(i)))
	}
	node, err := st.Schema.Node(typeName, args.Attrs("attrs"), content...)
	if err != nil {
		return nil, Failed(name, "%v", err)
	}
	return transform.NewTransaction().
		Add(&transform.ReplaceStep{From: rp.Before(depth), To: rp.After(depth), Content: []*model.Node{node}}).
		SetSelection(st.Selection), nil
}

// adaptInline keeps sizes stable: a hard break becomes a newline rune.
func adaptInline(s *model.Schema, target *model.NodeType, n *model.Node) *model.Node {
	if !n.IsText() {
		if !target.Accepts(n.Type()) {
			return s.Text("\n")
		}
		return n
	}
	var keep []model.Mark
	for _, m := range n.Marks() {
		if s.AllowsMark(target, m.Type) {
			keep = append(keep, m)
		}
	}
	return n.WithMarks(keep)
}
