package transform

// MetaAddToHistory set to false keeps a transaction out of the undo stack.
const MetaAddToHistory = "addToHistory"

// Transaction is an all-or-nothing sequence of steps plus an optional
// explicit selection, expressed against the engine's current document.
type Transaction struct {
	Steps     []Step
	selection *Selection
	meta      map[string]any
	base      *uint64
}

func NewTransaction() *Transaction {
	return &Transaction{}
}

// Add appends steps. They are applied left to right, each against the
// result of the previous one.
func (tr *Transaction) Add(steps ...Step) *Transaction {
	tr.Steps = append(tr.Steps, steps...)
	return tr
}

// SetSelection makes the transaction end with sel instead of the mapped
// prior selection.
func (tr *Transaction) SetSelection(sel Selection) *Transaction {
	tr.selection = &sel
	return tr
}

// Selection returns the explicit selection, if any.
func (tr *Transaction) Selection() (Selection, bool) {
	if tr.selection == nil {
		return Selection{}, false
	}
	return *tr.selection, true
}

// Expect pins the transaction to the snapshot version it was built from.
// The engine rejects it with ErrStaleTransaction if the document moved on.
func (tr *Transaction) Expect(version uint64) *Transaction {
	tr.base = &version
	return tr
}

func (tr *Transaction) SetMeta(key string, value any) *Transaction {
	if tr.meta == nil {
		tr.meta = map[string]any{}
	}
	tr.meta[key] = value
	return tr
}

func (tr *Transaction) Meta(key string) any { return tr.meta[key] }

// AddToHistory reports whether the transaction should be undoable.
func (tr *Transaction) AddToHistory() bool {
	v, ok := tr.meta[MetaAddToHistory].(bool)
	return !ok || v
}

// DocChanged reports whether the transaction carries any step.
func (tr *Transaction) DocChanged() bool { return len(tr.Steps) > 0 }
