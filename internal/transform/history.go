package transform

// DefaultHistoryDepth bounds the undo stack when no depth is configured.
const DefaultHistoryDepth = 100

// HistoryEntry is one undoable transaction.
type HistoryEntry struct {
	Steps           []Step
	Inverse         []Step // already in application order
	SelectionBefore Selection
	SelectionAfter  Selection
}

// History is a bounded undo/redo stack.
type History struct {
	depth  int
	done   []HistoryEntry
	undone []HistoryEntry
}

func NewHistory(depth int) *History {
	if depth <= 0 {
		depth = DefaultHistoryDepth
	}
	return &History{depth: depth}
}

// Push records a new transaction and clears the redo stack.
func (h *History) Push(e HistoryEntry) {
	h.done = append(h.done, e)
	if len(h.done) > h.depth {
		h.done = h.done[len(h.done)-h.depth:]
	}
	h.undone = nil
}

func (h *History) popUndo() (HistoryEntry, bool) {
	if len(h.done) == 0 {
		return HistoryEntry{}, false
	}
	e := h.done[len(h.done)-1]
	h.done = h.done[:len(h.done)-1]
	return e, true
}

func (h *History) popRedo() (HistoryEntry, bool) {
	if len(h.undone) == 0 {
		return HistoryEntry{}, false
	}
	e := h.undone[len(h.undone)-1]
	h.undone = h.undone[:len(h.undone)-1]
	return e, true
}

func (h *History) pushUndone(e HistoryEntry) { h.undone = append(h.undone, e) }

// pushDone re-records a redone entry without clearing redo.
func (h *History) pushDone(e HistoryEntry) { h.done = append(h.done, e) }

// Clear drops both stacks.
func (h *History) Clear() {
	h.done = nil
	h.undone = nil
}

func (h *History) UndoDepth() int { return len(h.done) }
func (h *History) RedoDepth() int { return len(h.undone) }
