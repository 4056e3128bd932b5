package transform

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"folio/api/internal/model"
)

// EngineState is Idle between transactions and Applying while one is in flight.
type EngineState int32

const (
	Idle EngineState = iota
	Applying
)

func (s EngineState) String() string {
	if s == Applying {
		return "applying"
	}
	return "idle"
}

// Origin names what produced an update.
type Origin string

const (
	OriginApply Origin = "apply"
	OriginUndo  Origin = "undo"
	OriginRedo  Origin = "redo"
	OriginLoad  Origin = "load"
)

// Update is delivered to subscribers after every completed transaction.
type Update struct {
	Doc       *model.Node
	Before    *model.Node
	Selection Selection
	Version   uint64
	Steps     []Step
	Origin    Origin
}

// Observer receives transaction outcomes; used for metrics.
type Observer interface {
	TransactionApplied(steps int, elapsed time.Duration)
	TransactionRejected(err error)
}

type nopObserver struct{}

func (nopObserver) TransactionApplied(int, time.Duration) {}
func (nopObserver) TransactionRejected(error)             {}

// EngineOptions configures an engine.
type EngineOptions struct {
	HistoryDepth int
	Observer     Observer
}

// Engine owns the current snapshot of one document. Transactions are
// serialized: a second Apply waits until the first has completed.
type Engine struct {
	schema   *model.Schema
	observer Observer

	mu      sync.Mutex
	state   atomic.Int32
	doc     *model.Node
	sel     Selection
	version uint64
	history *History
	index   *model.IDIndex

	listenersMu sync.Mutex
	listeners   map[int]func(Update)
	nextID      int
}

// NewEngine validates doc against the schema and takes ownership of it.
func NewEngine(s *model.Schema, doc *model.Node, opts EngineOptions) (*Engine, error) {
	if err := s.Check(doc); err != nil {
		return nil, err
	}
	obs := opts.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	return &Engine{
		schema:    s,
		observer:  obs,
		doc:       doc,
		history:   NewHistory(opts.HistoryDepth),
		listeners: map[int]func(Update){},
	}, nil
}

func (e *Engine) Schema() *model.Schema { return e.schema }

func (e *Engine) State() EngineState { return EngineState(e.state.Load()) }

func (e *Engine) Doc() *model.Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc
}

func (e *Engine) Selection() Selection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sel
}

func (e *Engine) Version() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version
}

// Snapshot returns document, selection and version read together.
func (e *Engine) Snapshot() (*model.Node, Selection, uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc, e.sel, e.version
}

// IDIndex returns the id index of the current snapshot, built on first use.
func (e *Engine) IDIndex() *model.IDIndex {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.index == nil {
		e.index = model.BuildIDIndex(e.doc)
	}
	return e.index
}

// Subscribe registers fn for updates. Listeners run after the engine is
// back to Idle, so they may apply further transactions.
func (e *Engine) Subscribe(fn func(Update)) func() {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	return func() {
		e.listenersMu.Lock()
		defer e.listenersMu.Unlock()
		delete(e.listeners, id)
	}
}

// Apply runs tr against the current snapshot. Any failing step rejects the
// whole transaction and leaves the snapshot untouched.
func (e *Engine) Apply(tr *Transaction) (*model.Node, error) {
	e.mu.Lock()
	return e.applyLocked(tr)
}

// TryApply is Apply for callers that must not wait: it fails with
// ErrConcurrentApply when another transaction is in flight.
func (e *Engine) TryApply(tr *Transaction) (*model.Node, error) {
	if !e.mu.TryLock() {
		e.observer.TransactionRejected(ErrConcurrentApply)
		return nil, ErrConcurrentApply
	}
	return e.applyLocked(tr)
}

func (e *Engine) applyLocked(tr *Transaction) (*model.Node, error) {
	started := time.Now()
	e.state.Store(int32(Applying))
	update, err := e.run(tr)
	e.state.Store(int32(Idle))
	e.mu.Unlock()

	if err != nil {
		e.observer.TransactionRejected(err)
		return nil, err
	}
	e.observer.TransactionApplied(len(tr.Steps), time.Since(started))
	e.notify(update)
	return update.Doc, nil
}

// run applies tr while holding mu.
func (e *Engine) run(tr *Transaction) (Update, error) {
	if tr.base != nil && *tr.base != e.version {
		return Update{}, fmt.Errorf("%w: built at %d, current %d", ErrStaleTransaction, *tr.base, e.version)
	}
	before, selBefore := e.doc, e.sel
	doc, mapping, inverse, err := e.applySteps(before, tr.Steps)
	if err != nil {
		return Update{}, err
	}
	sel := selBefore.Map(mapping).Clamp(doc)
	if explicit, ok := tr.Selection(); ok {
		if !explicit.Valid(doc) {
			return Update{}, fmt.Errorf("selection %d..%d: %w", explicit.Anchor, explicit.Head, model.ErrPositionOutOfRange)
		}
		sel = explicit
	}
	if tr.DocChanged() && tr.AddToHistory() {
		e.history.Push(HistoryEntry{Steps: tr.Steps, Inverse: inverse, SelectionBefore: selBefore, SelectionAfter: sel})
	}
	return e.commit(before, doc, sel, tr.Steps, OriginApply), nil
}

func (e *Engine) applySteps(doc *model.Node, steps []Step) (*model.Node, *Mapping, []Step, error) {
	mapping := &Mapping{}
	inverse := make([]Step, len(steps))
	for i, step := range steps {
		inv, err := step.Invert(doc)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("step %d (%s): %w", i, step.Name(), err)
		}
		next, err := step.Apply(doc, e.schema)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("step %d (%s): %w", i, step.Name(), err)
		}
		inverse[len(steps)-1-i] = inv
		mapping.Append(step.Map())
		doc = next
	}
	return doc, mapping, inverse, nil
}

func (e *Engine) commit(before, doc *model.Node, sel Selection, steps []Step, origin Origin) Update {
	if doc != before {
		e.index = nil
	}
	e.doc = doc
	e.sel = sel
	e.version++
	return Update{Doc: doc, Before: before, Selection: sel, Version: e.version, Steps: steps, Origin: origin}
}

// Undo reverts the most recent undoable transaction. It reports false when
// the history is empty.
func (e *Engine) Undo() (bool, error) {
	return e.travel(OriginUndo)
}

// Redo re-applies the most recently undone transaction.
func (e *Engine) Redo() (bool, error) {
	return e.travel(OriginRedo)
}

func (e *Engine) travel(origin Origin) (bool, error) {
	e.mu.Lock()
	e.state.Store(int32(Applying))
	update, ok, err := e.travelLocked(origin)
	e.state.Store(int32(Idle))
	e.mu.Unlock()
	if err != nil {
		e.observer.TransactionRejected(err)
		return false, err
	}
	if ok {
		e.notify(update)
	}
	return ok, nil
}

func (e *Engine) travelLocked(origin Origin) (Update, bool, error) {
	var (
		entry HistoryEntry
		ok    bool
	)
	if origin == OriginUndo {
		entry, ok = e.history.popUndo()
	} else {
		entry, ok = e.history.popRedo()
	}
	if !ok {
		return Update{}, false, nil
	}
	steps, sel := entry.Inverse, entry.SelectionBefore
	if origin == OriginRedo {
		steps, sel = entry.Steps, entry.SelectionAfter
	}
	before := e.doc
	doc, _, _, err := e.applySteps(before, steps)
	if err != nil {
		// the entry no longer applies; it is dropped
		return Update{}, false, fmt.Errorf("%s: %w", origin, err)
	}
	if origin == OriginUndo {
		e.history.pushUndone(entry)
	} else {
		e.history.pushDone(entry)
	}
	return e.commit(before, doc, sel.Clamp(doc), steps, origin), true, nil
}

// Load replaces the document and clears history.
func (e *Engine) Load(doc *model.Node) error {
	if err := e.schema.Check(doc); err != nil {
		return err
	}
	e.mu.Lock()
	before := e.doc
	e.history.Clear()
	update := e.commit(before, doc, Cursor(0), nil, OriginLoad)
	e.mu.Unlock()
	e.notify(update)
	return nil
}

// CanUndo and CanRedo report the stack depths.
func (e *Engine) CanUndo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.UndoDepth() > 0
}

func (e *Engine) CanRedo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.RedoDepth() > 0
}

func (e *Engine) notify(u Update) {
	e.listenersMu.Lock()
	fns := make([]func(Update), 0, len(e.listeners))
	for id := 0; id < e.nextID; id++ {
		if fn, ok := e.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	e.listenersMu.Unlock()
	for _, fn := range fns {
		fn(u)
	}
}
