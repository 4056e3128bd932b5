package view

import (
	"log"
	"sort"
	"sync"

	"folio/api/internal/command"
	"folio/api/internal/model"
	"folio/api/internal/transform"
)

// Pipeline is the part of *command.Pipeline the runtime dispatches through.
type Pipeline interface {
	Run(name string, args command.Args) bool
	State() command.State
	SetEditable(editable bool)
}

// Source publishes document updates; *transform.Engine implements it.
type Source interface {
	Subscribe(fn func(transform.Update)) func()
	Snapshot() (*model.Node, transform.Selection, uint64)
}

// Options configures a runtime.
type Options struct {
	Factories map[string]Factory
	Clicks    []ClickHandler
	Keys      []KeyHandler
	Host      Host
	Editable  bool
	Debug     bool
}

type entry struct {
	key    string
	node   *model.Node
	pos    int
	widget Widget
}

type snapshot struct {
	doc     *model.Node
	version uint64
}

// Runtime reconciles widgets against document snapshots. Widget methods are
// never called while the runtime lock is held, so widgets may dispatch
// commands from any callback.
type Runtime struct {
	factories map[string]Factory
	clicks    []ClickHandler
	keys      []KeyHandler
	host      Host
	pipeline  Pipeline
	debug     bool

	mu          sync.Mutex
	editable    bool
	entries     map[string]*entry
	seen        bool
	version     uint64
	pending     *snapshot
	reconciling bool
	closed      bool
	unsubscribe func()
}

func NewRuntime(p Pipeline, opts Options) *Runtime {
	host := opts.Host
	if host == nil {
		host = NopHost{}
	}
	return &Runtime{
		factories: opts.Factories,
		clicks:    opts.Clicks,
		keys:      opts.Keys,
		host:      host,
		pipeline:  p,
		debug:     opts.Debug,
		editable:  opts.Editable,
		entries:   map[string]*entry{},
	}
}

// Attach reconciles against the source's current snapshot and every later update.
func (r *Runtime) Attach(src Source) {
	unsubscribe := src.Subscribe(func(u transform.Update) {
		r.Reconcile(u.Doc, u.Version)
	})
	r.mu.Lock()
	r.unsubscribe = unsubscribe
	r.mu.Unlock()
	doc, _, version := src.Snapshot()
	r.Reconcile(doc, version)
}

// Reconcile brings widgets in line with doc. Snapshots older than one
// already seen are ignored. A call made while another reconcile is running
// is folded into that run.
func (r *Runtime) Reconcile(doc *model.Node, version uint64) bool {
	r.mu.Lock()
	if r.closed || (r.seen && version < r.version) || (r.pending != nil && version < r.pending.version) {
		r.mu.Unlock()
		return false
	}
	r.pending = &snapshot{doc: doc, version: version}
	if r.reconciling {
		r.mu.Unlock()
		return true
	}
	r.reconciling = true
	for r.pending != nil && !r.closed {
		snap := r.pending
		r.pending = nil
		r.seen, r.version = true, snap.version
		plan := r.planLocked(snap.doc)
		r.mu.Unlock()
		r.execute(plan)
		r.mu.Lock()
	}
	r.reconciling = false
	r.mu.Unlock()
	return true
}

type update struct {
	widget Widget
	node   *model.Node
	diff   AttrDiff
}

type plan struct {
	destroy []Widget
	update  []update
	create  []*entry
	factory map[*entry]Factory
}

func (r *Runtime) planLocked(doc *model.Node) plan {
	want := map[string]*entry{}
	var order []string
	model.Descendants(doc, func(n *model.Node, pos int, _ *model.Node, _ int) bool {
		if _, ok := r.factories[n.TypeName()]; ok {
			key := Key(n, pos)
			if _, dup := want[key]; dup {
				// a repeated id falls back to its position so every node keeps a widget
				key = PosKey(n, pos)
			}
			want[key] = &entry{key: key, node: n, pos: pos}
			order = append(order, key)
		}
		return true
	})

	p := plan{factory: map[*entry]Factory{}}
	for key, old := range r.entries {
		if _, keep := want[key]; !keep {
			delete(r.entries, key)
			if old.widget != nil {
				p.destroy = append(p.destroy, old.widget)
			}
		}
	}
	for _, key := range order {
		next := want[key]
		if old, ok := r.entries[key]; ok {
			old.pos = next.pos
			if old.node != next.node {
				diff := DiffAttrs(old.node.Attrs(), next.node.Attrs())
				old.node = next.node
				if !diff.Empty() && old.widget != nil {
					p.update = append(p.update, update{widget: old.widget, node: next.node, diff: diff})
				}
			}
			continue
		}
		r.entries[key] = next
		p.create = append(p.create, next)
		p.factory[next] = r.factories[next.node.TypeName()]
	}
	return p
}

func (r *Runtime) execute(p plan) {
	for _, w := range p.destroy {
		w.Destroy()
	}
	for _, u := range p.update {
		u.widget.Update(u.node, u.diff)
	}
	r.mu.Lock()
	editable := r.editable
	r.mu.Unlock()
	for _, e := range p.create {
		w := p.factory[e](r.contextFor(e, editable))
		r.mu.Lock()
		current, live := r.entries[e.key]
		if live && current == e && !r.closed {
			e.widget = w
			w = nil
		}
		r.mu.Unlock()
		if w != nil {
			w.Destroy()
		}
	}
}

func (r *Runtime) contextFor(e *entry, editable bool) Context {
	key := e.key
	return Context{
		Node:     e.node,
		Key:      key,
		Editable: editable,
		GetPos: func() (int, bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			if current, ok := r.entries[key]; ok {
				return current.pos, true
			}
			return 0, false
		},
		Dispatch: r.pipeline.Run,
		Host:     r.host,
	}
}

func (r *Runtime) widgets(except string) []Widget {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Widget, 0, len(keys))
	for _, k := range keys {
		if e := r.entries[k]; k != except && e.widget != nil {
			out = append(out, e.widget)
		}
	}
	return out
}

// SetEditable switches every widget, and the command state, between editing
// and read-only mode.
func (r *Runtime) SetEditable(editable bool) {
	r.mu.Lock()
	r.editable = editable
	r.mu.Unlock()
	r.pipeline.SetEditable(editable)
	for _, w := range r.widgets("") {
		if aware, ok := w.(EditableAware); ok {
			aware.SetEditable(editable)
		}
	}
}

func (r *Runtime) Editable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.editable
}

// Dispatch delivers an intent to the widget with key.
func (r *Runtime) Dispatch(key string, intent Intent) bool {
	r.mu.Lock()
	e, ok := r.entries[key]
	var w Widget
	if ok {
		w = e.widget
	}
	r.mu.Unlock()
	if w == nil {
		return false
	}
	return w.HandleIntent(intent)
}

// Broadcast delivers an intent to every widget except the one with key except.
func (r *Runtime) Broadcast(intent Intent, except string) bool {
	handled := false
	for _, w := range r.widgets(except) {
		if w.HandleIntent(intent) {
			handled = true
		}
	}
	return handled
}

func (r *Runtime) eventContext() EventContext {
	ctx := EventContext{
		State:    r.pipeline.State(),
		Host:     r.host,
		Dispatch: r.pipeline.Run,
	}
	if r.debug {
		ctx.Debugf = log.Printf
	}
	return ctx
}

// HandleKey runs key handlers first; Escape is then broadcast to every widget.
func (r *Runtime) HandleKey(key string) bool {
	ctx := r.eventContext()
	handled := false
	for _, h := range r.keys {
		if h.HandleKey(ctx, key) {
			handled = true
			break
		}
	}
	if key == "Escape" && r.Broadcast(Intent{Kind: IntentEscape}, "") {
		handled = true
	}
	return handled
}

// HandleClick tells every widget not under the click that focus moved
// elsewhere, then offers the click to the handlers and finally to the
// widget under it. It reports whether default handling (navigation) should
// be suppressed.
func (r *Runtime) HandleClick(ev ClickEvent) bool {
	target := r.keyAt(ev.Pos)
	r.Broadcast(Intent{Kind: IntentOutsideClick}, target)

	ctx := r.eventContext()
	for _, h := range r.clicks {
		if h.HandleClick(ctx, ev) {
			return true
		}
	}
	if target == "" {
		return false
	}
	return r.Dispatch(target, Intent{Kind: IntentClick, Args: map[string]any{"pos": ev.Pos}})
}

// keyAt returns the innermost widget whose node covers pos.
func (r *Runtime) keyAt(pos int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	best, bestSize := "", -1
	for key, e := range r.entries {
		size := e.node.NodeSize()
		if pos >= e.pos && pos < e.pos+size && (bestSize < 0 || size < bestSize) {
			best, bestSize = key, size
		}
	}
	return best
}

// Keys lists live widget keys in sorted order.
func (r *Runtime) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for k, e := range r.entries {
		if e.widget != nil {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Render returns the widget's current markup.
func (r *Runtime) Render(key string) (string, bool) {
	r.mu.Lock()
	e, ok := r.entries[key]
	r.mu.Unlock()
	if !ok || e.widget == nil {
		return "", false
	}
	return e.widget.Render(), true
}

// Widget returns the live widget for key.
func (r *Runtime) Widget(key string) (Widget, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok || e.widget == nil {
		return nil, false
	}
	return e.widget, true
}

// Close detaches from the source and destroys every widget.
func (r *Runtime) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	unsubscribe := r.unsubscribe
	var all []Widget
	for _, e := range r.entries {
		if e.widget != nil {
			all = append(all, e.widget)
		}
	}
	r.entries = map[string]*entry{}
	r.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	for _, w := range all {
		w.Destroy()
	}
}
