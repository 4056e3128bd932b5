package linkpreview

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"folio/api/internal/command"
	"folio/api/internal/extension"
	"folio/api/internal/model"
	"folio/api/internal/view"
)

// IntentRemove deletes the card from the document.
const IntentRemove = "remove"

// Widget renders a card from its node attributes. It never fetches; the
// phase comes from the StatusSource. A card mounted without metadata is
// reported through Options.OnMount so an interrupted fetch can restart.
type Widget struct {
	ctx  view.Context
	opts Options

	mu        sync.Mutex
	node      *model.Node
	editable  bool
	destroyed bool
}

func newWidget(ctx view.Context, opts Options) *Widget {
	w := &Widget{ctx: ctx, opts: opts, node: ctx.Node, editable: ctx.Editable}
	if opts.OnMount != nil && ctx.Node.ID() != "" && !hasMetadata(ctx.Node.Attrs()) {
		opts.OnMount(ctx.Node.ID(), ctx.Node.Attrs().String("href"))
	}
	return w
}

func hasMetadata(attrs model.Attrs) bool {
	for _, key := range metaAttrs {
		if attrs.String(key) != "" {
			return true
		}
	}
	return false
}

func (w *Widget) Phase() Phase {
	w.mu.Lock()
	id := w.node.ID()
	w.mu.Unlock()
	if w.opts.Status == nil || id == "" {
		return PhaseIdle
	}
	return w.opts.Status.Status(id)
}

func (w *Widget) Render() string {
	phase := w.Phase()
	w.mu.Lock()
	attrs := w.node.Attrs()
	w.mu.Unlock()

	href := attrs.String("href")
	title := attrs.String("title")
	if title == "" {
		title = href
	}
	var b strings.Builder
	fmt.Fprintf(&b, `<div class="link-preview link-preview-%s" data-id="%s">`, phase, html.EscapeString(attrs.String("id")))
	if extension.SafeURL(href) {
		fmt.Fprintf(&b, `<a href="%s" target="_blank" rel="noopener noreferrer nofollow">`, html.EscapeString(href))
	} else {
		b.WriteString(`<a>`)
	}
	if img := attrs.String("image"); extension.SafeURL(img) {
		fmt.Fprintf(&b, `<img class="link-preview-image" src="%s" alt="">`, html.EscapeString(img))
	}
	fmt.Fprintf(&b, `<span class="link-preview-title">%s</span>`, html.EscapeString(title))
	if desc := attrs.String("description"); desc != "" {
		fmt.Fprintf(&b, `<span class="link-preview-description">%s</span>`, html.EscapeString(desc))
	}
	if phase == PhasePending {
		b.WriteString(`<span class="link-preview-loading">Loading preview…</span>`)
	}
	b.WriteString(`</a></div>`)
	return b.String()
}

func (w *Widget) HandleIntent(in view.Intent) bool {
	w.mu.Lock()
	node, editable, destroyed := w.node, w.editable, w.destroyed
	w.mu.Unlock()
	if destroyed {
		return false
	}
	switch in.Kind {
	case view.IntentClick:
		if editable {
			return false
		}
		href := node.Attrs().String("href")
		if !extension.SafeURL(href) {
			return false
		}
		w.ctx.Host.Navigate(href)
		return true
	case IntentRemove:
		if !editable || node.ID() == "" {
			return false
		}
		return w.ctx.Dispatch("deleteAtomicNodeById", command.Args{"id": node.ID()})
	}
	return false
}

func (w *Widget) Update(node *model.Node, _ view.AttrDiff) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.node = node
}

func (w *Widget) SetEditable(editable bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.editable = editable
}

// Destroy reports teardown once so any in-flight unfurl for the card can be
// cancelled.
func (w *Widget) Destroy() {
	w.mu.Lock()
	if w.destroyed {
		w.mu.Unlock()
		return
	}
	w.destroyed = true
	id := w.node.ID()
	w.mu.Unlock()
	if w.opts.OnTeardown != nil && id != "" {
		w.opts.OnTeardown(id)
	}
}
