package codeblock

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"

	"folio/api/internal/command"
	"folio/api/internal/model"
	"folio/api/internal/view"
)

// Widget intents specific to code blocks.
const (
	IntentToggleMenu     = "toggleMenu"
	IntentSelectLanguage = "selectLanguage"
	IntentCopy           = "copy"
)

// State is the widget's local state. It is never written to the document.
type State struct {
	MenuOpen   bool
	JustCopied bool
	Language   string
}

// Widget is the live view of one code block.
type Widget struct {
	ctx  view.Context
	opts Options

	mu         sync.Mutex
	node       *model.Node
	editable   bool
	menuOpen   bool
	justCopied bool
	timer      *time.Timer
	destroyed  bool
}

func newWidget(ctx view.Context, opts Options) *Widget {
	return &Widget{ctx: ctx, opts: opts, node: ctx.Node, editable: ctx.Editable}
}

func (w *Widget) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return State{MenuOpen: w.menuOpen, JustCopied: w.justCopied, Language: w.node.Attrs().String("language")}
}

func (w *Widget) Render() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	lang := w.node.Attrs().String("language")
	label := "Plain text"
	for _, l := range w.opts.Languages {
		if l.Value == lang {
			label = l.Label
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, `<div class="code-block" data-language="%s" data-menu-open="%t" data-copied="%t">`,
		html.EscapeString(lang), w.menuOpen, w.justCopied)
	fmt.Fprintf(&b, `<div class="code-block-toolbar"><button class="code-block-language">%s</button>`, html.EscapeString(label))
	if w.menuOpen {
		b.WriteString(`<ul class="code-block-menu">`)
		for _, l := range w.opts.Languages {
			fmt.Fprintf(&b, `<li data-value="%s">%s</li>`, html.EscapeString(l.Value), html.EscapeString(l.Label))
		}
		b.WriteString(`</ul>`)
	}
	copyLabel := "Copy"
	if w.justCopied {
		copyLabel = "Copied"
	}
	fmt.Fprintf(&b, `<button class="code-block-copy">%s</button></div>`, copyLabel)
	codeClass := ""
	if lang != "" {
		codeClass = fmt.Sprintf(` class="%s%s"`, classPrefix, html.EscapeString(lang))
	}
	fmt.Fprintf(&b, `<pre><code%s>%s</code></pre></div>`, codeClass, html.EscapeString(w.node.TextContent()))
	return b.String()
}

func (w *Widget) HandleIntent(in view.Intent) bool {
	switch in.Kind {
	case view.IntentEscape, view.IntentOutsideClick:
		return w.closeMenu()
	case IntentToggleMenu:
		w.mu.Lock()
		defer w.mu.Unlock()
		if !w.editable || w.destroyed {
			return false
		}
		w.menuOpen = !w.menuOpen
		return true
	case IntentSelectLanguage:
		return w.selectLanguage(in.Args)
	case IntentCopy:
		return w.copy()
	}
	return false
}

func (w *Widget) closeMenu() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	was := w.menuOpen
	w.menuOpen = false
	return was
}

func (w *Widget) selectLanguage(args map[string]any) bool {
	w.mu.Lock()
	editable := w.editable && !w.destroyed
	w.menuOpen = false
	w.mu.Unlock()
	if !editable {
		return false
	}
	pos, ok := w.ctx.GetPos()
	if !ok {
		return false
	}
	lang, _ := args["language"].(string)
	return w.ctx.Dispatch("setCodeBlockLanguage", command.Args{"pos": pos, "language": lang})
}

func (w *Widget) copy() bool {
	w.mu.Lock()
	if w.destroyed || w.opts.Clipboard == nil {
		w.mu.Unlock()
		return false
	}
	text := w.node.TextContent()
	w.mu.Unlock()

	if err := w.opts.Clipboard.WriteText(text); err != nil {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.destroyed {
		return true
	}
	w.justCopied = true
	if w.timer != nil {
		w.timer.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(w.opts.CopiedFor, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.timer == timer {
			w.justCopied = false
			w.timer = nil
		}
	})
	w.timer = timer
	return true
}

func (w *Widget) Update(node *model.Node, _ view.AttrDiff) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.node = node
}

// SetEditable resets the local state when the document turns read-only.
func (w *Widget) SetEditable(editable bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.editable = editable
	if !editable {
		w.menuOpen = false
		w.justCopied = false
		w.stopTimer()
	}
}

func (w *Widget) Destroy() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.destroyed = true
	w.menuOpen = false
	w.stopTimer()
}

func (w *Widget) stopTimer() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
