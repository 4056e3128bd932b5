// Package link provides the link mark and its click interception.
package link

import (
	"golang.org/x/net/html"

	"folio/api/internal/command"
	"folio/api/internal/extension"
	"folio/api/internal/model"
	"folio/api/internal/transform"
	"folio/api/internal/view"
)

const (
	Name          = "link"
	DefaultTarget = "_blank"
	DefaultRel    = "noopener noreferrer nofollow"
)

type Options struct {
	// OpenOnClick lets clicks navigate even while the document is editable.
	OpenOnClick bool
}

// Link is the link mark. It intercepts clicks and the Escape key.
type Link struct {
	extension.MarkBase
	opts Options
}

func New(opts Options) *Link {
	exclusive := false
	return &Link{
		MarkBase: extension.MarkBase{Spec: model.MarkSpec{
			Name:      Name,
			Inclusive: &exclusive,
			Attrs: map[string]model.AttrSpec{
				"href":   {Required: true},
				"target": {Default: DefaultTarget},
				"rel":    {Default: DefaultRel},
			},
		}},
		opts: opts,
	}
}

func (l *Link) Options() Options { return l.opts }

func (l *Link) ParseRules() []extension.ParseRule {
	return []extension.ParseRule{{
		Tag: "a",
		Match: func(el *html.Node) bool {
			href, _ := extension.AttrValue(el, "href")
			return extension.SafeURL(href)
		},
		GetAttrs: func(el *html.Node) model.Attrs {
			attrs := model.Attrs{}
			for _, key := range []string{"href", "target", "rel"} {
				if v, ok := extension.AttrValue(el, key); ok {
					attrs[key] = v
				}
			}
			return attrs
		},
	}}
}

// RenderHTML drops the anchor around links whose href is not a web or mail
// URL; their text is kept.
func (l *Link) RenderHTML(attrs model.Attrs) *extension.DOMSpec {
	href := extension.URLAttr(attrs, "href", "href")
	if href == nil {
		return nil
	}
	out := href
	out = append(out, extension.StringAttr(attrs, "target", "target")...)
	out = append(out, extension.StringAttr(attrs, "rel", "rel")...)
	return extension.Wrap("a", out...)
}

func (l *Link) Commands() map[string]command.Command {
	return map[string]command.Command{
		"setLink":   SetLink,
		"unsetLink": UnsetLink,
	}
}

// SetLink applies a link with args["href"] (and optional target/rel) to the
// selection. With an empty selection inside a link the whole link run is
// updated.
func SetLink(st command.State, args command.Args) (*transform.Transaction, error) {
	href := args.String("href")
	if href == "" {
		return nil, command.Failed("setLink", "missing href")
	}
	if !extension.SafeURL(href) {
		return nil, command.Failed("setLink", "unsupported URL %q", href)
	}
	attrs := map[string]any{"href": href}
	for _, key := range []string{"target", "rel"} {
		if v := args.String(key); v != "" {
			attrs[key] = v
		}
	}
	if st.Selection.Empty() {
		from, to, _, ok := model.MarkExtent(st.Doc, st.Selection.Head, Name)
		if !ok {
			return nil, command.Failed("setLink", "empty selection")
		}
		st.Selection = transform.Selection{Anchor: from, Head: to}
	}
	return command.SetMark(st, command.Args{"type": Name, "attrs": attrs})
}

// UnsetLink removes links from the selection, or the link run at the cursor.
func UnsetLink(st command.State, _ command.Args) (*transform.Transaction, error) {
	return command.UnsetMark(st, command.Args{"type": Name})
}

// HandleClick selects the link run under the click while the document is
// editable, so the link text can be edited instead of followed.
func (l *Link) HandleClick(ctx view.EventContext, ev view.ClickEvent) bool {
	if !ctx.State.Editable || l.opts.OpenOnClick || ctx.State.Doc == nil {
		return false
	}
	from, to, _, ok := model.MarkExtent(ctx.State.Doc, ev.Pos, Name)
	if !ok {
		if ctx.Debugf != nil {
			ctx.Debugf("link: no link run at %d (doc size %d)", ev.Pos, ctx.State.Doc.ContentSize())
		}
		return false
	}
	if !ctx.Dispatch("setSelection", command.Args{"anchor": from, "head": to}) {
		if ctx.Debugf != nil {
			ctx.Debugf("link: selecting %d..%d failed", from, to)
		}
		return false
	}
	return true
}

// HandleKey refocuses at the end of a non-empty selection on Escape without
// scrolling.
func (l *Link) HandleKey(ctx view.EventContext, key string) bool {
	if key != "Escape" || ctx.State.Selection.Empty() {
		return false
	}
	ctx.Host.Focus(ctx.State.Selection.To(), false)
	return true
}

// HrefAt returns the href of the link at pos, for hosts that navigate when a
// click is not intercepted.
func HrefAt(doc *model.Node, pos int) (string, bool) {
	_, _, m, ok := model.MarkExtent(doc, pos, Name)
	if !ok {
		return "", false
	}
	href := m.Attrs.String("href")
	return href, href != ""
}
