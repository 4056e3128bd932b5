// Package linkpreview provides the link preview card: an atomic block whose
// title, description and image are filled in by unfurling its href.
package linkpreview

import (
	"golang.org/x/net/html"

	"folio/api/internal/command"
	"folio/api/internal/extension"
	"folio/api/internal/model"
	"folio/api/internal/transform"
	"folio/api/internal/util"
	"folio/api/internal/view"
)

const Name = "linkPreview"

// Phase is the unfurl state of one card.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhasePending  Phase = "pending"
	PhaseResolved Phase = "resolved"
	PhaseFailed   Phase = "failed"
)

// StatusSource reports the unfurl phase of a card by id.
type StatusSource interface {
	Status(id string) Phase
}

type Options struct {
	Status StatusSource
	// OnTeardown is called with the card id when its widget is destroyed.
	OnTeardown func(id string)
	// OnMount is called when a widget is created for a card that has no
	// metadata yet.
	OnMount func(id, href string)
}

// metadata attributes, in render order
var metaAttrs = []string{"title", "description", "image"}

type LinkPreview struct {
	extension.NodeBase
	opts Options
}

func New(opts Options) *LinkPreview {
	return &LinkPreview{
		NodeBase: extension.NodeBase{Spec: model.NodeSpec{
			Name:  Name,
			Group: "block",
			Atom:  true,
			Attrs: map[string]model.AttrSpec{
				"id":          {Required: true},
				"href":        {Required: true},
				"title":       {Default: nil},
				"description": {Default: nil},
				"image":       {Default: nil},
			},
		}},
		opts: opts,
	}
}

func (p *LinkPreview) ParseRules() []extension.ParseRule {
	return []extension.ParseRule{{
		Tag:      "div",
		Priority: 50,
		Match: func(el *html.Node) bool {
			v, _ := extension.AttrValue(el, "data-type")
			href, _ := extension.AttrValue(el, "data-href")
			return v == "link-preview" && extension.SafeURL(href)
		},
		GetAttrs: func(el *html.Node) model.Attrs {
			attrs := model.Attrs{}
			for _, key := range append([]string{"id", "href"}, metaAttrs...) {
				attrs[key] = extension.NullableString(extension.AttrValue(el, "data-"+key))
			}
			if img, ok := attrs["image"].(string); ok && !extension.SafeURL(img) {
				attrs["image"] = nil
			}
			return attrs
		},
	}}
}

// RenderHTML renders a static card. Every attribute is carried as a data-*
// attribute so the card parses back unchanged. URLs that are not web or mail
// URLs are left out.
func (p *LinkPreview) RenderHTML(attrs model.Attrs) *extension.DOMSpec {
	href := attrs.String("href")
	outer := []extension.Attr{{Key: "data-type", Value: "link-preview"}, {Key: "class", Value: "link-preview"}}
	outer = append(outer, extension.StringAttr(attrs, "id", "data-id")...)
	outer = append(outer, extension.URLAttr(attrs, "href", "data-href")...)
	outer = append(outer, extension.StringAttr(attrs, "title", "data-title")...)
	outer = append(outer, extension.StringAttr(attrs, "description", "data-description")...)
	outer = append(outer, extension.URLAttr(attrs, "image", "data-image")...)

	var body []*extension.DOMSpec
	if img := attrs.String("image"); extension.SafeURL(img) {
		body = append(body, extension.El("img", []extension.Attr{
			{Key: "class", Value: "link-preview-image"}, {Key: "src", Value: img}, {Key: "alt", Value: ""},
		}))
	}
	title := attrs.String("title")
	if title == "" {
		title = href
	}
	text := []*extension.DOMSpec{extension.El("span", []extension.Attr{{Key: "class", Value: "link-preview-title"}}, extension.TextSpec(title))}
	if desc := attrs.String("description"); desc != "" {
		text = append(text, extension.El("span", []extension.Attr{{Key: "class", Value: "link-preview-description"}}, extension.TextSpec(desc)))
	}
	text = append(text, extension.El("span", []extension.Attr{{Key: "class", Value: "link-preview-url"}}, extension.TextSpec(href)))
	body = append(body, extension.El("span", []extension.Attr{{Key: "class", Value: "link-preview-body"}}, text...))

	if !extension.SafeURL(href) {
		return extension.El("div", outer, body...)
	}
	anchor := extension.El("a", []extension.Attr{
		{Key: "href", Value: href}, {Key: "target", Value: "_blank"}, {Key: "rel", Value: "noopener noreferrer nofollow"},
	}, body...)
	return extension.El("div", outer, anchor)
}

func (p *LinkPreview) Commands() map[string]command.Command {
	return map[string]command.Command{"insertLinkPreview": Insert}
}

// Insert adds a card for args["href"] at the selection. Callers that need
// a deterministic transaction pass args["id"]; otherwise one is generated.
func Insert(st command.State, args command.Args) (*transform.Transaction, error) {
	href := args.String("href")
	if href == "" {
		return nil, command.Failed("insertLinkPreview", "missing href")
	}
	if !extension.SafeURL(href) {
		return nil, command.Failed("insertLinkPreview", "unsupported URL %q", href)
	}
	id := args.String("id")
	if id == "" {
		id = util.NewID("lp")
	}
	return command.InsertAtomicNode(st, command.Args{
		"type":  Name,
		"attrs": map[string]any{"id": id, "href": href},
	})
}

func (p *LinkPreview) NodeView() view.Factory {
	return func(ctx view.Context) view.Widget {
		return newWidget(ctx, p.opts)
	}
}
