// Package editor wires one document's engine, command pipeline, widget
// runtime and link preview coordinator together.
package editor

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"folio/api/internal/command"
	"folio/api/internal/extension"
	"folio/api/internal/extensions"
	"folio/api/internal/extensions/codeblock"
	"folio/api/internal/extensions/link"
	"folio/api/internal/extensions/linkpreview"
	"folio/api/internal/model"
	"folio/api/internal/preview"
	"folio/api/internal/render"
	"folio/api/internal/transform"
	"folio/api/internal/unfurl"
	"folio/api/internal/view"
)

var ErrPreviewsDisabled = errors.New("link previews are not configured")

type Options struct {
	Editable     bool
	HistoryDepth int
	Host         view.Host
	Observer     transform.Observer
	Debug        bool

	LinkOpenOnClick bool
	Languages       []codeblock.Language
	Clipboard       codeblock.Clipboard

	// Unfurler enables link previews. Nil disables insertion.
	Unfurler       unfurl.Unfurler
	UnfurlTimeout  time.Duration
	OnUnfurlSettle func(id string, phase linkpreview.Phase, elapsed time.Duration)
}

type Editor struct {
	reg      *extension.Registry
	engine   *transform.Engine
	pipeline *command.Pipeline
	runtime  *view.Runtime
	previews *preview.Coordinator
	host     view.Host
}

// New builds an editor for doc, a JSON document tree. Empty doc starts with
// a single empty paragraph.
func New(doc json.RawMessage, opts Options) (*Editor, error) {
	host := opts.Host
	if host == nil {
		host = view.NopHost{}
	}
	var previews *preview.Coordinator
	lp := linkpreview.Options{}
	if opts.Unfurler != nil {
		previews = preview.New(opts.Unfurler, preview.Options{Timeout: opts.UnfurlTimeout, OnSettle: opts.OnUnfurlSettle})
		lp = linkpreview.Options{Status: previews, OnTeardown: previews.Cancel, OnMount: previews.Ensure}
	}
	reg, err := extensions.Default(extensions.Options{
		Link:        link.Options{OpenOnClick: opts.LinkOpenOnClick},
		CodeBlock:   codeblock.Options{Languages: opts.Languages, Clipboard: opts.Clipboard},
		LinkPreview: lp,
	})
	if err != nil {
		return nil, err
	}

	node, err := Decode(doc, reg.Schema())
	if err != nil {
		return nil, err
	}
	engine, err := transform.NewEngine(reg.Schema(), node, transform.EngineOptions{
		HistoryDepth: opts.HistoryDepth,
		Observer:     opts.Observer,
	})
	if err != nil {
		return nil, err
	}
	pipeline := command.NewPipeline(engine, reg.Commands())
	pipeline.SetEditable(opts.Editable)
	if previews != nil {
		previews.Bind(pipeline)
	}
	runtime := view.NewRuntime(pipeline, view.Options{
		Factories: reg.Views(),
		Clicks:    reg.ClickHandlers(),
		Keys:      reg.KeyHandlers(),
		Host:      host,
		Editable:  opts.Editable,
		Debug:     opts.Debug,
	})
	runtime.Attach(engine)

	return &Editor{
		reg:      reg,
		engine:   engine,
		pipeline: pipeline,
		runtime:  runtime,
		previews: previews,
		host:     host,
	}, nil
}

// Decode parses a JSON document against s. Empty input yields an empty
// paragraph.
func Decode(doc json.RawMessage, s *model.Schema) (*model.Node, error) {
	if len(doc) == 0 || string(doc) == "null" {
		para, err := s.Node("paragraph", nil)
		if err != nil {
			return nil, err
		}
		return s.Doc(para)
	}
	node, err := model.DecodeJSON(doc, s)
	if err != nil {
		return nil, err
	}
	if err := s.Check(node); err != nil {
		return nil, err
	}
	return node, nil
}

func (e *Editor) Registry() *extension.Registry { return e.reg }
func (e *Editor) Engine() *transform.Engine     { return e.engine }
func (e *Editor) Pipeline() *command.Pipeline   { return e.pipeline }
func (e *Editor) Runtime() *view.Runtime        { return e.runtime }

// Previews is nil when link previews are disabled.
func (e *Editor) Previews() *preview.Coordinator { return e.previews }

func (e *Editor) Editable() bool { return e.runtime.Editable() }

// SetEditable switches between editing and read-only mode. Widgets drop
// their transient state on the way to read-only.
func (e *Editor) SetEditable(editable bool) {
	e.runtime.SetEditable(editable)
}

// Exec runs a named command.
func (e *Editor) Exec(name string, args command.Args) error {
	return e.pipeline.Exec(name, args)
}

func (e *Editor) Run(name string, args command.Args) bool {
	return e.pipeline.Run(name, args)
}

// InsertPreview inserts a link preview card for href at the selection and
// starts unfurling it.
func (e *Editor) InsertPreview(href string) (string, error) {
	if e.previews == nil {
		return "", ErrPreviewsDisabled
	}
	return e.previews.Insert(href)
}

// Click handles a pointer click at pos. When nothing intercepts it and the
// click lands on a link, the host navigates to the link target.
func (e *Editor) Click(pos int) bool {
	if e.runtime.HandleClick(view.ClickEvent{Pos: pos}) {
		return true
	}
	doc, _, _ := e.engine.Snapshot()
	if href, ok := link.HrefAt(doc, pos); ok {
		e.host.Navigate(href)
		return true
	}
	return false
}

func (e *Editor) Key(key string) bool {
	return e.runtime.HandleKey(key)
}

// Intent delivers a widget intent by widget key.
func (e *Editor) Intent(key string, in view.Intent) bool {
	return e.runtime.Dispatch(key, in)
}

func (e *Editor) Undo() (bool, error) { return e.engine.Undo() }
func (e *Editor) Redo() (bool, error) { return e.engine.Redo() }

func (e *Editor) Snapshot() (*model.Node, transform.Selection, uint64) {
	return e.engine.Snapshot()
}

// Load replaces the document and clears history.
func (e *Editor) Load(doc json.RawMessage) error {
	node, err := Decode(doc, e.reg.Schema())
	if err != nil {
		return err
	}
	return e.engine.Load(node)
}

func (e *Editor) JSON() (json.RawMessage, error) {
	doc, _, _ := e.engine.Snapshot()
	data, err := doc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}

// HTML renders the current document as static markup.
func (e *Editor) HTML() string {
	doc, _, _ := e.engine.Snapshot()
	return render.HTML(doc, e.reg)
}

// Close tears down widgets and cancels outstanding unfurls.
func (e *Editor) Close() {
	e.runtime.Close()
	if e.previews != nil {
		e.previews.Close()
	}
}
