// Package extensions assembles the extension sets used by the editor and by
// publication.
package extensions

import (
	"folio/api/internal/extension"
	"folio/api/internal/extensions/basic"
	"folio/api/internal/extensions/codeblock"
	"folio/api/internal/extensions/link"
	"folio/api/internal/extensions/linkpreview"
)

type Options struct {
	Link        link.Options
	CodeBlock   codeblock.Options
	LinkPreview linkpreview.Options
}

// List returns the editor extensions in registration order. Link comes first
// among the marks so anchors wrap other formatting.
func List(opts Options) []extension.Extension {
	exts := basic.Nodes()
	exts = append(exts,
		codeblock.New(opts.CodeBlock),
		linkpreview.New(opts.LinkPreview),
		link.New(opts.Link),
	)
	return append(exts, basic.Marks()...)
}

// Default builds the editor registry.
func Default(opts Options) (*extension.Registry, error) {
	return extension.Build(List(opts)...)
}

// Static builds the registry used for publication: same schema and render
// functions, no views or event handlers.
func Static() (*extension.Registry, error) {
	reg, err := Default(Options{})
	if err != nil {
		return nil, err
	}
	return reg.Static(), nil
}

// MustStatic is Static for package-level initialization.
func MustStatic() *extension.Registry {
	reg, err := Static()
	if err != nil {
		panic(err)
	}
	return reg
}
