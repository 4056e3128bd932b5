// Package codeblock provides the code block node: plain text with a
// language, a language menu and copy to clipboard.
package codeblock

import (
	"strings"
	"time"

	"golang.org/x/net/html"

	"folio/api/internal/command"
	"folio/api/internal/extension"
	"folio/api/internal/model"
	"folio/api/internal/transform"
	"folio/api/internal/view"
)

const (
	Name = "codeBlock"

	DefaultCopiedFor = 2 * time.Second
	classPrefix      = "language-"
)

// Language is one entry of the language menu. An empty Value is plain text.
type Language struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

var DefaultLanguages = []Language{
	{Value: "", Label: "Plain text"},
	{Value: "bash", Label: "Bash"},
	{Value: "css", Label: "CSS"},
	{Value: "go", Label: "Go"},
	{Value: "html", Label: "HTML"},
	{Value: "java", Label: "Java"},
	{Value: "javascript", Label: "JavaScript"},
	{Value: "json", Label: "JSON"},
	{Value: "python", Label: "Python"},
	{Value: "rust", Label: "Rust"},
	{Value: "sql", Label: "SQL"},
	{Value: "typescript", Label: "TypeScript"},
	{Value: "yaml", Label: "YAML"},
}

// Clipboard receives copied code.
type Clipboard interface {
	WriteText(text string) error
}

type Options struct {
	Languages []Language
	Clipboard Clipboard
	// CopiedFor is how long the copied indicator stays on.
	CopiedFor time.Duration
}

type CodeBlock struct {
	extension.NodeBase
	opts Options
}

func New(opts Options) *CodeBlock {
	if len(opts.Languages) == 0 {
		opts.Languages = DefaultLanguages
	}
	if opts.CopiedFor <= 0 {
		opts.CopiedFor = DefaultCopiedFor
	}
	noMarks := ""
	return &CodeBlock{
		NodeBase: extension.NodeBase{Spec: model.NodeSpec{
			Name:    Name,
			Group:   "block",
			Content: "text*",
			Marks:   &noMarks,
			Attrs:   map[string]model.AttrSpec{"language": {Default: nil}},
		}},
		opts: opts,
	}
}

func (c *CodeBlock) ParseRules() []extension.ParseRule {
	return []extension.ParseRule{{
		Tag:            "pre",
		ContentElement: "code",
		GetAttrs: func(el *html.Node) model.Attrs {
			return model.Attrs{"language": languageOf(el)}
		},
	}}
}

// languageOf reads data-language on the pre, then a language-* class on the
// inner code element.
func languageOf(pre *html.Node) any {
	if v, ok := extension.AttrValue(pre, "data-language"); ok && v != "" {
		return v
	}
	code := extension.FirstElement(pre, "code")
	if code == nil {
		return nil
	}
	class, _ := extension.AttrValue(code, "class")
	for _, c := range strings.Fields(class) {
		if strings.HasPrefix(c, classPrefix) && len(c) > len(classPrefix) {
			return strings.TrimPrefix(c, classPrefix)
		}
	}
	return nil
}

func (c *CodeBlock) RenderHTML(attrs model.Attrs) *extension.DOMSpec {
	var codeAttrs []extension.Attr
	if lang := attrs.String("language"); lang != "" {
		codeAttrs = append(codeAttrs, extension.Attr{Key: "class", Value: classPrefix + lang})
	}
	return extension.El("pre", nil, extension.El("code", codeAttrs, extension.Hole()))
}

func (c *CodeBlock) Commands() map[string]command.Command {
	return map[string]command.Command{
		"toggleCodeBlock":      ToggleCodeBlock,
		"setCodeBlockLanguage": SetLanguage,
	}
}

// ToggleCodeBlock turns the text block at the cursor into a code block, or a
// code block back into a paragraph.
func ToggleCodeBlock(st command.State, args command.Args) (*transform.Transaction, error) {
	rp, err := model.Resolve(st.Doc, st.Selection.From())
	if err != nil {
		return nil, command.Failed("toggleCodeBlock", "%v", err)
	}
	if rp.Parent().TypeName() == Name {
		return command.SetBlockType(st, command.Args{"type": "paragraph"})
	}
	attrs := map[string]any{}
	if lang := args.String("language"); lang != "" {
		attrs["language"] = lang
	}
	return command.SetBlockType(st, command.Args{"type": Name, "attrs": attrs})
}

// SetLanguage sets args["language"] on the code block starting at
// args["pos"], or the one around the cursor. An empty language clears it.
func SetLanguage(st command.State, args command.Args) (*transform.Transaction, error) {
	const name = "setCodeBlockLanguage"
	pos, ok := args.Int("pos")
	var block *model.Node
	if ok {
		rp, err := model.Resolve(st.Doc, pos)
		if err != nil {
			return nil, command.Failed(name, "%v", err)
		}
		block = rp.NodeAfter()
	} else {
		rp, err := model.Resolve(st.Doc, st.Selection.From())
		if err != nil {
			return nil, command.Failed(name, "%v", err)
		}
		if rp.Depth > 0 {
			block, pos = rp.Parent(), rp.Before(rp.Depth)
		}
	}
	if block == nil || block.TypeName() != Name {
		return nil, command.Failed(name, "no code block at %d", pos)
	}
	var lang any
	if v := args.String("language"); v != "" {
		lang = v
	}
	return transform.NewTransaction().Add(transform.NewAttrMerge(pos, block, model.Attrs{"language": lang})), nil
}

func (c *CodeBlock) NodeView() view.Factory {
	return func(ctx view.Context) view.Widget {
		return newWidget(ctx, c.opts)
	}
}
