// Package basic provides the structural nodes and formatting marks every
// document uses.
package basic

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"folio/api/internal/command"
	"folio/api/internal/extension"
	"folio/api/internal/model"
	"folio/api/internal/transform"
)

// Nodes returns the basic node types in registration order. The first text
// block type, paragraph, is the default block.
func Nodes() []extension.Extension {
	return []extension.Extension{
		node{spec: model.NodeSpec{Name: "doc", Content: "block+"}},
		Paragraph(),
		node{spec: model.NodeSpec{Name: "text", Group: "inline"}},
		Heading(),
		node{
			spec: model.NodeSpec{Name: "blockquote", Group: "block", Content: "block+"},
			tags: []string{"blockquote"},
			wrap: "blockquote",
		},
		node{
			spec: model.NodeSpec{Name: "bulletList", Group: "block", Content: "listItem+"},
			tags: []string{"ul"},
			wrap: "ul",
		},
		OrderedList(),
		node{
			spec: model.NodeSpec{Name: "listItem", Content: "paragraph block*"},
			tags: []string{"li"},
			wrap: "li",
		},
		node{
			spec: model.NodeSpec{Name: "hardBreak", Group: "inline", Inline: true},
			tags: []string{"br"},
			wrap: "br",
		},
		HorizontalRule(),
	}
}

// Marks returns the formatting marks, outermost first.
func Marks() []extension.Extension {
	return []extension.Extension{
		mark{name: "bold", tags: []string{"strong", "b"}, wrap: "strong"},
		mark{name: "italic", tags: []string{"em", "i"}, wrap: "em"},
		mark{name: "strike", tags: []string{"s", "del", "strike"}, wrap: "s"},
		mark{name: "underline", tags: []string{"u"}, wrap: "u"},
		mark{name: "code", tags: []string{"code"}, wrap: "code"},
	}
}

// All returns Nodes followed by Marks.
func All() []extension.Extension {
	return append(Nodes(), Marks()...)
}

// node is a descriptor whose HTML form is one element around its content.
type node struct {
	extension.Base
	spec     model.NodeSpec
	tags     []string
	wrap     string
	commands map[string]command.Command
}

func (n node) Name() string { return n.spec.Name }
func (node) Kind() extension.Kind { return extension.KindNode }
func (n node) NodeSpec() model.NodeSpec { return n.spec }
func (n node) Commands() map[string]command.Command { return n.commands }

func (n node) ParseRules() []extension.ParseRule {
	rules := make([]extension.ParseRule, 0, len(n.tags))
	for _, tag := range n.tags {
		rules = append(rules, extension.ParseRule{Tag: tag})
	}
	return rules
}

func (n node) RenderHTML(model.Attrs) *extension.DOMSpec {
	if n.wrap == "" {
		return nil
	}
	if n.spec.Content == "" {
		return extension.El(n.wrap, nil)
	}
	return extension.Wrap(n.wrap)
}

// Paragraph is the default text block.
func Paragraph() extension.Extension {
	return node{
		spec:     model.NodeSpec{Name: "paragraph", Group: "block", Content: "inline*"},
		tags:     []string{"p"},
		wrap:     "p",
		commands: map[string]command.Command{
			"setParagraph": withArgs(command.SetBlockType, command.Args{"type": "paragraph"}),
		},
	}
}

// HorizontalRule is a block leaf.
func HorizontalRule() extension.Extension {
	return node{
		spec:     model.NodeSpec{Name: "horizontalRule", Group: "block"},
		tags:     []string{"hr"},
		wrap:     "hr",
		commands: map[string]command.Command{
			"insertHorizontalRule": withArgs(command.InsertAtomicNode, command.Args{"type": "horizontalRule"}),
		},
	}
}

type heading struct{ extension.NodeBase }

// Heading has a level attribute from 1 to 6.
func Heading() extension.Extension {
	return heading{extension.NodeBase{Spec: model.NodeSpec{
		Name:    "heading",
		Group:   "block",
		Content: "inline*",
		Attrs:   map[string]model.AttrSpec{"level": {Default: 1}},
	}}}
}

func (heading) ParseRules() []extension.ParseRule {
	rules := make([]extension.ParseRule, 0, 6)
	for level := 1; level <= 6; level++ {
		rules = append(rules, extension.ParseRule{
			Tag:      "h" + strconv.Itoa(level),
			GetAttrs: func(*html.Node) model.Attrs { return model.Attrs{"level": level} },
		})
	}
	return rules
}

func (heading) RenderHTML(attrs model.Attrs) *extension.DOMSpec {
	return extension.Wrap("h" + strconv.Itoa(clampLevel(attrs.Int("level", 1))))
}

func (heading) Commands() map[string]command.Command {
	return map[string]command.Command{
		"setHeading": func(st command.State, args command.Args) (*transform.Transaction, error) {
			level, ok := args.Int("level")
			if !ok {
				level = 1
			}
			if level < 1 || level > 6 {
				return nil, command.Failed("setHeading", "level %d out of range", level)
			}
			return command.SetBlockType(st, command.Args{"type": "heading", "attrs": map[string]any{"level": level}})
		},
	}
}

func clampLevel(level int) int {
	switch {
	case level < 1:
		return 1
	case level > 6:
		return 6
	}
	return level
}

type orderedList struct{ extension.NodeBase }

// OrderedList carries the number of its first item.
func OrderedList() extension.Extension {
	return orderedList{extension.NodeBase{Spec: model.NodeSpec{
		Name:    "orderedList",
		Group:   "block",
		Content: "listItem+",
		Attrs:   map[string]model.AttrSpec{"start": {Default: 1}},
	}}}
}

func (orderedList) ParseRules() []extension.ParseRule {
	return []extension.ParseRule{{
		Tag: "ol",
		GetAttrs: func(el *html.Node) model.Attrs {
			start := 1
			if v, ok := extension.AttrValue(el, "start"); ok {
				if n, err := strconv.Atoi(v); err == nil {
					start = n
				}
			}
			return model.Attrs{"start": start}
		},
	}}
}

func (orderedList) RenderHTML(attrs model.Attrs) *extension.DOMSpec {
	start := attrs.Int("start", 1)
	if start == 1 {
		return extension.Wrap("ol")
	}
	return extension.Wrap("ol", extension.Attr{Key: "start", Value: strconv.Itoa(start)})
}

// mark is a formatting mark rendered as one element.
type mark struct {
	extension.Base
	name string
	tags []string
	wrap string
}

func (m mark) Name() string { return m.name }
func (mark) Kind() extension.Kind { return extension.KindMark }
func (m mark) MarkSpec() model.MarkSpec { return model.MarkSpec{Name: m.name} }

func (m mark) ParseRules() []extension.ParseRule {
	rules := make([]extension.ParseRule, 0, len(m.tags))
	for _, tag := range m.tags {
		rules = append(rules, extension.ParseRule{Tag: tag})
	}
	return rules
}

func (m mark) RenderHTML(model.Attrs) *extension.DOMSpec { return extension.Wrap(m.wrap) }

func (m mark) Commands() map[string]command.Command {
	return map[string]command.Command{
		"toggle" + upperFirst(m.name): withArgs(command.ToggleMark, command.Args{"type": m.name}),
	}
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// withArgs binds fixed args over the caller's.
func withArgs(cmd command.Command, fixed command.Args) command.Command {
	return func(st command.State, args command.Args) (*transform.Transaction, error) {
		merged := command.Args{}
		for k, v := range args {
			merged[k] = v
		}
		for k, v := range fixed {
			merged[k] = v
		}
		return cmd(st, merged)
	}
}
