package extension

import (
	"fmt"
	"sort"

	"folio/api/internal/command"
	"folio/api/internal/model"
	"folio/api/internal/view"
)

// Rule is a parse rule bound to the extension that owns it.
type Rule struct {
	ParseRule
	Name  string
	Kind  Kind
	order int
}

// Registry is the immutable result of Build.
type Registry struct {
	exts      []Extension
	byName    map[string]Extension
	schema    *model.Schema
	nodeRules []Rule
	markRules []Rule
	commands  map[string]command.Command
	views     map[string]view.Factory
	clicks    []view.ClickHandler
	keys      []view.KeyHandler
	static    bool
}

// Build assembles extensions, in order, into a registry. Node and mark names
// share one namespace; a repeated name fails with ErrDuplicateExtensionName.
func Build(exts ...Extension) (*Registry, error) {
	r := &Registry{
		byName:   make(map[string]Extension, len(exts)),
		commands: map[string]command.Command{},
		views:    map[string]view.Factory{},
	}
	var nodes []model.NodeSpec
	var marks []model.MarkSpec
	cmdOwner := map[string]string{}
	for i, ext := range exts {
		name := ext.Name()
		if name == "" {
			return nil, fmt.Errorf("extension %d has no name", i)
		}
		if _, dup := r.byName[name]; dup {
			return nil, &model.DuplicateNameError{Name: name}
		}
		r.byName[name] = ext
		r.exts = append(r.exts, ext)

		switch ext.Kind() {
		case KindNode:
			spec := ext.NodeSpec()
			spec.Name = name
			nodes = append(nodes, spec)
		case KindMark:
			spec := ext.MarkSpec()
			spec.Name = name
			marks = append(marks, spec)
		default:
			return nil, fmt.Errorf("extension %s: unknown kind %d", name, ext.Kind())
		}

		for _, rule := range ext.ParseRules() {
			bound := Rule{ParseRule: rule, Name: name, Kind: ext.Kind(), order: len(r.nodeRules) + len(r.markRules)}
			if ext.Kind() == KindNode {
				r.nodeRules = append(r.nodeRules, bound)
			} else {
				r.markRules = append(r.markRules, bound)
			}
		}
		for cmdName, cmd := range ext.Commands() {
			if owner, taken := cmdOwner[cmdName]; taken {
				return nil, fmt.Errorf("extension %s: command %q already registered by %s", name, cmdName, owner)
			}
			cmdOwner[cmdName] = name
			r.commands[cmdName] = cmd
		}
		if factory := ext.NodeView(); factory != nil && ext.Kind() == KindNode {
			r.views[name] = factory
		}
		if h, ok := ext.(view.ClickHandler); ok {
			r.clicks = append(r.clicks, h)
		}
		if h, ok := ext.(view.KeyHandler); ok {
			r.keys = append(r.keys, h)
		}
	}

	schema, err := model.NewSchema(nodes, marks)
	if err != nil {
		return nil, err
	}
	r.schema = schema
	sortRules(r.nodeRules)
	sortRules(r.markRules)
	return r, nil
}

// Higher priority first, then registration order.
func sortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].order < rules[j].order
	})
}

// Static returns the registry without view factories and event handlers.
// It shares schema, rules and render functions with r. A static registry is
// returned as is.
func (r *Registry) Static() *Registry {
	if r.IsStatic() {
		return r
	}
	return &Registry{
		exts:      r.exts,
		byName:    r.byName,
		schema:    r.schema,
		nodeRules: r.nodeRules,
		markRules: r.markRules,
		commands:  r.commands,
		views:     map[string]view.Factory{},
		static:    true,
	}
}

func (r *Registry) IsStatic() bool { return r.static }

func (r *Registry) Schema() *model.Schema { return r.schema }

// Lookup returns the extension registered under name.
func (r *Registry) Lookup(name string) (Extension, bool) {
	ext, ok := r.byName[name]
	return ext, ok
}

// Extensions lists extensions in registration order.
func (r *Registry) Extensions() []Extension {
	return append([]Extension(nil), r.exts...)
}

// Commands returns a copy of the command table contributed by extensions.
func (r *Registry) Commands() map[string]command.Command {
	out := make(map[string]command.Command, len(r.commands))
	for k, v := range r.commands {
		out[k] = v
	}
	return out
}

// Views returns a copy of the node view factories keyed by node type.
func (r *Registry) Views() map[string]view.Factory {
	out := make(map[string]view.Factory, len(r.views))
	for k, v := range r.views {
		out[k] = v
	}
	return out
}

func (r *Registry) NodeRules() []Rule { return r.nodeRules }

func (r *Registry) MarkRules() []Rule { return r.markRules }

func (r *Registry) ClickHandlers() []view.ClickHandler { return r.clicks }

func (r *Registry) KeyHandlers() []view.KeyHandler { return r.keys }
