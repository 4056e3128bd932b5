// Package view keeps one live widget per interactive node of the current
// document snapshot and routes user intents between widgets and commands.
package view

import (
	"fmt"

	"folio/api/internal/command"
	"folio/api/internal/model"
)

// Intent kinds shared by every widget. Widgets define their own local kinds.
const (
	IntentEscape       = "escape"
	IntentOutsideClick = "outsideClick"
	IntentClick        = "click"
)

// Intent is a user action delivered to a widget.
type Intent struct {
	Kind string         `json:"kind"`
	Args map[string]any `json:"args,omitempty"`
}

// Change is one attribute transition.
type Change struct {
	Old any
	New any
}

// AttrDiff lists attributes that differ between two versions of a node.
type AttrDiff map[string]Change

// DiffAttrs compares old and new attribute sets.
func DiffAttrs(old, updated model.Attrs) AttrDiff {
	diff := AttrDiff{}
	for k, v := range updated {
		if ov, ok := old[k]; !ok || !(model.Attrs{k: ov}).Equal(model.Attrs{k: v}) {
			diff[k] = Change{Old: old[k], New: v}
		}
	}
	for k, v := range old {
		if _, ok := updated[k]; !ok {
			diff[k] = Change{Old: v}
		}
	}
	return diff
}

func (d AttrDiff) Empty() bool { return len(d) == 0 }

// Widget is the live representation of one node.
type Widget interface {
	Render() string
	HandleIntent(Intent) bool
	Update(node *model.Node, diff AttrDiff)
	// Destroy releases timers, listeners and pending requests.
	Destroy()
}

// EditableAware widgets are told when the document switches mode.
type EditableAware interface {
	SetEditable(editable bool)
}

// Host is the surrounding UI.
type Host interface {
	Focus(pos int, scroll bool)
	Navigate(href string)
}

// NopHost ignores every request.
type NopHost struct{}

func (NopHost) Focus(int, bool)  {}
func (NopHost) Navigate(string) {}

// Context is handed to a widget factory.
type Context struct {
	Node     *model.Node
	Key      string
	Editable bool
	// GetPos returns the node's current position, false once it is gone.
	GetPos   func() (int, bool)
	Dispatch func(name string, args command.Args) bool
	Host     Host
}

// Factory builds the widget for one node.
type Factory func(Context) Widget

// ClickEvent is a pointer click at a document position.
type ClickEvent struct {
	Pos    int
	Button int
}

// EventContext is handed to click and key handlers.
type EventContext struct {
	State    command.State
	Host     Host
	Dispatch func(name string, args command.Args) bool
	// Debugf is non-nil only in debug mode.
	Debugf func(format string, args ...any)
}

// ClickHandler intercepts clicks before widgets see them.
type ClickHandler interface {
	HandleClick(ctx EventContext, ev ClickEvent) bool
}

// KeyHandler intercepts keys before they are broadcast to widgets.
type KeyHandler interface {
	HandleKey(ctx EventContext, key string) bool
}

// Key identifies a widget across snapshots: by id attribute when the node
// has one, otherwise by position.
func Key(n *model.Node, pos int) string {
	if id := n.ID(); id != "" {
		return fmt.Sprintf("%s#%s", n.TypeName(), id)
	}
	return PosKey(n, pos)
}

// PosKey identifies a widget by position only.
func PosKey(n *model.Node, pos int) string {
	return fmt.Sprintf("%s@%d", n.TypeName(), pos)
}
