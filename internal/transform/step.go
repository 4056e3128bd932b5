// Package transform applies atomic, schema-checked mutations to documents and
// owns the per-document undo history.
package transform

import (
	"errors"
	"fmt"

	"folio/api/internal/model"
)

var (
	// ErrConcurrentApply is returned by TryApply while another transaction is in flight.
	ErrConcurrentApply = errors.New("transaction already in flight")
	// ErrStaleTransaction is returned for a transaction built against an older snapshot.
	ErrStaleTransaction = errors.New("transaction built against a stale snapshot")
)

// Step is one primitive mutation.
type Step interface {
	// Apply returns the mutated document. The input is never modified.
	Apply(doc *model.Node, s *model.Schema) (*model.Node, error)
	// Invert returns a step that undoes this one when applied to the result.
	Invert(before *model.Node) (Step, error)
	// Map describes how positions move across the step.
	Map() StepMap
	Name() string
}

func violation(step, reason string) error {
	return &model.SchemaViolation{NodeType: step, Reason: reason}
}

// replaceAt swaps the node at depth of rp for repl and rebuilds its ancestors.
func replaceAt(rp *model.ResolvedPos, depth int, repl *model.Node) *model.Node {
	node := repl
	for d := depth - 1; d >= 0; d-- {
		parent := rp.Node(d)
		children := parent.Children()
		children[rp.Index(d)] = node
		node = parent.WithContent(children)
	}
	return node
}

// cutContent returns the children of parent covering content offsets [from, to),
// splitting text nodes at the edges.
func cutContent(parent *model.Node, from, to int) []*model.Node {
	var out []*model.Node
	pos := 0
	for i := 0; i < parent.ChildCount() && pos < to; i++ {
		child := parent.Child(i)
		end := pos + child.NodeSize()
		if end > from {
			if child.IsText() {
				child = child.Cut(max(from-pos, 0), min(to-pos, child.NodeSize()))
			}
			out = append(out, child)
		}
		pos = end
	}
	return out
}

func checked(doc *model.Node, s *model.Schema, step string) (*model.Node, error) {
	if err := s.Check(doc); err != nil {
		return nil, fmt.Errorf("%s: %w", step, err)
	}
	return doc, nil
}
