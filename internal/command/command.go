// Package command turns named, pure editing operations into transactions and
// applies them through the engine.
package command

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"folio/api/internal/model"
	"folio/api/internal/transform"
)

var (
	ErrPreconditionFailed = errors.New("command precondition failed")
	ErrUnknownCommand     = errors.New("unknown command")
)

// PreconditionError reports why a command produced no transaction.
type PreconditionError struct {
	Command string
	Reason  string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Reason)
}

func (e *PreconditionError) Is(target error) bool { return target == ErrPreconditionFailed }

// Failed builds a PreconditionError.
func Failed(cmd, format string, args ...any) error {
	return &PreconditionError{Command: cmd, Reason: fmt.Sprintf(format, args...)}
}

// State is the read-only input of a command.
type State struct {
	Doc       *model.Node
	Selection transform.Selection
	Schema    *model.Schema
	Editable  bool
	Version   uint64
	index     *model.IDIndex
}

// IDIndex returns the id index of the state's document.
func (s State) IDIndex() *model.IDIndex {
	if s.index != nil {
		return s.index
	}
	return model.BuildIDIndex(s.Doc)
}

// NewState builds a state, mostly for tests and static callers.
func NewState(schema *model.Schema, doc *model.Node, sel transform.Selection) State {
	return State{Doc: doc, Selection: sel, Schema: schema, Editable: true}
}

// Command builds a transaction from state and args. It must not have side
// effects: the same inputs always produce the same transaction.
type Command func(State, Args) (*transform.Transaction, error)

// Chain returns a command that tries each command in order and returns the
// first transaction produced.
func Chain(cmds ...Command) Command {
	return func(st State, args Args) (*transform.Transaction, error) {
		var lastErr error
		for _, cmd := range cmds {
			tr, err := cmd(st, args)
			if err == nil {
				return tr, nil
			}
			lastErr = err
		}
		if lastErr == nil {
			lastErr = Failed("chain", "no commands")
		}
		return nil, lastErr
	}
}

// Engine is the part of *transform.Engine the pipeline uses.
type Engine interface {
	Schema() *model.Schema
	Snapshot() (*model.Node, transform.Selection, uint64)
	IDIndex() *model.IDIndex
	Apply(*transform.Transaction) (*model.Node, error)
}

const staleRetries = 3

// Pipeline dispatches named commands against one engine.
type Pipeline struct {
	engine Engine

	mu       sync.RWMutex
	commands map[string]Command
	editable bool
}

// NewPipeline registers the built-in commands plus cmds.
func NewPipeline(engine Engine, cmds map[string]Command) *Pipeline {
	p := &Pipeline{engine: engine, commands: Builtins(), editable: true}
	for name, cmd := range cmds {
		p.commands[name] = cmd
	}
	return p
}

func (p *Pipeline) Register(name string, cmd Command) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands[name] = cmd
}

func (p *Pipeline) Has(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.commands[name]
	return ok
}

// Names lists registered commands in sorted order.
func (p *Pipeline) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.commands))
	for name := range p.commands {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SetEditable is reported to commands through State.Editable.
func (p *Pipeline) SetEditable(editable bool) {
	p.mu.Lock()
	p.editable = editable
	p.mu.Unlock()
}

// State captures the engine's current snapshot.
func (p *Pipeline) State() State {
	doc, sel, version := p.engine.Snapshot()
	p.mu.RLock()
	editable := p.editable
	p.mu.RUnlock()
	return State{
		Doc:       doc,
		Selection: sel,
		Schema:    p.engine.Schema(),
		Editable:  editable,
		Version:   version,
		index:     p.engine.IDIndex(),
	}
}

// Exec runs a command and applies its transaction. A transaction that
// raced with another writer is rebuilt against the newer snapshot.
func (p *Pipeline) Exec(name string, args Args) error {
	p.mu.RLock()
	cmd, ok := p.commands[name]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	var err error
	for attempt := 0; attempt < staleRetries; attempt++ {
		st := p.State()
		var tr *transform.Transaction
		tr, err = cmd(st, args)
		if err != nil {
			return err
		}
		if tr == nil {
			return Failed(name, "nothing to apply")
		}
		_, err = p.engine.Apply(tr.Expect(st.Version))
		if !errors.Is(err, transform.ErrStaleTransaction) {
			return err
		}
	}
	return err
}

// Run is Exec reduced to the applied flag.
func (p *Pipeline) Run(name string, args Args) bool {
	return p.Exec(name, args) == nil
}
