package editor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"folio/api/internal/extensions/linkpreview"
)

var ErrManagerClosed = errors.New("editor manager closed")

// Loader returns the stored JSON of a document.
type Loader func(ctx context.Context, documentID string) (json.RawMessage, error)

// SettleFunc is told which document a settled preview card belongs to.
type SettleFunc func(documentID, id string, phase linkpreview.Phase, elapsed time.Duration)

// Manager keeps one live editor per document so every write to a document
// goes through a single engine.
type Manager struct {
	opts    Options
	load    Loader
	settled SettleFunc

	now func() time.Time

	mu       sync.Mutex
	editors  map[string]*Editor
	lastUsed map[string]time.Time
	closed   bool
}

func NewManager(opts Options, load Loader) *Manager {
	return &Manager{
		opts:     opts,
		load:     load,
		now:      time.Now,
		editors:  map[string]*Editor{},
		lastUsed: map[string]time.Time{},
	}
}

// OnSettle registers fn for every preview settlement of every editor the
// manager opens afterwards. It runs after the card's attributes are written.
func (m *Manager) OnSettle(fn SettleFunc) {
	m.mu.Lock()
	m.settled = fn
	m.mu.Unlock()
}

func (m *Manager) optionsFor(documentID string) Options {
	m.mu.Lock()
	fn := m.settled
	m.mu.Unlock()
	opts := m.opts
	if fn == nil {
		return opts
	}
	base := opts.OnUnfurlSettle
	opts.OnUnfurlSettle = func(id string, phase linkpreview.Phase, elapsed time.Duration) {
		if base != nil {
			base(id, phase, elapsed)
		}
		fn(documentID, id, phase, elapsed)
	}
	return opts
}

// Get returns the document's editor, loading it on first use.
func (m *Manager) Get(ctx context.Context, documentID string) (*Editor, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if ed, ok := m.editors[documentID]; ok {
		m.lastUsed[documentID] = m.now()
		m.mu.Unlock()
		return ed, nil
	}
	m.mu.Unlock()

	doc, err := m.load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	ed, err := New(doc, m.optionsFor(documentID))
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		ed.Close()
		return nil, ErrManagerClosed
	}
	// a concurrent Get won the race
	m.lastUsed[documentID] = m.now()
	if existing, ok := m.editors[documentID]; ok {
		ed.Close()
		return existing, nil
	}
	m.editors[documentID] = ed
	return ed, nil
}

// Lookup returns the document's editor only if it is already live.
func (m *Manager) Lookup(documentID string) (*Editor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ed, ok := m.editors[documentID]
	return ed, ok
}

// Evict closes and forgets the document's editor.
func (m *Manager) Evict(documentID string) {
	m.mu.Lock()
	ed, ok := m.editors[documentID]
	delete(m.editors, documentID)
	delete(m.lastUsed, documentID)
	m.mu.Unlock()
	if ok {
		ed.Close()
	}
}

// Idle lists the documents whose editor has not been fetched with Get for
// longer than idle and has no preview fetch in flight.
func (m *Manager) Idle(idle time.Duration) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, ed := range m.editors {
		if m.idleLocked(id, ed, idle) {
			out = append(out, id)
		}
	}
	return out
}

// EvictIfIdle evicts the document's editor when it is still idle and reports
// whether it did. Callers hold the document's write lock.
func (m *Manager) EvictIfIdle(documentID string, idle time.Duration) bool {
	m.mu.Lock()
	ed, ok := m.editors[documentID]
	if !ok || !m.idleLocked(documentID, ed, idle) {
		m.mu.Unlock()
		return false
	}
	delete(m.editors, documentID)
	delete(m.lastUsed, documentID)
	m.mu.Unlock()
	ed.Close()
	return true
}

func (m *Manager) idleLocked(documentID string, ed *Editor, idle time.Duration) bool {
	if m.now().Sub(m.lastUsed[documentID]) <= idle {
		return false
	}
	return ed.Previews() == nil || ed.Previews().Pending() == 0
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.editors)
}

// Close closes every editor. Later calls to Get fail.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	all := m.editors
	m.editors = map[string]*Editor{}
	m.lastUsed = map[string]time.Time{}
	m.mu.Unlock()
	for _, ed := range all {
		ed.Close()
	}
}
