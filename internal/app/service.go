package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"folio/api/internal/command"
	"folio/api/internal/config"
	"folio/api/internal/editor"
	"folio/api/internal/export"
	"folio/api/internal/extension"
	"folio/api/internal/extensions"
	"folio/api/internal/extensions/linkpreview"
	"folio/api/internal/gitrepo"
	"folio/api/internal/metrics"
	"folio/api/internal/model"
	"folio/api/internal/publish"
	"folio/api/internal/render"
	"folio/api/internal/search"
	"folio/api/internal/store"
	"folio/api/internal/unfurl"
	"folio/api/internal/util"
)

type dataStore interface {
	ListDocuments(context.Context) ([]store.DocumentSummary, error)
	GetDocument(context.Context, string) (store.Document, error)
	GetDocumentContent(context.Context, string) (json.RawMessage, error)
	InsertDocument(context.Context, store.Document) (store.Document, error)
	SaveDocument(context.Context, string, string, json.RawMessage) (store.Document, error)
	SaveContent(context.Context, string, json.RawMessage) (store.Document, error)
	DeleteDocument(context.Context, string) error
	InsertPublication(context.Context, store.Publication) (store.Publication, error)
	ListPublications(context.Context, string, int) ([]store.Publication, error)
	Ping(ctx context.Context) error
}

type gitService interface {
	Commit(string, gitrepo.Snapshot, string, string) (store.CommitInfo, error)
	Tag(string, string, string) error
	Snapshot(string, string) (gitrepo.Snapshot, error)
	History(string, int) ([]store.CommitInfo, error)
	Head(string) (gitrepo.Snapshot, store.CommitInfo, error)
	Remove(string) error
}

type searchService interface {
	Search(context.Context, search.Query) search.Response
	IndexPage(search.PageRecord)
	DeletePage(string)
}

// Options carries the optional collaborators of a Service.
type Options struct {
	// Unfurler backs link previews and the unfurl endpoint. Nil disables both.
	Unfurler unfurl.Unfurler
	// Objects receives published pages. Nil keeps them in git only.
	Objects publish.ObjectStore
	Metrics *metrics.Metrics
}

type Service struct {
	cfg       config.Config
	store     dataStore
	git       gitService
	search    searchService
	unfurler  unfurl.Unfurler
	metrics   *metrics.Metrics
	reg       *extension.Registry
	policy    *bluemonday.Policy
	editors   *editor.Manager
	exporter  *export.Service
	publisher *publish.Service

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

func New(cfg config.Config, dataStore *store.PostgresStore, gitService *gitrepo.Service, searchService *search.Service, opts Options) *Service {
	return newService(cfg, dataStore, gitService, searchService, opts)
}

func newService(cfg config.Config, dataStore dataStore, gitService gitService, searchService searchService, opts Options) *Service {
	reg := extensions.MustStatic()
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		git:      gitService,
		search:   searchService,
		unfurler: opts.Unfurler,
		metrics:  opts.Metrics,
		reg:      reg,
		policy:   render.NewPolicy(),
		exporter: export.NewService(dataStore, gitService, reg),
		locks:    make(map[string]*sync.Mutex),
		done:     make(chan struct{}),
	}

	editorOpts := editor.Options{
		Editable:        true,
		HistoryDepth:    cfg.HistoryDepth,
		Debug:           cfg.Debug,
		LinkOpenOnClick: cfg.LinkOpenOnClick,
		Unfurler:        opts.Unfurler,
		UnfurlTimeout:   cfg.UnfurlTimeout,
	}
	publishOpts := publish.Options{Objects: opts.Objects, Indexer: searchService}
	if opts.Metrics != nil {
		editorOpts.Observer = opts.Metrics
		editorOpts.OnUnfurlSettle = opts.Metrics.UnfurlSettled
		publishOpts.Observer = opts.Metrics
	}
	s.publisher = publish.NewService(dataStore, gitService, reg, publishOpts)
	s.editors = editor.NewManager(editorOpts, dataStore.GetDocumentContent)
	s.editors.OnSettle(func(documentID, _ string, _ linkpreview.Phase, _ time.Duration) {
		// settlements arrive on the coordinator's goroutine, which Evict waits for
		go s.persistLive(documentID)
	})
	if cfg.EditorIdle > 0 {
		go s.sweepLoop(cfg.EditorIdle)
	}
	return s
}

// Close stops the idle sweep and tears down every live editor.
func (s *Service) Close() {
	s.closeOnce.Do(func() { close(s.done) })
	s.editors.Close()
}

func (s *Service) sweepLoop(idle time.Duration) {
	ticker := time.NewTicker(max(idle/4, time.Second))
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if n := s.sweepEditors(idle); n > 0 {
				log.Printf("editors: closed %d idle editors", n)
			}
		}
	}
}

// sweepEditors closes editors unused for longer than idle. Each eviction
// holds the document's write lock so no command is mid-flight.
func (s *Service) sweepEditors(idle time.Duration) int {
	evicted := 0
	for _, documentID := range s.editors.Idle(idle) {
		unlock := s.lock(documentID)
		if s.editors.EvictIfIdle(documentID, idle) {
			evicted++
		}
		unlock()
	}
	return evicted
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) ListDocuments(ctx context.Context) ([]map[string]any, error) {
	documents, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(documents))
	for _, doc := range documents {
		item := map[string]any{
			"id":          doc.ID,
			"title":       doc.Title,
			"version":     doc.Version,
			"updatedAt":   doc.UpdatedAt,
			"publishedAt": nil,
		}
		if doc.PublishedAt != nil {
			item["publishedAt"] = *doc.PublishedAt
		}
		items = append(items, item)
	}
	return items, nil
}

// CreateDocument validates doc against the schema before storing it. An
// empty doc starts as a single empty paragraph.
func (s *Service) CreateDocument(ctx context.Context, title string, doc json.RawMessage) (map[string]any, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, validationError("title")
	}
	content, err := s.normalize(doc)
	if err != nil {
		return nil, err
	}
	created, err := s.store.InsertDocument(ctx, store.Document{
		ID:      util.NewID("doc"),
		Title:   title,
		Content: content,
	})
	if err != nil {
		return nil, err
	}
	return documentPayload(created), nil
}

func (s *Service) GetDocument(ctx context.Context, documentID string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	payload := documentPayload(doc)
	if ed, ok := s.editors.Lookup(documentID); ok {
		_, sel, version := ed.Snapshot()
		payload["selection"] = sel
		payload["engineVersion"] = version
	}
	return payload, nil
}

// UpdateDocument replaces title and content. A live editor is reloaded, which
// clears its undo history.
func (s *Service) UpdateDocument(ctx context.Context, documentID, title string, doc json.RawMessage) (map[string]any, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, validationError("title")
	}
	content, err := s.normalize(doc)
	if err != nil {
		return nil, err
	}

	unlock := s.lock(documentID)
	defer unlock()
	saved, err := s.store.SaveDocument(ctx, documentID, title, content)
	if err != nil {
		return nil, err
	}
	if ed, ok := s.editors.Lookup(documentID); ok {
		if err := ed.Load(content); err != nil {
			s.editors.Evict(documentID)
		}
	}
	return documentPayload(saved), nil
}

// DeleteDocument removes the document, its history and its search entry.
func (s *Service) DeleteDocument(ctx context.Context, documentID string) error {
	unlock := s.lock(documentID)
	defer unlock()
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	s.editors.Evict(documentID)
	if err := s.git.Remove(documentID); err != nil {
		log.Printf("delete %s: remove history: %v", documentID, err)
	}
	s.search.DeletePage(documentID)
	return nil
}

// ExecCommand runs a named command against the document's live editor and
// saves the result. A command whose precondition does not hold is reported
// as not applied.
func (s *Service) ExecCommand(ctx context.Context, documentID, name string, args command.Args) (map[string]any, error) {
	if strings.TrimSpace(name) == "" {
		return nil, validationError("name")
	}
	unlock := s.lock(documentID)
	defer unlock()

	ed, err := s.editors.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	err = ed.Exec(name, args)
	if errors.Is(err, command.ErrPreconditionFailed) {
		return s.editorPayload(ed, false, nil)
	}
	if err != nil {
		return nil, err
	}
	saved, err := s.save(ctx, documentID, ed)
	if err != nil {
		return nil, err
	}
	return s.editorPayload(ed, true, &saved)
}

func (s *Service) Undo(ctx context.Context, documentID string) (map[string]any, error) {
	return s.history(ctx, documentID, (*editor.Editor).Undo)
}

func (s *Service) Redo(ctx context.Context, documentID string) (map[string]any, error) {
	return s.history(ctx, documentID, (*editor.Editor).Redo)
}

func (s *Service) history(ctx context.Context, documentID string, step func(*editor.Editor) (bool, error)) (map[string]any, error) {
	unlock := s.lock(documentID)
	defer unlock()

	ed, err := s.editors.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	applied, err := step(ed)
	if err != nil {
		return nil, err
	}
	if !applied {
		return s.editorPayload(ed, false, nil)
	}
	saved, err := s.save(ctx, documentID, ed)
	if err != nil {
		return nil, err
	}
	return s.editorPayload(ed, true, &saved)
}

// InsertPreview adds a link preview card at the selection. The card is saved
// pending and saved again once its metadata arrives.
func (s *Service) InsertPreview(ctx context.Context, documentID, href string) (map[string]any, error) {
	unlock := s.lock(documentID)
	defer unlock()

	ed, err := s.editors.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	id, err := ed.InsertPreview(href)
	if err != nil {
		return nil, err
	}
	if _, err := s.save(ctx, documentID, ed); err != nil {
		return nil, err
	}
	return map[string]any{"id": id, "status": ed.Previews().Status(id)}, nil
}

func (s *Service) PreviewStatus(ctx context.Context, documentID, previewID string) (map[string]any, error) {
	ed, err := s.editors.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if ed.Previews() == nil {
		return nil, editor.ErrPreviewsDisabled
	}
	return map[string]any{"id": previewID, "status": ed.Previews().Status(previewID)}, nil
}

func (s *Service) persistLive(documentID string) {
	unlock := s.lock(documentID)
	defer unlock()
	ed, ok := s.editors.Lookup(documentID)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.save(ctx, documentID, ed); err != nil {
		log.Printf("preview settle: save %s: %v", documentID, err)
	}
}

func (s *Service) save(ctx context.Context, documentID string, ed *editor.Editor) (store.Document, error) {
	content, err := ed.JSON()
	if err != nil {
		return store.Document{}, err
	}
	return s.store.SaveContent(ctx, documentID, content)
}

func (s *Service) Publish(ctx context.Context, documentID, author string) (publish.Page, error) {
	author = strings.TrimSpace(author)
	if author == "" {
		author = "Folio"
	}
	unlock := s.lock(documentID)
	defer unlock()
	return s.publisher.Publish(ctx, documentID, author)
}

func (s *Service) History(ctx context.Context, documentID string, limit int) (map[string]any, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	publications, err := s.store.ListPublications(ctx, documentID, limit)
	if err != nil {
		return nil, err
	}
	commits, err := s.git.History(documentID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(publications))
	for _, pub := range publications {
		items = append(items, map[string]any{
			"version":     pub.DocumentVersion,
			"title":       pub.Title,
			"digest":      pub.Digest,
			"commit":      pub.CommitHash,
			"objectKey":   pub.ObjectKey,
			"publishedAt": pub.PublishedAt,
		})
	}
	return map[string]any{
		"documentId":         documentID,
		"publications":       items,
		"commits":            commits,
		"unpublishedChanges": s.unpublishedChanges(doc),
	}, nil
}

// unpublishedChanges lists the fields the working copy changed since the
// last publication. A document that was never published reports both.
func (s *Service) unpublishedChanges(doc store.Document) []string {
	working := gitrepo.Snapshot{Title: doc.Title, Doc: doc.Content}
	head, _, err := s.git.Head(doc.ID)
	if err != nil {
		return []string{"doc", "title"}
	}
	published := gitrepo.Snapshot{Title: head.Title, Doc: head.Doc}
	if !gitrepo.HasChanges(published, working) {
		return []string{}
	}
	return gitrepo.Diff(published, working)
}

func (s *Service) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	return s.exporter.Export(ctx, req)
}

// PublishedPage returns a published page by commit hash, or the rendered
// working copy for an empty version.
func (s *Service) PublishedPage(ctx context.Context, documentID, version string) (string, error) {
	page, _, err := s.exporter.Page(ctx, documentID, version)
	return page, err
}

func (s *Service) Search(ctx context.Context, text string, limit, offset int) search.Response {
	return s.search.Search(ctx, search.Query{Text: text, Limit: limit, Offset: offset})
}

// Render turns a JSON document into sanitized static markup without
// storing it.
func (s *Service) Render(doc json.RawMessage) (string, []render.Warning, error) {
	if len(doc) == 0 {
		return "", nil, invalidDocument(nil)
	}
	node, err := s.decode(doc)
	if err != nil {
		return "", nil, err
	}
	html, warnings := render.HTMLWithWarnings(node, s.reg)
	return s.policy.Sanitize(html), warnings, nil
}

// Unfurl resolves page metadata for the unfurl endpoint.
func (s *Service) Unfurl(ctx context.Context, rawURL string) (unfurl.Result, error) {
	if s.unfurler == nil {
		return unfurl.Result{}, domainError(http.StatusServiceUnavailable, "UNFURL_UNAVAILABLE", "Link unfurling is not configured", nil)
	}
	return s.unfurler.Unfurl(ctx, rawURL)
}

func (s *Service) normalize(doc json.RawMessage) (json.RawMessage, error) {
	node, err := s.decode(doc)
	if err != nil {
		return nil, err
	}
	content, err := node.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return content, nil
}

// decode reports schema violations as they are and anything else as a bad
// request.
func (s *Service) decode(doc json.RawMessage) (*model.Node, error) {
	node, err := editor.Decode(doc, s.reg.Schema())
	if err != nil && !errors.Is(err, model.ErrSchemaViolation) {
		return nil, invalidDocument(err)
	}
	return node, err
}

func (s *Service) editorPayload(ed *editor.Editor, applied bool, saved *store.Document) (map[string]any, error) {
	content, err := ed.JSON()
	if err != nil {
		return nil, err
	}
	_, sel, version := ed.Snapshot()
	payload := map[string]any{
		"applied":       applied,
		"doc":           content,
		"selection":     sel,
		"engineVersion": version,
	}
	if saved != nil {
		payload["version"] = saved.Version
	}
	return payload, nil
}

// lock serializes writes to one document so the saved JSON always matches
// the order transactions were applied in.
func (s *Service) lock(documentID string) func() {
	s.lockMu.Lock()
	lock, ok := s.locks[documentID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[documentID] = lock
	}
	s.lockMu.Unlock()
	lock.Lock()
	return lock.Unlock
}

func documentPayload(doc store.Document) map[string]any {
	return map[string]any{
		"id":        doc.ID,
		"title":     doc.Title,
		"doc":       doc.Content,
		"version":   doc.Version,
		"createdAt": doc.CreatedAt,
		"updatedAt": doc.UpdatedAt,
	}
}
