package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"folio/api/internal/config"
	"folio/api/internal/gitrepo"
	"folio/api/internal/metrics"
	"folio/api/internal/search"
	"folio/api/internal/store"
	"folio/api/internal/unfurl"
)

type fakeStore struct {
	mu           sync.Mutex
	docs         map[string]store.Document
	publications []store.Publication
	saves        int
	pingFn       func(context.Context) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: map[string]store.Document{}}
}

func (f *fakeStore) ListDocuments(context.Context) ([]store.DocumentSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.DocumentSummary, 0, len(f.docs))
	for _, doc := range f.docs {
		items = append(items, store.DocumentSummary{ID: doc.ID, Title: doc.Title, Version: doc.Version, UpdatedAt: doc.UpdatedAt})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (f *fakeStore) GetDocument(_ context.Context, id string) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return store.Document{}, fmt.Errorf("get document %s: %w", id, sql.ErrNoRows)
	}
	return doc, nil
}

func (f *fakeStore) GetDocumentContent(ctx context.Context, id string) (json.RawMessage, error) {
	doc, err := f.GetDocument(ctx, id)
	return doc.Content, err
}

func (f *fakeStore) InsertDocument(_ context.Context, doc store.Document) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = doc.CreatedAt
	f.docs[doc.ID] = doc
	return doc, nil
}

func (f *fakeStore) SaveDocument(_ context.Context, id, title string, content json.RawMessage) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return store.Document{}, sql.ErrNoRows
	}
	doc.Title = title
	doc.Content = content
	doc.Version++
	doc.UpdatedAt = time.Now()
	f.docs[id] = doc
	f.saves++
	return doc, nil
}

func (f *fakeStore) SaveContent(ctx context.Context, id string, content json.RawMessage) (store.Document, error) {
	doc, err := f.GetDocument(ctx, id)
	if err != nil {
		return store.Document{}, err
	}
	return f.SaveDocument(ctx, id, doc.Title, content)
}

func (f *fakeStore) DeleteDocument(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.docs, id)
	return nil
}

func (f *fakeStore) InsertPublication(_ context.Context, pub store.Publication) (store.Publication, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pub.ID = int64(len(f.publications) + 1)
	pub.PublishedAt = time.Now().UTC()
	f.publications = append(f.publications, pub)
	return pub, nil
}

func (f *fakeStore) ListPublications(_ context.Context, id string, limit int) ([]store.Publication, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Publication
	for i := len(f.publications) - 1; i >= 0 && len(out) < limit; i-- {
		if f.publications[i].DocumentID == id {
			out = append(out, f.publications[i])
		}
	}
	return out, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) content(t *testing.T, id string) map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var tree map[string]any
	if err := json.Unmarshal(f.docs[id].Content, &tree); err != nil {
		t.Fatalf("stored content of %s: %v", id, err)
	}
	return tree
}

type fakeGit struct {
	mu      sync.Mutex
	commits map[string][]gitrepo.Snapshot
	tags    []string
	removed []string
}

func (f *fakeGit) Commit(id string, snap gitrepo.Snapshot, author, message string) (store.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commits == nil {
		f.commits = map[string][]gitrepo.Snapshot{}
	}
	f.commits[id] = append(f.commits[id], snap)
	return store.CommitInfo{Hash: fmt.Sprintf("c%06d", len(f.commits[id])), Message: message, Author: author}, nil
}

func (f *fakeGit) Tag(_, _, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags = append(f.tags, name)
	return nil
}

func (f *fakeGit) Snapshot(id, hash string) (gitrepo.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	if _, err := fmt.Sscanf(hash, "c%06d", &n); err != nil || n < 1 || n > len(f.commits[id]) {
		return gitrepo.Snapshot{}, fmt.Errorf("unknown revision %s", hash)
	}
	return f.commits[id][n-1], nil
}

func (f *fakeGit) History(id string, limit int) ([]store.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := []store.CommitInfo{}
	for i := len(f.commits[id]); i > 0 && len(items) < limit; i-- {
		items = append(items, store.CommitInfo{Hash: fmt.Sprintf("c%06d", i)})
	}
	return items, nil
}

func (f *fakeGit) Head(id string) (gitrepo.Snapshot, store.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.commits[id])
	if n == 0 {
		return gitrepo.Snapshot{}, store.CommitInfo{}, fmt.Errorf("%s has no commits", id)
	}
	return f.commits[id][n-1], store.CommitInfo{Hash: fmt.Sprintf("c%06d", n)}, nil
}

func (f *fakeGit) Remove(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.commits, id)
	f.removed = append(f.removed, id)
	return nil
}

type fakeSearch struct {
	mu      sync.Mutex
	indexed []search.PageRecord
	deleted []string
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	results := []search.Result{}
	for _, page := range f.indexed {
		if q.Text != "" && page.Title == q.Text {
			results = append(results, search.Result{DocumentID: page.ID, Title: page.Title})
		}
	}
	return search.Response{Results: results, Total: len(results), Query: q.Text}
}

func (f *fakeSearch) IndexPage(page search.PageRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, page)
}

func (f *fakeSearch) DeletePage(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
}

type fakeUnfurler struct {
	unfurlFn func(ctx context.Context, rawURL string) (unfurl.Result, error)
}

func (f *fakeUnfurler) Unfurl(ctx context.Context, rawURL string) (unfurl.Result, error) {
	return f.unfurlFn(ctx, rawURL)
}

type testEnv struct {
	svc     *Service
	server  *HTTPServer
	store   *fakeStore
	git     *fakeGit
	search  *fakeSearch
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, unfurler unfurl.Unfurler) *testEnv {
	t.Helper()
	env := &testEnv{
		store:   newFakeStore(),
		git:     &fakeGit{},
		search:  &fakeSearch{},
		metrics: metrics.New(),
	}
	env.svc = newService(config.Config{HistoryDepth: 50, UnfurlTimeout: time.Second}, env.store, env.git, env.search, Options{
		Unfurler: unfurler,
		Metrics:  env.metrics,
	})
	t.Cleanup(env.svc.Close)
	env.server = NewHTTPServer(env.svc, "*")
	return env
}
