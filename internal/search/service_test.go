package search

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

type fakeSearcher struct {
	healthy  bool
	searchFn func(Query) ([]Result, int, error)
	calls    int
}

func (f *fakeSearcher) Healthy() bool { return f.healthy }

func (f *fakeSearcher) Search(_ context.Context, q Query) ([]Result, int, error) {
	f.calls++
	if f.searchFn != nil {
		return f.searchFn(q)
	}
	return nil, 0, nil
}

type fakeIndexer struct {
	fakeSearcher
	mu      sync.Mutex
	indexed []PageRecord
	deleted []string
	done    chan struct{}
}

func (f *fakeIndexer) IndexPage(page PageRecord) error {
	f.mu.Lock()
	f.indexed = append(f.indexed, page)
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

func (f *fakeIndexer) IndexPages(pages []PageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, pages...)
	return nil
}

func (f *fakeIndexer) DeletePage(id string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, id)
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

func TestSearchPrefersHealthyMeili(t *testing.T) {
	primary := &fakeIndexer{fakeSearcher: fakeSearcher{
		healthy: true,
		searchFn: func(q Query) ([]Result, int, error) {
			if q.Limit != defaultLimit {
				t.Errorf("limit = %d, want default", q.Limit)
			}
			return []Result{{DocumentID: "doc_1", Title: "Notes"}}, 1, nil
		},
	}}
	fallback := &fakeSearcher{healthy: true}
	svc := &Service{meili: primary, pgfts: fallback}

	resp := svc.Search(context.Background(), Query{Text: "  notes "})
	if resp.Total != 1 || resp.Results[0].DocumentID != "doc_1" || resp.Query != "notes" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if fallback.calls != 0 {
		t.Fatal("fallback should not run when meilisearch answers")
	}
}

func TestSearchFallsBackToPgFTS(t *testing.T) {
	tests := []struct {
		name    string
		primary *fakeIndexer
	}{
		{name: "no meilisearch"},
		{name: "unhealthy", primary: &fakeIndexer{}},
		{name: "error", primary: &fakeIndexer{fakeSearcher: fakeSearcher{
			healthy:  true,
			searchFn: func(Query) ([]Result, int, error) { return nil, 0, errors.New("boom") },
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fallback := &fakeSearcher{searchFn: func(Query) ([]Result, int, error) {
				return []Result{{DocumentID: "doc_2"}}, 1, nil
			}}
			svc := &Service{pgfts: fallback}
			if tt.primary != nil {
				svc.meili = tt.primary
			}
			resp := svc.Search(context.Background(), Query{Text: "x"})
			if fallback.calls != 1 || len(resp.Results) != 1 {
				t.Fatalf("fallback calls = %d, response = %+v", fallback.calls, resp)
			}
		})
	}
}

func TestSearchBlankQueryAndFailures(t *testing.T) {
	fallback := &fakeSearcher{searchFn: func(Query) ([]Result, int, error) { return nil, 0, errors.New("down") }}
	svc := &Service{pgfts: fallback}

	if resp := svc.Search(context.Background(), Query{Text: "   "}); resp.Results == nil || fallback.calls != 0 {
		t.Fatalf("blank query should short-circuit, got %+v", resp)
	}
	resp := svc.Search(context.Background(), Query{Text: "x"})
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("failures should yield an empty result list, got %+v", resp)
	}
}

func TestIndexingIsFireAndForget(t *testing.T) {
	primary := &fakeIndexer{fakeSearcher: fakeSearcher{healthy: true}, done: make(chan struct{}, 2)}
	svc := &Service{meili: primary}

	svc.IndexPage(PageRecord{ID: "doc_1", Title: "Notes"})
	svc.DeletePage("doc_2")
	for i := 0; i < 2; i++ {
		select {
		case <-primary.done:
		case <-time.After(2 * time.Second):
			t.Fatal("indexing goroutine never ran")
		}
	}
	primary.mu.Lock()
	defer primary.mu.Unlock()
	if len(primary.indexed) != 1 || len(primary.deleted) != 1 || primary.deleted[0] != "doc_2" {
		t.Fatalf("indexed = %+v deleted = %v", primary.indexed, primary.deleted)
	}

	unhealthy := &Service{meili: &fakeIndexer{}}
	unhealthy.IndexPage(PageRecord{ID: "x"})
}

func TestHitToResultPrefersFormatted(t *testing.T) {
	hit := meili.Hit{
		"id":          json.RawMessage(`"doc_1"`),
		"title":       json.RawMessage(`"Release notes"`),
		"text":        json.RawMessage(`"long body"`),
		"publishedAt": json.RawMessage(`1700000000`),
		"_formatted":  json.RawMessage(`{"title":"<mark>Release</mark> notes","text":"…body…","publishedAt":"1700000000"}`),
	}
	r := hitToResult(hit)
	if r.DocumentID != "doc_1" || r.Title != "<mark>Release</mark> notes" || r.Snippet != "…body…" || r.PublishedAt != 1700000000 {
		t.Fatalf("hitToResult() = %+v", r)
	}

	plain := hitToResult(meili.Hit{"id": json.RawMessage(`"doc_2"`), "title": json.RawMessage(`"Plain"`)})
	if plain.Title != "Plain" || plain.Snippet != "" {
		t.Fatalf("plain hit = %+v", plain)
	}
}
