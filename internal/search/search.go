package search

import "context"

// Result is a single search hit returned to the caller.
type Result struct {
	DocumentID  string `json:"documentId"`
	Title       string `json:"title"`
	Snippet     string `json:"snippet"`
	PublishedAt int64  `json:"publishedAt"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push published pages into a search index.
type Indexer interface {
	Searcher
	IndexPage(page PageRecord) error
	IndexPages(pages []PageRecord) error
	DeletePage(documentID string) error
}

// PageRecord is the data we index for a published page. Only published
// content is searchable.
type PageRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Text        string `json:"text"`
	Digest      string `json:"digest"`
	PublishedAt int64  `json:"publishedAt"`
}
