package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"html/template"
	"strings"
	"testing"
	"time"

	"folio/api/internal/extensions"
	"folio/api/internal/gitrepo"
	"folio/api/internal/store"
)

type fakeStore struct {
	getDocumentFn func(context.Context, string) (store.Document, error)
}

func (f fakeStore) GetDocument(ctx context.Context, id string) (store.Document, error) {
	return f.getDocumentFn(ctx, id)
}

type fakeSnapshots map[string]gitrepo.Snapshot

func (f fakeSnapshots) Snapshot(_, hash string) (gitrepo.Snapshot, error) {
	snap, ok := f[hash]
	if !ok {
		return gitrepo.Snapshot{}, errors.New("unknown revision")
	}
	return snap, nil
}

// Head treats the "HEAD" entry as the latest publication.
func (f fakeSnapshots) Head(documentID string) (gitrepo.Snapshot, store.CommitInfo, error) {
	snap, err := f.Snapshot(documentID, "HEAD")
	return snap, store.CommitInfo{Hash: "abc1234"}, err
}

const sampleContent = `{"type":"doc","content":[` +
	`{"type":"heading","attrs":{"level":2},"content":[{"type":"text","text":"Intro"}]},` +
	`{"type":"paragraph","content":[{"type":"text","text":"see "},{"type":"text","text":"docs","marks":[{"type":"link","attrs":{"href":"https://docs.test"}}]}]},` +
	`{"type":"codeBlock","attrs":{"language":"go"},"content":[{"type":"text","text":"x := 1"}]},` +
	`{"type":"linkPreview","attrs":{"id":"lp_1","href":"https://example.com","title":"Example"}}]}`

func newTestService(t *testing.T, docs map[string]store.Document) *Service {
	t.Helper()
	svc := NewService(fakeStore{getDocumentFn: func(_ context.Context, id string) (store.Document, error) {
		doc, ok := docs[id]
		if !ok {
			return store.Document{}, sql.ErrNoRows
		}
		return doc, nil
	}}, fakeSnapshots{
		"abc1234": {Title: "Published", HTML: "<html><body><p>frozen</p></body></html>"},
		"HEAD":    {Title: "Published", HTML: "<html><body><p>frozen</p></body></html>"},
	}, extensions.MustStatic())
	return svc
}

func TestPageRendersWorkingCopy(t *testing.T) {
	svc := newTestService(t, map[string]store.Document{
		"doc_1": {ID: "doc_1", Title: "Guide & Notes", Content: json.RawMessage(sampleContent)},
	})

	page, title, err := svc.Page(context.Background(), "doc_1", "latest")
	if err != nil {
		t.Fatalf("Page() error = %v", err)
	}
	if title != "Guide & Notes" {
		t.Fatalf("title = %q", title)
	}
	for _, want := range []string{
		"<title>Guide &amp; Notes</title>",
		"<h2>Intro</h2>",
		`href="https://docs.test"`,
		`class="language-go"`,
		"Example",
	} {
		if !strings.Contains(page, want) {
			t.Errorf("page missing %q", want)
		}
	}
	if strings.Contains(page, "&lt;h2&gt;") {
		t.Error("document markup must not be escaped")
	}
}

func TestPageSanitizesWorkingCopy(t *testing.T) {
	raw := `{"type":"doc","content":[` +
		`{"type":"paragraph","content":[{"type":"text","text":"steal","marks":[{"type":"link","attrs":{"href":"javascript:alert(document.cookie)"}}]}]},` +
		`{"type":"linkPreview","attrs":{"id":"lp_1","href":"https://x.test","image":"javascript:alert(1)"}},` +
		`{"type":"weird","attrs":{"onclick":"x"},"content":[{"type":"paragraph","content":[{"type":"text","text":"<script>alert(2)</script>"}]}]}]}`
	svc := newTestService(t, map[string]store.Document{
		"doc_1": {ID: "doc_1", Title: "Trap", Content: json.RawMessage(raw)},
	})

	page, _, err := svc.Page(context.Background(), "doc_1", "")
	if err != nil {
		t.Fatalf("Page() error = %v", err)
	}
	for _, banned := range []string{"javascript:", "<script>", "onclick"} {
		if strings.Contains(page, banned) {
			t.Errorf("page contains %q", banned)
		}
	}
	if !strings.Contains(page, "steal") || !strings.Contains(page, `data-href="https://x.test"`) {
		t.Errorf("safe content dropped: %s", page)
	}
}

func TestPagePublishedVersion(t *testing.T) {
	svc := newTestService(t, nil)

	page, title, err := svc.Page(context.Background(), "doc_1", "abc1234")
	if err != nil {
		t.Fatalf("Page() error = %v", err)
	}
	if title != "Published" || !strings.Contains(page, "frozen") {
		t.Fatalf("page = %q title = %q", page, title)
	}
	if _, _, err := svc.Page(context.Background(), "doc_1", "deadbee"); !errors.Is(err, ErrContentUnavailable) {
		t.Fatalf("unknown revision should be unavailable, got %v", err)
	}

	page, _, err = svc.Page(context.Background(), "doc_1", VersionPublished)
	if err != nil || !strings.Contains(page, "frozen") {
		t.Fatalf("published page = %q, %v", page, err)
	}
	unpublished := NewService(fakeStore{}, fakeSnapshots{}, extensions.MustStatic())
	if _, _, err := unpublished.Page(context.Background(), "doc_1", VersionPublished); !errors.Is(err, ErrContentUnavailable) {
		t.Fatalf("never published document should be unavailable, got %v", err)
	}
}

func TestExportDispatchesByFormat(t *testing.T) {
	svc := newTestService(t, map[string]store.Document{
		"doc_1": {ID: "doc_1", Title: "My Doc", Content: json.RawMessage(sampleContent)},
	})
	var converted []string
	convert := func(name string) Converter {
		return func(_ context.Context, html, title string) (*Result, error) {
			converted = append(converted, name)
			if !strings.Contains(html, "<h2>Intro</h2>") {
				t.Errorf("%s converter got %q", name, html)
			}
			return &Result{Data: []byte(name), Filename: sanitizeFilename(title) + "." + name}, nil
		}
	}
	svc.pdf = convert("pdf")
	svc.docx = convert("docx")

	for _, format := range []Format{FormatPDF, FormatDOCX} {
		res, err := svc.Export(context.Background(), Request{DocumentID: "doc_1", Format: format})
		if err != nil {
			t.Fatalf("Export(%s) error = %v", format, err)
		}
		if res.Filename != "My-Doc."+string(format) {
			t.Fatalf("filename = %q", res.Filename)
		}
	}
	if strings.Join(converted, ",") != "pdf,docx" {
		t.Fatalf("converted = %v", converted)
	}

	res, err := svc.Export(context.Background(), Request{DocumentID: "doc_1", Format: FormatHTML})
	if err != nil || res.MimeType != "text/html; charset=utf-8" {
		t.Fatalf("html export = %+v, %v", res, err)
	}

	if _, err := svc.Export(context.Background(), Request{DocumentID: "doc_1", Format: "odt"}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if _, err := svc.Export(context.Background(), Request{DocumentID: "missing", Format: FormatHTML}); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("missing document should wrap sql.ErrNoRows, got %v", err)
	}
}

func TestExportRejectsCorruptContent(t *testing.T) {
	svc := newTestService(t, map[string]store.Document{
		"doc_1": {ID: "doc_1", Title: "Bad", Content: json.RawMessage(`{"type":`)},
	})
	if _, _, err := svc.Page(context.Background(), "doc_1", ""); !errors.Is(err, ErrContentUnavailable) {
		t.Fatalf("expected ErrContentUnavailable, got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"pdf", FormatPDF, false},
		{"docx", FormatDOCX, false},
		{"html", FormatHTML, false},
		{"", FormatPDF, false},
		{"rtf", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"My Document v1.2", "My-Document-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "document"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},
		{"test+sign", "test%2Bsign"},
		{"special<>", "special%3C%3E"},
		{"normal-text.txt", "normal-text.txt"},
		{"é", "%C3%A9"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := percentEncodeForDataURL(tt.input)
			if result != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestRenderPage(t *testing.T) {
	html, err := RenderPage(PageData{
		Title:       "Release <notes>",
		ContentHTML: template.HTML("<p>This is the content.</p>"),
		PublishedAt: time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC),
		Digest:      "abc",
	})
	if err != nil {
		t.Fatalf("RenderPage() error = %v", err)
	}
	for _, want := range []string{
		"Release &lt;notes&gt;",
		"<p>This is the content.</p>",
		"Published Mar 4, 2026",
		`content="abc"`,
	} {
		if !strings.Contains(html, want) {
			t.Errorf("page missing %q", want)
		}
	}

	untitled, err := RenderPage(PageData{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(untitled, "<title>Untitled</title>") || strings.Contains(untitled, "Published") {
		t.Fatalf("untitled page = %s", untitled)
	}
}
