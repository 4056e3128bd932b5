package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"folio/api/internal/command"
	"folio/api/internal/export"
	"folio/api/internal/model"
	"folio/api/internal/store"
	"folio/api/internal/unfurl"
)

const sampleDoc = `{"type":"doc","content":[
	{"type":"heading","attrs":{"level":1},"content":[{"type":"text","text":"Plan"}]},
	{"type":"paragraph","content":[{"type":"text","text":"Ship it"}]}
]}`

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var payload map[string]any
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") && rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("%s %s: decode response %q: %v", method, path, rr.Body.String(), err)
		}
	}
	return rr, payload
}

func createDocument(t *testing.T, h http.Handler, title, doc string) string {
	t.Helper()
	body := map[string]any{"title": title}
	if doc != "" {
		body["doc"] = json.RawMessage(doc)
	}
	rr, payload := doJSON(t, h, http.MethodPost, "/api/documents", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create document: status %d body %s", rr.Code, rr.Body.String())
	}
	id, _ := payload["id"].(string)
	if !strings.HasPrefix(id, "doc_") {
		t.Fatalf("unexpected document id %q", id)
	}
	return id
}

// upstream serves a small page at /page and 404 everywhere else.
func upstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/page" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Example page</title>
			<meta property="og:description" content="A test page"></head><body></body></html>`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDocumentLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	h := env.server.Handler()

	id := createDocument(t, h, "Plan", sampleDoc)

	rr, payload := doJSON(t, h, http.MethodGet, "/api/documents", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list: status %d", rr.Code)
	}
	if docs := payload["documents"].([]any); len(docs) != 1 {
		t.Fatalf("expected one document, got %v", docs)
	}

	rr, payload = doJSON(t, h, http.MethodGet, "/api/documents/"+id, nil)
	if rr.Code != http.StatusOK || payload["title"] != "Plan" {
		t.Fatalf("get: status %d payload %v", rr.Code, payload)
	}
	if _, live := payload["engineVersion"]; live {
		t.Fatal("an untouched document should not have a live editor")
	}

	rr, payload = doJSON(t, h, http.MethodPut, "/api/documents/"+id, map[string]any{
		"title": "Plan v2",
		"doc":   json.RawMessage(sampleDoc),
	})
	if rr.Code != http.StatusOK || payload["title"] != "Plan v2" || payload["version"] != float64(1) {
		t.Fatalf("update: status %d payload %v", rr.Code, payload)
	}

	rr, _ = doJSON(t, h, http.MethodDelete, "/api/documents/"+id, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: status %d", rr.Code)
	}
	if len(env.git.removed) != 1 || len(env.search.deleted) != 1 {
		t.Fatalf("delete should clear history and index, got %v / %v", env.git.removed, env.search.deleted)
	}

	rr, payload = doJSON(t, h, http.MethodGet, "/api/documents/"+id, nil)
	if rr.Code != http.StatusNotFound || payload["code"] != "NOT_FOUND" {
		t.Fatalf("get after delete: status %d payload %v", rr.Code, payload)
	}
}

func TestCreateDocumentValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	h := env.server.Handler()

	tests := []struct {
		name string
		body any
		code int
		want string
	}{
		{name: "missing title", body: map[string]any{"title": "  "}, code: http.StatusUnprocessableEntity, want: "VALIDATION_ERROR"},
		{name: "broken body", body: `{"title":`, code: http.StatusBadRequest, want: "INVALID_BODY"},
		{name: "unknown node", body: map[string]any{"title": "x", "doc": json.RawMessage(`{"type":"doc","content":[{"type":"marquee"}]}`)}, code: http.StatusUnprocessableEntity, want: "SCHEMA_VIOLATION"},
		{name: "not a document", body: map[string]any{"title": "x", "doc": json.RawMessage(`[1,2]`)}, code: http.StatusBadRequest, want: "INVALID_DOCUMENT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, payload := doJSON(t, h, http.MethodPost, "/api/documents", tt.body)
			if rr.Code != tt.code || payload["code"] != tt.want {
				t.Fatalf("status %d payload %v, want %d %s", rr.Code, payload, tt.code, tt.want)
			}
		})
	}
}

func TestCreateDocumentDefaultsToEmptyParagraph(t *testing.T) {
	env := newTestEnv(t, nil)
	id := createDocument(t, env.server.Handler(), "Blank", "")

	tree := env.store.content(t, id)
	content := tree["content"].([]any)
	if len(content) != 1 || content[0].(map[string]any)["type"] != "paragraph" {
		t.Fatalf("blank document content = %v", tree)
	}
}

func TestCommandsEditAndSave(t *testing.T) {
	env := newTestEnv(t, nil)
	h := env.server.Handler()
	id := createDocument(t, h, "Notes", "")
	path := "/api/documents/" + id + "/commands"

	rr, payload := doJSON(t, h, http.MethodPost, path, map[string]any{"name": "insertText", "args": map[string]any{"text": "early"}})
	if rr.Code != http.StatusOK || payload["applied"] != false {
		t.Fatalf("insert outside a text block should not apply: %d %v", rr.Code, payload)
	}
	if _, saved := payload["version"]; saved {
		t.Fatal("a command that did not apply must not be saved")
	}

	rr, payload = doJSON(t, h, http.MethodPost, path, map[string]any{"name": "setSelection", "args": map[string]any{"anchor": 1, "head": 1}})
	if rr.Code != http.StatusOK || payload["applied"] != true {
		t.Fatalf("setSelection: %d %v", rr.Code, payload)
	}

	rr, payload = doJSON(t, h, http.MethodPost, path, map[string]any{"name": "insertText", "args": map[string]any{"text": "hello"}})
	if rr.Code != http.StatusOK || payload["applied"] != true {
		t.Fatalf("insertText: %d %v", rr.Code, payload)
	}
	if payload["version"] != float64(2) {
		t.Fatalf("expected stored version 2, got %v", payload["version"])
	}
	sel := payload["selection"].(map[string]any)
	if sel["anchor"] != float64(6) || sel["head"] != float64(6) {
		t.Fatalf("cursor should follow the inserted text, got %v", sel)
	}
	if !strings.Contains(string(mustMarshal(t, env.store.content(t, id))), `"text":"hello"`) {
		t.Fatalf("stored content missing inserted text: %v", env.store.content(t, id))
	}

	rr, payload = doJSON(t, h, http.MethodGet, "/api/documents/"+id, nil)
	if rr.Code != http.StatusOK || payload["engineVersion"] == nil {
		t.Fatalf("live document should report its engine version: %v", payload)
	}

	rr, payload = doJSON(t, h, http.MethodPost, path, map[string]any{"name": "sparkle"})
	if rr.Code != http.StatusBadRequest || payload["code"] != "UNKNOWN_COMMAND" {
		t.Fatalf("unknown command: %d %v", rr.Code, payload)
	}

	rr, payload = doJSON(t, h, http.MethodPost, path, map[string]any{"name": ""})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("blank command name: %d %v", rr.Code, payload)
	}

	rr, _ = doJSON(t, h, http.MethodPost, "/api/documents/doc_missing/commands", map[string]any{"name": "insertText"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("command on a missing document: %d", rr.Code)
	}
}

func TestUndoRedo(t *testing.T) {
	env := newTestEnv(t, nil)
	h := env.server.Handler()
	id := createDocument(t, h, "Notes", "")
	base := "/api/documents/" + id

	rr, payload := doJSON(t, h, http.MethodPost, base+"/undo", nil)
	if rr.Code != http.StatusOK || payload["applied"] != false {
		t.Fatalf("undo with empty history: %d %v", rr.Code, payload)
	}

	doJSON(t, h, http.MethodPost, base+"/commands", map[string]any{"name": "setSelection", "args": map[string]any{"anchor": 1, "head": 1}})
	doJSON(t, h, http.MethodPost, base+"/commands", map[string]any{"name": "insertText", "args": map[string]any{"text": "draft"}})

	rr, payload = doJSON(t, h, http.MethodPost, base+"/undo", nil)
	if rr.Code != http.StatusOK || payload["applied"] != true {
		t.Fatalf("undo: %d %v", rr.Code, payload)
	}
	if strings.Contains(string(mustMarshal(t, env.store.content(t, id))), "draft") {
		t.Fatal("undo should be saved")
	}

	rr, payload = doJSON(t, h, http.MethodPost, base+"/redo", nil)
	if rr.Code != http.StatusOK || payload["applied"] != true {
		t.Fatalf("redo: %d %v", rr.Code, payload)
	}
	if !strings.Contains(string(mustMarshal(t, env.store.content(t, id))), "draft") {
		t.Fatal("redo should be saved")
	}
}

func TestPreviewIsSavedOnceResolved(t *testing.T) {
	srv := upstream(t)
	env := newTestEnv(t, unfurl.NewClient(unfurl.Options{Timeout: 2 * time.Second}))
	h := env.server.Handler()
	id := createDocument(t, h, "Links", "")

	rr, payload := doJSON(t, h, http.MethodPost, "/api/documents/"+id+"/previews", map[string]any{"href": srv.URL + "/page"})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("insert preview: %d %v", rr.Code, payload)
	}
	previewID, _ := payload["id"].(string)
	if !strings.HasPrefix(previewID, "lp_") {
		t.Fatalf("unexpected preview id %q", previewID)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		card := findNode(env.store.content(t, id), "linkPreview")
		if attrs, _ := card["attrs"].(map[string]any); attrs != nil && attrs["title"] == "Example page" {
			if attrs["description"] != "A test page" {
				t.Fatalf("description not saved: %v", attrs)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("resolved preview never saved: %v", env.store.content(t, id))
		}
		time.Sleep(10 * time.Millisecond)
	}

	rr, payload = doJSON(t, h, http.MethodGet, "/api/documents/"+id+"/previews/"+previewID, nil)
	if rr.Code != http.StatusOK || payload["status"] != "resolved" {
		t.Fatalf("preview status: %d %v", rr.Code, payload)
	}

	rr, payload = doJSON(t, h, http.MethodPost, "/api/documents/"+id+"/previews", map[string]any{"href": "javascript:alert(1)"})
	if rr.Code != http.StatusBadRequest || payload["code"] != "INVALID_URL" {
		t.Fatalf("unsafe preview href: %d %v", rr.Code, payload)
	}
}

func TestPreviewsRequireUnfurler(t *testing.T) {
	env := newTestEnv(t, nil)
	h := env.server.Handler()
	id := createDocument(t, h, "Links", "")

	rr, payload := doJSON(t, h, http.MethodPost, "/api/documents/"+id+"/previews", map[string]any{"href": "https://example.com"})
	if rr.Code != http.StatusServiceUnavailable || payload["code"] != "PREVIEWS_UNAVAILABLE" {
		t.Fatalf("%d %v", rr.Code, payload)
	}
}

func TestUnfurlEndpoint(t *testing.T) {
	srv := upstream(t)
	env := newTestEnv(t, unfurl.NewClient(unfurl.Options{Timeout: 2 * time.Second}))
	h := env.server.Handler()

	rr, payload := doJSON(t, h, http.MethodPost, "/unfurl", map[string]any{"url": srv.URL + "/page"})
	if rr.Code != http.StatusOK || payload["title"] != "Example page" {
		t.Fatalf("unfurl: %d %v", rr.Code, payload)
	}

	rr, payload = doJSON(t, h, http.MethodPost, "/api/unfurl", map[string]any{"url": srv.URL + "/gone"})
	if rr.Code != http.StatusBadGateway || !strings.Contains(payload["error"].(string), "404") {
		t.Fatalf("upstream 404: %d %v", rr.Code, payload)
	}

	rr, payload = doJSON(t, h, http.MethodPost, "/unfurl", map[string]any{"url": "ftp://example.com/file"})
	if rr.Code != http.StatusBadRequest || payload["code"] != "INVALID_URL" {
		t.Fatalf("malformed url: %d %v", rr.Code, payload)
	}

	rr, payload = doJSON(t, h, http.MethodPost, "/unfurl", map[string]any{})
	if rr.Code != http.StatusBadRequest || payload["code"] != "INVALID_URL" {
		t.Fatalf("missing url: %d %v", rr.Code, payload)
	}
}

func TestUnfurlEndpointFailures(t *testing.T) {
	env := newTestEnv(t, &fakeUnfurler{unfurlFn: func(context.Context, string) (unfurl.Result, error) {
		return unfurl.Result{}, fmt.Errorf("%w: connection reset", unfurl.ErrFetchFailed)
	}})
	rr, payload := doJSON(t, env.server.Handler(), http.MethodPost, "/unfurl", map[string]any{"url": "https://example.com"})
	if rr.Code != http.StatusInternalServerError || payload["code"] != "UNFURL_FAILED" {
		t.Fatalf("fetch failure: %d %v", rr.Code, payload)
	}

	env = newTestEnv(t, nil)
	rr, payload = doJSON(t, env.server.Handler(), http.MethodPost, "/unfurl", map[string]any{"url": "https://example.com"})
	if rr.Code != http.StatusServiceUnavailable || payload["code"] != "UNFURL_UNAVAILABLE" {
		t.Fatalf("no unfurler: %d %v", rr.Code, payload)
	}
}

func TestRenderEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	h := env.server.Handler()

	rr, payload := doJSON(t, h, http.MethodPost, "/api/render", map[string]any{"doc": json.RawMessage(sampleDoc)})
	if rr.Code != http.StatusOK {
		t.Fatalf("render: %d %v", rr.Code, payload)
	}
	html := payload["html"].(string)
	if !strings.Contains(html, "<h1>Plan</h1>") || !strings.Contains(html, "<p>Ship it</p>") {
		t.Fatalf("unexpected markup %q", html)
	}

	unsafe := `{"type":"doc","content":[{"type":"paragraph","content":[` +
		`{"type":"text","text":"go","marks":[{"type":"link","attrs":{"href":"javascript:alert(document.cookie)"}}]}]}]}`
	rr, payload = doJSON(t, h, http.MethodPost, "/api/render", map[string]any{"doc": json.RawMessage(unsafe)})
	if rr.Code != http.StatusOK {
		t.Fatalf("render unsafe: %d %v", rr.Code, payload)
	}
	if html := payload["html"].(string); strings.Contains(html, "javascript") || !strings.Contains(html, "go") {
		t.Fatalf("script URL should be stripped, got %q", html)
	}

	rr, payload = doJSON(t, h, http.MethodPost, "/api/render", map[string]any{})
	if rr.Code != http.StatusBadRequest || payload["code"] != "INVALID_DOCUMENT" {
		t.Fatalf("empty render: %d %v", rr.Code, payload)
	}
}

func TestPublishHistoryAndSearch(t *testing.T) {
	env := newTestEnv(t, nil)
	h := env.server.Handler()
	id := createDocument(t, h, "Plan", sampleDoc)

	rr, payload := doJSON(t, h, http.MethodGet, "/api/documents/"+id+"/page?version=published", nil)
	if rr.Code != http.StatusUnprocessableEntity || payload["code"] != "CONTENT_UNAVAILABLE" {
		t.Fatalf("unpublished page: %d %v", rr.Code, payload)
	}
	_, payload = doJSON(t, h, http.MethodGet, "/api/documents/"+id+"/history", nil)
	if changes := payload["unpublishedChanges"].([]any); len(changes) != 2 {
		t.Fatalf("never published document should report every field, got %v", changes)
	}

	rr, payload = doJSON(t, h, http.MethodPost, "/api/documents/"+id+"/publish", map[string]any{})
	if rr.Code != http.StatusOK {
		t.Fatalf("publish: %d %v", rr.Code, payload)
	}
	commit, _ := payload["commit"].(string)
	if commit == "" || payload["digest"] == "" {
		t.Fatalf("publish payload incomplete: %v", payload)
	}
	if len(env.git.tags) != 1 || len(env.search.indexed) != 1 {
		t.Fatalf("publish should tag and index, got %v / %v", env.git.tags, env.search.indexed)
	}

	rr, payload = doJSON(t, h, http.MethodGet, "/api/documents/"+id+"/history?limit=5", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("history: %d %v", rr.Code, payload)
	}
	if pubs := payload["publications"].([]any); len(pubs) != 1 {
		t.Fatalf("expected one publication, got %v", pubs)
	}
	if commits := payload["commits"].([]any); len(commits) != 1 {
		t.Fatalf("expected one commit, got %v", commits)
	}
	if changes := payload["unpublishedChanges"].([]any); len(changes) != 0 {
		t.Fatalf("fresh publication should have no pending changes, got %v", changes)
	}

	env.store.mu.Lock()
	renamed := env.store.docs[id]
	renamed.Title = "Plan v2"
	env.store.docs[id] = renamed
	env.store.mu.Unlock()
	_, payload = doJSON(t, h, http.MethodGet, "/api/documents/"+id+"/history", nil)
	if changes := payload["unpublishedChanges"].([]any); len(changes) != 1 || changes[0] != "title" {
		t.Fatalf("expected a pending title change, got %v", changes)
	}

	rr, _ = doJSON(t, h, http.MethodGet, "/api/documents/"+id+"/page?version=published", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "Ship it") {
		t.Fatalf("latest published page: %d %q", rr.Code, rr.Body.String())
	}

	rr, _ = doJSON(t, h, http.MethodGet, "/api/documents/"+id+"/page?version="+commit, nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "Ship it") {
		t.Fatalf("published page: %d %q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("page content type = %q", ct)
	}

	rr, payload = doJSON(t, h, http.MethodGet, "/api/documents/"+id+"/page?version=c999999", nil)
	if rr.Code != http.StatusUnprocessableEntity || payload["code"] != "CONTENT_UNAVAILABLE" {
		t.Fatalf("unknown version: %d %v", rr.Code, payload)
	}

	rr, payload = doJSON(t, h, http.MethodGet, "/api/search?q=Plan", nil)
	if rr.Code != http.StatusOK || payload["total"] != float64(1) {
		t.Fatalf("search: %d %v", rr.Code, payload)
	}
}

func TestPublishEmptyDocument(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.docs["doc_empty"] = store.Document{ID: "doc_empty", Title: "Empty"}

	rr, payload := doJSON(t, env.server.Handler(), http.MethodPost, "/api/documents/doc_empty/publish", nil)
	if rr.Code != http.StatusUnprocessableEntity || payload["code"] != "EMPTY_DOCUMENT" {
		t.Fatalf("%d %v", rr.Code, payload)
	}
}

func TestExportHTML(t *testing.T) {
	env := newTestEnv(t, nil)
	h := env.server.Handler()
	id := createDocument(t, h, "Plan", sampleDoc)

	rr, _ := doJSON(t, h, http.MethodGet, "/api/documents/"+id+"/export?format=html", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("export: %d %s", rr.Code, rr.Body.String())
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "Plan.html") {
		t.Fatalf("Content-Disposition = %q", cd)
	}

	rr, payload := doJSON(t, h, http.MethodGet, "/api/documents/"+id+"/export?format=odt", nil)
	if rr.Code != http.StatusBadRequest || payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("bad format: %d %v", rr.Code, payload)
	}
}

func TestUnknownRoutes(t *testing.T) {
	env := newTestEnv(t, nil)
	h := env.server.Handler()

	for _, path := range []string{"/api/nothing", "/api/documents/doc_1/sideways"} {
		rr, payload := doJSON(t, h, http.MethodGet, path, nil)
		if rr.Code != http.StatusNotFound || payload["code"] != "NOT_FOUND" {
			t.Fatalf("%s: %d %v", path, rr.Code, payload)
		}
	}
	rr, _ := doJSON(t, h, http.MethodPatch, "/api/documents", nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("PATCH /api/documents: %d", rr.Code)
	}

	rr, payload := doJSON(t, h, http.MethodPost, "/api/documents/repo.git/publish", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("malformed document id: %d %v", rr.Code, payload)
	}
	if details, _ := payload["details"].(map[string]any); details["documentId"] != "repo.git" {
		t.Fatalf("details = %v", payload["details"])
	}
	if len(env.git.commits) != 0 {
		t.Fatal("malformed ids must never reach the history store")
	}

	rr, _ = doJSON(t, h, http.MethodGet, "/api/documents/doc_1/previews/evil.id", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("malformed preview id: %d", rr.Code)
	}
}

func TestDomainErrorKeepsCause(t *testing.T) {
	cause := fmt.Errorf("decode document: %w", errors.New("unexpected end of JSON input"))
	err := invalidDocument(cause)
	if !errors.Is(err, cause) {
		t.Fatal("cause should be reachable")
	}
	if err.Status != http.StatusBadRequest || err.Message != cause.Error() {
		t.Fatalf("unexpected error %+v", err)
	}
	if got := invalidDocument(nil).Message; got != "doc is required" {
		t.Fatalf("message without cause = %q", got)
	}
}

func TestRouteLabel(t *testing.T) {
	tests := map[string]string{
		"/api/health":                        "/api/health",
		"/api/documents":                     "/api/documents",
		"/api/documents/doc_1":               "/api/documents/{id}",
		"/api/documents/doc_1/commands":      "/api/documents/{id}/commands",
		"/api/documents/doc_1/previews/lp_2": "/api/documents/{id}/previews/{previewId}",
		"/api/documents/doc_1/a/b/c/d":       "/api/documents/{id}/a/b/...",
		"/":                                  "/",
	}
	for path, want := range tests {
		if got := routeLabel(path); got != want {
			t.Errorf("routeLabel(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{domainError(http.StatusTeapot, "TEAPOT", "short and stout", nil), http.StatusTeapot, "TEAPOT"},
		{fmt.Errorf("get: %w", sql.ErrNoRows), http.StatusNotFound, "NOT_FOUND"},
		{fmt.Errorf("x: %w", model.ErrSchemaViolation), http.StatusUnprocessableEntity, "SCHEMA_VIOLATION"},
		{fmt.Errorf("x: %w", model.ErrPositionOutOfRange), http.StatusUnprocessableEntity, "POSITION_OUT_OF_RANGE"},
		{command.Failed("toggleMark", "no selection"), http.StatusConflict, "PRECONDITION_FAILED"},
		{fmt.Errorf("x: %w", command.ErrUnknownCommand), http.StatusBadRequest, "UNKNOWN_COMMAND"},
		{fmt.Errorf("x: %w", unfurl.ErrMalformedURL), http.StatusBadRequest, "INVALID_URL"},
		{fmt.Errorf("x: %w", export.ErrContentUnavailable), http.StatusUnprocessableEntity, "CONTENT_UNAVAILABLE"},
		{errors.New("boom"), http.StatusInternalServerError, "SERVER_ERROR"},
	}
	for _, tt := range tests {
		status, code, _, _ := mapError(tt.err)
		if status != tt.status || code != tt.code {
			t.Errorf("mapError(%v) = %d %s, want %d %s", tt.err, status, code, tt.status, tt.code)
		}
	}
}

func findNode(tree map[string]any, nodeType string) map[string]any {
	if tree["type"] == nodeType {
		return tree
	}
	children, _ := tree["content"].([]any)
	for _, child := range children {
		if node, ok := child.(map[string]any); ok {
			if found := findNode(node, nodeType); found != nil {
				return found
			}
		}
	}
	return nil
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestSweepClosesIdleEditors(t *testing.T) {
	env := newTestEnv(t, nil)
	h := env.server.Handler()
	id := createDocument(t, h, "Notes", "")
	base := "/api/documents/" + id

	doJSON(t, h, http.MethodPost, base+"/commands", map[string]any{"name": "setSelection", "args": map[string]any{"anchor": 1, "head": 1}})
	doJSON(t, h, http.MethodPost, base+"/commands", map[string]any{"name": "insertText", "args": map[string]any{"text": "kept"}})
	if env.svc.editors.Len() != 1 {
		t.Fatalf("live editors = %d, want 1", env.svc.editors.Len())
	}

	if n := env.svc.sweepEditors(time.Hour); n != 0 {
		t.Fatalf("fresh editor swept: %d", n)
	}
	if n := env.svc.sweepEditors(-time.Second); n != 1 {
		t.Fatalf("swept %d editors, want 1", n)
	}
	if env.svc.editors.Len() != 0 {
		t.Fatalf("live editors after sweep = %d", env.svc.editors.Len())
	}

	rr, payload := doJSON(t, h, http.MethodGet, base, nil)
	if rr.Code != http.StatusOK || !strings.Contains(string(mustMarshal(t, payload)), "kept") {
		t.Fatalf("reload after sweep: %d %v", rr.Code, payload)
	}
}
